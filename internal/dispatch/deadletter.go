package dispatch

import "time"

// DLQType identifies dead-letter messages on the DLQ topic.
const DLQType = "delivery.dlq"

// DeadLetter is published to the DLQ topic when a delivery fails terminally,
// so downstream tooling can inspect or replay it.
type DeadLetter struct {
	Type       string `json:"type"`    // "delivery.dlq"
	Version    string `json:"version"` // schema version
	At         string `json:"at"`      // RFC3339 time the dead letter was emitted
	Reason     string `json:"reason"`  // classification label
	DeliveryID string `json:"delivery_id"`
	EndpointID string `json:"endpoint_id"`
	EventType  string `json:"event_type"`
	Attempts   int    `json:"attempts"` // attempt count at failure
	HTTPStatus int    `json:"http_status,omitempty"`
	LastError  string `json:"last_error,omitempty"`
}

// NewDeadLetter builds a v1 dead letter for a terminally failed delivery.
func NewDeadLetter(deliveryID, endpointID, eventType string, attempts, httpStatus int, lastErr, reason string) DeadLetter {
	return DeadLetter{
		Type:       DLQType,
		Version:    "v1",
		At:         time.Now().Format(time.RFC3339Nano),
		Reason:     reason,
		DeliveryID: deliveryID,
		EndpointID: endpointID,
		EventType:  eventType,
		Attempts:   attempts,
		HTTPStatus: httpStatus,
		LastError:  lastErr,
	}
}
