// Package broadcast fans a domain event out to every active, subscribed
// endpoint, creating one pending delivery per endpoint.
package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/dmcallister/wharfhook/internal/logging"
	"github.com/dmcallister/wharfhook/internal/metrics"
	"github.com/dmcallister/wharfhook/internal/registry"
	"github.com/dmcallister/wharfhook/internal/store"
	"github.com/dmcallister/wharfhook/internal/tracing"
)

// Envelope is the JSON body posted to receivers. ID is the delivery id
// receivers should use for de-duplication.
type Envelope struct {
	ID        string          `json:"id"`
	EventType string          `json:"event_type"`
	CreatedAt time.Time       `json:"created_at"`
	Data      json.RawMessage `json:"data"`
}

// Wake announces a freshly created delivery on the wake topic so the
// dispatcher picks it up before its next poll tick.
type Wake struct {
	DeliveryID   string            `json:"delivery_id"`
	TraceHeaders map[string]string `json:"trace_headers,omitempty"`
}

// Publisher is the slice of nsq.Producer the broadcaster needs.
type Publisher interface {
	Publish(topic string, body []byte) error
}

// EndpointFinder resolves the active endpoints subscribed to an event type.
type EndpointFinder interface {
	FindActiveFor(ctx context.Context, eventType, ownerID string) ([]*registry.Endpoint, error)
}

// Broadcaster creates delivery records; it never performs HTTP itself.
type Broadcaster struct {
	endpoints  EndpointFinder
	deliveries store.Store
	producer   Publisher // nil disables wake publishing
	topic      string
	log        *logging.Logger
}

func New(endpoints EndpointFinder, deliveries store.Store, producer Publisher, topic string, log *logging.Logger) *Broadcaster {
	if log == nil {
		log = logging.New("wharfhook-broadcast")
	}
	return &Broadcaster{
		endpoints:  endpoints,
		deliveries: deliveries,
		producer:   producer,
		topic:      topic,
		log:        log,
	}
}

// Broadcast resolves the endpoints subscribed to eventType (optionally
// scoped to ownerID) and creates one pending delivery per endpoint,
// snapshotting each endpoint's current secret. Failure to create one
// delivery is logged and does not block the others.
func (b *Broadcaster) Broadcast(ctx context.Context, eventType string, payload json.RawMessage, ownerID string) ([]string, error) {
	ctx, span := tracing.StartSpan(ctx, "broadcast.Broadcast",
		attribute.String("event_type", eventType),
		attribute.String("owner_id", ownerID),
	)
	defer span.End()

	endpoints, err := b.endpoints.FindActiveFor(ctx, eventType, ownerID)
	if err != nil {
		tracing.SetSpanError(ctx, err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("subscribers_count", len(endpoints)))

	// The envelope only varies by delivery id across endpoints, so a bad
	// payload is a payload-wide failure: reject it before creating any
	// deliveries.
	if !json.Valid(payload) {
		err := errors.New("payload is not valid JSON")
		tracing.SetSpanError(ctx, err)
		return nil, err
	}

	now := time.Now().UTC()
	ids := make([]string, 0, len(endpoints))
	for _, ep := range endpoints {
		id := uuid.NewString()
		body, err := json.Marshal(Envelope{
			ID:        id,
			EventType: eventType,
			CreatedAt: now,
			Data:      payload,
		})
		if err != nil {
			// Payload validity was checked above; keep the fan-out going.
			tracing.SetSpanError(ctx, err)
			b.log.WithContext(ctx).WithEndpoint(ep.ID).WithEventType(eventType).WithError(err).
				Error("marshal envelope failed")
			continue
		}

		d := &store.Delivery{
			ID:          id,
			EndpointID:  ep.ID,
			EventType:   eventType,
			Payload:     body,
			SecretUsed:  ep.Secret,
			State:       store.StatePending,
			NextRetryAt: now,
			CreatedAt:   now,
		}
		if err := b.deliveries.Create(ctx, d); err != nil {
			// Fan-out is per-endpoint: log and keep going.
			tracing.AddSpanEvent(ctx, "delivery.create_failed", attribute.String("endpoint_id", ep.ID))
			b.log.WithContext(ctx).WithEndpoint(ep.ID).WithEventType(eventType).WithError(err).
				Error("create delivery failed")
			continue
		}
		ids = append(ids, id)
		b.wake(ctx, id)
	}

	metrics.RecordBroadcast(eventType)
	span.SetAttributes(attribute.Int("fanout_count", len(ids)))
	return ids, nil
}

// wake is best-effort: a lost wake message only delays pickup until the
// dispatcher's next poll tick.
func (b *Broadcaster) wake(ctx context.Context, deliveryID string) {
	if b.producer == nil {
		return
	}
	msg, _ := json.Marshal(Wake{
		DeliveryID:   deliveryID,
		TraceHeaders: tracing.PropagateTraceToWake(ctx),
	})
	if err := b.producer.Publish(b.topic, msg); err != nil {
		b.log.WithContext(ctx).WithDelivery(deliveryID).WithError(err).Warn("wake publish failed")
	}
}
