// Package store persists delivery records and is the source of truth for
// retry scheduling. Claiming is the only concurrency-sensitive operation:
// a claimed delivery carries a lease so no two dispatcher workers ever
// process it at the same time.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a delivery id is unknown.
var ErrNotFound = errors.New("delivery not found")

// MaxResponseBody bounds what we keep of a receiver's response body.
const MaxResponseBody = 1024

// State is the lifecycle state of a delivery.
type State string

const (
	StatePending   State = "pending"
	StateDelivered State = "delivered"
	StateFailed    State = "failed"
)

// Delivery is one attempted transmission of a single event to a single
// endpoint. SecretUsed snapshots the endpoint secret at creation time so
// rotation never changes how an in-flight delivery is signed.
type Delivery struct {
	ID            string
	EndpointID    string
	EventType     string
	Payload       []byte
	SecretUsed    string
	Attempts      int
	State         State
	ResponseCode  int
	ResponseBody  string
	LastError     string
	FailedReason  string
	NextRetryAt   time.Time
	ClaimedUntil  *time.Time
	CreatedAt     time.Time
	LastAttemptAt *time.Time
	DeliveredAt   *time.Time
}

// AttemptResult captures the outcome of one HTTP attempt. A nil NextRetryAt
// on a failed attempt makes the failure terminal.
type AttemptResult struct {
	ResponseCode int
	ResponseBody string
	Err          string
	Reason       string // classification label, e.g. http_5xx, timeout
	Succeeded    bool
	NextRetryAt  *time.Time
}

// Store is the delivery persistence contract the Broadcaster and
// Dispatcher rely on.
type Store interface {
	// Create inserts a new pending delivery.
	Create(ctx context.Context, d *Delivery) error
	// Get returns a delivery by id, or ErrNotFound.
	Get(ctx context.Context, id string) (*Delivery, error)
	// ListByEndpoint returns the most recent deliveries for an endpoint.
	ListByEndpoint(ctx context.Context, endpointID string, limit int) ([]*Delivery, error)
	// ClaimPending atomically marks up to limit due pending deliveries as
	// claimed for the given lease and returns them. A delivery is due when
	// its next_retry_at has passed and it holds no unexpired claim.
	ClaimPending(ctx context.Context, limit int, lease time.Duration) ([]*Delivery, error)
	// RecordAttempt applies the outcome of one HTTP attempt: increments the
	// attempt counter, stores the response, and transitions state. The claim
	// is released.
	RecordAttempt(ctx context.Context, id string, res AttemptResult) error
	// MarkFailed terminally fails a delivery without an HTTP attempt, e.g.
	// when its endpoint was deactivated. Attempts are not incremented.
	MarkFailed(ctx context.Context, id, reason string) error
	// CountByState reports delivery counts per state for backlog gauges.
	CountByState(ctx context.Context) (map[State]int, error)
}

// truncateBody bounds a response body snippet to MaxResponseBody bytes.
func truncateBody(s string) string {
	if len(s) <= MaxResponseBody {
		return s
	}
	return s[:MaxResponseBody]
}
