// Package dispatch runs the worker pool that performs HTTP webhook
// deliveries. Workers pull claimed batches from the delivery store on a
// polling interval (or when woken by the broadcaster), sign each payload
// with the delivery's snapshotted secret, and apply the retry policy to
// the outcome of every attempt.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/dmcallister/wharfhook/internal/logging"
	"github.com/dmcallister/wharfhook/internal/metrics"
	"github.com/dmcallister/wharfhook/internal/registry"
	"github.com/dmcallister/wharfhook/internal/signature"
	"github.com/dmcallister/wharfhook/internal/store"
	"github.com/dmcallister/wharfhook/internal/tracing"
)

const userAgent = "wharfhook/1.0"

// EndpointGetter is the slice of the registry the dispatcher needs: endpoint
// lookup for the active-endpoint recheck before each attempt.
type EndpointGetter interface {
	Get(ctx context.Context, id string) (*registry.Endpoint, error)
}

// Publisher publishes dead letters to a message topic. *nsq.Producer
// satisfies it.
type Publisher interface {
	Publish(topic string, body []byte) error
}

// Options tunes the worker pool and retry policy. Zero values fall back to
// the documented defaults.
type Options struct {
	Workers             int
	PollInterval        time.Duration
	ClaimBatch          int
	ClaimLease          time.Duration
	MaxAttempts         int
	Backoff             Backoff
	PerEndpointInflight int
	SignatureHeader     string
	TimestampHeader     string
	DeliveryHeader      string
	DLQTopic            string
}

func (o *Options) applyDefaults() {
	if o.Workers <= 0 {
		o.Workers = 8
	}
	if o.PollInterval <= 0 {
		o.PollInterval = time.Second
	}
	if o.ClaimBatch <= 0 {
		o.ClaimBatch = 50
	}
	if o.ClaimLease <= 0 {
		o.ClaimLease = time.Minute
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 5
	}
	if o.Backoff.Base <= 0 {
		o.Backoff.Base = 30 * time.Second
	}
	if o.Backoff.Cap <= 0 {
		o.Backoff.Cap = time.Hour
	}
	if o.PerEndpointInflight <= 0 {
		o.PerEndpointInflight = 4
	}
	if o.SignatureHeader == "" {
		o.SignatureHeader = "X-WharfHook-Signature"
	}
	if o.TimestampHeader == "" {
		o.TimestampHeader = "X-WharfHook-Timestamp"
	}
	if o.DeliveryHeader == "" {
		o.DeliveryHeader = "X-WharfHook-Delivery"
	}
}

// Dispatcher owns the delivery worker pool.
type Dispatcher struct {
	deliveries store.Store
	endpoints  EndpointGetter
	client     *http.Client
	dlq        Publisher // nil disables dead-letter publishing
	opts       Options
	log        *logging.Logger
	wakeCh     chan struct{}

	mu       sync.Mutex
	inflight map[string]chan struct{} // per-endpoint slots
}

// New builds a Dispatcher. client must have a per-attempt timeout set; dlq
// may be nil when dead-letter publishing is disabled.
func New(deliveries store.Store, endpoints EndpointGetter, client *http.Client, dlq Publisher, opts Options, log *logging.Logger) *Dispatcher {
	opts.applyDefaults()
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	// Redirects are never followed: a registered URL could 302 to an
	// address the registration-time guard would have rejected. The 3xx
	// response itself is classified as a permanent failure.
	client.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	if log == nil {
		log = logging.New("wharfhook-dispatcher")
	}
	return &Dispatcher{
		deliveries: deliveries,
		endpoints:  endpoints,
		client:     client,
		dlq:        dlq,
		opts:       opts,
		log:        log,
		wakeCh:     make(chan struct{}, 1),
		inflight:   make(map[string]chan struct{}),
	}
}

// Wake nudges the dispatcher to claim immediately instead of waiting for
// the next poll tick. Safe to call from any goroutine; never blocks.
func (d *Dispatcher) Wake() {
	select {
	case d.wakeCh <- struct{}{}:
	default:
	}
}

// Run polls the store for due deliveries and dispatches them until ctx is
// cancelled. It returns after all in-flight attempts have finished.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.opts.PollInterval)
	defer ticker.Stop()

	slots := make(chan struct{}, d.opts.Workers)
	var wg sync.WaitGroup

	d.log.Plain().WithFields(map[string]any{
		"workers":      d.opts.Workers,
		"claim_batch":  d.opts.ClaimBatch,
		"max_attempts": d.opts.MaxAttempts,
	}).Info("dispatcher started")

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			d.log.Plain().Info("dispatcher stopped")
			return ctx.Err()
		case <-ticker.C:
		case <-d.wakeCh:
		}

		for {
			claimed, err := d.deliveries.ClaimPending(ctx, d.opts.ClaimBatch, d.opts.ClaimLease)
			if err != nil {
				if ctx.Err() == nil {
					d.log.Plain().WithError(err).Error("claim batch failed")
				}
				break
			}
			for _, del := range claimed {
				select {
				case slots <- struct{}{}:
				case <-ctx.Done():
					wg.Wait()
					return ctx.Err()
				}
				wg.Add(1)
				go func(del *store.Delivery) {
					defer wg.Done()
					defer func() { <-slots }()
					d.Attempt(ctx, del)
				}(del)
			}
			// A short batch means the backlog is drained.
			if len(claimed) < d.opts.ClaimBatch {
				break
			}
		}
	}
}

// Attempt performs one delivery attempt for a claimed delivery and records
// the outcome. Errors never escape: every failure mode ends up on the
// delivery record or in the log.
func (d *Dispatcher) Attempt(ctx context.Context, del *store.Delivery) {
	ctx, span := tracing.StartSpan(ctx, "dispatch.Attempt",
		attribute.String("delivery_id", del.ID),
		attribute.String("endpoint_id", del.EndpointID),
		attribute.String("event_type", del.EventType),
		attribute.Int("attempts", del.Attempts),
	)
	defer span.End()

	ep, err := d.endpoints.Get(ctx, del.EndpointID)
	if errors.Is(err, registry.ErrNotFound) {
		d.failWithoutAttempt(ctx, del, "endpoint deleted")
		return
	}
	if err != nil {
		// Transient lookup failure: leave the claim to expire and be retried.
		tracing.SetSpanError(ctx, err)
		d.log.WithContext(ctx).WithDelivery(del.ID).WithEndpoint(del.EndpointID).WithError(err).Error("endpoint lookup failed")
		return
	}
	if !ep.Active {
		d.failWithoutAttempt(ctx, del, "endpoint deactivated")
		return
	}

	sem := d.endpointSlot(ep.ID)
	select {
	case sem <- struct{}{}:
	case <-ctx.Done():
		return
	}
	defer func() { <-sem }()

	ts := time.Now().Unix()
	sig := signature.Sign(del.SecretUsed, ts, del.Payload)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(del.Payload))
	if err != nil {
		d.failWithoutAttempt(ctx, del, "invalid endpoint url")
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set(d.opts.SignatureHeader, signature.Header(sig))
	req.Header.Set(d.opts.TimestampHeader, strconv.FormatInt(ts, 10))
	req.Header.Set(d.opts.DeliveryHeader, del.ID)
	if traceID := tracing.GetTraceID(ctx); traceID != "" {
		req.Header.Set("X-Trace-Id", traceID)
	}

	tracing.AddSpanEvent(ctx, "http.send_webhook")
	start := time.Now()
	resp, doErr := d.client.Do(req)
	latency := time.Since(start)

	status := 0
	var bodySnippet string
	if doErr == nil {
		status = resp.StatusCode
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, store.MaxResponseBody))
		bodySnippet = string(snippet)
		_ = resp.Body.Close()
	}

	span.SetAttributes(
		attribute.Int("http.status_code", status),
		attribute.Int64("http.latency_ms", latency.Milliseconds()),
	)

	outcome, reason := classify(doErr, status)
	metrics.RecordAttempt(attemptStatusLabel(doErr, status), latency)

	attempts := del.Attempts + 1
	res := store.AttemptResult{
		ResponseCode: status,
		ResponseBody: bodySnippet,
		Err:          errString(doErr),
		Reason:       reason,
	}

	entry := d.log.WithContext(ctx).WithDelivery(del.ID).WithEndpoint(ep.ID).WithEventType(del.EventType).WithFields(map[string]any{
		"attempt": attempts,
		"status":  status,
	})

	switch {
	case outcome == OutcomeDelivered:
		res.Succeeded = true
		tracing.AddSpanEvent(ctx, "delivery.success")
		entry.Info("delivery succeeded")
		metrics.RecordDelivery("delivered")

	case outcome == OutcomeRetryable && attempts < d.opts.MaxAttempts:
		next := time.Now().Add(d.opts.Backoff.Delay(attempts))
		res.NextRetryAt = &next
		tracing.AddSpanEvent(ctx, "delivery.requeue",
			attribute.Int("attempt", attempts),
			attribute.String("next_retry_at", next.Format(time.RFC3339)),
		)
		entry.WithField("reason", reason).Info("delivery retry scheduled")
		metrics.RecordRetry(reason)

	default:
		if outcome == OutcomeRetryable {
			res.Reason = "retries exhausted"
		}
		span.SetAttributes(attribute.String("failure_reason", res.Reason))
		entry.WithField("reason", res.Reason).WithError(doErr).Warn("delivery failed terminally")
		metrics.RecordDelivery("failed")
		metrics.RecordDeadLetter(reason)
		d.publishDeadLetter(ctx, del, attempts, status, errString(doErr), res.Reason)
	}

	if err := d.deliveries.RecordAttempt(ctx, del.ID, res); err != nil {
		tracing.SetSpanError(ctx, err)
		d.log.WithContext(ctx).WithDelivery(del.ID).WithError(err).Error("record attempt failed")
	}
}

// failWithoutAttempt terminally fails a delivery without an HTTP call and
// without incrementing the attempt counter.
func (d *Dispatcher) failWithoutAttempt(ctx context.Context, del *store.Delivery, reason string) {
	tracing.AddSpanEvent(ctx, "delivery.cancelled", attribute.String("reason", reason))
	d.log.WithContext(ctx).WithDelivery(del.ID).WithEndpoint(del.EndpointID).WithField("reason", reason).Info("delivery cancelled")
	metrics.RecordDelivery("failed")
	if err := d.deliveries.MarkFailed(ctx, del.ID, reason); err != nil {
		tracing.SetSpanError(ctx, err)
		d.log.WithContext(ctx).WithDelivery(del.ID).WithError(err).Error("mark failed failed")
	}
	d.dropEndpointSlot(del.EndpointID)
}

func (d *Dispatcher) publishDeadLetter(ctx context.Context, del *store.Delivery, attempts, status int, lastErr, reason string) {
	if d.dlq == nil || d.opts.DLQTopic == "" {
		return
	}
	dl := NewDeadLetter(del.ID, del.EndpointID, del.EventType, attempts, status, lastErr, reason)
	body, _ := json.Marshal(dl)
	if err := d.dlq.Publish(d.opts.DLQTopic, body); err != nil {
		tracing.SetSpanError(ctx, err)
		d.log.WithContext(ctx).WithDelivery(del.ID).WithError(err).Error("dead letter publish failed")
		return
	}
	tracing.AddSpanEvent(ctx, "nsq.published_dlq", attribute.String("topic", d.opts.DLQTopic))
}

// endpointSlot returns the in-flight semaphore for an endpoint, creating
// it on first use. Slots cap concurrent requests per endpoint so one slow
// receiver cannot absorb the whole worker pool.
func (d *Dispatcher) endpointSlot(endpointID string) chan struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	sem, ok := d.inflight[endpointID]
	if !ok {
		sem = make(chan struct{}, d.opts.PerEndpointInflight)
		d.inflight[endpointID] = sem
	}
	return sem
}

// dropEndpointSlot forgets an endpoint's semaphore so the map does not
// accumulate entries for deleted or deactivated endpoints. In-flight
// holders keep their channel reference; a later delivery recreates it.
func (d *Dispatcher) dropEndpointSlot(endpointID string) {
	d.mu.Lock()
	delete(d.inflight, endpointID)
	d.mu.Unlock()
}

func attemptStatusLabel(doErr error, status int) string {
	if doErr != nil {
		return "error"
	}
	return strconv.Itoa(status)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
