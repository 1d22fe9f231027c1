package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Memory is a mutex-guarded in-memory Store. It backs tests and local
// single-process setups; the claim lease gives it the same no-double-claim
// guarantee as the Postgres SKIP LOCKED batch.
type Memory struct {
	mu         sync.Mutex
	deliveries map[string]*Delivery
}

func NewMemory() *Memory {
	return &Memory{deliveries: make(map[string]*Delivery)}
}

func (m *Memory) Create(_ context.Context, d *Delivery) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *d
	cp.State = StatePending
	m.deliveries[d.ID] = &cp
	return nil
}

func (m *Memory) Get(_ context.Context, id string) (*Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deliveries[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (m *Memory) ListByEndpoint(_ context.Context, endpointID string, limit int) ([]*Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 {
		limit = 50
	}
	var out []*Delivery
	for _, d := range m.deliveries {
		if d.EndpointID == endpointID {
			cp := *d
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) ClaimPending(_ context.Context, limit int, lease time.Duration) ([]*Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	var due []*Delivery
	for _, d := range m.deliveries {
		if d.State != StatePending {
			continue
		}
		if d.NextRetryAt.After(now) {
			continue
		}
		if d.ClaimedUntil != nil && d.ClaimedUntil.After(now) {
			continue
		}
		due = append(due, d)
	}
	sort.Slice(due, func(i, j int) bool { return due[i].NextRetryAt.Before(due[j].NextRetryAt) })
	if len(due) > limit {
		due = due[:limit]
	}

	out := make([]*Delivery, 0, len(due))
	until := now.Add(lease)
	for _, d := range due {
		u := until
		d.ClaimedUntil = &u
		cp := *d
		out = append(out, &cp)
	}
	return out, nil
}

func (m *Memory) RecordAttempt(_ context.Context, id string, res AttemptResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.deliveries[id]
	if !ok {
		return ErrNotFound
	}

	now := time.Now().UTC()
	d.Attempts++
	d.ResponseCode = res.ResponseCode
	d.ResponseBody = truncateBody(res.ResponseBody)
	d.LastError = res.Err
	d.LastAttemptAt = &now
	d.ClaimedUntil = nil

	switch {
	case res.Succeeded:
		d.State = StateDelivered
		t := now
		d.DeliveredAt = &t
		d.LastError = ""
	case res.NextRetryAt != nil:
		d.State = StatePending
		d.NextRetryAt = res.NextRetryAt.UTC()
	default:
		d.State = StateFailed
		d.FailedReason = res.Reason
	}
	return nil
}

func (m *Memory) MarkFailed(_ context.Context, id, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.deliveries[id]
	if !ok {
		return ErrNotFound
	}
	d.State = StateFailed
	d.FailedReason = reason
	d.ClaimedUntil = nil
	return nil
}

func (m *Memory) CountByState(_ context.Context) (map[State]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	counts := make(map[State]int)
	for _, d := range m.deliveries {
		counts[d.State]++
	}
	return counts, nil
}
