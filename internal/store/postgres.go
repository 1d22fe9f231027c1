package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres implements Store on a pgx connection pool. The claim batch uses
// FOR UPDATE SKIP LOCKED so concurrent dispatcher instances never hand the
// same delivery to two workers.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

const deliveryColumns = `
	id, endpoint_id, event_type, payload, secret_used, attempts, state,
	COALESCE(response_code, 0), COALESCE(response_body, ''),
	COALESCE(last_error, ''), COALESCE(failed_reason, ''),
	next_retry_at, claimed_until, created_at, last_attempt_at, delivered_at`

// same list qualified for the claim UPDATE ... RETURNING
const claimedColumns = `
	d.id, d.endpoint_id, d.event_type, d.payload, d.secret_used, d.attempts, d.state,
	COALESCE(d.response_code, 0), COALESCE(d.response_body, ''),
	COALESCE(d.last_error, ''), COALESCE(d.failed_reason, ''),
	d.next_retry_at, d.claimed_until, d.created_at, d.last_attempt_at, d.delivered_at`

func scanDelivery(row pgx.Row) (*Delivery, error) {
	var d Delivery
	var claimedUntil, lastAttemptAt, deliveredAt sql.NullTime
	err := row.Scan(
		&d.ID, &d.EndpointID, &d.EventType, &d.Payload, &d.SecretUsed,
		&d.Attempts, &d.State, &d.ResponseCode, &d.ResponseBody,
		&d.LastError, &d.FailedReason,
		&d.NextRetryAt, &claimedUntil, &d.CreatedAt, &lastAttemptAt, &deliveredAt,
	)
	if err != nil {
		return nil, err
	}
	if claimedUntil.Valid {
		d.ClaimedUntil = &claimedUntil.Time
	}
	if lastAttemptAt.Valid {
		d.LastAttemptAt = &lastAttemptAt.Time
	}
	if deliveredAt.Valid {
		d.DeliveredAt = &deliveredAt.Time
	}
	return &d, nil
}

func (s *Postgres) Create(ctx context.Context, d *Delivery) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO wharfhook.deliveries
			(id, endpoint_id, event_type, payload, secret_used, state, next_retry_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		d.ID, d.EndpointID, d.EventType, d.Payload, d.SecretUsed,
		StatePending, d.NextRetryAt, d.CreatedAt,
	)
	return err
}

func (s *Postgres) Get(ctx context.Context, id string) (*Delivery, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+deliveryColumns+`
		FROM wharfhook.deliveries WHERE id = $1`, id)
	d, err := scanDelivery(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return d, err
}

func (s *Postgres) ListByEndpoint(ctx context.Context, endpointID string, limit int) ([]*Delivery, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+deliveryColumns+`
		FROM wharfhook.deliveries
		WHERE endpoint_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, endpointID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Delivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Postgres) ClaimPending(ctx context.Context, limit int, lease time.Duration) ([]*Delivery, error) {
	rows, err := s.pool.Query(ctx, `
		WITH due AS (
			SELECT id FROM wharfhook.deliveries
			WHERE state = 'pending'
			  AND next_retry_at <= now()
			  AND (claimed_until IS NULL OR claimed_until < now())
			ORDER BY next_retry_at
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE wharfhook.deliveries d
		SET claimed_until = $2
		FROM due
		WHERE d.id = due.id
		RETURNING `+claimedColumns,
		limit, time.Now().UTC().Add(lease),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Delivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Postgres) RecordAttempt(ctx context.Context, id string, res AttemptResult) error {
	body := truncateBody(res.ResponseBody)

	switch {
	case res.Succeeded:
		ct, err := s.pool.Exec(ctx, `
			UPDATE wharfhook.deliveries
			SET attempts = attempts + 1, state = 'delivered',
			    response_code = $2, response_body = $3, last_error = NULL,
			    last_attempt_at = now(), delivered_at = now(), claimed_until = NULL
			WHERE id = $1`,
			id, res.ResponseCode, body)
		return checkFound(ct.RowsAffected(), err)
	case res.NextRetryAt != nil:
		ct, err := s.pool.Exec(ctx, `
			UPDATE wharfhook.deliveries
			SET attempts = attempts + 1, state = 'pending',
			    response_code = $2, response_body = $3, last_error = $4,
			    last_attempt_at = now(), next_retry_at = $5, claimed_until = NULL
			WHERE id = $1`,
			id, res.ResponseCode, body, res.Err, res.NextRetryAt.UTC())
		return checkFound(ct.RowsAffected(), err)
	default:
		ct, err := s.pool.Exec(ctx, `
			UPDATE wharfhook.deliveries
			SET attempts = attempts + 1, state = 'failed',
			    response_code = $2, response_body = $3, last_error = $4,
			    failed_reason = $5, last_attempt_at = now(), claimed_until = NULL
			WHERE id = $1`,
			id, res.ResponseCode, body, res.Err, res.Reason)
		return checkFound(ct.RowsAffected(), err)
	}
}

func (s *Postgres) MarkFailed(ctx context.Context, id, reason string) error {
	ct, err := s.pool.Exec(ctx, `
		UPDATE wharfhook.deliveries
		SET state = 'failed', failed_reason = $2, claimed_until = NULL
		WHERE id = $1`,
		id, reason)
	return checkFound(ct.RowsAffected(), err)
}

func (s *Postgres) CountByState(ctx context.Context) (map[State]int, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT state, COUNT(*) FROM wharfhook.deliveries GROUP BY state`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[State]int)
	for rows.Next() {
		var st State
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			return nil, err
		}
		counts[st] = n
	}
	return counts, rows.Err()
}

func checkFound(affected int64, err error) error {
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
