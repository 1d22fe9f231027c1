package registry

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store on a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const endpointColumns = `id, owner_id, url, secret, event_filter, active, created_at, updated_at`

func scanEndpoint(row pgx.Row) (*Endpoint, error) {
	var e Endpoint
	err := row.Scan(&e.ID, &e.OwnerID, &e.URL, &e.Secret, &e.EventFilter,
		&e.Active, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *PostgresStore) Insert(ctx context.Context, e *Endpoint) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO wharfhook.endpoints
			(id, owner_id, url, secret, event_filter, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID, e.OwnerID, e.URL, e.Secret, e.EventFilter, e.Active, e.CreatedAt, e.UpdatedAt,
	)
	return err
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Endpoint, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+endpointColumns+` FROM wharfhook.endpoints WHERE id = $1`, id)
	e, err := scanEndpoint(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return e, err
}

func (s *PostgresStore) Update(ctx context.Context, e *Endpoint) error {
	ct, err := s.pool.Exec(ctx, `
		UPDATE wharfhook.endpoints
		SET url = $2, secret = $3, event_filter = $4, active = $5, updated_at = $6
		WHERE id = $1`,
		e.ID, e.URL, e.Secret, e.EventFilter, e.Active, e.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	ct, err := s.pool.Exec(ctx, `DELETE FROM wharfhook.endpoints WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context, ownerID string) ([]*Endpoint, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+endpointColumns+` FROM wharfhook.endpoints
		WHERE owner_id = $1
		ORDER BY created_at DESC`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEndpoints(rows)
}

func (s *PostgresStore) FindActiveFor(ctx context.Context, eventType, ownerID string) ([]*Endpoint, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+endpointColumns+` FROM wharfhook.endpoints
		WHERE active
		  AND (cardinality(event_filter) = 0 OR $1 = ANY(event_filter))
		  AND ($2 = '' OR owner_id = $2)
		ORDER BY created_at`, eventType, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEndpoints(rows)
}

func collectEndpoints(rows pgx.Rows) ([]*Endpoint, error) {
	var out []*Endpoint
	for rows.Next() {
		e, err := scanEndpoint(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
