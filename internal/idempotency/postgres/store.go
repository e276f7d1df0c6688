// Package postgres keeps idempotency records in the idempotency_keys table.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dejobratic/fetchstate/internal/todos/ports"
)

const (
	selectRecord = `SELECT status_code, body, todo_id, request_hash FROM idempotency_keys WHERE key = $1`

	// first write wins; a concurrent duplicate is a silent no-op
	insertRecord = `
		INSERT INTO idempotency_keys (key, status_code, body, todo_id, request_hash)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (key) DO NOTHING`
)

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) Get(ctx context.Context, key string) (*ports.StoredResponse, error) {
	var record ports.StoredResponse
	err := s.pool.QueryRow(ctx, selectRecord, key).
		Scan(&record.StatusCode, &record.Body, &record.TodoID, &record.RequestHash)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load idempotency record %q: %w", key, err)
	}
	return &record, nil
}

func (s *Store) Save(ctx context.Context, key string, response ports.StoredResponse) error {
	_, err := s.pool.Exec(ctx, insertRecord,
		key, response.StatusCode, response.Body, response.TodoID, response.RequestHash)
	if err != nil {
		return fmt.Errorf("save idempotency record %q: %w", key, err)
	}
	return nil
}
