package idempotency

import (
	"context"
	"fmt"

	"orderhub/internal/model"
	"orderhub/internal/repository"
)

// PostgresStore keeps records in the order service database.
type PostgresStore struct {
	repo repository.IdempotencyRepository
}

// NewPostgresStore creates a Store backed by the idempotency_keys table.
func NewPostgresStore(repo repository.IdempotencyRepository) *PostgresStore {
	return &PostgresStore{repo: repo}
}

// Get returns the stored record for key.
func (s *PostgresStore) Get(ctx context.Context, key string) (*model.IdempotencyRecord, error) {
	rec, err := s.repo.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("idempotency lookup: %w", err)
	}
	return rec, nil
}

// Put inserts the record unless the key already exists.
func (s *PostgresStore) Put(ctx context.Context, key string, statusCode int, body []byte) error {
	created, err := s.repo.Insert(ctx, &model.IdempotencyRecord{
		Key:          key,
		StatusCode:   statusCode,
		ResponseBody: body,
	})
	if err != nil {
		return fmt.Errorf("idempotency write: %w", err)
	}
	if !created {
		return ErrAlreadyExists
	}
	return nil
}
