package repository

import (
	"context"
	"errors"
	"fmt"

	"orderhub/internal/model"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

type idempotencyRepository struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

// NewIdempotencyRepository creates a new PostgreSQL-backed idempotency repository.
func NewIdempotencyRepository(pool *pgxpool.Pool, logger zerolog.Logger) IdempotencyRepository {
	return &idempotencyRepository{
		pool:   pool,
		logger: logger.With().Str("repository", "idempotency").Logger(),
	}
}

// Get returns the record for key.
func (r *idempotencyRepository) Get(ctx context.Context, key string) (*model.IdempotencyRecord, error) {
	query := `
		SELECT key, status_code, response_body, created_at
		FROM idempotency_keys
		WHERE key = $1
	`

	var rec model.IdempotencyRecord
	err := r.pool.QueryRow(ctx, query, key).Scan(&rec.Key, &rec.StatusCode, &rec.ResponseBody, &rec.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		r.logger.Error().Err(err).Str("key", key).Msg("failed to query idempotency key")
		return nil, fmt.Errorf("failed to query idempotency key: %w", err)
	}
	return &rec, nil
}

// Insert stores the record; the unique key makes the first writer win.
func (r *idempotencyRepository) Insert(ctx context.Context, rec *model.IdempotencyRecord) (bool, error) {
	query := `
		INSERT INTO idempotency_keys (key, status_code, response_body)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO NOTHING
		RETURNING created_at
	`

	err := r.pool.QueryRow(ctx, query, rec.Key, rec.StatusCode, rec.ResponseBody).Scan(&rec.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			r.logger.Debug().Str("key", rec.Key).Msg("idempotency key already stored")
			return false, nil
		}
		r.logger.Error().Err(err).Str("key", rec.Key).Msg("failed to insert idempotency key")
		return false, fmt.Errorf("failed to insert idempotency key: %w", err)
	}
	return true, nil
}
