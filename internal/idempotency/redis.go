package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"orderhub/internal/model"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "orderhub:idempotency:"

// redisRecord is the stored value. Body is base64 in JSON, which keeps the
// exact response bytes.
type redisRecord struct {
	StatusCode int       `json:"status_code"`
	Body       []byte    `json:"body"`
	CreatedAt  time.Time `json:"created_at"`
}

// RedisStore keeps records in Redis. SETNX gives first-writer-wins.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore creates a Store on client. A zero ttl keeps records forever.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

// Get returns the stored record for key.
func (s *RedisStore) Get(ctx context.Context, key string) (*model.IdempotencyRecord, error) {
	raw, err := s.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("idempotency lookup: %w", err)
	}

	var rec redisRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode idempotency record: %w", err)
	}

	return &model.IdempotencyRecord{
		Key:          key,
		StatusCode:   rec.StatusCode,
		ResponseBody: rec.Body,
		CreatedAt:    rec.CreatedAt,
	}, nil
}

// Put stores the record unless the key already exists.
func (s *RedisStore) Put(ctx context.Context, key string, statusCode int, body []byte) error {
	raw, err := json.Marshal(redisRecord{
		StatusCode: statusCode,
		Body:       body,
		CreatedAt:  time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("encode idempotency record: %w", err)
	}

	ok, err := s.client.SetNX(ctx, redisKeyPrefix+key, raw, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("idempotency write: %w", err)
	}
	if !ok {
		return ErrAlreadyExists
	}
	return nil
}
