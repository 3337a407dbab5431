// Package idempotency stores the first response produced for an idempotency key
// so that retried requests replay it instead of re-executing.
package idempotency

import (
	"context"
	"errors"
	"fmt"

	"orderhub/internal/model"
)

// ErrAlreadyExists is returned by Put when another request stored the key first.
var ErrAlreadyExists = errors.New("idempotency key already exists")

// Store is a first-writer-wins map from key to stored response.
type Store interface {
	// Get returns the stored record, or nil, nil when the key is unknown.
	Get(ctx context.Context, key string) (*model.IdempotencyRecord, error)

	// Put stores the response for key. Existing records are never overwritten;
	// the losing writer gets ErrAlreadyExists.
	Put(ctx context.Context, key string, statusCode int, body []byte) error
}

// ScopedKey namespaces a client-supplied key by caller so different callers
// never see each other's responses.
func ScopedKey(callerID int64, key string) string {
	return fmt.Sprintf("%d:%s", callerID, key)
}
