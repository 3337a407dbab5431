// Package auth resolves bearer tokens issued by the auth service into callers.
package auth

import (
	"context"
	"errors"

	"orderhub/internal/model"

	"github.com/golang-jwt/jwt/v5"
)

// Resolver turns a bearer token into a caller identity.
type Resolver interface {
	Resolve(ctx context.Context, token string) (model.Caller, error)
}

// Claims are the claims the auth service puts in its access tokens.
// The subject carries the caller's email.
type Claims struct {
	ID          *int64 `json:"id"`
	IsSuperuser bool   `json:"is_superuser"`
	jwt.RegisteredClaims
}

// JWTResolver verifies HS256 tokens signed with a shared secret.
type JWTResolver struct {
	secret []byte
	parser *jwt.Parser
}

// NewJWTResolver creates a resolver for tokens signed with secret.
func NewJWTResolver(secret string) *JWTResolver {
	return &JWTResolver{
		secret: []byte(secret),
		parser: jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})),
	}
}

// Resolve validates token and returns the caller it identifies.
func (r *JWTResolver) Resolve(_ context.Context, token string) (model.Caller, error) {
	var claims Claims
	parsed, err := r.parser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return r.secret, nil
	})
	if err != nil {
		return model.Caller{}, model.WrapError(model.KindUnauthorized, model.ErrUnauthorized.Message, err)
	}
	if !parsed.Valid {
		return model.Caller{}, model.ErrUnauthorized
	}
	if claims.Subject == "" || claims.ID == nil {
		return model.Caller{}, model.WrapError(model.KindUnauthorized, model.ErrUnauthorized.Message,
			errors.New("token is missing sub or id"))
	}

	return model.Caller{
		ID:         *claims.ID,
		Email:      claims.Subject,
		Privileged: claims.IsSuperuser,
	}, nil
}

