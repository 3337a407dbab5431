package model

import (
	"errors"
	"net/http"
)

// ErrorKind is the stable machine-readable error classification returned to callers.
type ErrorKind string

// Error kinds surfaced at the API boundary.
const (
	KindNotFound            ErrorKind = "NotFound"
	KindInsufficientStock   ErrorKind = "InsufficientStock"
	KindValidation          ErrorKind = "ValidationError"
	KindUpstreamUnavailable ErrorKind = "UpstreamUnavailable"
	KindConflict            ErrorKind = "Conflict"
	KindUnauthorized        ErrorKind = "Unauthorized"
	KindInternal            ErrorKind = "Internal"
)

// ErrorResponse represents a standardised error response.
type ErrorResponse struct {
	ErrorKind ErrorKind `json:"error_kind"`
	Detail    string    `json:"detail"`
	RequestID string    `json:"request_id,omitempty"`
}

// DomainError is a classified business or boundary error.
type DomainError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError creates a new domain error.
func NewDomainError(kind ErrorKind, message string) *DomainError {
	return &DomainError{
		Kind:    kind,
		Message: message,
	}
}

// WrapError classifies err under kind, keeping it in the chain.
func WrapError(kind ErrorKind, message string, err error) *DomainError {
	return &DomainError{
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// KindOf returns the kind of the first DomainError in err's chain, or
// KindInternal when there is none.
func KindOf(err error) ErrorKind {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindInternal
}

// DetailOf returns the caller-safe message for err. Unclassified errors are opaque.
func DetailOf(err error) string {
	var de *DomainError
	if errors.As(err, &de) && de.Kind != KindInternal {
		return de.Message
	}
	return "an unexpected error occurred"
}

// HTTPStatus maps an error kind to its HTTP status code.
func HTTPStatus(kind ErrorKind) int {
	switch kind {
	case KindNotFound:
		return http.StatusNotFound
	case KindInsufficientStock, KindValidation:
		return http.StatusBadRequest
	case KindUpstreamUnavailable:
		return http.StatusServiceUnavailable
	case KindConflict:
		return http.StatusConflict
	case KindUnauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// Common domain errors
var (
	ErrOrderNotFound        = NewDomainError(KindNotFound, "order not found")
	ErrProductNotFound      = NewDomainError(KindNotFound, "product not found")
	ErrInsufficientStock    = NewDomainError(KindInsufficientStock, "insufficient stock")
	ErrEmptyOrder           = NewDomainError(KindValidation, "order must contain at least one item")
	ErrInvalidQuantity      = NewDomainError(KindValidation, "quantity must be greater than zero")
	ErrInvalidProductID     = NewDomainError(KindValidation, "product_id must be a positive integer")
	ErrInvalidStatus        = NewDomainError(KindValidation, "invalid status")
	ErrIdempotencyConflict  = NewDomainError(KindConflict, "a request with this idempotency key has already completed")
	ErrUnauthorized         = NewDomainError(KindUnauthorized, "could not validate credentials")
	ErrInventoryUnavailable = NewDomainError(KindUpstreamUnavailable, "inventory service unavailable")
)
