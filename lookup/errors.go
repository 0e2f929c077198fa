package lookup

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrMissingAPIKey is wrapped in ErrUnauthorized when no key was configured; no request is sent.
var ErrMissingAPIKey = errors.New("no pricing API key configured")

// ErrTimeout indicates a timeout while issuing a request.
type ErrTimeout struct {
	Err error
}

func (e ErrTimeout) Error() string {
	return fmt.Errorf("timeout: %w", e.Err).Error()
}

func (e ErrTimeout) Unwrap() error {
	return e.Err
}

// ErrConnection indicates a network connectivity failure.
type ErrConnection struct {
	Err error
}

func (e ErrConnection) Error() string {
	return fmt.Errorf("connection: %w", e.Err).Error()
}

func (e ErrConnection) Unwrap() error {
	return e.Err
}

// ErrUnauthorized indicates rejected or missing credentials (HTTP 401/403).
type ErrUnauthorized struct {
	Err error
}

func (e ErrUnauthorized) Error() string {
	return fmt.Errorf("unauthorized: %w", e.Err).Error()
}

func (e ErrUnauthorized) Unwrap() error {
	return e.Err
}

// ErrRateLimited indicates the provider rate-limited the request (HTTP 429).
type ErrRateLimited struct {
	Err error
}

func (e ErrRateLimited) Error() string {
	return fmt.Errorf("rate_limited: %w", e.Err).Error()
}

func (e ErrRateLimited) Unwrap() error {
	return e.Err
}

// ErrProvider is any other non-2xx answer or an undecodable body.
type ErrProvider struct {
	Status int
	Err    error
}

func (e ErrProvider) Error() string {
	return fmt.Errorf("provider status %d: %w", e.Status, e.Err).Error()
}

func (e ErrProvider) Unwrap() error {
	return e.Err
}

// IsFatal reports whether err should abort the whole job rather than one batch.
// Rejected credentials and 4xx answers other than 404/429 would recur on every batch.
func IsFatal(err error) bool {
	var unauthorized ErrUnauthorized
	if errors.As(err, &unauthorized) {
		return true
	}
	var provider ErrProvider
	return errors.As(err, &provider) &&
		provider.Status >= http.StatusBadRequest && provider.Status < http.StatusInternalServerError
}

// IsRetryable reports whether the same request may succeed if repeated.
func IsRetryable(err error) bool {
	var timeout ErrTimeout
	var conn ErrConnection
	var rateLimited ErrRateLimited
	var provider ErrProvider
	switch {
	case errors.As(err, &timeout), errors.As(err, &conn), errors.As(err, &rateLimited):
		return true
	case errors.As(err, &provider):
		return provider.Status >= http.StatusInternalServerError
	default:
		return false
	}
}

func errorTypeLabel(err error) string {
	if err == nil {
		return "unknown"
	}
	var timeout ErrTimeout
	if errors.As(err, &timeout) {
		return "timeout"
	}
	var conn ErrConnection
	if errors.As(err, &conn) {
		return "connection"
	}
	var unauthorized ErrUnauthorized
	if errors.As(err, &unauthorized) {
		return "unauthorized"
	}
	var rateLimited ErrRateLimited
	if errors.As(err, &rateLimited) {
		return "rate_limited"
	}
	var provider ErrProvider
	if errors.As(err, &provider) {
		return "provider"
	}
	return "other"
}
