package domain

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

var (
	ErrProviderNotFound   = errors.New("provider_not_found")
	ErrInvalidProvider    = errors.New("invalid_provider")
	ErrInvalidConfig      = errors.New("invalid_config")
	ErrInvalidSignature   = errors.New("invalid_signature")
	ErrInvalidPayload     = errors.New("invalid_payload")
	ErrInvalidEvent       = errors.New("invalid_event")
	ErrEventIgnored       = errors.New("event_ignored")
	ErrWebhookUnsupported = errors.New("webhook_unsupported")
	ErrRefundUnsupported  = errors.New("refund_unsupported")
	ErrAmbiguousStatus    = errors.New("ambiguous_status")
	ErrSessionRejected    = errors.New("session_rejected")
)

// ProviderError wraps a failure talking to a payment network with the provider and
// operation that produced it.
type ProviderError struct {
	Provider   string
	Op         string
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s %s: status %d: %v", e.Provider, e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Transient reports whether retrying the same call later may succeed.
func (e *ProviderError) Transient() bool {
	if e == nil {
		return false
	}
	if e.StatusCode >= http.StatusInternalServerError || e.StatusCode == http.StatusTooManyRequests {
		return true
	}
	if errors.Is(e.Err, context.DeadlineExceeded) || errors.Is(e.Err, ErrAmbiguousStatus) {
		return true
	}
	var netErr net.Error
	if errors.As(e.Err, &netErr) {
		return true
	}
	return e.StatusCode == 0 && !errors.Is(e.Err, ErrInvalidConfig) && !errors.Is(e.Err, ErrSessionRejected)
}

func NewProviderError(provider, op string, statusCode int, err error) *ProviderError {
	return &ProviderError{Provider: provider, Op: op, StatusCode: statusCode, Err: err}
}

// IsTransient reports whether err is a retryable network failure.
func IsTransient(err error) bool {
	var perr *ProviderError
	if errors.As(err, &perr) {
		return perr.Transient()
	}
	return errors.Is(err, context.DeadlineExceeded)
}
