package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/kursadbilgin/attendance-engine/internal/domain"
)

// ProviderError is a provider rejection or transport failure.
type ProviderError struct {
	StatusCode int
	Message    string
	Transient  bool
	Cause      error
}

func (e *ProviderError) Error() string {
	if e == nil {
		return "<nil>"
	}

	parts := make([]string, 0, 4)
	parts = append(parts, "provider error")

	if e.StatusCode > 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.StatusCode))
	}
	if msg := strings.TrimSpace(e.Message); msg != "" {
		parts = append(parts, msg)
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}

	return strings.Join(parts, ": ")
}

func (e *ProviderError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// IsTransient reports whether the failure is likely to clear on its own.
// The dispatcher never retries; callers use this for reporting only.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		return providerErr.Transient
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	return false
}

// Error classes used as metric labels.
const (
	ClassTimeout       = "timeout"
	ClassCanceled      = "canceled"
	ClassConfiguration = "configuration"
	ClassValidation    = "validation"
	ClassTransient     = "transient"
	ClassPermanent     = "permanent"
	ClassPanic         = "panic"
)

// Classify buckets a send error for the per-provider error histogram.
func Classify(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.DeadlineExceeded):
		return ClassTimeout
	case errors.Is(err, context.Canceled):
		return ClassCanceled
	case errors.Is(err, domain.ErrConfiguration):
		return ClassConfiguration
	case errors.Is(err, domain.ErrValidation):
		return ClassValidation
	case IsTransient(err):
		return ClassTransient
	default:
		return ClassPermanent
	}
}
