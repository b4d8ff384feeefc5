package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors. Typed errors below unwrap to these so callers can use
// errors.Is without knowing the concrete type.
var (
	ErrRetriesExhausted = errors.New("retries exhausted")
	ErrNoDataConfirmed  = errors.New("provider confirmed no data")
	ErrInvalidWeights   = errors.New("invalid weights")
	ErrNoDataAvailable  = errors.New("no price data available")
	ErrStorage          = errors.New("storage error")
	ErrNotSettled       = errors.New("window not settled yet")
	ErrNotCached        = errors.New("not in cache")
)

// ProviderError is a failure reported by the market-data provider.
// Transient errors (rate limits, network blips) are retried.
type ProviderError struct {
	Ticker    string
	Transient bool
	Cause     error
}

func (e *ProviderError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("provider error for %s (%s): %v", e.Ticker, kind, e.Cause)
}

func (e *ProviderError) Unwrap() error { return e.Cause }

// IsTransient reports whether err is a transient ProviderError.
func IsTransient(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Transient
}

// RetriesExhaustedError is returned once the retry budget is spent.
type RetriesExhaustedError struct {
	Attempts int
	Cause    error
}

func (e *RetriesExhaustedError) Error() string {
	return fmt.Sprintf("retries exhausted after %d attempts: %v", e.Attempts, e.Cause)
}

// Unwrap exposes both the sentinel and the last underlying cause.
func (e *RetriesExhaustedError) Unwrap() []error {
	return []error{ErrRetriesExhausted, e.Cause}
}

// InvalidWeightsError describes why a weight map was rejected.
type InvalidWeightsError struct {
	Reason string
}

func (e *InvalidWeightsError) Error() string {
	return "invalid weights: " + e.Reason
}

func (e *InvalidWeightsError) Is(target error) bool {
	return target == ErrInvalidWeights
}

// StorageError wraps a durable-store failure. It is always fatal to the
// operation that hit it.
type StorageError struct {
	Op    string
	Cause error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Cause)
}

func (e *StorageError) Unwrap() []error {
	return []error{ErrStorage, e.Cause}
}

// WrapStorage returns nil for a nil err, otherwise a *StorageError.
func WrapStorage(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Cause: err}
}
