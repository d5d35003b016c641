package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across repositories and services.
var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrQueueClosed        = errors.New("queue manager is closed")
	ErrBatchCancelled     = errors.New("batch cancelled")
	ErrCertificateExpired = errors.New("certificate expired")
)

// ExtractionErrorKind partitions extraction failures by cause so the
// orchestrator can decide whether a retry is worthwhile.
type ExtractionErrorKind string

const (
	// ExtractionMalformed means the payload could not be parsed at all.
	ExtractionMalformed ExtractionErrorKind = "MALFORMED"
	// ExtractionBackendUnavailable means the vision backend could not be
	// reached or returned a transient failure.
	ExtractionBackendUnavailable ExtractionErrorKind = "BACKEND_UNAVAILABLE"
	// ExtractionSchemaMismatch means the backend answered with a shape that
	// does not match the bound tax schema snapshot.
	ExtractionSchemaMismatch ExtractionErrorKind = "SCHEMA_MISMATCH"
)

// ExtractionError wraps a stage failure raised by a field extraction strategy.
type ExtractionError struct {
	Kind ExtractionErrorKind
	Err  error
}

func (e *ExtractionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("extraction failed: %s", e.Kind)
	}
	return fmt.Sprintf("extraction failed (%s): %v", e.Kind, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// NewExtractionError wraps err with the given kind.
func NewExtractionError(kind ExtractionErrorKind, err error) *ExtractionError {
	return &ExtractionError{Kind: kind, Err: err}
}

// IntegrationErrorKind partitions authority communication failures.
type IntegrationErrorKind string

const (
	IntegrationTimeout     IntegrationErrorKind = "TIMEOUT"
	IntegrationRejected    IntegrationErrorKind = "REJECTED"
	IntegrationAuthFailure IntegrationErrorKind = "AUTH_FAILURE"
)

// IntegrationError wraps a failure reported by the tax authority client.
type IntegrationError struct {
	Kind IntegrationErrorKind
	Err  error
}

func (e *IntegrationError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("integration failed: %s", e.Kind)
	}
	return fmt.Sprintf("integration failed (%s): %v", e.Kind, e.Err)
}

func (e *IntegrationError) Unwrap() error { return e.Err }

// NewIntegrationError wraps err with the given kind.
func NewIntegrationError(kind IntegrationErrorKind, err error) *IntegrationError {
	return &IntegrationError{Kind: kind, Err: err}
}

// SchemaError reports an invalid tax definition or an invalid registry
// mutation. These are caller errors and never retried.
type SchemaError struct {
	TaxKey string
	Reason string
}

func (e *SchemaError) Error() string {
	if e.TaxKey == "" {
		return fmt.Sprintf("invalid tax schema: %s", e.Reason)
	}
	return fmt.Sprintf("invalid tax definition %q: %s", e.TaxKey, e.Reason)
}

// IsRetryable reports whether the orchestrator should re-attempt the stage
// that produced err. Only transient backend and authority failures qualify.
func IsRetryable(err error) bool {
	var exErr *ExtractionError
	if errors.As(err, &exErr) {
		return exErr.Kind == ExtractionBackendUnavailable
	}
	var intErr *IntegrationError
	if errors.As(err, &intErr) {
		return intErr.Kind == IntegrationTimeout
	}
	return false
}
