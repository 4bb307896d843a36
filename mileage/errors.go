/*
errors.go - Centralized error types for the mileage domain

PURPOSE:
  All sentinel and structured errors in one place. The adapters (SQLite,
  spreadsheet, telemetry) wrap these with transport-specific causes so
  callers can branch on errors.Is without knowing which backend is wired.

ERROR CATEGORIES:
  1. Validation errors - rejected writes, nothing reaches the store
  2. Store errors - missing records vs. backend connectivity failures
  3. Upstream errors - the vendor telemetry handshake
  4. Engine errors - structurally malformed input only

USAGE:
  if errors.Is(err, mileage.ErrRecordNotFound) { ... }

SEE ALSO:
  - store.go: Write-boundary validation producing ValidationError
  - engine.go: InvalidRecordError
*/
package mileage

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrNoRecords is returned by the engine when the record sequence is
	// empty. Callers must distinguish "no lease activity yet" from zero
	// usage; the engine never fabricates a zeroed Stats.
	ErrNoRecords = errors.New("no mileage records")

	// ErrRecordNotFound is returned by update/delete against an id the
	// store does not hold. Distinct from connectivity failures.
	ErrRecordNotFound = errors.New("record not found")

	// ErrStoreUnavailable indicates the backing store could not be reached
	// or refused the operation. The underlying cause is always wrapped.
	ErrStoreUnavailable = errors.New("record store unavailable")

	// ErrValidation covers malformed write input (missing date, negative
	// or non-numeric totalKm, monotonicity violations). No partial write
	// ever occurs.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidRecord is raised by the engine for structurally malformed
	// records only (zero date, negative km). Semantically odd but
	// well-typed input never fails the engine.
	ErrInvalidRecord = errors.New("invalid record")

	// ErrInvalidLease indicates an unusable lease configuration.
	ErrInvalidLease = errors.New("invalid lease configuration")

	// ErrUpstreamAuth is the telemetry vendor's login/token sequence
	// failing. The whole fetch aborts; nothing is written.
	ErrUpstreamAuth = errors.New("upstream authentication failed")

	// ErrUpstreamProtocol is the telemetry vendor returning an unusable
	// response after authentication succeeded.
	ErrUpstreamProtocol = errors.New("upstream protocol error")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError reports a rejected write with a user-visible message.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// InvalidRecordError identifies the malformed record the engine refused.
type InvalidRecordError struct {
	ID     int64
	Reason string
}

func (e *InvalidRecordError) Error() string {
	return fmt.Sprintf("invalid record %d: %s", e.ID, e.Reason)
}

func (e *InvalidRecordError) Unwrap() error { return ErrInvalidRecord }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsNotFound reports whether the error indicates a missing record.
func IsNotFound(err error) bool { return errors.Is(err, ErrRecordNotFound) }

// IsClientError reports whether the error is due to invalid caller input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) || errors.Is(err, ErrRecordNotFound)
}

// IsRetryable reports whether the operation might succeed on retry.
// Permanent conditions (not-found, validation, bad credentials) are not.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}
