package domain

import (
	"errors"
	"fmt"
)

// ErrNotInitialized is returned by any facade operation called before
// Initialize has completed.
var ErrNotInitialized = errors.New("bridge not initialized")

// ErrClosed is returned by operations on a disposed bridge.
var ErrClosed = errors.New("bridge closed")

// ErrNoActiveTransaction is returned when a sub-transaction or commit is
// requested without an active parent in the execution context.
var ErrNoActiveTransaction = errors.New("no active transaction")

// ErrScopeCompleted is returned when committing or rolling back a
// transaction scope that already reached a terminal state.
var ErrScopeCompleted = errors.New("transaction scope already completed")

// ErrChildActive is returned when completing a parent transaction while a
// sub-transaction is still open.
var ErrChildActive = errors.New("sub-transaction still active")

// ErrModuleNotFound is returned when the scripting runtime cannot resolve
// an imported module.
var ErrModuleNotFound = errors.New("module not found")

// ErrReadOnly is returned when writing through a read-only surface: a
// read-only parameter, or a mutation inside a ReadOnly transaction.
var ErrReadOnly = errors.New("target is read-only")

// ConversionError reports that no conversion path exists between a dynamic
// value and a host type (or vice versa). It always carries both type names.
type ConversionError struct {
	From   string
	To     string
	Reason string
	Cause  error
}

func (e *ConversionError) Error() string {
	msg := fmt.Sprintf("cannot convert %s to %s", e.From, e.To)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *ConversionError) Unwrap() error { return e.Cause }

// TransactionUsageError is a programming error in transaction handling:
// double commit, completing a parent with an open child, committing with no
// active transaction. It is never retried and never handled by failure
// policies.
type TransactionUsageError struct {
	Op     string
	Reason error
}

func (e *TransactionUsageError) Error() string {
	return fmt.Sprintf("transaction misuse in %s: %v", e.Op, e.Reason)
}

func (e *TransactionUsageError) Unwrap() error { return e.Reason }

// HostError wraps a failure reported by the host object model, preserving
// the original cause.
type HostError struct {
	Op    string
	Cause error
}

func (e *HostError) Error() string {
	return fmt.Sprintf("host api %s failed: %v", e.Op, e.Cause)
}

func (e *HostError) Unwrap() error { return e.Cause }

// ValidationResult is the outcome of a parameter validation chain. It is a
// value, not an error, so batch writes can record per-key failures without
// unwinding.
type ValidationResult struct {
	Valid   bool
	Rule    string
	Message string
}

// OK is the passing validation result.
func OK() ValidationResult { return ValidationResult{Valid: true} }

// Invalid builds a failing result naming the rule that rejected the value.
func Invalid(rule, format string, args ...any) ValidationResult {
	return ValidationResult{Valid: false, Rule: rule, Message: fmt.Sprintf(format, args...)}
}

// Err converts a failing result into an error, nil for passing results.
func (r ValidationResult) Err() error {
	if r.Valid {
		return nil
	}
	return fmt.Errorf("validation failed (%s): %s", r.Rule, r.Message)
}
