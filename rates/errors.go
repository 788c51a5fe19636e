/*
errors.go - Centralized error types for the rates engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Callers (api, jobs, cmd) branch on these with errors.Is / errors.As.

ERROR CATEGORIES:
  1. Skippable rows - blank required field; logged, row dropped, batch continues
  2. Reconciliation mismatches - stored total differs from the extract; reported, never raised
  3. Storage constraint violations - fatal to the batch, propagated to the caller
  4. Scope errors - missing council or period; rejected before any write

CONCURRENT MODIFICATION:
  Two writers racing on one key are not detected here. The storage layer's
  unique indexes turn the losing create into ErrDuplicateProperty /
  ErrDuplicateBill, which the importer resolves by re-fetching.

SEE ALSO:
  - importer.go: Produces StorageError
  - reconcile.go: Produces MismatchError values for the summary
  - store/sqlite/sqlite.go: Maps UNIQUE failures to sentinels
*/
package rates

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrSkippableRow marks a row that was dropped without failing the batch.
	ErrSkippableRow = errors.New("skippable row")

	// ErrReconciliationMismatch marks a stored total that differs from the
	// recomputed one.
	ErrReconciliationMismatch = errors.New("reconciliation mismatch")

	// ErrStorageConstraint is returned when a write violates a uniqueness or
	// referential constraint and cannot be resolved by re-fetching.
	ErrStorageConstraint = errors.New("storage constraint violation")

	// ErrDuplicateProperty is returned by a store when a Property with the same
	// (valuation id, rating period) already exists.
	ErrDuplicateProperty = fmt.Errorf("%w: duplicate property", ErrStorageConstraint)

	// ErrDuplicateBill is returned by a store when a BillingRecord with the
	// same (property, rating period) already exists.
	ErrDuplicateBill = fmt.Errorf("%w: duplicate billing record", ErrStorageConstraint)

	ErrCouncilRequired = errors.New("council is required")

	// ErrInvalidCouncilID is returned for ids outside [A-Za-z0-9._-] or
	// longer than 64 characters.
	ErrInvalidCouncilID = errors.New("invalid council id")
	ErrPeriodRequired  = errors.New("rating period is required")

	// ErrCouncilNotFound is returned when a referenced council doesn't exist.
	ErrCouncilNotFound = errors.New("council not found")

	// ErrCouncilInactive is returned by front ends refusing to import for a
	// deactivated council.
	ErrCouncilInactive = errors.New("council is inactive")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// SkippableRowError explains why a row was dropped.
type SkippableRowError struct {
	Line   int
	Reason string
}

func (e *SkippableRowError) Error() string {
	return fmt.Sprintf("row %d skipped: %s", e.Line, e.Reason)
}

func (e *SkippableRowError) Unwrap() error {
	return ErrSkippableRow
}

// MismatchError records drift between a stored bill and the extract.
type MismatchError struct {
	PropertyID   PropertyID
	ValuationID  string
	RatingPeriod RatingPeriod
	Stored       Money // rounded
	Incoming     Money // rounded
	Line         int
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("mismatch total_rates for %s (%s): stored %s, incoming %s",
		e.ValuationID, e.RatingPeriod, e.Stored, e.Incoming)
}

func (e *MismatchError) Unwrap() error {
	return ErrReconciliationMismatch
}

// StorageError wraps a store failure with the operation and extract line
// that triggered it. Always fatal to the batch.
type StorageError struct {
	Op   string // e.g. "find property", "create bill"
	Line int
	Err  error
}

func (e *StorageError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s (row %d): %v", e.Op, e.Line, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsSkippable returns true if the error only drops a row.
func IsSkippable(err error) bool {
	return errors.Is(err, ErrSkippableRow)
}

// IsConstraintViolation returns true for uniqueness/integrity failures.
func IsConstraintViolation(err error) bool {
	return errors.Is(err, ErrStorageConstraint)
}

// IsClientError returns true if the error is due to invalid caller input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrCouncilRequired) ||
		errors.Is(err, ErrInvalidCouncilID) ||
		errors.Is(err, ErrPeriodRequired) ||
		errors.Is(err, ErrCouncilInactive)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrCouncilNotFound)
}
