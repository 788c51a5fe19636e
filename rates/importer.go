/*
importer.go - Import orchestration for rate-roll extracts

PURPOSE:
  Turns an unordered sequence of raw extract rows into a deduplicated
  property catalog and a consistent billing ledger for one Scope.

PER-ROW PIPELINE:
  1. Parse (row.go). A blank total-rates field skips the row; batch continues.
  2. Resolve property by (valuation id, period). Miss -> create. Hit -> reuse
     unchanged (first write wins within a period).
  3. Reconcile billing (reconcile.go). Miss -> create with rates + water.
     Hit -> compare rounded totals; report, never update.

OPERATIONS:
  ImportRow: one row, returns an Outcome
  Import:    every row from a RowReader, returns a Summary
  Reset:     delete bills, payers, properties for the scope (reset.go)
  Refresh:   Reset then Import; the supported way to re-ingest a period

TRANSACTIONS:
  The engine does not require a transaction. With Options.Atomic and a
  TxStore, Import/Refresh/Reset run inside WithTx and a failure leaves the
  store untouched. Without it a failed batch is partially applied and MUST
  be recovered with Refresh (Reset first), never by re-running Import.

CONCURRENCY:
  Single writer per scope. Every public operation takes the scope lock from
  Options.Locker; different scopes proceed independently. Find-then-create
  is not atomic on its own, so a duplicate-key failure on create is
  resolved by re-fetching the row the other writer created.

SEE ALSO:
  - reconcile.go: Billing reconciliation
  - reset.go: Scoped bulk delete
  - serial.go: ScopeLocker
*/
package rates

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// OPTIONS
// =============================================================================

// Options configures an Importer. The zero value reproduces the reference
// behavior: mismatch detection off, no transaction wrapping.
type Options struct {
	// DetectMismatches turns on the stored-vs-incoming total check. When off,
	// re-sighted bills are always BillReconciled.
	DetectMismatches bool

	// Atomic wraps Import, Refresh and Reset in TxStore.WithTx when the store
	// supports it.
	Atomic bool

	Logger *log.Logger
	Clock  func() time.Time
	NewID  func() string
	Locker *ScopeLocker
}

// =============================================================================
// IMPORTER
// =============================================================================

// Importer runs Import, Reset and Refresh against a Store.
type Importer struct {
	store    Store
	txStore  TxStore     // nil if store has no transactions
	recorder RunRecorder // nil if store keeps no run history
	opts     Options
}

// NewImporter creates an importer. Optional store capabilities (TxStore,
// RunRecorder) are discovered by type assertion.
func NewImporter(store Store, opts Options) *Importer {
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	if opts.Locker == nil {
		opts.Locker = NewScopeLocker()
	}

	imp := &Importer{store: store, opts: opts}
	if ts, ok := store.(TxStore); ok {
		imp.txStore = ts
	}
	if rr, ok := store.(RunRecorder); ok {
		imp.recorder = rr
	}
	return imp
}

// RowReader yields extract rows one at a time. io.EOF ends the stream.
// *csv.Reader satisfies it.
type RowReader interface {
	Read() ([]string, error)
}

type sliceRows struct {
	rows [][]string
	next int
}

// Rows adapts an in-memory row slice to RowReader.
func Rows(rows [][]string) RowReader {
	return &sliceRows{rows: rows}
}

func (s *sliceRows) Read() ([]string, error) {
	if s.next >= len(s.rows) {
		return nil, io.EOF
	}
	row := s.rows[s.next]
	s.next++
	return row, nil
}

// =============================================================================
// PUBLIC OPERATIONS
// =============================================================================

// ImportRow imports a single extract row. line is the row's 1-based position
// in the extract and is only used for reporting.
func (i *Importer) ImportRow(ctx context.Context, scope Scope, line int, row []string) (Outcome, error) {
	if err := scope.Validate(); err != nil {
		return Outcome{}, err
	}
	unlock := i.opts.Locker.Lock(scope)
	defer unlock()

	return i.importRow(ctx, i.store, scope, line, row)
}

// Import consumes every row from rows in order and returns the batch summary.
// A storage failure stops the batch and is returned with the partial summary.
func (i *Importer) Import(ctx context.Context, scope Scope, rows RowReader) (Summary, error) {
	if err := scope.Validate(); err != nil {
		return Summary{}, err
	}
	unlock := i.opts.Locker.Lock(scope)
	defer unlock()

	var summary Summary
	err := i.record(ctx, scope, &summary, func(st Store) error {
		var err error
		summary, err = i.importRows(ctx, st, scope, rows)
		return err
	})
	return summary, err
}

// Refresh replaces a scope's data with the given extract: Reset then Import.
// Running it twice on the same extract yields the same end state as once.
func (i *Importer) Refresh(ctx context.Context, scope Scope, rows RowReader) (Summary, error) {
	if err := scope.Validate(); err != nil {
		return Summary{}, err
	}
	unlock := i.opts.Locker.Lock(scope)
	defer unlock()

	var summary Summary
	err := i.record(ctx, scope, &summary, func(st Store) error {
		cleared, err := i.reset(ctx, st, scope)
		if err != nil {
			return err
		}
		summary, err = i.importRows(ctx, st, scope, rows)
		summary.Reset = &cleared
		return err
	})
	return summary, err
}

// =============================================================================
// INTERNALS
// =============================================================================

// record runs fn (inside a transaction when configured) and stores an
// ImportRun around it if the store keeps run history. The run record is
// written outside the transaction so failures are still recorded.
func (i *Importer) record(ctx context.Context, scope Scope, summary *Summary, fn func(Store) error) error {
	run := ImportRun{
		ID:        i.opts.NewID(),
		CouncilID: scope.Council.ID,
		Period:    scope.Period,
		Status:    RunRunning,
		StartedAt: i.opts.Clock().UTC(),
	}
	if i.recorder != nil {
		if err := i.recorder.SaveImportRun(ctx, run); err != nil {
			return &StorageError{Op: "save import run", Err: err}
		}
	}

	err := i.inTx(ctx, fn)
	summary.Scope = scope

	completed := i.opts.Clock().UTC()
	run.CompletedAt = &completed
	run.Summary = *summary
	run.Status = RunCompleted
	if err != nil {
		run.Status = RunFailed
		run.Error = err.Error()
		i.opts.Logger.Printf("[Import] %s failed after %d rows: %v", scope, summary.Rows, err)
	} else {
		i.opts.Logger.Printf("[Import] %s done: rows=%d processed=%d skipped=%d properties_created=%d bills_created=%d bills_reconciled=%d mismatches=%d",
			scope, summary.Rows, summary.Processed, summary.Skipped, summary.PropertiesCreated,
			summary.BillsCreated, summary.BillsReconciled, len(summary.Mismatches))
	}

	if i.recorder != nil {
		if rerr := i.recorder.SaveImportRun(ctx, run); rerr != nil && err == nil {
			return &StorageError{Op: "save import run", Err: rerr}
		}
	}
	return err
}

func (i *Importer) inTx(ctx context.Context, fn func(Store) error) error {
	if i.opts.Atomic && i.txStore != nil {
		return i.txStore.WithTx(ctx, fn)
	}
	return fn(i.store)
}

func (i *Importer) importRows(ctx context.Context, st Store, scope Scope, rows RowReader) (Summary, error) {
	summary := Summary{Scope: scope}
	for line := 1; ; line++ {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		row, err := rows.Read()
		if errors.Is(err, io.EOF) {
			return summary, nil
		}
		if err != nil {
			return summary, fmt.Errorf("read extract row %d: %w", line, err)
		}

		outcome, err := i.importRow(ctx, st, scope, line, row)
		if err != nil {
			return summary, err
		}
		summary.Add(outcome)
	}
}

func (i *Importer) importRow(ctx context.Context, st Store, scope Scope, line int, row []string) (Outcome, error) {
	parsed, err := ParseRow(line, row)
	if err != nil {
		var skip *SkippableRowError
		if errors.As(err, &skip) {
			i.opts.Logger.Printf("[Import] SKIPPING blank rates record (row %d)", line)
			return Outcome{Line: line, Skipped: true, SkipReason: skip.Reason}, nil
		}
		return Outcome{}, err
	}

	property, created, err := i.resolveProperty(ctx, st, scope, parsed)
	if err != nil {
		return Outcome{}, err
	}

	outcome := Outcome{
		Line:            line,
		PropertyID:      property.ID,
		PropertyCreated: created,
		CrossCouncil:    property.CouncilID != scope.Council.ID,
	}
	if outcome.CrossCouncil {
		i.opts.Logger.Printf("[Import] valuation %s (row %d) matched property %s owned by council %s",
			parsed.ValuationID, line, property.ID, property.CouncilID)
	}

	if err := i.reconcileBill(ctx, st, scope, property, parsed, &outcome); err != nil {
		return Outcome{}, err
	}
	return outcome, nil
}

// resolveProperty finds the property for (valuation id, period) or creates
// it from the parsed row. An existing property is returned unchanged.
func (i *Importer) resolveProperty(ctx context.Context, st Store, scope Scope, row ParsedRow) (*Property, bool, error) {
	key := PropertyKey{ValuationID: row.ValuationID, RatingPeriod: scope.Period}

	existing, err := st.FindProperty(ctx, key)
	if err != nil {
		return nil, false, &StorageError{Op: "find property", Line: row.Line, Err: err}
	}
	if existing != nil {
		return existing, false, nil
	}

	property := Property{
		ID:           PropertyID(i.opts.NewID()),
		CouncilID:    scope.Council.ID,
		ValuationID:  row.ValuationID,
		Location:     row.Location,
		Suburb:       row.Suburb,
		TownCity:     row.TownCity,
		RatingPeriod: scope.Period,
		Meta:         row.Meta,
		CreatedAt:    i.opts.Clock().UTC(),
	}
	err = st.CreateProperty(ctx, property)
	if errors.Is(err, ErrDuplicateProperty) {
		// Lost a race: the other writer's row is the property.
		winner, ferr := st.FindProperty(ctx, key)
		if ferr != nil {
			return nil, false, &StorageError{Op: "find property", Line: row.Line, Err: ferr}
		}
		if winner == nil {
			return nil, false, &StorageError{Op: "create property", Line: row.Line, Err: err}
		}
		return winner, false, nil
	}
	if err != nil {
		return nil, false, &StorageError{Op: "create property", Line: row.Line, Err: err}
	}
	return &property, true, nil
}
