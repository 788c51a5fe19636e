/*
store.go - Persistence interfaces consumed by the importer

PURPOSE:
  Defines the boundary between the import engine and the relational store.
  The engine only needs find / create / delete-by-scope; everything else
  (listing, councils, run history) is an optional capability checked with
  a type assertion, the same way the importer discovers TxStore.

KEY INTERFACES:
  Store:        Core find-or-create and scoped delete operations
  TxStore:      Store + atomic multi-write (used by Refresh and Reset)
  CatalogStore: Read-side listing for the API/CLI, and payer writes
  CouncilStore: Council catalog
  RunRecorder:  Import run history and recorded mismatches

IDENTITY CONTRACT:
  CreateProperty MUST fail with ErrDuplicateProperty when the
  (ValuationID, RatingPeriod) key already exists, and CreateBill MUST fail
  with ErrDuplicateBill when (PropertyID, RatingPeriod) exists. The importer
  treats those as "someone else created it" and re-fetches.

NOT FOUND:
  Find* return (nil, nil) on a miss. Errors are reserved for store failures.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite with unique indexes
  - rates/store/memory.go: In-memory for testing
*/
package rates

import "context"

// Store handles persistence of properties and billing records.
type Store interface {
	FindProperty(ctx context.Context, key PropertyKey) (*Property, error)
	CreateProperty(ctx context.Context, p Property) error

	FindBill(ctx context.Context, propertyID PropertyID, period RatingPeriod) (*BillingRecord, error)
	CreateBill(ctx context.Context, b BillingRecord) error

	// Scoped deletes. Each returns the number of rows removed and is a
	// no-op (0, nil) on an empty scope.
	DeleteBills(ctx context.Context, scope Scope) (int64, error)
	DeletePayers(ctx context.Context, scope Scope) (int64, error)
	DeleteProperties(ctx context.Context, scope Scope) (int64, error)
}

// TxStore wraps Store with transaction support.
// If fn returns error, the transaction is rolled back.
type TxStore interface {
	Store
	WithTx(ctx context.Context, fn func(Store) error) error
}

// CatalogStore exposes the read side of a scope.
type CatalogStore interface {
	ListProperties(ctx context.Context, scope Scope) ([]Property, error)
	ListBills(ctx context.Context, scope Scope) ([]BillingRecord, error)
	ListPayers(ctx context.Context, scope Scope) ([]RatePayer, error)
	SavePayer(ctx context.Context, p RatePayer) error
}

// CouncilStore persists councils. GetCouncil returns (nil, nil) on a miss.
type CouncilStore interface {
	SaveCouncil(ctx context.Context, c Council) error
	GetCouncil(ctx context.Context, id CouncilID) (*Council, error)
	ListCouncils(ctx context.Context) ([]Council, error)
}

// RunRecorder stores the outcome of each import run.
type RunRecorder interface {
	SaveImportRun(ctx context.Context, run ImportRun) error
	ListImportRuns(ctx context.Context, councilID CouncilID, limit int) ([]ImportRun, error)
}
