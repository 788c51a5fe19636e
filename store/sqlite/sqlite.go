/*
Package sqlite provides a SQLite-backed implementation of the rates storage interfaces.

PURPOSE:
  Implements every persistence interface the importer and front ends use
  (rates.Store, TxStore, CatalogStore, CouncilStore, RunRecorder) on SQLite.
  The same schema works on PostgreSQL with minor dialect changes.

IDENTITY ENFORCEMENT:
  The unique indexes are the real concurrency guard; the importer's
  find-then-create is not atomic on its own.
  - idx_properties_identity:  UNIQUE(valuation_id, rating_year)
  - idx_rates_bills_identity: UNIQUE(property_id, rating_year)
  A violation surfaces as rates.ErrDuplicateProperty / rates.ErrDuplicateBill.

KEY TABLES:
  councils:          Tenant catalog
  properties:        Rateable units, one per (valuation_id, rating_year)
  rates_bills:       Totals owed, one per (property_id, rating_year)
  rates_payers:      Payers of record (populated outside the importer)
  import_runs:       One row per Import/Refresh with summary counts
  import_mismatches: Reconciliation mismatches recorded by a run

FOREIGN KEYS:
  Bills and payers reference properties. Reset deletes dependents first, so
  no ON DELETE CASCADE is declared.

CONCURRENCY:
  One open connection (so ":memory:" databases are shared across calls) and a
  sync.RWMutex. WithTx holds the write lock for the whole transaction; the
  transactional view never re-enters the lock.

USAGE:
  store, err := sqlite.New("./data/rates.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  imp := rates.NewImporter(store, rates.Options{Atomic: true})

MIGRATION:
  Schema is auto-migrated on New().

SEE ALSO:
  - rates/store.go: Interface definitions
  - rates/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/rates-engine/rates"
)

const dateLayout = "2006-01-02"

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("sqlite: path is required")
	}
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS councils (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		short_name TEXT,
		email TEXT,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS properties (
		id TEXT PRIMARY KEY,
		council_id TEXT NOT NULL,
		valuation_id TEXT NOT NULL,
		location TEXT,
		suburb TEXT,
		town_city TEXT,
		rating_year TEXT NOT NULL,
		meta TEXT,
		created_at TEXT NOT NULL
	);

	-- Identity: one property per valuation id per period, across councils
	CREATE UNIQUE INDEX IF NOT EXISTS idx_properties_identity
		ON properties(valuation_id, rating_year);
	CREATE INDEX IF NOT EXISTS idx_properties_council
		ON properties(council_id);
	-- Reset and listing hot path
	CREATE INDEX IF NOT EXISTS idx_properties_council_year
		ON properties(council_id, rating_year);

	CREATE TABLE IF NOT EXISTS rates_bills (
		id TEXT PRIMARY KEY,
		property_id TEXT NOT NULL REFERENCES properties(id),
		rating_year TEXT NOT NULL,
		total_rates TEXT NOT NULL,
		current_owner_start_date TEXT,
		created_at TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_rates_bills_identity
		ON rates_bills(property_id, rating_year);

	CREATE TABLE IF NOT EXISTS rates_payers (
		id TEXT PRIMARY KEY,
		property_id TEXT NOT NULL REFERENCES properties(id),
		rating_year TEXT NOT NULL,
		name TEXT,
		payer_type TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_rates_payers_property
		ON rates_payers(property_id, rating_year);

	CREATE TABLE IF NOT EXISTS import_runs (
		id TEXT PRIMARY KEY,
		council_id TEXT NOT NULL,
		rating_year TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'running',
		row_count INTEGER DEFAULT 0,
		processed INTEGER DEFAULT 0,
		skipped INTEGER DEFAULT 0,
		properties_created INTEGER DEFAULT 0,
		properties_matched INTEGER DEFAULT 0,
		bills_created INTEGER DEFAULT 0,
		bills_reconciled INTEGER DEFAULT 0,
		cross_council INTEGER DEFAULT 0,
		error TEXT,
		started_at TEXT NOT NULL,
		completed_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_import_runs_council
		ON import_runs(council_id, started_at DESC);

	CREATE TABLE IF NOT EXISTS import_mismatches (
		run_id TEXT NOT NULL REFERENCES import_runs(id),
		property_id TEXT NOT NULL,
		valuation_id TEXT NOT NULL,
		rating_year TEXT NOT NULL,
		stored_total TEXT NOT NULL,
		incoming_total TEXT NOT NULL,
		line INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_import_mismatches_run
		ON import_mismatches(run_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// RATES STORE (rates.Store interface)
// =============================================================================

func (s *Store) FindProperty(ctx context.Context, key rates.PropertyKey) (*rates.Property, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return findProperty(ctx, s.db, key)
}

func (s *Store) CreateProperty(ctx context.Context, p rates.Property) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return createProperty(ctx, s.db, p)
}

func (s *Store) FindBill(ctx context.Context, propertyID rates.PropertyID, period rates.RatingPeriod) (*rates.BillingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return findBill(ctx, s.db, propertyID, period)
}

func (s *Store) CreateBill(ctx context.Context, b rates.BillingRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return createBill(ctx, s.db, b)
}

func (s *Store) DeleteBills(ctx context.Context, scope rates.Scope) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deleteBills(ctx, s.db, scope)
}

func (s *Store) DeletePayers(ctx context.Context, scope rates.Scope) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deletePayers(ctx, s.db, scope)
}

func (s *Store) DeleteProperties(ctx context.Context, scope rates.Scope) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deleteProperties(ctx, s.db, scope)
}

func findProperty(ctx context.Context, q querier, key rates.PropertyKey) (*rates.Property, error) {
	query := `
		SELECT id, council_id, valuation_id, location, suburb, town_city, rating_year, meta, created_at
		FROM properties
		WHERE valuation_id = ? AND rating_year = ?
	`
	props, err := queryProperties(ctx, q, query, key.ValuationID, string(key.RatingPeriod))
	if err != nil {
		return nil, err
	}
	if len(props) == 0 {
		return nil, nil
	}
	return &props[0], nil
}

func createProperty(ctx context.Context, q querier, p rates.Property) error {
	query := `
		INSERT INTO properties
		(id, council_id, valuation_id, location, suburb, town_city, rating_year, meta, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := q.ExecContext(ctx, query,
		string(p.ID),
		string(p.CouncilID),
		p.ValuationID,
		p.Location,
		p.Suburb,
		p.TownCity,
		string(p.RatingPeriod),
		p.Meta,
		p.CreatedAt.UTC().Format(time.RFC3339),
	)
	if isUniqueConstraintError(err) {
		return rates.ErrDuplicateProperty
	}
	if err != nil {
		return fmt.Errorf("failed to create property: %w", err)
	}
	return nil
}

func findBill(ctx context.Context, q querier, propertyID rates.PropertyID, period rates.RatingPeriod) (*rates.BillingRecord, error) {
	query := `
		SELECT b.id, b.property_id, b.rating_year, b.total_rates, b.current_owner_start_date, b.created_at
		FROM rates_bills b
		WHERE b.property_id = ? AND b.rating_year = ?
	`
	bills, err := queryBills(ctx, q, query, string(propertyID), string(period))
	if err != nil {
		return nil, err
	}
	if len(bills) == 0 {
		return nil, nil
	}
	return &bills[0], nil
}

func createBill(ctx context.Context, q querier, b rates.BillingRecord) error {
	query := `
		INSERT INTO rates_bills
		(id, property_id, rating_year, total_rates, current_owner_start_date, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	var ownerSince sql.NullString
	if b.CurrentOwnerStartDate != nil {
		ownerSince = sql.NullString{String: b.CurrentOwnerStartDate.Format(dateLayout), Valid: true}
	}
	_, err := q.ExecContext(ctx, query,
		string(b.ID),
		string(b.PropertyID),
		string(b.RatingPeriod),
		b.TotalRates.Decimal.String(),
		ownerSince,
		b.CreatedAt.UTC().Format(time.RFC3339),
	)
	if isUniqueConstraintError(err) {
		return rates.ErrDuplicateBill
	}
	if err != nil {
		return fmt.Errorf("failed to create bill: %w", err)
	}
	return nil
}

// scopedProperties selects the ids of properties in a scope.
const scopedProperties = `SELECT id FROM properties WHERE council_id = ? AND rating_year = ?`

func deleteBills(ctx context.Context, q querier, scope rates.Scope) (int64, error) {
	res, err := q.ExecContext(ctx,
		`DELETE FROM rates_bills WHERE rating_year = ? AND property_id IN (`+scopedProperties+`)`,
		string(scope.Period), string(scope.Council.ID), string(scope.Period))
	if err != nil {
		return 0, fmt.Errorf("failed to delete bills: %w", err)
	}
	return res.RowsAffected()
}

func deletePayers(ctx context.Context, q querier, scope rates.Scope) (int64, error) {
	res, err := q.ExecContext(ctx,
		`DELETE FROM rates_payers WHERE rating_year = ? AND property_id IN (`+scopedProperties+`)`,
		string(scope.Period), string(scope.Council.ID), string(scope.Period))
	if err != nil {
		return 0, fmt.Errorf("failed to delete payers: %w", err)
	}
	return res.RowsAffected()
}

func deleteProperties(ctx context.Context, q querier, scope rates.Scope) (int64, error) {
	res, err := q.ExecContext(ctx,
		`DELETE FROM properties WHERE council_id = ? AND rating_year = ?`,
		string(scope.Council.ID), string(scope.Period))
	if err != nil {
		return 0, fmt.Errorf("failed to delete properties: %w", err)
	}
	return res.RowsAffected()
}

func queryProperties(ctx context.Context, q querier, query string, args ...any) ([]rates.Property, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query properties: %w", err)
	}
	defer rows.Close()

	var result []rates.Property
	for rows.Next() {
		var p rates.Property
		var id, councilID, period, createdAt string
		var location, suburb, townCity, meta sql.NullString
		if err := rows.Scan(&id, &councilID, &p.ValuationID, &location, &suburb, &townCity,
			&period, &meta, &createdAt); err != nil {
			return nil, err
		}
		p.ID = rates.PropertyID(id)
		p.CouncilID = rates.CouncilID(councilID)
		p.RatingPeriod = rates.RatingPeriod(period)
		p.Location = location.String
		p.Suburb = suburb.String
		p.TownCity = townCity.String
		p.Meta = meta.String
		p.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		result = append(result, p)
	}
	return result, rows.Err()
}

func queryBills(ctx context.Context, q querier, query string, args ...any) ([]rates.BillingRecord, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query bills: %w", err)
	}
	defer rows.Close()

	var result []rates.BillingRecord
	for rows.Next() {
		var b rates.BillingRecord
		var id, propertyID, period, total, createdAt string
		var ownerSince sql.NullString
		if err := rows.Scan(&id, &propertyID, &period, &total, &ownerSince, &createdAt); err != nil {
			return nil, err
		}
		b.ID = rates.BillID(id)
		b.PropertyID = rates.PropertyID(propertyID)
		b.RatingPeriod = rates.RatingPeriod(period)
		b.TotalRates = parseMoney(total)
		if ownerSince.Valid {
			if t, err := time.Parse(dateLayout, ownerSince.String); err == nil {
				b.CurrentOwnerStartDate = &t
			}
		}
		b.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		result = append(result, b)
	}
	return result, rows.Err()
}

// =============================================================================
// TRANSACTIONAL STORE (rates.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store rates.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) FindProperty(ctx context.Context, key rates.PropertyKey) (*rates.Property, error) {
	return findProperty(ctx, ts.tx, key)
}

func (ts *txStore) CreateProperty(ctx context.Context, p rates.Property) error {
	return createProperty(ctx, ts.tx, p)
}

func (ts *txStore) FindBill(ctx context.Context, propertyID rates.PropertyID, period rates.RatingPeriod) (*rates.BillingRecord, error) {
	return findBill(ctx, ts.tx, propertyID, period)
}

func (ts *txStore) CreateBill(ctx context.Context, b rates.BillingRecord) error {
	return createBill(ctx, ts.tx, b)
}

func (ts *txStore) DeleteBills(ctx context.Context, scope rates.Scope) (int64, error) {
	return deleteBills(ctx, ts.tx, scope)
}

func (ts *txStore) DeletePayers(ctx context.Context, scope rates.Scope) (int64, error) {
	return deletePayers(ctx, ts.tx, scope)
}

func (ts *txStore) DeleteProperties(ctx context.Context, scope rates.Scope) (int64, error) {
	return deleteProperties(ctx, ts.tx, scope)
}

// =============================================================================
// CATALOG STORE (rates.CatalogStore interface)
// =============================================================================

// ListProperties returns the scope's properties ordered by valuation id.
func (s *Store) ListProperties(ctx context.Context, scope rates.Scope) ([]rates.Property, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, council_id, valuation_id, location, suburb, town_city, rating_year, meta, created_at
		FROM properties
		WHERE council_id = ? AND rating_year = ?
		ORDER BY valuation_id ASC
	`
	return queryProperties(ctx, s.db, query, string(scope.Council.ID), string(scope.Period))
}

// ListBills returns the bills of the scope's properties ordered by valuation id.
func (s *Store) ListBills(ctx context.Context, scope rates.Scope) ([]rates.BillingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT b.id, b.property_id, b.rating_year, b.total_rates, b.current_owner_start_date, b.created_at
		FROM rates_bills b
		JOIN properties p ON p.id = b.property_id
		WHERE p.council_id = ? AND p.rating_year = ? AND b.rating_year = ?
		ORDER BY p.valuation_id ASC
	`
	return queryBills(ctx, s.db, query, string(scope.Council.ID), string(scope.Period), string(scope.Period))
}

func (s *Store) ListPayers(ctx context.Context, scope rates.Scope) ([]rates.RatePayer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT r.id, r.property_id, r.rating_year, r.name, r.payer_type, r.created_at
		FROM rates_payers r
		JOIN properties p ON p.id = r.property_id
		WHERE p.council_id = ? AND p.rating_year = ? AND r.rating_year = ?
		ORDER BY r.id ASC
	`
	rows, err := s.db.QueryContext(ctx, query, string(scope.Council.ID), string(scope.Period), string(scope.Period))
	if err != nil {
		return nil, fmt.Errorf("failed to query payers: %w", err)
	}
	defer rows.Close()

	var result []rates.RatePayer
	for rows.Next() {
		var p rates.RatePayer
		var id, propertyID, period, createdAt string
		var name, payerType sql.NullString
		if err := rows.Scan(&id, &propertyID, &period, &name, &payerType, &createdAt); err != nil {
			return nil, err
		}
		p.ID = rates.PayerID(id)
		p.PropertyID = rates.PropertyID(propertyID)
		p.RatingPeriod = rates.RatingPeriod(period)
		p.Name = name.String
		p.PayerType = payerType.String
		p.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		result = append(result, p)
	}
	return result, rows.Err()
}

// SavePayer inserts or replaces a payer of record.
func (s *Store) SavePayer(ctx context.Context, p rates.RatePayer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	query := `
		INSERT INTO rates_payers (id, property_id, rating_year, name, payer_type, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			payer_type = excluded.payer_type
	`
	_, err := s.db.ExecContext(ctx, query,
		string(p.ID), string(p.PropertyID), string(p.RatingPeriod),
		p.Name, p.PayerType, p.CreatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to save payer: %w", err)
	}
	return nil
}

// =============================================================================
// COUNCIL STORE (rates.CouncilStore interface)
// =============================================================================

func (s *Store) SaveCouncil(ctx context.Context, c rates.Council) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	query := `
		INSERT INTO councils (id, name, short_name, email, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			short_name = excluded.short_name,
			email = excluded.email,
			active = excluded.active
	`
	_, err := s.db.ExecContext(ctx, query,
		string(c.ID), c.Name, c.ShortName, c.Email, c.Active,
		c.CreatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to save council: %w", err)
	}
	return nil
}

func (s *Store) GetCouncil(ctx context.Context, id rates.CouncilID) (*rates.Council, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	councils, err := s.queryCouncils(ctx,
		`SELECT id, name, short_name, email, active, created_at FROM councils WHERE id = ?`, string(id))
	if err != nil {
		return nil, err
	}
	if len(councils) == 0 {
		return nil, nil
	}
	return &councils[0], nil
}

func (s *Store) ListCouncils(ctx context.Context) ([]rates.Council, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryCouncils(ctx,
		`SELECT id, name, short_name, email, active, created_at FROM councils ORDER BY name ASC`)
}

func (s *Store) queryCouncils(ctx context.Context, query string, args ...any) ([]rates.Council, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query councils: %w", err)
	}
	defer rows.Close()

	var result []rates.Council
	for rows.Next() {
		var c rates.Council
		var id, createdAt string
		var shortName, email sql.NullString
		if err := rows.Scan(&id, &c.Name, &shortName, &email, &c.Active, &createdAt); err != nil {
			return nil, err
		}
		c.ID = rates.CouncilID(id)
		c.ShortName = shortName.String
		c.Email = email.String
		c.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		result = append(result, c)
	}
	return result, rows.Err()
}

// =============================================================================
// IMPORT RUNS (rates.RunRecorder interface)
// =============================================================================

// SaveImportRun upserts the run row and replaces its recorded mismatches.
func (s *Store) SaveImportRun(ctx context.Context, run rates.ImportRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var completedAt sql.NullString
	if run.CompletedAt != nil {
		completedAt = sql.NullString{String: run.CompletedAt.UTC().Format(time.RFC3339), Valid: true}
	}
	sum := run.Summary

	query := `
		INSERT INTO import_runs (id, council_id, rating_year, status, row_count, processed, skipped,
			properties_created, properties_matched, bills_created, bills_reconciled, cross_council,
			error, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			row_count = excluded.row_count,
			processed = excluded.processed,
			skipped = excluded.skipped,
			properties_created = excluded.properties_created,
			properties_matched = excluded.properties_matched,
			bills_created = excluded.bills_created,
			bills_reconciled = excluded.bills_reconciled,
			cross_council = excluded.cross_council,
			error = excluded.error,
			completed_at = excluded.completed_at
	`
	if _, err := tx.ExecContext(ctx, query,
		run.ID, string(run.CouncilID), string(run.Period), string(run.Status),
		sum.Rows, sum.Processed, sum.Skipped,
		sum.PropertiesCreated, sum.PropertiesMatched, sum.BillsCreated, sum.BillsReconciled,
		sum.CrossCouncilMatches, nullString(run.Error),
		run.StartedAt.UTC().Format(time.RFC3339), completedAt,
	); err != nil {
		return fmt.Errorf("failed to save import run: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM import_mismatches WHERE run_id = ?`, run.ID); err != nil {
		return fmt.Errorf("failed to clear mismatches: %w", err)
	}
	for _, m := range sum.Mismatches {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO import_mismatches
			(run_id, property_id, valuation_id, rating_year, stored_total, incoming_total, line)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			run.ID, string(m.PropertyID), m.ValuationID, string(m.RatingPeriod),
			m.Stored.Decimal.String(), m.Incoming.Decimal.String(), m.Line,
		); err != nil {
			return fmt.Errorf("failed to save mismatch: %w", err)
		}
	}

	return tx.Commit()
}

// ListImportRuns returns the most recent runs, newest first. An empty
// councilID lists every council.
func (s *Store) ListImportRuns(ctx context.Context, councilID rates.CouncilID, limit int) ([]rates.ImportRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, council_id, rating_year, status, row_count, processed, skipped,
			properties_created, properties_matched, bills_created, bills_reconciled, cross_council,
			error, started_at, completed_at
		FROM import_runs
		WHERE (? = '' OR council_id = ?)
		ORDER BY started_at DESC, id ASC
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, string(councilID), string(councilID), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query import runs: %w", err)
	}

	var runs []rates.ImportRun
	for rows.Next() {
		var r rates.ImportRun
		var council, period, status, startedAt string
		var runErr, completedAt sql.NullString
		sum := &r.Summary
		if err := rows.Scan(&r.ID, &council, &period, &status,
			&sum.Rows, &sum.Processed, &sum.Skipped,
			&sum.PropertiesCreated, &sum.PropertiesMatched, &sum.BillsCreated, &sum.BillsReconciled,
			&sum.CrossCouncilMatches, &runErr, &startedAt, &completedAt); err != nil {
			rows.Close()
			return nil, err
		}
		r.CouncilID = rates.CouncilID(council)
		r.Period = rates.RatingPeriod(period)
		r.Status = rates.RunStatus(status)
		r.Error = runErr.String
		r.StartedAt, _ = time.Parse(time.RFC3339, startedAt)
		if completedAt.Valid {
			t, _ := time.Parse(time.RFC3339, completedAt.String)
			r.CompletedAt = &t
		}
		runs = append(runs, r)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Single connection: mismatches are loaded after the runs cursor is closed.
	for i := range runs {
		mismatches, err := s.loadMismatches(ctx, runs[i].ID)
		if err != nil {
			return nil, err
		}
		runs[i].Summary.Mismatches = mismatches
	}
	return runs, nil
}

func (s *Store) loadMismatches(ctx context.Context, runID string) ([]rates.MismatchError, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT property_id, valuation_id, rating_year, stored_total, incoming_total, line
		FROM import_mismatches WHERE run_id = ? ORDER BY line ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query mismatches: %w", err)
	}
	defer rows.Close()

	var result []rates.MismatchError
	for rows.Next() {
		var m rates.MismatchError
		var propertyID, period, stored, incoming string
		var line sql.NullInt64
		if err := rows.Scan(&propertyID, &m.ValuationID, &period, &stored, &incoming, &line); err != nil {
			return nil, err
		}
		m.PropertyID = rates.PropertyID(propertyID)
		m.RatingPeriod = rates.RatingPeriod(period)
		m.Stored = parseMoney(stored)
		m.Incoming = parseMoney(incoming)
		m.Line = int(line.Int64)
		result = append(result, m)
	}
	return result, rows.Err()
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func parseMoney(s string) rates.Money {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return rates.NewMoney(decimal.Zero)
	}
	return rates.NewMoney(d)
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
