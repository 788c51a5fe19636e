/*
Package rates provides the rate-roll import and reconciliation engine.

PURPOSE:
  A council supplies an annual rate-roll extract: one row per rateable
  property per rating period. This package turns those rows into a
  deduplicated property catalog and a billing ledger, and provides the
  bulk reset that makes a full re-import idempotent.

KEY CONCEPTS IN THIS FILE (types.go):
  - Council: the tenant boundary. Owned elsewhere, read-only here.
  - RatingPeriod: opaque period token (e.g. "2019").
  - Scope: (Council, RatingPeriod), passed explicitly to every operation.
  - Property: rateable unit, identity (ValuationID, RatingPeriod).
  - BillingRecord: amount owed, identity (PropertyID, RatingPeriod).
  - RatePayer: payer of record, wiped by Reset, populated elsewhere.
  - Money: decimal.Decimal currency value with 2dp rounding.

DESIGN PRINCIPLES:
  1. Precision: totals are decimal.Decimal, never float64
  2. Explicit scope: no ambient council/period state
  3. Storage-enforced identity: unique keys are the real concurrency guard
  4. Audit: every Property keeps the raw extract row it was created from

USAGE:
  imp := rates.NewImporter(store, rates.Options{})
  scope := rates.Scope{Council: council, Period: "2019"}
  summary, err := imp.Refresh(ctx, scope, rows)

SEE ALSO:
  - row.go: extract row parsing
  - importer.go: Import orchestration
  - reconcile.go: billing reconciliation and mismatch detection
  - reset.go: idempotent bulk clear
*/
package rates

import (
	"fmt"
	"regexp"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type CouncilID string
type PropertyID string
type BillID string
type PayerID string

var councilIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,63}$`)

// Validate checks a council id is a plain token, safe in file names and URLs.
func (id CouncilID) Validate() error {
	if id == "" {
		return ErrCouncilRequired
	}
	if !councilIDPattern.MatchString(string(id)) {
		return fmt.Errorf("%w: %q", ErrInvalidCouncilID, string(id))
	}
	return nil
}

// RatingPeriod is the caller-supplied billing cycle token. It is never
// validated beyond being non-empty; the extract's own year column is ignored.
type RatingPeriod string

// =============================================================================
// COUNCIL & SCOPE
// =============================================================================

// Council is a municipal jurisdiction.
type Council struct {
	ID        CouncilID
	Name      string
	ShortName string
	Email     string
	Active    bool
	CreatedAt time.Time
}

// Scope binds an operation to one council and one rating period.
type Scope struct {
	Council Council
	Period  RatingPeriod
}

// Validate reports whether the scope names both a council and a period.
func (s Scope) Validate() error {
	if s.Council.ID == "" {
		return ErrCouncilRequired
	}
	if s.Period == "" {
		return ErrPeriodRequired
	}
	return nil
}

func (s Scope) String() string {
	return fmt.Sprintf("%s/%s", s.Council.ID, s.Period)
}

// =============================================================================
// MONEY
// =============================================================================

// Money is a currency amount. Stored at full precision, compared at 2dp.
type Money struct {
	decimal.Decimal
}

// CurrencyPlaces is the precision used for reconciliation comparisons.
const CurrencyPlaces = 2

func NewMoney(d decimal.Decimal) Money       { return Money{Decimal: d} }
func MoneyFromString(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, err
	}
	return Money{Decimal: d}, nil
}

// MustMoney parses s or panics. Test and fixture use only.
func MustMoney(s string) Money {
	m, err := MoneyFromString(s)
	if err != nil {
		panic(err)
	}
	return m
}

func (m Money) Add(o Money) Money { return Money{Decimal: m.Decimal.Add(o.Decimal)} }

// Rounded returns m rounded to CurrencyPlaces. shopspring rounds half away
// from zero, so 0.125 -> 0.13 and -0.125 -> -0.13.
func (m Money) Rounded() Money { return Money{Decimal: m.Decimal.Round(CurrencyPlaces)} }

// EqualCents compares two amounts after rounding both to CurrencyPlaces.
func (m Money) EqualCents(o Money) bool { return m.Rounded().Decimal.Equal(o.Rounded().Decimal) }

// String renders at full stored precision, but never fewer than 2 places.
func (m Money) String() string {
	if m.Decimal.Exponent() >= -CurrencyPlaces {
		return m.Decimal.StringFixed(CurrencyPlaces)
	}
	return m.Decimal.String()
}

// =============================================================================
// PROPERTY
// =============================================================================

// PropertyKey is the identity of a Property. Council is deliberately absent:
// a valuation id is matched across councils within one period.
type PropertyKey struct {
	ValuationID  string
	RatingPeriod RatingPeriod
}

// Property is a physical rateable unit. Created on first sighting of its key
// during Import, never updated by Import, destroyed only by Reset.
type Property struct {
	ID           PropertyID
	CouncilID    CouncilID
	ValuationID  string
	Location     string
	Suburb       string
	TownCity     string
	RatingPeriod RatingPeriod
	Meta         string // raw extract row, serialized
	CreatedAt    time.Time
}

func (p Property) Key() PropertyKey {
	return PropertyKey{ValuationID: p.ValuationID, RatingPeriod: p.RatingPeriod}
}

// =============================================================================
// BILLING RECORD
// =============================================================================

// BillingRecord is the total owed for a property in a period.
// At most one per (PropertyID, RatingPeriod).
type BillingRecord struct {
	ID                    BillID
	PropertyID            PropertyID
	RatingPeriod          RatingPeriod
	TotalRates            Money // rates + water rates, unrounded
	CurrentOwnerStartDate *time.Time
	CreatedAt             time.Time
}

// =============================================================================
// RATE PAYER
// =============================================================================

// RatePayer is the payer of record for a property. The importer never
// creates these; Reset removes them with the rest of the scope.
type RatePayer struct {
	ID           PayerID
	PropertyID   PropertyID
	RatingPeriod RatingPeriod
	Name         string
	PayerType    string
	CreatedAt    time.Time
}
