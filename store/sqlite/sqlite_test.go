package sqlite_test

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/rates-engine/factory"
	"github.com/warp/rates-engine/rates"
	"github.com/warp/rates-engine/store/sqlite"
)

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	st, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func property(id, council, valuation, period string) rates.Property {
	return rates.Property{
		ID:           rates.PropertyID(id),
		CouncilID:    rates.CouncilID(council),
		ValuationID:  valuation,
		Location:     "1 Quay St",
		RatingPeriod: rates.RatingPeriod(period),
		Meta:         `["` + valuation + `"]`,
		CreatedAt:    time.Now(),
	}
}

func bill(id, propertyID, period, total string) rates.BillingRecord {
	return rates.BillingRecord{
		ID:           rates.BillID(id),
		PropertyID:   rates.PropertyID(propertyID),
		RatingPeriod: rates.RatingPeriod(period),
		TotalRates:   rates.MustMoney(total),
		CreatedAt:    time.Now(),
	}
}

// =============================================================================
// IDENTITY
// =============================================================================

func TestSQLite_PropertyIdentityIsUnique(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)

	require.NoError(t, st.CreateProperty(ctx, property("p1", "c1", "V001", "2019")))

	// Same key, different council and id: still a duplicate.
	err := st.CreateProperty(ctx, property("p2", "c2", "V001", "2019"))
	assert.ErrorIs(t, err, rates.ErrDuplicateProperty)
	assert.True(t, rates.IsConstraintViolation(err))

	// Different period is a different property.
	require.NoError(t, st.CreateProperty(ctx, property("p3", "c1", "V001", "2020")))

	found, err := st.FindProperty(ctx, rates.PropertyKey{ValuationID: "V001", RatingPeriod: "2019"})
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, rates.PropertyID("p1"), found.ID)
	assert.Equal(t, `["V001"]`, found.Meta)

	missing, err := st.FindProperty(ctx, rates.PropertyKey{ValuationID: "V999", RatingPeriod: "2019"})
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSQLite_BillIdentityIsUnique(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	require.NoError(t, st.CreateProperty(ctx, property("p1", "c1", "V001", "2019")))

	b := bill("b1", "p1", "2019", "120.004")
	owner := time.Date(2015, 1, 1, 0, 0, 0, 0, time.UTC)
	b.CurrentOwnerStartDate = &owner
	require.NoError(t, st.CreateBill(ctx, b))

	err := st.CreateBill(ctx, bill("b2", "p1", "2019", "99"))
	assert.ErrorIs(t, err, rates.ErrDuplicateBill)

	found, err := st.FindBill(ctx, "p1", "2019")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "120.004", found.TotalRates.Decimal.String(), "stored unrounded")
	require.NotNil(t, found.CurrentOwnerStartDate)
	assert.True(t, owner.Equal(*found.CurrentOwnerStartDate))

	none, err := st.FindBill(ctx, "p1", "2020")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestSQLite_BillRequiresProperty(t *testing.T) {
	err := newStore(t).CreateBill(context.Background(), bill("b1", "ghost", "2019", "1"))
	require.Error(t, err)
	assert.False(t, errors.Is(err, rates.ErrDuplicateBill))
}

// =============================================================================
// SCOPED DELETES
// =============================================================================

func TestSQLite_ScopedDeletesLeaveOtherScopes(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)

	require.NoError(t, st.CreateProperty(ctx, property("a19", "A", "V001", "2019")))
	require.NoError(t, st.CreateProperty(ctx, property("a20", "A", "V001", "2020")))
	require.NoError(t, st.CreateProperty(ctx, property("b19", "B", "V002", "2019")))
	for _, id := range []string{"a19", "a20", "b19"} {
		period := "2019"
		if id == "a20" {
			period = "2020"
		}
		require.NoError(t, st.CreateBill(ctx, bill("bill-"+id, id, period, "10")))
		require.NoError(t, st.SavePayer(ctx, rates.RatePayer{
			ID: rates.PayerID("payer-" + id), PropertyID: rates.PropertyID(id),
			RatingPeriod: rates.RatingPeriod(period), Name: "Owner",
		}))
	}

	scope := rates.Scope{Council: rates.Council{ID: "A"}, Period: "2019"}

	// Properties can't go first while dependents reference them.
	_, err := st.DeleteProperties(ctx, scope)
	require.Error(t, err)

	n, err := st.DeleteBills(ctx, scope)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	n, err = st.DeletePayers(ctx, scope)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	n, err = st.DeleteProperties(ctx, scope)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	a20, err := st.ListBills(ctx, rates.Scope{Council: rates.Council{ID: "A"}, Period: "2020"})
	require.NoError(t, err)
	assert.Len(t, a20, 1)
	b19, err := st.ListPayers(ctx, rates.Scope{Council: rates.Council{ID: "B"}, Period: "2019"})
	require.NoError(t, err)
	assert.Len(t, b19, 1)
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func TestSQLite_WithTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	boom := errors.New("boom")

	err := st.WithTx(ctx, func(tx rates.Store) error {
		require.NoError(t, tx.CreateProperty(ctx, property("p1", "c1", "V001", "2019")))
		require.NoError(t, tx.CreateBill(ctx, bill("b1", "p1", "2019", "1")))

		seen, err := tx.FindProperty(ctx, rates.PropertyKey{ValuationID: "V001", RatingPeriod: "2019"})
		require.NoError(t, err)
		require.NotNil(t, seen, "writes are visible inside the transaction")
		return boom
	})
	assert.ErrorIs(t, err, boom)

	found, err := st.FindProperty(ctx, rates.PropertyKey{ValuationID: "V001", RatingPeriod: "2019"})
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestSQLite_AtomicRefreshEndToEnd(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	imp := rates.NewImporter(st, rates.Options{Atomic: true, DetectMismatches: true, Logger: log.New(io.Discard, "", 0)})

	council := factory.Council()
	require.NoError(t, st.SaveCouncil(ctx, council))
	scope := factory.Scope(council, "2019")

	rows := append(factory.Extract(3),
		factory.Row("V002").WithTotals("50", "0").Fields(),
		factory.Row("V004").WithTotals("", "").Fields(),
	)

	for run := 0; run < 2; run++ {
		summary, err := imp.Refresh(ctx, scope, rates.Rows(rows))
		require.NoError(t, err)
		assert.Equal(t, 3, summary.BillsCreated)
		assert.Len(t, summary.Mismatches, 1)
	}

	bills, err := st.ListBills(ctx, scope)
	require.NoError(t, err)
	require.Len(t, bills, 3)
	for _, b := range bills {
		assert.Equal(t, "120.00", b.TotalRates.Rounded().String())
	}

	runs, err := st.ListImportRuns(ctx, council.ID, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	for _, r := range runs {
		assert.Equal(t, rates.RunCompleted, r.Status)
		assert.Equal(t, 5, r.Summary.Rows)
		assert.Equal(t, 1, r.Summary.Skipped)
		require.Len(t, r.Summary.Mismatches, 1)
		assert.Equal(t, "V002", r.Summary.Mismatches[0].ValuationID)
		assert.Equal(t, "50.00", r.Summary.Mismatches[0].Incoming.String())
		assert.NotNil(t, r.CompletedAt)
	}
}

// =============================================================================
// COUNCILS & RUNS
// =============================================================================

func TestSQLite_Councils(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)

	c := factory.Council()
	require.NoError(t, st.SaveCouncil(ctx, c))

	c.Active = false
	c.Email = "new@example.govt.nz"
	require.NoError(t, st.SaveCouncil(ctx, c))

	got, err := st.GetCouncil(ctx, c.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, c.Name, got.Name)
	assert.False(t, got.Active)
	assert.Equal(t, "new@example.govt.nz", got.Email)

	all, err := st.ListCouncils(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	missing, err := st.GetCouncil(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSQLite_ImportRunsFailedRunKeepsError(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	started := time.Date(2019, 7, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, st.SaveImportRun(ctx, rates.ImportRun{
		ID: "r1", CouncilID: "c1", Period: "2019", Status: rates.RunRunning, StartedAt: started,
	}))
	require.NoError(t, st.SaveImportRun(ctx, rates.ImportRun{
		ID: "r1", CouncilID: "c1", Period: "2019", Status: rates.RunFailed,
		Error: "create bill (row 2): disk full", StartedAt: started,
		Summary: rates.Summary{Rows: 1, Processed: 1, BillsCreated: 1},
	}))
	require.NoError(t, st.SaveImportRun(ctx, rates.ImportRun{
		ID: "r2", CouncilID: "c2", Period: "2019", Status: rates.RunCompleted, StartedAt: started.Add(time.Hour),
	}))

	runs, err := st.ListImportRuns(ctx, "c1", 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, rates.RunFailed, runs[0].Status)
	assert.Equal(t, "create bill (row 2): disk full", runs[0].Error)
	assert.Equal(t, 1, runs[0].Summary.BillsCreated)
	assert.Nil(t, runs[0].CompletedAt)

	all, err := st.ListImportRuns(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "r2", all[0].ID, "newest first")
}
