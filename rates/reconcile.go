package rates

import (
	"context"
	"errors"
)

// reconcileBill ensures exactly one BillingRecord exists for the property in
// scope.Period and fills the billing half of outcome.
//
// A missing record is created with rates + water, summed before rounding.
// An existing record is never updated: both totals are rounded to 2dp and,
// when DetectMismatches is set, a difference is reported as BillMismatch.
// With detection off the comparison is still computed but always reconciles.
func (i *Importer) reconcileBill(ctx context.Context, st Store, scope Scope, property *Property, row ParsedRow, outcome *Outcome) error {
	incoming := row.Total()

	bill, err := st.FindBill(ctx, property.ID, scope.Period)
	if err != nil {
		return &StorageError{Op: "find bill", Line: row.Line, Err: err}
	}

	if bill == nil {
		created := BillingRecord{
			ID:                    BillID(i.opts.NewID()),
			PropertyID:            property.ID,
			RatingPeriod:          scope.Period,
			TotalRates:            incoming,
			CurrentOwnerStartDate: row.CurrentOwnerStartDate,
			CreatedAt:             i.opts.Clock().UTC(),
		}
		err := st.CreateBill(ctx, created)
		switch {
		case err == nil:
			outcome.Bill = BillCreated
			outcome.BillID = created.ID
			outcome.IncomingTotal = incoming.Rounded()
			return nil
		case errors.Is(err, ErrDuplicateBill):
			bill, err = st.FindBill(ctx, property.ID, scope.Period)
			if err != nil {
				return &StorageError{Op: "find bill", Line: row.Line, Err: err}
			}
			if bill == nil {
				return &StorageError{Op: "create bill", Line: row.Line, Err: ErrDuplicateBill}
			}
		default:
			return &StorageError{Op: "create bill", Line: row.Line, Err: err}
		}
	}

	current := bill.TotalRates.Rounded()
	next := incoming.Rounded()
	outcome.BillID = bill.ID
	outcome.StoredTotal = current
	outcome.IncomingTotal = next

	if i.opts.DetectMismatches && !current.Decimal.Equal(next.Decimal) {
		outcome.Bill = BillMismatch
		outcome.Mismatch = &MismatchError{
			PropertyID:   property.ID,
			ValuationID:  property.ValuationID,
			RatingPeriod: scope.Period,
			Stored:       current,
			Incoming:     next,
			Line:         row.Line,
		}
		i.opts.Logger.Printf("[Import] %v", outcome.Mismatch)
		return nil
	}

	outcome.Bill = BillReconciled
	return nil
}
