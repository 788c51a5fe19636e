package rates

import "context"

// Reset deletes every BillingRecord, RatePayer and Property in scope.
// Dependents go first so no cascading delete is needed. Resetting an empty
// scope is a no-op.
func (i *Importer) Reset(ctx context.Context, scope Scope) (ResetResult, error) {
	if err := scope.Validate(); err != nil {
		return ResetResult{}, err
	}
	unlock := i.opts.Locker.Lock(scope)
	defer unlock()

	var result ResetResult
	err := i.inTx(ctx, func(st Store) error {
		var err error
		result, err = i.reset(ctx, st, scope)
		return err
	})
	if err != nil {
		return ResetResult{}, err
	}
	return result, nil
}

func (i *Importer) reset(ctx context.Context, st Store, scope Scope) (ResetResult, error) {
	var (
		result ResetResult
		err    error
	)
	if result.Bills, err = st.DeleteBills(ctx, scope); err != nil {
		return result, &StorageError{Op: "delete bills", Err: err}
	}
	if result.Payers, err = st.DeletePayers(ctx, scope); err != nil {
		return result, &StorageError{Op: "delete payers", Err: err}
	}
	if result.Properties, err = st.DeleteProperties(ctx, scope); err != nil {
		return result, &StorageError{Op: "delete properties", Err: err}
	}

	i.opts.Logger.Printf("[Reset] %s cleared: bills=%d payers=%d properties=%d",
		scope, result.Bills, result.Payers, result.Properties)
	return result, nil
}
