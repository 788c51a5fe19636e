package rates

import "time"

// =============================================================================
// OUTCOME - Result of importing one row
// =============================================================================

// BillResult says what happened to the billing record for a row.
type BillResult string

const (
	BillNone       BillResult = ""           // row skipped before billing
	BillCreated    BillResult = "created"    // no record existed; one was created
	BillReconciled BillResult = "reconciled" // record existed; left unchanged
	BillMismatch   BillResult = "mismatch"   // record existed and differs (detection enabled only)
)

// Outcome is the per-row result of ImportRow.
//
// StoredTotal and IncomingTotal are both populated on every re-sighting,
// rounded to CurrencyPlaces, whether or not mismatch detection is enabled.
type Outcome struct {
	Line            int
	Skipped         bool
	SkipReason      string
	PropertyID      PropertyID
	PropertyCreated bool
	CrossCouncil    bool // matched a property owned by another council
	Bill            BillResult
	BillID          BillID
	StoredTotal     Money
	IncomingTotal   Money
	Mismatch        *MismatchError
}

// =============================================================================
// SUMMARY - Result of an Import batch
// =============================================================================

// Summary aggregates outcomes for one Import run.
type Summary struct {
	Scope               Scope
	Rows                int
	Processed           int
	Skipped             int
	PropertiesCreated   int
	PropertiesMatched   int
	BillsCreated        int
	BillsReconciled     int
	CrossCouncilMatches int
	Mismatches          []MismatchError
	SkippedLines        []int
	Reset               *ResetResult
}

// Add folds one outcome into the summary.
func (s *Summary) Add(o Outcome) {
	s.Rows++
	if o.Skipped {
		s.Skipped++
		s.SkippedLines = append(s.SkippedLines, o.Line)
		return
	}
	s.Processed++
	if o.PropertyCreated {
		s.PropertiesCreated++
	} else {
		s.PropertiesMatched++
	}
	if o.CrossCouncil {
		s.CrossCouncilMatches++
	}
	switch o.Bill {
	case BillCreated:
		s.BillsCreated++
	case BillReconciled:
		s.BillsReconciled++
	case BillMismatch:
		if o.Mismatch != nil {
			s.Mismatches = append(s.Mismatches, *o.Mismatch)
		}
	}
}

// ResetResult counts rows removed by Reset.
type ResetResult struct {
	Bills      int64
	Payers     int64
	Properties int64
}

// =============================================================================
// IMPORT RUN - Persisted history of a batch
// =============================================================================

type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// ImportRun is the audit record of one Import or Refresh.
type ImportRun struct {
	ID          string
	CouncilID   CouncilID
	Period      RatingPeriod
	Status      RunStatus
	Summary     Summary
	Error       string
	StartedAt   time.Time
	CompletedAt *time.Time
}
