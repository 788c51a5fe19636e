/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication, decoupling the
  rates domain types from the external contract. Money is rendered as
  a 2dp string so clients never see float rounding.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/warp/rates-engine/rates"
)

// =============================================================================
// COUNCILS
// =============================================================================

type CouncilDTO struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	ShortName string    `json:"short_name,omitempty"`
	Email     string    `json:"email,omitempty"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type CreateCouncilRequest struct {
	ID        string `json:"id,omitempty"`
	Name      string `json:"name"`
	ShortName string `json:"short_name,omitempty"`
	Email     string `json:"email,omitempty"`
	Active    *bool  `json:"active,omitempty"` // default true
}

func toCouncilDTO(c rates.Council) CouncilDTO {
	return CouncilDTO{
		ID:        string(c.ID),
		Name:      c.Name,
		ShortName: c.ShortName,
		Email:     c.Email,
		Active:    c.Active,
		CreatedAt: c.CreatedAt,
	}
}

// =============================================================================
// CATALOG
// =============================================================================

type PropertyDTO struct {
	ID          string `json:"id"`
	CouncilID   string `json:"council_id"`
	ValuationID string `json:"valuation_id"`
	Location    string `json:"location"`
	Suburb      string `json:"suburb,omitempty"`
	TownCity    string `json:"town_city,omitempty"`
	Period      string `json:"period"`
}

type BillDTO struct {
	ID                    string  `json:"id"`
	PropertyID            string  `json:"property_id"`
	Period                string  `json:"period"`
	TotalRates            string  `json:"total_rates"`
	CurrentOwnerStartDate *string `json:"current_owner_start_date,omitempty"`
}

func toPropertyDTO(p rates.Property) PropertyDTO {
	return PropertyDTO{
		ID:          string(p.ID),
		CouncilID:   string(p.CouncilID),
		ValuationID: p.ValuationID,
		Location:    p.Location,
		Suburb:      p.Suburb,
		TownCity:    p.TownCity,
		Period:      string(p.RatingPeriod),
	}
}

func toBillDTO(b rates.BillingRecord) BillDTO {
	dto := BillDTO{
		ID:         string(b.ID),
		PropertyID: string(b.PropertyID),
		Period:     string(b.RatingPeriod),
		TotalRates: b.TotalRates.Rounded().String(),
	}
	if b.CurrentOwnerStartDate != nil {
		s := b.CurrentOwnerStartDate.Format("2006-01-02")
		dto.CurrentOwnerStartDate = &s
	}
	return dto
}

// =============================================================================
// IMPORTS
// =============================================================================

type MismatchDTO struct {
	PropertyID  string `json:"property_id"`
	ValuationID string `json:"valuation_id"`
	Period      string `json:"period"`
	Stored      string `json:"stored"`
	Incoming    string `json:"incoming"`
	Line        int    `json:"line"`
}

type ResetDTO struct {
	Bills      int64 `json:"bills"`
	Payers     int64 `json:"payers"`
	Properties int64 `json:"properties"`
}

// SummaryDTO is the response of an import or refresh.
type SummaryDTO struct {
	CouncilID           string        `json:"council_id"`
	Period              string        `json:"period"`
	Rows                int           `json:"rows"`
	Processed           int           `json:"processed"`
	Skipped             int           `json:"skipped"`
	SkippedLines        []int         `json:"skipped_lines,omitempty"`
	PropertiesCreated   int           `json:"properties_created"`
	PropertiesMatched   int           `json:"properties_matched"`
	BillsCreated        int           `json:"bills_created"`
	BillsReconciled     int           `json:"bills_reconciled"`
	CrossCouncilMatches int           `json:"cross_council_matches"`
	Mismatches          []MismatchDTO `json:"mismatches"`
	Reset               *ResetDTO     `json:"reset,omitempty"`
}

func toResetDTO(r rates.ResetResult) ResetDTO {
	return ResetDTO{Bills: r.Bills, Payers: r.Payers, Properties: r.Properties}
}

func toSummaryDTO(s rates.Summary) SummaryDTO {
	dto := SummaryDTO{
		CouncilID:           string(s.Scope.Council.ID),
		Period:              string(s.Scope.Period),
		Rows:                s.Rows,
		Processed:           s.Processed,
		Skipped:             s.Skipped,
		SkippedLines:        s.SkippedLines,
		PropertiesCreated:   s.PropertiesCreated,
		PropertiesMatched:   s.PropertiesMatched,
		BillsCreated:        s.BillsCreated,
		BillsReconciled:     s.BillsReconciled,
		CrossCouncilMatches: s.CrossCouncilMatches,
		Mismatches:          make([]MismatchDTO, 0, len(s.Mismatches)),
	}
	for _, m := range s.Mismatches {
		dto.Mismatches = append(dto.Mismatches, MismatchDTO{
			PropertyID:  string(m.PropertyID),
			ValuationID: m.ValuationID,
			Period:      string(m.RatingPeriod),
			Stored:      m.Stored.String(),
			Incoming:    m.Incoming.String(),
			Line:        m.Line,
		})
	}
	if s.Reset != nil {
		r := toResetDTO(*s.Reset)
		dto.Reset = &r
	}
	return dto
}

// ImportRunDTO is one entry of the import history.
type ImportRunDTO struct {
	ID          string     `json:"id"`
	CouncilID   string     `json:"council_id"`
	Period      string     `json:"period"`
	Status      string     `json:"status"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Summary     SummaryDTO `json:"summary"`
}

func toImportRunDTO(r rates.ImportRun) ImportRunDTO {
	sum := toSummaryDTO(r.Summary)
	sum.CouncilID = string(r.CouncilID)
	sum.Period = string(r.Period)
	return ImportRunDTO{
		ID:          r.ID,
		CouncilID:   string(r.CouncilID),
		Period:      string(r.Period),
		Status:      string(r.Status),
		Error:       r.Error,
		StartedAt:   r.StartedAt,
		CompletedAt: r.CompletedAt,
		Summary:     sum,
	}
}

// QueuedDTO is returned when a refresh was handed to the worker.
type QueuedDTO struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
