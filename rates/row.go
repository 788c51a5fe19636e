package rates

import (
	"encoding/json"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// EXTRACT ROW SCHEMA - 13 positional fields, order significant
// =============================================================================

const (
	colValuationID = iota
	colRatingYear  // ignored: the caller's period is authoritative
	colLocation
	colSuburb
	colTownCity
	colTotalRates
	colTotalWaterRates
	colOrder          // ignored
	colCouncilOwnerID // ignored
	colSurname        // ignored
	colFirstNames     // ignored
	colConfidential   // ignored
	colCurrentOwnerStartDate

	// RowWidth is the number of fields in a full extract row. Shorter rows
	// are accepted; missing trailing fields read as blank.
	RowWidth
)

// OwnerStartDateColumn is the position of the current-owner start date.
const OwnerStartDateColumn = colCurrentOwnerStartDate

// ParsedRow is one normalized extract row.
type ParsedRow struct {
	Line                  int
	ValuationID           string
	Location              string
	Suburb                string
	TownCity              string
	TotalRates            Money
	TotalWaterRates       Money
	CurrentOwnerStartDate *time.Time
	Meta                  string
}

// Total is rates plus water rates, unrounded.
func (r ParsedRow) Total() Money {
	return r.TotalRates.Add(r.TotalWaterRates)
}

// ParseRow normalizes a raw extract row. A blank total-rates field yields a
// *SkippableRowError; nothing else in the row can fail parsing.
func ParseRow(line int, row []string) (ParsedRow, error) {
	totalRates := field(row, colTotalRates)
	if strings.TrimSpace(totalRates) == "" {
		return ParsedRow{}, &SkippableRowError{Line: line, Reason: "blank total rates"}
	}

	suburb := field(row, colSuburb)
	townCity := field(row, colTownCity)

	return ParsedRow{
		Line:                  line,
		ValuationID:           field(row, colValuationID),
		Location:              deriveLocation(field(row, colLocation), suburb, townCity),
		Suburb:                suburb,
		TownCity:              townCity,
		TotalRates:            parseAmount(totalRates),
		TotalWaterRates:       parseAmount(field(row, colTotalWaterRates)),
		CurrentOwnerStartDate: parseDate(field(row, colCurrentOwnerStartDate)),
		Meta:                  serializeRow(row),
	}, nil
}

func field(row []string, i int) string {
	if i < len(row) {
		return row[i]
	}
	return ""
}

// deriveLocation joins location, suburb and town with single spaces after
// stripping literal double quotes from the location, then trims the ends.
// Interior spacing is left alone, so a blank suburb leaves a double space.
func deriveLocation(location, suburb, townCity string) string {
	location = strings.ReplaceAll(location, `"`, "")
	return strings.TrimSpace(location + " " + suburb + " " + townCity)
}

var leadingNumber = regexp.MustCompile(`^[+-]?(\d+(\.\d+)?|\.\d+)`)

// parseAmount is permissive: blank or non-numeric input is zero, and a
// numeric prefix ("12.50 NZD") is kept. Digit-group commas are dropped.
func parseAmount(s string) Money {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" {
		return Money{Decimal: decimal.Zero}
	}
	if d, err := decimal.NewFromString(s); err == nil {
		return Money{Decimal: d}
	}
	prefix := leadingNumber.FindString(s)
	if prefix == "" {
		return Money{Decimal: decimal.Zero}
	}
	d, err := decimal.NewFromString(prefix)
	if err != nil {
		return Money{Decimal: decimal.Zero}
	}
	return Money{Decimal: d}
}

var ownerDateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	"02/01/2006",
	"2/1/2006",
	"02-Jan-2006",
	"2 January 2006",
}

// parseDate accepts ISO and day-first dates. Anything else is nil.
func parseDate(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range ownerDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}

// serializeRow renders the raw row as a JSON array for the audit field.
func serializeRow(row []string) string {
	if row == nil {
		row = []string{}
	}
	b, err := json.Marshal(row)
	if err != nil {
		return ""
	}
	return string(b)
}
