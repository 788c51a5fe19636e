/*
Package factory builds councils and rate-roll extract rows for tests,
demo seeding and the CLI's sample output.

PURPOSE:
  Keeps fixture construction in one place so tests state only the fields
  they care about. Every builder returns a fully populated value with
  deterministic defaults; override fields on the returned struct.

USAGE:
  council := factory.Council()
  row := factory.Row("V001").WithTotals("100.00", "20.00").Fields()

  rows := [][]string{
      factory.Row("V001").Fields(),
      factory.Row("V002").WithTotals("", "").Fields(), // skipped: blank total
  }

SEE ALSO:
  - rates/row.go: The 13-column positional schema these rows follow
*/
package factory

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/warp/rates-engine/rates"
)

var seq atomic.Int64

var cities = []string{"Wellington", "Porirua", "Hutt", "Napier", "Nelson", "Timaru"}

// =============================================================================
// COUNCILS
// =============================================================================

// Council returns an active council with a unique id and short name.
func Council() rates.Council {
	n := seq.Add(1)
	city := cities[int(n)%len(cities)]
	return rates.Council{
		ID:        rates.CouncilID(uuid.NewString()),
		Name:      fmt.Sprintf("%s City Council", city),
		ShortName: fmt.Sprintf("%s%d", city[:3], n),
		Email:     fmt.Sprintf("rates%d@%s.govt.nz", n, strings.ToLower(city)),
		Active:    true,
		CreatedAt: time.Date(2019, time.July, 1, 0, 0, 0, 0, time.UTC),
	}
}

// Scope pairs a council with a rating period.
func Scope(c rates.Council, period string) rates.Scope {
	return rates.Scope{Council: c, Period: rates.RatingPeriod(period)}
}

// =============================================================================
// EXTRACT ROWS
// =============================================================================

// RowSpec is one extract row by column name.
type RowSpec struct {
	ValuationID           string
	RatingYear            string
	Location              string
	Suburb                string
	TownCity              string
	TotalRates            string
	TotalWaterRates       string
	Order                 string
	CouncilOwnerID        string
	Surname               string
	FirstNames            string
	Confidential          string
	CurrentOwnerStartDate string
}

// Row returns a valid row for the given valuation id.
func Row(valuationID string) RowSpec {
	return RowSpec{
		ValuationID:           valuationID,
		RatingYear:            "2019",
		Location:              "123 Main St",
		Suburb:                "Suburb",
		TownCity:              "Town",
		TotalRates:            "100.00",
		TotalWaterRates:       "20.00",
		Order:                 "1",
		CouncilOwnerID:        "OWN-" + valuationID,
		Surname:               "Flintstone",
		FirstNames:            "Fred",
		Confidential:          "N",
		CurrentOwnerStartDate: "2015-01-01",
	}
}

func (r RowSpec) WithTotals(total, water string) RowSpec {
	r.TotalRates = total
	r.TotalWaterRates = water
	return r
}

func (r RowSpec) WithAddress(location, suburb, townCity string) RowSpec {
	r.Location = location
	r.Suburb = suburb
	r.TownCity = townCity
	return r
}

// Fields renders the row in extract column order.
func (r RowSpec) Fields() []string {
	return []string{
		r.ValuationID,
		r.RatingYear,
		r.Location,
		r.Suburb,
		r.TownCity,
		r.TotalRates,
		r.TotalWaterRates,
		r.Order,
		r.CouncilOwnerID,
		r.Surname,
		r.FirstNames,
		r.Confidential,
		r.CurrentOwnerStartDate,
	}
}

// Header is the column header councils put on the first line of an extract.
func Header() []string {
	return []string{
		"Valuation", "Rating Year", "Location", "Suburb", "Town/City",
		"Total Rates", "Total Water Rates", "Order", "Council Owner Id",
		"Surname", "First Names", "Confidential", "Current Owner Start Date",
	}
}

// Extract builds n distinct valid rows, V001..Vnnn.
func Extract(n int) [][]string {
	return ExtractWithPrefix("V", n)
}

// ExtractWithPrefix builds n valid rows whose valuation ids start with prefix.
func ExtractWithPrefix(prefix string, n int) [][]string {
	rows := make([][]string, 0, n)
	for i := 1; i <= n; i++ {
		rows = append(rows, Row(fmt.Sprintf("%s%03d", prefix, i)).Fields())
	}
	return rows
}
