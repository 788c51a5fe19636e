package rates_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/rates-engine/factory"
	"github.com/warp/rates-engine/rates"
)

func TestParseRow_DerivesLocationWithoutQuotes(t *testing.T) {
	row := factory.Row("V001").WithAddress(`123 Main St"`, "Suburb", "Town").Fields()

	parsed, err := rates.ParseRow(1, row)
	require.NoError(t, err)

	assert.Equal(t, "V001", parsed.ValuationID)
	assert.Equal(t, "123 Main St Suburb Town", parsed.Location)
	assert.Equal(t, "Suburb", parsed.Suburb)
	assert.Equal(t, "Town", parsed.TownCity)
	assert.Equal(t, "120.00", parsed.Total().Rounded().String())
	require.NotNil(t, parsed.CurrentOwnerStartDate)
	assert.Equal(t, time.Date(2015, 1, 1, 0, 0, 0, 0, time.UTC), *parsed.CurrentOwnerStartDate)
}

func TestParseRow_TrimsOuterSpaceOnly(t *testing.T) {
	// A blank suburb keeps the interior double space; only the ends are trimmed.
	row := factory.Row("V001").WithAddress(`"7 Beach Rd"`, "", "Napier ").Fields()

	parsed, err := rates.ParseRow(1, row)
	require.NoError(t, err)
	assert.Equal(t, "7 Beach Rd  Napier", parsed.Location)
}

func TestParseRow_BlankTotalIsSkippable(t *testing.T) {
	for _, total := range []string{"", "   ", "\t"} {
		row := factory.Row("V001").WithTotals(total, "20.00").Fields()

		_, err := rates.ParseRow(7, row)

		require.Error(t, err, "total %q", total)
		assert.True(t, rates.IsSkippable(err))
		var skip *rates.SkippableRowError
		require.ErrorAs(t, err, &skip)
		assert.Equal(t, 7, skip.Line)
	}
}

func TestParseRow_ShortRowIsSkipped(t *testing.T) {
	_, err := rates.ParseRow(1, []string{"V001", "2019", "1 Road"})
	assert.True(t, rates.IsSkippable(err))
}

func TestParseRow_PermissiveAmounts(t *testing.T) {
	cases := []struct {
		rates, water string
		want         string
	}{
		{"100.00", "20.00", "120.00"},
		{"100", "", "100.00"},
		{"abc", "5.5", "5.50"},
		{" 12.50 NZD", "0", "12.50"},
		{"-3.25", "1.25", "-2.00"},
		{"0.005", "0", "0.01"},
		{"1,234.50", "20.00", "1254.50"},
		{"1,234,567", "", "1234567.00"},
	}
	for _, tc := range cases {
		row := factory.Row("V001").WithTotals(tc.rates, tc.water).Fields()

		parsed, err := rates.ParseRow(1, row)

		require.NoError(t, err)
		assert.Equal(t, tc.want, parsed.Total().Rounded().String(), "rates=%q water=%q", tc.rates, tc.water)
	}
}

func TestParseRow_OwnerStartDateFormats(t *testing.T) {
	want := time.Date(2015, time.March, 4, 0, 0, 0, 0, time.UTC)
	for _, s := range []string{"2015-03-04", "04/03/2015", "4/3/2015", "04-Mar-2015"} {
		row := factory.Row("V001").Fields()
		row[12] = s

		parsed, err := rates.ParseRow(1, row)

		require.NoError(t, err)
		require.NotNil(t, parsed.CurrentOwnerStartDate, s)
		assert.True(t, want.Equal(*parsed.CurrentOwnerStartDate), s)
	}

	row := factory.Row("V001").Fields()
	row[12] = "sometime"
	parsed, err := rates.ParseRow(1, row)
	require.NoError(t, err)
	assert.Nil(t, parsed.CurrentOwnerStartDate)
}

func TestParseRow_MetaIsStableSerialization(t *testing.T) {
	row := factory.Row("V001").Fields()

	first, err := rates.ParseRow(1, row)
	require.NoError(t, err)
	second, err := rates.ParseRow(2, row)
	require.NoError(t, err)

	assert.Equal(t, first.Meta, second.Meta)
	assert.JSONEq(t, `["V001","2019","123 Main St","Suburb","Town","100.00","20.00","1","OWN-V001","Flintstone","Fred","N","2015-01-01"]`, first.Meta)
}

func TestMoney_RoundsHalfAwayFromZero(t *testing.T) {
	assert.Equal(t, "0.13", rates.MustMoney("0.125").Rounded().String())
	assert.Equal(t, "-0.13", rates.MustMoney("-0.125").Rounded().String())
	assert.True(t, rates.MustMoney("120").EqualCents(rates.MustMoney("119.999")))
	assert.False(t, rates.MustMoney("120").EqualCents(rates.MustMoney("120.01")))
}

func TestCouncilID_Validate(t *testing.T) {
	for _, id := range []rates.CouncilID{"wcc", "demo-wcc", "WCC_2019.v2", "8c6f1f7e-3d8e-4b7a-9a55-0f0c2e7b1c11"} {
		assert.NoError(t, id.Validate(), id)
	}
	assert.ErrorIs(t, rates.CouncilID("").Validate(), rates.ErrCouncilRequired)
	for _, id := range []rates.CouncilID{"../x", "a/b", `a\b`, ".env", "-flag", "has space"} {
		err := id.Validate()
		assert.ErrorIs(t, err, rates.ErrInvalidCouncilID, id)
		assert.True(t, rates.IsClientError(err))
	}
}
