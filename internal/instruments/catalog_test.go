package instruments

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleDataset = `instrument_token,exchange_token,tradingsymbol,name,last_price,expiry,strike,tick_size,lot_size,instrument_type,segment,exchange
408065,1594,INFY,"INFOSYS",0,,,0.05,1,EQ,NSE,NSE
11262722,44011,NIFTY24JUN22500CE,NIFTY,0,2024-06-27,22500,0.05,25,CE,NFO-OPT,NFO
11262978,44012,NIFTY24JUN22500PE,NIFTY,0,2024-06-27,22500,0.05,25,PE,NFO-OPT,NFO
11263234,44013,NIFTY24JUN22600CE,NIFTY,0,2024-06-27,22600,0.05,25,CE,NFO-OPT,NFO
`

func mustParse(t *testing.T, data string) *Catalog {
	t.Helper()
	c, err := Parse([]byte(data))
	require.NoError(t, err)
	return c
}

func TestParse_MapsColumnsPositionally(t *testing.T) {
	c := mustParse(t, sampleDataset)

	rows := c.Rows()
	require.Len(t, rows, 5) // 4 data rows + trailing blank line

	infy := rows[0]
	assert.Equal(t, "INFY", infy.TradingSymbol)
	assert.Equal(t, "INFOSYS", infy.Name, "double quotes are stripped before splitting")
	assert.Equal(t, "NSE", infy.Exchange)
	assert.Equal(t, "EQ", infy.InstrumentType)
	assert.Empty(t, infy.Expiry)
	assert.False(t, infy.HasStrike, "empty strike text stays absent")
	assert.True(t, infy.HasLotSize)
	assert.Equal(t, 1.0, infy.LotSize)

	ce := rows[1]
	assert.True(t, ce.HasStrike)
	assert.Equal(t, 22500.0, ce.Strike)
	assert.Equal(t, "2024-06-27", ce.Expiry)
	assert.Equal(t, "NFO-OPT", ce.Segment)
	// Pass-through columns survive in the side table.
	assert.Equal(t, "11262722", ce.Fields["instrument_token"])
	assert.Equal(t, "0.05", ce.Fields["tick_size"])
}

func TestParse_ShortRowsLeaveTrailingFieldsAbsent(t *testing.T) {
	c := mustParse(t, "tradingsymbol,exchange,name\nINFY,NSE\n")

	rows := c.Rows()
	require.Len(t, rows, 1)
	assert.Equal(t, "INFY", rows[0].TradingSymbol)
	assert.Equal(t, "NSE", rows[0].Exchange)
	_, ok := rows[0].Fields["name"]
	assert.False(t, ok, "columns past the row's end are absent, not empty")
}

func TestParse_BlankTrailingLinesAreToleratedRecords(t *testing.T) {
	c := mustParse(t, "tradingsymbol,exchange\nINFY,NSE\n\n\n")

	require.Equal(t, 3, c.Len())
	degenerate := c.Rows()[1]
	assert.Empty(t, degenerate.TradingSymbol)
	assert.Empty(t, degenerate.Exchange)
}

func TestParse_EmptyDatasetFails(t *testing.T) {
	_, err := Parse(nil)
	assert.Error(t, err)
}

func TestFind_AllWildcardsReturnsFullCatalog(t *testing.T) {
	c := mustParse(t, sampleDataset)

	res, err := c.Find(map[string]string{})
	require.NoError(t, err)
	require.Nil(t, res.One)
	assert.Len(t, res.Many, c.Len(), "empty criteria never reduce the catalog")

	// Empty-valued criteria are wildcards too.
	res, err = c.Find(map[string]string{"exchange": "", "name": ""})
	require.NoError(t, err)
	assert.Len(t, res.Many, c.Len())
}

func TestFind_CardinalityLaw(t *testing.T) {
	c := mustParse(t, sampleDataset)

	// Exactly one match: single-record shape.
	res, err := c.Find(map[string]string{"tradingsymbol": "INFY"})
	require.NoError(t, err)
	require.NotNil(t, res.One)
	assert.Nil(t, res.Many)
	assert.Equal(t, "INFY", res.One.TradingSymbol)

	// Multiple matches: ordered sequence in catalog order.
	res, err = c.Find(map[string]string{"name": "NIFTY", "instrument_type": "CE"})
	require.NoError(t, err)
	require.Nil(t, res.One)
	require.Len(t, res.Many, 2)
	assert.Equal(t, "NIFTY24JUN22500CE", res.Many[0].TradingSymbol)
	assert.Equal(t, "NIFTY24JUN22600CE", res.Many[1].TradingSymbol)

	// Zero matches: not-found signal.
	_, err = c.Find(map[string]string{"tradingsymbol": "NOPE"})
	assert.True(t, errors.Is(err, ErrNoMatch))
}

func TestFind_StrikeCriteriaCompareNumerically(t *testing.T) {
	c := mustParse(t, sampleDataset)

	res, err := c.Find(map[string]string{"strike": "22500.0", "instrument_type": "CE"})
	require.NoError(t, err)
	require.NotNil(t, res.One)
	assert.Equal(t, "NIFTY24JUN22500CE", res.One.TradingSymbol)
}

func TestFind_LotSizeCriteriaCompareAsText(t *testing.T) {
	c := mustParse(t, sampleDataset)

	// "25.0" does not equal the raw text "25"; lot_size is never coerced
	// for matching, unlike strike.
	_, err := c.Find(map[string]string{"lot_size": "25.0"})
	assert.True(t, errors.Is(err, ErrNoMatch))

	res, err := c.Find(map[string]string{"lot_size": "25", "instrument_type": "PE"})
	require.NoError(t, err)
	require.NotNil(t, res.One)
	assert.Equal(t, "NIFTY24JUN22500PE", res.One.TradingSymbol)
}

func TestFind_CriterionOnAbsentFieldNeverMatches(t *testing.T) {
	c := mustParse(t, "tradingsymbol,exchange,name\nINFY,NSE\n")

	_, err := c.Find(map[string]string{"name": "INFY"})
	assert.True(t, errors.Is(err, ErrNoMatch))
}
