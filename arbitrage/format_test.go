package arbitrage

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSummary(t *testing.T) {
	results := []Result{
		{Symbol: "BTC-USD", GrossPct: 0.1234, Buy: Leg{Venue: "kraken", Price: 43000}, Sell: Leg{Venue: "coinbase", Price: 43053.06}},
		{Symbol: "XRP-USD", GrossPct: 1.5, Buy: Leg{Venue: "bitstamp", Price: 0.612345}, Sell: Leg{Venue: "binance", Price: 0.6215}},
		{Symbol: "ETH-USD", GrossPct: 0.01, Buy: Leg{Venue: "a", Price: 1}, Sell: Leg{Venue: "b", Price: 1}},
	}
	want := "XRP-USD: 1.50% (buy bitstamp @ 0.612345 → sell binance @ 0.621500)\n" +
		"BTC-USD: 0.12% (buy kraken @ 43000.00 → sell coinbase @ 43053.06)"
	assert.Equal(t, want, Summary(results, 2))
	assert.Equal(t, "No reliable spreads.", Summary(nil, 4))
	// 原切片顺序不受影响
	assert.Equal(t, "BTC-USD", results[0].Symbol)
}

func TestFormatUSD(t *testing.T) {
	assert.Equal(t, "$1,234,567.89", FormatUSD("BTC-USD", 1234567.891))
	assert.Equal(t, "-$12.50", FormatUSD("BTC-USD", -12.5))
	assert.Equal(t, "$0.1235", FormatUSD("XRP-USD", 0.12345))
	assert.Equal(t, "$0.00", FormatUSD("BTC-USD", -0.001))
	assert.Equal(t, "$999.00", FormatUSD("BTC-USD", 999))
}

func TestPriceDecimals(t *testing.T) {
	assert.Equal(t, int32(6), PriceDecimals("xrp-usd"))
	assert.Equal(t, int32(2), PriceDecimals("BTC-USD"))
	assert.Equal(t, "0.500000", FormatPrice("XRP-USD", 0.5))
}

func TestFormatNonFinite(t *testing.T) {
	assert.Equal(t, "n/a", FormatPct(math.NaN()))
	assert.Equal(t, "n/a", FormatPrice("BTC-USD", math.Inf(1)))
	assert.Equal(t, "n/a", FormatUSD("BTC-USD", math.Inf(-1)))

	results := []Result{{Symbol: "BTC-USD", GrossPct: math.Inf(1), Buy: Leg{Venue: "a", Price: 1}, Sell: Leg{Venue: "b", Price: math.Inf(1)}}}
	assert.NotPanics(t, func() {
		assert.Equal(t, "BTC-USD: n/a% (buy a @ 1.00 → sell b @ n/a)", Summary(results, 1))
	})
}
