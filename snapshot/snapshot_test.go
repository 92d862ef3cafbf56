package snapshot

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arb-watch-go/arbitrage"
	"arb-watch-go/market"
)

func sampleCycle(t *testing.T) *Cycle {
	t.Helper()
	tbl := market.NewPriceTable(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	tbl.Set("kraken", "BTC-USD", 100)
	tbl.Set("coinbase", "BTC-USD", 102)
	tbl.Set("bitstamp", "BTC-USD", 99)
	tbl.Set("kraken", "XRP-USD", 0.5)
	calc := arbitrage.NewCalculator(nil, arbitrage.Options{})
	symbols := []string{"BTC-USD", "XRP-USD"}
	spreads := calc.Spreads(tbl, symbols)
	return &Cycle{
		ID:       "0b7e2f0e-7f55-4f0a-9d8e-1a2b3c4d5e6f",
		Started:  tbl.Time(),
		Duration: 150 * time.Millisecond,
		Symbols:  symbols,
		Prices:   tbl,
		Errors:   map[string]string{"bitfinex": "timeout"},
		Spreads:  spreads,
		Edges:    calc.PairEdges(tbl, symbols),
		Summary:  arbitrage.Summary(spreads, 4),
	}
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestCSVSinkAppendsWithSingleHeader(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")
	sink := NewCSVSink(dir)
	c := sampleCycle(t)

	require.NoError(t, sink.Write(context.Background(), c))
	require.NoError(t, sink.Write(context.Background(), c))

	rows := readCSV(t, filepath.Join(dir, SymSummaryFile))
	require.Len(t, rows, 3)
	assert.Equal(t, symSummaryHeader, rows[0])
	assert.Equal(t, []string{"2024-05-01T12:00:00Z", c.ID, "BTC-USD", "bitstamp", "99", "coinbase", "102"}, rows[1][:7])

	edges := readCSV(t, filepath.Join(dir, BestEdgesFile))
	require.Len(t, edges, 3)
	assert.Equal(t, "bitstamp", edges[1][3])
	assert.Equal(t, "coinbase", edges[1][5])
}

func TestCSVSinkSkipsEmptyCycle(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, NewCSVSink(dir).Write(context.Background(), &Cycle{ID: "x", Prices: market.NewPriceTable(time.Now())}))
	_, err := os.Stat(filepath.Join(dir, SymSummaryFile))
	assert.True(t, os.IsNotExist(err))
}

func TestJSONSinkOverwrites(t *testing.T) {
	dir := t.TempDir()
	sink := NewJSONSink(dir)
	c := sampleCycle(t)
	require.NoError(t, sink.Write(context.Background(), c))

	raw, err := os.ReadFile(filepath.Join(dir, LastPricesFile))
	require.NoError(t, err)
	var prices market.PriceTable
	require.NoError(t, json.Unmarshal(raw, &prices))
	assert.Equal(t, []string{"kraken", "coinbase", "bitstamp"}, prices.Venues())

	c.Summary = "second"
	require.NoError(t, sink.Write(context.Background(), c))
	raw, err = os.ReadFile(filepath.Join(dir, LastTablesFile))
	require.NoError(t, err)
	var tables map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &tables))
	assert.Equal(t, "second", tables["summary"])
	assert.Equal(t, c.ID, tables["cycleId"])

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

type stubSink struct {
	name  string
	err   error
	calls int
}

func (s *stubSink) Name() string { return s.name }
func (s *stubSink) Write(context.Context, *Cycle) error {
	s.calls++
	return s.err
}

func TestMultiContinuesPastFailures(t *testing.T) {
	bad := &stubSink{name: "bad", err: errors.New("disk full")}
	good := &stubSink{name: "good"}
	var reported []string
	m := NewMulti(func(sink string, err error) { reported = append(reported, sink) }, bad, good)

	err := m.Write(context.Background(), sampleCycle(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad: disk full")
	assert.Equal(t, 1, good.calls)
	assert.Equal(t, []string{"bad"}, reported)
	assert.Equal(t, 2, m.Len())
	assert.NoError(t, m.Close())
}

func TestCycleJSONRoundTrip(t *testing.T) {
	c := sampleCycle(t)
	raw, err := json.Marshal(c)
	require.NoError(t, err)
	var back Cycle
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, c.ID, back.ID)
	assert.Equal(t, c.Spreads, back.Spreads)
	assert.Equal(t, c.Prices.Venues(), back.Prices.Venues())
	assert.Equal(t, c.Duration, back.Duration)
}
