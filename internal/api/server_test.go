package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arb-watch-go/arbitrage"
	"arb-watch-go/fees"
	"arb-watch-go/internal/store"
	"arb-watch-go/market"
	"arb-watch-go/snapshot"
)

func sampleCycle() *snapshot.Cycle {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	table := market.NewPriceTable(at)
	table.Set("a", "X", 100)
	table.Set("b", "X", 102)
	table.Set("c", "X", 99)
	table.Set("a", "Z", 10)
	table.Set("b", "Z", 10.5)
	calc := arbitrage.NewCalculator(fees.New(nil), arbitrage.Options{})
	symbols := []string{"X", "Z"}
	spreads := calc.Spreads(table, symbols)
	return &snapshot.Cycle{
		ID:      "cycle-1",
		Started: at,
		Symbols: symbols,
		Prices:  table,
		Errors:  map[string]string{"d": "timeout"},
		Spreads: spreads,
		Edges:   calc.PairEdges(table, symbols),
		Summary: arbitrage.Summary(spreads, 4),
	}
}

type fakeRunner struct {
	st  *store.Store
	err error
}

func (f *fakeRunner) RunOnce(context.Context) (*snapshot.Cycle, error) {
	if f.err != nil {
		return nil, f.err
	}
	c := sampleCycle()
	c.ID = "manual"
	f.st.Put(c)
	return c, nil
}

func newTestServer(t *testing.T, withCycle bool) (*Server, *store.Store) {
	t.Helper()
	st := store.New(4)
	if withCycle {
		st.Put(sampleCycle())
	}
	kr := 0.0035
	sched := fees.DefaultSchedule()
	sched.Exchanges["kraken"] = fees.VenueFees{RolePair: fees.RolePair{Taker: &kr}}
	srv := NewServer(":0", Deps{
		Store:   st,
		Fees:    fees.New(sched),
		Runner:  &fakeRunner{st: st},
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("arb_cycles_total 1\n")) }),
	})
	return srv, st
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func TestNoCycleReturns503(t *testing.T) {
	srv, _ := newTestServer(t, false)
	for _, path := range []string{"/api/v1/prices", "/api/v1/spreads", "/api/v1/edges", "/api/v1/summary"} {
		rec := get(t, srv.Handler(), path)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code, path)
	}
	rec := get(t, srv.Handler(), "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestPricesAndSpreads(t *testing.T) {
	srv, _ := newTestServer(t, true)

	rec := get(t, srv.Handler(), "/api/v1/prices")
	require.Equal(t, http.StatusOK, rec.Code)
	var prices struct {
		CycleID string `json:"cycleId"`
		Prices  struct {
			Venues []string                      `json:"venues"`
			Prices map[string]map[string]float64 `json:"prices"`
		} `json:"prices"`
		Errors map[string]string `json:"errors"`
	}
	decode(t, rec, &prices)
	assert.Equal(t, "cycle-1", prices.CycleID)
	assert.Equal(t, []string{"a", "b", "c"}, prices.Prices.Venues)
	assert.Equal(t, "timeout", prices.Errors["d"])

	rec = get(t, srv.Handler(), "/api/v1/spreads?top=1")
	require.Equal(t, http.StatusOK, rec.Code)
	var spreads struct {
		Spreads []arbitrage.Result `json:"spreads"`
	}
	decode(t, rec, &spreads)
	require.Len(t, spreads.Spreads, 1)
	assert.Equal(t, "Z", spreads.Spreads[0].Symbol, "Z has the larger gross spread (5%)")

	rec = get(t, srv.Handler(), "/api/v1/spreads?top=abc")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEdgesFilters(t *testing.T) {
	srv, _ := newTestServer(t, true)

	var all struct {
		Edges []arbitrage.PairEdge `json:"edges"`
	}
	decode(t, get(t, srv.Handler(), "/api/v1/edges?symbol=x"), &all)
	assert.Len(t, all.Edges, 6, "3 venues give 6 ordered pairs")

	var best struct {
		Edges []arbitrage.PairEdge `json:"edges"`
	}
	decode(t, get(t, srv.Handler(), "/api/v1/edges?best=true"), &best)
	require.Len(t, best.Edges, 2)
	assert.Equal(t, "c", best.Edges[0].BuyVenue)
	assert.Equal(t, "b", best.Edges[0].SellVenue)
}

func TestSummaryNegotiation(t *testing.T) {
	srv, _ := newTestServer(t, true)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/summary", nil)
	req.Header.Set("Accept", "text/plain")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Body.String(), "Z: 5.00%"), rec.Body.String())

	var js map[string]string
	decode(t, get(t, srv.Handler(), "/api/v1/summary"), &js)
	assert.Contains(t, js["summary"], "X: 3.03%")
}

func TestFeeLookup(t *testing.T) {
	srv, _ := newTestServer(t, true)

	var fr feeResponse
	decode(t, get(t, srv.Handler(), "/api/v1/fees?venue=Kraken&role=taker"), &fr)
	assert.Equal(t, "kraken", fr.Venue)
	assert.InDelta(t, 0.0035, fr.Rate, 1e-12)
	assert.Equal(t, "0.35", fr.Pct)

	decode(t, get(t, srv.Handler(), "/api/v1/fees?venue=unknown"), &fr)
	assert.Equal(t, fees.Taker, fr.Role)
	assert.InDelta(t, 0.002, fr.Rate, 1e-12)

	rec := get(t, srv.Handler(), "/api/v1/fees")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "coinbase")
}

func TestCyclesAndManualRun(t *testing.T) {
	srv, st := newTestServer(t, true)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/cycles", nil))
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, 2, st.Len())

	var infos []cycleInfo
	decode(t, get(t, srv.Handler(), "/api/v1/cycles"), &infos)
	require.Len(t, infos, 2)
	assert.Equal(t, "manual", infos[0].ID)
	assert.Equal(t, 3, infos[0].Venues)
	assert.Equal(t, 2, infos[0].Results)

	srv.deps.Runner = &fakeRunner{st: st, err: errors.New("boom")}
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/cycles", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestMetricsAndNotFound(t *testing.T) {
	srv, _ := newTestServer(t, false)
	rec := get(t, srv.Handler(), "/metrics")
	assert.Contains(t, rec.Body.String(), "arb_cycles_total")

	rec = get(t, srv.Handler(), "/nope")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
