package snapshot

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

const (
	SymSummaryFile = "sym_summary.csv"
	BestEdgesFile  = "best_edges.csv"
	LastPricesFile = "last_prices.json"
	LastTablesFile = "last_tables.json"
)

var symSummaryHeader = []string{
	"ts", "cycle_id", "symbol", "min_ex", "min_price", "max_ex", "max_price",
	"spread_abs", "spread_pct", "net_spread", "net_pct", "net_usd", "fees_included",
}

var bestEdgesHeader = []string{
	"ts", "cycle_id", "symbol", "buy_ex", "buy", "sell_ex", "sell",
	"edge_pct", "notional", "gross_usd", "buy_fee_usd", "sell_fee_usd", "withdraw_usd", "net_usd", "net_pct",
}

// CSVSink 追加写入历史 CSV；单写者，多次调用串行化。
type CSVSink struct {
	dir string
	mu  sync.Mutex
}

func NewCSVSink(dir string) *CSVSink { return &CSVSink{dir: dir} }

func (s *CSVSink) Name() string { return "csv" }

func (s *CSVSink) Write(_ context.Context, c *Cycle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("ensure dir: %w", err)
	}
	ts := c.Started.UTC().Format(time.RFC3339)
	if err := appendCSV(filepath.Join(s.dir, SymSummaryFile), symSummaryHeader, c.summaryRows()); err != nil {
		return err
	}

	best := c.BestEdges()
	edges := make([][]string, 0, len(best))
	for _, e := range best {
		edges = append(edges, []string{
			ts, c.ID, e.Symbol,
			e.BuyVenue, ff(e.BuyPrice), e.SellVenue, ff(e.SellPrice),
			ff(e.EdgePct), ff(e.Notional), ff(e.GrossUSD),
			ff(e.BuyFeeUSD), ff(e.SellFeeUSD), ff(e.WithdrawUSD), ff(e.NetUSD), ff(e.NetPct),
		})
	}
	return appendCSV(filepath.Join(s.dir, BestEdgesFile), bestEdgesHeader, edges)
}

func (c *Cycle) summaryRows() [][]string {
	ts := c.Started.UTC().Format(time.RFC3339)
	rows := make([][]string, 0, len(c.Spreads))
	for _, r := range c.Spreads {
		rows = append(rows, []string{
			ts, c.ID, r.Symbol,
			r.Buy.Venue, ff(r.Buy.Price), r.Sell.Venue, ff(r.Sell.Price),
			ff(r.Gross), ff(r.GrossPct), ff(r.Net), ff(r.NetPct), ff(r.NetDollars),
			strconv.FormatBool(r.FeesOn),
		})
	}
	return rows
}

// SummaryCSV 本轮 sym_summary 的完整 CSV（含表头），用作报告附件。
func (c *Cycle) SummaryCSV() ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(symSummaryHeader); err != nil {
		return nil, err
	}
	if err := w.WriteAll(c.summaryRows()); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func ff(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }

// appendCSV 文件不存在或为空时先写表头。
func appendCSV(path string, header []string, rows [][]string) error {
	if len(rows) == 0 {
		return nil
	}
	needHeader := true
	if st, err := os.Stat(path); err == nil && st.Size() > 0 {
		needHeader = false
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	w := csv.NewWriter(f)
	if needHeader {
		if err := w.Write(header); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
	}
	if err := w.WriteAll(rows); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// JSONSink 覆盖写入最近一轮的价格与结果，先写临时文件再 rename。
type JSONSink struct {
	dir string
}

func NewJSONSink(dir string) *JSONSink { return &JSONSink{dir: dir} }

func (s *JSONSink) Name() string { return "json" }

type lastTables struct {
	CycleID string      `json:"cycleId"`
	Time    time.Time   `json:"time"`
	Spreads interface{} `json:"spreads"`
	Edges   interface{} `json:"edges"`
	Errors  interface{} `json:"errors,omitempty"`
	Summary string      `json:"summary"`
}

func (s *JSONSink) Write(_ context.Context, c *Cycle) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("ensure dir: %w", err)
	}
	if err := writeJSONAtomic(filepath.Join(s.dir, LastPricesFile), c.Prices); err != nil {
		return err
	}
	return writeJSONAtomic(filepath.Join(s.dir, LastTablesFile), lastTables{
		CycleID: c.ID,
		Time:    c.Started,
		Spreads: c.Spreads,
		Edges:   c.Edges,
		Errors:  c.Errors,
		Summary: c.Summary,
	})
}

func writeJSONAtomic(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}
