package snapshot

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// PostgresSink 每轮每个 symbol 一行写入历史表。
type PostgresSink struct {
	db      *sqlx.DB
	table   string // 已转义
	timeout time.Duration
}

// OpenPostgres 连接并校验 DSN。
func OpenPostgres(ctx context.Context, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

func NewPostgresSink(db *sqlx.DB, table string) *PostgresSink {
	if table == "" {
		table = "spread_history"
	}
	return &PostgresSink{db: db, table: pq.QuoteIdentifier(table), timeout: 10 * time.Second}
}

func (s *PostgresSink) Name() string { return "postgres" }

// Migrate 建表（幂等）。
func (s *PostgresSink) Migrate(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS `+s.table+` (
		id          BIGSERIAL PRIMARY KEY,
		cycle_id    UUID NOT NULL,
		ts          TIMESTAMPTZ NOT NULL,
		symbol      TEXT NOT NULL,
		buy_venue   TEXT NOT NULL,
		buy_price   DOUBLE PRECISION NOT NULL,
		sell_venue  TEXT NOT NULL,
		sell_price  DOUBLE PRECISION NOT NULL,
		gross_pct   DOUBLE PRECISION NOT NULL,
		net_pct     DOUBLE PRECISION NOT NULL,
		net_usd     DOUBLE PRECISION NOT NULL,
		fees_on     BOOLEAN NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("create %s: %w", s.table, err)
	}
	return nil
}

func (s *PostgresSink) Write(ctx context.Context, c *Cycle) error {
	if len(c.Spreads) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx, `INSERT INTO `+s.table+`
		(cycle_id, ts, symbol, buy_venue, buy_price, sell_venue, sell_price, gross_pct, net_pct, net_usd, fees_on)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range c.Spreads {
		if _, err := stmt.ExecContext(ctx,
			c.ID, c.Started.UTC(), r.Symbol,
			r.Buy.Venue, r.Buy.Price, r.Sell.Venue, r.Sell.Price,
			r.GrossPct, r.NetPct, r.NetDollars, r.FeesOn); err != nil {
			return fmt.Errorf("insert %s: %w", r.Symbol, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *PostgresSink) Close() error {
	return s.db.Close()
}
