package tickstore

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"pair-signals/go/pkg/shared"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS tick_batches (
		batch_id     UUID PRIMARY KEY,
		tick_count   INTEGER NOT NULL,
		opened_at    TIMESTAMPTZ NOT NULL,
		committed_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS ticks (
		seq      BIGSERIAL PRIMARY KEY,
		ts       TIMESTAMPTZ NOT NULL,
		symbol   TEXT NOT NULL,
		price    DOUBLE PRECISION NOT NULL,
		qty      DOUBLE PRECISION NOT NULL,
		trade_id BIGINT,
		batch_id UUID NOT NULL REFERENCES tick_batches(batch_id)
	)`,
	`CREATE INDEX IF NOT EXISTS ticks_symbol_ts_idx ON ticks (symbol, ts, seq)`,
}

var tickColumns = []string{"ts", "symbol", "price", "qty", "trade_id", "batch_id"}

// Postgres stores ticks in a single table keyed by an insertion sequence.
// Each batch is one transaction; the tick_batches row makes replays no-ops.
type Postgres struct {
	pool         *pgxpool.Pool
	pollInterval time.Duration
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool, pollInterval: 500 * time.Millisecond}
}

func (p *Postgres) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

func (p *Postgres) Append(ctx context.Context, b shared.Batch) error {
	if len(b.Ticks) == 0 {
		return nil
	}
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	// Serialize writers per symbol so seq order follows commit order.
	for _, sym := range b.Symbols() {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, sym); err != nil {
			return fmt.Errorf("lock %s: %w", sym, err)
		}
	}

	tag, err := tx.Exec(ctx,
		`INSERT INTO tick_batches (batch_id, tick_count, opened_at) VALUES ($1, $2, $3)
		 ON CONFLICT (batch_id) DO NOTHING`,
		[16]byte(b.ID), len(b.Ticks), b.OpenedAt.UTC())
	if err != nil {
		return fmt.Errorf("record batch: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil
	}

	id := [16]byte(b.ID)
	rows := make([][]any, len(b.Ticks))
	for i, tk := range b.Ticks {
		var tradeID any
		if tk.TradeID != 0 {
			tradeID = tk.TradeID
		}
		rows[i] = []any{tk.Time.UTC(), tk.Symbol, tk.Price, tk.Quantity, tradeID, id}
	}
	if _, err := tx.CopyFrom(ctx, pgx.Identifier{"ticks"}, tickColumns, pgx.CopyFromRows(rows)); err != nil {
		return fmt.Errorf("copy ticks: %w", err)
	}
	return tx.Commit(ctx)
}

func (p *Postgres) Range(ctx context.Context, symbol string, from, to time.Time) ([]shared.Tick, error) {
	q := `SELECT ts, symbol, price, qty, COALESCE(trade_id, 0) FROM ticks WHERE symbol = $1`
	args := []any{symbol}
	if !from.IsZero() {
		args = append(args, from.UTC())
		q += fmt.Sprintf(" AND ts >= $%d", len(args))
	}
	if !to.IsZero() {
		args = append(args, to.UTC())
		q += fmt.Sprintf(" AND ts < $%d", len(args))
	}
	q += " ORDER BY ts, seq"

	rows, err := p.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanTick)
}

func (p *Postgres) Latest(ctx context.Context, symbol string) (shared.Tick, bool, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT ts, symbol, price, qty, COALESCE(trade_id, 0) FROM ticks
		 WHERE symbol = $1 ORDER BY ts DESC, seq DESC LIMIT 1`, symbol)
	if err != nil {
		return shared.Tick{}, false, err
	}
	tk, err := pgx.CollectOneRow(rows, scanTick)
	if errors.Is(err, pgx.ErrNoRows) {
		return shared.Tick{}, false, nil
	}
	if err != nil {
		return shared.Tick{}, false, err
	}
	return tk, true, nil
}

func (p *Postgres) Symbols(ctx context.Context) ([]string, error) {
	rows, err := p.pool.Query(ctx, `SELECT DISTINCT symbol FROM ticks ORDER BY symbol`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// WaitReady polls until every symbol has a committed tick.
func (p *Postgres) WaitReady(ctx context.Context, symbols []string) error {
	symbols = slices.Clone(symbols)
	slices.Sort(symbols)
	symbols = slices.Compact(symbols)
	t := time.NewTicker(p.pollInterval)
	defer t.Stop()
	for {
		rows, err := p.pool.Query(ctx, `SELECT DISTINCT symbol FROM ticks WHERE symbol = ANY($1)`, symbols)
		if err == nil {
			var have []string
			have, err = pgx.CollectRows(rows, pgx.RowTo[string])
			if err == nil && len(have) == len(symbols) {
				return nil
			}
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}

func scanTick(row pgx.CollectableRow) (shared.Tick, error) {
	var tk shared.Tick
	err := row.Scan(&tk.Time, &tk.Symbol, &tk.Price, &tk.Quantity, &tk.TradeID)
	tk.Time = tk.Time.UTC()
	return tk, err
}
