package shared

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type PgxDB struct {
	pool *pgxpool.Pool
}

// NewPgxPool opens a bounded pool and checks connectivity before returning.
func NewPgxPool(ctx context.Context, cfg PostgresConfig) (*PgxDB, error) {
	pc, err := pgxpool.ParseConfig(cfg.URL())
	if err != nil {
		return nil, fmt.Errorf("parse postgres url: %w", err)
	}
	if cfg.PoolMax > 0 {
		pc.MaxConns = int32(cfg.PoolMax)
	}
	p, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, err
	}
	if err := p.Ping(ctx); err != nil {
		p.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return &PgxDB{pool: p}, nil
}

func (d *PgxDB) Ping(ctx context.Context) error { return d.pool.Ping(ctx) }

// Pool hands the raw pool to stores that need transactions or COPY.
func (d *PgxDB) Pool() *pgxpool.Pool { return d.pool }

func (d *PgxDB) Close() { d.pool.Close() }
