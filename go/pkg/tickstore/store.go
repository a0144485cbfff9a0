// Package tickstore holds committed ticks. Writers append whole batches;
// readers see either all of a batch or none of it.
package tickstore

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"pair-signals/go/pkg/shared"
)

// Store is the durable tick store.
//
// Append applies a batch atomically. Re-applying a batch ID that was already
// stored is a no-op, which makes writer retries safe.
//
// Range returns ticks for one symbol ordered by time, ties in insertion
// order. The window is [from, to); a zero bound is open.
type Store interface {
	Append(ctx context.Context, b shared.Batch) error
	Range(ctx context.Context, symbol string, from, to time.Time) ([]shared.Tick, error)
	Latest(ctx context.Context, symbol string) (shared.Tick, bool, error)
	Symbols(ctx context.Context) ([]string, error)
	WaitReady(ctx context.Context, symbols []string) error
}

// IsTransient reports whether a failed Append is worth retrying.
// Postgres errors are transient only for connection, resource and
// serialization classes; everything else is treated as a network blip.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if len(pgErr.Code) < 2 {
			return false
		}
		switch pgErr.Code[:2] {
		case "08", "40", "53", "57", "58":
			return true
		}
		return false
	}
	return true
}
