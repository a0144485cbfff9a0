package ingest

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/rs/zerolog"

	"pair-signals/go/pkg/shared"
	"pair-signals/go/pkg/tickstore"
)

// RetryPolicy bounds how long one batch may keep the writer busy.
type RetryPolicy struct {
	MaxAttempts    int
	Base           time.Duration
	Max            time.Duration
	AttemptTimeout time.Duration
}

func PolicyFromConfig(c shared.IngestConfig) RetryPolicy {
	return RetryPolicy{MaxAttempts: c.MaxAttempts, Base: c.RetryBase, Max: c.RetryMax, AttemptTimeout: c.WriteTimeout}
}

// backoff is Base·2^(attempt-1), capped at Max.
func (p RetryPolicy) backoff(attempt int) time.Duration {
	d := p.Base
	for i := 1; i < attempt && d < p.Max; i++ {
		d *= 2
	}
	if p.Max > 0 && d > p.Max {
		d = p.Max
	}
	return d
}

// Writer appends batches to the store, retrying transient failures against
// the same batch.
type Writer struct {
	store   tickstore.Store
	policy  RetryPolicy
	log     zerolog.Logger
	metrics *Metrics
	sleep   func(context.Context, time.Duration) error
}

func NewWriter(store tickstore.Store, policy RetryPolicy, log zerolog.Logger, m *Metrics) *Writer {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	if m == nil {
		m = NewMetrics(nil)
	}
	return &Writer{store: store, policy: policy, log: log, metrics: m, sleep: sleepCtx}
}

// Write sorts the batch by time and appends it. A permanent error or
// exhausted retries yield *shared.IngestionStalledError carrying the batch.
func (w *Writer) Write(ctx context.Context, b shared.Batch) error {
	slices.SortStableFunc(b.Ticks, func(x, y shared.Tick) int { return x.Time.Compare(y.Time) })

	start := time.Now()
	var (
		lastErr  error
		attempts int
	)
	for attempts = 1; attempts <= w.policy.MaxAttempts; attempts++ {
		lastErr = w.attempt(ctx, b)
		if lastErr == nil {
			w.metrics.WriteTime.Observe(time.Since(start).Seconds())
			w.metrics.BatchSize.Observe(float64(len(b.Ticks)))
			w.metrics.Committed.Inc()
			return nil
		}
		w.metrics.WriteErrors.Inc()
		if !tickstore.IsTransient(lastErr) || attempts == w.policy.MaxAttempts {
			break
		}
		delay := w.policy.backoff(attempts)
		w.log.Warn().Err(lastErr).
			Str("batch_id", b.ID.String()).
			Int("attempt", attempts).
			Dur("retry_in", delay).
			Msg("batch write failed, retrying")
		if err := w.sleep(ctx, delay); err != nil {
			lastErr = err
			break
		}
	}

	w.metrics.Stalled.Inc()
	return &shared.IngestionStalledError{
		Batch:    b,
		Attempts: attempts,
		Err:      fmt.Errorf("%w: %w", shared.ErrWriteFailure, lastErr),
	}
}

func (w *Writer) attempt(ctx context.Context, b shared.Batch) error {
	if w.policy.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.policy.AttemptTimeout)
		defer cancel()
	}
	return w.store.Append(ctx, b)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
