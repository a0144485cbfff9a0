package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pair-signals/go/pkg/shared"
	"pair-signals/go/pkg/tickstore"
)

// flakyStore fails the first failures calls. When applyThenFail is set the
// failing calls still apply the batch, as when the commit ack is lost.
type flakyStore struct {
	*tickstore.Memory
	mu            sync.Mutex
	failures      int
	applyThenFail bool
	err           error
	calls         int
	ids           []uuid.UUID
}

func (f *flakyStore) Append(ctx context.Context, b shared.Batch) error {
	f.mu.Lock()
	f.calls++
	f.ids = append(f.ids, b.ID)
	fail := f.failures > 0
	if fail {
		f.failures--
	}
	f.mu.Unlock()
	if fail {
		if f.applyThenFail {
			_ = f.Memory.Append(ctx, b)
		}
		return f.err
	}
	return f.Memory.Append(ctx, b)
}

func testWriter(store tickstore.Store, attempts int) (*Writer, *[]time.Duration) {
	w := NewWriter(store, RetryPolicy{MaxAttempts: attempts, Base: 10 * time.Millisecond, Max: 40 * time.Millisecond, AttemptTimeout: time.Second}, zerolog.Nop(), nil)
	var slept []time.Duration
	w.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return w, &slept
}

func TestWriterSortsStably(t *testing.T) {
	mem := tickstore.NewMemory()
	w, _ := testWriter(mem, 1)
	b := shared.Batch{ID: uuid.New(), Ticks: []shared.Tick{
		mkTick("BTC", 20, 1), mkTick("BTC", 10, 2), mkTick("BTC", 20, 3), mkTick("BTC", 10, 4),
	}}
	require.NoError(t, w.Write(context.Background(), b))

	got, err := mem.Range(context.Background(), "BTC", time.Time{}, time.Time{})
	require.NoError(t, err)
	var prices []float64
	for _, tk := range got {
		prices = append(prices, tk.Price)
	}
	assert.Equal(t, []float64{2, 4, 1, 3}, prices)
}

func TestWriterRetriesTransientWithBackoff(t *testing.T) {
	store := &flakyStore{Memory: tickstore.NewMemory(), failures: 3, err: errors.New("connection reset by peer")}
	w, slept := testWriter(store, 5)
	b := shared.Batch{ID: uuid.New(), Ticks: []shared.Tick{mkTick("BTC", 0, 1), mkTick("ETH", 0, 2)}}

	require.NoError(t, w.Write(context.Background(), b))
	assert.Equal(t, 4, store.calls)
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 40 * time.Millisecond}, *slept)
	for _, id := range store.ids {
		assert.Equal(t, b.ID, id, "retries reuse the batch id")
	}
	assert.Equal(t, 1, store.Count("BTC"))
}

func TestWriterReplayAfterLostAckIsIdempotent(t *testing.T) {
	store := &flakyStore{Memory: tickstore.NewMemory(), failures: 2, applyThenFail: true, err: context.DeadlineExceeded}
	w, _ := testWriter(store, 5)
	b := shared.Batch{ID: uuid.New(), Ticks: []shared.Tick{mkTick("BTC", 0, 1), mkTick("BTC", 1, 2), mkTick("ETH", 0, 3)}}

	require.NoError(t, w.Write(context.Background(), b))
	assert.Equal(t, 3, store.calls)
	assert.Equal(t, 2, store.Count("BTC"))
	assert.Equal(t, 1, store.Count("ETH"))
}

func TestWriterStallsAfterMaxAttempts(t *testing.T) {
	cause := errors.New("connection refused")
	store := &flakyStore{Memory: tickstore.NewMemory(), failures: 100, err: cause}
	w, slept := testWriter(store, 3)
	b := shared.Batch{ID: uuid.New(), Ticks: []shared.Tick{mkTick("BTC", 0, 1)}}

	err := w.Write(context.Background(), b)
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrIngestionStalled)
	assert.ErrorIs(t, err, shared.ErrWriteFailure)
	assert.ErrorIs(t, err, cause)

	var st *shared.IngestionStalledError
	require.True(t, errors.As(err, &st))
	assert.Equal(t, 3, st.Attempts)
	assert.Equal(t, b.ID, st.BatchID())
	assert.Len(t, st.Batch.Ticks, 1)
	assert.Len(t, *slept, 2)
	assert.Equal(t, 0, store.Count("BTC"))
}

func TestWriterPermanentErrorFailsFast(t *testing.T) {
	store := &flakyStore{Memory: tickstore.NewMemory(), failures: 100, err: &pgconn.PgError{Code: "23502", Message: "null value"}}
	w, slept := testWriter(store, 5)
	err := w.Write(context.Background(), shared.Batch{ID: uuid.New(), Ticks: []shared.Tick{mkTick("BTC", 0, 1)}})

	var st *shared.IngestionStalledError
	require.True(t, errors.As(err, &st))
	assert.Equal(t, 1, st.Attempts)
	assert.Empty(t, *slept)
	assert.Equal(t, 1, store.calls)
}

func TestRetryPolicyBackoff(t *testing.T) {
	p := RetryPolicy{Base: 250 * time.Millisecond, Max: time.Second}
	assert.Equal(t, 250*time.Millisecond, p.backoff(1))
	assert.Equal(t, 500*time.Millisecond, p.backoff(2))
	assert.Equal(t, time.Second, p.backoff(3))
	assert.Equal(t, time.Second, p.backoff(10))
}
