package ingest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pair-signals/go/pkg/shared"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func mkTick(sym string, ms int, price float64) shared.Tick {
	return shared.Tick{Symbol: sym, Time: t0.Add(time.Duration(ms) * time.Millisecond), Price: price, Quantity: 1}
}

type batchSink struct {
	mu      sync.Mutex
	batches []shared.Batch
	got     chan struct{}
}

func newBatchSink() *batchSink { return &batchSink{got: make(chan struct{}, 100)} }

func (s *batchSink) flush(_ context.Context, b shared.Batch) error {
	s.mu.Lock()
	s.batches = append(s.batches, b)
	s.mu.Unlock()
	s.got <- struct{}{}
	return nil
}

func (s *batchSink) wait(t *testing.T) {
	t.Helper()
	select {
	case <-s.got:
	case <-time.After(2 * time.Second):
		t.Fatal("no flush")
	}
}

func TestBufferFlushOnSize(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b := NewBuffer(3, 10, time.Hour)
	sink := newBatchSink()
	go func() { _ = b.Run(ctx, sink.flush) }()

	for i := 0; i < 3; i++ {
		require.NoError(t, b.Put(ctx, mkTick("BTC", i, float64(i))))
	}
	sink.wait(t)
	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.batches, 1)
	assert.Len(t, sink.batches[0].Ticks, 3)
}

func TestBufferFlushOnAge(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b := NewBuffer(100, 1000, 30*time.Millisecond)
	sink := newBatchSink()
	go func() { _ = b.Run(ctx, sink.flush) }()

	start := time.Now()
	require.NoError(t, b.Put(ctx, mkTick("BTC", 0, 1)))
	sink.wait(t)
	assert.GreaterOrEqual(t, time.Since(start), 25*time.Millisecond)
	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Len(t, sink.batches[0].Ticks, 1)
	assert.False(t, sink.batches[0].OpenedAt.IsZero())
}

func TestBufferSwapAssignsFreshIDs(t *testing.T) {
	ctx := context.Background()
	b := NewBuffer(10, 10, time.Second)
	_, ok := b.Swap()
	assert.False(t, ok)

	require.NoError(t, b.Put(ctx, mkTick("BTC", 0, 1)))
	first, ok := b.Swap()
	require.True(t, ok)
	require.NoError(t, b.Put(ctx, mkTick("BTC", 1, 2)))
	second, ok := b.Swap()
	require.True(t, ok)

	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, 0, b.Len())
	assert.Equal(t, 2, b.Pending(), "swapped ticks hold slots until released")
	b.Release(2)
	assert.Equal(t, 0, b.Pending())
}

func TestBufferBackpressure(t *testing.T) {
	b := NewBuffer(2, 2, time.Hour)
	ctx := context.Background()
	require.NoError(t, b.Put(ctx, mkTick("BTC", 0, 1)))
	require.NoError(t, b.Put(ctx, mkTick("BTC", 1, 1)))

	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, b.Put(short, mkTick("BTC", 2, 1)), context.DeadlineExceeded)

	batch, ok := b.Swap()
	require.True(t, ok)
	// Still full: the swapped batch has not been written yet.
	short2, cancel2 := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel2()
	assert.Error(t, b.Put(short2, mkTick("BTC", 2, 1)))

	b.Release(len(batch.Ticks))
	assert.NoError(t, b.Put(ctx, mkTick("BTC", 2, 1)))
}

func TestBufferRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	b := NewBuffer(10, 10, time.Hour)
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx, newBatchSink().flush) }()
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
}
