package tickstore

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pair-signals/go/pkg/shared"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func tick(sym string, sec int, price float64) shared.Tick {
	return shared.Tick{Symbol: sym, Time: t0.Add(time.Duration(sec) * time.Second), Price: price, Quantity: 1}
}

func batch(ticks ...shared.Tick) shared.Batch {
	return shared.Batch{ID: uuid.New(), Ticks: ticks, OpenedAt: t0}
}

func TestMemoryAppendOrdersByTime(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Append(ctx, batch(tick("BTC", 5, 5), tick("BTC", 1, 1), tick("ETH", 2, 20))))
	require.NoError(t, m.Append(ctx, batch(tick("BTC", 3, 3), tick("BTC", 9, 9))))

	got, err := m.Range(ctx, "BTC", time.Time{}, time.Time{})
	require.NoError(t, err)
	var prices []float64
	for _, tk := range got {
		prices = append(prices, tk.Price)
	}
	assert.Equal(t, []float64{1, 3, 5, 9}, prices)

	last, ok, err := m.Latest(ctx, "BTC")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 9.0, last.Price)

	_, ok, err = m.Latest(ctx, "SOL")
	require.NoError(t, err)
	assert.False(t, ok)

	syms, err := m.Symbols(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"BTC", "ETH"}, syms)
}

func TestMemoryTiesKeepInsertionOrder(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Append(ctx, batch(tick("BTC", 1, 1), tick("BTC", 1, 2))))
	require.NoError(t, m.Append(ctx, batch(tick("BTC", 1, 3), tick("BTC", 0, 0))))

	got, err := m.Range(ctx, "BTC", time.Time{}, time.Time{})
	require.NoError(t, err)
	var prices []float64
	for _, tk := range got {
		prices = append(prices, tk.Price)
	}
	assert.Equal(t, []float64{0, 1, 2, 3}, prices)
}

func TestMemoryRangeHalfOpen(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Append(ctx, batch(tick("BTC", 0, 0), tick("BTC", 1, 1), tick("BTC", 2, 2), tick("BTC", 3, 3))))

	got, err := m.Range(ctx, "BTC", t0.Add(time.Second), t0.Add(3*time.Second))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 1.0, got[0].Price)
	assert.Equal(t, 2.0, got[1].Price)

	got, err = m.Range(ctx, "BTC", t0.Add(time.Hour), time.Time{})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMemoryDuplicateBatchIsNoop(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	b := batch(tick("BTC", 1, 1), tick("ETH", 1, 2))
	require.NoError(t, m.Append(ctx, b))
	require.NoError(t, m.Append(ctx, b))
	assert.Equal(t, 1, m.Count("BTC"))
	assert.Equal(t, 1, m.Count("ETH"))
}

func TestMemoryRangeReturnsCopy(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Append(ctx, batch(tick("BTC", 1, 1))))
	got, _ := m.Range(ctx, "BTC", time.Time{}, time.Time{})
	got[0].Price = 99
	again, _ := m.Range(ctx, "BTC", time.Time{}, time.Time{})
	assert.Equal(t, 1.0, again[0].Price)
}

func TestMemoryBatchesAreAtomicToReaders(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	const batches = 200

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < batches; i++ {
			assert.NoError(t, m.Append(ctx, batch(tick("BTC", i, float64(i)), tick("ETH", i, float64(i)))))
		}
	}()

	// Both legs of a batch land together, so a reader never sees BTC ahead of
	// ETH by more than one in-flight batch.
	for i := 0; i < 500; i++ {
		eth := m.Count("ETH")
		btc := m.Count("BTC")
		assert.GreaterOrEqual(t, btc, eth)
	}
	wg.Wait()
	assert.Equal(t, batches, m.Count("BTC"))
	assert.Equal(t, batches, m.Count("ETH"))
}

func TestMemoryConcurrentAppends(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				sym := fmt.Sprintf("S%d", i%3)
				assert.NoError(t, m.Append(ctx, batch(tick(sym, w*100+i, 1), tick("BTC", i, 1))))
			}
		}(w)
	}
	wg.Wait()
	assert.Equal(t, 400, m.Count("BTC"))

	got, err := m.Range(ctx, "BTC", time.Time{}, time.Time{})
	require.NoError(t, err)
	for i := 1; i < len(got); i++ {
		assert.False(t, got[i].Time.Before(got[i-1].Time))
	}
}

func TestMemoryWaitReady(t *testing.T) {
	m := NewMemory()
	done := make(chan error, 1)
	go func() { done <- m.WaitReady(context.Background(), []string{"BTC", "ETH"}) }()

	require.NoError(t, m.Append(context.Background(), batch(tick("BTC", 1, 1))))
	select {
	case <-done:
		t.Fatal("ready before ETH had data")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, m.Append(context.Background(), batch(tick("ETH", 1, 1))))
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("WaitReady did not return")
	}
}

func TestMemoryWaitReadyCancel(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := NewMemory().WaitReady(ctx, []string{"BTC"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
