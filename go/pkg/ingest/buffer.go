package ingest

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"pair-signals/go/pkg/shared"
)

// Buffer collects ticks into the open batch. A slot is taken per tick on Put
// and given back by Release once the batch holding it has been written, so
// max pending bounds both the open batch and batches in flight.
type Buffer struct {
	batchSize int
	interval  time.Duration

	mu       sync.Mutex
	pending  []shared.Tick
	openedAt time.Time

	slots  chan struct{}
	notify chan struct{}
	now    func() time.Time
}

func NewBuffer(batchSize, maxPending int, interval time.Duration) *Buffer {
	if batchSize < 1 {
		batchSize = 1
	}
	if maxPending < batchSize {
		maxPending = batchSize
	}
	return &Buffer{
		batchSize: batchSize,
		interval:  interval,
		pending:   make([]shared.Tick, 0, batchSize),
		slots:     make(chan struct{}, maxPending),
		notify:    make(chan struct{}, 1),
		now:       time.Now,
	}
}

// Put appends a tick, blocking while the buffer is full.
func (b *Buffer) Put(ctx context.Context, tk shared.Tick) error {
	select {
	case b.slots <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	b.mu.Lock()
	if len(b.pending) == 0 {
		b.openedAt = b.now()
	}
	b.pending = append(b.pending, tk)
	n := len(b.pending)
	b.mu.Unlock()

	if n == 1 || n >= b.batchSize {
		select {
		case b.notify <- struct{}{}:
		default:
		}
	}
	return nil
}

// Swap hands the open batch to the caller and starts a new one.
func (b *Buffer) Swap() (shared.Batch, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.pending) == 0 {
		return shared.Batch{}, false
	}
	out := shared.Batch{ID: uuid.New(), Ticks: b.pending, OpenedAt: b.openedAt}
	b.pending = make([]shared.Tick, 0, b.batchSize)
	b.openedAt = time.Time{}
	return out, true
}

// Release frees n slots after their ticks have left the process.
func (b *Buffer) Release(n int) {
	for i := 0; i < n; i++ {
		<-b.slots
	}
}

// Pending counts buffered plus in-flight ticks.
func (b *Buffer) Pending() int { return len(b.slots) }

// Len counts ticks in the open batch only.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// due reports whether the open batch should be flushed now, and otherwise how
// long until its time trigger fires. An empty batch waits for a notify.
func (b *Buffer) due() (bool, time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.pending) == 0 {
		return false, 0
	}
	if len(b.pending) >= b.batchSize {
		return true, 0
	}
	left := b.interval - b.now().Sub(b.openedAt)
	if left <= 0 {
		return true, 0
	}
	return false, left
}

// Run flushes batches on size or age until ctx is cancelled. Batches are
// flushed one at a time; Put keeps filling the next batch meanwhile. The
// first flush error stops the loop.
func (b *Buffer) Run(ctx context.Context, flush func(context.Context, shared.Batch) error) error {
	timer := time.NewTimer(b.interval)
	defer timer.Stop()
	for {
		if ctx.Err() != nil {
			return nil
		}
		ready, wait := b.due()
		if ready {
			batch, ok := b.Swap()
			if !ok {
				continue
			}
			err := flush(ctx, batch)
			b.Release(len(batch.Ticks))
			if err != nil {
				return err
			}
			continue
		}

		if wait <= 0 {
			wait = b.interval
		}
		resetTimer(timer, wait)
		select {
		case <-ctx.Done():
			return nil
		case <-b.notify:
		case <-timer.C:
		}
	}
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}
