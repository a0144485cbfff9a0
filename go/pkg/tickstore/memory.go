package tickstore

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"pair-signals/go/pkg/shared"
)

type series struct {
	mu    sync.RWMutex
	ticks []shared.Tick
}

// Memory is an in-process Store. Ticks per symbol are kept sorted by time.
type Memory struct {
	mu      sync.Mutex
	symbols map[string]*series
	applied map[uuid.UUID]struct{}
	changed chan struct{}
}

func NewMemory() *Memory {
	return &Memory{
		symbols: make(map[string]*series),
		applied: make(map[uuid.UUID]struct{}),
		changed: make(chan struct{}),
	}
}

func (m *Memory) series(sym string, create bool) *series {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.symbols[sym]
	if !ok && create {
		s = &series{}
		m.symbols[sym] = s
	}
	return s
}

func (m *Memory) Append(ctx context.Context, b shared.Batch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(b.Ticks) == 0 {
		return nil
	}

	m.mu.Lock()
	if _, done := m.applied[b.ID]; done {
		m.mu.Unlock()
		return nil
	}
	m.applied[b.ID] = struct{}{}
	m.mu.Unlock()

	bySym := make(map[string][]shared.Tick)
	for _, tk := range b.Ticks {
		bySym[tk.Symbol] = append(bySym[tk.Symbol], tk)
	}
	syms := make([]string, 0, len(bySym))
	for s := range bySym {
		syms = append(syms, s)
	}
	sort.Strings(syms)

	// Lock every touched series before writing so readers never observe a
	// partially applied batch. Sorted order keeps concurrent appends deadlock free.
	locked := make([]*series, len(syms))
	for i, s := range syms {
		locked[i] = m.series(s, true)
	}
	for _, ser := range locked {
		ser.mu.Lock()
	}
	for i, s := range syms {
		incoming := bySym[s]
		slices.SortStableFunc(incoming, func(a, b shared.Tick) int { return a.Time.Compare(b.Time) })
		locked[i].ticks = merge(locked[i].ticks, incoming)
	}
	for _, ser := range locked {
		ser.mu.Unlock()
	}

	m.mu.Lock()
	close(m.changed)
	m.changed = make(chan struct{})
	m.mu.Unlock()
	return nil
}

// merge keeps existing ticks ahead of incoming ones on equal timestamps.
func merge(have, in []shared.Tick) []shared.Tick {
	if len(have) == 0 || !in[0].Time.Before(have[len(have)-1].Time) {
		return append(have, in...)
	}
	out := make([]shared.Tick, 0, len(have)+len(in))
	i, j := 0, 0
	for i < len(have) && j < len(in) {
		if in[j].Time.Before(have[i].Time) {
			out = append(out, in[j])
			j++
		} else {
			out = append(out, have[i])
			i++
		}
	}
	out = append(out, have[i:]...)
	return append(out, in[j:]...)
}

func (m *Memory) Range(ctx context.Context, symbol string, from, to time.Time) ([]shared.Tick, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s := m.series(symbol, false)
	if s == nil {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	lo := 0
	if !from.IsZero() {
		lo = sort.Search(len(s.ticks), func(i int) bool { return !s.ticks[i].Time.Before(from) })
	}
	hi := len(s.ticks)
	if !to.IsZero() {
		hi = sort.Search(len(s.ticks), func(i int) bool { return !s.ticks[i].Time.Before(to) })
	}
	if lo >= hi {
		return nil, nil
	}
	return slices.Clone(s.ticks[lo:hi]), nil
}

func (m *Memory) Latest(ctx context.Context, symbol string) (shared.Tick, bool, error) {
	if err := ctx.Err(); err != nil {
		return shared.Tick{}, false, err
	}
	s := m.series(symbol, false)
	if s == nil {
		return shared.Tick{}, false, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.ticks) == 0 {
		return shared.Tick{}, false, nil
	}
	return s.ticks[len(s.ticks)-1], true, nil
}

// Symbols lists symbols with at least one tick, sorted.
func (m *Memory) Symbols(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	names := make([]string, 0, len(m.symbols))
	for s := range m.symbols {
		names = append(names, s)
	}
	m.mu.Unlock()
	out := names[:0]
	for _, s := range names {
		if m.Count(s) > 0 {
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out, nil
}

// WaitReady blocks until every symbol has at least one committed tick.
func (m *Memory) WaitReady(ctx context.Context, symbols []string) error {
	for {
		m.mu.Lock()
		wake := m.changed
		m.mu.Unlock()
		ready := true
		for _, s := range symbols {
			if m.Count(s) == 0 {
				ready = false
				break
			}
		}
		if ready {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-wake:
		}
	}
}

// Count is the number of ticks stored for a symbol.
func (m *Memory) Count(symbol string) int {
	s := m.series(symbol, false)
	if s == nil {
		return 0
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ticks)
}
