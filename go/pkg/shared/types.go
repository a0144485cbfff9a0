package shared

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// Tick is one normalized trade.
type Tick struct {
	Symbol   string    `json:"symbol"`
	Time     time.Time `json:"ts"`
	Price    float64   `json:"price"`
	Quantity float64   `json:"qty"`
	TradeID  int64     `json:"trade_id,omitempty"`
}

// Batch is a set of ticks written to the store as one unit. The ID is fixed
// when the batch leaves the buffer and survives retries.
type Batch struct {
	ID       uuid.UUID
	Ticks    []Tick
	OpenedAt time.Time
}

// Symbols returns the distinct symbols in the batch, sorted.
func (b Batch) Symbols() []string {
	seen := make(map[string]struct{}, 4)
	for _, tk := range b.Ticks {
		seen[tk.Symbol] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for sym := range seen {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// BatchCommitted is published after a batch is durably stored.
type BatchCommitted struct {
	BatchID   string    `json:"batch_id"`
	Symbols   []string  `json:"symbols"`
	Ticks     int       `json:"ticks"`
	MaxTS     time.Time `json:"max_ts"`
	Committed time.Time `json:"committed_at"`
}

// NewBatchCommitted summarizes a stored batch.
func NewBatchCommitted(b Batch, at time.Time) BatchCommitted {
	var maxTS time.Time
	for _, tk := range b.Ticks {
		if tk.Time.After(maxTS) {
			maxTS = tk.Time
		}
	}
	return BatchCommitted{
		BatchID:   b.ID.String(),
		Symbols:   b.Symbols(),
		Ticks:     len(b.Ticks),
		MaxTS:     maxTS,
		Committed: at.UTC(),
	}
}

// Bar is an OHLCV summary of one interval bucket. Filled marks a bucket with
// no trades that carries the previous close forward.
type Bar struct {
	Symbol string    `json:"symbol"`
	Start  time.Time `json:"ts"`
	Open   float64   `json:"o"`
	High   float64   `json:"h"`
	Low    float64   `json:"l"`
	Close  float64   `json:"c"`
	Volume float64   `json:"vol"`
	Trades int64     `json:"n_trades"`
	Filled bool      `json:"filled,omitempty"`
}

// Pair names two tracked symbols analysed together; A is the dependent leg.
type Pair struct {
	A string `json:"a" yaml:"a"`
	B string `json:"b" yaml:"b"`
}

func (p Pair) String() string { return p.A + "/" + p.B }
