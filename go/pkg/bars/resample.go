// Package bars folds ticks into fixed-interval OHLCV bars.
package bars

import (
	"fmt"
	"slices"
	"time"

	"pair-signals/go/pkg/shared"
)

// FillPolicy decides what an interval without trades becomes.
type FillPolicy string

const (
	FillForward FillPolicy = "ffill"
	FillOmit    FillPolicy = "omit"
)

func ParsePolicy(raw string) (FillPolicy, error) {
	switch FillPolicy(raw) {
	case FillForward, FillOmit:
		return FillPolicy(raw), nil
	case "":
		return FillForward, nil
	}
	return "", fmt.Errorf("unknown fill policy %q", raw)
}

// Bucket floors ts onto the interval grid anchored at the Unix epoch.
func Bucket(ts time.Time, interval time.Duration) time.Time {
	n, iv := ts.UnixNano(), int64(interval)
	b := n / iv
	if n%iv != 0 && n < 0 {
		b--
	}
	return time.Unix(0, b*iv).UTC()
}

// barState accumulates one bucket.
type barState struct {
	start                  time.Time
	open, high, low, close float64
	vol                    float64
	trades                 int64
}

func (b *barState) update(px, qty float64) {
	if b.trades == 0 {
		b.open, b.high, b.low, b.close = px, px, px, px
		b.vol = qty
		b.trades = 1
		return
	}
	if px > b.high {
		b.high = px
	}
	if px < b.low {
		b.low = px
	}
	b.close = px
	b.vol += qty
	b.trades++
}

func (b *barState) bar(sym string) shared.Bar {
	return shared.Bar{
		Symbol: sym, Start: b.start,
		Open: b.open, High: b.high, Low: b.low, Close: b.close,
		Volume: b.vol, Trades: b.trades,
	}
}

// Resample buckets ticks of one symbol. Ticks are expected in store order;
// anything else is stably sorted first so the close stays the last trade.
func Resample(ticks []shared.Tick, interval time.Duration, policy FillPolicy) []shared.Bar {
	if len(ticks) == 0 || interval <= 0 {
		return nil
	}
	byTime := func(x, y shared.Tick) int { return x.Time.Compare(y.Time) }
	if !slices.IsSortedFunc(ticks, byTime) {
		ticks = slices.Clone(ticks)
		slices.SortStableFunc(ticks, byTime)
	}

	sym := ticks[0].Symbol
	out := make([]shared.Bar, 0, 16)
	cur := barState{start: Bucket(ticks[0].Time, interval)}
	for _, tk := range ticks {
		start := Bucket(tk.Time, interval)
		if !start.Equal(cur.start) {
			out = appendBar(out, cur.bar(sym), interval, policy)
			cur = barState{start: start}
		}
		cur.update(tk.Price, tk.Quantity)
	}
	return appendBar(out, cur.bar(sym), interval, policy)
}

// appendBar adds next, forward filling any skipped buckets first.
func appendBar(out []shared.Bar, next shared.Bar, interval time.Duration, policy FillPolicy) []shared.Bar {
	if policy == FillForward && len(out) > 0 {
		prev := out[len(out)-1]
		for ts := prev.Start.Add(interval); ts.Before(next.Start); ts = ts.Add(interval) {
			out = append(out, shared.Bar{
				Symbol: prev.Symbol, Start: ts,
				Open: prev.Close, High: prev.Close, Low: prev.Close, Close: prev.Close,
				Filled: true,
			})
		}
	}
	return append(out, next)
}

// Tail returns the last n bars.
func Tail(bs []shared.Bar, n int) []shared.Bar {
	if n <= 0 || n >= len(bs) {
		return bs
	}
	return bs[len(bs)-n:]
}

// Closes extracts close prices.
func Closes(bs []shared.Bar) []float64 {
	out := make([]float64, len(bs))
	for i, b := range bs {
		out[i] = b.Close
	}
	return out
}
