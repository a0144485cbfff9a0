// Package pairs computes pair-trading analytics over aligned bar series.
// Everything here is a pure function of its inputs.
package pairs

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"pair-signals/go/pkg/bars"
	"pair-signals/go/pkg/shared"
)

// Snapshot summarises the trailing closes of one symbol.
type Snapshot struct {
	Symbol string  `json:"symbol"`
	Latest float64 `json:"latest"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Count  int     `json:"count"`
	Volume float64 `json:"volume"`
}

// Stats uses the last min(window, len) closes. StdDev is the sample
// standard deviation.
func Stats(symbol string, bs []shared.Bar, window int) (Snapshot, error) {
	if window > 0 {
		bs = bars.Tail(bs, window)
	}
	if len(bs) < 2 {
		return Snapshot{}, fmt.Errorf("stats %s: %d bars: %w", symbol, len(bs), shared.ErrInsufficientData)
	}
	closes := bars.Closes(bs)
	mean, std := stat.MeanStdDev(closes, nil)
	var vol float64
	for _, b := range bs {
		vol += b.Volume
	}
	return Snapshot{
		Symbol: symbol,
		Latest: closes[len(closes)-1],
		Mean:   mean,
		StdDev: std,
		Min:    floats.Min(closes),
		Max:    floats.Max(closes),
		Count:  len(closes),
		Volume: vol,
	}, nil
}
