package pairs

import (
	"time"

	"pair-signals/go/pkg/shared"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func series(sym string, closes ...float64) []shared.Bar {
	out := make([]shared.Bar, len(closes))
	for i, c := range closes {
		out[i] = shared.Bar{Symbol: sym, Start: t0.Add(time.Duration(i) * time.Minute), Open: c, High: c, Low: c, Close: c, Volume: 1, Trades: 1}
	}
	return out
}

func ready(vals ...float64) []Point {
	out := make([]Point, len(vals))
	for i, v := range vals {
		out[i] = Point{Time: t0.Add(time.Duration(i) * time.Minute), Value: v, Status: StatusReady}
	}
	return out
}
