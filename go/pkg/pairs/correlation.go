package pairs

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"pair-signals/go/pkg/bars"
	"pair-signals/go/pkg/shared"
)

// RollingCorrelation is the Pearson correlation of the two close series over
// each trailing window.
func RollingCorrelation(a, b []shared.Bar, window int) ([]Point, error) {
	if err := bars.SameTimeline(a, b); err != nil {
		return nil, err
	}
	if window < 2 {
		return nil, fmt.Errorf("correlation window %d: %w", window, shared.ErrInsufficientData)
	}
	ya, xb := bars.Closes(a), bars.Closes(b)
	out := make([]Point, len(a))
	for t := range a {
		ts := a[t].Start
		if t < window-1 {
			out[t] = Point{Time: ts, Status: StatusInsufficient}
			continue
		}
		lo := t - window + 1
		c := stat.Correlation(ya[lo:t+1], xb[lo:t+1], nil)
		if math.IsNaN(c) || math.IsInf(c, 0) {
			out[t] = Point{Time: ts, Status: StatusDegenerate}
			continue
		}
		out[t] = Point{Time: ts, Value: c, Status: StatusReady}
	}
	return out, nil
}
