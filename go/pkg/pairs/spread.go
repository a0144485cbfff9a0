package pairs

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"pair-signals/go/pkg/bars"
	"pair-signals/go/pkg/shared"
)

// SpreadSeries holds the rolling outputs, one point per aligned bar.
type SpreadSeries struct {
	HedgeRatios []Point `json:"hedge_ratios"`
	Spread      []Point `json:"spread"`
	ZScore      []Point `json:"zscore"`
}

// RollingSpread re-fits the hedge ratio on every trailing window
// [t-window+1, t] and scores the latest spread against that window's spreads.
// The first window-1 points are insufficient_data; windows whose regressor or
// spreads have no variance are degenerate.
func RollingSpread(a, b []shared.Bar, window int, eps float64) (SpreadSeries, error) {
	if err := bars.SameTimeline(a, b); err != nil {
		return SpreadSeries{}, err
	}
	if window < 2 {
		return SpreadSeries{}, fmt.Errorf("spread window %d: %w", window, shared.ErrInsufficientData)
	}
	if eps <= 0 {
		eps = DefaultEpsilon
	}

	n := len(a)
	out := SpreadSeries{
		HedgeRatios: make([]Point, n),
		Spread:      make([]Point, n),
		ZScore:      make([]Point, n),
	}
	ya, xb := bars.Closes(a), bars.Closes(b)
	spreads := make([]float64, window)

	for t := 0; t < n; t++ {
		ts := a[t].Start
		if t < window-1 {
			out.HedgeRatios[t] = Point{Time: ts, Status: StatusInsufficient}
			out.Spread[t] = Point{Time: ts, Status: StatusInsufficient}
			out.ZScore[t] = Point{Time: ts, Status: StatusInsufficient}
			continue
		}
		lo := t - window + 1
		hr, err := fitOLS(xb[lo:t+1], ya[lo:t+1], eps)
		if err != nil {
			out.HedgeRatios[t] = Point{Time: ts, Status: StatusDegenerate}
			out.Spread[t] = Point{Time: ts, Status: StatusDegenerate}
			out.ZScore[t] = Point{Time: ts, Status: StatusDegenerate}
			continue
		}
		for k := lo; k <= t; k++ {
			spreads[k-lo] = ya[k] - hr.Slope*xb[k]
		}
		cur := spreads[window-1]
		out.HedgeRatios[t] = Point{Time: ts, Value: hr.Slope, Status: StatusReady}
		out.Spread[t] = Point{Time: ts, Value: cur, Status: StatusReady}

		mean, sd := stat.MeanStdDev(spreads, nil)
		if !(sd > eps*math.Max(1, math.Abs(mean))) {
			out.ZScore[t] = Point{Time: ts, Status: StatusDegenerate}
			continue
		}
		out.ZScore[t] = Point{Time: ts, Value: (cur - mean) / sd, Status: StatusReady}
	}
	return out, nil
}
