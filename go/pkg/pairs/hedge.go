package pairs

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"pair-signals/go/pkg/bars"
	"pair-signals/go/pkg/shared"
)

// DefaultEpsilon is the relative variance floor used when none is configured.
const DefaultEpsilon = 1e-9

// HedgeRatio is the OLS fit of price A on price B. It describes only the
// window it was fit on.
type HedgeRatio struct {
	Slope     float64 `json:"slope"`
	Intercept float64 `json:"intercept"`
	RSquared  *float64 `json:"r_squared"` // nil when the dependent leg is flat
	N         int     `json:"n"`
}

// FitHedgeRatio regresses a's closes on b's over the trailing window of two
// series on the same timeline.
func FitHedgeRatio(a, b []shared.Bar, window int) (HedgeRatio, error) {
	if err := bars.SameTimeline(a, b); err != nil {
		return HedgeRatio{}, err
	}
	if window > 0 {
		a, b = bars.Tail(a, window), bars.Tail(b, window)
	}
	return fitOLS(bars.Closes(b), bars.Closes(a), DefaultEpsilon)
}

// fitOLS fits y = intercept + slope·x. An x with (relatively) no spread has
// no defined slope. A flat y fits with slope 0 and leaves R² undefined.
func fitOLS(x, y []float64, eps float64) (HedgeRatio, error) {
	if len(x) < 2 {
		return HedgeRatio{}, fmt.Errorf("hedge ratio over %d points: %w", len(x), shared.ErrInsufficientData)
	}
	mean, variance := stat.MeanVariance(x, nil)
	if !(variance > eps*eps*math.Max(1, mean*mean)) {
		return HedgeRatio{}, fmt.Errorf("hedge ratio: constant regressor: %w", shared.ErrDegenerateVariance)
	}
	alpha, beta := stat.LinearRegression(x, y, nil, false)
	hr := HedgeRatio{Slope: beta, Intercept: alpha, N: len(x)}
	ymean, yvar := stat.MeanVariance(y, nil)
	if yvar > eps*eps*math.Max(1, ymean*ymean) {
		r2 := stat.RSquared(x, y, nil, alpha, beta)
		if !math.IsNaN(r2) && !math.IsInf(r2, 0) {
			hr.RSquared = &r2
		}
	}
	return hr, nil
}
