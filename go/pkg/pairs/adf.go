package pairs

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"pair-signals/go/pkg/shared"
)

// ADFOptions configures the Augmented Dickey-Fuller test. MaxLag < 0 picks
// floor(12·(n/100)^¼).
type ADFOptions struct {
	MaxLag       int
	Significance float64
}

// ADFResult is advisory: it is reported next to signals, never gates them.
type ADFResult struct {
	Statistic      float64            `json:"statistic"`
	PValue         float64            `json:"p_value"`
	UsedLag        int                `json:"used_lag"`
	NObs           int                `json:"n_obs"`
	CriticalValues map[string]float64 `json:"critical_values"`
	IsStationary   bool               `json:"is_stationary"`
}

const adfMinObs = 8

// ADF tests for a unit root with a constant term:
//
//	Δy_t = α + γ·y_{t-1} + Σ_{i=1..p} δ_i·Δy_{t-i} + ε_t
//
// The lag p is the AIC minimiser over 0..maxlag on a common sample, then the
// regression is refit on every usable observation. The statistic is the
// t-ratio of γ.
func ADF(series []float64, opts ADFOptions) (ADFResult, error) {
	n := len(series)
	if n < adfMinObs {
		return ADFResult{}, fmt.Errorf("adf over %d observations: %w", n, shared.ErrInsufficientData)
	}
	if opts.Significance <= 0 || opts.Significance >= 1 {
		opts.Significance = 0.05
	}

	maxlag := opts.MaxLag
	if maxlag < 0 {
		maxlag = int(math.Floor(12 * math.Pow(float64(n)/100, 0.25)))
	}
	maxlag = min(maxlag, n/2-2)
	if maxlag < 0 {
		return ADFResult{}, fmt.Errorf("adf over %d observations: %w", n, shared.ErrInsufficientData)
	}

	diff := make([]float64, n-1)
	for i := 1; i < n; i++ {
		diff[i-1] = series[i] - series[i-1]
	}

	best, bestAIC := -1, math.Inf(1)
	for lag := 0; lag <= maxlag; lag++ {
		fit, err := adfRegression(series, diff, lag, maxlag)
		if err != nil {
			continue
		}
		if fit.aic < bestAIC {
			best, bestAIC = lag, fit.aic
		}
	}
	if best < 0 {
		return ADFResult{}, fmt.Errorf("adf: no lag order could be fit: %w", shared.ErrDegenerateVariance)
	}

	fit, err := adfRegression(series, diff, best, best)
	if err != nil {
		return ADFResult{}, err
	}

	res := ADFResult{
		Statistic:      fit.tstat,
		PValue:         mackinnonP(fit.tstat),
		UsedLag:        best,
		NObs:           fit.nobs,
		CriticalValues: mackinnonCrit(fit.nobs),
	}
	res.IsStationary = res.PValue < opts.Significance
	return res, nil
}

type adfFit struct {
	tstat float64
	aic   float64
	nobs  int
}

// adfRegression fits the ADF equation with `lag` lagged differences on the
// sample that `window` lags leave available, so AIC values for different lags
// are comparable.
func adfRegression(y, diff []float64, lag, window int) (adfFit, error) {
	nobs := len(diff) - window
	k := 2 + lag
	if nobs <= k {
		return adfFit{}, fmt.Errorf("adf lag %d: %w", lag, shared.ErrInsufficientData)
	}

	x := mat.NewDense(nobs, k, nil)
	dep := mat.NewVecDense(nobs, nil)
	for r := 0; r < nobs; r++ {
		t := window + r // index into diff; diff[t] = y[t+1]-y[t]
		dep.SetVec(r, diff[t])
		x.Set(r, 0, 1)
		x.Set(r, 1, y[t])
		for i := 1; i <= lag; i++ {
			x.Set(r, 1+i, diff[t-i])
		}
	}

	beta, se, ssr, err := ols(x, dep)
	if err != nil {
		return adfFit{}, err
	}
	if se[1] == 0 || math.IsNaN(se[1]) {
		return adfFit{}, fmt.Errorf("adf: zero standard error: %w", shared.ErrDegenerateVariance)
	}
	nf := float64(nobs)
	llf := -nf / 2 * (math.Log(2*math.Pi) + math.Log(ssr/nf) + 1)
	return adfFit{
		tstat: beta[1] / se[1],
		aic:   -2*llf + 2*float64(k),
		nobs:  nobs,
	}, nil
}

// ols returns coefficients, their standard errors and the residual sum of squares.
func ols(x *mat.Dense, y *mat.VecDense) ([]float64, []float64, float64, error) {
	n, k := x.Dims()
	var xtx mat.Dense
	xtx.Mul(x.T(), x)
	var inv mat.Dense
	if err := inv.Inverse(&xtx); err != nil {
		return nil, nil, 0, fmt.Errorf("ols: %v: %w", err, shared.ErrDegenerateVariance)
	}
	var xty mat.VecDense
	xty.MulVec(x.T(), y)
	var b mat.VecDense
	b.MulVec(&inv, &xty)

	var fitted, resid mat.VecDense
	fitted.MulVec(x, &b)
	resid.SubVec(y, &fitted)
	ssr := mat.Dot(&resid, &resid)
	if ssr <= 0 {
		return nil, nil, 0, fmt.Errorf("ols: perfect fit: %w", shared.ErrDegenerateVariance)
	}
	sigma2 := ssr / float64(n-k)

	beta := make([]float64, k)
	se := make([]float64, k)
	for j := 0; j < k; j++ {
		beta[j] = b.AtVec(j)
		se[j] = math.Sqrt(sigma2 * inv.At(j, j))
	}
	return beta, se, ssr, nil
}

// MacKinnon (1994, 2010) response surface for the constant-only case.
var (
	tauMax, tauMin, tauStar = 2.74, -18.83, -1.61
	tauSmallP               = []float64{2.1659, 1.4412, 0.038269}
	tauLargeP               = []float64{1.7339, 0.93202, -0.12745, -0.010368}

	critLevels = []string{"1%", "5%", "10%"}
	critCoef   = [][]float64{
		{-3.43035, -6.5393, -16.786, -79.433},
		{-2.86154, -2.8903, -4.234, -40.040},
		{-2.56677, -1.5384, -2.809, 0},
	}
)

func mackinnonP(tau float64) float64 {
	switch {
	case tau > tauMax:
		return 1
	case tau < tauMin:
		return 0
	}
	coef := tauLargeP
	if tau <= tauStar {
		coef = tauSmallP
	}
	return distuv.UnitNormal.CDF(poly(coef, tau))
}

func mackinnonCrit(nobs int) map[string]float64 {
	out := make(map[string]float64, len(critLevels))
	inv := 1 / float64(nobs)
	for i, lvl := range critLevels {
		out[lvl] = poly(critCoef[i], inv)
	}
	return out
}

// poly evaluates c0 + c1·x + c2·x² + ...
func poly(c []float64, x float64) float64 {
	var v float64
	for i := len(c) - 1; i >= 0; i-- {
		v = v*x + c[i]
	}
	return v
}
