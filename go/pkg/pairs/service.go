package pairs

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"pair-signals/go/pkg/bars"
	"pair-signals/go/pkg/shared"
	"pair-signals/go/pkg/tickstore"
)

// Settings are the analytics knobs shared by every request.
type Settings struct {
	Intervals   []time.Duration
	Window      int
	HistoryBars int
	Thresholds  Thresholds
	ADF         ADFOptions
	Fill        bars.FillPolicy
	Epsilon     float64
}

func SettingsFromConfig(c shared.AnalyticsConfig) (Settings, error) {
	if err := c.Validate(); err != nil {
		return Settings{}, err
	}
	fill, err := bars.ParsePolicy(c.FillPolicy)
	if err != nil {
		return Settings{}, err
	}
	return Settings{
		Intervals:   slices.Clone(c.Intervals),
		Window:      c.Window,
		HistoryBars: c.HistoryBars,
		Thresholds:  Thresholds{Entry: c.EntryZ, Exit: c.ExitZ},
		ADF:         ADFOptions{MaxLag: c.ADFMaxLag, Significance: c.Significance},
		Fill:        fill,
		Epsilon:     c.Epsilon,
	}, nil
}

// Allows reports whether interval is one of the configured resample intervals.
func (s Settings) Allows(interval time.Duration) bool {
	return slices.Contains(s.Intervals, interval)
}

// Analytics is the full read model for one pair on one interval.
type Analytics struct {
	Pair         shared.Pair    `json:"pair"`
	Interval     string         `json:"interval"`
	Window       int            `json:"window"`
	Bars         int            `json:"bars"`
	AsOf         time.Time      `json:"as_of"`
	StatsA       Snapshot       `json:"stats_a"`
	StatsB       Snapshot       `json:"stats_b"`
	HedgeRatio   *HedgeRatio    `json:"hedge_ratio"`
	Spread       []Point        `json:"spread"`
	ZScore       []Point        `json:"zscore"`
	HedgeRatios  []Point        `json:"hedge_ratios"`
	Correlation  []Point        `json:"correlation"`
	Stationarity *ADFResult     `json:"stationarity"`
	Backtest     BacktestResult `json:"backtest"`
}

// LatestZ is the last ready z-score, if any.
func (a *Analytics) LatestZ() (Point, bool) {
	for i := len(a.ZScore) - 1; i >= 0; i-- {
		if a.ZScore[i].Ready() {
			return a.ZScore[i], true
		}
	}
	return Point{}, false
}

// Service derives bars and pair analytics from committed ticks on demand.
type Service struct {
	store tickstore.Store
	set   Settings
}

func NewService(store tickstore.Store, set Settings) *Service {
	if set.Epsilon <= 0 {
		set.Epsilon = DefaultEpsilon
	}
	if set.Fill == "" {
		set.Fill = bars.FillForward
	}
	return &Service{store: store, set: set}
}

func (s *Service) Settings() Settings { return s.set }

// RecentBars returns up to count bars ending at the symbol's latest tick.
func (s *Service) RecentBars(ctx context.Context, symbol string, interval time.Duration, count int) ([]shared.Bar, error) {
	if interval <= 0 || count < 1 {
		return nil, fmt.Errorf("recent bars: interval %s count %d", interval, count)
	}
	last, ok, err := s.store.Latest(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if !ok {
		return []shared.Bar{}, nil
	}
	bs, err := s.load(ctx, symbol, interval, count, last.Time)
	if err != nil {
		return nil, err
	}
	return bars.Tail(bs, count), nil
}

func (s *Service) load(ctx context.Context, symbol string, interval time.Duration, count int, end time.Time) ([]shared.Bar, error) {
	from := bars.Bucket(end, interval).Add(-time.Duration(count-1) * interval)
	ticks, err := s.store.Range(ctx, symbol, from, time.Time{})
	if err != nil {
		return nil, fmt.Errorf("range %s: %w", symbol, err)
	}
	return bars.Resample(ticks, interval, s.set.Fill), nil
}

// PairAnalytics computes every pair output over the last HistoryBars bars.
// A window of zero uses the configured one.
func (s *Service) PairAnalytics(ctx context.Context, a, b string, interval time.Duration, window int) (*Analytics, error) {
	if window <= 0 {
		window = s.set.Window
	}
	if window < 2 {
		return nil, fmt.Errorf("window %d: %w", window, shared.ErrInsufficientData)
	}
	count := max(s.set.HistoryBars, window)

	lastA, okA, err := s.store.Latest(ctx, a)
	if err != nil {
		return nil, err
	}
	lastB, okB, err := s.store.Latest(ctx, b)
	if err != nil {
		return nil, err
	}
	if !okA || !okB {
		return nil, fmt.Errorf("pair %s/%s has no ticks yet: %w", a, b, shared.ErrInsufficientData)
	}
	end := lastA.Time
	if lastB.Time.After(end) {
		end = lastB.Time
	}

	barsA, err := s.load(ctx, a, interval, count, end)
	if err != nil {
		return nil, err
	}
	barsB, err := s.load(ctx, b, interval, count, end)
	if err != nil {
		return nil, err
	}
	alA, alB, err := bars.Align(barsA, barsB, interval)
	if err != nil {
		return nil, err
	}
	if len(alA) < 2 {
		return nil, fmt.Errorf("pair %s/%s: %d common bars: %w", a, b, len(alA), shared.ErrInsufficientData)
	}

	out := &Analytics{
		Pair:     shared.Pair{A: a, B: b},
		Interval: interval.String(),
		Window:   window,
		Bars:     len(alA),
		AsOf:     alA[len(alA)-1].Start,
	}
	if out.StatsA, err = Stats(a, alA, window); err != nil {
		return nil, err
	}
	if out.StatsB, err = Stats(b, alB, window); err != nil {
		return nil, err
	}

	hr, err := FitHedgeRatio(alA, alB, window)
	switch {
	case err == nil:
		out.HedgeRatio = &hr
	case !errors.Is(err, shared.ErrDegenerateVariance):
		return nil, err
	}

	series, err := RollingSpread(alA, alB, window, s.set.Epsilon)
	if err != nil {
		return nil, err
	}
	out.Spread, out.ZScore, out.HedgeRatios = series.Spread, series.ZScore, series.HedgeRatios

	if out.Correlation, err = RollingCorrelation(alA, alB, window); err != nil {
		return nil, err
	}

	// ADF needs an evenly spaced sample: only the latest contiguous run of
	// ready spread points is tested.
	if adf, err := ADF(TrailingReady(out.Spread), s.set.ADF); err == nil {
		out.Stationarity = &adf
	} else if !errors.Is(err, shared.ErrInsufficientData) && !errors.Is(err, shared.ErrDegenerateVariance) {
		return nil, err
	}

	out.Backtest = Backtest(out.ZScore, out.Spread, s.set.Thresholds)
	return out, nil
}
