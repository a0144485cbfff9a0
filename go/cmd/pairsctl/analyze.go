package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"pair-signals/go/pkg/pairs"
	"pair-signals/go/pkg/shared"
)

type analyzeConfig struct {
	Analytics shared.AnalyticsConfig
	Postgres  shared.PostgresConfig
}

type analyzeFlags struct {
	store    string
	interval time.Duration
	window   int
	summary  bool
}

// analyzeSummary drops the per-bar series.
type analyzeSummary struct {
	Pair         shared.Pair       `json:"pair"`
	Interval     string            `json:"interval"`
	Bars         int               `json:"bars"`
	AsOf         time.Time         `json:"as_of"`
	HedgeRatio   *pairs.HedgeRatio `json:"hedge_ratio"`
	LatestZ      *float64          `json:"latest_z"`
	Stationarity *pairs.ADFResult  `json:"stationarity"`
	Position     pairs.Position    `json:"position"`
	PnL          float64           `json:"pnl"`
	Trades       int               `json:"trades"`
}

func newAnalyzeCmd(open storeOpener) *cobra.Command {
	var f analyzeFlags
	cmd := &cobra.Command{
		Use:   "analyze A B",
		Short: "Print pair analytics for two symbols as JSON",
		Long: `Compute hedge ratio, spread, z-score, stationarity and the threshold
backtest for one pair from stored ticks and print them as JSON.

Examples:
  pairsctl analyze BTCUSDT ETHUSDT
  pairsctl analyze BTCUSDT ETHUSDT --interval 5m --window 120 --summary`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			return analyze(ctx, cmd, f, open, strings.ToUpper(args[0]), strings.ToUpper(args[1]))
		},
	}
	cmd.Flags().StringVar(&f.store, "store", "postgres", "Tick store to read (postgres)")
	cmd.Flags().DurationVar(&f.interval, "interval", 0, "Bar interval (default: first of RESAMPLE_INTERVALS)")
	cmd.Flags().IntVar(&f.window, "window", 0, "Rolling window in bars (default: WINDOW)")
	cmd.Flags().BoolVar(&f.summary, "summary", false, "Print only the latest values")
	return cmd
}

func analyze(ctx context.Context, cmd *cobra.Command, f analyzeFlags, open storeOpener, a, b string) error {
	if a == b {
		return fmt.Errorf("pair legs must differ, got %s twice", a)
	}
	if f.store == "memory" {
		return errors.New("analyze reads stored ticks; a fresh memory store is always empty, use --store postgres")
	}
	cfg, err := shared.Load[analyzeConfig]("")
	if err != nil {
		return err
	}
	set, err := pairs.SettingsFromConfig(cfg.Analytics)
	if err != nil {
		return err
	}
	interval := f.interval
	if interval == 0 {
		interval = set.Intervals[0]
	}
	if interval < 0 {
		return fmt.Errorf("interval must be positive, got %s", interval)
	}

	store, release, err := open(ctx, f.store, cfg.Postgres)
	if err != nil {
		return err
	}
	defer release()

	res, err := pairs.NewService(store, set).PairAnalytics(ctx, a, b, interval, f.window)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if !f.summary {
		return enc.Encode(res)
	}
	sum := analyzeSummary{
		Pair:         res.Pair,
		Interval:     res.Interval,
		Bars:         res.Bars,
		AsOf:         res.AsOf,
		HedgeRatio:   res.HedgeRatio,
		Stationarity: res.Stationarity,
		Position:     res.Backtest.FinalState,
		PnL:          res.Backtest.PnL,
		Trades:       res.Backtest.Trades,
	}
	if z, ok := res.LatestZ(); ok {
		sum.LatestZ = &z.Value
	}
	return enc.Encode(sum)
}
