package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"pair-signals/go/pkg/api"
	"pair-signals/go/pkg/ingest"
	"pair-signals/go/pkg/pairs"
	"pair-signals/go/pkg/shared"
	"pair-signals/go/pkg/signalbus"
)

type runConfig struct {
	Ingest    shared.IngestConfig
	Analytics shared.AnalyticsConfig
	API       shared.APIConfig
	Cache     shared.CacheConfig
	Postgres  shared.PostgresConfig
	Kafka     shared.KafkaConfig
	Metrics   shared.MetricsConfig

	RecomputeEvery time.Duration `envconfig:"RECOMPUTE_EVERY" default:"15s" yaml:"recompute_every"`
}

type runFlags struct {
	store    string
	sim      bool
	duration time.Duration
	publish  bool
	metrics  bool
}

func newRunCmd(rf *rootFlags, open storeOpener) *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Ingest ticks and serve pair analytics",
		Long: `Run the ingestion pipeline, the HTTP read API and the signal loop together.
The API answers 503 until every symbol of every configured pair has a stored tick.

Examples:
  pairsctl run --sim
  pairsctl run --store postgres --publish
  pairsctl run --sim --duration 10m`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runAll(cmd.Context(), rf, f, open)
		},
	}
	cmd.Flags().StringVar(&f.store, "store", "memory", "Tick store: memory or postgres")
	cmd.Flags().BoolVar(&f.sim, "sim", false, "Use the built-in simulated feed instead of Binance")
	cmd.Flags().DurationVar(&f.duration, "duration", 0, "Stop after this long (0 runs until interrupted)")
	cmd.Flags().BoolVar(&f.publish, "publish", false, "Publish signals to Kafka")
	cmd.Flags().BoolVar(&f.metrics, "metrics", true, "Serve Prometheus metrics on METRICS_PORT")
	return cmd
}

func runAll(parent context.Context, rf *rootFlags, f runFlags, open storeOpener) error {
	if parent == nil {
		parent = context.Background()
	}
	cfg, err := shared.Load[runConfig]("")
	if err != nil {
		return err
	}
	log := shared.NewLogger("pairsctl", rf.logLevel)

	set, err := pairs.SettingsFromConfig(cfg.Analytics)
	if err != nil {
		return err
	}
	pairList, _ := cfg.Analytics.PairList()
	symbols := cfg.Analytics.PairSymbols()
	cfg.Ingest.Symbols = append(cfg.Ingest.Symbols, symbols...)
	if err := cfg.Ingest.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGTERM, syscall.SIGINT)
	defer stop()
	if f.duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithCancel(ctx)
		defer cancel()
		timer := time.AfterFunc(f.duration, cancel)
		defer timer.Stop()
	}

	store, release, err := open(ctx, f.store, cfg.Postgres)
	if err != nil {
		return err
	}
	defer release()

	reg := prometheus.NewRegistry()
	if f.metrics {
		ms := shared.NewMetricsServer(cfg.Metrics.Port, reg, log)
		ms.Start()
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = ms.Shutdown(sctx)
		}()
	}
	m := ingest.NewMetrics(reg)

	var src ingest.Source
	if f.sim {
		src = &ingest.SimSource{Symbols: cfg.Ingest.Tracked()}
	} else {
		src = ingest.NewBinanceSource(cfg.Ingest.FeedURL, cfg.Ingest.Tracked(), log, m)
	}
	pipe := ingest.NewPipeline(cfg.Ingest, store, log, m, src)

	svc := pairs.NewService(store, set)
	srv := api.NewServer(cfg.API, svc, api.NewMemoryCache(), cfg.Cache.TTL, log)

	var pub *signalbus.Publisher
	if f.publish {
		prod := shared.NewProducer(cfg.Kafka)
		defer prod.Close()
		pub = signalbus.NewPublisher(prod, cfg.Kafka.SignalsTopic, log, reg)
	}
	loop := signalbus.NewLoop(svc, pub, pairList, set.Intervals, cfg.RecomputeEvery, log)
	pipe.OnCommit(func(context.Context, shared.Batch) { loop.Notify() })

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return pipe.Run(gctx) })
	g.Go(func() error { return srv.Run(gctx) })
	g.Go(func() error {
		if err := srv.AwaitData(gctx, store, symbols); err != nil {
			return nil
		}
		return loop.Run(gctx)
	})

	log.Info().
		Strs("symbols", cfg.Ingest.Tracked()).
		Str("store", f.store).
		Bool("sim", f.sim).
		Str("api", cfg.API.BindAddress).
		Msg("pairsctl running")

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
