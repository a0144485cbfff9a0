package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"pair-signals/go/pkg/ingest"
	"pair-signals/go/pkg/shared"
	"pair-signals/go/pkg/tickstore"
)

// Config specific to ingestion.
type Config struct {
	Ingest   shared.IngestConfig
	Postgres shared.PostgresConfig
	Kafka    shared.KafkaConfig
	Metrics  shared.MetricsConfig

	LogLevel       string  `envconfig:"LOG_LEVEL" default:"info" yaml:"log_level"`
	PublishCommits bool    `envconfig:"PUBLISH_COMMITS" default:"false" yaml:"publish_commits"`
	SimTicks       bool    `envconfig:"SIM_TICKS" default:"false" yaml:"sim_ticks"`
	SimTPS         float64 `envconfig:"SIM_TPS" default:"20" yaml:"sim_tps"`
	SimBasePrice   float64 `envconfig:"SIM_BASE_PRICE" default:"60000" yaml:"sim_base_price"`
	SimRatio       float64 `envconfig:"SIM_RATIO" default:"0.05" yaml:"sim_ratio"`
	SimSeed        int64   `envconfig:"SIM_SEED" default:"0" yaml:"sim_seed"`
}

func main() {
	cfg, err := shared.Load[Config]("")
	if err != nil {
		bootLog := shared.NewLogger("ingest", "info")
		bootLog.Fatal().Err(err).Msg("config")
	}
	log := shared.NewLogger("ingest", cfg.LogLevel)
	if err := cfg.Ingest.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid ingest config")
	}

	reg := prometheus.DefaultRegisterer
	metrics := ingest.NewMetrics(reg)
	ms := shared.NewMetricsServer(cfg.Metrics.Port, prometheus.DefaultGatherer, log)
	ms.Start()

	ctx, stopSig := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stopSig()

	db, err := shared.NewPgxPool(ctx, cfg.Postgres)
	if err != nil {
		log.Fatal().Err(err).Msg("postgres connect")
	}
	defer db.Close()
	store := tickstore.NewPostgres(db.Pool())
	if err := store.EnsureSchema(ctx); err != nil {
		log.Fatal().Err(err).Msg("ensure schema")
	}

	pipe := ingest.NewPipeline(cfg.Ingest, store, log, metrics, buildSource(cfg, log, metrics))
	if cfg.PublishCommits {
		prod := shared.NewProducer(cfg.Kafka)
		defer prod.Close()
		pipe.OnCommit(commitNotifier(prod, cfg.Kafka.CommitsTopic, log))
	}

	log.Info().
		Strs("symbols", cfg.Ingest.Tracked()).
		Bool("sim", cfg.SimTicks).
		Int("batch_size", cfg.Ingest.BatchSize).
		Dur("flush_interval", cfg.Ingest.FlushInterval).
		Bool("publish_commits", cfg.PublishCommits).
		Msg("running ingestion")

	runErr := pipe.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = ms.Shutdown(shutdownCtx)

	if runErr != nil {
		log.Error().Err(runErr).Bool("stalled", errors.Is(runErr, shared.ErrIngestionStalled)).Msg("ingestion stopped")
		db.Close()
		os.Exit(1)
	}
	log.Info().Msg("ingestion shutdown complete")
}

func buildSource(cfg Config, log zerolog.Logger, m *ingest.Metrics) ingest.Source {
	if cfg.SimTicks {
		return &ingest.SimSource{
			Symbols:   cfg.Ingest.Tracked(),
			TPS:       cfg.SimTPS,
			BasePrice: cfg.SimBasePrice,
			Ratio:     cfg.SimRatio,
			Seed:      cfg.SimSeed,
		}
	}
	return ingest.NewBinanceSource(cfg.Ingest.FeedURL, cfg.Ingest.Tracked(), log, m)
}

// commitNotifier publishes a BatchCommitted notice per stored batch. A failed
// publish is logged only; the batch itself is already durable.
func commitNotifier(prod shared.Producer, topic string, log zerolog.Logger) ingest.CommitHook {
	return func(ctx context.Context, b shared.Batch) {
		pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		notice := shared.NewBatchCommitted(b, time.Now())
		if err := prod.ProduceJSON(pctx, topic, []byte(b.ID.String()), notice); err != nil {
			log.Warn().Err(err).Str("batch_id", notice.BatchID).Msg("commit notice not published")
		}
	}
}
