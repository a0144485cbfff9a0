package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"pair-signals/go/pkg/api"
	"pair-signals/go/pkg/pairs"
	"pair-signals/go/pkg/shared"
	"pair-signals/go/pkg/signalbus"
	"pair-signals/go/pkg/tickstore"
)

type Config struct {
	Analytics shared.AnalyticsConfig
	API       shared.APIConfig
	Cache     shared.CacheConfig
	Postgres  shared.PostgresConfig
	Kafka     shared.KafkaConfig
	Metrics   shared.MetricsConfig

	LogLevel       string        `envconfig:"LOG_LEVEL" default:"info" yaml:"log_level"`
	RecomputeEvery time.Duration `envconfig:"RECOMPUTE_EVERY" default:"15s" yaml:"recompute_every"`
	FollowCommits  bool          `envconfig:"FOLLOW_COMMITS" default:"true" yaml:"follow_commits"`
	PublishSignals bool          `envconfig:"PUBLISH_SIGNALS" default:"true" yaml:"publish_signals"`
}

func main() {
	cfg, err := shared.Load[Config]("")
	if err != nil {
		bootLog := shared.NewLogger("pair-analytics", "info")
		bootLog.Fatal().Err(err).Msg("config")
	}
	log := shared.NewLogger("pair-analytics", cfg.LogLevel)

	set, err := pairs.SettingsFromConfig(cfg.Analytics)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid analytics config")
	}
	pairList, _ := cfg.Analytics.PairList()

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

	cache, closeCache := buildCache(ctx, cfg.Cache, log)
	defer closeCache()

	svc := pairs.NewService(store, set)
	srv := api.NewServer(cfg.API, svc, cache, cfg.Cache.TTL, log)
	srv.SetPing(db.Ping)

	var pub *signalbus.Publisher
	if cfg.PublishSignals {
		prod := shared.NewProducer(cfg.Kafka)
		defer prod.Close()
		pub = signalbus.NewPublisher(prod, cfg.Kafka.SignalsTopic, log, prometheus.DefaultRegisterer)
	}
	loop := signalbus.NewLoop(svc, pub, pairList, set.Intervals, cfg.RecomputeEvery, log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx) })
	g.Go(func() error {
		if err := srv.AwaitData(gctx, store, cfg.Analytics.PairSymbols()); err != nil {
			return nil
		}
		loop.Notify()
		return loop.Run(gctx)
	})
	if cfg.FollowCommits {
		consumer, err := shared.NewConsumer(cfg.Kafka, cfg.Kafka.CommitsTopic)
		if err != nil {
			log.Fatal().Err(err).Msg("kafka consumer")
		}
		defer consumer.Close()
		g.Go(func() error { return loop.FollowCommits(gctx, consumer) })
	}

	log.Info().
		Int("pairs", len(pairList)).
		Str("api", cfg.API.BindAddress).
		Dur("recompute_every", cfg.RecomputeEvery).
		Bool("follow_commits", cfg.FollowCommits).
		Msg("running pair analytics")

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("pair analytics stopped")
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = ms.Shutdown(shutdownCtx)
	log.Info().Msg("pair analytics shutdown complete")
}

// buildCache uses Redis when an address is configured and reachable, and an
// in-process cache otherwise.
func buildCache(ctx context.Context, cfg shared.CacheConfig, log zerolog.Logger) (api.Cache, func()) {
	if cfg.RedisAddr == "" {
		return api.NewMemoryCache(), func() {}
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pctx).Err(); err != nil {
		log.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("redis unavailable, caching in memory")
		_ = client.Close()
		return api.NewMemoryCache(), func() {}
	}
	return api.NewRedisCache(client, "pairsig:"), func() { _ = client.Close() }
}
