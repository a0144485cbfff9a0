package shared

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// KafkaConfig holds broker and topic details.
type KafkaConfig struct {
	Brokers      string `envconfig:"KAFKA_BROKER" default:"localhost:9092" yaml:"brokers"`
	GroupID      string `envconfig:"KAFKA_GROUP" default:"pair-analytics" yaml:"group_id"`
	CommitsTopic string `envconfig:"COMMITS_TOPIC" default:"ticks.committed" yaml:"commits_topic"`
	SignalsTopic string `envconfig:"SIGNALS_TOPIC" default:"signals.pairs" yaml:"signals_topic"`
	ProducerAcks string `envconfig:"KAFKA_ACKS" default:"all" yaml:"acks"`
	LingerMS     int    `envconfig:"KAFKA_LINGER_MS" default:"5" yaml:"linger_ms"`
	BatchBytes   int    `envconfig:"KAFKA_BATCH_BYTES" default:"1048576" yaml:"batch_bytes"` // 1MB
}

func (k KafkaConfig) BrokerList() []string {
	out := splitList(k.Brokers)
	if len(out) == 0 {
		return []string{"localhost:9092"}
	}
	return out
}

// PostgresConfig holds DB connection details.
type PostgresConfig struct {
	Host     string `envconfig:"POSTGRES_HOST" default:"localhost" yaml:"host"`
	Port     int    `envconfig:"POSTGRES_PORT" default:"5432" yaml:"port"`
	Database string `envconfig:"POSTGRES_DB" default:"market_data" yaml:"database"`
	User     string `envconfig:"POSTGRES_USER" default:"postgres" yaml:"user"`
	Password string `envconfig:"POSTGRES_PASSWORD" default:"password" yaml:"password"`
	PoolMax  int    `envconfig:"PG_POOL_MAX" default:"8" yaml:"pool_max"`
}

func (p PostgresConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s", p.User, p.Password, p.Host, p.Port, p.Database)
}

// MetricsConfig controls Prometheus listener.
type MetricsConfig struct {
	Port int `envconfig:"METRICS_PORT" default:"9000" yaml:"port"`
}

// IngestConfig holds the buffer, flush and retry knobs of the ingestion pipeline.
type IngestConfig struct {
	Symbols       []string      `envconfig:"SYMBOLS" default:"BTCUSDT,ETHUSDT" yaml:"symbols"`
	BatchSize     int           `envconfig:"BATCH_SIZE" default:"100" yaml:"batch_size"`
	FlushInterval time.Duration `envconfig:"FLUSH_INTERVAL" default:"2s" yaml:"flush_interval"`
	MaxPending    int           `envconfig:"MAX_PENDING" default:"10000" yaml:"max_pending"`
	MaxAttempts   int           `envconfig:"WRITE_MAX_ATTEMPTS" default:"5" yaml:"write_max_attempts"`
	RetryBase     time.Duration `envconfig:"WRITE_RETRY_BASE" default:"250ms" yaml:"write_retry_base"`
	RetryMax      time.Duration `envconfig:"WRITE_RETRY_MAX" default:"5s" yaml:"write_retry_max"`
	WriteTimeout  time.Duration `envconfig:"WRITE_TIMEOUT" default:"5s" yaml:"write_timeout"`
	FeedURL       string        `envconfig:"FEED_URL" default:"wss://stream.binance.com:9443/ws" yaml:"feed_url"`
}

// Tracked returns the configured symbols upper-cased and de-duplicated.
func (c IngestConfig) Tracked() []string {
	seen := make(map[string]struct{}, len(c.Symbols))
	out := make([]string, 0, len(c.Symbols))
	for _, s := range c.Symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func (c IngestConfig) Validate() error {
	var errs []error
	if len(c.Tracked()) == 0 {
		errs = append(errs, errors.New("SYMBOLS: at least one symbol required"))
	}
	if c.BatchSize < 1 {
		errs = append(errs, fmt.Errorf("BATCH_SIZE must be >= 1, got %d", c.BatchSize))
	}
	if c.FlushInterval <= 0 {
		errs = append(errs, fmt.Errorf("FLUSH_INTERVAL must be positive, got %s", c.FlushInterval))
	}
	if c.MaxPending < c.BatchSize {
		errs = append(errs, fmt.Errorf("MAX_PENDING (%d) must be >= BATCH_SIZE (%d)", c.MaxPending, c.BatchSize))
	}
	if c.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("WRITE_MAX_ATTEMPTS must be >= 1, got %d", c.MaxAttempts))
	}
	if c.WriteTimeout <= 0 {
		errs = append(errs, fmt.Errorf("WRITE_TIMEOUT must be positive, got %s", c.WriteTimeout))
	}
	return errors.Join(errs...)
}

// AnalyticsConfig holds pair analytics parameters.
type AnalyticsConfig struct {
	Pairs        string          `envconfig:"PAIRS" default:"BTCUSDT/ETHUSDT" yaml:"pairs"`
	Intervals    []time.Duration `envconfig:"RESAMPLE_INTERVALS" default:"1m" yaml:"intervals"`
	Window       int             `envconfig:"WINDOW" default:"60" yaml:"window"`
	HistoryBars  int             `envconfig:"HISTORY_BARS" default:"500" yaml:"history_bars"`
	EntryZ       float64         `envconfig:"ENTRY_Z" default:"2.0" yaml:"entry_z"`
	ExitZ        float64         `envconfig:"EXIT_Z" default:"0.5" yaml:"exit_z"`
	Significance float64         `envconfig:"ADF_SIGNIFICANCE" default:"0.05" yaml:"adf_significance"`
	ADFMaxLag    int             `envconfig:"ADF_MAX_LAG" default:"-1" yaml:"adf_max_lag"`
	FillPolicy   string          `envconfig:"FILL_POLICY" default:"ffill" yaml:"fill_policy"`
	Epsilon      float64         `envconfig:"VARIANCE_EPSILON" default:"1e-9" yaml:"variance_epsilon"`
}

// PairList parses "A/B,C/D" into pairs.
func (a AnalyticsConfig) PairList() ([]Pair, error) {
	var out []Pair
	for _, raw := range splitList(a.Pairs) {
		legs := strings.Split(raw, "/")
		if len(legs) != 2 {
			return nil, fmt.Errorf("PAIRS: %q is not A/B", raw)
		}
		p := Pair{A: strings.ToUpper(strings.TrimSpace(legs[0])), B: strings.ToUpper(strings.TrimSpace(legs[1]))}
		if p.A == "" || p.B == "" || p.A == p.B {
			return nil, fmt.Errorf("PAIRS: invalid pair %q", raw)
		}
		out = append(out, p)
	}
	return out, nil
}

// PairSymbols lists every symbol referenced by the configured pairs.
func (a AnalyticsConfig) PairSymbols() []string {
	pairs, err := a.PairList()
	if err != nil {
		return nil
	}
	seen := map[string]struct{}{}
	var out []string
	for _, p := range pairs {
		for _, s := range []string{p.A, p.B} {
			if _, ok := seen[s]; !ok {
				seen[s] = struct{}{}
				out = append(out, s)
			}
		}
	}
	return out
}

func (a AnalyticsConfig) Validate() error {
	var errs []error
	if _, err := a.PairList(); err != nil {
		errs = append(errs, err)
	}
	if len(a.Intervals) == 0 {
		errs = append(errs, errors.New("RESAMPLE_INTERVALS: at least one interval required"))
	}
	for _, iv := range a.Intervals {
		if iv <= 0 {
			errs = append(errs, fmt.Errorf("RESAMPLE_INTERVALS: %s is not positive", iv))
		}
	}
	if a.Window < 2 {
		errs = append(errs, fmt.Errorf("WINDOW must be >= 2, got %d", a.Window))
	}
	if a.HistoryBars < a.Window {
		errs = append(errs, fmt.Errorf("HISTORY_BARS (%d) must be >= WINDOW (%d)", a.HistoryBars, a.Window))
	}
	if a.ExitZ < 0 || a.EntryZ <= a.ExitZ {
		errs = append(errs, fmt.Errorf("need 0 <= EXIT_Z < ENTRY_Z, got exit=%g entry=%g", a.ExitZ, a.EntryZ))
	}
	if a.Significance <= 0 || a.Significance >= 1 {
		errs = append(errs, fmt.Errorf("ADF_SIGNIFICANCE must be in (0,1), got %g", a.Significance))
	}
	switch a.FillPolicy {
	case "ffill", "omit":
	default:
		errs = append(errs, fmt.Errorf("FILL_POLICY must be ffill or omit, got %q", a.FillPolicy))
	}
	if a.Epsilon <= 0 {
		errs = append(errs, fmt.Errorf("VARIANCE_EPSILON must be positive, got %g", a.Epsilon))
	}
	return errors.Join(errs...)
}

// APIConfig controls the HTTP read interface.
type APIConfig struct {
	BindAddress string   `envconfig:"API_BIND" default:"0.0.0.0:8080" yaml:"bind_address"`
	CORSOrigins []string `envconfig:"API_CORS_ORIGINS" default:"http://localhost:3000" yaml:"cors_origins"`
	RatePerSec  float64  `envconfig:"API_RATE_PER_SEC" default:"20" yaml:"rate_per_sec"`
	RateBurst   int      `envconfig:"API_RATE_BURST" default:"40" yaml:"rate_burst"`
}

// CacheConfig selects the analytics response cache. Empty RedisAddr keeps it in memory.
type CacheConfig struct {
	RedisAddr string        `envconfig:"REDIS_ADDR" yaml:"redis_addr"`
	TTL       time.Duration `envconfig:"CACHE_TTL" default:"2s" yaml:"ttl"`
}

// Load fills the given struct from environment, then overlays the YAML file
// named by CONFIG_FILE when set. Keys present in the file win.
func Load[T any](prefix string) (T, error) {
	var cfg T
	if err := envconfig.Process(prefix, &cfg); err != nil {
		return cfg, err
	}
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := overlayFile(path, &cfg); err != nil {
			return cfg, err
		}
	}
	return cfg, nil
}

func overlayFile(path string, dst any) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config: %w", err)
	}
	defer f.Close()
	if err := yaml.NewDecoder(f).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode yaml %s: %w", path, err)
	}
	return nil
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
