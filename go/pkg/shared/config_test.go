package shared

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testConfig struct {
	Ingest    IngestConfig    `yaml:"ingest"`
	Analytics AnalyticsConfig `yaml:"analytics"`
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	cfg, err := Load[testConfig]("")
	require.NoError(t, err)

	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, cfg.Ingest.Tracked())
	assert.Equal(t, 100, cfg.Ingest.BatchSize)
	assert.Equal(t, 2*time.Second, cfg.Ingest.FlushInterval)
	assert.Equal(t, []time.Duration{time.Minute}, cfg.Analytics.Intervals)
	assert.Equal(t, 60, cfg.Analytics.Window)
	assert.NoError(t, cfg.Ingest.Validate())
	assert.NoError(t, cfg.Analytics.Validate())
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("SYMBOLS", "solusdt, btcusdt ,SOLUSDT")
	t.Setenv("BATCH_SIZE", "7")
	t.Setenv("RESAMPLE_INTERVALS", "1s,1m,5m")

	cfg, err := Load[testConfig]("")
	require.NoError(t, err)
	assert.Equal(t, []string{"SOLUSDT", "BTCUSDT"}, cfg.Ingest.Tracked())
	assert.Equal(t, 7, cfg.Ingest.BatchSize)
	assert.Equal(t, []time.Duration{time.Second, time.Minute, 5 * time.Minute}, cfg.Analytics.Intervals)
}

func TestLoadFileOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	require.NoError(t, os.WriteFile(path, []byte("ingest:\n  batch_size: 3\nanalytics:\n  window: 30\n  pairs: SOLUSDT/BTCUSDT\n"), 0o600))
	t.Setenv("CONFIG_FILE", path)

	cfg, err := Load[testConfig]("")
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Ingest.BatchSize)
	assert.Equal(t, 30, cfg.Analytics.Window)
	assert.Equal(t, 2*time.Second, cfg.Ingest.FlushInterval, "keys absent from the file keep env defaults")

	pairs, err := cfg.Analytics.PairList()
	require.NoError(t, err)
	assert.Equal(t, []Pair{{A: "SOLUSDT", B: "BTCUSDT"}}, pairs)
}

func TestLoadEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.yaml")
	require.NoError(t, os.WriteFile(path, nil, 0o600))
	t.Setenv("CONFIG_FILE", path)

	_, err := Load[testConfig]("")
	assert.NoError(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "nope.yaml"))
	_, err := Load[testConfig]("")
	assert.Error(t, err)
}

func TestIngestValidate(t *testing.T) {
	cfg := IngestConfig{Symbols: []string{" "}, BatchSize: 0, FlushInterval: 0, MaxPending: 0, MaxAttempts: 0}
	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"SYMBOLS", "BATCH_SIZE", "FLUSH_INTERVAL", "WRITE_MAX_ATTEMPTS", "WRITE_TIMEOUT"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestAnalyticsValidate(t *testing.T) {
	base := AnalyticsConfig{
		Pairs: "BTCUSDT/ETHUSDT", Intervals: []time.Duration{time.Minute}, Window: 20, HistoryBars: 100,
		EntryZ: 2, ExitZ: 0.5, Significance: 0.05, FillPolicy: "ffill", Epsilon: 1e-9,
	}
	require.NoError(t, base.Validate())

	cases := map[string]func(*AnalyticsConfig){
		"bad pair":        func(c *AnalyticsConfig) { c.Pairs = "BTCUSDT" },
		"same legs":       func(c *AnalyticsConfig) { c.Pairs = "BTCUSDT/btcusdt" },
		"window":          func(c *AnalyticsConfig) { c.Window = 1 },
		"history":         func(c *AnalyticsConfig) { c.HistoryBars = 10 },
		"thresholds":      func(c *AnalyticsConfig) { c.ExitZ = 2.5 },
		"significance":    func(c *AnalyticsConfig) { c.Significance = 1 },
		"fill policy":     func(c *AnalyticsConfig) { c.FillPolicy = "bfill" },
		"no intervals":    func(c *AnalyticsConfig) { c.Intervals = nil },
		"negative period": func(c *AnalyticsConfig) { c.Intervals = []time.Duration{-time.Second} },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := base
			mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestPairSymbols(t *testing.T) {
	a := AnalyticsConfig{Pairs: "BTCUSDT/ETHUSDT, ETHUSDT/SOLUSDT"}
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"}, a.PairSymbols())
}

func TestKafkaBrokerList(t *testing.T) {
	assert.Equal(t, []string{"a:9092", "b:9092"}, KafkaConfig{Brokers: "a:9092, b:9092"}.BrokerList())
	assert.Equal(t, []string{"localhost:9092"}, KafkaConfig{}.BrokerList())
}
