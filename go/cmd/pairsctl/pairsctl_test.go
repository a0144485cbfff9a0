package main

import (
	"bytes"
	"context"
	"encoding/json"
	"math/rand"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pair-signals/go/pkg/pairs"
	"pair-signals/go/pkg/shared"
	"pair-signals/go/pkg/tickstore"
)

func fixedStore(s tickstore.Store) storeOpener {
	return func(context.Context, string, shared.PostgresConfig) (tickstore.Store, func(), error) {
		return s, func() {}, nil
	}
}

func analyticsEnv(t *testing.T) {
	t.Helper()
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("PAIRS", "AAA/BBB")
	t.Setenv("RESAMPLE_INTERVALS", "1s,1m")
	t.Setenv("WINDOW", "20")
	t.Setenv("HISTORY_BARS", "200")
}

func seeded(t *testing.T, n int) *tickstore.Memory {
	t.Helper()
	rng := rand.New(rand.NewSource(11))
	t0 := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	store := tickstore.NewMemory()
	x := 50.0
	var ticks []shared.Tick
	for i := 0; i < n; i++ {
		x += rng.NormFloat64()
		ts := t0.Add(time.Duration(i)*time.Second + 200*time.Millisecond)
		ticks = append(ticks,
			shared.Tick{Symbol: "BBB", Time: ts, Price: x, Quantity: 1},
			shared.Tick{Symbol: "AAA", Time: ts, Price: 3*x + rng.NormFloat64(), Quantity: 1},
		)
	}
	require.NoError(t, store.Append(context.Background(), shared.Batch{ID: uuid.New(), Ticks: ticks}))
	return store
}

func execute(t *testing.T, open storeOpener, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd(open)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestAnalyzeFullOutput(t *testing.T) {
	analyticsEnv(t)
	out, err := execute(t, fixedStore(seeded(t, 300)), "analyze", "aaa", "bbb")
	require.NoError(t, err)

	var res pairs.Analytics
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, shared.Pair{A: "AAA", B: "BBB"}, res.Pair)
	assert.Equal(t, "1s", res.Interval)
	assert.Equal(t, 20, res.Window)
	assert.Equal(t, 200, res.Bars)
	require.NotNil(t, res.HedgeRatio)
	assert.InDelta(t, 3.0, res.HedgeRatio.Slope, 0.2)
	assert.Len(t, res.ZScore, 200)
}

func TestAnalyzeSummary(t *testing.T) {
	analyticsEnv(t)
	out, err := execute(t, fixedStore(seeded(t, 300)), "analyze", "AAA", "BBB", "--window", "30", "--summary")
	require.NoError(t, err)

	var sum analyzeSummary
	require.NoError(t, json.Unmarshal([]byte(out), &sum))
	assert.Equal(t, 200, sum.Bars)
	require.NotNil(t, sum.LatestZ)
	require.NotNil(t, sum.Stationarity)
	assert.Contains(t, []pairs.Position{pairs.Flat, pairs.LongSpread, pairs.ShortSpread}, sum.Position)
}

func TestAnalyzeErrors(t *testing.T) {
	analyticsEnv(t)

	_, err := execute(t, fixedStore(tickstore.NewMemory()), "analyze", "AAA", "BBB")
	assert.ErrorIs(t, err, shared.ErrInsufficientData)

	_, err = execute(t, fixedStore(tickstore.NewMemory()), "analyze", "AAA", "aaa")
	assert.Error(t, err)

	_, err = execute(t, fixedStore(tickstore.NewMemory()), "analyze", "AAA")
	assert.Error(t, err)

	_, err = execute(t, openStore, "analyze", "AAA", "BBB", "--store", "sqlite")
	assert.ErrorContains(t, err, "unknown store")
}

func TestAnalyzeStoreDefaults(t *testing.T) {
	analyticsEnv(t)

	var kinds []string
	recording := func(_ context.Context, kind string, _ shared.PostgresConfig) (tickstore.Store, func(), error) {
		kinds = append(kinds, kind)
		return seeded(t, 300), func() {}, nil
	}
	_, err := execute(t, recording, "analyze", "AAA", "BBB", "--summary")
	require.NoError(t, err)
	assert.Equal(t, []string{"postgres"}, kinds)

	_, err = execute(t, recording, "analyze", "AAA", "BBB", "--store", "memory")
	assert.ErrorContains(t, err, "--store postgres")
	assert.Len(t, kinds, 1)
}

func TestRunWithSimulatedFeed(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("SYMBOLS", "BTCUSDT,ETHUSDT")
	t.Setenv("PAIRS", "BTCUSDT/ETHUSDT")
	t.Setenv("API_BIND", "127.0.0.1:0")
	t.Setenv("FLUSH_INTERVAL", "100ms")

	store := tickstore.NewMemory()
	_, err := execute(t, fixedStore(store), "run", "--sim", "--duration", "600ms", "--metrics=false")
	require.NoError(t, err)
	assert.Positive(t, store.Count("BTCUSDT")+store.Count("ETHUSDT"))
}
