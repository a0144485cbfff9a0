package shared

import (
	"bytes"
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricHelpersRegister(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCounterVec(reg, prometheus.CounterOpts{Name: "x_total", Help: "x"}, []string{"reason"})
	g := NewGauge(reg, prometheus.GaugeOpts{Name: "y", Help: "y"})
	NewHist(reg, prometheus.HistogramOpts{Name: "z_seconds", Help: "z"})

	c.WithLabelValues("price").Add(2)
	g.Set(4)
	assert.Equal(t, 2.0, testutil.ToFloat64(c.WithLabelValues("price")))

	n, err := testutil.GatherAndCount(reg)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestMetricHelpersNilRegisterer(t *testing.T) {
	assert.NotPanics(t, func() {
		NewCounter(nil, prometheus.CounterOpts{Name: "dup", Help: "d"}).Inc()
		NewCounter(nil, prometheus.CounterOpts{Name: "dup", Help: "d"}).Inc()
	})
}

func TestNewLoggerLevel(t *testing.T) {
	assert.Equal(t, "debug", NewLogger("t", "DEBUG").GetLevel().String())
	assert.Equal(t, "info", NewLogger("t", "bogus").GetLevel().String())
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestMetricsServerLogsListenFailure(t *testing.T) {
	taken, err := net.Listen("tcp", ":0")
	require.NoError(t, err)
	defer taken.Close()
	port := taken.Addr().(*net.TCPAddr).Port

	out := &lockedBuffer{}
	ms := NewMetricsServer(port, prometheus.NewRegistry(), zerolog.New(out))
	ms.Start()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = ms.Shutdown(ctx)
	}()

	require.Eventually(t, func() bool {
		return bytes.Contains([]byte(out.String()), []byte("metrics server stopped"))
	}, 2*time.Second, 10*time.Millisecond)
	assert.Contains(t, out.String(), `"level":"warn"`)
}
