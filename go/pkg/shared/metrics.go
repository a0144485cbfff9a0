package shared

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// MetricsServer exposes Prometheus metrics on /metrics.
type MetricsServer struct {
	srv *http.Server
	log zerolog.Logger
}

func NewMetricsServer(port int, gatherer prometheus.Gatherer, log zerolog.Logger) *MetricsServer {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return &MetricsServer{
		srv: &http.Server{
			Addr:              ":" + strconv.Itoa(port),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		log: log,
	}
}

// Start serves in the background. A listener failure is logged and the
// process carries on without metrics.
func (m *MetricsServer) Start() {
	go func() {
		m.log.Info().Str("addr", m.srv.Addr).Msg("metrics listening")
		if err := m.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.log.Warn().Err(err).Str("addr", m.srv.Addr).Msg("metrics server stopped")
		}
	}()
}

func (m *MetricsServer) Shutdown(ctx context.Context) error { return m.srv.Shutdown(ctx) }

// Constructors below register with reg when it is non-nil, so tests can pass a
// fresh registry (or nil) without colliding on the default one.

func NewCounter(reg prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	c := prometheus.NewCounter(opts)
	register(reg, c)
	return c
}

func NewCounterVec(reg prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	c := prometheus.NewCounterVec(opts, labels)
	register(reg, c)
	return c
}

func NewGauge(reg prometheus.Registerer, opts prometheus.GaugeOpts) prometheus.Gauge {
	g := prometheus.NewGauge(opts)
	register(reg, g)
	return g
}

func NewHist(reg prometheus.Registerer, opts prometheus.HistogramOpts) prometheus.Histogram {
	h := prometheus.NewHistogram(opts)
	register(reg, h)
	return h
}

func register(reg prometheus.Registerer, c prometheus.Collector) {
	if reg != nil {
		reg.MustRegister(c)
	}
}
