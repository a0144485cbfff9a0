// Package api serves bars and pair analytics over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"pair-signals/go/pkg/pairs"
	"pair-signals/go/pkg/shared"
)

// Analytics is the read model the server exposes.
type Analytics interface {
	RecentBars(ctx context.Context, symbol string, interval time.Duration, count int) ([]shared.Bar, error)
	PairAnalytics(ctx context.Context, a, b string, interval time.Duration, window int) (*pairs.Analytics, error)
	Settings() pairs.Settings
}

const (
	defaultBarCount = 100
	maxBarCount     = 5000
)

type Server struct {
	cfg      shared.APIConfig
	svc      Analytics
	cache    Cache
	cacheTTL time.Duration
	log      zerolog.Logger
	ready    atomic.Bool
	ping     func(context.Context) error

	mu       sync.Mutex
	limiters map[string]*clientLimiter
	now      func() time.Time
}

type clientLimiter struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

func NewServer(cfg shared.APIConfig, svc Analytics, cache Cache, cacheTTL time.Duration, log zerolog.Logger) *Server {
	if cache == nil {
		cache = NewMemoryCache()
	}
	return &Server{
		cfg:      cfg,
		svc:      svc,
		cache:    cache,
		cacheTTL: cacheTTL,
		log:      log,
		limiters: make(map[string]*clientLimiter),
		now:      time.Now,
	}
}

// SetPing adds a dependency check to /health.
func (s *Server) SetPing(ping func(context.Context) error) { s.ping = ping }

// SetReady opens the data endpoints once every tracked symbol has data.
func (s *Server) SetReady(ok bool) { s.ready.Store(ok) }

func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()
	v1 := router.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/health", s.getHealth).Methods(http.MethodGet)
	v1.HandleFunc("/bars/{symbol}", s.gated(s.getBars)).Methods(http.MethodGet)
	v1.HandleFunc("/pairs/{a}/{b}", s.gated(s.getPair)).Methods(http.MethodGet)
	v1.Use(s.rateLimit)

	c := cors.New(cors.Options{
		AllowedOrigins: s.cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"*"},
		MaxAge:         3600,
	})
	return c.Handler(router)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.BindAddress,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.cfg.BindAddress).Msg("api listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) getHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	body := map[string]any{"ready": s.ready.Load()}
	if !s.ready.Load() {
		status = http.StatusServiceUnavailable
	}
	if s.ping != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.ping(ctx); err != nil {
			status = http.StatusServiceUnavailable
			body["store_error"] = err.Error()
		}
	}
	body["status"] = http.StatusText(status)
	writeJSON(w, status, body)
}

func (s *Server) gated(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.ready.Load() {
			writeError(w, http.StatusServiceUnavailable, "waiting for data")
			return
		}
		next(w, r)
	}
}

func (s *Server) getBars(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(mux.Vars(r)["symbol"])
	interval, err := s.interval(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	count, err := intParam(r, "count", defaultBarCount, 1, maxBarCount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	bs, err := s.svc.RecentBars(r.Context(), symbol, interval, count)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"symbol":   symbol,
		"interval": interval.String(),
		"count":    len(bs),
		"bars":     bs,
	})
}

func (s *Server) getPair(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	a, b := strings.ToUpper(vars["a"]), strings.ToUpper(vars["b"])
	if a == b {
		writeError(w, http.StatusBadRequest, "pair legs must differ")
		return
	}
	interval, err := s.interval(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	set := s.svc.Settings()
	window, err := intParam(r, "window", set.Window, 2, max(set.HistoryBars, 2))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	key := fmt.Sprintf("pairs:%s:%s:%s:%d", a, b, interval, window)
	if body, ok, err := s.cache.Get(r.Context(), key); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("cache read failed")
	} else if ok {
		w.Header().Set("X-Cache", "hit")
		writeRaw(w, http.StatusOK, body)
		return
	}

	res, err := s.svc.PairAnalytics(r.Context(), a, b, interval, window)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	body, err := json.Marshal(res)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.cache.Set(r.Context(), key, body, s.cacheTTL); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("cache write failed")
	}
	w.Header().Set("X-Cache", "miss")
	writeRaw(w, http.StatusOK, body)
}

// interval reads ?interval=, defaulting to the first configured one.
func (s *Server) interval(r *http.Request) (time.Duration, error) {
	set := s.svc.Settings()
	raw := r.URL.Query().Get("interval")
	if raw == "" {
		if len(set.Intervals) == 0 {
			return 0, errors.New("no resample intervals configured")
		}
		return set.Intervals[0], nil
	}
	iv, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("interval: %w", err)
	}
	if !set.Allows(iv) {
		return 0, fmt.Errorf("interval %s is not configured", iv)
	}
	return iv, nil
}

func intParam(r *http.Request, name string, def, lo, hi int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	if v < lo || v > hi {
		return 0, fmt.Errorf("%s must be in [%d, %d]", name, lo, hi)
	}
	return v, nil
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := http.StatusInternalServerError, err.Error()
	switch {
	case errors.Is(err, shared.ErrInsufficientData):
		status, msg = http.StatusConflict, shared.ErrInsufficientData.Error()
	case errors.Is(err, shared.ErrAlignment), errors.Is(err, shared.ErrDegenerateVariance):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		s.log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	writeError(w, status, msg)
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.RatePerSec > 0 && !s.limiter(clientIP(r)).Allow() {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) limiter(ip string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if cl, ok := s.limiters[ip]; ok {
		cl.lastSeen = now
		return cl.lim
	}
	if len(s.limiters) >= 10000 {
		for k, cl := range s.limiters {
			if now.Sub(cl.lastSeen) > 10*time.Minute {
				delete(s.limiters, k)
			}
		}
	}
	cl := &clientLimiter{lim: rate.NewLimiter(rate.Limit(s.cfg.RatePerSec), max(s.cfg.RateBurst, 1)), lastSeen: now}
	s.limiters[ip] = cl
	return cl.lim
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeRaw(w, status, body)
}

func writeRaw(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// ReadyWaiter blocks until every symbol has at least one committed tick.
type ReadyWaiter interface {
	WaitReady(ctx context.Context, symbols []string) error
}

// AwaitData opens the server once w reports every symbol present.
func (s *Server) AwaitData(ctx context.Context, w ReadyWaiter, symbols []string) error {
	s.log.Info().Strs("symbols", symbols).Msg("waiting for first ticks")
	if err := w.WaitReady(ctx, symbols); err != nil {
		return err
	}
	s.SetReady(true)
	s.log.Info().Msg("data present, api ready")
	return nil
}
