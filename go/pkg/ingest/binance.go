package ingest

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// BinanceSource holds one trade-stream connection per symbol and reconnects
// with exponential backoff.
type BinanceSource struct {
	BaseURL      string
	Symbols      []string
	Dialer       *websocket.Dialer
	MinBackoff   time.Duration
	MaxBackoff   time.Duration
	PingInterval time.Duration
	ReadTimeout  time.Duration

	log     zerolog.Logger
	metrics *Metrics
}

func NewBinanceSource(baseURL string, symbols []string, log zerolog.Logger, m *Metrics) *BinanceSource {
	if m == nil {
		m = NewMetrics(nil)
	}
	return &BinanceSource{
		BaseURL:      baseURL,
		Symbols:      symbols,
		Dialer:       &websocket.Dialer{Proxy: http.ProxyFromEnvironment, HandshakeTimeout: 10 * time.Second},
		MinBackoff:   time.Second,
		MaxBackoff:   30 * time.Second,
		PingInterval: 15 * time.Second,
		ReadTimeout:  60 * time.Second,
		log:          log,
		metrics:      m,
	}
}

// StreamURL is the single-stream endpoint for one symbol.
func (s *BinanceSource) StreamURL(symbol string) string {
	return strings.TrimRight(s.BaseURL, "/") + "/" + strings.ToLower(symbol) + "@trade"
}

func (s *BinanceSource) Run(ctx context.Context, out chan<- RawEvent) error {
	if len(s.Symbols) == 0 {
		return errors.New("binance source: no symbols")
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, sym := range s.Symbols {
		sym := sym
		g.Go(func() error { return s.follow(gctx, sym, out) })
	}
	return g.Wait()
}

// follow reconnects until ctx ends. Backoff resets once a session delivered data.
func (s *BinanceSource) follow(ctx context.Context, sym string, out chan<- RawEvent) error {
	backoff := s.MinBackoff
	for {
		received, err := s.session(ctx, sym, out)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if received {
			backoff = s.MinBackoff
		}
		s.metrics.WSEvents.WithLabelValues("reconnect").Inc()
		s.log.Warn().Err(err).Str("symbol", sym).Dur("backoff", backoff).Msg("stream dropped, reconnecting")
		if err := sleepCtx(ctx, backoff); err != nil {
			return err
		}
		backoff = min(backoff*2, s.MaxBackoff)
	}
}

func (s *BinanceSource) session(ctx context.Context, sym string, out chan<- RawEvent) (bool, error) {
	url := s.StreamURL(sym)
	conn, _, err := s.Dialer.DialContext(ctx, url, nil)
	if err != nil {
		s.metrics.WSEvents.WithLabelValues("dial_error").Inc()
		return false, err
	}
	defer conn.Close()
	s.metrics.WSEvents.WithLabelValues("connect").Inc()
	s.log.Info().Str("symbol", sym).Str("url", url).Msg("stream connected")

	done := make(chan struct{})
	defer close(done)
	go func() {
		t := time.NewTicker(s.PingInterval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
				_ = conn.Close()
				return
			case <-done:
				return
			case <-t.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
					return
				}
			}
		}
	}()

	extend := func() { _ = conn.SetReadDeadline(time.Now().Add(s.ReadTimeout)) }
	extend()
	conn.SetPongHandler(func(string) error { extend(); return nil })

	received := false
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return received, err
		}
		extend()
		received = true
		select {
		case out <- RawEvent{Symbol: sym, Payload: msg, ReceivedAt: time.Now().UTC()}:
		case <-ctx.Done():
			return received, ctx.Err()
		}
	}
}
