// Package signalbus publishes pair trading signals to Kafka.
package signalbus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"pair-signals/go/pkg/pairs"
	"pair-signals/go/pkg/shared"
)

// Signal is the message body on the signals topic.
type Signal struct {
	Pair       shared.Pair      `json:"pair"`
	Interval   string           `json:"interval"`
	Kind       pairs.SignalKind `json:"kind"`
	Time       time.Time        `json:"ts"`
	ZScore     float64          `json:"zscore"`
	HedgeRatio float64          `json:"hedge_ratio,omitempty"`
	Position   pairs.Position   `json:"position"`
}

// Publisher forwards new backtest transitions. Each pair and interval keeps a
// watermark so a transition is sent once even though every recompute replays
// the whole window.
type Publisher struct {
	prod  shared.Producer
	topic string
	cb    *gobreaker.CircuitBreaker
	log   zerolog.Logger

	mu   sync.Mutex
	last map[string]time.Time

	published *prometheus.CounterVec
	failures  prometheus.Counter
}

func NewPublisher(prod shared.Producer, topic string, log zerolog.Logger, reg prometheus.Registerer) *Publisher {
	p := &Publisher{
		prod:  prod,
		topic: topic,
		log:   log,
		last:  make(map[string]time.Time),
		published: shared.NewCounterVec(reg, prometheus.CounterOpts{
			Name: "pair_signals_published_total",
			Help: "Signals sent to the signals topic",
		}, []string{"pair", "kind"}),
		failures: shared.NewCounter(reg, prometheus.CounterOpts{
			Name: "pair_signals_publish_failures_total",
			Help: "Signal publishes rejected by the broker or the open breaker",
		}),
	}
	p.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "signals:" + topic,
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool { return c.ConsecutiveFailures >= 3 },
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("breaker state change")
		},
	})
	return p
}

// Publish sends transitions newer than the pair's watermark. The first time a
// pair is seen only its latest transition goes out. It returns how many
// signals were sent; on error the watermark stays at the last success.
func (p *Publisher) Publish(ctx context.Context, a *pairs.Analytics) (int, error) {
	if a == nil || len(a.Backtest.Events) == 0 {
		return 0, nil
	}
	key := a.Pair.String() + "@" + a.Interval

	p.mu.Lock()
	defer p.mu.Unlock()

	events := a.Backtest.Events
	mark, seen := p.last[key]
	if !seen {
		events = events[len(events)-1:]
	}

	var hr float64
	if a.HedgeRatio != nil {
		hr = a.HedgeRatio.Slope
	}
	sent := 0
	for _, ev := range events {
		if seen && !ev.Time.After(mark) {
			continue
		}
		sig := Signal{
			Pair:       a.Pair,
			Interval:   a.Interval,
			Kind:       ev.Kind,
			Time:       ev.Time,
			ZScore:     ev.ZScore,
			HedgeRatio: hr,
			Position:   positionAfter(ev.Kind),
		}
		_, err := p.cb.Execute(func() (interface{}, error) {
			return nil, p.prod.ProduceJSON(ctx, p.topic, []byte(a.Pair.String()), sig)
		})
		if err != nil {
			p.failures.Inc()
			return sent, fmt.Errorf("publish %s %s: %w", key, ev.Kind, err)
		}
		p.last[key] = ev.Time
		p.published.WithLabelValues(a.Pair.String(), string(ev.Kind)).Inc()
		sent++
	}
	if sent > 0 {
		p.log.Info().Str("pair", a.Pair.String()).Str("interval", a.Interval).Int("signals", sent).Msg("signals published")
	}
	return sent, nil
}

func positionAfter(k pairs.SignalKind) pairs.Position {
	switch k {
	case pairs.EnterLong:
		return pairs.LongSpread
	case pairs.EnterShort:
		return pairs.ShortSpread
	default:
		return pairs.Flat
	}
}
