package signalbus

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"pair-signals/go/pkg/pairs"
	"pair-signals/go/pkg/shared"
)

// Analyzer computes pair analytics; *pairs.Service satisfies it.
type Analyzer interface {
	PairAnalytics(ctx context.Context, a, b string, interval time.Duration, window int) (*pairs.Analytics, error)
}

// Loop recomputes every configured pair on each trigger and hands the result
// to the publisher.
type Loop struct {
	svc       Analyzer
	pub       *Publisher
	pairs     []shared.Pair
	intervals []time.Duration
	every     time.Duration
	log       zerolog.Logger
	trigger   chan struct{}
}

func NewLoop(svc Analyzer, pub *Publisher, ps []shared.Pair, intervals []time.Duration, every time.Duration, log zerolog.Logger) *Loop {
	return &Loop{
		svc:       svc,
		pub:       pub,
		pairs:     ps,
		intervals: intervals,
		every:     every,
		log:       log,
		trigger:   make(chan struct{}, 1),
	}
}

// Notify asks for a recompute. Calls collapse while one is pending.
func (l *Loop) Notify() {
	select {
	case l.trigger <- struct{}{}:
	default:
	}
}

// Run recomputes on Notify and, when every > 0, on a ticker. It returns when
// ctx is done.
func (l *Loop) Run(ctx context.Context) error {
	var tick <-chan time.Time
	if l.every > 0 {
		t := time.NewTicker(l.every)
		defer t.Stop()
		tick = t.C
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-l.trigger:
		case <-tick:
		}
		l.Recompute(ctx)
	}
}

// Recompute runs one pass over all pairs and intervals and returns the number
// of signals published. Pairs still warming up are skipped quietly.
func (l *Loop) Recompute(ctx context.Context) int {
	total := 0
	for _, p := range l.pairs {
		for _, iv := range l.intervals {
			res, err := l.svc.PairAnalytics(ctx, p.A, p.B, iv, 0)
			switch {
			case errors.Is(err, shared.ErrInsufficientData):
				l.log.Debug().Str("pair", p.String()).Dur("interval", iv).Msg("not enough bars yet")
				continue
			case err != nil:
				if ctx.Err() == nil {
					l.log.Warn().Err(err).Str("pair", p.String()).Dur("interval", iv).Msg("recompute failed")
				}
				continue
			}
			if l.pub == nil {
				continue
			}
			n, err := l.pub.Publish(ctx, res)
			total += n
			if err != nil {
				l.log.Warn().Err(err).Str("pair", p.String()).Msg("signal publish failed")
			}
		}
	}
	return total
}

// FollowCommits polls commit notices and triggers a recompute for each one
// that touches a tracked symbol. Offsets are committed after the trigger.
func (l *Loop) FollowCommits(ctx context.Context, c shared.Consumer) error {
	tracked := make(map[string]struct{})
	for _, p := range l.pairs {
		tracked[p.A] = struct{}{}
		tracked[p.B] = struct{}{}
	}
	for {
		msg, err := c.Poll(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		bc, err := shared.DecodeCommitted(msg)
		if err != nil {
			l.log.Warn().Err(err).Int64("offset", msg.Offset).Msg("bad commit notice")
		} else {
			for _, sym := range bc.Symbols {
				if _, ok := tracked[sym]; ok {
					l.Notify()
					break
				}
			}
		}
		if err := c.Commit(msg); err != nil {
			l.log.Warn().Err(err).Msg("offset commit failed")
		}
	}
}
