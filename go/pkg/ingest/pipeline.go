// Package ingest turns an upstream trade feed into durably stored batches.
package ingest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"pair-signals/go/pkg/shared"
	"pair-signals/go/pkg/tickstore"
)

// RawEvent is one payload as read off the feed.
type RawEvent struct {
	Symbol     string
	Payload    []byte
	ReceivedAt time.Time
}

// Source pushes raw events until ctx is done or the feed ends. It must not
// close out.
type Source interface {
	Run(ctx context.Context, out chan<- RawEvent) error
}

// CommitHook runs after a batch is durably stored.
type CommitHook func(ctx context.Context, b shared.Batch)

type Pipeline struct {
	sources      []Source
	parser       *Parser
	buffer       *Buffer
	writer       *Writer
	log          zerolog.Logger
	metrics      *Metrics
	hooks        []CommitHook
	rejectLog    *rate.Limiter
	drainTimeout time.Duration
}

func NewPipeline(cfg shared.IngestConfig, store tickstore.Store, log zerolog.Logger, m *Metrics, sources ...Source) *Pipeline {
	if m == nil {
		m = NewMetrics(nil)
	}
	return &Pipeline{
		sources:      sources,
		parser:       NewParser(cfg.Tracked()),
		buffer:       NewBuffer(cfg.BatchSize, cfg.MaxPending, cfg.FlushInterval),
		writer:       NewWriter(store, PolicyFromConfig(cfg), log, m),
		log:          log,
		metrics:      m,
		rejectLog:    rate.NewLimiter(rate.Every(time.Second), 5),
		drainTimeout: drainBudget(cfg),
	}
}

// drainBudget gives the final flush room for a full retry cycle.
func drainBudget(cfg shared.IngestConfig) time.Duration {
	d := time.Duration(max(cfg.MaxAttempts, 1)) * (cfg.WriteTimeout + cfg.RetryMax)
	if d <= 0 {
		d = 10 * time.Second
	}
	return d
}

func (p *Pipeline) OnCommit(h CommitHook) { p.hooks = append(p.hooks, h) }

// Run blocks until ctx is cancelled, every source has finished, or a batch
// stalls. Whatever is still buffered is flushed before returning. A stall is
// returned as *shared.IngestionStalledError; cancellation returns nil.
func (p *Pipeline) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	flushCtx, stopFlush := context.WithCancel(gctx)
	defer stopFlush()

	events := make(chan RawEvent, 1024)
	var sources sync.WaitGroup
	for _, src := range p.sources {
		src := src
		sources.Add(1)
		g.Go(func() error {
			defer sources.Done()
			if err := src.Run(gctx, events); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}
	go func() {
		sources.Wait()
		close(events)
	}()

	g.Go(func() error {
		defer stopFlush()
		for {
			select {
			case <-gctx.Done():
				return nil
			case ev, ok := <-events:
				if !ok {
					return nil
				}
				if err := p.accept(gctx, ev); err != nil {
					return nil
				}
			}
		}
	})

	g.Go(func() error { return p.buffer.Run(flushCtx, p.flush) })

	err := g.Wait()
	if errors.Is(err, shared.ErrIngestionStalled) {
		p.logStall(err)
		return err
	}

	if derr := p.drain(ctx); derr != nil {
		p.logStall(derr)
		return derr
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (p *Pipeline) accept(ctx context.Context, ev RawEvent) error {
	tk, err := p.parser.Parse(ev.Payload)
	if err != nil {
		reason := shared.ReasonMalformed
		var pe *shared.ParseError
		if errors.As(err, &pe) {
			reason = pe.Reason
		}
		p.metrics.Rejected.WithLabelValues(reason).Inc()
		if p.rejectLog.Allow() {
			p.log.Warn().Err(err).Str("reason", reason).Str("stream", ev.Symbol).Msg("rejected upstream event")
		}
		return nil
	}
	if err := p.buffer.Put(ctx, tk); err != nil {
		return err
	}
	p.metrics.Accepted.WithLabelValues(tk.Symbol).Inc()
	p.metrics.Pending.Set(float64(p.buffer.Pending()))
	return nil
}

// flush writes outside the caller's cancellation so an in-flight batch is
// never abandoned halfway through shutdown.
func (p *Pipeline) flush(ctx context.Context, b shared.Batch) error {
	wctx := context.WithoutCancel(ctx)
	if err := p.writer.Write(wctx, b); err != nil {
		return err
	}
	p.committed(wctx, b)
	return nil
}

func (p *Pipeline) committed(ctx context.Context, b shared.Batch) {
	p.metrics.FlushAge.Observe(time.Since(b.OpenedAt).Seconds())
	p.metrics.Pending.Set(float64(p.buffer.Pending() - len(b.Ticks)))
	p.log.Debug().Str("batch_id", b.ID.String()).Int("ticks", len(b.Ticks)).Msg("batch committed")
	for _, h := range p.hooks {
		h(ctx, b)
	}
}

func (p *Pipeline) drain(ctx context.Context) error {
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.drainTimeout)
	defer cancel()
	for {
		b, ok := p.buffer.Swap()
		if !ok {
			return nil
		}
		err := p.writer.Write(dctx, b)
		if err == nil {
			p.committed(dctx, b)
		}
		p.buffer.Release(len(b.Ticks))
		if err != nil {
			return err
		}
	}
}

func (p *Pipeline) logStall(err error) {
	var st *shared.IngestionStalledError
	if errors.As(err, &st) {
		p.log.Error().Err(st.Err).
			Str("batch_id", st.BatchID().String()).
			Int("ticks", len(st.Batch.Ticks)).
			Int("attempts", st.Attempts).
			Msg("ingestion stalled")
	}
}
