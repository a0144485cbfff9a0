package ingest

import (
	"container/heap"
	"context"
	"encoding/json"
	"math"
	"math/rand"
	"time"

	"github.com/shopspring/decimal"
)

// SimSource emits Binance-shaped trade events for a cointegrated basket. The
// first symbol follows a geometric random walk; every other symbol tracks
// Ratio times that price plus mean-reverting noise.
type SimSource struct {
	Symbols   []string
	TPS       float64
	BasePrice float64
	Ratio     float64
	Vol       float64 // log-price volatility of the base walk per sqrt(second)
	Theta     float64 // mean reversion speed of the noise, per second
	NoiseVol  float64 // noise volatility as a fraction of the follower price
	Seed      int64
	Limit     int // stop after this many events; zero runs until cancelled
}

type simSchedule struct {
	symbol string
	due    time.Time
}

type simScheduleHeap []simSchedule

func (h simScheduleHeap) Len() int           { return len(h) }
func (h simScheduleHeap) Less(i, j int) bool { return h[i].due.Before(h[j].due) }
func (h simScheduleHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *simScheduleHeap) Push(x any)        { *h = append(*h, x.(simSchedule)) }
func (h *simScheduleHeap) Pop() any {
	old := *h
	n := len(old)
	out := old[n-1]
	*h = old[:n-1]
	return out
}

type simTrade struct {
	Event     string `json:"e"`
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`
	TradeID   int64  `json:"t"`
	Price     string `json:"p"`
	Quantity  string `json:"q"`
	TradeTime int64  `json:"T"`
}

func sampleGap(tps float64, rng *rand.Rand) time.Duration {
	if tps <= 0 {
		return time.Second
	}
	sec := max(rng.ExpFloat64()/tps, 0.0005)
	return time.Duration(sec * float64(time.Second))
}

func (s *SimSource) defaults() {
	if len(s.Symbols) == 0 {
		s.Symbols = []string{"BTCUSDT", "ETHUSDT"}
	}
	if s.TPS <= 0 {
		s.TPS = 20
	}
	if s.BasePrice <= 0 {
		s.BasePrice = 60000
	}
	if s.Ratio <= 0 {
		s.Ratio = 0.05
	}
	if s.Vol <= 0 {
		s.Vol = 0.0005
	}
	if s.Theta <= 0 {
		s.Theta = 0.2
	}
	if s.NoiseVol <= 0 {
		s.NoiseVol = 0.0005
	}
	if s.Seed == 0 {
		s.Seed = time.Now().UnixNano()
	}
}

func (s *SimSource) Run(ctx context.Context, out chan<- RawEvent) error {
	s.defaults()
	rng := rand.New(rand.NewSource(s.Seed))

	logBase := math.Log(s.BasePrice)
	noise := make(map[string]float64, len(s.Symbols))
	for _, sym := range s.Symbols[1:] {
		noise[sym] = 0
	}
	last := time.Now()

	sched := make(simScheduleHeap, 0, len(s.Symbols))
	for _, sym := range s.Symbols {
		heap.Push(&sched, simSchedule{symbol: sym, due: last.Add(sampleGap(s.TPS, rng))})
	}

	timer := time.NewTimer(time.Millisecond)
	defer timer.Stop()
	var tradeID int64
	emitted := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}

		now := time.Now()
		for sched.Len() > 0 && !sched[0].due.After(now) {
			item := heap.Pop(&sched).(simSchedule)

			dt := now.Sub(last).Seconds()
			last = now
			if dt > 0 {
				logBase += s.Vol * math.Sqrt(dt) * rng.NormFloat64()
				for sym, x := range noise {
					noise[sym] = x - s.Theta*x*dt + s.NoiseVol*math.Sqrt(dt)*rng.NormFloat64()
				}
			}

			price := math.Exp(logBase)
			if item.symbol != s.Symbols[0] {
				price = s.Ratio * price * (1 + noise[item.symbol])
				if _, ok := noise[item.symbol]; !ok {
					noise[item.symbol] = 0
				}
			}
			qty := 0.001 + rng.Float64()*0.5

			tradeID++
			ms := now.UnixMilli()
			payload, err := json.Marshal(simTrade{
				Event:     "trade",
				EventTime: ms,
				Symbol:    item.symbol,
				TradeID:   tradeID,
				Price:     decimal.NewFromFloat(price).Round(4).String(),
				Quantity:  decimal.NewFromFloat(qty).Round(5).String(),
				TradeTime: ms,
			})
			if err != nil {
				return err
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case out <- RawEvent{Symbol: item.symbol, Payload: payload, ReceivedAt: now.UTC()}:
			}
			emitted++
			if s.Limit > 0 && emitted >= s.Limit {
				return nil
			}

			item.due = now.Add(sampleGap(s.TPS, rng))
			heap.Push(&sched, item)
		}

		wait := 50 * time.Millisecond
		if sched.Len() > 0 {
			wait = min(max(time.Until(sched[0].due), time.Millisecond), wait)
		}
		timer.Reset(wait)
	}
}
