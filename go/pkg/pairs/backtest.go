package pairs

import (
	"math"
	"time"
)

type Position string

const (
	Flat        Position = "FLAT"
	LongSpread  Position = "LONG_SPREAD"
	ShortSpread Position = "SHORT_SPREAD"
)

type SignalKind string

const (
	EnterLong  SignalKind = "ENTER_LONG_SPREAD"
	EnterShort SignalKind = "ENTER_SHORT_SPREAD"
	Exit       SignalKind = "EXIT"
)

type SignalEvent struct {
	Time   time.Time  `json:"ts"`
	Index  int        `json:"index"`
	Kind   SignalKind `json:"kind"`
	ZScore float64    `json:"zscore"`
}

// BacktestResult lists every transition. A position still open at the end
// is reported as such, not closed.
type BacktestResult struct {
	Events     []SignalEvent `json:"events"`
	FinalState Position      `json:"final_state"`
	Open       bool          `json:"open"`
	PnL        float64       `json:"pnl"`
	Trades     int           `json:"trades"`
}

// Thresholds are |z| levels; Exit must be below Entry.
type Thresholds struct {
	Entry float64
	Exit  float64
}

// Backtest walks the z-score series through FLAT, LONG_SPREAD and
// SHORT_SPREAD. Points without a ready z-score never cause a transition.
// PnL holds the previous bar's position over each spread change where both
// spread points are ready; spread may be nil to skip it.
func Backtest(z, spread []Point, th Thresholds) BacktestResult {
	res := BacktestResult{Events: []SignalEvent{}, FinalState: Flat}
	pos := Flat
	for t, p := range z {
		if t > 0 && t < len(spread) && spread[t].Ready() && spread[t-1].Ready() {
			res.PnL += exposure(pos) * (spread[t].Value - spread[t-1].Value)
		}
		if !p.Ready() {
			continue
		}
		next := step(pos, p.Value, th)
		if next == pos {
			continue
		}
		kind := Exit
		switch next {
		case LongSpread:
			kind = EnterLong
			res.Trades++
		case ShortSpread:
			kind = EnterShort
			res.Trades++
		}
		res.Events = append(res.Events, SignalEvent{Time: p.Time, Index: t, Kind: kind, ZScore: p.Value})
		pos = next
	}
	res.FinalState = pos
	res.Open = pos != Flat
	return res
}

func step(pos Position, z float64, th Thresholds) Position {
	switch pos {
	case Flat:
		if z >= th.Entry {
			return ShortSpread
		}
		if z <= -th.Entry {
			return LongSpread
		}
	case LongSpread, ShortSpread:
		if math.Abs(z) <= th.Exit {
			return Flat
		}
	}
	return pos
}

func exposure(p Position) float64 {
	switch p {
	case LongSpread:
		return 1
	case ShortSpread:
		return -1
	}
	return 0
}
