package pairs

import (
	"encoding/json"
	"time"
)

type Status string

const (
	StatusReady        Status = "ready"
	StatusInsufficient Status = "insufficient_data"
	StatusDegenerate   Status = "degenerate"
)

// Point is one element of a derived series. Value is meaningful only when
// Status is ready.
type Point struct {
	Time   time.Time
	Value  float64
	Status Status
}

func (p Point) Ready() bool { return p.Status == StatusReady }

type pointJSON struct {
	Time   time.Time `json:"ts"`
	Value  *float64  `json:"value"`
	Status Status    `json:"status"`
}

func (p Point) MarshalJSON() ([]byte, error) {
	out := pointJSON{Time: p.Time, Status: p.Status}
	if p.Ready() {
		v := p.Value
		out.Value = &v
	}
	return json.Marshal(out)
}

// TrailingReady returns the values of the last unbroken run of ready points.
// Anything before the most recent non-ready point is dropped, so the result
// never joins values across a gap.
func TrailingReady(ps []Point) []float64 {
	start := len(ps)
	for start > 0 && ps[start-1].Ready() {
		start--
	}
	out := make([]float64, 0, len(ps)-start)
	for _, p := range ps[start:] {
		out = append(out, p.Value)
	}
	return out
}
