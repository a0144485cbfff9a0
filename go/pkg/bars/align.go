package bars

import (
	"time"

	"pair-signals/go/pkg/shared"
)

// Align inner-joins two bar series on bucket start. Both must sit on the
// given interval grid with strictly increasing starts.
func Align(a, b []shared.Bar, interval time.Duration) ([]shared.Bar, []shared.Bar, error) {
	if err := checkGrid(a, interval); err != nil {
		return nil, nil, err
	}
	if err := checkGrid(b, interval); err != nil {
		return nil, nil, err
	}
	outA := make([]shared.Bar, 0, min(len(a), len(b)))
	outB := make([]shared.Bar, 0, min(len(a), len(b)))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch a[i].Start.Compare(b[j].Start) {
		case -1:
			i++
		case 1:
			j++
		default:
			outA = append(outA, a[i])
			outB = append(outB, b[j])
			i++
			j++
		}
	}
	return outA, outB, nil
}

// SameTimeline reports an error unless a and b have identical starts.
func SameTimeline(a, b []shared.Bar) error {
	if len(a) != len(b) {
		return shared.Misaligned("length %d != %d", len(a), len(b))
	}
	for i := range a {
		if !a[i].Start.Equal(b[i].Start) {
			return shared.Misaligned("bar %d starts at %s vs %s", i, a[i].Start.Format(time.RFC3339Nano), b[i].Start.Format(time.RFC3339Nano))
		}
	}
	return nil
}

func checkGrid(bs []shared.Bar, interval time.Duration) error {
	if interval <= 0 {
		return shared.Misaligned("interval %s", interval)
	}
	for i, b := range bs {
		if b.Start.UnixNano()%int64(interval) != 0 {
			return shared.Misaligned("%s bar %d at %s is off the %s grid", b.Symbol, i, b.Start.Format(time.RFC3339Nano), interval)
		}
		if i > 0 && !bs[i-1].Start.Before(b.Start) {
			return shared.Misaligned("%s bars not strictly increasing at %d", b.Symbol, i)
		}
	}
	return nil
}
