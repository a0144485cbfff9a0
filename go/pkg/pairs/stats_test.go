package pairs

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pair-signals/go/pkg/shared"
)

func TestStatsTrailingWindow(t *testing.T) {
	bs := series("BTC", 100, 1, 2, 3, 4)
	s, err := Stats("BTC", bs, 4)
	require.NoError(t, err)
	assert.Equal(t, 4, s.Count)
	assert.Equal(t, 4.0, s.Latest)
	assert.Equal(t, 2.5, s.Mean)
	assert.InDelta(t, math.Sqrt(5.0/3.0), s.StdDev, 1e-12, "sample standard deviation")
	assert.Equal(t, 1.0, s.Min)
	assert.Equal(t, 4.0, s.Max)
	assert.Equal(t, 4.0, s.Volume)
}

func TestStatsWindowLargerThanSeries(t *testing.T) {
	s, err := Stats("BTC", series("BTC", 1, 3), 60)
	require.NoError(t, err)
	assert.Equal(t, 2, s.Count)
	assert.InDelta(t, math.Sqrt2, s.StdDev, 1e-12)
}

func TestStatsInsufficient(t *testing.T) {
	_, err := Stats("BTC", series("BTC", 1), 10)
	assert.ErrorIs(t, err, shared.ErrInsufficientData)
	_, err = Stats("BTC", series("BTC", 1, 2, 3), 1)
	assert.ErrorIs(t, err, shared.ErrInsufficientData)
}
