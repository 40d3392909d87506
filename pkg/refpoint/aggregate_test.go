package refpoint

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"insarstack/pkg/store"
)

func TestSpatialAverageSinglePixel(t *testing.T) {
	path := makeContainer(t, t.TempDir(), "ts.db", "timeseries", nil, []epochData{
		{"20100101", [][]float32{{1, 2}, {3, 4}}},
		{"20100113", [][]float32{{5, 6}, {7, 8}}},
	})
	c, err := store.Open(path)
	require.NoError(t, err)
	defer c.Close()

	refs, epochs, err := SpatialAverage(c, "timeseries", fullMask(2, 2), PixelBox(1, 0))
	require.NoError(t, err)
	assert.Equal(t, []string{"20100101", "20100113"}, epochs)
	assert.Equal(t, []float64{3, 7}, refs)
}

func TestSpatialAverageFullExtent(t *testing.T) {
	path := makeContainer(t, t.TempDir(), "ts.db", "timeseries", nil, []epochData{
		{"20100101", [][]float32{{1, nan32}, {3, 5}}},
	})
	c, err := store.Open(path)
	require.NoError(t, err)
	defer c.Close()

	// NaN pixels are excluded from the mean.
	refs, _, err := SpatialAverage(c, "timeseries", fullMask(2, 2), FullExtent(2, 2))
	require.NoError(t, err)
	assert.InDelta(t, 3.0, refs[0], 1e-9)
}

func TestSpatialAverageRespectsMask(t *testing.T) {
	path := makeContainer(t, t.TempDir(), "ts.db", "timeseries", nil, []epochData{
		{"20100101", [][]float32{{10, 2}, {4, 6}}},
	})
	c, err := store.Open(path)
	require.NoError(t, err)
	defer c.Close()

	mask := fullMask(2, 2)
	mask.Set(0, 0, false)
	refs, _, err := SpatialAverage(c, "timeseries", mask, FullExtent(2, 2))
	require.NoError(t, err)
	assert.InDelta(t, 4.0, refs[0], 1e-9)
}

func TestSpatialAverageNoQualifyingPixelIsNaN(t *testing.T) {
	path := makeContainer(t, t.TempDir(), "ts.db", "timeseries", nil, []epochData{
		{"20100101", [][]float32{{1, nan32}, {3, 5}}},
	})
	c, err := store.Open(path)
	require.NoError(t, err)
	defer c.Close()

	refs, _, err := SpatialAverage(c, "timeseries", fullMask(2, 2), PixelBox(0, 1))
	require.NoError(t, err)
	assert.True(t, math.IsNaN(refs[0]))
}

func TestStackSumPropagatesNaN(t *testing.T) {
	path := makeContainer(t, t.TempDir(), "ifg.db", "interferograms", nil, []epochData{
		{"100101-100113", [][]float32{{1, nan32}, {3, 4}}},
		{"100113-100214", [][]float32{{5, 6}, {nan32, 8}}},
	})
	c, err := store.Open(path)
	require.NoError(t, err)
	defer c.Close()

	sum, err := StackSum(c, "interferograms")
	require.NoError(t, err)
	assert.Equal(t, float32(6), sum.At(0, 0))
	assert.Equal(t, float32(12), sum.At(1, 1))
	assert.True(t, math.IsNaN(float64(sum.At(0, 1))))
	assert.True(t, math.IsNaN(float64(sum.At(1, 0))))
}
