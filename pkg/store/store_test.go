package store

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"insarstack/pkg/attr"
	"insarstack/pkg/raster"
)

func testGrid(vals ...float32) *raster.Grid {
	return &raster.Grid{Width: len(vals), Height: 1, Data: vals}
}

func TestWriteReadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "unwrapIfgram.db")
	c, err := Create(path)
	require.NoError(t, err)
	defer c.Close()

	g := testGrid(1.5, float32(math.NaN()), -3.25)
	atr := attr.Dict{attr.KeyWidth: "3", attr.KeyFileLength: "1", attr.KeyDate12: "100101-100113"}
	require.NoError(t, c.WriteEpoch("interferograms", "100101-100113", g, atr))

	got, gotAttrs, err := c.ReadEpoch("interferograms", "100101-100113")
	require.NoError(t, err)
	assert.Equal(t, g.Width, got.Width)
	assert.Equal(t, float32(1.5), got.At(0, 0))
	assert.True(t, math.IsNaN(float64(got.At(0, 1))))
	assert.Equal(t, float32(-3.25), got.At(0, 2))
	assert.Equal(t, atr, gotAttrs)
}

func TestEpochsSortedAndHasEpoch(t *testing.T) {
	c, err := Create(filepath.Join(t.TempDir(), "c.db"))
	require.NoError(t, err)
	defer c.Close()

	for _, id := range []string{"100214-100301", "100101-100113", "100113-100214"} {
		require.NoError(t, c.WriteEpoch("interferograms", id, testGrid(1), nil))
	}
	ids, err := c.Epochs("interferograms")
	require.NoError(t, err)
	assert.Equal(t, []string{"100101-100113", "100113-100214", "100214-100301"}, ids)

	ok, err := c.HasEpoch("interferograms", "100101-100113")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = c.HasEpoch("interferograms", "999999-999999")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEpochsAreImmutable(t *testing.T) {
	c, err := Create(filepath.Join(t.TempDir(), "c.db"))
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.WriteEpoch("interferograms", "100101-100113", testGrid(1), nil))
	err = c.WriteEpoch("interferograms", "100101-100113", testGrid(2), nil)
	assert.Error(t, err, "rewriting a stored epoch must fail")

	g, _, err := c.ReadEpoch("interferograms", "100101-100113")
	require.NoError(t, err)
	assert.Equal(t, float32(1), g.At(0, 0))
}

func TestGroupAndEpochAttrs(t *testing.T) {
	c, err := Create(filepath.Join(t.TempDir(), "c.db"))
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.WriteEpoch("interferograms", "100101-100113", testGrid(1), attr.Dict{"a": "1"}))
	require.NoError(t, c.SetAttrs("interferograms", attr.Dict{attr.KeyFileType: "interferograms", attr.KeyWidth: "1"}))
	require.NoError(t, c.SetAttrs("interferograms", attr.Dict{attr.KeyWidth: "2"}))

	atr, err := c.Attrs("interferograms")
	require.NoError(t, err)
	assert.Equal(t, "2", atr[attr.KeyWidth], "SetAttrs overwrites")

	require.NoError(t, c.SetEpochAttrs("interferograms", "100101-100113", attr.Dict{attr.KeyRefY: "10"}))
	eatr, err := c.EpochAttrs("interferograms", "100101-100113")
	require.NoError(t, err)
	assert.Equal(t, "1", eatr["a"])
	assert.Equal(t, "10", eatr[attr.KeyRefY])

	require.NoError(t, c.DeleteEpochAttrs("interferograms", []string{attr.KeyRefY}))
	eatr, err = c.EpochAttrs("interferograms", "100101-100113")
	require.NoError(t, err)
	_, ok := eatr[attr.KeyRefY]
	assert.False(t, ok)
}

func TestSizeFallsBackToFirstEpoch(t *testing.T) {
	c, err := Create(filepath.Join(t.TempDir(), "c.db"))
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.WriteEpoch("interferograms", "100101-100113", testGrid(1, 2, 3), nil))
	w, l, err := c.Size("interferograms")
	require.NoError(t, err)
	assert.Equal(t, 3, w)
	assert.Equal(t, 1, l)
}

func TestOpenMissing(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "absent.db"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestOpenCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "garbage.db")
	require.NoError(t, os.WriteFile(path, []byte("this is not a container"), 0644))

	_, err := Open(path)
	var corrupt *CorruptContainerError
	assert.ErrorAs(t, err, &corrupt)
}

func TestOpenAppendRecoversCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "garbage.db")
	require.NoError(t, os.WriteFile(path, []byte("this is not a container"), 0644))

	c, err := OpenAppend(path, zap.NewNop())
	require.NoError(t, err)
	defer c.Close()

	ids, err := c.Epochs("interferograms")
	require.NoError(t, err)
	assert.Empty(t, ids, "recovered container starts empty")
	require.NoError(t, c.WriteEpoch("interferograms", "100101-100113", testGrid(1), nil))
}

func TestOpenAppendPreservesExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.db")
	c, err := Create(path)
	require.NoError(t, err)
	require.NoError(t, c.WriteEpoch("interferograms", "100101-100113", testGrid(7), nil))
	require.NoError(t, c.Close())

	c2, err := OpenAppend(path, zap.NewNop())
	require.NoError(t, err)
	defer c2.Close()
	g, _, err := c2.ReadEpoch("interferograms", "100101-100113")
	require.NoError(t, err)
	assert.Equal(t, float32(7), g.At(0, 0))
}
