package raster

import (
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"insarstack/pkg/attr"
)

// writeUnw writes a band-interleaved .unw raster plus its .rsc companion.
// Pixels with NaN value get zero amplitude, marking them missing.
func writeUnw(t *testing.T, path string, width int, values [][]float32, extra attr.Dict) {
	t.Helper()
	length := len(values)
	raw := make([]byte, width*length*8)
	for row := 0; row < length; row++ {
		base := row * width * 8
		for col := 0; col < width; col++ {
			v := values[row][col]
			amp := float32(1)
			if math.IsNaN(float64(v)) {
				amp, v = 0, 0
			}
			binary.LittleEndian.PutUint32(raw[base+col*4:], math.Float32bits(amp))
			binary.LittleEndian.PutUint32(raw[base+(width+col)*4:], math.Float32bits(v))
		}
	}
	require.NoError(t, os.WriteFile(path, raw, 0644))

	atr := attr.Dict{
		attr.KeyWidth:      strconv.Itoa(width),
		attr.KeyFileLength: strconv.Itoa(length),
		attr.KeyProcessor:  "roipac",
	}
	atr.Merge(extra)
	require.NoError(t, attr.WriteRSC(atr, path+".rsc"))
}

func TestReadSourceUnw(t *testing.T) {
	nan := float32(math.NaN())
	path := filepath.Join(t.TempDir(), "filt_100101-100113.unw")
	writeUnw(t, path, 3, [][]float32{
		{1.5, -2.25, 0.5},
		{nan, 4.0, -0.75},
	}, nil)

	g, atr, err := ReadSource(path)
	require.NoError(t, err)
	assert.Equal(t, 3, g.Width)
	assert.Equal(t, 2, g.Height)
	assert.Equal(t, float32(1.5), g.At(0, 0))
	assert.Equal(t, float32(-0.75), g.At(1, 2))
	assert.True(t, math.IsNaN(float64(g.At(1, 0))), "zero-amplitude pixel should be NaN")
	assert.Equal(t, "roipac", atr[attr.KeyProcessor])
}

func TestReadSourceShortFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "filt_100101-100113.unw")
	require.NoError(t, os.WriteFile(path, []byte{1, 2, 3}, 0644))
	require.NoError(t, attr.WriteRSC(attr.Dict{
		attr.KeyWidth:      "3",
		attr.KeyFileLength: "2",
	}, path+".rsc"))

	_, _, err := ReadSource(path)
	assert.ErrorContains(t, err, "short")
}

func TestReadAttrsMissingCompanion(t *testing.T) {
	_, err := ReadAttrs(filepath.Join(t.TempDir(), "nothing.unw"))
	assert.Error(t, err)
}

func TestEpochID(t *testing.T) {
	cases := []struct {
		name string
		path string
		atr  attr.Dict
		want string
	}{
		{"from DATE12", "whatever.unw", attr.Dict{attr.KeyDate12: "100101-100113"}, "100101-100113"},
		{"DATE12 underscore", "whatever.unw", attr.Dict{attr.KeyDate12: "100101_100113"}, "100101-100113"},
		{"pair in name", "filt_100101-100113_4rlks.unw", attr.Dict{}, "100101-100113"},
		{"underscore pair", "diff_20100101_20100113.unw", attr.Dict{}, "20100101-20100113"},
		{"single date", "geo_20100101.cor", attr.Dict{}, "20100101"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			id, err := EpochID(tc.path, tc.atr)
			require.NoError(t, err)
			assert.Equal(t, tc.want, id)
		})
	}

	_, err := EpochID("radar.hgt", attr.Dict{})
	assert.Error(t, err)
}

func TestValidityMaskAndStack(t *testing.T) {
	nan := float32(math.NaN())
	a := &Grid{Width: 2, Height: 2, Data: []float32{1, nan, 3, 4}}
	b := &Grid{Width: 2, Height: 2, Data: []float32{5, 6, nan, 8}}

	sum, err := SumStack([]*Grid{a, b})
	require.NoError(t, err)
	assert.Equal(t, float32(6), sum.At(0, 0))
	assert.Equal(t, float32(12), sum.At(1, 1))

	m := ValidityMask(sum)
	assert.True(t, m.At(0, 0))
	assert.False(t, m.At(0, 1), "NaN in epoch a")
	assert.False(t, m.At(1, 0), "NaN in epoch b")
	assert.Equal(t, 2, m.Count())
}

func TestMaskIntersect(t *testing.T) {
	m := &Mask{Width: 2, Height: 1, Data: []bool{true, true}}
	other := MaskFromGrid(&Grid{Width: 2, Height: 1, Data: []float32{0, 1}})
	require.NoError(t, m.Intersect(other))
	assert.False(t, m.At(0, 0))
	assert.True(t, m.At(0, 1))

	bad := NewMask(3, 1)
	assert.Error(t, m.Intersect(bad))
}
