package refpoint

import (
	"math"
	"math/rand"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"insarstack/pkg/attr"
	"insarstack/pkg/raster"
	"insarstack/pkg/store"
)

// epochData is one epoch of a test container: an id and row-major values.
type epochData struct {
	id   string
	rows [][]float32
}

// makeContainer writes a test container and returns its path.
func makeContainer(t *testing.T, dir, name, fileType string, groupAttrs attr.Dict, epochs []epochData) string {
	t.Helper()
	path := filepath.Join(dir, name)
	c, err := store.Create(path)
	require.NoError(t, err)
	defer c.Close()

	width := 0
	height := 0
	for _, e := range epochs {
		g := gridOf(e.rows)
		width, height = g.Width, g.Height
		require.NoError(t, c.WriteEpoch(fileType, e.id, g, attr.Dict{attr.KeyDate12: e.id}))
	}
	atr := attr.Dict{
		attr.KeyFileType:   fileType,
		attr.KeyWidth:      strconv.Itoa(width),
		attr.KeyFileLength: strconv.Itoa(height),
	}
	atr.Merge(groupAttrs)
	require.NoError(t, c.SetAttrs(fileType, atr))
	return path
}

func gridOf(rows [][]float32) *raster.Grid {
	g := raster.NewGrid(len(rows[0]), len(rows))
	for r, row := range rows {
		for c, v := range row {
			g.Set(r, c, v)
		}
	}
	return g
}

func fullMask(width, height int) *raster.Mask {
	m := raster.NewMask(width, height)
	for i := range m.Data {
		m.Data[i] = true
	}
	return m
}

func testCtx(width, height int, mask *raster.Mask) *Context {
	return &Context{
		Width:  width,
		Height: height,
		Mask:   mask,
		Rand:   rand.New(rand.NewSource(1)),
		Log:    zap.NewNop(),
	}
}

var nan32 = float32(math.NaN())
