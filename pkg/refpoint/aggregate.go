package refpoint

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"insarstack/pkg/raster"
	"insarstack/pkg/store"
)

// Box is a rectangular pixel window, half-open on the max edges.
type Box struct {
	MinRow, MinCol int
	MaxRow, MaxCol int
}

// FullExtent returns the box covering a whole raster.
func FullExtent(width, height int) Box {
	return Box{MaxRow: height, MaxCol: width}
}

// PixelBox returns the box holding a single pixel.
func PixelBox(row, col int) Box {
	return Box{MinRow: row, MinCol: col, MaxRow: row + 1, MaxCol: col + 1}
}

// SpatialAverage computes, for every epoch of the container, the mean of the
// epoch's raster over pixels inside box where the mask is true and the value
// is defined. A single-pixel box degenerates to that pixel's value. Epochs
// with no qualifying pixel yield NaN.
//
// The same computation backs single-pixel reference extraction and the
// global-average fallback; only the box extent differs.
func SpatialAverage(c *store.Container, fileType string, mask *raster.Mask, box Box) ([]float64, []string, error) {
	epochs, err := c.Epochs(fileType)
	if err != nil {
		return nil, nil, err
	}
	if len(epochs) == 0 {
		return nil, nil, fmt.Errorf("container %s has no epochs under %s", c.Path(), fileType)
	}

	means := make([]float64, len(epochs))
	for i, id := range epochs {
		g, _, err := c.ReadEpoch(fileType, id)
		if err != nil {
			return nil, nil, err
		}
		if g.Width != mask.Width || g.Height != mask.Height {
			return nil, nil, fmt.Errorf("epoch %s is %dx%d, mask is %dx%d",
				id, g.Width, g.Height, mask.Width, mask.Height)
		}
		var vals []float64
		for row := box.MinRow; row < box.MaxRow; row++ {
			for col := box.MinCol; col < box.MaxCol; col++ {
				if !mask.At(row, col) {
					continue
				}
				v := float64(g.At(row, col))
				if math.IsNaN(v) {
					continue
				}
				vals = append(vals, v)
			}
		}
		if len(vals) == 0 {
			means[i] = math.NaN()
			continue
		}
		means[i] = stat.Mean(vals, nil)
	}
	return means, epochs, nil
}

// StackSum accumulates all epochs of a container into one grid. A pixel that
// is NaN in any epoch is NaN in the sum, which makes the sum's validity mask
// the intersection across epochs.
func StackSum(c *store.Container, fileType string) (*raster.Grid, error) {
	epochs, err := c.Epochs(fileType)
	if err != nil {
		return nil, err
	}
	if len(epochs) == 0 {
		return nil, fmt.Errorf("container %s has no epochs under %s", c.Path(), fileType)
	}
	var sum *raster.Grid
	for _, id := range epochs {
		g, _, err := c.ReadEpoch(fileType, id)
		if err != nil {
			return nil, err
		}
		if sum == nil {
			sum = g
			continue
		}
		if g.Width != sum.Width || g.Height != sum.Height {
			return nil, fmt.Errorf("epoch %s is %dx%d, expected %dx%d",
				id, g.Width, g.Height, sum.Width, sum.Height)
		}
		for i, v := range g.Data {
			sum.Data[i] += v
		}
	}
	return sum, nil
}
