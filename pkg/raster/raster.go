// Package raster provides the in-memory 2-D grid type shared by the loader
// and the reference-point tools, together with readers for the flat binary
// raster formats produced by the InSAR processors (ROI_PAC and Gamma style).
// Missing values are represented as NaN.
package raster

import (
	"fmt"
	"math"
)

// Grid is a dense 2-D float32 raster stored in row-major order.
type Grid struct {
	Width  int
	Height int
	Data   []float32
}

// NewGrid allocates a zero-filled grid of the given size.
func NewGrid(width, height int) *Grid {
	return &Grid{
		Width:  width,
		Height: height,
		Data:   make([]float32, width*height),
	}
}

// At returns the value at the given row and column.
func (g *Grid) At(row, col int) float32 {
	return g.Data[row*g.Width+col]
}

// Set stores a value at the given row and column.
func (g *Grid) Set(row, col int, v float32) {
	g.Data[row*g.Width+col] = v
}

// Clone returns an independent copy of the grid.
func (g *Grid) Clone() *Grid {
	out := NewGrid(g.Width, g.Height)
	copy(out.Data, g.Data)
	return out
}

// InBounds reports whether (row, col) lies inside the grid extent.
func (g *Grid) InBounds(row, col int) bool {
	return row >= 0 && row < g.Height && col >= 0 && col < g.Width
}

// Mask is a boolean grid marking pixels that carry a defined value.
type Mask struct {
	Width  int
	Height int
	Data   []bool
}

// NewMask allocates an all-false mask of the given size.
func NewMask(width, height int) *Mask {
	return &Mask{
		Width:  width,
		Height: height,
		Data:   make([]bool, width*height),
	}
}

// At returns the mask value at the given row and column.
func (m *Mask) At(row, col int) bool {
	return m.Data[row*m.Width+col]
}

// Set stores a mask value at the given row and column.
func (m *Mask) Set(row, col int, v bool) {
	m.Data[row*m.Width+col] = v
}

// Count returns the number of true pixels.
func (m *Mask) Count() int {
	n := 0
	for _, v := range m.Data {
		if v {
			n++
		}
	}
	return n
}

// Intersect turns off every pixel of m that is false in other. The two masks
// must have the same extent.
func (m *Mask) Intersect(other *Mask) error {
	if m.Width != other.Width || m.Height != other.Height {
		return fmt.Errorf("mask size mismatch: %dx%d vs %dx%d",
			other.Width, other.Height, m.Width, m.Height)
	}
	for i, v := range other.Data {
		if !v {
			m.Data[i] = false
		}
	}
	return nil
}

// MaskFromGrid builds a mask that is true where the grid is non-NaN and
// non-zero. This is the convention for externally supplied mask rasters,
// where zero marks excluded pixels.
func MaskFromGrid(g *Grid) *Mask {
	m := NewMask(g.Width, g.Height)
	for i, v := range g.Data {
		m.Data[i] = !math.IsNaN(float64(v)) && v != 0
	}
	return m
}

// ValidityMask builds a mask that is true where the grid holds a defined
// (non-NaN) value. Applied to a stack sum, this yields the pixels defined in
// every epoch, since NaN propagates through addition.
func ValidityMask(g *Grid) *Mask {
	m := NewMask(g.Width, g.Height)
	for i, v := range g.Data {
		m.Data[i] = !math.IsNaN(float64(v))
	}
	return m
}

// SumStack accumulates a list of equally sized grids into one. A pixel that
// is NaN in any input is NaN in the result.
func SumStack(grids []*Grid) (*Grid, error) {
	if len(grids) == 0 {
		return nil, fmt.Errorf("empty grid list")
	}
	out := grids[0].Clone()
	for _, g := range grids[1:] {
		if g.Width != out.Width || g.Height != out.Height {
			return nil, fmt.Errorf("grid size mismatch: %dx%d vs %dx%d",
				g.Width, g.Height, out.Width, out.Height)
		}
		for i, v := range g.Data {
			out.Data[i] += v
		}
	}
	return out, nil
}
