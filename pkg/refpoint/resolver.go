// Package refpoint selects a spatial reference anchor for a multi-epoch
// container and re-references every epoch to it, so that values are
// comparable across epochs in time-series analysis.
//
// Anchor selection is an ordered strategy cascade: explicit coordinate,
// coherence threshold, manual pick, uniform random, and per-epoch global
// average as the terminal fallback. Each strategy either commits an anchor or
// falls through to the next.
package refpoint

import (
	"fmt"
	"math/rand"

	"go.uber.org/zap"

	"insarstack/pkg/attr"
	"insarstack/pkg/raster"
)

// MissingReferenceError is the hard failure raised when the validity mask
// holds no true pixel anywhere, so no anchor of any kind is derivable.
type MissingReferenceError struct{}

func (e *MissingReferenceError) Error() string {
	return "no pixel holds a valid value in every epoch; cannot derive a reference anchor"
}

// EpochCountMismatchError reports a reference-value list whose length does
// not match the epoch count of the container being re-referenced.
type EpochCountMismatchError struct {
	Epochs int
	Values int
}

func (e *EpochCountMismatchError) Error() string {
	return fmt.Sprintf("reference value list has %d entries for %d epochs", e.Values, e.Epochs)
}

// Anchor is a resolved reference. Either a single pixel shared by all epochs
// (HasPixel true), or no coordinate at all for the global-average fallback,
// where every epoch gets its own spatial-average value.
type Anchor struct {
	Row      int
	Col      int
	HasPixel bool
	Method   string
}

// Context carries the shared state the strategies operate on. The random
// source is injected so runs can be made reproducible.
type Context struct {
	Width  int
	Height int
	Mask   *raster.Mask
	Rand   *rand.Rand
	Log    *zap.Logger
}

// Strategy is one level of the anchor-selection cascade. TryResolve returns
// a nil anchor (and nil error) to fall through to the next strategy.
type Strategy interface {
	Name() string
	TryResolve(ctx *Context) (*Anchor, error)
}

// PixelPicker supplies an interactively chosen pixel. Implementations live
// outside the core; the resolver only validates the result.
type PixelPicker interface {
	Pick(display *raster.Grid) (row, col int, err error)
}

// CoordMapper converts geographic coordinates to pixel row/column for
// containers in radar geometry, where no affine transform exists.
// *raster.TransGrid implements it.
type CoordMapper interface {
	LatLonToRowCol(lat, lon float64) (row, col int, err error)
}

// Resolve walks the strategy cascade and returns the first committed anchor.
// It fails with MissingReferenceError before trying any strategy when the
// validity mask is empty.
func Resolve(ctx *Context, strategies []Strategy) (*Anchor, error) {
	if ctx.Mask.Count() == 0 {
		return nil, &MissingReferenceError{}
	}
	for _, s := range strategies {
		anchor, err := s.TryResolve(ctx)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", s.Name(), err)
		}
		if anchor != nil {
			anchor.Method = s.Name()
			if anchor.HasPixel {
				ctx.Log.Info("reference anchor selected",
					zap.String("method", s.Name()),
					zap.Int("row", anchor.Row), zap.Int("col", anchor.Col))
			} else {
				ctx.Log.Info("reference anchor selected",
					zap.String("method", s.Name()))
			}
			return anchor, nil
		}
		ctx.Log.Info("selection method did not commit, falling through",
			zap.String("method", s.Name()))
	}
	return nil, fmt.Errorf("no selection strategy committed an anchor")
}

// validAt reports whether (row, col) is inside bounds and on a true
// validity-mask pixel.
func (ctx *Context) validAt(row, col int) bool {
	return row >= 0 && row < ctx.Height && col >= 0 && col < ctx.Width &&
		ctx.Mask.At(row, col)
}

// ExplicitCoordinate commits a caller-supplied pixel or geographic
// coordinate. Geographic input is converted through the container's affine
// transform when it is geocoded, or through Mapper otherwise. Falls through
// when the coordinate is out of bounds or masked out.
type ExplicitCoordinate struct {
	Row, Col *int
	Lat, Lon *float64

	// Attrs is the container attribute dictionary, used for the affine
	// geographic transform of geocoded containers.
	Attrs  attr.Dict
	Mapper CoordMapper
}

func (s *ExplicitCoordinate) Name() string { return "input-coord" }

func (s *ExplicitCoordinate) TryResolve(ctx *Context) (*Anchor, error) {
	row, col, ok, err := s.rowCol(ctx)
	if err != nil || !ok {
		return nil, err
	}
	if !ctx.validAt(row, col) {
		ctx.Log.Warn("input reference point is out of coverage or masked out",
			zap.Int("row", row), zap.Int("col", col))
		return nil, nil
	}
	return &Anchor{Row: row, Col: col, HasPixel: true}, nil
}

func (s *ExplicitCoordinate) rowCol(ctx *Context) (row, col int, ok bool, err error) {
	if s.Row != nil && s.Col != nil {
		return *s.Row, *s.Col, true, nil
	}
	if s.Lat == nil || s.Lon == nil {
		return 0, 0, false, nil
	}
	if s.Attrs.IsGeocoded() {
		row, col, err = s.Attrs.LatLonToRowCol(*s.Lat, *s.Lon)
		if err != nil {
			return 0, 0, false, err
		}
		return row, col, true, nil
	}
	if s.Mapper == nil {
		ctx.Log.Warn("lat/lon input needs a mapping transformation for radar-coordinate data, ignoring")
		return 0, 0, false, nil
	}
	row, col, err = s.Mapper.LatLonToRowCol(*s.Lat, *s.Lon)
	if err != nil {
		ctx.Log.Warn("lat/lon input could not be mapped to radar coordinates", zap.Error(err))
		return 0, 0, false, nil
	}
	return row, col, true, nil
}

// CoherenceThreshold samples one pixel uniformly among those whose coherence
// meets the threshold and which are valid in every epoch. Falls through only
// when no pixel qualifies.
type CoherenceThreshold struct {
	Coherence    *raster.Grid
	MinCoherence float64
}

func (s *CoherenceThreshold) Name() string { return "max-coherence" }

func (s *CoherenceThreshold) TryResolve(ctx *Context) (*Anchor, error) {
	if s.Coherence.Width != ctx.Width || s.Coherence.Height != ctx.Height {
		return nil, fmt.Errorf("coherence raster is %dx%d, container is %dx%d",
			s.Coherence.Width, s.Coherence.Height, ctx.Width, ctx.Height)
	}
	var qualifying []int
	for i, v := range s.Coherence.Data {
		if float64(v) >= s.MinCoherence && ctx.Mask.Data[i] {
			qualifying = append(qualifying, i)
		}
	}
	if len(qualifying) == 0 {
		ctx.Log.Warn("no pixel reaches the coherence threshold",
			zap.Float64("min_coherence", s.MinCoherence))
		return nil, nil
	}
	i := qualifying[ctx.Rand.Intn(len(qualifying))]
	return &Anchor{Row: i / ctx.Width, Col: i % ctx.Width, HasPixel: true}, nil
}

// ManualSelection delegates to an injected picker and validates its result
// like an explicit coordinate. Falls through when the picked pixel is
// invalid.
type ManualSelection struct {
	Picker PixelPicker

	// Display is shown to the picker, conventionally the stack sum of all
	// epochs.
	Display *raster.Grid
}

func (s *ManualSelection) Name() string { return "manual" }

func (s *ManualSelection) TryResolve(ctx *Context) (*Anchor, error) {
	row, col, err := s.Picker.Pick(s.Display)
	if err != nil {
		return nil, err
	}
	if !ctx.validAt(row, col) {
		ctx.Log.Warn("manually selected pixel has no valid value",
			zap.Int("row", row), zap.Int("col", col))
		return nil, nil
	}
	return &Anchor{Row: row, Col: col, HasPixel: true}, nil
}

// UniformRandom samples pixels uniformly until one is valid. Given a
// non-empty validity mask it always commits.
type UniformRandom struct{}

func (s *UniformRandom) Name() string { return "random" }

func (s *UniformRandom) TryResolve(ctx *Context) (*Anchor, error) {
	for {
		row := ctx.Rand.Intn(ctx.Height)
		col := ctx.Rand.Intn(ctx.Width)
		if ctx.Mask.At(row, col) {
			return &Anchor{Row: row, Col: col, HasPixel: true}, nil
		}
	}
}

// GlobalAverage is the terminal fallback: no shared pixel exists and every
// epoch is referenced to its own spatial average.
type GlobalAverage struct{}

func (s *GlobalAverage) Name() string { return "global-average" }

func (s *GlobalAverage) TryResolve(ctx *Context) (*Anchor, error) {
	return &Anchor{HasPixel: false}, nil
}
