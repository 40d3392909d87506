package refpoint

import (
	"fmt"
	"math"
	"math/rand"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"insarstack/pkg/attr"
	"insarstack/pkg/raster"
	"insarstack/pkg/store"
)

// DefaultMinCoherence is the coherence threshold used when none is given.
const DefaultMinCoherence = 0.85

// Options configures one seeding run. Nil pointer fields mean "not given";
// row/column zero is a legal coordinate.
type Options struct {
	RefRow *int
	RefCol *int
	RefLat *float64
	RefLon *float64

	// MaskPath is an optional external mask intersected with the validity
	// mask. CoherencePath enables the coherence-threshold strategy.
	MaskPath      string
	CoherencePath string

	// MinCoherence is the coherence-threshold value. Nil means
	// DefaultMinCoherence; zero is a legal threshold.
	MinCoherence *float64

	// Method selects the driving strategy: input-coord, max-coherence,
	// manual, random or global-average. Coordinate and coherence inputs
	// take precedence regardless of Method.
	Method string

	// MarkOnly writes the reference attributes into the input container
	// without touching raster values or producing a new container.
	MarkOnly bool

	// OutPath overrides the default Seeded_<name> output path.
	OutPath string

	Picker PixelPicker
	Mapper CoordMapper

	// Rand drives the random and coherence strategies. Time-seeded when nil.
	Rand *rand.Rand

	Log *zap.Logger
}

// minCoherence resolves the threshold, treating nil as the default.
func (o Options) minCoherence() float64 {
	if o.MinCoherence == nil {
		return DefaultMinCoherence
	}
	return *o.MinCoherence
}

// Run seeds one container: it resolves a reference anchor and either marks it
// in the container's attributes or writes a re-referenced copy. It returns
// the path of the file holding the result.
func Run(path string, opts Options) (string, error) {
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	rng := opts.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	minCoh := opts.minCoherence()

	c, err := store.Open(path)
	if err != nil {
		return "", err
	}
	defer c.Close()

	fileType, err := c.PrimaryFileType()
	if err != nil {
		return "", err
	}
	width, length, err := c.Size(fileType)
	if err != nil {
		return "", err
	}
	groupAttrs, err := c.Attrs(fileType)
	if err != nil {
		return "", err
	}

	// Validity mask: pixels defined in every epoch, optionally intersected
	// with the external mask. NaN propagates through the stack sum, so its
	// validity mask is exactly the per-epoch intersection.
	stack, err := StackSum(c, fileType)
	if err != nil {
		return "", err
	}
	mask := raster.ValidityMask(stack)
	if opts.MaskPath != "" {
		mg, err := loadGrid(opts.MaskPath)
		if err != nil {
			return "", fmt.Errorf("mask %s: %w", opts.MaskPath, err)
		}
		if mg.Width != width || mg.Height != length {
			return "", fmt.Errorf("mask %s is %dx%d, container is %dx%d",
				opts.MaskPath, mg.Width, mg.Height, width, length)
		}
		if err := mask.Intersect(raster.MaskFromGrid(mg)); err != nil {
			return "", err
		}
	}

	ctx := &Context{Width: width, Height: length, Mask: mask, Rand: rng, Log: log}

	strategies, err := buildStrategies(opts, groupAttrs, stack, minCoh, width, length)
	if err != nil {
		return "", err
	}
	anchor, err := Resolve(ctx, strategies)
	if err != nil {
		return "", err
	}

	if opts.MarkOnly {
		if err := MarkAttributes(c, fileType, anchor); err != nil {
			return "", err
		}
		log.Info("marked reference attributes in place", zap.String("path", path))
		return path, nil
	}

	box := FullExtent(width, length)
	if anchor.HasPixel {
		box = PixelBox(anchor.Row, anchor.Col)
	}
	refs, _, err := SpatialAverage(c, fileType, mask, box)
	if err != nil {
		return "", err
	}
	for i, v := range refs {
		if math.IsNaN(v) {
			return "", fmt.Errorf("epoch %d has no valid pixel at the reference location", i)
		}
	}

	outPath := opts.OutPath
	if outPath == "" {
		dir, base := filepath.Split(path)
		outPath = filepath.Join(dir, "Seeded_"+base)
	}
	return ApplyValues(c, fileType, outPath, refs, anchor, log)
}

// buildStrategies assembles the cascade in precedence order from the given
// inputs. Selecting the global-average method bypasses the pixel strategies
// entirely.
func buildStrategies(opts Options, groupAttrs attr.Dict, stack *raster.Grid, minCoh float64, width, length int) ([]Strategy, error) {
	if opts.Method == "global-average" {
		return []Strategy{&GlobalAverage{}}, nil
	}
	var strategies []Strategy
	if (opts.RefRow != nil && opts.RefCol != nil) || (opts.RefLat != nil && opts.RefLon != nil) {
		strategies = append(strategies, &ExplicitCoordinate{
			Row: opts.RefRow, Col: opts.RefCol,
			Lat: opts.RefLat, Lon: opts.RefLon,
			Attrs:  groupAttrs,
			Mapper: opts.Mapper,
		})
	}
	if opts.CoherencePath != "" {
		coh, err := loadGrid(opts.CoherencePath)
		if err != nil {
			return nil, fmt.Errorf("coherence %s: %w", opts.CoherencePath, err)
		}
		if coh.Width != width || coh.Height != length {
			return nil, fmt.Errorf("coherence %s is %dx%d, container is %dx%d",
				opts.CoherencePath, coh.Width, coh.Height, width, length)
		}
		strategies = append(strategies, &CoherenceThreshold{Coherence: coh, MinCoherence: minCoh})
	}
	if opts.Method == "manual" && opts.Picker != nil {
		strategies = append(strategies, &ManualSelection{Picker: opts.Picker, Display: stack})
	}
	strategies = append(strategies, &UniformRandom{})
	return strategies, nil
}

// loadGrid reads a single-band grid either from a container file or from a
// raw processor raster.
func loadGrid(path string) (*raster.Grid, error) {
	if strings.EqualFold(filepath.Ext(path), ".db") {
		c, err := store.Open(path)
		if err != nil {
			return nil, err
		}
		defer c.Close()
		fileType, err := c.PrimaryFileType()
		if err != nil {
			return nil, err
		}
		epochs, err := c.Epochs(fileType)
		if err != nil {
			return nil, err
		}
		if len(epochs) != 1 {
			return nil, fmt.Errorf("%s holds %d datasets, expected a single raster", path, len(epochs))
		}
		g, _, err := c.ReadEpoch(fileType, epochs[0])
		return g, err
	}
	g, _, err := raster.ReadSource(path)
	return g, err
}

// BorrowReference fills unset coordinate options from the reference
// attributes of an already-seeded container.
func BorrowReference(path string, opts *Options) error {
	c, err := store.Open(path)
	if err != nil {
		return err
	}
	defer c.Close()
	fileType, err := c.PrimaryFileType()
	if err != nil {
		return err
	}
	atr, err := c.Attrs(fileType)
	if err != nil {
		return err
	}
	if opts.RefRow == nil || opts.RefCol == nil {
		if y, err := strconv.Atoi(atr[attr.KeyRefY]); err == nil {
			if x, err := strconv.Atoi(atr[attr.KeyRefX]); err == nil {
				opts.RefRow, opts.RefCol = &y, &x
			}
		}
	}
	if opts.RefLat == nil || opts.RefLon == nil {
		if lat, err := strconv.ParseFloat(atr[attr.KeyRefLat], 64); err == nil {
			if lon, err := strconv.ParseFloat(atr[attr.KeyRefLon], 64); err == nil {
				opts.RefLat, opts.RefLon = &lat, &lon
			}
		}
	}
	return nil
}
