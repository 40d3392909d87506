package ingest

import (
	"fmt"

	"go.uber.org/zap"

	"insarstack/pkg/attr"
	"insarstack/pkg/raster"
)

// DimensionMismatchError reports that a candidate batch cannot be merged
// because its majority size disagrees with the target container.
type DimensionMismatchError struct {
	ContainerPath   string
	ContainerWidth  int
	ContainerLength int
	CandidateWidth  int
	CandidateLength int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("candidate size %dx%d disagrees with container %s (%dx%d)",
		e.CandidateWidth, e.CandidateLength,
		e.ContainerPath, e.ContainerWidth, e.ContainerLength)
}

// Candidate is a source raster that passed attribute reading: its epoch id
// and declared size are known, but the raster payload has not been loaded.
type Candidate struct {
	Path    string
	EpochID string
	Width   int
	Length  int
	Attrs   attr.Dict
}

// ReadCandidates reads only the attribute dictionary of each source path and
// derives its epoch id. Sources without readable attributes or a derivable
// epoch id are dropped with a warning, not failed.
func ReadCandidates(paths []string, log *zap.Logger) []Candidate {
	cands := make([]Candidate, 0, len(paths))
	for _, p := range paths {
		atr, err := raster.ReadAttrs(p)
		if err != nil {
			log.Warn("dropping source without readable attributes",
				zap.String("path", p), zap.Error(err))
			continue
		}
		width, length, err := atr.Size()
		if err != nil {
			log.Warn("dropping source without declared size",
				zap.String("path", p), zap.Error(err))
			continue
		}
		id, err := raster.EpochID(p, atr)
		if err != nil {
			log.Warn("dropping source without derivable epoch id",
				zap.String("path", p), zap.Error(err))
			continue
		}
		cands = append(cands, Candidate{
			Path:    p,
			EpochID: id,
			Width:   width,
			Length:  length,
			Attrs:   atr,
		})
	}
	return cands
}

// SizeMode returns the statistical mode of a value list. The mode is
// undefined (ok false) when the list is empty, when every value occurs
// exactly once, or when two or more values tie for most frequent. A
// single-element list is its own mode.
func SizeMode(values []int) (mode int, ok bool) {
	if len(values) == 0 {
		return 0, false
	}
	if len(values) == 1 {
		return values[0], true
	}
	counts := make(map[int]int, len(values))
	for _, v := range values {
		counts[v]++
	}
	maxCount := 0
	for v, n := range counts {
		if n > maxCount {
			mode, maxCount = v, n
		}
	}
	if maxCount == 1 {
		return 0, false
	}
	ties := 0
	for _, n := range counts {
		if n == maxCount {
			ties++
		}
	}
	if ties > 1 {
		return 0, false
	}
	return mode, true
}

// FilterBySize partitions candidates by the majority width/length and keeps
// only the conforming subset. Pass a non-zero wantWidth/wantLength to enforce
// an explicit size instead of computing the mode. Non-conforming candidates
// are dropped with a warning.
//
// When neither mode is defined and no explicit size was given, no consistency
// check is possible; every candidate is accepted and the returned size is
// zero.
func FilterBySize(cands []Candidate, wantWidth, wantLength int, log *zap.Logger) (kept []Candidate, width, length int) {
	if len(cands) == 0 {
		return cands, wantWidth, wantLength
	}
	width, length = wantWidth, wantLength
	if width == 0 || length == 0 {
		widths := make([]int, len(cands))
		lengths := make([]int, len(cands))
		for i, c := range cands {
			widths[i] = c.Width
			lengths[i] = c.Length
		}
		var wOK, lOK bool
		if width == 0 {
			width, wOK = SizeMode(widths)
		} else {
			wOK = true
		}
		if length == 0 {
			length, lOK = SizeMode(lengths)
		} else {
			lOK = true
		}
		if !wOK || !lOK {
			log.Warn("no majority size among candidates, skipping size consistency check",
				zap.Int("candidates", len(cands)))
			return cands, 0, 0
		}
	}

	kept = make([]Candidate, 0, len(cands))
	for _, c := range cands {
		if c.Width != width || c.Length != length {
			log.Warn("dropping source with non-conforming size",
				zap.String("path", c.Path),
				zap.Int("width", c.Width), zap.Int("length", c.Length),
				zap.Int("want_width", width), zap.Int("want_length", length))
			continue
		}
		kept = append(kept, c)
	}
	return kept, width, length
}

// FilterExisting removes candidates whose epoch id already appears in the
// target container's epoch list.
func FilterExisting(cands []Candidate, existing []string, log *zap.Logger) []Candidate {
	present := make(map[string]bool, len(existing))
	for _, id := range existing {
		present[id] = true
	}
	kept := make([]Candidate, 0, len(cands))
	for _, c := range cands {
		if present[c.EpochID] {
			log.Info("epoch already loaded, skipping",
				zap.String("epoch", c.EpochID), zap.String("path", c.Path))
			continue
		}
		kept = append(kept, c)
	}
	return kept
}
