package refpoint

import (
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"insarstack/pkg/attr"
	"insarstack/pkg/store"
)

var refKeys = []string{attr.KeyRefY, attr.KeyRefX, attr.KeyRefLat, attr.KeyRefLon}

// SeedAttrs returns the reference attributes an anchor contributes: ref_y and
// ref_x for a pixel anchor, plus ref_lat/ref_lon when the dictionary is
// geocoded. A coordinate-free anchor contributes nothing.
func SeedAttrs(atr attr.Dict, anchor *Anchor) attr.Dict {
	out := make(attr.Dict)
	if !anchor.HasPixel {
		return out
	}
	out[attr.KeyRefY] = strconv.Itoa(anchor.Row)
	out[attr.KeyRefX] = strconv.Itoa(anchor.Col)
	if atr.IsGeocoded() {
		if lat, lon, err := atr.RowColToLatLon(anchor.Row, anchor.Col); err == nil {
			out[attr.KeyRefLat] = strconv.FormatFloat(lat, 'f', -1, 64)
			out[attr.KeyRefLon] = strconv.FormatFloat(lon, 'f', -1, 64)
		}
	}
	return out
}

// MarkAttributes writes the anchor's reference attributes into the container
// in place, at the file-type level and on every epoch. Raster values are left
// untouched. Marking needs a pixel anchor; the global-average fallback has no
// coordinate to record.
func MarkAttributes(c *store.Container, fileType string, anchor *Anchor) error {
	if !anchor.HasPixel {
		return fmt.Errorf("the global spatial average selects no pixel; marking needs a coordinate anchor")
	}
	groupAttrs, err := c.Attrs(fileType)
	if err != nil {
		return err
	}
	seed := SeedAttrs(groupAttrs, anchor)
	if err := c.SetAttrs(fileType, seed); err != nil {
		return err
	}
	epochs, err := c.Epochs(fileType)
	if err != nil {
		return err
	}
	for _, id := range epochs {
		if err := c.SetEpochAttrs(fileType, id, seed); err != nil {
			return err
		}
	}
	return nil
}

// ApplyValues produces a new container at outPath, epoch-for-epoch isomorphic
// to the input, with every epoch's raster replaced by raster minus its
// reference value. refs must hold one value per epoch, in the container's
// sorted epoch order; a mismatch fails before anything is written.
//
// Each epoch keeps its attribute set except that the ref_* keys are replaced
// by the anchor's. For the coordinate-free global-average anchor the ref_*
// keys are removed, so stale coordinates from an earlier seeding cannot
// survive.
func ApplyValues(in *store.Container, fileType, outPath string, refs []float64, anchor *Anchor, log *zap.Logger) (string, error) {
	epochs, err := in.Epochs(fileType)
	if err != nil {
		return "", err
	}
	if len(epochs) != len(refs) {
		return "", &EpochCountMismatchError{Epochs: len(epochs), Values: len(refs)}
	}

	out, err := store.Create(outPath)
	if err != nil {
		return "", err
	}
	defer out.Close()
	log.Info("writing re-referenced container",
		zap.String("path", outPath), zap.Int("epochs", len(epochs)))

	for i, id := range epochs {
		g, atr, err := in.ReadEpoch(fileType, id)
		if err != nil {
			return "", err
		}
		ref := float32(refs[i])
		for j := range g.Data {
			g.Data[j] -= ref
		}
		atr = reseed(atr, anchor)
		if err := out.WriteEpoch(fileType, id, g, atr); err != nil {
			return "", err
		}
		log.Debug("re-referenced epoch", zap.String("epoch", id), zap.Float64("reference", refs[i]))
	}

	groupAttrs, err := in.Attrs(fileType)
	if err != nil {
		return "", err
	}
	if err := out.SetAttrs(fileType, reseed(groupAttrs, anchor)); err != nil {
		return "", err
	}
	return outPath, nil
}

// reseed replaces the ref_* keys of a dictionary with the anchor's.
func reseed(atr attr.Dict, anchor *Anchor) attr.Dict {
	out := atr.Clone()
	for _, k := range refKeys {
		delete(out, k)
	}
	out.Merge(SeedAttrs(atr, anchor))
	return out
}
