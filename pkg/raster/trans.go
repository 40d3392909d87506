package raster

import (
	"fmt"
	"math"
	"os"

	"insarstack/pkg/attr"
)

// TransGrid maps geographic coordinates to radar row/column through a
// geocoded lookup-table raster (geomap*.trans style): a band-interleaved
// float32 file whose two bands hold, for every geographic grid node, the
// radar range and azimuth sample it corresponds to.
type TransGrid struct {
	Range   *Grid
	Azimuth *Grid
	Attrs   attr.Dict
}

// ReadTrans loads a two-band mapping-transformation raster and its attribute
// dictionary. The attributes must be geocoded, since the lookup is addressed
// by lat/lon.
func ReadTrans(path string) (*TransGrid, error) {
	atr, err := ReadAttrs(path)
	if err != nil {
		return nil, err
	}
	if !atr.IsGeocoded() {
		return nil, fmt.Errorf("%s: transformation raster has no geocoding anchor", path)
	}
	width, length, err := atr.Size()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	rg, az, err := decodeRMGBands(raw, width, length)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &TransGrid{Range: rg, Azimuth: az, Attrs: atr}, nil
}

// LatLonToRowCol resolves a geographic coordinate to the radar-coordinate
// pixel recorded in the lookup table. A zero entry in the table means the
// location was never imaged.
func (t *TransGrid) LatLonToRowCol(lat, lon float64) (row, col int, err error) {
	gRow, gCol, err := t.Attrs.LatLonToRowCol(lat, lon)
	if err != nil {
		return 0, 0, err
	}
	if !t.Range.InBounds(gRow, gCol) {
		return 0, 0, fmt.Errorf("lat/lon %.4f/%.4f outside transformation raster extent", lat, lon)
	}
	rg := t.Range.At(gRow, gCol)
	az := t.Azimuth.At(gRow, gCol)
	if rg == 0 && az == 0 {
		return 0, 0, fmt.Errorf("lat/lon %.4f/%.4f not covered by radar geometry", lat, lon)
	}
	return int(math.Round(float64(az))), int(math.Round(float64(rg))), nil
}
