// Package attr implements the flat string-keyed attribute dictionaries that
// travel with every raster in an insarstack container. The dictionary format
// follows the ROI_PAC resource (.rsc) convention: one "KEY value" pair per
// line, everything stored as strings.
package attr

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
)

// Well-known attribute keys. WIDTH, FILE_LENGTH and FILE_TYPE are mandatory
// for every stored raster; the ref_* keys appear after reference-point
// seeding.
const (
	KeyWidth       = "WIDTH"
	KeyFileLength  = "FILE_LENGTH"
	KeyFileType    = "FILE_TYPE"
	KeyProcessor   = "PROCESSOR"
	KeyDate12      = "DATE12"
	KeyProjectName = "PROJECT_NAME"
	KeyDropIfgram  = "drop_ifgram"

	KeyRefY   = "ref_y"
	KeyRefX   = "ref_x"
	KeyRefLat = "ref_lat"
	KeyRefLon = "ref_lon"

	// Geocoding anchor of the first (top-left) pixel plus the per-pixel
	// step. Present only for geocoded rasters.
	KeyXFirst = "X_FIRST"
	KeyYFirst = "Y_FIRST"
	KeyXStep  = "X_STEP"
	KeyYStep  = "Y_STEP"
)

// Dict is a flat string-to-string attribute dictionary.
type Dict map[string]string

// Clone returns an independent copy of the dictionary.
func (d Dict) Clone() Dict {
	out := make(Dict, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// Merge copies every entry of other into d, overwriting existing keys.
func (d Dict) Merge(other Dict) {
	for k, v := range other {
		d[k] = v
	}
}

// Int parses the named attribute as an integer.
func (d Dict) Int(key string) (int, error) {
	v, ok := d[key]
	if !ok {
		return 0, fmt.Errorf("attribute %s not found", key)
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("attribute %s=%q is not an integer: %w", key, v, err)
	}
	return n, nil
}

// Float parses the named attribute as a float64.
func (d Dict) Float(key string) (float64, error) {
	v, ok := d[key]
	if !ok {
		return 0, fmt.Errorf("attribute %s not found", key)
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, fmt.Errorf("attribute %s=%q is not a number: %w", key, v, err)
	}
	return f, nil
}

// Size returns the raster width and length declared by the dictionary.
func (d Dict) Size() (width, length int, err error) {
	if width, err = d.Int(KeyWidth); err != nil {
		return 0, 0, err
	}
	if length, err = d.Int(KeyFileLength); err != nil {
		return 0, 0, err
	}
	return width, length, nil
}

// IsGeocoded reports whether the dictionary carries a geocoded first-pixel
// anchor, which enables the affine pixel/geographic transform.
func (d Dict) IsGeocoded() bool {
	_, ok := d[KeyXFirst]
	return ok
}

// LatLonToRowCol converts a geographic coordinate to the nearest pixel
// row/column using the affine first-pixel anchor. The result may lie outside
// the raster extent; callers validate bounds themselves.
func (d Dict) LatLonToRowCol(lat, lon float64) (row, col int, err error) {
	yFirst, err := d.Float(KeyYFirst)
	if err != nil {
		return 0, 0, err
	}
	yStep, err := d.Float(KeyYStep)
	if err != nil {
		return 0, 0, err
	}
	xFirst, err := d.Float(KeyXFirst)
	if err != nil {
		return 0, 0, err
	}
	xStep, err := d.Float(KeyXStep)
	if err != nil {
		return 0, 0, err
	}
	row = int(roundHalf((lat - yFirst) / yStep))
	col = int(roundHalf((lon - xFirst) / xStep))
	return row, col, nil
}

// RowColToLatLon converts a pixel row/column to the geographic coordinate of
// its grid node using the affine first-pixel anchor.
func (d Dict) RowColToLatLon(row, col int) (lat, lon float64, err error) {
	yFirst, err := d.Float(KeyYFirst)
	if err != nil {
		return 0, 0, err
	}
	yStep, err := d.Float(KeyYStep)
	if err != nil {
		return 0, 0, err
	}
	xFirst, err := d.Float(KeyXFirst)
	if err != nil {
		return 0, 0, err
	}
	xStep, err := d.Float(KeyXStep)
	if err != nil {
		return 0, 0, err
	}
	return yFirst + float64(row)*yStep, xFirst + float64(col)*xStep, nil
}

func roundHalf(v float64) float64 {
	if v < 0 {
		return float64(int(v - 0.5))
	}
	return float64(int(v + 0.5))
}

// ReadRSC loads an attribute dictionary from a ROI_PAC .rsc resource file.
// Lines are "KEY value" pairs separated by whitespace; blank lines and lines
// without a value are skipped.
func ReadRSC(path string) (Dict, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	d := make(Dict)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		d[fields[0]] = strings.Join(fields[1:], " ")
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return d, nil
}

// WriteRSC writes the dictionary as a ROI_PAC .rsc resource file with keys in
// sorted order.
func WriteRSC(d Dict, path string) error {
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%-40s %s\n", k, d[k])
	}
	return os.WriteFile(path, []byte(b.String()), 0644)
}
