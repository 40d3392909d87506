package raster

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"insarstack/pkg/attr"
)

// ReadAttrs loads the companion .rsc attribute dictionary of a source raster
// without touching the raster payload. This keeps the dimension-consistency
// gate cheap for large candidate lists.
func ReadAttrs(path string) (attr.Dict, error) {
	d, err := attr.ReadRSC(path + ".rsc")
	if err != nil {
		return nil, fmt.Errorf("no readable attributes for %s: %w", path, err)
	}
	return d, nil
}

// ReadSource loads a source raster and its attribute dictionary. The decoder
// is chosen by file extension:
//
//	.unw .cor .hgt  band-interleaved-by-line float32 (amplitude, value);
//	                the value band is returned
//	.int            interleaved complex64; the phase is returned
//	.msk .byt .flg  one byte per pixel
//	.dem            little-endian int16
//
// Zero amplitude in band-interleaved products marks missing data and is
// mapped to NaN, so downstream validity masks fall out naturally.
func ReadSource(path string) (*Grid, attr.Dict, error) {
	atr, err := ReadAttrs(path)
	if err != nil {
		return nil, nil, err
	}
	width, length, err := atr.Size()
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}

	var g *Grid
	switch strings.ToLower(filepath.Ext(path)) {
	case ".unw", ".cor", ".hgt":
		g, err = decodeRMG(raw, width, length)
	case ".int":
		g, err = decodeComplexPhase(raw, width, length)
	case ".msk", ".byt", ".flg":
		g, err = decodeBytes(raw, width, length)
	case ".dem":
		g, err = decodeInt16(raw, width, length)
	default:
		err = fmt.Errorf("unknown raster extension %q", filepath.Ext(path))
	}
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	return g, atr, nil
}

// decodeRMG decodes a band-interleaved-by-line float32 raster: each row holds
// width amplitude samples followed by width value samples.
func decodeRMG(raw []byte, width, length int) (*Grid, error) {
	want := width * length * 8
	if len(raw) < want {
		return nil, fmt.Errorf("short rmg raster: have %d bytes, want %d", len(raw), want)
	}
	g := NewGrid(width, length)
	nan := float32(math.NaN())
	for row := 0; row < length; row++ {
		base := row * width * 8
		for col := 0; col < width; col++ {
			amp := math.Float32frombits(binary.LittleEndian.Uint32(raw[base+col*4:]))
			val := math.Float32frombits(binary.LittleEndian.Uint32(raw[base+(width+col)*4:]))
			if amp == 0 {
				val = nan
			}
			g.Set(row, col, val)
		}
	}
	return g, nil
}

// decodeRMGBands decodes both bands of a band-interleaved-by-line float32
// raster without any missing-data mapping.
func decodeRMGBands(raw []byte, width, length int) (band1, band2 *Grid, err error) {
	want := width * length * 8
	if len(raw) < want {
		return nil, nil, fmt.Errorf("short rmg raster: have %d bytes, want %d", len(raw), want)
	}
	band1 = NewGrid(width, length)
	band2 = NewGrid(width, length)
	for row := 0; row < length; row++ {
		base := row * width * 8
		for col := 0; col < width; col++ {
			band1.Set(row, col, math.Float32frombits(binary.LittleEndian.Uint32(raw[base+col*4:])))
			band2.Set(row, col, math.Float32frombits(binary.LittleEndian.Uint32(raw[base+(width+col)*4:])))
		}
	}
	return band1, band2, nil
}

// decodeComplexPhase decodes an interleaved complex64 raster to its phase.
func decodeComplexPhase(raw []byte, width, length int) (*Grid, error) {
	want := width * length * 8
	if len(raw) < want {
		return nil, fmt.Errorf("short complex raster: have %d bytes, want %d", len(raw), want)
	}
	g := NewGrid(width, length)
	nan := float32(math.NaN())
	for i := 0; i < width*length; i++ {
		re := math.Float32frombits(binary.LittleEndian.Uint32(raw[i*8:]))
		im := math.Float32frombits(binary.LittleEndian.Uint32(raw[i*8+4:]))
		if re == 0 && im == 0 {
			g.Data[i] = nan
			continue
		}
		g.Data[i] = float32(math.Atan2(float64(im), float64(re)))
	}
	return g, nil
}

func decodeBytes(raw []byte, width, length int) (*Grid, error) {
	want := width * length
	if len(raw) < want {
		return nil, fmt.Errorf("short byte raster: have %d bytes, want %d", len(raw), want)
	}
	g := NewGrid(width, length)
	for i := 0; i < want; i++ {
		g.Data[i] = float32(raw[i])
	}
	return g, nil
}

func decodeInt16(raw []byte, width, length int) (*Grid, error) {
	want := width * length * 2
	if len(raw) < want {
		return nil, fmt.Errorf("short int16 raster: have %d bytes, want %d", len(raw), want)
	}
	g := NewGrid(width, length)
	for i := 0; i < width*length; i++ {
		g.Data[i] = float32(int16(binary.LittleEndian.Uint16(raw[i*2:])))
	}
	return g, nil
}

var datePairRe = regexp.MustCompile(`(\d{6,8})[-_](\d{6,8})`)
var singleDateRe = regexp.MustCompile(`\d{6,8}`)

// EpochID derives the epoch identifier of a source raster: the DATE12
// attribute when present, otherwise a date pair (or single date) extracted
// from the file name. Date pairs are normalised to "date1-date2".
func EpochID(path string, atr attr.Dict) (string, error) {
	if d12, ok := atr[attr.KeyDate12]; ok && d12 != "" {
		return strings.Replace(d12, "_", "-", 1), nil
	}
	base := filepath.Base(path)
	if m := datePairRe.FindStringSubmatch(base); m != nil {
		return m[1] + "-" + m[2], nil
	}
	if m := singleDateRe.FindString(base); m != "" {
		return m, nil
	}
	return "", fmt.Errorf("cannot derive epoch id from %s (no DATE12 attribute or date in name)", path)
}
