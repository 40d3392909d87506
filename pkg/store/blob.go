package store

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"insarstack/pkg/raster"
)

// encodeGrid serializes a grid as deflate-compressed little-endian float32s.
func encodeGrid(g *raster.Grid) ([]byte, error) {
	raw := make([]byte, len(g.Data)*4)
	for i, v := range g.Data {
		binary.LittleEndian.PutUint32(raw[i*4:], math.Float32bits(v))
	}
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return nil, fmt.Errorf("compressing raster: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("compressing raster: %w", err)
	}
	return buf.Bytes(), nil
}

// decodeGrid inflates a stored raster blob back into a grid.
func decodeGrid(blob []byte, width, height int) (*raster.Grid, error) {
	zr, err := zlib.NewReader(bytes.NewReader(blob))
	if err != nil {
		return nil, fmt.Errorf("decompressing raster: %w", err)
	}
	defer zr.Close()
	raw, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("decompressing raster: %w", err)
	}
	if len(raw) != width*height*4 {
		return nil, fmt.Errorf("raster blob holds %d bytes, want %d for %dx%d",
			len(raw), width*height*4, width, height)
	}
	g := raster.NewGrid(width, height)
	for i := range g.Data {
		g.Data[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return g, nil
}
