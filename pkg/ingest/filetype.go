package ingest

import (
	"fmt"
	"path/filepath"
	"strings"

	"insarstack/pkg/attr"
)

// UnsupportedFileTypeError reports a file type with no known container
// layout.
type UnsupportedFileTypeError struct {
	FileType string
}

func (e *UnsupportedFileTypeError) Error() string {
	return fmt.Sprintf("unsupported file type %q", e.FileType)
}

// Container layouts. Multi-epoch file types hold one raster per epoch;
// single-raster file types hold exactly one dataset.
var multiEpochFileTypes = map[string]bool{
	"interferograms":           true,
	"coherence":                true,
	"wrapped":                  true,
	"snaphu_connect_component": true,
	"timeseries":               true,
}

var singleRasterFileTypes = map[string]bool{
	"dem":  true,
	"mask": true,
}

// IsMultiEpoch reports whether fileType uses the multi-epoch layout.
func IsMultiEpoch(fileType string) bool {
	return multiEpochFileTypes[fileType]
}

// IsSingleRaster reports whether fileType uses the single-raster layout.
func IsSingleRaster(fileType string) bool {
	return singleRasterFileTypes[fileType]
}

// ClassifyFileType maps a source raster extension to its container file
// type. An unknown extension yields an UnsupportedFileTypeError.
func ClassifyFileType(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".unw":
		return "interferograms", nil
	case ".cor":
		return "coherence", nil
	case ".int":
		return "wrapped", nil
	case ".byt":
		return "snaphu_connect_component", nil
	case ".msk":
		return "mask", nil
	case ".dem", ".hgt":
		return "dem", nil
	}
	return "", &UnsupportedFileTypeError{FileType: filepath.Ext(path)}
}

// DefaultContainerName returns the conventional container file name for a
// file type. DEM containers are split by coordinate system, decided from the
// source attributes.
func DefaultContainerName(fileType string, atr attr.Dict) (string, error) {
	switch fileType {
	case "interferograms":
		return "unwrapIfgram.db", nil
	case "coherence":
		return "coherence.db", nil
	case "wrapped":
		return "wrapIfgram.db", nil
	case "snaphu_connect_component":
		return "snaphuConnectComponent.db", nil
	case "mask":
		return "mask.db", nil
	case "timeseries":
		return "timeseries.db", nil
	case "dem":
		if atr.IsGeocoded() {
			return "demGeo.db", nil
		}
		return "demRadar.db", nil
	}
	return "", &UnsupportedFileTypeError{FileType: fileType}
}
