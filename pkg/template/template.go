// Package template reads the key/value directive files that configure whole
// dataset runs. A directive line is "key = value"; everything after a '#' is
// comment. The special values "auto" and "no" mean "use the built-in
// default" and "disable".
//
// Directives carry the lowest precedence of the input surfaces: direct CLI
// input wins over a reference-file borrow, which wins over the template,
// which wins over built-in defaults. The fill-if-unset helpers below
// implement that by never overwriting a value that is already set.
package template

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"insarstack/pkg/refpoint"
)

// Reference directive keys.
const (
	KeyReferenceYX        = "insar.reference.yx"
	KeyReferenceLatLon    = "insar.reference.lalo"
	KeyReferenceMask      = "insar.reference.maskFile"
	KeyReferenceCoherence = "insar.reference.coherenceFile"
	KeyReferenceMinCoh    = "insar.reference.minCoherence"
)

// Load directive keys.
const (
	KeyLoadProcessor = "insar.load.processor"
	KeyLoadUnwFiles  = "insar.load.unwFiles"
	KeyLoadCorFiles  = "insar.load.corFiles"
	KeyLoadIntFiles  = "insar.load.intFiles"
	KeyLoadDemGeo    = "insar.load.demFile.geoCoord"
	KeyLoadDemRadar  = "insar.load.demFile.radarCoord"
)

// DefaultCoherenceFile is the coherence container assumed when the directive
// says auto.
const DefaultCoherenceFile = "averageSpatialCoherence.db"

// Read parses a template file into a directive map.
func Read(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	tpl := make(map[string]string)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if i := strings.Index(line, "#"); i >= 0 {
			line = line[:i]
		}
		key, value, found := strings.Cut(line, "=")
		if !found {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if key == "" || value == "" {
			continue
		}
		tpl[key] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading template %s: %w", path, err)
	}
	return tpl, nil
}

// ApplyReference fills unset reference options from the template's
// directives.
func ApplyReference(tpl map[string]string, opts *refpoint.Options) error {
	if v, ok := directive(tpl, KeyReferenceYX); ok && opts.RefRow == nil && opts.RefCol == nil {
		row, col, err := splitInts(v)
		if err != nil {
			return fmt.Errorf("%s: %w", KeyReferenceYX, err)
		}
		opts.RefRow, opts.RefCol = &row, &col
	}
	if v, ok := directive(tpl, KeyReferenceLatLon); ok && opts.RefLat == nil && opts.RefLon == nil {
		lat, lon, err := splitFloats(v)
		if err != nil {
			return fmt.Errorf("%s: %w", KeyReferenceLatLon, err)
		}
		opts.RefLat, opts.RefLon = &lat, &lon
	}
	if v, ok := directive(tpl, KeyReferenceMask); ok && opts.MaskPath == "" {
		opts.MaskPath = v
	}
	if opts.CoherencePath == "" {
		if v, ok := tpl[KeyReferenceCoherence]; ok {
			if v == "auto" {
				opts.CoherencePath = DefaultCoherenceFile
			} else if v != "no" {
				opts.CoherencePath = v
			}
		}
	}
	if v, ok := directive(tpl, KeyReferenceMinCoh); ok && opts.MinCoherence == nil {
		minCoh, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", KeyReferenceMinCoh, err)
		}
		opts.MinCoherence = &minCoh
	}
	return nil
}

// LoadInputs is the set of source-path patterns a template contributes to
// the load tool.
type LoadInputs struct {
	Processor string
	Unw       string
	Cor       string
	Int       string
	DemGeo    string
	DemRadar  string
}

// ApplyLoad fills unset load inputs from the template's directives.
func ApplyLoad(tpl map[string]string, in *LoadInputs) {
	if v, ok := directive(tpl, KeyLoadProcessor); ok && in.Processor == "" {
		in.Processor = v
	}
	if v, ok := directive(tpl, KeyLoadUnwFiles); ok && in.Unw == "" {
		in.Unw = v
	}
	if v, ok := directive(tpl, KeyLoadCorFiles); ok && in.Cor == "" {
		in.Cor = v
	}
	if v, ok := directive(tpl, KeyLoadIntFiles); ok && in.Int == "" {
		in.Int = v
	}
	if v, ok := directive(tpl, KeyLoadDemGeo); ok && in.DemGeo == "" {
		in.DemGeo = v
	}
	if v, ok := directive(tpl, KeyLoadDemRadar); ok && in.DemRadar == "" {
		in.DemRadar = v
	}
}

// directive returns a directive value, treating auto and no as unset.
func directive(tpl map[string]string, key string) (string, bool) {
	v, ok := tpl[key]
	if !ok || v == "auto" || v == "no" {
		return "", false
	}
	return v, true
}

func splitInts(v string) (int, int, error) {
	a, b, found := strings.Cut(v, ",")
	if !found {
		return 0, 0, fmt.Errorf("expected two comma-separated values, got %q", v)
	}
	x, err := strconv.Atoi(strings.TrimSpace(a))
	if err != nil {
		return 0, 0, err
	}
	y, err := strconv.Atoi(strings.TrimSpace(b))
	if err != nil {
		return 0, 0, err
	}
	return x, y, nil
}

func splitFloats(v string) (float64, float64, error) {
	a, b, found := strings.Cut(v, ",")
	if !found {
		return 0, 0, fmt.Errorf("expected two comma-separated values, got %q", v)
	}
	x, err := strconv.ParseFloat(strings.TrimSpace(a), 64)
	if err != nil {
		return 0, 0, err
	}
	y, err := strconv.ParseFloat(strings.TrimSpace(b), 64)
	if err != nil {
		return 0, 0, err
	}
	return x, y, nil
}
