package template

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"insarstack/pkg/refpoint"
)

func writeTemplate(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "KujuAlosAT422F650.template")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestRead(t *testing.T) {
	path := writeTemplate(t, `
# dataset directives
insar.reference.yx       = 257, 151    # row, column
insar.reference.lalo     = auto
insar.load.unwFiles      = filt_*rlks_c10.unw

not a directive line
insar.load.processor =
`)
	tpl, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, "257, 151", tpl[KeyReferenceYX])
	assert.Equal(t, "auto", tpl[KeyReferenceLatLon])
	assert.Equal(t, "filt_*rlks_c10.unw", tpl[KeyLoadUnwFiles])
	_, ok := tpl[KeyLoadProcessor]
	assert.False(t, ok, "empty values are dropped")
	assert.Len(t, tpl, 3)
}

func TestApplyReferenceFillsUnset(t *testing.T) {
	tpl := map[string]string{
		KeyReferenceYX:     "257, 151",
		KeyReferenceLatLon: "33.08, 131.25",
		KeyReferenceMask:   "Mask.db",
		KeyReferenceMinCoh: "0.9",
	}
	var opts refpoint.Options
	require.NoError(t, ApplyReference(tpl, &opts))

	require.NotNil(t, opts.RefRow)
	assert.Equal(t, 257, *opts.RefRow)
	assert.Equal(t, 151, *opts.RefCol)
	assert.Equal(t, 33.08, *opts.RefLat)
	assert.Equal(t, 131.25, *opts.RefLon)
	assert.Equal(t, "Mask.db", opts.MaskPath)
	require.NotNil(t, opts.MinCoherence)
	assert.Equal(t, 0.9, *opts.MinCoherence)
}

func TestApplyReferenceKeepsExplicitValues(t *testing.T) {
	tpl := map[string]string{
		KeyReferenceYX:     "257, 151",
		KeyReferenceMinCoh: "0.9",
	}
	row, col := 1, 2
	minCoh := 0.7
	opts := refpoint.Options{RefRow: &row, RefCol: &col, MinCoherence: &minCoh}
	require.NoError(t, ApplyReference(tpl, &opts))

	assert.Equal(t, 1, *opts.RefRow, "direct input wins over the template")
	assert.Equal(t, 2, *opts.RefCol)
	assert.Equal(t, 0.7, *opts.MinCoherence)
}

func TestApplyReferenceKeepsExplicitZeroThreshold(t *testing.T) {
	zero := 0.0
	opts := refpoint.Options{MinCoherence: &zero}
	require.NoError(t, ApplyReference(map[string]string{KeyReferenceMinCoh: "0.9"}, &opts))

	assert.Equal(t, 0.0, *opts.MinCoherence, "zero is a threshold, not an unset marker")
}

func TestApplyReferenceAutoAndNo(t *testing.T) {
	var opts refpoint.Options
	require.NoError(t, ApplyReference(map[string]string{
		KeyReferenceYX:        "auto",
		KeyReferenceMask:      "no",
		KeyReferenceCoherence: "auto",
	}, &opts))

	assert.Nil(t, opts.RefRow)
	assert.Empty(t, opts.MaskPath)
	assert.Equal(t, DefaultCoherenceFile, opts.CoherencePath,
		"coherenceFile auto resolves to the conventional container name")

	opts = refpoint.Options{}
	require.NoError(t, ApplyReference(map[string]string{
		KeyReferenceCoherence: "no",
	}, &opts))
	assert.Empty(t, opts.CoherencePath)
}

func TestApplyReferenceBadDirectives(t *testing.T) {
	var opts refpoint.Options
	err := ApplyReference(map[string]string{KeyReferenceYX: "257"}, &opts)
	assert.Error(t, err)

	opts = refpoint.Options{}
	err = ApplyReference(map[string]string{KeyReferenceLatLon: "33.08, north"}, &opts)
	assert.Error(t, err)

	opts = refpoint.Options{}
	err = ApplyReference(map[string]string{KeyReferenceMinCoh: "high"}, &opts)
	assert.Error(t, err)
}

func TestApplyLoad(t *testing.T) {
	tpl := map[string]string{
		KeyLoadProcessor: "roipac",
		KeyLoadUnwFiles:  "filt_*rlks_c10.unw",
		KeyLoadCorFiles:  "filt_*rlks.cor",
		KeyLoadIntFiles:  "no",
		KeyLoadDemGeo:    "radar_*rlks.hgt",
	}
	in := LoadInputs{Cor: "explicit.cor"}
	ApplyLoad(tpl, &in)

	assert.Equal(t, "roipac", in.Processor)
	assert.Equal(t, "filt_*rlks_c10.unw", in.Unw)
	assert.Equal(t, "explicit.cor", in.Cor, "direct input wins over the template")
	assert.Empty(t, in.Int, "no disables the input")
	assert.Equal(t, "radar_*rlks.hgt", in.DemGeo)
	assert.Empty(t, in.DemRadar)
}
