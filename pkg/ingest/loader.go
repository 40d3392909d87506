// Package ingest merges raw interferometric source rasters into multi-epoch
// containers. It enforces dimensional consistency across a candidate batch,
// skips epochs that are already loaded, and appends the rest.
package ingest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"insarstack/pkg/attr"
	"insarstack/pkg/raster"
	"insarstack/pkg/store"
)

// DefaultProjectName is stamped as PROJECT_NAME when the caller supplies
// none.
const DefaultProjectName = "INSAR"

// Loader writes source rasters into containers.
type Loader struct {
	// ProjectName is stamped into every loaded epoch.
	ProjectName string

	Log *zap.Logger
}

// NewLoader returns a Loader with the default project name and a no-op
// logger.
func NewLoader() *Loader {
	return &Loader{ProjectName: DefaultProjectName, Log: zap.NewNop()}
}

// MergeInto merges the candidate sources into the multi-epoch container at
// containerPath, creating it on first use. It returns the container path and
// the epoch ids actually written; the list is empty when every candidate was
// already present.
//
// The merge is not atomic: epochs are written sequentially in input order,
// and a mid-batch failure leaves the container with the epochs written so
// far. Epochs not touched by the batch are never corrupted. Callers that
// need whole-batch atomicity must snapshot the container file first.
func (ld *Loader) MergeInto(containerPath string, sources []string, fileType string, extra attr.Dict) (string, []string, error) {
	if len(sources) == 0 {
		return containerPath, nil, fmt.Errorf("no source files given")
	}

	cands := ReadCandidates(sources, ld.Log)
	if len(cands) == 0 {
		return containerPath, nil, fmt.Errorf("none of %d sources had readable attributes", len(sources))
	}
	if fileType == "" {
		var err error
		if fileType, err = ClassifyFileType(cands[0].Path); err != nil {
			return containerPath, nil, err
		}
	}
	if !IsMultiEpoch(fileType) {
		if IsSingleRaster(fileType) {
			// Single-raster products keep only the last source, matching the
			// one-dataset layout.
			last := cands[len(cands)-1]
			err := ld.LoadSingle(last.Path, fileType, containerPath, extra)
			if err != nil {
				return containerPath, nil, err
			}
			return containerPath, []string{last.EpochID}, nil
		}
		return containerPath, nil, &UnsupportedFileTypeError{FileType: fileType}
	}

	cands, width, length := FilterBySize(cands, 0, 0, ld.Log)
	if width == 0 || length == 0 {
		// No majority size. The first candidate becomes authoritative so a
		// mixed-size batch can never seed a container with mixed epochs.
		cands, width, length = FilterBySize(cands, cands[0].Width, cands[0].Length, ld.Log)
	}

	// Reconcile with an existing container before any write: drop epochs that
	// are already present, then make sure the surviving batch agrees with the
	// container's size.
	c, err := store.OpenAppend(containerPath, ld.Log)
	if err != nil {
		return containerPath, nil, err
	}
	defer c.Close()

	existing, err := c.Epochs(fileType)
	if err != nil {
		return containerPath, nil, err
	}
	if len(existing) > 0 {
		cands = FilterExisting(cands, existing, ld.Log)
		if len(cands) == 0 {
			ld.Log.Info("all sources already loaded", zap.String("container", containerPath))
			return containerPath, []string{}, nil
		}
		cw, cl, err := c.Size(fileType)
		if err != nil {
			return containerPath, nil, err
		}
		// The whole batch fails before any write when the surviving
		// candidates' majority size disagrees with the container.
		widths := make([]int, len(cands))
		lengths := make([]int, len(cands))
		for i, cand := range cands {
			widths[i] = cand.Width
			lengths[i] = cand.Length
		}
		mw, wOK := SizeMode(widths)
		ml, lOK := SizeMode(lengths)
		if wOK && lOK && (mw != cw || ml != cl) {
			return containerPath, nil, &DimensionMismatchError{
				ContainerPath:   containerPath,
				ContainerWidth:  cw,
				ContainerLength: cl,
				CandidateWidth:  mw,
				CandidateLength: ml,
			}
		}
		// The container size is authoritative for individual candidates.
		cands, width, length = FilterBySize(cands, cw, cl, ld.Log)
		if len(cands) == 0 {
			return containerPath, nil, &DimensionMismatchError{
				ContainerPath:   containerPath,
				ContainerWidth:  cw,
				ContainerLength: cl,
			}
		}
	}

	ld.Log.Info("loading sources into container",
		zap.String("container", containerPath),
		zap.String("file_type", fileType),
		zap.Int("epochs", len(cands)))

	added := make([]string, 0, len(cands))
	for _, cand := range cands {
		g, atr, err := raster.ReadSource(cand.Path)
		if err != nil {
			return containerPath, added, fmt.Errorf("loading %s: %w", cand.Path, err)
		}
		ld.enrichBaseline(cand.Path, atr)
		ld.stamp(atr, fileType, extra)

		if err := c.WriteEpoch(fileType, cand.EpochID, g, atr); err != nil {
			return containerPath, added, err
		}
		added = append(added, cand.EpochID)
		ld.Log.Info("added epoch", zap.String("epoch", cand.EpochID))
	}

	group := attr.Dict{
		attr.KeyFileType:   fileType,
		attr.KeyWidth:      fmt.Sprintf("%d", width),
		attr.KeyFileLength: fmt.Sprintf("%d", length),
	}
	if err := c.SetAttrs(fileType, group); err != nil {
		return containerPath, added, err
	}
	return containerPath, added, nil
}

// LoadSingle writes a DEM, mask or similar single-raster product into its own
// container. The write is skipped when the container already exists and is
// newer than the source.
func (ld *Loader) LoadSingle(sourcePath, fileType, containerPath string, extra attr.Dict) error {
	if !needsRewrite(containerPath, sourcePath) {
		ld.Log.Info("container is up to date, skipping",
			zap.String("container", containerPath))
		return nil
	}
	g, atr, err := raster.ReadSource(sourcePath)
	if err != nil {
		return fmt.Errorf("loading %s: %w", sourcePath, err)
	}
	ld.stamp(atr, fileType, extra)

	c, err := store.Create(containerPath)
	if err != nil {
		return err
	}
	defer c.Close()
	if err := c.WriteEpoch(fileType, fileType, g, atr); err != nil {
		return err
	}
	return c.SetAttrs(fileType, atr)
}

// stamp applies the provenance attributes every loaded epoch carries.
func (ld *Loader) stamp(atr attr.Dict, fileType string, extra attr.Dict) {
	atr.Merge(extra)
	atr[attr.KeyFileType] = fileType
	if _, ok := atr[attr.KeyDropIfgram]; !ok {
		atr[attr.KeyDropIfgram] = "no"
	}
	if _, ok := atr[attr.KeyProjectName]; !ok {
		name := ld.ProjectName
		if name == "" {
			name = DefaultProjectName
		}
		atr[attr.KeyProjectName] = name
	}
}

// enrichBaseline merges the companion baseline metadata file named by the
// epoch's date pair (<date1>_<date2>_baseline.rsc next to the source).
// Absence of the companion is a normal outcome, logged and skipped.
func (ld *Loader) enrichBaseline(sourcePath string, atr attr.Dict) {
	d12, ok := atr[attr.KeyDate12]
	if !ok {
		return
	}
	dates := strings.SplitN(strings.Replace(d12, "_", "-", 1), "-", 2)
	if len(dates) != 2 {
		return
	}
	baselinePath := filepath.Join(filepath.Dir(sourcePath),
		dates[0]+"_"+dates[1]+"_baseline.rsc")
	baseline, err := attr.ReadRSC(baselinePath)
	if err != nil {
		ld.Log.Debug("no baseline companion file",
			zap.String("path", baselinePath))
		return
	}
	atr.Merge(baseline)
}

// needsRewrite reports whether dst is missing or older than src.
func needsRewrite(dst, src string) bool {
	di, err := os.Stat(dst)
	if err != nil {
		return true
	}
	si, err := os.Stat(src)
	if err != nil {
		return true
	}
	return si.ModTime().After(di.ModTime())
}
