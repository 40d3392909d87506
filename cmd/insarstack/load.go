package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"insarstack/pkg/attr"
	"insarstack/pkg/ingest"
	"insarstack/pkg/raster"
	"insarstack/pkg/template"
)

var loadOpts struct {
	files        []string
	templateFile string
	project      string
	processor    string
	fileType     string
	output       string
	dir          string
}

var loadCmd = &cobra.Command{
	Use:   "load",
	Short: "Merge source rasters into a multi-epoch container",
	Long: `Merge source rasters into a multi-epoch container.

Sources are given either directly with --file (glob patterns allowed) or
through a template file whose insar.load.* directives name the unwrapped,
wrapped, coherence and DEM inputs of a whole dataset. Epochs already present
in the target container are skipped, so re-running load after new
acquisitions arrive appends only the new epochs.`,
	Example: `  insarstack load -f 'PROCESS/DONE/IFGRAM*/filt_*.unw'
  insarstack load -f 'filt_*.unw' -o unwrapIfgram.db
  insarstack load -f radar_4rlks.hgt -o demRadar.db
  insarstack load -t SanAndreasT356EnvD.template`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(loadOpts.files) == 0 && loadOpts.templateFile == "" {
			cmd.Usage()
			return fmt.Errorf("empty FILE and TEMPLATE_FILE, at least one is needed")
		}

		project := loadOpts.project
		if project == "" && loadOpts.templateFile != "" {
			// The template file name doubles as the project name.
			base := filepath.Base(loadOpts.templateFile)
			project = base[:len(base)-len(filepath.Ext(base))]
		}
		if project == "" {
			project = cfg.Project.Name
		}
		loader := &ingest.Loader{ProjectName: project, Log: logger}
		extra := attr.Dict{}
		if loadOpts.processor != "" {
			extra[attr.KeyProcessor] = loadOpts.processor
		}

		if len(loadOpts.files) > 0 {
			return loadBatch(loader, loadOpts.files, loadOpts.fileType, loadOpts.output, extra)
		}
		return loadFromTemplate(loader, loadOpts.templateFile, extra)
	},
}

func init() {
	f := loadCmd.Flags()
	f.StringSliceVarP(&loadOpts.files, "file", "f", nil, "source raster path(s) or glob pattern(s)")
	f.StringVarP(&loadOpts.templateFile, "template", "t", "", "template file with insar.load.* directives")
	f.StringVar(&loadOpts.project, "project", "", "project name stamped into loaded epochs")
	f.StringVar(&loadOpts.processor, "processor", "", "InSAR processor of the sources (roipac, gamma, isce)")
	f.StringVar(&loadOpts.fileType, "file-type", "", "output file type (interferograms, coherence, wrapped, dem, ...)")
	f.StringVarP(&loadOpts.output, "output", "o", "", "output container path")
	f.StringVar(&loadOpts.dir, "dir", ".", "directory for default-named output containers")
}

// loadBatch merges one pattern list into one container.
func loadBatch(loader *ingest.Loader, patterns []string, fileType, output string, extra attr.Dict) error {
	paths, err := expandGlobs(patterns)
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		logger.Warn("no files match the given patterns", zap.Strings("patterns", patterns))
		return nil
	}
	if fileType == "" {
		if fileType, err = ingest.ClassifyFileType(paths[0]); err != nil {
			return err
		}
	}
	if output == "" {
		atr, err := raster.ReadAttrs(paths[0])
		if err != nil {
			return err
		}
		name, err := ingest.DefaultContainerName(fileType, atr)
		if err != nil {
			return err
		}
		output = filepath.Join(loadOpts.dir, name)
	}
	_, added, err := loader.MergeInto(output, paths, fileType, extra)
	if err != nil {
		return err
	}
	logger.Info("load finished",
		zap.String("container", output),
		zap.Int("epochs_added", len(added)))
	return nil
}

// loadFromTemplate loads every input class the template names. The unwrapped
// interferograms are required; the rest are loaded when present.
func loadFromTemplate(loader *ingest.Loader, templatePath string, extra attr.Dict) error {
	tpl, err := template.Read(templatePath)
	if err != nil {
		return err
	}
	var in template.LoadInputs
	template.ApplyLoad(tpl, &in)
	if in.Processor != "" {
		extra[attr.KeyProcessor] = in.Processor
	}

	if in.Unw == "" {
		return fmt.Errorf("template %s names no unwrapped interferograms (%s)",
			templatePath, template.KeyLoadUnwFiles)
	}
	if err := loadBatch(loader, []string{in.Unw}, "interferograms", "", extra); err != nil {
		return err
	}
	for _, opt := range []struct {
		pattern  string
		fileType string
	}{
		{in.Cor, "coherence"},
		{in.Int, "wrapped"},
		{in.DemGeo, "dem"},
		{in.DemRadar, "dem"},
	} {
		if opt.pattern == "" {
			continue
		}
		if err := loadBatch(loader, []string{opt.pattern}, opt.fileType, "", extra); err != nil {
			return err
		}
	}
	return nil
}
