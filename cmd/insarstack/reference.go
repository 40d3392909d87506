package main

import (
	"bufio"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"insarstack/pkg/raster"
	"insarstack/pkg/refpoint"
	"insarstack/pkg/template"
)

var refOpts struct {
	row, col      int
	lat, lon      float64
	maskPath      string
	coherencePath string
	minCoherence  float64
	method        string
	referenceFile string
	templateFile  string
	transFile     string
	markOnly      bool
	output        string
	noParallel    bool
	seed          int64
}

var referenceCmd = &cobra.Command{
	Use:   "reference FILE...",
	Short: "Reference every epoch of a container to one spatial anchor",
	Long: `Reference every epoch of a container to one spatial anchor.

The anchor is selected by the first applicable method: an explicit row/column
or lat/lon input, a random pixel above the coherence threshold, a manual
pick, a uniform random valid pixel, or (on request) the per-epoch global
spatial average. The selected anchor must hold a valid value in every epoch.

Coordinate inputs are taken with the precedence: direct flags, then the
borrowed reference file, then the template file, then built-in defaults.`,
	Example: `  insarstack reference unwrapIfgram.db -t smallbaseline.template --mark-attribute
  insarstack reference timeseries.db -r Seeded_velocity.db
  insarstack reference unwrapIfgram.db -y 257 -x 151 -m mask.db
  insarstack reference geo_velocity.db -l 34.45 -L -116.23
  insarstack reference unwrapIfgram.db -c averageSpatialCoherence.db
  insarstack reference timeseries.db --method global-average`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		files, err := expandGlobs(args)
		if err != nil {
			return err
		}
		if len(files) == 0 {
			return fmt.Errorf("no target containers match %v", args)
		}

		opts, err := buildReferenceOptions(cmd)
		if err != nil {
			return err
		}
		baseSeed := refOpts.seed
		if baseSeed == 0 {
			baseSeed = time.Now().UnixNano()
		}

		parallel := !refOpts.noParallel && len(files) > 1 && opts.Method != "manual"
		if refOpts.noParallel || opts.Method == "manual" {
			logger.Info("parallel processing disabled")
		}
		if !parallel {
			for i, f := range files {
				o := opts
				o.Rand = rand.New(rand.NewSource(baseSeed + int64(i)))
				if len(files) == 1 {
					o.OutPath = refOpts.output
				}
				out, err := refpoint.Run(f, o)
				if err != nil {
					return fmt.Errorf("%s: %w", f, err)
				}
				logger.Info("seeding finished", zap.String("output", out))
			}
			return nil
		}

		g := new(errgroup.Group)
		g.SetLimit(cfg.Processing.Workers)
		for i, f := range files {
			i, f := i, f
			g.Go(func() error {
				// rand.Rand is not safe for concurrent use; every file gets
				// its own source derived from the base seed.
				o := opts
				o.Rand = rand.New(rand.NewSource(baseSeed + int64(i)))
				out, err := refpoint.Run(f, o)
				if err != nil {
					return fmt.Errorf("%s: %w", f, err)
				}
				logger.Info("seeding finished", zap.String("output", out))
				return nil
			})
		}
		return g.Wait()
	},
}

func init() {
	f := referenceCmd.Flags()
	f.IntVarP(&refOpts.row, "row", "y", 0, "row (azimuth) of the reference pixel")
	f.IntVarP(&refOpts.col, "col", "x", 0, "column (range) of the reference pixel")
	f.Float64VarP(&refOpts.lat, "lat", "l", 0, "latitude of the reference pixel")
	f.Float64VarP(&refOpts.lon, "lon", "L", 0, "longitude of the reference pixel")
	f.StringVarP(&refOpts.maskPath, "mask", "m", "", "mask file intersected with the validity mask")
	f.StringVarP(&refOpts.coherencePath, "coherence", "c", "", "coherence file for threshold selection")
	f.Float64Var(&refOpts.minCoherence, "min-coherence", 0, "minimum coherence of the reference pixel")
	f.StringVar(&refOpts.method, "method", "", "selection method (input-coord, max-coherence, manual, random, global-average)")
	f.StringVarP(&refOpts.referenceFile, "reference", "r", "", "borrow the reference point of this seeded container")
	f.StringVarP(&refOpts.templateFile, "template", "t", "", "template file with insar.reference.* directives")
	f.StringVar(&refOpts.transFile, "trans", "", "mapping transformation file for lat/lon input on radar-coordinate data")
	f.BoolVar(&refOpts.markOnly, "mark-attribute", false, "record the reference attributes only, leave raster values untouched")
	f.StringVarP(&refOpts.output, "outfile", "o", "", "output container path (single target only)")
	f.BoolVar(&refOpts.noParallel, "no-parallel", false, "seed targets sequentially")
	f.Int64Var(&refOpts.seed, "seed", 0, "random seed for reproducible selection (0 uses the clock)")
}

// buildReferenceOptions merges the coordinate input surfaces in precedence
// order: direct flags, reference-file borrow, template, configured defaults.
func buildReferenceOptions(cmd *cobra.Command) (refpoint.Options, error) {
	opts := refpoint.Options{
		MaskPath:      refOpts.maskPath,
		CoherencePath: refOpts.coherencePath,
		Method:        refOpts.method,
		MarkOnly:      refOpts.markOnly,
		Log:           logger,
	}
	if cmd.Flags().Changed("row") && cmd.Flags().Changed("col") {
		row, col := refOpts.row, refOpts.col
		opts.RefRow, opts.RefCol = &row, &col
	}
	if cmd.Flags().Changed("lat") && cmd.Flags().Changed("lon") {
		lat, lon := refOpts.lat, refOpts.lon
		opts.RefLat, opts.RefLon = &lat, &lon
	}
	if cmd.Flags().Changed("min-coherence") {
		minCoh := refOpts.minCoherence
		opts.MinCoherence = &minCoh
	}

	if refOpts.referenceFile != "" {
		if err := refpoint.BorrowReference(refOpts.referenceFile, &opts); err != nil {
			return opts, fmt.Errorf("reference file %s: %w", refOpts.referenceFile, err)
		}
	}
	if refOpts.templateFile != "" {
		tpl, err := template.Read(refOpts.templateFile)
		if err != nil {
			return opts, err
		}
		if err := template.ApplyReference(tpl, &opts); err != nil {
			return opts, err
		}
	}
	if opts.MinCoherence == nil {
		minCoh := cfg.Reference.MinCoherence
		opts.MinCoherence = &minCoh
	}
	if opts.Method == "" {
		opts.Method = cfg.Reference.Method
	}

	if refOpts.transFile != "" {
		trans, err := raster.ReadTrans(refOpts.transFile)
		if err != nil {
			return opts, err
		}
		opts.Mapper = trans
	}
	if opts.Method == "manual" {
		opts.Picker = &promptPicker{in: bufio.NewReader(os.Stdin)}
	}
	return opts, nil
}

// promptPicker asks for a reference pixel on the terminal. It stands in for
// the graphical pixel picking of interactive front ends.
type promptPicker struct {
	in *bufio.Reader
}

func (p *promptPicker) Pick(display *raster.Grid) (int, int, error) {
	fmt.Printf("stack is %d rows by %d columns\n", display.Height, display.Width)
	fmt.Print("enter reference pixel as: row col > ")
	line, err := p.in.ReadString('\n')
	if err != nil {
		return 0, 0, err
	}
	var row, col int
	if _, err := fmt.Sscan(line, &row, &col); err != nil {
		return 0, 0, fmt.Errorf("expected two integers: %w", err)
	}
	return row, col, nil
}
