package cmd

import (
	"context"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/patrikhermansson/mdbench/bench"
	"github.com/patrikhermansson/mdbench/core"
	"github.com/patrikhermansson/mdbench/dataset"
	"github.com/patrikhermansson/mdbench/kdindex"
	"github.com/patrikhermansson/mdbench/rpt"
)

// Indexes lists the index implementations selectable with --index.
var Indexes = map[string]core.Factory{
	kdindex.Name: kdindex.Factory,
	rpt.Name:     rpt.Factory,
}

// Options holds the command line configuration.
type Options struct {
	Cardinality  uint64
	Distribution string
	Dims         int
	DataDir      string
	Repeat       int
	Ks           []int
	Index        string
	Recall       bool
	BestEffort   bool
	EmbeddedK    bool
	ProfilesFile string
	Selectivity  float64
	Aspect       float64
	Progress     bool
	PprofAddr    string
}

func indexNames() string {
	names := make([]string, 0, len(Indexes))
	for name := range Indexes {
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, "|")
}

// NewRootCommand returns the mdbench command.
func NewRootCommand() *cobra.Command {
	opts := Options{}
	command := &cobra.Command{
		Use:           "mdbench",
		Short:         "Benchmark a multidimensional point index",
		Long:          "Loads a point dataset with window and k-NN query files, measures an index's build and query latency, and optionally scores its answers against a brute-force oracle.",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cmd, opts)
		},
	}

	flags := command.Flags()
	flags.Uint64VarP(&opts.Cardinality, "cardinality", "c", 10000000,
		"scale factor converting normalised coordinates to integers")
	flags.StringVarP(&opts.Distribution, "distribution", "d", "uniform",
		"dataset distribution name")
	flags.IntVar(&opts.Dims, "dims", 2, "point dimensionality (2 or 3)")
	flags.StringVar(&opts.DataDir, "data-dir", "dataset", "directory holding the dataset and query/ files")
	flags.IntVar(&opts.Repeat, "repeat", bench.DefaultRepeat, "timed repetitions per query pass")
	flags.IntSliceVar(&opts.Ks, "k", bench.DefaultKs(), "k values for the k-NN passes")
	flags.StringVar(&opts.Index, "index", kdindex.Name, "index under test ("+indexNames()+")")
	flags.BoolVar(&opts.Recall, "recall", false, "score results against the brute-force oracle")
	flags.BoolVar(&opts.BestEffort, "best-effort", false,
		"skip missing files and malformed records instead of failing")
	flags.BoolVar(&opts.EmbeddedK, "embedded-k", false, "k-NN query records carry k as an extra field")
	flags.StringVar(&opts.ProfilesFile, "profiles", "", "YAML file overriding distribution profiles")
	flags.Float64Var(&opts.Selectivity, "selectivity", bench.DefaultSelectivity, "window query selectivity in file names")
	flags.Float64Var(&opts.Aspect, "aspect", bench.DefaultAspect, "window query aspect ratio in file names")
	flags.BoolVar(&opts.Progress, "progress", false, "show progress bars on stderr")
	flags.StringVar(&opts.PprofAddr, "pprof", "", "serve pprof on this address, e.g. localhost:6060")
	return command
}

func run(ctx context.Context, cmd *cobra.Command, opts Options) error {
	if ctx == nil {
		ctx = context.Background()
	}
	factory, ok := Indexes[opts.Index]
	if !ok {
		return fmt.Errorf("unknown index %q, expected one of %s", opts.Index, indexNames())
	}
	if !core.HasBMI2() {
		log.Warn().Msg("CPU does not report BMI2 support; timings may not be comparable across machines")
	}

	if opts.PprofAddr != "" {
		// Exposes profiling endpoints at /debug/pprof/
		go func() {
			log.Info().Msgf("Starting pprof server on %s", opts.PprofAddr)
			if err := http.ListenAndServe(opts.PprofAddr, nil); err != nil {
				log.Error().Err(err).Msg("pprof server failed")
			}
		}()
	}

	profiles := bench.DefaultProfiles()
	if opts.ProfilesFile != "" {
		loaded, err := bench.LoadProfiles(opts.ProfilesFile)
		if err != nil {
			return err
		}
		profiles = loaded
	}
	profile := profiles.Resolve(opts.Distribution, opts.Cardinality)
	files := bench.FileSet(opts.DataDir, opts.Distribution, profile, opts.Dims, opts.Selectivity, opts.Aspect)
	log.Info().Msgf("Distribution %s: cardinality %d, skewness %s", opts.Distribution, profile.Cardinality, profile.Skewness)

	loadOpts := dataset.LoadOptions{
		Dims:        opts.Dims,
		Cardinality: profile.Cardinality,
		BestEffort:  opts.BestEffort,
	}
	points, err := dataset.LoadPoints(files.Dataset, loadOpts)
	if err != nil {
		return err
	}
	if len(points) == 0 {
		log.Warn().Msgf("No points loaded from %s, nothing to measure", files.Dataset)
		return nil
	}
	log.Info().Msgf("cardinality : %d", len(points))
	windows, err := dataset.LoadWindows(files.Windows, loadOpts)
	if err != nil {
		return err
	}
	knnOpts := loadOpts
	knnOpts.EmbeddedK = opts.EmbeddedK
	queries, err := dataset.LoadKnnQueries(files.Knn, knnOpts)
	if err != nil {
		return err
	}
	log.Info().Msgf("Loaded %d window queries and %d k-NN queries", len(windows), len(queries))

	runner := bench.NewRunner(factory, bench.Config{
		Repeat:   opts.Repeat,
		Ks:       opts.Ks,
		Recall:   opts.Recall,
		Workers:  core.GetWorkers(),
		Progress: opts.Progress,
	})
	runner.Reporter = bench.LineReporter{W: cmd.OutOrStdout()}
	return runner.Run(ctx, bench.Inputs{
		Points:     points,
		Windows:    windows,
		KnnQueries: queries,
	})
}

// Execute runs the CLI code.
func Execute() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	if err := NewRootCommand().Execute(); err != nil {
		log.Error().Err(err).Msg("Benchmark failed")
		os.Exit(1)
	}
}
