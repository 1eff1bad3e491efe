// Package bench times an index under test and audits its answers against the brute-force oracle.
package bench

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"slices"
	"strconv"
	"time"

	"github.com/patrikhermansson/mdbench/core"
	"github.com/patrikhermansson/mdbench/oracle"
	"github.com/patrikhermansson/mdbench/recall"
	"github.com/rs/zerolog/log"
	"github.com/schollz/progressbar/v3"
	"gonum.org/v1/gonum/stat"
)

// DefaultRepeat is the number of timed repetitions of each query pass.
const DefaultRepeat = 10

// DefaultKs returns the k values measured when none are configured.
func DefaultKs() []int {
	return []int{1, 5, 25, 125, 625}
}

// Config controls a benchmark run.
type Config struct {
	Repeat   int   // timed repetitions of every query pass
	Ks       []int // k values for the k-NN passes
	Recall   bool  // run the oracle and report recall
	Workers  int   // goroutines used by oracle batches
	Progress bool  // draw progress bars on stderr
}

// DefaultConfig returns a configuration without recall auditing or progress bars.
func DefaultConfig() Config {
	return Config{
		Repeat:  DefaultRepeat,
		Ks:      DefaultKs(),
		Workers: core.GetWorkers(),
	}
}

func (c Config) validate() error {
	if c.Repeat < 1 {
		return fmt.Errorf("repeat must be at least 1, got %d", c.Repeat)
	}
	for _, k := range c.Ks {
		if k <= 0 {
			return fmt.Errorf("%w: got %d", core.ErrInvalidK, k)
		}
	}
	return nil
}

// Metric is one reported measurement. Timings are nanoseconds, recall is a ratio.
type Metric struct {
	Name    string
	Value   float64
	Partial bool // the measurement stopped early on an index error
}

// String renders the metric as "<name> , <value>".
func (m Metric) String() string {
	name := m.Name
	if m.Partial {
		name += " [partial]"
	}
	return name + " , " + strconv.FormatFloat(m.Value, 'f', -1, 64)
}

// Reporter receives measurements as they complete.
type Reporter interface {
	Report(m Metric)
}

// LineReporter writes one metric per line.
type LineReporter struct {
	W io.Writer
}

// Report implements Reporter.
func (r LineReporter) Report(m Metric) {
	if _, err := fmt.Fprintln(r.W, m.String()); err != nil {
		log.Error().Err(err).Msgf("Failed to write metric %s", m.Name)
	}
}

// Inputs are the loaded dataset and query sets.
type Inputs struct {
	Points     []core.Point
	Windows    []core.Window
	KnnQueries []core.KnnQuery
}

// Runner builds one index and measures it.
type Runner struct {
	Config   Config
	Factory  core.Factory
	Reporter Reporter
}

// NewRunner returns a Runner writing metric lines to stdout.
func NewRunner(factory core.Factory, cfg Config) *Runner {
	return &Runner{
		Config:   cfg,
		Factory:  factory,
		Reporter: LineReporter{W: os.Stdout},
	}
}

// Run constructs the index and measures point, window and k-NN queries in that order.
// Index errors inside a query pass are reported as partial measurements; only a
// construction failure or an oracle failure ends the run with an error.
func (r *Runner) Run(ctx context.Context, in Inputs) error {
	if err := r.Config.validate(); err != nil {
		return err
	}
	if r.Factory == nil {
		return errors.New("no index factory configured")
	}
	if r.Reporter == nil {
		r.Reporter = LineReporter{W: os.Stdout}
	}

	start := time.Now()
	index, err := r.Factory(in.Points)
	if err != nil {
		return fmt.Errorf("%w: build: %w", core.ErrIndexOperation, err)
	}
	r.Reporter.Report(Metric{Name: "build time", Value: float64(time.Since(start).Nanoseconds())})
	stats := index.Stats()
	log.Info().Msgf("Built %s index over %d points (%d dimensions)", stats.Name, stats.Count, stats.Dimension)

	r.pointPass(index, in.Points)
	if err := r.windowPass(ctx, index, in); err != nil {
		return err
	}

	ks := r.Config.Ks
	if embeddedK(in.KnnQueries) {
		// Every query carries its own k; one pass covers them all.
		ks = []int{0}
	}
	proposed, hasProposed := index.(core.ProposedKnn)
	for _, k := range ks {
		log.Info().Int("k", k).Msg("Running k-NN passes")
		candidates := r.knnPass(metricName("knn query time", k), in.KnnQueries, k, index.Knn)
		var proposedCandidates [][]core.Point
		if hasProposed {
			proposedCandidates = r.knnPass(metricName("proposed knn query time", k), in.KnnQueries, k, proposed.KnnProposed)
		}
		if !r.Config.Recall {
			continue
		}
		n := max(len(candidates), len(proposedCandidates))
		oracleStart := time.Now()
		want, err := oracle.KnnBatch(ctx, in.Points, in.KnnQueries[:n], k, r.Config.Workers, r.progress(metricName("knn oracle", k), n))
		if err != nil {
			return fmt.Errorf("knn oracle k=%d: %w", k, err)
		}
		r.reportOracleTime(metricName("knn oracle time", k), oracleStart, n)
		r.reportRecall(metricName("knn query recall", k), want, candidates, len(in.KnnQueries))
		if hasProposed {
			r.reportRecall(metricName("proposed knn query recall", k), want, proposedCandidates, len(in.KnnQueries))
		}
	}
	return nil
}

func metricName(base string, k int) string {
	if k == 0 {
		return base
	}
	return fmt.Sprintf("%s k=%d", base, k)
}

func embeddedK(queries []core.KnnQuery) bool {
	if len(queries) == 0 {
		return false
	}
	for _, q := range queries {
		if q.K == 0 {
			return false
		}
	}
	return true
}

func (r *Runner) pointPass(index core.Index, points []core.Point) {
	missing := 0
	r.measure("point query time", len(points), func(rep, i int) error {
		found, err := index.Contains(points[i])
		if err != nil {
			return err
		}
		if rep == 0 && !found {
			missing++
		}
		return nil
	})
	if missing > 0 {
		log.Warn().Msgf("%d dataset points were not found by the index", missing)
	}
}

func (r *Runner) windowPass(ctx context.Context, index core.Index, in Inputs) error {
	var candidates [][]core.Point
	r.measure("window query time", len(in.Windows), func(rep, i int) error {
		seq, err := index.Range(in.Windows[i].Min, in.Windows[i].Max)
		if err != nil {
			return err
		}
		res := slices.Collect(seq)
		if rep == 0 && r.Config.Recall {
			candidates = append(candidates, res)
		}
		return nil
	})
	if !r.Config.Recall {
		return nil
	}
	n := len(candidates)
	oracleStart := time.Now()
	want, err := oracle.WindowBatch(ctx, in.Points, in.Windows[:n], r.Config.Workers, r.progress("window oracle", n))
	if err != nil {
		return fmt.Errorf("window oracle: %w", err)
	}
	r.reportOracleTime("window oracle time", oracleStart, n)
	r.reportRecall("window query recall", want, candidates, len(in.Windows))
	return nil
}

type knnFunc func(q core.Point, k int) ([]core.Point, error)

func (r *Runner) knnPass(name string, queries []core.KnnQuery, k int, knn knnFunc) [][]core.Point {
	var candidates [][]core.Point
	r.measure(name, len(queries), func(rep, i int) error {
		qk := queries[i].K
		if qk == 0 {
			qk = k
		}
		res, err := knn(queries[i].Point, qk)
		if err != nil {
			return err
		}
		if rep == 0 && r.Config.Recall {
			candidates = append(candidates, res)
		}
		return nil
	})
	return candidates
}

// measure times n calls of fn for every repetition and reports the mean per-call latency.
// On the first error the pass stops and the mean over the completed calls is reported as partial.
func (r *Runner) measure(name string, n int, fn func(rep, i int) error) {
	if n == 0 {
		log.Warn().Msgf("No queries for %s, skipping", name)
		return
	}
	bar := r.newBar(name, r.Config.Repeat*n)
	samples := make([]float64, 0, r.Config.Repeat)
	var total time.Duration
	done := 0
	for rep := 0; rep < r.Config.Repeat; rep++ {
		start := time.Now()
		for i := 0; i < n; i++ {
			if err := fn(rep, i); err != nil {
				total += time.Since(start)
				log.Error().Err(fmt.Errorf("%w: %w", core.ErrIndexOperation, err)).
					Msgf("%s: query %d of repetition %d failed", name, i, rep)
				value := math.NaN()
				if done > 0 {
					value = float64(total.Nanoseconds()) / float64(done)
				}
				r.Reporter.Report(Metric{Name: name, Value: value, Partial: true})
				return
			}
			done++
		}
		elapsed := time.Since(start)
		total += elapsed
		samples = append(samples, float64(elapsed.Nanoseconds())/float64(n))
		if bar != nil {
			_ = bar.Add(n)
		}
	}
	mean, std := stat.MeanStdDev(samples, nil)
	log.Debug().Msgf("%s: mean %.1fns, stddev %.1fns over %d repetitions of %d queries",
		name, mean, std, r.Config.Repeat, n)
	r.Reporter.Report(Metric{Name: name, Value: mean})
}

func (r *Runner) reportOracleTime(name string, start time.Time, n int) {
	if n == 0 {
		return
	}
	r.Reporter.Report(Metric{Name: name, Value: float64(time.Since(start).Nanoseconds()) / float64(n)})
}

// reportRecall scores the captured candidates. Fewer candidates than queries means
// the pass stopped early, and the score covers only the answered queries.
func (r *Runner) reportRecall(name string, want, candidates [][]core.Point, queries int) {
	if len(candidates) == 0 {
		log.Warn().Msgf("No candidate results for %s, skipping", name)
		return
	}
	score, err := recall.Compute(want[:len(candidates)], candidates)
	if err != nil {
		log.Error().Err(err).Msgf("Failed to compute %s", name)
		return
	}
	if math.IsNaN(score) {
		log.Warn().Msgf("%s: every oracle result is empty", name)
	}
	r.Reporter.Report(Metric{Name: name, Value: score, Partial: len(candidates) < queries})
}

func (r *Runner) newBar(desc string, n int) *progressbar.ProgressBar {
	if !r.Config.Progress || n == 0 {
		return nil
	}
	return progressbar.NewOptions(n,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription(desc),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)
}

// progress returns a bar for an oracle batch, or nil when bars are disabled.
func (r *Runner) progress(desc string, n int) oracle.Progress {
	bar := r.newBar(desc, n)
	if bar == nil {
		return nil
	}
	return bar
}
