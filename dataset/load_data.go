package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/patrikhermansson/mdbench/core"
	"github.com/rs/zerolog/log"
)

// LoadOptions controls how delimited point and query files are parsed.
type LoadOptions struct {
	Dims        int    // coordinates per point, 2 or 3
	Cardinality uint64 // scale factor applied to normalized fields

	// BestEffort turns load failures into warnings: a missing source yields an
	// empty result and bad records are skipped. Strict mode is the default.
	BestEffort bool

	// EmbeddedK makes every k-NN record carry a trailing integer k.
	EmbeddedK bool
}

func (o LoadOptions) validate() error {
	if o.Dims != 2 && o.Dims != 3 {
		return fmt.Errorf("unsupported dimensionality %d", o.Dims)
	}
	if o.Cardinality == 0 {
		return errors.New("cardinality must be positive")
	}
	return nil
}

// LoadPoints reads a dataset file where each record holds Dims normalized coordinates.
func LoadPoints(path string, opts LoadOptions) ([]core.Point, error) {
	log.Info().Msgf("Loading points from: %s", path)
	var points []core.Point
	err := load(path, opts, func(r io.Reader) error {
		var err error
		points, err = ReadPoints(r, path, opts)
		return err
	})
	if err != nil {
		return nil, err
	}
	log.Info().Msgf("Loaded %d points from %s", len(points), path)
	return points, nil
}

// LoadWindows reads a window query file where each record holds the min corner followed by the max corner.
func LoadWindows(path string, opts LoadOptions) ([]core.Window, error) {
	log.Info().Msgf("Loading window queries from: %s", path)
	var windows []core.Window
	err := load(path, opts, func(r io.Reader) error {
		var err error
		windows, err = ReadWindows(r, path, opts)
		return err
	})
	if err != nil {
		return nil, err
	}
	log.Info().Msgf("Loaded %d window queries from %s", len(windows), path)
	return windows, nil
}

// LoadKnnQueries reads a k-NN query file where each record holds one query point.
func LoadKnnQueries(path string, opts LoadOptions) ([]core.KnnQuery, error) {
	log.Info().Msgf("Loading k-NN queries from: %s", path)
	var queries []core.KnnQuery
	err := load(path, opts, func(r io.Reader) error {
		var err error
		queries, err = ReadKnnQueries(r, path, opts)
		return err
	})
	if err != nil {
		return nil, err
	}
	log.Info().Msgf("Loaded %d k-NN queries from %s", len(queries), path)
	return queries, nil
}

// load opens path and hands the decoded stream to read.
func load(path string, opts LoadOptions, read func(io.Reader) error) error {
	if err := opts.validate(); err != nil {
		return err
	}
	rc, err := openSource(path)
	if err != nil {
		if opts.BestEffort {
			log.Warn().Err(err).Msgf("Can not open %s, continuing with no records", path)
			return nil
		}
		return core.NewSourceError(path, err)
	}
	defer rc.Close()
	return read(rc)
}

// ReadPoints parses point records from r. name is used in error messages.
func ReadPoints(r io.Reader, name string, opts LoadOptions) ([]core.Point, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	var points []core.Point
	err := readRecords(r, name, opts, func(record []string, line int) error {
		fields, err := parseFields(record, opts.Dims, name, line)
		if err != nil {
			return err
		}
		points = append(points, scalePoint(fields, opts.Cardinality))
		return nil
	})
	return points, err
}

// ReadWindows parses window records from r and rejects windows whose min exceeds max.
func ReadWindows(r io.Reader, name string, opts LoadOptions) ([]core.Window, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	var windows []core.Window
	err := readRecords(r, name, opts, func(record []string, line int) error {
		fields, err := parseFields(record, 2*opts.Dims, name, line)
		if err != nil {
			return err
		}
		w := core.Window{
			Min: scalePoint(fields[:opts.Dims], opts.Cardinality),
			Max: scalePoint(fields[opts.Dims:], opts.Cardinality),
		}
		if err := w.Validate(); err != nil {
			return core.NewRecordError(name, line, -1, core.ErrInvalidWindow, err)
		}
		windows = append(windows, w)
		return nil
	})
	return windows, err
}

// ReadKnnQueries parses k-NN query records from r.
// With EmbeddedK the last field of each record is the per-query k.
func ReadKnnQueries(r io.Reader, name string, opts LoadOptions) ([]core.KnnQuery, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	var queries []core.KnnQuery
	err := readRecords(r, name, opts, func(record []string, line int) error {
		fields, err := parseFields(record, opts.Dims, name, line)
		if err != nil {
			return err
		}
		q := core.KnnQuery{Point: scalePoint(fields, opts.Cardinality)}
		if opts.EmbeddedK {
			if len(record) <= opts.Dims {
				return core.NewRecordError(name, line, -1, core.ErrMalformedRecord,
					fmt.Errorf("expected %d fields, got %d", opts.Dims+1, len(record)))
			}
			k, err := strconv.Atoi(strings.TrimSpace(record[opts.Dims]))
			if err != nil {
				return core.NewRecordError(name, line, opts.Dims, core.ErrMalformedRecord, err)
			}
			if k <= 0 {
				return core.NewRecordError(name, line, opts.Dims, core.ErrInvalidK,
					fmt.Errorf("k = %d", k))
			}
			q.K = k
		}
		queries = append(queries, q)
		return nil
	})
	return queries, err
}

// readRecords walks the comma-separated records of r and calls parse for each one.
// In strict mode the first failing record aborts the read; in best-effort mode
// record-level failures are logged and the record is skipped.
func readRecords(r io.Reader, name string, opts LoadOptions, parse func(record []string, line int) error) error {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	reader.ReuseRecord = true

	skipped := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if !errors.As(err, &perr) {
				return core.NewSourceError(name, err)
			}
			err = core.NewRecordError(name, perr.Line, perr.Column, core.ErrMalformedRecord, perr.Err)
		} else {
			line, _ := reader.FieldPos(0)
			err = parse(record, line)
		}
		if err != nil {
			if !opts.BestEffort {
				return err
			}
			log.Warn().Err(err).Msg("Skipping record")
			skipped++
		}
	}
	if skipped > 0 {
		log.Warn().Msgf("Skipped %d records in %s", skipped, name)
	}
	log.Debug().Msgf("Parsed records from %s", name)
	return nil
}

// parseFields converts the first n fields of record to float64.
// Records with fewer than n fields or a NaN/Inf field are malformed; extra fields are ignored.
func parseFields(record []string, n int, name string, line int) ([]float64, error) {
	if len(record) < n {
		return nil, core.NewRecordError(name, line, -1, core.ErrMalformedRecord,
			fmt.Errorf("expected %d fields, got %d", n, len(record)))
	}
	fields := make([]float64, n)
	for i := 0; i < n; i++ {
		v, err := strconv.ParseFloat(strings.TrimSpace(record[i]), 64)
		if err != nil {
			return nil, core.NewRecordError(name, line, i, core.ErrMalformedRecord, err)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, core.NewRecordError(name, line, i, core.ErrMalformedRecord,
				fmt.Errorf("non-finite value %q", record[i]))
		}
		fields[i] = v
	}
	return fields, nil
}

// scalePoint applies the clamp-then-scale rule to every field.
func scalePoint(fields []float64, cardinality uint64) core.Point {
	p := make(core.Point, len(fields))
	for i, f := range fields {
		p[i] = core.Scale(f, cardinality)
	}
	return p
}
