// Package app wires extraction, the pipeline and every output into the single
// conversion used by the commands.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/1F47E/ufed-kml-map/pkg/config"
	"github.com/1F47E/ufed-kml-map/pkg/export"
	"github.com/1F47E/ufed-kml-map/pkg/kml"
	"github.com/1F47E/ufed-kml-map/pkg/logging"
	"github.com/1F47E/ufed-kml-map/pkg/metrics"
	"github.com/1F47E/ufed-kml-map/pkg/models"
	"github.com/1F47E/ufed-kml-map/pkg/pipeline"
	"github.com/1F47E/ufed-kml-map/pkg/plot"
)

var (
	ErrInputNotFound    = errors.New("input file not found")
	ErrUnsupportedInput = errors.New("input must be a .kml or .kmz file")
)

// Sink receives the records of a successful run
type Sink interface {
	InitSchema(ctx context.Context) error
	BulkInsert(ctx context.Context, runID string, records []models.Record) (int, error)
}

// Hooks let a front end follow a conversion. All fields are optional.
type Hooks struct {
	Observer pipeline.Observer
	Progress func(pipeline.Progress)
	// Exporting is called once the dataset is assembled and outputs are being written.
	Exporting func()
}

// Result describes a finished conversion
type Result struct {
	RunID    string
	Input    string
	Dataset  *models.Dataset
	Outputs  []string
	Warnings []string
	Duration time.Duration
}

// Converter runs conversions with one configuration
type Converter struct {
	cfg     *config.Config
	logger  zerolog.Logger
	sink    Sink
	metrics *metrics.Recorder
	now     func() time.Time
	newID   func() string
}

type Option func(*Converter)

// WithSink exports records of every run to s.
func WithSink(s Sink) Option {
	return func(c *Converter) { c.sink = s }
}

// WithMetrics records run metrics into r.
func WithMetrics(r *metrics.Recorder) Option {
	return func(c *Converter) { c.metrics = r }
}

// WithClock replaces time.Now for output names.
func WithClock(now func() time.Time) Option {
	return func(c *Converter) { c.now = now }
}

// WithRunID replaces the random run id generator.
func WithRunID(fn func() string) Option {
	return func(c *Converter) { c.newID = fn }
}

func NewConverter(cfg *config.Config, logger zerolog.Logger, opts ...Option) *Converter {
	c := &Converter{
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ValidateInput checks that path is an existing .kml or .kmz file.
func ValidateInput(path string) error {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".kml" && ext != ".kmz" {
		return fmt.Errorf("%w: %s", ErrUnsupportedInput, path)
	}

	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrInputNotFound, path)
	}
	if err != nil {
		return fmt.Errorf("failed to stat input: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("%w: %s is a directory", ErrUnsupportedInput, path)
	}
	return nil
}

// Extract runs the pipeline over input and returns the dataset only.
func (c *Converter) Extract(ctx context.Context, input string, hooks Hooks) (*models.Dataset, error) {
	return c.extract(ctx, input, c.logger, hooks)
}

func (c *Converter) extract(ctx context.Context, input string, logger zerolog.Logger, hooks Hooks) (*models.Dataset, error) {
	if err := ValidateInput(input); err != nil {
		return nil, err
	}

	ex, err := kml.Open(input)
	if err != nil {
		return nil, err
	}
	defer ex.Close()

	observers := pipeline.Observers{logging.NewEventLogger(logger)}
	if c.metrics != nil {
		observers = append(observers, c.metrics)
	}
	if hooks.Observer != nil {
		observers = append(observers, hooks.Observer)
	}

	return pipeline.Run(ctx, ex, pipeline.Options{
		Workers:     c.cfg.Pipeline.Workers,
		BatchSize:   c.cfg.Pipeline.BatchSize,
		QueueDepth:  c.cfg.Pipeline.QueueDepth,
		SampleLimit: c.cfg.Pipeline.SampleLimit,
		Progress:    hooks.Progress,
		Observer:    observers,
	})
}

// Convert extracts input and writes the configured outputs. Parse errors and
// worker failures abort before anything is written. A map that fails to
// render is reported as a warning; the other outputs are still produced.
func (c *Converter) Convert(ctx context.Context, input string, hooks Hooks) (*Result, error) {
	started := c.now()
	res := &Result{RunID: c.newID(), Input: input}
	logger := c.logger.With().Str("run_id", res.RunID).Str("input", input).Logger()

	if c.metrics != nil && c.cfg.Metrics.Textfile != "" {
		defer func() {
			if err := c.metrics.WriteTextfile(c.cfg.Metrics.Textfile); err != nil {
				logger.Error().Err(err).Msg("failed to write metrics")
			}
		}()
	}

	ds, err := c.extract(ctx, input, logger, hooks)
	if err != nil {
		return nil, fmt.Errorf("failed to convert %s: %w", input, err)
	}
	res.Dataset = ds

	if hooks.Exporting != nil {
		hooks.Exporting()
	}

	dir := c.cfg.Output.Dir
	if c.cfg.Output.CSV {
		path := filepath.Join(dir, export.OutputName(input, started))
		if err := export.SaveCSV(path, ds.Records); err != nil {
			return nil, fmt.Errorf("failed to save csv: %w", err)
		}
		logger.Info().Str("file", path).Int("records", len(ds.Records)).Msg("data saved")
		res.Outputs = append(res.Outputs, path)
	}

	if len(ds.Records) == 0 {
		res.Warnings = append(res.Warnings, "no valid records, maps skipped")
		logger.Warn().Msg("no valid records, maps skipped")
	} else {
		kind, err := plot.ParseKind(c.cfg.Plot.Kind)
		if err != nil {
			return nil, err
		}
		paths, err := plot.Export(ctx, dir, kind, ds.Records, c.cfg.Plot.Options(), started)
		for _, p := range paths {
			logger.Info().Str("file", p).Msg("plot saved")
		}
		res.Outputs = append(res.Outputs, paths...)
		if err != nil {
			res.Warnings = append(res.Warnings, err.Error())
			logger.Error().Err(err).Msg("failed to export plot")
		}
	}

	if c.sink != nil {
		if err := c.sink.InitSchema(ctx); err != nil {
			return nil, fmt.Errorf("failed to prepare database: %w", err)
		}
		n, err := c.sink.BulkInsert(ctx, res.RunID, ds.Records)
		if err != nil {
			return nil, fmt.Errorf("failed to export records: %w", err)
		}
		logger.Info().Int("rows", n).Msg("records exported to database")
	}

	res.Duration = c.now().Sub(started)

	if c.cfg.Output.Report {
		report := export.NewReport(res.RunID, input, started, res.Duration, c.cfg.Pipeline.Workers, ds)
		report.Outputs = res.Outputs
		path := filepath.Join(dir, reportName(input, started))
		if err := export.SaveReport(path, report); err != nil {
			return nil, fmt.Errorf("failed to save report: %w", err)
		}
		res.Outputs = append(res.Outputs, path)
	}

	return res, nil
}

func reportName(input string, now time.Time) string {
	return strings.TrimSuffix(export.OutputName(input, now), ".csv") + "_report.yaml"
}
