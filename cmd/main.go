package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/1F47E/ufed-kml-map/pkg/app"
	"github.com/1F47E/ufed-kml-map/pkg/config"
	"github.com/1F47E/ufed-kml-map/pkg/kml"
	"github.com/1F47E/ufed-kml-map/pkg/logging"
	"github.com/1F47E/ufed-kml-map/pkg/metrics"
	"github.com/1F47E/ufed-kml-map/pkg/pipeline"
	"github.com/1F47E/ufed-kml-map/pkg/postgis"
	"github.com/1F47E/ufed-kml-map/pkg/tui"
)

var (
	configFile string
	noTUI      bool
)

var rootCmd = &cobra.Command{
	Use:   "ufed-kml-map",
	Short: "Convert UFED KML location exports into CSV and maps",
	Long: `Extracts every placemark from a UFED KML/KMZ location export, normalizes
coordinates and timestamps in parallel, and writes a CSV, a run report and
scatter, density and lines maps.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configFile, "config", "c", "", "Config file (default ./config.yaml or ./configs/config.yaml)")
	pf.BoolVar(&noTUI, "no-tui", false, "Log progress instead of showing the interactive view")
	pf.IntP("workers", "w", runtime.NumCPU(), "Number of normalizing workers")
	pf.Int("batch-size", 512, "Placemarks per worker batch")
	pf.Int("sample-limit", 10, "Rejected placemarks kept as samples in the report")
	pf.String("log-level", "info", "Log level: trace, debug, info, warn, error")
	pf.String("log-format", "console", "Log format: console or json")
	pf.String("log-file", logging.DefaultFile, "Log file, empty to disable")
	pf.StringP("out", "o", ".", "Output directory")
	pf.StringP("plot", "p", "All", "Map kind: scatter, density, lines or all")
	pf.String("postgis-dsn", "", "Also export records to this PostGIS database")
	pf.String("metrics-file", "", "Write Prometheus metrics to this textfile after each run")

	rootCmd.AddCommand(convertCmd, serveCmd, watchCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, describe(err))
		os.Exit(1)
	}
}

// describe turns a failure into the message shown to the user
func describe(err error) string {
	var parseErr *kml.ParseError
	var workerErr *pipeline.WorkerFailure
	switch {
	case errors.As(err, &parseErr):
		return "Invalid KML: " + err.Error()
	case errors.As(err, &workerErr):
		return "Processing failed: " + err.Error()
	case errors.Is(err, tui.ErrCanceled), errors.Is(err, context.Canceled):
		return "Canceled."
	case errors.Is(err, app.ErrInputNotFound), errors.Is(err, app.ErrUnsupportedInput):
		return "Bad input: " + err.Error()
	default:
		return "Error: " + err.Error()
	}
}

// interactive reports whether the progress view can be shown
func interactive() bool {
	if noTUI {
		return false
	}
	fd := os.Stdout.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// env is what every command needs after flags are parsed
type env struct {
	cfg       *config.Config
	logger    zerolog.Logger
	metrics   *metrics.Recorder
	converter *app.Converter
	closers   []func() error
}

// setup loads the config and builds the logger and converter. Console logs go
// to console; pass io.Discard while the interactive view owns the terminal.
func setup(cmd *cobra.Command, console io.Writer) (*env, error) {
	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return nil, err
	}

	logger, closeLog, err := logging.Setup(cfg.Log, console)
	if err != nil {
		return nil, err
	}
	e := &env{cfg: cfg, logger: logger, metrics: metrics.NewRecorder(), closers: []func() error{closeLog}}

	opts := []app.Option{app.WithMetrics(e.metrics)}
	if cfg.PostGIS.DSN != "" {
		store, err := postgis.Open(cmd.Context(), cfg.PostGIS.DSN, cfg.PostGIS.Table)
		if err != nil {
			e.close()
			return nil, err
		}
		e.closers = append(e.closers, store.Close)
		opts = append(opts, app.WithSink(store))
		logger.Info().Str("table", cfg.PostGIS.Table).Msg("postgis export enabled")
	}
	e.converter = app.NewConverter(cfg, logger, opts...)
	return e, nil
}

func (e *env) close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			fmt.Fprintln(os.Stderr, "failed to close:", err)
		}
	}
}
