package main

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/1F47E/ufed-kml-map/pkg/app"
	"github.com/1F47E/ufed-kml-map/pkg/server"
	"github.com/1F47E/ufed-kml-map/pkg/watch"
)

var serveCmd = &cobra.Command{
	Use:   "serve <export.kml|export.kmz>",
	Short: "Preview the maps of an export in the browser",
	Long: `Converts the export in memory and serves the maps, a JSON summary and
spatial record queries. Nothing is written to the output directory.`,
	Args: cobra.ExactArgs(1),
	RunE: runServe,
}

var watchCmd = &cobra.Command{
	Use:   "watch <export.kml|export.kmz>",
	Short: "Reconvert an export whenever it changes and serve the latest result",
	Args:  cobra.ExactArgs(1),
	RunE:  runWatch,
}

func init() {
	serveCmd.Flags().String("addr", ":8080", "Listen address")
	watchCmd.Flags().String("addr", ":8080", "Listen address")
}

func newServer(e *env) *server.Server {
	return server.New(server.Options{
		Plot:    e.cfg.Plot.Options(),
		Metrics: e.metrics,
		Logger:  e.logger,
	})
}

func runServe(cmd *cobra.Command, args []string) error {
	input := args[0]
	e, err := setup(cmd, os.Stderr)
	if err != nil {
		return err
	}
	defer e.close()

	ds, err := e.converter.Extract(cmd.Context(), input, app.Hooks{})
	if err != nil {
		return err
	}

	srv := newServer(e)
	srv.SetDataset(filepath.Base(input), ds)
	return srv.Run(cmd.Context(), e.cfg.Server.Addr)
}

func runWatch(cmd *cobra.Command, args []string) error {
	input := args[0]
	e, err := setup(cmd, os.Stderr)
	if err != nil {
		return err
	}
	defer e.close()

	srv := newServer(e)
	g, ctx := errgroup.WithContext(cmd.Context())

	convert := func() error {
		res, err := e.converter.Convert(ctx, input, app.Hooks{})
		if err != nil {
			return err
		}
		srv.SetDataset(filepath.Base(input), res.Dataset)
		printSummary(os.Stdout, res)
		return nil
	}
	if err := convert(); err != nil {
		return err
	}

	changes, err := watch.File(ctx, input, watch.DefaultDebounce, e.logger)
	if err != nil {
		return err
	}
	e.logger.Info().Str("file", input).Msg("watching for changes")

	g.Go(func() error {
		return srv.Run(ctx, e.cfg.Server.Addr)
	})
	g.Go(func() error {
		for range changes {
			// a half-written export fails to parse; keep serving the last good one
			if err := convert(); err != nil {
				e.logger.Error().Err(err).Msg(describe(err))
			}
		}
		return nil
	})
	return g.Wait()
}
