// Command load writes a synthetic UFED location export for testing and
// benchmarking the converter.
package main

import (
	"archive/zip"
	"bufio"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/1F47E/ufed-kml-map/pkg/kml"
)

func main() {
	def := kml.DefaultGenerateOptions()
	var (
		numPlacemarks = pflag.IntP("placemarks", "n", 100000, "Number of placemarks to generate")
		outputFile    = pflag.StringP("out", "o", "data/Locations.kml", "Output file, .kml or .kmz")
		seed          = pflag.Int64("seed", time.Now().UnixNano(), "Random seed")
		broken        = pflag.Float64("broken", def.BrokenRatio, "Share of placemarks with bad coordinates")
		// Geographic bounds for generated points (default: central Europe)
		minLat = pflag.Float64("min-lat", def.MinLat, "Minimum latitude")
		maxLat = pflag.Float64("max-lat", def.MaxLat, "Maximum latitude")
		minLon = pflag.Float64("min-lon", def.MinLon, "Minimum longitude")
		maxLon = pflag.Float64("max-lon", def.MaxLon, "Maximum longitude")
	)
	pflag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).With().Timestamp().Logger()

	opts := def
	opts.Placemarks = *numPlacemarks
	opts.Seed = *seed
	opts.BrokenRatio = *broken
	opts.MinLat, opts.MaxLat = *minLat, *maxLat
	opts.MinLon, opts.MaxLon = *minLon, *maxLon

	log.Info().
		Int("placemarks", opts.Placemarks).
		Float64("broken", opts.BrokenRatio).
		Msgf("geographic bounds: lat[%.2f, %.2f], lon[%.2f, %.2f]", opts.MinLat, opts.MaxLat, opts.MinLon, opts.MaxLon)

	start := time.Now()
	if err := write(*outputFile, opts); err != nil {
		log.Fatal().Err(err).Msg("failed to write export")
	}

	info, err := os.Stat(*outputFile)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to stat export")
	}
	log.Info().
		Str("file", *outputFile).
		Str("size", humanize.Bytes(uint64(info.Size()))).
		Dur("took", time.Since(start)).
		Msg("export written")
}

func write(path string, opts kml.GenerateOptions) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	bw := bufio.NewWriter(f)
	if !strings.EqualFold(filepath.Ext(path), ".kmz") {
		if err := kml.Generate(bw, opts); err != nil {
			return err
		}
		return bw.Flush()
	}

	zw := zip.NewWriter(bw)
	var doc io.Writer
	if doc, err = zw.Create("doc.kml"); err != nil {
		return err
	}
	if err := kml.Generate(doc, opts); err != nil {
		return err
	}
	if err := zw.Close(); err != nil {
		return err
	}
	return bw.Flush()
}
