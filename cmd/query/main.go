// Command query runs spatial queries over the records of a KML export.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/1F47E/ufed-kml-map/pkg/geo"
	"github.com/1F47E/ufed-kml-map/pkg/kml"
	"github.com/1F47E/ufed-kml-map/pkg/models"
	"github.com/1F47E/ufed-kml-map/pkg/pipeline"
)

func main() {
	var (
		input     = pflag.StringP("input", "i", "data/Locations.kml", "KML or KMZ export")
		queryType = pflag.StringP("type", "t", "box", "Query type: box, radius, nearest")
		// Box query parameters
		minLat = pflag.Float64("min-lat", 0, "Minimum latitude (box query)")
		maxLat = pflag.Float64("max-lat", 0, "Maximum latitude (box query)")
		minLon = pflag.Float64("min-lon", 0, "Minimum longitude (box query)")
		maxLon = pflag.Float64("max-lon", 0, "Maximum longitude (box query)")
		// Radius and nearest query parameters
		centerLat = pflag.Float64("lat", 0, "Center latitude (radius/nearest query)")
		centerLon = pflag.Float64("lon", 0, "Center longitude (radius/nearest query)")
		radius    = pflag.Float64("radius", 10, "Radius in km (radius query)")
		k         = pflag.IntP("neighbors", "k", 10, "Number of nearest records (nearest query)")
		// Output format
		outputJSON = pflag.Bool("json", false, "Output results as JSON")
		limit      = pflag.Int("limit", 100, "Maximum number of results to display")
	)
	pflag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).With().Timestamp().Logger()

	ex, err := kml.Open(*input)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open export")
	}
	defer ex.Close()

	start := time.Now()
	ds, err := pipeline.Run(context.Background(), ex, pipeline.DefaultOptions())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to extract records")
	}
	index := geo.NewIndex(ds.Records)
	log.Info().
		Int("records", index.Size()).
		Int("rejected", ds.Rejections.Total).
		Dur("took", time.Since(start)).
		Msg("index built")

	var results []models.Record
	center := models.Location{Lat: *centerLat, Lon: *centerLon}

	switch *queryType {
	case "box":
		if *minLat == 0 && *maxLat == 0 && *minLon == 0 && *maxLon == 0 {
			log.Fatal().Msg("box query requires --min-lat, --max-lat, --min-lon, --max-lon")
		}
		box := models.BoundingBox{
			BottomLeft: models.Location{Lat: *minLat, Lon: *minLon},
			TopRight:   models.Location{Lat: *maxLat, Lon: *maxLon},
		}
		if results, err = index.QueryBox(box); err != nil {
			log.Fatal().Err(err).Msg("box query failed")
		}
		log.Info().Int("found", len(results)).Msg("box query")

	case "radius":
		if !pflag.CommandLine.Changed("lat") || !pflag.CommandLine.Changed("lon") {
			log.Fatal().Msg("radius query requires --lat and --lon for the center")
		}
		if results, err = index.QueryRadius(center, *radius); err != nil {
			log.Fatal().Err(err).Msg("radius query failed")
		}
		log.Info().Int("found", len(results)).Float64("radius_km", *radius).Msg("radius query")

	case "nearest":
		if !pflag.CommandLine.Changed("lat") || !pflag.CommandLine.Changed("lon") {
			log.Fatal().Msg("nearest query requires --lat and --lon for the center")
		}
		results = index.Nearest(center, *k)
		log.Info().Int("found", len(results)).Msg("nearest query")

	default:
		log.Fatal().Str("type", *queryType).Msg("unknown query type")
	}

	if len(results) > *limit {
		log.Info().Msgf("showing first %d results (use --limit to see more)", *limit)
		results = results[:*limit]
	}

	if *outputJSON {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(results); err != nil {
			log.Fatal().Err(err).Msg("failed to encode results")
		}
		return
	}

	for i, r := range results {
		ts := "-"
		if r.Timestamp != nil {
			ts = r.Timestamp.Format(time.RFC3339)
		}
		if *queryType == "box" {
			fmt.Printf("%d. %s: (%.6f, %.6f) %s\n", i+1, r.Label, r.Latitude, r.Longitude, ts)
			continue
		}
		fmt.Printf("%d. %s: (%.6f, %.6f) %s - %.2f km\n",
			i+1, r.Label, r.Latitude, r.Longitude, ts, geo.Distance(center, r.Location()))
	}
}
