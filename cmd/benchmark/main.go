// Command benchmark measures pipeline throughput across worker counts and the
// spatial queries used by the preview server.
package main

import (
	"bytes"
	"context"
	"fmt"
	"math/rand"
	"os"
	"reflect"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/1F47E/ufed-kml-map/pkg/geo"
	"github.com/1F47E/ufed-kml-map/pkg/kml"
	"github.com/1F47E/ufed-kml-map/pkg/models"
	"github.com/1F47E/ufed-kml-map/pkg/pipeline"
)

type BenchmarkResult struct {
	Name          string
	Runs          int
	TotalDuration time.Duration
	AvgDuration   time.Duration
	MinDuration   time.Duration
	MaxDuration   time.Duration
	PerSecond     float64
	TotalResults  int64
}

var log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).With().Timestamp().Logger()

func main() {
	def := kml.DefaultGenerateOptions()
	var (
		input      = pflag.StringP("input", "i", "", "KML export to use (default: generate one in memory)")
		placemarks = pflag.IntP("placemarks", "n", 100000, "Placemarks to generate when no input is given")
		benchType  = pflag.StringP("type", "t", "pipeline", "Benchmark: pipeline, box, radius, nearest")
		runs       = pflag.IntP("runs", "r", 3, "Pipeline runs per worker count")
		maxWorkers = pflag.IntP("workers", "w", runtime.NumCPU(), "Largest worker count (pipeline) or query workers")
		batchSize  = pflag.Int("batch-size", pipeline.DefaultBatchSize, "Placemarks per worker batch")
		numQueries = pflag.IntP("queries", "q", 1000, "Number of queries to run")
		boxSize    = pflag.Float64("box-size", 0.5, "Box size in degrees (box queries)")
		radius     = pflag.Float64("radius", 10.0, "Radius in km (radius queries)")
		k          = pflag.IntP("neighbors", "k", 10, "Number of nearest records")
	)
	pflag.Parse()

	doc, err := load(*input, *placemarks, def)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to prepare input")
	}
	log.Info().Str("size", humanize.Bytes(uint64(len(doc)))).Msg("input ready")

	var results []BenchmarkResult
	switch *benchType {
	case "pipeline":
		results = benchmarkPipeline(doc, *maxWorkers, *batchSize, *runs)
	case "box", "radius", "nearest":
		ds, err := extract(doc, runtime.NumCPU(), *batchSize)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to extract records")
		}
		index := geo.NewIndex(ds.Records)
		log.Info().Int("records", index.Size()).Msg("index built")

		bounds, ok := index.Bounds()
		if !ok {
			log.Fatal().Msg("no valid records to query")
		}
		results = []BenchmarkResult{benchmarkQueries(*benchType, *numQueries, *maxWorkers, bounds,
			func(at models.Location) int {
				switch *benchType {
				case "box":
					found, _ := index.QueryBox(models.BoundingBox{
						BottomLeft: at,
						TopRight:   models.Location{Lat: at.Lat + *boxSize, Lon: at.Lon + *boxSize},
					})
					return len(found)
				case "radius":
					found, _ := index.QueryRadius(at, *radius)
					return len(found)
				default:
					return len(index.Nearest(at, *k))
				}
			})}
	default:
		log.Fatal().Str("type", *benchType).Msg("unknown benchmark type")
	}

	fmt.Println("\n=== Benchmark Results ===")
	for _, r := range results {
		fmt.Printf("%-14s runs=%-6d avg=%-12v min=%-12v max=%-12v %s/s",
			r.Name, r.Runs, r.AvgDuration, r.MinDuration, r.MaxDuration, humanize.Comma(int64(r.PerSecond)))
		if r.TotalResults > 0 {
			fmt.Printf(" avg results=%.1f", float64(r.TotalResults)/float64(r.Runs))
		}
		fmt.Println()
	}
	fmt.Printf("CPU Cores: %d\n", runtime.NumCPU())
}

func load(path string, n int, opts kml.GenerateOptions) ([]byte, error) {
	if path != "" {
		return os.ReadFile(path)
	}
	opts.Placemarks = n
	var buf bytes.Buffer
	if err := kml.Generate(&buf, opts); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func extract(doc []byte, workers, batchSize int) (*models.Dataset, error) {
	opts := pipeline.DefaultOptions()
	opts.Workers = workers
	opts.BatchSize = batchSize
	return pipeline.Run(context.Background(), kml.NewExtractor(bytes.NewReader(doc)), opts)
}

// benchmarkPipeline runs the pipeline with 1, 2, 4 ... maxWorkers workers. Every
// run must produce the dataset of the single worker baseline.
func benchmarkPipeline(doc []byte, maxWorkers, batchSize, runs int) []BenchmarkResult {
	baseline, err := extract(doc, 1, batchSize)
	if err != nil {
		log.Fatal().Err(err).Msg("baseline run failed")
	}
	log.Info().
		Int("fragments", baseline.Fragments).
		Int("records", len(baseline.Records)).
		Int("rejected", baseline.Rejections.Total).
		Msg("baseline")

	var results []BenchmarkResult
	for workers := 1; ; workers *= 2 {
		if workers > maxWorkers {
			workers = maxWorkers
		}
		res := BenchmarkResult{Name: fmt.Sprintf("%d workers", workers), Runs: runs, MinDuration: time.Hour}
		for i := 0; i < runs; i++ {
			start := time.Now()
			ds, err := extract(doc, workers, batchSize)
			d := time.Since(start)
			if err != nil {
				log.Fatal().Err(err).Int("workers", workers).Msg("run failed")
			}
			if !reflect.DeepEqual(baseline, ds) {
				log.Fatal().Int("workers", workers).Msg("dataset differs from the single worker run")
			}
			res.TotalDuration += d
			res.MinDuration = min(res.MinDuration, d)
			res.MaxDuration = max(res.MaxDuration, d)
		}
		res.AvgDuration = res.TotalDuration / time.Duration(runs)
		res.PerSecond = float64(baseline.Fragments) / res.AvgDuration.Seconds()
		results = append(results, res)

		if workers == maxWorkers {
			return results
		}
	}
}

func benchmarkQueries(name string, numQueries, workers int, bounds models.BoundingBox,
	query func(at models.Location) int) BenchmarkResult {

	var (
		totalResults int64
		minDuration  = time.Hour
		maxDuration  time.Duration
		mu           sync.Mutex
	)

	startTime := time.Now()

	queryCh := make(chan int, numQueries)
	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func(seed int64) {
			defer wg.Done()
			r := rand.New(rand.NewSource(seed))
			for range queryCh {
				at := models.Location{
					Lat: bounds.BottomLeft.Lat + r.Float64()*(bounds.TopRight.Lat-bounds.BottomLeft.Lat),
					Lon: bounds.BottomLeft.Lon + r.Float64()*(bounds.TopRight.Lon-bounds.BottomLeft.Lon),
				}
				queryStart := time.Now()
				n := query(at)
				d := time.Since(queryStart)

				atomic.AddInt64(&totalResults, int64(n))
				mu.Lock()
				minDuration = min(minDuration, d)
				maxDuration = max(maxDuration, d)
				mu.Unlock()
			}
		}(int64(w) + 1)
	}

	for i := 0; i < numQueries; i++ {
		queryCh <- i
	}
	close(queryCh)
	wg.Wait()
	totalDuration := time.Since(startTime)

	return BenchmarkResult{
		Name:          name,
		Runs:          numQueries,
		TotalDuration: totalDuration,
		AvgDuration:   totalDuration / time.Duration(numQueries),
		MinDuration:   minDuration,
		MaxDuration:   maxDuration,
		PerSecond:     float64(numQueries) / totalDuration.Seconds(),
		TotalResults:  totalResults,
	}
}
