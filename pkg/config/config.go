// Package config loads converter settings from defaults, an optional
// config.yaml, KML2MAP_* environment variables and command line flags, in
// increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"runtime"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/1F47E/ufed-kml-map/pkg/logging"
	"github.com/1F47E/ufed-kml-map/pkg/plot"
)

// EnvPrefix namespaces environment overrides: KML2MAP_PIPELINE_WORKERS → pipeline.workers
const EnvPrefix = "KML2MAP"

// Config holds all application configuration.
type Config struct {
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Log      logging.Config `mapstructure:"log"`
	Output   OutputConfig   `mapstructure:"output"`
	Plot     PlotConfig     `mapstructure:"plot"`
	PostGIS  PostGISConfig  `mapstructure:"postgis"`
	Server   ServerConfig   `mapstructure:"server"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

type PipelineConfig struct {
	Workers     int `mapstructure:"workers"`
	BatchSize   int `mapstructure:"batch_size"`
	QueueDepth  int `mapstructure:"queue_depth"`
	SampleLimit int `mapstructure:"sample_limit"`
}

type OutputConfig struct {
	Dir    string `mapstructure:"dir"`
	CSV    bool   `mapstructure:"csv"`
	Report bool   `mapstructure:"report"`
}

type PlotConfig struct {
	Kind            string  `mapstructure:"kind"`
	Zoom            int     `mapstructure:"zoom"`
	Width           int     `mapstructure:"width"`
	Height          int     `mapstructure:"height"`
	Tiles           string  `mapstructure:"tiles"`
	DensityRadiusKm float64 `mapstructure:"density_radius_km"`
}

// Options converts the section into renderer options.
func (p PlotConfig) Options() plot.Options {
	opts := plot.DefaultOptions()
	opts.Zoom = p.Zoom
	opts.Width = p.Width
	opts.Height = p.Height
	if p.Tiles != "" {
		opts.Tiles = p.Tiles
	}
	opts.DensityRadiusKm = p.DensityRadiusKm
	return opts
}

// PostGISConfig enables the database export when DSN is set.
type PostGISConfig struct {
	DSN   string `mapstructure:"dsn"`
	Table string `mapstructure:"table"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// MetricsConfig enables a Prometheus textfile when Textfile is set.
type MetricsConfig struct {
	Textfile string `mapstructure:"textfile"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("pipeline.workers", runtime.NumCPU())
	v.SetDefault("pipeline.batch_size", 512)
	v.SetDefault("pipeline.queue_depth", 0)
	v.SetDefault("pipeline.sample_limit", 10)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.file", logging.DefaultFile)
	v.SetDefault("output.dir", ".")
	v.SetDefault("output.csv", true)
	v.SetDefault("output.report", true)
	v.SetDefault("plot.kind", string(plot.All))
	v.SetDefault("plot.zoom", 3)
	v.SetDefault("plot.width", 1920)
	v.SetDefault("plot.height", 1080)
	v.SetDefault("plot.tiles", "")
	v.SetDefault("plot.density_radius_km", 1.0)
	v.SetDefault("postgis.dsn", "")
	v.SetDefault("postgis.table", "placemarks")
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("metrics.textfile", "")
}

// FlagKeys maps command line flag names to config keys
var FlagKeys = map[string]string{
	"workers":      "pipeline.workers",
	"batch-size":   "pipeline.batch_size",
	"sample-limit": "pipeline.sample_limit",
	"log-level":    "log.level",
	"log-format":   "log.format",
	"log-file":     "log.file",
	"out":          "output.dir",
	"plot":         "plot.kind",
	"postgis-dsn":  "postgis.dsn",
	"addr":         "server.addr",
	"metrics-file": "metrics.textfile",
}

// Load reads configuration. configFile overrides the search in . and
// ./configs; flags may be nil. Only flags the user actually set override
// lower layers.
func Load(configFile string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", configFile, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range FlagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks every section and reports all problems at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Pipeline.Workers <= 0 {
		errs = append(errs, fmt.Errorf("pipeline.workers must be positive, got %d", c.Pipeline.Workers))
	}
	if c.Pipeline.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("pipeline.batch_size must be positive, got %d", c.Pipeline.BatchSize))
	}
	if c.Pipeline.QueueDepth < 0 {
		errs = append(errs, fmt.Errorf("pipeline.queue_depth must not be negative, got %d", c.Pipeline.QueueDepth))
	}
	if c.Pipeline.SampleLimit <= 0 {
		errs = append(errs, fmt.Errorf("pipeline.sample_limit must be positive, got %d", c.Pipeline.SampleLimit))
	}

	switch strings.ToLower(c.Log.Format) {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be console or json, got %q", c.Log.Format))
	}
	switch strings.ToLower(c.Log.Level) {
	case "trace", "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level must be trace, debug, info, warn or error, got %q", c.Log.Level))
	}

	if c.Output.Dir == "" {
		errs = append(errs, errors.New("output.dir is required"))
	}

	if _, err := plot.ParseKind(c.Plot.Kind); err != nil {
		errs = append(errs, fmt.Errorf("plot.kind: %w", err))
	}
	if c.Plot.Width <= 0 || c.Plot.Height <= 0 {
		errs = append(errs, fmt.Errorf("plot size must be positive, got %dx%d", c.Plot.Width, c.Plot.Height))
	}
	if c.Plot.Zoom < 0 || c.Plot.Zoom > 19 {
		errs = append(errs, fmt.Errorf("plot.zoom must be 0-19, got %d", c.Plot.Zoom))
	}
	if c.Plot.DensityRadiusKm <= 0 {
		errs = append(errs, fmt.Errorf("plot.density_radius_km must be positive, got %v", c.Plot.DensityRadiusKm))
	}

	if c.PostGIS.DSN != "" && c.PostGIS.Table == "" {
		errs = append(errs, errors.New("postgis.table is required when postgis.dsn is set"))
	}
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed: %w", errors.Join(errs...))
	}
	return nil
}
