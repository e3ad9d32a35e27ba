// Package plot renders a dataset as standalone HTML maps: scatter, density
// and track lines over OpenStreetMap tiles.
package plot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/1F47E/ufed-kml-map/pkg/geo"
	"github.com/1F47E/ufed-kml-map/pkg/models"
)

// Kind selects a map presentation
type Kind string

const (
	Scatter Kind = "Scatter Plot"
	Density Kind = "Density Plot"
	Lines   Kind = "Lines Plot"
	All     Kind = "All"
)

var ErrUnknownKind = errors.New("unknown plot type")

// Kinds lists the single presentations rendered by All.
func Kinds() []Kind {
	return []Kind{Scatter, Density, Lines}
}

// ParseKind accepts display names ("Density Plot"), slugs ("density_plot")
// and short names ("density"), case-insensitive.
func ParseKind(s string) (Kind, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.NewReplacer("_", " ", "-", " ").Replace(norm)
	norm = strings.TrimSuffix(norm, " plot")

	for _, k := range append(Kinds(), All) {
		if strings.TrimSuffix(strings.ToLower(string(k)), " plot") == norm {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// Slug is the file name part for k, e.g. "scatter_plot".
func (k Kind) Slug() string {
	return strings.ReplaceAll(strings.ToLower(string(k)), " ", "_")
}

// FileName is the default output name for k, e.g. 240102153000_scatter_plot.html
func FileName(k Kind, now time.Time) string {
	return fmt.Sprintf("%s_%s.html", now.Format("060102150405"), k.Slug())
}

// Options controls the rendered page
type Options struct {
	Title  string
	Zoom   int
	Width  int
	Height int

	// Tiles is a Leaflet tile URL template
	Tiles       string
	Attribution string

	// DensityRadiusKm is the neighbourhood used to weight density points.
	DensityRadiusKm float64
}

// DefaultOptions mirrors a 1920x1080 OpenStreetMap view at zoom 3.
func DefaultOptions() Options {
	return Options{
		Title:           "Locations",
		Zoom:            3,
		Width:           1920,
		Height:          1080,
		Tiles:           "https://{s}.tile.openstreetmap.org/{z}/{x}/{y}.png",
		Attribution:     "&copy; OpenStreetMap contributors",
		DensityRadiusKm: 1,
	}
}

type point struct {
	Lat    float64 `json:"lat"`
	Lon    float64 `json:"lon"`
	Label  string  `json:"label"`
	Time   string  `json:"time,omitempty"`
	Weight float64 `json:"w,omitempty"`
}

type page struct {
	Title       string
	Kind        string
	Width       int
	Height      int
	Zoom        int
	Tiles       string
	Attribution string
	Center      models.Location
	Bounds      *models.BoundingBox
	Points      []point
}

// Render writes one map of kind to w.
func Render(w io.Writer, kind Kind, records []models.Record, opts Options) error {
	if kind == All {
		return fmt.Errorf("%w: %q renders several files, use Export", ErrUnknownKind, kind)
	}
	if _, err := ParseKind(string(kind)); err != nil {
		return err
	}

	idx := geo.NewIndex(records)
	p := page{
		Title:       fmt.Sprintf("%s - %s", opts.Title, kind),
		Kind:        string(kind),
		Width:       opts.Width,
		Height:      opts.Height,
		Zoom:        opts.Zoom,
		Tiles:       opts.Tiles,
		Attribution: opts.Attribution,
		Points:      make([]point, len(records)),
	}
	if box, ok := idx.Bounds(); ok {
		p.Center = box.Center()
		if box.BottomLeft != box.TopRight {
			p.Bounds = &box
		}
	}

	for i, r := range records {
		p.Points[i] = point{Lat: r.Latitude, Lon: r.Longitude, Label: r.Label}
		if r.Timestamp != nil {
			p.Points[i].Time = r.Timestamp.Format(time.RFC3339)
		}
	}

	if kind == Density && len(records) > 0 {
		weights, err := idx.Density(opts.DensityRadiusKm)
		if err != nil {
			return fmt.Errorf("failed to compute density: %w", err)
		}
		peak := 1
		for _, wgt := range weights {
			peak = max(peak, wgt)
		}
		for i, wgt := range weights {
			p.Points[i].Weight = float64(wgt) / float64(peak)
		}
	}

	if err := mapTemplate.Execute(w, p); err != nil {
		return fmt.Errorf("failed to render %s: %w", kind, err)
	}
	return nil
}

// Save renders kind into dir and returns the file path. Nothing is left
// behind when rendering fails.
func Save(dir string, kind Kind, records []models.Record, opts Options, now time.Time) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	path := filepath.Join(dir, FileName(kind, now))
	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create file: %w", err)
	}
	if err := Render(file, kind, records, opts); err != nil {
		_ = file.Close()
		_ = os.Remove(path)
		return "", err
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("failed to close %s: %w", path, err)
	}
	return path, nil
}

// Export writes the map for kind, or every map for All.
func Export(ctx context.Context, dir string, kind Kind, records []models.Record, opts Options, now time.Time) ([]string, error) {
	if kind == All {
		return ExportAll(ctx, dir, records, opts, now)
	}
	path, err := Save(dir, kind, records, opts, now)
	if err != nil {
		return nil, err
	}
	return []string{path}, nil
}

// ExportAll renders every kind concurrently. A failing map does not stop the
// others; written paths are returned in Kinds() order along with the joined
// errors.
func ExportAll(ctx context.Context, dir string, records []models.Record, opts Options, now time.Time) ([]string, error) {
	kinds := Kinds()
	paths := make([]string, len(kinds))
	errs := make([]error, len(kinds))

	var wg sync.WaitGroup
	wg.Add(len(kinds))
	for i, kind := range kinds {
		go func() {
			defer wg.Done()
			if err := ctx.Err(); err != nil {
				errs[i] = err
				return
			}
			path, err := Save(dir, kind, records, opts, now)
			if err != nil {
				errs[i] = fmt.Errorf("%s: %w", kind, err)
				return
			}
			paths[i] = path
		}()
	}
	wg.Wait()

	written := make([]string, 0, len(kinds))
	for _, p := range paths {
		if p != "" {
			written = append(written, p)
		}
	}
	return written, errors.Join(errs...)
}
