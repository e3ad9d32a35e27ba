// Package server previews the latest converted dataset over HTTP: rendered
// maps, a JSON summary and spatial record queries.
package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/1F47E/ufed-kml-map/pkg/geo"
	"github.com/1F47E/ufed-kml-map/pkg/metrics"
	"github.com/1F47E/ufed-kml-map/pkg/models"
	"github.com/1F47E/ufed-kml-map/pkg/plot"
)

// Options configures the preview server
type Options struct {
	Plot    plot.Options
	Metrics *metrics.Recorder // optional, serves /metrics when set
	Logger  zerolog.Logger
}

type snapshot struct {
	source   string
	loadedAt time.Time
	ds       *models.Dataset
	idx      *geo.Index
	pages    map[plot.Kind]*renderedPage
}

// renderedPage is a map rendered at most once per snapshot
type renderedPage struct {
	once sync.Once
	html []byte
	err  error
}

func (p *renderedPage) get(kind plot.Kind, records []models.Record, opts plot.Options) ([]byte, error) {
	p.once.Do(func() {
		var buf bytes.Buffer
		p.err = plot.Render(&buf, kind, records, opts)
		p.html = buf.Bytes()
	})
	return p.html, p.err
}

// Server holds the dataset being previewed. SetDataset may be called at any
// time, e.g. when the watched input changes.
type Server struct {
	opts Options

	mu   sync.RWMutex
	snap *snapshot
}

func New(opts Options) *Server {
	return &Server{opts: opts}
}

// SetDataset replaces the previewed dataset
func (s *Server) SetDataset(source string, ds *models.Dataset) {
	snap := &snapshot{
		source:   source,
		loadedAt: time.Now().UTC(),
		ds:       ds,
		idx:      geo.NewIndex(ds.Records),
		pages:    make(map[plot.Kind]*renderedPage),
	}
	for _, kind := range plot.Kinds() {
		snap.pages[kind] = &renderedPage{}
	}
	s.mu.Lock()
	s.snap = snap
	s.mu.Unlock()
}

func (s *Server) current() *snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// Router builds the gin engine
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())
	if s.opts.Metrics != nil {
		r.Use(s.opts.Metrics.Middleware())
		r.GET("/metrics", gin.WrapH(s.opts.Metrics.Handler()))
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
		})
	})
	r.GET("/", func(c *gin.Context) {
		c.Redirect(http.StatusFound, "/maps/"+plot.Scatter.Slug())
	})
	r.GET("/maps/:kind", s.Map)
	r.GET("/api/summary", s.Summary)
	r.GET("/api/records", s.Records)

	return r
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.opts.Logger.Info().Str("addr", addr).Msg("preview server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("failed to serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down: %w", err)
	}
	return nil
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.opts.Logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("request")
	}
}

func (s *Server) loaded(c *gin.Context) (*snapshot, bool) {
	snap := s.current()
	if snap == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no dataset loaded yet"})
		return nil, false
	}
	return snap, true
}
