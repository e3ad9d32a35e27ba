// Package metrics exposes pipeline and preview server counters in the
// Prometheus format, either on /metrics or as a node_exporter textfile.
package metrics

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/1F47E/ufed-kml-map/pkg/models"
	"github.com/1F47E/ufed-kml-map/pkg/pipeline"
)

const namespace = "kml2map"

// Recorder owns a registry so several recorders can live in one process.
type Recorder struct {
	reg *prometheus.Registry

	runsTotal       *prometheus.CounterVec
	fragmentsTotal  prometheus.Counter
	recordsTotal    prometheus.Counter
	untimedTotal    prometheus.Counter
	rejectionsTotal *prometheus.CounterVec
	runDuration     prometheus.Histogram
	processed       prometheus.Gauge
	bytesRead       prometheus.Gauge

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	r := &Recorder{
		reg: reg,
		runsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "runs_total",
			Help:      "Pipeline runs by outcome",
		}, []string{"result"}),
		fragmentsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "fragments_total",
			Help:      "Placemarks read from input documents",
		}),
		recordsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "records_total",
			Help:      "Placemarks accepted as records",
		}),
		untimedTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "untimed_records_total",
			Help:      "Records without a usable timestamp",
		}),
		rejectionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "rejections_total",
			Help:      "Placemarks rejected during normalization",
		}, []string{"reason"}),
		runDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "run_duration_seconds",
			Help:      "Wall time of successful pipeline runs",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		processed: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "processed_fragments",
			Help:      "Fragments normalized by the current run",
		}),
		bytesRead: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "bytes_read",
			Help:      "Input bytes consumed by the current run",
		}),
		httpRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed",
		}, []string{"method", "path", "status"}),
		httpRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"method", "path"}),
	}

	// Reasons are pre-created so a clean run still reports zeros.
	for _, reason := range models.Reasons() {
		r.rejectionsTotal.WithLabelValues(string(reason))
	}
	return r
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.reg
}

// Observe implements pipeline.Observer.
func (r *Recorder) Observe(ev pipeline.Event) {
	switch ev := ev.(type) {
	case pipeline.RunStarted:
		r.processed.Set(0)
		r.bytesRead.Set(0)
	case pipeline.FragmentsProcessed:
		r.processed.Set(float64(ev.Progress.Processed))
		r.bytesRead.Set(float64(ev.Progress.BytesRead))
	case pipeline.DatasetAssembled:
		// an empty run is counted once, by EmptyDataset
		if ev.Records > 0 || ev.Fragments == 0 {
			r.runsTotal.WithLabelValues("ok").Inc()
		}
		r.fragmentsTotal.Add(float64(ev.Fragments))
		r.recordsTotal.Add(float64(ev.Records))
		r.untimedTotal.Add(float64(ev.UntimedRecords))
		for reason, n := range ev.ByReason {
			r.rejectionsTotal.WithLabelValues(string(reason)).Add(float64(n))
		}
		r.runDuration.Observe(ev.Duration.Seconds())
	case pipeline.EmptyDataset:
		r.runsTotal.WithLabelValues("empty").Inc()
	case pipeline.RunFailed:
		r.runsTotal.WithLabelValues(string(ev.Kind) + "_error").Inc()
	}
}

// WriteTextfile writes the current values for the node_exporter textfile collector.
func (r *Recorder) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.reg); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}

// Handler serves the registry on /metrics.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}

// Middleware records request metrics.
func (r *Recorder) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		method := c.Request.Method
		status := strconv.Itoa(c.Writer.Status())

		r.httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		r.httpRequestDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	}
}
