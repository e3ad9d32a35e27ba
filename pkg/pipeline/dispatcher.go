// Package pipeline fans placemark fragments out across a bounded pool of
// goroutines, normalizes them and reassembles the results in document order.
//
// The run is bulk-synchronous: one producer reads the document and fills a
// bounded queue of batches, workers normalize batches independently, and the
// caller blocks on a single join before the dataset is assembled. Each batch
// carries the sequence index of its first fragment, so the final order never
// depends on which worker finished first.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/1F47E/ufed-kml-map/pkg/models"
	"github.com/1F47E/ufed-kml-map/pkg/normalize"
)

const (
	DefaultBatchSize        = 512
	DefaultSampleLimit      = 10
	DefaultProgressInterval = 100 * time.Millisecond
)

// FragmentSource is a lazy, finite sequence of fragments. Next returns
// io.EOF once the sequence is exhausted.
type FragmentSource interface {
	Next() (models.Fragment, error)
}

// positioner is implemented by sources that know how far into the input they are.
type positioner interface {
	Position() (read, total int64)
}

// Progress is an advisory snapshot of a running pipeline
type Progress struct {
	Processed  int64
	Extracted  int64
	BytesRead  int64
	TotalBytes int64
	Done       bool
}

// Fraction estimates completion in [0,1]. Input size is used when known
// because the fragment total is not known until the document ends.
func (p Progress) Fraction() float64 {
	if p.Done {
		return 1
	}
	var f float64
	switch {
	case p.TotalBytes > 0 && p.Extracted > 0:
		f = float64(p.BytesRead) / float64(p.TotalBytes) * float64(p.Processed) / float64(p.Extracted)
	case p.Extracted > 0:
		f = float64(p.Processed) / float64(p.Extracted)
	}
	if f > 1 {
		f = 1
	}
	return f
}

// Options controls a pipeline run
type Options struct {
	// Workers is the number of normalizing goroutines; defaults to runtime.NumCPU().
	Workers int

	// BatchSize is the number of fragments handed to a worker at once.
	BatchSize int

	// QueueDepth bounds the number of batches waiting for a worker.
	// Defaults to twice the worker count.
	QueueDepth int

	// SampleLimit caps the rejection samples kept in the summary.
	SampleLimit int

	// ProgressInterval is how often progress snapshots are taken.
	ProgressInterval time.Duration

	// Progress is called with monotonically increasing snapshots and a final
	// snapshot with Done set. It runs on its own goroutine and never sees a
	// lower Processed count than a previous call.
	Progress func(Progress)

	// Observer receives typed run events.
	Observer Observer

	// Normalize replaces the default normalizer. Used by tests.
	Normalize func(models.Fragment) normalize.Result
}

// DefaultOptions returns options with every default filled in.
func DefaultOptions() Options {
	return Options{}.withDefaults()
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = runtime.NumCPU()
	}
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.QueueDepth <= 0 {
		o.QueueDepth = 2 * o.Workers
	}
	if o.SampleLimit <= 0 {
		o.SampleLimit = DefaultSampleLimit
	}
	if o.ProgressInterval <= 0 {
		o.ProgressInterval = DefaultProgressInterval
	}
	if o.Normalize == nil {
		o.Normalize = normalize.Fragment
	}
	return o
}

func (o Options) observe(e Event) {
	if o.Observer != nil {
		o.Observer.Observe(e)
	}
}

// WorkerFailure means a worker terminated abnormally. It aborts the run and
// is distinct from a parse error.
type WorkerFailure struct {
	Worker     int
	BatchStart int
	Cause      any
	Stack      []byte
}

func (e *WorkerFailure) Error() string {
	return fmt.Sprintf("worker %d failed on batch starting at fragment %d: %v", e.Worker, e.BatchStart, e.Cause)
}

// Unwrap exposes the panic value when it was an error.
func (e *WorkerFailure) Unwrap() error {
	if err, ok := e.Cause.(error); ok {
		return err
	}
	return nil
}

type batch struct {
	start     int
	fragments []models.Fragment
}

// BatchResult is the immutable output of one batch
type BatchResult struct {
	Start   int
	Results []normalize.Result
}

// Run drains src through the worker pool and returns the assembled dataset.
// A source error or a worker failure aborts the run; partial results are
// discarded and the error is returned unchanged.
func Run(ctx context.Context, src FragmentSource, opts Options) (*models.Dataset, error) {
	opts = opts.withDefaults()
	began := time.Now()

	opts.observe(RunStarted{Workers: opts.Workers, BatchSize: opts.BatchSize})

	var processed, extracted atomic.Int64
	stopProgress := startProgress(opts, src, &processed, &extracted)

	g, gctx := errgroup.WithContext(ctx)
	jobs := make(chan batch, opts.QueueDepth)
	results := make(chan BatchResult, opts.QueueDepth)

	g.Go(func() error {
		defer close(jobs)
		return produce(gctx, src, opts.BatchSize, jobs, &extracted)
	})

	var workers sync.WaitGroup
	for w := 0; w < opts.Workers; w++ {
		workers.Add(1)
		g.Go(func() error {
			defer workers.Done()
			return work(gctx, w, opts.Normalize, jobs, results, &processed)
		})
	}
	go func() {
		workers.Wait()
		close(results)
	}()

	var parts []BatchResult
	for r := range results {
		parts = append(parts, r)
	}

	if err := g.Wait(); err != nil {
		stopProgress(false)
		opts.observe(RunFailed{Kind: classify(err), Err: err})
		return nil, err
	}
	stopProgress(true)

	ds := Assemble(parts, opts.SampleLimit)
	opts.observe(DatasetAssembled{
		Fragments:      ds.Fragments,
		Records:        len(ds.Records),
		Rejected:       ds.Rejections.Total,
		ByReason:       ds.Rejections.ByReason,
		UntimedRecords: ds.UntimedRecords,
		Duration:       time.Since(began),
	})
	if ds.Empty() {
		opts.observe(EmptyDataset{Fragments: ds.Fragments, Rejected: ds.Rejections.Total})
	}
	return ds, nil
}

// produce batches fragments in arrival order and tags them with their index.
func produce(ctx context.Context, src FragmentSource, size int, jobs chan<- batch, extracted *atomic.Int64) error {
	next := 0
	buf := make([]models.Fragment, 0, size)

	flush := func() error {
		if len(buf) == 0 {
			return nil
		}
		select {
		case jobs <- batch{start: next - len(buf), fragments: buf}:
		case <-ctx.Done():
			return ctx.Err()
		}
		buf = make([]models.Fragment, 0, size)
		return nil
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		frag, err := src.Next()
		if err == io.EOF {
			return flush()
		}
		if err != nil {
			return err
		}

		frag.Seq = next
		next++
		extracted.Add(1)
		buf = append(buf, frag)

		if len(buf) == size {
			if err := flush(); err != nil {
				return err
			}
		}
	}
}

func work(ctx context.Context, id int, fn func(models.Fragment) normalize.Result,
	jobs <-chan batch, results chan<- BatchResult, processed *atomic.Int64) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case b, ok := <-jobs:
			if !ok {
				return nil
			}
			res, err := runBatch(id, fn, b)
			if err != nil {
				return err
			}
			select {
			case results <- res:
			case <-ctx.Done():
				return ctx.Err()
			}
			processed.Add(int64(len(b.fragments)))
		}
	}
}

func runBatch(id int, fn func(models.Fragment) normalize.Result, b batch) (res BatchResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &WorkerFailure{Worker: id, BatchStart: b.start, Cause: r, Stack: debug.Stack()}
		}
	}()

	out := make([]normalize.Result, len(b.fragments))
	for i, frag := range b.fragments {
		out[i] = fn(frag)
	}
	return BatchResult{Start: b.start, Results: out}, nil
}

// startProgress samples the counters on a ticker from a single goroutine.
// The returned stop function joins that goroutine and, on success, reports
// a final Done snapshot.
func startProgress(opts Options, src FragmentSource, processed, extracted *atomic.Int64) func(success bool) {
	pos, _ := src.(positioner)
	snapshot := func(done bool) Progress {
		p := Progress{Processed: processed.Load(), Extracted: extracted.Load(), Done: done}
		if pos != nil {
			p.BytesRead, p.TotalBytes = pos.Position()
		}
		return p
	}
	report := func(p Progress) {
		if opts.Progress != nil {
			opts.Progress(p)
		}
		opts.observe(FragmentsProcessed{Progress: p})
	}

	stop := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		ticker := time.NewTicker(opts.ProgressInterval)
		defer ticker.Stop()

		last := int64(-1)
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				p := snapshot(false)
				if p.Processed != last {
					last = p.Processed
					report(p)
				}
			}
		}
	}()

	return func(success bool) {
		close(stop)
		<-finished
		if success {
			report(snapshot(true))
		}
	}
}

func classify(err error) FailureKind {
	var wf *WorkerFailure
	switch {
	case errors.As(err, &wf):
		return FailureWorker
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return FailureCanceled
	default:
		return FailureParse
	}
}
