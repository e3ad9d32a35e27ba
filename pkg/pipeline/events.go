package pipeline

import (
	"time"

	"github.com/1F47E/ufed-kml-map/pkg/models"
)

// Event is one of RunStarted, FragmentsProcessed, DatasetAssembled,
// EmptyDataset or RunFailed.
type Event interface {
	event()
}

// RunStarted is emitted once before the first fragment is read.
type RunStarted struct {
	Workers   int
	BatchSize int
}

// FragmentsProcessed carries a progress snapshot.
type FragmentsProcessed struct {
	Progress Progress
}

// DatasetAssembled is emitted after a successful join.
type DatasetAssembled struct {
	Fragments      int
	Records        int
	Rejected       int
	ByReason       map[models.Reason]int
	UntimedRecords int
	Duration       time.Duration
}

// EmptyDataset warns that a non-empty input produced no records.
type EmptyDataset struct {
	Fragments int
	Rejected  int
}

// FailureKind tells parse problems from execution problems
type FailureKind string

const (
	FailureParse    FailureKind = "parse"
	FailureWorker   FailureKind = "worker"
	FailureCanceled FailureKind = "canceled"
)

// RunFailed is emitted when the run aborts. No dataset is produced.
type RunFailed struct {
	Kind FailureKind
	Err  error
}

func (RunStarted) event()         {}
func (FragmentsProcessed) event() {}
func (DatasetAssembled) event()   {}
func (EmptyDataset) event()       {}
func (RunFailed) event()          {}

// Observer receives pipeline events. Run calls Observe from one goroutine
// at a time.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to Observer
type ObserverFunc func(Event)

func (f ObserverFunc) Observe(e Event) {
	f(e)
}

// Observers fans events out to several observers in order
type Observers []Observer

func (o Observers) Observe(e Event) {
	for _, obs := range o {
		if obs != nil {
			obs.Observe(e)
		}
	}
}
