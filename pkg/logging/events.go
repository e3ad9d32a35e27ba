package logging

import (
	"github.com/rs/zerolog"

	"github.com/1F47E/ufed-kml-map/pkg/models"
	"github.com/1F47E/ufed-kml-map/pkg/pipeline"
)

// EventLogger writes pipeline events to a zerolog logger
type EventLogger struct {
	Logger zerolog.Logger
}

// NewEventLogger returns an observer logging through l.
func NewEventLogger(l zerolog.Logger) *EventLogger {
	return &EventLogger{Logger: l}
}

func (e *EventLogger) Observe(ev pipeline.Event) {
	switch ev := ev.(type) {
	case pipeline.RunStarted:
		e.Logger.Info().
			Int("workers", ev.Workers).
			Int("batch_size", ev.BatchSize).
			Msg("pipeline started")

	case pipeline.FragmentsProcessed:
		p := ev.Progress
		e.Logger.Debug().
			Int64("processed", p.Processed).
			Int64("extracted", p.Extracted).
			Int64("bytes_read", p.BytesRead).
			Int64("total_bytes", p.TotalBytes).
			Bool("done", p.Done).
			Msg("fragments processed")

	case pipeline.DatasetAssembled:
		reasons := zerolog.Dict()
		for _, r := range models.Reasons() {
			reasons.Int(string(r), ev.ByReason[r])
		}
		e.Logger.Info().
			Int("fragments", ev.Fragments).
			Int("records", ev.Records).
			Int("rejected", ev.Rejected).
			Int("untimed", ev.UntimedRecords).
			Dict("by_reason", reasons).
			Dur("duration", ev.Duration).
			Msg("dataset assembled")

	case pipeline.EmptyDataset:
		e.Logger.Warn().
			Int("fragments", ev.Fragments).
			Int("rejected", ev.Rejected).
			Msg("no valid records in a non-empty document")

	case pipeline.RunFailed:
		e.Logger.Error().
			Err(ev.Err).
			Str("kind", string(ev.Kind)).
			Msg("pipeline failed")
	}
}
