package export

import (
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/1F47E/ufed-kml-map/pkg/models"
)

// Report summarizes one conversion run
type Report struct {
	RunID     string        `yaml:"run_id"`
	Input     string        `yaml:"input"`
	StartedAt time.Time     `yaml:"started_at"`
	Duration  time.Duration `yaml:"duration"`
	Workers   int           `yaml:"workers"`

	Fragments      int `yaml:"fragments"`
	Records        int `yaml:"records"`
	UntimedRecords int `yaml:"untimed_records"`

	Rejections RejectionReport `yaml:"rejections"`
	Outputs    []string        `yaml:"outputs,omitempty"`
}

// RejectionReport lists counts for every reason, zero counts included.
type RejectionReport struct {
	Total    int                `yaml:"total"`
	ByReason map[string]int     `yaml:"by_reason"`
	Samples  []models.Rejection `yaml:"samples,omitempty"`
}

// NewReport builds the report for ds
func NewReport(runID, input string, startedAt time.Time, duration time.Duration, workers int, ds *models.Dataset) Report {
	byReason := make(map[string]int, len(models.Reasons()))
	for _, reason := range models.Reasons() {
		byReason[string(reason)] = ds.Rejections.ByReason[reason]
	}

	return Report{
		RunID:          runID,
		Input:          input,
		StartedAt:      startedAt.UTC(),
		Duration:       duration,
		Workers:        workers,
		Fragments:      ds.Fragments,
		Records:        len(ds.Records),
		UntimedRecords: ds.UntimedRecords,
		Rejections: RejectionReport{
			Total:    ds.Rejections.Total,
			ByReason: byReason,
			Samples:  ds.Rejections.Samples,
		},
	}
}

// WriteReport encodes r as YAML
func WriteReport(w io.Writer, r Report) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	return nil
}

// SaveReport writes r to path
func SaveReport(path string, r Report) error {
	return writeFile(path, func(w io.Writer) error {
		return WriteReport(w, r)
	})
}

// LoadReport reads a report written by SaveReport
func LoadReport(r io.Reader) (Report, error) {
	var rep Report
	if err := yaml.NewDecoder(r).Decode(&rep); err != nil {
		return Report{}, fmt.Errorf("failed to decode report: %w", err)
	}
	return rep, nil
}
