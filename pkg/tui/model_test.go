package tui

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1F47E/ufed-kml-map/pkg/models"
	"github.com/1F47E/ufed-kml-map/pkg/pipeline"
)

func update(t *testing.T, m model, msg tea.Msg) (model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	nm, ok := next.(model)
	require.True(t, ok)
	return nm, cmd
}

func TestModelProgress(t *testing.T) {
	m := newModel("Converting Locations.kml")

	m, _ = update(t, m, EventMsg{pipeline.RunStarted{Workers: 4, BatchSize: 512}})
	m, cmd := update(t, m, EventMsg{pipeline.FragmentsProcessed{Progress: pipeline.Progress{
		Processed: 12345, Extracted: 12345, BytesRead: 500_000, TotalBytes: 1_000_000,
	}}})
	assert.NotNil(t, cmd)
	assert.InDelta(t, 0.5, m.percent, 1e-9)

	view := m.View()
	assert.Contains(t, view, "Converting Locations.kml")
	assert.Contains(t, view, "12,345 placemarks normalized")
	assert.Contains(t, view, "500 kB of 1.0 MB read")
	assert.Contains(t, view, "Started 4 workers")
	assert.Contains(t, view, "Press 'q' to cancel")
}

func TestModelKeepsRecentMessages(t *testing.T) {
	m := newModel("x")
	for i := 0; i < 8; i++ {
		m, _ = update(t, m, LogMsg(string(rune('a'+i))))
	}
	assert.Equal(t, []string{"d", "e", "f", "g", "h"}, m.messages)
}

func TestModelDone(t *testing.T) {
	m := newModel("x")
	m, _ = update(t, m, EventMsg{pipeline.EmptyDataset{Fragments: 1200, Rejected: 1200}})
	m, _ = update(t, m, ExportingMsg{})
	assert.Contains(t, m.View(), "Writing outputs")

	m, cmd := update(t, m, DoneMsg{Summary: Summary{
		Fragments: 1200,
		Rejected:  1200,
		ByReason:  map[models.Reason]int{models.ReasonMalformedCoordinates: 1200},
		Outputs:   []string{"240102153000_Locations.csv"},
		Duration:  time.Second,
	}})
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())

	view := m.View()
	assert.Contains(t, view, "Conversion complete!")
	assert.Contains(t, view, "malformed coordinates")
	assert.Contains(t, view, "240102153000_Locations.csv")
	assert.Contains(t, view, "No valid records in 1,200 placemarks")
	assert.NotContains(t, view, "Press 'q'")
}

func TestModelFailedAndCanceled(t *testing.T) {
	m := newModel("x")
	failed, _ := update(t, m, ErrMsg{Err: errors.New("XML syntax error on line 7")})
	assert.Contains(t, failed.View(), "XML syntax error on line 7")

	canceled, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	assert.True(t, canceled.canceled)
	assert.NotNil(t, cmd)
}

func headless() []tea.ProgramOption {
	return []tea.ProgramOption{tea.WithInput(nil), tea.WithOutput(io.Discard), tea.WithoutRenderer()}
}

func TestRunReturnsJobResult(t *testing.T) {
	summary, err := Run(context.Background(), "test", func(ctx context.Context, send func(tea.Msg)) (Summary, error) {
		obs := NewObserver(send)
		obs.Observe(pipeline.RunStarted{Workers: 1})
		return Summary{Records: 3}, nil
	}, headless()...)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Records)
}

func TestRunReturnsJobError(t *testing.T) {
	jobErr := errors.New("bad input")
	_, err := Run(context.Background(), "test", func(ctx context.Context, send func(tea.Msg)) (Summary, error) {
		return Summary{}, jobErr
	}, headless()...)
	assert.ErrorIs(t, err, jobErr)
}
