package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1F47E/ufed-kml-map/pkg/models"
	"github.com/1F47E/ufed-kml-map/pkg/pipeline"
)

func lines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m), line)
		out = append(out, m)
	}
	return out
}

func TestParseLevel(t *testing.T) {
	testCases := []struct {
		input    string
		expected zerolog.Level
	}{
		{"trace", zerolog.TraceLevel},
		{"debug", zerolog.DebugLevel},
		{"INFO", zerolog.InfoLevel},
		{"warn", zerolog.WarnLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"", zerolog.InfoLevel},
		{"verbose", zerolog.InfoLevel},
	}
	for _, tc := range testCases {
		t.Run(tc.input, func(t *testing.T) {
			assert.Equal(t, tc.expected, ParseLevel(tc.input))
		})
	}
}

func TestSetupJSONAndFile(t *testing.T) {
	var console bytes.Buffer
	file := filepath.Join(t.TempDir(), "logs", DefaultFile)

	logger, closeFn, err := Setup(Config{Level: "info", Format: "json", File: file}, &console)
	require.NoError(t, err)

	logger.Debug().Msg("hidden")
	logger.Info().Str("input", "Locations.kml").Msg("converting")
	require.NoError(t, closeFn())

	got := lines(t, &console)
	require.Len(t, got, 1)
	assert.Equal(t, "converting", got[0]["message"])
	assert.Equal(t, "Locations.kml", got[0]["input"])

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"message":"converting"`)
	assert.NotContains(t, string(data), "hidden")
}

func TestSetupConsoleFormat(t *testing.T) {
	var console bytes.Buffer
	logger, closeFn, err := Setup(Config{}, &console)
	require.NoError(t, err)
	defer closeFn()

	logger.Info().Msg("hello")
	assert.Contains(t, console.String(), "hello")
	assert.False(t, json.Valid(bytes.TrimSpace(console.Bytes())))
}

func TestSetupBadFile(t *testing.T) {
	dir := t.TempDir()
	_, _, err := Setup(Config{File: dir}, &bytes.Buffer{})
	assert.Error(t, err)
}

func TestEventLogger(t *testing.T) {
	var buf bytes.Buffer
	obs := NewEventLogger(zerolog.New(&buf).Level(zerolog.DebugLevel))

	obs.Observe(pipeline.RunStarted{Workers: 4, BatchSize: 512})
	obs.Observe(pipeline.FragmentsProcessed{Progress: pipeline.Progress{Processed: 10, Extracted: 12}})
	obs.Observe(pipeline.DatasetAssembled{
		Fragments: 3, Records: 1, Rejected: 2, UntimedRecords: 1,
		ByReason: map[models.Reason]int{models.ReasonOutOfRange: 1, models.ReasonMissingCoordinates: 1},
		Duration: time.Second,
	})
	obs.Observe(pipeline.EmptyDataset{Fragments: 2, Rejected: 2})
	obs.Observe(pipeline.RunFailed{Kind: pipeline.FailureParse, Err: errors.New("unexpected EOF")})

	got := lines(t, &buf)
	require.Len(t, got, 5)

	assert.Equal(t, "info", got[0]["level"])
	assert.Equal(t, float64(4), got[0]["workers"])

	assert.Equal(t, "debug", got[1]["level"])
	assert.Equal(t, float64(10), got[1]["processed"])

	assert.Equal(t, "dataset assembled", got[2]["message"])
	assert.Equal(t, map[string]any{
		"missing coordinates":      float64(1),
		"malformed coordinates":    float64(0),
		"coordinates out of range": float64(1),
	}, got[2]["by_reason"])

	assert.Equal(t, "warn", got[3]["level"])

	assert.Equal(t, "error", got[4]["level"])
	assert.Equal(t, "parse", got[4]["kind"])
	assert.Equal(t, "unexpected EOF", got[4]["error"])
}

func TestEventLoggerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	obs := NewEventLogger(zerolog.New(&buf).Level(zerolog.InfoLevel))
	obs.Observe(pipeline.FragmentsProcessed{})
	assert.Empty(t, buf.String())
}
