package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const debounce = 50 * time.Millisecond

func TestFileReportsWrites(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "Locations.kml")
	require.NoError(t, os.WriteFile(path, []byte("<kml/>"), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	changes, err := File(ctx, path, debounce, zerolog.Nop())
	require.NoError(t, err)

	go func() {
		time.Sleep(20 * time.Millisecond)
		for i := 0; i < 3; i++ {
			os.WriteFile(path, []byte("<kml></kml>"), 0o644)
		}
	}()

	select {
	case _, ok := <-changes:
		assert.True(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for change")
	}

	// the burst collapses into one notification
	select {
	case <-changes:
		t.Fatal("unexpected second notification")
	case <-time.After(4 * debounce):
	}
}

func TestFileIgnoresSiblings(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "Locations.kml")
	require.NoError(t, os.WriteFile(path, []byte("<kml/>"), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	changes, err := File(ctx, path, debounce, zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "240102153000_Locations.csv"), []byte("x"), 0o644))

	select {
	case <-changes:
		t.Fatal("sibling write reported as a change")
	case <-time.After(4 * debounce):
	}
}

func TestFileClosesOnCancel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "Locations.kml")

	ctx, cancel := context.WithCancel(context.Background())
	changes, err := File(ctx, path, debounce, zerolog.Nop())
	require.NoError(t, err)
	cancel()

	select {
	case _, ok := <-changes:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("channel did not close after context cancellation")
	}
}

func TestFileMissingDirectory(t *testing.T) {
	_, err := File(context.Background(), "/non/existent/Locations.kml", debounce, zerolog.Nop())
	assert.ErrorContains(t, err, "failed to watch")
}

func TestRelevant(t *testing.T) {
	target := "/data/Locations.kml"
	tests := []struct {
		name string
		ev   fsnotify.Event
		want bool
	}{
		{"write", fsnotify.Event{Name: target, Op: fsnotify.Write}, true},
		{"create after rename", fsnotify.Event{Name: target, Op: fsnotify.Create}, true},
		{"chmod", fsnotify.Event{Name: target, Op: fsnotify.Chmod}, false},
		{"remove", fsnotify.Event{Name: target, Op: fsnotify.Remove}, false},
		{"other file", fsnotify.Event{Name: "/data/other.kml", Op: fsnotify.Write}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, relevant(tt.ev, target))
		})
	}
}
