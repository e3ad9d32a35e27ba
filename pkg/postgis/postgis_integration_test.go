//go:build integration

package postgis

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/1F47E/ufed-kml-map/pkg/models"
)

func setupTestDatabase(t *testing.T) *Store {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgis/postgis:16-3.4",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_DB":       "testdb",
			"POSTGRES_USER":     "testuser",
			"POSTGRES_PASSWORD": "testpass",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
	}

	postgresC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		postgresC.Terminate(ctx)
	})

	host, err := postgresC.Host(ctx)
	require.NoError(t, err)

	port, err := postgresC.MappedPort(ctx, "5432")
	require.NoError(t, err)

	dsn := "postgres://testuser:testpass@" + host + ":" + port.Port() + "/testdb?sslmode=disable"

	store, err := Open(ctx, dsn, "placemarks")
	require.NoError(t, err)
	t.Cleanup(func() {
		store.Close()
	})

	require.NoError(t, store.InitSchema(ctx))
	return store
}

func TestStore_BulkInsertAndQuery(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}

	store := setupTestDatabase(t)
	ctx := context.Background()
	runID := uuid.NewString()
	when := time.Date(2021, 5, 23, 8, 30, 0, 0, time.UTC)

	records := []models.Record{
		{Seq: 0, Label: "Berlin", Latitude: 52.52, Longitude: 13.405, Timestamp: &when, Description: "Source: GPS"},
		{Seq: 2, Label: "Munich", Latitude: 48.1351, Longitude: 11.582},
		{Seq: 3, Label: "Tokyo", Latitude: 35.6762, Longitude: 139.6503},
	}

	written, err := store.BulkInsert(ctx, runID, records)
	require.NoError(t, err)
	assert.Equal(t, 3, written)

	// Schema setup is idempotent
	require.NoError(t, store.InitSchema(ctx))

	count, err := store.Count(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	tests := []struct {
		name     string
		box      models.BoundingBox
		expected []string
	}{
		{
			name: "germany",
			box: models.BoundingBox{
				BottomLeft: models.Location{Lat: 47, Lon: 5},
				TopRight:   models.Location{Lat: 55, Lon: 15},
			},
			expected: []string{"Berlin", "Munich"},
		},
		{
			name: "empty ocean",
			box: models.BoundingBox{
				BottomLeft: models.Location{Lat: -40, Lon: -30},
				TopRight:   models.Location{Lat: -30, Lon: -20},
			},
			expected: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.QueryBox(ctx, runID, tt.box)
			require.NoError(t, err)

			labels := []string{}
			for _, r := range got {
				labels = append(labels, r.Label)
			}
			assert.Equal(t, tt.expected, labels)
		})
	}

	got, err := store.QueryBox(ctx, runID, models.BoundingBox{
		BottomLeft: models.Location{Lat: 52, Lon: 13},
		TopRight:   models.Location{Lat: 53, Lon: 14},
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.InDelta(t, 52.52, got[0].Latitude, 1e-9)
	require.NotNil(t, got[0].Timestamp)
	assert.True(t, when.Equal(*got[0].Timestamp))

	deleted, err := store.DeleteRun(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), deleted)
}

func TestStore_RunsAreIsolated(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}

	store := setupTestDatabase(t)
	ctx := context.Background()

	first, second := uuid.NewString(), uuid.NewString()
	_, err := store.BulkInsert(ctx, first, []models.Record{{Seq: 0, Latitude: 1, Longitude: 1}})
	require.NoError(t, err)
	_, err = store.BulkInsert(ctx, second, []models.Record{{Seq: 0, Latitude: 1, Longitude: 1}, {Seq: 1, Latitude: 2, Longitude: 2}})
	require.NoError(t, err)

	n, err := store.Count(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	// Same run and sequence twice violates the primary key
	_, err = store.BulkInsert(ctx, first, []models.Record{{Seq: 0, Latitude: 1, Longitude: 1}})
	assert.Error(t, err)
}
