// Package postgis exports run records into a PostGIS table so they can be
// queried next to other evidence.
package postgis

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/1F47E/ufed-kml-map/pkg/models"
)

const batchSize = 10000

// Store writes records of many runs into one table, keyed by run id and
// document sequence.
type Store struct {
	db    *sql.DB
	table string // quoted identifier
	name  string
}

// Open connects to dsn and checks the connection
func Open(ctx context.Context, dsn, table string) (*Store, error) {
	if table == "" {
		return nil, fmt.Errorf("table name is required")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test connection
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &Store{db: db, table: pq.QuoteIdentifier(table), name: table}, nil
}

// InitSchema creates the table and its spatial index when missing
func (s *Store) InitSchema(ctx context.Context) error {
	queries := []string{
		`CREATE EXTENSION IF NOT EXISTS postgis;`,

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			run_id UUID NOT NULL,
			seq INTEGER NOT NULL,
			label TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			ts TIMESTAMPTZ,
			location GEOMETRY(POINT, 4326) NOT NULL,
			PRIMARY KEY (run_id, seq)
		);`, s.table),

		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s USING GIST(location);`,
			pq.QuoteIdentifier("idx_"+s.name+"_location"), s.table),
	}

	for _, query := range queries {
		if _, err := s.db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to execute query '%s': %w", query, err)
		}
	}
	return nil
}

// BulkInsert stores records under runID, committing every batchSize rows.
// It returns the number of rows written.
func (s *Store) BulkInsert(ctx context.Context, runID string, records []models.Record) (int, error) {
	stmt, err := s.db.PrepareContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (run_id, seq, label, description, ts, location)
		VALUES ($1, $2, $3, $4, $5, ST_SetSRID(ST_MakePoint($6, $7), 4326))
	`, s.table))
	if err != nil {
		return 0, fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	written := 0
	for start := 0; start < len(records); start += batchSize {
		end := min(start+batchSize, len(records))
		if err := s.insertBatch(ctx, stmt, runID, records[start:end]); err != nil {
			return written, err
		}
		written = end
	}
	return written, nil
}

func (s *Store) insertBatch(ctx context.Context, stmt *sql.Stmt, runID string, records []models.Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	txStmt := tx.StmtContext(ctx, stmt)

	for _, r := range records {
		var ts sql.NullTime
		if r.Timestamp != nil {
			ts = sql.NullTime{Time: *r.Timestamp, Valid: true}
		}
		if _, err := txStmt.ExecContext(ctx, runID, r.Seq, r.Label, r.Description, ts, r.Longitude, r.Latitude); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to insert record %d: %w", r.Seq, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}
	return nil
}

// QueryBox returns the records of runID inside box, in document order
func (s *Store) QueryBox(ctx context.Context, runID string, box models.BoundingBox) ([]models.Record, error) {
	query := fmt.Sprintf(`
		SELECT seq, label, description, ts, ST_Y(location) AS lat, ST_X(location) AS lon
		FROM %s
		WHERE run_id = $1 AND location && ST_MakeEnvelope($2, $3, $4, $5, 4326)
		ORDER BY seq
	`, s.table)

	rows, err := s.db.QueryContext(ctx, query, runID,
		box.BottomLeft.Lon, box.BottomLeft.Lat,
		box.TopRight.Lon, box.TopRight.Lat)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	results := []models.Record{}
	for rows.Next() {
		var (
			r  models.Record
			ts sql.NullTime
		)
		if err := rows.Scan(&r.Seq, &r.Label, &r.Description, &ts, &r.Latitude, &r.Longitude); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		if ts.Valid {
			t := ts.Time.UTC()
			r.Timestamp = &t
		}
		results = append(results, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return results, nil
}

// Count returns the number of rows stored for runID
func (s *Store) Count(ctx context.Context, runID string) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE run_id = $1", s.table), runID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return count, nil
}

// DeleteRun removes every row of runID
func (s *Store) DeleteRun(ctx context.Context, runID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE run_id = $1", s.table), runID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete run: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}
