// Package export writes a dataset to disk: the flat CSV table and a YAML
// run report.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/1F47E/ufed-kml-map/pkg/models"
)

// StampLayout prefixes every generated file name
const StampLayout = "060102150405"

// CSVHeader is the column order of the exported table
var CSVHeader = []string{"name", "latitude", "longitude", "timestamp", "description"}

// OutputName derives the CSV name for input, e.g. 240102153000_Locations.csv
func OutputName(input string, now time.Time) string {
	base := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
	return fmt.Sprintf("%s_%s.csv", now.Format(StampLayout), base)
}

// WriteCSV writes records with a header row. Absent timestamps are empty cells.
func WriteCSV(w io.Writer, records []models.Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}

	row := make([]string, len(CSVHeader))
	for _, r := range records {
		row[0] = r.Label
		row[1] = strconv.FormatFloat(r.Latitude, 'f', -1, 64)
		row[2] = strconv.FormatFloat(r.Longitude, 'f', -1, 64)
		row[3] = ""
		if r.Timestamp != nil {
			row[3] = r.Timestamp.Format(time.RFC3339)
		}
		row[4] = r.Description
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write record %d: %w", r.Seq, err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("failed to flush csv: %w", err)
	}
	return nil
}

// SaveCSV writes records to path, creating parent directories.
func SaveCSV(path string, records []models.Record) error {
	return writeFile(path, func(w io.Writer) error {
		return WriteCSV(w, records)
	})
}

func writeFile(path string, fn func(io.Writer) error) (err error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer func() {
		if cerr := file.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close %s: %w", path, cerr)
		}
	}()

	return fn(file)
}
