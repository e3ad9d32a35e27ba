// Package normalize turns raw placemark fragments into validated records.
package normalize

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/1F47E/ufed-kml-map/pkg/models"
)

// Result holds exactly one of Record or Rejection
type Result struct {
	Record    *models.Record
	Rejection *models.Rejection
}

// OK reports whether the fragment produced a record.
func (r Result) OK() bool {
	return r.Record != nil
}

// Fragment validates f. It never panics on bad input and has no side effects.
func Fragment(f models.Fragment) Result {
	label := strings.TrimSpace(f.Label)

	if !f.HasCoordinates {
		return reject(f.Seq, label, models.ReasonMissingCoordinates, "")
	}

	lat, lon, err := ParseCoordinates(f.Coordinates)
	if err != nil {
		return reject(f.Seq, label, err.Reason, err.Detail)
	}

	record := &models.Record{
		Seq:         f.Seq,
		Label:       label,
		Latitude:    lat,
		Longitude:   lon,
		Description: strings.TrimSpace(f.Description),
	}
	if ts, ok := ParseTimestamp(f.Timestamp); ok {
		record.Timestamp = &ts
	}
	return Result{Record: record}
}

// CoordinateError describes why a coordinate string was refused
type CoordinateError struct {
	Reason models.Reason
	Detail string
}

func (e *CoordinateError) Error() string {
	if e.Detail == "" {
		return string(e.Reason)
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Detail)
}

// ParseCoordinates parses a KML "lon,lat[,alt]" tuple. Altitude is dropped.
func ParseCoordinates(s string) (lat, lon float64, err *CoordinateError) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, 0, &CoordinateError{Reason: models.ReasonMalformedCoordinates, Detail: "empty coordinates"}
	}

	parts := strings.Split(s, ",")
	if len(parts) != 2 && len(parts) != 3 {
		return 0, 0, &CoordinateError{
			Reason: models.ReasonMalformedCoordinates,
			Detail: fmt.Sprintf("expected 2 or 3 components, got %d", len(parts)),
		}
	}

	values := make([]float64, len(parts))
	for i, part := range parts {
		v, perr := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if perr != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, 0, &CoordinateError{
				Reason: models.ReasonMalformedCoordinates,
				Detail: fmt.Sprintf("component %d %q is not a finite number", i+1, strings.TrimSpace(part)),
			}
		}
		values[i] = v
	}

	lon, lat = values[0], values[1]
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		detail := fmt.Sprintf("latitude %g, longitude %g", lat, lon)
		if looksSwapped(lat, lon) {
			detail += "; latitude/longitude look swapped"
		}
		return 0, 0, &CoordinateError{Reason: models.ReasonOutOfRange, Detail: detail}
	}
	return lat, lon, nil
}

// looksSwapped flags out-of-range pairs that would be valid the other way round.
func looksSwapped(lat, lon float64) bool {
	return math.Abs(lat) > 90 && math.Abs(lat) <= 180 && math.Abs(lon) <= 90
}

func reject(seq int, label string, reason models.Reason, detail string) Result {
	return Result{Rejection: &models.Rejection{
		Seq:    seq,
		Reason: reason,
		Detail: detail,
		Label:  label,
	}}
}
