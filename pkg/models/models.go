package models

import "time"

// Location represents a geographic location with latitude and longitude
type Location struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// BoundingBox represents a rectangular area defined by two corners
type BoundingBox struct {
	BottomLeft Location `json:"bottom_left"`
	TopRight   Location `json:"top_right"`
}

// Contains reports whether loc lies inside the box, edges included.
func (b BoundingBox) Contains(loc Location) bool {
	return loc.Lat >= b.BottomLeft.Lat && loc.Lat <= b.TopRight.Lat &&
		loc.Lon >= b.BottomLeft.Lon && loc.Lon <= b.TopRight.Lon
}

// Center returns the midpoint of the box.
func (b BoundingBox) Center() Location {
	return Location{
		Lat: (b.BottomLeft.Lat + b.TopRight.Lat) / 2,
		Lon: (b.BottomLeft.Lon + b.TopRight.Lon) / 2,
	}
}

// Fragment is one <Placemark> as it was found in the document.
// Nothing in it has been validated yet.
type Fragment struct {
	Seq            int
	Label          string
	Coordinates    string
	HasCoordinates bool
	Timestamp      string
	Description    string
}

// Record is a validated placemark ready for plotting
type Record struct {
	Seq         int        `json:"seq" yaml:"seq"`
	Label       string     `json:"label" yaml:"label"`
	Latitude    float64    `json:"latitude" yaml:"latitude"`
	Longitude   float64    `json:"longitude" yaml:"longitude"`
	Timestamp   *time.Time `json:"timestamp,omitempty" yaml:"timestamp,omitempty"`
	Description string     `json:"description" yaml:"description"`
}

// Location returns the record position.
func (r Record) Location() Location {
	return Location{Lat: r.Latitude, Lon: r.Longitude}
}

// Reason categorizes why a fragment did not become a record
type Reason string

const (
	ReasonMissingCoordinates   Reason = "missing coordinates"
	ReasonMalformedCoordinates Reason = "malformed coordinates"
	ReasonOutOfRange           Reason = "coordinates out of range"
)

// Reasons lists every rejection reason in a fixed order.
func Reasons() []Reason {
	return []Reason{ReasonMissingCoordinates, ReasonMalformedCoordinates, ReasonOutOfRange}
}

// Rejection is a fragment that failed validation
type Rejection struct {
	Seq    int    `json:"seq" yaml:"seq"`
	Reason Reason `json:"reason" yaml:"reason"`
	Detail string `json:"detail,omitempty" yaml:"detail,omitempty"`
	Label  string `json:"label,omitempty" yaml:"label,omitempty"`
}

// RejectionSummary aggregates all rejections of a run
type RejectionSummary struct {
	Total    int            `json:"total" yaml:"total"`
	ByReason map[Reason]int `json:"by_reason" yaml:"by_reason"`
	Samples  []Rejection    `json:"samples" yaml:"samples"`
}

// Add counts a rejection and keeps it as a sample while fewer than limit are held.
func (s *RejectionSummary) Add(r Rejection, limit int) {
	if s.ByReason == nil {
		s.ByReason = make(map[Reason]int)
	}
	s.Total++
	s.ByReason[r.Reason]++
	if len(s.Samples) < limit {
		s.Samples = append(s.Samples, r)
	}
}

// Dataset is the complete output of one pipeline run
type Dataset struct {
	Records        []Record         `json:"records"`
	Rejections     RejectionSummary `json:"rejections"`
	Fragments      int              `json:"fragments"`
	UntimedRecords int              `json:"untimed_records"`
}

// Empty reports whether a non-empty input produced no records at all.
func (d *Dataset) Empty() bool {
	return d.Fragments > 0 && len(d.Records) == 0
}
