package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/1F47E/ufed-kml-map/pkg/models"
	"github.com/1F47E/ufed-kml-map/pkg/plot"
)

const (
	defaultLimit = 1000
	maxLimit     = 10000
)

// Map handles GET /maps/:kind
func (s *Server) Map(c *gin.Context) {
	kind, err := plot.ParseKind(c.Param("kind"))
	if err != nil || kind == plot.All {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown map kind"})
		return
	}
	snap, ok := s.loaded(c)
	if !ok {
		return
	}

	html, err := snap.pages[kind].get(kind, snap.ds.Records, s.opts.Plot)
	if err != nil {
		s.opts.Logger.Error().Err(err).Str("kind", string(kind)).Msg("failed to render map")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", html)
}

// SummaryResponse is returned by GET /api/summary
type SummaryResponse struct {
	Source         string                  `json:"source"`
	LoadedAt       string                  `json:"loaded_at"`
	Fragments      int                     `json:"fragments"`
	Records        int                     `json:"records"`
	UntimedRecords int                     `json:"untimed_records"`
	Empty          bool                    `json:"empty"`
	Rejections     models.RejectionSummary `json:"rejections"`
	Bounds         *models.BoundingBox     `json:"bounds,omitempty"`
}

// Summary handles GET /api/summary
func (s *Server) Summary(c *gin.Context) {
	snap, ok := s.loaded(c)
	if !ok {
		return
	}

	resp := SummaryResponse{
		Source:         snap.source,
		LoadedAt:       snap.loadedAt.Format(time.RFC3339),
		Fragments:      snap.ds.Fragments,
		Records:        len(snap.ds.Records),
		UntimedRecords: snap.ds.UntimedRecords,
		Empty:          snap.ds.Empty(),
		Rejections:     snap.ds.Rejections,
	}
	if box, ok := snap.idx.Bounds(); ok {
		resp.Bounds = &box
	}
	c.JSON(http.StatusOK, resp)
}

// RecordsResponse is returned by GET /api/records
type RecordsResponse struct {
	Total   int             `json:"total"`
	Records []models.Record `json:"records"`
}

// Records handles GET /api/records. Exactly one filter may be given:
// bbox=minLat,minLon,maxLat,maxLon, lat&lon&radius_km, or lat&lon&nearest.
// Without a filter all records are listed. limit and offset page the result.
func (s *Server) Records(c *gin.Context) {
	limit, err := intParam(c, "limit", defaultLimit)
	if err != nil || limit <= 0 || limit > maxLimit {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 10000"})
		return
	}
	offset, err := intParam(c, "offset", 0)
	if err != nil || offset < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "offset must not be negative"})
		return
	}

	snap, ok := s.loaded(c)
	if !ok {
		return
	}

	var records []models.Record
	switch {
	case c.Query("bbox") != "":
		box, err := parseBBox(c.Query("bbox"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if records, err = snap.idx.QueryBox(box); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

	case c.Query("radius_km") != "" || c.Query("nearest") != "":
		center, err := parseLocation(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if c.Query("nearest") != "" {
			n, err := strconv.Atoi(c.Query("nearest"))
			if err != nil || n <= 0 || n > maxLimit {
				c.JSON(http.StatusBadRequest, gin.H{"error": "nearest must be between 1 and 10000"})
				return
			}
			records = snap.idx.Nearest(center, n)
			break
		}
		radius, err := strconv.ParseFloat(c.Query("radius_km"), 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid radius_km format"})
			return
		}
		if records, err = snap.idx.QueryRadius(center, radius); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

	default:
		records = snap.ds.Records
	}

	total := len(records)
	start := min(offset, total)
	end := min(start+limit, total)
	page := records[start:end]
	if page == nil {
		page = []models.Record{}
	}
	c.JSON(http.StatusOK, RecordsResponse{Total: total, Records: page})
}

func intParam(c *gin.Context, name string, def int) (int, error) {
	v := c.Query(name)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

func parseBBox(s string) (models.BoundingBox, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return models.BoundingBox{}, errors.New("bbox must be minLat,minLon,maxLat,maxLon")
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return models.BoundingBox{}, errors.New("invalid bbox number " + strconv.Quote(p))
		}
		v[i] = f
	}
	return models.BoundingBox{
		BottomLeft: models.Location{Lat: v[0], Lon: v[1]},
		TopRight:   models.Location{Lat: v[2], Lon: v[3]},
	}, nil
}

func parseLocation(c *gin.Context) (models.Location, error) {
	latStr := c.Query("lat")
	lonStr := c.Query("lon")
	if latStr == "" || lonStr == "" {
		return models.Location{}, errors.New("missing required query parameters 'lat' and 'lon'")
	}

	lat, err := strconv.ParseFloat(latStr, 64)
	if err != nil {
		return models.Location{}, errors.New("invalid latitude format")
	}
	lon, err := strconv.ParseFloat(lonStr, 64)
	if err != nil {
		return models.Location{}, errors.New("invalid longitude format")
	}
	return models.Location{Lat: lat, Lon: lon}, nil
}
