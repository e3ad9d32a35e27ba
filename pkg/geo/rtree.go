// Package geo indexes records in an R-Tree for spatial queries over a run's
// dataset: bounding boxes, radius and nearest-neighbour lookups, map extents
// and point density. Building the index is spread across CPU cores.
package geo

import (
	"cmp"
	"errors"
	"fmt"
	"math"
	"runtime"
	"slices"
	"sync"

	"github.com/dhconnelly/rtreego"

	"github.com/1F47E/ufed-kml-map/pkg/models"
)

const (
	tolerance   = 0.0001 // point extent in degrees, rtreego needs non-zero lengths
	minChildren = 25
	maxChildren = 50
	dimensions  = 2
	earthRadius = 6371.0 // km
	kmPerDegree = earthRadius * math.Pi / 180
)

var ErrInvalidBox = errors.New("invalid bounding box")

// spatialItem wraps a record position for R-Tree indexing
type spatialItem struct {
	idx  int
	loc  models.Location
	rect rtreego.Rect
}

func (si *spatialItem) Bounds() rtreego.Rect {
	return si.rect
}

// Index is a read-mostly R-Tree over records. Queries return records in
// document order.
type Index struct {
	mu      sync.RWMutex
	tree    *rtreego.Rtree
	records []models.Record
}

// NewIndex builds an index over records
func NewIndex(records []models.Record) *Index {
	idx := &Index{tree: rtreego.NewTree(dimensions, minChildren, maxChildren)}
	idx.Add(records)
	return idx
}

// Add indexes a batch of records using parallel processing
func (g *Index) Add(records []models.Record) {
	if len(records) == 0 {
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	base := len(g.records)
	g.records = append(g.records, records...)

	items := make([]*spatialItem, len(records))
	chunks(len(records), func(start, end int) {
		for j := start; j < end; j++ {
			loc := records[j].Location()
			items[j] = &spatialItem{idx: base + j, loc: loc, rect: pointRect(loc)}
		}
	})

	// Insertion into the tree is not concurrent-safe
	for _, item := range items {
		g.tree.Insert(item)
	}
}

// Size returns the number of indexed records
func (g *Index) Size() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.records)
}

// Records returns the indexed records in insertion order.
func (g *Index) Records() []models.Record {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return slices.Clone(g.records)
}

// QueryBox returns all records within box, edges included
func (g *Index) QueryBox(box models.BoundingBox) ([]models.Record, error) {
	if box.TopRight.Lat < box.BottomLeft.Lat || box.TopRight.Lon < box.BottomLeft.Lon {
		return nil, fmt.Errorf("%w: top right %v is below or left of bottom left %v", ErrInvalidBox, box.TopRight, box.BottomLeft)
	}

	bounds, err := rtreego.NewRect(
		rtreego.Point{box.BottomLeft.Lat - tolerance, box.BottomLeft.Lon - tolerance},
		[]float64{box.TopRight.Lat - box.BottomLeft.Lat + 2*tolerance, box.TopRight.Lon - box.BottomLeft.Lon + 2*tolerance},
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidBox, err)
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	return g.collect(g.tree.SearchIntersect(bounds), func(loc models.Location) bool {
		return box.Contains(loc)
	}), nil
}

// QueryRadius returns all records within radiusKm of center
func (g *Index) QueryRadius(center models.Location, radiusKm float64) ([]models.Record, error) {
	if radiusKm <= 0 || math.IsNaN(radiusKm) || math.IsInf(radiusKm, 0) {
		return nil, fmt.Errorf("invalid radius %v km", radiusKm)
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	return g.collect(g.tree.SearchIntersect(radiusRect(center, radiusKm)), func(loc models.Location) bool {
		return Distance(center, loc) <= radiusKm
	}), nil
}

// Nearest returns up to n records closest to loc, nearest first.
// Candidates come from the tree in degree space and are ranked by
// great-circle distance.
func (g *Index) Nearest(loc models.Location, n int) []models.Record {
	if n <= 0 {
		return nil
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	found := g.tree.NearestNeighbors(n, rtreego.Point{loc.Lat, loc.Lon})
	items := make([]*spatialItem, 0, len(found))
	for _, s := range found {
		if item, ok := s.(*spatialItem); ok && item != nil {
			items = append(items, item)
		}
	}
	slices.SortStableFunc(items, func(a, b *spatialItem) int {
		if c := cmp.Compare(Distance(loc, a.loc), Distance(loc, b.loc)); c != 0 {
			return c
		}
		return cmp.Compare(a.idx, b.idx)
	})

	out := make([]models.Record, len(items))
	for i, item := range items {
		out[i] = g.records[item.idx]
	}
	return out
}

// Bounds returns the smallest box holding every record. ok is false for an
// empty index.
func (g *Index) Bounds() (box models.BoundingBox, ok bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if len(g.records) == 0 {
		return box, false
	}
	box.BottomLeft = g.records[0].Location()
	box.TopRight = box.BottomLeft
	for _, r := range g.records[1:] {
		box.BottomLeft.Lat = min(box.BottomLeft.Lat, r.Latitude)
		box.BottomLeft.Lon = min(box.BottomLeft.Lon, r.Longitude)
		box.TopRight.Lat = max(box.TopRight.Lat, r.Latitude)
		box.TopRight.Lon = max(box.TopRight.Lon, r.Longitude)
	}
	return box, true
}

// Density estimates, for every record, how many records lie within radiusKm.
// Records are binned into cells at least radiusKm wide and each record is
// weighted by the population of its cell and the eight around it, so every
// record within radiusKm is counted and some up to two cells away may be.
// Runs in linear time; the result is aligned with Records().
func (g *Index) Density(radiusKm float64) ([]int, error) {
	if radiusKm <= 0 || math.IsNaN(radiusKm) || math.IsInf(radiusKm, 0) {
		return nil, fmt.Errorf("invalid density radius %v km", radiusKm)
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	weights := make([]int, len(g.records))
	if len(g.records) == 0 {
		return weights, nil
	}

	// longitude cells are sized for the highest latitude, plus a margin for
	// great circles cutting across parallels, so they are never narrower
	// than radiusKm
	latStep := radiusKm / kmPerDegree
	maxLat := 0.0
	for _, r := range g.records {
		maxLat = max(maxLat, math.Abs(r.Latitude))
	}
	lonStep := 360.0
	if c := math.Cos(maxLat * math.Pi / 180); c > 1e-6 {
		lonStep = min(latStep/c*1.001, 360)
	}

	cells := make([]cell, len(g.records))
	counts := make(map[cell]int)
	for i, r := range g.records {
		c := cell{
			row: int64(math.Floor(r.Latitude / latStep)),
			col: int64(math.Floor(r.Longitude / lonStep)),
		}
		cells[i] = c
		counts[c]++
	}

	sums := make(map[cell]int, len(counts))
	for c := range counts {
		total := 0
		for dr := int64(-1); dr <= 1; dr++ {
			for dc := int64(-1); dc <= 1; dc++ {
				total += counts[cell{row: c.row + dr, col: c.col + dc}]
			}
		}
		sums[c] = total
	}
	for i, c := range cells {
		weights[i] = sums[c]
	}
	return weights, nil
}

type cell struct {
	row, col int64
}

func (g *Index) collect(found []rtreego.Spatial, keep func(models.Location) bool) []models.Record {
	idxs := make([]int, 0, len(found))
	for _, s := range found {
		item, ok := s.(*spatialItem)
		if !ok || !keep(item.loc) {
			continue
		}
		idxs = append(idxs, item.idx)
	}
	slices.Sort(idxs)

	out := make([]models.Record, len(idxs))
	for i, idx := range idxs {
		out[i] = g.records[idx]
	}
	return out
}

// chunks splits [0,n) across CPUs and waits for fn to finish on every part.
func chunks(n int, fn func(start, end int)) {
	workers := runtime.NumCPU()
	size := (n + workers - 1) / workers
	if size < 1 {
		size = 1
	}

	var wg sync.WaitGroup
	for start := 0; start < n; start += size {
		end := min(start+size, n)
		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			fn(start, end)
		}(start, end)
	}
	wg.Wait()
}

func pointRect(loc models.Location) rtreego.Rect {
	rect, _ := rtreego.NewRect(rtreego.Point{loc.Lat, loc.Lon}, []float64{tolerance, tolerance})
	return rect
}

// radiusRect is the degree box around center that covers radiusKm.
// Longitude degrees shrink towards the poles.
func radiusRect(center models.Location, radiusKm float64) rtreego.Rect {
	latDeg := (radiusKm / earthRadius) * (180 / math.Pi)
	lonDeg := 360.0
	if c := math.Cos(center.Lat * math.Pi / 180); c > 1e-6 {
		lonDeg = min(latDeg/c, 360)
	}
	rect, _ := rtreego.NewRect(
		rtreego.Point{center.Lat - latDeg - tolerance, center.Lon - lonDeg - tolerance},
		[]float64{2*latDeg + 2*tolerance, 2*lonDeg + 2*tolerance},
	)
	return rect
}

// Distance is the great-circle distance between a and b in kilometers
func Distance(a, b models.Location) float64 {
	lat1Rad := a.Lat * math.Pi / 180.0
	lon1Rad := a.Lon * math.Pi / 180.0
	lat2Rad := b.Lat * math.Pi / 180.0
	lon2Rad := b.Lon * math.Pi / 180.0

	dLat := lat2Rad - lat1Rad
	dLon := lon2Rad - lon1Rad

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*
			math.Sin(dLon/2)*math.Sin(dLon/2)

	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return earthRadius * c
}
