package pipeline

import (
	"cmp"
	"slices"

	"github.com/1F47E/ufed-kml-map/pkg/models"
)

// Assemble merges batch results back into document order. Rejections are
// counted, never fatal; the first sampleLimit of them are kept as samples.
func Assemble(parts []BatchResult, sampleLimit int) *models.Dataset {
	sorted := slices.Clone(parts)
	slices.SortFunc(sorted, func(a, b BatchResult) int {
		return cmp.Compare(a.Start, b.Start)
	})

	total := 0
	for _, p := range sorted {
		total += len(p.Results)
	}

	ds := &models.Dataset{
		Records: make([]models.Record, 0, total),
		Rejections: models.RejectionSummary{
			ByReason: make(map[models.Reason]int),
			Samples:  []models.Rejection{},
		},
	}

	for _, p := range sorted {
		for _, res := range p.Results {
			ds.Fragments++
			switch {
			case res.Record != nil:
				ds.Records = append(ds.Records, *res.Record)
				if res.Record.Timestamp == nil {
					ds.UntimedRecords++
				}
			case res.Rejection != nil:
				ds.Rejections.Add(*res.Rejection, sampleLimit)
			}
		}
	}
	return ds
}
