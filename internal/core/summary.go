package core

import "time"

// DatasetSummary is a compact description of a loaded dataset, used for
// readiness checks and startup logging.
type DatasetSummary struct {
	Observations int
	Categories   int
	First        time.Time
	Last         time.Time
}

// Summary describes the dataset.
func (d *Dataset) Summary() DatasetSummary {
	return DatasetSummary{
		Observations: len(d.obs),
		Categories:   len(d.categories),
		First:        d.first,
		Last:         d.last,
	}
}
