package services

import (
	"sort"

	"cpidash/internal/core"
)

// Query filters the dataset by the selection and reshapes the matches into
// one Series per requested category and a category-major list of table
// rows. Both outputs are derived from the same filtered subset.
//
// Categories keep the caller's order; a repeated label is only used once.
// An empty selection, an unknown label, or an inverted range yield empty
// results rather than an error.
func Query(ds *core.Dataset, sel core.Selection) ([]core.Series, []core.TableRow) {
	series := []core.Series{}
	rows := []core.TableRow{}
	if ds == nil || len(sel.Categories) == 0 {
		return series, rows
	}

	view := ds.Rows()
	for _, cat := range uniqueOrdered(sel.Categories) {
		var matched []core.Observation
		for _, o := range view.All() {
			if o.Category == cat && sel.Contains(o.Date) {
				matched = append(matched, o)
			}
		}
		// Ties keep source order.
		sort.SliceStable(matched, func(i, j int) bool {
			return matched[i].Date.Before(matched[j].Date)
		})

		s := core.Series{Category: cat, Points: make([]core.Point, 0, len(matched))}
		for _, o := range matched {
			s.Points = append(s.Points, core.Point{Date: o.Date, Value: o.Value})
			rows = append(rows, core.TableRow{
				Date:     core.FormatDate(o.Date),
				Category: o.Category,
				Value:    o.Value,
			})
		}
		series = append(series, s)
	}
	return series, rows
}

func uniqueOrdered(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
