package core

import (
	"fmt"
	"iter"
	"strconv"
	"strings"
	"time"
)

// Column headers of the CPI table.
const (
	ColumnDate      = "Date"
	ColumnAttribute = "Attribute"
	ColumnValue     = "Value"
)

// Dataset is the immutable, in-memory CPI table. It is safe for concurrent
// readers; nothing mutates it after construction.
type Dataset struct {
	obs        []Observation
	categories []string
	first      time.Time
	last       time.Time
}

// NewDataset builds a Dataset from observations in source order. The slice
// is copied so later changes by the caller are not visible.
func NewDataset(obs []Observation) *Dataset {
	ds := &Dataset{obs: make([]Observation, len(obs))}
	copy(ds.obs, obs)

	seen := make(map[string]struct{})
	for i, o := range ds.obs {
		if _, ok := seen[o.Category]; !ok {
			seen[o.Category] = struct{}{}
			ds.categories = append(ds.categories, o.Category)
		}
		if i == 0 || o.Date.Before(ds.first) {
			ds.first = o.Date
		}
		if i == 0 || o.Date.After(ds.last) {
			ds.last = o.Date
		}
	}
	return ds
}

// Categories returns the distinct category labels in first-appearance order.
func (d *Dataset) Categories() []string {
	return append([]string(nil), d.categories...)
}

// HasCategory reports whether the label appears in the dataset.
func (d *Dataset) HasCategory(c string) bool {
	for _, v := range d.categories {
		if v == c {
			return true
		}
	}
	return false
}

// Rows returns a read-only view over all observations.
func (d *Dataset) Rows() Rows {
	return Rows{obs: d.obs}
}

// Len returns the number of observations.
func (d *Dataset) Len() int { return len(d.obs) }

// Bounds returns the earliest and latest observation dates. Both are zero
// for an empty dataset.
func (d *Dataset) Bounds() (first, last time.Time) {
	return d.first, d.last
}

// Rows is a read-only view of the dataset's observations. Observations are
// returned by value so callers cannot reach the backing storage.
type Rows struct {
	obs []Observation
}

func (r Rows) Len() int { return len(r.obs) }

func (r Rows) At(i int) Observation { return r.obs[i] }

// All iterates observations in source order.
func (r Rows) All() iter.Seq2[int, Observation] {
	return func(yield func(int, Observation) bool) {
		for i, o := range r.obs {
			if !yield(i, o) {
				return
			}
		}
	}
}

// ParseTable converts a header row plus records into a Dataset. Header names
// are matched case-insensitively; extra columns are ignored. The parse is
// all-or-nothing: the first bad date or value fails the whole load.
func ParseTable(source string, records [][]string) (*Dataset, error) {
	if len(records) == 0 {
		return nil, &LoadError{Source: source, Err: ErrEmptyDataset}
	}
	header := records[0]
	colDate := indexOf(header, ColumnDate)
	colAttr := indexOf(header, ColumnAttribute)
	colValue := indexOf(header, ColumnValue)

	var missing []string
	if colDate == -1 {
		missing = append(missing, ColumnDate)
	}
	if colAttr == -1 {
		missing = append(missing, ColumnAttribute)
	}
	if colValue == -1 {
		missing = append(missing, ColumnValue)
	}
	if len(missing) > 0 {
		return nil, &LoadError{
			Source: source,
			Line:   1,
			Column: strings.Join(missing, ","),
			Err:    fmt.Errorf("%w; got headers=%v", ErrMissingColumn, header),
		}
	}

	obs := make([]Observation, 0, len(records)-1)
	for i := 1; i < len(records); i++ {
		row := records[i]
		if isBlank(row) {
			continue
		}
		line := i + 1

		date, err := ParseDayFirst(safeGet(row, colDate))
		if err != nil {
			return nil, &LoadError{Source: source, Line: line, Column: ColumnDate, Err: err}
		}
		raw := strings.TrimSpace(safeGet(row, colValue))
		value, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, &LoadError{Source: source, Line: line, Column: ColumnValue, Err: fmt.Errorf("%w: %q", ErrInvalidValue, raw)}
		}
		obs = append(obs, Observation{
			Date:     date,
			Category: strings.TrimSpace(safeGet(row, colAttr)),
			Value:    value,
		})
	}
	return NewDataset(obs), nil
}

func indexOf(header []string, name string) int {
	for i, h := range header {
		// Excel exports often carry a BOM on the first header.
		h = strings.TrimPrefix(strings.TrimSpace(h), "\ufeff")
		if strings.EqualFold(h, name) {
			return i
		}
	}
	return -1
}

func safeGet(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return row[i]
}

func isBlank(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
