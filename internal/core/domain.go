package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// DateLayout is the ISO calendar layout used for table rows, exports and requests.
const DateLayout = "2006-01-02"

type (
	// Observation is one row of the CPI dataset.
	Observation struct {
		Date     time.Time
		Category string // "Attribute" column
		Value    float64
	}

	// Selection is the per-request filter. End is inclusive.
	Selection struct {
		Categories []string
		Start      time.Time
		End        time.Time
	}

	// Point is a single (date, value) pair of a Series.
	Point struct {
		Date  time.Time `json:"date"`
		Value float64   `json:"value"`
	}

	// Series is one category's points, ascending by date.
	Series struct {
		Category string  `json:"category"`
		Points   []Point `json:"points"`
	}

	// TableRow is a flattened observation ready for display or export.
	TableRow struct {
		Date     string  `json:"Date"`
		Category string  `json:"Attribute"`
		Value    float64 `json:"Value"`
	}
)

var (
	ErrMissingColumn = errors.New("missing required column")
	ErrInvalidDate   = errors.New("invalid date")
	ErrInvalidValue  = errors.New("invalid value")
	ErrEmptyDataset  = errors.New("dataset has no header row")
)

// LoadError is returned when the dataset cannot be loaded. It is fatal for
// the process: the server never starts without a valid dataset.
type LoadError struct {
	Source string // file path, spreadsheet range or database path
	Line   int    // 1-based record number including the header, 0 if not row specific
	Column string
	Err    error
}

func (e *LoadError) Error() string {
	var b strings.Builder
	b.WriteString("load dataset")
	if e.Source != "" {
		b.WriteString(" " + e.Source)
	}
	if e.Line > 0 {
		fmt.Fprintf(&b, " line %d", e.Line)
	}
	if e.Column != "" {
		fmt.Fprintf(&b, " column %q", e.Column)
	}
	if e.Err != nil {
		b.WriteString(": " + e.Err.Error())
	}
	return b.String()
}

func (e *LoadError) Unwrap() error { return e.Err }

// ValidationError rejects a single query request.
type ValidationError struct {
	Field string
	Value string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %q: %v", e.Field, e.Value, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// IsLoadError reports whether err carries a LoadError.
func IsLoadError(err error) bool {
	var le *LoadError
	return errors.As(err, &le)
}

// IsValidationError reports whether err carries a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// MarshalJSON renders the point date as YYYY-MM-DD.
func (p Point) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Date  string  `json:"date"`
		Value float64 `json:"value"`
	}{Date: FormatDate(p.Date), Value: p.Value})
}

// Contains reports whether d falls inside the selection's inclusive range.
func (s Selection) Contains(d time.Time) bool {
	return !d.Before(s.Start) && !d.After(s.End)
}

// NewDate returns midnight UTC for the given calendar day.
func NewDate(year, month, day int) time.Time {
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
}

// FormatDate renders a date as YYYY-MM-DD.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// dayFirstLayouts are tried in order. Single-digit layout elements also
// accept two-digit input, so "3/4/2020" and "03/04/2020" share a layout.
var dayFirstLayouts = []string{
	"2/1/2006",
	"2-1-2006",
	"2.1.2006",
	"2/1/06",
	"2-Jan-2006",
	"2 Jan 2006",
	"2-Jan-06",
	"2006-1-2",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2/1/2006 15:04",
	"2/1/2006 15:04:05",
	"Jan-2006",
	"January 2006",
}

// ParseDayFirst parses a dataset date, reading ambiguous numeric dates as
// day/month/year. Year-first ISO dates are unambiguous and accepted as is.
func ParseDayFirst(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("%w: empty", ErrInvalidDate)
	}
	for _, layout := range dayFirstLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			y, m, d := t.Date()
			return NewDate(y, int(m), d), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q is not a day-first date", ErrInvalidDate, s)
}

// Query event kinds.
const (
	EventQuery  = "query"
	EventExport = "export"
)

// QueryEvent describes one executed query for usage telemetry.
type QueryEvent struct {
	Kind        string
	Categories  []string
	Start       time.Time
	End         time.Time
	SeriesCount int
	RowCount    int
}
