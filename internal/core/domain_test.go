package core

import (
	"errors"
	"testing"
	"time"
)

func TestParseDayFirst(t *testing.T) {
	cases := []struct {
		in   string
		want time.Time
		ok   bool
	}{
		{"03/04/2020", NewDate(2020, 4, 3), true},
		{"3/4/2020", NewDate(2020, 4, 3), true},
		{"31/12/1999", NewDate(1999, 12, 31), true},
		{"01-06-1948", NewDate(1948, 6, 1), true},
		{"1-Jun-1948", NewDate(1948, 6, 1), true},
		{"2019-01-01", NewDate(2019, 1, 1), true},
		{"2019-01-01T00:00:00", NewDate(2019, 1, 1), true},
		{" 15/03/2021 ", NewDate(2021, 3, 15), true},
		{"12/31/2020", time.Time{}, false}, // month-first is not accepted
		{"", time.Time{}, false},
		{"yesterday", time.Time{}, false},
	}
	for _, tc := range cases {
		got, err := ParseDayFirst(tc.in)
		if tc.ok {
			if err != nil {
				t.Fatalf("ParseDayFirst(%q) unexpected error: %v", tc.in, err)
			}
			if !got.Equal(tc.want) {
				t.Fatalf("ParseDayFirst(%q) = %v, want %v", tc.in, got, tc.want)
			}
			continue
		}
		if err == nil {
			t.Fatalf("ParseDayFirst(%q) expected error, got %v", tc.in, got)
		}
		if !errors.Is(err, ErrInvalidDate) {
			t.Fatalf("ParseDayFirst(%q) error %v does not wrap ErrInvalidDate", tc.in, err)
		}
	}
}

func TestSelectionContainsIsInclusive(t *testing.T) {
	sel := Selection{Start: NewDate(2020, 1, 1), End: NewDate(2020, 12, 31)}
	if !sel.Contains(NewDate(2020, 1, 1)) || !sel.Contains(NewDate(2020, 12, 31)) {
		t.Fatalf("boundary dates must be included")
	}
	if sel.Contains(NewDate(2019, 12, 31)) || sel.Contains(NewDate(2021, 1, 1)) {
		t.Fatalf("dates outside the range must be excluded")
	}
}

func TestErrorTypes(t *testing.T) {
	le := &LoadError{Source: "cpi.csv", Line: 3, Column: "Date", Err: ErrInvalidDate}
	wrapped := errors.Join(errors.New("startup"), le)
	if !IsLoadError(wrapped) {
		t.Fatalf("expected IsLoadError on wrapped error")
	}
	if !errors.Is(wrapped, ErrInvalidDate) {
		t.Fatalf("expected LoadError to unwrap to ErrInvalidDate")
	}
	if got := le.Error(); got != `load dataset cpi.csv line 3 column "Date": invalid date` {
		t.Fatalf("unexpected message: %s", got)
	}

	ve := &ValidationError{Field: "start_date", Value: "nope", Err: ErrInvalidDate}
	if !IsValidationError(ve) || IsLoadError(ve) {
		t.Fatalf("validation error misclassified")
	}
}
