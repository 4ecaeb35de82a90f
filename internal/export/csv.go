package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"cpidash/internal/core"
)

// Header is the first record of every export.
var Header = []string{core.ColumnDate, core.ColumnAttribute, core.ColumnValue}

// WriteCSV writes rows with a Date,Attribute,Value header. Values use the
// shortest decimal form that parses back to the same float64.
func WriteCSV(w io.Writer, rows []core.TableRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for i, r := range rows {
		rec := []string{r.Date, r.Category, strconv.FormatFloat(r.Value, 'f', -1, 64)}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("write row %d: %w", i+1, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadCSV parses an export produced by WriteCSV.
func ReadCSV(r io.Reader) ([]core.TableRow, error) {
	cr := csv.NewReader(r)
	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read export: %w", err)
	}
	if len(records) == 0 {
		return nil, core.ErrEmptyDataset
	}
	for i, h := range Header {
		if i >= len(records[0]) || !strings.EqualFold(records[0][i], h) {
			return nil, fmt.Errorf("%w: %s", core.ErrMissingColumn, h)
		}
	}

	rows := make([]core.TableRow, 0, len(records)-1)
	for i, rec := range records[1:] {
		if len(rec) < len(Header) {
			return nil, fmt.Errorf("row %d: expected %d fields, got %d", i+2, len(Header), len(rec))
		}
		v, err := strconv.ParseFloat(rec[2], 64)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+2, core.ErrInvalidValue)
		}
		rows = append(rows, core.TableRow{Date: rec[0], Category: rec[1], Value: v})
	}
	return rows, nil
}

// Filename builds the download name for a selection,
// e.g. "cpi_Health-Food_2019-01-01_2023-03-01.csv".
func Filename(sel core.Selection) string {
	cats := make([]string, 0, len(sel.Categories))
	seen := make(map[string]bool, len(sel.Categories))
	for _, c := range sel.Categories {
		if seen[c] {
			continue
		}
		seen[c] = true
		cats = append(cats, sanitize(c))
	}
	name := "cpi"
	if len(cats) > 0 {
		name += "_" + strings.Join(cats, "-")
	}
	return fmt.Sprintf("%s_%s_%s.csv", name, core.FormatDate(sel.Start), core.FormatDate(sel.End))
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			return r
		default:
			return '_'
		}
	}, s)
}
