package csvfile

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"os"

	"cpidash/internal/core"
	"cpidash/internal/sources"
)

var _ sources.DatasetSource = (*Source)(nil)

// Source reads the dataset from a delimited text file with a header row
// containing Date, Attribute and Value.
type Source struct {
	Path string
}

func New(path string) *Source {
	return &Source{Path: path}
}

func (s *Source) Describe() string { return "csv:" + s.Path }

// Load opens and parses the file. Any failure is reported as a *core.LoadError.
func (s *Source) Load(ctx context.Context) (*core.Dataset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, &core.LoadError{Source: s.Path, Err: err}
	}
	defer f.Close()
	return Parse(s.Path, f)
}

// Parse reads CSV records from r. name is used in error messages only.
func Parse(name string, r io.Reader) (*core.Dataset, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	records, err := cr.ReadAll()
	if err != nil {
		le := &core.LoadError{Source: name, Err: err}
		var pe *csv.ParseError
		if errors.As(err, &pe) {
			le.Line = pe.StartLine
		}
		return nil, le
	}
	return core.ParseTable(name, records)
}
