package google

import (
	"context"
	"errors"
	"testing"

	"cpidash/internal/core"
)

type fakeValues struct {
	rows [][]interface{}
	err  error
	rng  string
}

func (f *fakeValues) Get(_ context.Context, _, rng string) ([][]interface{}, error) {
	f.rng = rng
	return f.rows, f.err
}

func TestNewFromEnvMissingSpreadsheetID(t *testing.T) {
	t.Setenv("GOOGLE_SPREADSHEET_ID", "")
	_, err := NewFromEnv(context.Background())
	if err == nil || err.Error() != "missing GOOGLE_SPREADSHEET_ID" {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestNewMissingCredentials(t *testing.T) {
	t.Setenv("GOOGLE_SERVICE_ACCOUNT_JSON", "")
	t.Setenv("GOOGLE_SERVICE_ACCOUNT_FILE", "")
	t.Setenv("GOOGLE_APPLICATION_CREDENTIALS", "")
	if _, err := New(context.Background(), "sheet-id", ""); err == nil {
		t.Fatal("expected credentials error")
	}
}

func TestClientLoadDefaultsRange(t *testing.T) {
	fv := &fakeValues{rows: [][]interface{}{
		{"Date", "Attribute", "Value"},
		{"1/3/2019", "Health", "100"},
	}}
	c := newClient(fv, "id", "")
	ds, err := c.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if fv.rng != DefaultRange {
		t.Fatalf("range = %q, want %q", fv.rng, DefaultRange)
	}
	if ds.Len() != 1 {
		t.Fatalf("Len = %d", ds.Len())
	}
}

func TestClientLoadAPIError(t *testing.T) {
	c := newClient(&fakeValues{err: errors.New("quota exceeded")}, "id", "Data!A:C")
	_, err := c.Load(context.Background())
	if !core.IsLoadError(err) {
		t.Fatalf("expected LoadError, got %v", err)
	}
}
