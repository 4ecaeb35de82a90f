package storage

import (
	"context"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"cpidash/internal/core"
)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "db", "cpi.db"))
	if err != nil {
		t.Fatalf("NewSQLiteRepository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func sampleDataset() *core.Dataset {
	return core.NewDataset([]core.Observation{
		{Date: core.NewDate(2021, 1, 1), Category: "Health", Value: 108},
		{Date: core.NewDate(2019, 1, 1), Category: "Health", Value: 100.25},
		{Date: core.NewDate(2020, 1, 1), Category: "Food", Value: 98.5},
	})
}

func TestImportAndLoadPreservesOrder(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	n, err := repo.ImportDataset(ctx, "test.csv", sampleDataset())
	if err != nil {
		t.Fatalf("ImportDataset: %v", err)
	}
	if n != 3 {
		t.Fatalf("imported %d rows, want 3", n)
	}

	ds, err := repo.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	var got []core.Observation
	for _, o := range ds.Rows().All() {
		got = append(got, o)
	}
	var want []core.Observation
	for _, o := range sampleDataset().Rows().All() {
		want = append(want, o)
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("loaded %+v, want %+v", got, want)
	}

	at, count, err := repo.LastImport(ctx)
	if err != nil || count != 3 || at.IsZero() {
		t.Fatalf("LastImport = %v, %d, %v", at, count, err)
	}
}

func TestImportReplacesPreviousData(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	if _, err := repo.ImportDataset(ctx, "a.csv", sampleDataset()); err != nil {
		t.Fatal(err)
	}
	small := core.NewDataset([]core.Observation{{Date: core.NewDate(2022, 1, 1), Category: "Transport", Value: 1}})
	if _, err := repo.ImportDataset(ctx, "b.csv", small); err != nil {
		t.Fatal(err)
	}
	ds, err := repo.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if ds.Len() != 1 || !ds.HasCategory("Transport") {
		t.Fatalf("import should replace existing rows, got %d rows %v", ds.Len(), ds.Categories())
	}
}

func TestLoadEmptyIsLoadError(t *testing.T) {
	repo := newTestRepo(t)
	if _, err := repo.Load(context.Background()); !core.IsLoadError(err) {
		t.Fatalf("expected LoadError, got %v", err)
	}
}

func TestRecordQueryEventIsIdempotent(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	rec := EventRecord{
		ID:         "evt-1",
		OccurredAt: now,
		Event: core.QueryEvent{
			Kind:        core.EventQuery,
			Categories:  []string{"Health", "Food"},
			Start:       core.NewDate(2019, 1, 1),
			End:         core.NewDate(2020, 1, 1),
			SeriesCount: 2,
			RowCount:    5,
		},
	}
	inserted, err := repo.RecordQueryEvent(ctx, rec)
	if err != nil || !inserted {
		t.Fatalf("first insert = %v, %v", inserted, err)
	}
	inserted, err = repo.RecordQueryEvent(ctx, rec)
	if err != nil || inserted {
		t.Fatalf("duplicate insert = %v, %v", inserted, err)
	}

	rec2 := rec
	rec2.ID = "evt-2"
	rec2.Event.Categories = []string{"Health"}
	rec2.Event.Kind = core.EventExport
	if _, err := repo.RecordQueryEvent(ctx, rec2); err != nil {
		t.Fatal(err)
	}

	usage, mark, err := repo.CategoryUsage(ctx, 0)
	if err != nil {
		t.Fatalf("CategoryUsage: %v", err)
	}
	want := []CategoryCount{{Category: "Health", Count: 2}, {Category: "Food", Count: 1}}
	if !reflect.DeepEqual(usage, want) {
		t.Fatalf("usage = %+v, want %+v", usage, want)
	}

	usage, next, err := repo.CategoryUsage(ctx, mark)
	if err != nil || len(usage) != 0 || next != mark {
		t.Fatalf("usage after mark = %+v, %d, %v", usage, next, err)
	}

	// Published long before the last count but stored after it.
	late := rec
	late.ID = "evt-late"
	late.OccurredAt = now.Add(-24 * time.Hour)
	late.Event.Categories = []string{"Food"}
	if _, err := repo.RecordQueryEvent(ctx, late); err != nil {
		t.Fatal(err)
	}
	usage, next, err = repo.CategoryUsage(ctx, mark)
	if err != nil {
		t.Fatalf("CategoryUsage: %v", err)
	}
	if !reflect.DeepEqual(usage, []CategoryCount{{Category: "Food", Count: 1}}) || next <= mark {
		t.Fatalf("late event usage = %+v, mark %d -> %d", usage, mark, next)
	}

	if n, err := repo.CountEvents(ctx, core.EventExport); err != nil || n != 1 {
		t.Fatalf("CountEvents = %d, %v", n, err)
	}
}

func TestSchemaVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cpi.db")
	repo, err := NewSQLiteRepository(path)
	if err != nil {
		t.Fatal(err)
	}
	defer repo.Close()

	v, dirty, err := SchemaVersion(path)
	if err != nil {
		t.Fatalf("SchemaVersion: %v", err)
	}
	if v != 1 || dirty {
		t.Fatalf("version = %d dirty=%v", v, dirty)
	}
}
