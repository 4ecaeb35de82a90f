package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"cpidash/internal/core"
	"cpidash/internal/sources"

	_ "modernc.org/sqlite"
)

var _ sources.DatasetSource = (*SQLiteRepository)(nil)

// Event timestamps are stored as fixed-width UTC text so they compare lexically.
const timestampLayout = "2006-01-02T15:04:05Z"

// SQLiteRepository persists the imported CPI table and usage events.
type SQLiteRepository struct {
	db   *sql.DB
	path string
}

// EventRecord is a query event with its delivery identity.
type EventRecord struct {
	ID         string
	OccurredAt time.Time
	Event      core.QueryEvent
}

// CategoryCount is the number of recorded events that selected a category.
type CategoryCount struct {
	Category string
	Count    int64
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// modernc sqlite serialises writers; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db, path: dbPath}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

func (r *SQLiteRepository) Describe() string { return "sqlite:" + r.path }

// Ping checks the database connection.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// ImportDataset replaces the stored observations with ds in one
// transaction, preserving source order. It returns the number of rows written.
func (r *SQLiteRepository) ImportDataset(ctx context.Context, source string, ds *core.Dataset) (n int, err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin import: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, "DELETE FROM observations"); err != nil {
		return 0, fmt.Errorf("clear observations: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, "INSERT INTO observations (seq, date, attribute, value) VALUES (?, ?, ?, ?)")
	if err != nil {
		return 0, fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, o := range ds.Rows().All() {
		if _, err = stmt.ExecContext(ctx, i+1, core.FormatDate(o.Date), o.Category, o.Value); err != nil {
			return 0, fmt.Errorf("insert observation %d: %w", i+1, err)
		}
	}

	if _, err = tx.ExecContext(ctx, "INSERT INTO imports (source, row_count) VALUES (?, ?)", source, ds.Len()); err != nil {
		return 0, fmt.Errorf("record import: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit import: %w", err)
	}

	slog.InfoContext(ctx, "Dataset imported to SQLite",
		"source", source,
		"rows", ds.Len(),
		"db_path", r.path)
	return ds.Len(), nil
}

// Load implements sources.DatasetSource. An empty table is a load error:
// the dashboard never starts without data.
func (r *SQLiteRepository) Load(ctx context.Context) (*core.Dataset, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT seq, date, attribute, value FROM observations ORDER BY seq")
	if err != nil {
		return nil, &core.LoadError{Source: r.path, Err: err}
	}
	defer rows.Close()

	var obs []core.Observation
	for rows.Next() {
		var (
			seq   int
			date  string
			attr  string
			value float64
		)
		if err := rows.Scan(&seq, &date, &attr, &value); err != nil {
			return nil, &core.LoadError{Source: r.path, Err: err}
		}
		d, err := time.Parse(core.DateLayout, date)
		if err != nil {
			return nil, &core.LoadError{Source: r.path, Line: seq, Column: core.ColumnDate, Err: fmt.Errorf("%w: %q", core.ErrInvalidDate, date)}
		}
		obs = append(obs, core.Observation{Date: d, Category: attr, Value: value})
	}
	if err := rows.Err(); err != nil {
		return nil, &core.LoadError{Source: r.path, Err: err}
	}
	if len(obs) == 0 {
		return nil, &core.LoadError{Source: r.path, Err: errors.New("no observations imported; run cpi-import first")}
	}
	return core.NewDataset(obs), nil
}

// LastImport returns the time and row count of the most recent import.
func (r *SQLiteRepository) LastImport(ctx context.Context) (time.Time, int, error) {
	var (
		at    time.Time
		count int
	)
	err := r.db.QueryRowContext(ctx, "SELECT imported_at, row_count FROM imports ORDER BY id DESC LIMIT 1").Scan(&at, &count)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, 0, nil
	}
	if err != nil {
		return time.Time{}, 0, fmt.Errorf("get last import: %w", err)
	}
	return at, count, nil
}

// RecordQueryEvent stores an event. Redelivered events with a known ID
// are ignored, so it reports whether a new row was written.
func (r *SQLiteRepository) RecordQueryEvent(ctx context.Context, rec EventRecord) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin record event: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO query_events
		(id, kind, start_date, end_date, series_count, row_count, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Event.Kind,
		core.FormatDate(rec.Event.Start), core.FormatDate(rec.Event.End),
		rec.Event.SeriesCount, rec.Event.RowCount,
		rec.OccurredAt.UTC().Format(timestampLayout))
	if err != nil {
		return false, fmt.Errorf("insert query event: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		slog.DebugContext(ctx, "Duplicate query event ignored", "event_id", rec.ID)
		return false, nil
	}

	for i, c := range rec.Event.Categories {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO query_event_categories (event_id, position, category) VALUES (?, ?, ?)",
			rec.ID, i, c); err != nil {
			return false, fmt.Errorf("insert event category: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit record event: %w", err)
	}
	return true, nil
}

// CategoryUsage counts events per category among those stored after the
// afterSeq mark, most used first, and returns the mark to pass next time.
// Events are ordered by insertion, so an event is counted exactly once no
// matter when it was published.
func (r *SQLiteRepository) CategoryUsage(ctx context.Context, afterSeq int64) ([]CategoryCount, int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, afterSeq, fmt.Errorf("begin category usage: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var hi int64
	if err := tx.QueryRowContext(ctx, "SELECT COALESCE(MAX(rowid), 0) FROM query_events").Scan(&hi); err != nil {
		return nil, afterSeq, fmt.Errorf("read event sequence: %w", err)
	}
	out := []CategoryCount{}
	if hi <= afterSeq {
		return out, afterSeq, nil
	}

	rows, err := tx.QueryContext(ctx, `SELECT c.category, COUNT(*) AS n
		FROM query_event_categories c
		JOIN query_events e ON e.id = c.event_id
		WHERE e.rowid > ? AND e.rowid <= ?
		GROUP BY c.category
		ORDER BY n DESC, c.category ASC`, afterSeq, hi)
	if err != nil {
		return nil, afterSeq, fmt.Errorf("query category usage: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var cc CategoryCount
		if err := rows.Scan(&cc.Category, &cc.Count); err != nil {
			return nil, afterSeq, fmt.Errorf("scan category usage: %w", err)
		}
		out = append(out, cc)
	}
	if err := rows.Err(); err != nil {
		return nil, afterSeq, err
	}
	return out, hi, nil
}

// CountEvents returns the number of stored events of the given kind.
func (r *SQLiteRepository) CountEvents(ctx context.Context, kind string) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM query_events WHERE kind = ?", kind).Scan(&n); err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return n, nil
}
