package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"cpidash/internal/amqp"
	"cpidash/internal/sources"
	"cpidash/internal/sources/csvfile"
	"cpidash/internal/sources/google"
	"cpidash/internal/storage"
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *slog.Logger
}

// NewFactory creates a new source factory
func NewFactory(logger *slog.Logger) Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return &DefaultFactory{logger: logger}
}

// Create builds the configured dataset source and, when AMQP is
// configured, an event publisher. A broker that cannot be reached at
// startup disables publishing instead of failing.
func (f *DefaultFactory) Create(ctx context.Context, config Config) (*Result, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	var (
		src     sources.DatasetSource
		cleanup []CleanupFunc
	)

	switch config.Type {
	case CSVSource:
		src = csvfile.New(config.DatasetPath)
	case SQLiteSource:
		repo, err := storage.NewSQLiteRepository(config.SQLiteDBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize SQLite repository: %w", err)
		}
		src = repo
		cleanup = append(cleanup, repo.Close)
		if at, rows, err := repo.LastImport(ctx); err != nil {
			f.logger.Warn("Could not read import history", "error", err)
		} else if at.IsZero() {
			f.logger.Warn("SQLite database has no imports yet", "db", config.SQLiteDBPath)
		} else {
			f.logger.Info("Using imported dataset", "imported_at", at, "rows", rows)
		}
	case SheetsSource:
		cli, err := google.New(ctx, config.GoogleSpreadsheetID, config.GoogleSheetRange)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Google Sheets client: %w", err)
		}
		src = cli
	default:
		return nil, fmt.Errorf("unsupported source type: %s", config.Type)
	}

	res := &Result{Source: src}

	if config.AMQPURL != "" {
		client, err := amqp.NewClient(config.AMQPURL, config.AMQPExchange, config.AMQPQueue)
		if err != nil {
			f.logger.Warn("Failed to initialize AMQP client, continuing without query events", "error", err)
		} else {
			f.logger.Info("Initialized AMQP client",
				"exchange", config.AMQPExchange,
				"queue", config.AMQPQueue)
			res.Publisher = client
			cleanup = append(cleanup, client.Close)
		}
	}

	if d, ok := src.(sources.Describer); ok {
		f.logger.Info("Initialized dataset source",
			"source", d.Describe(),
			"events_enabled", res.Publisher != nil)
	}

	res.Cleanup = func() error {
		var errs []error
		for i := len(cleanup) - 1; i >= 0; i-- {
			if err := cleanup[i](); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}
	return res, nil
}
