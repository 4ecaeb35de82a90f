package backend

import (
	"context"
	"slices"

	"cpidash/internal/services"
	"cpidash/internal/sources"
)

// CleanupFunc releases resources held by a source or publisher.
type CleanupFunc func() error

// Result is what the server needs at startup: where the dataset comes from
// and, optionally, where usage events go.
type Result struct {
	Source    sources.DatasetSource
	Publisher services.EventPublisher
	Cleanup   CleanupFunc
}

// Factory creates dataset sources based on configuration
type Factory interface {
	Create(ctx context.Context, config Config) (*Result, error)
}

// Config holds configuration for source creation
type Config struct {
	Type SourceType

	// csv
	DatasetPath string

	// sqlite
	SQLiteDBPath string

	// sheets
	GoogleSpreadsheetID string
	GoogleSheetRange    string

	// optional event publishing
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string
}

// SourceType names where the dataset is read from.
type SourceType string

const (
	CSVSource    SourceType = "csv"
	SheetsSource SourceType = "sheets"
	SQLiteSource SourceType = "sqlite"
)

func (t SourceType) String() string {
	return string(t)
}

// IsValid returns true if the source type is known
func (t SourceType) IsValid() bool {
	return slices.Contains(SourceTypes(), t)
}
