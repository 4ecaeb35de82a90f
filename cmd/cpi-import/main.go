// Command cpi-import copies a CPI CSV file into the SQLite database used
// by DATA_SOURCE=sqlite. It replaces the stored observations in one
// transaction and must run while the server is stopped.
package main

import (
	"context"
	"flag"
	"os"
	"time"

	"cpidash/internal/cli"
	"cpidash/internal/config"
	applog "cpidash/internal/log"
	"cpidash/internal/sources/csvfile"
	"cpidash/internal/storage"
)

func main() {
	logger := cli.SetupLogger("cpi-import")
	if err := cli.LoadEnvFile(); err != nil {
		logger.Warn("Ignoring .env file", applog.FieldError, err)
	}
	cfg := config.Load()

	csvPath := flag.String("csv", cfg.DatasetPath, "CPI CSV file to import")
	dbPath := flag.String("db", cfg.SQLiteDBPath, "SQLite database to write")
	flag.Parse()

	ctx, cancel := cli.SignalContext(logger)
	defer cancel()

	src := csvfile.New(*csvPath)
	ds, err := src.Load(ctx)
	if err != nil {
		logger.Error("Failed to load CSV",
			applog.FieldError, err,
			applog.FieldErrorType, applog.ErrorTypeLoad,
			"path", *csvPath)
		os.Exit(1)
	}

	repo := cli.InitSQLite(logger, *dbPath)
	defer repo.Close()

	importCtx, importCancel := context.WithTimeout(ctx, 5*time.Minute)
	defer importCancel()

	if at, rows, err := repo.LastImport(importCtx); err != nil {
		logger.Warn("Could not read import history", applog.FieldError, err)
	} else if !at.IsZero() {
		logger.Info("Replacing previous import", "imported_at", at, "rows", rows)
	}

	start := time.Now()
	n, err := repo.ImportDataset(importCtx, src.Describe(), ds)
	if err != nil {
		logger.Error("Import failed",
			applog.FieldError, err,
			applog.FieldErrorType, applog.ErrorTypeDatabase,
			applog.FieldOperation, applog.OpImport)
		repo.Close()
		os.Exit(1)
	}

	version, dirty, err := storage.SchemaVersion(*dbPath)
	if err != nil {
		logger.Warn("Could not read schema version", applog.FieldError, err)
	}
	sum := ds.Summary()
	logger.Info("Import completed",
		"rows", n,
		"categories", sum.Categories,
		"source", *csvPath,
		"db", *dbPath,
		"schema_version", version,
		"schema_dirty", dirty,
		applog.FieldDuration, time.Since(start).Milliseconds())
}
