// Command cpi-worker consumes query events from AMQP, stores them in SQLite
// and periodically logs per-category usage.
package main

import (
	"context"
	"errors"
	"os"

	"golang.org/x/sync/errgroup"

	"cpidash/internal/amqp"
	"cpidash/internal/cli"
	"cpidash/internal/core"
	applog "cpidash/internal/log"
	"cpidash/internal/worker"
)

func main() {
	logger := cli.SetupLogger("cpi-worker")
	if err := cli.LoadEnvFile(); err != nil {
		logger.Warn("Ignoring .env file", applog.FieldError, err)
	}
	logger.Info("Starting cpi-worker")

	cfg := cli.LoadAndValidateConfig(logger)
	if cfg.AMQPURL == "" {
		logger.Error("AMQP_URL is required for the worker")
		os.Exit(1)
	}

	repo := cli.InitSQLite(logger, cfg.SQLiteDBPath)
	defer repo.Close()

	client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", applog.FieldError, err)
		repo.Close()
		os.Exit(1)
	}
	defer client.Close()

	ctx, cancel := cli.SignalContext(logger)
	defer cancel()

	w := worker.NewEventWorker(repo, cfg.EventFlushInterval)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return client.ConsumeQueryEvents(gctx, w.HandleQueryEvent)
	})
	g.Go(func() error {
		return w.Run(gctx)
	})

	logger.Info("Worker running",
		"exchange", cfg.AMQPExchange,
		"queue", cfg.AMQPQueue,
		"flush_interval", cfg.EventFlushInterval.String())

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Worker stopped with error", applog.FieldError, err)
		cancel()
		client.Close()
		repo.Close()
		os.Exit(1)
	}

	queries, qerr := repo.CountEvents(context.Background(), core.EventQuery)
	exports, eerr := repo.CountEvents(context.Background(), core.EventExport)
	if err := errors.Join(qerr, eerr); err != nil {
		logger.Warn("Could not count stored events", applog.FieldError, err)
	}
	logger.Info("Worker stopped", "stored_queries", queries, "stored_exports", exports)
}
