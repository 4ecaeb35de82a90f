package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"cpidash/internal/backend"
	"cpidash/internal/cli"
	"cpidash/internal/core"
	apphttp "cpidash/internal/http"
	applog "cpidash/internal/log"
	"cpidash/internal/services"
)

func main() {
	logger := cli.SetupLogger("cpidash")
	if err := cli.LoadEnvFile(); err != nil {
		logger.Warn("Ignoring .env file", applog.FieldError, err)
	}
	cfg := cli.LoadAndValidateConfig(logger)

	ctx, cancel := cli.SignalContext(logger)
	defer cancel()

	bcfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", applog.FieldError, err)
		os.Exit(1)
	}
	res, err := backend.NewFactory(logger.Logger).Create(ctx, bcfg)
	if err != nil {
		logger.Error("Failed to initialize dataset source", applog.FieldError, err, applog.FieldDataSource, cfg.DataSource)
		os.Exit(1)
	}
	defer func() {
		if err := res.Cleanup(); err != nil {
			logger.Error("Cleanup failed", applog.FieldError, err)
		}
	}()

	// The dataset is read exactly once; a bad file stops the process here.
	loadCtx, loadCancel := context.WithTimeout(ctx, time.Minute)
	ds, err := res.Source.Load(loadCtx)
	loadCancel()
	if err != nil {
		errType := applog.ErrorTypeInternal
		if core.IsLoadError(err) {
			errType = applog.ErrorTypeLoad
		}
		logger.Error("Failed to load dataset",
			applog.FieldError, err,
			applog.FieldErrorType, errType,
			applog.FieldDataSource, cfg.DataSource)
		res.Cleanup()
		os.Exit(1)
	}
	sum := ds.Summary()
	logger.Info("Dataset loaded",
		applog.FieldDataSource, cfg.DataSource,
		"observations", sum.Observations,
		"categories", sum.Categories,
		"first", core.FormatDate(sum.First),
		"last", core.FormatDate(sum.Last))

	svc := services.NewQueryService(ds, res.Publisher)
	srv := apphttp.NewServer(":"+cfg.Port, svc, apphttp.Options{
		Title:              cfg.Title,
		DefaultCategories:  cfg.DefaultCategories,
		DefaultStart:       cfg.DefaultStartDate,
		DefaultEnd:         cfg.DefaultEndDate,
		Users:              cfg.Credentials(),
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		TrustedProxies:     cfg.TrustedProxies,
		Logger:             logger,
	})

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", applog.FieldError, err)
		}
	}()

	logger.Info("Starting cpidash server", "port", cfg.Port, applog.FieldDataSource, cfg.DataSource)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", applog.FieldError, err, "port", cfg.Port)
		cancel()
		res.Cleanup()
		os.Exit(1)
	}

	logger.Info("Server stopped gracefully")
}
