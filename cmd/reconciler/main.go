package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"pricewatch/packages/config"
	"pricewatch/packages/metrics"
	"pricewatch/packages/store"
)

func setupLogger(cfg config.Config) {
	var level slog.Level
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	logDir := filepath.Dir(cfg.LogFile)
	if err := os.MkdirAll(logDir, 0750); err != nil {
		slog.New(slog.NewJSONHandler(os.Stderr, nil)).Error(
			"Failed to create log directory", "path", logDir, "error", err,
		)
	}

	logRotator := &lumberjack.Logger{
		Filename:   cfg.LogFile,
		MaxSize:    5,
		MaxBackups: 3,
		MaxAge:     30,
		Compress:   true,
	}

	multiWriter := io.MultiWriter(os.Stdout, logRotator)

	handler := slog.NewJSONHandler(multiWriter, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				a.Value = slog.StringValue(a.Value.Time().Format(time.RFC3339Nano))
			}
			return a
		},
	}).WithAttrs([]slog.Attr{slog.String("service", "pricewatch-reconciler")})

	logger := slog.New(handler)
	slog.SetDefault(logger)
}

func reconcile(ctx context.Context, storage *store.Store, cutoff time.Duration) {
	flagged, err := storage.MarkDiscontinued(ctx, cutoff)
	if err != nil {
		slog.Error("Failed to flag discontinued products", "error", err)
		return
	}
	if flagged > 0 {
		slog.Info("Flagged discontinued products", "count", flagged, "unseen_for", cutoff.String())
	}

	active, err := storage.CountActive(ctx)
	if err != nil {
		slog.Error("Failed to count active products", "error", err)
		return
	}
	metrics.ProductsTracked.Set(float64(active))
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stderr, nil)).Error("FATAL: Failed to load configuration", "error", err)
		os.Exit(1)
	}
	setupLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("--- Starting PriceWatch Reconciler ---",
		"interval", cfg.ReconcileInterval.String(),
		"discontinue_after", cfg.DiscontinueAfter.String(),
	)

	go metrics.ExposeMetrics("0.0.0.0:9092")

	storage, err := store.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer storage.Close()

	ticker := time.NewTicker(cfg.ReconcileInterval)
	defer ticker.Stop()

	reconcile(ctx, storage, cfg.DiscontinueAfter)

	for {
		select {
		case <-ctx.Done():
			slog.Info("Shutdown signal received. Exiting...")
			return
		case <-ticker.C:
			reconcile(ctx, storage, cfg.DiscontinueAfter)
		}
	}
}
