package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"gopkg.in/natefinch/lumberjack.v2"

	"pricewatch/packages/config"
	"pricewatch/packages/coordinator"
	"pricewatch/packages/fetch"
	"pricewatch/packages/imagery"
	"pricewatch/packages/metrics"
	"pricewatch/packages/store"
	"pricewatch/packages/trigger"
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
	}).WithAttrs([]slog.Attr{slog.String("service", "pricewatch")})

	logger := slog.New(handler)
	slog.SetDefault(logger)
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

	slog.Info("--- Starting PriceWatch Crawler ---", "sites", len(cfg.Sites))

	go metrics.ExposeMetrics(cfg.MetricsAddr)

	storage, err := store.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer storage.Close()

	var locker coordinator.SiteLocker = coordinator.NoopLocker{}
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer redisClient.Close()
		locker = coordinator.NewRedisLocker(redisClient, cfg.CrawlInterval)
		slog.Info("Redis site locking enabled", "addr", cfg.RedisAddr)
	}

	var images imagery.Pipeline = imagery.Passthrough{}
	if cfg.ImagePipelineURL != "" {
		images = imagery.NewClient(cfg.ImagePipelineURL, cfg.FetchTimeout)
		slog.Info("Image pipeline enabled", "endpoint", cfg.ImagePipelineURL)
	}

	fetcher := fetch.New(fetch.Options{
		Timeout:     cfg.FetchTimeout,
		MaxAttempts: cfg.FetchAttempts,
		UserAgent:   cfg.UserAgent,
	})

	coord := coordinator.New(coordinator.Options{
		Sites:       cfg.Sites,
		Fetcher:     fetcher,
		Store:       storage,
		Images:      images,
		Locker:      locker,
		Concurrency: cfg.CrawlConcurrency,
	})

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: trigger.NewHandler(coord).Mux(),
	}
	go func() {
		slog.Info("HTTP server listening", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server failed", "error", err)
			stop()
		}
	}()

	// Scheduled passes run alongside on-demand triggers; the per-site locks
	// keep overlapping runs off the same catalog.
	ticker := time.NewTicker(cfg.CrawlInterval)
	defer ticker.Stop()
	slog.Info("Scheduled crawl enabled", "interval", cfg.CrawlInterval.String())

	for {
		select {
		case <-ctx.Done():
			slog.Info("Shutdown signal received. Exiting...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				slog.Error("HTTP server shutdown failed", "error", err)
			}
			return
		case <-ticker.C:
			summary := coord.Crawl(ctx, nil)
			slog.Info("Scheduled crawl finished",
				"sites", summary.SitesProcessed,
				"products", summary.TotalProducts,
				"new", summary.NewProducts,
				"stockUpdates", summary.StockUpdates,
				"priceUpdates", summary.PriceUpdates,
				"errors", len(summary.Errors))
		}
	}
}
