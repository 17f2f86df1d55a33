// Package config
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"pricewatch/packages/domain"
)

type Config struct {
	DatabaseURL      string
	SitesFile        string
	ListenAddr       string
	MetricsAddr      string
	CrawlInterval    time.Duration
	CrawlConcurrency int
	FetchTimeout     time.Duration
	FetchAttempts    int
	UserAgent        string
	ImagePipelineURL string

	// Reconciler settings: how often to sweep, and how long a product may go
	// unseen before it is flagged discontinued.
	ReconcileInterval time.Duration
	DiscontinueAfter  time.Duration

	// Logging configuration
	LogFile  string
	LogLevel string

	// Redis configuration for the per-site crawl locks; empty addr disables
	// locking entirely.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	Sites []domain.SiteDescriptor
}

func Load() (Config, error) {
	cfg := Config{}
	var missingVars []string

	cfg.DatabaseURL = getEnv("DATABASE_URL", "")
	if cfg.DatabaseURL == "" {
		missingVars = append(missingVars, "DATABASE_URL")
	}
	cfg.SitesFile = getEnv("SITES_FILE", "sites.yaml")
	if len(missingVars) > 0 {
		return cfg, fmt.Errorf("missing required environment variables: %s", strings.Join(missingVars, ", "))
	}

	cfg.ListenAddr = getEnv("LISTEN_ADDR", ":8080")
	cfg.MetricsAddr = getEnv("METRICS_ADDR", ":9091")

	var err error
	cfg.CrawlInterval, err = time.ParseDuration(getEnv("CRAWL_INTERVAL", "30m"))
	if err != nil {
		slog.Warn("Invalid CRAWL_INTERVAL", "value", getEnv("CRAWL_INTERVAL", "30m"), "error", err)
		cfg.CrawlInterval = 30 * time.Minute
	}
	cfg.CrawlConcurrency, _ = strconv.Atoi(getEnv("CRAWL_CONCURRENCY", "3"))
	if cfg.CrawlConcurrency < 1 {
		cfg.CrawlConcurrency = 3
	}
	cfg.FetchTimeout, _ = time.ParseDuration(getEnv("FETCH_TIMEOUT", "15s"))
	cfg.FetchAttempts, _ = strconv.Atoi(getEnv("FETCH_ATTEMPTS", "3"))
	cfg.UserAgent = getEnv("USER_AGENT", "")
	cfg.ImagePipelineURL = getEnv("IMAGE_PIPELINE_URL", "")

	cfg.ReconcileInterval, _ = time.ParseDuration(getEnv("RECONCILE_INTERVAL", "1h"))
	if cfg.ReconcileInterval <= 0 {
		cfg.ReconcileInterval = time.Hour
	}
	cfg.DiscontinueAfter, _ = time.ParseDuration(getEnv("DISCONTINUE_AFTER", "72h"))
	if cfg.DiscontinueAfter <= 0 {
		cfg.DiscontinueAfter = 72 * time.Hour
	}

	cfg.LogFile = getEnv("LOG_FILE", "logs/pricewatch.log")
	cfg.LogLevel = getEnv("LOG_LEVEL", "info")

	cfg.RedisAddr = getEnv("REDIS_ADDR", "")
	cfg.RedisPassword = getEnv("REDIS_PASSWORD", "")
	cfg.RedisDB, _ = strconv.Atoi(getEnv("REDIS_DB", "0"))

	cfg.Sites, err = LoadSites(cfg.SitesFile)
	if err != nil {
		return cfg, err
	}

	return cfg, nil
}

type sitesFile struct {
	Sites []domain.SiteDescriptor `yaml:"sites"`
}

// LoadSites reads and validates the site descriptor file. Descriptors are
// immutable data, loaded once at process start.
func LoadSites(path string) ([]domain.SiteDescriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sites file: %w", err)
	}

	var f sitesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse sites file: %w", err)
	}
	if err := validateSites(f.Sites); err != nil {
		return nil, fmt.Errorf("sites file %s: %w", path, err)
	}
	return f.Sites, nil
}

func validateSites(sites []domain.SiteDescriptor) error {
	if len(sites) == 0 {
		return fmt.Errorf("at least one site is required")
	}

	seen := make(map[string]struct{}, len(sites))
	for i, s := range sites {
		if s.ID == "" {
			return fmt.Errorf("site[%d]: id is required", i)
		}
		if _, dup := seen[s.ID]; dup {
			return fmt.Errorf("site[%d]: duplicate id %q", i, s.ID)
		}
		seen[s.ID] = struct{}{}

		if s.ListingURL == "" {
			return fmt.Errorf("site %s: listing_url is required", s.ID)
		}
		switch s.Parser {
		case domain.ParserGeneric:
			if s.ContainerSelector == "" {
				return fmt.Errorf("site %s: container_selector is required for the generic parser", s.ID)
			}
			if len(s.NameSelectors) == 0 {
				return fmt.Errorf("site %s: at least one name selector is required", s.ID)
			}
		case domain.ParserShopify:
			// The specialized parser needs no selectors.
		default:
			return fmt.Errorf("site %s: unknown parser kind %q", s.ID, s.Parser)
		}
		if s.RateOverride < 0 {
			return fmt.Errorf("site %s: rate_override must be non-negative", s.ID)
		}
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultVal
}
