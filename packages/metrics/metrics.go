// Package metrics
package metrics

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	DBQueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "Duration of database queries in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"query_name"},
	)
	CrawlDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pricewatch_site_crawl_duration_seconds",
			Help:    "Duration of one site's crawl pass in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"site"},
	)
	ProductsSeen = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricewatch_products_seen_total",
			Help: "Products extracted per site across all crawl passes.",
		},
		[]string{"site"},
	)
	StockTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricewatch_stock_transitions_total",
			Help: "Stock history entries written, labeled by site.",
		},
		[]string{"site"},
	)
	PricePoints = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricewatch_price_points_total",
			Help: "Price history entries written, labeled by site.",
		},
		[]string{"site"},
	)
	SiteErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricewatch_site_errors_total",
			Help: "Site-level crawl failures, labeled by site.",
		},
		[]string{"site"},
	)
	ProductsTracked = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pricewatch_products_tracked",
			Help: "Active (non-discontinued) products in the store.",
		},
	)
)

func init() {
	prometheus.MustRegister(DBQueryDuration)
	prometheus.MustRegister(CrawlDuration)
	prometheus.MustRegister(ProductsSeen)
	prometheus.MustRegister(StockTransitions)
	prometheus.MustRegister(PricePoints)
	prometheus.MustRegister(SiteErrors)
	prometheus.MustRegister(ProductsTracked)
}

func ExposeMetrics(addr string) {
	slog.Info("Exposing Prometheus metrics", "address", addr)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil {
		slog.Error("Failed to start Prometheus metrics server", "error", err)
	}
}
