// Package domain
package domain

import "time"

// ParserKind selects the extraction strategy for a site.
type ParserKind string

const (
	ParserGeneric ParserKind = "generic"
	ParserShopify ParserKind = "shopify"
)

// SiteDescriptor is the static per-site configuration loaded once at startup.
// Selector fields hold ordered fallback lists; the first selector yielding a
// non-empty result wins.
type SiteDescriptor struct {
	ID         string     `yaml:"id"`
	Name       string     `yaml:"name"`
	BaseURL    string     `yaml:"base_url"`
	ListingURL string     `yaml:"listing_url"`
	Parser     ParserKind `yaml:"parser"`
	Category   string     `yaml:"category"`

	ContainerSelector string   `yaml:"container_selector"`
	NameSelectors     []string `yaml:"name_selectors"`
	PriceSelectors    []string `yaml:"price_selectors"`
	OldPriceSelectors []string `yaml:"old_price_selectors"`
	LinkSelectors     []string `yaml:"link_selectors"`
	ImageSelectors    []string `yaml:"image_selectors"`
	StockSelectors    []string `yaml:"stock_selectors"`

	// Localized availability markers. Empty lists fall back to the built-in
	// per-language tables selected by detected document language.
	OutOfStockMarkers []string `yaml:"out_of_stock_markers"`
	InStockMarkers    []string `yaml:"in_stock_markers"`

	// Currency assumed when a price carries no recognizable currency mark.
	DefaultCurrency string `yaml:"default_currency"`
	// Fixed conversion rate override into the canonical currency; 0 means
	// use the global rate table.
	RateOverride float64 `yaml:"rate_override"`
	// Prices on this site arrive pre-multiplied into minor units (e.g. a
	// yen amount times 100) and must be divided back down.
	MinorUnitPrices bool `yaml:"minor_unit_prices"`

	AcceptLanguage string `yaml:"accept_language"`
}

// RawExtraction is one scraped product or variant, straight out of a parser.
// It is transient: enrichment consumes it and it is never persisted.
type RawExtraction struct {
	Name         string
	DetailURL    string
	PriceText    string
	OldPriceText string
	StockText    string
	// True when the source exposes an explicit enabled purchase control.
	HasBuyControl bool
	// True when the source marks the element with an out-of-stock class.
	HasSoldOutClass bool
	ImageURL        string
	VariantID       string
}

// NormalizedProduct is the durable entity, one row per product variant.
type NormalizedProduct struct {
	ProductID      string    `json:"product_id"`
	SiteID         string    `json:"site_id"`
	Name           string    `json:"name"`
	NormalizedName string    `json:"normalized_name"`
	PriceText      string    `json:"price_text"`
	PriceValue     *float64  `json:"price_value"`
	Currency       string    `json:"currency"`
	OldPriceValue  *float64  `json:"old_price_value,omitempty"`
	DetailURL      string    `json:"detail_url"`
	ImageURL       string    `json:"image_url"`
	InStock        bool      `json:"in_stock"`
	Category       string    `json:"category"`
	Discontinued   bool      `json:"discontinued"`
	FirstSeen      time.Time `json:"first_seen"`
	LastChecked    time.Time `json:"last_checked"`
	LastUpdated    time.Time `json:"last_updated"`
}

// StockHistoryEntry is append-only; Previous is nil for the first sighting.
type StockHistoryEntry struct {
	ProductID string    `json:"product_id"`
	Previous  *bool     `json:"previous"`
	Current   bool      `json:"current"`
	At        time.Time `json:"at"`
}

// PriceHistoryEntry is append-only. Entries are written on price changes and
// periodically even without one, so the series stays chartable.
type PriceHistoryEntry struct {
	ProductID string    `json:"product_id"`
	Price     float64   `json:"price"`
	Currency  string    `json:"currency"`
	InStock   bool      `json:"in_stock"`
	At        time.Time `json:"at"`
}

// UpsertResult reports what changed for one product key during a pass.
type UpsertResult struct {
	IsNew        bool
	StockChanged bool
	PriceChanged bool
}

// SiteError records one site's failure inside an otherwise successful pass.
type SiteError struct {
	SiteID  string    `json:"site"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// SiteResult aggregates one site's contribution to a crawl pass.
type SiteResult struct {
	SiteID       string
	Products     int
	NewProducts  int
	StockUpdates int
	PriceUpdates int
	Dropped      int
}

// CrawlSummary is the aggregate of one full crawl pass.
type CrawlSummary struct {
	TotalProducts  int         `json:"totalProducts"`
	NewProducts    int         `json:"newProducts"`
	StockUpdates   int         `json:"stockUpdates"`
	PriceUpdates   int         `json:"priceUpdates"`
	SitesProcessed int         `json:"sitesProcessed"`
	Errors         []SiteError `json:"errors,omitempty"`
}

// TriggerRequest is the inbound crawl trigger. An empty Sites list means
// every configured site.
type TriggerRequest struct {
	RequestID   string   `json:"requestId"`
	TriggerType string   `json:"triggerType"`
	Sites       []string `json:"sites"`
	UserID      string   `json:"userId"`
}

// TriggerResponse reports counts and per-site errors; partial completion is
// visible rather than collapsed into Success.
type TriggerResponse struct {
	Success    bool          `json:"success"`
	JobID      string        `json:"jobId,omitempty"`
	RequestID  string        `json:"requestId"`
	DurationMs int64         `json:"duration"`
	Results    *CrawlSummary `json:"results,omitempty"`
	Error      string        `json:"error,omitempty"`
	Details    string        `json:"details,omitempty"`
}
