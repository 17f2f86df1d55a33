// Package coordinator fans per-site crawl jobs out in bounded batches and
// aggregates their results. Each stage is an explicit value-returning call
// (fetch, parse, enrich, upsert); no shared crawl state travels through the
// pipeline by reference.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"pricewatch/packages/domain"
	"pricewatch/packages/identity"
	"pricewatch/packages/imagery"
	"pricewatch/packages/metrics"
	"pricewatch/packages/parser"
	"pricewatch/packages/pricing"
	"pricewatch/packages/stock"
)

// ProductStore is the slice of the persistence layer the coordinator needs.
type ProductStore interface {
	Upsert(ctx context.Context, product domain.NormalizedProduct) (domain.UpsertResult, error)
}

// DocumentFetcher retrieves one document with retry handled below it.
type DocumentFetcher interface {
	Fetch(ctx context.Context, url, acceptLanguage string) (string, error)
}

type Options struct {
	Sites       []domain.SiteDescriptor
	Fetcher     DocumentFetcher
	Store       ProductStore
	Images      imagery.Pipeline
	Locker      SiteLocker
	Concurrency int
}

type Coordinator struct {
	sites       map[string]domain.SiteDescriptor
	order       []string
	registry    *parser.Registry
	classifier  *stock.Classifier
	fetcher     DocumentFetcher
	store       ProductStore
	images      imagery.Pipeline
	locker      SiteLocker
	concurrency int
	now         func() time.Time
}

func New(opts Options) *Coordinator {
	c := &Coordinator{
		sites:       make(map[string]domain.SiteDescriptor, len(opts.Sites)),
		registry:    parser.NewRegistry(),
		classifier:  stock.New(opts.Sites),
		fetcher:     opts.Fetcher,
		store:       opts.Store,
		images:      opts.Images,
		locker:      opts.Locker,
		concurrency: opts.Concurrency,
		now:         time.Now,
	}
	for _, s := range opts.Sites {
		c.sites[s.ID] = s
		c.order = append(c.order, s.ID)
	}
	if c.images == nil {
		c.images = imagery.Passthrough{}
	}
	if c.locker == nil {
		c.locker = NoopLocker{}
	}
	if c.concurrency < 1 {
		c.concurrency = 3
	}
	return c
}

// Registry exposes parser registration so bespoke site parsers can be bound
// at startup.
func (c *Coordinator) Registry() *parser.Registry {
	return c.registry
}

// Crawl runs one pass over the requested sites; an empty list means every
// configured site. Sites run in fixed-size concurrent batches, and every
// site settles independently: one failure becomes an error entry, never a
// reason to abandon the rest of the pass.
func (c *Coordinator) Crawl(ctx context.Context, siteIDs []string) domain.CrawlSummary {
	if len(siteIDs) == 0 {
		siteIDs = c.order
	}

	summary := domain.CrawlSummary{}

	jobs := make([]domain.SiteDescriptor, 0, len(siteIDs))
	for _, id := range siteIDs {
		site, ok := c.sites[id]
		if !ok {
			summary.Errors = append(summary.Errors, domain.SiteError{
				SiteID:  id,
				Message: "site is not configured",
				At:      c.now().UTC(),
			})
			continue
		}
		jobs = append(jobs, site)
	}

	for start := 0; start < len(jobs); start += c.concurrency {
		end := start + c.concurrency
		if end > len(jobs) {
			end = len(jobs)
		}
		batch := jobs[start:end]

		results := make([]domain.SiteResult, len(batch))
		errs := make([]*domain.SiteError, len(batch))

		g, gCtx := errgroup.WithContext(ctx)
		for i, site := range batch {
			i, site := i, site
			g.Go(func() error {
				res, err := c.crawlSite(gCtx, site)
				if err != nil {
					slog.Error("Site crawl failed", "site", site.ID, "error", err)
					metrics.SiteErrors.WithLabelValues(site.ID).Inc()
					errs[i] = &domain.SiteError{SiteID: site.ID, Message: err.Error(), At: c.now().UTC()}
					return nil
				}
				results[i] = res
				return nil
			})
		}
		_ = g.Wait()

		for i := range batch {
			if errs[i] != nil {
				summary.Errors = append(summary.Errors, *errs[i])
				continue
			}
			summary.SitesProcessed++
			summary.TotalProducts += results[i].Products
			summary.NewProducts += results[i].NewProducts
			summary.StockUpdates += results[i].StockUpdates
			summary.PriceUpdates += results[i].PriceUpdates
		}
	}

	return summary
}

func (c *Coordinator) crawlSite(ctx context.Context, site domain.SiteDescriptor) (domain.SiteResult, error) {
	start := c.now()
	defer func() {
		metrics.CrawlDuration.WithLabelValues(site.ID).Observe(time.Since(start).Seconds())
	}()

	res := domain.SiteResult{SiteID: site.ID}

	acquired, release := c.locker.Acquire(ctx, site.ID)
	if !acquired {
		return res, fmt.Errorf("catalog is locked by a concurrent crawl")
	}
	defer release()

	document, err := c.fetcher.Fetch(ctx, site.ListingURL, site.AcceptLanguage)
	if err != nil {
		return res, fmt.Errorf("fetch listing: %w", err)
	}

	extractions, err := c.registry.ForSite(site).Parse(site, document)
	if err != nil {
		return res, fmt.Errorf("parse listing: %w", err)
	}

	slog.Info("Parsed listing", "site", site.ID, "products", len(extractions))
	metrics.ProductsSeen.WithLabelValues(site.ID).Add(float64(len(extractions)))

	for _, raw := range extractions {
		product := c.enrich(ctx, site, raw)

		result, err := c.store.Upsert(ctx, product)
		if err != nil {
			// One broken product never spoils the pass for its siblings.
			slog.Error("Dropping product update", "site", site.ID, "product", product.ProductID, "error", err)
			res.Dropped++
			continue
		}

		res.Products++
		if result.IsNew {
			res.NewProducts++
		}
		if result.IsNew || result.StockChanged {
			res.StockUpdates++
			metrics.StockTransitions.WithLabelValues(site.ID).Inc()
		}
		if result.PriceChanged {
			res.PriceUpdates++
			metrics.PricePoints.WithLabelValues(site.ID).Inc()
		}
	}

	return res, nil
}

// enrich turns one raw extraction into the durable product record: price
// normalization and conversion, stock classification, identity derivation,
// image processing.
func (c *Coordinator) enrich(ctx context.Context, site domain.SiteDescriptor, raw domain.RawExtraction) domain.NormalizedProduct {
	product := domain.NormalizedProduct{
		SiteID:         site.ID,
		Name:           raw.Name,
		NormalizedName: parser.NormalizeName(raw.Name),
		PriceText:      raw.PriceText,
		DetailURL:      raw.DetailURL,
		Category:       site.Category,
	}

	if value, currency, ok := c.normalizePrice(site, raw.PriceText); ok {
		product.PriceValue = &value
		product.Currency = currency
	}
	if value, _, ok := c.normalizePrice(site, raw.OldPriceText); ok {
		product.OldPriceValue = &value
	}

	product.InStock = c.classifier.Classify(raw.StockText, stock.Signals{
		SoldOutClass: raw.HasSoldOutClass,
		BuyControl:   raw.HasBuyControl,
		PriceText:    raw.PriceText,
	}, site.ID)

	product.ProductID = identity.DeriveKey(raw.DetailURL, raw.Name, site.ID, raw.VariantID)

	product.ImageURL = raw.ImageURL
	if raw.ImageURL != "" {
		if publicURL, err := c.images.Store(ctx, raw.ImageURL, product.ProductID); err != nil {
			slog.Warn("Image pipeline failed, keeping raw URL", "product", product.ProductID, "error", err)
		} else if publicURL != "" {
			product.ImageURL = publicURL
		}
	}

	return product
}

func (c *Coordinator) normalizePrice(site domain.SiteDescriptor, priceText string) (float64, string, bool) {
	parsed, ok := pricing.ParseWithDefault(priceText, site.DefaultCurrency)
	if !ok {
		return 0, "", false
	}

	amount := pricing.AdjustMinorUnits(parsed.Amount, parsed.Currency, site.MinorUnitPrices)
	value := pricing.ToCanonical(amount, parsed.Currency, site.RateOverride)

	currency := pricing.CanonicalCurrency
	if site.RateOverride == 0 && !pricing.HasRate(parsed.Currency) {
		// Unconverted passthrough keeps its source currency.
		currency = parsed.Currency
	}
	return value, currency, true
}
