package coordinator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"testing"

	"pricewatch/packages/domain"
)

const listingHTML = `<html><body>
<div class="card">
  <h3>Sencha Uji</h3>
  <span class="price">€12,50</span>
  <a href="/products/sencha-uji">view</a>
  <button class="add-to-cart">Add to cart</button>
</div>
<div class="card">
  <h3>Gyokuro Premium</h3>
  <span class="price">€29,00</span>
  <a href="/products/gyokuro-premium">view</a>
  <button class="add-to-cart">Add to cart</button>
</div>
</body></html>`

type fakeFetcher struct {
	docs map[string]string
	errs map[string]error
}

func (f *fakeFetcher) Fetch(_ context.Context, url, _ string) (string, error) {
	if err, ok := f.errs[url]; ok {
		return "", err
	}
	return f.docs[url], nil
}

type fakeStore struct {
	mu      sync.Mutex
	upserts []domain.NormalizedProduct
	failFor string
}

func (s *fakeStore) Upsert(_ context.Context, p domain.NormalizedProduct) (domain.UpsertResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failFor != "" && strings.Contains(p.ProductID, s.failFor) {
		return domain.UpsertResult{}, errors.New("write refused")
	}
	s.upserts = append(s.upserts, p)
	return domain.UpsertResult{IsNew: true}, nil
}

func testSite(id string) domain.SiteDescriptor {
	return domain.SiteDescriptor{
		ID:                id,
		BaseURL:           "https://" + id + ".example",
		ListingURL:        "https://" + id + ".example/collections/all",
		Parser:            domain.ParserGeneric,
		Category:          "tea",
		ContainerSelector: "div.card",
		NameSelectors:     []string{"h3"},
		PriceSelectors:    []string{".price"},
		DefaultCurrency:   "EUR",
	}
}

func testFleet(n int) ([]domain.SiteDescriptor, *fakeFetcher) {
	sites := make([]domain.SiteDescriptor, 0, n)
	fetcher := &fakeFetcher{docs: map[string]string{}, errs: map[string]error{}}
	for i := 0; i < n; i++ {
		site := testSite(fmt.Sprintf("site%d", i))
		sites = append(sites, site)
		fetcher.docs[site.ListingURL] = listingHTML
	}
	return sites, fetcher
}

func TestCrawlAllSites(t *testing.T) {
	sites, fetcher := testFleet(5)
	store := &fakeStore{}
	c := New(Options{Sites: sites, Fetcher: fetcher, Store: store, Concurrency: 2})

	summary := c.Crawl(context.Background(), nil)

	if summary.SitesProcessed != 5 {
		t.Errorf("sites processed: got %d, want 5", summary.SitesProcessed)
	}
	if summary.TotalProducts != 10 {
		t.Errorf("total products: got %d, want 10", summary.TotalProducts)
	}
	if summary.NewProducts != 10 {
		t.Errorf("new products: got %d, want 10", summary.NewProducts)
	}
	if len(summary.Errors) != 0 {
		t.Errorf("unexpected errors: %+v", summary.Errors)
	}
}

func TestCrawlIsolatesSiteFailure(t *testing.T) {
	sites, fetcher := testFleet(5)
	fetcher.errs[sites[2].ListingURL] = errors.New("connection refused")
	store := &fakeStore{}
	c := New(Options{Sites: sites, Fetcher: fetcher, Store: store, Concurrency: 3})

	summary := c.Crawl(context.Background(), nil)

	if summary.SitesProcessed != 4 {
		t.Errorf("sites processed: got %d, want 4", summary.SitesProcessed)
	}
	if summary.TotalProducts != 8 {
		t.Errorf("total products: got %d, want 8", summary.TotalProducts)
	}
	if len(summary.Errors) != 1 {
		t.Fatalf("errors: got %d, want 1", len(summary.Errors))
	}
	if summary.Errors[0].SiteID != "site2" {
		t.Errorf("failed site: got %s", summary.Errors[0].SiteID)
	}
	if !strings.Contains(summary.Errors[0].Message, "connection refused") {
		t.Errorf("error message lost the cause: %s", summary.Errors[0].Message)
	}
}

func TestCrawlRejectsUnknownSite(t *testing.T) {
	sites, fetcher := testFleet(1)
	c := New(Options{Sites: sites, Fetcher: fetcher, Store: &fakeStore{}})

	summary := c.Crawl(context.Background(), []string{"site0", "phantom"})

	if summary.SitesProcessed != 1 {
		t.Errorf("sites processed: got %d, want 1", summary.SitesProcessed)
	}
	if len(summary.Errors) != 1 || summary.Errors[0].SiteID != "phantom" {
		t.Errorf("expected an error entry for the unknown site, got %+v", summary.Errors)
	}
}

func TestCrawlDropsFailedProductOnly(t *testing.T) {
	sites, fetcher := testFleet(1)
	store := &fakeStore{failFor: "senchauji"}
	c := New(Options{Sites: sites, Fetcher: fetcher, Store: store})

	summary := c.Crawl(context.Background(), nil)

	if summary.SitesProcessed != 1 {
		t.Errorf("sites processed: got %d, want 1", summary.SitesProcessed)
	}
	if summary.TotalProducts != 1 {
		t.Errorf("total products: got %d, want 1 after the drop", summary.TotalProducts)
	}
	if len(summary.Errors) != 0 {
		t.Errorf("a product-level failure must not fail the site: %+v", summary.Errors)
	}
}

type denyLocker struct{ denied string }

func (l denyLocker) Acquire(_ context.Context, siteID string) (bool, func()) {
	return siteID != l.denied, func() {}
}

func TestCrawlSkipsLockedSite(t *testing.T) {
	sites, fetcher := testFleet(2)
	c := New(Options{Sites: sites, Fetcher: fetcher, Store: &fakeStore{}, Locker: denyLocker{denied: "site1"}})

	summary := c.Crawl(context.Background(), nil)

	if summary.SitesProcessed != 1 {
		t.Errorf("sites processed: got %d, want 1", summary.SitesProcessed)
	}
	if len(summary.Errors) != 1 || summary.Errors[0].SiteID != "site1" {
		t.Fatalf("expected a lock error for site1, got %+v", summary.Errors)
	}
	if !strings.Contains(summary.Errors[0].Message, "locked") {
		t.Errorf("error message: %s", summary.Errors[0].Message)
	}
}

func TestEnrichmentNormalizesProducts(t *testing.T) {
	sites, fetcher := testFleet(1)
	store := &fakeStore{}
	c := New(Options{Sites: sites, Fetcher: fetcher, Store: store})

	c.Crawl(context.Background(), nil)

	if len(store.upserts) != 2 {
		t.Fatalf("upserts: got %d, want 2", len(store.upserts))
	}
	p := store.upserts[0]
	if p.ProductID != "site0_senchauji_senchauji" {
		t.Errorf("product id: got %q", p.ProductID)
	}
	if p.PriceValue == nil || *p.PriceValue != 12.50 {
		t.Errorf("price value: got %v", p.PriceValue)
	}
	if p.Currency != "EUR" {
		t.Errorf("currency: got %q", p.Currency)
	}
	if !p.InStock {
		t.Error("buy control present, expected in stock")
	}
	if p.DetailURL != "https://site0.example/products/sencha-uji" {
		t.Errorf("detail url: got %q", p.DetailURL)
	}
	if p.Category != "tea" {
		t.Errorf("category: got %q", p.Category)
	}
	if p.NormalizedName != "sencha uji" {
		t.Errorf("normalized name: got %q", p.NormalizedName)
	}
}

const shopifyProductHTML = `<html><head>
<link rel="canonical" href="https://matchado.example/products/hojicha-gold">
</head><body>
<h1>Hojicha Gold</h1>
<script type="application/json">
{"title":"Hojicha Gold","handle":"hojicha-gold","featured_image":"https://cdn.matchado.example/hojicha.jpg","variants":[
{"id":111,"public_title":"100g","price":64800,"available":true},
{"id":222,"public_title":"250g","price":108000,"available":true},
{"id":333,"public_title":"1kg","price":216000,"available":false}
]}
</script>
</body></html>`

func TestCrawlExpandsShopifyVariants(t *testing.T) {
	site := domain.SiteDescriptor{
		ID:              "matchado",
		BaseURL:         "https://matchado.example",
		ListingURL:      "https://matchado.example/products/hojicha-gold",
		Parser:          domain.ParserShopify,
		Category:        "tea",
		DefaultCurrency: "JPY",
	}
	fetcher := &fakeFetcher{docs: map[string]string{site.ListingURL: shopifyProductHTML}}
	store := &fakeStore{}
	c := New(Options{Sites: []domain.SiteDescriptor{site}, Fetcher: fetcher, Store: store})

	summary := c.Crawl(context.Background(), nil)

	if summary.TotalProducts != 3 {
		t.Fatalf("total products: got %d, want 3", summary.TotalProducts)
	}
	if len(store.upserts) != 3 {
		t.Fatalf("upserts: got %d, want 3", len(store.upserts))
	}

	// Blob prices are yen cents: 64800 -> ¥648 -> EUR at the table rate.
	want := []struct {
		productID string
		price     float64
		inStock   bool
	}{
		{"matchado_hojichagold_hojichagold100g_111", 3.76, true},
		{"matchado_hojichagold_hojichagold250g_222", 6.26, true},
		{"matchado_hojichagold_hojichagold1kg_333", 12.53, false},
	}
	seen := make(map[string]bool, len(want))
	for i, w := range want {
		p := store.upserts[i]
		if p.ProductID != w.productID {
			t.Errorf("variant %d key: got %q, want %q", i, p.ProductID, w.productID)
		}
		if seen[p.ProductID] {
			t.Errorf("duplicate product key %q", p.ProductID)
		}
		seen[p.ProductID] = true

		if p.PriceValue == nil {
			t.Errorf("variant %d: no price", i)
			continue
		}
		if math.Abs(*p.PriceValue-w.price) > 0.01 {
			t.Errorf("variant %d price: got %.4f, want %.2f ± 0.01", i, *p.PriceValue, w.price)
		}
		if p.Currency != "EUR" {
			t.Errorf("variant %d currency: got %q, want EUR", i, p.Currency)
		}
		if p.InStock != w.inStock {
			t.Errorf("variant %d in stock: got %v, want %v", i, p.InStock, w.inStock)
		}
	}
}

func TestEnrichmentConvertsForeignCurrency(t *testing.T) {
	site := testSite("yensite")
	site.DefaultCurrency = "JPY"
	fetcher := &fakeFetcher{docs: map[string]string{
		site.ListingURL: `<html><body><div class="card">
			<h3>Hojicha</h3><span class="price">¥10,800</span>
			<a href="/products/hojicha">view</a>
			<button class="add-to-cart">Add</button>
		</div></body></html>`,
	}}
	store := &fakeStore{}
	c := New(Options{Sites: []domain.SiteDescriptor{site}, Fetcher: fetcher, Store: store})

	c.Crawl(context.Background(), nil)

	if len(store.upserts) != 1 {
		t.Fatalf("upserts: got %d, want 1", len(store.upserts))
	}
	p := store.upserts[0]
	if p.PriceValue == nil || *p.PriceValue != 62.64 {
		t.Errorf("converted price: got %v, want 62.64", p.PriceValue)
	}
	if p.Currency != "EUR" {
		t.Errorf("currency: got %q, want EUR", p.Currency)
	}
	if p.PriceText != "¥10,800" {
		t.Errorf("raw price text must survive normalization: %q", p.PriceText)
	}
}
