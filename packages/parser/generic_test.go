package parser

import (
	"testing"

	"pricewatch/packages/domain"
)

var genericSite = domain.SiteDescriptor{
	ID:                "greenleaf",
	BaseURL:           "https://shop.greenleaf.example",
	ContainerSelector: "div.product-card",
	NameSelectors:     []string{".product-title", "h3"},
	PriceSelectors:    []string{".price--sale", ".price"},
	LinkSelectors:     []string{"a.product-link", "a"},
	ImageSelectors:    []string{"img.product-image", "img"},
	StockSelectors:    []string{".availability"},
}

const genericListing = `<!DOCTYPE html>
<html><body>
	<div class="product-card">
		<a class="product-link" href="/products/sencha-premium">
			<img class="product-image" src="/img/sencha.jpg" alt="Sencha Premium">
		</a>
		<h3>Sencha Premium</h3>
		<span class="price">€ 12,90</span>
		<button class="add-to-cart" name="add">In den Warenkorb</button>
	</div>
	<div class="product-card">
		<a href="/products/gyokuro-shade">
			<img src="/img/gyokuro.jpg" alt="Gyokuro Shade Grown">
		</a>
		<span class="price--sale">€ 24,90</span>
		<span class="price">€ 29,90</span>
		<span class="availability badge--sold-out">Ausverkauft</span>
	</div>
	<div class="product-card">
		<!-- decorative tile, no product data -->
		<span class="price">€ 1,00</span>
	</div>
	<div class="product-card">
		<h3>   Hojicha
			Gold   </h3>
	</div>
</body></html>`

func TestGenericParse(t *testing.T) {
	g := NewGeneric()
	out, err := g.Parse(genericSite, genericListing)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if len(out) != 3 {
		t.Fatalf("expected 3 extractions (nameless tile skipped), got %d", len(out))
	}

	first := out[0]
	if first.Name != "Sencha Premium" {
		t.Errorf("name: got %q", first.Name)
	}
	if first.PriceText != "€ 12,90" {
		t.Errorf("price: got %q", first.PriceText)
	}
	if first.DetailURL != "https://shop.greenleaf.example/products/sencha-premium" {
		t.Errorf("detail url not absolutized: %q", first.DetailURL)
	}
	if first.ImageURL != "https://shop.greenleaf.example/img/sencha.jpg" {
		t.Errorf("image url: %q", first.ImageURL)
	}
	if !first.HasBuyControl {
		t.Error("expected enabled add-to-cart control to be detected")
	}
	if first.HasSoldOutClass {
		t.Error("first product should not carry a sold-out class")
	}

	second := out[1]
	if second.Name != "Gyokuro Shade Grown" {
		t.Errorf("alt-text name fallback failed: got %q", second.Name)
	}
	if second.PriceText != "€ 24,90" {
		t.Errorf("sale price selector should win the fallback order, got %q", second.PriceText)
	}
	if !second.HasSoldOutClass {
		t.Error("sold-out class on the availability element should be detected")
	}
	if second.StockText != "Ausverkauft" {
		t.Errorf("stock text: got %q", second.StockText)
	}

	third := out[2]
	if third.Name != "Hojicha Gold" {
		t.Errorf("whitespace should collapse in names, got %q", third.Name)
	}
	if third.PriceText != "" || third.DetailURL != "" {
		t.Errorf("missing fields should degrade to empty, got price=%q url=%q", third.PriceText, third.DetailURL)
	}
}

func TestGenericParseEmptyDocument(t *testing.T) {
	g := NewGeneric()
	out, err := g.Parse(genericSite, "<html><body></body></html>")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(out) != 0 {
		t.Errorf("expected no extractions, got %d", len(out))
	}
}

func TestGenericDisabledBuyControlIgnored(t *testing.T) {
	g := NewGeneric()
	doc := `<div class="product-card">
		<h3>Bancha</h3>
		<button class="add-to-cart" disabled>Sold out</button>
	</div>`
	out, err := g.Parse(genericSite, doc)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected 1 extraction, got %d", len(out))
	}
	if out[0].HasBuyControl {
		t.Error("disabled purchase control must not count as a buy affordance")
	}
}

func TestGenericOldPriceCapture(t *testing.T) {
	g := NewGeneric()
	doc := `<div class="product-card">
		<h3>Matcha Ceremonial</h3>
		<span class="price--sale">€ 19,90</span>
		<del>€ 24,90</del>
	</div>`
	out, err := g.Parse(genericSite, doc)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected 1 extraction, got %d", len(out))
	}
	if out[0].PriceText != "€ 19,90" {
		t.Errorf("price: got %q", out[0].PriceText)
	}
	if out[0].OldPriceText != "€ 24,90" {
		t.Errorf("strike-through price should land in OldPriceText, got %q", out[0].OldPriceText)
	}
}

func TestRegistryDispatch(t *testing.T) {
	r := NewRegistry()

	genericSite := domain.SiteDescriptor{ID: "a", Parser: domain.ParserGeneric}
	shopifySite := domain.SiteDescriptor{ID: "b", Parser: domain.ParserShopify}

	if _, ok := r.ForSite(genericSite).(*Generic); !ok {
		t.Error("generic kind should resolve to the generic parser")
	}
	if _, ok := r.ForSite(shopifySite).(*Shopify); !ok {
		t.Error("shopify kind should resolve to the specialized parser")
	}

	custom := NewGeneric()
	r.Register("b", custom)
	if r.ForSite(shopifySite) != Parser(custom) {
		t.Error("an explicitly registered parser must win over the kind default")
	}
}
