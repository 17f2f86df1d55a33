package stock

import (
	"testing"

	"pricewatch/packages/domain"
)

func testClassifier() *Classifier {
	return New([]domain.SiteDescriptor{
		{
			ID:                "greenleaf",
			OutOfStockMarkers: []string{"sold out", "ausverkauft"},
			InStockMarkers:    []string{"in stock"},
		},
		{
			ID: "nomarkers",
		},
	})
}

func TestOutOfStockMarkerOverridesPrice(t *testing.T) {
	c := testClassifier()

	got := c.Classify("Sencha Premium — Sold Out — €12,90", Signals{PriceText: "€12,90"}, "greenleaf")
	if got {
		t.Error("explicit out-of-stock marker must override a present price")
	}
}

func TestSoldOutClassWins(t *testing.T) {
	c := testClassifier()

	got := c.Classify("Sencha Premium €12,90", Signals{SoldOutClass: true, BuyControl: true, PriceText: "€12,90"}, "greenleaf")
	if got {
		t.Error("sold-out class must override every other signal")
	}
}

func TestBuyControlImpliesInStock(t *testing.T) {
	c := testClassifier()

	if !c.Classify("Sencha Premium", Signals{BuyControl: true}, "greenleaf") {
		t.Error("enabled purchase control should classify as in stock")
	}
}

func TestPricePresenceImpliesInStock(t *testing.T) {
	c := testClassifier()

	if !c.Classify("Sencha Premium", Signals{PriceText: "¥1,080"}, "greenleaf") {
		t.Error("non-empty price text should classify as in stock")
	}
}

func TestDefaultIsInStock(t *testing.T) {
	c := testClassifier()

	if !c.Classify("Sencha Premium", Signals{}, "greenleaf") {
		t.Error("with no signals at all the default is in stock")
	}
}

func TestLanguageFallbackMarkers(t *testing.T) {
	c := testClassifier()

	// Site declares no markers; German text should hit the built-in table.
	text := "Bio Sencha aus Japan, fein und frisch. Dieser Artikel ist leider ausverkauft und derzeit nicht verfügbar."
	if c.Classify(text, Signals{PriceText: "12,90 €"}, "nomarkers") {
		t.Error("language-detected fallback markers should classify German 'ausverkauft' as out of stock")
	}

	// English theme strings must be recognized regardless of site language.
	if c.Classify("Currently sold out", Signals{}, "nomarkers") {
		t.Error("English fallback markers should apply for undeclared sites")
	}
}

func TestUnknownSiteStillResolves(t *testing.T) {
	c := testClassifier()

	// A site id with no descriptor still yields a concrete boolean.
	if !c.Classify("Some product", Signals{PriceText: "$5"}, "ghost") {
		t.Error("unknown site with a price should classify as in stock")
	}
}
