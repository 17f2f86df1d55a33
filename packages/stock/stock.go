// Package stock infers a concrete availability flag from heuristic signals.
// No single signal is reliable across the monitored sites, so classification
// runs an ordered per-site policy and always resolves to a boolean.
package stock

import (
	"strings"

	"github.com/abadojack/whatlanggo"

	"pricewatch/packages/domain"
)

// Built-in out-of-stock markers keyed by ISO 639-3 language code, used when a
// site descriptor declares no marker list of its own.
var defaultOutOfStock = map[string][]string{
	"eng": {"sold out", "out of stock", "unavailable", "currently unavailable"},
	"deu": {"ausverkauft", "nicht verfügbar", "derzeit nicht verfügbar", "vergriffen"},
	"swe": {"slutsåld", "slut i lager", "tillfälligt slut"},
	"dan": {"udsolgt", "ikke på lager"},
	"nor": {"utsolgt", "ikke på lager"},
	"jpn": {"売り切れ", "在庫切れ", "完売", "入荷待ち"},
	"fra": {"épuisé", "rupture de stock", "indisponible"},
}

// englishFallback covers sites whose language detection comes back empty or
// unmapped; English markers show up on storefront templates worldwide.
var englishFallback = defaultOutOfStock["eng"]

// Signals carries the structural evidence a parser collected for one element,
// beyond its visible text.
type Signals struct {
	// Element carries a class the site uses to flag sold-out products.
	SoldOutClass bool
	// An enabled add-to-cart (or equivalent) control is present.
	BuyControl bool
	// Price text as extracted; emptiness is itself a signal.
	PriceText string
}

// Classifier resolves availability per the ordered policy of each site.
type Classifier struct {
	sites map[string]domain.SiteDescriptor
}

func New(sites []domain.SiteDescriptor) *Classifier {
	m := make(map[string]domain.SiteDescriptor, len(sites))
	for _, s := range sites {
		m[s.ID] = s
	}
	return &Classifier{sites: m}
}

// Classify returns the availability flag for one product element.
//
// Policy order matters: an explicit out-of-stock marker overrides a present
// price, because several sites render the price regardless of availability.
//
//  1. sold-out class or localized out-of-stock keyword -> false
//  2. explicit in-stock keyword or enabled purchase control -> true
//  3. non-empty price text -> true
//  4. default -> true
func (c *Classifier) Classify(elementText string, signals Signals, siteID string) bool {
	site := c.sites[siteID]
	text := strings.ToLower(elementText)

	if signals.SoldOutClass {
		return false
	}
	for _, marker := range c.outOfStockMarkers(site, elementText) {
		if strings.Contains(text, strings.ToLower(marker)) {
			return false
		}
	}

	if signals.BuyControl {
		return true
	}
	for _, marker := range site.InStockMarkers {
		if strings.Contains(text, strings.ToLower(marker)) {
			return true
		}
	}

	if strings.TrimSpace(signals.PriceText) != "" {
		return true
	}

	return true
}

func (c *Classifier) outOfStockMarkers(site domain.SiteDescriptor, sample string) []string {
	if len(site.OutOfStockMarkers) > 0 {
		return site.OutOfStockMarkers
	}

	markers := englishFallback
	if strings.TrimSpace(sample) != "" {
		info := whatlanggo.Detect(sample)
		if localized, ok := defaultOutOfStock[info.Lang.Iso6393()]; ok {
			// English markers stay in play: storefront templates mix
			// the site language with untranslated theme strings.
			markers = append(localized, englishFallback...)
		}
	}
	return markers
}
