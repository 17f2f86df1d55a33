package parser

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"pricewatch/packages/domain"
)

// Class fragments sites commonly use to flag unavailable products. Checked on
// the container and its stock elements in addition to the descriptor's
// localized keyword markers.
var soldOutClassFragments = []string{"sold-out", "soldout", "out-of-stock", "outofstock", "unavailable"}

// Class/name fragments identifying purchase affordances.
var buyControlFragments = []string{"add-to-cart", "addtocart", "add_to_cart", "buy", "purchase"}

// Generic is the declarative, selector-driven parser. Each field of a product
// is resolved by trying the descriptor's ordered fallback selectors and
// taking the first non-empty result.
type Generic struct{}

func NewGeneric() *Generic {
	return &Generic{}
}

func (g *Generic) Parse(site domain.SiteDescriptor, document string) ([]domain.RawExtraction, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(document))
	if err != nil {
		return nil, fmt.Errorf("parse document for site %s: %w", site.ID, err)
	}

	base, _ := url.Parse(site.BaseURL)

	var out []domain.RawExtraction
	doc.Find(site.ContainerSelector).Each(func(i int, sel *goquery.Selection) {
		raw, ok := g.parseContainer(site, base, sel)
		if !ok {
			return
		}
		out = append(out, raw)
	})
	return out, nil
}

// parseContainer extracts one product from one container element. A container
// with no usable name is skipped, not failed; a panic inside selector
// resolution is contained to this container.
func (g *Generic) parseContainer(site domain.SiteDescriptor, base *url.URL, sel *goquery.Selection) (raw domain.RawExtraction, ok bool) {
	defer func() {
		if p := recover(); p != nil {
			slog.Warn("Recovered from container parse failure", "site", site.ID, "panic", p)
			ok = false
		}
	}()

	raw.Name = firstText(sel, site.NameSelectors)
	if raw.Name == "" {
		// Image alt text is the name of last resort.
		raw.Name = firstAttr(sel, imageSelectorsOrDefault(site), "alt")
	}
	if raw.Name == "" {
		return raw, false
	}

	raw.PriceText = firstText(sel, site.PriceSelectors)
	raw.OldPriceText = firstText(sel, oldPriceSelectorsOrDefault(site))
	raw.DetailURL = resolveURL(base, firstAttr(sel, linkSelectorsOrDefault(site), "href"))
	raw.ImageURL = resolveURL(base, imageSource(sel, imageSelectorsOrDefault(site)))

	raw.StockText = firstText(sel, site.StockSelectors)
	raw.HasSoldOutClass = hasClassFragment(sel, soldOutClassFragments) ||
		stockElementHasClassFragment(sel, site.StockSelectors, soldOutClassFragments)
	raw.HasBuyControl = hasEnabledBuyControl(sel)

	return raw, true
}

// firstText walks the fallback selector list and returns the first non-empty
// trimmed text. A selector matching nothing is not an error.
func firstText(sel *goquery.Selection, selectors []string) string {
	for _, s := range selectors {
		if s == "" {
			continue
		}
		text := strings.TrimSpace(sel.Find(s).First().Text())
		if text != "" {
			return collapseSpace(text)
		}
	}
	return ""
}

func firstAttr(sel *goquery.Selection, selectors []string, attr string) string {
	for _, s := range selectors {
		if s == "" {
			continue
		}
		found := sel.Find(s).First()
		if v, ok := found.Attr(attr); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
		// The container itself may be the link.
		if goquery.NodeName(sel) == "a" && attr == "href" {
			if v, ok := sel.Attr(attr); ok && strings.TrimSpace(v) != "" {
				return strings.TrimSpace(v)
			}
		}
	}
	return ""
}

// imageSource prefers src and falls back to the lazy-loading attributes
// several storefront themes use instead.
func imageSource(sel *goquery.Selection, selectors []string) string {
	for _, s := range selectors {
		if s == "" {
			continue
		}
		img := sel.Find(s).First()
		for _, attr := range []string{"src", "data-src", "data-original"} {
			if v, ok := img.Attr(attr); ok && strings.TrimSpace(v) != "" {
				return strings.TrimSpace(v)
			}
		}
	}
	return ""
}

// Strike-through markup is the near-universal way discounts are rendered, so
// it serves as the default old-price location.
func oldPriceSelectorsOrDefault(site domain.SiteDescriptor) []string {
	if len(site.OldPriceSelectors) > 0 {
		return site.OldPriceSelectors
	}
	return []string{"del", "s", ".compare-at-price", ".price--compare"}
}

func linkSelectorsOrDefault(site domain.SiteDescriptor) []string {
	if len(site.LinkSelectors) > 0 {
		return site.LinkSelectors
	}
	return []string{"a[href]"}
}

func imageSelectorsOrDefault(site domain.SiteDescriptor) []string {
	if len(site.ImageSelectors) > 0 {
		return site.ImageSelectors
	}
	return []string{"img"}
}

func hasClassFragment(sel *goquery.Selection, fragments []string) bool {
	class, _ := sel.Attr("class")
	return classContainsFragment(class, fragments)
}

func stockElementHasClassFragment(sel *goquery.Selection, selectors []string, fragments []string) bool {
	for _, s := range selectors {
		if s == "" {
			continue
		}
		class, _ := sel.Find(s).First().Attr("class")
		if classContainsFragment(class, fragments) {
			return true
		}
	}
	return false
}

func classContainsFragment(class string, fragments []string) bool {
	class = strings.ToLower(class)
	for _, f := range fragments {
		if strings.Contains(class, f) {
			return true
		}
	}
	return false
}

// hasEnabledBuyControl looks for an enabled button-like element whose class
// or name marks it as a purchase affordance. Disabled controls do not count.
func hasEnabledBuyControl(sel *goquery.Selection) bool {
	found := false
	sel.Find("button, input[type='submit'], a").EachWithBreak(func(i int, el *goquery.Selection) bool {
		if _, disabled := el.Attr("disabled"); disabled {
			return true
		}
		class, _ := el.Attr("class")
		name, _ := el.Attr("name")
		if classContainsFragment(class+" "+name, buyControlFragments) {
			found = true
			return false
		}
		return true
	})
	return found
}

func resolveURL(base *url.URL, ref string) string {
	if ref == "" {
		return ""
	}
	if base == nil {
		return ref
	}
	parsed, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return base.ResolveReference(parsed).String()
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
