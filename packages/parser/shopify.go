package parser

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"pricewatch/packages/domain"
)

// Shopify is the specialized parser for storefronts whose listing markup is
// not authoritative per variant. It expands one detail page into one
// extraction per purchasable variant, trying three strategies in order:
//
//  1. an embedded JSON product blob inside script regions ("var meta = {...}"
//     or an application/json script) carrying a variants array;
//  2. variant ids and labels exposed through select/option form elements;
//  3. the whole page treated as a single product.
type Shopify struct{}

func NewShopify() *Shopify {
	return &Shopify{}
}

type variantBlob struct {
	ID             json.Number     `json:"id"`
	Title          string          `json:"title"`
	PublicTitle    string          `json:"public_title"`
	Name           string          `json:"name"`
	Price          json.RawMessage `json:"price"`
	CompareAtPrice json.RawMessage `json:"compare_at_price"`
	Available      *bool           `json:"available"`
}

type productBlob struct {
	Title         string        `json:"title"`
	Handle        string        `json:"handle"`
	FeaturedImage string        `json:"featured_image"`
	Variants      []variantBlob `json:"variants"`
}

// metaBlob matches the "var meta = {...}" shape where the product sits one
// level down.
type metaBlob struct {
	Product *productBlob `json:"product"`
}

func (s *Shopify) Parse(site domain.SiteDescriptor, document string) ([]domain.RawExtraction, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(document))
	if err != nil {
		return nil, fmt.Errorf("parse document for site %s: %w", site.ID, err)
	}

	pageURL := canonicalURL(doc, site)

	if out := s.parseScriptBlobs(site, doc, pageURL); len(out) > 0 {
		return out, nil
	}
	if out := s.parseVariantOptions(site, doc, pageURL); len(out) > 0 {
		return out, nil
	}
	return s.parseSingleProduct(site, doc, pageURL), nil
}

// parseScriptBlobs scans script-like regions for an embedded product blob.
// A malformed blob is logged and skipped; the scan continues with the next
// script element.
func (s *Shopify) parseScriptBlobs(site domain.SiteDescriptor, doc *goquery.Document, pageURL string) []domain.RawExtraction {
	var out []domain.RawExtraction
	doc.Find("script").EachWithBreak(func(i int, sel *goquery.Selection) bool {
		text := strings.TrimSpace(sel.Text())
		if text == "" || !strings.Contains(text, `"variants"`) {
			return true
		}

		blob, err := extractProductBlob(text)
		if err != nil {
			slog.Warn("Skipping unparsable product blob", "site", site.ID, "error", err)
			return true
		}
		out = s.expandVariants(site, blob, pageURL)
		return len(out) == 0
	})
	return out
}

// extractProductBlob pulls a JSON object out of script text. Scripts of type
// application/json hold the object directly; inline scripts embed it after an
// assignment ("var meta = {...};").
func extractProductBlob(text string) (*productBlob, error) {
	candidate := text
	if !strings.HasPrefix(candidate, "{") {
		start := strings.Index(candidate, "{")
		if start < 0 {
			return nil, ErrMalformedBlob
		}
		candidate = candidate[start:]
	}
	candidate = balancedObject(candidate)
	if candidate == "" {
		return nil, ErrMalformedBlob
	}

	var meta metaBlob
	if err := json.Unmarshal([]byte(candidate), &meta); err == nil && meta.Product != nil && len(meta.Product.Variants) > 0 {
		return meta.Product, nil
	}
	var product productBlob
	if err := json.Unmarshal([]byte(candidate), &product); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedBlob, err)
	}
	if len(product.Variants) == 0 {
		return nil, ErrMalformedBlob
	}
	return &product, nil
}

// balancedObject returns the prefix of s spanning one balanced JSON object,
// ignoring braces inside string literals.
func balancedObject(s string) string {
	depth := 0
	inString := false
	escaped := false
	for i, r := range s {
		if inString {
			switch {
			case escaped:
				escaped = false
			case r == '\\':
				escaped = true
			case r == '"':
				inString = false
			}
			continue
		}
		switch r {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[:i+1]
			}
		}
	}
	return ""
}

func (s *Shopify) expandVariants(site domain.SiteDescriptor, blob *productBlob, pageURL string) []domain.RawExtraction {
	base := blob.Title
	if base == "" {
		base = pageTitleFallback(site)
	}

	detailURL := pageURL
	if blob.Handle != "" && site.BaseURL != "" {
		detailURL = strings.TrimRight(site.BaseURL, "/") + "/products/" + blob.Handle
	}

	out := make([]domain.RawExtraction, 0, len(blob.Variants))
	for _, v := range blob.Variants {
		raw, ok := s.expandVariant(site, base, detailURL, blob.FeaturedImage, v)
		if !ok {
			continue
		}
		out = append(out, raw)
	}
	return out
}

// expandVariant builds one extraction from one variant entry. A broken
// variant is dropped without affecting its siblings.
func (s *Shopify) expandVariant(site domain.SiteDescriptor, baseTitle, detailURL, image string, v variantBlob) (raw domain.RawExtraction, ok bool) {
	defer func() {
		if p := recover(); p != nil {
			slog.Warn("Recovered from variant expansion failure", "site", site.ID, "variant", v.ID.String(), "panic", p)
			ok = false
		}
	}()

	name := baseTitle
	variantTitle := v.PublicTitle
	if variantTitle == "" {
		variantTitle = v.Title
	}
	if variantTitle != "" && !strings.EqualFold(variantTitle, "Default Title") {
		name = strings.TrimSpace(baseTitle + " " + variantTitle)
	}
	if name == "" {
		return raw, false
	}

	raw.Name = name
	raw.VariantID = v.ID.String()
	raw.DetailURL = detailURL
	if raw.VariantID != "" && raw.DetailURL != "" {
		raw.DetailURL += "?variant=" + raw.VariantID
	}
	raw.ImageURL = image
	raw.PriceText = blobPriceText(v.Price)
	raw.OldPriceText = blobPriceText(v.CompareAtPrice)
	if v.Available != nil {
		if *v.Available {
			raw.HasBuyControl = true
		} else {
			raw.HasSoldOutClass = true
		}
	}
	return raw, true
}

// blobPriceText renders a variant price field as price text. Numeric blob
// prices are minor units (cents) and are divided back to major units; string
// prices pass through as written.
func blobPriceText(price json.RawMessage) string {
	if len(price) == 0 {
		return ""
	}
	var str string
	if err := json.Unmarshal(price, &str); err == nil {
		return strings.TrimSpace(str)
	}
	var cents float64
	if err := json.Unmarshal(price, &cents); err != nil {
		return ""
	}
	return fmt.Sprintf("%.2f", cents/100)
}

// parseVariantOptions is the secondary path: variant ids and labels exposed
// through a select element ("100g Tin - ¥1,080").
func (s *Shopify) parseVariantOptions(site domain.SiteDescriptor, doc *goquery.Document, pageURL string) []domain.RawExtraction {
	base := pageTitle(doc, site)
	if base == "" {
		return nil
	}

	var out []domain.RawExtraction
	doc.Find("select[name='id'] option, select[name='variant'] option").Each(func(i int, opt *goquery.Selection) {
		variantID, _ := opt.Attr("value")
		variantID = strings.TrimSpace(variantID)
		if variantID == "" {
			return
		}

		label := collapseSpace(opt.Text())
		variantLabel, priceText := splitOptionLabel(label)

		name := base
		if variantLabel != "" && !strings.EqualFold(variantLabel, "Default Title") {
			name = strings.TrimSpace(base + " " + variantLabel)
		}

		_, disabled := opt.Attr("disabled")
		raw := domain.RawExtraction{
			Name:            name,
			VariantID:       variantID,
			DetailURL:       pageURL + "?variant=" + variantID,
			PriceText:       priceText,
			StockText:       label,
			HasSoldOutClass: disabled,
		}
		out = append(out, raw)
	})
	return out
}

// splitOptionLabel separates "100g Tin - ¥1,080" into the variant label and
// the trailing price text. Labels without a priced tail come back whole.
func splitOptionLabel(label string) (variantLabel, priceText string) {
	for _, sep := range []string{" - ", " – ", " — ", " / "} {
		if i := strings.LastIndex(label, sep); i >= 0 {
			tail := strings.TrimSpace(label[i+len(sep):])
			if strings.ContainsAny(tail, "0123456789") {
				return strings.TrimSpace(label[:i]), tail
			}
		}
	}
	return label, ""
}

// parseSingleProduct is the tertiary fallback: the whole page as one product.
func (s *Shopify) parseSingleProduct(site domain.SiteDescriptor, doc *goquery.Document, pageURL string) []domain.RawExtraction {
	name := pageTitle(doc, site)
	if name == "" {
		return nil
	}

	price := metaContent(doc, "meta[property='og:price:amount']")
	if price == "" {
		price = firstDocText(doc, append(site.PriceSelectors, ".price", ".product-price"))
	}

	raw := domain.RawExtraction{
		Name:      name,
		DetailURL: pageURL,
		PriceText: price,
		StockText: collapseSpace(doc.Find("body").Text()),
		ImageURL:  metaContent(doc, "meta[property='og:image']"),
	}
	return []domain.RawExtraction{raw}
}

func pageTitle(doc *goquery.Document, site domain.SiteDescriptor) string {
	if t := firstDocText(doc, append(site.NameSelectors, "h1")); t != "" {
		return t
	}
	if t := metaContent(doc, "meta[property='og:title']"); t != "" {
		return t
	}
	return ""
}

func pageTitleFallback(site domain.SiteDescriptor) string {
	return site.Name
}

func firstDocText(doc *goquery.Document, selectors []string) string {
	for _, s := range selectors {
		if s == "" {
			continue
		}
		if t := collapseSpace(doc.Find(s).First().Text()); t != "" {
			return t
		}
	}
	return ""
}

func metaContent(doc *goquery.Document, selector string) string {
	v, _ := doc.Find(selector).First().Attr("content")
	return strings.TrimSpace(v)
}

func canonicalURL(doc *goquery.Document, site domain.SiteDescriptor) string {
	if href, ok := doc.Find("link[rel='canonical']").First().Attr("href"); ok && strings.TrimSpace(href) != "" {
		return strings.TrimSpace(href)
	}
	if u := metaContent(doc, "meta[property='og:url']"); u != "" {
		return u
	}
	return site.ListingURL
}
