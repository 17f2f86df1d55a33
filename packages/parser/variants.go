package parser

import (
	"regexp"
	"strings"
)

// Variant titles carry size/portion/container suffixes ("Sencha Premium 100g
// Tin", "Hojicha - Pack of 3"). Stripping them recovers the shared base name
// used for grouping sibling variants. The rules are ordered and exactly one
// rule is applied, the first that matches.
var variantSuffixRules = []*regexp.Regexp{
	// weight or volume: "100g", "- 1 kg", "(3.5 oz)", "/ 500ml"
	regexp.MustCompile(`(?i)\s*[-–—/|(]*\s*\d+(?:[.,]\d+)?\s*(?:kg|g|oz|lbs?|ml|l)\.?\s*\)?\s*(?:tin|bag|pouch|box|can|jar|caddy|refill)?\s*$`),
	// pack count: "Pack of 3", "x10", "20 bags", "5 pcs"
	regexp.MustCompile(`(?i)\s*[-–—/|(]*\s*(?:pack of\s*\d+|x\s*\d+|\d+\s*(?:pack|packs|pcs|bags|sachets|sticks|servings|count|ct))\.?\s*\)?\s*$`),
	// bare container type: "Tin", "- Refill Bag"
	regexp.MustCompile(`(?i)\s*[-–—/|(]*\s*(?:tin|bag|pouch|box|can|jar|caddy|refill(?:\s+bag)?)\s*\)?\s*$`),
}

// StripVariantSuffix removes one trailing size/portion/container suffix from
// a variant title. Applied once: "Sencha 100g Tin" loses the whole weight
// suffix in a single rule, not iteratively.
func StripVariantSuffix(title string) string {
	t := strings.TrimSpace(title)
	for _, rule := range variantSuffixRules {
		stripped := rule.ReplaceAllString(t, "")
		if stripped != t {
			stripped = strings.TrimSpace(strings.TrimRight(stripped, "-–—/|,("))
			if stripped != "" {
				return strings.TrimSpace(stripped)
			}
			return t
		}
	}
	return t
}

var nonWordRun = regexp.MustCompile(`[^a-z0-9]+`)

// NormalizeName produces the matching form of a display name: variant suffix
// stripped, lowercased, punctuation folded to single spaces.
func NormalizeName(displayName string) string {
	s := strings.ToLower(StripVariantSuffix(displayName))
	s = nonWordRun.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}
