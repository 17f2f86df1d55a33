// Package parser turns one fetched listing or detail document into raw
// per-product extractions. Each monitored site gets either the generic
// selector-driven parser or a specialized one; dispatch goes through a
// registry keyed by site id, so adding a site never touches dispatch logic.
package parser

import (
	"errors"

	"pricewatch/packages/domain"
)

// ErrMalformedBlob marks an embedded structured-data blob that was present
// but unparsable; callers fall through to the next extraction strategy.
var ErrMalformedBlob = errors.New("malformed structured-data blob")

// Parser extracts raw products from one document. Implementations contain
// failures at container/variant granularity: a broken element is logged and
// skipped, never allowed to abort its siblings.
type Parser interface {
	Parse(site domain.SiteDescriptor, document string) ([]domain.RawExtraction, error)
}

// Registry maps site ids to their parser implementations.
type Registry struct {
	parsers map[string]Parser
	generic Parser
	shopify Parser
}

func NewRegistry() *Registry {
	return &Registry{
		parsers: make(map[string]Parser),
		generic: NewGeneric(),
		shopify: NewShopify(),
	}
}

// Register binds a bespoke parser to one site id, overriding the kind-based
// default for that site.
func (r *Registry) Register(siteID string, p Parser) {
	r.parsers[siteID] = p
}

// ForSite resolves the parser for a site: an explicitly registered one wins,
// otherwise the descriptor's declared kind picks the implementation.
func (r *Registry) ForSite(site domain.SiteDescriptor) Parser {
	if p, ok := r.parsers[site.ID]; ok {
		return p
	}
	if site.Parser == domain.ParserShopify {
		return r.shopify
	}
	return r.generic
}
