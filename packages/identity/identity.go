// Package identity derives stable product keys from unreliable listing data.
package identity

import (
	"strings"
)

const (
	namePrefixLen = 20
	maxKeyLen     = 64
)

// DeriveKey builds a stable key for one product variant. The same inputs
// always yield the same key, and formatting-only differences in displayName
// (case, whitespace, punctuation) do not change it. variantID may be empty;
// when present it disambiguates siblings sharing a base URL.
//
// Keys are ASCII: non-ASCII runes in displayName are dropped, so a fully
// Japanese title contributes an empty name prefix and identity rests on the
// URL slug alone. Product URLs carry romanized handles on every monitored
// site, which keeps slug-only keys distinct.
func DeriveKey(detailURL, displayName, siteID, variantID string) string {
	slug := urlSlug(detailURL)
	prefix := alnum(strings.ToLower(displayName))
	if len(prefix) > namePrefixLen {
		prefix = prefix[:namePrefixLen]
	}

	key := siteID + "_" + slug + "_" + prefix
	if len(key) > maxKeyLen {
		key = key[:maxKeyLen]
	}
	if variantID != "" {
		key += "_" + alnum(variantID)
	}
	return key
}

// urlSlug returns the last path segment of a URL with the query string and
// all non-alphanumeric characters stripped.
func urlSlug(rawURL string) string {
	s := rawURL
	if i := strings.IndexAny(s, "?#"); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimRight(s, "/")
	if i := strings.LastIndex(s, "/"); i >= 0 {
		s = s[i+1:]
	}
	return alnum(strings.ToLower(s))
}

func alnum(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}
