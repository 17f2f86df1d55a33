// Package pricing parses free-form price text and converts amounts into the
// canonical currency. No two monitored sites format prices the same way, so
// parsing runs an ordered table of currency patterns and the first match wins.
package pricing

import (
	"log/slog"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// CanonicalCurrency is the single currency every stored price is expressed in.
const CanonicalCurrency = "EUR"

// Parsed is the result of recognizing a price in raw text.
type Parsed struct {
	Amount   float64
	Currency string
}

type currencyPattern struct {
	re       *regexp.Regexp
	currency string
}

const num = `((?:\d{1,3}(?:[.,]\d{3})+|\d+)(?:[.,]\d{1,2})?)`

// Ordered: symbol-prefixed, then symbol-suffixed, then code-suffixed.
// CAD must precede USD or the bare "$" pattern swallows "C$".
var patterns = []currencyPattern{
	{regexp.MustCompile(`€\s*` + num), "EUR"},
	{regexp.MustCompile(`CA?\$\s*` + num), "CAD"},
	{regexp.MustCompile(`\$\s*` + num), "USD"},
	{regexp.MustCompile(`£\s*` + num), "GBP"},
	{regexp.MustCompile(`[¥￥]\s*` + num), "JPY"},
	{regexp.MustCompile(num + `\s*€`), "EUR"},
	{regexp.MustCompile(num + `\s*円`), "JPY"},
	{regexp.MustCompile(num + `\s*(?:kr\.?|:-)`), "kr"},
	{regexp.MustCompile(num + `\s*(EUR|USD|CAD|GBP|JPY|SEK|DKK|NOK)\b`), ""},
}

// rates converts one unit of the keyed currency into the canonical currency.
// Static by design: alerting cares about relative movement, not FX accuracy.
var rates = map[string]float64{
	"EUR": 1.0,
	"USD": 0.92,
	"CAD": 0.68,
	"GBP": 1.17,
	"JPY": 0.0058,
	"SEK": 0.086,
	"DKK": 0.134,
	"NOK": 0.087,
}

// Parse recognizes an amount and currency in raw text. The bare-number
// fallback assumes the canonical currency.
func Parse(raw string) (Parsed, bool) {
	return ParseWithDefault(raw, CanonicalCurrency)
}

// ParseWithDefault is Parse with a site-supplied default currency. The default
// resolves two ambiguities: bare numbers with no currency mark, and the "kr"
// suffix shared by the Scandinavian currencies.
func ParseWithDefault(raw, defaultCurrency string) (Parsed, bool) {
	if defaultCurrency == "" {
		defaultCurrency = CanonicalCurrency
	}
	text := cleanSpaces(raw)
	if text == "" {
		return Parsed{}, false
	}

	for _, p := range patterns {
		m := p.re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		cur := p.currency
		switch cur {
		case "":
			cur = m[2]
		case "kr":
			cur = resolveKrone(defaultCurrency)
		}
		amount, ok := parseAmount(m[1], cur)
		if !ok {
			continue
		}
		return Parsed{Amount: amount, Currency: cur}, true
	}

	// No currency mark at all: take the first bare number.
	if m := bareNumber.FindString(text); m != "" {
		if amount, ok := parseAmount(m, defaultCurrency); ok {
			return Parsed{Amount: amount, Currency: defaultCurrency}, true
		}
	}
	return Parsed{}, false
}

var bareNumber = regexp.MustCompile(num)

func resolveKrone(defaultCurrency string) string {
	switch defaultCurrency {
	case "SEK", "DKK", "NOK":
		return defaultCurrency
	}
	return "SEK"
}

// parseAmount applies the decimal-separator rule: a comma followed by exactly
// two digits with no thousands grouping is a decimal point. JPY commas are
// always grouping; a dot-decimal tail ("1080.00") is honored and rounded
// away, since yen have no minor unit.
func parseAmount(numText, currency string) (float64, bool) {
	s := numText
	if currency == "JPY" {
		s = strings.ReplaceAll(s, ",", "")
		if !dotDecimalTail.MatchString(s) {
			s = strings.ReplaceAll(s, ".", "")
		}
	} else {
		hasComma := strings.Contains(s, ",")
		hasDot := strings.Contains(s, ".")
		switch {
		case hasComma && hasDot:
			// Whichever separator appears last is the decimal point.
			if strings.LastIndex(s, ",") > strings.LastIndex(s, ".") {
				s = strings.ReplaceAll(s, ".", "")
				s = strings.Replace(s, ",", ".", 1)
			} else {
				s = strings.ReplaceAll(s, ",", "")
			}
		case hasComma:
			if decimalComma.MatchString(s) {
				s = strings.Replace(s, ",", ".", 1)
			} else {
				s = strings.ReplaceAll(s, ",", "")
			}
		}
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	if currency == "JPY" {
		v = math.Round(v)
	}
	return v, true
}

var (
	decimalComma   = regexp.MustCompile(`^\d+,\d{2}$`)
	dotDecimalTail = regexp.MustCompile(`^\d+\.\d{1,2}$`)
)

// HasRate reports whether a currency can be converted into the canonical one.
func HasRate(currency string) bool {
	_, ok := rates[currency]
	return ok
}

// ToCanonical converts an amount into the canonical currency, rounded to two
// decimals. rateOverride, when non-zero, replaces the table rate (per-site
// fixed conversion). An unknown currency is passed through unconverted.
func ToCanonical(amount float64, currency string, rateOverride float64) float64 {
	if currency == CanonicalCurrency {
		return round2(amount)
	}
	rate := rateOverride
	if rate == 0 {
		var ok bool
		rate, ok = rates[currency]
		if !ok {
			slog.Warn("No conversion rate for currency, passing amount through", "currency", currency)
			return round2(amount)
		}
	}
	return round2(amount * rate)
}

// Minor-unit floors per currency: an integer amount at or above the floor on
// a site declared MinorUnitPrices is taken to be pre-multiplied by 100.
var minorUnitFloor = map[string]float64{
	"JPY": 50000,
}

const defaultMinorUnitFloor = 10000

// AdjustMinorUnits undoes the declared per-site quirk of amounts encoded in
// minor units. It only fires for the declared sites, never globally.
func AdjustMinorUnits(amount float64, currency string, siteDeclares bool) float64 {
	if !siteDeclares {
		return amount
	}
	floor, ok := minorUnitFloor[currency]
	if !ok {
		floor = defaultMinorUnitFloor
	}
	if amount == math.Trunc(amount) && amount >= floor {
		return amount / 100
	}
	return amount
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// cleanSpaces folds non-breaking and narrow spaces into plain ones so the
// numeric patterns see "10 800" and "10 800" identically.
func cleanSpaces(s string) string {
	s = strings.Map(func(r rune) rune {
		switch r {
		case ' ', ' ', ' ':
			return ' '
		}
		return r
	}, s)
	return strings.TrimSpace(s)
}
