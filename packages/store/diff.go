package store

import (
	"time"

	"pricewatch/packages/domain"
)

// priceFreshness is the window after which a price-history entry is written
// even without a change, keeping the series roughly uniform for charting.
const priceFreshness = 24 * time.Hour

// Decision is the full outcome of comparing a fresh parse against the prior
// row: what to write and what to report. Computing it is pure so the upsert
// policy is testable without a database.
type Decision struct {
	domain.UpsertResult

	Merged domain.NormalizedProduct

	WriteStockEntry bool
	StockEntry      domain.StockHistoryEntry
	WritePriceEntry bool
	PriceEntry      domain.PriceHistoryEntry

	// Material marks changes that refresh lastUpdated; lastChecked always
	// refreshes.
	Material bool
}

// Decide compares the freshly parsed product with the prior row (nil on first
// sighting) and the timestamp of the last price-history entry (zero if none).
func Decide(prior *domain.NormalizedProduct, lastPriceAt time.Time, fresh domain.NormalizedProduct, now time.Time) Decision {
	var d Decision

	if prior == nil {
		d.IsNew = true
		d.Material = true
		d.Merged = fresh
		d.Merged.FirstSeen = now
		d.Merged.LastChecked = now
		d.Merged.LastUpdated = now
		d.Merged.Discontinued = false

		d.WriteStockEntry = true
		d.StockEntry = domain.StockHistoryEntry{
			ProductID: fresh.ProductID,
			Previous:  nil,
			Current:   fresh.InStock,
			At:        now,
		}
		if fresh.PriceValue != nil {
			d.WritePriceEntry = true
			d.PriceEntry = priceEntry(fresh, now)
		}
		return d
	}

	d.StockChanged = prior.InStock != fresh.InStock
	d.PriceChanged = priceDiffers(prior.PriceValue, fresh.PriceValue)

	if d.StockChanged {
		prev := prior.InStock
		d.WriteStockEntry = true
		d.StockEntry = domain.StockHistoryEntry{
			ProductID: fresh.ProductID,
			Previous:  &prev,
			Current:   fresh.InStock,
			At:        now,
		}
	}

	if fresh.PriceValue != nil {
		stale := lastPriceAt.IsZero() || now.Sub(lastPriceAt) >= priceFreshness
		if d.PriceChanged || stale {
			d.WritePriceEntry = true
			d.PriceEntry = priceEntry(fresh, now)
		}
	}

	d.Material = d.StockChanged || d.PriceChanged ||
		prior.Name != fresh.Name ||
		prior.ImageURL != fresh.ImageURL ||
		prior.DetailURL != fresh.DetailURL ||
		prior.Discontinued // a reappearing product clears the flag

	d.Merged = fresh
	d.Merged.FirstSeen = prior.FirstSeen
	d.Merged.Discontinued = false
	d.Merged.LastChecked = now
	if d.Material {
		d.Merged.LastUpdated = now
	} else {
		d.Merged.LastUpdated = prior.LastUpdated
	}
	return d
}

func priceEntry(p domain.NormalizedProduct, now time.Time) domain.PriceHistoryEntry {
	return domain.PriceHistoryEntry{
		ProductID: p.ProductID,
		Price:     *p.PriceValue,
		Currency:  p.Currency,
		InStock:   p.InStock,
		At:        now,
	}
}

func priceDiffers(a, b *float64) bool {
	switch {
	case a == nil && b == nil:
		return false
	case a == nil || b == nil:
		return true
	default:
		return *a != *b
	}
}
