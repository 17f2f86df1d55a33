// Package store persists current product state and the append-only stock and
// price history logs, detecting changes on every upsert.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"pricewatch/packages/domain"
	"pricewatch/packages/metrics"
)

// ErrPersistence wraps store read/write failures. The coordinator catches it
// at the per-product boundary and drops only that product's update.
var ErrPersistence = errors.New("persistence failure")

const schema = `
CREATE TABLE IF NOT EXISTS products (
	product_id      TEXT PRIMARY KEY,
	site_id         TEXT NOT NULL,
	name            TEXT NOT NULL,
	normalized_name TEXT NOT NULL DEFAULT '',
	price_text      TEXT NOT NULL DEFAULT '',
	price_value     DOUBLE PRECISION,
	currency        TEXT NOT NULL DEFAULT '',
	old_price_value DOUBLE PRECISION,
	detail_url      TEXT NOT NULL DEFAULT '',
	image_url       TEXT NOT NULL DEFAULT '',
	in_stock        BOOLEAN NOT NULL DEFAULT TRUE,
	category        TEXT NOT NULL DEFAULT '',
	discontinued    BOOLEAN NOT NULL DEFAULT FALSE,
	first_seen      TIMESTAMPTZ NOT NULL,
	last_checked    TIMESTAMPTZ NOT NULL,
	last_updated    TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS stock_history (
	id         BIGSERIAL PRIMARY KEY,
	product_id TEXT NOT NULL,
	previous   BOOLEAN,
	current    BOOLEAN NOT NULL,
	at         TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS price_history (
	id         BIGSERIAL PRIMARY KEY,
	product_id TEXT NOT NULL,
	price      DOUBLE PRECISION NOT NULL,
	currency   TEXT NOT NULL,
	in_stock   BOOLEAN NOT NULL,
	at         TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_stock_history_product ON stock_history (product_id, at);
CREATE INDEX IF NOT EXISTS idx_price_history_product ON price_history (product_id, at);
`

// Store is the change-detecting persistence layer over Postgres.
type Store struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return &Store{pool: pool, now: time.Now}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) WithTransaction(ctx context.Context, fn func(tx pgx.Tx) error) (err error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		} else if err != nil {
			_ = tx.Rollback(ctx)
		} else {
			err = tx.Commit(ctx)
		}
	}()

	err = fn(tx)
	return err
}

// Upsert merges one freshly parsed product into its row, appending history
// entries only on genuine transitions. Safe to call repeatedly with unchanged
// data: the second pass writes no history and reports no changes.
func (s *Store) Upsert(ctx context.Context, fresh domain.NormalizedProduct) (domain.UpsertResult, error) {
	start := s.now()
	var result domain.UpsertResult

	err := s.WithTransaction(ctx, func(tx pgx.Tx) error {
		prior, err := readProduct(ctx, tx, fresh.ProductID)
		if err != nil {
			return err
		}

		var lastPriceAt time.Time
		if prior != nil {
			lastPriceAt, err = lastPriceEntryAt(ctx, tx, fresh.ProductID)
			if err != nil {
				return err
			}
		}

		d := Decide(prior, lastPriceAt, fresh, s.now().UTC())
		result = d.UpsertResult

		if err := writeProduct(ctx, tx, d.Merged); err != nil {
			return err
		}
		if d.WriteStockEntry {
			if err := appendStockEntry(ctx, tx, d.StockEntry); err != nil {
				return err
			}
		}
		if d.WritePriceEntry {
			if err := appendPriceEntry(ctx, tx, d.PriceEntry); err != nil {
				return err
			}
		}
		return nil
	})

	metrics.DBQueryDuration.WithLabelValues("upsert_product").Observe(time.Since(start).Seconds())
	if err != nil {
		return domain.UpsertResult{}, fmt.Errorf("%w: upsert %s: %v", ErrPersistence, fresh.ProductID, err)
	}
	return result, nil
}

func readProduct(ctx context.Context, tx pgx.Tx, productID string) (*domain.NormalizedProduct, error) {
	row := tx.QueryRow(ctx, `
		SELECT product_id, site_id, name, normalized_name, price_text, price_value,
		       currency, old_price_value, detail_url, image_url, in_stock, category,
		       discontinued, first_seen, last_checked, last_updated
		FROM products WHERE product_id = $1 FOR UPDATE`, productID)

	var p domain.NormalizedProduct
	err := row.Scan(&p.ProductID, &p.SiteID, &p.Name, &p.NormalizedName, &p.PriceText,
		&p.PriceValue, &p.Currency, &p.OldPriceValue, &p.DetailURL, &p.ImageURL,
		&p.InStock, &p.Category, &p.Discontinued, &p.FirstSeen, &p.LastChecked, &p.LastUpdated)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read product %s: %w", productID, err)
	}
	return &p, nil
}

func lastPriceEntryAt(ctx context.Context, tx pgx.Tx, productID string) (time.Time, error) {
	var at *time.Time
	err := tx.QueryRow(ctx,
		`SELECT max(at) FROM price_history WHERE product_id = $1`, productID).Scan(&at)
	if err != nil {
		return time.Time{}, fmt.Errorf("read last price entry for %s: %w", productID, err)
	}
	if at == nil {
		return time.Time{}, nil
	}
	return *at, nil
}

func writeProduct(ctx context.Context, tx pgx.Tx, p domain.NormalizedProduct) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO products (product_id, site_id, name, normalized_name, price_text,
			price_value, currency, old_price_value, detail_url, image_url, in_stock,
			category, discontinued, first_seen, last_checked, last_updated)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (product_id) DO UPDATE SET
			site_id = excluded.site_id,
			name = excluded.name,
			normalized_name = excluded.normalized_name,
			price_text = excluded.price_text,
			price_value = excluded.price_value,
			currency = excluded.currency,
			old_price_value = excluded.old_price_value,
			detail_url = excluded.detail_url,
			image_url = excluded.image_url,
			in_stock = excluded.in_stock,
			category = excluded.category,
			discontinued = excluded.discontinued,
			last_checked = excluded.last_checked,
			last_updated = excluded.last_updated`,
		p.ProductID, p.SiteID, p.Name, p.NormalizedName, p.PriceText, p.PriceValue,
		p.Currency, p.OldPriceValue, p.DetailURL, p.ImageURL, p.InStock, p.Category,
		p.Discontinued, p.FirstSeen, p.LastChecked, p.LastUpdated)
	if err != nil {
		return fmt.Errorf("write product %s: %w", p.ProductID, err)
	}
	return nil
}

func appendStockEntry(ctx context.Context, tx pgx.Tx, e domain.StockHistoryEntry) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO stock_history (product_id, previous, current, at) VALUES ($1, $2, $3, $4)`,
		e.ProductID, e.Previous, e.Current, e.At)
	if err != nil {
		return fmt.Errorf("append stock entry for %s: %w", e.ProductID, err)
	}
	return nil
}

func appendPriceEntry(ctx context.Context, tx pgx.Tx, e domain.PriceHistoryEntry) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO price_history (product_id, price, currency, in_stock, at) VALUES ($1, $2, $3, $4, $5)`,
		e.ProductID, e.Price, e.Currency, e.InStock, e.At)
	if err != nil {
		return fmt.Errorf("append price entry for %s: %w", e.ProductID, err)
	}
	return nil
}

// MarkDiscontinued flags products unseen for longer than cutoff. Run by the
// reconciler binary, never by the crawl pipeline itself.
func (s *Store) MarkDiscontinued(ctx context.Context, unseenFor time.Duration) (int64, error) {
	start := s.now()
	tag, err := s.pool.Exec(ctx, `
		UPDATE products SET discontinued = TRUE, last_updated = now()
		WHERE discontinued = FALSE AND last_checked < now() - make_interval(secs => $1)`,
		unseenFor.Seconds())
	metrics.DBQueryDuration.WithLabelValues("mark_discontinued").Observe(time.Since(start).Seconds())
	if err != nil {
		return 0, fmt.Errorf("%w: mark discontinued: %v", ErrPersistence, err)
	}
	return tag.RowsAffected(), nil
}

// CountActive returns the number of non-discontinued product rows, exposed
// as a gauge for monitoring.
func (s *Store) CountActive(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM products WHERE discontinued = FALSE`).Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: count products: %v", ErrPersistence, err)
	}
	return n, nil
}
