// Package postgres provides the Postgres-backed ListingStore.
//
// Expected schema:
//
//	CREATE TABLE listings (
//		id UUID PRIMARY KEY,
//		source TEXT NOT NULL,
//		external_id TEXT NOT NULL,
//		title TEXT,
//		price NUMERIC NOT NULL DEFAULT 0,
//		area INT NOT NULL DEFAULT 0,
//		rooms TEXT,
//		location TEXT,
//		description TEXT,
//		listing_type TEXT NOT NULL,
//		url TEXT NOT NULL UNIQUE,
//		image_url TEXT,
//		posted_at TIMESTAMPTZ,
//		first_seen TIMESTAMPTZ NOT NULL,
//		last_seen TIMESTAMPTZ NOT NULL,
//		UNIQUE (source, external_id)
//	);
//
//	CREATE TABLE listing_history (
//		id BIGSERIAL PRIMARY KEY,
//		listing_id UUID NOT NULL REFERENCES listings(id),
//		price NUMERIC NOT NULL,
//		changed_at TIMESTAMPTZ NOT NULL,
//		change_kind TEXT NOT NULL
//	);
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/srdjanbozic/Real-Estate-Data-Collection-System/internal/listing"
	"github.com/srdjanbozic/Real-Estate-Data-Collection-System/internal/metrics"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

// pool is the slice of pgxpool.Pool the store needs; pgxmock satisfies it.
type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// Store implements listing.Store on top of pgxpool. Mutations that touch
// both the listing row and its history run in one transaction so each
// record's update is atomic.
type Store struct {
	pool  pool
	retry listing.RetryPolicy
}

// New connects a Store using the provided config.
func New(ctx context.Context, cfg Config, retry listing.RetryPolicy) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		metrics.ObserveDBError()
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := p.Ping(ctx); err != nil {
		p.Close()
		metrics.ObserveDBError()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{pool: p, retry: retry}, nil
}

// NewWithPool constructs a store from an existing pool (primarily for
// testing).
func NewWithPool(p pool, retry listing.RetryPolicy) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: p, retry: retry}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

const listingColumns = `id, source, external_id, title, price, area, rooms, location,
	description, listing_type, url, image_url, posted_at, first_seen, last_seen`

// GetBySourceID looks a listing up by its identity pair.
func (s *Store) GetBySourceID(ctx context.Context, source, externalID string) (listing.Listing, error) {
	query := `SELECT ` + listingColumns + ` FROM listings WHERE source = $1 AND external_id = $2`
	return s.queryOne(ctx, query, source, externalID)
}

// GetByURL looks a listing up by its canonical URL.
func (s *Store) GetByURL(ctx context.Context, url string) (listing.Listing, error) {
	query := `SELECT ` + listingColumns + ` FROM listings WHERE url = $1`
	return s.queryOne(ctx, query, url)
}

// Insert creates the listing row and its "created" history entry in one
// transaction.
func (s *Store) Insert(ctx context.Context, l listing.Listing) error {
	return s.withRetry(ctx, func(ctx context.Context) error {
		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin insert: %w", err)
		}
		defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

		_, err = tx.Exec(ctx, `
INSERT INTO listings (`+listingColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
			l.ID, l.Source, l.ExternalID, l.Title, l.Price, l.Area, l.Rooms, l.Location,
			l.Description, string(l.Type), l.URL, l.ImageURL, nullableTime(l.PostedAt),
			l.FirstSeen, l.LastSeen,
		)
		if err != nil {
			return fmt.Errorf("insert listing: %w", err)
		}
		_, err = tx.Exec(ctx, `
INSERT INTO listing_history (listing_id, price, changed_at, change_kind)
VALUES ($1, $2, $3, $4)`,
			l.ID, l.Price, l.FirstSeen, string(listing.ChangeCreated),
		)
		if err != nil {
			return fmt.Errorf("insert history: %w", err)
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit insert: %w", err)
		}
		return nil
	})
}

// UpdatePrice sets the new price, refreshes last-seen, and appends the
// matching history entry in one transaction.
func (s *Store) UpdatePrice(ctx context.Context, id string, price float64, kind listing.ChangeKind, at time.Time) error {
	return s.withRetry(ctx, func(ctx context.Context) error {
		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin price update: %w", err)
		}
		defer tx.Rollback(ctx) //nolint:errcheck

		tag, err := tx.Exec(ctx,
			`UPDATE listings SET price = $1, last_seen = $2 WHERE id = $3`,
			price, at, id,
		)
		if err != nil {
			return fmt.Errorf("update price: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return listing.ErrNotFound
		}
		_, err = tx.Exec(ctx, `
INSERT INTO listing_history (listing_id, price, changed_at, change_kind)
VALUES ($1, $2, $3, $4)`,
			id, price, at, string(kind),
		)
		if err != nil {
			return fmt.Errorf("insert history: %w", err)
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit price update: %w", err)
		}
		return nil
	})
}

// Refresh updates non-price attributes in place; no history entry.
func (s *Store) Refresh(ctx context.Context, id string, l listing.Listing) error {
	return s.withRetry(ctx, func(ctx context.Context) error {
		tag, err := s.pool.Exec(ctx, `
UPDATE listings SET title = $1, area = $2, rooms = $3, location = $4,
	description = $5, image_url = $6, last_seen = $7
WHERE id = $8`,
			l.Title, l.Area, l.Rooms, l.Location, l.Description, l.ImageURL, l.LastSeen, id,
		)
		if err != nil {
			return fmt.Errorf("refresh listing: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return listing.ErrNotFound
		}
		return nil
	})
}

// Touch advances last-seen only.
func (s *Store) Touch(ctx context.Context, id string, at time.Time) error {
	return s.withRetry(ctx, func(ctx context.Context) error {
		tag, err := s.pool.Exec(ctx,
			`UPDATE listings SET last_seen = $1 WHERE id = $2`, at, id)
		if err != nil {
			return fmt.Errorf("touch listing: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return listing.ErrNotFound
		}
		return nil
	})
}

// StaleCandidates returns listings for the source unseen since cutoff
// whose newest history entry is not already "removed".
func (s *Store) StaleCandidates(ctx context.Context, source string, cutoff time.Time) ([]listing.Listing, error) {
	query := `
SELECT ` + listingColumns + ` FROM listings l
WHERE l.source = $1 AND l.last_seen < $2
AND COALESCE((
	SELECT h.change_kind FROM listing_history h
	WHERE h.listing_id = l.id
	ORDER BY h.changed_at DESC, h.id DESC LIMIT 1
), '') <> 'removed'`
	rows, err := s.pool.Query(ctx, query, source, cutoff)
	if err != nil {
		metrics.ObserveDBError()
		return nil, fmt.Errorf("query stale candidates: %w", err)
	}
	defer rows.Close()

	var out []listing.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, fmt.Errorf("scan stale candidate: %w", err)
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stale candidates: %w", err)
	}
	return out, nil
}

// MarkRemoved appends a "removed" history entry repeating the listing's
// current price. The guard keeps consecutive removed entries out even if
// two jobs race on the same listing.
func (s *Store) MarkRemoved(ctx context.Context, id string, at time.Time) error {
	return s.withRetry(ctx, func(ctx context.Context) error {
		_, err := s.pool.Exec(ctx, `
INSERT INTO listing_history (listing_id, price, changed_at, change_kind)
SELECT l.id, l.price, $2, 'removed' FROM listings l
WHERE l.id = $1
AND COALESCE((
	SELECT h.change_kind FROM listing_history h
	WHERE h.listing_id = l.id
	ORDER BY h.changed_at DESC, h.id DESC LIMIT 1
), '') <> 'removed'`,
			id, at,
		)
		if err != nil {
			return fmt.Errorf("mark removed: %w", err)
		}
		return nil
	})
}

// History returns the price history for a listing, oldest first.
func (s *Store) History(ctx context.Context, id string) ([]listing.PriceHistoryEntry, error) {
	rows, err := s.pool.Query(ctx, `
SELECT listing_id, price, changed_at, change_kind FROM listing_history
WHERE listing_id = $1 ORDER BY changed_at ASC, id ASC`, id)
	if err != nil {
		metrics.ObserveDBError()
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []listing.PriceHistoryEntry
	for rows.Next() {
		var (
			entry listing.PriceHistoryEntry
			kind  string
		)
		if err := rows.Scan(&entry.ListingID, &entry.Price, &entry.At, &kind); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		entry.Kind = listing.ChangeKind(kind)
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return out, nil
}

func (s *Store) queryOne(ctx context.Context, query string, args ...any) (listing.Listing, error) {
	row := s.pool.QueryRow(ctx, query, args...)
	l, err := scanListing(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return listing.Listing{}, listing.ErrNotFound
		}
		metrics.ObserveDBError()
		return listing.Listing{}, fmt.Errorf("query listing: %w", err)
	}
	return l, nil
}

func (s *Store) withRetry(ctx context.Context, op func(ctx context.Context) error) error {
	return s.retry.Do(ctx, func(ctx context.Context) error {
		opErr := op(ctx)
		if opErr != nil && !errors.Is(opErr, listing.ErrNotFound) {
			metrics.ObserveDBError()
		}
		return opErr
	})
}

func scanListing(row pgx.Row) (listing.Listing, error) {
	var (
		l        listing.Listing
		ltype    string
		postedAt *time.Time
	)
	err := row.Scan(
		&l.ID, &l.Source, &l.ExternalID, &l.Title, &l.Price, &l.Area, &l.Rooms,
		&l.Location, &l.Description, &ltype, &l.URL, &l.ImageURL, &postedAt,
		&l.FirstSeen, &l.LastSeen,
	)
	if err != nil {
		return listing.Listing{}, err
	}
	l.Type = listing.Type(ltype)
	if postedAt != nil {
		l.PostedAt = *postedAt
	}
	return l, nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
