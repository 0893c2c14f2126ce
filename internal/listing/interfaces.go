package listing

import (
	"context"
	"time"
)

// Store is the single consistency boundary for listings and their price
// history. All writers go through this contract; records are never mutated
// directly.
type Store interface {
	// GetBySourceID looks a listing up by its (source, externalID) identity.
	// Returns ErrNotFound when no such listing exists.
	GetBySourceID(ctx context.Context, source, externalID string) (Listing, error)
	// GetByURL looks a listing up by its canonical URL.
	GetByURL(ctx context.Context, url string) (Listing, error)
	// Insert creates a new listing together with its "created" history entry.
	Insert(ctx context.Context, l Listing) error
	// UpdatePrice sets a new price, refreshes last-seen, and appends a
	// history entry of the given kind in one atomic mutation.
	UpdatePrice(ctx context.Context, id string, price float64, kind ChangeKind, at time.Time) error
	// Refresh updates non-price attributes in place, with no history entry.
	Refresh(ctx context.Context, id string, l Listing) error
	// Touch advances last-seen only.
	Touch(ctx context.Context, id string, at time.Time) error
	// StaleCandidates returns listings for the source whose last-seen is
	// older than cutoff and whose newest history entry is not "removed".
	StaleCandidates(ctx context.Context, source string, cutoff time.Time) ([]Listing, error)
	// MarkRemoved appends a "removed" history entry repeating the listing's
	// current price. It is a no-op if the newest entry is already "removed".
	MarkRemoved(ctx context.Context, id string, at time.Time) error
	// History returns the price history for a listing, oldest first.
	History(ctx context.Context, id string) ([]PriceHistoryEntry, error)
}

// Fetcher retrieves the rendered content of one page. Anti-bot evasion,
// TLS, and rendering are implementation concerns.
type Fetcher interface {
	Fetch(ctx context.Context, url string, hints WaitHints) ([]byte, error)
}

// Clock returns the current time (swappable for tests).
type Clock interface {
	Now() time.Time
}
