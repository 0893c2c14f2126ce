// Package listing defines core types shared across subsystems.
package listing

import (
	"time"
)

// Type distinguishes rental listings from sale listings.
type Type string

// Listing type values persisted in the listing store.
const (
	TypeRent Type = "rent"
	TypeSale Type = "sale"
)

// ChangeKind classifies a price history entry.
type ChangeKind string

// Change kinds recorded in listing history.
const (
	ChangeCreated   ChangeKind = "created"
	ChangeIncreased ChangeKind = "increased"
	ChangeDecreased ChangeKind = "decreased"
	ChangeRemoved   ChangeKind = "removed"
)

// Listing is the canonical record for one advertised property.
// Identity is (Source, ExternalID); URL is unique across all listings.
type Listing struct {
	ID          string    `json:"id"`
	Source      string    `json:"source"`
	ExternalID  string    `json:"external_id"`
	Title       string    `json:"title"`
	Price       float64   `json:"price"`
	Area        int       `json:"area"`
	Rooms       string    `json:"rooms"`
	Location    string    `json:"location"`
	Description string    `json:"description,omitempty"`
	Type        Type      `json:"type"`
	URL         string    `json:"url"`
	ImageURL    string    `json:"image_url,omitempty"`
	PostedAt    time.Time `json:"posted_at,omitempty"`
	FirstSeen   time.Time `json:"first_seen"`
	LastSeen    time.Time `json:"last_seen"`
}

// PriceHistoryEntry records one price event for a listing. Entries are
// appended in time order; the newest entry's price matches the listing's
// current price (a "removed" entry repeats the last known price).
type PriceHistoryEntry struct {
	ListingID string     `json:"listing_id"`
	Price     float64    `json:"price"`
	At        time.Time  `json:"at"`
	Kind      ChangeKind `json:"kind"`
}

// RawListing is the untyped record a scraper extracts from one index card.
// Fields may be empty; Normalize decides what is usable.
type RawListing struct {
	ExternalID string
	URL        string
	Title      string
	PriceText  string
	AreaText   string
	RoomsText  string
	Location   string
	ImageURL   string
	PostedText string
}

// SourceConfig describes one configured marketplace job. ListingType
// selects what the source advertises ("rent" when empty); the same
// strategy can serve a rental index and a sales index as two sources.
type SourceConfig struct {
	Name        string `mapstructure:"name"`
	BaseURL     string `mapstructure:"base_url"`
	Enabled     bool   `mapstructure:"enabled"`
	Kind        string `mapstructure:"kind"`
	ListingType string `mapstructure:"listing_type"`
}

// JobResult summarizes one completed cycle for a source. It is consumed
// synchronously and never persisted.
type JobResult struct {
	Source       string
	PagesVisited int
	Records      int
	Errors       int
	Duration     time.Duration
}

// WaitHints tells the fetcher what a scraper needs before the page content
// is considered rendered.
type WaitHints struct {
	// Selector must be present before extraction is attempted.
	Selector string
	// ScrollPasses triggers that many scroll-to-bottom rounds for pages
	// that lazy-load listings.
	ScrollPasses int
}
