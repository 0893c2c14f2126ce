// Package scraper defines the polymorphic contract every marketplace
// strategy implements, plus the registry mapping source names to
// constructors.
package scraper

import (
	"fmt"
	"sort"

	"github.com/PuerkitoBio/goquery"

	"github.com/srdjanbozic/Real-Estate-Data-Collection-System/internal/listing"
)

// Fetch kinds a strategy can request from the scheduler.
const (
	KindStatic   = "static"
	KindHeadless = "headless"
)

// SourceScraper turns index pages of one marketplace into raw listing
// records. Implementations must tolerate partial or missing fields and
// never fail hard on a single malformed card.
type SourceScraper interface {
	// Source returns the stable source identifier (e.g. "oglasi").
	Source() string
	// Kind reports which fetcher the strategy needs.
	Kind() string
	// PageURL builds the index URL for a 1-based page number.
	PageURL(page int) string
	// WaitHints tells the fetcher what readiness looks like for this site.
	WaitHints() listing.WaitHints
	// ExtractRefs parses one index page into zero or more raw records.
	ExtractRefs(doc *goquery.Document) []listing.RawListing
	// HasMore reports whether discovery should continue past this page.
	// The scheduler caps pages regardless of this signal.
	HasMore(doc *goquery.Document, page int) bool
	// Normalize maps a raw record into the canonical listing schema.
	Normalize(raw listing.RawListing) (listing.Listing, error)
}

// Constructor builds a strategy for a configured source.
type Constructor func(cfg listing.SourceConfig) (SourceScraper, error)

// ListingType resolves a configured listing type, defaulting to rent.
// Strategies call this from their constructors so a rental index and a
// sales index share one implementation.
func ListingType(configured string) (listing.Type, error) {
	switch configured {
	case "", string(listing.TypeRent):
		return listing.TypeRent, nil
	case string(listing.TypeSale):
		return listing.TypeSale, nil
	default:
		return "", fmt.Errorf("unknown listing type %q", configured)
	}
}

// Registry maps source names to strategy constructors.
type Registry struct {
	constructors map[string]Constructor
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{constructors: map[string]Constructor{}}
}

// Register adds a constructor under the given source name. Registering the
// same name twice is a programming error.
func (r *Registry) Register(name string, c Constructor) {
	if _, dup := r.constructors[name]; dup {
		panic(fmt.Sprintf("scraper: duplicate registration for %q", name))
	}
	r.constructors[name] = c
}

// Build instantiates the strategy registered for cfg.Name.
func (r *Registry) Build(cfg listing.SourceConfig) (SourceScraper, error) {
	c, ok := r.constructors[cfg.Name]
	if !ok {
		return nil, fmt.Errorf("no scraper registered for source %q", cfg.Name)
	}
	return c(cfg)
}

// Names lists the registered source names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.constructors))
	for name := range r.constructors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
