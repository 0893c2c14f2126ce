// Package fourzida implements the scroll-discovery strategy for 4zida.rs.
// The site lazy-loads cards, so the strategy asks for a headless fetch
// with scroll passes and tries a cascade of card selectors.
package fourzida

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/srdjanbozic/Real-Estate-Data-Collection-System/internal/listing"
	"github.com/srdjanbozic/Real-Estate-Data-Collection-System/internal/scraper"
)

const sourceName = "4zida"

// Card selectors in preference order; the site has shuffled its markup
// more than once.
var cardSelectors = []string{
	`[test-data="ad-search-card"]`,
	`[data-testid="ad-search-card"]`,
	".listing-card",
	"article",
}

// Scraper extracts listings from 4zida.rs search result pages.
type Scraper struct {
	source      string
	baseURL     string
	listingType listing.Type
}

// New builds a 4zida.rs strategy from its source config.
func New(cfg listing.SourceConfig) (scraper.SourceScraper, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("fourzida: base_url is required")
	}
	lt, err := scraper.ListingType(cfg.ListingType)
	if err != nil {
		return nil, fmt.Errorf("fourzida: %w", err)
	}
	source := cfg.Name
	if source == "" {
		source = sourceName
	}
	return &Scraper{source: source, baseURL: cfg.BaseURL, listingType: lt}, nil
}

// Source returns the stable source identifier.
func (s *Scraper) Source() string { return s.source }

// Kind reports that the page needs a rendering browser.
func (s *Scraper) Kind() string { return scraper.KindHeadless }

// PageURL appends the strana parameter; page 1 is the bare search URL.
func (s *Scraper) PageURL(page int) string {
	if page <= 1 {
		return s.baseURL
	}
	sep := "?"
	if strings.Contains(s.baseURL, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%sstrana=%d", s.baseURL, sep, page)
}

// WaitHints requests scroll passes to trigger lazy loading before the DOM
// is captured.
func (s *Scraper) WaitHints() listing.WaitHints {
	return listing.WaitHints{Selector: "body", ScrollPasses: 3}
}

// ExtractRefs finds listing cards using the selector cascade and keeps
// only cards that look like property ads (price or area present).
func (s *Scraper) ExtractRefs(doc *goquery.Document) []listing.RawListing {
	cards := s.findCards(doc)
	var refs []listing.RawListing
	cards.Each(func(_ int, card *goquery.Selection) {
		link := card.Find("a[href]").First()
		href, ok := link.Attr("href")
		if !ok || href == "" {
			return
		}
		text := card.Text()
		if !looksLikeAd(text) {
			return
		}
		url := scraper.CanonicalURL(absoluteURL(href))
		refs = append(refs, listing.RawListing{
			ExternalID: scraper.ExternalIDFromURL(url),
			URL:        url,
			Title:      firstNonEmpty(card.Find("h2, h3, .ad-title").First().Text(), link.AttrOr("title", "")),
			PriceText:  strings.TrimSpace(card.Find(`[class*="price"], .ad-price`).First().Text()),
			AreaText:   text,
			RoomsText:  text,
			Location:   strings.TrimSpace(card.Find(`[class*="location"], .ad-location`).First().Text()),
			ImageURL:   card.Find("img").First().AttrOr("src", ""),
		})
	})
	return refs
}

// HasMore continues while the current page produced cards; discovery is
// capped by the configured page limit regardless.
func (s *Scraper) HasMore(doc *goquery.Document, _ int) bool {
	return s.findCards(doc).Length() > 0
}

// Normalize maps a raw record into the canonical schema.
func (s *Scraper) Normalize(raw listing.RawListing) (listing.Listing, error) {
	if raw.URL == "" {
		return listing.Listing{}, fmt.Errorf("fourzida: record has no url")
	}
	externalID := raw.ExternalID
	if externalID == "" {
		externalID = scraper.ExternalIDFromURL(raw.URL)
	}
	return listing.Listing{
		Source:     s.source,
		ExternalID: externalID,
		Title:      strings.TrimSpace(raw.Title),
		Price:      scraper.ParsePrice(raw.PriceText),
		Area:       scraper.ParseArea(raw.AreaText),
		Rooms:      roomsFromText(raw.RoomsText),
		Location:   scraper.NormalizeLocation(raw.Location),
		Type:       s.listingType,
		URL:        raw.URL,
		ImageURL:   raw.ImageURL,
	}, nil
}

func (s *Scraper) findCards(doc *goquery.Document) *goquery.Selection {
	for _, sel := range cardSelectors {
		cards := doc.Find(sel)
		if cards.Length() > 0 {
			return cards
		}
	}
	return doc.Find(cardSelectors[0])
}

func looksLikeAd(text string) bool {
	lower := strings.ToLower(text)
	for _, marker := range []string{"€", "eur", "din", "m²", "m2", "soban", "stan", "garsonjera"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func roomsFromText(text string) string {
	for _, field := range strings.Fields(strings.ReplaceAll(text, "\n", " ")) {
		lower := strings.ToLower(field)
		if strings.Contains(lower, "soban") || strings.Contains(lower, "garsonjera") {
			return strings.TrimSpace(field)
		}
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func absoluteURL(href string) string {
	if strings.HasPrefix(href, "http") {
		return href
	}
	return "https://4zida.rs" + href
}
