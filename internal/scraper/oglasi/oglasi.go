// Package oglasi implements the paginated-index strategy for oglasi.rs.
package oglasi

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/srdjanbozic/Real-Estate-Data-Collection-System/internal/listing"
	"github.com/srdjanbozic/Real-Estate-Data-Collection-System/internal/scraper"
)

const sourceName = "oglasi"

// Scraper extracts listings from the oglasi.rs index pages. The same
// markup serves the rental and the sale index, so the configured listing
// type decides what the records are tagged as.
type Scraper struct {
	source      string
	baseURL     string
	listingType listing.Type
}

// New builds an oglasi.rs strategy from its source config.
func New(cfg listing.SourceConfig) (scraper.SourceScraper, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("oglasi: base_url is required")
	}
	lt, err := scraper.ListingType(cfg.ListingType)
	if err != nil {
		return nil, fmt.Errorf("oglasi: %w", err)
	}
	source := cfg.Name
	if source == "" {
		source = sourceName
	}
	return &Scraper{source: source, baseURL: cfg.BaseURL, listingType: lt}, nil
}

// Source returns the stable source identifier.
func (s *Scraper) Source() string { return s.source }

// Kind reports that index pages are server-rendered.
func (s *Scraper) Kind() string { return scraper.KindStatic }

// PageURL appends the page parameter; page 1 is the bare index.
func (s *Scraper) PageURL(page int) string {
	if page <= 1 {
		return s.baseURL
	}
	sep := "?"
	if strings.Contains(s.baseURL, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%sp=%d", s.baseURL, sep, page)
}

// WaitHints names the listing card selector so the fetcher can verify the
// index actually rendered.
func (s *Scraper) WaitHints() listing.WaitHints {
	return listing.WaitHints{Selector: ".fpogl-holder, .single-item"}
}

// ExtractRefs parses one index page into raw records. Cards missing a link
// are skipped; everything else is tolerated as-is.
func (s *Scraper) ExtractRefs(doc *goquery.Document) []listing.RawListing {
	var refs []listing.RawListing
	doc.Find(".fpogl-holder, .single-item").Each(func(_ int, card *goquery.Selection) {
		titleLink := card.Find(".fpogl-list-title a, h2 a").First()
		href, ok := titleLink.Attr("href")
		if !ok || href == "" {
			return
		}
		url := scraper.CanonicalURL(absoluteURL(href))

		refs = append(refs, listing.RawListing{
			ExternalID: scraper.ExternalIDFromURL(url),
			URL:        url,
			Title:      strings.TrimSpace(card.Find(".fpogl-list-title h2").First().Text()),
			PriceText:  strings.TrimSpace(card.Find("span.text-price strong").First().Text()),
			AreaText:   strings.TrimSpace(card.Find(".fpogl-list-info").Text()),
			RoomsText:  strings.TrimSpace(card.Find(".fpogl-list-info").Text()),
			Location:   breadcrumbLocation(card),
			ImageURL:   card.Find("img").First().AttrOr("src", ""),
			PostedText: strings.TrimSpace(card.Find(".visible-sm.time, .date-published").First().Text()),
		})
	})
	return refs
}

// HasMore continues while the current page still shows cards and a
// next-page link exists.
func (s *Scraper) HasMore(doc *goquery.Document, page int) bool {
	if doc.Find(".fpogl-holder, .single-item").Length() == 0 {
		return false
	}
	return doc.Find(fmt.Sprintf(`a[href*="p=%d"]`, page+1)).Length() > 0
}

// Normalize maps a raw record into the canonical schema.
func (s *Scraper) Normalize(raw listing.RawListing) (listing.Listing, error) {
	if raw.URL == "" {
		return listing.Listing{}, fmt.Errorf("oglasi: record has no url")
	}
	externalID := raw.ExternalID
	if externalID == "" {
		externalID = scraper.ExternalIDFromURL(raw.URL)
	}
	l := listing.Listing{
		Source:     s.source,
		ExternalID: externalID,
		Title:      raw.Title,
		Price:      scraper.ParsePrice(raw.PriceText),
		Area:       scraper.ParseArea(raw.AreaText),
		Rooms:      roomsFromFeatures(raw.RoomsText),
		Location:   raw.Location,
		Type:       s.listingType,
		URL:        raw.URL,
		ImageURL:   raw.ImageURL,
	}
	if posted, err := scraper.ParsePostedDate(raw.PostedText); err == nil {
		l.PostedAt = posted
	}
	return l, nil
}

func breadcrumbLocation(card *goquery.Selection) string {
	var parts []string
	card.Find(`a[itemprop="category"]`).Each(func(_ int, a *goquery.Selection) {
		parts = append(parts, a.Text())
	})
	if len(parts) >= 4 {
		parts = parts[3:]
	}
	return scraper.NormalizeLocation(parts...)
}

func roomsFromFeatures(text string) string {
	for _, field := range strings.Split(text, "•") {
		lower := strings.ToLower(field)
		for _, marker := range []string{"garsonjera", "soban", "sobni"} {
			if strings.Contains(lower, marker) {
				return strings.TrimSpace(field)
			}
		}
	}
	return ""
}

func absoluteURL(href string) string {
	if strings.HasPrefix(href, "http") {
		return href
	}
	return "https://www.oglasi.rs" + href
}
