// Package halooglasi implements the paginated-index strategy for
// halooglasi.com.
package halooglasi

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/srdjanbozic/Real-Estate-Data-Collection-System/internal/listing"
	"github.com/srdjanbozic/Real-Estate-Data-Collection-System/internal/scraper"
)

const sourceName = "halooglasi"

// Scraper extracts listings from halooglasi.com product-item cards.
type Scraper struct {
	source      string
	baseURL     string
	listingType listing.Type
}

// New builds a halooglasi.com strategy from its source config.
func New(cfg listing.SourceConfig) (scraper.SourceScraper, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("halooglasi: base_url is required")
	}
	lt, err := scraper.ListingType(cfg.ListingType)
	if err != nil {
		return nil, fmt.Errorf("halooglasi: %w", err)
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
	return fmt.Sprintf("%s%spage=%d", s.baseURL, sep, page)
}

// WaitHints names the card selector so the fetcher can verify the index
// actually rendered.
func (s *Scraper) WaitHints() listing.WaitHints {
	return listing.WaitHints{Selector: ".product-item"}
}

// ExtractRefs parses one index page into raw records. Cards missing a
// title link are skipped; everything else is tolerated as-is.
func (s *Scraper) ExtractRefs(doc *goquery.Document) []listing.RawListing {
	var refs []listing.RawListing
	doc.Find(".product-item").Each(func(_ int, card *goquery.Selection) {
		titleLink := card.Find("h3.product-title a").First()
		href, ok := titleLink.Attr("href")
		if !ok || href == "" {
			return
		}
		url := scraper.CanonicalURL(absoluteURL(href))

		features := featureValues(card)
		refs = append(refs, listing.RawListing{
			ExternalID: scraper.ExternalIDFromURL(url),
			URL:        url,
			Title:      strings.TrimSpace(titleLink.Text()),
			PriceText:  strings.TrimSpace(card.Find("div.central-feature span").First().Text()),
			AreaText:   features,
			RoomsText:  features,
			Location:   placesLocation(card),
			ImageURL:   card.Find("figure.pi-img-wrapper img").First().AttrOr("src", ""),
			PostedText: strings.TrimSpace(card.Find("span.publish-date").First().Text()),
		})
	})
	return refs
}

// HasMore continues while the current page still shows cards and a
// next-page link exists.
func (s *Scraper) HasMore(doc *goquery.Document, page int) bool {
	if doc.Find(".product-item").Length() == 0 {
		return false
	}
	return doc.Find(fmt.Sprintf(`a[href*="page=%d"]`, page+1)).Length() > 0
}

// Normalize maps a raw record into the canonical schema.
func (s *Scraper) Normalize(raw listing.RawListing) (listing.Listing, error) {
	if raw.URL == "" {
		return listing.Listing{}, fmt.Errorf("halooglasi: record has no url")
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

// featureValues joins the value cells of the product-features strip, the
// same strip the site uses for area, structure and floor.
func featureValues(card *goquery.Selection) string {
	var values []string
	card.Find("ul.product-features li .value-wrapper").Each(func(_ int, v *goquery.Selection) {
		if text := strings.Join(strings.Fields(v.Text()), " "); text != "" {
			values = append(values, text)
		}
	})
	return strings.Join(values, " • ")
}

func placesLocation(card *goquery.Selection) string {
	var parts []string
	card.Find("ul.subtitle-places li").Each(func(_ int, li *goquery.Selection) {
		parts = append(parts, li.Text())
	})
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
	return "https://www.halooglasi.com" + href
}
