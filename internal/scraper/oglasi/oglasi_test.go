package oglasi

import (
	"strings"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/require"

	"github.com/srdjanbozic/Real-Estate-Data-Collection-System/internal/listing"
)

const indexPage = `
<html><body>
<div class="fpogl-holder">
  <div class="fpogl-list-title"><a href="/nekretnine/izdavanje-stanova/dvosoban-stan-grbavica-123456?utm_source=list"><h2>Dvosoban stan, Grbavica</h2></a></div>
  <div class="fpogl-categories">
    <a itemprop="category" href="/">Oglasi</a>
    <a itemprop="category" href="/nekretnine">Nekretnine</a>
    <a itemprop="category" href="/nekretnine/izdavanje-stanova">Izdavanje stanova</a>
    <a itemprop="category" href="/nekretnine/izdavanje-stanova/novi-sad">Novi Sad</a>
  </div>
  <span class="text-price"><strong>450 €</strong></span>
  <div class="fpogl-list-info">Stan • dvosoban • 52 m² • 2. sprat</div>
  <img src="https://cdn.oglasi.rs/slike/123456.jpg"/>
  <div class="visible-sm time">15.3.2025 u 09:20</div>
</div>
<div class="fpogl-holder">
  <div class="fpogl-list-title"><a href="https://www.oglasi.rs/nekretnine/izdavanje-stanova/garsonjera-centar-654321"><h2>Garsonjera u centru</h2></a></div>
  <span class="text-price"><strong>Po dogovoru</strong></span>
  <div class="fpogl-list-info">Stan • garsonjera • 28 m²</div>
</div>
<div class="fpogl-holder">
  <div class="fpogl-list-title"><h2>Pokvaren oglas bez linka</h2></div>
</div>
<ul class="pagination"><li><a href="?p=2">2</a></li></ul>
</body></html>`

func newScraper(t *testing.T) *Scraper {
	t.Helper()
	s, err := New(listing.SourceConfig{
		Name:    "oglasi",
		BaseURL: "https://www.oglasi.rs/nekretnine/izdavanje-stanova/novi-sad?s=d",
		Kind:    "static",
	})
	require.NoError(t, err)
	return s.(*Scraper)
}

func parseDoc(t *testing.T, html string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)
	return doc
}

func TestNewRequiresBaseURL(t *testing.T) {
	t.Parallel()
	_, err := New(listing.SourceConfig{Name: "oglasi"})
	require.Error(t, err)
}

func TestPageURL(t *testing.T) {
	t.Parallel()
	s := newScraper(t)

	require.Equal(t, "https://www.oglasi.rs/nekretnine/izdavanje-stanova/novi-sad?s=d", s.PageURL(1))
	require.Equal(t, "https://www.oglasi.rs/nekretnine/izdavanje-stanova/novi-sad?s=d&p=2", s.PageURL(2))

	plain, err := New(listing.SourceConfig{Name: "oglasi", BaseURL: "https://www.oglasi.rs/stanovi"})
	require.NoError(t, err)
	require.Equal(t, "https://www.oglasi.rs/stanovi?p=3", plain.PageURL(3))
}

func TestExtractRefs(t *testing.T) {
	t.Parallel()
	s := newScraper(t)
	refs := s.ExtractRefs(parseDoc(t, indexPage))

	require.Len(t, refs, 2, "card without a link is skipped")

	first := refs[0]
	require.Equal(t, "https://www.oglasi.rs/nekretnine/izdavanje-stanova/dvosoban-stan-grbavica-123456", first.URL, "tracking params stripped, relative href resolved")
	require.Equal(t, "dvosoban-stan-grbavica-123456", first.ExternalID)
	require.Equal(t, "Dvosoban stan, Grbavica", first.Title)
	require.Equal(t, "450 €", first.PriceText)
	require.Equal(t, "Novi Sad", first.Location, "site-level breadcrumbs dropped")
	require.Equal(t, "https://cdn.oglasi.rs/slike/123456.jpg", first.ImageURL)
	require.Contains(t, first.PostedText, "15.3.2025")

	second := refs[1]
	require.Equal(t, "garsonjera-centar-654321", second.ExternalID)
	require.Equal(t, "Po dogovoru", second.PriceText)
}

func TestHasMore(t *testing.T) {
	t.Parallel()
	s := newScraper(t)

	require.True(t, s.HasMore(parseDoc(t, indexPage), 1))
	require.False(t, s.HasMore(parseDoc(t, indexPage), 2), "no p=3 link on the page")
	require.False(t, s.HasMore(parseDoc(t, `<html><body><p>Nema oglasa</p></body></html>`), 1))
}

func TestNormalize(t *testing.T) {
	t.Parallel()
	s := newScraper(t)
	refs := s.ExtractRefs(parseDoc(t, indexPage))
	require.NotEmpty(t, refs)

	l, err := s.Normalize(refs[0])
	require.NoError(t, err)
	require.Equal(t, "oglasi", l.Source)
	require.Equal(t, "dvosoban-stan-grbavica-123456", l.ExternalID)
	require.Equal(t, 450.0, l.Price)
	require.Equal(t, 52, l.Area)
	require.Equal(t, "dvosoban", l.Rooms)
	require.Equal(t, listing.TypeRent, l.Type)
	require.Equal(t, time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC), l.PostedAt)

	// Price-on-request card yields a zero price, not an error.
	l, err = s.Normalize(refs[1])
	require.NoError(t, err)
	require.Zero(t, l.Price)
	require.Equal(t, "garsonjera", l.Rooms)

	_, err = s.Normalize(listing.RawListing{})
	require.Error(t, err, "a record without a url is unusable")
}

func TestNormalizeSaleSource(t *testing.T) {
	t.Parallel()
	s, err := New(listing.SourceConfig{
		Name:        "oglasi-prodaja",
		BaseURL:     "https://www.oglasi.rs/nekretnine/prodaja-stanova/novi-sad?s=d&rt=vlasnik",
		Kind:        "static",
		ListingType: "sale",
	})
	require.NoError(t, err)

	l, err := s.Normalize(listing.RawListing{
		URL:       "https://www.oglasi.rs/nekretnine/prodaja-stanova/trosoban-stan-centar-987654",
		PriceText: "119.000 EUR",
		RoomsText: "Stan • trosoban • 74 m2",
	})
	require.NoError(t, err)
	require.Equal(t, "oglasi-prodaja", l.Source, "sale index is its own source, never mixed with rentals")
	require.Equal(t, listing.TypeSale, l.Type)
	require.Equal(t, 119000.0, l.Price)
	require.Equal(t, "trosoban", l.Rooms)
}

func TestNewRejectsUnknownListingType(t *testing.T) {
	t.Parallel()
	_, err := New(listing.SourceConfig{
		Name:        "oglasi",
		BaseURL:     "https://www.oglasi.rs/stanovi",
		ListingType: "timeshare",
	})
	require.ErrorContains(t, err, "listing type")
}
