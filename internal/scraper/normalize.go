package scraper

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	priceToken = regexp.MustCompile(`[0-9][0-9.,]*`)
	areaToken  = regexp.MustCompile(`([0-9]+)\s*m[²2]`)
)

// ParsePrice extracts a non-negative EUR amount from marketplace price
// text. Serbian sites format amounts as "45.000 €" (dot thousands) or
// "450,50 EUR" (comma decimals). Returns 0 when no amount is present;
// callers treat 0 as "price absent", never as an error value.
func ParsePrice(text string) float64 {
	// Take the first contiguous numeric token; "450 - 500 €" yields 450.
	token := priceToken.FindString(text)
	if token == "" {
		return 0
	}
	// Dots are thousands separators on Serbian sites, commas decimals.
	numeric := strings.ReplaceAll(token, ".", "")
	numeric = strings.ReplaceAll(numeric, ",", ".")
	numeric = strings.TrimRight(numeric, ".")
	price, err := strconv.ParseFloat(numeric, 64)
	if err != nil || price < 0 {
		return 0
	}
	return price
}

// ParseArea extracts square meters from feature text like "45 m²" or
// "45m2". Returns 0 when no area is present.
func ParseArea(text string) int {
	m := areaToken.FindStringSubmatch(strings.ToLower(text))
	if m == nil {
		return 0
	}
	area, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return area
}

// NormalizeLocation collapses whitespace and separator noise in location
// breadcrumbs into a single " » "-joined string.
func NormalizeLocation(parts ...string) string {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.Join(strings.Fields(p), " ")
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, " » ")
}

// CanonicalURL strips query and fragment noise so the same listing always
// maps to one URL regardless of tracking parameters.
func CanonicalURL(raw string) string {
	if idx := strings.IndexAny(raw, "?#"); idx >= 0 {
		raw = raw[:idx]
	}
	return strings.TrimRight(raw, "/")
}

// ExternalIDFromURL falls back to the last path segment when a site does
// not expose a stable identifier.
func ExternalIDFromURL(raw string) string {
	canonical := CanonicalURL(raw)
	if canonical == "" {
		return ""
	}
	segs := strings.Split(canonical, "/")
	return segs[len(segs)-1]
}

// ParsePostedDate parses the "02.01.2006" date format shared by the
// Serbian marketplaces. Extra trailing text after the date is ignored.
func ParsePostedDate(text string) (time.Time, error) {
	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) == 0 {
		return time.Time{}, fmt.Errorf("empty date text")
	}
	parts := strings.Split(fields[0], ".")
	if len(parts) < 3 {
		return time.Time{}, fmt.Errorf("unrecognized date %q", text)
	}
	t, err := time.Parse("2.1.2006", strings.Join(parts[:3], "."))
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", text, err)
	}
	return t, nil
}
