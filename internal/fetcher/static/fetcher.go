// Package static implements the page fetcher for server-rendered sites
// using the Colly collector.
package static

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"

	"github.com/srdjanbozic/Real-Estate-Data-Collection-System/internal/listing"
)

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
}

// Fetcher implements listing.Fetcher using a Colly collector per fetch.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = true
	return &Fetcher{cfg: cfg, baseCollector: c}
}

// Fetch executes a single GET and returns the page body. Failures are
// classified as transient, blocked, or timeout for the retry layer.
func (f *Fetcher) Fetch(ctx context.Context, url string, hints listing.WaitHints) ([]byte, error) {
	collector := f.baseCollector.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.SetRequestTimeout(f.cfg.Timeout)

	var (
		body       []byte
		statusCode int
		fetchErr   error
	)
	collector.OnResponse(func(r *colly.Response) {
		statusCode = r.StatusCode
		body = append([]byte(nil), r.Body...)
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil {
			statusCode = r.StatusCode
		}
		fetchErr = err
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := collector.Visit(url); err != nil && fetchErr == nil {
			fetchErr = err
		}
		collector.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return nil, listing.NewFetchError(url, 0, ctx.Err())
	}

	if fetchErr != nil {
		return nil, listing.NewFetchError(url, statusCode, fetchErr)
	}
	if statusCode >= 400 {
		return nil, listing.NewFetchError(url, statusCode, fmt.Errorf("http status %d", statusCode))
	}
	if hints.Selector != "" {
		// A 200 with the expected markup missing usually means a consent
		// wall or an interstitial; surface it as a retryable fetch error
		// rather than handing an empty page to the scraper.
		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
		if err != nil {
			return nil, listing.NewFetchError(url, statusCode, fmt.Errorf("parse page: %w", err))
		}
		if doc.Find(hints.Selector).Length() == 0 {
			return nil, listing.NewFetchError(url, statusCode, fmt.Errorf("selector %q not found on page", hints.Selector))
		}
	}
	return body, nil
}
