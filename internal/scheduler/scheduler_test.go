package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/require"

	"github.com/srdjanbozic/Real-Estate-Data-Collection-System/internal/listing"
	"github.com/srdjanbozic/Real-Estate-Data-Collection-System/internal/scraper"
)

type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

// stubScraper walks pages of "card" divs produced by the stub fetcher.
type stubScraper struct {
	source   string
	baseURL  string
	morePast int // HasMore answers true while page < morePast
}

func (s *stubScraper) Source() string { return s.source }
func (s *stubScraper) Kind() string   { return scraper.KindStatic }

func (s *stubScraper) PageURL(page int) string {
	return fmt.Sprintf("%s?p=%d", s.baseURL, page)
}

func (s *stubScraper) WaitHints() listing.WaitHints {
	return listing.WaitHints{Selector: ".card"}
}

func (s *stubScraper) ExtractRefs(doc *goquery.Document) []listing.RawListing {
	var refs []listing.RawListing
	doc.Find(".card a").Each(func(_ int, a *goquery.Selection) {
		href := a.AttrOr("href", "")
		refs = append(refs, listing.RawListing{URL: href, ExternalID: scraper.ExternalIDFromURL(href)})
	})
	return refs
}

func (s *stubScraper) HasMore(_ *goquery.Document, page int) bool {
	return page < s.morePast
}

func (s *stubScraper) Normalize(raw listing.RawListing) (listing.Listing, error) {
	if strings.Contains(raw.URL, "malformed") {
		return listing.Listing{}, errors.New("unusable card")
	}
	return listing.Listing{
		Source:     s.source,
		ExternalID: raw.ExternalID,
		URL:        raw.URL,
		Type:       listing.TypeRent,
	}, nil
}

// stubFetcher serves canned pages and records every request.
type stubFetcher struct {
	mu       sync.Mutex
	pages    map[string]string
	failures map[string]int // remaining failures per url
	calls    []string
}

func newStubFetcher() *stubFetcher {
	return &stubFetcher{pages: map[string]string{}, failures: map[string]int{}}
}

func (f *stubFetcher) Fetch(_ context.Context, url string, _ listing.WaitHints) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, url)
	if f.failures[url] > 0 {
		f.failures[url]--
		return nil, listing.NewFetchError(url, 503, errors.New("blocked"))
	}
	page, ok := f.pages[url]
	if !ok {
		return nil, listing.NewFetchError(url, 404, errors.New("no such page"))
	}
	return []byte(page), nil
}

func (f *stubFetcher) callCount(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == url {
			n++
		}
	}
	return n
}

// recordingReconciler captures every batch it receives.
type recordingReconciler struct {
	mu      sync.Mutex
	batches map[string][][]listing.Listing
}

func newRecordingReconciler() *recordingReconciler {
	return &recordingReconciler{batches: map[string][][]listing.Listing{}}
}

func (r *recordingReconciler) ReconcileBatch(_ context.Context, source string, batch []listing.Listing) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches[source] = append(r.batches[source], append([]listing.Listing(nil), batch...))
	return 0
}

func (r *recordingReconciler) lastBatch(source string) []listing.Listing {
	r.mu.Lock()
	defer r.mu.Unlock()
	got := r.batches[source]
	if len(got) == 0 {
		return nil
	}
	return got[len(got)-1]
}

func (r *recordingReconciler) batchCount(source string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.batches[source])
}

func page(urls ...string) string {
	var b strings.Builder
	b.WriteString("<html><body>")
	for _, u := range urls {
		fmt.Fprintf(&b, `<div class="card"><a href="%s"></a></div>`, u)
	}
	b.WriteString("</body></html>")
	return b.String()
}

func fastRetry() listing.RetryPolicy {
	return listing.RetryPolicy{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func newTestScheduler(t *testing.T, cfg Config, sources []listing.SourceConfig, fetcher listing.Fetcher, rec Reconciler, scrapers ...*stubScraper) *Scheduler {
	t.Helper()
	registry := scraper.NewRegistry()
	for _, st := range scrapers {
		st := st
		registry.Register(st.source, func(listing.SourceConfig) (scraper.SourceScraper, error) {
			return st, nil
		})
	}
	s, err := New(cfg, sources,
		registry,
		map[string]listing.Fetcher{scraper.KindStatic: fetcher},
		rec, fastRetry(), realClock{}, nil,
	)
	require.NoError(t, err)
	return s
}

func sourceCfg(name string) listing.SourceConfig {
	return listing.SourceConfig{Name: name, BaseURL: "https://" + name + ".example", Enabled: true, Kind: "static"}
}

func TestCycleCollectsAcrossPages(t *testing.T) {
	t.Parallel()
	st := &stubScraper{source: "alpha", baseURL: "https://alpha.example", morePast: 10}
	fetcher := newStubFetcher()
	fetcher.pages["https://alpha.example?p=1"] = page("https://alpha.example/ad-1", "https://alpha.example/ad-2")
	fetcher.pages["https://alpha.example?p=2"] = page("https://alpha.example/ad-3")
	fetcher.pages["https://alpha.example?p=3"] = page("https://alpha.example/ad-4")
	rec := newRecordingReconciler()

	s := newTestScheduler(t, Config{MaxPages: 2}, []listing.SourceConfig{sourceCfg("alpha")}, fetcher, rec, st)
	result := s.runCycle(context.Background(), s.jobs[0])

	require.Equal(t, 2, result.PagesVisited, "pagination capped even though the site reports more")
	require.Equal(t, 3, result.Records)
	require.Zero(t, result.Errors)
	require.Zero(t, fetcher.callCount("https://alpha.example?p=3"))

	batch := rec.lastBatch("alpha")
	require.Len(t, batch, 3)
	require.Equal(t, "ad-1", batch[0].ExternalID)
	require.Equal(t, "ad-3", batch[2].ExternalID)
}

func TestCycleStopsWhenNoMorePages(t *testing.T) {
	t.Parallel()
	st := &stubScraper{source: "alpha", baseURL: "https://alpha.example", morePast: 1}
	fetcher := newStubFetcher()
	fetcher.pages["https://alpha.example?p=1"] = page("https://alpha.example/ad-1")
	rec := newRecordingReconciler()

	s := newTestScheduler(t, Config{MaxPages: 5}, []listing.SourceConfig{sourceCfg("alpha")}, fetcher, rec, st)
	result := s.runCycle(context.Background(), s.jobs[0])

	require.Equal(t, 1, result.PagesVisited)
	require.Zero(t, fetcher.callCount("https://alpha.example?p=2"))
}

func TestCycleRetriesFetch(t *testing.T) {
	t.Parallel()
	st := &stubScraper{source: "alpha", baseURL: "https://alpha.example", morePast: 1}
	fetcher := newStubFetcher()
	url := "https://alpha.example?p=1"
	fetcher.pages[url] = page("https://alpha.example/ad-1")
	fetcher.failures[url] = 1
	rec := newRecordingReconciler()

	s := newTestScheduler(t, Config{MaxPages: 1}, []listing.SourceConfig{sourceCfg("alpha")}, fetcher, rec, st)
	result := s.runCycle(context.Background(), s.jobs[0])

	require.Equal(t, 2, fetcher.callCount(url), "blocked fetch retried with backoff")
	require.Equal(t, 1, result.PagesVisited)
	require.Zero(t, result.Errors)
	require.Len(t, rec.lastBatch("alpha"), 1)
}

func TestCycleGivesUpAfterRetriesExhausted(t *testing.T) {
	t.Parallel()
	st := &stubScraper{source: "alpha", baseURL: "https://alpha.example", morePast: 10}
	fetcher := newStubFetcher()
	url := "https://alpha.example?p=1"
	fetcher.pages[url] = page("https://alpha.example/ad-1")
	fetcher.failures[url] = 5
	rec := newRecordingReconciler()

	s := newTestScheduler(t, Config{MaxPages: 3}, []listing.SourceConfig{sourceCfg("alpha")}, fetcher, rec, st)
	result := s.runCycle(context.Background(), s.jobs[0])

	require.Equal(t, 2, fetcher.callCount(url), "policy allows two attempts")
	require.Zero(t, result.PagesVisited)
	require.Equal(t, 1, result.Errors)
}

func TestCycleSkipsMalformedCards(t *testing.T) {
	t.Parallel()
	st := &stubScraper{source: "alpha", baseURL: "https://alpha.example", morePast: 1}
	fetcher := newStubFetcher()
	fetcher.pages["https://alpha.example?p=1"] = page(
		"https://alpha.example/ad-1",
		"https://alpha.example/malformed",
		"https://alpha.example/ad-2",
	)
	rec := newRecordingReconciler()

	s := newTestScheduler(t, Config{MaxPages: 1}, []listing.SourceConfig{sourceCfg("alpha")}, fetcher, rec, st)
	result := s.runCycle(context.Background(), s.jobs[0])

	require.Equal(t, 2, result.Records, "one bad card never sinks the page")
	require.Equal(t, 1, result.Errors)
	require.Len(t, rec.lastBatch("alpha"), 2)
}

func TestSourceFailureIsolation(t *testing.T) {
	t.Parallel()
	alpha := &stubScraper{source: "alpha", baseURL: "https://alpha.example", morePast: 1}
	beta := &stubScraper{source: "beta", baseURL: "https://beta.example", morePast: 1}
	fetcher := newStubFetcher()
	// alpha's page is missing entirely; beta works.
	fetcher.pages["https://beta.example?p=1"] = page("https://beta.example/ad-9")
	rec := newRecordingReconciler()

	s := newTestScheduler(t, Config{MaxPages: 1, Concurrency: 2},
		[]listing.SourceConfig{sourceCfg("alpha"), sourceCfg("beta")}, fetcher, rec, alpha, beta)

	alphaResult := s.runCycle(context.Background(), s.jobs[0])
	betaResult := s.runCycle(context.Background(), s.jobs[1])

	require.Equal(t, 1, alphaResult.Errors)
	require.Zero(t, alphaResult.Records)
	require.Zero(t, betaResult.Errors)
	require.Equal(t, 1, betaResult.Records)
	require.Equal(t, "ad-9", rec.lastBatch("beta")[0].ExternalID)
}

func TestRunCyclesUntilCanceled(t *testing.T) {
	t.Parallel()
	st := &stubScraper{source: "alpha", baseURL: "https://alpha.example", morePast: 1}
	fetcher := newStubFetcher()
	fetcher.pages["https://alpha.example?p=1"] = page("https://alpha.example/ad-1")
	rec := newRecordingReconciler()

	s := newTestScheduler(t, Config{MaxPages: 1, CycleInterval: 10 * time.Millisecond},
		[]listing.SourceConfig{sourceCfg("alpha")}, fetcher, rec, st)

	var mu sync.Mutex
	results := 0
	s.OnResult = func(listing.JobResult) {
		mu.Lock()
		results++
		mu.Unlock()
	}

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- s.Run(ctx) }()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return results >= 2
	}, 2*time.Second, 10*time.Millisecond, "interval between cycles elapses and a new cycle starts")

	cancel()
	select {
	case err := <-runErr:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancellation")
	}
	require.GreaterOrEqual(t, rec.batchCount("alpha"), 2)
}

// trackingFetcher counts how many fetches run at the same moment.
type trackingFetcher struct {
	mu      sync.Mutex
	active  int
	maxSeen int
}

func (f *trackingFetcher) Fetch(_ context.Context, _ string, _ listing.WaitHints) ([]byte, error) {
	f.mu.Lock()
	f.active++
	if f.active > f.maxSeen {
		f.maxSeen = f.active
	}
	f.mu.Unlock()

	time.Sleep(30 * time.Millisecond)

	f.mu.Lock()
	f.active--
	f.mu.Unlock()
	return []byte(page("https://any.example/ad-1")), nil
}

func (f *trackingFetcher) max() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxSeen
}

// stuckFetcher never returns until its context is canceled.
type stuckFetcher struct {
	started chan struct{}
	once    sync.Once
}

func (f *stuckFetcher) Fetch(ctx context.Context, url string, _ listing.WaitHints) ([]byte, error) {
	f.once.Do(func() { close(f.started) })
	<-ctx.Done()
	return nil, listing.NewFetchError(url, 0, ctx.Err())
}

func TestRunBoundsConcurrentCycles(t *testing.T) {
	t.Parallel()
	scrapers := []*stubScraper{
		{source: "alpha", baseURL: "https://alpha.example", morePast: 1},
		{source: "beta", baseURL: "https://beta.example", morePast: 1},
		{source: "gamma", baseURL: "https://gamma.example", morePast: 1},
	}
	sources := []listing.SourceConfig{sourceCfg("alpha"), sourceCfg("beta"), sourceCfg("gamma")}
	fetcher := &trackingFetcher{}
	rec := newRecordingReconciler()

	s := newTestScheduler(t, Config{MaxPages: 1, Concurrency: 1, CycleInterval: time.Hour},
		sources, fetcher, rec, scrapers...)

	var mu sync.Mutex
	results := 0
	s.OnResult = func(listing.JobResult) {
		mu.Lock()
		results++
		mu.Unlock()
	}

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- s.Run(ctx) }()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return results >= 3
	}, 5*time.Second, 10*time.Millisecond, "every source completes a cycle despite one slot")

	cancel()
	select {
	case err := <-runErr:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancellation")
	}

	require.Equal(t, 1, fetcher.max(), "three sources share one concurrency slot")
}

func TestRunForceCancelsStuckCycleAfterGrace(t *testing.T) {
	t.Parallel()
	st := &stubScraper{source: "alpha", baseURL: "https://alpha.example", morePast: 1}
	fetcher := &stuckFetcher{started: make(chan struct{})}
	rec := newRecordingReconciler()

	s := newTestScheduler(t, Config{MaxPages: 1, CycleInterval: time.Hour, ShutdownGrace: 50 * time.Millisecond},
		[]listing.SourceConfig{sourceCfg("alpha")}, fetcher, rec, st)

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- s.Run(ctx) }()

	select {
	case <-fetcher.started:
	case <-time.After(2 * time.Second):
		t.Fatal("cycle never started")
	}
	cancel()

	select {
	case err := <-runErr:
		require.ErrorContains(t, err, "shutdown grace", "a hung fetch is cut loose, not waited on forever")
	case <-time.After(2 * time.Second):
		t.Fatal("Run never returned; stuck cycle was not force-canceled")
	}
}

func TestRunWithNoSourcesWaitsForCancellation(t *testing.T) {
	t.Parallel()
	s := newTestScheduler(t, Config{}, nil, newStubFetcher(), newRecordingReconciler())

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- s.Run(ctx) }()

	select {
	case err := <-runErr:
		t.Fatalf("Run returned before cancellation: %v", err)
	case <-time.After(100 * time.Millisecond):
	}

	cancel()
	select {
	case err := <-runErr:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancellation")
	}
}

func TestNewRejectsUnknownFetcherKind(t *testing.T) {
	t.Parallel()
	registry := scraper.NewRegistry()
	registry.Register("alpha", func(listing.SourceConfig) (scraper.SourceScraper, error) {
		return &stubScraper{source: "alpha", baseURL: "https://alpha.example"}, nil
	})

	_, err := New(Config{}, []listing.SourceConfig{sourceCfg("alpha")},
		registry, map[string]listing.Fetcher{}, newRecordingReconciler(), fastRetry(), realClock{}, nil)
	require.ErrorContains(t, err, "no fetcher")
}

func TestNewRejectsUnregisteredSource(t *testing.T) {
	t.Parallel()
	_, err := New(Config{}, []listing.SourceConfig{sourceCfg("ghost")},
		scraper.NewRegistry(), map[string]listing.Fetcher{}, newRecordingReconciler(), fastRetry(), realClock{}, nil)
	require.ErrorContains(t, err, "no scraper registered")
}
