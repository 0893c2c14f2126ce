// Package scheduler runs the periodic scrape cycle for every enabled
// source, bounding concurrency and pagination, and hands normalized
// batches to the reconciler.
package scheduler

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/srdjanbozic/Real-Estate-Data-Collection-System/internal/listing"
	"github.com/srdjanbozic/Real-Estate-Data-Collection-System/internal/metrics"
	"github.com/srdjanbozic/Real-Estate-Data-Collection-System/internal/scraper"
)

// Reconciler is the downstream consumer of one cycle's batch.
type Reconciler interface {
	ReconcileBatch(ctx context.Context, source string, batch []listing.Listing) int
}

// Config tunes the scheduler.
type Config struct {
	// Concurrency caps how many source cycles run at once.
	Concurrency int
	// MaxPages caps index pagination per cycle regardless of what the
	// site reports.
	MaxPages int
	// CycleInterval is the pause between the end of one cycle and the
	// start of the next for the same source.
	CycleInterval time.Duration
	// ShutdownGrace bounds how long Run waits for in-flight cycles after
	// its context is canceled.
	ShutdownGrace time.Duration
}

func (c *Config) applyDefaults() {
	if c.Concurrency <= 0 {
		c.Concurrency = 2
	}
	if c.MaxPages <= 0 {
		c.MaxPages = 2
	}
	if c.CycleInterval <= 0 {
		c.CycleInterval = 5 * time.Minute
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = 30 * time.Second
	}
}

// job pairs a built strategy with its fetcher.
type job struct {
	scraper scraper.SourceScraper
	fetcher listing.Fetcher
}

// Scheduler owns the per-source scrape loops.
type Scheduler struct {
	cfg        Config
	jobs       []job
	reconciler Reconciler
	retry      listing.RetryPolicy
	clock      listing.Clock
	logger     *zap.Logger

	sem chan struct{}

	// OnResult, when set, receives each cycle's summary. Used by tests
	// and debug tooling; never blocks the cycle path for long.
	OnResult func(listing.JobResult)
}

// New builds a Scheduler for the given sources. Fetchers are selected by
// the strategy's declared kind; a source whose kind has no fetcher is an
// error at construction, not at runtime.
func New(
	cfg Config,
	sources []listing.SourceConfig,
	registry *scraper.Registry,
	fetchers map[string]listing.Fetcher,
	reconciler Reconciler,
	retry listing.RetryPolicy,
	clock listing.Clock,
	logger *zap.Logger,
) (*Scheduler, error) {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	jobs := make([]job, 0, len(sources))
	for _, src := range sources {
		strat, err := registry.Build(src)
		if err != nil {
			return nil, err
		}
		f, ok := fetchers[strat.Kind()]
		if !ok {
			return nil, fmt.Errorf("no fetcher for kind %q (source %q)", strat.Kind(), src.Name)
		}
		jobs = append(jobs, job{scraper: strat, fetcher: f})
	}
	return &Scheduler{
		cfg:        cfg,
		jobs:       jobs,
		reconciler: reconciler,
		retry:      retry,
		clock:      clock,
		logger:     logger,
		sem:        make(chan struct{}, cfg.Concurrency),
	}, nil
}

// Run blocks until ctx is canceled. Cancellation stops new cycles
// immediately; in-flight cycles get ShutdownGrace to finish before they
// are force-canceled.
func (s *Scheduler) Run(ctx context.Context) error {
	// No enabled sources is a valid (if useless) configuration; Run still
	// holds until cancellation instead of returning an empty success.
	if len(s.jobs) == 0 {
		s.logger.Warn("no enabled sources, idling until shutdown")
		<-ctx.Done()
		return nil
	}

	cycleCtx, cancelCycles := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelCycles()

	var wg sync.WaitGroup
	for _, j := range s.jobs {
		wg.Add(1)
		go func(j job) {
			defer wg.Done()
			s.sourceLoop(ctx, cycleCtx, j)
		}(j)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
	}
	select {
	case <-done:
		return nil
	case <-time.After(s.cfg.ShutdownGrace):
		cancelCycles()
	}
	<-done
	return fmt.Errorf("shutdown grace of %s exceeded", s.cfg.ShutdownGrace)
}

// sourceLoop runs cycles back to back with CycleInterval measured from
// cycle completion, so a slow site never causes overlapping cycles.
// ctx governs scheduling; cycleCtx governs the work itself and outlives
// ctx by the shutdown grace.
func (s *Scheduler) sourceLoop(ctx, cycleCtx context.Context, j job) {
	source := j.scraper.Source()
	for {
		if ctx.Err() != nil {
			return
		}
		result := s.runCycle(cycleCtx, j)
		s.logger.Info("cycle finished",
			zap.String("source", source),
			zap.Int("pages", result.PagesVisited),
			zap.Int("records", result.Records),
			zap.Int("errors", result.Errors),
			zap.Duration("duration", result.Duration),
		)
		if s.OnResult != nil {
			s.OnResult(result)
		}

		timer := time.NewTimer(s.cfg.CycleInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// runCycle walks index pages for one source, normalizes every card, and
// reconciles the collected batch.
func (s *Scheduler) runCycle(ctx context.Context, j job) listing.JobResult {
	source := j.scraper.Source()
	result := listing.JobResult{Source: source}

	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return result
	}
	defer func() { <-s.sem }()

	metrics.IncActiveScrapers()
	defer metrics.DecActiveScrapers()

	started := s.clock.Now()
	defer func() {
		result.Duration = s.clock.Now().Sub(started)
		metrics.ObserveCycle(source, result.Duration)
	}()

	var batch []listing.Listing
	for page := 1; page <= s.cfg.MaxPages; page++ {
		if ctx.Err() != nil {
			break
		}
		doc, err := s.fetchPage(ctx, j, page)
		if err != nil {
			result.Errors++
			metrics.ObserveScrapeError(source)
			s.logger.Warn("page fetch failed",
				zap.String("source", source),
				zap.Int("page", page),
				zap.Error(err),
			)
			break
		}
		result.PagesVisited++

		for _, raw := range j.scraper.ExtractRefs(doc) {
			rec, err := j.scraper.Normalize(raw)
			if err != nil {
				result.Errors++
				s.logger.Debug("card rejected",
					zap.String("source", source),
					zap.String("url", raw.URL),
					zap.Error(err),
				)
				continue
			}
			batch = append(batch, rec)
		}

		if !j.scraper.HasMore(doc, page) {
			break
		}
	}
	result.Records = len(batch)

	if len(batch) > 0 || result.PagesVisited > 0 {
		result.Errors += s.reconciler.ReconcileBatch(ctx, source, batch)
	}
	return result
}

// fetchPage retrieves and parses one index page, retrying transient
// failures under the shared policy.
func (s *Scheduler) fetchPage(ctx context.Context, j job, page int) (*goquery.Document, error) {
	url := j.scraper.PageURL(page)
	hints := j.scraper.WaitHints()

	var body []byte
	err := s.retry.Do(ctx, func(ctx context.Context) error {
		var fetchErr error
		body, fetchErr = j.fetcher.Fetch(ctx, url, hints)
		return fetchErr
	})
	if err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", url, err)
	}
	return doc, nil
}
