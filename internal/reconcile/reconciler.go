// Package reconcile diffs freshly scraped listing batches against the
// listing store and commits the minimal set of mutations, emitting at
// most one event per logical change.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/srdjanbozic/Real-Estate-Data-Collection-System/internal/events"
	"github.com/srdjanbozic/Real-Estate-Data-Collection-System/internal/listing"
	"github.com/srdjanbozic/Real-Estate-Data-Collection-System/internal/metrics"
)

// Reconciler converts normalized listing batches into store mutations.
// Each record commits independently; a failure partway through a batch
// keeps everything already reconciled.
type Reconciler struct {
	store   listing.Store
	emitter events.Emitter
	clock   listing.Clock
	logger  *zap.Logger

	// keyLocks guards against concurrent upserts of the same identity.
	// One job per source makes collisions unlikely, but the store
	// contract is defended regardless.
	mu       sync.Mutex
	keyLocks map[string]*sync.Mutex

	stalenessWindow time.Duration
}

// New constructs a Reconciler.
func New(
	store listing.Store,
	emitter events.Emitter,
	clock listing.Clock,
	stalenessWindow time.Duration,
	logger *zap.Logger,
) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		store:           store,
		emitter:         emitter,
		clock:           clock,
		logger:          logger,
		keyLocks:        map[string]*sync.Mutex{},
		stalenessWindow: stalenessWindow,
	}
}

// ReconcileBatch applies one source's batch record by record, then flags
// stale listings for that source. Returns the number of records that
// failed to commit.
func (r *Reconciler) ReconcileBatch(ctx context.Context, source string, batch []listing.Listing) int {
	failed := 0
	seen := make(map[string]struct{}, len(batch))
	for _, rec := range batch {
		if err := ctx.Err(); err != nil {
			return failed + len(batch) - len(seen)
		}
		key := rec.Source + "\x00" + rec.ExternalID
		if _, dup := seen[key]; dup {
			// The same card can appear on two pages within one run.
			metrics.ObserveSkipped(source)
			continue
		}
		seen[key] = struct{}{}
		if err := r.reconcileOne(ctx, rec); err != nil {
			failed++
			metrics.ObserveScrapeError(source)
			r.logger.Warn("record reconciliation failed",
				zap.String("source", source),
				zap.String("url", rec.URL),
				zap.Error(err),
			)
			continue
		}
		metrics.ObserveProcessed(source)
	}

	if err := r.flagStale(ctx, source); err != nil {
		r.logger.Warn("stale flagging failed", zap.String("source", source), zap.Error(err))
	}
	return failed
}

func (r *Reconciler) reconcileOne(ctx context.Context, rec listing.Listing) error {
	if rec.Source == "" || rec.URL == "" {
		return fmt.Errorf("record missing identity fields")
	}
	unlock := r.lockKey(rec.Source, rec.ExternalID)
	defer unlock()

	now := r.clock.Now()

	existing, err := r.lookup(ctx, rec)
	switch {
	case errors.Is(err, listing.ErrNotFound):
		return r.insertNew(ctx, rec, now)
	case err != nil:
		return err
	}

	if priceDiffers(existing.Price, rec.Price) {
		return r.updatePrice(ctx, existing, rec, now)
	}
	if attributesDiffer(existing, rec) {
		rec.LastSeen = now
		if err := r.store.Refresh(ctx, existing.ID, rec); err != nil {
			return fmt.Errorf("refresh attributes: %w", err)
		}
		return nil
	}
	// Unchanged re-scrape; the steady state is mostly this path.
	metrics.ObserveSkipped(rec.Source)
	if err := r.store.Touch(ctx, existing.ID, now); err != nil {
		return fmt.Errorf("touch listing: %w", err)
	}
	return nil
}

// lookup checks both dedup keys: the identity pair first, then the
// canonical URL. Either collision means the same logical listing.
func (r *Reconciler) lookup(ctx context.Context, rec listing.Listing) (listing.Listing, error) {
	if rec.ExternalID != "" {
		l, err := r.store.GetBySourceID(ctx, rec.Source, rec.ExternalID)
		if err == nil {
			return l, nil
		}
		if !errors.Is(err, listing.ErrNotFound) {
			return listing.Listing{}, err
		}
	}
	return r.store.GetByURL(ctx, rec.URL)
}

func (r *Reconciler) insertNew(ctx context.Context, rec listing.Listing, now time.Time) error {
	rec.ID = uuid.NewString()
	rec.FirstSeen = now
	rec.LastSeen = now
	if err := r.store.Insert(ctx, rec); err != nil {
		return fmt.Errorf("insert listing: %w", err)
	}
	r.emitter.Emit(events.Event{
		Type:    events.TypeNewListing,
		Listing: rec,
		At:      now,
	})
	return nil
}

func (r *Reconciler) updatePrice(ctx context.Context, existing, rec listing.Listing, now time.Time) error {
	kind := listing.ChangeIncreased
	if rec.Price < existing.Price {
		kind = listing.ChangeDecreased
	}
	if err := r.store.UpdatePrice(ctx, existing.ID, rec.Price, kind, now); err != nil {
		return fmt.Errorf("update price: %w", err)
	}
	snapshot := existing
	snapshot.Price = rec.Price
	snapshot.LastSeen = now
	r.emitter.Emit(events.Event{
		Type:     events.TypePriceChange,
		Listing:  snapshot,
		OldPrice: existing.Price,
		NewPrice: rec.Price,
		At:       now,
	})
	return nil
}

// flagStale marks listings unseen for longer than the staleness window.
// A single missed batch never flags anything; the window is the grace
// period against misreading one failed page fetch as a delisting.
func (r *Reconciler) flagStale(ctx context.Context, source string) error {
	cutoff := r.clock.Now().Add(-r.stalenessWindow)
	candidates, err := r.store.StaleCandidates(ctx, source, cutoff)
	if err != nil {
		return fmt.Errorf("stale candidates: %w", err)
	}
	now := r.clock.Now()
	for _, l := range candidates {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.store.MarkRemoved(ctx, l.ID, now); err != nil {
			r.logger.Warn("mark removed failed",
				zap.String("source", source),
				zap.String("url", l.URL),
				zap.Error(err),
			)
		}
	}
	return nil
}

func (r *Reconciler) lockKey(source, externalID string) func() {
	key := source + "\x00" + externalID
	r.mu.Lock()
	lock, ok := r.keyLocks[key]
	if !ok {
		lock = &sync.Mutex{}
		r.keyLocks[key] = lock
	}
	r.mu.Unlock()
	lock.Lock()
	return lock.Unlock
}

// priceDiffers treats an absent scraped price (zero) as "no information"
// rather than a change to zero.
func priceDiffers(oldPrice, newPrice float64) bool {
	if newPrice <= 0 {
		return false
	}
	return oldPrice != newPrice
}

func attributesDiffer(existing, rec listing.Listing) bool {
	if rec.Title != "" && rec.Title != existing.Title {
		return true
	}
	if rec.Location != "" && rec.Location != existing.Location {
		return true
	}
	if rec.Area > 0 && rec.Area != existing.Area {
		return true
	}
	if rec.Rooms != "" && rec.Rooms != existing.Rooms {
		return true
	}
	return false
}
