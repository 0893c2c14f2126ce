package reconcile

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/srdjanbozic/Real-Estate-Data-Collection-System/internal/events"
	"github.com/srdjanbozic/Real-Estate-Data-Collection-System/internal/listing"
	"github.com/srdjanbozic/Real-Estate-Data-Collection-System/internal/store/memory"
)

type captureEmitter struct {
	mu     sync.Mutex
	events []events.Event
}

func (c *captureEmitter) Emit(evt events.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, evt)
}

func (c *captureEmitter) all() []events.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]events.Event(nil), c.events...)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func scraped(externalID string, price float64) listing.Listing {
	return listing.Listing{
		Source:     "oglasi",
		ExternalID: externalID,
		Title:      "Dvosoban stan",
		Price:      price,
		Area:       52,
		Location:   "Novi Sad » Grbavica",
		Type:       listing.TypeRent,
		URL:        "https://www.oglasi.rs/oglas/" + externalID,
	}
}

func newTestReconciler(t *testing.T) (*Reconciler, *memory.Store, *captureEmitter, *fakeClock) {
	t.Helper()
	store := memory.New()
	emitter := &captureEmitter{}
	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	return New(store, emitter, clock, 7*24*time.Hour, nil), store, emitter, clock
}

func TestNewListingInsertsAndEmits(t *testing.T) {
	t.Parallel()
	r, store, emitter, clock := newTestReconciler(t)
	ctx := context.Background()

	failed := r.ReconcileBatch(ctx, "oglasi", []listing.Listing{scraped("stan-123", 500)})
	require.Zero(t, failed)

	got, err := store.GetBySourceID(ctx, "oglasi", "stan-123")
	require.NoError(t, err)
	require.NotEmpty(t, got.ID)
	require.Equal(t, clock.Now(), got.FirstSeen)
	require.Equal(t, clock.Now(), got.LastSeen)

	evts := emitter.all()
	require.Len(t, evts, 1)
	require.Equal(t, events.TypeNewListing, evts[0].Type)
	require.Equal(t, 500.0, evts[0].Listing.Price)
}

func TestUnchangedListingEmitsNothing(t *testing.T) {
	t.Parallel()
	r, store, emitter, clock := newTestReconciler(t)
	ctx := context.Background()
	batch := []listing.Listing{scraped("stan-123", 500)}

	require.Zero(t, r.ReconcileBatch(ctx, "oglasi", batch))
	firstSeen := clock.Now()

	clock.advance(time.Hour)
	require.Zero(t, r.ReconcileBatch(ctx, "oglasi", batch))

	evts := emitter.all()
	require.Len(t, evts, 1, "only the initial NEW_LISTING")

	got, err := store.GetBySourceID(ctx, "oglasi", "stan-123")
	require.NoError(t, err)
	require.Equal(t, firstSeen, got.FirstSeen)
	require.Equal(t, clock.Now(), got.LastSeen, "re-scrape still advances last seen")

	history, err := store.History(ctx, got.ID)
	require.NoError(t, err)
	require.Len(t, history, 1, "no history entry for an unchanged re-scrape")
}

func TestPriceDropEmitsChange(t *testing.T) {
	t.Parallel()
	r, store, emitter, clock := newTestReconciler(t)
	ctx := context.Background()

	require.Zero(t, r.ReconcileBatch(ctx, "oglasi", []listing.Listing{scraped("stan-123", 500)}))
	clock.advance(time.Hour)
	require.Zero(t, r.ReconcileBatch(ctx, "oglasi", []listing.Listing{scraped("stan-123", 450)}))

	evts := emitter.all()
	require.Len(t, evts, 2)
	change := evts[1]
	require.Equal(t, events.TypePriceChange, change.Type)
	require.Equal(t, 500.0, change.OldPrice)
	require.Equal(t, 450.0, change.NewPrice)

	got, err := store.GetBySourceID(ctx, "oglasi", "stan-123")
	require.NoError(t, err)
	require.Equal(t, 450.0, got.Price)

	history, err := store.History(ctx, got.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, listing.ChangeDecreased, history[1].Kind)
}

func TestPriceIncreaseRecordsKind(t *testing.T) {
	t.Parallel()
	r, store, _, clock := newTestReconciler(t)
	ctx := context.Background()

	require.Zero(t, r.ReconcileBatch(ctx, "oglasi", []listing.Listing{scraped("stan-123", 450)}))
	clock.advance(time.Hour)
	require.Zero(t, r.ReconcileBatch(ctx, "oglasi", []listing.Listing{scraped("stan-123", 500)}))

	got, err := store.GetBySourceID(ctx, "oglasi", "stan-123")
	require.NoError(t, err)
	history, err := store.History(ctx, got.ID)
	require.NoError(t, err)
	require.Equal(t, listing.ChangeIncreased, history[1].Kind)
}

func TestMissingPriceIsNotAChange(t *testing.T) {
	t.Parallel()
	r, store, emitter, clock := newTestReconciler(t)
	ctx := context.Background()

	require.Zero(t, r.ReconcileBatch(ctx, "oglasi", []listing.Listing{scraped("stan-123", 500)}))
	clock.advance(time.Hour)
	require.Zero(t, r.ReconcileBatch(ctx, "oglasi", []listing.Listing{scraped("stan-123", 0)}))

	require.Len(t, emitter.all(), 1)
	got, err := store.GetBySourceID(ctx, "oglasi", "stan-123")
	require.NoError(t, err)
	require.Equal(t, 500.0, got.Price, "a card without a price keeps the stored one")
}

func TestAttributeChangeRefreshesWithoutEvent(t *testing.T) {
	t.Parallel()
	r, store, emitter, clock := newTestReconciler(t)
	ctx := context.Background()

	require.Zero(t, r.ReconcileBatch(ctx, "oglasi", []listing.Listing{scraped("stan-123", 500)}))
	clock.advance(time.Hour)

	upd := scraped("stan-123", 500)
	upd.Title = "Dvosoban stan, renoviran"
	require.Zero(t, r.ReconcileBatch(ctx, "oglasi", []listing.Listing{upd}))

	require.Len(t, emitter.all(), 1, "attribute edits are silent")
	got, err := store.GetBySourceID(ctx, "oglasi", "stan-123")
	require.NoError(t, err)
	require.Equal(t, "Dvosoban stan, renoviran", got.Title)
}

func TestURLFallbackDedup(t *testing.T) {
	t.Parallel()
	r, store, emitter, clock := newTestReconciler(t)
	ctx := context.Background()

	require.Zero(t, r.ReconcileBatch(ctx, "oglasi", []listing.Listing{scraped("stan-123", 500)}))
	clock.advance(time.Hour)

	// Same URL resurfacing under a different extracted id is the same
	// listing, not a new one.
	moved := scraped("stan-123-new", 500)
	moved.URL = "https://www.oglasi.rs/oglas/stan-123"
	require.Zero(t, r.ReconcileBatch(ctx, "oglasi", []listing.Listing{moved}))

	require.Len(t, emitter.all(), 1)
	_, err := store.GetBySourceID(ctx, "oglasi", "stan-123")
	require.NoError(t, err)
}

func TestDuplicateWithinBatchProcessedOnce(t *testing.T) {
	t.Parallel()
	r, _, emitter, _ := newTestReconciler(t)
	ctx := context.Background()

	rec := scraped("stan-123", 500)
	require.Zero(t, r.ReconcileBatch(ctx, "oglasi", []listing.Listing{rec, rec}))
	require.Len(t, emitter.all(), 1)
}

func TestStaleListingFlaggedNotDeleted(t *testing.T) {
	t.Parallel()
	r, store, _, clock := newTestReconciler(t)
	ctx := context.Background()

	require.Zero(t, r.ReconcileBatch(ctx, "oglasi", []listing.Listing{scraped("stan-123", 500)}))

	// The listing disappears from the index; a week passes.
	clock.advance(8 * 24 * time.Hour)
	require.Zero(t, r.ReconcileBatch(ctx, "oglasi", nil))

	got, err := store.GetBySourceID(ctx, "oglasi", "stan-123")
	require.NoError(t, err, "stale listings are flagged, never deleted")

	history, err := store.History(ctx, got.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, listing.ChangeRemoved, history[1].Kind)
	require.Equal(t, 500.0, history[1].Price)
}

func TestFreshListingNotFlagged(t *testing.T) {
	t.Parallel()
	r, store, _, clock := newTestReconciler(t)
	ctx := context.Background()

	require.Zero(t, r.ReconcileBatch(ctx, "oglasi", []listing.Listing{scraped("stan-123", 500)}))

	// One missed cycle is far inside the staleness window.
	clock.advance(time.Hour)
	require.Zero(t, r.ReconcileBatch(ctx, "oglasi", nil))

	got, err := store.GetBySourceID(ctx, "oglasi", "stan-123")
	require.NoError(t, err)
	history, err := store.History(ctx, got.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
}

func TestFailureIsolatedToRecord(t *testing.T) {
	t.Parallel()
	store := &failingStore{Store: memory.New(), failURL: "https://www.oglasi.rs/oglas/stan-bad"}
	emitter := &captureEmitter{}
	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	r := New(store, emitter, clock, 7*24*time.Hour, nil)
	ctx := context.Background()

	batch := []listing.Listing{scraped("stan-bad", 500), scraped("stan-ok", 600)}
	failed := r.ReconcileBatch(ctx, "oglasi", batch)
	require.Equal(t, 1, failed)

	_, err := store.GetBySourceID(ctx, "oglasi", "stan-ok")
	require.NoError(t, err, "records after the failing one still commit")
	require.Len(t, emitter.all(), 1)
}

func TestInvalidRecordRejected(t *testing.T) {
	t.Parallel()
	r, _, emitter, _ := newTestReconciler(t)

	bad := scraped("stan-123", 500)
	bad.URL = ""
	failed := r.ReconcileBatch(context.Background(), "oglasi", []listing.Listing{bad})
	require.Equal(t, 1, failed)
	require.Empty(t, emitter.all())
}

// failingStore fails inserts for one URL and delegates everything else.
type failingStore struct {
	*memory.Store
	failURL string
}

func (s *failingStore) Insert(ctx context.Context, l listing.Listing) error {
	if l.URL == s.failURL {
		return errors.New("constraint violation")
	}
	return s.Store.Insert(ctx, l)
}
