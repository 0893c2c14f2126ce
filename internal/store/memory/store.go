// Package memory provides an in-memory ListingStore for tests and dry
// runs. Semantics mirror the Postgres store.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/srdjanbozic/Real-Estate-Data-Collection-System/internal/listing"
)

// Store implements listing.Store backed by maps.
type Store struct {
	mu      sync.RWMutex
	byKey   map[string]*listing.Listing // source + "\x00" + externalID
	byURL   map[string]string           // url -> key
	byID    map[string]string           // id -> key
	history map[string][]listing.PriceHistoryEntry
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		byKey:   map[string]*listing.Listing{},
		byURL:   map[string]string{},
		byID:    map[string]string{},
		history: map[string][]listing.PriceHistoryEntry{},
	}
}

func key(source, externalID string) string {
	return source + "\x00" + externalID
}

// GetBySourceID looks a listing up by its identity pair.
func (s *Store) GetBySourceID(_ context.Context, source, externalID string) (listing.Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.byKey[key(source, externalID)]
	if !ok {
		return listing.Listing{}, listing.ErrNotFound
	}
	return *l, nil
}

// GetByURL looks a listing up by its canonical URL.
func (s *Store) GetByURL(_ context.Context, url string) (listing.Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	k, ok := s.byURL[url]
	if !ok {
		return listing.Listing{}, listing.ErrNotFound
	}
	return *s.byKey[k], nil
}

// Insert creates a new listing with its "created" history entry.
func (s *Store) Insert(_ context.Context, l listing.Listing) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(l.Source, l.ExternalID)
	if _, dup := s.byKey[k]; dup {
		return fmt.Errorf("listing %s/%s already exists", l.Source, l.ExternalID)
	}
	if _, dup := s.byURL[l.URL]; dup {
		return fmt.Errorf("url %s already exists", l.URL)
	}
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	stored := l
	s.byKey[k] = &stored
	s.byURL[l.URL] = k
	s.byID[stored.ID] = k
	s.history[stored.ID] = append(s.history[stored.ID], listing.PriceHistoryEntry{
		ListingID: stored.ID,
		Price:     l.Price,
		At:        l.FirstSeen,
		Kind:      listing.ChangeCreated,
	})
	return nil
}

// UpdatePrice sets a new price and appends the matching history entry.
func (s *Store) UpdatePrice(_ context.Context, id string, price float64, kind listing.ChangeKind, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, err := s.lookupLocked(id)
	if err != nil {
		return err
	}
	l.Price = price
	l.LastSeen = at
	s.history[id] = append(s.history[id], listing.PriceHistoryEntry{
		ListingID: id,
		Price:     price,
		At:        at,
		Kind:      kind,
	})
	return nil
}

// Refresh updates non-price attributes in place.
func (s *Store) Refresh(_ context.Context, id string, upd listing.Listing) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, err := s.lookupLocked(id)
	if err != nil {
		return err
	}
	l.Title = upd.Title
	l.Location = upd.Location
	l.Area = upd.Area
	l.Rooms = upd.Rooms
	l.Description = upd.Description
	l.ImageURL = upd.ImageURL
	l.LastSeen = upd.LastSeen
	return nil
}

// Touch advances last-seen only.
func (s *Store) Touch(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, err := s.lookupLocked(id)
	if err != nil {
		return err
	}
	l.LastSeen = at
	return nil
}

// StaleCandidates returns listings unseen since cutoff that are not yet
// flagged removed.
func (s *Store) StaleCandidates(_ context.Context, source string, cutoff time.Time) ([]listing.Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []listing.Listing
	for _, l := range s.byKey {
		if l.Source != source || !l.LastSeen.Before(cutoff) {
			continue
		}
		if h := s.history[l.ID]; len(h) > 0 && h[len(h)-1].Kind == listing.ChangeRemoved {
			continue
		}
		out = append(out, *l)
	}
	return out, nil
}

// MarkRemoved appends a "removed" entry repeating the current price,
// unless the newest entry is already "removed".
func (s *Store) MarkRemoved(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, err := s.lookupLocked(id)
	if err != nil {
		return err
	}
	if h := s.history[id]; len(h) > 0 && h[len(h)-1].Kind == listing.ChangeRemoved {
		return nil
	}
	s.history[id] = append(s.history[id], listing.PriceHistoryEntry{
		ListingID: id,
		Price:     l.Price,
		At:        at,
		Kind:      listing.ChangeRemoved,
	})
	return nil
}

// History returns the price history for a listing, oldest first.
func (s *Store) History(_ context.Context, id string) ([]listing.PriceHistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, err := s.lookupLocked(id); err != nil {
		return nil, err
	}
	return append([]listing.PriceHistoryEntry(nil), s.history[id]...), nil
}

func (s *Store) lookupLocked(id string) (*listing.Listing, error) {
	k, ok := s.byID[id]
	if !ok {
		return nil, listing.ErrNotFound
	}
	return s.byKey[k], nil
}
