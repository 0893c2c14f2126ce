// Package events defines the reconciliation outcome events and the
// non-blocking hub that fans them out to notification sinks.
package events

import (
	"errors"
	"time"

	"github.com/srdjanbozic/Real-Estate-Data-Collection-System/internal/listing"
)

// Type denotes what kind of change an Event announces.
type Type string

// Supported event types.
const (
	TypeNewListing  Type = "NEW_LISTING"
	TypePriceChange Type = "PRICE_CHANGE"
)

// Event captures one meaningful listing change. Exactly one event is
// produced per logical change; unchanged re-scrapes emit nothing.
type Event struct {
	Type Type
	// Listing is a snapshot taken at reconciliation time.
	Listing listing.Listing
	// OldPrice and NewPrice are set for price changes only.
	OldPrice float64
	NewPrice float64
	At       time.Time
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	switch e.Type {
	case TypeNewListing:
	case TypePriceChange:
		if e.OldPrice == e.NewPrice {
			return errors.New("price change event without a price difference")
		}
	default:
		return errors.New("unknown event type")
	}
	if e.Listing.Source == "" || e.Listing.URL == "" {
		return errors.New("event requires a listing snapshot")
	}
	if e.At.IsZero() {
		return errors.New("timestamp is required")
	}
	return nil
}
