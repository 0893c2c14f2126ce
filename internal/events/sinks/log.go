// Package sinks contains the built-in event sink implementations.
package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/srdjanbozic/Real-Estate-Data-Collection-System/internal/events"
)

// Log writes every event through a zap logger. Mostly useful in
// development and as an audit trail alongside real delivery sinks.
type Log struct {
	logger *zap.Logger
}

// NewLog builds a Log sink.
func NewLog(logger *zap.Logger) *Log {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Log{logger: logger}
}

// Consume logs each event in the batch.
func (s *Log) Consume(_ context.Context, batch []events.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("source", evt.Listing.Source),
			zap.String("external_id", evt.Listing.ExternalID),
			zap.String("url", evt.Listing.URL),
			zap.Float64("price", evt.Listing.Price),
		}
		switch evt.Type {
		case events.TypeNewListing:
			s.logger.Info("new listing", fields...)
		case events.TypePriceChange:
			fields = append(fields,
				zap.Float64("old_price", evt.OldPrice),
				zap.Float64("new_price", evt.NewPrice),
			)
			s.logger.Info("price change", fields...)
		}
	}
	return nil
}

// Close implements events.Sink.
func (s *Log) Close(context.Context) error { return nil }
