package sinks

import (
	"context"

	"github.com/srdjanbozic/Real-Estate-Data-Collection-System/internal/events"
	"github.com/srdjanbozic/Real-Estate-Data-Collection-System/internal/metrics"
)

// Prometheus counts delivered events per type.
type Prometheus struct{}

// NewPrometheus builds the metrics sink.
func NewPrometheus() *Prometheus {
	return &Prometheus{}
}

// Consume increments the notification counters.
func (s *Prometheus) Consume(_ context.Context, batch []events.Event) error {
	for _, evt := range batch {
		metrics.ObserveNotification(string(evt.Type))
	}
	return nil
}

// Close implements events.Sink.
func (s *Prometheus) Close(context.Context) error { return nil }
