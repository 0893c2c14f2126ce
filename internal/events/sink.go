package events

import "context"

// Sink consumes batches of events. Implementations must be safe for
// repeated calls, honor ctx deadlines, and may be invoked concurrently.
// A failing sink never affects reconciliation; the hub only logs it.
type Sink interface {
	Consume(ctx context.Context, batch []Event) error
	Close(ctx context.Context) error
}

// Emitter publishes individual events; Hub satisfies this interface so
// the reconciler stays agnostic about buffering and delivery.
type Emitter interface {
	Emit(evt Event)
}
