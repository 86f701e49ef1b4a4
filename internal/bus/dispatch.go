// internal/bus/dispatch.go
package bus

import (
	"context"
	"log"
	"time"

	"academic-records/internal/model"
)

// Dispatcher is an explicit event-type -> handler map built at startup.
// Registration happens once during wiring; Dispatch is safe for
// concurrent use after that.
type Dispatcher struct {
	handlers map[string]Handler
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[string]Handler)}
}

// Register maps an event type to a handler, wrapping it with logging
// and timing. Last registration for a type wins.
func (d *Dispatcher) Register(eventType string, h Handler) {
	d.handlers[eventType] = WrapHandler(eventType, h)
}

// Dispatch is itself a Handler; unknown event types are skipped, not
// failed, so one queue can carry several event families.
func (d *Dispatcher) Dispatch(ctx context.Context, ev model.DomainEvent) error {
	h, ok := d.handlers[ev.EventType]
	if !ok {
		log.Printf("[Dispatch] No handler for %s, skipping %s", ev.EventType, ev.EventID)
		return nil
	}
	return h(ctx, ev)
}

// WrapHandler applies the cross-cutting logging and timing every
// registered handler gets.
func WrapHandler(name string, h Handler) Handler {
	return func(ctx context.Context, ev model.DomainEvent) error {
		start := time.Now()
		err := h(ctx, ev)
		if err != nil {
			log.Printf("[Dispatch] %s failed for %s/%s after %s: %v",
				name, ev.TenantID, ev.AggregateID, time.Since(start), err)
			return err
		}
		log.Printf("[Dispatch] %s handled %s/%s in %s",
			name, ev.TenantID, ev.AggregateID, time.Since(start))
		return nil
	}
}
