package ingestion

import (
	"context"
	"time"

	"PoolIndexer/internal/event"
)

// Injector provides admin/manual event injection over the HTTP API.
// Injected events go through the same pipeline as NATS deliveries so
// ordering and dedup still apply.
type Injector struct {
	eventChan chan<- RawEvent
}

func NewInjector(eventChan chan<- RawEvent) *Injector {
	return &Injector{eventChan: eventChan}
}

// Inject validates the payload, queues it and waits for the outcome.
// An event that was already applied returns core.ErrDuplicate.
func (i *Injector) Inject(ctx context.Context, eventType string, data []byte) error {
	if _, err := Parse(event.ParseEventType(eventType), data); err != nil {
		return err
	}

	done := make(chan error, 1)
	raw := RawEvent{
		Subject:   "admin.inject." + eventType,
		EventType: eventType,
		Data:      data,
		Received:  time.Now(),
		Reply:     func(err error) { done <- err },
	}

	select {
	case i.eventChan <- raw:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
