package state

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("entity not found")

// Write is one encoded entity upsert.
type Write struct {
	Kind Kind
	ID   string
	Data []byte
}

// EventRecord marks an event as applied. It is committed in the same
// batch as the writes it produced so a crash never leaves one without
// the other.
type EventRecord struct {
	Key       string `json:"key"`
	EventType string `json:"eventType"`
	TxHash    string `json:"txHash"`
	Block     uint64 `json:"block"`
	LogIndex  uint64 `json:"logIndex"`
	Sequence  int64  `json:"sequence"`
	StateHash []byte `json:"stateHash"`
	PrevHash  []byte `json:"prevHash"`
}

// Batch is the atomic unit applied to an EntityStore.
type Batch struct {
	Writes []Write
	Event  *EventRecord
}

// EntityStore is the keyed upsert store the core persists into.
type EntityStore interface {
	// Get returns the encoded entity or ErrNotFound.
	Get(ctx context.Context, kind Kind, id string) ([]byte, error)

	// Apply commits every write and the event record atomically.
	Apply(ctx context.Context, batch *Batch) error

	// HasEvent reports whether an event key was already applied.
	HasEvent(ctx context.Context, key string) (bool, error)

	// LastEvent returns the most recently applied event, or nil when empty.
	LastEvent(ctx context.Context) (*EventRecord, error)
}

// EntityReader is the read side used by query surfaces.
type EntityReader interface {
	Get(ctx context.Context, kind Kind, id string) ([]byte, error)
	List(ctx context.Context, kind Kind, limit int) ([][]byte, error)
}

// EventLog reads applied events in sequence order.
type EventLog interface {
	// Events returns up to limit records with sequence > after.
	Events(ctx context.Context, after int64, limit int) ([]EventRecord, error)
}
