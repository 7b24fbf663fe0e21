package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

type entityKey struct {
	kind Kind
	id   string
}

// UnitOfWork buffers the entity reads and writes of one event. Loads see
// earlier saves from the same unit; nothing reaches the store until Commit.
type UnitOfWork struct {
	store   EntityStore
	objects map[entityKey]any
	dirty   map[entityKey]bool
	order   []entityKey
}

func NewUnitOfWork(store EntityStore) *UnitOfWork {
	return &UnitOfWork{
		store:   store,
		objects: make(map[entityKey]any),
		dirty:   make(map[entityKey]bool),
	}
}

// Load returns the entity of the given kind and id. The boolean is false
// when it exists neither in this unit nor in the store.
func Load[T any](ctx context.Context, u *UnitOfWork, kind Kind, id string) (*T, bool, error) {
	key := entityKey{kind, id}
	if obj, ok := u.objects[key]; ok {
		typed, ok := obj.(*T)
		if !ok {
			return nil, false, fmt.Errorf("entity %s/%s cached as %T", kind, id, obj)
		}
		return typed, true, nil
	}

	data, err := u.store.Get(ctx, kind, id)
	if errors.Is(err, ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load %s/%s: %w", kind, id, err)
	}

	out := new(T)
	if err := json.Unmarshal(data, out); err != nil {
		return nil, false, fmt.Errorf("decode %s/%s: %w", kind, id, err)
	}
	u.objects[key] = out
	return out, true, nil
}

// Save marks an entity for upsert at commit.
func (u *UnitOfWork) Save(kind Kind, id string, entity any) {
	key := entityKey{kind, id}
	u.objects[key] = entity
	if !u.dirty[key] {
		u.dirty[key] = true
		u.order = append(u.order, key)
	}
}

// Exists reports whether an entity is present in this unit or the store.
func (u *UnitOfWork) Exists(ctx context.Context, kind Kind, id string) (bool, error) {
	if _, ok := u.objects[entityKey{kind, id}]; ok {
		return true, nil
	}
	_, err := u.store.Get(ctx, kind, id)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Writes encodes the saved entities in first-save order.
func (u *UnitOfWork) Writes() ([]Write, error) {
	writes := make([]Write, 0, len(u.order))
	for _, key := range u.order {
		data, err := json.Marshal(u.objects[key])
		if err != nil {
			return nil, fmt.Errorf("encode %s/%s: %w", key.kind, key.id, err)
		}
		writes = append(writes, Write{Kind: key.kind, ID: key.id, Data: data})
	}
	return writes, nil
}

// Commit applies the encoded writes together with the event record.
func (u *UnitOfWork) Commit(ctx context.Context, writes []Write, rec *EventRecord) error {
	return u.store.Apply(ctx, &Batch{Writes: writes, Event: rec})
}

// Len is the number of entities pending commit.
func (u *UnitOfWork) Len() int { return len(u.order) }
