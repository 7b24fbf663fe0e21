package core

import (
	"fmt"

	"PoolIndexer/internal/event"
)

// OrderValidator enforces ascending (block, logIndex) delivery.
// Not thread-safe; only accessed from the single-threaded core.
type OrderValidator struct {
	last    event.Position
	started bool
}

func NewOrderValidator() *OrderValidator {
	return &OrderValidator{}
}

// Validate checks pos against the last applied position. Duplicates are
// always accepted here; the caller drops them.
func (v *OrderValidator) Validate(pos event.Position, isDuplicate bool) error {
	if isDuplicate || !v.started {
		return nil
	}
	if v.last.Before(pos) {
		return nil
	}
	return fmt.Errorf("%w: last=%s, got=%s", ErrOutOfOrder, v.last, pos)
}

// Advance records pos as applied.
func (v *OrderValidator) Advance(pos event.Position) {
	v.last = pos
	v.started = true
}
