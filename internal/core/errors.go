package core

import "errors"

var (
	// ErrIntegrity marks an event that references state which must exist
	// but does not, or that comes from an unexpected source. The event is
	// skipped; nothing from it is committed.
	ErrIntegrity = errors.New("data integrity violation")

	// ErrOutOfOrder marks a new event positioned at or before the last
	// applied one.
	ErrOutOfOrder = errors.New("out-of-order event")

	// ErrDuplicate marks an event whose key was already applied. Nothing
	// changes; callers settle it like a success.
	ErrDuplicate = errors.New("duplicate event")

	// ErrUnknownEvent marks an event type with no handler.
	ErrUnknownEvent = errors.New("unknown event type")
)
