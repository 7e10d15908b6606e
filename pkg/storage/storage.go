package storage

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned by Read when the key has never been written or
	// has been removed.
	ErrNotFound = errors.New("slot not found")
	// ErrUnavailable marks a backend that cannot currently serve requests.
	ErrUnavailable = errors.New("slot backend unavailable")
	// ErrConflict is returned when an optimistic update kept losing races.
	ErrConflict = errors.New("slot update conflict")
)

// Slot is a named-key blob store. Each key holds one opaque value that is
// read, replaced or removed as a whole.
type Slot interface {
	Read(ctx context.Context, key string) ([]byte, error)
	Write(ctx context.Context, key string, value []byte) error
	// Remove deletes the key. Removing an absent key is not an error.
	Remove(ctx context.Context, key string) error
}

// UpdateFunc receives the current value (nil when absent) and returns the
// value to store.
type UpdateFunc func(current []byte) ([]byte, error)

// AtomicSlot is implemented by backends that can run a read-modify-write
// cycle without losing concurrent updates.
type AtomicSlot interface {
	Slot
	Update(ctx context.Context, key string, fn UpdateFunc) error
}
