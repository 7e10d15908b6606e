package memory

import (
	"context"
	"sync"

	"github.com/qrtrail/scanhistory/pkg/storage"
)

// Slot keeps values in a map. It is the default backend for tests and for
// single-process deployments that do not need durability.
type Slot struct {
	mu     sync.Mutex
	values map[string][]byte
	fail   error
}

// New returns an empty in-memory slot.
func New() *Slot {
	return &Slot{values: make(map[string][]byte)}
}

func (s *Slot) Read(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return nil, s.fail
	}
	v, ok := s.values[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return clone(v), nil
}

func (s *Slot) Write(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.values[key] = clone(value)
	return nil
}

func (s *Slot) Remove(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	delete(s.values, key)
	return nil
}

// Update holds the lock across fn, so concurrent updates are serialized.
func (s *Slot) Update(_ context.Context, key string, fn storage.UpdateFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	next, err := fn(clone(s.values[key]))
	if err != nil {
		return err
	}
	s.values[key] = clone(next)
	return nil
}

// SetFailure makes every subsequent operation return err until it is called
// again with nil.
func (s *Slot) SetFailure(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = err
}

// Put seeds a raw value regardless of any injected failure.
func (s *Slot) Put(key string, value []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = clone(value)
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
