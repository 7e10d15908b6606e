package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/qrtrail/scanhistory/pkg/metrics"
	"github.com/qrtrail/scanhistory/pkg/scanning"
	"github.com/qrtrail/scanhistory/pkg/storage"
)

// DefaultKey is the slot the history is stored under.
const DefaultKey = "scan_history"

// ErrNotFound is returned by Get when no record has the requested id.
var ErrNotFound = errors.New("scan not found")

// Durability reports whether a mutation reached the slot.
type Durability int

const (
	// Persisted means the slot accepted the write.
	Persisted Durability = iota
	// MemoryOnly means the write failed; the caller holds the only copy.
	MemoryOnly
)

func (d Durability) String() string {
	switch d {
	case Persisted:
		return "persisted"
	case MemoryOnly:
		return "memory_only"
	default:
		return fmt.Sprintf("durability(%d)", int(d))
	}
}

// Store is the scan history: a most-recent-first list of records kept as a
// single JSON array under one slot key.
//
// Store holds no lock of its own. If the slot implements storage.AtomicSlot,
// Add goes through Update and concurrent adds are safe as far as that
// backend's Update excludes other writers; with a plain Slot,
// two concurrent adds can race and one of them may be lost.
type Store struct {
	slot    storage.Slot
	key     string
	logger  *slog.Logger
	now     func() time.Time
	newID   func() string
	metrics *metrics.Metrics
}

// Option configures a Store.
type Option func(*Store)

func WithKey(key string) Option {
	return func(s *Store) {
		if key != "" {
			s.key = key
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

func WithIDGenerator(newID func() string) Option {
	return func(s *Store) {
		if newID != nil {
			s.newID = newID
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) {
		s.metrics = m
	}
}

// New returns a Store backed by slot.
func New(slot storage.Slot, opts ...Option) *Store {
	s := &Store{
		slot:   slot,
		key:    DefaultKey,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:    time.Now,
		newID:  scanning.NewID,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Add records a scan and returns it. Persistence failures are logged and
// reported through the Durability result only; the record is returned
// either way.
func (s *Store) Add(ctx context.Context, data, typ string, loc *scanning.Location) (scanning.Record, Durability) {
	rec := scanning.Record{
		ID:   s.newID(),
		Data: data,
		Type: typ,
		Date: scanning.Timestamp(s.now()),
	}
	if loc != nil {
		if loc.Valid() {
			l := *loc
			rec.Location = &l
		} else {
			s.logger.Warn("dropping invalid scan location",
				"id", rec.ID, "latitude", loc.Latitude, "longitude", loc.Longitude)
		}
	}

	if err := s.prepend(ctx, rec); err != nil {
		s.logger.Error("error saving scan history", "key", s.key, "id", rec.ID, "err", err)
		s.metrics.IncScansAdded(MemoryOnly.String())
		return rec, MemoryOnly
	}

	s.logger.Debug("scan saved", "key", s.key, "id", rec.ID, "type", rec.Type)
	s.metrics.IncScansAdded(Persisted.String())
	return rec, Persisted
}

func (s *Store) prepend(ctx context.Context, rec scanning.Record) error {
	apply := func(cur []byte) ([]byte, error) {
		records := s.decode(cur)
		next := make([]scanning.Record, 0, len(records)+1)
		next = append(next, rec)
		next = append(next, records...)
		return json.Marshal(next)
	}

	if atomic, ok := s.slot.(storage.AtomicSlot); ok {
		return atomic.Update(ctx, s.key, apply)
	}

	cur, err := s.slot.Read(ctx, s.key)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		// Overwriting here would replace a history we could not see.
		return fmt.Errorf("read before write: %w", err)
	}
	blob, err := apply(cur)
	if err != nil {
		return err
	}
	return s.slot.Write(ctx, s.key, blob)
}

// List returns every stored record, most recent first. It never fails: an
// absent, unreadable or corrupt history yields an empty slice.
func (s *Store) List(ctx context.Context) []scanning.Record {
	records, err := s.load(ctx)
	if err != nil {
		s.logger.Warn("error reading scan history", "key", s.key, "err", err)
		return []scanning.Record{}
	}
	return records
}

// Clear removes the whole history. Clearing an empty history is a no-op.
func (s *Store) Clear(ctx context.Context) Durability {
	if err := s.slot.Remove(ctx, s.key); err != nil {
		s.logger.Error("error clearing scan history", "key", s.key, "err", err)
		s.metrics.IncClears(MemoryOnly.String())
		return MemoryOnly
	}
	s.metrics.IncClears(Persisted.String())
	return Persisted
}

// Get returns the record with the given id.
func (s *Store) Get(ctx context.Context, id string) (scanning.Record, error) {
	records, err := s.load(ctx)
	if err != nil {
		return scanning.Record{}, err
	}
	for _, r := range records {
		if r.ID == id {
			return r, nil
		}
	}
	return scanning.Record{}, ErrNotFound
}

// Located returns the records that carry a location, in stored order. A
// non-empty data narrows the result to scans of that one payload.
func (s *Store) Located(ctx context.Context, data string) []scanning.Record {
	all := s.List(ctx)
	out := make([]scanning.Record, 0, len(all))
	for _, r := range all {
		if !r.HasLocation() {
			continue
		}
		if data != "" && r.Data != data {
			continue
		}
		out = append(out, r)
	}
	return out
}

func (s *Store) load(ctx context.Context) ([]scanning.Record, error) {
	blob, err := s.slot.Read(ctx, s.key)
	if errors.Is(err, storage.ErrNotFound) {
		return []scanning.Record{}, nil
	}
	if err != nil {
		return nil, err
	}
	return s.decode(blob), nil
}

// decode treats an empty or malformed blob as an empty history.
func (s *Store) decode(blob []byte) []scanning.Record {
	if len(blob) == 0 {
		return []scanning.Record{}
	}
	var records []scanning.Record
	if err := json.Unmarshal(blob, &records); err != nil {
		s.logger.Warn("discarding corrupt scan history", "key", s.key, "err", err)
		s.metrics.IncCorruptReads()
		return []scanning.Record{}
	}
	if records == nil {
		return []scanning.Record{}
	}
	return records
}
