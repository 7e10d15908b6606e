package history

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qrtrail/scanhistory/pkg/metrics"
	"github.com/qrtrail/scanhistory/pkg/scanning"
	"github.com/qrtrail/scanhistory/pkg/storage"
	"github.com/qrtrail/scanhistory/pkg/storage/file"
	"github.com/qrtrail/scanhistory/pkg/storage/memory"
)

// plainSlot hides Update so the store falls back to read-then-write.
type plainSlot struct {
	inner    *memory.Slot
	readErr  error
	writeErr error
	writes   int
}

func (p *plainSlot) Read(ctx context.Context, key string) ([]byte, error) {
	if p.readErr != nil {
		return nil, p.readErr
	}
	return p.inner.Read(ctx, key)
}

func (p *plainSlot) Write(ctx context.Context, key string, value []byte) error {
	p.writes++
	if p.writeErr != nil {
		return p.writeErr
	}
	return p.inner.Write(ctx, key, value)
}

func (p *plainSlot) Remove(ctx context.Context, key string) error {
	return p.inner.Remove(ctx, key)
}

func stepClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	cur := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		cur = cur.Add(time.Second)
		return cur
	}
}

func TestStoreScenario(t *testing.T) {
	ctx := context.Background()
	store := New(memory.New())

	first, d := store.Add(ctx, "https://example.com", "qr", nil)
	require.Equal(t, Persisted, d)

	got := store.List(ctx)
	require.Len(t, got, 1)
	assert.Equal(t, "https://example.com", got[0].Data)
	assert.Equal(t, "qr", got[0].Type)
	assert.Nil(t, got[0].Location)
	assert.Equal(t, first.ID, got[0].ID)

	second, d := store.Add(ctx, "1234", "qr", &scanning.Location{Latitude: 1.0, Longitude: 2.0})
	require.Equal(t, Persisted, d)

	got = store.List(ctx)
	require.Len(t, got, 2)
	assert.Equal(t, second.ID, got[0].ID)
	assert.Equal(t, "1234", got[0].Data)
	require.NotNil(t, got[0].Location)
	assert.Equal(t, 1.0, got[0].Location.Latitude)
	assert.Equal(t, 2.0, got[0].Location.Longitude)
	assert.Equal(t, first.ID, got[1].ID)

	require.Equal(t, Persisted, store.Clear(ctx))
	assert.Empty(t, store.List(ctx))
	assert.NotNil(t, store.List(ctx))
}

func TestStoreListIsMostRecentFirst(t *testing.T) {
	ctx := context.Background()
	store := New(memory.New(), WithClock(stepClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))))

	var ids []string
	for i := 0; i < 10; i++ {
		rec, _ := store.Add(ctx, fmt.Sprintf("payload-%d", i), "qr", nil)
		ids = append(ids, rec.ID)
	}

	got := store.List(ctx)
	require.Len(t, got, 10)
	for i, rec := range got {
		assert.Equal(t, ids[len(ids)-1-i], rec.ID)
		assert.Equal(t, fmt.Sprintf("payload-%d", 9-i), rec.Data)
	}
	assert.True(t, got[0].Date.After(got[9].Date))
}

func TestStoreIDsAreDistinct(t *testing.T) {
	ctx := context.Background()
	store := New(memory.New())

	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		rec, _ := store.Add(ctx, "same", "qr", nil)
		require.False(t, seen[rec.ID], "id %s returned twice", rec.ID)
		seen[rec.ID] = true
	}
}

func TestStoreUsesInjectedIDsAndClock(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2025, 6, 1, 12, 30, 0, 987654321, time.UTC)
	store := New(memory.New(),
		WithIDGenerator(func() string { return "fixed-id" }),
		WithClock(func() time.Time { return at }),
	)

	rec, _ := store.Add(ctx, "x", "qr", nil)
	assert.Equal(t, "fixed-id", rec.ID)
	assert.True(t, rec.Date.Equal(at.Truncate(time.Millisecond)))
}

func TestStoreListNeverWritten(t *testing.T) {
	store := New(memory.New())
	got := store.List(context.Background())
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestStoreClearIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := New(memory.New())
	assert.Equal(t, Persisted, store.Clear(ctx))
	assert.Equal(t, Persisted, store.Clear(ctx))
	assert.Empty(t, store.List(ctx))
}

func TestStoreCorruptHistory(t *testing.T) {
	ctx := context.Background()
	slot := memory.New()
	slot.Put(DefaultKey, []byte("{not json"))

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	store := New(slot, WithMetrics(m))

	assert.Empty(t, store.List(ctx))

	rec, d := store.Add(ctx, "fresh", "qr", nil)
	require.Equal(t, Persisted, d)

	got := store.List(ctx)
	require.Len(t, got, 1)
	assert.Equal(t, rec.ID, got[0].ID)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.CorruptReads))
}

func TestStoreNullHistory(t *testing.T) {
	slot := memory.New()
	slot.Put(DefaultKey, []byte("null"))
	got := New(slot).List(context.Background())
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestStoreWriteFailureIsSwallowed(t *testing.T) {
	ctx := context.Background()
	slot := memory.New()
	slot.SetFailure(storage.ErrUnavailable)

	var logs bytes.Buffer
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	store := New(slot,
		WithLogger(slog.New(slog.NewTextHandler(&logs, nil))),
		WithMetrics(m),
	)

	rec, d := store.Add(ctx, "lost", "qr", nil)
	assert.Equal(t, MemoryOnly, d)
	assert.Equal(t, "lost", rec.Data)
	assert.NotEmpty(t, rec.ID)
	assert.Contains(t, logs.String(), "error saving scan history")

	assert.Empty(t, store.List(ctx))
	assert.Equal(t, MemoryOnly, store.Clear(ctx))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ScansAdded.WithLabelValues("memory_only")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Clears.WithLabelValues("memory_only")))
}

func TestStorePlainSlotFallback(t *testing.T) {
	ctx := context.Background()
	slot := &plainSlot{inner: memory.New()}
	store := New(slot)

	store.Add(ctx, "a", "qr", nil)
	store.Add(ctx, "b", "qr", nil)

	got := store.List(ctx)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].Data)
	assert.Equal(t, 2, slot.writes)
}

func TestStorePlainSlotReadFailureSkipsWrite(t *testing.T) {
	ctx := context.Background()
	slot := &plainSlot{inner: memory.New()}
	store := New(slot)
	store.Add(ctx, "kept", "qr", nil)

	slot.readErr = errors.New("timeout")
	_, d := store.Add(ctx, "new", "qr", nil)
	assert.Equal(t, MemoryOnly, d)
	assert.Equal(t, 1, slot.writes)

	slot.readErr = nil
	got := store.List(ctx)
	require.Len(t, got, 1)
	assert.Equal(t, "kept", got[0].Data)
}

func TestStorePlainSlotWriteFailure(t *testing.T) {
	ctx := context.Background()
	slot := &plainSlot{inner: memory.New(), writeErr: errors.New("quota exceeded")}
	store := New(slot)

	_, d := store.Add(ctx, "x", "qr", nil)
	assert.Equal(t, MemoryOnly, d)
	assert.Empty(t, store.List(ctx))
}

func TestStoreDropsInvalidLocation(t *testing.T) {
	ctx := context.Background()
	store := New(memory.New())

	rec, d := store.Add(ctx, "x", "qr", &scanning.Location{Latitude: math.NaN(), Longitude: 2})
	require.Equal(t, Persisted, d)
	assert.Nil(t, rec.Location)
	assert.Nil(t, store.List(ctx)[0].Location)
}

func TestStoreCopiesLocation(t *testing.T) {
	ctx := context.Background()
	store := New(memory.New())

	loc := &scanning.Location{Latitude: 10, Longitude: 20, Address: "Main St 1"}
	rec, _ := store.Add(ctx, "x", "qr", loc)
	loc.Latitude = 99

	assert.Equal(t, 10.0, rec.Location.Latitude)
	assert.Equal(t, "Main St 1", store.List(ctx)[0].Location.Address)
}

func TestStoreCustomKey(t *testing.T) {
	ctx := context.Background()
	slot := memory.New()
	store := New(slot, WithKey("other"))
	store.Add(ctx, "x", "qr", nil)

	_, err := slot.Read(ctx, DefaultKey)
	require.ErrorIs(t, err, storage.ErrNotFound)
	_, err = slot.Read(ctx, "other")
	require.NoError(t, err)
}

func TestStoreGet(t *testing.T) {
	ctx := context.Background()
	store := New(memory.New())
	rec, _ := store.Add(ctx, "x", "qr", nil)
	store.Add(ctx, "y", "qr", nil)

	got, err := store.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "x", got.Data)

	_, err = store.Get(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestStoreGetSurfacesReadErrors(t *testing.T) {
	slot := memory.New()
	slot.SetFailure(storage.ErrUnavailable)

	_, err := New(slot).Get(context.Background(), "any")
	require.ErrorIs(t, err, storage.ErrUnavailable)
}

func TestStoreLocated(t *testing.T) {
	ctx := context.Background()
	store := New(memory.New())

	store.Add(ctx, "a", "qr", &scanning.Location{Latitude: 1, Longitude: 1})
	store.Add(ctx, "b", "qr", nil)
	store.Add(ctx, "a", "qr", &scanning.Location{Latitude: 2, Longitude: 2})
	store.Add(ctx, "c", "qr", &scanning.Location{Latitude: 3, Longitude: 3})

	all := store.Located(ctx, "")
	require.Len(t, all, 3)
	assert.Equal(t, "c", all[0].Data)

	trail := store.Located(ctx, "a")
	require.Len(t, trail, 2)
	assert.Equal(t, 2.0, trail[0].Location.Latitude)
	assert.Equal(t, 1.0, trail[1].Location.Latitude)

	assert.Empty(t, store.Located(ctx, "b"))
}

func TestStoreConcurrentAddsWithAtomicSlot(t *testing.T) {
	ctx := context.Background()
	store := New(memory.New())

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, d := store.Add(ctx, fmt.Sprintf("p%d", i), "qr", nil)
			assert.Equal(t, Persisted, d)
		}(i)
	}
	wg.Wait()

	assert.Len(t, store.List(ctx), n)
}

func TestDurabilityString(t *testing.T) {
	assert.Equal(t, "persisted", Persisted.String())
	assert.Equal(t, "memory_only", MemoryOnly.String())
	assert.Equal(t, "durability(7)", Durability(7).String())
}

// A server and a processor sharing one store directory must not drop scans.
func TestStoreConcurrentAddsAcrossFileSlots(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	var stores []*Store
	for i := 0; i < 2; i++ {
		slot, err := file.Open(dir)
		require.NoError(t, err)
		stores = append(stores, New(slot))
	}

	const perStore = 40
	var wg sync.WaitGroup
	for _, store := range stores {
		for i := 0; i < perStore; i++ {
			wg.Add(1)
			go func(store *Store, i int) {
				defer wg.Done()
				_, d := store.Add(ctx, fmt.Sprintf("p%d", i), "qr", nil)
				assert.Equal(t, Persisted, d)
			}(store, i)
		}
	}
	wg.Wait()

	assert.Len(t, stores[0].List(ctx), 2*perStore)
}
