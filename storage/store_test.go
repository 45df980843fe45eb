package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

type progress struct {
	Score int64    `json:"score"`
	Tags  []string `json:"tags"`
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)}
}

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := New(NewMemoryBackend(0))
	in := progress{Score: 42, Tags: []string{"a", "b"}}
	if err := s.Set(ctx, "progress", in); err != nil {
		t.Fatalf("set: %v", err)
	}
	var out progress
	if err := s.Get(ctx, "progress", &out); err != nil {
		t.Fatalf("get: %v", err)
	}
	if out.Score != 42 || len(out.Tags) != 2 {
		t.Fatalf("unexpected value: %+v", out)
	}
	keys, _ := s.Keys(ctx)
	if len(keys) != 1 || keys[0] != "progress" {
		t.Fatalf("unexpected keys: %v", keys)
	}
	if err := s.Get(ctx, "missing", &out); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStorePurgesExpiredOnRead(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	backend := NewMemoryBackend(0)
	s := New(backend, WithClock(clock.now))
	if err := s.Set(ctx, "old", progress{Score: 1}); err != nil {
		t.Fatalf("set: %v", err)
	}
	clock.advance(MaxAge + time.Minute)

	var out progress
	if err := s.Get(ctx, "old", &out); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected expired entry to read as not found, got %v", err)
	}
	if _, err := backend.Get(ctx, Namespace+"old"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expired entry should be purged from backend")
	}
}

func TestStoreTreatsOtherVersionAsExpired(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend(0)
	raw, err := encodeEnvelope(envelope{Data: []byte(`{"score":5}`), Timestamp: time.Now().UnixMilli(), Version: Version + 1})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	backend.Put(ctx, Namespace+"future", raw)

	s := New(backend)
	var out progress
	if err := s.Get(ctx, "future", &out); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected version mismatch to read as not found, got %v", err)
	}
}

func TestStorePurge(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	s := New(NewMemoryBackend(0), WithClock(clock.now))
	s.Set(ctx, "a", progress{Score: 1})
	clock.advance(20 * 24 * time.Hour)
	s.Set(ctx, "b", progress{Score: 2})
	clock.advance(15 * 24 * time.Hour)

	n, err := s.Purge(ctx)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if n != 1 {
		t.Fatalf("purged %d entries, want 1", n)
	}
	keys, _ := s.Keys(ctx)
	if len(keys) != 1 || keys[0] != "b" {
		t.Fatalf("unexpected keys after purge: %v", keys)
	}
}

func TestQuotaEvictsOldestFifthThenWrites(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	backend := NewMemoryBackend(0)
	s := New(backend, WithClock(clock.now))
	for i := 0; i < 10; i++ {
		if err := s.Set(ctx, fmt.Sprintf("k%d", i), progress{Score: int64(100 + i)}); err != nil {
			t.Fatalf("set k%d: %v", i, err)
		}
		clock.advance(time.Second)
	}
	backend.maxBytes = backend.Size()

	if err := s.Set(ctx, "kx", progress{Score: 999}); err != nil {
		t.Fatalf("set after eviction: %v", err)
	}
	keys, _ := s.Keys(ctx)
	if len(keys) != 9 {
		t.Fatalf("expected 8 survivors plus the new key, got %v", keys)
	}
	for _, k := range keys {
		if k == "k0" || k == "k1" {
			t.Fatalf("oldest entries should have been evicted, still have %s", k)
		}
	}
}

func TestQuotaSurfacesStorageFull(t *testing.T) {
	ctx := context.Background()
	s := New(NewMemoryBackend(10))
	err := s.Set(ctx, "big", progress{Score: 1, Tags: []string{"way too large for ten bytes"}})
	if !errors.Is(err, ErrStorageFull) {
		t.Fatalf("expected ErrStorageFull, got %v", err)
	}
}

func TestSQLiteBackend(t *testing.T) {
	ctx := context.Background()
	b, err := OpenSQL("sqlite3", filepath.Join(t.TempDir(), "local.db"), 0)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	s := New(b)
	t.Cleanup(func() { s.Close() })
	exerciseBackend(t, ctx, s)
}

func TestPostgresBackend(t *testing.T) {
	dsn := os.Getenv("STORAGE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("STORAGE_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	b, err := OpenSQL("postgres", dsn, 0)
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	s := New(b)
	t.Cleanup(func() {
		for _, k := range []string{"leaderboard", "sync_queue"} {
			s.Delete(ctx, k)
		}
		s.Close()
	})
	exerciseBackend(t, ctx, s)
}

func exerciseBackend(t *testing.T, ctx context.Context, s *Store) {
	t.Helper()
	if err := s.Set(ctx, "leaderboard", progress{Score: 7}); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s.Set(ctx, "leaderboard", progress{Score: 8}); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	if err := s.Set(ctx, "sync_queue", progress{Tags: []string{"x"}}); err != nil {
		t.Fatalf("set: %v", err)
	}
	var out progress
	if err := s.Get(ctx, "leaderboard", &out); err != nil || out.Score != 8 {
		t.Fatalf("get: %+v %v", out, err)
	}
	keys, err := s.Keys(ctx)
	if err != nil || len(keys) != 2 {
		t.Fatalf("keys: %v %v", keys, err)
	}
	if err := s.Delete(ctx, "sync_queue"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.Get(ctx, "sync_queue", &out); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, err := Open("mysql", "dsn"); err == nil {
		t.Fatalf("expected error for unsupported driver")
	}
}
