package syncq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"slaparena/storage"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *clock { return &clock{t: time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)} }

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type recorder struct {
	mu    sync.Mutex
	calls []Item
	fail  func(Item, int) error
}

func (r *recorder) Submit(_ context.Context, it Item) error {
	r.mu.Lock()
	r.calls = append(r.calls, it)
	n := 0
	for _, c := range r.calls {
		if c.ID == it.ID {
			n++
		}
	}
	fail := r.fail
	r.mu.Unlock()
	if fail != nil {
		return fail(it, n)
	}
	return nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func (r *recorder) ids() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.calls))
	for i, c := range r.calls {
		out[i] = c.ID
	}
	return out
}

// gatedBackend 第一次 Put 阻塞到 release 关闭，用来制造交错写入
type gatedBackend struct {
	*storage.MemoryBackend
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func newGatedBackend() *gatedBackend {
	return &gatedBackend{
		MemoryBackend: storage.NewMemoryBackend(0),
		entered:       make(chan struct{}),
		release:       make(chan struct{}),
	}
}

func (g *gatedBackend) Put(ctx context.Context, key string, value []byte) error {
	first := false
	g.once.Do(func() { first = true })
	if first {
		close(g.entered)
		<-g.release
	}
	return g.MemoryBackend.Put(ctx, key, value)
}

func payload(v any) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}

func TestEnqueueOrdersByPriorityThenTimestamp(t *testing.T) {
	ctx := context.Background()
	c := newClock()
	q := New(Options{Now: c.now})
	base := c.now()
	add := func(p Priority, offset time.Duration, tag string) {
		if _, err := q.Enqueue(ctx, Item{Type: "score", Priority: p, CreatedAt: base.Add(offset), Payload: payload(tag)}); err != nil {
			t.Fatalf("enqueue %s: %v", tag, err)
		}
	}
	add(PriorityLow, time.Second, "low-1")
	add(PriorityHigh, 2*time.Second, "high-2")
	add(PriorityNormal, 0, "normal-0")
	add(PriorityNormal, 3*time.Second, "normal-3")
	add(PriorityHigh, time.Second, "high-1")

	var got []string
	for _, it := range q.Pending() {
		var tag string
		json.Unmarshal(it.Payload, &tag)
		got = append(got, tag)
	}
	want := []string{"high-1", "high-2", "normal-0", "normal-3", "low-1"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}

func TestEnqueueValidatesAndSanitizes(t *testing.T) {
	ctx := context.Background()
	q := New(Options{})
	if _, err := q.Enqueue(ctx, Item{Type: "!!!", Payload: payload(1)}); !errors.Is(err, ErrInvalidItem) {
		t.Fatalf("expected ErrInvalidItem for empty tag, got %v", err)
	}
	if _, err := q.Enqueue(ctx, Item{Type: "score", Payload: json.RawMessage(`{broken`)}); !errors.Is(err, ErrInvalidItem) {
		t.Fatalf("expected ErrInvalidItem for bad payload, got %v", err)
	}
	it, err := q.Enqueue(ctx, Item{Type: " Score Sync! ", Payload: payload(map[string]int{"score": 1}), Priority: "urgent"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if it.Type != "scoresync" || it.Priority != PriorityNormal || it.MaxAttempts != 3 || it.ID == "" {
		t.Fatalf("unexpected normalized item: %+v", it)
	}
	if q.Len() != 1 {
		t.Fatalf("invalid items must not enter the queue, len=%d", q.Len())
	}
}

func TestQueueDropsOldestBeyondCap(t *testing.T) {
	ctx := context.Background()
	c := newClock()
	q := New(Options{MaxSize: 3, Now: c.now})
	var first Item
	for i := 0; i < 4; i++ {
		it, _ := q.Enqueue(ctx, Item{Type: "progress", Priority: PriorityHigh, Payload: payload(i)})
		if i == 0 {
			first = it
		}
		c.advance(time.Second)
	}
	if q.Len() != 3 {
		t.Fatalf("len = %d, want 3", q.Len())
	}
	for _, it := range q.Pending() {
		if it.ID == first.ID {
			t.Fatalf("oldest item should have been dropped")
		}
	}
}

func TestDrainNoopWhenOfflineOrEmpty(t *testing.T) {
	ctx := context.Background()
	q := New(Options{})
	rec := &recorder{}
	q.Handle("score", rec)
	q.Enqueue(ctx, Item{Type: "score", Payload: payload(1)})

	if rep := q.Drain(ctx); rep.Skipped != "offline" || rec.count() != 0 {
		t.Fatalf("drain while offline should be a no-op: %+v", rep)
	}
	empty := New(Options{})
	empty.SetOnline(true)
	if rep := empty.Drain(ctx); rep.Skipped != "empty" {
		t.Fatalf("expected empty skip, got %+v", rep)
	}
}

func TestItemEvictedAfterMaxAttemptsAndNeverReprocessed(t *testing.T) {
	ctx := context.Background()
	c := newClock()
	var evicted []Item
	q := New(Options{Now: c.now, Reporter: ReporterFunc(func(it Item, _ error) { evicted = append(evicted, it) })})
	rec := &recorder{fail: func(Item, int) error { return errors.New("503") }}
	q.Handle("score", rec)
	q.SetOnline(true)
	q.Enqueue(ctx, Item{Type: "score", Payload: payload(1), MaxAttempts: 3})

	for i := 0; i < 6; i++ {
		q.Drain(ctx)
		c.advance(2 * time.Minute)
	}
	if rec.count() != 3 {
		t.Fatalf("handler called %d times, want 3", rec.count())
	}
	if len(evicted) != 1 || evicted[0].Attempts != 3 {
		t.Fatalf("expected one eviction report after 3 attempts, got %+v", evicted)
	}
	if q.Len() != 0 {
		t.Fatalf("evicted item still queued")
	}
}

func TestRejectedItemEvictedWithoutRetry(t *testing.T) {
	ctx := context.Background()
	c := newClock()
	var evicted []Item
	q := New(Options{Now: c.now, Reporter: ReporterFunc(func(it Item, _ error) { evicted = append(evicted, it) })})
	rec := &recorder{fail: func(Item, int) error { return fmt.Errorf("%w: invalid entry", ErrRejected) }}
	q.Handle("score", rec)
	q.SetOnline(true)
	q.Enqueue(ctx, Item{Type: "score", Payload: payload(1), MaxAttempts: 3})

	rep := q.Drain(ctx)
	if rep.Evicted != 1 || rec.count() != 1 || q.Len() != 0 {
		t.Fatalf("rejected item not evicted at once: %+v calls=%d len=%d", rep, rec.count(), q.Len())
	}
	if len(evicted) != 1 || evicted[0].Attempts != 1 {
		t.Fatalf("expected one eviction report, got %+v", evicted)
	}
}

func TestLinearBackoffGatesRetry(t *testing.T) {
	ctx := context.Background()
	c := newClock()
	q := New(Options{Now: c.now, RetryDelay: 30 * time.Second})
	rec := &recorder{fail: func(_ Item, n int) error {
		if n < 3 {
			return errors.New("timeout")
		}
		return nil
	}}
	q.Handle("score", rec)
	q.SetOnline(true)
	q.Enqueue(ctx, Item{Type: "score", Payload: payload(1)})

	q.Drain(ctx) // attempt 1 fails
	c.advance(30 * time.Second)
	if rep := q.Drain(ctx); rep.Skipped != "nothing eligible" {
		t.Fatalf("retry before backoff elapsed: %+v", rep)
	}
	c.advance(time.Second)
	q.Drain(ctx) // attempt 2 fails, backoff now 60s
	c.advance(61 * time.Second)
	rep := q.Drain(ctx)
	if rep.Succeeded != 1 || q.Len() != 0 {
		t.Fatalf("third attempt should succeed and remove the item: %+v len=%d", rep, q.Len())
	}
	if rec.count() != 3 {
		t.Fatalf("handler called %d times, want 3", rec.count())
	}
}

func TestOfflineItemsDrainInOrderInBatchesOfFive(t *testing.T) {
	ctx := context.Background()
	c := newClock()
	q := New(Options{Now: c.now})
	rec := &recorder{}
	q.Handle("score", rec)

	var ordered []string
	for i := 0; i < 7; i++ {
		p := PriorityNormal
		if i%3 == 0 {
			p = PriorityHigh
		}
		q.Enqueue(ctx, Item{Type: "score", Priority: p, Payload: payload(map[string]int{"score": i * 10})})
		c.advance(time.Second)
	}
	for _, it := range q.Pending() {
		ordered = append(ordered, it.ID)
	}

	q.mu.Lock()
	q.online = true
	q.mu.Unlock()
	rep := q.Drain(ctx)
	if rep.Processed != 7 || rep.Succeeded != 7 || q.Len() != 0 {
		t.Fatalf("unexpected report: %+v len=%d", rep, q.Len())
	}

	calls := rec.ids()
	firstBatch := append([]string(nil), calls[:5]...)
	wantFirst := append([]string(nil), ordered[:5]...)
	sort.Strings(firstBatch)
	sort.Strings(wantFirst)
	for i := range wantFirst {
		if firstBatch[i] != wantFirst[i] {
			t.Fatalf("first batch %v does not match the top five %v", calls[:5], ordered[:5])
		}
	}
	if rec.count() != 7 {
		t.Fatalf("each item should be submitted once, got %d calls", rec.count())
	}
}

func TestHandlerReceivesItemIDAsIdempotencyKey(t *testing.T) {
	ctx := context.Background()
	q := New(Options{})
	var keys []string
	q.Handle("score", HandlerFunc(func(_ context.Context, it Item) error {
		keys = append(keys, it.IdempotencyKey())
		return nil
	}))
	it, _ := q.Enqueue(ctx, Item{Type: "score", Payload: payload(1)})
	q.SetOnline(true)
	q.Drain(ctx)
	if len(keys) != 1 || keys[0] != it.ID {
		t.Fatalf("expected idempotency key %s, got %v", it.ID, keys)
	}
}

func TestQueuePersistsAndReloads(t *testing.T) {
	ctx := context.Background()
	store := storage.New(storage.NewMemoryBackend(0))
	q := New(Options{Store: store})
	a, _ := q.Enqueue(ctx, Item{Type: "score", Payload: payload(1)})
	b, _ := q.Enqueue(ctx, Item{Type: "progress", Priority: PriorityHigh, Payload: payload(2)})

	reloaded := New(Options{Store: store})
	if err := reloaded.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	pending := reloaded.Pending()
	if len(pending) != 2 || pending[0].ID != b.ID || pending[1].ID != a.ID {
		t.Fatalf("unexpected reloaded queue: %+v", pending)
	}
}

func TestConcurrentPersistKeepsNewestQueue(t *testing.T) {
	ctx := context.Background()
	backend := newGatedBackend()
	store := storage.New(backend)
	q := New(Options{})
	q.Handle("score", &recorder{})
	q.SetOnline(true)
	q.Enqueue(ctx, Item{Type: "score", Payload: payload(1)})
	q.opts.Store = store

	drained := make(chan struct{})
	go func() {
		defer close(drained)
		q.Drain(ctx)
	}()
	<-backend.entered

	// drain 的写入被卡住时入队
	enqueued := make(chan Item, 1)
	go func() {
		it, _ := q.Enqueue(ctx, Item{Type: "score", Payload: payload(2)})
		enqueued <- it
	}()
	time.Sleep(50 * time.Millisecond)
	close(backend.release)
	<-drained
	it := <-enqueued

	reloaded := New(Options{Store: store})
	if err := reloaded.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	pending := reloaded.Pending()
	if len(pending) != 1 || pending[0].ID != it.ID {
		t.Fatalf("persisted queue lost enqueued item %s: %+v", it.ID, pending)
	}
}

func TestSchedulerDrainsOnReconnectAndRetries(t *testing.T) {
	q := New(Options{RetryDelay: 20 * time.Millisecond, Interval: 50 * time.Millisecond})
	rec := &recorder{fail: func(_ Item, n int) error {
		if n == 1 {
			return errors.New("flaky")
		}
		return nil
	}}
	q.Handle("score", rec)
	q.Enqueue(context.Background(), Item{Type: "score", Payload: payload(1)})

	q.Start(context.Background())
	defer q.Close()
	q.SetOnline(true)

	deadline := time.Now().Add(3 * time.Second)
	for q.Len() > 0 {
		if time.Now().After(deadline) {
			t.Fatalf("queue not drained, calls=%d", rec.count())
		}
		time.Sleep(10 * time.Millisecond)
	}
	if rec.count() != 2 {
		t.Fatalf("expected failure then success, got %d calls", rec.count())
	}
}

func TestGoingOfflineCancelsPendingRetry(t *testing.T) {
	ctx := context.Background()
	q := New(Options{RetryDelay: time.Hour})
	q.Handle("score", HandlerFunc(func(context.Context, Item) error { return errors.New("down") }))
	q.Enqueue(ctx, Item{Type: "score", Payload: payload(1)})
	q.SetOnline(true)
	q.Drain(ctx)

	q.mu.Lock()
	armed := q.retryTimer != nil
	q.mu.Unlock()
	if !armed {
		t.Fatalf("full-queue failure should arm a retry")
	}
	q.SetOnline(false)
	q.mu.Lock()
	armed = q.retryTimer != nil
	q.mu.Unlock()
	if armed {
		t.Fatalf("going offline should cancel the retry")
	}
	q.Close()
}
