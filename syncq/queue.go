package syncq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"slaparena/logger"
	"slaparena/storage"
)

const storageKey = "sync_queue"

// Handler 按类型标签分发的远程提交操作；实现方必须以 item.ID 作为幂等键
type Handler interface {
	Submit(ctx context.Context, item Item) error
}

// HandlerFunc 函数适配器
type HandlerFunc func(ctx context.Context, item Item) error

func (f HandlerFunc) Submit(ctx context.Context, item Item) error { return f(ctx, item) }

// Reporter 接收被淘汰（重试耗尽）的条目
type Reporter interface {
	Evicted(item Item, lastErr error)
}

// ReporterFunc 函数适配器
type ReporterFunc func(item Item, lastErr error)

func (f ReporterFunc) Evicted(item Item, lastErr error) { f(item, lastErr) }

// Options 队列参数
type Options struct {
	MaxSize            int           // 队列上限，超出丢弃最旧
	BatchSize          int           // 每批并发处理数
	RetryDelay         time.Duration // 线性退避单位，也是整批失败后的重试延迟
	Interval           time.Duration // 在线时的定期 drain 周期
	DefaultMaxAttempts int
	Store              *storage.Store // 为 nil 时不持久化
	Reporter           Reporter
	Now                func() time.Time
}

// DefaultOptions 默认参数
func DefaultOptions() Options {
	return Options{
		MaxSize:            100,
		BatchSize:          5,
		RetryDelay:         30 * time.Second,
		Interval:           5 * time.Minute,
		DefaultMaxAttempts: 3,
	}
}

// Report 一次 drain 的结果
type Report struct {
	Processed int
	Succeeded int
	Failed    int
	Evicted   int
	Skipped   string // offline / busy / empty / nothing eligible
}

// Queue 持久化的优先级发件箱
type Queue struct {
	opts Options

	mu         sync.Mutex
	items      []Item
	handlers   map[string]Handler
	online     bool
	retryTimer *time.Timer

	draining atomic.Bool
	wake     chan struct{}

	persistMu sync.Mutex // 快照与写入同锁，旧快照不会覆盖新快照

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New 创建队列；零值参数使用默认值
func New(opts Options) *Queue {
	def := DefaultOptions()
	if opts.MaxSize <= 0 {
		opts.MaxSize = def.MaxSize
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = def.BatchSize
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = def.RetryDelay
	}
	if opts.Interval <= 0 {
		opts.Interval = def.Interval
	}
	if opts.DefaultMaxAttempts <= 0 {
		opts.DefaultMaxAttempts = def.DefaultMaxAttempts
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Reporter == nil {
		opts.Reporter = ReporterFunc(func(item Item, lastErr error) {
			logger.Log.Errorf("sync item %s (%s) evicted after %d attempts: %v", item.ID, item.Type, item.Attempts, lastErr)
		})
	}
	return &Queue{
		opts:     opts,
		handlers: make(map[string]Handler),
		wake:     make(chan struct{}, 1),
	}
}

// Handle 注册类型标签对应的提交操作
func (q *Queue) Handle(itemType string, h Handler) {
	q.mu.Lock()
	q.handlers[SanitizeType(itemType)] = h
	q.mu.Unlock()
}

// Load 从本地存储恢复未完成的条目
func (q *Queue) Load(ctx context.Context) error {
	if q.opts.Store == nil {
		return nil
	}
	var saved []Item
	if err := q.opts.Store.Get(ctx, storageKey, &saved); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("load sync queue: %w", err)
	}
	q.mu.Lock()
	q.items = q.items[:0]
	for _, it := range saved {
		if it.ID == "" || SanitizeType(it.Type) == "" {
			continue
		}
		q.insertLocked(it)
	}
	q.trimLocked()
	q.mu.Unlock()
	return nil
}

// Enqueue 校验并插入；返回带 ID 的条目
func (q *Queue) Enqueue(ctx context.Context, item Item) (Item, error) {
	item.Type = SanitizeType(item.Type)
	if item.Type == "" {
		return Item{}, fmt.Errorf("%w: empty type tag", ErrInvalidItem)
	}
	if len(item.Payload) == 0 || !json.Valid(item.Payload) {
		return Item{}, fmt.Errorf("%w: payload is not valid JSON", ErrInvalidItem)
	}
	if !item.Priority.valid() {
		item.Priority = PriorityNormal
	}
	if item.MaxAttempts <= 0 {
		item.MaxAttempts = q.opts.DefaultMaxAttempts
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = q.opts.Now()
	}
	item.ID = uuid.NewString()
	item.Attempts = 0
	item.LastAttempt = time.Time{}

	q.mu.Lock()
	q.insertLocked(item)
	q.trimLocked()
	q.mu.Unlock()

	q.persist(ctx)
	return item, nil
}

// Pending 当前队列快照（已排序）
func (q *Queue) Pending() []Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Item, len(q.items))
	copy(out, q.items)
	return out
}

// Len 队列长度
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Online 当前连接状态
func (q *Queue) Online() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.online
}

// SetOnline 边沿触发：恢复连接立即尝试 drain，断开则取消待执行的重试
func (q *Queue) SetOnline(online bool) {
	q.mu.Lock()
	prev := q.online
	q.online = online
	if !online && q.retryTimer != nil {
		q.retryTimer.Stop()
		q.retryTimer = nil
	}
	q.mu.Unlock()

	if online && !prev {
		logger.Log.Infof("sync queue: connectivity restored, %d pending", q.Len())
		q.kick()
	} else if !online && prev {
		logger.Log.Infof("sync queue: connectivity lost, pausing")
	}
}

// Drain 处理到期条目；离线、正在 drain 或为空时直接返回
func (q *Queue) Drain(ctx context.Context) Report {
	if !q.Online() {
		return Report{Skipped: "offline"}
	}
	if !q.draining.CompareAndSwap(false, true) {
		return Report{Skipped: "busy"}
	}
	defer q.draining.Store(false)

	now := q.opts.Now()
	q.mu.Lock()
	if len(q.items) == 0 {
		q.mu.Unlock()
		return Report{Skipped: "empty"}
	}
	var eligible []Item
	for _, it := range q.items {
		backoff := time.Duration(it.Attempts) * q.opts.RetryDelay
		if now.Sub(it.LastAttempt) > backoff {
			eligible = append(eligible, it)
		}
	}
	handlers := make(map[string]Handler, len(q.handlers))
	for k, v := range q.handlers {
		handlers[k] = v
	}
	q.mu.Unlock()

	if len(eligible) == 0 {
		return Report{Skipped: "nothing eligible"}
	}

	var rep Report
	for start := 0; start < len(eligible); start += q.opts.BatchSize {
		if ctx.Err() != nil {
			break
		}
		end := min(start+q.opts.BatchSize, len(eligible))
		batch := eligible[start:end]
		results := make([]error, len(batch))

		var g errgroup.Group
		for i, it := range batch {
			i, it := i, it
			g.Go(func() error {
				results[i] = dispatch(ctx, handlers, it)
				return nil
			})
		}
		_ = g.Wait()
		q.applyResults(batch, results, &rep)
	}

	q.persist(ctx)
	if rep.Processed > 0 && rep.Succeeded == 0 {
		q.scheduleRetry(q.opts.RetryDelay)
	}
	logger.Log.Debugf("sync queue drained: processed=%d ok=%d failed=%d evicted=%d",
		rep.Processed, rep.Succeeded, rep.Failed, rep.Evicted)
	return rep
}

func dispatch(ctx context.Context, handlers map[string]Handler, it Item) error {
	h, ok := handlers[it.Type]
	if !ok {
		return fmt.Errorf("no handler for sync type %q", it.Type)
	}
	return h.Submit(ctx, it)
}

func (q *Queue) applyResults(batch []Item, results []error, rep *Report) {
	now := q.opts.Now()
	type eviction struct {
		item Item
		err  error
	}
	var evicted []eviction

	q.mu.Lock()
	for i, it := range batch {
		rep.Processed++
		idx := q.indexLocked(it.ID)
		if results[i] == nil {
			rep.Succeeded++
			if idx >= 0 {
				q.removeLocked(idx)
			}
			continue
		}
		rep.Failed++
		if idx < 0 {
			continue
		}
		cur := &q.items[idx]
		cur.Attempts++
		cur.LastAttempt = now
		if cur.Attempts >= cur.MaxAttempts || errors.Is(results[i], ErrRejected) {
			evicted = append(evicted, eviction{item: *cur, err: results[i]})
			q.removeLocked(idx)
			rep.Evicted++
		} else {
			logger.Log.Warnf("sync item %s (%s) attempt %d/%d failed: %v",
				cur.ID, cur.Type, cur.Attempts, cur.MaxAttempts, results[i])
		}
	}
	q.mu.Unlock()

	for _, e := range evicted {
		q.opts.Reporter.Evicted(e.item, e.err)
	}
}

// Start 启动后台调度：在线时按周期 drain，被唤醒时立即 drain
func (q *Queue) Start(ctx context.Context) {
	q.runMu.Lock()
	defer q.runMu.Unlock()
	if q.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	q.cancel = cancel
	q.done = make(chan struct{})
	go q.run(ctx, q.done)
}

func (q *Queue) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(q.opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if q.Online() {
				q.Drain(ctx)
			}
		case <-q.wake:
			q.Drain(ctx)
		}
	}
}

// Close 无条件停止调度与所有定时器，并写回一次
func (q *Queue) Close() {
	q.runMu.Lock()
	cancel, done := q.cancel, q.done
	q.cancel, q.done = nil, nil
	q.runMu.Unlock()

	q.mu.Lock()
	if q.retryTimer != nil {
		q.retryTimer.Stop()
		q.retryTimer = nil
	}
	q.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	q.persist(context.Background())
}

func (q *Queue) kick() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) scheduleRetry(d time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.online {
		return
	}
	if q.retryTimer != nil {
		q.retryTimer.Stop()
	}
	q.retryTimer = time.AfterFunc(d, q.kick)
}

func (q *Queue) persist(ctx context.Context) {
	if q.opts.Store == nil {
		return
	}
	q.persistMu.Lock()
	defer q.persistMu.Unlock()
	items := q.Pending()
	if err := q.opts.Store.Set(ctx, storageKey, items); err != nil {
		logger.Log.Errorf("sync queue: persist %d items: %v", len(items), err)
	}
}

func (q *Queue) insertLocked(item Item) {
	i := sort.Search(len(q.items), func(i int) bool { return item.before(q.items[i]) })
	q.items = append(q.items, Item{})
	copy(q.items[i+1:], q.items[i:])
	q.items[i] = item
}

// trimLocked 超出上限时丢弃创建时间最早的条目
func (q *Queue) trimLocked() {
	for len(q.items) > q.opts.MaxSize {
		oldest := 0
		for i := range q.items {
			if q.items[i].CreatedAt.Before(q.items[oldest].CreatedAt) {
				oldest = i
			}
		}
		logger.Log.Debugf("sync queue full, dropping %s (%s)", q.items[oldest].ID, q.items[oldest].Type)
		q.removeLocked(oldest)
	}
}

func (q *Queue) indexLocked(id string) int {
	for i := range q.items {
		if q.items[i].ID == id {
			return i
		}
	}
	return -1
}

func (q *Queue) removeLocked(i int) {
	q.items = append(q.items[:i], q.items[i+1:]...)
}
