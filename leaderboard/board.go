package leaderboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"slaparena/logger"
	"slaparena/storage"
	"slaparena/syncq"
)

const (
	storageKey = "leaderboard"
	// SyncType 本地成绩同步到远端使用的类型标签
	SyncType        = "score"
	syncMaxAttempts = 3
)

// ErrRefreshInFlight 已有刷新在进行
var ErrRefreshInFlight = errors.New("leaderboard refresh already in flight")

// Fetcher 远端排行榜
type Fetcher interface {
	FetchLeaderboard(ctx context.Context) ([]map[string]any, error)
}

// Outbox 同步队列入口
type Outbox interface {
	Enqueue(ctx context.Context, item syncq.Item) (syncq.Item, error)
}

// Options Board 依赖
type Options struct {
	Store   *storage.Store
	Fetcher Fetcher
	Outbox  Outbox
	Now     func() time.Time
}

type cached struct {
	Entries  []Entry   `json:"entries"`
	CachedAt time.Time `json:"cachedAt"`
}

// Board 本地缓存的排行榜：合并远端、本地与待同步的更新
type Board struct {
	opts Options

	mu       sync.RWMutex
	entries  []Entry
	cachedAt time.Time

	refreshing atomic.Bool
	persistMu  sync.Mutex // 串行化快照与写入

	subMu  sync.Mutex
	nextID int
	subs   map[int]func([]Entry)
}

func NewBoard(opts Options) *Board {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Board{opts: opts, subs: make(map[int]func([]Entry))}
}

// Load 读取本地缓存
func (b *Board) Load(ctx context.Context) error {
	if b.opts.Store == nil {
		return nil
	}
	var c cached
	if err := b.opts.Store.Get(ctx, storageKey, &c); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("load leaderboard: %w", err)
	}
	b.mu.Lock()
	b.entries = Merge(c.Entries, nil)
	b.cachedAt = c.CachedAt
	b.mu.Unlock()
	return nil
}

// Snapshot 不可变副本
func (b *Board) Snapshot() []Entry {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Entry, len(b.entries))
	copy(out, b.entries)
	return out
}

// CachedAt 最近一次成功刷新的时间
func (b *Board) CachedAt() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.cachedAt
}

// Rank 名次（从 1 开始），不在榜上返回 0
func (b *Board) Rank(id string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for i, e := range b.entries {
		if e.ID == id {
			return i + 1
		}
	}
	return 0
}

// Subscribe 订阅合并后的榜单，返回取消函数
func (b *Board) Subscribe(fn func([]Entry)) func() {
	b.subMu.Lock()
	defer b.subMu.Unlock()
	id := b.nextID
	b.nextID++
	b.subs[id] = fn
	return func() {
		b.subMu.Lock()
		delete(b.subs, id)
		b.subMu.Unlock()
	}
}

// Refresh 拉取远端、逐条校验、与本地合并、持久化并通知；同一时刻只允许一个刷新
func (b *Board) Refresh(ctx context.Context) error {
	if b.opts.Fetcher == nil {
		return errors.New("leaderboard: no fetcher configured")
	}
	if !b.refreshing.CompareAndSwap(false, true) {
		return ErrRefreshInFlight
	}
	defer b.refreshing.Store(false)

	raw, err := b.opts.Fetcher.FetchLeaderboard(ctx)
	if err != nil {
		return fmt.Errorf("fetch leaderboard: %w", err)
	}
	remote := make([]Entry, 0, len(raw))
	for _, r := range raw {
		e, err := ValidateEntry(r)
		if err != nil {
			logger.Log.Debugf("leaderboard: dropping remote entry: %v", err)
			continue
		}
		remote = append(remote, e)
	}

	b.mu.Lock()
	b.entries = Merge(b.entries, remote)
	b.cachedAt = b.opts.Now()
	b.mu.Unlock()

	b.persist(ctx)
	b.notify()
	return nil
}

// UpdateLocal 替换当前玩家的条目并排入同步队列（本地成绩进入同步队列的唯一入口）
func (b *Board) UpdateLocal(ctx context.Context, e Entry) error {
	e.Name = SanitizeName(e.Name)
	e.ID = truncate(e.ID, MaxIDLen)
	if e.ID == "" || e.Name == "" || e.Score < 0 || e.Score > MaxScore {
		return fmt.Errorf("%w: %+v", ErrInvalidEntry, e)
	}
	if e.Timestamp == 0 {
		e.Timestamp = b.opts.Now().UnixMilli()
	}

	b.mu.Lock()
	next := make([]Entry, 0, len(b.entries)+1)
	for _, cur := range b.entries {
		if cur.ID != e.ID {
			next = append(next, cur)
		}
	}
	b.entries = sortAndCap(append(next, e))
	b.mu.Unlock()

	b.persist(ctx)
	b.notify()

	if b.opts.Outbox == nil {
		return nil
	}
	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}
	_, err = b.opts.Outbox.Enqueue(ctx, syncq.Item{
		Type:        SyncType,
		Payload:     payload,
		Priority:    syncq.PriorityNormal,
		MaxAttempts: syncMaxAttempts,
	})
	return err
}

// Run 周期刷新，直到 ctx 结束
func (b *Board) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := b.Refresh(ctx); err != nil && !errors.Is(err, ErrRefreshInFlight) {
				logger.Log.Warnf("leaderboard refresh failed: %v", err)
			}
		}
	}
}

// Close 清理订阅
func (b *Board) Close() {
	b.subMu.Lock()
	b.subs = make(map[int]func([]Entry))
	b.subMu.Unlock()
}

func (b *Board) persist(ctx context.Context) {
	if b.opts.Store == nil {
		return
	}
	b.persistMu.Lock()
	defer b.persistMu.Unlock()
	b.mu.RLock()
	c := cached{Entries: append([]Entry(nil), b.entries...), CachedAt: b.cachedAt}
	b.mu.RUnlock()
	if err := b.opts.Store.Set(ctx, storageKey, c); err != nil {
		logger.Log.Errorf("leaderboard: persist: %v", err)
	}
}

func (b *Board) notify() {
	snap := b.Snapshot()
	b.subMu.Lock()
	subs := make([]func([]Entry), 0, len(b.subs))
	for _, fn := range b.subs {
		subs = append(subs, fn)
	}
	b.subMu.Unlock()
	for _, fn := range subs {
		fn(append([]Entry(nil), snap...))
	}
}
