// Package session 单机离线优先会话：引擎 → 本地存储 → 同步队列 → 排行榜
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"slaparena/game"
	"slaparena/leaderboard"
	"slaparena/logger"
	"slaparena/remote"
	"slaparena/storage"
	"slaparena/syncq"
)

const (
	profileKey  = "profile"
	stateKey    = "game_state"
	powerUpsKey = "power_ups"
)

// ErrClosed 会话已关闭
var ErrClosed = errors.New("session closed")

// Options 会话参数
type Options struct {
	Name             string
	Store            *storage.Store // 为 nil 时使用内存存储，Close 时一并关闭
	Remote           *remote.Client // 为 nil 时只在本地排队
	TickInterval     time.Duration
	AutosaveInterval time.Duration
	SyncInterval     time.Duration
	RefreshInterval  time.Duration
	Now              func() time.Time
}

// Profile 本地玩家身份，首次启动生成并持久化
type Profile struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	SessionToken string `json:"sessionToken"`
}

// Session 一个玩家的本地会话
type Session struct {
	opts      Options
	ownsStore bool

	engine *game.Engine
	queue  *syncq.Queue
	board  *leaderboard.Board
	unsub  func()

	profile     Profile
	dirty       atomic.Bool
	lastFlushed atomic.Int64

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	closed bool
}

// Open 恢复或创建会话；不启动任何后台协程
func Open(ctx context.Context, opts Options) (*Session, error) {
	if opts.TickInterval <= 0 {
		opts.TickInterval = time.Second
	}
	if opts.AutosaveInterval <= 0 {
		opts.AutosaveInterval = 30 * time.Second
	}
	if opts.RefreshInterval <= 0 {
		opts.RefreshInterval = time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	s := &Session{opts: opts}
	if s.opts.Store == nil {
		s.opts.Store = storage.New(storage.NewMemoryBackend(0))
		s.ownsStore = true
	}
	store := s.opts.Store

	if err := s.loadProfile(ctx); err != nil {
		return nil, err
	}

	s.engine = game.NewEngine(nil)
	var st game.GameState
	switch err := store.Get(ctx, stateKey, &st); {
	case err == nil:
		s.engine.Restore(st)
	case !errors.Is(err, storage.ErrNotFound):
		logger.Log.Warnf("session: discarding unreadable state: %v", err)
	}
	var pus []game.PowerUp
	if err := store.Get(ctx, powerUpsKey, &pus); err == nil {
		s.engine.PowerUps().Restore(pus)
	}
	s.engine.StartSession()
	s.lastFlushed.Store(-1)

	qopts := syncq.DefaultOptions()
	qopts.Store = store
	qopts.Now = opts.Now
	if opts.SyncInterval > 0 {
		qopts.Interval = opts.SyncInterval
	}
	s.queue = syncq.New(qopts)
	if opts.Remote != nil {
		s.queue.Handle(leaderboard.SyncType, opts.Remote.Handler())
	}
	if err := s.queue.Load(ctx); err != nil {
		logger.Log.Warnf("session: %v", err)
	}

	bopts := leaderboard.Options{Store: store, Outbox: s.queue, Now: opts.Now}
	if opts.Remote != nil {
		bopts.Fetcher = opts.Remote
	}
	s.board = leaderboard.NewBoard(bopts)
	if err := s.board.Load(ctx); err != nil {
		logger.Log.Warnf("session: %v", err)
	}

	s.unsub = s.engine.Subscribe(game.ObserverFunc(s.onEvent))
	logger.Log.Infof("session opened: player=%s score=%d queued=%d", s.profile.ID, s.engine.Score(), s.queue.Len())
	return s, nil
}

func (s *Session) loadProfile(ctx context.Context) error {
	err := s.opts.Store.Get(ctx, profileKey, &s.profile)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		logger.Log.Warnf("session: discarding unreadable profile: %v", err)
	}
	if s.profile.ID == "" {
		s.profile.ID = uuid.NewString()
	}
	if s.opts.Name != "" {
		s.profile.Name = leaderboard.SanitizeName(s.opts.Name)
	}
	if s.profile.Name == "" {
		s.profile.Name = "Player " + s.profile.ID[:8]
	}
	// 每次启动换新的会话令牌
	s.profile.SessionToken = uuid.NewString()
	if err := s.opts.Store.Set(ctx, profileKey, s.profile); err != nil {
		return fmt.Errorf("save profile: %w", err)
	}
	return nil
}

func (s *Session) onEvent(e game.Event) {
	switch e.Kind {
	case game.EventSuspiciousScoring:
		// 已由引擎记录，这里不重复
	default:
		logger.Log.Infof("player %s: %s %s (score=%d)", s.profile.ID, e.Kind, e.ID, e.Score)
	}
	s.dirty.Store(true)
}

// Start 启动 tick、自动保存、同步队列与排行榜刷新
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.cancel != nil {
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	s.queue.Start(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.run(ctx)
	}()
	if s.opts.Remote != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.board.Run(ctx, s.opts.RefreshInterval)
		}()
	}
	go func(done chan struct{}) {
		wg.Wait()
		close(done)
	}(s.done)
	return nil
}

func (s *Session) run(ctx context.Context) {
	tick := time.NewTicker(s.opts.TickInterval)
	defer tick.Stop()
	save := time.NewTicker(s.opts.AutosaveInterval)
	defer save.Stop()

	last := s.opts.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			now := s.opts.Now()
			s.engine.Tick(now.Sub(last), now)
			last = now
		case <-save.C:
			if s.dirty.Load() {
				if err := s.Save(ctx); err != nil {
					logger.Log.Errorf("session autosave: %v", err)
				}
			}
		}
	}
}

// Slap 点击一次
func (s *Session) Slap() (game.SlapResult, error) {
	res, err := s.engine.AttemptSlap(s.opts.Now())
	if res.Accepted {
		s.dirty.Store(true)
	}
	return res, err
}

// ClaimDaily 领取每日奖励
func (s *Session) ClaimDaily() game.SlapResult {
	res := s.engine.ClaimDaily(s.opts.Now())
	if res.Accepted {
		s.dirty.Store(true)
	}
	return res
}

// Activate 激活 power-up
func (s *Session) Activate(k game.Kind) error {
	if err := s.engine.Activate(k, s.opts.Now()); err != nil {
		return err
	}
	s.dirty.Store(true)
	return nil
}

// Subscribe 订阅引擎事件
func (s *Session) Subscribe(o game.Observer) func() { return s.engine.Subscribe(o) }

func (s *Session) Profile() Profile { return s.profile }
func (s *Session) State() game.GameState { return s.engine.State() }
func (s *Session) PowerUps() []game.PowerUp { return s.engine.PowerUps().Snapshot() }
func (s *Session) Leaderboard() []leaderboard.Entry { return s.board.Snapshot() }
func (s *Session) Rank() int { return s.board.Rank(s.profile.ID) }
func (s *Session) PendingSync() []syncq.Item { return s.queue.Pending() }

// Save 写入状态与 power-up
func (s *Session) Save(ctx context.Context) error {
	s.dirty.Store(false)
	err := multierr.Append(
		s.opts.Store.Set(ctx, stateKey, s.engine.State()),
		s.opts.Store.Set(ctx, powerUpsKey, s.engine.PowerUps().Snapshot()),
	)
	if err != nil {
		s.dirty.Store(true)
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// Flush 把当前分数写入本地榜并排入同步队列；分数未变化时跳过
func (s *Session) Flush(ctx context.Context) error {
	score := s.engine.Score()
	if s.lastFlushed.Load() == score {
		return nil
	}
	err := s.board.UpdateLocal(ctx, leaderboard.Entry{
		ID:           s.profile.ID,
		Name:         s.profile.Name,
		Score:        score,
		Timestamp:    s.opts.Now().UnixMilli(),
		SessionToken: s.profile.SessionToken,
	})
	if err != nil {
		return err
	}
	s.lastFlushed.Store(score)
	return nil
}

// Suspend 失去可见性/进入后台：保存并提交分数
func (s *Session) Suspend(ctx context.Context) error {
	return multierr.Append(s.Save(ctx), s.Flush(ctx))
}

// SetOnline 连接状态变化
func (s *Session) SetOnline(online bool) { s.queue.SetOnline(online) }

// Sync 立即 drain 一次同步队列
func (s *Session) Sync(ctx context.Context) syncq.Report { return s.queue.Drain(ctx) }

// Refresh 立即刷新排行榜
func (s *Session) Refresh(ctx context.Context) error { return s.board.Refresh(ctx) }

// Close 无条件停止所有后台协程与定时器，并保存一次
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	s.queue.Close()
	s.board.Close()
	s.unsub()
	s.engine.Close()

	err := s.Save(context.Background())
	if s.ownsStore {
		err = multierr.Append(err, s.opts.Store.Close())
	}
	return err
}
