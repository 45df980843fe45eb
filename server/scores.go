package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"slaparena/leaderboard"
	"slaparena/logger"
	"slaparena/storage"
)

const (
	maxSeenKeys = 10000
	boardKey    = "remote_board"
)

// ScoreService 内存版远端排行榜：接收离线会话同步上来的成绩
type ScoreService struct {
	store     *storage.Store // 为 nil 时只保存在内存
	persistMu sync.Mutex

	mu      sync.Mutex
	entries []leaderboard.Entry
	seen    map[string]struct{}
	order   []string // 幂等键按到达顺序，超过上限淘汰最早的
}

func NewScoreService(store *storage.Store) *ScoreService {
	return &ScoreService{store: store, seen: make(map[string]struct{})}
}

// Load 恢复上次持久化的榜单
func (s *ScoreService) Load(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	var entries []leaderboard.Entry
	if err := s.store.Get(ctx, boardKey, &entries); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("load score board: %w", err)
	}
	s.mu.Lock()
	s.entries = leaderboard.Merge(entries, nil)
	s.mu.Unlock()
	return nil
}

// HandleScore POST /api/score，Idempotency-Key 必填；重复提交直接返回成功
func (s *ScoreService) HandleScore(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	key := r.Header.Get("Idempotency-Key")
	if key == "" {
		http.Error(w, "missing Idempotency-Key", http.StatusBadRequest)
		return
	}

	var raw map[string]any
	if err := json.NewDecoder(io.LimitReader(r.Body, 4<<10)).Decode(&raw); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	entry, err := leaderboard.ValidateEntry(raw)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	s.mu.Lock()
	_, dup := s.seen[key]
	if !dup {
		s.remember(key)
		s.entries = leaderboard.Merge(s.entries, []leaderboard.Entry{entry})
	}
	rank := 0
	for i, e := range s.entries {
		if e.ID == entry.ID {
			rank = i + 1
			break
		}
	}
	s.mu.Unlock()

	if dup {
		logger.Log.Debugf("duplicate score submission %s ignored", key)
	} else {
		logger.Log.Infof("score accepted: id=%s score=%d rank=%d", entry.ID, entry.Score, rank)
		s.persist(r.Context())
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "duplicate": dup, "rank": rank})
}

// HandleLeaderboard GET /api/leaderboard
func (s *ScoreService) HandleLeaderboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": s.Entries()})
}

// Entries 当前榜单副本
func (s *ScoreService) Entries() []leaderboard.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]leaderboard.Entry{}, s.entries...)
}

func (s *ScoreService) remember(key string) {
	s.seen[key] = struct{}{}
	s.order = append(s.order, key)
	if len(s.order) > maxSeenKeys {
		delete(s.seen, s.order[0])
		s.order = s.order[1:]
	}
}

func (s *ScoreService) persist(ctx context.Context) {
	if s.store == nil {
		return
	}
	s.persistMu.Lock()
	defer s.persistMu.Unlock()
	if err := s.store.Set(ctx, boardKey, s.Entries()); err != nil {
		logger.Log.Errorf("persist score board: %v", err)
	}
}
