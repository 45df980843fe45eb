package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"slaparena/logger"
)

const (
	// Namespace 所有键的固定前缀
	Namespace = "slaparena:"
	// Version 当前记录格式版本，不一致视为过期
	Version = 1
	// MaxAge 超过 30 天的记录在读取时清除
	MaxAge = 30 * 24 * time.Hour
	// evictFraction 配额不足时淘汰最旧的约 20%
	evictFraction = 0.2
)

var (
	ErrNotFound      = errors.New("storage: not found")
	ErrQuotaExceeded = errors.New("storage: quota exceeded")
	// ErrStorageFull 淘汰之后仍然写不下，需要提示用户
	ErrStorageFull = errors.New("storage full")
)

// Backend 底层键值存储
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context, prefix string) ([]string, error)
	Close() error
}

// Store 带命名空间、过期与配额淘汰的本地持久化
type Store struct {
	backend Backend
	now     func() time.Time
}

// Option Store 选项
type Option func(*Store)

// WithClock 注入时钟（测试用）
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func New(b Backend, opts ...Option) *Store {
	s := &Store{backend: b, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Get 读取并 JSON 解码到 v；缺失、过期或版本不符返回 ErrNotFound
func (s *Store) Get(ctx context.Context, key string, v any) error {
	full := Namespace + key
	raw, err := s.backend.Get(ctx, full)
	if err != nil {
		return err
	}
	env, err := decodeEnvelope(raw)
	if err != nil {
		logger.Log.Warnf("storage: dropping unreadable entry %s: %v", key, err)
		_ = s.backend.Delete(ctx, full)
		return ErrNotFound
	}
	if s.expired(env) {
		logger.Log.Debugf("storage: purging expired entry %s", key)
		if err := s.backend.Delete(ctx, full); err != nil {
			return fmt.Errorf("purge %s: %w", key, err)
		}
		return ErrNotFound
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

// Set 写入；配额不足时淘汰最旧的条目后重试一次
func (s *Store) Set(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	raw, err := encodeEnvelope(envelope{Data: data, Timestamp: s.now().UnixMilli(), Version: Version})
	if err != nil {
		return err
	}
	full := Namespace + key
	err = s.backend.Put(ctx, full, raw)
	if !errors.Is(err, ErrQuotaExceeded) {
		return err
	}

	evicted, evErr := s.evictOldest(ctx, full)
	if evErr != nil {
		return fmt.Errorf("%w: eviction failed: %v", ErrStorageFull, evErr)
	}
	logger.Log.Warnf("storage: quota exceeded writing %s, evicted %d entries", key, evicted)
	if err := s.backend.Put(ctx, full, raw); err != nil {
		if errors.Is(err, ErrQuotaExceeded) {
			return fmt.Errorf("%w: %s", ErrStorageFull, key)
		}
		return err
	}
	return nil
}

// Delete 删除
func (s *Store) Delete(ctx context.Context, key string) error {
	return s.backend.Delete(ctx, Namespace+key)
}

// Keys 列出命名空间内的键（去掉前缀）
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	keys, err := s.backend.Keys(ctx, Namespace)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, strings.TrimPrefix(k, Namespace))
	}
	sort.Strings(out)
	return out, nil
}

// Purge 主动清除过期条目，返回清除数量
func (s *Store) Purge(ctx context.Context) (int, error) {
	keys, err := s.backend.Keys(ctx, Namespace)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, k := range keys {
		raw, err := s.backend.Get(ctx, k)
		if err != nil {
			continue
		}
		env, err := decodeEnvelope(raw)
		if err != nil || s.expired(env) {
			if err := s.backend.Delete(ctx, k); err != nil {
				return n, err
			}
			n++
		}
	}
	return n, nil
}

// Close 关闭底层存储
func (s *Store) Close() error {
	return s.backend.Close()
}

func (s *Store) expired(env envelope) bool {
	if env.Version != Version {
		return true
	}
	return s.now().Sub(time.UnixMilli(env.Timestamp)) > MaxAge
}

// evictOldest 按写入时间淘汰最旧的约 20%（至少 1 条），不淘汰正在写入的键
func (s *Store) evictOldest(ctx context.Context, writing string) (int, error) {
	keys, err := s.backend.Keys(ctx, Namespace)
	if err != nil {
		return 0, err
	}
	type aged struct {
		key string
		ts  int64
	}
	entries := make([]aged, 0, len(keys))
	for _, k := range keys {
		if k == writing {
			continue
		}
		var ts int64
		if raw, err := s.backend.Get(ctx, k); err == nil {
			if env, err := decodeEnvelope(raw); err == nil {
				ts = env.Timestamp
			}
		}
		entries = append(entries, aged{key: k, ts: ts})
	}
	if len(entries) == 0 {
		return 0, errors.New("nothing to evict")
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ts < entries[j].ts })

	n := int(float64(len(entries))*evictFraction + 0.5)
	if n < 1 {
		n = 1
	}
	for _, e := range entries[:n] {
		if err := s.backend.Delete(ctx, e.key); err != nil {
			return 0, err
		}
	}
	return n, nil
}
