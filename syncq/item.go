package syncq

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// Priority 同步优先级
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

func (p Priority) rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityLow:
		return 2
	default:
		return 1
	}
}

func (p Priority) valid() bool {
	return p == PriorityHigh || p == PriorityNormal || p == PriorityLow
}

const maxTypeLen = 32

// ErrInvalidItem 类型标签或载荷不合法，条目不会进入队列
var ErrInvalidItem = errors.New("invalid sync item")

// ErrRejected Handler 返回的错误匹配它时，条目立即淘汰不再重试
var ErrRejected = errors.New("sync item rejected")

// Item 待同步的远程操作；ID 同时作为远端的幂等键
type Item struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	Payload     json.RawMessage `json:"payload"`
	CreatedAt   time.Time       `json:"createdAt"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"maxAttempts"`
	Priority    Priority        `json:"priority"`
	LastAttempt time.Time       `json:"lastAttempt"`
}

// IdempotencyKey 远端去重用的键
func (it Item) IdempotencyKey() string { return it.ID }

// before 优先级为主、创建时间为次
func (it Item) before(other Item) bool {
	if a, b := it.Priority.rank(), other.Priority.rank(); a != b {
		return a < b
	}
	return it.CreatedAt.Before(other.CreatedAt)
}

// SanitizeType 小写化并只保留 [a-z0-9_-]，最长 32
func SanitizeType(t string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(t)) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			b.WriteRune(r)
			if b.Len() >= maxTypeLen {
				break
			}
		}
	}
	return b.String()
}
