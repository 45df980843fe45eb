package leaderboard

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"unicode"
)

const (
	MaxEntries = 100
	MaxNameLen = 50
	MaxIDLen   = 50
	// MaxScore 超过视为不可信
	MaxScore = 999_999_999
)

// ErrInvalidEntry 校验失败的条目不会进入排行榜
var ErrInvalidEntry = errors.New("invalid leaderboard entry")

// Entry 排行榜条目
type Entry struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Score        int64  `json:"score"`
	Timestamp    int64  `json:"timestamp"` // unix 毫秒
	SessionToken string `json:"sessionToken,omitempty"`
}

// ValidateEntry 校验并规范化远端返回的原始条目
func ValidateEntry(raw map[string]any) (Entry, error) {
	if raw == nil {
		return Entry{}, fmt.Errorf("%w: empty", ErrInvalidEntry)
	}
	id, ok := stringField(raw["id"])
	if !ok || strings.TrimSpace(id) == "" {
		return Entry{}, fmt.Errorf("%w: missing id", ErrInvalidEntry)
	}
	rawName, ok := raw["name"].(string)
	if !ok {
		return Entry{}, fmt.Errorf("%w: missing name", ErrInvalidEntry)
	}
	score, ok := numberField(raw["score"])
	if !ok || math.IsNaN(score) || math.IsInf(score, 0) || score < 0 {
		return Entry{}, fmt.Errorf("%w: score must be a non-negative number", ErrInvalidEntry)
	}
	score = math.Floor(score)
	if score > MaxScore {
		return Entry{}, fmt.Errorf("%w: implausible score %.0f", ErrInvalidEntry, score)
	}
	name := SanitizeName(rawName)
	if name == "" {
		return Entry{}, fmt.Errorf("%w: empty name after sanitization", ErrInvalidEntry)
	}

	e := Entry{
		ID:    truncate(strings.TrimSpace(id), MaxIDLen),
		Name:  name,
		Score: int64(score),
	}
	if ts, ok := numberField(raw["timestamp"]); ok && ts > 0 {
		e.Timestamp = int64(ts)
	}
	if tok, ok := raw["sessionToken"].(string); ok {
		e.SessionToken = truncate(tok, 64)
	}
	return e, nil
}

// SanitizeName 去掉控制字符与标记字符，裁剪空白并截断到 50 字符
func SanitizeName(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) || strings.ContainsRune("<>\"'&`", r) {
			return -1
		}
		return r
	}, s)
	return truncate(strings.TrimSpace(s), MaxNameLen)
}

// Merge 按 id 全外连接：保留分数更高者，同分取时间戳更新者；结果排序并截断
func Merge(primary, secondary []Entry) []Entry {
	byID := make(map[string]Entry, len(primary)+len(secondary))
	put := func(e Entry) {
		if cur, ok := byID[e.ID]; ok && !better(e, cur) {
			return
		}
		byID[e.ID] = e
	}
	for _, e := range primary {
		put(e)
	}
	for _, e := range secondary {
		put(e)
	}
	out := make([]Entry, 0, len(byID))
	for _, e := range byID {
		out = append(out, e)
	}
	return sortAndCap(out)
}

func better(a, b Entry) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.Timestamp > b.Timestamp
}

func sortAndCap(entries []Entry) []Entry {
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Timestamp != b.Timestamp {
			return a.Timestamp > b.Timestamp
		}
		return a.ID < b.ID
	})
	if len(entries) > MaxEntries {
		entries = entries[:MaxEntries]
	}
	return entries
}

func stringField(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return x, true
	case float64:
		if x != math.Trunc(x) {
			return "", false
		}
		return strconv.FormatFloat(x, 'f', -1, 64), true
	case json.Number:
		return x.String(), true
	case int:
		return strconv.Itoa(x), true
	case int64:
		return strconv.FormatInt(x, 10), true
	}
	return "", false
}

func numberField(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	}
	return 0, false
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
