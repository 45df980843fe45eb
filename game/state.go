package game

import (
	"sort"
	"time"
)

// 连击上限与成就里程碑
const (
	MinCombo = 1
	MaxCombo = 50
)

var (
	scoreMilestones = []int64{100, 500, 1000, 5000, 10000, 50000, 100000}
	comboMilestones = []int{10, 25}
)

// Statistics 累计统计
type Statistics struct {
	PlayTime     time.Duration `json:"playTime"`
	HighestCombo int           `json:"highestCombo"`
	TotalTaps    int64         `json:"totalTaps"` // 所有点击尝试，含被限流的
	Sessions     int           `json:"sessions"`
}

// GameState 单机/离线模式下的本地状态，只能经由 Engine 修改
type GameState struct {
	Score          int64           `json:"score"`
	Combo          int             `json:"combo"`
	LastSlapAt     time.Time       `json:"lastSlapAt"`
	LastComboTick  time.Time       `json:"lastComboTick"`
	TotalSlaps     int64           `json:"totalSlaps"`
	DailyClaimed   bool            `json:"dailyClaimed"`
	LastDailyClaim time.Time       `json:"lastDailyClaim"`
	Achievements   map[string]bool `json:"achievements"`
	Stats          Statistics      `json:"stats"`
}

// NewGameState 初始状态：0 分，连击 1
func NewGameState() GameState {
	return GameState{Combo: MinCombo, Achievements: make(map[string]bool)}
}

// Clone 深拷贝，用于对外只读快照
func (s GameState) Clone() GameState {
	out := s
	out.Achievements = make(map[string]bool, len(s.Achievements))
	for k, v := range s.Achievements {
		out.Achievements[k] = v
	}
	return out
}

// AchievementIDs 已解锁成就（排序后）
func (s GameState) AchievementIDs() []string {
	ids := make([]string, 0, len(s.Achievements))
	for id, ok := range s.Achievements {
		if ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// normalize 修复从存储恢复的越界值
func (s *GameState) normalize() {
	if s.Achievements == nil {
		s.Achievements = make(map[string]bool)
	}
	if s.Score < 0 {
		s.Score = 0
	}
	s.Combo = clampCombo(s.Combo)
}

func clampCombo(c int) int {
	if c < MinCombo {
		return MinCombo
	}
	if c > MaxCombo {
		return MaxCombo
	}
	return c
}
