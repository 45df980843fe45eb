package game

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"slaparena/logger"
)

const (
	// MaxTapsPerSecond 1 秒滑动窗口内最多接受的点击数
	MaxTapsPerSecond = 4
	// MinTapInterval 两次被接受点击的最小间隔
	MinTapInterval = time.Second / MaxTapsPerSecond
	// ComboWindow 连击保持时间
	ComboWindow = 1200 * time.Millisecond
	// MaxPointsPerTap 单次点击得分上限，超过视为非法增量
	MaxPointsPerTap = 1000
	// BasePoints 每次点击的基础分
	BasePoints = 1
	// DailyBonus 每日奖励分数
	DailyBonus = 100
	// DailyCooldown 每日奖励间隔
	DailyCooldown = 24 * time.Hour

	rateWindow = time.Second
)

// ErrInvalidIncrement 单次得分超过上限
var ErrInvalidIncrement = errors.New("invalid score increment")

// RejectReason 静默拒绝的原因；空字符串表示已接受
type RejectReason string

const (
	Accepted         RejectReason = ""
	RateLimited      RejectReason = "rateLimited"
	TooFast          RejectReason = "tooFast"
	AlreadyClaimed   RejectReason = "alreadyClaimed"
	InvalidIncrement RejectReason = "invalidIncrement" // 伴随 ErrInvalidIncrement 返回
)

// SlapResult 一次点击的结果
type SlapResult struct {
	Accepted bool
	Reason   RejectReason
	Points   int64
	Combo    int
}

// Engine 限流 + 连击引擎；GameState 只能通过这里修改
type Engine struct {
	mu       sync.Mutex
	state    GameState
	window   []time.Time // 最近 1 秒内被接受的点击
	history  ScoreHistory
	powerUps *PowerUps
	obs      observers
}

// NewEngine 创建引擎；powerUps 为 nil 时自动创建
func NewEngine(powerUps *PowerUps) *Engine {
	if powerUps == nil {
		powerUps = NewPowerUps()
	}
	return &Engine{state: NewGameState(), powerUps: powerUps}
}

// PowerUps 返回关联的调度器
func (e *Engine) PowerUps() *PowerUps { return e.powerUps }

// Subscribe 订阅事件，返回取消函数
func (e *Engine) Subscribe(o Observer) func() { return e.obs.add(o) }

// Close 清理全部订阅
func (e *Engine) Close() { e.obs.clear() }

// State 只读快照
func (e *Engine) State() GameState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Clone()
}

// Restore 用持久化的状态替换当前状态（会话启动时调用）
func (e *Engine) Restore(s GameState) {
	s = s.Clone()
	s.normalize()
	e.mu.Lock()
	e.state = s
	e.window = e.window[:0]
	e.history.Reset()
	e.mu.Unlock()
	// 已达到阈值的 power-up 直接解锁，不补发事件
	e.powerUps.UnlockCheck(s.Score)
}

// AttemptSlap 处理一次点击意图；限流为静默拒绝，仅非法增量返回错误
func (e *Engine) AttemptSlap(now time.Time) (SlapResult, error) {
	e.mu.Lock()
	e.state.Stats.TotalTaps++

	e.pruneWindow(now)
	if len(e.window) >= MaxTapsPerSecond {
		combo := e.state.Combo
		e.mu.Unlock()
		return SlapResult{Reason: RateLimited, Combo: combo}, nil
	}
	last := e.state.LastSlapAt
	if !last.IsZero() && now.Sub(last) < MinTapInterval {
		combo := e.state.Combo
		e.mu.Unlock()
		return SlapResult{Reason: TooFast, Combo: combo}, nil
	}

	combo := MinCombo
	if !last.IsZero() && now.Sub(last) < ComboWindow {
		combo = min(e.state.Combo+1, MaxCombo)
	}
	points := int64(math.Floor(float64(BasePoints*combo) * e.powerUps.Modifier()))
	if points > MaxPointsPerTap {
		e.mu.Unlock()
		logger.Log.Warnf("rejected slap: %d points exceeds per-tap ceiling", points)
		return SlapResult{Reason: InvalidIncrement, Combo: combo}, fmt.Errorf("%w: %d points", ErrInvalidIncrement, points)
	}

	e.window = append(e.window, now)
	e.state.Combo = combo
	e.state.LastSlapAt = now
	e.state.LastComboTick = now
	e.state.TotalSlaps++
	if combo > e.state.Stats.HighestCombo {
		e.state.Stats.HighestCombo = combo
	}
	events := e.addScoreLocked(points, now)
	events = append(events, e.comboMilestonesLocked(now)...)
	e.mu.Unlock()

	e.obs.emit(events)
	return SlapResult{Accepted: true, Points: points, Combo: combo}, nil
}

// ClaimDaily 每日奖励，24 小时一次
func (e *Engine) ClaimDaily(now time.Time) SlapResult {
	e.mu.Lock()
	if e.state.DailyClaimed && now.Sub(e.state.LastDailyClaim) < DailyCooldown {
		combo := e.state.Combo
		e.mu.Unlock()
		return SlapResult{Reason: AlreadyClaimed, Combo: combo}
	}
	e.state.DailyClaimed = true
	e.state.LastDailyClaim = now
	events := []Event{{Kind: EventDailyClaimed, Score: e.state.Score + DailyBonus, At: now}}
	events = append(events, e.addScoreLocked(DailyBonus, now)...)
	combo := e.state.Combo
	e.mu.Unlock()

	e.obs.emit(events)
	return SlapResult{Accepted: true, Points: DailyBonus, Combo: combo}
}

// Activate 激活 power-up，错误原样返回给调用方
func (e *Engine) Activate(k Kind, now time.Time) error {
	if err := e.powerUps.Activate(k); err != nil {
		return err
	}
	e.obs.emit([]Event{{Kind: EventPowerUpActivated, ID: string(k), Score: e.Score(), At: now}})
	return nil
}

// Tick 推进时间：累计游戏时长并驱动 power-up 到期与冷却
func (e *Engine) Tick(elapsed time.Duration, now time.Time) {
	if elapsed <= 0 {
		return
	}
	e.mu.Lock()
	e.state.Stats.PlayTime += elapsed
	score := e.state.Score
	e.mu.Unlock()

	var events []Event
	for _, k := range e.powerUps.Tick(elapsed) {
		events = append(events, Event{Kind: EventPowerUpExpired, ID: string(k), Score: score, At: now})
	}
	e.obs.emit(events)
}

// StartSession 记录一次会话开始
func (e *Engine) StartSession() {
	e.mu.Lock()
	e.state.Stats.Sessions++
	e.mu.Unlock()
}

// Reset 显式重置分数与连击（唯一允许分数下降的入口）
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state.Score = 0
	e.state.Combo = MinCombo
	e.state.LastSlapAt = time.Time{}
	e.state.LastComboTick = time.Time{}
	e.window = e.window[:0]
	e.history.Reset()
}

// Score 当前分数
func (e *Engine) Score() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Score
}

func (e *Engine) pruneWindow(now time.Time) {
	keep := e.window[:0]
	for _, t := range e.window {
		if now.Sub(t) < rateWindow {
			keep = append(keep, t)
		}
	}
	e.window = keep
}

// addScoreLocked 加分、记录历史、检查里程碑与解锁；调用方持有锁
func (e *Engine) addScoreLocked(points int64, now time.Time) []Event {
	e.state.Score += points
	score := e.state.Score

	var events []Event
	if suspicious, detail := e.history.Record(score, now); suspicious {
		logger.Log.Warnf("suspicious scoring: %s (score=%d)", detail, score)
		events = append(events, Event{Kind: EventSuspiciousScoring, Score: score, At: now, Detail: detail})
	}
	for _, m := range scoreMilestones {
		id := fmt.Sprintf("score_%d", m)
		if score >= m && !e.state.Achievements[id] {
			e.state.Achievements[id] = true
			events = append(events, Event{Kind: EventAchievement, ID: id, Score: score, At: now})
		}
	}
	for _, k := range e.powerUps.UnlockCheck(score) {
		events = append(events, Event{Kind: EventPowerUpUnlocked, ID: string(k), Score: score, At: now})
	}
	return events
}

func (e *Engine) comboMilestonesLocked(now time.Time) []Event {
	var events []Event
	for _, m := range comboMilestones {
		id := fmt.Sprintf("combo_%d", m)
		if e.state.Combo >= m && !e.state.Achievements[id] {
			e.state.Achievements[id] = true
			events = append(events, Event{Kind: EventAchievement, ID: id, Score: e.state.Score, At: now})
		}
	}
	return events
}
