package game

import (
	"errors"
	"sync"
	"time"
)

// Kind power-up 种类（固定五种）
type Kind string

const (
	DoublePoints Kind = "doublePoints"
	RapidFire    Kind = "rapidFire"
	Shield       Kind = "shield"
	Magnet       Kind = "magnet"
	Boost        Kind = "boost"
)

// Kinds 固定顺序，便于遍历与快照
var Kinds = []Kind{DoublePoints, RapidFire, Shield, Magnet, Boost}

// Params 每种 power-up 的静态参数
type Params struct {
	Threshold int64         // 解锁所需分数
	Duration  time.Duration // 激活持续时间
	Cooldown  time.Duration // 从激活开始计算的冷却
	Modifier  float64       // 每次点击的得分倍率，1 表示不影响
}

var catalog = map[Kind]Params{
	DoublePoints: {Threshold: 500, Duration: 30 * time.Second, Cooldown: 120 * time.Second, Modifier: 2},
	RapidFire:    {Threshold: 1000, Duration: 15 * time.Second, Cooldown: 90 * time.Second, Modifier: 1.5},
	Shield:       {Threshold: 2500, Duration: 20 * time.Second, Cooldown: 150 * time.Second, Modifier: 1},
	Magnet:       {Threshold: 5000, Duration: 25 * time.Second, Cooldown: 120 * time.Second, Modifier: 1},
	Boost:        {Threshold: 10000, Duration: 10 * time.Second, Cooldown: 180 * time.Second, Modifier: 3},
}

// ParamsFor 查询静态参数
func ParamsFor(k Kind) (Params, bool) {
	s, ok := catalog[k]
	return s, ok
}

var (
	ErrUnknownPowerUp = errors.New("power-up not found")
	ErrNotUnlocked    = errors.New("power-up not unlocked")
	ErrOnCooldown     = errors.New("power-up on cooldown")
	ErrAlreadyActive  = errors.New("power-up already active")
)

// PowerUp 单个 power-up 的运行期状态
type PowerUp struct {
	Kind      Kind          `json:"kind"`
	Unlocked  bool          `json:"unlocked"`
	Active    bool          `json:"active"`
	Remaining time.Duration `json:"remaining"`
	Cooldown  time.Duration `json:"cooldown"`
}

// Ready 可激活
func (p PowerUp) Ready() bool {
	return p.Unlocked && !p.Active && p.Cooldown == 0
}

// PowerUps 调度器：解锁、激活、到期与冷却均由 Tick 推进，不依赖墙钟定时器
type PowerUps struct {
	mu    sync.Mutex
	items map[Kind]*PowerUp
}

func NewPowerUps() *PowerUps {
	p := &PowerUps{items: make(map[Kind]*PowerUp, len(Kinds))}
	for _, k := range Kinds {
		p.items[k] = &PowerUp{Kind: k}
	}
	return p
}

// UnlockCheck 分数达到阈值时单向解锁，返回本次新解锁的种类
func (p *PowerUps) UnlockCheck(score int64) []Kind {
	p.mu.Lock()
	defer p.mu.Unlock()
	var unlocked []Kind
	for _, k := range Kinds {
		pu := p.items[k]
		if !pu.Unlocked && score >= catalog[k].Threshold {
			pu.Unlocked = true
			unlocked = append(unlocked, k)
		}
	}
	return unlocked
}

// Activate 激活；持续时间与冷却同时开始计时
func (p *PowerUps) Activate(k Kind) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	pu, ok := p.items[k]
	if !ok {
		return ErrUnknownPowerUp
	}
	switch {
	case !pu.Unlocked:
		return ErrNotUnlocked
	case pu.Active:
		return ErrAlreadyActive
	case pu.Cooldown > 0:
		return ErrOnCooldown
	}
	params := catalog[k]
	pu.Active = true
	pu.Remaining = params.Duration
	pu.Cooldown = params.Cooldown
	return nil
}

// Tick 推进 elapsed：到期的 power-up 失效并返回；冷却独立递减，最低为 0
func (p *PowerUps) Tick(elapsed time.Duration) []Kind {
	if elapsed <= 0 {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	var expired []Kind
	for _, k := range Kinds {
		pu := p.items[k]
		if pu.Active {
			pu.Remaining -= elapsed
			if pu.Remaining <= 0 {
				pu.Active = false
				pu.Remaining = 0
				expired = append(expired, k)
			}
		}
		if pu.Cooldown > 0 {
			pu.Cooldown -= elapsed
			if pu.Cooldown < 0 {
				pu.Cooldown = 0
			}
		}
	}
	return expired
}

// Modifier 当前激活的倍率相乘
func (p *PowerUps) Modifier() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	m := 1.0
	for _, k := range Kinds {
		if p.items[k].Active {
			m *= catalog[k].Modifier
		}
	}
	return m
}

// Get 单个快照
func (p *PowerUps) Get(k Kind) (PowerUp, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pu, ok := p.items[k]
	if !ok {
		return PowerUp{}, false
	}
	return *pu, true
}

// Snapshot 全部快照（固定顺序）
func (p *PowerUps) Snapshot() []PowerUp {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]PowerUp, 0, len(Kinds))
	for _, k := range Kinds {
		out = append(out, *p.items[k])
	}
	return out
}

// Restore 从持久化快照恢复；未知种类忽略
func (p *PowerUps) Restore(list []PowerUp) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, saved := range list {
		pu, ok := p.items[saved.Kind]
		if !ok {
			continue
		}
		*pu = saved
		if pu.Remaining < 0 {
			pu.Remaining = 0
		}
		if pu.Cooldown < 0 {
			pu.Cooldown = 0
		}
		if pu.Active && pu.Remaining == 0 {
			pu.Active = false
		}
	}
}
