package game

import (
	"sync"
	"time"
)

// EventKind 引擎对外发布的事件类型
type EventKind string

const (
	EventAchievement       EventKind = "achievement"
	EventPowerUpUnlocked   EventKind = "powerUpUnlocked"
	EventPowerUpActivated  EventKind = "powerUpActivated"
	EventPowerUpExpired    EventKind = "powerUpExpired"
	EventDailyClaimed      EventKind = "dailyClaimed"
	EventSuspiciousScoring EventKind = "suspiciousScoring"
)

// Event 引擎事件
type Event struct {
	Kind   EventKind
	ID     string // 成就 id 或 power-up 种类
	Score  int64
	At     time.Time
	Detail string
}

// Observer 订阅者接口
type Observer interface {
	Notify(Event)
}

// ObserverFunc 函数适配器
type ObserverFunc func(Event)

func (f ObserverFunc) Notify(e Event) { f(e) }

// observers 订阅表；取消订阅后不再持有闭包
type observers struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]Observer
}

func (o *observers) add(obs Observer) func() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.subs == nil {
		o.subs = make(map[int]Observer)
	}
	id := o.nextID
	o.nextID++
	o.subs[id] = obs
	return func() {
		o.mu.Lock()
		delete(o.subs, id)
		o.mu.Unlock()
	}
}

func (o *observers) clear() {
	o.mu.Lock()
	o.subs = nil
	o.mu.Unlock()
}

func (o *observers) emit(events []Event) {
	if len(events) == 0 {
		return
	}
	o.mu.Lock()
	subs := make([]Observer, 0, len(o.subs))
	for _, s := range o.subs {
		subs = append(subs, s)
	}
	o.mu.Unlock()
	for _, e := range events {
		for _, s := range subs {
			s.Notify(e)
		}
	}
}
