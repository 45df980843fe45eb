package server

import (
	"sync/atomic"
)

// ArenaMetrics 记录竞技场运行期的关键指标（用于监控与调试）
type ArenaMetrics struct {
	TickCount         int64 // gas 回复 tick 次数
	InputsAccepted    int64 // 被接受的意图数
	RateLimited       int64 // 因连接限流被丢弃的消息数
	Malformed         int64 // 无法解析或类型未知的消息数
	SlapsRejected     int64 // 倒下或 gas 不足时的出手
	ChanFullDiscarded int64 // 因 inbox 满被丢弃的输入数
	SendDropped       int64 // 因发送队列满被丢弃的出站消息数
	Joined            int64
	Left              int64
	Kills             int64
	Resets            int64
	TotalTickNs       int64 // tick 累计耗时（纳秒）
}

func (m *ArenaMetrics) IncAccepted() { atomic.AddInt64(&m.InputsAccepted, 1) }
func (m *ArenaMetrics) IncRateLimited() { atomic.AddInt64(&m.RateLimited, 1) }
func (m *ArenaMetrics) IncMalformed() { atomic.AddInt64(&m.Malformed, 1) }
func (m *ArenaMetrics) IncSlapRejected() { atomic.AddInt64(&m.SlapsRejected, 1) }
func (m *ArenaMetrics) IncChanFullDiscarded() { atomic.AddInt64(&m.ChanFullDiscarded, 1) }
func (m *ArenaMetrics) IncSendDropped() { atomic.AddInt64(&m.SendDropped, 1) }
func (m *ArenaMetrics) IncJoined() { atomic.AddInt64(&m.Joined, 1) }
func (m *ArenaMetrics) IncLeft() { atomic.AddInt64(&m.Left, 1) }
func (m *ArenaMetrics) IncKills() { atomic.AddInt64(&m.Kills, 1) }
func (m *ArenaMetrics) IncResets() { atomic.AddInt64(&m.Resets, 1) }
func (m *ArenaMetrics) AddTick(ns int64) {
	atomic.AddInt64(&m.TickCount, 1)
	atomic.AddInt64(&m.TotalTickNs, ns)
}

// Snapshot 返回只读副本，便于 HTTP 输出
func (m *ArenaMetrics) Snapshot() map[string]any {
	tick := atomic.LoadInt64(&m.TickCount)
	total := atomic.LoadInt64(&m.TotalTickNs)
	var avgMs float64
	if tick > 0 {
		avgMs = float64(total) / float64(tick) / 1e6
	}
	return map[string]any{
		"tick_count":          tick,
		"inputs_accepted":     atomic.LoadInt64(&m.InputsAccepted),
		"rate_limited":        atomic.LoadInt64(&m.RateLimited),
		"malformed":           atomic.LoadInt64(&m.Malformed),
		"slaps_rejected":      atomic.LoadInt64(&m.SlapsRejected),
		"chan_full_discarded": atomic.LoadInt64(&m.ChanFullDiscarded),
		"send_dropped":        atomic.LoadInt64(&m.SendDropped),
		"joined":              atomic.LoadInt64(&m.Joined),
		"left":                atomic.LoadInt64(&m.Left),
		"kills":               atomic.LoadInt64(&m.Kills),
		"resets":              atomic.LoadInt64(&m.Resets),
		"avg_tick_ms":         avgMs,
	}
}
