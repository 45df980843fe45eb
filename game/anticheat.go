package game

import (
	"fmt"
	"time"
)

const (
	historySize     = 100
	maxScoreStep    = 500 // 单步增量阈值
	maxPointsPerSec = 50.0
	minRateSpan     = time.Second
)

type scorePoint struct {
	score int64
	at    time.Time
}

// ScoreHistory 保留最近 100 个 (score, time)，检测异常跳变；只告警，不拦截
type ScoreHistory struct {
	points []scorePoint
}

// Record 记录新分数，返回是否可疑及原因
func (h *ScoreHistory) Record(score int64, at time.Time) (bool, string) {
	var detail string
	if n := len(h.points); n > 0 {
		prev := h.points[n-1]
		if step := score - prev.score; step > maxScoreStep {
			detail = fmt.Sprintf("score jumped by %d in one step", step)
		}
	}

	h.points = append(h.points, scorePoint{score: score, at: at})
	if len(h.points) > historySize {
		h.points = h.points[len(h.points)-historySize:]
	}

	if detail == "" && len(h.points) > 1 {
		first := h.points[0]
		span := at.Sub(first.at)
		if span >= minRateSpan {
			rate := float64(score-first.score) / span.Seconds()
			if rate > maxPointsPerSec {
				detail = fmt.Sprintf("implied rate %.1f points/s over %s", rate, span.Round(time.Millisecond))
			}
		}
	}
	return detail != "", detail
}

// Len 当前保留条数
func (h *ScoreHistory) Len() int { return len(h.points) }

// Reset 清空
func (h *ScoreHistory) Reset() { h.points = h.points[:0] }
