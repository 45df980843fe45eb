package server

import (
	"encoding/json"
	"net/http"
	"time"

	"slaparena/logger"
)

type adminConfig struct {
	RegenAmount  *int     `json:"regenAmount,omitempty"`
	MeleeRange   *float64 `json:"meleeRange,omitempty"`
	InboundRate  *float64 `json:"inboundRate,omitempty"`
	InboundBurst *int     `json:"inboundBurst,omitempty"`
	ResetDelayMs *int     `json:"resetDelayMs,omitempty"`
}

func toAdminConfig(c Config) adminConfig {
	resetMs := int(c.ResetDelay / time.Millisecond)
	return adminConfig{
		RegenAmount:  &c.RegenAmount,
		MeleeRange:   &c.MeleeRange,
		InboundRate:  &c.InboundRate,
		InboundBurst: &c.InboundBurst,
		ResetDelayMs: &resetMs,
	}
}

// HandleAdminConfig 提供竞技场配置的读取与更新（热更新基本规则）
// GET /admin/config  返回当前配置
// POST /admin/config 以 JSON 载荷更新部分字段；新的限流参数对之后建立的连接生效
func (a *Arena) HandleAdminConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		cur, ok := a.UpdateConfig(nil)
		if !ok {
			http.Error(w, "arena stopped", http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, http.StatusOK, toAdminConfig(cur))
	case http.MethodPost:
		var body adminConfig
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		if !body.valid() {
			http.Error(w, "invalid config values", http.StatusBadRequest)
			return
		}
		cur, ok := a.UpdateConfig(func(c *Config) {
			if body.RegenAmount != nil {
				c.RegenAmount = *body.RegenAmount
			}
			if body.MeleeRange != nil {
				c.MeleeRange = *body.MeleeRange
			}
			if body.InboundRate != nil {
				c.InboundRate = *body.InboundRate
			}
			if body.InboundBurst != nil {
				c.InboundBurst = *body.InboundBurst
			}
			if body.ResetDelayMs != nil {
				c.ResetDelay = time.Duration(*body.ResetDelayMs) * time.Millisecond
			}
		})
		if !ok {
			http.Error(w, "arena stopped", http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "config": toAdminConfig(cur)})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (c adminConfig) valid() bool {
	if c.RegenAmount != nil && (*c.RegenAmount < 0 || *c.RegenAmount > MaxGas) {
		return false
	}
	if c.MeleeRange != nil && *c.MeleeRange <= 0 {
		return false
	}
	if c.InboundRate != nil && *c.InboundRate <= 0 {
		return false
	}
	if c.InboundBurst != nil && *c.InboundBurst <= 0 {
		return false
	}
	if c.ResetDelayMs != nil && *c.ResetDelayMs <= 0 {
		return false
	}
	return true
}

// HandleMetrics 输出运行指标与当前名单人数
// GET /metrics
func (a *Arena) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	players := a.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"players": len(players),
		"metrics": a.metrics.Snapshot(),
	})
}

// HandleState 当前名单
// GET /state
func (a *Arena) HandleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"players": a.Snapshot()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Log.Debugf("write response: %v", err)
	}
}
