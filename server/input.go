package server

import (
	"math"

	"slaparena/logger"
	"slaparena/protocol"
)

// handleInput 在 actor 中解释客户端意图并驱动世界状态
func (a *Arena) handleInput(id protocol.PlayerID, msg protocol.ClientMessage) {
	p, ok := a.players[id]
	if !ok {
		return
	}
	switch msg.Type {
	case protocol.TypeMove:
		a.applyMove(p, msg.X, msg.Y)
	case protocol.TypeSlap:
		a.applySlap(p, msg.TargetID)
	case protocol.TypeUpdateProfile:
		if name := sanitizePlayerName(msg.Name); name != "" {
			p.Name = name
		}
	case protocol.TypeRespawn:
		a.applyRespawn(p)
	default:
		a.metrics.IncMalformed()
		logger.Log.Debugf("player %d: ignoring message type %q", id, msg.Type)
		return
	}
	a.metrics.IncAccepted()
}

// applyMove 位置直接采用客户端坐标，裁剪到竞技场范围内
func (a *Arena) applyMove(p *Player, x, y float64) {
	if !p.Alive {
		return
	}
	if math.IsNaN(x) || math.IsNaN(y) {
		return
	}
	p.X = clamp(x, 0, a.cfg.Width)
	p.Y = clamp(y, 0, a.cfg.Height)
	p.LastAction = a.now()
	a.broadcast(protocol.PlayerMovedMessage{Type: protocol.TypePlayerMoved, ID: p.ID, X: p.X, Y: p.Y})
}

// applySlap 消耗 gas 出手；目标在近战范围内则造成伤害
// 广播顺序：先 playerHit / playerDied，再 playerUpdate（攻击者）
func (a *Arena) applySlap(p *Player, targetID *protocol.PlayerID) {
	if !p.Alive || p.Gas < SlapGasCost {
		a.metrics.IncSlapRejected()
		return
	}
	p.Gas -= SlapGasCost
	p.Score += SlapPoints
	p.Combo = min(p.Combo+1, MaxCombo)
	p.LastAction = a.now()

	if targetID != nil {
		t, ok := a.players[*targetID]
		if ok && t != p && t.Alive && p.distanceTo(t) < a.cfg.MeleeRange {
			t.Health -= HitDamage
			p.Score += int64(HitBonus * p.Combo)
			if t.Health <= 0 {
				t.Health = 0
				t.Alive = false
				p.Score += KillBonus
				a.metrics.IncKills()
				a.broadcast(protocol.PlayerDiedMessage{Type: protocol.TypePlayerDied, AttackerID: p.ID, TargetID: t.ID})
				logger.Log.Infof("player %d knocked out player %d", p.ID, t.ID)
			} else {
				a.broadcast(protocol.PlayerHitMessage{
					Type:       protocol.TypePlayerHit,
					AttackerID: p.ID,
					TargetID:   t.ID,
					Damage:     HitDamage,
					Health:     t.Health,
				})
			}
		}
	}
	a.broadcast(protocol.PlayerUpdateMessage{Type: protocol.TypePlayerUpdate, Player: p.State()})
}

// applyRespawn 仅对已倒下的玩家生效；分数保留
func (a *Arena) applyRespawn(p *Player) {
	if p.Alive {
		return
	}
	p.Alive = true
	p.Health = MaxHealth
	p.Gas = MaxGas
	p.Combo = 1
	p.X, p.Y = a.spawnPoint()
	p.LastAction = a.now()
	a.broadcast(protocol.PlayerUpdateMessage{Type: protocol.TypePlayerUpdate, Player: p.State()})
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
