package server

import (
	"time"

	"slaparena/logger"
	"slaparena/protocol"
)

// Run actor 主循环：处理命令、gas 回复与重置定时器，直到 Stop
func (a *Arena) Run() {
	defer close(a.stopped)
	regen := time.NewTicker(a.cfg.RegenInterval)
	defer regen.Stop()
	logger.Log.Infof("arena running: %.0fx%.0f regen=%d/%s", a.cfg.Width, a.cfg.Height, a.cfg.RegenAmount, a.cfg.RegenInterval)

	for {
		select {
		case <-a.quit:
			a.shutdown()
			return
		case cmd := <-a.inbox:
			a.handle(cmd)
		case <-regen.C:
			start := time.Now()
			a.regenTick()
			a.metrics.AddTick(time.Since(start).Nanoseconds())
		case <-a.resetC:
			a.resetAll()
		}
	}
}

// regenTick 存活玩家回复 gas；有变化则广播完整名单，并检查是否需要重置
func (a *Arena) regenTick() {
	changed := false
	alive := 0
	for _, p := range a.players {
		if !p.Alive {
			continue
		}
		alive++
		if p.Gas < MaxGas && a.cfg.RegenAmount > 0 {
			p.Gas = min(MaxGas, p.Gas+a.cfg.RegenAmount)
			changed = true
		}
	}
	if changed {
		a.broadcast(protocol.RosterMessage{Type: protocol.TypeGasRecharge, Players: a.roster()})
	}
	if len(a.players) > 1 && alive == 1 && !a.resetPending {
		a.scheduleReset()
	}
}

// scheduleReset 宽限期后重置；同一轮只安排一次
func (a *Arena) scheduleReset() {
	a.resetPending = true
	logger.Log.Infof("one player standing, resetting in %s", a.cfg.ResetDelay)
	a.resetTimer = time.AfterFunc(a.cfg.ResetDelay, func() {
		select {
		case a.resetC <- struct{}{}:
		default:
		}
	})
}

// resetAll 全员满血满 gas、清零分数、重新出生
func (a *Arena) resetAll() {
	a.resetPending = false
	a.resetTimer = nil
	for _, p := range a.players {
		p.Health = MaxHealth
		p.Gas = MaxGas
		p.Alive = true
		p.Score = 0
		p.Combo = 1
		p.X, p.Y = a.spawnPoint()
	}
	a.metrics.IncResets()
	a.broadcast(protocol.RosterMessage{Type: protocol.TypeGameReset, Players: a.roster()})
	logger.Log.Infof("arena reset: players=%d", len(a.players))
}

func (a *Arena) shutdown() {
	if a.resetTimer != nil {
		a.resetTimer.Stop()
	}
	for id, p := range a.players {
		if p.Conn != nil {
			p.Conn.Close()
		}
		delete(a.players, id)
	}
	logger.Log.Info("arena stopped")
}
