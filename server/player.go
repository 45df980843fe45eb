package server

import (
	"fmt"
	"math"
	"strings"
	"time"
	"unicode"

	"slaparena/protocol"
)

// Player 竞技场内的玩家实体（服务端权威状态）
type Player struct {
	ID         protocol.PlayerID
	Name       string
	X          float64
	Y          float64
	Health     int
	Gas        int
	Alive      bool
	Score      int64
	Combo      int
	LastAction time.Time

	Conn Conn // 网络连接的发送端（写协程）
}

// State 广播用的轻量投影
func (p *Player) State() protocol.PlayerState {
	return protocol.PlayerState{
		ID:     p.ID,
		Name:   p.Name,
		X:      p.X,
		Y:      p.Y,
		Health: p.Health,
		Gas:    p.Gas,
		Alive:  p.Alive,
		Score:  p.Score,
		Combo:  p.Combo,
	}
}

func (p *Player) distanceTo(o *Player) float64 {
	return math.Hypot(p.X-o.X, p.Y-o.Y)
}

func defaultName(id protocol.PlayerID) string {
	return fmt.Sprintf("Player %d", id)
}

// sanitizePlayerName 去掉控制字符与首尾空白，截断到 20 个字符
func sanitizePlayerName(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
	s = strings.TrimSpace(s)
	if r := []rune(s); len(r) > MaxNameRunes {
		s = strings.TrimSpace(string(r[:MaxNameRunes]))
	}
	return s
}
