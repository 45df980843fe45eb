// Package protocol 定义客户端与竞技场服务端之间的 JSON 消息
package protocol

import (
	"encoding/json"
	"fmt"
)

// 服务端 → 客户端
const (
	TypeInit         = "init"
	TypePlayerJoined = "playerJoined"
	TypePlayerLeft   = "playerLeft"
	TypePlayerMoved  = "playerMoved"
	TypePlayerHit    = "playerHit"
	TypePlayerDied   = "playerDied"
	TypePlayerUpdate = "playerUpdate"
	TypeGasRecharge  = "gasRecharge"
	TypeGameReset    = "gameReset"
)

// 客户端 → 服务端
const (
	TypeMove          = "move"
	TypeSlap          = "slap"
	TypeUpdateProfile = "updateProfile"
	TypeRespawn       = "respawn"
)

// PlayerID 服务端分配的数字 id
type PlayerID int64

// PlayerState 广播给客户端的玩家投影
type PlayerState struct {
	ID     PlayerID `json:"id"`
	Name   string   `json:"name"`
	X      float64  `json:"x"`
	Y      float64  `json:"y"`
	Health int      `json:"health"`
	Gas    int      `json:"gas"`
	Alive  bool     `json:"alive"`
	Score  int64    `json:"score"`
	Combo  int      `json:"combo"`
}

// Bounds 竞技场尺寸
type Bounds struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

type InitMessage struct {
	Type    string        `json:"type"`
	ID      PlayerID      `json:"id"`
	Arena   Bounds        `json:"arena"`
	Players []PlayerState `json:"players"`
}

type PlayerJoinedMessage struct {
	Type   string      `json:"type"`
	Player PlayerState `json:"player"`
}

type PlayerLeftMessage struct {
	Type string   `json:"type"`
	ID   PlayerID `json:"id"`
}

type PlayerMovedMessage struct {
	Type string   `json:"type"`
	ID   PlayerID `json:"id"`
	X    float64  `json:"x"`
	Y    float64  `json:"y"`
}

type PlayerHitMessage struct {
	Type       string   `json:"type"`
	AttackerID PlayerID `json:"attackerId"`
	TargetID   PlayerID `json:"targetId"`
	Damage     int      `json:"damage"`
	Health     int      `json:"health"`
}

type PlayerDiedMessage struct {
	Type       string   `json:"type"`
	AttackerID PlayerID `json:"attackerId"`
	TargetID   PlayerID `json:"targetId"`
}

type PlayerUpdateMessage struct {
	Type   string      `json:"type"`
	Player PlayerState `json:"player"`
}

// RosterMessage gasRecharge 与 gameReset 共用：携带完整名单
type RosterMessage struct {
	Type    string        `json:"type"`
	Players []PlayerState `json:"players"`
}

// ClientMessage 客户端意图（入站），按 Type 区分
// 示例：{"type":"slap","targetId":2}
type ClientMessage struct {
	Type     string    `json:"type"`
	X        float64   `json:"x,omitempty"`
	Y        float64   `json:"y,omitempty"`
	TargetID *PlayerID `json:"targetId,omitempty"`
	Name     string    `json:"name,omitempty"`
}

// Envelope 只解析 type，用于分发
type Envelope struct {
	Type string `json:"type"`
}

// PeekType 读取消息类型
func PeekType(b []byte) (string, error) {
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return "", err
	}
	if env.Type == "" {
		return "", fmt.Errorf("message without type")
	}
	return env.Type, nil
}

// DecodeClient 解析入站消息
func DecodeClient(b []byte) (ClientMessage, error) {
	var m ClientMessage
	if err := json.Unmarshal(b, &m); err != nil {
		return ClientMessage{}, err
	}
	if m.Type == "" {
		return ClientMessage{}, fmt.Errorf("message without type")
	}
	return m, nil
}
