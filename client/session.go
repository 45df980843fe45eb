// Package client 竞技场客户端会话：拨号、读写泵、本地视图投影
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/multierr"

	"slaparena/logger"
	"slaparena/protocol"
)

var (
	// ErrSendQueueFull 发送队列已满，意图被丢弃
	ErrSendQueueFull = errors.New("client: send queue full")
	// ErrClosed 会话已关闭
	ErrClosed = errors.New("client: session closed")
)

const writeWait = 5 * time.Second

// Options 会话参数
type Options struct {
	Name        string
	SendQueue   int // 默认 64
	EventBuffer int // 默认 128
	Dialer      *websocket.Dialer
}

// View 客户端持有的只读投影
type View struct {
	SelfID  protocol.PlayerID
	Arena   protocol.Bounds
	Players map[protocol.PlayerID]protocol.PlayerState
}

// Self 自己的状态
func (v View) Self() (protocol.PlayerState, bool) {
	p, ok := v.Players[v.SelfID]
	return p, ok
}

// Event 已应用到视图的服务端消息；Msg 为 protocol 中对应的结构体
type Event struct {
	Type string
	Msg  any
}

// Session 一条到竞技场的连接
type Session struct {
	conn   *websocket.Conn
	send   chan []byte
	events chan Event

	mu        sync.RWMutex
	view      View
	ready     chan struct{}
	readyOnce sync.Once

	done      chan struct{}
	closeOnce sync.Once
	errMu     sync.Mutex
	err       error
	wg        sync.WaitGroup
}

func newSession(opts Options) *Session {
	if opts.SendQueue <= 0 {
		opts.SendQueue = 64
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = 128
	}
	return &Session{
		send:   make(chan []byte, opts.SendQueue),
		events: make(chan Event, opts.EventBuffer),
		view:   View{Players: make(map[protocol.PlayerID]protocol.PlayerState)},
		ready:  make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Dial 连接竞技场，例如 ws://localhost:8080/ws
func Dial(ctx context.Context, rawURL string, opts Options) (*Session, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	if opts.Name != "" {
		q := u.Query()
		q.Set("name", opts.Name)
		u.RawQuery = q.Encode()
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", u.Redacted(), err)
	}

	s := newSession(opts)
	s.conn = conn
	s.wg.Add(2)
	go s.readPump()
	go s.writePump()
	return s, nil
}

// WaitReady 等待 init 消息
func (s *Session) WaitReady(ctx context.Context) error {
	select {
	case <-s.ready:
		return nil
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// View 视图副本
func (s *Session) View() View {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := View{SelfID: s.view.SelfID, Arena: s.view.Arena, Players: make(map[protocol.PlayerID]protocol.PlayerState, len(s.view.Players))}
	for id, p := range s.view.Players {
		out.Players[id] = p
	}
	return out
}

// Events 已应用事件；消费不及时会丢弃，会话结束后关闭
func (s *Session) Events() <-chan Event { return s.events }

// Done 会话结束时关闭
func (s *Session) Done() <-chan struct{} { return s.done }

// Err 导致会话结束的读错误；主动 Close 时为 nil
func (s *Session) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *Session) Move(x, y float64) error {
	return s.enqueue(protocol.ClientMessage{Type: protocol.TypeMove, X: x, Y: y})
}

// Slap 出手；target 为 0 表示空挥
func (s *Session) Slap(target protocol.PlayerID) error {
	msg := protocol.ClientMessage{Type: protocol.TypeSlap}
	if target != 0 {
		msg.TargetID = &target
	}
	return s.enqueue(msg)
}

func (s *Session) UpdateProfile(name string) error {
	return s.enqueue(protocol.ClientMessage{Type: protocol.TypeUpdateProfile, Name: name})
}

func (s *Session) Respawn() error {
	return s.enqueue(protocol.ClientMessage{Type: protocol.TypeRespawn})
}

// enqueue 从不阻塞调用方
func (s *Session) enqueue(msg protocol.ClientMessage) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	select {
	case <-s.done:
		return ErrClosed
	default:
	}
	select {
	case s.send <- b:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// Close 结束两个泵；可重复调用
func (s *Session) Close() error {
	s.shutdown(nil)
	s.wg.Wait()
	return nil
}

func (s *Session) shutdown(err error) {
	s.closeOnce.Do(func() {
		s.errMu.Lock()
		s.err = err
		s.errMu.Unlock()
		close(s.done)
	})
}

func (s *Session) writePump() {
	defer s.wg.Done()
	for {
		select {
		case b := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				s.shutdown(err)
				_ = s.conn.Close()
				return
			}
		case <-s.done:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			if errors.Is(err, websocket.ErrCloseSent) {
				err = nil
			}
			if err = multierr.Append(err, s.conn.Close()); err != nil {
				logger.Log.Debugf("client close: %v", err)
			}
			return
		}
	}
}

func (s *Session) readPump() {
	defer s.wg.Done()
	defer close(s.events)
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
			default:
				s.shutdown(err)
			}
			_ = s.conn.Close()
			return
		}
		if ev, ok := s.apply(data); ok {
			select {
			case s.events <- ev:
			default:
			}
		}
	}
}

// apply 把一条服务端消息投影到本地视图
func (s *Session) apply(data []byte) (Event, bool) {
	typ, err := protocol.PeekType(data)
	if err != nil {
		logger.Log.Debugf("client: malformed message: %v", err)
		return Event{}, false
	}
	decode := func(v any) bool {
		if err := json.Unmarshal(data, v); err != nil {
			logger.Log.Debugf("client: malformed %s: %v", typ, err)
			return false
		}
		return true
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	players := s.view.Players
	switch typ {
	case protocol.TypeInit:
		var m protocol.InitMessage
		if !decode(&m) {
			return Event{}, false
		}
		s.view.SelfID = m.ID
		s.view.Arena = m.Arena
		s.view.Players = rosterMap(m.Players)
		s.readyOnce.Do(func() { close(s.ready) })
		return Event{Type: typ, Msg: m}, true
	case protocol.TypePlayerJoined, protocol.TypePlayerUpdate:
		var m protocol.PlayerUpdateMessage
		if !decode(&m) {
			return Event{}, false
		}
		players[m.Player.ID] = m.Player
		if typ == protocol.TypePlayerJoined {
			return Event{Type: typ, Msg: protocol.PlayerJoinedMessage(m)}, true
		}
		return Event{Type: typ, Msg: m}, true
	case protocol.TypePlayerLeft:
		var m protocol.PlayerLeftMessage
		if !decode(&m) {
			return Event{}, false
		}
		delete(players, m.ID)
		return Event{Type: typ, Msg: m}, true
	case protocol.TypePlayerMoved:
		var m protocol.PlayerMovedMessage
		if !decode(&m) {
			return Event{}, false
		}
		if p, ok := players[m.ID]; ok {
			p.X, p.Y = m.X, m.Y
			players[m.ID] = p
		}
		return Event{Type: typ, Msg: m}, true
	case protocol.TypePlayerHit:
		var m protocol.PlayerHitMessage
		if !decode(&m) {
			return Event{}, false
		}
		if p, ok := players[m.TargetID]; ok {
			p.Health = m.Health
			players[m.TargetID] = p
		}
		return Event{Type: typ, Msg: m}, true
	case protocol.TypePlayerDied:
		var m protocol.PlayerDiedMessage
		if !decode(&m) {
			return Event{}, false
		}
		if p, ok := players[m.TargetID]; ok {
			p.Health = 0
			p.Alive = false
			players[m.TargetID] = p
		}
		return Event{Type: typ, Msg: m}, true
	case protocol.TypeGasRecharge, protocol.TypeGameReset:
		var m protocol.RosterMessage
		if !decode(&m) {
			return Event{}, false
		}
		s.view.Players = rosterMap(m.Players)
		return Event{Type: typ, Msg: m}, true
	default:
		logger.Log.Debugf("client: ignoring message type %q", typ)
		return Event{}, false
	}
}

func rosterMap(list []protocol.PlayerState) map[protocol.PlayerID]protocol.PlayerState {
	out := make(map[protocol.PlayerID]protocol.PlayerState, len(list))
	for _, p := range list {
		out[p.ID] = p
	}
	return out
}
