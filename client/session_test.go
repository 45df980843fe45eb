package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"slaparena/protocol"
	"slaparena/server"
)

func startServer(t *testing.T, cfg server.Config) string {
	t.Helper()
	a := server.NewArena(cfg)
	go a.Run()
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", a.HandleWS)
	srv := httptest.NewServer(mux)
	t.Cleanup(func() {
		srv.Close()
		a.Stop()
	})
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func dialReady(t *testing.T, url, name string) *Session {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	s, err := Dial(ctx, url, Options{Name: name})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.WaitReady(ctx); err != nil {
		t.Fatalf("wait ready: %v", err)
	}
	return s
}

// waitFor 轮询视图直到条件成立
func waitFor(t *testing.T, s *Session, what string, cond func(View) bool) View {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if v := s.View(); cond(v) {
			return v
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s; view=%+v", what, s.View())
	return View{}
}

func TestSessionSeesJoinAndOwnSlap(t *testing.T) {
	url := startServer(t, server.Config{Seed: 1})
	alice := dialReady(t, url, "alice")
	bob := dialReady(t, url, "bob")

	waitFor(t, alice, "bob to join", func(v View) bool { return len(v.Players) == 2 })
	if self, ok := bob.View().Self(); !ok || self.Name != "bob" {
		t.Fatalf("bob self = %+v", self)
	}

	if err := alice.Slap(0); err != nil {
		t.Fatalf("slap: %v", err)
	}
	aliceID := alice.View().SelfID
	v := waitFor(t, bob, "alice's update", func(v View) bool { return v.Players[aliceID].Score == 10 })
	if p := v.Players[aliceID]; p.Combo != 2 || p.Gas != 80 {
		t.Fatalf("unexpected projection %+v", p)
	}

	if err := bob.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	waitFor(t, alice, "bob to leave", func(v View) bool { return len(v.Players) == 1 })
}

func TestKnockoutAndRespawn(t *testing.T) {
	// 近战范围覆盖整个场地，出生位置不影响结果
	url := startServer(t, server.Config{Seed: 3, MeleeRange: 10000})
	attacker := dialReady(t, url, "attacker")
	target := dialReady(t, url, "target")
	targetID := target.View().SelfID
	waitFor(t, attacker, "target to join", func(v View) bool { _, ok := v.Players[targetID]; return ok })

	for i := 0; i < 4; i++ {
		if err := attacker.Slap(targetID); err != nil {
			t.Fatalf("slap %d: %v", i, err)
		}
	}

	var seen []string
	timeout := time.After(3 * time.Second)
	for len(seen) < 4 {
		select {
		case ev, ok := <-attacker.Events():
			if !ok {
				t.Fatalf("events closed early")
			}
			if ev.Type == protocol.TypePlayerHit || ev.Type == protocol.TypePlayerDied {
				seen = append(seen, ev.Type)
			}
		case <-timeout:
			t.Fatalf("timed out, saw %v", seen)
		}
	}
	want := []string{protocol.TypePlayerHit, protocol.TypePlayerHit, protocol.TypePlayerHit, protocol.TypePlayerDied}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("events = %v, want %v", seen, want)
		}
	}

	waitFor(t, target, "own knockout", func(v View) bool { p, _ := v.Self(); return !p.Alive })
	if err := target.Respawn(); err != nil {
		t.Fatalf("respawn: %v", err)
	}
	waitFor(t, attacker, "target respawn", func(v View) bool {
		p := v.Players[targetID]
		return p.Alive && p.Health == 100
	})
}

func TestEnqueueNeverBlocks(t *testing.T) {
	s := newSession(Options{SendQueue: 1})
	if err := s.Move(1, 1); err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	if err := s.Slap(0); !errors.Is(err, ErrSendQueueFull) {
		t.Fatalf("expected ErrSendQueueFull, got %v", err)
	}
	s.shutdown(nil)
	if err := s.Respawn(); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestApplyProjection(t *testing.T) {
	s := newSession(Options{})
	msgs := []string{
		`{"type":"init","id":1,"arena":{"width":800,"height":600},"players":[{"id":1,"name":"me","health":100,"gas":100,"alive":true,"combo":1}]}`,
		`{"type":"playerJoined","player":{"id":2,"name":"you","health":100,"gas":100,"alive":true,"combo":1}}`,
		`{"type":"playerMoved","id":2,"x":5,"y":6}`,
		`{"type":"playerHit","attackerId":1,"targetId":2,"damage":25,"health":75}`,
		`garbage`,
		`{"type":"teleport","id":2}`,
		`{"type":"playerDied","attackerId":1,"targetId":2}`,
	}
	applied := 0
	for _, m := range msgs {
		if _, ok := s.apply([]byte(m)); ok {
			applied++
		}
	}
	if applied != 5 {
		t.Fatalf("applied %d messages, want 5", applied)
	}
	v := s.View()
	you := v.Players[2]
	if v.SelfID != 1 || v.Arena.Width != 800 || you.X != 5 || you.Y != 6 || you.Alive || you.Health != 0 {
		t.Fatalf("unexpected view %+v", v)
	}

	s.apply([]byte(`{"type":"playerLeft","id":2}`))
	s.apply([]byte(`{"type":"gameReset","players":[{"id":1,"name":"me","health":100,"gas":100,"alive":true,"combo":1}]}`))
	if v := s.View(); len(v.Players) != 1 {
		t.Fatalf("roster after reset: %+v", v.Players)
	}
	select {
	case <-s.ready:
	default:
		t.Fatalf("init should mark the session ready")
	}
}
