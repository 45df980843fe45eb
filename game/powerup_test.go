package game

import (
	"errors"
	"testing"
	"time"
)

func TestActivateErrors(t *testing.T) {
	p := NewPowerUps()
	if err := p.Activate(Kind("laser")); !errors.Is(err, ErrUnknownPowerUp) {
		t.Fatalf("expected ErrUnknownPowerUp, got %v", err)
	}
	if err := p.Activate(Shield); !errors.Is(err, ErrNotUnlocked) {
		t.Fatalf("expected ErrNotUnlocked, got %v", err)
	}
	p.UnlockCheck(2500)
	if err := p.Activate(Shield); err != nil {
		t.Fatalf("activate: %v", err)
	}
	if err := p.Activate(Shield); !errors.Is(err, ErrAlreadyActive) {
		t.Fatalf("expected ErrAlreadyActive, got %v", err)
	}
	p.Tick(20 * time.Second)
	if err := p.Activate(Shield); !errors.Is(err, ErrOnCooldown) {
		t.Fatalf("expected ErrOnCooldown, got %v", err)
	}
}

func TestUnlockIsOneWayAndThresholdBased(t *testing.T) {
	p := NewPowerUps()
	got := p.UnlockCheck(1000)
	if len(got) != 2 || got[0] != DoublePoints || got[1] != RapidFire {
		t.Fatalf("unexpected unlocks at 1000: %v", got)
	}
	if again := p.UnlockCheck(1000); len(again) != 0 {
		t.Fatalf("unlock should not fire twice: %v", again)
	}
	if lower := p.UnlockCheck(0); len(lower) != 0 {
		t.Fatalf("lower score must not change unlocks: %v", lower)
	}
	if pu, _ := p.Get(RapidFire); !pu.Unlocked {
		t.Fatalf("rapidFire should stay unlocked")
	}
}

func TestCooldownRunsConcurrentlyWithActiveWindow(t *testing.T) {
	p := NewPowerUps()
	p.UnlockCheck(10000)
	if err := p.Activate(Boost); err != nil {
		t.Fatalf("activate: %v", err)
	}
	params, _ := ParamsFor(Boost)

	expired := p.Tick(params.Duration - time.Second)
	if len(expired) != 0 {
		t.Fatalf("expired too early: %v", expired)
	}
	pu, _ := p.Get(Boost)
	if !pu.Active || pu.Cooldown != params.Cooldown-params.Duration+time.Second {
		t.Fatalf("unexpected state mid-activation: %+v", pu)
	}

	expired = p.Tick(time.Second)
	if len(expired) != 1 || expired[0] != Boost {
		t.Fatalf("expected boost to expire, got %v", expired)
	}
	pu, _ = p.Get(Boost)
	if pu.Active || pu.Remaining != 0 || pu.Ready() {
		t.Fatalf("boost should be inactive and cooling down: %+v", pu)
	}

	p.Tick(time.Hour)
	pu, _ = p.Get(Boost)
	if pu.Cooldown != 0 || !pu.Ready() {
		t.Fatalf("cooldown should floor at zero and be ready: %+v", pu)
	}
	if err := p.Activate(Boost); err != nil {
		t.Fatalf("reactivate after cooldown: %v", err)
	}
}

func TestModifierMultipliesActiveKinds(t *testing.T) {
	p := NewPowerUps()
	if m := p.Modifier(); m != 1 {
		t.Fatalf("idle modifier = %v", m)
	}
	p.UnlockCheck(10000)
	for _, k := range []Kind{DoublePoints, RapidFire, Boost, Shield} {
		if err := p.Activate(k); err != nil {
			t.Fatalf("activate %s: %v", k, err)
		}
	}
	if m := p.Modifier(); m != 9 {
		t.Fatalf("modifier = %v, want 9", m)
	}
}

func TestRestoreDropsExpiredActiveFlag(t *testing.T) {
	p := NewPowerUps()
	p.Restore([]PowerUp{
		{Kind: Magnet, Unlocked: true, Active: true, Remaining: 0, Cooldown: -time.Second},
		{Kind: Kind("unknown"), Unlocked: true},
	})
	pu, _ := p.Get(Magnet)
	if pu.Active || pu.Cooldown != 0 || !pu.Ready() {
		t.Fatalf("unexpected restored magnet: %+v", pu)
	}
	if len(p.Snapshot()) != len(Kinds) {
		t.Fatalf("snapshot size changed")
	}
}
