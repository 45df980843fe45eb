package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"golang.org/x/sync/errgroup"

	"slaparena/client"
	"slaparena/logger"
	"slaparena/protocol"
)

const (
	botTick    = 300 * time.Millisecond
	botReach   = 55 // 略小于服务端近战范围
	botStep    = 40
	botGasCost = 20
)

func runBots(ctx context.Context, url string, n int) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		name := fmt.Sprintf("bot-%d", i+1)
		seed := time.Now().UnixNano() + int64(i)
		g.Go(func() error { return runBot(ctx, url, name, seed) })
	}
	return g.Wait()
}

func runBot(ctx context.Context, url, name string, seed int64) error {
	s, err := client.Dial(ctx, url, client.Options{Name: name})
	if err != nil {
		return err
	}
	defer s.Close()
	if err := s.WaitReady(ctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil
		}
		return fmt.Errorf("%s: %w", name, err)
	}
	logger.Log.Infof("%s joined as player %d", name, s.View().SelfID)

	b := &bot{s: s, rng: rand.New(rand.NewSource(seed))}
	ticker := time.NewTicker(botTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			self, _ := s.View().Self()
			logger.Log.Infof("%s finished: score=%d", name, self.Score)
			return nil
		case <-s.Done():
			return fmt.Errorf("%s: connection closed: %v", name, s.Err())
		case <-ticker.C:
			if err := b.act(); err != nil && !errors.Is(err, client.ErrSendQueueFull) {
				return fmt.Errorf("%s: %w", name, err)
			}
		}
	}
}

type bot struct {
	s   *client.Session
	rng *rand.Rand
}

// act 倒下就复活；有目标就靠近并出手，否则随机走动
func (b *bot) act() error {
	v := b.s.View()
	self, ok := v.Self()
	if !ok {
		return nil
	}
	if !self.Alive {
		return b.s.Respawn()
	}
	target, dist := nearest(v, self)
	if target == nil {
		return b.s.Move(self.X+b.jitter(), self.Y+b.jitter())
	}
	if dist < botReach {
		if self.Gas < botGasCost {
			return nil
		}
		return b.s.Slap(target.ID)
	}
	step := math.Min(botStep, dist-botReach/2)
	x := self.X + (target.X-self.X)/dist*step
	y := self.Y + (target.Y-self.Y)/dist*step
	return b.s.Move(x, y)
}

func (b *bot) jitter() float64 {
	return (b.rng.Float64()*2 - 1) * botStep
}

func nearest(v client.View, self protocol.PlayerState) (*protocol.PlayerState, float64) {
	var (
		best     *protocol.PlayerState
		bestDist = math.Inf(1)
	)
	for id, p := range v.Players {
		if id == self.ID || !p.Alive {
			continue
		}
		d := math.Hypot(p.X-self.X, p.Y-self.Y)
		if d < bestDist {
			p := p
			best, bestDist = &p, d
		}
	}
	return best, bestDist
}
