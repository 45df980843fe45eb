package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"slaparena/config"
	"slaparena/game"
	"slaparena/logger"
	"slaparena/remote"
	"slaparena/session"
	"slaparena/storage"
)

// 略慢于 4 次/秒，避免被限流
const soloTapInterval = 280 * time.Millisecond

func runSolo(ctx context.Context, cfg config.Config, name string) (err error) {
	store, err := storage.Open(cfg.StorageDriver, cfg.StorageDSN)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, store.Close()) }()

	var rc *remote.Client
	if cfg.RemoteBaseURL != "" {
		rc = remote.New(cfg.RemoteBaseURL, 5*time.Second)
	}
	sess, err := session.Open(ctx, session.Options{
		Name:            name,
		Store:           store,
		Remote:          rc,
		SyncInterval:    cfg.SyncInterval,
		RefreshInterval: cfg.LeaderboardRefresh,
	})
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, sess.Close()) }()

	unsub := sess.Subscribe(game.ObserverFunc(func(e game.Event) {
		fmt.Printf("  %-18s %-14s score=%d\n", e.Kind, e.ID, e.Score)
	}))
	defer unsub()

	if err := sess.Start(ctx); err != nil {
		return err
	}
	sess.SetOnline(rc != nil)
	if res := sess.ClaimDaily(); res.Accepted {
		fmt.Printf("daily bonus +%d\n", res.Points)
	}

	tap := time.NewTicker(soloTapInterval)
	defer tap.Stop()
	var accepted, rejected int
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-tap.C:
			res, err := sess.Slap()
			if err != nil {
				logger.Log.Warnf("slap: %v", err)
				continue
			}
			if res.Accepted {
				accepted++
			} else {
				rejected++
			}
			activateReady(sess)
		}
	}

	// ctx 已结束，收尾用新的上下文
	final, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := sess.Suspend(final); err != nil {
		return err
	}
	rep := sess.Sync(final)
	if rc != nil {
		if err := sess.Refresh(final); err != nil {
			logger.Log.Warnf("leaderboard refresh: %v", err)
		}
	}

	st := sess.State()
	fmt.Printf("player %s (%s): score=%d taps=%d accepted=%d rejected=%d highest combo=%d\n",
		sess.Profile().Name, sess.Profile().ID, st.Score, st.Stats.TotalTaps, accepted, rejected, st.Stats.HighestCombo)
	fmt.Printf("sync: processed=%d succeeded=%d failed=%d pending=%d %s\n",
		rep.Processed, rep.Succeeded, rep.Failed, len(sess.PendingSync()), rep.Skipped)
	if rank := sess.Rank(); rank > 0 {
		fmt.Printf("leaderboard rank: #%d of %d\n", rank, len(sess.Leaderboard()))
	}
	return nil
}

// activateReady 依次尝试激活所有可用的 power-up
func activateReady(sess *session.Session) {
	for _, p := range sess.PowerUps() {
		if !p.Ready() {
			continue
		}
		if err := sess.Activate(p.Kind); err != nil && !errors.Is(err, game.ErrOnCooldown) {
			logger.Log.Debugf("activate %s: %v", p.Kind, err)
		}
	}
}
