package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"slaparena/config"
	"slaparena/logger"
	"slaparena/server"
	"slaparena/storage"
)

// SlapArena 入口：启动 HTTP + WebSocket 服务与竞技场 actor
func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	// 命令行覆盖环境变量
	flag.StringVar(&cfg.Addr, "addr", cfg.Addr, "server listen address, e.g. :8080")
	flag.StringVar(&cfg.LogFile, "log", cfg.LogFile, "log file path")
	flag.Parse()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	// 使用第三方 zap 日志库写入日志文件（带滚动）
	if err := logger.Init(logger.Options{File: cfg.LogFile, Level: cfg.LogLevel, Console: cfg.LogConsole}); err != nil {
		panic(err)
	}
	defer logger.Sync()

	acfg := server.DefaultConfig()
	acfg.Width, acfg.Height = cfg.ArenaWidth, cfg.ArenaHeight
	acfg.RegenAmount = cfg.ArenaRegen
	if cfg.ArenaRegen == 0 {
		acfg.RegenAmount = -1 // ARENA_REGEN=0 关闭回复
	}
	arena := server.NewArena(acfg)
	go arena.Run()
	store, err := storage.Open(cfg.StorageDriver, cfg.StorageDSN)
	if err != nil {
		logger.Log.Fatalf("storage: %v", err)
	}
	defer store.Close()
	scores := server.NewScoreService(store)
	if err := scores.Load(context.Background()); err != nil {
		logger.Log.Warnf("%v", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", arena.HandleWS)
	// 前后端分离：将 / 映射到 web 目录的静态资源
	mux.Handle("/", http.FileServer(http.Dir("web")))
	// 管理与监控接口
	mux.HandleFunc("/admin/config", arena.HandleAdminConfig)
	mux.HandleFunc("/metrics", arena.HandleMetrics)
	mux.HandleFunc("/state", arena.HandleState)
	// 参考排行榜服务，供离线会话同步
	mux.HandleFunc("/api/score", scores.HandleScore)
	mux.HandleFunc("/api/leaderboard", scores.HandleLeaderboard)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{Addr: cfg.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		logger.Log.Infof("SlapArena listening on %s; open http://localhost%v/", cfg.Addr, cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log.Fatalf("listen: %v", err)
		}
	}()

	// 优雅退出（Ctrl+C）
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Log.Info("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Log.Warnf("http shutdown: %v", err)
	}
	arena.Stop()
}
