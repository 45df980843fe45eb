// slapbot 压测/演示工具：arena 模式连接竞技场跑多个机器人，solo 模式跑一个离线会话
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"slaparena/config"
	"slaparena/logger"
)

func main() {
	var (
		mode     string
		url      string
		bots     int
		name     string
		duration time.Duration
		envFile  string
	)
	flag.StringVar(&mode, "mode", "arena", "arena | solo")
	flag.StringVar(&url, "url", "ws://localhost:8080/ws", "arena websocket url")
	flag.IntVar(&bots, "bots", 4, "number of arena bots")
	flag.StringVar(&name, "name", "slapbot", "player name (solo mode)")
	flag.DurationVar(&duration, "duration", 30*time.Second, "how long to play")
	flag.StringVar(&envFile, "env", ".env", "optional env file")
	flag.Parse()

	cfg, err := config.Load(envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if err := logger.Init(logger.Options{File: "slapbot.log", Level: cfg.LogLevel, Console: cfg.LogConsole}); err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, duration)
	defer cancel()

	switch mode {
	case "arena":
		err = runBots(ctx, url, bots)
	case "solo":
		err = runSolo(ctx, cfg, name)
	default:
		err = fmt.Errorf("unknown mode %q", mode)
	}
	if err != nil {
		logger.Log.Errorf("slapbot: %v", err)
		fmt.Fprintf(os.Stderr, "slapbot: %v\n", err)
		os.Exit(1)
	}
}
