package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"echoai/pkg/agent"
	"echoai/pkg/channels"
	_ "echoai/pkg/channels/autoload" // register channel factories
	"echoai/pkg/config"
	"echoai/pkg/gateway"
	"echoai/pkg/handler"
	"echoai/pkg/llm"
	_ "echoai/pkg/llm/autoload" // register LLM provider factories
	"echoai/pkg/monitor"
	"echoai/pkg/tools"
)

func main() {
	cfg, sysCfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "err", err)
		os.Exit(1)
	}

	monitor.SetupSlog(sysCfg.LogLevel)
	monitor.PrintBanner()

	// --- LLM client chain ---
	client, err := llm.NewFromConfig(cfg.LLM, sysCfg)
	if err != nil {
		slog.Error("failed to init LLM client", "err", err)
		os.Exit(1)
	}

	// --- Tools ---
	registry := tools.NewRegistry()
	if sysCfg.EnableTools {
		tools.RegisterBuiltins(registry,
			time.Duration(sysCfg.CommandTimeoutMs)*time.Millisecond,
			time.Duration(sysCfg.FetchTimeoutMs)*time.Millisecond)
	}

	// --- Engine and sessions ---
	engine := agent.NewEngine(client, registry, sysCfg)
	sessions := llm.NewSessionManager(sysCfg.SessionStorageDir, cfg.SystemPrompt)
	chatHandler := handler.NewChatHandler(engine, sessions, sysCfg)

	// --- Gateway ---
	gw, err := gateway.NewGatewayBuilder().
		WithSystemConfig(sysCfg).
		WithMonitor(monitor.NewCLIMonitor()).
		WithChannel(channels.LoadFromConfig(cfg.Channels, sessions, sysCfg)...).
		WithHandler(chatHandler).
		Build()
	if err != nil {
		slog.Error("failed to build gateway", "err", err)
		os.Exit(1)
	}

	// --- Live reload of engine parameters ---
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	watcher := config.NewWatcher("system.json", func(newCfg *config.SystemConfig) {
		engine.SetSystemConfig(newCfg)
		slog.Info("system config reloaded")
	})
	go func() {
		if err := watcher.Run(ctx); err != nil {
			slog.Warn("config watcher stopped", "err", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	slog.Info("shutdown signal received, stopping services")
	gw.StopAll()
	slog.Info("bye")
}
