package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/pelusa-v/pelusa-dm/internal/auth"
	"github.com/pelusa-v/pelusa-dm/internal/chat"
	"github.com/pelusa-v/pelusa-dm/internal/config"
	"github.com/pelusa-v/pelusa-dm/internal/directory"
	"github.com/pelusa-v/pelusa-dm/internal/handlers"
	"github.com/pelusa-v/pelusa-dm/internal/obs"
	mongostore "github.com/pelusa-v/pelusa-dm/internal/storage/mongo"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		logger := obs.NewLogger("dev", "info")
		logger.Error("config load failed", "error", err)
		os.Exit(1)
	}
	logger := obs.NewLogger(cfg.Env, cfg.LogLevel)

	resolver, err := auth.NewJWTResolver(cfg.JWTSecret)
	if err != nil {
		logger.Error("auth init failed", "error", err)
		os.Exit(1)
	}

	var (
		store  chat.ConversationStore
		dir    directory.Directory
		pinger handlers.Pinger
	)
	switch cfg.StoreBackend {
	case "mongo":
		client, err := mongostore.New(cfg.MongoURI, cfg.MongoDB, cfg.MongoTimeout)
		if err != nil {
			logger.Error("mongo connect failed", "error", err)
			os.Exit(1)
		}
		defer func() {
			_ = client.Close(context.Background())
		}()
		conversations, err := mongostore.NewConversationStore(ctx, client.DB)
		if err != nil {
			logger.Error("mongo index setup failed", "error", err)
			os.Exit(1)
		}
		store, dir, pinger = conversations, mongostore.NewUsers(client.DB), client
		logger.Info("mongo connected", "db", cfg.MongoDB)
	default:
		seed := make([]chat.UserID, 0, len(cfg.SeedUsers))
		for _, raw := range cfg.SeedUsers {
			id, err := chat.ParseUserID(raw)
			if err != nil {
				logger.Warn("skipping seed user", "user", raw, "error", err)
				continue
			}
			seed = append(seed, id)
		}
		mem := directory.NewMemory(seed...)
		store, dir = chat.NewMemoryStore(), mem
		logger.Info("memory store in use", "users", len(mem.Users()))
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	hub := chat.NewHub(chat.HubConfig{
		QuietPeriod:  cfg.TypingQuietPeriod,
		SendBuffer:   cfg.ClientSendBuffer,
		WriteTimeout: cfg.WSWriteTimeout,
	}, chat.HubDeps{
		Store:     store,
		Directory: dir,
		Recorder:  dir,
		Metrics:   obs.NewMetrics(registry),
		Logger:    logger,
	})

	app := handlers.NewApp(&handlers.Handlers{
		Hub:       hub,
		Resolver:  resolver,
		Directory: dir,
		Logger:    logger,
		Context:   ctx,
	}, handlers.ServerOptions{Gatherer: registry, Pinger: pinger})

	go func() {
		<-ctx.Done()
		logger.Info("shutting down http server")
		if err := app.ShutdownWithTimeout(cfg.ShutdownTimeout); err != nil {
			logger.Error("shutdown failed", "error", err)
		}
	}()

	logger.Info("pelusa-dm starting", "addr", cfg.HTTPAddr, "env", cfg.Env, "store", cfg.StoreBackend)
	if err := app.Listen(cfg.HTTPAddr); err != nil {
		logger.Error("http server failed", "error", err)
		os.Exit(1)
	}

	// 等待所有连接完成下线记录
	drainCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := hub.Wait(drainCtx); err != nil {
		logger.Warn("live connections still open at exit", "error", err)
	}
	logger.Info("pelusa-dm stopped")
}
