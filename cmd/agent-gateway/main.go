package main

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"scratchpad.local/agent-gateway/internal/auth"
	"scratchpad.local/agent-gateway/internal/config"
	"scratchpad.local/agent-gateway/internal/httpapi"
	"scratchpad.local/agent-gateway/internal/model"
	"scratchpad.local/agent-gateway/internal/runstate"
	"scratchpad.local/agent-gateway/internal/scratchpad"
	"scratchpad.local/agent-gateway/internal/session"
	"scratchpad.local/agent-gateway/internal/task"
	"scratchpad.local/agent-gateway/internal/ws"
)

func main() {
	logger := log.New(os.Stdout, "agent-gateway ", log.Ldate|log.Ltime|log.Lmicroseconds|log.LUTC)
	cfg, err := config.FromYAMLAndEnv()
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("invalid config: %v", err)
	}

	store, err := session.OpenStore(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		logger.Fatalf("failed to initialize session store: %v", err)
	}
	defer func() {
		if closer, ok := store.(io.Closer); ok {
			if err := closer.Close(); err != nil {
				logger.Printf("store close error: %v", err)
			}
		}
	}()
	sessions := session.NewService(logger, store)

	modelRegistry := model.NewRegistry()
	modelRegistry.RegisterFactory("openrouter", func(apiKey string) model.Provider {
		return model.NewOpenRouterProvider(apiKey,
			model.WithBaseURL(cfg.OpenRouterBaseURL),
			model.WithLogger(logger))
	})
	if cfg.OpenRouterAPIKey != "" {
		modelRegistry.Register("openrouter", model.NewOpenRouterProvider(cfg.OpenRouterAPIKey,
			model.WithBaseURL(cfg.OpenRouterBaseURL),
			model.WithLogger(logger)))
	}

	data := scratchpad.New(logger, cfg.ScratchpadBaseURL)
	states := runstate.NewRegistry()
	manager := task.NewManager(logger, task.Config{
		RunTimeout:         cfg.RunTimeout,
		RequestLimit:       cfg.RequestLimit,
		PreloadLimit:       cfg.RecordsPreloadCap,
		DefaultModel:       cfg.DefaultModel,
		DefaultContextSize: cfg.ModelContextLength,
	}, sessions, states, data, modelRegistry)

	verifier := auth.NewVerifier(cfg.JWTSecret)
	conns := ws.NewConnManager(logger)
	dispatcher := ws.NewDispatcher(logger, conns, manager, verifier)
	api := httpapi.New(logger, sessions, manager, conns, dispatcher, verifier, cfg.SessionMaxIdleAge)

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	go sessions.Sweep(sweepCtx, time.Hour, cfg.SessionMaxIdleAge)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Printf("listening on %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("http server crashed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	stopSweep()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Printf("server shutdown error: %v", err)
	}
}
