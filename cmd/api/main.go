// Package main is the entry point for the bot server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/capitalize-ai/toolbot/internal/config"
	"github.com/capitalize-ai/toolbot/internal/executor"
	"github.com/capitalize-ai/toolbot/internal/handler"
	"github.com/capitalize-ai/toolbot/internal/llm"
	"github.com/capitalize-ai/toolbot/internal/lock"
	natsclient "github.com/capitalize-ai/toolbot/internal/nats"
	"github.com/capitalize-ai/toolbot/internal/service"
	"github.com/capitalize-ai/toolbot/internal/store"
	"github.com/capitalize-ai/toolbot/internal/telegram"
	"github.com/capitalize-ai/toolbot/pkg/logger"
	"github.com/capitalize-ai/toolbot/pkg/tracing"
)

func main() {
	cfg := config.Load()

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()
	logger.SetGlobal(log)

	if err := cfg.Validate(); err != nil {
		log.Fatal("invalid configuration", zap.Error(err))
	}

	log.Info("starting toolbot server")

	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "toolbot", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	// Database
	db, err := store.Open(cfg.DatabaseDriver, cfg.DatabaseDSN)
	if err != nil {
		log.Fatal("failed to open database", zap.Error(err))
	}
	st := store.New(db)
	defer func() { _ = st.Close() }()
	if err := st.Migrate(ctx); err != nil {
		log.Fatal("failed to migrate database", zap.Error(err))
	}

	// Audit fan-out (optional)
	var (
		events    service.Publisher = service.NopPublisher{}
		replay    handler.EventSource
		readiness handler.Connection
	)
	if cfg.NATSURL != "" {
		natsClient, err := natsclient.Connect(ctx, natsclient.Config{
			URL:      cfg.NATSURL,
			CAFile:   cfg.NATSCAFile,
			CertFile: cfg.NATSCertFile,
			KeyFile:  cfg.NATSKeyFile,
			Token:    cfg.NATSToken,
		}, log)
		if err != nil {
			log.Fatal("failed to connect to NATS", zap.Error(err))
		}
		defer natsClient.Close()

		streamManager := natsclient.NewStreamManager(natsClient)
		if err := streamManager.EnsureStream(ctx); err != nil {
			log.Fatal("failed to ensure stream", zap.Error(err))
		}
		events, replay, readiness = streamManager, streamManager, natsClient
	}

	// Per-chat serialization
	var locker lock.Locker = lock.NewLocalLocker()
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer func() { _ = rdb.Close() }()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatal("failed to connect to Redis", zap.Error(err))
		}
		locker = lock.NewRedisLocker(rdb, cfg.LockTTL, log)
	}

	// Provider adapters
	httpClient := &http.Client{}
	policy := llm.RetryPolicy{
		Timeout:         cfg.ProviderTimeout,
		MaxRetries:      cfg.ProviderMaxRetries,
		InitialInterval: llm.DefaultRetryPolicy.InitialInterval,
	}
	adapters := llm.NewRegistry()
	if cfg.AnthropicAPIKey != "" {
		a, err := llm.NewAnthropicAdapter(llm.AnthropicConfig{APIKey: cfg.AnthropicAPIKey, BaseURL: cfg.AnthropicBaseURL, HTTPClient: httpClient})
		if err != nil {
			log.Fatal("failed to create Anthropic adapter", zap.Error(err))
		}
		adapters.Register(llm.WithRetry(a, policy, log))
	}
	if cfg.OpenAIAPIKey != "" {
		a, err := llm.NewOpenAIAdapter(llm.OpenAIConfig{APIKey: cfg.OpenAIAPIKey, BaseURL: cfg.OpenAIBaseURL, HTTPClient: httpClient})
		if err != nil {
			log.Fatal("failed to create OpenAI adapter", zap.Error(err))
		}
		adapters.Register(llm.WithRetry(a, policy, log))
	}
	if cfg.GeminiAPIKey != "" {
		a, err := llm.NewGeminiAdapter(llm.GeminiConfig{APIKey: cfg.GeminiAPIKey, BaseURL: cfg.GeminiBaseURL, HTTPClient: httpClient})
		if err != nil {
			log.Fatal("failed to create Gemini adapter", zap.Error(err))
		}
		adapters.Register(llm.WithRetry(a, policy, log))
	}
	if len(adapters.Providers()) == 0 {
		log.Warn("no provider API keys configured; every completion will degrade")
	}

	// Orchestration
	toolExecutor := executor.New(httpClient, st, cfg.ToolTimeout, log)
	dispatcher := telegram.NewDispatcher(st, cfg.ActionTimeout, log)
	orchestrator := service.NewOrchestrator(st, adapters, toolExecutor, dispatcher, events, service.Options{
		HistoryLimit: cfg.HistoryLimit,
		MaxToolTurns: cfg.MaxToolTurns,
	}, log)
	clients := func(token string) telegram.Caller {
		return telegram.NewClient(token, cfg.TelegramAPIEndpoint, httpClient)
	}
	updates := service.NewUpdateService(st, locker, orchestrator, dispatcher, clients, cfg.WebhookTimeout, log)

	// HTTP surface
	conversationHandler := handler.NewConversationHandler(st, log)
	router := handler.NewRouter(handler.RouterConfig{
		Health:              handler.NewHealthHandler(st, readiness),
		Webhook:             handler.NewWebhookHandler(updates, log),
		Conversation:        conversationHandler,
		Events:              handler.NewEventHandler(conversationHandler, replay),
		JWTSecret:           cfg.JWTSecret,
		AllowedOrigins:      cfg.CORSAllowedOrigins,
		RateLimitRequests:   cfg.RateLimitRequests,
		RateLimitWindow:     cfg.RateLimitWindow,
		WebhookRateRequests: cfg.WebhookRateRequests,
		WebhookRateWindow:   cfg.WebhookRateWindow,
		Logger:              log,
	})

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
}
