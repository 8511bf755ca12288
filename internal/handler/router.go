package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/capitalize-ai/toolbot/internal/middleware"
	"github.com/capitalize-ai/toolbot/pkg/logger"
)

// RouterConfig carries the handlers and limits of the HTTP surface.
type RouterConfig struct {
	Health       *HealthHandler
	Webhook      *WebhookHandler
	Conversation *ConversationHandler
	Events       *EventHandler

	JWTSecret      string
	AllowedOrigins []string

	RateLimitRequests   int
	RateLimitWindow     time.Duration
	WebhookRateRequests int
	WebhookRateWindow   time.Duration

	Logger *logger.Logger
}

// NewRouter builds the chi router.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(cfg.Logger))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)

	// Health endpoints (no auth required)
	r.Get("/health", cfg.Health.Health)
	r.Get("/ready", cfg.Health.Ready)
	r.Handle("/metrics", promhttp.Handler())

	// Telegram authenticates with the per-bot secret header instead of a JWT.
	r.With(middleware.BotRateLimit(cfg.WebhookRateRequests, cfg.WebhookRateWindow)).
		Post("/webhook/{botID}", cfg.Webhook.Receive)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.CORS(cfg.AllowedOrigins))
		r.Use(middleware.Auth(cfg.JWTSecret))
		r.Use(middleware.RequireScope(middleware.ScopeAuditRead))
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		r.Get("/chats", cfg.Conversation.ListChats)
		r.Route("/chats/{id}", func(r chi.Router) {
			r.Get("/messages", cfg.Conversation.ListMessages)
			r.Get("/tool-calls", cfg.Conversation.ListToolCalls)
			r.Get("/actions", cfg.Conversation.ListActions)
			r.Get("/events", cfg.Events.Replay)
		})
		r.Get("/apis/{id}/logs", cfg.Conversation.ListApiLogs)
	})

	return r
}
