package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/capitalize-ai/toolbot/internal/middleware"
	"github.com/capitalize-ai/toolbot/internal/service"
	"github.com/capitalize-ai/toolbot/pkg/logger"
)

// SecretHeader carries the secret token Telegram echoes on every webhook call.
const SecretHeader = "X-Telegram-Bot-Api-Secret-Token"

const maxUpdateBytes = 1 << 20

// UpdateHandler processes one webhook delivery.
type UpdateHandler interface {
	Handle(ctx context.Context, in service.Inbound) (string, error)
}

// WebhookHandler receives Telegram updates.
type WebhookHandler struct {
	updates UpdateHandler
	logger  *logger.Logger
}

// NewWebhookHandler creates a webhook handler.
func NewWebhookHandler(updates UpdateHandler, log *logger.Logger) *WebhookHandler {
	return &WebhookHandler{updates: updates, logger: log.Named("webhook")}
}

// Receive handles POST /webhook/{botID}
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	botID, err := middleware.ValidateID(chi.URLParam(r, "botID"), "bot id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxUpdateBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "update too large")
		return
	}

	outcome, err := h.updates.Handle(r.Context(), service.Inbound{
		BotID:   botID,
		Secret:  r.Header.Get(SecretHeader),
		Payload: payload,
	})
	switch {
	case errors.Is(err, service.ErrBotNotFound):
		writeError(w, http.StatusNotFound, "bot not found")
	case errors.Is(err, service.ErrInvalidSecret):
		writeError(w, http.StatusUnauthorized, "invalid secret token")
	case errors.Is(err, service.ErrInvalidUpdate):
		writeError(w, http.StatusBadRequest, "invalid update")
	case err != nil:
		h.logger.Error("failed to process update",
			zap.Uint("bot_id", botID),
			zap.String("correlation_id", middleware.GetCorrelationID(r.Context())),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "failed to process update")
	default:
		writeJSON(w, http.StatusOK, map[string]string{"status": outcome})
	}
}
