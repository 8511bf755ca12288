package handler

import (
	"context"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/capitalize-ai/toolbot/internal/model"
)

const (
	defaultEventLimit = 50
	maxEventLimit     = 500
)

// EventSource replays the audit events of a chat.
type EventSource interface {
	GetEvents(ctx context.Context, botID, chatID uint, afterSequence uint64, limit int) ([]model.AuditEvent, uint64, bool, error)
}

// EventsResponse is one page of replayed audit events.
type EventsResponse struct {
	Events       []model.AuditEvent `json:"events"`
	LastSequence uint64             `json:"last_sequence"`
	HasMore      bool               `json:"has_more"`
}

// EventHandler serves audit event replay from the stream.
type EventHandler struct {
	chats  *ConversationHandler
	events EventSource
}

// NewEventHandler creates an event handler. A nil source answers 503.
func NewEventHandler(chats *ConversationHandler, events EventSource) *EventHandler {
	return &EventHandler{chats: chats, events: events}
}

// Replay handles GET /api/v1/chats/{id}/events?after=N&limit=M
func (h *EventHandler) Replay(w http.ResponseWriter, r *http.Request) {
	if h.events == nil {
		writeError(w, http.StatusServiceUnavailable, "event stream not configured")
		return
	}
	chat, ok := h.chats.chat(w, r)
	if !ok {
		return
	}

	var after uint64
	if raw := r.URL.Query().Get("after"); raw != "" {
		seq, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "after must be a sequence number")
			return
		}
		after = seq
	}
	limit := defaultEventLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxEventLimit {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = n
	}

	events, last, more, err := h.events.GetEvents(r.Context(), chat.BotID, chat.ID, after, limit)
	if err != nil {
		h.chats.logger.Error("failed to replay events", zap.Uint("chat_id", chat.ID), zap.Error(err))
		writeError(w, http.StatusBadGateway, "failed to replay events")
		return
	}
	if events == nil {
		events = []model.AuditEvent{}
	}
	writeJSON(w, http.StatusOK, &EventsResponse{Events: events, LastSequence: last, HasMore: more})
}
