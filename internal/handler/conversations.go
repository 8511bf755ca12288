// Package handler provides HTTP handlers for the API.
package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/capitalize-ai/toolbot/internal/middleware"
	"github.com/capitalize-ai/toolbot/internal/model"
	"github.com/capitalize-ai/toolbot/internal/store"
	"github.com/capitalize-ai/toolbot/pkg/logger"
)

// AuditStore is the read side of the persisted audit records.
type AuditStore interface {
	GetChat(ctx context.Context, id uint) (*model.Chat, error)
	ListChats(ctx context.Context, botID uint, page store.Page) (*model.ListResponse[model.Chat], error)
	ListMessages(ctx context.Context, chatID uint, page store.Page) (*model.ListResponse[model.Message], error)
	ListToolCalls(ctx context.Context, chatID uint, page store.Page) (*model.ListResponse[model.ToolCall], error)
	ListTelegramLogs(ctx context.Context, chatID uint, page store.Page) (*model.ListResponse[model.TelegramLog], error)
	ListApiLogs(ctx context.Context, apiID uint, page store.Page) (*model.ListResponse[model.ApiLog], error)
}

// ConversationHandler serves the read-only audit API.
type ConversationHandler struct {
	store  AuditStore
	logger *logger.Logger
}

// NewConversationHandler creates a new conversation handler.
func NewConversationHandler(st AuditStore, log *logger.Logger) *ConversationHandler {
	return &ConversationHandler{
		store:  st,
		logger: log.Named("audit"),
	}
}

// ListChats handles GET /api/v1/chats?bot_id=N
func (h *ConversationHandler) ListChats(w http.ResponseWriter, r *http.Request) {
	page, ok := h.page(w, r)
	if !ok {
		return
	}

	var botID uint
	if raw := r.URL.Query().Get("bot_id"); raw != "" {
		id, err := middleware.ValidateID(raw, "bot_id")
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		botID = id
	}

	resp, err := h.store.ListChats(r.Context(), botID, page)
	if err != nil {
		h.logger.Error("failed to list chats", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list chats")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListMessages handles GET /api/v1/chats/{id}/messages
func (h *ConversationHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	chatList(h, w, r, "messages", h.store.ListMessages)
}

// ListToolCalls handles GET /api/v1/chats/{id}/tool-calls
func (h *ConversationHandler) ListToolCalls(w http.ResponseWriter, r *http.Request) {
	chatList(h, w, r, "tool calls", h.store.ListToolCalls)
}

// ListActions handles GET /api/v1/chats/{id}/actions
func (h *ConversationHandler) ListActions(w http.ResponseWriter, r *http.Request) {
	chatList(h, w, r, "actions", h.store.ListTelegramLogs)
}

// ListApiLogs handles GET /api/v1/apis/{id}/logs
func (h *ConversationHandler) ListApiLogs(w http.ResponseWriter, r *http.Request) {
	apiID, err := middleware.ValidateID(chi.URLParam(r, "id"), "api id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	page, ok := h.page(w, r)
	if !ok {
		return
	}

	resp, err := h.store.ListApiLogs(r.Context(), apiID, page)
	if err != nil {
		h.logger.Error("failed to list api logs", zap.Uint("api_id", apiID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list api logs")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *ConversationHandler) page(w http.ResponseWriter, r *http.Request) (store.Page, bool) {
	q, err := middleware.ParsePage(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return store.Page{}, false
	}
	return store.Page{Limit: q.Limit, Offset: q.Offset}, true
}

// chat resolves the {id} chat of the route, writing the error response itself.
func (h *ConversationHandler) chat(w http.ResponseWriter, r *http.Request) (*model.Chat, bool) {
	chatID, err := middleware.ValidateID(chi.URLParam(r, "id"), "chat id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	chat, err := h.store.GetChat(r.Context(), chatID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "chat not found")
		} else {
			h.logger.Error("failed to load chat", zap.Uint("chat_id", chatID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to load chat")
		}
		return nil, false
	}
	return chat, true
}

func chatList[T any](
	h *ConversationHandler,
	w http.ResponseWriter,
	r *http.Request,
	what string,
	list func(context.Context, uint, store.Page) (*model.ListResponse[T], error),
) {
	chat, ok := h.chat(w, r)
	if !ok {
		return
	}
	page, ok := h.page(w, r)
	if !ok {
		return
	}

	resp, err := list(r.Context(), chat.ID, page)
	if err != nil {
		h.logger.Error("failed to list "+what, zap.Uint("chat_id", chat.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list "+what)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
