package store

import (
	"context"

	"gorm.io/gorm"

	"github.com/capitalize-ai/toolbot/internal/model"
)

// DefaultPageSize applies when a Page has no limit.
const DefaultPageSize = 20

// Page bounds a list query.
type Page struct {
	Limit  int
	Offset int
}

func list[T any](ctx context.Context, db *gorm.DB, page Page, order string, where string, args ...any) (*model.ListResponse[T], error) {
	if page.Limit <= 0 {
		page.Limit = DefaultPageSize
	}
	if page.Offset < 0 {
		page.Offset = 0
	}

	q := db.WithContext(ctx).Model(new(T))
	if where != "" {
		q = q.Where(where, args...)
	}

	var total int64
	if err := q.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, err
	}

	items := make([]T, 0)
	err := q.Session(&gorm.Session{}).
		Order(order).
		Limit(page.Limit).
		Offset(page.Offset).
		Find(&items).Error
	if err != nil {
		return nil, err
	}

	return &model.ListResponse[T]{
		Items:   items,
		Total:   int(total),
		HasMore: page.Offset+len(items) < int(total),
	}, nil
}

// ListChats lists conversations, newest first. botID 0 lists every bot.
func (s *Store) ListChats(ctx context.Context, botID uint, page Page) (*model.ListResponse[model.Chat], error) {
	if botID == 0 {
		return list[model.Chat](ctx, s.db, page, "updated_at DESC, id DESC", "")
	}
	return list[model.Chat](ctx, s.db, page, "updated_at DESC, id DESC", "bot_id = ?", botID)
}

// ListMessages lists the turns of a chat in conversation order.
func (s *Store) ListMessages(ctx context.Context, chatID uint, page Page) (*model.ListResponse[model.Message], error) {
	return list[model.Message](ctx, s.db, page, "id ASC", "chat_id = ?", chatID)
}

// ListToolCalls lists the tool calls of a chat in execution order.
func (s *Store) ListToolCalls(ctx context.Context, chatID uint, page Page) (*model.ListResponse[model.ToolCall], error) {
	return list[model.ToolCall](ctx, s.db, page, "id ASC", "chat_id = ?", chatID)
}

// ListTelegramLogs lists the platform actions of a chat in execution order.
func (s *Store) ListTelegramLogs(ctx context.Context, chatID uint, page Page) (*model.ListResponse[model.TelegramLog], error) {
	return list[model.TelegramLog](ctx, s.db, page, "id ASC", "chat_id = ?", chatID)
}

// ListApiLogs lists outbound calls made against an Api, newest first.
func (s *Store) ListApiLogs(ctx context.Context, apiID uint, page Page) (*model.ListResponse[model.ApiLog], error) {
	return list[model.ApiLog](ctx, s.db, page, "id DESC", "api_id = ?", apiID)
}
