// Package store persists bot configuration, conversations and audit records with gorm.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/capitalize-ai/toolbot/internal/model"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicateUpdate is returned when an inbound update was already recorded.
	ErrDuplicateUpdate = errors.New("update already recorded")
	// ErrNotPending is returned when finishing a tool call that is no longer pending.
	ErrNotPending = errors.New("tool call is not pending")
)

// Open initializes a gorm database for the given driver.
func Open(driver, dsn string) (*gorm.DB, error) {
	cfg := &gorm.Config{
		NowFunc: func() time.Time { return time.Now().UTC() },
		Logger:  gormlogger.Default.LogMode(gormlogger.Silent),
	}
	switch strings.ToLower(driver) {
	case "postgres", "postgresql", "pg":
		return gorm.Open(postgres.Open(dsn), cfg)
	case "sqlite", "sqlite3":
		return gorm.Open(sqlite.Open(dsn), cfg)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

// Store provides persistence operations.
type Store struct {
	db *gorm.DB
}

// New wraps an open database.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Migrate creates or updates every table.
func (s *Store) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(
		&model.Api{},
		&model.ApiTool{},
		&model.Bot{},
		&model.Command{},
		&model.Chat{},
		&model.Update{},
		&model.Message{},
		&model.ToolCall{},
		&model.TelegramLog{},
		&model.ApiLog{},
	)
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// LoadBot returns a bot with its tools and their Apis.
func (s *Store) LoadBot(ctx context.Context, id uint) (*model.Bot, error) {
	var bot model.Bot
	err := s.db.WithContext(ctx).
		Preload("Tools.Api").
		Take(&bot, id).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &bot, nil
}

// FindCommand returns a bot command by name with its tools and their Apis.
func (s *Store) FindCommand(ctx context.Context, botID uint, name string) (*model.Command, error) {
	var cmd model.Command
	err := s.db.WithContext(ctx).
		Preload("Tools.Api").
		Where("bot_id = ? AND name = ?", botID, name).
		Take(&cmd).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &cmd, nil
}

// FindOrCreateChat returns the conversation for an external chat, creating it on first contact.
func (s *Store) FindOrCreateChat(ctx context.Context, botID uint, externalChatID int64) (*model.Chat, error) {
	chat := model.Chat{
		BotID:          botID,
		ExternalChatID: externalChatID,
		ConversationID: uuid.NewString(),
	}
	db := s.db.WithContext(ctx)
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&chat).Error; err != nil {
		return nil, fmt.Errorf("create chat: %w", err)
	}

	var existing model.Chat
	err := db.Where("bot_id = ? AND external_chat_id = ?", botID, externalChatID).Take(&existing).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &existing, nil
}

// GetChat returns a chat by id.
func (s *Store) GetChat(ctx context.Context, id uint) (*model.Chat, error) {
	var chat model.Chat
	if err := s.db.WithContext(ctx).Take(&chat, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &chat, nil
}

// RecordUpdate stores an inbound event once.
func (s *Store) RecordUpdate(ctx context.Context, update *model.Update) error {
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(update)
	if res.Error != nil {
		return fmt.Errorf("record update: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrDuplicateUpdate
	}
	return nil
}

// CreateMessage persists a turn.
func (s *Store) CreateMessage(ctx context.Context, msg *model.Message) error {
	return s.db.WithContext(ctx).Create(msg).Error
}

// UpdateMessage writes the late-arriving content and stop reason of a turn.
func (s *Store) UpdateMessage(ctx context.Context, msg *model.Message) error {
	return s.db.WithContext(ctx).
		Model(msg).
		Select("text", "content", "stop_reason").
		Updates(msg).Error
}

// RecentMessages returns the last n turns of a chat, oldest first.
func (s *Store) RecentMessages(ctx context.Context, chatID uint, n int) ([]model.Message, error) {
	var msgs []model.Message
	err := s.db.WithContext(ctx).
		Where("chat_id = ?", chatID).
		Order("id DESC").
		Limit(n).
		Find(&msgs).Error
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// ToolResultsFor returns the tool calls and action logs attached to the given
// turns, each ordered by message and position.
func (s *Store) ToolResultsFor(ctx context.Context, messageIDs []uint) ([]model.ToolCall, []model.TelegramLog, error) {
	if len(messageIDs) == 0 {
		return nil, nil, nil
	}
	db := s.db.WithContext(ctx)

	var calls []model.ToolCall
	if err := db.Where("message_id IN ?", messageIDs).Order("message_id, position, id").Find(&calls).Error; err != nil {
		return nil, nil, err
	}
	var actions []model.TelegramLog
	if err := db.Where("message_id IN ?", messageIDs).Order("message_id, position, id").Find(&actions).Error; err != nil {
		return nil, nil, err
	}
	return calls, actions, nil
}

// CreateToolCall persists a pending tool call.
func (s *Store) CreateToolCall(ctx context.Context, call *model.ToolCall) error {
	if call.Status == "" {
		call.Status = model.ToolCallPending
	}
	return s.db.WithContext(ctx).Create(call).Error
}

// FinishToolCall moves a pending call to a terminal status.
func (s *Store) FinishToolCall(ctx context.Context, id uint, status model.ToolCallStatus, output datatypes.JSON) error {
	if !status.Terminal() {
		return fmt.Errorf("invalid terminal status %q", status)
	}
	res := s.db.WithContext(ctx).
		Model(&model.ToolCall{}).
		Where("id = ? AND status = ?", id, model.ToolCallPending).
		Updates(map[string]any{"status": status, "output": output})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotPending
	}
	return nil
}

// CreateTelegramLog persists a platform action log row.
func (s *Store) CreateTelegramLog(ctx context.Context, entry *model.TelegramLog) error {
	return s.db.WithContext(ctx).Create(entry).Error
}

// CreateApiLog persists an API call log row.
func (s *Store) CreateApiLog(ctx context.Context, entry *model.ApiLog) error {
	return s.db.WithContext(ctx).Create(entry).Error
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
