package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/capitalize-ai/toolbot/internal/lock"
	"github.com/capitalize-ai/toolbot/internal/model"
	"github.com/capitalize-ai/toolbot/internal/store"
	"github.com/capitalize-ai/toolbot/internal/telegram"
	"github.com/capitalize-ai/toolbot/pkg/logger"
)

var (
	// ErrBotNotFound is returned for updates addressed to an unknown bot.
	ErrBotNotFound = errors.New("bot not found")
	// ErrInvalidSecret is returned when the webhook secret does not match.
	ErrInvalidSecret = errors.New("invalid webhook secret")
	// ErrInvalidUpdate is returned for payloads that are not a Telegram update.
	ErrInvalidUpdate = errors.New("invalid update payload")
)

// Outcomes of Handle besides the orchestrator outcomes.
const (
	OutcomeIgnored   = "ignored"
	OutcomeDuplicate = "duplicate"
)

// UpdateStore is the persistence surface used for inbound updates.
type UpdateStore interface {
	LoadBot(ctx context.Context, id uint) (*model.Bot, error)
	FindCommand(ctx context.Context, botID uint, name string) (*model.Command, error)
	FindOrCreateChat(ctx context.Context, botID uint, externalChatID int64) (*model.Chat, error)
	RecordUpdate(ctx context.Context, update *model.Update) error
}

// Runner answers one user message.
type Runner interface {
	Run(ctx context.Context, req *Request) (*Result, error)
}

// Replier delivers the final answer to the chat.
type Replier interface {
	Reply(ctx context.Context, client telegram.Caller, chatID uint, externalChatID int64, text string) *model.TelegramLog
}

// ClientFactory builds a Bot API client for a bot token.
type ClientFactory func(token string) telegram.Caller

// Inbound is one webhook delivery.
type Inbound struct {
	BotID   uint
	Secret  string
	Payload []byte
}

// UpdateService turns webhook deliveries into orchestrator runs.
type UpdateService struct {
	store   UpdateStore
	locker  lock.Locker
	runner  Runner
	replier Replier
	clients ClientFactory
	timeout time.Duration
	logger  *logger.Logger
}

// NewUpdateService creates an update service. timeout bounds the whole run,
// including every provider, tool and action call.
func NewUpdateService(
	st UpdateStore,
	locker lock.Locker,
	runner Runner,
	replier Replier,
	clients ClientFactory,
	timeout time.Duration,
	log *logger.Logger,
) *UpdateService {
	if locker == nil {
		locker = lock.NewLocalLocker()
	}
	return &UpdateService{
		store:   st,
		locker:  locker,
		runner:  runner,
		replier: replier,
		clients: clients,
		timeout: timeout,
		logger:  log.Named("updates"),
	}
}

// Handle processes one delivery. Ignored and duplicate updates are not errors.
func (s *UpdateService) Handle(ctx context.Context, in Inbound) (string, error) {
	bot, err := s.store.LoadBot(ctx, in.BotID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", ErrBotNotFound
		}
		return "", fmt.Errorf("failed to load bot: %w", err)
	}
	if bot.WebhookSecret != "" && in.Secret != bot.WebhookSecret {
		return "", ErrInvalidSecret
	}

	var update tgbotapi.Update
	if err := json.Unmarshal(in.Payload, &update); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidUpdate, err)
	}

	msg := update.Message
	if !bot.Active || msg == nil || msg.Chat == nil {
		return OutcomeIgnored, nil
	}
	text := msg.Text
	if text == "" {
		text = msg.Caption
	}
	if strings.TrimSpace(text) == "" {
		return OutcomeIgnored, nil
	}

	chat, err := s.store.FindOrCreateChat(ctx, bot.ID, msg.Chat.ID)
	if err != nil {
		return "", fmt.Errorf("failed to resolve chat: %w", err)
	}
	log := s.logger.WithChat(bot.ID, chat.ID, chat.ExternalChatID)

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	unlock, err := s.locker.Lock(ctx, lock.ChatKey(bot.ID, chat.ExternalChatID))
	if err != nil {
		return "", fmt.Errorf("failed to lock chat: %w", err)
	}
	defer unlock()

	var userID int64
	if msg.From != nil {
		userID = msg.From.ID
	}
	record := &model.Update{
		BotID:            bot.ID,
		ExternalUpdateID: int64(update.UpdateID),
		ChatID:           chat.ID,
		UserID:           userID,
		Text:             text,
		Payload:          datatypes.JSON(in.Payload),
	}
	if err := s.store.RecordUpdate(ctx, record); err != nil {
		if errors.Is(err, store.ErrDuplicateUpdate) {
			log.Info("duplicate update ignored", zap.Int("update_id", update.UpdateID))
			return OutcomeDuplicate, nil
		}
		return "", err
	}

	cmd := s.command(ctx, bot.ID, msg, log)
	if bot.ShouldQueue {
		log.Debug("bot requests queued execution; running inline")
	}

	client := s.clients(bot.TelegramToken)
	res, err := s.runner.Run(ctx, &Request{
		Bot:      bot,
		Command:  cmd,
		Chat:     chat,
		UpdateID: &record.ID,
		Text:     text,
		UserID:   userID,
		Client:   client,
	})
	if err != nil {
		return "", err
	}

	if res.Message != nil && res.Message.Text != "" {
		entry := s.replier.Reply(context.WithoutCancel(ctx), client, chat.ID, chat.ExternalChatID, res.Message.Text)
		if !entry.Success {
			log.Warn("failed to deliver answer", zap.String("error", entry.Error))
		}
	}
	return res.Outcome, nil
}

// command resolves a leading /command. Unknown commands fall back to the bot defaults.
func (s *UpdateService) command(ctx context.Context, botID uint, msg *tgbotapi.Message, log *logger.Logger) *model.Command {
	if !msg.IsCommand() {
		return nil
	}
	name := "/" + msg.Command()
	cmd, err := s.store.FindCommand(ctx, botID, name)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			log.Warn("failed to load command", zap.String("command", name), zap.Error(err))
		}
		return nil
	}
	return cmd
}
