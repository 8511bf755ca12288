// Package service drives inbound chat events through the tool-calling loop.
package service

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/capitalize-ai/toolbot/internal/executor"
	"github.com/capitalize-ai/toolbot/internal/llm"
	"github.com/capitalize-ai/toolbot/internal/model"
	"github.com/capitalize-ai/toolbot/internal/telegram"
	"github.com/capitalize-ai/toolbot/internal/tools"
	"github.com/capitalize-ai/toolbot/pkg/logger"
	"github.com/capitalize-ai/toolbot/pkg/metrics"
	"github.com/capitalize-ai/toolbot/pkg/tracing"
)

const (
	// ProviderErrorText is the degraded answer persisted when the provider cannot be reached.
	ProviderErrorText = "error communicating with provider"

	// MaxToolTurnsText is the answer persisted when the tool turn cap is hit.
	MaxToolTurnsText = "I could not finish this request: too many tool calls were needed."

	// DefaultHistoryLimit is the number of persisted turns replayed to the provider.
	DefaultHistoryLimit = 20
	// DefaultMaxToolTurns caps the completion round trips that requested API tools.
	DefaultMaxToolTurns = 8
)

// Outcomes reported by Run.
const (
	OutcomeAnswered      = "answered"
	OutcomeProviderError = "provider_error"
	OutcomeMaxToolTurns  = "max_tool_turns"
)

// Repository is the persistence surface used by the orchestrator.
type Repository interface {
	HistoryReader
	CreateMessage(ctx context.Context, msg *model.Message) error
	UpdateMessage(ctx context.Context, msg *model.Message) error
	CreateToolCall(ctx context.Context, call *model.ToolCall) error
	FinishToolCall(ctx context.Context, id uint, status model.ToolCallStatus, output datatypes.JSON) error
}

// AdapterSource resolves the adapter serving a provider.
type AdapterSource interface {
	Get(provider model.Provider) (llm.Adapter, error)
}

// ToolExecutor runs generic API tools.
type ToolExecutor interface {
	Execute(ctx context.Context, call executor.Call) executor.Result
}

// ActionDispatcher runs messaging actions.
type ActionDispatcher interface {
	Execute(ctx context.Context, call telegram.ActionCall) *model.TelegramLog
}

// Options tune the loop.
type Options struct {
	HistoryLimit int
	MaxToolTurns int
}

// Request is one inbound user message to answer.
type Request struct {
	Bot      *model.Bot
	Command  *model.Command
	Chat     *model.Chat
	UpdateID *uint
	Text     string
	UserID   int64
	// Client delivers messaging actions to the chat. A nil client makes every
	// action fail with a logged error.
	Client telegram.Caller
}

// Result is the final answer of a run.
type Result struct {
	Message   *model.Message
	ToolTurns int
	Outcome   string
}

// Orchestrator runs the completion loop until the model stops requesting tools.
type Orchestrator struct {
	store    Repository
	adapters AdapterSource
	executor ToolExecutor
	actions  ActionDispatcher
	events   Publisher
	opts     Options
	logger   *logger.Logger
}

// NewOrchestrator creates an orchestrator. Zero options select the defaults.
func NewOrchestrator(
	store Repository,
	adapters AdapterSource,
	exec ToolExecutor,
	actions ActionDispatcher,
	events Publisher,
	opts Options,
	log *logger.Logger,
) *Orchestrator {
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = DefaultHistoryLimit
	}
	if opts.MaxToolTurns <= 0 {
		opts.MaxToolTurns = DefaultMaxToolTurns
	}
	if events == nil {
		events = NopPublisher{}
	}
	return &Orchestrator{
		store:    store,
		adapters: adapters,
		executor: exec,
		actions:  actions,
		events:   events,
		opts:     opts,
		logger:   log.Named("orchestrator"),
	}
}

// Run answers one user message. Tool and provider failures never surface as
// errors: they end up in the audit records and in the final turn. An error is
// returned only when the conversation itself could not be persisted.
func (o *Orchestrator) Run(ctx context.Context, req *Request) (*Result, error) {
	bot, chat := req.Bot, req.Chat
	log := o.logger.WithChat(bot.ID, chat.ID, chat.ExternalChatID)

	ctx, span := tracing.Start(ctx, "orchestrator.run",
		attribute.Int64("bot.id", int64(bot.ID)),
		attribute.Int64("chat.id", int64(chat.ID)),
		attribute.String("llm.provider", string(bot.Provider)),
	)
	defer span.End()

	// Records must land even when the inbound deadline has already passed.
	persistCtx := context.WithoutCancel(ctx)

	userMsg := &model.Message{
		ChatID:   chat.ID,
		UpdateID: req.UpdateID,
		Role:     model.RoleUser,
		Text:     req.Text,
	}
	if err := o.store.CreateMessage(persistCtx, userMsg); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "persist user turn")
		return nil, fmt.Errorf("failed to persist user turn: %w", err)
	}
	metrics.RecordMessage(string(model.RoleUser))
	o.turnPersisted(persistCtx, bot, userMsg)

	set := o.toolSet(req, log)
	system := bot.SystemPrompt
	if req.Command != nil && req.Command.SystemPrompt != nil && *req.Command.SystemPrompt != "" {
		system = *req.Command.SystemPrompt
	}

	adapter, err := o.adapters.Get(bot.Provider)
	if err != nil {
		return o.providerFailure(persistCtx, req, 0, err, log)
	}
	manifest, err := set.Serialize(bot.Provider)
	if err != nil {
		return o.providerFailure(persistCtx, req, 0, err, log)
	}

	turns := 0
	for {
		// The window always reaches back to the triggering user turn.
		history, err := BuildHistory(persistCtx, o.store, chat.ID, max(o.opts.HistoryLimit, turns+1))
		if err != nil {
			span.RecordError(err)
			return nil, err
		}

		start := time.Now()
		resp, err := adapter.Complete(ctx, &llm.CompletionRequest{
			Model:       bot.Model,
			MaxTokens:   bot.MaxTokens,
			Temperature: &bot.Temperature,
			System:      system,
			History:     history,
			Tools:       manifest,
		})
		if err != nil {
			metrics.RecordCompletion(string(bot.Provider), bot.Model, "error", time.Since(start).Seconds(), 0, 0)
			return o.providerFailure(persistCtx, req, turns, err, log)
		}
		metrics.RecordCompletion(string(bot.Provider), resp.Model, "success", time.Since(start).Seconds(), resp.InputTokens, resp.OutputTokens)

		msg := &model.Message{
			ChatID:       chat.ID,
			Role:         model.RoleAssistant,
			Text:         resp.Text,
			Provider:     bot.Provider,
			Model:        resp.Model,
			InputTokens:  resp.InputTokens,
			OutputTokens: resp.OutputTokens,
			LatencyMs:    resp.LatencyMs,
			StopReason:   stringPtr(resp.StopReason),
		}
		pendingContent := resp.Text == "" && len(resp.ToolUses) > 0
		if !pendingContent {
			msg.Content = datatypes.JSON(resp.Raw)
		}
		if err := o.store.CreateMessage(persistCtx, msg); err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("failed to persist assistant turn: %w", err)
		}
		metrics.RecordMessage(string(model.RoleAssistant))

		usedTools := false
		for i, use := range resp.ToolUses {
			if tools.IsAction(use.Name) {
				o.runAction(ctx, req, msg, i, use)
				continue
			}
			usedTools = true
			if err := o.runTool(ctx, persistCtx, req, set, msg, i, use, log); err != nil {
				span.RecordError(err)
				return nil, err
			}
		}

		if pendingContent {
			msg.Content = datatypes.JSON(resp.Raw)
			if err := o.store.UpdateMessage(persistCtx, msg); err != nil {
				log.Warn("failed to attach assistant content", zap.Uint("message_id", msg.ID), zap.Error(err))
			}
		}
		o.turnPersisted(persistCtx, bot, msg)

		if !usedTools {
			span.SetAttributes(attribute.Int("orchestrator.tool_turns", turns))
			metrics.RecordOrchestration(string(bot.Provider), OutcomeAnswered, turns)
			log.Info("conversation turn answered",
				zap.Int("tool_turns", turns),
				zap.String("stop_reason", resp.StopReason),
			)
			return &Result{Message: msg, ToolTurns: turns, Outcome: OutcomeAnswered}, nil
		}

		turns++
		if turns >= o.opts.MaxToolTurns {
			return o.maxToolTurns(persistCtx, req, turns, log)
		}
	}
}

// toolSet merges the tool sources in priority order: messaging actions, then
// command tools, then bot tools.
func (o *Orchestrator) toolSet(req *Request, log *logger.Logger) *tools.Set {
	botDefs, errs := tools.FromApiTools(req.Bot.Tools)
	var cmdDefs []tools.Definition
	if req.Command != nil {
		var cmdErrs []error
		cmdDefs, cmdErrs = tools.FromApiTools(req.Command.Tools)
		errs = append(errs, cmdErrs...)
	}
	for _, err := range errs {
		log.Warn("skipping tool with invalid config", zap.Error(err))
	}
	return tools.Merge(tools.ActionDefinitions(), cmdDefs, botDefs)
}

func (o *Orchestrator) runAction(ctx context.Context, req *Request, msg *model.Message, position int, use llm.ToolUse) {
	entry := o.actions.Execute(ctx, telegram.ActionCall{
		Client:         req.Client,
		ChatID:         req.Chat.ID,
		ExternalChatID: req.Chat.ExternalChatID,
		MessageID:      &msg.ID,
		Position:       position,
		CallID:         use.ID,
		Name:           use.Name,
		Parameters:     use.Input,
	})
	status := string(model.ToolCallCompleted)
	if !entry.Success {
		status = string(model.ToolCallError)
	}
	publish(context.WithoutCancel(ctx), o.events, o.logger, &model.AuditEvent{
		BotID:     req.Bot.ID,
		ChatID:    req.Chat.ID,
		Type:      model.EventActionLogged,
		RecordID:  entry.ID,
		Name:      entry.Action,
		Status:    status,
		LatencyMs: entry.LatencyMs,
		Error:     entry.Error,
	})
}

func (o *Orchestrator) runTool(
	ctx, persistCtx context.Context,
	req *Request,
	set *tools.Set,
	msg *model.Message,
	position int,
	use llm.ToolUse,
	log *logger.Logger,
) error {
	call := &model.ToolCall{
		ChatID:    req.Chat.ID,
		MessageID: msg.ID,
		Position:  position,
		CallID:    use.ID,
		Name:      use.Name,
		Input:     datatypes.JSON(encodeJSON(use.Input)),
		Status:    model.ToolCallPending,
	}
	def, known := set.Get(use.Name)
	if known && def.Tool != nil {
		id := def.Tool.ID
		call.ApiToolID = &id
	}
	if err := o.store.CreateToolCall(persistCtx, call); err != nil {
		return fmt.Errorf("failed to persist tool call: %w", err)
	}

	start := time.Now()
	var (
		status model.ToolCallStatus
		output any
		errMsg string
	)
	switch {
	case !known || def.Kind != tools.KindAPI:
		errMsg = fmt.Sprintf("unknown tool %q", use.Name)
	case use.InputError != "":
		errMsg = use.InputError
	default:
		res := o.executor.Execute(ctx, executor.Call{
			Tool:   def.Tool,
			Config: def.Config,
			Input:  use.Input,
			UserID: req.UserID,
		})
		status, output, errMsg = res.Status, res.Output, res.Error
	}
	if status == "" {
		status = model.ToolCallError
		output = map[string]any{"error": errMsg}
	}

	if err := o.store.FinishToolCall(persistCtx, call.ID, status, datatypes.JSON(encodeJSON(output))); err != nil {
		return fmt.Errorf("failed to finish tool call: %w", err)
	}
	call.Status = status

	log.Debug("tool call finished",
		zap.String("tool", use.Name),
		zap.String("call_id", use.ID),
		zap.String("status", string(status)),
		zap.String("error", errMsg),
	)
	publish(persistCtx, o.events, o.logger, &model.AuditEvent{
		BotID:     req.Bot.ID,
		ChatID:    req.Chat.ID,
		Type:      model.EventToolCallDone,
		RecordID:  call.ID,
		Name:      use.Name,
		Status:    string(status),
		LatencyMs: time.Since(start).Milliseconds(),
		Error:     errMsg,
	})
	return nil
}

func (o *Orchestrator) providerFailure(ctx context.Context, req *Request, turns int, cause error, log *logger.Logger) (*Result, error) {
	log.Error("provider call failed", zap.Int("tool_turns", turns), zap.Error(cause))

	msg := &model.Message{
		ChatID:     req.Chat.ID,
		Role:       model.RoleAssistant,
		Text:       ProviderErrorText,
		Provider:   req.Bot.Provider,
		Model:      req.Bot.Model,
		StopReason: stringPtr(model.StopProviderError),
	}
	if err := o.store.CreateMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("failed to persist provider error turn: %w", err)
	}
	metrics.RecordMessage(string(model.RoleAssistant))
	metrics.RecordOrchestration(string(req.Bot.Provider), OutcomeProviderError, turns)

	publish(ctx, o.events, o.logger, &model.AuditEvent{
		BotID:    req.Bot.ID,
		ChatID:   req.Chat.ID,
		Type:     model.EventProviderFailure,
		RecordID: msg.ID,
		Name:     string(req.Bot.Provider),
		Error:    cause.Error(),
		Metadata: map[string]any{"status_code": llm.StatusCode(cause)},
	})
	return &Result{Message: msg, ToolTurns: turns, Outcome: OutcomeProviderError}, nil
}

func (o *Orchestrator) maxToolTurns(ctx context.Context, req *Request, turns int, log *logger.Logger) (*Result, error) {
	log.Warn("tool turn cap reached", zap.Int("tool_turns", turns))

	msg := &model.Message{
		ChatID:     req.Chat.ID,
		Role:       model.RoleAssistant,
		Text:       MaxToolTurnsText,
		Provider:   req.Bot.Provider,
		Model:      req.Bot.Model,
		StopReason: stringPtr(model.StopMaxToolTurnsReached),
	}
	if err := o.store.CreateMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("failed to persist terminal turn: %w", err)
	}
	metrics.RecordMessage(string(model.RoleAssistant))
	metrics.RecordOrchestration(string(req.Bot.Provider), OutcomeMaxToolTurns, turns)
	o.turnPersisted(ctx, req.Bot, msg)

	return &Result{Message: msg, ToolTurns: turns, Outcome: OutcomeMaxToolTurns}, nil
}

func (o *Orchestrator) turnPersisted(ctx context.Context, bot *model.Bot, msg *model.Message) {
	event := &model.AuditEvent{
		BotID:    bot.ID,
		ChatID:   msg.ChatID,
		Type:     model.EventTurnPersisted,
		RecordID: msg.ID,
		Name:     string(msg.Role),
	}
	if msg.StopReason != nil {
		event.Status = *msg.StopReason
	}
	publish(ctx, o.events, o.logger, event)
}

func stringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
