package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/capitalize-ai/toolbot/internal/model"
	"github.com/capitalize-ai/toolbot/internal/tools"
	"github.com/capitalize-ai/toolbot/pkg/logger"
	"github.com/capitalize-ai/toolbot/pkg/metrics"
	"github.com/capitalize-ai/toolbot/pkg/tracing"
)

// LogWriter persists platform action log rows.
type LogWriter interface {
	CreateTelegramLog(ctx context.Context, entry *model.TelegramLog) error
}

// ActionCall is one messaging action addressed to a chat.
type ActionCall struct {
	Client         Caller
	ChatID         uint
	ExternalChatID int64
	MessageID      *uint
	Position       int
	CallID         string
	Name           string
	Parameters     map[string]any
}

// handler copies the action's parameters into Bot API form fields.
type handler func(input map[string]any, params tgbotapi.Params) error

func fields(required []string, optional ...string) handler {
	return func(input map[string]any, params tgbotapi.Params) error {
		for _, key := range required {
			v, ok := input[key]
			if !ok || v == nil {
				return fmt.Errorf("missing required parameter %q", key)
			}
			if err := setParam(params, key, v); err != nil {
				return err
			}
		}
		for _, key := range optional {
			if v, ok := input[key]; ok && v != nil {
				if err := setParam(params, key, v); err != nil {
					return err
				}
			}
		}
		return nil
	}
}

// handlers is keyed by the allow-listed action name.
var handlers = map[string]handler{
	"sendTextMessage":     fields([]string{"text"}, "parse_mode", "disable_notification"),
	"sendPhotoMessage":    fields([]string{"photo"}, "caption", "parse_mode", "disable_notification"),
	"sendDocumentMessage": fields([]string{"document"}, "caption", "parse_mode", "disable_notification"),
	"sendPollMessage":     fields([]string{"question", "options"}, "is_anonymous", "allows_multiple_answers", "type"),
	"sendLocationMessage": fields([]string{"latitude", "longitude"}, "disable_notification"),
	"sendVenueMessage":    fields([]string{"latitude", "longitude", "title", "address"}, "disable_notification"),
	"sendContactMessage":  fields([]string{"phone_number", "first_name"}, "last_name", "disable_notification"),
	"sendDiceMessage":     fields(nil, "emoji", "disable_notification"),
	"sendChatAction":      fields([]string{"action"}),
}

func setParam(params tgbotapi.Params, key string, v any) error {
	switch val := v.(type) {
	case string:
		params[key] = val
	case bool:
		params[key] = strconv.FormatBool(val)
	case float64:
		params[key] = strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		params[key] = strconv.Itoa(val)
	case int64:
		params[key] = strconv.FormatInt(val, 10)
	case json.Number:
		params[key] = val.String()
	default:
		if err := params.AddInterface(key, val); err != nil {
			return fmt.Errorf("invalid parameter %q: %w", key, err)
		}
	}
	return nil
}

// Dispatcher executes messaging actions. It never returns an error: every
// call yields a terminal TelegramLog that has been handed to the LogWriter.
type Dispatcher struct {
	logs    LogWriter
	timeout time.Duration
	logger  *logger.Logger
}

// NewDispatcher creates a dispatcher. A zero timeout disables the per-call deadline.
func NewDispatcher(logs LogWriter, timeout time.Duration, log *logger.Logger) *Dispatcher {
	return &Dispatcher{logs: logs, timeout: timeout, logger: log.Named("telegram")}
}

// Execute runs one action to a terminal log row.
func (d *Dispatcher) Execute(ctx context.Context, call ActionCall) *model.TelegramLog {
	start := time.Now()

	ctx, span := tracing.Start(ctx, "action.execute", attribute.String("action.name", call.Name))
	defer span.End()

	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	entry := &model.TelegramLog{
		ChatID:     call.ChatID,
		MessageID:  call.MessageID,
		Position:   call.Position,
		CallID:     call.CallID,
		Action:     call.Name,
		Parameters: encodeJSON(call.Parameters),
	}

	response, err := d.do(ctx, call, entry)
	entry.LatencyMs = time.Since(start).Milliseconds()
	if err != nil {
		entry.Error = fmt.Sprintf("%s: %v", call.Name, err)
		span.SetAttributes(attribute.String("action.error", entry.Error))
	} else {
		entry.Success = true
		entry.Response = encodeJSON(response)
	}

	if d.logs != nil {
		if err := d.logs.CreateTelegramLog(context.WithoutCancel(ctx), entry); err != nil {
			d.logger.Error("failed to write telegram log",
				zap.String("action", call.Name),
				zap.Error(err),
			)
		}
	}
	metrics.RecordPlatformAction(entry.Method, entry.Success)

	d.logger.Info("action dispatched",
		zap.String("action", call.Name),
		zap.String("method", entry.Method),
		zap.Int64("chat_id", call.ExternalChatID),
		zap.Bool("success", entry.Success),
		zap.Int64("latency_ms", entry.LatencyMs),
		zap.String("error", entry.Error),
	)

	return entry
}

func (d *Dispatcher) do(ctx context.Context, call ActionCall, entry *model.TelegramLog) (map[string]any, error) {
	action, err := tools.LookupAction(call.Name)
	if err != nil {
		return nil, err
	}
	entry.Method = action.Method

	build, ok := handlers[action.Name]
	if !ok {
		return nil, tools.ErrUnknownAction
	}
	if call.Client == nil {
		return nil, errors.New("no platform client configured")
	}

	input := call.Parameters
	if input == nil {
		input = map[string]any{}
	}

	params := tgbotapi.Params{}
	if err := build(input, params); err != nil {
		return nil, err
	}
	params["chat_id"] = strconv.FormatInt(call.ExternalChatID, 10)

	if raw, ok := input["reply_markup"]; ok && raw != nil {
		markup, matched, err := normalizeMarkup(raw)
		if err != nil {
			return nil, err
		}
		if !matched {
			markup = raw
		}
		if err := setParam(params, "reply_markup", markup); err != nil {
			return nil, err
		}
	}

	result, err := call.Client.Call(ctx, action.Method, params)
	if err != nil {
		return nil, err
	}
	return normalizeResponse(result), nil
}

// normalizeResponse turns any Bot API result into a plain mapping.
func normalizeResponse(raw json.RawMessage) map[string]any {
	if len(raw) == 0 {
		return map[string]any{}
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return map[string]any{"result": string(raw)}
	}
	if m, ok := v.(map[string]any); ok {
		return m
	}
	return map[string]any{"result": v}
}

// Reply sends text to a chat through the sendTextMessage action.
func (d *Dispatcher) Reply(ctx context.Context, client Caller, chatID uint, externalChatID int64, text string) *model.TelegramLog {
	return d.Execute(ctx, ActionCall{
		Client:         client,
		ChatID:         chatID,
		ExternalChatID: externalChatID,
		Name:           "sendTextMessage",
		Parameters:     map[string]any{"text": text},
	})
}

func encodeJSON(v any) datatypes.JSON {
	data, err := json.Marshal(v)
	if err != nil {
		return datatypes.JSON("null")
	}
	return datatypes.JSON(data)
}
