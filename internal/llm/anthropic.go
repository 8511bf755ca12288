package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/tidwall/gjson"

	"github.com/capitalize-ai/toolbot/internal/model"
)

const (
	defaultAnthropicModel = "claude-3-5-sonnet-20241022"
	defaultMaxTokens      = 4096
)

// AnthropicConfig configures the Anthropic adapter.
type AnthropicConfig struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
}

// AnthropicAdapter speaks the Anthropic Messages API.
type AnthropicAdapter struct {
	client anthropic.Client
}

// NewAnthropicAdapter creates a new Anthropic adapter. Retries are left to WithRetry.
func NewAnthropicAdapter(cfg AnthropicConfig) (*AnthropicAdapter, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic API key is required")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}

	return &AnthropicAdapter{client: anthropic.NewClient(opts...)}, nil
}

// Provider returns the provider name.
func (a *AnthropicAdapter) Provider() model.Provider {
	return model.ProviderAnthropic
}

// Complete sends a completion request.
func (a *AnthropicAdapter) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	start := time.Now()

	modelName := req.Model
	if modelName == "" {
		modelName = defaultAnthropicModel
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = defaultMaxTokens
	}

	names := newNameMap(nil)
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(modelName),
		MaxTokens: int64(maxTokens),
		Tools:     a.configureTools(req, names),
		Messages:  a.buildHistory(req.History, names),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Temperature)
	}

	resp, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return nil, err
	}

	out := &CompletionResponse{
		Model:        string(resp.Model),
		StopReason:   string(resp.StopReason),
		InputTokens:  int(resp.Usage.InputTokens),
		OutputTokens: int(resp.Usage.OutputTokens),
		LatencyMs:    time.Since(start).Milliseconds(),
	}
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			out.Text += block.Text
		case "tool_use":
			out.ToolUses = append(out.ToolUses, a.parseToolUse(block, names))
		}
	}

	if raw := gjson.Get(resp.RawJSON(), "content"); raw.Exists() {
		out.Raw = json.RawMessage(raw.Raw)
	} else if data, err := json.Marshal(resp.Content); err == nil {
		out.Raw = data
	}

	return out, nil
}

func (a *AnthropicAdapter) configureTools(req *CompletionRequest, names *nameMap) []anthropic.ToolUnionParam {
	if len(req.Tools.Anthropic) == 0 {
		return nil
	}
	out := make([]anthropic.ToolUnionParam, 0, len(req.Tools.Anthropic))
	for _, t := range req.Tools.Anthropic {
		schema := anthropic.ToolInputSchemaParam{
			Properties: t.InputSchema.Properties,
			Required:   t.InputSchema.Required,
		}
		if schema.Properties == nil {
			schema.Properties = map[string]any{}
		}
		if t.InputSchema.AdditionalProperties != nil {
			schema.ExtraFields = map[string]any{"additionalProperties": *t.InputSchema.AdditionalProperties}
		}
		tool := &anthropic.ToolParam{
			Name:        names.add(t.Name),
			InputSchema: schema,
		}
		if t.Description != "" {
			tool.Description = anthropic.String(t.Description)
		}
		out = append(out, anthropic.ToolUnionParam{OfTool: tool})
	}
	return out
}

// buildHistory maps turns to Anthropic messages. Tool results travel in a
// user message placed right after the assistant turn that requested them.
func (a *AnthropicAdapter) buildHistory(history []Turn, names *nameMap) []anthropic.MessageParam {
	history = trimLeading(history)
	messages := make([]anthropic.MessageParam, 0, len(history))

	for _, turn := range history {
		switch turn.Role {
		case model.RoleUser:
			if turn.Text == "" {
				continue
			}
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(turn.Text)))

		case model.RoleAssistant:
			var blocks []anthropic.ContentBlockParamUnion
			if turn.Text != "" {
				blocks = append(blocks, anthropic.NewTextBlock(turn.Text))
			}
			for _, use := range turn.ToolUses {
				blocks = append(blocks, anthropic.NewToolUseBlock(use.ID, inputOrEmpty(use.Input), names.wire(use.Name)))
			}
			if len(blocks) == 0 {
				continue
			}
			messages = append(messages, anthropic.NewAssistantMessage(blocks...))

			if len(turn.Results) > 0 {
				results := make([]anthropic.ContentBlockParamUnion, 0, len(turn.Results))
				for _, r := range turn.Results {
					results = append(results, anthropic.NewToolResultBlock(r.CallID, r.Content(), r.IsError))
				}
				messages = append(messages, anthropic.NewUserMessage(results...))
			}
		}
	}
	return messages
}

func (a *AnthropicAdapter) parseToolUse(block anthropic.ContentBlockUnion, names *nameMap) ToolUse {
	input, inputErr := decodeInput(block.Input)
	return ToolUse{
		ID:         block.ID,
		Name:       names.original(block.Name),
		Input:      input,
		InputError: inputErr,
	}
}
