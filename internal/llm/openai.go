package llm

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/capitalize-ai/toolbot/internal/model"
)

const defaultOpenAIModel = "gpt-4o"

// OpenAIConfig configures the OpenAI adapter.
type OpenAIConfig struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
}

// OpenAIAdapter speaks the OpenAI chat completions API.
type OpenAIAdapter struct {
	client *openai.Client
}

// NewOpenAIAdapter creates a new OpenAI adapter.
func NewOpenAIAdapter(cfg OpenAIConfig) (*OpenAIAdapter, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("OpenAI API key is required")
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if cfg.HTTPClient != nil {
		clientCfg.HTTPClient = cfg.HTTPClient
	}

	return &OpenAIAdapter{client: openai.NewClientWithConfig(clientCfg)}, nil
}

// Provider returns the provider name.
func (a *OpenAIAdapter) Provider() model.Provider {
	return model.ProviderOpenAI
}

// Complete sends a completion request.
func (a *OpenAIAdapter) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	start := time.Now()

	modelName := req.Model
	if modelName == "" {
		modelName = defaultOpenAIModel
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = defaultMaxTokens
	}

	names := newNameMap(nil)
	chatReq := openai.ChatCompletionRequest{
		Model:     modelName,
		MaxTokens: maxTokens,
		Tools:     a.configureTools(req, names),
		Messages:  a.buildHistory(req.System, req.History, names),
	}
	if req.Temperature != nil {
		chatReq.Temperature = openAITemperature(*req.Temperature)
	}

	resp, err := a.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("openai returned no choices")
	}

	choice := resp.Choices[0]
	out := &CompletionResponse{
		Text:         choice.Message.Content,
		Model:        resp.Model,
		StopReason:   string(choice.FinishReason),
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
		LatencyMs:    time.Since(start).Milliseconds(),
	}
	for _, call := range choice.Message.ToolCalls {
		out.ToolUses = append(out.ToolUses, a.parseToolUse(call, names))
	}
	if data, err := json.Marshal(choice.Message); err == nil {
		out.Raw = data
	}

	return out, nil
}

func (a *OpenAIAdapter) configureTools(req *CompletionRequest, names *nameMap) []openai.Tool {
	if len(req.Tools.OpenAI) == 0 {
		return nil
	}
	out := make([]openai.Tool, 0, len(req.Tools.OpenAI))
	for _, t := range req.Tools.OpenAI {
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        names.add(t.Name),
				Description: t.Description,
				Strict:      t.Strict,
				Parameters:  t.Parameters,
			},
		})
	}
	return out
}

// buildHistory maps turns to chat messages. Each tool result becomes a
// tool-role message following the assistant message that carried the call.
func (a *OpenAIAdapter) buildHistory(system string, history []Turn, names *nameMap) []openai.ChatCompletionMessage {
	history = trimLeading(history)
	messages := make([]openai.ChatCompletionMessage, 0, len(history)+1)
	if system != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}

	for _, turn := range history {
		switch turn.Role {
		case model.RoleUser:
			if turn.Text == "" {
				continue
			}
			messages = append(messages, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleUser,
				Content: turn.Text,
			})

		case model.RoleAssistant:
			if turn.Text == "" && len(turn.ToolUses) == 0 {
				continue
			}
			msg := openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: turn.Text,
			}
			for _, use := range turn.ToolUses {
				args, err := json.Marshal(inputOrEmpty(use.Input))
				if err != nil {
					args = []byte("{}")
				}
				msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
					ID:   use.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      names.wire(use.Name),
						Arguments: string(args),
					},
				})
			}
			messages = append(messages, msg)

			for _, r := range turn.Results {
				messages = append(messages, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    r.Content(),
					ToolCallID: r.CallID,
				})
			}
		}
	}
	return messages
}

func (a *OpenAIAdapter) parseToolUse(call openai.ToolCall, names *nameMap) ToolUse {
	input, inputErr := decodeInput([]byte(call.Function.Arguments))
	return ToolUse{
		ID:         call.ID,
		Name:       names.original(call.Function.Name),
		Input:      input,
		InputError: inputErr,
	}
}

// openAITemperature maps an explicit zero to the smallest positive float32:
// go-openai omits a zero temperature and the API would apply its default.
func openAITemperature(t float64) float32 {
	if t <= 0 {
		return math.SmallestNonzeroFloat32
	}
	return float32(t)
}
