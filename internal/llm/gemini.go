package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"google.golang.org/genai"

	"github.com/capitalize-ai/toolbot/internal/model"
)

const defaultGeminiModel = "gemini-1.5-pro"

// GeminiConfig configures the Gemini adapter. An empty BaseURL selects the
// SDK default endpoint.
type GeminiConfig struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
}

// GeminiAdapter implements Adapter for Google Gemini.
type GeminiAdapter struct {
	client *genai.Client
}

// NewGeminiAdapter creates a new Gemini adapter.
func NewGeminiAdapter(cfg GeminiConfig) (*GeminiAdapter, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini API key is required")
	}

	clientCfg := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: cfg.HTTPClient,
	}
	if cfg.BaseURL != "" {
		clientCfg.HTTPOptions.BaseURL = strings.TrimRight(cfg.BaseURL, "/") + "/"
	}

	client, err := genai.NewClient(context.Background(), clientCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &GeminiAdapter{client: client}, nil
}

// Provider returns the provider name.
func (a *GeminiAdapter) Provider() model.Provider {
	return model.ProviderGemini
}

// Complete sends a completion request.
func (a *GeminiAdapter) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	start := time.Now()

	modelName := req.Model
	if modelName == "" {
		modelName = defaultGeminiModel
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = defaultMaxTokens
	}

	names := newNameMap(nil)
	config := &genai.GenerateContentConfig{
		MaxOutputTokens: int32(maxTokens),
		Tools:           a.configureTools(req, names),
	}
	if req.Temperature != nil {
		t := float32(*req.Temperature)
		config.Temperature = &t
	}
	if req.System != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.System}}}
	}

	resp, err := a.client.Models.GenerateContent(ctx, modelName, a.buildHistory(req.History, names), config)
	if err != nil {
		return nil, err
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, errors.New("gemini returned no candidates")
	}

	candidate := resp.Candidates[0]
	out := &CompletionResponse{
		Model:      modelName,
		StopReason: string(candidate.FinishReason),
		LatencyMs:  time.Since(start).Milliseconds(),
	}
	if resp.ModelVersion != "" {
		out.Model = resp.ModelVersion
	}
	if usage := resp.UsageMetadata; usage != nil {
		out.InputTokens = int(usage.PromptTokenCount)
		out.OutputTokens = int(usage.CandidatesTokenCount)
	}
	for _, part := range candidate.Content.Parts {
		if part == nil {
			continue
		}
		if part.FunctionCall != nil {
			out.ToolUses = append(out.ToolUses, a.parseToolUse(part.FunctionCall, names))
			continue
		}
		out.Text += part.Text
	}
	if data, err := json.Marshal(candidate.Content); err == nil {
		out.Raw = data
	}

	return out, nil
}

// configureTools declares every manifest function. A tool without parameters
// is declared without a schema: Gemini rejects OBJECT schemas with no properties.
func (a *GeminiAdapter) configureTools(req *CompletionRequest, names *nameMap) []*genai.Tool {
	var decls []*genai.FunctionDeclaration
	for _, group := range req.Tools.Gemini {
		for _, d := range group.FunctionDeclarations {
			decl := &genai.FunctionDeclaration{
				Name:        names.add(d.Name),
				Description: d.Description,
			}
			if len(d.Parameters.Properties) > 0 {
				decl.Parameters = &genai.Schema{
					Type:       genai.TypeObject,
					Properties: geminiProperties(d.Parameters.Properties),
					Required:   d.Parameters.Required,
				}
			}
			decls = append(decls, decl)
		}
	}
	if len(decls) == 0 {
		return nil
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

// buildHistory maps turns to Gemini contents. Function responses travel in a
// user content right after the model content holding the calls.
func (a *GeminiAdapter) buildHistory(history []Turn, names *nameMap) []*genai.Content {
	history = trimLeading(history)
	contents := make([]*genai.Content, 0, len(history))

	for _, turn := range history {
		switch turn.Role {
		case model.RoleUser:
			if turn.Text == "" {
				continue
			}
			contents = append(contents, &genai.Content{Role: "user", Parts: []*genai.Part{{Text: turn.Text}}})

		case model.RoleAssistant:
			var parts []*genai.Part
			if turn.Text != "" {
				parts = append(parts, &genai.Part{Text: turn.Text})
			}
			for _, use := range turn.ToolUses {
				parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{
					Name: names.wire(use.Name),
					Args: inputOrEmpty(use.Input),
				}})
			}
			if len(parts) == 0 {
				continue
			}
			contents = append(contents, &genai.Content{Role: "model", Parts: parts})

			if len(turn.Results) > 0 {
				responses := make([]*genai.Part, 0, len(turn.Results))
				for _, r := range turn.Results {
					responses = append(responses, &genai.Part{FunctionResponse: &genai.FunctionResponse{
						Name:     names.wire(r.Name),
						Response: geminiResponsePayload(r),
					}})
				}
				contents = append(contents, &genai.Content{Role: "user", Parts: responses})
			}
		}
	}
	return contents
}

func (a *GeminiAdapter) parseToolUse(call *genai.FunctionCall, names *nameMap) ToolUse {
	id := call.ID
	if id == "" {
		id = "call_" + uuid.NewString()
	}
	return ToolUse{
		ID:    id,
		Name:  names.original(call.Name),
		Input: inputOrEmpty(call.Args),
	}
}

// geminiResponsePayload wraps non-object outputs; functionResponse.response must be an object.
func geminiResponsePayload(r ToolResult) map[string]any {
	if m, ok := r.Output.(map[string]any); ok {
		return m
	}
	key := "result"
	if r.IsError {
		key = "error"
	}
	return map[string]any{key: r.Output}
}

func geminiProperties(props map[string]any) map[string]*genai.Schema {
	out := make(map[string]*genai.Schema, len(props))
	for name, raw := range props {
		if node, ok := raw.(map[string]any); ok {
			out[name] = geminiSchema(node)
		} else {
			out[name] = &genai.Schema{Type: genai.TypeString}
		}
	}
	return out
}

// geminiSchema converts one JSON-schema node to the OpenAPI subset Gemini accepts.
// Keywords outside that subset are dropped.
func geminiSchema(node map[string]any) *genai.Schema {
	s := &genai.Schema{}
	if typ, ok := node["type"].(string); ok {
		s.Type = genai.Type(strings.ToUpper(typ))
	}
	if desc, ok := node["description"].(string); ok {
		s.Description = desc
	}
	if format, ok := node["format"].(string); ok {
		s.Format = format
	}
	if enum, ok := node["enum"].([]any); ok {
		for _, v := range enum {
			s.Enum = append(s.Enum, fmt.Sprint(v))
		}
	}
	if items, ok := node["items"].(map[string]any); ok {
		s.Items = geminiSchema(items)
	}
	if props, ok := node["properties"].(map[string]any); ok && len(props) > 0 {
		s.Properties = geminiProperties(props)
	}
	if required, ok := node["required"].([]any); ok {
		for _, v := range required {
			if name, ok := v.(string); ok {
				s.Required = append(s.Required, name)
			}
		}
	}
	if s.Type == "" {
		s.Type = genai.TypeString
		if s.Properties != nil {
			s.Type = genai.TypeObject
		}
	}
	return s
}
