// Package llm provides the internal conversation model and per-vendor provider adapters.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/capitalize-ai/toolbot/internal/model"
	"github.com/capitalize-ai/toolbot/internal/tools"
)

// ErrUnknownProvider is returned when no adapter is registered for a provider.
var ErrUnknownProvider = errors.New("unknown provider")

// ToolUse is a tool request emitted by the model.
type ToolUse struct {
	ID    string
	Name  string
	Input map[string]any
	// InputError is set when the provider returned arguments that are not a JSON object.
	InputError string
}

// ToolResult is the recorded outcome of a ToolUse.
type ToolResult struct {
	CallID  string
	Name    string
	Output  any
	IsError bool
}

// Content renders the output as the text block most providers expect.
func (r ToolResult) Content() string {
	if s, ok := r.Output.(string); ok {
		return s
	}
	data, err := json.Marshal(r.Output)
	if err != nil {
		return fmt.Sprintf("%v", r.Output)
	}
	return string(data)
}

// Turn is one history entry. Results belong to the assistant turn whose
// ToolUses they answer and are listed in the same order.
type Turn struct {
	Role     model.Role
	Text     string
	ToolUses []ToolUse
	Results  []ToolResult
}

// CompletionRequest represents a completion request.
type CompletionRequest struct {
	Model     string
	MaxTokens int
	// Temperature is sent as given, zero included. Nil leaves the provider default.
	Temperature *float64
	System      string
	History     []Turn
	Tools       tools.Manifest
}

// CompletionResponse is the normalized provider response.
type CompletionResponse struct {
	Text         string
	ToolUses     []ToolUse
	StopReason   string
	Model        string
	InputTokens  int
	OutputTokens int
	LatencyMs    int64
	// Raw is the provider-native assistant content, persisted verbatim.
	Raw json.RawMessage
}

// Adapter translates the internal model to and from one vendor's wire format.
type Adapter interface {
	// Provider returns the vendor served by this adapter.
	Provider() model.Provider

	// Complete sends one completion request including history and tool manifest.
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)
}

// Registry maps provider names to adapters.
type Registry struct {
	mu       sync.RWMutex
	adapters map[model.Provider]Adapter
}

// NewRegistry creates a registry holding the given adapters.
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[model.Provider]Adapter)}
	for _, a := range adapters {
		r.Register(a)
	}
	return r
}

// Register adds or replaces the adapter for its provider.
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Provider()] = a
}

// Get returns the adapter for a provider.
func (r *Registry) Get(provider model.Provider) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[provider]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, provider)
	}
	return a, nil
}

// Providers lists the registered providers.
func (r *Registry) Providers() []model.Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.Provider, 0, len(r.adapters))
	for p := range r.adapters {
		out = append(out, p)
	}
	return out
}

func decodeInput(raw []byte) (map[string]any, string) {
	if len(raw) == 0 {
		return map[string]any{}, ""
	}
	var input map[string]any
	if err := json.Unmarshal(raw, &input); err != nil {
		return map[string]any{}, fmt.Sprintf("arguments are not a JSON object: %v", err)
	}
	if input == nil {
		input = map[string]any{}
	}
	return input, ""
}

// trimLeading drops turns before the first user turn. Providers reject a
// conversation that opens with the assistant.
func trimLeading(history []Turn) []Turn {
	for i, t := range history {
		if t.Role == model.RoleUser {
			return history[i:]
		}
	}
	return nil
}

func inputOrEmpty(in map[string]any) map[string]any {
	if in == nil {
		return map[string]any{}
	}
	return in
}
