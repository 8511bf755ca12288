package tools

import (
	"encoding/json"
	"fmt"

	"github.com/capitalize-ai/toolbot/internal/model"
)

// Kind distinguishes messaging actions from generic API tools.
type Kind string

const (
	KindAction Kind = "action"
	KindAPI    Kind = "api"
)

// Definition is one entry of the merged tool table.
type Definition struct {
	Name        string
	Description string
	Schema      InputSchema
	Strict      bool
	Kind        Kind

	// Set for KindAPI only.
	Tool   *model.ApiTool
	Config *ToolConfig
}

// FromApiTools parses tool_config for each tool. A tool whose config does not
// parse is skipped and reported in the returned error list, so one broken
// definition never hides the rest of the bot's tools.
func FromApiTools(list []model.ApiTool) ([]Definition, []error) {
	defs := make([]Definition, 0, len(list))
	var errs []error
	for i := range list {
		t := &list[i]
		cfg, err := ParseToolConfig(t.ToolConfig)
		if err != nil {
			errs = append(errs, fmt.Errorf("tool %q (id %d): %w", t.Name, t.ID, err))
			continue
		}
		defs = append(defs, Definition{
			Name:        t.Name,
			Description: t.Description,
			Schema:      cfg.InputSchema,
			Strict:      cfg.Strict,
			Kind:        KindAPI,
			Tool:        t,
			Config:      cfg,
		})
	}
	return defs, errs
}

// Set is an ordered, name-keyed tool table.
type Set struct {
	order []Definition
	index map[string]int
}

// Merge combines sources in priority order. The first registration of a name wins.
func Merge(sources ...[]Definition) *Set {
	s := &Set{index: make(map[string]int)}
	for _, src := range sources {
		for _, def := range src {
			if _, exists := s.index[def.Name]; exists {
				continue
			}
			s.index[def.Name] = len(s.order)
			s.order = append(s.order, def)
		}
	}
	return s
}

// Get returns the definition registered under name.
func (s *Set) Get(name string) (Definition, bool) {
	if s == nil {
		return Definition{}, false
	}
	i, ok := s.index[name]
	if !ok {
		return Definition{}, false
	}
	return s.order[i], true
}

// Len returns the number of tools.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.order)
}

// Definitions returns the tools in registration order.
func (s *Set) Definitions() []Definition {
	if s == nil {
		return nil
	}
	out := make([]Definition, len(s.order))
	copy(out, s.order)
	return out
}

// AnthropicTool is the Anthropic tool schema.
type AnthropicTool struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	InputSchema InputSchema `json:"input_schema"`
}

// OpenAITool is the OpenAI function tool schema.
type OpenAITool struct {
	Type        string      `json:"type"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Parameters  InputSchema `json:"parameters"`
	Strict      bool        `json:"strict"`
}

// GeminiFunctionDeclaration is one Gemini function declaration.
type GeminiFunctionDeclaration struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Parameters  InputSchema `json:"parameters"`
}

// GeminiTools groups every declaration into the single tools entry Gemini expects.
type GeminiTools struct {
	FunctionDeclarations []GeminiFunctionDeclaration `json:"functionDeclarations"`
}

// Manifest is a tool table serialized for one provider.
type Manifest struct {
	Provider  model.Provider
	Anthropic []AnthropicTool
	OpenAI    []OpenAITool
	Gemini    []GeminiTools
}

// Len returns the number of tools in the manifest.
func (m Manifest) Len() int {
	switch m.Provider {
	case model.ProviderAnthropic:
		return len(m.Anthropic)
	case model.ProviderOpenAI:
		return len(m.OpenAI)
	case model.ProviderGemini:
		if len(m.Gemini) == 0 {
			return 0
		}
		return len(m.Gemini[0].FunctionDeclarations)
	}
	return 0
}

// MarshalJSON emits the provider-native tools array.
func (m Manifest) MarshalJSON() ([]byte, error) {
	switch m.Provider {
	case model.ProviderAnthropic:
		return json.Marshal(nonNil(m.Anthropic))
	case model.ProviderOpenAI:
		return json.Marshal(nonNil(m.OpenAI))
	case model.ProviderGemini:
		return json.Marshal(nonNil(m.Gemini))
	}
	return nil, fmt.Errorf("unsupported provider %q", m.Provider)
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// Serialize renders the set in the given provider's schema.
func (s *Set) Serialize(provider model.Provider) (Manifest, error) {
	m := Manifest{Provider: provider}
	defs := s.Definitions()

	switch provider {
	case model.ProviderAnthropic:
		for _, d := range defs {
			m.Anthropic = append(m.Anthropic, AnthropicTool{
				Name:        d.Name,
				Description: d.Description,
				InputSchema: d.Schema,
			})
		}
	case model.ProviderOpenAI:
		for _, d := range defs {
			params := d.Schema
			if d.Strict {
				closed := false
				params.AdditionalProperties = &closed
			}
			m.OpenAI = append(m.OpenAI, OpenAITool{
				Type:        "function",
				Name:        d.Name,
				Description: d.Description,
				Parameters:  params,
				Strict:      d.Strict,
			})
		}
	case model.ProviderGemini:
		if len(defs) == 0 {
			return m, nil
		}
		decls := make([]GeminiFunctionDeclaration, 0, len(defs))
		for _, d := range defs {
			decls = append(decls, GeminiFunctionDeclaration{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  d.Schema,
			})
		}
		m.Gemini = []GeminiTools{{FunctionDeclarations: decls}}
	default:
		return m, fmt.Errorf("unsupported provider %q", provider)
	}

	return m, nil
}
