// Package tools aggregates tool definitions and serializes them into provider manifests.
package tools

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// ErrInvalidConfig wraps every tool_config problem found at load time.
var ErrInvalidConfig = errors.New("invalid tool config")

// StringMap is a name-to-name mapping that also accepts an empty JSON array,
// which is how some admin frontends persist an empty mapping.
type StringMap map[string]string

// UnmarshalJSON implements json.Unmarshaler.
func (m *StringMap) UnmarshalJSON(data []byte) error {
	if isEmptyArray(data) || bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*m = StringMap{}
		return nil
	}
	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*m = raw
	return nil
}

// InputSchema is the JSON-schema-like parameter description shown to the model.
type InputSchema struct {
	Type                 string         `json:"type" validate:"omitempty,eq=object"`
	Properties           map[string]any `json:"properties"`
	Required             []string       `json:"required"`
	AdditionalProperties *bool          `json:"additionalProperties,omitempty"`
}

// UnmarshalJSON tolerates "properties": [] and a missing "required".
func (s *InputSchema) UnmarshalJSON(data []byte) error {
	var raw struct {
		Type                 string          `json:"type"`
		Properties           json.RawMessage `json:"properties"`
		Required             []string        `json:"required"`
		AdditionalProperties *bool           `json:"additionalProperties"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	s.Type = raw.Type
	s.Required = raw.Required
	s.AdditionalProperties = raw.AdditionalProperties
	s.Properties = map[string]any{}
	if len(raw.Properties) > 0 && !isEmptyArray(raw.Properties) && string(raw.Properties) != "null" {
		if err := json.Unmarshal(raw.Properties, &s.Properties); err != nil {
			return fmt.Errorf("properties: %w", err)
		}
	}
	return nil
}

// MarshalJSON always emits an object for properties and an array for required.
func (s InputSchema) MarshalJSON() ([]byte, error) {
	typ := s.Type
	if typ == "" {
		typ = "object"
	}
	props := s.Properties
	if props == nil {
		props = map[string]any{}
	}
	required := s.Required
	if required == nil {
		required = []string{}
	}
	return json.Marshal(struct {
		Type                 string         `json:"type"`
		Properties           map[string]any `json:"properties"`
		Required             []string       `json:"required"`
		AdditionalProperties *bool          `json:"additionalProperties,omitempty"`
	}{typ, props, required, s.AdditionalProperties})
}

// Mapping routes input fields into the outbound request. Keys are the request-side
// names (path placeholder, query key, body field); values are input field names.
type Mapping struct {
	Path  StringMap `json:"path"`
	Query StringMap `json:"query"`
	Body  StringMap `json:"body"`
}

// ErrorRule detects business-logic failures reported with a 2xx status.
type ErrorRule struct {
	Field   string `json:"field" validate:"required"`
	Value   any    `json:"value"`
	Message string `json:"message,omitempty"`
}

// ResponseTransform reshapes a successful response body before it is handed to the model.
type ResponseTransform struct {
	Path   string    `json:"path,omitempty"`
	Fields StringMap `json:"fields,omitempty"`
}

// ToolConfig is the parsed tool_config column of an ApiTool.
type ToolConfig struct {
	InputSchema InputSchema        `json:"inputSchema"`
	Mapping     Mapping            `json:"mapping"`
	Error       *ErrorRule         `json:"error,omitempty"`
	Response    *ResponseTransform `json:"response,omitempty"`
	Strict      bool               `json:"strict,omitempty"`
}

// ParseToolConfig decodes and validates a tool_config document.
func ParseToolConfig(data []byte) (*ToolConfig, error) {
	cfg := &ToolConfig{}
	if len(bytes.TrimSpace(data)) > 0 && !isEmptyArray(data) {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
	}
	if cfg.InputSchema.Properties == nil {
		cfg.InputSchema.Properties = map[string]any{}
	}
	if cfg.Mapping.Path == nil {
		cfg.Mapping.Path = StringMap{}
	}
	if cfg.Mapping.Query == nil {
		cfg.Mapping.Query = StringMap{}
	}
	if cfg.Mapping.Body == nil {
		cfg.Mapping.Body = StringMap{}
	}

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	for _, name := range cfg.InputSchema.Required {
		if _, ok := cfg.InputSchema.Properties[name]; !ok {
			return nil, fmt.Errorf("%w: required field %q is not a declared property", ErrInvalidConfig, name)
		}
	}
	if cfg.Response != nil && cfg.Response.Path != "" && len(cfg.Response.Fields) > 0 {
		return nil, fmt.Errorf("%w: response.path and response.fields are mutually exclusive", ErrInvalidConfig)
	}

	return cfg, nil
}

func isEmptyArray(data []byte) bool {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) < 2 || trimmed[0] != '[' || trimmed[len(trimmed)-1] != ']' {
		return false
	}
	return len(bytes.TrimSpace(trimmed[1:len(trimmed)-1])) == 0
}
