package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/capitalize-ai/toolbot/internal/model"
	"github.com/capitalize-ai/toolbot/internal/tools"
)

var (
	// ErrUnsupportedMethod marks a tool whose HTTP method cannot be dispatched.
	ErrUnsupportedMethod = errors.New("unsupported HTTP method")
	// ErrUnsupportedAuth marks an Api with an unknown auth_type.
	ErrUnsupportedAuth = errors.New("unsupported auth type")
	// ErrUnresolvedPlaceholder marks a path placeholder with no input value.
	ErrUnresolvedPlaceholder = errors.New("unresolved path placeholder")
)

var placeholderPattern = regexp.MustCompile(`\{([^{}/]+)\}`)

var supportedMethods = map[string]bool{
	http.MethodGet:    true,
	http.MethodPost:   true,
	http.MethodPut:    true,
	http.MethodPatch:  true,
	http.MethodDelete: true,
}

// normalizeMethod upper-cases and validates the declared method.
func normalizeMethod(method string) (string, error) {
	m := strings.ToUpper(strings.TrimSpace(method))
	if !supportedMethods[m] {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedMethod, method)
	}
	return m, nil
}

// buildURL joins base URL and tool path and substitutes mapped path placeholders.
func buildURL(api *model.Api, tool *model.ApiTool, mapping tools.Mapping, input map[string]any) (*url.URL, error) {
	base := strings.Trim(strings.TrimSpace(api.URL), "/")
	path := strings.Trim(strings.TrimSpace(tool.Path), "/")

	for placeholder, field := range mapping.Path {
		value, ok := input[field]
		if !ok {
			continue
		}
		path = strings.ReplaceAll(path, "{"+placeholder+"}", url.PathEscape(stringify(value)))
	}
	if m := placeholderPattern.FindStringSubmatch(path); m != nil {
		return nil, fmt.Errorf("%w: {%s}", ErrUnresolvedPlaceholder, m[1])
	}

	full := base
	if path != "" {
		full = base + "/" + path
	}
	u, err := url.Parse(full)
	if err != nil {
		return nil, fmt.Errorf("invalid tool URL %q: %w", full, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid tool URL %q: missing scheme or host", full)
	}
	return u, nil
}

// buildQuery collects mapped query parameters, skipping input keys the caller did not supply.
func buildQuery(u *url.URL, mapping tools.Mapping, input map[string]any) url.Values {
	q := u.Query()
	for param, field := range mapping.Query {
		value, ok := input[field]
		if !ok {
			continue
		}
		if list, isList := value.([]any); isList {
			for _, item := range list {
				q.Add(param, stringify(item))
			}
			continue
		}
		q.Set(param, stringify(value))
	}
	return q
}

// buildBody collects mapped body fields, skipping input keys the caller did not supply.
func buildBody(mapping tools.Mapping, input map[string]any) map[string]any {
	body := make(map[string]any, len(mapping.Body))
	for field, key := range mapping.Body {
		if value, ok := input[key]; ok {
			body[field] = value
		}
	}
	return body
}

func encodeBody(contentType string, body map[string]any) (io.Reader, string, error) {
	if strings.EqualFold(contentType, "form") {
		form := url.Values{}
		for k, v := range body {
			form.Set(k, stringify(v))
		}
		return strings.NewReader(form.Encode()), "application/x-www-form-urlencoded", nil
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, "", fmt.Errorf("failed to encode body: %w", err)
	}
	return bytes.NewReader(data), "application/json", nil
}

// applyQueryAuth adds query-param credentials. Other modes are header based.
func applyQueryAuth(api *model.Api, q url.Values) error {
	switch api.AuthType {
	case model.AuthQueryParam:
		if api.AuthKey == "" {
			return fmt.Errorf("%w: query_param auth requires auth_key", ErrUnsupportedAuth)
		}
		q.Set(api.AuthKey, api.AuthValue)
	case "", model.AuthNone, model.AuthBasic, model.AuthBearer, model.AuthHeader:
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedAuth, api.AuthType)
	}
	return nil
}

func applyHeaderAuth(api *model.Api, req *http.Request) error {
	switch api.AuthType {
	case model.AuthBasic:
		req.SetBasicAuth(api.AuthUsername, api.AuthPassword)
	case model.AuthBearer:
		req.Header.Set("Authorization", "Bearer "+api.AuthToken)
	case model.AuthHeader:
		if api.AuthKey == "" {
			return fmt.Errorf("%w: header auth requires auth_key", ErrUnsupportedAuth)
		}
		req.Header.Set(api.AuthKey, api.AuthValue)
	}
	return nil
}

// buildRequest assembles the outbound request for one tool invocation.
func buildRequest(ctx context.Context, api *model.Api, tool *model.ApiTool, cfg *tools.ToolConfig, input map[string]any) (*http.Request, error) {
	method, err := normalizeMethod(tool.Method)
	if err != nil {
		return nil, err
	}

	u, err := buildURL(api, tool, cfg.Mapping, input)
	if err != nil {
		return nil, err
	}

	q := buildQuery(u, cfg.Mapping, input)
	if err := applyQueryAuth(api, q); err != nil {
		return nil, err
	}
	u.RawQuery = q.Encode()

	var body io.Reader
	var contentType string
	if method != http.MethodGet {
		if fields := buildBody(cfg.Mapping, input); len(fields) > 0 {
			body, contentType, err = encodeBody(api.ContentType, fields)
			if err != nil {
				return nil, err
			}
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	if err := applyHeaderAuth(api, req); err != nil {
		return nil, err
	}
	for k, v := range parseHeaders(api.Headers) {
		req.Header.Set(k, v)
	}
	for k, v := range parseHeaders(tool.Headers) {
		req.Header.Set(k, v)
	}

	return req, nil
}

// parseHeaders reads a JSON object of headers. Anything else yields no headers.
func parseHeaders(raw []byte) map[string]string {
	if len(raw) == 0 {
		return nil
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil
	}
	out := make(map[string]string, len(decoded))
	for k, v := range decoded {
		out[k] = stringify(v)
	}
	return out
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	case json.Number:
		return t.String()
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
}
