package tools

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// ErrPathNotFound is returned when a dotted path does not resolve.
var ErrPathNotFound = errors.New("path not found")

// Lookup walks doc along a dotted path such as "data.items.0.status".
// Object keys are matched exactly; numeric segments index into arrays.
func Lookup(doc any, path string) (any, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: empty path", ErrPathNotFound)
	}
	return lookup(doc, strings.Split(path, "."), path)
}

func lookup(node any, segments []string, path string) (any, error) {
	if len(segments) == 0 {
		return node, nil
	}
	head, rest := segments[0], segments[1:]

	switch v := node.(type) {
	case map[string]any:
		child, ok := v[head]
		if !ok {
			return nil, fmt.Errorf("%w: %q missing at %q", ErrPathNotFound, path, head)
		}
		return lookup(child, rest, path)
	case []any:
		idx, err := strconv.Atoi(head)
		if err != nil || idx < 0 || idx >= len(v) {
			return nil, fmt.Errorf("%w: %q has no index %q", ErrPathNotFound, path, head)
		}
		return lookup(v[idx], rest, path)
	default:
		return nil, fmt.Errorf("%w: %q cannot descend into %T at %q", ErrPathNotFound, path, node, head)
	}
}

// LookupJSON decodes body and resolves path in it.
func LookupJSON(body []byte, path string) (any, error) {
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("%w: body is not JSON", ErrPathNotFound)
	}
	return Lookup(doc, path)
}

// LooseEqual compares a decoded JSON value with a configured expected value.
// Values of different JSON types are compared by their textual form, so a
// configured "0" matches a numeric 0 and "false" matches false.
func LooseEqual(actual, expected any) bool {
	if reflect.DeepEqual(actual, expected) {
		return true
	}
	return textual(actual) == textual(expected)
}

func textual(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
}
