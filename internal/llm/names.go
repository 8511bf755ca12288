package llm

import (
	"fmt"
	"strings"
)

const maxToolNameLength = 64

// nameMap translates display tool names ("Current Weather") to wire-safe
// identifiers ("Current_Weather") and back. Vendors only accept [A-Za-z0-9_-].
type nameMap struct {
	toWire   map[string]string
	fromWire map[string]string
}

func newNameMap(names []string) *nameMap {
	m := &nameMap{
		toWire:   make(map[string]string, len(names)),
		fromWire: make(map[string]string, len(names)),
	}
	for _, n := range names {
		m.add(n)
	}
	return m
}

func (m *nameMap) add(name string) string {
	if w, ok := m.toWire[name]; ok {
		return w
	}
	base := sanitizeToolName(name)
	wire := base
	for i := 2; ; i++ {
		if _, taken := m.fromWire[wire]; !taken {
			break
		}
		suffix := fmt.Sprintf("_%d", i)
		trimmed := base
		if len(trimmed)+len(suffix) > maxToolNameLength {
			trimmed = trimmed[:maxToolNameLength-len(suffix)]
		}
		wire = trimmed + suffix
	}
	m.toWire[name] = wire
	m.fromWire[wire] = name
	return wire
}

// wire returns the wire name, registering unseen names from history.
func (m *nameMap) wire(name string) string {
	return m.add(name)
}

// original maps a wire name from a response back to the display name.
func (m *nameMap) original(wire string) string {
	if n, ok := m.fromWire[wire]; ok {
		return n
	}
	return wire
}

func sanitizeToolName(name string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	out := b.String()
	if out == "" {
		out = "tool"
	}
	if len(out) > maxToolNameLength {
		out = out[:maxToolNameLength]
	}
	return out
}
