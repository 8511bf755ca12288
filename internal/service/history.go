package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/capitalize-ai/toolbot/internal/llm"
	"github.com/capitalize-ai/toolbot/internal/model"
)

// incompleteResult is fed back for calls that never reached a terminal state,
// e.g. after a crash between creating and finishing the row.
const incompleteResult = "tool call did not complete"

// HistoryReader loads the persisted records a history window is rebuilt from.
type HistoryReader interface {
	RecentMessages(ctx context.Context, chatID uint, n int) ([]model.Message, error)
	ToolResultsFor(ctx context.Context, messageIDs []uint) ([]model.ToolCall, []model.TelegramLog, error)
}

// pairedResult is one tool request of an assistant turn together with its outcome.
type pairedResult struct {
	position int
	use      llm.ToolUse
	result   llm.ToolResult
}

// BuildHistory rebuilds the last n turns of a chat, oldest first. Each
// assistant turn carries its tool requests paired with their results in the
// order the provider listed them.
func BuildHistory(ctx context.Context, r HistoryReader, chatID uint, n int) ([]llm.Turn, error) {
	msgs, err := r.RecentMessages(ctx, chatID, n)
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}

	ids := make([]uint, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == model.RoleAssistant {
			ids = append(ids, m.ID)
		}
	}
	calls, actions, err := r.ToolResultsFor(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load tool results: %w", err)
	}

	byMessage := make(map[uint][]pairedResult)
	for _, c := range calls {
		byMessage[c.MessageID] = append(byMessage[c.MessageID], pairToolCall(c))
	}
	for _, a := range actions {
		if a.MessageID == nil {
			continue
		}
		byMessage[*a.MessageID] = append(byMessage[*a.MessageID], pairAction(a))
	}

	turns := make([]llm.Turn, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case model.RoleUser:
			turns = append(turns, llm.Turn{Role: model.RoleUser, Text: m.Text})
		case model.RoleAssistant:
			if m.StopReason != nil && *m.StopReason == model.StopProviderError {
				continue
			}
			paired := byMessage[m.ID]
			if m.Text == "" && len(paired) == 0 {
				continue
			}
			sort.SliceStable(paired, func(i, j int) bool { return paired[i].position < paired[j].position })
			turn := llm.Turn{Role: model.RoleAssistant, Text: m.Text}
			for _, p := range paired {
				turn.ToolUses = append(turn.ToolUses, p.use)
				turn.Results = append(turn.Results, p.result)
			}
			turns = append(turns, turn)
		}
	}
	return turns, nil
}

func pairToolCall(c model.ToolCall) pairedResult {
	p := pairedResult{
		position: c.Position,
		use:      llm.ToolUse{ID: c.CallID, Name: c.Name, Input: decodeObject(c.Input)},
		result:   llm.ToolResult{CallID: c.CallID, Name: c.Name},
	}
	switch c.Status {
	case model.ToolCallCompleted:
		p.result.Output = decodeAny(c.Output)
	case model.ToolCallError:
		p.result.Output = decodeAny(c.Output)
		p.result.IsError = true
	default:
		p.result.Output = map[string]any{"error": incompleteResult}
		p.result.IsError = true
	}
	return p
}

func pairAction(a model.TelegramLog) pairedResult {
	p := pairedResult{
		position: a.Position,
		use:      llm.ToolUse{ID: a.CallID, Name: a.Action, Input: decodeObject(a.Parameters)},
		result:   llm.ToolResult{CallID: a.CallID, Name: a.Action},
	}
	if a.Success {
		p.result.Output = decodeAny(a.Response)
	} else {
		p.result.Output = map[string]any{"error": a.Error}
		p.result.IsError = true
	}
	return p
}

func decodeObject(raw []byte) map[string]any {
	out := map[string]any{}
	if len(raw) == 0 {
		return out
	}
	if err := json.Unmarshal(raw, &out); err != nil || out == nil {
		return map[string]any{}
	}
	return out
}

func decodeAny(raw []byte) any {
	if len(raw) == 0 {
		return map[string]any{}
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return string(raw)
	}
	if out == nil {
		return map[string]any{}
	}
	return out
}

func encodeJSON(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		data, _ = json.Marshal(map[string]any{"error": err.Error()})
	}
	return data
}
