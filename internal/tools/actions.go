package tools

import (
	"errors"
)

// ErrUnknownAction is returned for names outside the messaging-action allow-list.
var ErrUnknownAction = errors.New("unknown messaging action")

// Action is one allow-listed outbound messaging action.
type Action struct {
	Name        string
	Method      string
	Description string
	Schema      InputSchema
}

func prop(typ, description string) map[string]any {
	return map[string]any{"type": typ, "description": description}
}

var replyMarkupSchema = map[string]any{
	"type":        "object",
	"description": "Optional keyboard. Provide exactly one of inline_keyboard, keyboard, remove_keyboard or force_reply.",
	"properties": map[string]any{
		"inline_keyboard": map[string]any{
			"type":        "array",
			"description": "Rows of inline buttons, each {text, url} or {text, callback_data}.",
			"items": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"text":          prop("string", "Button label"),
						"url":           prop("string", "URL opened by the button"),
						"callback_data": prop("string", "Data sent back when pressed"),
					},
					"required": []string{"text"},
				},
			},
		},
		"keyboard": map[string]any{
			"type":        "array",
			"description": "Rows of reply keyboard buttons, each {text}.",
			"items": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"text": prop("string", "Button label"),
					},
					"required": []string{"text"},
				},
			},
		},
		"resize_keyboard":         prop("boolean", "Shrink the reply keyboard to fit"),
		"one_time_keyboard":       prop("boolean", "Hide the reply keyboard after one use"),
		"remove_keyboard":         prop("boolean", "Remove the current reply keyboard"),
		"force_reply":             prop("boolean", "Ask the user to reply to this message"),
		"input_field_placeholder": prop("string", "Placeholder shown with force_reply"),
		"selective":               prop("boolean", "Target only mentioned users"),
	},
}

// actions is the closed allow-list. Order is the order they appear in manifests.
var actions = []Action{
	{
		Name:        "sendTextMessage",
		Method:      "sendMessage",
		Description: "Send a text message to the current chat.",
		Schema: InputSchema{
			Properties: map[string]any{
				"text":         prop("string", "Message text"),
				"parse_mode":   map[string]any{"type": "string", "enum": []string{"HTML", "MarkdownV2"}},
				"reply_markup": replyMarkupSchema,
			},
			Required: []string{"text"},
		},
	},
	{
		Name:        "sendPhotoMessage",
		Method:      "sendPhoto",
		Description: "Send a photo by URL to the current chat.",
		Schema: InputSchema{
			Properties: map[string]any{
				"photo":        prop("string", "HTTP URL of the photo"),
				"caption":      prop("string", "Photo caption"),
				"reply_markup": replyMarkupSchema,
			},
			Required: []string{"photo"},
		},
	},
	{
		Name:        "sendDocumentMessage",
		Method:      "sendDocument",
		Description: "Send a document by URL to the current chat.",
		Schema: InputSchema{
			Properties: map[string]any{
				"document": prop("string", "HTTP URL of the document"),
				"caption":  prop("string", "Document caption"),
			},
			Required: []string{"document"},
		},
	},
	{
		Name:        "sendPollMessage",
		Method:      "sendPoll",
		Description: "Send a poll to the current chat.",
		Schema: InputSchema{
			Properties: map[string]any{
				"question": prop("string", "Poll question"),
				"options": map[string]any{
					"type":        "array",
					"description": "Answer options, 2-10 items",
					"items":       map[string]any{"type": "string"},
				},
				"is_anonymous":            prop("boolean", "Whether votes are anonymous"),
				"allows_multiple_answers": prop("boolean", "Allow several answers"),
			},
			Required: []string{"question", "options"},
		},
	},
	{
		Name:        "sendLocationMessage",
		Method:      "sendLocation",
		Description: "Send a map location to the current chat.",
		Schema: InputSchema{
			Properties: map[string]any{
				"latitude":  prop("number", "Latitude"),
				"longitude": prop("number", "Longitude"),
			},
			Required: []string{"latitude", "longitude"},
		},
	},
	{
		Name:        "sendVenueMessage",
		Method:      "sendVenue",
		Description: "Send a venue with address to the current chat.",
		Schema: InputSchema{
			Properties: map[string]any{
				"latitude":  prop("number", "Latitude"),
				"longitude": prop("number", "Longitude"),
				"title":     prop("string", "Venue name"),
				"address":   prop("string", "Venue address"),
			},
			Required: []string{"latitude", "longitude", "title", "address"},
		},
	},
	{
		Name:        "sendContactMessage",
		Method:      "sendContact",
		Description: "Send a phone contact to the current chat.",
		Schema: InputSchema{
			Properties: map[string]any{
				"phone_number": prop("string", "Phone number"),
				"first_name":   prop("string", "Contact first name"),
				"last_name":    prop("string", "Contact last name"),
			},
			Required: []string{"phone_number", "first_name"},
		},
	},
	{
		Name:        "sendDiceMessage",
		Method:      "sendDice",
		Description: "Send an animated dice to the current chat.",
		Schema: InputSchema{
			Properties: map[string]any{
				"emoji": map[string]any{"type": "string", "enum": []string{"🎲", "🎯", "🏀", "⚽", "🎳", "🎰"}},
			},
		},
	},
	{
		Name:        "sendChatAction",
		Method:      "sendChatAction",
		Description: "Show a status such as typing in the current chat.",
		Schema: InputSchema{
			Properties: map[string]any{
				"action": map[string]any{"type": "string", "enum": []string{"typing", "upload_photo", "upload_document", "find_location"}},
			},
			Required: []string{"action"},
		},
	},
}

var actionIndex = func() map[string]Action {
	idx := make(map[string]Action, len(actions))
	for _, a := range actions {
		idx[a.Name] = a
	}
	return idx
}()

// LookupAction resolves an allow-listed action by name.
func LookupAction(name string) (Action, error) {
	a, ok := actionIndex[name]
	if !ok {
		return Action{}, ErrUnknownAction
	}
	return a, nil
}

// IsAction reports whether name is an allow-listed messaging action.
func IsAction(name string) bool {
	_, ok := actionIndex[name]
	return ok
}

// Actions returns the allow-list in manifest order.
func Actions() []Action {
	out := make([]Action, len(actions))
	copy(out, actions)
	return out
}

// ActionDefinitions returns the allow-list as registry definitions.
func ActionDefinitions() []Definition {
	defs := make([]Definition, 0, len(actions))
	for _, a := range actions {
		defs = append(defs, Definition{
			Name:        a.Name,
			Description: a.Description,
			Schema:      a.Schema,
			Kind:        KindAction,
		})
	}
	return defs
}
