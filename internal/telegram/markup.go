package telegram

import (
	"encoding/json"
	"errors"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// ErrAmbiguousMarkup is returned when a markup description carries more than one shape.
var ErrAmbiguousMarkup = errors.New("reply_markup must describe exactly one of inline_keyboard, keyboard, remove_keyboard or force_reply")

type markupButton struct {
	Text            string  `json:"text"`
	URL             *string `json:"url,omitempty"`
	CallbackData    *string `json:"callback_data,omitempty"`
	RequestContact  bool    `json:"request_contact,omitempty"`
	RequestLocation bool    `json:"request_location,omitempty"`
}

type markupInput struct {
	InlineKeyboard        [][]markupButton `json:"inline_keyboard"`
	Keyboard              [][]markupButton `json:"keyboard"`
	ResizeKeyboard        bool             `json:"resize_keyboard"`
	OneTimeKeyboard       bool             `json:"one_time_keyboard"`
	RemoveKeyboard        bool             `json:"remove_keyboard"`
	ForceReply            bool             `json:"force_reply"`
	InputFieldPlaceholder string           `json:"input_field_placeholder"`
	Selective             bool             `json:"selective"`
}

// normalizeMarkup translates a model-supplied markup description into the
// concrete Bot API structure. The bool result is false when no known shape
// is present, in which case the caller forwards the value unchanged.
func normalizeMarkup(raw any) (any, bool, error) {
	var data []byte
	switch v := raw.(type) {
	case nil:
		return nil, false, nil
	case string:
		data = []byte(v)
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return nil, false, fmt.Errorf("invalid reply_markup: %w", err)
		}
		data = encoded
	}

	var in markupInput
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, false, nil
	}

	shapes := 0
	for _, present := range []bool{
		len(in.InlineKeyboard) > 0,
		len(in.Keyboard) > 0,
		in.RemoveKeyboard,
		in.ForceReply,
	} {
		if present {
			shapes++
		}
	}
	switch {
	case shapes == 0:
		return nil, false, nil
	case shapes > 1:
		return nil, false, ErrAmbiguousMarkup
	}

	switch {
	case len(in.InlineKeyboard) > 0:
		rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(in.InlineKeyboard))
		for _, row := range in.InlineKeyboard {
			buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
			for _, b := range row {
				if b.URL == nil && b.CallbackData == nil {
					data := b.Text
					b.CallbackData = &data
				}
				buttons = append(buttons, tgbotapi.InlineKeyboardButton{
					Text:         b.Text,
					URL:          b.URL,
					CallbackData: b.CallbackData,
				})
			}
			rows = append(rows, buttons)
		}
		return tgbotapi.InlineKeyboardMarkup{InlineKeyboard: rows}, true, nil

	case len(in.Keyboard) > 0:
		rows := make([][]tgbotapi.KeyboardButton, 0, len(in.Keyboard))
		for _, row := range in.Keyboard {
			buttons := make([]tgbotapi.KeyboardButton, 0, len(row))
			for _, b := range row {
				buttons = append(buttons, tgbotapi.KeyboardButton{
					Text:            b.Text,
					RequestContact:  b.RequestContact,
					RequestLocation: b.RequestLocation,
				})
			}
			rows = append(rows, buttons)
		}
		return tgbotapi.ReplyKeyboardMarkup{
			Keyboard:              rows,
			ResizeKeyboard:        in.ResizeKeyboard,
			OneTimeKeyboard:       in.OneTimeKeyboard,
			InputFieldPlaceholder: in.InputFieldPlaceholder,
			Selective:             in.Selective,
		}, true, nil

	case in.RemoveKeyboard:
		return tgbotapi.ReplyKeyboardRemove{RemoveKeyboard: true, Selective: in.Selective}, true, nil

	default:
		return tgbotapi.ForceReply{
			ForceReply:            true,
			InputFieldPlaceholder: in.InputFieldPlaceholder,
			Selective:             in.Selective,
		}, true, nil
	}
}
