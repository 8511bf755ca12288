// Package telegram executes allow-listed messaging actions against the Telegram Bot API.
package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// DefaultEndpoint is the Bot API URL template (token, method).
const DefaultEndpoint = tgbotapi.APIEndpoint

// Caller invokes one Bot API method.
type Caller interface {
	Call(ctx context.Context, method string, params tgbotapi.Params) (json.RawMessage, error)
}

// Client is a context-aware Bot API client for one bot token.
type Client struct {
	bot        *tgbotapi.BotAPI
	httpClient *http.Client
}

// NewClient creates a client without contacting Telegram. tgbotapi.NewBotAPI
// would call getMe on construction.
func NewClient(token, endpoint string, httpClient *http.Client) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	bot := &tgbotapi.BotAPI{
		Token:  token,
		Client: httpClient,
		Buffer: 100,
	}
	bot.SetAPIEndpoint(endpoint)
	return &Client{bot: bot, httpClient: httpClient}
}

// Call sends one method call and returns the raw result field.
func (c *Client) Call(ctx context.Context, method string, params tgbotapi.Params) (json.RawMessage, error) {
	bot := *c.bot
	bot.Client = contextClient{ctx: ctx, next: c.httpClient}

	resp, err := bot.MakeRequest(method, params)
	if err != nil {
		var apiErr *tgbotapi.Error
		if errors.As(err, &apiErr) {
			return nil, fmt.Errorf("telegram error %d: %s", apiErr.Code, apiErr.Message)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}
	return resp.Result, nil
}

// contextClient binds requests built by tgbotapi, which carry no context, to ctx.
type contextClient struct {
	ctx  context.Context
	next *http.Client
}

func (c contextClient) Do(req *http.Request) (*http.Response, error) {
	return c.next.Do(req.WithContext(c.ctx))
}
