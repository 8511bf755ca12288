package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/toolbot/internal/middleware"
	"github.com/capitalize-ai/toolbot/internal/model"
	"github.com/capitalize-ai/toolbot/internal/service"
	"github.com/capitalize-ai/toolbot/internal/store"
	"github.com/capitalize-ai/toolbot/pkg/logger"
)

const testSecret = "test-secret"

type fakeUpdates struct {
	inbound []service.Inbound
	outcome string
	err     error
}

func (f *fakeUpdates) Handle(_ context.Context, in service.Inbound) (string, error) {
	f.inbound = append(f.inbound, in)
	return f.outcome, f.err
}

type fakeEvents struct {
	botID, chatID uint
	after         uint64
	limit         int
	err           error
}

func (f *fakeEvents) GetEvents(_ context.Context, botID, chatID uint, after uint64, limit int) ([]model.AuditEvent, uint64, bool, error) {
	f.botID, f.chatID, f.after, f.limit = botID, chatID, after, limit
	if f.err != nil {
		return nil, 0, false, f.err
	}
	return []model.AuditEvent{{ID: "e1", Type: model.EventToolCallDone}}, after + 1, false, nil
}

type fakeConn bool

func (c fakeConn) IsConnected() bool { return bool(c) }

type testServer struct {
	handler http.Handler
	store   *store.Store
	updates *fakeUpdates
	events  *fakeEvents
}

func newTestServer(t *testing.T, events EventSource, nats Connection) *testServer {
	t.Helper()
	db, err := store.Open("sqlite", fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()))
	require.NoError(t, err)
	st := store.New(db)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { _ = st.Close() })

	log := logger.NewNop()
	ts := &testServer{store: st, updates: &fakeUpdates{outcome: service.OutcomeAnswered}}
	if fe, ok := events.(*fakeEvents); ok {
		ts.events = fe
	}
	conv := NewConversationHandler(st, log)
	ts.handler = NewRouter(RouterConfig{
		Health:              NewHealthHandler(st, nats),
		Webhook:             NewWebhookHandler(ts.updates, log),
		Conversation:        conv,
		Events:              NewEventHandler(conv, events),
		JWTSecret:           testSecret,
		RateLimitRequests:   100,
		RateLimitWindow:     time.Minute,
		WebhookRateRequests: 100,
		WebhookRateWindow:   time.Minute,
		Logger:              log,
	})
	return ts
}

func token(t *testing.T, scopes ...string) string {
	t.Helper()
	claims := middleware.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "operator",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Scopes: scopes,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func (ts *testServer) get(t *testing.T, path, bearer string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthAndReady(t *testing.T) {
	ts := newTestServer(t, nil, nil)

	rec := ts.get(t, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.get(t, "/ready", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ready")
}

func TestReadyReportsNATS(t *testing.T) {
	ts := newTestServer(t, nil, fakeConn(false))

	rec := ts.get(t, "/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "NATS")
}

func TestWebhookForwardsUpdate(t *testing.T) {
	ts := newTestServer(t, nil, nil)
	req := httptest.NewRequest(http.MethodPost, "/webhook/7", strings.NewReader(`{"update_id":1}`))
	req.Header.Set(SecretHeader, "s3cret")
	rec := httptest.NewRecorder()

	ts.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"answered"}`, rec.Body.String())
	require.Len(t, ts.updates.inbound, 1)
	assert.Equal(t, uint(7), ts.updates.inbound[0].BotID)
	assert.Equal(t, "s3cret", ts.updates.inbound[0].Secret)
	assert.Equal(t, `{"update_id":1}`, string(ts.updates.inbound[0].Payload))
	assert.NotEmpty(t, rec.Header().Get("X-Correlation-ID"))
}

func TestWebhookErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{service.ErrBotNotFound, http.StatusNotFound},
		{service.ErrInvalidSecret, http.StatusUnauthorized},
		{fmt.Errorf("%w: bad", service.ErrInvalidUpdate), http.StatusBadRequest},
		{errors.New("database down"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.err.Error(), func(t *testing.T) {
			ts := newTestServer(t, nil, nil)
			ts.updates.err = tc.err
			rec := httptest.NewRecorder()
			ts.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhook/1", strings.NewReader(`{}`)))
			assert.Equal(t, tc.code, rec.Code)
		})
	}
}

func TestWebhookRejectsBadBotID(t *testing.T) {
	ts := newTestServer(t, nil, nil)
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhook/abc", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, ts.updates.inbound)
}

func TestAuditAPIRequiresTokenAndScope(t *testing.T) {
	ts := newTestServer(t, nil, nil)

	assert.Equal(t, http.StatusUnauthorized, ts.get(t, "/api/v1/chats", "").Code)
	assert.Equal(t, http.StatusUnauthorized, ts.get(t, "/api/v1/chats", "garbage").Code)
	assert.Equal(t, http.StatusForbidden, ts.get(t, "/api/v1/chats", token(t, "other")).Code)
	assert.Equal(t, http.StatusOK, ts.get(t, "/api/v1/chats", token(t, middleware.ScopeAuditRead)).Code)
}

func TestAuditListings(t *testing.T) {
	ts := newTestServer(t, nil, nil)
	ctx := context.Background()
	tok := token(t, middleware.ScopeAuditRead)

	chat, err := ts.store.FindOrCreateChat(ctx, 3, 777)
	require.NoError(t, err)
	require.NoError(t, ts.store.CreateMessage(ctx, &model.Message{ChatID: chat.ID, Role: model.RoleUser, Text: "hi"}))
	require.NoError(t, ts.store.CreateToolCall(ctx, &model.ToolCall{ChatID: chat.ID, MessageID: 1, CallID: "c1", Name: "Current Weather"}))
	require.NoError(t, ts.store.CreateTelegramLog(ctx, &model.TelegramLog{ChatID: chat.ID, Action: "sendTextMessage", Success: true}))
	require.NoError(t, ts.store.CreateApiLog(ctx, &model.ApiLog{ApiID: 5, ApiToolID: 1, HTTPStatus: 200, Success: true}))

	var chats model.ListResponse[model.Chat]
	rec := ts.get(t, "/api/v1/chats?bot_id=3", tok)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &chats))
	assert.Equal(t, 1, chats.Total)

	for _, path := range []string{"messages", "tool-calls", "actions"} {
		rec := ts.get(t, fmt.Sprintf("/api/v1/chats/%d/%s", chat.ID, path), tok)
		require.Equal(t, http.StatusOK, rec.Code, path)
		var page struct {
			Total int `json:"total"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
		assert.Equal(t, 1, page.Total, path)
	}

	var logs model.ListResponse[model.ApiLog]
	rec = ts.get(t, "/api/v1/apis/5/logs?limit=10", tok)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &logs))
	require.Len(t, logs.Items, 1)
	assert.Equal(t, 200, logs.Items[0].HTTPStatus)
}

func TestAuditRejectsBadInput(t *testing.T) {
	ts := newTestServer(t, nil, nil)
	tok := token(t, middleware.ScopeAuditRead)

	assert.Equal(t, http.StatusBadRequest, ts.get(t, "/api/v1/chats/zero/messages", tok).Code)
	assert.Equal(t, http.StatusNotFound, ts.get(t, "/api/v1/chats/42/messages", tok).Code)
	assert.Equal(t, http.StatusBadRequest, ts.get(t, "/api/v1/chats?limit=1000", tok).Code)
	assert.Equal(t, http.StatusBadRequest, ts.get(t, "/api/v1/chats?bot_id=-1", tok).Code)
}

func TestEventReplay(t *testing.T) {
	events := &fakeEvents{}
	ts := newTestServer(t, events, nil)
	tok := token(t, middleware.ScopeAuditRead)
	chat, err := ts.store.FindOrCreateChat(context.Background(), 3, 777)
	require.NoError(t, err)

	rec := ts.get(t, fmt.Sprintf("/api/v1/chats/%d/events?after=4&limit=10", chat.ID), tok)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp EventsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Events, 1)
	assert.Equal(t, uint64(5), resp.LastSequence)
	assert.Equal(t, uint(3), events.botID)
	assert.Equal(t, chat.ID, events.chatID)
	assert.Equal(t, uint64(4), events.after)
	assert.Equal(t, 10, events.limit)

	events.err = errors.New("stream gone")
	assert.Equal(t, http.StatusBadGateway, ts.get(t, fmt.Sprintf("/api/v1/chats/%d/events", chat.ID), tok).Code)
	assert.Equal(t, http.StatusBadRequest, ts.get(t, fmt.Sprintf("/api/v1/chats/%d/events?limit=0", chat.ID), tok).Code)
}

func TestEventReplayWithoutStream(t *testing.T) {
	ts := newTestServer(t, nil, nil)
	rec := ts.get(t, "/api/v1/chats/1/events", token(t, middleware.ScopeAuditRead))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
