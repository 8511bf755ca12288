package executor

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/capitalize-ai/toolbot/internal/model"
	"github.com/capitalize-ai/toolbot/internal/tools"
	"github.com/capitalize-ai/toolbot/pkg/logger"
)

type memoryLogs struct {
	mu      sync.Mutex
	entries []model.ApiLog
}

func (m *memoryLogs) CreateApiLog(_ context.Context, entry *model.ApiLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, *entry)
	return nil
}

type captured struct {
	method string
	path   string
	query  map[string][]string
	header http.Header
	body   []byte
}

// newAPI starts a test server that records the last request and replies with status/body.
func newAPI(t *testing.T, status int, body string) (*httptest.Server, *captured, *int32) {
	t.Helper()
	last := &captured{}
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		data, _ := io.ReadAll(r.Body)
		*last = captured{
			method: r.Method,
			path:   r.URL.Path,
			query:  r.URL.Query(),
			header: r.Header.Clone(),
			body:   data,
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, last, &hits
}

func newCall(t *testing.T, api *model.Api, method, path, config string, input map[string]any) Call {
	t.Helper()
	cfg, err := tools.ParseToolConfig([]byte(config))
	require.NoError(t, err)
	api.Active = true
	return Call{
		Tool: &model.ApiTool{
			ID:     11,
			ApiID:  api.ID,
			Api:    api,
			Name:   "test tool",
			Method: method,
			Path:   path,
		},
		Config: cfg,
		Input:  input,
		UserID: 42,
	}
}

func newExecutor(logs LogWriter) *Executor {
	return New(http.DefaultClient, logs, 5*time.Second, logger.NewNop())
}

func TestExecuteQueryParamAuth(t *testing.T) {
	srv, last, _ := newAPI(t, http.StatusOK, `{"ok":true}`)
	api := &model.Api{ID: 1, URL: srv.URL, AuthType: model.AuthQueryParam, AuthKey: "apiKey", AuthValue: "X"}
	call := newCall(t, api, "GET", "/things", `{}`, map[string]any{})

	res := newExecutor(&memoryLogs{}).Execute(context.Background(), call)

	require.Equal(t, model.ToolCallCompleted, res.Status, res.Error)
	assert.Equal(t, []string{"X"}, last.query["apiKey"])
	assert.Empty(t, last.header.Get("Authorization"))
}

func TestExecuteBearerAuth(t *testing.T) {
	srv, last, _ := newAPI(t, http.StatusOK, `{"ok":true}`)
	api := &model.Api{ID: 1, URL: srv.URL, AuthType: model.AuthBearer, AuthToken: "T"}
	call := newCall(t, api, "GET", "/things", `{}`, map[string]any{})

	res := newExecutor(&memoryLogs{}).Execute(context.Background(), call)

	require.Equal(t, model.ToolCallCompleted, res.Status, res.Error)
	assert.Equal(t, "Bearer T", last.header.Get("Authorization"))
	assert.Empty(t, last.query)
}

func TestExecuteBasicAndHeaderAuth(t *testing.T) {
	srv, last, _ := newAPI(t, http.StatusOK, `{}`)

	basic := &model.Api{ID: 1, URL: srv.URL, AuthType: model.AuthBasic, AuthUsername: "u", AuthPassword: "p"}
	res := newExecutor(nil).Execute(context.Background(), newCall(t, basic, "GET", "/", `{}`, nil))
	require.Equal(t, model.ToolCallCompleted, res.Status, res.Error)
	user, pass, ok := (&http.Request{Header: last.header}).BasicAuth()
	require.True(t, ok)
	assert.Equal(t, "u", user)
	assert.Equal(t, "p", pass)

	header := &model.Api{ID: 2, URL: srv.URL, AuthType: model.AuthHeader, AuthKey: "X-Api-Key", AuthValue: "secret"}
	res = newExecutor(nil).Execute(context.Background(), newCall(t, header, "GET", "/", `{}`, nil))
	require.Equal(t, model.ToolCallCompleted, res.Status, res.Error)
	assert.Equal(t, "secret", last.header.Get("X-Api-Key"))
}

func TestBuildURLPathSubstitution(t *testing.T) {
	api := &model.Api{URL: "https://api.example.com"}
	tool := &model.ApiTool{Path: "/users/{username}/repos"}
	cfg, err := tools.ParseToolConfig([]byte(`{"mapping": {"path": {"username": "username"}}}`))
	require.NoError(t, err)

	u, err := buildURL(api, tool, cfg.Mapping, map[string]any{"username": "octocat"})

	require.NoError(t, err)
	assert.Equal(t, "https://api.example.com/users/octocat/repos", u.String())
}

func TestBuildURLTrimsSlashes(t *testing.T) {
	api := &model.Api{URL: "https://api.example.com/v1/"}
	tool := &model.ApiTool{Path: "search/"}

	u, err := buildURL(api, tool, tools.Mapping{}, nil)

	require.NoError(t, err)
	assert.Equal(t, "https://api.example.com/v1/search", u.String())
}

func TestExecuteUnresolvedPlaceholderMakesNoCall(t *testing.T) {
	srv, _, hits := newAPI(t, http.StatusOK, `{}`)
	api := &model.Api{ID: 1, URL: srv.URL}
	call := newCall(t, api, "GET", "/users/{username}", `{"mapping": {"path": {"username": "username"}}}`, map[string]any{})
	logs := &memoryLogs{}

	res := newExecutor(logs).Execute(context.Background(), call)

	assert.Equal(t, model.ToolCallError, res.Status)
	assert.Contains(t, res.Error, "{username}")
	assert.Zero(t, atomic.LoadInt32(hits))
	assert.Len(t, logs.entries, 1)
}

func TestExecuteBusinessErrorClassification(t *testing.T) {
	cfg := `{"error": {"field": "status", "value": "error", "message": "msg"}}`

	t.Run("error value matches", func(t *testing.T) {
		srv, _, _ := newAPI(t, http.StatusOK, `{"status":"error","msg":"bad key"}`)
		api := &model.Api{ID: 1, URL: srv.URL}
		logs := &memoryLogs{}

		res := newExecutor(logs).Execute(context.Background(), newCall(t, api, "GET", "/", cfg, nil))

		assert.Equal(t, model.ToolCallError, res.Status)
		assert.Equal(t, "bad key", res.Error)
		assert.Equal(t, map[string]any{"error": "bad key"}, res.Output)
		require.Len(t, logs.entries, 1)
		assert.False(t, logs.entries[0].Success)
		assert.Equal(t, "bad key", logs.entries[0].Error)
		assert.Equal(t, http.StatusOK, logs.entries[0].HTTPStatus)
	})

	t.Run("ok value", func(t *testing.T) {
		srv, _, _ := newAPI(t, http.StatusOK, `{"status":"ok","msg":"fine"}`)
		api := &model.Api{ID: 1, URL: srv.URL}

		res := newExecutor(nil).Execute(context.Background(), newCall(t, api, "GET", "/", cfg, nil))

		assert.Equal(t, model.ToolCallCompleted, res.Status)
		assert.Empty(t, res.Error)
	})

	t.Run("message path not a string", func(t *testing.T) {
		srv, _, _ := newAPI(t, http.StatusOK, `{"status":"error","msg":{"code":3}}`)
		api := &model.Api{ID: 1, URL: srv.URL}

		res := newExecutor(nil).Execute(context.Background(), newCall(t, api, "GET", "/", cfg, nil))

		assert.Equal(t, model.ToolCallError, res.Status)
		assert.Equal(t, defaultBusinessError, res.Error)
	})
}

func TestExecuteNon2xxIsError(t *testing.T) {
	srv, _, _ := newAPI(t, http.StatusNotFound, `{"message":"no such user"}`)
	api := &model.Api{ID: 1, URL: srv.URL}

	res := newExecutor(nil).Execute(context.Background(), newCall(t, api, "GET", "/", `{}`, nil))

	assert.Equal(t, model.ToolCallError, res.Status)
	assert.Equal(t, http.StatusNotFound, res.HTTPStatus)
	assert.Contains(t, res.Error, "404")
	assert.Contains(t, res.Error, "no such user")
}

func TestExecuteInactiveAPIMakesNoCall(t *testing.T) {
	srv, _, hits := newAPI(t, http.StatusOK, `{}`)
	api := &model.Api{ID: 1, URL: srv.URL}
	call := newCall(t, api, "GET", "/", `{}`, nil)
	api.Active = false
	logs := &memoryLogs{}

	res := newExecutor(logs).Execute(context.Background(), call)

	assert.Equal(t, model.ToolCallError, res.Status)
	assert.Equal(t, ErrAPIInactive.Error(), res.Error)
	assert.Zero(t, atomic.LoadInt32(hits))
	require.Len(t, logs.entries, 1, "an audit row is written on every exit path")
	assert.Zero(t, logs.entries[0].HTTPStatus)
}

func TestExecuteUnsupportedMethodMakesNoCall(t *testing.T) {
	srv, _, hits := newAPI(t, http.StatusOK, `{}`)
	api := &model.Api{ID: 1, URL: srv.URL}
	logs := &memoryLogs{}

	res := newExecutor(logs).Execute(context.Background(), newCall(t, api, "TRACE", "/", `{}`, nil))

	assert.Equal(t, model.ToolCallError, res.Status)
	assert.Contains(t, res.Error, ErrUnsupportedMethod.Error())
	assert.Zero(t, atomic.LoadInt32(hits))
	assert.Len(t, logs.entries, 1)
}

func TestExecuteHeadersToolWins(t *testing.T) {
	srv, last, _ := newAPI(t, http.StatusOK, `{}`)
	api := &model.Api{ID: 1, URL: srv.URL, Headers: datatypes.JSON(`{"X-Client":"api","X-Api-Only":"1"}`)}
	call := newCall(t, api, "GET", "/", `{}`, nil)
	call.Tool.Headers = datatypes.JSON(`{"X-Client":"tool"}`)

	res := newExecutor(nil).Execute(context.Background(), call)

	require.Equal(t, model.ToolCallCompleted, res.Status, res.Error)
	assert.Equal(t, "tool", last.header.Get("X-Client"))
	assert.Equal(t, "1", last.header.Get("X-Api-Only"))
}

func TestExecuteBodyMapping(t *testing.T) {
	cfg := `{"mapping": {"body": {"title": "title", "count": "count", "absent": "missing"}}}`

	t.Run("json", func(t *testing.T) {
		srv, last, _ := newAPI(t, http.StatusCreated, `{"id":5}`)
		api := &model.Api{ID: 1, URL: srv.URL}

		res := newExecutor(nil).Execute(context.Background(),
			newCall(t, api, "post", "/items", cfg, map[string]any{"title": "hi", "count": float64(2)}))

		require.Equal(t, model.ToolCallCompleted, res.Status, res.Error)
		assert.Equal(t, http.MethodPost, last.method)
		assert.Equal(t, "application/json", last.header.Get("Content-Type"))
		assert.JSONEq(t, `{"title":"hi","count":2}`, string(last.body))
	})

	t.Run("form", func(t *testing.T) {
		srv, last, _ := newAPI(t, http.StatusOK, `{}`)
		api := &model.Api{ID: 1, URL: srv.URL, ContentType: "form"}

		res := newExecutor(nil).Execute(context.Background(),
			newCall(t, api, "PUT", "/items", cfg, map[string]any{"title": "hi"}))

		require.Equal(t, model.ToolCallCompleted, res.Status, res.Error)
		assert.Equal(t, "application/x-www-form-urlencoded", last.header.Get("Content-Type"))
		assert.Equal(t, "title=hi", string(last.body))
	})

	t.Run("get sends no body", func(t *testing.T) {
		srv, last, _ := newAPI(t, http.StatusOK, `{}`)
		api := &model.Api{ID: 1, URL: srv.URL}

		newExecutor(nil).Execute(context.Background(),
			newCall(t, api, "GET", "/items", cfg, map[string]any{"title": "hi"}))

		assert.Empty(t, last.body)
	})
}

func TestExecuteResponseTransform(t *testing.T) {
	body := `{"location":{"name":"Paris"},"current":{"temp_c":18.5,"condition":{"text":"Sunny"}}}`

	t.Run("fields", func(t *testing.T) {
		srv, _, _ := newAPI(t, http.StatusOK, body)
		api := &model.Api{ID: 1, URL: srv.URL}
		cfg := `{"response": {"fields": {"city": "location.name", "temp": "current.temp_c", "sky": "current.condition.text"}}}`

		res := newExecutor(nil).Execute(context.Background(), newCall(t, api, "GET", "/", cfg, nil))

		assert.Equal(t, map[string]any{"city": "Paris", "temp": 18.5, "sky": "Sunny"}, res.Output)
	})

	t.Run("path", func(t *testing.T) {
		srv, _, _ := newAPI(t, http.StatusOK, body)
		api := &model.Api{ID: 1, URL: srv.URL}

		res := newExecutor(nil).Execute(context.Background(),
			newCall(t, api, "GET", "/", `{"response": {"path": "current.condition"}}`, nil))

		assert.Equal(t, map[string]any{"text": "Sunny"}, res.Output)
	})

	t.Run("no rule", func(t *testing.T) {
		srv, _, _ := newAPI(t, http.StatusOK, `[1,2]`)
		api := &model.Api{ID: 1, URL: srv.URL}

		res := newExecutor(nil).Execute(context.Background(), newCall(t, api, "GET", "/", `{}`, nil))

		assert.Equal(t, []any{float64(1), float64(2)}, res.Output)
	})
}

func TestExecuteWeatherScenario(t *testing.T) {
	srv, last, _ := newAPI(t, http.StatusOK, `{"current":{"temp_c":18}}`)
	api := &model.Api{ID: 3, URL: srv.URL + "/v1", AuthType: model.AuthQueryParam, AuthKey: "key", AuthValue: "k"}
	cfg := `{
		"inputSchema": {"type": "object", "properties": {"location": {"type": "string"}}, "required": ["location"]},
		"mapping": {"query": {"q": "location"}}
	}`
	logs := &memoryLogs{}

	res := newExecutor(logs).Execute(context.Background(),
		newCall(t, api, "GET", "/current.json", cfg, map[string]any{"location": "Paris"}))

	require.Equal(t, model.ToolCallCompleted, res.Status, res.Error)
	assert.Equal(t, http.MethodGet, last.method)
	assert.Equal(t, "/v1/current.json", last.path)
	assert.Equal(t, []string{"Paris"}, last.query["q"])

	require.Len(t, logs.entries, 1)
	entry := logs.entries[0]
	assert.True(t, entry.Success)
	assert.Equal(t, uint(3), entry.ApiID)
	assert.Equal(t, uint(11), entry.ApiToolID)
	assert.Equal(t, int64(42), entry.UserID)
	assert.JSONEq(t, `{"current":{"temp_c":18}}`, entry.Response)

	out, err := json.Marshal(res.Output)
	require.NoError(t, err)
	assert.JSONEq(t, `{"current":{"temp_c":18}}`, string(out))
}

func TestExecuteTimeoutIsTerminalError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	t.Cleanup(srv.Close)
	api := &model.Api{ID: 1, URL: srv.URL}
	logs := &memoryLogs{}
	exec := New(http.DefaultClient, logs, 50*time.Millisecond, logger.NewNop())

	res := exec.Execute(context.Background(), newCall(t, api, "GET", "/", `{}`, nil))

	assert.Equal(t, model.ToolCallError, res.Status)
	assert.Contains(t, res.Error, "request failed")
	assert.Len(t, logs.entries, 1)
}

func TestLimiterPerAPI(t *testing.T) {
	e := newExecutor(nil)

	assert.Nil(t, e.limiter(&model.Api{ID: 1}))

	a := e.limiter(&model.Api{ID: 2, RateLimitPerMinute: 60})
	require.NotNil(t, a)
	assert.Same(t, a, e.limiter(&model.Api{ID: 2, RateLimitPerMinute: 60}))
	assert.Equal(t, 1, a.Burst())
	assert.InDelta(t, 1.0, float64(a.Limit()), 1e-9)

	b := e.limiter(&model.Api{ID: 3, RateLimitPerMinute: 600})
	assert.NotSame(t, a, b)
	assert.Equal(t, 10, b.Burst())
	assert.InDelta(t, 10.0, float64(b.Limit()), 1e-9)
}

func TestLimiterFollowsChangedBudget(t *testing.T) {
	e := newExecutor(nil)

	l := e.limiter(&model.Api{ID: 4, RateLimitPerMinute: 30})
	require.NotNil(t, l)
	assert.Equal(t, 1, l.Burst())
	assert.InDelta(t, 0.5, float64(l.Limit()), 1e-9)

	again := e.limiter(&model.Api{ID: 4, RateLimitPerMinute: 1200})
	assert.Same(t, l, again)
	assert.Equal(t, 20, l.Burst())
	assert.InDelta(t, 20.0, float64(l.Limit()), 1e-9)
}

func TestTruncateText(t *testing.T) {
	split := strings.Repeat("a", 9) + "é"
	got := truncateText(split, 10)
	assert.Equal(t, strings.Repeat("a", 9), got)
	assert.True(t, utf8.ValidString(got))

	assert.Equal(t, "ok", truncateText("ok", 10))
	assert.Equal(t, "a\uFFFDb", truncateText("a\xffb", 10))
}

func TestExecuteAuditKeepsValidUTF8(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   model.ToolCallStatus
	}{
		{"logged body cut inside a character", http.StatusOK, strings.Repeat("a", maxLoggedBytes-1) + "é", model.ToolCallCompleted},
		{"error snippet cut inside a character", http.StatusInternalServerError, strings.Repeat("b", maxErrorSnippet-1) + "é", model.ToolCallError},
		{"body that is not UTF-8", http.StatusBadGateway, "bad \xff\xfe bytes", model.ToolCallError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "text/plain")
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			t.Cleanup(srv.Close)

			logs := &memoryLogs{}
			call := newCall(t, &model.Api{ID: 1, URL: srv.URL}, "GET", "/", `{}`, nil)
			res := newExecutor(logs).Execute(context.Background(), call)

			assert.Equal(t, tc.want, res.Status)
			require.Len(t, logs.entries, 1)
			assert.True(t, utf8.ValidString(logs.entries[0].Response))
			assert.True(t, utf8.ValidString(logs.entries[0].Error))
			assert.LessOrEqual(t, len(logs.entries[0].Response), maxLoggedBytes)
		})
	}
}
