// Package executor runs declaratively configured HTTP tools against third-party APIs.
package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/capitalize-ai/toolbot/internal/model"
	"github.com/capitalize-ai/toolbot/internal/tools"
	"github.com/capitalize-ai/toolbot/pkg/logger"
	"github.com/capitalize-ai/toolbot/pkg/metrics"
	"github.com/capitalize-ai/toolbot/pkg/tracing"
)

// ErrAPIInactive marks a call rejected because its Api is switched off.
var ErrAPIInactive = errors.New("api is inactive")

const (
	maxResponseBytes = 4 << 20
	maxLoggedBytes   = 64 << 10
)

// LogWriter persists API call audit rows.
type LogWriter interface {
	CreateApiLog(ctx context.Context, entry *model.ApiLog) error
}

// Call is one tool invocation.
type Call struct {
	Tool   *model.ApiTool
	Config *tools.ToolConfig
	Input  map[string]any
	UserID int64
}

// Result is the terminal outcome of a call. Output is the transformed response
// on success and {"error": message} on failure.
type Result struct {
	Output     any
	Status     model.ToolCallStatus
	Latency    time.Duration
	HTTPStatus int
	Error      string
}

// Executor executes generic API tools. It never returns an error: every path
// yields a Result and writes exactly one ApiLog row.
type Executor struct {
	client  *http.Client
	logs    LogWriter
	timeout time.Duration
	logger  *logger.Logger

	mu       sync.Mutex
	limiters map[uint]*rate.Limiter
}

// New creates an executor. A zero timeout disables the per-call deadline.
func New(client *http.Client, logs LogWriter, timeout time.Duration, log *logger.Logger) *Executor {
	if client == nil {
		client = &http.Client{}
	}
	return &Executor{
		client:   client,
		logs:     logs,
		timeout:  timeout,
		logger:   log.Named("executor"),
		limiters: make(map[uint]*rate.Limiter),
	}
}

// Execute runs one tool call to a terminal result.
func (e *Executor) Execute(ctx context.Context, call Call) Result {
	start := time.Now()

	ctx, span := tracing.Start(ctx, "tool.execute",
		attribute.String("tool.name", call.Tool.Name),
		attribute.String("tool.method", call.Tool.Method),
	)
	defer span.End()

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	status, body, err := e.do(ctx, call)

	res := Result{HTTPStatus: status, Latency: time.Since(start)}
	switch {
	case err != nil:
		res.Error = err.Error()
	default:
		res.Error = classify(status, body, call.Config.Error)
	}

	if res.Error != "" {
		res.Status = model.ToolCallError
		res.Output = map[string]any{"error": res.Error}
		span.SetAttributes(attribute.String("tool.error", res.Error))
	} else {
		res.Status = model.ToolCallCompleted
		res.Output = transform(body, call.Config.Response)
	}
	span.SetAttributes(attribute.Int("http.status_code", status))

	e.audit(ctx, call, res, body)
	metrics.RecordToolExecution(call.Tool.Name, string(res.Status), res.Latency.Seconds())

	e.logger.Info("tool executed",
		zap.String("tool", call.Tool.Name),
		zap.Uint("tool_id", call.Tool.ID),
		zap.String("status", string(res.Status)),
		zap.Int("http_status", status),
		zap.Duration("latency", res.Latency),
		zap.String("error", res.Error),
	)

	return res
}

// do performs the network exchange. A non-nil error means no usable HTTP
// response was obtained.
func (e *Executor) do(ctx context.Context, call Call) (int, []byte, error) {
	api := call.Tool.Api
	if api == nil {
		return 0, nil, fmt.Errorf("tool %q has no api configured", call.Tool.Name)
	}
	if !api.Active {
		return 0, nil, ErrAPIInactive
	}
	if call.Config == nil {
		return 0, nil, fmt.Errorf("tool %q has no parsed config", call.Tool.Name)
	}

	req, err := buildRequest(ctx, api, call.Tool, call.Config, call.Input)
	if err != nil {
		return 0, nil, err
	}

	if limiter := e.limiter(api); limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return 0, nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("failed to read response: %w", err)
	}

	return resp.StatusCode, body, nil
}

// limiter returns the token bucket of an API. The burst stays within one
// second's share of the per-minute budget, and a changed budget is applied
// to the cached bucket.
func (e *Executor) limiter(api *model.Api) *rate.Limiter {
	if api.RateLimitPerMinute <= 0 {
		return nil
	}

	limit := rate.Limit(float64(api.RateLimitPerMinute) / 60)
	burst := max(1, api.RateLimitPerMinute/60)

	e.mu.Lock()
	defer e.mu.Unlock()

	if l, ok := e.limiters[api.ID]; ok {
		if l.Limit() != limit || l.Burst() != burst {
			l.SetLimit(limit)
			l.SetBurst(burst)
		}
		return l
	}
	l := rate.NewLimiter(limit, burst)
	e.limiters[api.ID] = l
	return l
}

func (e *Executor) audit(ctx context.Context, call Call, res Result, body []byte) {
	if e.logs == nil {
		return
	}

	entry := &model.ApiLog{
		ApiID:      call.Tool.ApiID,
		ApiToolID:  call.Tool.ID,
		UserID:     call.UserID,
		HTTPStatus: res.HTTPStatus,
		Response:   truncateText(string(body), maxLoggedBytes),
		LatencyMs:  res.Latency.Milliseconds(),
		Success:    res.Status == model.ToolCallCompleted,
		Error:      truncateText(res.Error, maxLoggedBytes),
	}

	// The audit row is written even when the call itself was cancelled.
	if err := e.logs.CreateApiLog(context.WithoutCancel(ctx), entry); err != nil {
		e.logger.Error("failed to write api log",
			zap.String("tool", call.Tool.Name),
			zap.Error(err),
		)
	}
}
