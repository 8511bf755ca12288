package llm

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/cenkalti/backoff/v4"
	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/capitalize-ai/toolbot/internal/model"
	"github.com/capitalize-ai/toolbot/pkg/logger"
)

// RetryPolicy bounds every provider completion call.
type RetryPolicy struct {
	// Timeout applies to each attempt.
	Timeout time.Duration
	// MaxRetries is the number of attempts after the first.
	MaxRetries int
	// InitialInterval is the first backoff delay.
	InitialInterval time.Duration
}

// DefaultRetryPolicy is used when no policy is configured.
var DefaultRetryPolicy = RetryPolicy{
	Timeout:         60 * time.Second,
	MaxRetries:      2,
	InitialInterval: 500 * time.Millisecond,
}

type retrying struct {
	next   Adapter
	policy RetryPolicy
	logger *logger.Logger
}

// WithRetry wraps an adapter with the uniform timeout and retry policy.
func WithRetry(next Adapter, policy RetryPolicy, log *logger.Logger) Adapter {
	if policy.InitialInterval <= 0 {
		policy.InitialInterval = DefaultRetryPolicy.InitialInterval
	}
	return &retrying{next: next, policy: policy, logger: log.Named("llm")}
}

func (r *retrying) Provider() model.Provider {
	return r.next.Provider()
}

func (r *retrying) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	attempt := 0
	operation := func() (*CompletionResponse, error) {
		attempt++
		attemptCtx := ctx
		if r.policy.Timeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, r.policy.Timeout)
			defer cancel()
		}

		resp, err := r.next.Complete(attemptCtx, req)
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil || !Retryable(err) {
			return nil, backoff.Permanent(err)
		}
		r.logger.Warn("provider call failed, will retry",
			zap.String("provider", string(r.next.Provider())),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		return nil, err
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = r.policy.InitialInterval
	expo.MaxElapsedTime = 0

	var policy backoff.BackOff = expo
	if r.policy.MaxRetries >= 0 {
		policy = backoff.WithMaxRetries(expo, uint64(r.policy.MaxRetries))
	}

	return backoff.RetryWithData(operation, backoff.WithContext(policy, ctx))
}

// StatusCode extracts the HTTP status of a provider error, or 0 when the
// request never produced a response.
func StatusCode(err error) int {
	var anthropicErr *anthropic.Error
	if errors.As(err, &anthropicErr) {
		return anthropicErr.StatusCode
	}
	var openaiErr *openai.APIError
	if errors.As(err, &openaiErr) {
		return openaiErr.HTTPStatusCode
	}
	var openaiReqErr *openai.RequestError
	if errors.As(err, &openaiReqErr) {
		return openaiReqErr.HTTPStatusCode
	}
	var geminiErr genai.APIError
	if errors.As(err, &geminiErr) {
		return geminiErr.Code
	}
	var geminiPtrErr *genai.APIError
	if errors.As(err, &geminiPtrErr) {
		return geminiPtrErr.Code
	}
	return 0
}

// Retryable reports whether a failed completion may succeed when repeated.
func Retryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	switch code := StatusCode(err); {
	case code == 0:
		return true
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests:
		return true
	case code >= 500:
		return true
	default:
		return false
	}
}
