package runtime

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"order-automation-go/internal/config"
	"order-automation-go/internal/flow"
)

const apiKeyHeader = "X-API-Key"

// APIError is a non-retryable error response from the runtime.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("request failed with status %d: %s", e.StatusCode, e.Body)
}

// HTTPClient talks to a flow runtime over REST. Requests are rate limited
// and retried with exponential backoff on 429 and 5xx responses.
type HTTPClient struct {
	client     *resty.Client
	apiKey     string
	logger     *zap.Logger
	limiter    *rate.Limiter
	maxRetries int
	backoff    time.Duration
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient creates a client for the runtime at cfg.BaseURL.
func NewHTTPClient(cfg *config.FlowRuntime, logger *zap.Logger) *HTTPClient {
	client := resty.New().SetBaseURL(cfg.BaseURL)
	if cfg.TimeoutSeconds > 0 {
		client.SetTimeout(time.Duration(cfg.TimeoutSeconds) * time.Second)
	}

	maxRetries := cfg.MaxRetries
	if maxRetries < 1 {
		maxRetries = 1
	}

	logger = logger.Named("runtime")
	logger.Info("Using remote flow runtime", zap.String("base_url", cfg.BaseURL))

	return &HTTPClient{
		client:     client,
		apiKey:     cfg.APIKey,
		logger:     logger,
		limiter:    rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimitBurst),
		maxRetries: maxRetries,
		backoff:    time.Second,
	}
}

// Register posts the flow to the runtime.
func (c *HTTPClient) Register(ctx context.Context, f *flow.Flow) (*Handle, error) {
	req := c.client.R().
		SetHeader("Content-Type", "application/json").
		SetBody(f).
		SetResult(&Handle{})

	resp, err := c.doRequest(ctx, http.MethodPost, "/flows", req)
	if err != nil {
		c.logger.Error("Failed to register flow", zap.String("flow_id", f.ID), zap.Error(err))
		return nil, fmt.Errorf("failed to register flow %s: %w", f.ID, err)
	}

	h := resp.Result().(*Handle)
	if h.FlowID == "" {
		h.FlowID = f.ID
	}
	if h.RegisteredAt.IsZero() {
		h.RegisteredAt = time.Now()
	}
	c.logger.Info("Flow registered", zap.String("flow_id", h.FlowID), zap.String("runtime_id", h.RuntimeID))
	return h, nil
}

// Cancel deletes the flow from the runtime. A 404 means the runtime never
// had it and yields false without an error.
func (c *HTTPClient) Cancel(ctx context.Context, flowID string) (bool, error) {
	req := c.client.R()

	_, err := c.doRequest(ctx, http.MethodDelete, "/flows/"+url.PathEscape(flowID), req)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return false, nil
		}
		return false, fmt.Errorf("failed to cancel flow %s: %w", flowID, err)
	}
	return true, nil
}

// doRequest handles the actual request execution with rate limiting and retry logic.
func (c *HTTPClient) doRequest(ctx context.Context, method, path string, req *resty.Request) (*resty.Response, error) {
	var resp *resty.Response
	var err error

	if c.apiKey != "" {
		req.SetHeader(apiKeyHeader, c.apiKey)
	}
	req.SetContext(ctx)

	for i := 0; i < c.maxRetries; i++ {
		// Wait for the rate limiter
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait failed: %w", err)
		}

		c.logger.Debug("Executing request", zap.String("method", method), zap.String("url", c.client.BaseURL+path))
		resp, err = req.Execute(method, path)

		if err == nil && !resp.IsError() {
			return resp, nil
		}

		shouldRetry := false
		var retryAfter time.Duration

		if err == nil {
			statusCode := resp.StatusCode()
			if statusCode == http.StatusTooManyRequests {
				shouldRetry = true
				if seconds, perr := strconv.Atoi(resp.Header().Get("Retry-After")); perr == nil {
					retryAfter = time.Duration(seconds) * time.Second
				}
			} else if statusCode >= 500 {
				shouldRetry = true
			}
			err = &APIError{StatusCode: statusCode, Body: resp.String()}
		} else if ctx.Err() != nil {
			return nil, ctx.Err()
		} else { // Network or other client-side errors
			shouldRetry = true
		}

		if !shouldRetry {
			return nil, err
		}
		if i == c.maxRetries-1 {
			break
		}

		if retryAfter == 0 {
			// Exponential backoff: 1x, 2x, 4x the base delay
			retryAfter = time.Duration(math.Pow(2, float64(i))) * c.backoff
		}

		c.logger.Warn("Request failed, retrying...",
			zap.Int("attempt", i+1),
			zap.Duration("retry_after", retryAfter),
			zap.Error(err),
		)

		select {
		case <-time.After(retryAfter):
			continue
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return nil, fmt.Errorf("request failed after %d attempts: %w", c.maxRetries, err)
}
