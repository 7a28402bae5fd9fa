// Package cosmicds is the client of the CosmicDS student state API. It
// loads and persists story state, stage state, measurements and the
// identity records a session needs.
package cosmicds

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/patudom/cds-app/internal/domain/shared"
	"github.com/patudom/cds-app/pkg/circuitbreaker"
	"github.com/patudom/cds-app/pkg/logger"
	"github.com/patudom/cds-app/pkg/retry"
)

// ClientConfig contains configuration for the API client.
type ClientConfig struct {
	// BaseURL is the API root, e.g. https://api.cosmicds.cfa.harvard.edu
	BaseURL string

	// APIKey is sent verbatim in the Authorization header.
	APIKey string

	// SessionSecret salts the user hash.
	SessionSecret string

	// Timeout is the HTTP request timeout.
	Timeout time.Duration

	// RateLimiterConfig throttles outgoing requests. A zero value disables
	// throttling.
	RateLimiterConfig RateLimiterConfig

	// ReadRetrier retries idempotent reads. Defaults to
	// retry.RemoteReadRetrier(shared.IsRetryable).
	ReadRetrier *retry.Retrier

	// HTTPClient overrides the transport. Tests use it.
	HTTPClient *http.Client

	Logger *slog.Logger
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig(baseURL, apiKey string) ClientConfig {
	return ClientConfig{
		BaseURL:           baseURL,
		APIKey:            apiKey,
		Timeout:           15 * time.Second,
		RateLimiterConfig: DefaultRateLimiterConfig(),
	}
}

// Scope carries the session switches that decide whether a call reaches
// the network at all. Persistence is skipped when UpdateDB is off or the
// user is an educator.
type Scope struct {
	UpdateDB bool
	Educator bool
}

// Persists reports whether writes and story reads go to the server.
func (s Scope) Persists() bool {
	return s.UpdateDB && !s.Educator
}

// Client is the CosmicDS API client.
type Client struct {
	config      ClientConfig
	httpClient  *http.Client
	logger      *slog.Logger
	rateLimiter *RateLimiter
	breaker     *circuitbreaker.CircuitBreaker
	reads       *retry.Retrier
	patchIDs    *patchIDSource
}

// NewClient creates a client.
func NewClient(config ClientConfig) *Client {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: config.Timeout}
	}
	reads := config.ReadRetrier
	if reads == nil {
		reads = retry.RemoteReadRetrier(shared.IsRetryable)
	}

	log := config.Logger.With(logger.Component("cosmicds"))
	c := &Client{
		config:     config,
		httpClient: httpClient,
		logger:     log,
		reads:      reads,
		patchIDs:   newPatchIDSource(),
	}
	if config.RateLimiterConfig.RequestsPerSecond > 0 {
		c.rateLimiter = NewRateLimiter(config.RateLimiterConfig)
	}
	c.breaker = circuitbreaker.RemoteAPIBreaker(shared.IsExternalService, func(name string, from, to circuitbreaker.State) {
		log.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
	})
	return c
}

// StatusError is a non-2xx response.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Message    string
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.StatusCode)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

// Unwrap maps the status onto the remote error sentinels.
func (e *StatusError) Unwrap() error {
	switch {
	case e.StatusCode == http.StatusNotFound:
		return shared.ErrRemoteNoRecord
	case e.StatusCode == http.StatusTooManyRequests:
		return shared.ErrRemoteRateLimited
	case e.StatusCode == http.StatusRequestTimeout || e.StatusCode == http.StatusGatewayTimeout:
		return shared.ErrRemoteTimeout
	case e.StatusCode >= 500:
		return shared.ErrRemoteUnavailable
	case e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden:
		return shared.ErrUnauthorized
	default:
		return shared.ErrRemoteInvalidResponse
	}
}

// request describes one call.
type request struct {
	method string
	path   string
	body   any
	header http.Header

	// want is the status the call requires; zero accepts any 2xx.
	want int
}

// get performs an idempotent read with retries.
func (c *Client) get(ctx context.Context, path string, result any) error {
	return c.reads.Do(ctx, func(ctx context.Context) error {
		return c.doRequest(ctx, request{method: http.MethodGet, path: path}, result)
	})
}

// doRequest performs one request behind the rate limiter and the breaker.
func (c *Client) doRequest(ctx context.Context, req request, result any) error {
	if c.rateLimiter != nil {
		if err := c.rateLimiter.Allow(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}
	}

	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		return c.doSingleRequest(ctx, req, result)
	})
	if circuitbreaker.IsRejection(err) {
		return fmt.Errorf("%s %s: %w: %w", req.method, req.path, shared.ErrRemoteUnavailable, err)
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusTooManyRequests && c.rateLimiter != nil {
		c.rateLimiter.RecordRateLimitHit(statusErr.RetryAfter)
	}
	return err
}

func (c *Client) doSingleRequest(ctx context.Context, req request, result any) error {
	var bodyReader io.Reader
	if req.body != nil {
		jsonBody, err := json.Marshal(req.body)
		if err != nil {
			return fmt.Errorf("marshal body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, c.config.BaseURL+req.path, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	for k, vs := range req.header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	requestID := uuid.NewString()
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("X-Request-ID", requestID)
	if c.config.APIKey != "" {
		httpReq.Header.Set("Authorization", c.config.APIKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return fmt.Errorf("%s %s: %w: %w", req.method, req.path, shared.ErrRemoteTimeout, err)
		}
		return fmt.Errorf("%s %s: %w: %w", req.method, req.path, shared.ErrRemoteUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s %s: read response: %w: %w", req.method, req.path, shared.ErrRemoteUnavailable, err)
	}

	c.logger.Debug("cosmicds api request",
		"method", req.method,
		"path", req.path,
		"status", resp.StatusCode,
		logger.RequestID(requestID),
		logger.Latency(time.Since(start)),
	)

	ok := resp.StatusCode >= 200 && resp.StatusCode < 300
	if req.want != 0 {
		ok = resp.StatusCode == req.want
	}
	if !ok {
		statusErr := &StatusError{Method: req.method, Path: req.path, StatusCode: resp.StatusCode}
		var apiErr APIErrorDTO
		if json.Unmarshal(respBody, &apiErr) == nil {
			statusErr.Message = apiErr.text()
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			statusErr.RetryAfter = 60 * time.Second
			if seconds, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil {
				statusErr.RetryAfter = time.Duration(seconds) * time.Second
			}
		}
		return statusErr
	}

	if result != nil && len(bytes.TrimSpace(respBody)) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("%s %s: %w: %w", req.method, req.path, shared.ErrRemoteInvalidResponse, err)
		}
	}
	return nil
}

// ClientStatus reports the client's protection state.
type ClientStatus struct {
	Breaker     circuitbreaker.State
	Counts      circuitbreaker.Counts
	RateLimiter RateLimiterStatus
}

// Status returns the current status of the client.
func (c *Client) Status() ClientStatus {
	st := ClientStatus{Breaker: c.breaker.State(), Counts: c.breaker.Counts()}
	if c.rateLimiter != nil {
		st.RateLimiter = c.rateLimiter.Status()
	}
	return st
}

// Reset closes the breaker and refills the rate limiter.
func (c *Client) Reset() {
	c.breaker.Reset()
	if c.rateLimiter != nil {
		c.rateLimiter.Reset()
	}
}
