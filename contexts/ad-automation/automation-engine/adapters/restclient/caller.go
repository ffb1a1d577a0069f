// Package restclient is the JSON-over-HTTP call path shared by the external
// API adapters: token auth, a per-client rate limiter, doubling backoff on
// transient failures and normalized error mapping.
package restclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	domainerrors "adpilot/contexts/ad-automation/automation-engine/domain/errors"
	"adpilot/contexts/ad-automation/automation-engine/ports"

	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

const (
	maxRetryBackoff  = 5 * time.Second
	maxResponseBytes = 10 << 20
)

type Options struct {
	BaseURL string
	// AccessToken is sent as a bearer token when set.
	AccessToken   string
	Header        http.Header
	RatePerSecond float64
	Timeout       time.Duration
	MaxRetries    int
	RetryBase     time.Duration
	Sleeper       ports.Sleeper
	Metrics       ports.Metrics
	Logger        *slog.Logger
}

type Caller struct {
	baseURL    string
	header     http.Header
	http       *http.Client
	limiter    *rate.Limiter
	maxRetries int
	retryBase  time.Duration
	sleeper    ports.Sleeper
	metrics    ports.Metrics
	logger     *slog.Logger
}

func New(opts Options) *Caller {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.RetryBase <= 0 {
		opts.RetryBase = 500 * time.Millisecond
	}
	limit := rate.Inf
	burst := 1
	if opts.RatePerSecond > 0 {
		limit = rate.Limit(opts.RatePerSecond)
		if b := int(opts.RatePerSecond); b > 1 {
			burst = b
		}
	}

	var transport http.RoundTripper = http.DefaultTransport
	if opts.AccessToken != "" {
		transport = &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: opts.AccessToken, TokenType: "Bearer"}),
			Base:   http.DefaultTransport,
		}
	}
	header := opts.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	return &Caller{
		baseURL:    strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/"),
		header:     header,
		http:       &http.Client{Timeout: opts.Timeout, Transport: transport},
		limiter:    rate.NewLimiter(limit, burst),
		maxRetries: opts.MaxRetries,
		retryBase:  opts.RetryBase,
		sleeper:    opts.Sleeper,
		metrics:    opts.Metrics,
		logger:     opts.Logger,
	}
}

func (c *Caller) BaseURL() string { return c.baseURL }

// Request describes one logical call. Header is merged over the caller's
// default headers.
type Request struct {
	Operation string
	Method    string
	Path      string
	Header    http.Header
	Body      any
}

// Do sends req and decodes a 2xx body into out. Non-2xx answers become
// *domainerrors.APIError; rate limited and unavailable answers are retried.
func (c *Caller) Do(ctx context.Context, req Request, out any) error {
	var payload []byte
	if req.Body != nil {
		encoded, err := json.Marshal(req.Body)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", req.Operation, err)
		}
		payload = encoded
	}

	attempts := c.maxRetries + 1
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if waitErr := c.limiter.Wait(ctx); waitErr != nil {
			return waitErr
		}
		err = c.once(ctx, req, payload, out)
		if err == nil {
			c.observe(req.Operation, "ok")
			return nil
		}
		if !domainerrors.IsTransient(err) || attempt == attempts {
			break
		}
		c.observe(req.Operation, "retry")
		wait := c.retryBase << (attempt - 1)
		if wait > maxRetryBackoff {
			wait = maxRetryBackoff
		}
		c.logger.Warn("external api call retrying",
			"event", "external_api_retry",
			"module", "ad-automation/automation-engine",
			"layer", "adapter",
			"operation", req.Operation,
			"attempt", attempt,
			"wait_ms", wait.Milliseconds(),
			"error", err.Error(),
		)
		if sleepErr := c.sleep(ctx, wait); sleepErr != nil {
			return sleepErr
		}
	}
	c.observe(req.Operation, "error")
	return err
}

func (c *Caller) once(ctx context.Context, req Request, payload []byte, out any) error {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, c.baseURL+req.Path, reader)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", req.Operation, err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	for key, values := range c.header {
		httpReq.Header[key] = append([]string(nil), values...)
	}
	for key, values := range req.Header {
		httpReq.Header[http.CanonicalHeaderKey(key)] = append([]string(nil), values...)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%s: %w: %v", req.Operation, domainerrors.ErrUnavailable, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("%s: read response: %w: %v", req.Operation, domainerrors.ErrUnavailable, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return DecodeError(req.Operation, resp.StatusCode, raw)
	}
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", req.Operation, err)
	}
	return nil
}

type errorBody struct {
	Code        string `json:"code"`
	Details     string `json:"details"`
	Message     string `json:"message"`
	Description string `json:"description"`
	Errors      []struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// DecodeError maps a non-2xx answer onto *domainerrors.APIError. It
// understands the flat {code, details} shape, the {errors: [...]} list and
// the {error: {type, message}} object.
func DecodeError(operation string, status int, raw []byte) error {
	apiErr := &domainerrors.APIError{Operation: operation, Status: status}
	var body errorBody
	if err := json.Unmarshal(raw, &body); err == nil {
		apiErr.Code = body.Code
		apiErr.Message = FirstNonEmpty(body.Details, body.Message, body.Description)
		if len(body.Errors) > 0 {
			apiErr.Code = FirstNonEmpty(apiErr.Code, body.Errors[0].Code)
			apiErr.Message = FirstNonEmpty(apiErr.Message, body.Errors[0].Message)
		}
		if body.Error != nil {
			apiErr.Code = FirstNonEmpty(apiErr.Code, strings.ToUpper(body.Error.Type))
			apiErr.Message = FirstNonEmpty(apiErr.Message, body.Error.Message)
		}
	}
	if apiErr.Message == "" {
		msg := strings.TrimSpace(string(raw))
		if len(msg) > 256 {
			msg = msg[:256]
		}
		apiErr.Message = FirstNonEmpty(msg, http.StatusText(status))
	}
	return apiErr
}

func (c *Caller) sleep(ctx context.Context, d time.Duration) error {
	if c.sleeper != nil {
		return c.sleeper.Sleep(ctx, d)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (c *Caller) observe(operation, outcome string) {
	if c.metrics != nil {
		c.metrics.ObserveAPIRequest(operation, outcome)
	}
}

func FirstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
