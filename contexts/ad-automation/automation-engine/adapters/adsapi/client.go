package adsapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"adpilot/contexts/ad-automation/automation-engine/adapters/restclient"
	domainerrors "adpilot/contexts/ad-automation/automation-engine/domain/errors"
	"adpilot/contexts/ad-automation/automation-engine/ports"
)

const (
	defaultChunkSize   = 100
	defaultMaxParallel = 4
)

type Config struct {
	BaseURL       string
	ClientID      string
	AccessToken   string
	RatePerSecond float64
	ChunkSize     int
	MaxParallel   int
	Timeout       time.Duration
	MaxRetries    int
	RetryBase     time.Duration
}

// Client talks to the advertising platform. Profile scope travels in a
// header on every call.
type Client struct {
	cfg    Config
	caller *restclient.Caller
}

func New(cfg Config, sleeper ports.Sleeper, metrics ports.Metrics, logger *slog.Logger) *Client {
	if cfg.ChunkSize <= 0 || cfg.ChunkSize > defaultChunkSize {
		cfg.ChunkSize = defaultChunkSize
	}
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = defaultMaxParallel
	}
	header := http.Header{}
	header.Set("Amazon-Advertising-API-ClientId", cfg.ClientID)
	return &Client{
		cfg: cfg,
		caller: restclient.New(restclient.Options{
			BaseURL:       cfg.BaseURL,
			AccessToken:   cfg.AccessToken,
			Header:        header,
			RatePerSecond: cfg.RatePerSecond,
			Timeout:       cfg.Timeout,
			MaxRetries:    cfg.MaxRetries,
			RetryBase:     cfg.RetryBase,
			Sleeper:       sleeper,
			Metrics:       metrics,
			Logger:        logger,
		}),
	}
}

// Ready is false when credentials are missing; callers short-circuit.
func (c *Client) Ready() bool {
	return c.caller.BaseURL() != "" && c.cfg.AccessToken != "" && c.cfg.ClientID != ""
}

func (c *Client) do(ctx context.Context, operation, method, path, profileID string, body any, out any) error {
	header := http.Header{}
	if profileID != "" {
		header.Set("Amazon-Advertising-API-Scope", profileID)
	}
	return c.caller.Do(ctx, restclient.Request{
		Operation: operation,
		Method:    method,
		Path:      path,
		Header:    header,
		Body:      body,
	}, out)
}

func firstNonEmpty(values ...string) string { return restclient.FirstNonEmpty(values...) }

func asAPIError(err error) (*domainerrors.APIError, bool) {
	var apiErr *domainerrors.APIError
	ok := errors.As(err, &apiErr)
	return apiErr, ok
}

var _ ports.AdsAPI = (*Client)(nil)
