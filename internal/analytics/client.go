// Package analytics implements the HTTP client for the external analytics
// service. Scores and state classifications move slowly, so the synchronizer
// polls them on the long cycle and strategies read them from the snapshot.
package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"tradebot/internal/config"
	"tradebot/internal/core"
	pkghttp "tradebot/pkg/http"
)

const defaultTimeout = 10 * time.Second

// Client implements core.IAnalyticsProvider against the analytics REST API
type Client struct {
	http   *pkghttp.Client
	logger core.ILogger
}

// NewClient builds a client from config. Returns nil when no base URL is
// configured; the synchronizer treats a nil provider as analytics disabled.
func NewClient(cfg config.AnalyticsConfig, logger core.ILogger) *Client {
	if cfg.BaseURL == "" {
		return nil
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	return &Client{
		http:   pkghttp.NewClient(strings.TrimRight(cfg.BaseURL, "/"), timeout, nil),
		logger: logger.WithField("component", "analytics_client"),
	}
}

type scoresResponse struct {
	Scores map[string]float64 `json:"scores"`
}

type statesResponse struct {
	States map[string]string `json:"states"`
}

// Scores fetches volatility scores for the given symbols in one batched call
func (c *Client) Scores(ctx context.Context, symbols []string) (map[string]float64, error) {
	if len(symbols) == 0 {
		return map[string]float64{}, nil
	}

	body, err := c.http.Get(ctx, "/v1/scores", map[string]string{
		"symbols": strings.Join(symbols, ","),
	})
	if err != nil {
		return nil, fmt.Errorf("fetch scores: %w", err)
	}

	var resp scoresResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode scores response: %w", err)
	}
	if resp.Scores == nil {
		resp.Scores = map[string]float64{}
	}

	c.logger.Debug("Fetched scores", "symbols", len(resp.Scores))
	return resp.Scores, nil
}

// States fetches market state classifications for the given symbols
func (c *Client) States(ctx context.Context, symbols []string) (map[string]string, error) {
	if len(symbols) == 0 {
		return map[string]string{}, nil
	}

	body, err := c.http.Get(ctx, "/v1/states", map[string]string{
		"symbols": strings.Join(symbols, ","),
	})
	if err != nil {
		return nil, fmt.Errorf("fetch states: %w", err)
	}

	var resp statesResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode states response: %w", err)
	}
	if resp.States == nil {
		resp.States = map[string]string{}
	}

	c.logger.Debug("Fetched states", "symbols", len(resp.States))
	return resp.States, nil
}
