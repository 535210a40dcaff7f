package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"bridgesync/internal/config"
	"bridgesync/internal/models"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const maxErrorBody = 512

// statusError carries a non-2xx explorer response.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	if e.body == "" {
		return fmt.Sprintf("explorer returned %d", e.code)
	}
	return fmt.Sprintf("explorer returned %d: %s", e.code, e.body)
}

func asStatusError(err error, target **statusError) bool {
	return errors.As(err, target)
}

// Client talks to the explorer REST API shared by every family bridge.
type Client struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	retry   RetryPolicy
	logger  zerolog.Logger
}

// NewClient builds an explorer client from the bridge configuration.
func NewClient(cfg config.BridgeConfig, logger *zerolog.Logger) *Client {
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "explorer").Logger()
	}
	limit := rate.Inf
	if cfg.RPS > 0 {
		limit = rate.Limit(cfg.RPS)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(limit, burst),
		retry:   PolicyFromConfig(cfg.Retry),
		logger:  l,
	}
}

// getJSON fetches path and decodes the body into out, retrying transient failures.
func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	attempt := 0
	return c.retry.do(ctx, func() error {
		attempt++
		err := c.fetch(ctx, target, out)
		if err != nil {
			c.logger.Debug().Err(err).Str("url", target).Int("attempt", attempt).Msg("explorer request failed")
		}
		return err
	})
}

func (c *Client) fetch(ctx context.Context, target string, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return models.NewSyncError(models.ErrorKindInternal, err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return models.NewSyncError(models.ErrorKindNetworkDown, fmt.Errorf("%w: %v", models.ErrNetworkDown, err))
	}
	defer resp.Body.Close()

	c.logger.Debug().
		Str("url", target).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("explorer response")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		se := &statusError{code: resp.StatusCode, body: strings.TrimSpace(string(body))}
		if resp.StatusCode == http.StatusTooManyRequests {
			return models.NewSyncError(models.ErrorKindRateLimited, se)
		}
		return models.NewSyncError(models.ErrorKindRemote, se)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return models.NewSyncError(models.ErrorKindDecode, fmt.Errorf("decode %s: %w", target, err))
	}
	return nil
}
