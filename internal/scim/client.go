// Package scim implements the SCIM Pusher (spec §4.E): mapping local user
// and group rows to SCIM JSON, driving create/update/delete against the
// cloud identity provider's `/scimv2` surface, and classifying responses
// into the permanent/network/transient error classes the engine's push
// loop reacts to.
package scim

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"
)

// Retry policy mirrors the teacher's Graph client (internal/graph/client.go):
// base 1s, factor 2x, max 60s, ±25% jitter, max 5 retries. The cloud SCIM
// surface is a different API but the shape of "transient network/5xx
// failures deserve bounded exponential backoff" is the same idiom.
const (
	maxRetries     = 5
	baseBackoff    = 1 * time.Second
	maxBackoff     = 60 * time.Second
	backoffFactor  = 2.0
	jitterFraction = 0.25
	userAgent      = "adbridge/0.1"
)

// Client is an HTTP client for the cloud SCIM surface, authenticated with a
// pre-shared API key over HTTP Basic auth (spec §6: "Basic auth with a
// pre-shared API key").
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger

	sleepFunc func(ctx context.Context, d time.Duration) error
}

// NewClient builds a SCIM client against baseURL (e.g.
// "https://cloud.example.com/scimv2").
func NewClient(baseURL, apiKey string, httpClient *http.Client, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: httpClient,
		logger:     logger,
		sleepFunc:  timeSleep,
	}
}

// do executes an authenticated request with retry on transient failures.
// The caller is responsible for closing the response body on success; on
// error it returns a *StatusError wrapping a status sentinel (use
// errors.Is), a *NetworkError once retries are exhausted, or a wrapped
// context error on cancellation.
func (c *Client) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	url := c.baseURL + path

	var attempt int

	for {
		var reader *bytes.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}

		resp, err := c.doOnce(ctx, method, url, reader)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("scim: request canceled: %w", ctx.Err())
			}

			if attempt < maxRetries {
				backoff := c.calcBackoff(attempt)
				c.logger.Warn("scim: retrying after network error",
					slog.String("method", method), slog.String("path", path),
					slog.Int("attempt", attempt+1), slog.Duration("backoff", backoff),
					slog.String("error", err.Error()))

				if sleepErr := c.sleepFunc(ctx, backoff); sleepErr != nil {
					return nil, fmt.Errorf("scim: request canceled: %w", sleepErr)
				}

				attempt++

				continue
			}

			return nil, &NetworkError{Op: method + " " + path, Err: err}
		}

		if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
			return resp, nil
		}

		errBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		if readErr != nil {
			errBody = []byte("(failed to read response body)")
		}

		if isRetryableStatus(resp.StatusCode) && attempt < maxRetries {
			backoff := c.retryBackoff(resp, attempt)
			c.logger.Warn("scim: retrying after HTTP error",
				slog.String("method", method), slog.String("path", path),
				slog.Int("status", resp.StatusCode), slog.Int("attempt", attempt+1),
				slog.Duration("backoff", backoff))

			if err := c.sleepFunc(ctx, backoff); err != nil {
				return nil, fmt.Errorf("scim: request canceled: %w", err)
			}

			attempt++

			continue
		}

		return nil, &StatusError{StatusCode: resp.StatusCode, Body: errBody, Err: classifyStatus(resp.StatusCode)}
	}
}

func (c *Client) doOnce(ctx context.Context, method, url string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	req.SetBasicAuth("", c.apiKey)
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/scim+json")

	if body != nil {
		req.Header.Set("Content-Type", "application/scim+json")
	}

	return c.httpClient.Do(req)
}

func (c *Client) retryBackoff(resp *http.Response, attempt int) time.Duration {
	if resp.StatusCode == http.StatusTooManyRequests {
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if seconds, err := strconv.Atoi(ra); err == nil && seconds > 0 {
				return time.Duration(seconds) * time.Second
			}
		}
	}

	return c.calcBackoff(attempt)
}

func (c *Client) calcBackoff(attempt int) time.Duration {
	backoff := float64(baseBackoff) * math.Pow(backoffFactor, float64(attempt))
	if backoff > float64(maxBackoff) {
		backoff = float64(maxBackoff)
	}

	jitter := backoff * jitterFraction * (rand.Float64()*2 - 1) //nolint:gosec // jitter does not need crypto rand
	backoff += jitter

	return time.Duration(backoff)
}

func timeSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
