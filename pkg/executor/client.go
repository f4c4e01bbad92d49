// Package executor talks to the external browser-automation engine.
package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	apperrors "github.com/odvcencio/qaflow/pkg/errors"
	"github.com/odvcencio/qaflow/pkg/types"
)

const maxErrorBody = 4 << 10

// Options configures a Client.
type Options struct {
	// RateLimit is the sustained number of runs started per second; 0 disables limiting.
	RateLimit float64
	Burst     int
	// Timeout bounds a whole run, including streaming; 0 means no limit.
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client starts runs on the engine and returns their event streams.
type Client struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates a client for the engine at baseURL.
func NewClient(baseURL string, opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}
	var limiter *rate.Limiter
	if opts.RateLimit > 0 {
		burst := opts.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		limiter: limiter,
	}
}

// RateLimitedMessage is the caller-facing text of a rejected run.
const RateLimitedMessage = "Too many test runs, try again shortly"

// Stream submits def and returns the engine's SSE body. Closing the returned
// reader, or cancelling ctx, aborts the run on the engine side. A run beyond
// the configured rate is rejected at once with RATE_LIMITED.
func (c *Client) Stream(ctx context.Context, def types.TestCaseDefinition) (io.ReadCloser, error) {
	if c.limiter != nil && !c.limiter.Allow() {
		return nil, apperrors.New(apperrors.ErrCodeRateLimited, "run rate exceeded").
			WithContext("limit", float64(c.limiter.Limit())).
			WithUserMessage(RateLimitedMessage)
	}
	return c.post(ctx, def)
}

func (c *Client) post(ctx context.Context, def types.TestCaseDefinition) (io.ReadCloser, error) {
	body, err := json.Marshal(def)
	if err != nil {
		return nil, fmt.Errorf("marshaling definition: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/run", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeExecution, "run request failed")
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, apperrors.Newf(apperrors.ErrCodeExecution, "engine returned %s", resp.Status).
			WithContext("body", strings.TrimSpace(string(msg)))
	}
	return resp.Body, nil
}
