package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"

	apperrors "github.com/odvcencio/qaflow/pkg/errors"
	"github.com/odvcencio/qaflow/pkg/types"
)

const maxErrorBodyBytes = 64 << 10

// Client talks to a qaflow server over its REST API. It implements API.
type Client struct {
	baseURL *url.URL
	token   string
	http    *http.Client
}

var _ API = (*Client)(nil)

// NewClient builds a client for the server at serverURL. httpClient may be
// nil. Streaming responses are long lived, so it should not set a Timeout.
func NewClient(serverURL, token string, httpClient *http.Client) (*Client, error) {
	serverURL = strings.TrimSpace(serverURL)
	if serverURL == "" {
		return nil, apperrors.New(apperrors.ErrCodeConfigInvalid, "server url is required")
	}
	u, err := url.Parse(serverURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, apperrors.New(apperrors.ErrCodeConfigInvalid, "invalid server url").WithContext("url", serverURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{baseURL: u, token: strings.TrimSpace(token), http: httpClient}, nil
}

func (c *Client) GetTestCase(ctx context.Context, id string) (*types.TestCase, error) {
	var tc types.TestCase
	if err := c.do(ctx, http.MethodGet, "/test-cases/"+url.PathEscape(id), nil, &tc); err != nil {
		return nil, err
	}
	return &tc, nil
}

func (c *Client) GetProject(ctx context.Context, id string) (*types.Project, error) {
	var p types.Project
	if err := c.do(ctx, http.MethodGet, "/projects/"+url.PathEscape(id), nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// CreateProject creates a project owned by the caller.
func (c *Client) CreateProject(ctx context.Context, name string) (*types.Project, error) {
	var p types.Project
	if err := c.do(ctx, http.MethodPost, "/projects", map[string]string{"name": name}, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *Client) UpdateTestCase(ctx context.Context, id string, def types.TestCaseDefinition) error {
	return c.do(ctx, http.MethodPut, "/test-cases/"+url.PathEscape(id), def, nil)
}

func (c *Client) CreateTestCase(ctx context.Context, projectID string, def types.TestCaseDefinition) (string, error) {
	var tc types.TestCase
	if err := c.do(ctx, http.MethodPost, "/projects/"+url.PathEscape(projectID)+"/test-cases", def, &tc); err != nil {
		return "", err
	}
	if tc.ID == "" {
		return "", apperrors.New(apperrors.ErrCodePersistence, "server returned a test case without id")
	}
	return tc.ID, nil
}

// Clone asks the server to duplicate a test case the caller owns.
func (c *Client) Clone(ctx context.Context, id string) (*types.TestCase, error) {
	var tc types.TestCase
	if err := c.do(ctx, http.MethodPost, "/test-cases/"+url.PathEscape(id)+"/clone", nil, &tc); err != nil {
		return nil, err
	}
	return &tc, nil
}

func (c *Client) SaveRun(ctx context.Context, testCaseID string, outcome types.RunOutcome) error {
	return c.do(ctx, http.MethodPost, "/test-cases/"+url.PathEscape(testCaseID)+"/run", outcome, nil)
}

// RunTest starts a run and returns the raw event stream. The caller closes it.
func (c *Client) RunTest(ctx context.Context, def types.TestCaseDefinition) (io.ReadCloser, error) {
	req, err := c.newRequest(ctx, http.MethodPost, "/run-test", def)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeExecution, "start test run")
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		return nil, responseError(resp, apperrors.ErrCodeExecution)
	}
	return resp.Body, nil
}

func (c *Client) do(ctx context.Context, method, p string, body, out any) error {
	req, err := c.newRequest(ctx, method, p, body)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "request failed").
			WithContext("method", method).
			WithContext("path", p)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return responseError(resp, apperrors.ErrCodeInternal)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "decode response").WithContext("path", p)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, p string, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.apiURL(p), reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *Client) apiURL(p string) string {
	u := *c.baseURL
	u.Path = path.Join(strings.TrimSuffix(u.Path, "/"), "/api", p)
	u.RawPath = ""
	return u.String()
}

// responseError turns an error response into a coded error carrying the
// server's message.
func responseError(resp *http.Response, fallback apperrors.ErrorCode) error {
	data := readBodyLimited(resp.Body, maxErrorBodyBytes)
	msg := strings.TrimSpace(string(data))
	var payload struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(data, &payload) == nil && payload.Error != "" {
		msg = payload.Error
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return apperrors.New(codeForStatus(resp.StatusCode, fallback), msg).
		WithContext("status", resp.StatusCode).
		WithUserMessage(msg)
}

func codeForStatus(status int, fallback apperrors.ErrorCode) apperrors.ErrorCode {
	switch status {
	case http.StatusUnauthorized:
		return apperrors.ErrCodeUnauthorized
	case http.StatusForbidden:
		return apperrors.ErrCodeForbidden
	case http.StatusNotFound:
		return apperrors.ErrCodeNotFound
	case http.StatusBadRequest:
		return apperrors.ErrCodeInvalidInput
	case http.StatusTooManyRequests:
		return apperrors.ErrCodeRateLimited
	}
	return fallback
}

func readBodyLimited(r io.Reader, maxBytes int64) []byte {
	if r == nil || maxBytes <= 0 {
		return nil
	}
	data, _ := io.ReadAll(io.LimitReader(r, maxBytes))
	return data
}
