// Package qsdk is the client side of qci: CLI configuration, stored
// credentials and a typed client for the server API.
package qsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/quatton/qci/pkg/qapi/schemas"
	"github.com/quatton/qci/pkg/qerr"
	"golang.org/x/oauth2"
)

var ErrNotFound = errors.New("not found")

// APIError is a non-2xx response.
type APIError struct {
	Status int    `json:"status"`
	Title  string `json:"title"`
	Detail string `json:"detail"`
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%d %s: %s", e.Status, e.Title, e.Detail)
	}
	return fmt.Sprintf("%d %s", e.Status, e.Title)
}

// Client talks to a qci server. Every request carries the bearer token.
type Client struct {
	baseURL string
	http    *http.Client
}

// ClientOption configures a Client
type ClientOption func(*clientOptions)

type clientOptions struct {
	httpClient *http.Client
	timeout    time.Duration
}

// WithHTTPClient sets the transport the token source wraps.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(o *clientOptions) { o.httpClient = c }
}

func WithTimeout(d time.Duration) ClientOption {
	return func(o *clientOptions) { o.timeout = d }
}

func NewClient(baseURL, token string, opts ...ClientOption) *Client {
	o := clientOptions{timeout: 30 * time.Second}
	for _, opt := range opts {
		opt(&o)
	}

	ctx := context.Background()
	if o.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, o.httpClient)
	}
	var hc *http.Client
	if token != "" {
		hc = oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}))
	} else if o.httpClient != nil {
		hc = o.httpClient
	} else {
		hc = &http.Client{}
	}
	hc.Timeout = o.timeout

	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: hc}
}

// NewClientFromConfig resolves the token from config, env or keyring.
func NewClientFromConfig(cfg *Config, opts ...ClientOption) (*Client, error) {
	token, err := ResolveToken(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load token: %w", err)
	}
	if token == "" {
		return nil, qerr.Errorf(qerr.CodeUnauthorized, "no token for %s; run `qcictl auth set-token` or set QCI_TOKEN", cfg.BaseURL)
	}
	return NewClient(cfg.BaseURL, token, opts...), nil
}

func (c *Client) BaseURL() string { return c.baseURL }

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode, Title: http.StatusText(resp.StatusCode)}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	_ = json.Unmarshal(data, apiErr)
	if apiErr.Status == 0 {
		apiErr.Status = resp.StatusCode
	}

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return qerr.New(qerr.CodeUnauthorized, apiErr)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %w", ErrNotFound, apiErr)
	}
	return apiErr
}

// DispatchEvent posts an event of the given type.
func (c *Client) DispatchEvent(ctx context.Context, eventType string, ev schemas.EventRequest) (*schemas.EventAccepted, error) {
	var out schemas.EventAccepted
	if err := c.do(ctx, http.MethodPost, "/api/events/"+url.PathEscape(eventType), ev, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListEventTypes(ctx context.Context) ([]string, error) {
	var out struct {
		Types []string `json:"types"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/events", nil, &out); err != nil {
		return nil, err
	}
	return out.Types, nil
}

func (c *Client) ListPipelines(ctx context.Context) ([]schemas.Pipeline, error) {
	var out struct {
		Pipelines []schemas.Pipeline `json:"pipelines"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/pipelines", nil, &out); err != nil {
		return nil, err
	}
	return out.Pipelines, nil
}

func (c *Client) GetPipeline(ctx context.Context, name string) (*schemas.Pipeline, error) {
	var out schemas.Pipeline
	if err := c.do(ctx, http.MethodGet, "/api/pipelines/"+url.PathEscape(name), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// TriggerPipeline starts a pipeline through a manual event.
func (c *Client) TriggerPipeline(ctx context.Context, name string, req schemas.TriggerRequest) (*schemas.EventAccepted, error) {
	var out schemas.EventAccepted
	if err := c.do(ctx, http.MethodPost, "/api/pipelines/"+url.PathEscape(name)+"/runs", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) SubmitRun(ctx context.Context, req schemas.SubmitRunRequest) (*schemas.RunResponse, error) {
	var out schemas.RunResponse
	if err := c.do(ctx, http.MethodPost, "/api/runs", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListRuns lists runs, optionally filtered by status.
func (c *Client) ListRuns(ctx context.Context, status string) ([]schemas.RunResponse, error) {
	path := "/api/runs"
	if status != "" {
		path += "?status=" + url.QueryEscape(status)
	}
	var out struct {
		Runs []schemas.RunResponse `json:"runs"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Runs, nil
}

func (c *Client) GetRun(ctx context.Context, runID string) (*schemas.RunResponse, error) {
	var out schemas.RunResponse
	if err := c.do(ctx, http.MethodGet, "/api/runs/"+url.PathEscape(runID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CancelRun(ctx context.Context, runID string) error {
	return c.do(ctx, http.MethodDelete, "/api/runs/"+url.PathEscape(runID), nil, nil)
}

func (c *Client) GetLogs(ctx context.Context, runID string) (string, error) {
	var out struct {
		Logs string `json:"logs"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/runs/"+url.PathEscape(runID)+"/logs", nil, &out); err != nil {
		return "", err
	}
	return out.Logs, nil
}

// WaitRun polls until the run reaches a terminal status.
func (c *Client) WaitRun(ctx context.Context, runID string, interval time.Duration) (*schemas.RunResponse, error) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		run, err := c.GetRun(ctx, runID)
		if err != nil {
			return nil, err
		}
		if isFinished(run.Status) {
			return run, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// WaitEventRuns waits until want runs labelled with eventID exist and all
// of them have finished. Runs are returned oldest first.
func (c *Client) WaitEventRuns(ctx context.Context, eventID string, want int, interval time.Duration) ([]schemas.RunResponse, error) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		runs, err := c.ListRuns(ctx, "")
		if err != nil {
			return nil, err
		}
		var matched []schemas.RunResponse
		finished := 0
		for _, run := range runs {
			if run.Labels["event_id"] != eventID {
				continue
			}
			matched = append(matched, run)
			if isFinished(run.Status) {
				finished++
			}
		}
		if len(matched) >= want && finished == len(matched) {
			return matched, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func isFinished(status string) bool {
	switch status {
	case "succeeded", "failed", "timeout", "cancelled":
		return true
	}
	return false
}
