package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/runnerx/runnerx/pkg/log"
	"github.com/runnerx/runnerx/pkg/metrics"
	"github.com/runnerx/runnerx/pkg/types"
	"golang.org/x/time/rate"
)

// ErrNotFound is returned when the API answers 404
var ErrNotFound = errors.New("not found")

// maxErrorBody bounds how much of an error response is read
const maxErrorBody = 64 << 10

// APIError is a non-2xx API response
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api error: %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("api error: %d: %s", e.StatusCode, e.Message)
}

// RateLimited reports whether the server rejected the request with 429
func (e *APIError) RateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

// Is makes 404 responses match ErrNotFound
func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// Config configures a Client
type Config struct {
	// BaseURL is the API root, for example http://localhost:8080/api
	BaseURL string
	Token   string
	Timeout time.Duration

	// RequestsPerSecond limits outgoing requests; 0 disables limiting
	RequestsPerSecond float64
	Burst             int
}

// DefaultConfig returns the default client configuration
func DefaultConfig(baseURL, token string) Config {
	return Config{
		BaseURL:           baseURL,
		Token:             token,
		Timeout:           10 * time.Second,
		RequestsPerSecond: 5,
		Burst:             10,
	}
}

// Client calls the RunnerX REST API
type Client struct {
	baseURL *url.URL
	token   string
	http    *http.Client
	limiter *rate.Limiter
	logger  zerolog.Logger
}

// NewClient creates a new API client
func NewClient(cfg Config) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid api url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid api url %q: scheme must be http or https", cfg.BaseURL)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	return &Client{
		baseURL: base,
		token:   cfg.Token,
		http:    &http.Client{Timeout: timeout},
		limiter: limiter,
		logger:  log.WithComponent("client"),
	}, nil
}

// SetToken replaces the bearer token used for subsequent requests
func (c *Client) SetToken(token string) {
	c.token = token
}

// GetMonitors returns the monitor collection
func (c *Client) GetMonitors(ctx context.Context) ([]types.Entity, error) {
	var out []types.Entity
	if err := c.do(ctx, http.MethodGet, "/monitors", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetMonitor returns one monitor
func (c *Client) GetMonitor(ctx context.Context, id string) (types.Entity, error) {
	var out types.Entity
	if err := c.do(ctx, http.MethodGet, "/monitor/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetMonitorStats returns the statistics of one monitor. The response
// carries no id, so the monitor id is set on the returned entity.
func (c *Client) GetMonitorStats(ctx context.Context, id string) (types.Entity, error) {
	var out types.Entity
	if err := c.do(ctx, http.MethodGet, "/monitor/"+url.PathEscape(id)+"/stats", nil, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = types.Entity{}
	}
	out["id"] = id
	return out, nil
}

// ToggleMonitor enables or disables a monitor and returns its new state
func (c *Client) ToggleMonitor(ctx context.Context, id string, enabled bool) (types.Entity, error) {
	var out types.Entity
	body := map[string]bool{"enabled": enabled}
	if err := c.do(ctx, http.MethodPatch, "/monitor/"+url.PathEscape(id)+"/toggle", body, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetNotifications returns the notification list
func (c *Client) GetNotifications(ctx context.Context) ([]types.Entity, error) {
	var out []types.Entity
	if err := c.do(ctx, http.MethodGet, "/notifications", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetUnreadCount returns the number of unseen notifications
func (c *Client) GetUnreadCount(ctx context.Context) (int, error) {
	var out struct {
		Count json.Number `json:"count"`
	}
	if err := c.do(ctx, http.MethodGet, "/notifications/unread", nil, &out); err != nil {
		return 0, err
	}
	if out.Count == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(out.Count.String())
	if err != nil {
		return 0, fmt.Errorf("invalid unread count %q: %w", out.Count, err)
	}
	return n, nil
}

// MarkNotificationSeen marks one notification as seen
func (c *Client) MarkNotificationSeen(ctx context.Context, id string) (types.Entity, error) {
	var out types.Entity
	if err := c.do(ctx, http.MethodPut, "/notification/"+url.PathEscape(id)+"/mark_seen", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// MarkAllNotificationsSeen marks every notification as seen
func (c *Client) MarkAllNotificationsSeen(ctx context.Context) error {
	return c.do(ctx, http.MethodPut, "/notifications/mark_all_seen", nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.String()+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	timer := metrics.NewTimer()
	resp, err := c.http.Do(req)
	timer.ObserveDurationVec(metrics.APIRequestDuration, method)
	if err != nil {
		metrics.APIRequestsTotal.WithLabelValues(method, "error").Inc()
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	metrics.APIRequestsTotal.WithLabelValues(method, strconv.Itoa(resp.StatusCode)).Inc()
	c.logger.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("duration", timer.Duration()).
		Msg("API request")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s %s response: %w", method, path, err)
	}
	return nil
}

// decodeError builds an APIError, taking the message from the "error"
// or "message" field of a JSON body
func decodeError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil || len(data) == 0 {
		return apiErr
	}

	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(data, &body) == nil {
		switch {
		case body.Error != "":
			apiErr.Message = body.Error
		case body.Message != "":
			apiErr.Message = body.Message
		}
	}
	return apiErr
}
