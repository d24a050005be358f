package health

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/tidwall/gjson"
)

const defaultTimeout = 5 * time.Second

// APIChecker requests the unread counter with the session credential. It
// is the cheapest authenticated endpoint and answers 401 once the
// credential is no longer accepted.
type APIChecker struct {
	URL    string
	Token  string
	Client *http.Client
}

// NewAPIChecker creates an API check against url. A non-positive timeout
// uses the default.
func NewAPIChecker(url, token string, timeout time.Duration) *APIChecker {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &APIChecker{
		URL:    url,
		Token:  token,
		Client: &http.Client{Timeout: timeout},
	}
}

// Check requests the counter once. Only 2xx answers are healthy.
func (a *APIChecker) Check(ctx context.Context) Result {
	start := time.Now()
	result := func(healthy bool, format string, args ...any) Result {
		return Result{
			Healthy:   healthy,
			Message:   fmt.Sprintf(format, args...),
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.URL, nil)
	if err != nil {
		return result(false, "failed to create request: %v", err)
	}
	req.Header.Set("Accept", "application/json")
	if a.Token != "" {
		req.Header.Set("Authorization", "Bearer "+a.Token)
	}

	resp, err := a.Client.Do(req)
	if err != nil {
		return result(false, "request failed: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	status := fmt.Sprintf("HTTP %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return result(false, "%s (credential rejected)", status)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		if msg := gjson.GetBytes(body, "error"); msg.Type == gjson.String {
			return result(false, "%s: %s", status, msg.Str)
		}
		return result(false, "%s", status)
	}

	if count := gjson.GetBytes(body, "count"); count.Exists() {
		return result(true, "%s, %d unread", status, count.Int())
	}
	return result(true, "%s", status)
}

// Type returns CheckTypeHTTP
func (a *APIChecker) Type() CheckType {
	return CheckTypeHTTP
}

// StreamChecker checks that the event stream host accepts TCP
// connections. It stops at the TCP handshake since a websocket upgrade
// would count as a session on the server.
type StreamChecker struct {
	Address string
	Timeout time.Duration
}

// NewStreamChecker creates a stream check for address (host:port). A
// non-positive timeout uses the default.
func NewStreamChecker(address string, timeout time.Duration) *StreamChecker {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &StreamChecker{Address: address, Timeout: timeout}
}

// Check dials the stream host once
func (s *StreamChecker) Check(ctx context.Context) Result {
	start := time.Now()

	dialer := &net.Dialer{Timeout: s.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", s.Address)
	if err != nil {
		return Result{
			Message:   fmt.Sprintf("connection failed: %v", err),
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}
	_ = conn.Close()

	return Result{
		Healthy:   true,
		Message:   fmt.Sprintf("%s accepting connections", s.Address),
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

// Type returns CheckTypeTCP
func (s *StreamChecker) Type() CheckType {
	return CheckTypeTCP
}
