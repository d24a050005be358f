package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := DefaultConfig(srv.URL+"/api", "secret")
	cfg.RequestsPerSecond = 0
	c, err := NewClient(cfg)
	require.NoError(t, err)
	return c
}

func TestGetMonitors(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/monitors", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`[{"id":7,"name":"api","status":"up"},{"id":8,"name":"web","status":"down"}]`))
	})

	monitors, err := c.GetMonitors(context.Background())
	require.NoError(t, err)
	require.Len(t, monitors, 2)

	id, ok := monitors[0].ID()
	assert.True(t, ok)
	assert.Equal(t, "7", id)
	assert.Equal(t, json.Number("8"), monitors[1]["id"])
}

func TestGetMonitorStatsSetsID(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/monitor/7/stats", r.URL.Path)
		_, _ = w.Write([]byte(`{"total_checks":10,"uptime_percent":99.5}`))
	})

	stats, err := c.GetMonitorStats(context.Background(), "7")
	require.NoError(t, err)
	assert.Equal(t, "7", stats["id"])
	assert.Equal(t, json.Number("10"), stats["total_checks"])
}

func TestToggleMonitor(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "/api/monitor/7/toggle", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"enabled":false}`, string(body))
		_, _ = w.Write([]byte(`{"id":7,"enabled":false}`))
	})

	monitor, err := c.ToggleMonitor(context.Background(), "7", false)
	require.NoError(t, err)
	assert.Equal(t, false, monitor["enabled"])
}

func TestNotificationEndpoints(t *testing.T) {
	var calls []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, r.Method+" "+r.URL.Path)
		switch r.URL.Path {
		case "/api/notifications":
			_, _ = w.Write([]byte(`[{"id":1,"message":"down","seen":false}]`))
		case "/api/notifications/unread":
			_, _ = w.Write([]byte(`{"count":3}`))
		case "/api/notification/1/mark_seen":
			_, _ = w.Write([]byte(`{"id":1,"seen":true}`))
		case "/api/notifications/mark_all_seen":
			_, _ = w.Write([]byte(`{"message":"All notifications marked as seen"}`))
		default:
			http.NotFound(w, r)
		}
	})
	ctx := context.Background()

	list, err := c.GetNotifications(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	count, err := c.GetUnreadCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	seen, err := c.MarkNotificationSeen(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, true, seen["seen"])

	require.NoError(t, c.MarkAllNotificationsSeen(ctx))

	assert.Equal(t, []string{
		"GET /api/notifications",
		"GET /api/notifications/unread",
		"PUT /api/notification/1/mark_seen",
		"PUT /api/notifications/mark_all_seen",
	}, calls)
}

func TestAPIErrors(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		wantMessage string
		notFound    bool
		rateLimited bool
	}{
		{"error field", http.StatusInternalServerError, `{"error":"Failed to fetch monitors"}`, "Failed to fetch monitors", false, false},
		{"message field", http.StatusBadRequest, `{"message":"bad input"}`, "bad input", false, false},
		{"not found", http.StatusNotFound, `{"error":"Monitor not found"}`, "Monitor not found", true, false},
		{"rate limited", http.StatusTooManyRequests, `{"error":"Too many requests"}`, "Too many requests", false, true},
		{"non json body", http.StatusBadGateway, `<html>bad gateway</html>`, "", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := c.GetMonitor(context.Background(), "7")
			require.Error(t, err)

			var apiErr *APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tt.status, apiErr.StatusCode)
			assert.Equal(t, tt.wantMessage, apiErr.Message)
			assert.Equal(t, tt.notFound, errors.Is(err, ErrNotFound))
			assert.Equal(t, tt.rateLimited, apiErr.RateLimited())
		})
	}
}

func TestNewClientRejectsBadURL(t *testing.T) {
	_, err := NewClient(DefaultConfig("ftp://example.com", ""))
	assert.Error(t, err)
	_, err = NewClient(DefaultConfig("://bad", ""))
	assert.Error(t, err)
}

func TestRateLimiterHonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	cfg := DefaultConfig(srv.URL, "")
	cfg.RequestsPerSecond = 0.001
	cfg.Burst = 1
	c, err := NewClient(cfg)
	require.NoError(t, err)

	_, err = c.GetMonitors(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.GetMonitors(ctx)
	assert.Error(t, err)
}
