package health

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/runnerx/runnerx/pkg/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAPIChecker(t *testing.T) {
	tests := []struct {
		name        string
		token       string
		status      int
		body        string
		wantHealthy bool
		wantMessage string
	}{
		{name: "ok", token: "secret", status: http.StatusOK, body: `{"count":3}`, wantHealthy: true, wantMessage: "3 unread"},
		{name: "no content", token: "secret", status: http.StatusNoContent, wantHealthy: true, wantMessage: "HTTP 204"},
		{name: "server error", token: "secret", status: http.StatusInternalServerError, body: `{"error":"database unavailable"}`, wantMessage: "database unavailable"},
		{name: "redirect", token: "secret", status: http.StatusNotModified, wantMessage: "HTTP 304"},
		{name: "rejected credential", token: "expired", status: http.StatusOK, wantMessage: "credential rejected"},
		{name: "missing credential", status: http.StatusOK, wantMessage: "credential rejected"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Header.Get("Authorization") != "Bearer secret" {
					w.WriteHeader(http.StatusUnauthorized)
					return
				}
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			result := NewAPIChecker(server.URL, tt.token, time.Second).Check(context.Background())
			assert.Equal(t, tt.wantHealthy, result.Healthy, result.Message)
			assert.Contains(t, result.Message, tt.wantMessage)
			assert.Positive(t, result.Duration)
		})
	}
}

func TestAPICheckerTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	result := NewAPIChecker(server.URL, "secret", 50*time.Millisecond).Check(context.Background())
	assert.False(t, result.Healthy)
	assert.Contains(t, result.Message, "request failed")
}

func TestAPICheckerCancelledContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := NewAPIChecker(server.URL, "secret", 0).Check(ctx)
	assert.False(t, result.Healthy)
}

func TestStreamChecker(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()

	checker := NewStreamChecker(addr, 0)
	assert.Equal(t, defaultTimeout, checker.Timeout)
	assert.Equal(t, CheckTypeTCP, checker.Type())
	result := checker.Check(context.Background())
	assert.True(t, result.Healthy, result.Message)

	require.NoError(t, ln.Close())
	result = NewStreamChecker(addr, time.Second).Check(context.Background())
	assert.False(t, result.Healthy)
	assert.Contains(t, result.Message, "connection failed")
}

func TestStreamAddress(t *testing.T) {
	tests := []struct {
		url  string
		want string
		err  bool
	}{
		{url: "ws://localhost:8080/ws", want: "localhost:8080"},
		{url: "ws://example.com/ws", want: "example.com:80"},
		{url: "wss://example.com/ws", want: "example.com:443"},
		{url: "wss://[::1]/ws", want: "[::1]:443"},
		{url: "/ws", err: true},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			got, err := streamAddress(tt.url)
			if tt.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRunChecksBackend(t *testing.T) {
	var (
		mu               sync.Mutex
		gotPath, gotAuth string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		mu.Unlock()
		_, _ = w.Write([]byte(`{"count":0}`))
	}))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	checkers, err := Targets(server.URL+"/api", wsURL, "secret", time.Second)
	require.NoError(t, err)
	assert.Equal(t, CheckTypeHTTP, checkers[ProbeAPI].Type())

	report := Run(context.Background(), checkers)
	assert.True(t, report.Healthy())
	assert.Equal(t, []string{ProbeAPI, ProbeStream}, report.Names())
	mu.Lock()
	assert.Equal(t, "/api/notifications/unread", gotPath)
	assert.Equal(t, "Bearer secret", gotAuth)
	mu.Unlock()

	assert.Equal(t, "healthy", metrics.GetHealth().Components[ProbeAPI])
}

func TestStatusRetries(t *testing.T) {
	cfg := Config{Retries: 2}
	s := NewStatus()

	s.Update(Result{Healthy: false}, cfg)
	assert.True(t, s.Healthy)
	assert.Equal(t, 1, s.ConsecutiveFailures)

	s.Update(Result{Healthy: false}, cfg)
	assert.False(t, s.Healthy)

	s.Update(Result{Healthy: true}, cfg)
	assert.True(t, s.Healthy)
	assert.Equal(t, 0, s.ConsecutiveFailures)
	assert.Equal(t, 1, s.ConsecutiveSuccesses)
}
