package metrics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetHealth() {
	healthChecker = newHealthChecker()
}

func TestGetHealth(t *testing.T) {
	tests := []struct {
		name     string
		setup    func()
		expected string
	}{
		{
			name:     "no components",
			setup:    func() {},
			expected: "healthy",
		},
		{
			name: "all healthy",
			setup: func() {
				UpdateComponent(ComponentChannel, true, "")
				UpdateComponent(ComponentPoller, true, "")
			},
			expected: "healthy",
		},
		{
			name: "channel down degrades",
			setup: func() {
				UpdateComponent(ComponentChannel, false, "reconnecting")
				UpdateComponent(ComponentPoller, true, "")
			},
			expected: "degraded",
		},
		{
			name: "poller down is unhealthy",
			setup: func() {
				UpdateComponent(ComponentChannel, false, "failed")
				UpdateComponent(ComponentPoller, false, "fetch failed")
			},
			expected: "unhealthy",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetHealth()
			tt.setup()
			assert.Equal(t, tt.expected, GetHealth().Status)
		})
	}
}

func TestGetHealthComponentMessages(t *testing.T) {
	resetHealth()
	SetVersion("1.2.3")
	UpdateComponent(ComponentChannel, false, "connection refused")
	UpdateComponent(ComponentCache, true, "")

	health := GetHealth()
	assert.Equal(t, "unhealthy: connection refused", health.Components[ComponentChannel])
	assert.Equal(t, "healthy", health.Components[ComponentCache])
	assert.Equal(t, "1.2.3", health.Version)
}

func TestHealthHandler(t *testing.T) {
	tests := []struct {
		name           string
		method         string
		pollerHealthy  bool
		expectedStatus int
	}{
		{name: "healthy", method: http.MethodGet, pollerHealthy: true, expectedStatus: http.StatusOK},
		{name: "unhealthy", method: http.MethodGet, pollerHealthy: false, expectedStatus: http.StatusServiceUnavailable},
		{name: "wrong method", method: http.MethodPost, pollerHealthy: true, expectedStatus: http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetHealth()
			UpdateComponent(ComponentPoller, tt.pollerHealthy, "fetch failed")

			req := httptest.NewRequest(tt.method, "/health", nil)
			w := httptest.NewRecorder()
			HealthHandler()(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
			if tt.method == http.MethodGet {
				var body HealthStatus
				require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
				assert.NotZero(t, body.Timestamp)
				assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
			}
		})
	}
}
