package poller

import (
	"time"

	"github.com/runnerx/runnerx/pkg/types"
)

// Policy holds the polling intervals for one category. A zero Connected
// interval disables polling while the event stream is healthy.
type Policy struct {
	Connected    time.Duration `yaml:"connected"`
	Disconnected time.Duration `yaml:"disconnected"`
}

// Interval returns the interval for the given connectivity
func (p Policy) Interval(connected bool) time.Duration {
	if connected {
		return p.Connected
	}
	return p.Disconnected
}

// DefaultPolicies returns the default per-category intervals
func DefaultPolicies() map[types.Category]Policy {
	return map[types.Category]Policy{
		types.CategoryMonitors:      {Connected: 30 * time.Second, Disconnected: 10 * time.Second},
		types.CategoryMonitor:       {Connected: 60 * time.Second, Disconnected: 15 * time.Second},
		types.CategoryNotifications: {Connected: 60 * time.Second, Disconnected: 15 * time.Second},
		types.CategoryUnread:        {Connected: 120 * time.Second, Disconnected: 30 * time.Second},
		types.CategoryMonitorStats:  {Connected: 60 * time.Second, Disconnected: 60 * time.Second},
	}
}

// retryDelay returns the delay before retry n (0-based) of a failed fetch
func retryDelay(n int) time.Duration {
	delay := time.Second << uint(n)
	if delay > 30*time.Second || delay <= 0 {
		return 30 * time.Second
	}
	return delay
}
