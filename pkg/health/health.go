package health

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/runnerx/runnerx/pkg/metrics"
	"golang.org/x/sync/errgroup"
)

// CheckType represents the type of probe
type CheckType string

const (
	CheckTypeHTTP CheckType = "http"
	CheckTypeTCP  CheckType = "tcp"
)

// Probe names used by Targets
const (
	ProbeAPI    = "api"
	ProbeStream = "stream"
)

// Result represents the outcome of a probe
type Result struct {
	Healthy   bool
	Message   string
	CheckedAt time.Time
	Duration  time.Duration
}

// Checker is implemented by every probe
type Checker interface {
	// Check probes the endpoint once
	Check(ctx context.Context) Result

	// Type returns the type of probe
	Type() CheckType
}

// Config controls how results are folded into a Status
type Config struct {
	// Timeout bounds a single probe
	Timeout time.Duration

	// Retries is the number of consecutive failures before an endpoint is
	// reported unreachable
	Retries int
}

// DefaultConfig returns the probe defaults
func DefaultConfig() Config {
	return Config{
		Timeout: 5 * time.Second,
		Retries: 1,
	}
}

// Status tracks consecutive results for one endpoint
type Status struct {
	ConsecutiveFailures  int
	ConsecutiveSuccesses int
	LastResult           Result

	// Healthy stays true until Retries consecutive failures are seen
	Healthy bool
}

// NewStatus creates a Status that starts healthy
func NewStatus() *Status {
	return &Status{Healthy: true}
}

// Update folds a new result into the status
func (s *Status) Update(result Result, config Config) {
	s.LastResult = result

	if result.Healthy {
		s.ConsecutiveSuccesses++
		s.ConsecutiveFailures = 0
		s.Healthy = true
		return
	}

	s.ConsecutiveFailures++
	s.ConsecutiveSuccesses = 0
	if s.ConsecutiveFailures >= max(config.Retries, 1) {
		s.Healthy = false
	}
}

// Targets builds the probes for a RunnerX backend: an authenticated HTTP
// request against the API and a TCP connect to the event stream host
func Targets(apiURL, wsURL, token string, timeout time.Duration) (map[string]Checker, error) {
	api, err := url.Parse(apiURL)
	if err != nil {
		return nil, fmt.Errorf("invalid api url: %w", err)
	}
	api.Path = api.Path + "/notifications/unread"

	addr, err := streamAddress(wsURL)
	if err != nil {
		return nil, err
	}

	return map[string]Checker{
		ProbeAPI:    NewAPIChecker(api.String(), token, timeout),
		ProbeStream: NewStreamChecker(addr, timeout),
	}, nil
}

// streamAddress returns host:port of a ws(s) URL, defaulting the port by
// scheme
func streamAddress(wsURL string) (string, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return "", fmt.Errorf("invalid ws url: %w", err)
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("invalid ws url %q: no host", wsURL)
	}
	port := u.Port()
	if port == "" {
		switch u.Scheme {
		case "wss", "https":
			port = "443"
		default:
			port = "80"
		}
	}
	return net.JoinHostPort(u.Hostname(), port), nil
}

// Report is the outcome of one Run, by probe name
type Report map[string]Result

// Healthy reports whether every probe succeeded
func (r Report) Healthy() bool {
	for _, res := range r {
		if !res.Healthy {
			return false
		}
	}
	return true
}

// Names returns the probe names in sorted order
func (r Report) Names() []string {
	names := make([]string, 0, len(r))
	for name := range r {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Run executes every checker concurrently and publishes each result to
// the process health registry under its probe name
func Run(ctx context.Context, checkers map[string]Checker) Report {
	var (
		mu     sync.Mutex
		report = make(Report, len(checkers))
	)

	g, gctx := errgroup.WithContext(ctx)
	for name, checker := range checkers {
		g.Go(func() error {
			res := checker.Check(gctx)
			metrics.UpdateComponent(name, res.Healthy, res.Message)

			mu.Lock()
			report[name] = res
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return report
}
