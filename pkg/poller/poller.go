package poller

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/runnerx/runnerx/pkg/cache"
	"github.com/runnerx/runnerx/pkg/clock"
	"github.com/runnerx/runnerx/pkg/events"
	"github.com/runnerx/runnerx/pkg/log"
	"github.com/runnerx/runnerx/pkg/metrics"
	"github.com/runnerx/runnerx/pkg/types"
	"golang.org/x/sync/errgroup"
)

// DefaultMaxRetries is how many times a failed fetch is retried before
// waiting for the next regular tick
const DefaultMaxRetries = 2

// Fetcher loads the current contents of one category
type Fetcher func(ctx context.Context) ([]types.Entity, error)

// RateLimited is implemented by errors reporting an HTTP 429 response.
// Rate-limited fetches are never retried ahead of the regular interval.
type RateLimited interface {
	RateLimited() bool
}

// WriteMode controls how fetched entities are written to the store
type WriteMode int

const (
	// Replace makes the fetch result the full contents of the category
	Replace WriteMode = iota
	// Upsert writes the fetched entities and keeps the others
	Upsert
)

// Config configures a Coordinator
type Config struct {
	Policies   map[types.Category]Policy
	MaxRetries int
	Clock      clock.Clock
}

// DefaultConfig returns the default coordinator configuration
func DefaultConfig() Config {
	return Config{
		Policies:   DefaultPolicies(),
		MaxRetries: DefaultMaxRetries,
		Clock:      clock.Real(),
	}
}

type loop struct {
	category types.Category
	fetch    Fetcher
	mode     WriteMode

	timer    *clock.Timer
	gen      uint64
	inflight bool
	retries  int

	// epoch invalidates fetches started before the last Cancel
	epoch       uint64
	cancelFetch context.CancelFunc
	// writeMu orders store writes against Cancel
	writeMu sync.Mutex
}

// Coordinator schedules polling fetches per category. Intervals depend on
// whether the event stream is connected, which the coordinator learns
// only from connection lifecycle events.
type Coordinator struct {
	store  *cache.Store
	config Config
	logger zerolog.Logger

	mu        sync.Mutex
	connected bool
	loops     map[types.Category]*loop
	running   bool
	ctx       context.Context
	cancel    context.CancelFunc
	refreshes sync.WaitGroup
}

// NewCoordinator creates a coordinator writing fetch results into store
func NewCoordinator(store *cache.Store, cfg Config) *Coordinator {
	defaults := DefaultConfig()
	if cfg.Policies == nil {
		cfg.Policies = defaults.Policies
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.Clock == nil {
		cfg.Clock = defaults.Clock
	}

	c := &Coordinator{
		store:  store,
		config: cfg,
		logger: log.WithComponent("poller"),
		loops:  make(map[types.Category]*loop),
	}
	c.updateIntervalMetrics()
	return c
}

// Interval returns the recommended polling interval for category under
// the current connectivity. Unknown categories are not polled.
func (c *Coordinator) Interval(category types.Category) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.intervalLocked(category)
}

func (c *Coordinator) intervalLocked(category types.Category) time.Duration {
	return c.config.Policies[category].Interval(c.connected)
}

// Connected reports whether the event stream was last seen open
func (c *Coordinator) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Attach subscribes to connection lifecycle events and returns the
// unsubscribe func
func (c *Coordinator) Attach(reg *events.Registry) func() {
	unsubOpen := reg.Subscribe(events.KindConnectionOpen, func(events.Event) {
		c.setConnected(true)
	})
	unsubClose := reg.Subscribe(events.KindConnectionClose, func(events.Event) {
		c.setConnected(false)
	})
	return func() {
		unsubOpen()
		unsubClose()
	}
}

func (c *Coordinator) setConnected(connected bool) {
	c.mu.Lock()
	if c.connected == connected {
		c.mu.Unlock()
		return
	}
	c.connected = connected
	running := c.running
	if running && connected {
		c.refreshes.Add(1)
	}
	if running && !connected {
		// Fall back to the faster cadence right away
		for _, l := range c.loops {
			if !l.inflight {
				c.armLocked(l, c.intervalLocked(l.category))
			}
		}
	}
	c.mu.Unlock()

	c.updateIntervalMetrics()
	c.logger.Info().Bool("connected", connected).Msg("Polling cadence changed")

	if running && connected {
		go func() {
			defer c.refreshes.Done()
			if err := c.RefreshNow(); err != nil {
				c.logger.Debug().Err(err).Msg("Refresh after reconnect incomplete")
			}
		}()
	}
}

// Register sets the fetcher for category. Registering a category again
// replaces its fetcher.
func (c *Coordinator) Register(category types.Category, fetch Fetcher, mode WriteMode) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if l, ok := c.loops[category]; ok {
		l.fetch = fetch
		l.mode = mode
		return
	}
	l := &loop{category: category, fetch: fetch, mode: mode}
	c.loops[category] = l
	if c.running {
		c.armLocked(l, c.intervalLocked(category))
	}
}

// Categories returns the registered categories in sorted order
func (c *Coordinator) Categories() []types.Category {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]types.Category, 0, len(c.loops))
	for cat := range c.loops {
		out = append(out, cat)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Start fetches every registered category once and then keeps polling
// until Stop is called. The error reports failures of the initial
// fetches; polling continues regardless.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("poller already started")
	}
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.running = true
	c.mu.Unlock()

	c.logger.Info().Int("categories", len(c.Categories())).Msg("Starting poller")
	return c.RefreshNow()
}

// Stop cancels all timers and in-flight fetches
func (c *Coordinator) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	c.cancel()
	for _, l := range c.loops {
		l.timer.Stop()
		l.timer = nil
		l.gen++
	}
	c.mu.Unlock()

	c.refreshes.Wait()
	c.logger.Info().Msg("Poller stopped")
}

// RefreshNow fetches every registered category concurrently and waits
// for the fetches to complete. Each category's timer restarts afterwards.
func (c *Coordinator) RefreshNow() error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return fmt.Errorf("poller not running")
	}
	ctx := c.ctx
	loops := make([]*loop, 0, len(c.loops))
	for _, l := range c.loops {
		loops = append(loops, l)
	}
	c.mu.Unlock()

	var g errgroup.Group
	for _, l := range loops {
		g.Go(func() error {
			return c.refresh(ctx, l)
		})
	}
	return g.Wait()
}

// Refresh fetches one category immediately
func (c *Coordinator) Refresh(category types.Category) error {
	c.mu.Lock()
	l, ok := c.loops[category]
	running := c.running
	ctx := c.ctx
	c.mu.Unlock()

	if !ok {
		return fmt.Errorf("category %s is not registered", category)
	}
	if !running {
		return fmt.Errorf("poller not running")
	}
	return c.refresh(ctx, l)
}

// Cancel aborts the in-flight fetch of category, if any, and discards its
// result. When Cancel returns no fetch started before it can write to the
// store anymore, so a local write that follows is not overwritten by a
// stale response. The loop keeps its regular schedule.
func (c *Coordinator) Cancel(category types.Category) {
	c.mu.Lock()
	l, ok := c.loops[category]
	if !ok {
		c.mu.Unlock()
		return
	}
	l.epoch++
	if l.cancelFetch != nil {
		l.cancelFetch()
		l.cancelFetch = nil
	}
	canceled := l.inflight
	if l.inflight {
		l.inflight = false
		l.retries = 0
		if c.running {
			c.armLocked(l, c.intervalLocked(category))
		}
	}
	c.mu.Unlock()

	// Wait for a write that passed its epoch check before the bump
	l.writeMu.Lock()
	l.writeMu.Unlock()

	if canceled {
		logger := log.WithCategory(c.logger, string(category))
		logger.Debug().Msg("Canceled in-flight fetch")
	}
}

// refresh runs one fetch for l unless one is already in flight, then
// re-arms the loop: after the regular interval on success, after a retry
// delay on a retryable failure. A fetch overtaken by Cancel neither
// writes nor re-arms.
func (c *Coordinator) refresh(ctx context.Context, l *loop) error {
	c.mu.Lock()
	if l.inflight {
		c.mu.Unlock()
		return nil
	}
	l.inflight = true
	l.timer.Stop()
	l.gen++
	fetch, mode, epoch := l.fetch, l.mode, l.epoch
	fetchCtx, cancel := context.WithCancel(ctx)
	l.cancelFetch = cancel
	c.mu.Unlock()
	defer cancel()

	err := c.fetch(fetchCtx, l, epoch, fetch, mode)

	c.mu.Lock()
	defer c.mu.Unlock()
	if l.epoch != epoch {
		return nil
	}
	l.inflight = false
	l.cancelFetch = nil
	if !c.running {
		return err
	}

	next := c.intervalLocked(l.category)
	var rl RateLimited
	switch {
	case err == nil:
		l.retries = 0
	case errors.As(err, &rl) && rl.RateLimited():
		l.retries = 0
	case l.retries < c.config.MaxRetries:
		if delay := retryDelay(l.retries); next <= 0 || delay < next {
			next = delay
		}
		l.retries++
	default:
		l.retries = 0
	}
	c.armLocked(l, next)
	return err
}

func (c *Coordinator) fetch(ctx context.Context, l *loop, epoch uint64, fetch Fetcher, mode WriteMode) error {
	category := l.category
	logger := log.WithCategory(c.logger, string(category))
	timer := metrics.NewTimer()

	entities, err := fetch(ctx)
	timer.ObserveDurationVec(metrics.PollDuration, string(category))

	if err != nil {
		if ctx.Err() != nil {
			metrics.PollRequestsTotal.WithLabelValues(string(category), "canceled").Inc()
			logger.Debug().Err(err).Msg("Polling fetch canceled")
			return fmt.Errorf("fetch %s: %w", category, err)
		}
		result := "error"
		var rl RateLimited
		if errors.As(err, &rl) && rl.RateLimited() {
			result = "rate_limited"
		}
		metrics.PollRequestsTotal.WithLabelValues(string(category), result).Inc()
		logger.Warn().Err(err).Str("result", result).Msg("Polling fetch failed")
		return fmt.Errorf("fetch %s: %w", category, err)
	}

	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	c.mu.Lock()
	stale := l.epoch != epoch
	c.mu.Unlock()
	if stale {
		metrics.PollRequestsTotal.WithLabelValues(string(category), "canceled").Inc()
		logger.Debug().Int("entities", len(entities)).Msg("Discarded result of canceled fetch")
		return nil
	}

	switch mode {
	case Upsert:
		c.store.Batch(func(tx *cache.Tx) {
			for _, e := range entities {
				if id, ok := e.ID(); ok {
					tx.Set(cache.Key{Category: category, ID: id}, e)
				}
			}
		})
	default:
		if skipped := c.store.ReplaceCategory(category, entities); skipped > 0 {
			logger.Warn().Int("skipped", skipped).Msg("Fetched entities without id")
		}
	}

	metrics.PollRequestsTotal.WithLabelValues(string(category), "success").Inc()
	logger.Debug().Int("entities", len(entities)).Msg("Polling fetch applied")
	return nil
}

// armLocked schedules the next tick of l after d. A non-positive d
// leaves the loop idle until the next refresh or cadence change.
func (c *Coordinator) armLocked(l *loop, d time.Duration) {
	l.timer.Stop()
	l.timer = nil
	l.gen++
	if d <= 0 {
		return
	}
	gen := l.gen
	l.timer = c.config.Clock.AfterFunc(d, func() { c.tick(l, gen) })
}

func (c *Coordinator) tick(l *loop, gen uint64) {
	c.mu.Lock()
	stale := !c.running || l.gen != gen
	ctx := c.ctx
	c.mu.Unlock()
	if stale {
		return
	}
	_ = c.refresh(ctx, l)
}

func (c *Coordinator) updateIntervalMetrics() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for category := range c.config.Policies {
		metrics.PollInterval.WithLabelValues(string(category)).Set(c.intervalLocked(category).Seconds())
	}
}
