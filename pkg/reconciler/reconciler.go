package reconciler

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/runnerx/runnerx/pkg/cache"
	"github.com/runnerx/runnerx/pkg/clock"
	"github.com/runnerx/runnerx/pkg/events"
	"github.com/runnerx/runnerx/pkg/log"
	"github.com/runnerx/runnerx/pkg/metrics"
	"github.com/runnerx/runnerx/pkg/types"
)

// DefaultDebounce is the quiet period after the last Record before a flush
const DefaultDebounce = 100 * time.Millisecond

type state int

const (
	stateIdle state = iota
	statePending
)

// Config configures a Reconciler
type Config struct {
	// Debounce is the quiet period before pending updates are flushed
	Debounce time.Duration

	// Views lists the cache categories each flushed update is applied
	// to, typically the collection view and the per-entity detail view
	Views []types.Category

	Clock clock.Clock
}

// DefaultConfig returns the configuration used for monitor updates
func DefaultConfig() Config {
	return Config{
		Debounce: DefaultDebounce,
		Views:    []types.Category{types.CategoryMonitors, types.CategoryMonitor},
		Clock:    clock.Real(),
	}
}

// Reconciler coalesces rapid entity updates and applies them to the
// cache in one batch once updates stop arriving for a debounce window
type Reconciler struct {
	store  *cache.Store
	config Config
	logger zerolog.Logger

	mu       sync.Mutex
	state    state
	deadline time.Time
	gen      uint64
	timer    *clock.Timer
	pending  map[string]types.Entity
	closed   bool
	flushes  uint64

	// flushMu serializes flushes so that an older batch is never applied
	// after a newer one for the same entity
	flushMu sync.Mutex
}

// NewReconciler creates a reconciler writing into store
func NewReconciler(store *cache.Store, cfg Config) *Reconciler {
	defaults := DefaultConfig()
	if cfg.Debounce <= 0 {
		cfg.Debounce = defaults.Debounce
	}
	if len(cfg.Views) == 0 {
		cfg.Views = defaults.Views
	}
	if cfg.Clock == nil {
		cfg.Clock = defaults.Clock
	}

	return &Reconciler{
		store:   store,
		config:  cfg,
		logger:  log.WithComponent("reconciler"),
		pending: make(map[string]types.Entity),
	}
}

// Attach subscribes the reconciler to monitor:update events and returns
// the unsubscribe func
func (r *Reconciler) Attach(reg *events.Registry) func() {
	return reg.Subscribe(events.KindMonitorUpdate, func(ev events.Event) {
		update, ok := ev.(events.MonitorUpdate)
		if !ok {
			return
		}
		if update.MonitorID == "" {
			r.logger.Warn().Msg("Ignoring monitor update without monitor_id")
			return
		}
		r.Record(update.MonitorID, update.Fields())
	})
}

// Record merges fields into the pending update for id and restarts the
// debounce window. Later fields overwrite earlier ones for the same id.
func (r *Reconciler) Record(id string, fields types.Entity) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		r.logger.Debug().Str("id", id).Msg("Dropping update recorded after close")
		return
	}

	r.pending[id] = r.pending[id].Merge(fields)

	if r.timer != nil {
		r.timer.Stop()
	}
	r.gen++
	gen := r.gen
	r.state = statePending
	r.deadline = r.config.Clock.Now().Add(r.config.Debounce)
	r.timer = r.config.Clock.AfterFunc(r.config.Debounce, func() { r.fire(gen) })
}

func (r *Reconciler) fire(gen uint64) {
	r.mu.Lock()
	stale := gen != r.gen || r.state != statePending
	r.mu.Unlock()

	if stale {
		return
	}
	r.Flush()
}

// Flush applies every pending update to the configured views in one
// cache batch and returns the number of entities flushed. Updates for
// entities absent from a view are discarded for that view.
func (r *Reconciler) Flush() int {
	r.flushMu.Lock()
	defer r.flushMu.Unlock()

	r.mu.Lock()
	pending := r.pending
	r.pending = make(map[string]types.Entity)
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	r.state = stateIdle
	r.deadline = time.Time{}
	if len(pending) > 0 {
		r.flushes++
	}
	r.mu.Unlock()

	if len(pending) == 0 {
		return 0
	}

	applied := 0
	r.store.Batch(func(tx *cache.Tx) {
		for id, fields := range pending {
			for _, view := range r.config.Views {
				if _, ok := tx.Update(cache.Key{Category: view, ID: id}, fields); ok {
					applied++
				}
			}
		}
	})

	metrics.FlushesTotal.Inc()
	metrics.FlushBatchSize.Observe(float64(len(pending)))
	r.logger.Debug().
		Int("entities", len(pending)).
		Int("applied", applied).
		Msg("Flushed pending updates")

	return len(pending)
}

// Pending returns the number of entities waiting to be flushed
func (r *Reconciler) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Deadline returns when the pending batch will flush, and false when idle
func (r *Reconciler) Deadline() (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.deadline, r.state == statePending
}

// Flushes returns how many non-empty flushes have been applied
func (r *Reconciler) Flushes() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.flushes
}

// Close stops the debounce timer and flushes whatever is pending.
// Updates recorded afterwards are dropped.
func (r *Reconciler) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	r.Flush()
}
