package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/runnerx/runnerx/pkg/auth"
	"github.com/runnerx/runnerx/pkg/cache"
	"github.com/runnerx/runnerx/pkg/channel"
	"github.com/runnerx/runnerx/pkg/client"
	"github.com/runnerx/runnerx/pkg/clock"
	"github.com/runnerx/runnerx/pkg/config"
	"github.com/runnerx/runnerx/pkg/events"
	"github.com/runnerx/runnerx/pkg/log"
	"github.com/runnerx/runnerx/pkg/metrics"
	"github.com/runnerx/runnerx/pkg/poller"
	"github.com/runnerx/runnerx/pkg/reconciler"
	"github.com/runnerx/runnerx/pkg/storage"
	"github.com/runnerx/runnerx/pkg/types"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrClosed is returned when a closed session is used
	ErrClosed = errors.New("session closed")
	// ErrStarted is returned by a second Start
	ErrStarted = errors.New("session already started")
)

// unreadID is the cache id of the unread notification counter
const unreadID = "unread"

// Option configures a Session
type Option func(*Session)

// WithClock sets the clock shared by every timer-driven component
func WithClock(clk clock.Clock) Option {
	return func(s *Session) { s.clock = clk }
}

// WithDialer sets the event stream transport
func WithDialer(d channel.Dialer) Option {
	return func(s *Session) { s.dialer = d }
}

// WithSnapshotStore sets the snapshot store instead of opening the one
// named by the configuration
func WithSnapshotStore(st storage.Store) Option {
	return func(s *Session) { s.snapshots = st }
}

// Session owns one instance of every synchronization component for the
// lifetime of a login
type Session struct {
	config *config.Config
	clock  clock.Clock
	dialer channel.Dialer
	logger zerolog.Logger

	registry   *events.Registry
	store      *cache.Store
	channel    *channel.Channel
	reconciler *reconciler.Reconciler
	poller     *poller.Coordinator
	api        *client.Client
	snapshots  storage.Store

	mu      sync.Mutex
	started bool
	closed  bool
	// restored is set once the snapshot was read into the store. Until
	// then the store holds less than the snapshot and is not saved.
	restored bool
	claims   auth.Claims
	tracked  map[string]bool
	unsubs   []func()
}

// New constructs a session from cfg. Nothing connects until Start.
func New(cfg *config.Config, opts ...Option) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	s := &Session{
		config:  cfg,
		clock:   clock.Real(),
		logger:  log.WithComponent("session"),
		tracked: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}

	api, err := client.NewClient(cfg.ClientConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create api client: %w", err)
	}
	s.api = api

	if s.snapshots == nil && cfg.SnapshotPath != "" {
		st, err := storage.NewBoltStore(cfg.SnapshotPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open snapshot store: %w", err)
		}
		s.snapshots = st
	}

	s.registry = events.NewRegistry()
	s.store = cache.NewStore(cache.WithClock(s.clock))

	chOpts := []channel.Option{channel.WithClock(s.clock)}
	if s.dialer != nil {
		chOpts = append(chOpts, channel.WithDialer(s.dialer))
	}
	s.channel = channel.New(cfg.ChannelConfig(), s.registry, chOpts...)

	rcfg := cfg.ReconcilerConfig()
	rcfg.Clock = s.clock
	s.reconciler = reconciler.NewReconciler(s.store, rcfg)

	pcfg := cfg.PollerConfig()
	pcfg.Clock = s.clock
	s.poller = poller.NewCoordinator(s.store, pcfg)

	return s, nil
}

// Registry returns the session's event registry
func (s *Session) Registry() *events.Registry { return s.registry }

// Store returns the session's cache
func (s *Session) Store() *cache.Store { return s.store }

// Channel returns the session's event channel
func (s *Session) Channel() *channel.Channel { return s.channel }

// Poller returns the session's polling coordinator
func (s *Session) Poller() *poller.Coordinator { return s.poller }

// Client returns the session's API client
func (s *Session) Client() *client.Client { return s.api }

// Claims returns what was read from the credential passed to Start
func (s *Session) Claims() auth.Claims {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.claims
}

// Start inspects the credential, restores the last snapshot, starts
// polling and connects the event stream. A failed initial connect is
// logged rather than returned: the channel keeps retrying and polling
// keeps the views fresh meanwhile.
func (s *Session) Start(ctx context.Context, credential string) error {
	claims, err := auth.Check(credential, s.clock.Now())
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.started {
		s.mu.Unlock()
		return ErrStarted
	}
	s.started = true
	s.claims = claims
	s.mu.Unlock()

	s.api.SetToken(credential)
	s.restoreSnapshot()
	s.mu.Lock()
	s.restored = true
	s.mu.Unlock()

	s.attach()
	s.registerFetchers()

	metrics.UpdateComponent(metrics.ComponentCache, true, "")
	if err := s.poller.Start(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Initial fetch incomplete")
		metrics.UpdateComponent(metrics.ComponentPoller, false, err.Error())
	} else {
		metrics.UpdateComponent(metrics.ComponentPoller, true, "")
	}

	if err := s.channel.Connect(ctx, credential); err != nil {
		s.logger.Warn().Err(err).Msg("Event stream unavailable, relying on polling")
	}

	s.logger.Info().
		Str("subject", claims.Subject).
		Bool("connected", s.channel.Status().Connected()).
		Msg("Session started")
	return nil
}

func (s *Session) attach() {
	unsubs := []func(){
		s.reconciler.Attach(s.registry),
		s.poller.Attach(s.registry),
		s.registry.Subscribe(events.KindNotification, func(events.Event) {
			go s.refresh(types.CategoryNotifications, types.CategoryUnread)
		}),
		s.registry.Subscribe(events.KindConnectionOpen, func(events.Event) {
			metrics.UpdateComponent(metrics.ComponentChannel, true, "")
		}),
		s.registry.Subscribe(events.KindConnectionClose, func(ev events.Event) {
			closeEv := ev.(events.ConnectionClose)
			metrics.UpdateComponent(metrics.ComponentChannel, false,
				fmt.Sprintf("closed with code %d", closeEv.Code))
		}),
		s.registry.Subscribe(events.KindConnectionFailed, func(ev events.Event) {
			failed := ev.(events.ConnectionFailed)
			metrics.UpdateComponent(metrics.ComponentChannel, false,
				fmt.Sprintf("reconnection failed after %d attempts", failed.Attempts))
		}),
	}

	s.mu.Lock()
	s.unsubs = append(s.unsubs, unsubs...)
	s.mu.Unlock()
}

func (s *Session) registerFetchers() {
	s.poller.Register(types.CategoryMonitors, s.api.GetMonitors, poller.Replace)
	s.poller.Register(types.CategoryNotifications, s.api.GetNotifications, poller.Replace)
	s.poller.Register(types.CategoryUnread, s.fetchUnread, poller.Replace)
	s.poller.Register(types.CategoryMonitor, s.fetchTracked(s.api.GetMonitor), poller.Upsert)
	s.poller.Register(types.CategoryMonitorStats, s.fetchTracked(s.api.GetMonitorStats), poller.Upsert)
}

func (s *Session) fetchUnread(ctx context.Context) ([]types.Entity, error) {
	n, err := s.api.GetUnreadCount(ctx)
	if err != nil {
		return nil, err
	}
	return []types.Entity{{"id": unreadID, "count": n}}, nil
}

// fetchTracked adapts a per-monitor call into a Fetcher over every
// tracked monitor. Calls run concurrently and each monitor stands on its
// own: monitors the server no longer knows are untracked, other failures
// skip the monitor until the next round. The fetch fails only when no
// monitor could be read.
func (s *Session) fetchTracked(get func(context.Context, string) (types.Entity, error)) poller.Fetcher {
	return func(ctx context.Context) ([]types.Entity, error) {
		ids := s.Tracked()
		results := make([]types.Entity, len(ids))
		errs := make([]error, len(ids))
		var g errgroup.Group
		for i, id := range ids {
			g.Go(func() error {
				results[i], errs[i] = get(ctx, id)
				return nil
			})
		}
		_ = g.Wait()

		out := make([]types.Entity, 0, len(ids))
		var failed []error
		for i, id := range ids {
			switch err := errs[i]; {
			case err == nil:
				if s.isTracked(id) {
					out = append(out, results[i])
				}
			case errors.Is(err, client.ErrNotFound):
				s.logger.Info().Str("monitor_id", id).Msg("Tracked monitor no longer exists")
				s.Untrack(id)
			default:
				failed = append(failed, fmt.Errorf("monitor %s: %w", id, err))
			}
		}

		if len(failed) > 0 {
			err := errors.Join(failed...)
			if len(out) == 0 {
				return nil, err
			}
			s.logger.Warn().Err(err).Int("refreshed", len(out)).Msg("Some tracked monitors were not refreshed")
		}
		return out, nil
	}
}

// refresh re-fetches categories after a server push made them stale
func (s *Session) refresh(categories ...types.Category) {
	for _, c := range categories {
		if err := s.poller.Refresh(c); err != nil {
			s.logger.Debug().Err(err).Str("category", string(c)).Msg("Refresh failed")
		}
	}
}

// Track adds a monitor to the detail views kept fresh by polling and
// fetches its detail and statistics immediately
func (s *Session) Track(ctx context.Context, id string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	added := !s.tracked[id]
	s.tracked[id] = true
	s.mu.Unlock()

	detail, err := s.api.GetMonitor(ctx, id)
	if err != nil {
		s.abandonTrack(id, added, err)
		return fmt.Errorf("failed to fetch monitor %s: %w", id, err)
	}
	stats, err := s.api.GetMonitorStats(ctx, id)
	if err != nil {
		s.abandonTrack(id, added, err)
		return fmt.Errorf("failed to fetch stats for monitor %s: %w", id, err)
	}

	s.store.Batch(func(tx *cache.Tx) {
		tx.Set(cache.Key{Category: types.CategoryMonitor, ID: id}, detail)
		tx.Set(cache.Key{Category: types.CategoryMonitorStats, ID: id}, stats)
	})
	return nil
}

// abandonTrack undoes a failed Track. A monitor that was already tracked
// stays tracked unless the server says it does not exist.
func (s *Session) abandonTrack(id string, added bool, err error) {
	if errors.Is(err, client.ErrNotFound) {
		s.Untrack(id)
		return
	}
	if added {
		s.mu.Lock()
		delete(s.tracked, id)
		s.mu.Unlock()
	}
}

// Untrack stops refreshing a monitor's detail views and drops them
func (s *Session) Untrack(id string) {
	s.mu.Lock()
	delete(s.tracked, id)
	s.mu.Unlock()

	s.store.Batch(func(tx *cache.Tx) {
		tx.Delete(cache.Key{Category: types.CategoryMonitor, ID: id})
		tx.Delete(cache.Key{Category: types.CategoryMonitorStats, ID: id})
	})
}

func (s *Session) isTracked(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tracked[id]
}

// Tracked returns the tracked monitor ids in sorted order
func (s *Session) Tracked() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.tracked))
	for id := range s.tracked {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ToggleMonitor enables or disables a monitor and writes the server's
// answer to both monitor views
func (s *Session) ToggleMonitor(ctx context.Context, id string, enabled bool) error {
	monitor, err := s.api.ToggleMonitor(ctx, id, enabled)
	if err != nil {
		return err
	}
	s.store.Batch(func(tx *cache.Tx) {
		tx.Update(cache.Key{Category: types.CategoryMonitors, ID: id}, monitor)
		if _, ok := tx.Get(cache.Key{Category: types.CategoryMonitor, ID: id}); ok {
			tx.Set(cache.Key{Category: types.CategoryMonitor, ID: id}, monitor)
		}
	})
	return nil
}

// MarkNotificationSeen marks a notification seen. The cached entry is
// updated first and restored if the server call fails. Notification
// fetches in flight around the call are canceled so that a list read
// before the server applied the change cannot overwrite the entry.
func (s *Session) MarkNotificationSeen(ctx context.Context, id string) error {
	key := cache.Key{Category: types.CategoryNotifications, ID: id}
	fields := s.seenFields()

	s.poller.Cancel(types.CategoryNotifications)
	previous, had := s.store.Get(key)
	s.store.Update(key, fields)

	_, err := s.api.MarkNotificationSeen(ctx, id)
	s.poller.Cancel(types.CategoryNotifications)
	if err != nil {
		if had {
			s.store.Set(key, previous)
		}
		return err
	}
	s.store.Update(key, fields)
	go s.refresh(types.CategoryUnread)
	return nil
}

// MarkAllNotificationsSeen marks every notification seen, optimistically
// like MarkNotificationSeen
func (s *Session) MarkAllNotificationsSeen(ctx context.Context) error {
	fields := s.seenFields()
	markAll := func(entries []cache.Entry) {
		s.store.Batch(func(tx *cache.Tx) {
			for _, e := range entries {
				tx.Update(e.Key, fields)
			}
		})
	}

	s.poller.Cancel(types.CategoryNotifications)
	previous := s.store.List(types.CategoryNotifications)
	markAll(previous)

	err := s.api.MarkAllNotificationsSeen(ctx)
	s.poller.Cancel(types.CategoryNotifications)
	if err != nil {
		s.store.Batch(func(tx *cache.Tx) {
			for _, e := range previous {
				tx.Set(e.Key, e.Value)
			}
		})
		return err
	}
	markAll(s.store.List(types.CategoryNotifications))
	go s.refresh(types.CategoryUnread)
	return nil
}

func (s *Session) seenFields() types.Entity {
	return types.Entity{"seen": true, "seen_at": s.clock.Now().UTC().Format(time.RFC3339)}
}

// Close ends the session: the event stream is disconnected, pending
// updates are flushed, polling stops and the cache is saved as the next
// snapshot. A session that never got as far as restoring the previous
// snapshot leaves it untouched.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	save := s.restored
	unsubs := s.unsubs
	s.unsubs = nil
	s.mu.Unlock()

	s.channel.Disconnect()
	s.reconciler.Close()
	s.poller.Stop()
	for _, unsub := range unsubs {
		unsub()
	}

	var errs []error
	if s.snapshots != nil {
		if save {
			if err := s.snapshots.Save(s.store.Entries()); err != nil {
				s.logger.Error().Err(err).Msg("Failed to save snapshot")
				errs = append(errs, fmt.Errorf("save snapshot: %w", err))
			}
		} else {
			s.logger.Debug().Msg("Snapshot was never restored, keeping it")
		}
		if err := s.snapshots.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close snapshot store: %w", err))
		}
	}

	s.logger.Info().Msg("Session closed")
	return errors.Join(errs...)
}

func (s *Session) restoreSnapshot() {
	if s.snapshots == nil {
		return
	}
	entries, err := s.snapshots.Load()
	if err != nil {
		s.logger.Warn().Err(err).Msg("Ignoring unreadable snapshot")
		return
	}
	s.store.Load(entries)

	s.mu.Lock()
	for _, e := range entries {
		if e.Key.Category == types.CategoryMonitor {
			s.tracked[e.Key.ID] = true
		}
	}
	s.mu.Unlock()

	s.logger.Info().Int("entries", len(entries)).Msg("Restored snapshot")
}
