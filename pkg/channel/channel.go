package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/runnerx/runnerx/pkg/clock"
	"github.com/runnerx/runnerx/pkg/events"
	"github.com/runnerx/runnerx/pkg/log"
	"github.com/runnerx/runnerx/pkg/metrics"
)

var (
	// ErrClosed is returned by a pending Connect when Disconnect is called
	ErrClosed = errors.New("channel disconnected")
	// ErrEstablishTimeout is reported when a socket does not open in time
	ErrEstablishTimeout = errors.New("connection timeout")
)

// State is the connection state of a Channel
type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateOpen       State = "open"
	StateClosing    State = "closing"
	StateClosed     State = "closed"
)

var allStates = []State{StateIdle, StateConnecting, StateOpen, StateClosing, StateClosed}

var pingMessage = []byte(`{"type":"ping"}`)

// Config holds channel configuration
type Config struct {
	// URL is the event stream endpoint; the credential is appended as
	// the token query parameter
	URL string

	EstablishTimeout time.Duration
	PingInterval     time.Duration
	BaseDelay        time.Duration
	MaxDelay         time.Duration
	MaxAttempts      int

	// QueueLimit bounds the outbound queue; 0 means unbounded. When the
	// bound is reached the oldest queued message is dropped.
	QueueLimit int
}

// DefaultConfig returns the default channel configuration for url
func DefaultConfig(url string) Config {
	return Config{
		URL:              url,
		EstablishTimeout: 10 * time.Second,
		PingInterval:     30 * time.Second,
		BaseDelay:        time.Second,
		MaxDelay:         30 * time.Second,
		MaxAttempts:      5,
	}
}

// Validate checks the configuration
func (c Config) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("channel url is required")
	}
	if _, err := url.Parse(c.URL); err != nil {
		return fmt.Errorf("invalid channel url: %w", err)
	}
	if c.EstablishTimeout <= 0 || c.PingInterval <= 0 {
		return fmt.Errorf("establish timeout and ping interval must be positive")
	}
	if c.BaseDelay <= 0 || c.MaxDelay < c.BaseDelay {
		return fmt.Errorf("invalid backoff: base %s, max %s", c.BaseDelay, c.MaxDelay)
	}
	if c.MaxAttempts < 0 || c.QueueLimit < 0 {
		return fmt.Errorf("max attempts and queue limit must not be negative")
	}
	return nil
}

// Status is a point-in-time view of the channel
type Status struct {
	State          State
	ConnID         string
	Attempts       int
	QueuedMessages int
	LastError      string
	// Exhausted is true once reconnection attempts ran out
	Exhausted bool
}

// Connected reports whether the channel is open
func (s Status) Connected() bool { return s.State == StateOpen }

// Option configures a Channel
type Option func(*Channel)

// WithDialer sets the transport used to open sockets
func WithDialer(d Dialer) Option {
	return func(c *Channel) { c.dialer = d }
}

// WithClock sets the clock driving all channel timers
func WithClock(clk clock.Clock) Option {
	return func(c *Channel) { c.clock = clk }
}

// WithLogger overrides the component logger
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Channel) { c.logger = logger }
}

// attempt is one in-flight connection attempt
type attempt struct {
	gen    uint64
	done   chan struct{}
	err    error
	once   sync.Once
	cancel context.CancelFunc
}

func (a *attempt) finish(err error) {
	a.once.Do(func() {
		a.err = err
		a.cancel()
		close(a.done)
	})
}

// Channel maintains one persistent event stream connection. Inbound
// records are decoded and dispatched through the registry; connection
// lifecycle changes are dispatched as local events.
type Channel struct {
	config   Config
	registry *events.Registry
	dialer   Dialer
	clock    clock.Clock
	logger   zerolog.Logger

	mu         sync.Mutex
	state      State
	gen        uint64
	credential string
	connID     string
	conn       Conn
	current    *attempt
	attempts   int
	exhausted  bool
	lastErr    error
	queue      [][]byte

	establishTimer *clock.Timer
	pingTimer      *clock.Timer
	reconnectTimer *clock.Timer

	// writeMu serializes socket writes; the open transition holds it
	// while flushing the queue so later sends cannot overtake queued ones
	writeMu sync.Mutex
}

// New creates a channel dispatching into registry
func New(cfg Config, registry *events.Registry, opts ...Option) *Channel {
	c := &Channel{
		config:   cfg,
		registry: registry,
		dialer:   NewWebSocketDialer(cfg.EstablishTimeout),
		clock:    clock.Real(),
		logger:   log.WithComponent("channel"),
		state:    StateIdle,
	}
	for _, opt := range opts {
		opt(c)
	}
	setStateMetric(StateIdle)
	return c
}

// Registry returns the registry events are dispatched into
func (c *Channel) Registry() *events.Registry {
	return c.registry
}

// State returns the current connection state
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Status returns the current connection status
func (c *Channel) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Status{
		State:          c.state,
		ConnID:         c.connID,
		Attempts:       c.attempts,
		QueuedMessages: len(c.queue),
		Exhausted:      c.exhausted,
	}
	if c.lastErr != nil {
		s.LastError = c.lastErr.Error()
	}
	return s
}

// Connect opens the connection using credential. While an attempt is in
// flight it waits for that attempt's outcome; when already open it
// returns nil immediately. A failed attempt still schedules reconnection.
func (c *Channel) Connect(ctx context.Context, credential string) error {
	c.mu.Lock()
	switch c.state {
	case StateOpen:
		c.mu.Unlock()
		return nil
	case StateConnecting:
		a := c.current
		c.mu.Unlock()
		return wait(ctx, a)
	}

	c.credential = credential
	c.attempts = 0
	c.exhausted = false
	a := c.startAttemptLocked()
	c.mu.Unlock()

	return wait(ctx, a)
}

func wait(ctx context.Context, a *attempt) error {
	select {
	case <-a.done:
		return a.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// startAttemptLocked begins a new connection attempt under a new generation
func (c *Channel) startAttemptLocked() *attempt {
	c.stopTimersLocked()
	c.gen++
	gen := c.gen

	dialCtx, cancel := context.WithCancel(context.Background())
	a := &attempt{gen: gen, done: make(chan struct{}), cancel: cancel}
	c.current = a
	c.connID = uuid.New().String()
	c.setStateLocked(StateConnecting)

	c.establishTimer = c.clock.AfterFunc(c.config.EstablishTimeout, func() {
		c.establishTimeout(a)
	})

	endpoint := c.endpoint()
	connID := c.connID
	go c.dial(dialCtx, a, endpoint, connID)

	return a
}

func (c *Channel) endpoint() string {
	u, err := url.Parse(c.config.URL)
	if err != nil {
		return c.config.URL
	}
	q := u.Query()
	q.Set("token", c.credential)
	u.RawQuery = q.Encode()
	return u.String()
}

func (c *Channel) dial(ctx context.Context, a *attempt, endpoint, connID string) {
	logger := log.WithConnectionID(c.logger, connID)
	logger.Debug().Uint64("generation", a.gen).Msg("Dialing event stream")

	conn, err := c.dialer.Dial(ctx, endpoint)

	c.mu.Lock()
	if c.current != a || c.state != StateConnecting {
		c.mu.Unlock()
		if conn != nil {
			_ = conn.Close(CloseNormal, "stale attempt")
		}
		return
	}
	if err != nil {
		c.mu.Unlock()
		metrics.ChannelConnectsTotal.WithLabelValues("failure").Inc()
		c.abandon(a, fmt.Errorf("dial %s: %w", c.config.URL, err))
		return
	}

	c.establishTimer.Stop()
	c.establishTimer = nil
	c.conn = conn
	c.attempts = 0
	c.lastErr = nil
	c.setStateLocked(StateOpen)
	queued := c.queue
	c.queue = nil
	metrics.ChannelQueuedMessages.Set(0)
	c.pingTimer = c.clock.AfterFunc(c.config.PingInterval, func() { c.ping(a.gen) })

	// Hold writeMu across the state change so sends issued after Open
	// are written only once the probe and queued messages are out
	c.writeMu.Lock()
	c.mu.Unlock()

	metrics.ChannelConnectsTotal.WithLabelValues("success").Inc()
	logger.Info().Int("queued", len(queued)).Msg("Event stream connected")

	flushErr := c.flushLocked(conn, queued)
	c.writeMu.Unlock()

	if flushErr != nil {
		logger.Warn().Err(flushErr).Msg("Failed to flush queued messages")
	}

	c.registry.Dispatch(events.ConnectionOpen{ConnID: connID})
	go c.read(a.gen, conn, connID)
	a.finish(nil)
}

// flushLocked writes the liveness probe followed by queued messages in
// order. Messages not written are put back at the front of the queue.
func (c *Channel) flushLocked(conn Conn, queued [][]byte) error {
	if err := conn.WriteMessage(pingMessage); err != nil {
		c.requeueFront(queued)
		return err
	}
	for i, msg := range queued {
		if err := conn.WriteMessage(msg); err != nil {
			c.requeueFront(queued[i:])
			return err
		}
	}
	return nil
}

func (c *Channel) requeueFront(msgs [][]byte) {
	if len(msgs) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queue = append(append([][]byte{}, msgs...), c.queue...)
	c.trimQueueLocked()
	metrics.ChannelQueuedMessages.Set(float64(len(c.queue)))
}

func (c *Channel) establishTimeout(a *attempt) {
	c.mu.Lock()
	stale := c.current != a || c.state != StateConnecting
	c.mu.Unlock()
	if stale {
		return
	}

	metrics.ChannelConnectsTotal.WithLabelValues("timeout").Inc()
	c.abandon(a, ErrEstablishTimeout)
}

// abandon ends an attempt that never reached Open: the error is
// reported, followed by the abnormal close path
func (c *Channel) abandon(a *attempt, err error) {
	c.mu.Lock()
	if c.current != a || c.state != StateConnecting {
		c.mu.Unlock()
		return
	}
	c.lastErr = err
	c.current = nil
	c.setStateLocked(StateClosed)
	c.mu.Unlock()

	a.finish(err)
	c.logger.Warn().Err(err).Msg("Connection attempt failed")
	c.registry.Dispatch(events.Error{Message: err.Error()})
	c.closed(a.gen, CloseAbnormal, err.Error())
}

func (c *Channel) read(gen uint64, conn Conn, connID string) {
	logger := log.WithConnectionID(c.logger, connID)
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			code, reason := CloseAbnormal, err.Error()
			var closeErr *CloseError
			if errors.As(err, &closeErr) {
				code, reason = closeErr.Code, closeErr.Reason
			} else if c.isCurrent(gen) {
				c.mu.Lock()
				c.lastErr = err
				c.mu.Unlock()
				logger.Warn().Err(err).Msg("Event stream read failed")
				c.registry.Dispatch(events.Error{Message: err.Error()})
			}
			_ = conn.Close(CloseNormal, "")
			c.closed(gen, code, reason)
			return
		}
		if !c.isCurrent(gen) {
			continue
		}
		c.handleFrame(logger, data)
	}
}

// isCurrent reports whether gen is still the live generation
func (c *Channel) isCurrent(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen == gen
}

// closed runs the close path for generation gen: timers are cancelled,
// connection:close is emitted and, for abnormal codes, reconnection is
// scheduled until attempts are exhausted.
func (c *Channel) closed(gen uint64, code int, reason string) {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}
	c.stopTimersLocked()
	c.conn = nil
	c.current = nil
	c.setStateLocked(StateClosed)
	connID := c.connID

	reconnect := !normalClose(code)
	failed := false
	var delay time.Duration
	if reconnect {
		if c.attempts >= c.config.MaxAttempts {
			reconnect = false
			failed = true
			c.exhausted = true
		} else {
			c.attempts++
			delay = Backoff(c.config.BaseDelay, c.config.MaxDelay, c.attempts)
			c.reconnectTimer = c.clock.AfterFunc(delay, func() { c.reconnect(gen) })
		}
	}
	attempts := c.attempts
	c.mu.Unlock()

	logger := log.WithConnectionID(c.logger, connID)
	logger.Info().Int("code", code).Str("reason", reason).Msg("Event stream closed")

	c.registry.Dispatch(events.ConnectionClose{
		ConnID:    connID,
		Code:      code,
		Reason:    reason,
		Reconnect: reconnect,
	})

	switch {
	case reconnect:
		metrics.ChannelReconnectsScheduled.Inc()
		logger.Warn().
			Int("attempt", attempts).
			Int("max_attempts", c.config.MaxAttempts).
			Dur("delay", delay).
			Msg("Scheduling reconnection")
	case failed:
		metrics.ChannelFailuresTotal.Inc()
		logger.Error().Int("attempts", attempts).Msg("Reconnection attempts exhausted")
		c.registry.Dispatch(events.ConnectionFailed{Attempts: attempts})
	}
}

func (c *Channel) reconnect(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen || c.state != StateClosed {
		return
	}
	c.startAttemptLocked()
}

func (c *Channel) ping(gen uint64) {
	c.mu.Lock()
	if c.gen != gen || c.state != StateOpen {
		c.mu.Unlock()
		return
	}
	conn := c.conn
	c.pingTimer = c.clock.AfterFunc(c.config.PingInterval, func() { c.ping(gen) })
	c.mu.Unlock()

	if err := c.write(conn, pingMessage); err != nil {
		c.logger.Debug().Err(err).Msg("Liveness probe failed")
	}
}

// Send serializes msg and writes it when the channel is open, returning
// true. Otherwise the message is queued when queue is set and Send
// returns false. A failed write re-queues the message when queue is set.
func (c *Channel) Send(msg any, queue bool) bool {
	data, err := json.Marshal(msg)
	if err != nil {
		c.logger.Warn().Err(err).Msg("Dropping unserializable message")
		return false
	}

	c.mu.Lock()
	if c.state != StateOpen || c.conn == nil {
		if queue {
			c.enqueueLocked(data)
		} else {
			metrics.ChannelDroppedMessages.Inc()
		}
		c.mu.Unlock()
		return false
	}
	conn := c.conn
	c.mu.Unlock()

	if err := c.write(conn, data); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to send message")
		c.mu.Lock()
		if queue {
			c.enqueueLocked(data)
		} else {
			metrics.ChannelDroppedMessages.Inc()
		}
		c.mu.Unlock()
		return false
	}
	return true
}

func (c *Channel) write(conn Conn, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteMessage(data)
}

func (c *Channel) enqueueLocked(data []byte) {
	c.queue = append(c.queue, data)
	c.trimQueueLocked()
	metrics.ChannelQueuedMessages.Set(float64(len(c.queue)))
}

func (c *Channel) trimQueueLocked() {
	if c.config.QueueLimit <= 0 {
		return
	}
	for len(c.queue) > c.config.QueueLimit {
		c.queue = c.queue[1:]
		metrics.ChannelDroppedMessages.Inc()
	}
}

// Disconnect tears the channel down: timers are cancelled, the socket is
// closed with a normal closure, queued messages are discarded and every
// subscription is removed. Close callbacks from the old socket that
// arrive afterwards are ignored.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	c.gen++
	c.stopTimersLocked()
	conn := c.conn
	pending := c.current
	c.conn = nil
	c.current = nil
	c.queue = nil
	c.attempts = 0
	c.setStateLocked(StateClosing)
	c.mu.Unlock()

	metrics.ChannelQueuedMessages.Set(0)

	if pending != nil {
		pending.finish(ErrClosed)
	}
	if conn != nil {
		c.writeMu.Lock()
		if err := conn.Close(CloseNormal, closeReasonDisconnect); err != nil {
			c.logger.Debug().Err(err).Msg("Error closing connection")
		}
		c.writeMu.Unlock()
	}

	c.registry.Clear()

	c.mu.Lock()
	c.setStateLocked(StateClosed)
	c.mu.Unlock()

	c.logger.Info().Msg("Event stream disconnected")
}

func (c *Channel) stopTimersLocked() {
	c.establishTimer.Stop()
	c.pingTimer.Stop()
	c.reconnectTimer.Stop()
	c.establishTimer = nil
	c.pingTimer = nil
	c.reconnectTimer = nil
}

func (c *Channel) setStateLocked(s State) {
	c.state = s
	setStateMetric(s)
}

func setStateMetric(s State) {
	for _, st := range allStates {
		v := 0.0
		if st == s {
			v = 1
		}
		metrics.ChannelState.WithLabelValues(string(st)).Set(v)
	}
}
