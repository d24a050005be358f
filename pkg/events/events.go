package events

import (
	"time"

	"github.com/runnerx/runnerx/pkg/types"
)

// Kind is the discriminator identifying an event's semantic type
type Kind string

const (
	// KindWildcard subscribes to every event regardless of kind
	KindWildcard Kind = "*"

	// Lifecycle kinds are synthesized by the channel, never read from the wire
	KindConnectionOpen   Kind = "connection:open"
	KindConnectionClose  Kind = "connection:close"
	KindConnectionFailed Kind = "connection:failed"
	KindError            Kind = "error"

	// Server-pushed kinds
	KindMonitorUpdate Kind = "monitor:update"
	KindStatusChange  Kind = "monitor:status_change"
	KindNotification  Kind = "notification"
	KindPong          Kind = "pong"
	KindLogEvent      Kind = "logs:event"
	KindLogInsight    Kind = "logs:insight"
	KindSystemMood    Kind = "system_mood_update"
	KindCommandResult Kind = "command:result"
	KindScreenshot    Kind = "incident:screenshot"
	KindAutomation    Kind = "automation:action"
)

// IsLifecycle reports whether k is one of the locally synthesized kinds
func (k Kind) IsLifecycle() bool {
	switch k {
	case KindConnectionOpen, KindConnectionClose, KindConnectionFailed, KindError:
		return true
	}
	return false
}

// Known reports whether k is a kind this client decodes into a typed event
func (k Kind) Known() bool {
	switch k {
	case KindMonitorUpdate, KindStatusChange, KindNotification, KindPong,
		KindLogEvent, KindLogInsight, KindSystemMood, KindCommandResult,
		KindScreenshot, KindAutomation:
		return true
	}
	return k.IsLifecycle()
}

// Event is implemented by every event variant. Consumers type-switch on
// the concrete variant; Unknown covers kinds this client does not model.
type Event interface {
	Kind() Kind
}

// Payload is the set of fields a record carried besides its type
type Payload = types.Entity

// ConnectionOpen is emitted when the channel reaches the Open state
type ConnectionOpen struct {
	ConnID string
}

// ConnectionClose is emitted whenever the socket closes or an attempt is abandoned
type ConnectionClose struct {
	ConnID string
	Code   int
	Reason string
	// Reconnect is true when a reconnection attempt was scheduled
	Reconnect bool
}

// ConnectionFailed is emitted once reconnection attempts are exhausted
type ConnectionFailed struct {
	Attempts int
}

// Error is emitted on transport errors, including establishment timeouts
type Error struct {
	Message string
}

// MonitorUpdate carries the current probe state of one monitor
type MonitorUpdate struct {
	MonitorID string
	Status    types.MonitorStatus
	Payload   Payload
}

// Fields returns the entity fields to merge into the cached monitor
func (e MonitorUpdate) Fields() types.Entity {
	fields := e.Payload.Clone()
	delete(fields, "monitor_id")
	return fields
}

// StatusChange is pushed when a monitor transitions between statuses
type StatusChange struct {
	MonitorID string
	OldStatus types.MonitorStatus
	NewStatus types.MonitorStatus
	Timestamp time.Time
	Payload   Payload
}

// Notification is pushed when the server creates a user notification
type Notification struct {
	ID        string
	MonitorID string
	Type      types.NotificationType
	Message   string
	CreatedAt time.Time
	Payload   Payload
}

// Pong answers a liveness probe
type Pong struct {
	Payload Payload
}

// LogEvent is a streamed server log line (logs:event and logs:insight)
type LogEvent struct {
	Insight bool
	Level   string
	Message string
	Payload Payload
}

// Generic carries the known kinds that have no dedicated fields
// (system mood, command results, screenshots, automation actions)
type Generic struct {
	Type    Kind
	Payload Payload
}

// Unknown is the catch-all for kinds this client does not model
type Unknown struct {
	Type    Kind
	Payload Payload
}

func (ConnectionOpen) Kind() Kind   { return KindConnectionOpen }
func (ConnectionClose) Kind() Kind  { return KindConnectionClose }
func (ConnectionFailed) Kind() Kind { return KindConnectionFailed }
func (Error) Kind() Kind            { return KindError }
func (MonitorUpdate) Kind() Kind    { return KindMonitorUpdate }
func (StatusChange) Kind() Kind     { return KindStatusChange }
func (Notification) Kind() Kind     { return KindNotification }
func (Pong) Kind() Kind             { return KindPong }
func (g Generic) Kind() Kind        { return g.Type }
func (u Unknown) Kind() Kind        { return u.Type }

func (e LogEvent) Kind() Kind {
	if e.Insight {
		return KindLogInsight
	}
	return KindLogEvent
}
