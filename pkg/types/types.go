package types

import (
	"encoding/json"
	"math"
	"strconv"
	"time"

	"github.com/go-viper/mapstructure/v2"
)

// Entity is a JSON entity representation as returned by the RunnerX API
// or carried by an update event. Values decoded from JSON keep numbers as
// json.Number so ids and counters survive round trips unchanged.
type Entity map[string]any

// Clone returns a shallow copy of the entity
func (e Entity) Clone() Entity {
	if e == nil {
		return nil
	}
	out := make(Entity, len(e))
	for k, v := range e {
		out[k] = v
	}
	return out
}

// Merge shallow-merges fields into a copy of the entity. Fields in
// partial overwrite existing ones; fields absent from partial are kept.
func (e Entity) Merge(partial Entity) Entity {
	out := e.Clone()
	if out == nil {
		out = make(Entity, len(partial))
	}
	for k, v := range partial {
		out[k] = v
	}
	return out
}

// ID returns the entity's "id" field formatted as a cache key
func (e Entity) ID() (string, bool) {
	return FormatID(e["id"])
}

// String returns a string field or "" when absent or of another type
func (e Entity) String(field string) string {
	s, _ := e[field].(string)
	return s
}

// FormatID normalizes an id value decoded from JSON into its canonical
// string form. Integral numbers format without a fractional part so that
// 7, 7.0 and "7" all map to the same key.
func FormatID(v any) (string, bool) {
	switch id := v.(type) {
	case string:
		return id, id != ""
	case json.Number:
		if i, err := id.Int64(); err == nil {
			return strconv.FormatInt(i, 10), true
		}
		return id.String(), id != ""
	case float64:
		if id == math.Trunc(id) && !math.IsInf(id, 0) {
			return strconv.FormatInt(int64(id), 10), true
		}
		return strconv.FormatFloat(id, 'f', -1, 64), true
	case int:
		return strconv.Itoa(id), true
	case int64:
		return strconv.FormatInt(id, 10), true
	case uint:
		return strconv.FormatUint(uint64(id), 10), true
	case uint64:
		return strconv.FormatUint(id, 10), true
	default:
		return "", false
	}
}

// Category names a class of cached data. Each category has its own
// polling policy and its own ordered view in the cache.
type Category string

const (
	// CategoryMonitors is the monitor collection view (GET /monitors)
	CategoryMonitors Category = "monitors"
	// CategoryMonitor is the per-monitor detail view (GET /monitor/:id)
	CategoryMonitor Category = "monitor"
	// CategoryNotifications is the notification list (GET /notifications)
	CategoryNotifications Category = "notifications"
	// CategoryUnread holds the unread notification counter
	CategoryUnread Category = "notifications_unread"
	// CategoryMonitorStats is the per-monitor statistics view
	CategoryMonitorStats Category = "monitor_stats"
)

// MonitorStatus represents the probe status of a monitor
type MonitorStatus string

const (
	MonitorStatusUp      MonitorStatus = "up"
	MonitorStatusDown    MonitorStatus = "down"
	MonitorStatusPaused  MonitorStatus = "paused"
	MonitorStatusPending MonitorStatus = "pending"
)

// MonitorType is the probe type of a monitor
type MonitorType string

const (
	MonitorTypeHTTP MonitorType = "http"
	MonitorTypePing MonitorType = "ping"
	MonitorTypeTCP  MonitorType = "tcp"
	MonitorTypeDNS  MonitorType = "dns"
)

// NotificationType classifies a notification
type NotificationType string

const (
	NotificationDown    NotificationType = "down"
	NotificationUp      NotificationType = "up"
	NotificationWarning NotificationType = "warning"
)

// Monitor is a typed view over a cached monitor entity
type Monitor struct {
	ID              string        `json:"-"`
	Name            string        `json:"name"`
	Type            MonitorType   `json:"type"`
	Endpoint        string        `json:"endpoint"`
	Enabled         bool          `json:"enabled"`
	Status          MonitorStatus `json:"status"`
	IntervalSeconds int           `json:"interval_seconds"`
	LastCheckAt     *time.Time    `json:"last_check_at,omitempty"`
	LastLatencyMs   *int64        `json:"last_latency_ms,omitempty"`
	UptimePercent   float64       `json:"uptime_percent"`
	Tags            []string      `json:"tags,omitempty"`
}

// Notification is a typed view over a cached notification entity
type Notification struct {
	ID        string           `json:"-"`
	MonitorID json.Number      `json:"monitor_id"`
	Type      NotificationType `json:"type"`
	Message   string           `json:"message"`
	CreatedAt time.Time        `json:"created_at"`
	SeenAt    *time.Time       `json:"seen_at,omitempty"`
}

// Seen reports whether the notification was marked as seen
func (n *Notification) Seen() bool {
	return n.SeenAt != nil
}

// AsMonitor converts a cached entity into a typed Monitor
func AsMonitor(e Entity) (*Monitor, error) {
	var m Monitor
	if err := convert(e, &m); err != nil {
		return nil, err
	}
	m.ID, _ = e.ID()
	return &m, nil
}

// AsNotification converts a cached entity into a typed Notification
func AsNotification(e Entity) (*Notification, error) {
	var n Notification
	if err := convert(e, &n); err != nil {
		return nil, err
	}
	n.ID, _ = e.ID()
	return &n, nil
}

// convert decodes an entity into a typed view. Numbers may arrive as
// json.Number, native numbers or strings; timestamps are RFC 3339 strings.
func convert(e Entity, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToTimeHookFunc(time.RFC3339),
		Result:           out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(map[string]any(e))
}
