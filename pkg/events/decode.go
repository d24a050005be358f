package events

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/runnerx/runnerx/pkg/types"
	"github.com/tidwall/gjson"
)

var (
	// ErrMalformedRecord is returned for records that are not valid JSON objects
	ErrMalformedRecord = errors.New("malformed record")
	// ErrMissingType is returned for records without a string "type" field
	ErrMissingType = errors.New("record has no type")
)

// ParseRecord decodes one wire record into a typed event.
//
// Records are JSON objects with a "type" discriminator. Both flat records
// ({"type":K, ...fields}) and hub envelopes ({"type":K, "data":{...}})
// are accepted; an envelope's data object becomes the payload.
func ParseRecord(record []byte) (Event, error) {
	if !gjson.ValidBytes(record) {
		return nil, ErrMalformedRecord
	}
	parsed := gjson.ParseBytes(record)
	if !parsed.IsObject() {
		return nil, fmt.Errorf("%w: not an object", ErrMalformedRecord)
	}
	typ := parsed.Get("type")
	if typ.Type != gjson.String || typ.Str == "" {
		return nil, ErrMissingType
	}

	var payload types.Entity
	dec := json.NewDecoder(bytes.NewReader(record))
	dec.UseNumber()
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	delete(payload, "type")

	if data, ok := payload["data"].(map[string]any); ok && len(payload) == 1 {
		payload = types.Entity(data)
	}

	return Decode(Kind(typ.Str), payload), nil
}

// Decode builds the typed variant for a wire kind. Lifecycle kinds are
// never accepted from the wire and decode as Unknown.
func Decode(kind Kind, payload Payload) Event {
	if payload == nil {
		payload = Payload{}
	}

	switch kind {
	case KindMonitorUpdate:
		id, _ := types.FormatID(payload["monitor_id"])
		return MonitorUpdate{
			MonitorID: id,
			Status:    types.MonitorStatus(payload.String("status")),
			Payload:   payload,
		}
	case KindStatusChange:
		id, _ := types.FormatID(payload["monitor_id"])
		return StatusChange{
			MonitorID: id,
			OldStatus: types.MonitorStatus(payload.String("old_status")),
			NewStatus: types.MonitorStatus(payload.String("new_status")),
			Timestamp: parseTime(payload["timestamp"]),
			Payload:   payload,
		}
	case KindNotification:
		id, _ := types.FormatID(payload["id"])
		monitorID, _ := types.FormatID(payload["monitor_id"])
		return Notification{
			ID:        id,
			MonitorID: monitorID,
			Type:      types.NotificationType(payload.String("type")),
			Message:   payload.String("message"),
			CreatedAt: parseTime(payload["created_at"]),
			Payload:   payload,
		}
	case KindPong:
		return Pong{Payload: payload}
	case KindLogEvent, KindLogInsight:
		return LogEvent{
			Insight: kind == KindLogInsight,
			Level:   payload.String("level"),
			Message: payload.String("message"),
			Payload: payload,
		}
	case KindSystemMood, KindCommandResult, KindScreenshot, KindAutomation:
		return Generic{Type: kind, Payload: payload}
	default:
		return Unknown{Type: kind, Payload: payload}
	}
}

// PayloadOf returns the wire payload of a decoded event, or nil for
// lifecycle events
func PayloadOf(ev Event) Payload {
	switch e := ev.(type) {
	case MonitorUpdate:
		return e.Payload
	case StatusChange:
		return e.Payload
	case Notification:
		return e.Payload
	case Pong:
		return e.Payload
	case LogEvent:
		return e.Payload
	case Generic:
		return e.Payload
	case Unknown:
		return e.Payload
	default:
		return nil
	}
}

func parseTime(v any) time.Time {
	s, ok := v.(string)
	if !ok {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
