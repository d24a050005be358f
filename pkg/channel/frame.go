package channel

import (
	"bytes"

	"github.com/rs/zerolog"
	"github.com/runnerx/runnerx/pkg/events"
	"github.com/runnerx/runnerx/pkg/metrics"
)

// maxLoggedRecord bounds how much of a malformed record is logged
const maxLoggedRecord = 256

// handleFrame splits a frame into newline-delimited records and
// dispatches each one that parses. A malformed record is logged and
// skipped without affecting its siblings.
func (c *Channel) handleFrame(logger zerolog.Logger, frame []byte) {
	metrics.FramesReceived.Inc()

	for _, line := range bytes.Split(frame, []byte{'\n'}) {
		record := bytes.TrimSpace(line)
		if len(record) == 0 {
			continue
		}

		ev, err := events.ParseRecord(record)
		if err != nil {
			metrics.RecordsMalformed.Inc()
			logger.Warn().
				Err(err).
				Str("record", truncate(record)).
				Msg("Dropping malformed record")
			continue
		}

		// Lifecycle kinds are only ever synthesized locally
		if ev.Kind().IsLifecycle() {
			metrics.RecordsReceived.WithLabelValues("rejected").Inc()
			logger.Debug().Str("type", string(ev.Kind())).Msg("Ignoring lifecycle record from server")
			continue
		}

		kind := string(ev.Kind())
		if !ev.Kind().Known() {
			kind = "unknown"
		}
		metrics.RecordsReceived.WithLabelValues(kind).Inc()
		c.registry.Dispatch(ev)
	}
}

func truncate(record []byte) string {
	if len(record) <= maxLoggedRecord {
		return string(record)
	}
	return string(record[:maxLoggedRecord]) + "..."
}
