/*
Package log provides structured logging for RunnerX using zerolog.

The log package wraps zerolog with a package-level logger, a small
configuration struct and helpers that derive component loggers. Every
long-lived RunnerX component (channel, registry, reconciler, poller,
client, session) holds its own child logger created with WithComponent
at construction time, so log lines can be filtered by component.

# Architecture

	┌──────────────────── LOGGING SYSTEM ───────────────────┐
	│                                                         │
	│  log.Init(Config) ──► Logger (global zerolog.Logger)    │
	│                          │                              │
	│            ┌─────────────┼──────────────┐               │
	│            ▼             ▼              ▼               │
	│    WithComponent   WithConnectionID  WithCategory      │
	│    ("channel")     (conn_id=...)     (category=...)     │
	│                                                         │
	│  Output: console (default) or JSON, stderr by default   │
	└─────────────────────────────────────────────────────────┘

# Usage

Initializing the logger:

	log.Init(log.Config{
		Level:      log.ParseLevel(cfg.LogLevel),
		JSONOutput: cfg.LogJSON,
	})

Component loggers:

	logger := log.WithComponent("channel")
	logger = log.WithConnectionID(logger, connID)
	logger.Warn().Err(err).Str("record", rec).Msg("Dropping malformed record")

Until Init is called, Logger writes JSON to stderr, which keeps library
use (no CLI) and tests quiet but functional.

# Log Levels

  - debug: frame and flush level detail (records dispatched, batch sizes)
  - info: connection lifecycle, poll interval changes
  - warn: malformed records, failed fetches, reconnect scheduling
  - error: handler panics, snapshot persistence failures
*/
package log
