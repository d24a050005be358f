/*
Package channel maintains the persistent event stream between a RunnerX
client and the server.

A Channel owns at most one live socket. Inbound text frames may carry
several newline-delimited JSON records; each record is parsed on its own,
decoded into a typed event and dispatched through an events.Registry.
Connection lifecycle changes are dispatched through the same registry as
locally synthesized events (connection:open, connection:close,
connection:failed and error).

# Lifecycle

	Idle ──Connect──► Connecting ──socket open──► Open
	                     │                          │
	          timeout / dial error            close frame / read error
	                     ▼                          ▼
	                  Closed ◄──────────────────────┘
	                     │
	         abnormal code, attempts left: reconnect after backoff
	         attempts exhausted: connection:failed

Reconnection delays double from BaseDelay (1s) up to MaxDelay (30s), for
at most MaxAttempts (5) attempts. Codes 1000 and 1001 never reconnect.

Every timer callback carries the generation it was armed under.
Disconnect and each new attempt bump the generation, so a timer or close
callback left over from an earlier socket does nothing.

# Outbound Messages

Send writes immediately while Open. Otherwise messages may be queued and
are written in order right after the next open, ahead of anything sent
after the transition.

# Transport

The Dialer and Conn interfaces keep the state machine independent of the
socket library. WebSocketDialer is the gorilla/websocket implementation
used in production.
*/
package channel
