/*
Package poller implements the polling fallback coordinator.

The event stream keeps cached views fresh while it is connected; polling
is the safety net. Each registered category has a Policy with two
intervals: a slow one used while the stream is connected and a fast one
used while it is not. Connectivity is learned only from connection:open
and connection:close events, never by probing the channel directly.

	              connection:open            connection:close
	disconnected ───────────────► connected ─────────────────► disconnected
	(fast cadence)   refresh all  (slow cadence)  re-arm fast

Every tick fetches the category and writes the result to the cache in one
batch, then re-arms with whatever interval is current at that moment.
Failed fetches are retried up to twice with exponential delay, except
rate-limited (HTTP 429) responses, which wait for the regular tick.
*/
package poller
