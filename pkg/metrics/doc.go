/*
Package metrics provides Prometheus metrics and a JSON health endpoint for
the RunnerX sync client.

All collectors are registered on the default Prometheus registry at
package init and exposed through Handler. The health registry tracks one
entry per component (channel, poller, cache); the event channel is not a
critical component because polling keeps cached data fresh when the live
connection is down, so a failed channel reports "degraded" rather than
"unhealthy".

# Metric Families

	runnerx_channel_*      connection state, connects, reconnects, queue
	runnerx_frames_*       inbound frames
	runnerx_records_*      inbound records by kind, malformed records
	runnerx_handler_*      recovered subscriber panics
	runnerx_reconciler_*   debounced flushes and batch sizes
	runnerx_poll_*         polling fetches, durations, current interval
	runnerx_cache_*        cached entities per category
	runnerx_api_*          REST requests and latency

# Usage

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/health", metrics.HealthHandler())

	timer := metrics.NewTimer()
	entities, err := fetch(ctx)
	timer.ObserveDurationVec(metrics.PollDuration, category)
*/
package metrics
