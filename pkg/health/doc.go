/*
Package health probes whether the RunnerX backend is reachable.

Two probes cover the two ways the client talks to the server:

	api     HTTP GET <api>/notifications/unread with the bearer credential
	stream  TCP connect to the host and port of the event stream URL

The API probe expects a 2xx answer, so an expired or revoked credential
shows up as a failed probe with "credential rejected" in its message.
The stream probe stops at the TCP handshake and never opens a websocket.

Run executes a set of probes concurrently and publishes each result to
the process health registry served at /health. A Status folds repeated
results so a single dropped packet does not flip an endpoint to
unreachable:

	checkers, err := health.Targets(cfg.APIURL, cfg.WSURL, cfg.Token, 5*time.Second)
	if err != nil {
		return err
	}
	report := health.Run(ctx, checkers)
	if !report.Healthy() {
		// ...
	}
*/
package health
