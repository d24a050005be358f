/*
Package client provides a Go client for the RunnerX REST API.

The client covers the collection and single-entity endpoints the cached
views are filled from, plus the few mutating calls a dashboard issues:

	GET   /monitors                     GetMonitors
	GET   /monitor/:id                  GetMonitor
	GET   /monitor/:id/stats            GetMonitorStats
	PATCH /monitor/:id/toggle           ToggleMonitor
	GET   /notifications                GetNotifications
	GET   /notifications/unread         GetUnreadCount
	PUT   /notification/:id/mark_seen   MarkNotificationSeen
	PUT   /notifications/mark_all_seen  MarkAllNotificationsSeen

Entities are decoded as types.Entity maps with numbers kept as
json.Number, so they can be written to the cache unchanged.

# Errors

Non-2xx responses are returned as *APIError carrying the status code and
the server's "error" or "message" field. 404 responses match ErrNotFound
with errors.Is, and 429 responses report RateLimited, which the poller
uses to skip early retries.

# Rate Limiting

Requests go through a token bucket (golang.org/x/time/rate) so that a
burst of refreshes after a reconnect does not trip the server's own rate
limiter. Waiting for a token honours the request context.

# Usage

	c, err := client.NewClient(client.DefaultConfig("http://localhost:8080/api", token))
	if err != nil {
		return err
	}
	monitors, err := c.GetMonitors(ctx)
*/
package client
