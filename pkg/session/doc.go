/*
Package session wires the synchronization components into one client
session.

A Session owns an event Registry, a cache Store, the event Channel, the
reconciliation buffer, the polling coordinator and the REST client. The
components never reference each other directly; they meet only through
the registry and the store:

	channel ──► registry ──► reconciler ──► store ◄── poller ◄── REST API
	                   └───► poller (cadence)   ▲
	                   └───► session (notification refresh)

Start restores the last snapshot, if one is configured, fetches every
view once and connects the event stream. Close reverses this and writes
the cache back as the next snapshot.

Monitor detail and statistics views are only kept for tracked monitors.
Track and Untrack manage that set; it survives restarts through the
snapshot.
*/
package session
