/*
Package types defines the data structures shared by the RunnerX sync
client: the untyped Entity map every cache entry and update event carries,
cache categories, and typed views over monitors and notifications.

The server is the sole source of truth for entity state. The client
stores whatever JSON representation the API returns as an Entity and
merges partial update fields into it; typed views (Monitor, Notification)
are produced on demand for display and never written back.

Ids are normalized with FormatID so that numeric JSON ids (7), their
float forms (7.0) and string forms ("7") address the same cache entry.
*/
package types
