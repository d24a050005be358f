/*
Package storage persists cache snapshots using BoltDB.

A snapshot lets a client show the last known monitor and notification
views immediately on start, before the first fetch or event arrives.
Snapshots are advisory: they are overwritten by the first successful
fetch of each category and never override live data.

# Layout

	snapshot.db
	├── _meta            saved_at, version
	├── monitors         00000001 → {"id":"7","value":{...},"updated_at":...}
	│                    00000002 → ...
	├── monitor
	├── notifications
	└── ...

Each cache category is one bucket. Keys are big-endian sequence numbers
so that iteration returns entries in the order they were saved, which is
the category's display order.

Save rewrites every category bucket in one read-write transaction, so a
crash mid-save leaves the previous snapshot intact.
*/
package storage
