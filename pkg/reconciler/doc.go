/*
Package reconciler implements the reconciliation buffer that applies
server-pushed entity updates to the cache.

Update events can arrive in bursts, for example when many monitors change
status at once. Applying each event separately would make every observer
of the cache recompute once per event. The Reconciler instead keeps one
pending record per entity id and applies them all in a single cache batch
once no update has arrived for the debounce window (100ms by default).

# State Machine

	         Record
	┌──────┐ ─────────► ┌──────────────────┐ ◄─┐
	│ Idle │            │ Pending(deadline)│   │ Record (deadline reset)
	└──────┘ ◄───────── └──────────────────┘ ──┘
	         Flush (timer or explicit)

Timer expiry and explicit flushes (Close, teardown) share one code path.
Each armed timer remembers the generation it was created for and does
nothing if a later Record re-armed the window.

# Merge Semantics

  - Per entity, later fields overwrite earlier ones (last write wins);
    fields never mentioned again keep their pending value.
  - A flush writes each entity's merged fields into every configured view
    (the monitors collection and the per-monitor detail view by default).
  - Updates never create cache entries; an entity the client has not
    fetched in full is skipped for that view.
*/
package reconciler
