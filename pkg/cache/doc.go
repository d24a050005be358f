// Package cache implements the process-local Cache Store shared by the
// reconciliation buffer (event-driven partial updates) and the polling
// coordinator (full fetches).
//
// Entries are addressed by Key{Category, ID} and listed per category in
// insertion order. Partial updates never create entries: an entity only
// appears after a full fetch or an explicit Set. Every write goes through
// Batch, so a reconciliation flush and a fetch completion are each applied
// in one pass under a single lock and can never interleave.
package cache
