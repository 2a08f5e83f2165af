// Package state holds the local cache that every other part of mirror reads
// from and writes into.
//
// # Overview
//
// A Store maps paths to Entries. A path is either a hierarchical entity
// ("alice", "alice/phone", "alice/phone/steps"), a flat entity
// ("source:3f2a"), or a list key naming the children of a prefix ("/",
// "alice/", "source:"). Each Entry carries a Value, the wall-clock time it
// was written, and the logical time (Seq) of the operation that produced it.
//
// A Value is one of:
//   - an Object: the entity as the server last described it
//   - an ErrorRef: the normalized failure of the last attempt
//   - Deleted: the sentinel subscribers receive when an entity goes away
//
// # Ordering
//
// Network pulls and pushed events race. The Store resolves the race with a
// single logical clock:
//
//	seq := store.Stamp()          // before the request goes out
//	obj, err := fetch(...)
//	store.PutAt(path, value, seq) // rejected if path saw a later write
//
// Event handlers stamp on receipt, so an event that arrives while a pull is
// in flight always wins over the pull's stale response. Deletions record
// their seq even after the entry is gone, so a late pull cannot bring a
// deleted path back.
//
// # Lists
//
// Putting an Object at a list key stores the listing and writes each item
// to its own path. Putting or deleting an entity patches the cached listing
// of its parent, so a list held by the UI stays in step with the entities
// beneath it without another request.
//
// # Notifications
//
// Every applied write is announced through the Registry, synchronously and
// in registration order, after the data lock is released. Writers are
// serialized, so subscribers see changes in the order they were applied.
// A callback must not write to the store on the same goroutine; hand the
// work to another goroutine instead.
//
// # Id Index
//
// Objects carrying a string "id" are indexed so events that only name an
// id can be routed to the cached path with Resolve.
package state
