// Package reconcile turns push-channel events into cache writes.
//
// An update merges the event's data over the cached object, or stores it
// as is when nothing is cached. A delete removes the path and its slot in
// the parent listing. Events that name only an object id are routed through
// the store's id index, then through type:id for flat collections.
package reconcile
