// Package persist keeps a copy of the cache on disk so mirror starts with
// the data it had when it last exited.
//
// Entries live in a single bbolt bucket keyed by path, each value a msgpack
// record of the entry's object or error, fetch time and logical seq. A
// Journal listens to the registry, remembers which paths changed, and
// writes their current state in one transaction per flush interval and
// once more on shutdown.
package persist
