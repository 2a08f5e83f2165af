// Package syncer keeps the local cache in step with the server.
//
// Reads never wait for the network. Coordinator.Get and Coordinator.Ls
// return what the store holds and, when that is missing or older than the
// freshness window, start a background refresh whose result lands in the
// store and reaches subscribers through the registry. Concurrent refreshes
// of one path share a single request.
//
// Every refresh takes a logical stamp before its request goes out, so an
// event applied while the request was in flight is never overwritten by
// the older response.
package syncer
