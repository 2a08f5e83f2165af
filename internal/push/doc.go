// Package push maintains the server's websocket event channel.
//
// Client.Run dials ws(s)://host/api/v1/websocket, sends a subscribe
// command for every configured path, and hands each decoded event to the
// handler on the read goroutine. When the connection drops it waits with
// exponential backoff (doubling from the configured base, capped at 30s)
// and reconnects, re-sending every subscription.
//
// Covers reports whether a subscription on the live connection delivers
// events for a key, and since when. A subscription covers its path and
// everything below it. The sync coordinator uses it to skip polling for
// entries the channel has been covering.
package push
