// Package heedy provides an HTTP client and wire types for the personal data
// server the cache mirrors.
//
// # Overview
//
// The server holds users, devices and streams in a strict three level tree,
// plus flat collections (sources, connections, notifications) addressed by
// id. This package maps cache paths onto REST endpoints, decodes responses
// into Object payloads and normalizes every failure into an ErrorRef.
//
// # Paths
//
// Cache paths come in two shapes:
//
//   - Hierarchical: "alice", "alice/phone", "alice/phone/steps"
//   - Flat: "source:3f2a", "notification:k.alice.app.src"
//
// Collections are addressed by list keys: "/" lists users, "alice/" lists
// alice's devices, "alice/phone/" lists the phone's streams and "source:"
// lists every source. ListKey, Parent and ChildPath convert between the two.
//
// # API Endpoints
//
//   - GET/POST/PUT/DELETE /api/v1/crud/{user}[/{device}[/{stream}]]
//   - GET /api/v1/crud/{prefix}?q=ls lists children
//   - GET/PATCH/DELETE /api/v1/{collection}/{id}, POST and GET /api/v1/{collection}
//
// # Error Handling
//
// Failures surface as Go errors that AsErrorRef folds into three shapes:
//
//   - Transport failures wrap ErrFetch and become "fetch_error"
//   - Undecodable bodies wrap ErrResponse and become "response_error"
//   - Error responses carry the server's own body as *ErrorRef
//
// Example error messages:
//   - "execute request: fetch failed: dial tcp: connection refused"
//   - "decode response: malformed response: unexpected EOF"
//   - "not_found: The given endpoint is not available"
//
// # Push Events
//
// Event mirrors the frames the server sends over its websocket. Kind folds
// the event name into update, delete or ignored.
//
// # Thread Safety
//
// Client is safe for concurrent use; the underlying http.Client pools
// connections.
package heedy
