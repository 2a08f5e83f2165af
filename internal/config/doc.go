// Package config loads mirror's TOML configuration.
//
// # Configuration Discovery
//
// The Load function follows this resolution order:
//
//  1. If a path is explicitly provided, use it
//  2. Otherwise, use ~/.config/mirror/config.toml (default)
//  3. If the config file doesn't exist, fall back to defaults
//  4. If the file exists but fields are missing or empty, use defaults
//
// # Default Values
//
//   - Server: 127.0.0.1:3124
//   - Freshness window: 1000 ms
//   - Push channel: enabled
//   - State directory: ~/.local/share/mirror
//   - Persisted cache: <state_dir>/cache.db, flushed every 2000 ms
//   - Log file: <state_dir>/mirror.log at level info
//
// # TOML Format
//
//	server = "127.0.0.1:3124"
//	freshness_ms = 1000
//	push = true
//	subscriptions = ["alice", "alice/phone"]
//	state_dir = "~/.local/share/mirror"
//	persist = true
//	flush_ms = 2000
//	log_level = "info"
//
// String values are trimmed and paths starting with ~ are expanded against
// the user's home directory. A freshness of zero refreshes on every read; a
// negative one is rejected.
package config
