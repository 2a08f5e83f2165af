// Package app is the composition root for mirror.
//
// Open wires the pieces in dependency order:
//
//	config.Load()          read ~/.config/mirror/config.toml
//	logging.New()          JSON log at <state_dir>/mirror.log
//	state.NewStore()       cache + subscriber registry
//	persist.Open()         restore <state_dir>/cache.db, start the journal
//	heedy.NewClient()      REST fetcher
//	reconcile.New()        applies pushed events to the store
//	push.NewClient()       websocket event channel (optional)
//	syncer.New()           serves reads, pulls in the background
//
// Close reverses it: the run context is cancelled, the push loop and any
// background refreshes are waited for, the journal does its final flush,
// the database is closed and the logger synced.
//
// Run opens the app, fetches the watched paths once so the first frame has
// data, and hands the coordinator to the watch UI. Sync does the same
// without a UI, driving StartRefresher at the freshness interval so the
// on-disk cache stays warm.
//
// Errors fall in two groups. Startup problems (bad config, unparsable
// server address, unopenable cache file) are returned from Open. Everything
// after that, such as refresh failures or a dropped push connection, is
// cached as an error value or logged, and the app keeps serving what it
// has.
package app
