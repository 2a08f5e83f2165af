// Package logtail reads and renders mirror's own log file.
//
// # Reading
//
// Read keeps a ring buffer of the last maxLines lines while scanning the file
// once, so memory stays proportional to the request rather than the file:
//
//	lines, err := logtail.Read(cfg.LogPath(), 200)
//
// A missing file is not an error; mirror may simply not have logged yet.
//
// # Rendering
//
// The log is JSON, one object per line, as written by the logging package.
// Parse decodes a line into a Record and Format turns it into
// "time LEVEL [logger] message key=value ..." with fields sorted by key.
// With styling enabled, levels, timestamps and logger names are colored
// with lipgloss. Lines that are not JSON pass through untouched.
package logtail
