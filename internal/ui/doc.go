// Package ui provides the Bubble Tea watch view for mirror.
//
// The view lists a set of watched cache keys (entity paths or list keys
// such as "alice/" or "sources:") with their state, age and a short summary,
// and shows the selected entry as indented JSON in a scrollable pane.
//
// Data flow:
//
//  1. A periodic tick reads every watched key through the Source, which is
//     normally a *syncer.Coordinator. The coordinator serves the cached value
//     and decides whether a background pull is needed.
//  2. The model subscribes to the store's registry. Changes to watched keys
//     are queued on a buffered channel and turned into messages, so pushed
//     events show up without waiting for the next tick.
//  3. "r" forces a refresh of the selected key; "t" cycles the theme and
//     saves it to the preferences file.
//
// Rendering uses lipgloss with the same palettes as the rest of the tools
// (Nightfox, Kanagawa, Slate).
package ui
