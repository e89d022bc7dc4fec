// Package ui implements the collection sync watcher, a terminal interface built on bubbletea's Elm architecture.
//
// The watcher renders the sync toast for the signed-in collection:
//   - idle: the collection matches the last acknowledged size
//   - pending: items were added or removed elsewhere; the message counts both
//   - refreshing: a spinner while every cached view is re-fetched
//
// A minimized toast collapses to a single line and stays minimized until the counts change.
//
// The [Model] implements bubbletea/Elm's standard Init/Update/View pattern, receiving messages via the Msg union type.
// Sync-state changes and refresh progress arrive through channels, so the store never blocks on rendering.
// Terminal focus messages trigger an immediate change check, mirroring a browser tab regaining focus.
//
// Keys: r refresh, m minimize, o open, c check now, q quit. Help is displayed via charmbracelet/bubbles/help.
package ui
