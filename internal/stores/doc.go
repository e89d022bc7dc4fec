// Package stores holds the persisted application state: auth credentials, preferences,
// the cached profile, and per-scope sync state.
//
// Every store reads synchronously from a [storage.Storage] at construction, writes through on
// each action, and reloads itself when another process changes its key. Reloading never writes
// back, so two processes sharing a database cannot ping-pong updates.
package stores
