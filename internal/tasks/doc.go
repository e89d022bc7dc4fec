// Package tasks runs the long-lived collection work behind the CLI and UI with progress reporting.
//
// # Fetching
//
// [FetchCollection] loads one collection [collection.Variant]. A fetch-all variant loads page 1,
// then the remaining pages in batches run concurrently with an errgroup, paced by a token bucket.
//
// # Sync
//
// [CollectionSync] polls the collection size for the signed-in user and compares it with the
// acknowledged baseline in [stores.SyncStateStore]:
//
//  1. [CollectionSync.Poll] : fetch metadata when the cached copy is stale and record the live count
//     - The first observation prefers the largest cached collection size as the baseline
//     - It waits until the query cache has been restored from disk
//  2. [CollectionSync.Descriptor] : project the entry into what a sync surface renders
//  3. [CollectionSync.RefreshCollection] : re-fetch every cached variant and acknowledge the new size
//  4. [CollectionSync.HardRefresh] : drop the cached collection first, optionally hydrating one view
//
// # Scope refresh
//
// [ScopeRefresher] is the scope-independent part of a refresh. It seeds a missing entry, marks it
// refreshing, optionally clears the cached scope, and reconciles the baseline with the first
// count it can get from the cached data, a hydrated view, or a live fetch.
//
// # Progress Reporting
//
// The [ProgressUpdate] struct carries phase, step counters, messages, and optional data.
// Updates use select with default so a slow reader never blocks work.
package tasks
