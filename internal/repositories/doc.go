// Package repositories implements SQLite persistence for the durable halves of vinyldeck's caches and stores.
//
// Key Implementations:
//   - [KVRepository] : key/value buckets backing the persisted stores, with a global revision counter
//     and tombstones so other processes sharing the database can observe writes and removals
//   - [QueryCacheRepository] : persisted query-client entries, addressable by scope (the first query key element)
//   - [HTTPCacheRepository] : named HTTP response caches used for offline fallback
//
// Revisions are allocated by [nextSequence] inside the writing transaction, so a reader that
// asks for [KVRepository.ChangesSince] sees every change exactly once and in commit order.
package repositories
