// Package querycache is a keyed cache of fetched API data with an in-memory layer backed by
// SQLite, so cached collection pages survive restarts.
//
// Keys are JSON arrays whose first element names the scope, e.g.
// ["collection", "digger", false, 1, "added", "desc"]. Lookups by prefix match element-wise.
package querycache

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/vinyldeck/internal/repositories"
	"github.com/desertthunder/vinyldeck/internal/shared"
)

// Key identifies a cached query.
type Key []any

// Scope returns the first element of k when it is a string.
func (k Key) Scope() string {
	if len(k) == 0 {
		return ""
	}
	s, _ := k[0].(string)
	return s
}

// Entry is one cached query.
type Entry struct {
	Key       Key
	Data      json.RawMessage
	UpdatedAt time.Time
	Stale     bool
}

// Decode unmarshals the entry's data into v.
func (e Entry) Decode(v any) error {
	return json.Unmarshal(e.Data, v)
}

// Persister is the durable layer of a [Client].
type Persister interface {
	Put(row repositories.QueryCacheRow) error
	List() ([]repositories.QueryCacheRow, error)
	DeleteScope(scope string) (int64, error)
	Clear() error
}

type entry struct {
	key       Key
	parts     []json.RawMessage
	data      json.RawMessage
	updatedAt time.Time
	stale     bool
}

// Client caches query results in memory and writes them through to a [Persister].
type Client struct {
	persister Persister
	clock     shared.Clock
	logger    *log.Logger
	staleTime time.Duration

	mu       sync.RWMutex
	entries  map[string]*entry
	restored bool
}

// Option configures a [Client].
type Option func(*Client)

// WithPersister sets the durable layer. Without one the client is memory-only and counts as restored.
func WithPersister(p Persister) Option { return func(c *Client) { c.persister = p } }

func WithClock(clock shared.Clock) Option { return func(c *Client) { c.clock = clock } }

func WithLogger(l *log.Logger) Option { return func(c *Client) { c.logger = l } }

// WithStaleTime marks entries stale once they are older than d. Zero disables age-based staleness.
func WithStaleTime(d time.Duration) Option { return func(c *Client) { c.staleTime = d } }

func New(opts ...Option) *Client {
	c := &Client{
		clock:   shared.SystemClock{},
		logger:  shared.DiscardLogger(),
		entries: make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.restored = c.persister == nil
	return c
}

// normalize encodes each key element so keys compare by JSON value.
func normalize(k Key) (string, []json.RawMessage, error) {
	parts := make([]json.RawMessage, len(k))
	for i, v := range k {
		b, err := json.Marshal(v)
		if err != nil {
			return "", nil, fmt.Errorf("%w: query key element %d: %v", shared.ErrInvalidInput, i, err)
		}
		parts[i] = b
	}
	hash, err := json.Marshal(parts)
	if err != nil {
		return "", nil, err
	}
	return string(hash), parts, nil
}

func hasPrefix(parts, prefix []json.RawMessage) bool {
	if len(prefix) > len(parts) {
		return false
	}
	for i := range prefix {
		if !bytes.Equal(parts[i], prefix[i]) {
			return false
		}
	}
	return true
}

// Get returns the cached data for key.
func (c *Client) Get(key Key) (json.RawMessage, bool) {
	hash, _, err := normalize(key)
	if err != nil {
		return nil, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[hash]
	if !ok {
		return nil, false
	}
	return slices.Clone(e.data), true
}

// Decode unmarshals the cached data for key into v and reports whether it was cached.
func (c *Client) Decode(key Key, v any) (bool, error) {
	data, ok := c.Get(key)
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return true, fmt.Errorf("failed to decode cached query: %w", err)
	}
	return true, nil
}

// Set encodes data and stores it under key, replacing any previous value.
func (c *Client) Set(key Key, data any) error {
	hash, parts, err := normalize(key)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to encode query data: %w", err)
	}
	now := c.clock.Now()

	c.mu.Lock()
	c.entries[hash] = &entry{key: slices.Clone(key), parts: parts, data: raw, updatedAt: now}
	c.mu.Unlock()

	if c.persister == nil {
		return nil
	}
	return c.persister.Put(repositories.QueryCacheRow{
		Hash:      hash,
		Scope:     key.Scope(),
		Key:       []byte(hash),
		Data:      raw,
		UpdatedAt: now.UnixMilli(),
	})
}

// Find returns every entry whose key starts with prefix, ordered by key.
func (c *Client) Find(prefix Key) []Entry {
	_, want, err := normalize(prefix)
	if err != nil {
		return nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	hashes := make([]string, 0, len(c.entries))
	for hash, e := range c.entries {
		if hasPrefix(e.parts, want) {
			hashes = append(hashes, hash)
		}
	}
	slices.Sort(hashes)

	out := make([]Entry, 0, len(hashes))
	for _, hash := range hashes {
		e := c.entries[hash]
		out = append(out, Entry{
			Key:       slices.Clone(e.key),
			Data:      slices.Clone(e.data),
			UpdatedAt: e.updatedAt,
			Stale:     c.isStale(e),
		})
	}
	return out
}

// Invalidate marks every entry under prefix stale and reports how many were marked.
func (c *Client) Invalidate(prefix Key) int {
	_, want, err := normalize(prefix)
	if err != nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, e := range c.entries {
		if hasPrefix(e.parts, want) {
			e.stale = true
			n++
		}
	}
	return n
}

// IsStale reports whether key is missing, invalidated, or older than the stale time.
func (c *Client) IsStale(key Key) bool {
	hash, _, err := normalize(key)
	if err != nil {
		return true
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[hash]
	return !ok || c.isStale(e)
}

func (c *Client) isStale(e *entry) bool {
	if e.stale {
		return true
	}
	return c.staleTime > 0 && c.clock.Now().Sub(e.updatedAt) > c.staleTime
}

// ClearScope drops every entry whose key starts with scope, in memory first and then on disk.
func (c *Client) ClearScope(scope string) error {
	c.mu.Lock()
	for hash, e := range c.entries {
		if e.key.Scope() == scope {
			delete(c.entries, hash)
		}
	}
	c.mu.Unlock()

	if c.persister == nil {
		return nil
	}
	n, err := c.persister.DeleteScope(scope)
	if err != nil {
		return err
	}
	c.logger.Debug("cleared persisted scope", "scope", scope, "rows", n)
	return nil
}

// ClearAll drops every entry from both layers.
func (c *Client) ClearAll() error {
	c.mu.Lock()
	c.entries = make(map[string]*entry)
	c.mu.Unlock()

	if c.persister == nil {
		return nil
	}
	return c.persister.Clear()
}

// Restore loads persisted entries that are not already in memory. Unreadable rows are skipped.
func (c *Client) Restore() error {
	if c.persister == nil {
		return nil
	}
	rows, err := c.persister.List()
	if err != nil {
		return fmt.Errorf("failed to restore query cache: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, row := range rows {
		var parts []json.RawMessage
		if err := json.Unmarshal(row.Key, &parts); err != nil {
			c.logger.Warn("skipping unreadable cached query", "hash", row.Hash, "err", err)
			continue
		}
		var key Key
		if err := json.Unmarshal(row.Key, &key); err != nil {
			c.logger.Warn("skipping unreadable cached query", "hash", row.Hash, "err", err)
			continue
		}
		if _, ok := c.entries[row.Hash]; ok {
			continue
		}
		c.entries[row.Hash] = &entry{
			key:       key,
			parts:     parts,
			data:      row.Data,
			updatedAt: time.UnixMilli(row.UpdatedAt),
		}
	}
	c.restored = true
	return nil
}

// Restored reports whether persisted entries have been loaded.
func (c *Client) Restored() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.restored
}
