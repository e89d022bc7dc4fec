package storage

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/vinyldeck/internal/repositories"
	"github.com/desertthunder/vinyldeck/internal/shared"
)

// Durable is a SQLite-backed [Storage]. Each handle writes under its own writer id and learns about
// other handles' writes by polling the revision log.
//
// Reads are served from a per-handle cache filled on first read and kept current by this handle's
// writes and by [Durable.Poll].
type Durable struct {
	repo   *repositories.KVRepository
	writer string
	logger *log.Logger
	subs   subscribers

	mu       sync.Mutex
	revision int64

	cacheMu sync.RWMutex
	cache   map[string]cached
}

// cached is a read cache entry. Misses are cached too.
type cached struct {
	value []byte
	found bool
}

// NewDurable opens a handle positioned at the current revision, so history is not replayed.
func NewDurable(repo *repositories.KVRepository, logger *log.Logger) (*Durable, error) {
	if logger == nil {
		logger = shared.DiscardLogger()
	}
	rev, err := repo.LatestRevision()
	if err != nil {
		return nil, fmt.Errorf("failed to open durable storage: %w", err)
	}
	return &Durable{
		repo:     repo,
		writer:   shared.GenerateID(),
		logger:   logger,
		revision: rev,
		cache:    make(map[string]cached),
	}, nil
}

// Writer returns the id this handle records on its writes.
func (d *Durable) Writer() string { return d.writer }

// Get reads key synchronously. Read failures are logged, reported as a miss, and not cached.
func (d *Durable) Get(key string) ([]byte, bool) {
	d.cacheMu.RLock()
	entry, ok := d.cache[key]
	d.cacheMu.RUnlock()
	if ok {
		return bytes.Clone(entry.value), entry.found
	}

	value, found, err := d.repo.Get(key)
	if err != nil {
		d.logger.Error("storage read failed", "key", key, "err", err)
		return nil, false
	}
	d.remember(key, value, found)
	return bytes.Clone(value), found
}

func (d *Durable) remember(key string, value []byte, found bool) {
	d.cacheMu.Lock()
	d.cache[key] = cached{value: bytes.Clone(value), found: found}
	d.cacheMu.Unlock()
}

// forget drops key so the next read goes to the database.
func (d *Durable) forget(key string) {
	d.cacheMu.Lock()
	delete(d.cache, key)
	d.cacheMu.Unlock()
}

func (d *Durable) Set(key string, value []byte) error {
	if _, err := d.repo.Put(key, value, d.writer); err != nil {
		d.forget(key)
		return fmt.Errorf("storage write %s: %w", key, err)
	}
	d.remember(key, value, true)
	return nil
}

func (d *Durable) Remove(key string) error {
	if _, err := d.repo.Delete(key, d.writer); err != nil {
		d.forget(key)
		return fmt.Errorf("storage remove %s: %w", key, err)
	}
	d.remember(key, nil, false)
	return nil
}

func (d *Durable) OnExternalChange(key string, h Handler) func() {
	return d.subs.add(key, h)
}

// Poll dispatches every change written by other handles since the last poll, oldest first.
func (d *Durable) Poll() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	changes, err := d.repo.ChangesSince(d.revision, d.writer)
	if err != nil {
		return err
	}
	for _, c := range changes {
		d.revision = max(d.revision, c.Revision)
		d.remember(c.Key, c.Value, !c.Deleted)
		d.subs.dispatch(Change{Key: c.Key, Value: c.Value, Removed: c.Deleted})
	}
	return nil
}

// Watch polls on interval until ctx is done.
func (d *Durable) Watch(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := d.Poll(); err != nil {
				d.logger.Warn("storage poll failed", "err", err)
			}
		}
	}
}
