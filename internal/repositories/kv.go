package repositories

import (
	"database/sql"
	"fmt"
	"time"
)

// Change is one revision of a key as recorded in kv_store.
type Change struct {
	Key      string
	Value    []byte
	Deleted  bool
	Revision int64
	Writer   string
}

// KVRepository persists key/value buckets with a monotonic revision per write.
type KVRepository struct {
	db *sql.DB
}

// NewKVRepository creates a new [KVRepository] with the given database connection
func NewKVRepository(db *sql.DB) *KVRepository {
	return &KVRepository{db: db}
}

// Get returns the live value for key. Tombstoned keys report found=false.
func (r *KVRepository) Get(key string) ([]byte, bool, error) {
	var (
		value   []byte
		deleted bool
	)
	err := r.db.QueryRow("SELECT value, deleted FROM kv_store WHERE key = ?", key).Scan(&value, &deleted)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to query key %s: %w", key, err)
	}
	if deleted {
		return nil, false, nil
	}
	return value, true, nil
}

// Put writes value for key on behalf of writer and returns the new revision.
func (r *KVRepository) Put(key string, value []byte, writer string) (int64, error) {
	if value == nil {
		value = []byte{}
	}
	return r.write(key, value, false, writer)
}

// Delete tombstones key on behalf of writer and returns the new revision.
func (r *KVRepository) Delete(key, writer string) (int64, error) {
	return r.write(key, nil, true, writer)
}

func (r *KVRepository) write(key string, value []byte, deleted bool, writer string) (int64, error) {
	tx, err := r.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	revision, err := nextSequence(tx, "kv_revision")
	if err != nil {
		return 0, err
	}

	query := `
		INSERT INTO kv_store (key, value, revision, writer, deleted, updated_at) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			revision = excluded.revision,
			writer = excluded.writer,
			deleted = excluded.deleted,
			updated_at = excluded.updated_at
	`
	if _, err := tx.Exec(query, key, value, revision, writer, deleted, time.Now()); err != nil {
		return 0, fmt.Errorf("failed to write key %s: %w", key, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit write: %w", err)
	}
	return revision, nil
}

// ChangesSince lists rows with a revision above since, oldest first, skipping rows last written by excludeWriter.
func (r *KVRepository) ChangesSince(since int64, excludeWriter string) ([]Change, error) {
	rows, err := r.db.Query(`
		SELECT key, value, deleted, revision, writer
		FROM kv_store
		WHERE revision > ? AND writer != ?
		ORDER BY revision ASC
	`, since, excludeWriter)
	if err != nil {
		return nil, fmt.Errorf("failed to query changes: %w", err)
	}
	defer rows.Close()

	var changes []Change
	for rows.Next() {
		var c Change
		if err := rows.Scan(&c.Key, &c.Value, &c.Deleted, &c.Revision, &c.Writer); err != nil {
			return nil, fmt.Errorf("failed to scan change: %w", err)
		}
		changes = append(changes, c)
	}
	return changes, rows.Err()
}

// LatestRevision returns the highest revision allocated so far.
func (r *KVRepository) LatestRevision() (int64, error) {
	var revision int64
	if err := r.db.QueryRow("SELECT value FROM kv_revision WHERE id = 1").Scan(&revision); err != nil {
		return 0, fmt.Errorf("failed to read revision: %w", err)
	}
	return revision, nil
}

// Keys lists every live key.
func (r *KVRepository) Keys() ([]string, error) {
	rows, err := r.db.Query("SELECT key FROM kv_store WHERE deleted = 0 ORDER BY key")
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("failed to scan key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}
