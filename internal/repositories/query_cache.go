package repositories

import (
	"database/sql"
	"fmt"
)

// QueryCacheRow is one persisted query entry. Key and Data hold JSON.
type QueryCacheRow struct {
	Hash      string
	Scope     string
	Key       []byte
	Data      []byte
	UpdatedAt int64
}

// QueryCacheRepository persists query-client entries.
type QueryCacheRepository struct {
	db *sql.DB
}

// NewQueryCacheRepository creates a new [QueryCacheRepository] with the given database connection
func NewQueryCacheRepository(db *sql.DB) *QueryCacheRepository {
	return &QueryCacheRepository{db: db}
}

// Put inserts or replaces the row identified by its hash.
func (r *QueryCacheRepository) Put(row QueryCacheRow) error {
	query := `
		INSERT INTO query_cache (hash, scope, query_key, data, updated_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(hash) DO UPDATE SET
			scope = excluded.scope,
			query_key = excluded.query_key,
			data = excluded.data,
			updated_at = excluded.updated_at
	`
	if _, err := r.db.Exec(query, row.Hash, row.Scope, string(row.Key), row.Data, row.UpdatedAt); err != nil {
		return fmt.Errorf("failed to persist query %s: %w", row.Hash, err)
	}
	return nil
}

// Get returns the row for hash or [ErrNotFound].
func (r *QueryCacheRepository) Get(hash string) (*QueryCacheRow, error) {
	var (
		row QueryCacheRow
		key string
	)
	err := r.db.QueryRow(
		"SELECT hash, scope, query_key, data, updated_at FROM query_cache WHERE hash = ?", hash,
	).Scan(&row.Hash, &row.Scope, &key, &row.Data, &row.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: query %s", ErrNotFound, hash)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query cache row: %w", err)
	}
	row.Key = []byte(key)
	return &row, nil
}

// List returns every persisted row ordered by hash.
func (r *QueryCacheRepository) List() ([]QueryCacheRow, error) {
	return r.list("SELECT hash, scope, query_key, data, updated_at FROM query_cache ORDER BY hash")
}

// ListScope returns the rows whose key starts with scope.
func (r *QueryCacheRepository) ListScope(scope string) ([]QueryCacheRow, error) {
	return r.list("SELECT hash, scope, query_key, data, updated_at FROM query_cache WHERE scope = ? ORDER BY hash", scope)
}

func (r *QueryCacheRepository) list(query string, args ...any) ([]QueryCacheRow, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list cache rows: %w", err)
	}
	defer rows.Close()

	var result []QueryCacheRow
	for rows.Next() {
		var (
			row QueryCacheRow
			key string
		)
		if err := rows.Scan(&row.Hash, &row.Scope, &key, &row.Data, &row.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan cache row: %w", err)
		}
		row.Key = []byte(key)
		result = append(result, row)
	}
	return result, rows.Err()
}

// Delete removes one row.
func (r *QueryCacheRepository) Delete(hash string) error {
	if _, err := r.db.Exec("DELETE FROM query_cache WHERE hash = ?", hash); err != nil {
		return fmt.Errorf("failed to delete query %s: %w", hash, err)
	}
	return nil
}

// DeleteScope removes every row in scope and reports how many were removed.
func (r *QueryCacheRepository) DeleteScope(scope string) (int64, error) {
	res, err := r.db.Exec("DELETE FROM query_cache WHERE scope = ?", scope)
	if err != nil {
		return 0, fmt.Errorf("failed to delete scope %s: %w", scope, err)
	}
	return res.RowsAffected()
}

// Clear removes every persisted query.
func (r *QueryCacheRepository) Clear() error {
	if _, err := r.db.Exec("DELETE FROM query_cache"); err != nil {
		return fmt.Errorf("failed to clear query cache: %w", err)
	}
	return nil
}
