package repositories

import (
	"database/sql"
	"fmt"
	"time"
)

// CachedResponse is a stored response body keyed by cache name and URL.
type CachedResponse struct {
	CacheName   string
	URL         string
	Body        []byte
	ContentType string
	StoredAt    time.Time
}

// HTTPCacheRepository stores named HTTP response caches.
type HTTPCacheRepository struct {
	db *sql.DB
}

// NewHTTPCacheRepository creates a new [HTTPCacheRepository] with the given database connection
func NewHTTPCacheRepository(db *sql.DB) *HTTPCacheRepository {
	return &HTTPCacheRepository{db: db}
}

// Put stores or replaces a response.
func (r *HTTPCacheRepository) Put(resp CachedResponse) error {
	if resp.StoredAt.IsZero() {
		resp.StoredAt = time.Now()
	}
	resp.StoredAt = resp.StoredAt.UTC()
	query := `
		INSERT INTO http_cache (cache_name, url, body, content_type, stored_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(cache_name, url) DO UPDATE SET
			body = excluded.body,
			content_type = excluded.content_type,
			stored_at = excluded.stored_at
	`
	if _, err := r.db.Exec(query, resp.CacheName, resp.URL, resp.Body, resp.ContentType, resp.StoredAt); err != nil {
		return fmt.Errorf("failed to cache response for %s: %w", resp.URL, err)
	}
	return nil
}

// Get returns a stored response or [ErrNotFound].
func (r *HTTPCacheRepository) Get(cacheName, url string) (*CachedResponse, error) {
	resp := CachedResponse{CacheName: cacheName, URL: url}
	err := r.db.QueryRow(
		"SELECT body, content_type, stored_at FROM http_cache WHERE cache_name = ? AND url = ?", cacheName, url,
	).Scan(&resp.Body, &resp.ContentType, &resp.StoredAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s in %s", ErrNotFound, url, cacheName)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query cached response: %w", err)
	}
	return &resp, nil
}

// Prune drops responses older than maxAge and keeps at most maxEntries of the newest ones.
// A non-positive limit disables that bound.
func (r *HTTPCacheRepository) Prune(cacheName string, maxEntries int, maxAge time.Duration) (int64, error) {
	var cutoff time.Time
	if maxAge > 0 {
		cutoff = time.Now().Add(-maxAge).UTC()
	}
	limit := -1
	if maxEntries > 0 {
		limit = maxEntries
	}

	query := `
		DELETE FROM http_cache WHERE cache_name = ? AND (
			stored_at < ? OR url NOT IN (
				SELECT url FROM http_cache WHERE cache_name = ? ORDER BY stored_at DESC LIMIT ?
			)
		)
	`
	res, err := r.db.Exec(query, cacheName, cutoff, cacheName, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to prune cache %s: %w", cacheName, err)
	}
	return res.RowsAffected()
}

// DeleteCache drops every response in the named cache.
func (r *HTTPCacheRepository) DeleteCache(cacheName string) (int64, error) {
	res, err := r.db.Exec("DELETE FROM http_cache WHERE cache_name = ?", cacheName)
	if err != nil {
		return 0, fmt.Errorf("failed to delete cache %s: %w", cacheName, err)
	}
	return res.RowsAffected()
}

// ListCaches returns the names of caches holding at least one response.
func (r *HTTPCacheRepository) ListCaches() ([]string, error) {
	rows, err := r.db.Query("SELECT DISTINCT cache_name FROM http_cache ORDER BY cache_name")
	if err != nil {
		return nil, fmt.Errorf("failed to list caches: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan cache name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}
