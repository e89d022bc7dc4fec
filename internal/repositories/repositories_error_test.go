package repositories

import (
	"errors"
	"testing"
)

func TestKVRepositoryErrors(t *testing.T) {
	t.Run("ClosedDatabase", func(t *testing.T) {
		db := setupTestDB(t)
		repo := NewKVRepository(db)
		db.Close()

		if _, _, err := repo.Get("k"); err == nil {
			t.Error("expected error from Get on closed database")
		}
		if _, err := repo.Put("k", []byte("v"), "w"); err == nil {
			t.Error("expected error from Put on closed database")
		}
		if _, err := repo.Delete("k", "w"); err == nil {
			t.Error("expected error from Delete on closed database")
		}
		if _, err := repo.ChangesSince(0, ""); err == nil {
			t.Error("expected error from ChangesSince on closed database")
		}
		if _, err := repo.LatestRevision(); err == nil {
			t.Error("expected error from LatestRevision on closed database")
		}
		if _, err := repo.Keys(); err == nil {
			t.Error("expected error from Keys on closed database")
		}
	})

	t.Run("Missing", func(t *testing.T) {
		repo := NewKVRepository(setupTestDB(t))

		value, found, err := repo.Get("missing")
		if err != nil {
			t.Fatalf("expected no error for a missing key, got %v", err)
		}
		if found || value != nil {
			t.Errorf("expected missing key to be not found, got %q", value)
		}
	})
}

func TestQueryCacheRepositoryErrors(t *testing.T) {
	t.Run("NotFound", func(t *testing.T) {
		repo := NewQueryCacheRepository(setupTestDB(t))

		_, err := repo.Get("nonexistent")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("ClosedDatabase", func(t *testing.T) {
		db := setupTestDB(t)
		repo := NewQueryCacheRepository(db)
		db.Close()

		if err := repo.Put(QueryCacheRow{Hash: "h", Scope: "collection", Key: []byte(`["collection"]`)}); err == nil {
			t.Error("expected error from Put on closed database")
		}
		if _, err := repo.Get("h"); err == nil || errors.Is(err, ErrNotFound) {
			t.Errorf("expected query error from Get on closed database, got %v", err)
		}
		if _, err := repo.List(); err == nil {
			t.Error("expected error from List on closed database")
		}
		if _, err := repo.ListScope("collection"); err == nil {
			t.Error("expected error from ListScope on closed database")
		}
		if err := repo.Delete("h"); err == nil {
			t.Error("expected error from Delete on closed database")
		}
		if _, err := repo.DeleteScope("collection"); err == nil {
			t.Error("expected error from DeleteScope on closed database")
		}
		if err := repo.Clear(); err == nil {
			t.Error("expected error from Clear on closed database")
		}
	})
}

func TestHTTPCacheRepositoryErrors(t *testing.T) {
	t.Run("NotFound", func(t *testing.T) {
		repo := NewHTTPCacheRepository(setupTestDB(t))

		_, err := repo.Get("discogs-api-cache", "https://api.discogs.com/oauth/identity")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("ClosedDatabase", func(t *testing.T) {
		db := setupTestDB(t)
		repo := NewHTTPCacheRepository(db)
		db.Close()

		if err := repo.Put(CachedResponse{CacheName: "c", URL: "u"}); err == nil {
			t.Error("expected error from Put on closed database")
		}
		if _, err := repo.Get("c", "u"); err == nil || errors.Is(err, ErrNotFound) {
			t.Errorf("expected query error from Get on closed database, got %v", err)
		}
		if _, err := repo.DeleteCache("c"); err == nil {
			t.Error("expected error from DeleteCache on closed database")
		}
		if _, err := repo.ListCaches(); err == nil {
			t.Error("expected error from ListCaches on closed database")
		}
	})
}
