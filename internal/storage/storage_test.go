package storage

import (
	"testing"

	"github.com/desertthunder/vinyldeck/internal/repositories"
	"github.com/desertthunder/vinyldeck/internal/shared"
)

func TestMemory(t *testing.T) {
	t.Run("Get Set Remove", func(t *testing.T) {
		m := NewMemory()
		if _, ok := m.Get("k"); ok {
			t.Fatal("expected empty store")
		}

		m.Set("k", []byte("v"))
		if v, ok := m.Get("k"); !ok || string(v) != "v" {
			t.Errorf("expected v, got %q (ok=%v)", v, ok)
		}

		m.Remove("k")
		if _, ok := m.Get("k"); ok {
			t.Error("expected key to be removed")
		}
	})

	t.Run("own writes are not external", func(t *testing.T) {
		m := NewMemory()
		calls := 0
		m.OnExternalChange("k", func(Change) { calls++ })
		m.Set("k", []byte("v"))

		if calls != 0 {
			t.Errorf("expected no notifications for own write, got %d", calls)
		}
	})

	t.Run("peer writes are delivered", func(t *testing.T) {
		a := NewMemory()
		b := a.Peer()

		var got []Change
		b.OnExternalChange("k", func(c Change) { got = append(got, c) })

		a.Set("k", []byte("1"))
		a.Remove("k")
		a.Set("other", []byte("x"))

		if len(got) != 2 {
			t.Fatalf("expected 2 changes for k, got %d", len(got))
		}
		if string(got[0].Value) != "1" || got[0].Removed {
			t.Errorf("unexpected first change %+v", got[0])
		}
		if !got[1].Removed {
			t.Errorf("expected removal, got %+v", got[1])
		}
		if _, ok := b.Get("k"); ok {
			t.Error("peer should share data")
		}
	})

	t.Run("unsubscribe stops delivery", func(t *testing.T) {
		m := NewMemory()
		calls := 0
		unsubscribe := m.OnExternalChange("k", func(Change) { calls++ })
		m.SimulateExternal("k", []byte("1"))
		unsubscribe()
		unsubscribe()
		m.SimulateExternal("k", nil)

		if calls != 1 {
			t.Errorf("expected 1 call, got %d", calls)
		}
	})

	t.Run("values are copied", func(t *testing.T) {
		m := NewMemory()
		buf := []byte("abc")
		m.Set("k", buf)
		buf[0] = 'x'

		if v, _ := m.Get("k"); string(v) != "abc" {
			t.Errorf("expected stored copy, got %q", v)
		}
	})
}

func TestDurable(t *testing.T) {
	setup := func(t *testing.T) *repositories.KVRepository {
		t.Helper()
		db, err := shared.NewDatabase(":memory:")
		if err != nil {
			t.Fatalf("failed to create database: %v", err)
		}
		t.Cleanup(func() { db.Close() })
		if err := shared.RunMigrations(db); err != nil {
			t.Fatalf("failed to run migrations: %v", err)
		}
		return repositories.NewKVRepository(db)
	}

	t.Run("round trip", func(t *testing.T) {
		d, err := NewDurable(setup(t), nil)
		if err != nil {
			t.Fatalf("failed to open: %v", err)
		}

		if err := d.Set("vinyldeck-auth", []byte(`{"state":null}`)); err != nil {
			t.Fatalf("failed to set: %v", err)
		}
		if v, ok := d.Get("vinyldeck-auth"); !ok || string(v) != `{"state":null}` {
			t.Errorf("unexpected value %q (ok=%v)", v, ok)
		}
		if err := d.Remove("vinyldeck-auth"); err != nil {
			t.Fatalf("failed to remove: %v", err)
		}
		if _, ok := d.Get("vinyldeck-auth"); ok {
			t.Error("expected key to be removed")
		}
	})

	t.Run("Poll delivers other writers' changes once", func(t *testing.T) {
		repo := setup(t)
		repo.Put("history", []byte("old"), "someone")

		a, _ := NewDurable(repo, nil)
		b, _ := NewDurable(repo, nil)

		var seen []Change
		b.OnExternalChange("vinyldeck-auth", func(c Change) { seen = append(seen, c) })
		b.OnExternalChange("history", func(c Change) { seen = append(seen, c) })
		a.OnExternalChange("vinyldeck-auth", func(c Change) { t.Error("writer should not observe its own change") })

		a.Set("vinyldeck-auth", []byte("1"))
		a.Remove("vinyldeck-auth")

		if err := b.Poll(); err != nil {
			t.Fatalf("poll failed: %v", err)
		}
		if err := a.Poll(); err != nil {
			t.Fatalf("poll failed: %v", err)
		}

		if len(seen) != 1 {
			t.Fatalf("expected only the latest state of the key, got %d changes", len(seen))
		}
		if !seen[0].Removed {
			t.Errorf("expected removal to be observed, got %+v", seen[0])
		}

		if err := b.Poll(); err != nil {
			t.Fatalf("poll failed: %v", err)
		}
		if len(seen) != 1 {
			t.Errorf("expected no redelivery, got %d changes", len(seen))
		}
	})

	t.Run("reads are cached", func(t *testing.T) {
		db, err := shared.NewDatabase(":memory:")
		if err != nil {
			t.Fatalf("failed to create database: %v", err)
		}
		if err := shared.RunMigrations(db); err != nil {
			t.Fatalf("failed to run migrations: %v", err)
		}
		repo := repositories.NewKVRepository(db)
		repo.Put("vinyldeck-profile", []byte("stored"), "someone")

		a, _ := NewDurable(repo, nil)
		b, _ := NewDurable(repo, nil)
		if v, ok := a.Get("vinyldeck-profile"); !ok || string(v) != "stored" {
			t.Fatalf("unexpected value %q (ok=%v)", v, ok)
		}
		v, _ := a.Get("vinyldeck-profile")
		v[0] = 'X'

		b.Set("vinyldeck-profile", []byte("external"))
		if v, _ := a.Get("vinyldeck-profile"); string(v) != "stored" {
			t.Errorf("expected cached value until the next poll, got %q", v)
		}
		if err := a.Poll(); err != nil {
			t.Fatalf("poll failed: %v", err)
		}
		if v, _ := a.Get("vinyldeck-profile"); string(v) != "external" {
			t.Errorf("expected polled value, got %q", v)
		}

		a.Set("vinyldeck-auth", []byte("1"))
		a.Get("vinyldeck-missing")
		db.Close()

		if v, ok := a.Get("vinyldeck-auth"); !ok || string(v) != "1" {
			t.Errorf("expected own write from cache, got %q (ok=%v)", v, ok)
		}
		if _, ok := a.Get("vinyldeck-missing"); ok {
			t.Error("expected cached miss")
		}
		if _, ok := a.Get("vinyldeck-uncached"); ok {
			t.Error("expected read failure to be a miss")
		}
	})

	t.Run("writers have distinct ids", func(t *testing.T) {
		repo := setup(t)
		a, _ := NewDurable(repo, nil)
		b, _ := NewDurable(repo, nil)
		if a.Writer() == b.Writer() {
			t.Error("expected unique writer ids")
		}
	})
}
