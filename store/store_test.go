package store

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()

	path := filepath.Join(t.TempDir(), "sequences.db")
	s, err := NewSQLiteStore(SQLiteStoreConfig{DSN: path})
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})
	return s
}

// forEachStore runs fn against every Store implementation.
func forEachStore(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Run("mem", func(t *testing.T) { fn(t, NewMemStore()) })
	t.Run("sqlite", func(t *testing.T) { fn(t, newTestSQLiteStore(t)) })
}

func TestStore_CRUD(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

		rec := Record{
			ID:        "id-1",
			Name:      "orders",
			Kind:      "uint32",
			State:     json.RawMessage(`{"next":1,"increment":1,"limit":4294967295}`),
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := s.Put(ctx, rec); err != nil {
			t.Fatalf("Put: %v", err)
		}

		got, err := s.Get(ctx, "orders")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.ID != "id-1" || got.Kind != "uint32" || string(got.State) != string(rec.State) {
			t.Fatalf("Get = %+v", got)
		}
		if !got.CreatedAt.Equal(now) {
			t.Fatalf("CreatedAt = %s, want %s", got.CreatedAt, now)
		}

		if _, err := s.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("Get(missing) err = %v, want ErrNotFound", err)
		}

		// Upsert keeps identity and creation time.
		rec.ID = "id-2"
		rec.State = json.RawMessage(`{"next":9,"increment":1,"limit":4294967295}`)
		rec.CreatedAt = now.Add(time.Hour)
		rec.UpdatedAt = now.Add(time.Hour)
		if err := s.Put(ctx, rec); err != nil {
			t.Fatalf("Put update: %v", err)
		}
		got, err = s.Get(ctx, "orders")
		if err != nil {
			t.Fatalf("Get after update: %v", err)
		}
		if got.ID != "id-1" {
			t.Fatalf("ID after upsert = %q, want id-1", got.ID)
		}
		if !got.CreatedAt.Equal(now) || !got.UpdatedAt.Equal(now.Add(time.Hour)) {
			t.Fatalf("timestamps after upsert = %s / %s", got.CreatedAt, got.UpdatedAt)
		}
		if string(got.State) != string(rec.State) {
			t.Fatalf("State after upsert = %s", got.State)
		}

		if err := s.Delete(ctx, "orders"); err != nil {
			t.Fatalf("Delete: %v", err)
		}
		if err := s.Delete(ctx, "orders"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("Delete twice err = %v, want ErrNotFound", err)
		}
	})
}

func TestStore_ListInCreationOrder(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		for _, name := range []string{"c", "a", "b"} {
			rec := Record{ID: "id-" + name, Name: name, Kind: "uint8", State: json.RawMessage(`{}`)}
			if err := s.Put(ctx, rec); err != nil {
				t.Fatalf("Put(%s): %v", name, err)
			}
		}
		// Updating does not move a record.
		if err := s.Put(ctx, Record{ID: "x", Name: "c", Kind: "uint8", State: json.RawMessage(`{}`)}); err != nil {
			t.Fatalf("Put(c again): %v", err)
		}

		list, err := s.List(ctx)
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		var names []string
		for _, rec := range list {
			names = append(names, rec.Name)
		}
		if len(names) != 3 || names[0] != "c" || names[1] != "a" || names[2] != "b" {
			t.Fatalf("List names = %v, want [c a b]", names)
		}
	})
}

func TestSQLiteStore_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "reopen.db")

	first, err := NewSQLiteStore(SQLiteStoreConfig{DSN: path})
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	rec := Record{ID: "id-1", Name: "invoices", Kind: "uint128", State: json.RawMessage(`{"next":5,"increment":5}`)}
	if err := first.Put(ctx, rec); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	second, err := NewSQLiteStore(SQLiteStoreConfig{DSN: path})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer second.Close()

	got, err := second.Get(ctx, "invoices")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Kind != "uint128" || string(got.State) != string(rec.State) {
		t.Fatalf("Get after reopen = %+v", got)
	}
}

func TestNewSQLiteStore_RequiresDSN(t *testing.T) {
	if _, err := NewSQLiteStore(SQLiteStoreConfig{}); err == nil {
		t.Fatal("NewSQLiteStore with empty DSN succeeded")
	}
}
