package catalog

import (
	"context"
	"errors"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/petal-labs/sequential/store"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestCatalog(t *testing.T, s store.Store, mode PersistMode) *Catalog {
	t.Helper()

	c, err := New(Config{
		Store: s,
		Mode:  mode,
		Now:   func() time.Time { return testNow },
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func newTestSQLiteStore(t *testing.T) *store.SQLiteStore {
	t.Helper()

	s, err := store.NewSQLiteStore(store.SQLiteStoreConfig{DSN: filepath.Join(t.TempDir(), "catalog.db")})
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})
	return s
}

// failingStore fails every Put while fail is set.
type failingStore struct {
	store.Store
	mu   sync.Mutex
	fail bool
}

func (s *failingStore) setFail(fail bool) {
	s.mu.Lock()
	s.fail = fail
	s.mu.Unlock()
}

func (s *failingStore) Put(ctx context.Context, rec store.Record) error {
	s.mu.Lock()
	fail := s.fail
	s.mu.Unlock()
	if fail {
		return errors.New("disk full")
	}
	return s.Store.Put(ctx, rec)
}

type recordingObserver struct {
	mu           sync.Mutex
	operations   []OperationObservation
	passivations []PassivationObservation
}

func (r *recordingObserver) ObserveOperation(o OperationObservation) {
	r.mu.Lock()
	r.operations = append(r.operations, o)
	r.mu.Unlock()
}

func (r *recordingObserver) ObservePassivation(o PassivationObservation) {
	r.mu.Lock()
	r.passivations = append(r.passivations, o)
	r.mu.Unlock()
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("New without store succeeded")
	}
	if _, err := New(Config{Store: store.NewMemStore(), Mode: "eventually"}); err == nil {
		t.Fatal("New with unknown mode succeeded")
	}
	c, err := New(Config{Store: store.NewMemStore()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if c.Mode() != PersistSync {
		t.Fatalf("Mode = %q, want sync", c.Mode())
	}
}

func TestCatalog_CreateAndNext(t *testing.T) {
	ctx := context.Background()
	c := newTestCatalog(t, store.NewMemStore(), PersistSync)

	info, err := c.Create(ctx, Definition{Name: "orders", Kind: "uint32", Start: "33", End: "99", Increment: "11"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if info.ID == "" || info.Kind != "uint32" || !info.Active || info.Next != "33" {
		t.Fatalf("Create info = %+v", info)
	}
	if info.Increment != "11" || info.Limit != "99" {
		t.Fatalf("Create info = %+v", info)
	}

	alloc, err := c.Next(ctx, "orders", 3)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if !slices.Equal(alloc.Values, []string{"33", "44", "55"}) || alloc.Exhausted {
		t.Fatalf("Next = %+v", alloc)
	}

	alloc, err = c.Next(ctx, "orders", 10)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if !slices.Equal(alloc.Values, []string{"66", "77", "88", "99"}) || !alloc.Exhausted {
		t.Fatalf("Next past limit = %+v", alloc)
	}

	alloc, err = c.Next(ctx, "orders", 1)
	if err != nil {
		t.Fatalf("Next on exhausted: %v", err)
	}
	if len(alloc.Values) != 0 || !alloc.Exhausted {
		t.Fatalf("Next on exhausted = %+v", alloc)
	}

	got, err := c.Get("orders")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Active || got.Next != "" || got.Increment != "0" {
		t.Fatalf("Get exhausted = %+v", got)
	}
}

func TestCatalog_CreateValidation(t *testing.T) {
	ctx := context.Background()
	c := newTestCatalog(t, store.NewMemStore(), PersistSync)

	tests := []struct {
		name string
		def  Definition
		want error
	}{
		{"missing name", Definition{Kind: "uint8"}, ErrInvalid},
		{"bad name", Definition{Name: "a/b", Kind: "uint8"}, ErrInvalid},
		{"unknown kind", Definition{Name: "x", Kind: "int8"}, ErrUnknownKind},
		{"start and after", Definition{Name: "x", Kind: "uint8", Start: "1", After: "1"}, ErrInvalid},
		{"start out of range", Definition{Name: "x", Kind: "uint8", Start: "256"}, ErrInvalid},
		{"negative increment", Definition{Name: "x", Kind: "uint8", Increment: "-1"}, ErrInvalid},
		{"bad end", Definition{Name: "x", Kind: "uint16", End: "ten"}, ErrInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := c.Create(ctx, tt.def); !errors.Is(err, tt.want) {
				t.Fatalf("Create err = %v, want %v", err, tt.want)
			}
		})
	}

	if _, err := c.Create(ctx, Definition{Name: "dup", Kind: "uint8"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := c.Create(ctx, Definition{Name: "dup", Kind: "uint64"}); !errors.Is(err, ErrExists) {
		t.Fatalf("Create duplicate err = %v, want ErrExists", err)
	}
}

func TestCatalog_CreateVariants(t *testing.T) {
	ctx := context.Background()
	c := newTestCatalog(t, store.NewMemStore(), PersistSync)

	tests := []struct {
		def        Definition
		wantActive bool
		wantNext   string
	}{
		{Definition{Name: "zero", Kind: "uint16"}, true, "0"},
		{Definition{Name: "after", Kind: "uint16", After: "41"}, true, "42"},
		{Definition{Name: "after-max", Kind: "uint8", After: "255"}, false, ""},
		{Definition{Name: "zero-step", Kind: "uint64", Start: "5", Increment: "0"}, false, ""},
		{Definition{Name: "empty-range", Kind: "uint32", Start: "10", End: "9"}, false, ""},
		{Definition{Name: "wide", Kind: "uint128", Start: "340282366920938463463374607431768211455"}, true, "340282366920938463463374607431768211455"},
	}
	for _, tt := range tests {
		info, err := c.Create(ctx, tt.def)
		if err != nil {
			t.Fatalf("Create(%s): %v", tt.def.Name, err)
		}
		if info.Active != tt.wantActive || info.Next != tt.wantNext {
			t.Fatalf("Create(%s) = %+v, want active=%v next=%q", tt.def.Name, info, tt.wantActive, tt.wantNext)
		}
	}

	alloc, err := c.Next(ctx, "wide", 2)
	if err != nil {
		t.Fatalf("Next(wide): %v", err)
	}
	if !slices.Equal(alloc.Values, []string{"340282366920938463463374607431768211455"}) || !alloc.Exhausted {
		t.Fatalf("Next(wide) = %+v", alloc)
	}

	if got := c.Stats().Passivated; got != 4 {
		t.Fatalf("Passivated = %d, want 4", got)
	}
}

func TestCatalog_NextCountBounds(t *testing.T) {
	ctx := context.Background()
	c := newTestCatalog(t, store.NewMemStore(), PersistSync)
	if _, err := c.Create(ctx, Definition{Name: "ids", Kind: "uint64"}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	for _, count := range []int{0, -1, DefaultMaxBatch + 1} {
		if _, err := c.Next(ctx, "ids", count); !errors.Is(err, ErrInvalid) {
			t.Fatalf("Next(count=%d) err = %v, want ErrInvalid", count, err)
		}
	}
	if _, err := c.Next(ctx, "missing", 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Next(missing) err = %v, want ErrNotFound", err)
	}
}

func TestCatalog_ContinueAfter(t *testing.T) {
	ctx := context.Background()
	c := newTestCatalog(t, store.NewMemStore(), PersistSync)
	if _, err := c.Create(ctx, Definition{Name: "ids", Kind: "uint8", Start: "10", Increment: "5"}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	info, err := c.ContinueAfter(ctx, "ids", "20")
	if err != nil {
		t.Fatalf("ContinueAfter: %v", err)
	}
	if info.Next != "25" {
		t.Fatalf("Next after ContinueAfter(20) = %q, want 25", info.Next)
	}

	// Never moves backwards.
	info, err = c.ContinueAfter(ctx, "ids", "3")
	if err != nil {
		t.Fatalf("ContinueAfter: %v", err)
	}
	if info.Next != "25" {
		t.Fatalf("Next after ContinueAfter(3) = %q, want 25", info.Next)
	}

	if _, err := c.ContinueAfter(ctx, "ids", "x"); !errors.Is(err, ErrInvalid) {
		t.Fatalf("ContinueAfter(x) err = %v, want ErrInvalid", err)
	}
	if _, err := c.ContinueAfter(ctx, "missing", "1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("ContinueAfter(missing) err = %v, want ErrNotFound", err)
	}

	info, err = c.ContinueAfter(ctx, "ids", "255")
	if err != nil {
		t.Fatalf("ContinueAfter(255): %v", err)
	}
	if info.Active {
		t.Fatalf("ContinueAfter past max left sequence active: %+v", info)
	}
}

func TestCatalog_Recover(t *testing.T) {
	ctx := context.Background()
	c := newTestCatalog(t, store.NewMemStore(), PersistSync)

	info, err := c.Recover(ctx, "invoices", "uint32", []string{"7", "1204", "96"})
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if info.Next != "1205" {
		t.Fatalf("Recover next = %q, want 1205", info.Next)
	}

	info, err = c.Recover(ctx, "empty", "uint32", nil)
	if err != nil {
		t.Fatalf("Recover(empty): %v", err)
	}
	if info.Next != "1" {
		t.Fatalf("Recover(empty) next = %q, want 1", info.Next)
	}

	if _, err := c.Recover(ctx, "invoices", "uint32", nil); !errors.Is(err, ErrExists) {
		t.Fatalf("Recover existing err = %v, want ErrExists", err)
	}
	if _, err := c.Recover(ctx, "bad", "uint8", []string{"300"}); !errors.Is(err, ErrInvalid) {
		t.Fatalf("Recover out of range err = %v, want ErrInvalid", err)
	}
}

func TestCatalog_ListAndDelete(t *testing.T) {
	ctx := context.Background()
	c := newTestCatalog(t, store.NewMemStore(), PersistSync)
	for _, name := range []string{"c", "a", "b"} {
		if _, err := c.Create(ctx, Definition{Name: name, Kind: "uint8"}); err != nil {
			t.Fatalf("Create(%s): %v", name, err)
		}
	}

	if err := c.Delete(ctx, "a"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := c.Delete(ctx, "a"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Delete twice err = %v, want ErrNotFound", err)
	}

	var names []string
	for _, info := range c.List() {
		names = append(names, info.Name)
	}
	if !slices.Equal(names, []string{"c", "b"}) {
		t.Fatalf("List = %v, want [c b]", names)
	}
}

func TestCatalog_SyncPersistsAcrossRestart(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLiteStore(t)

	first := newTestCatalog(t, s, PersistSync)
	if _, err := first.Create(ctx, Definition{Name: "orders", Kind: "uint128", Start: "100", Increment: "10"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := first.Next(ctx, "orders", 3); err != nil {
		t.Fatalf("Next: %v", err)
	}

	second := newTestCatalog(t, s, PersistSync)
	n, err := second.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if n != 1 {
		t.Fatalf("Load = %d, want 1", n)
	}
	alloc, err := second.Next(ctx, "orders", 1)
	if err != nil {
		t.Fatalf("Next after restart: %v", err)
	}
	if !slices.Equal(alloc.Values, []string{"130"}) {
		t.Fatalf("Next after restart = %v, want [130]", alloc.Values)
	}

	// A persisted name that was not loaded still counts as taken.
	third := newTestCatalog(t, s, PersistSync)
	if _, err := third.Create(ctx, Definition{Name: "orders", Kind: "uint8"}); !errors.Is(err, ErrExists) {
		t.Fatalf("Create over persisted err = %v, want ErrExists", err)
	}
}

func TestCatalog_SyncWriteFailureHandsOutNothing(t *testing.T) {
	ctx := context.Background()
	s := &failingStore{Store: store.NewMemStore()}
	c := newTestCatalog(t, s, PersistSync)
	if _, err := c.Create(ctx, Definition{Name: "ids", Kind: "uint16"}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	s.setFail(true)
	if _, err := c.Next(ctx, "ids", 5); err == nil {
		t.Fatal("Next with failing store succeeded")
	}
	s.setFail(false)

	alloc, err := c.Next(ctx, "ids", 2)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if !slices.Equal(alloc.Values, []string{"0", "1"}) {
		t.Fatalf("Next after failed write = %v, want [0 1]", alloc.Values)
	}
}

func TestCatalog_ScheduledModeFlush(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemStore()
	c := newTestCatalog(t, s, PersistScheduled)

	if _, err := c.Create(ctx, Definition{Name: "ids", Kind: "uint32", Start: "1"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := c.Next(ctx, "ids", 4); err != nil {
		t.Fatalf("Next: %v", err)
	}
	if got := c.Stats().Dirty; got != 1 {
		t.Fatalf("Dirty = %d, want 1", got)
	}

	rec, err := s.Get(ctx, "ids")
	if err != nil {
		t.Fatalf("store Get: %v", err)
	}
	if string(rec.State) != `{"next":1,"increment":1,"limit":4294967295}` {
		t.Fatalf("state before flush = %s", rec.State)
	}

	if err := c.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	rec, err = s.Get(ctx, "ids")
	if err != nil {
		t.Fatalf("store Get: %v", err)
	}
	if string(rec.State) != `{"next":5,"increment":1,"limit":4294967295}` {
		t.Fatalf("state after flush = %s", rec.State)
	}

	stats := c.Stats()
	if stats.Dirty != 0 || stats.Flushes != 1 || stats.Produced != 4 || stats.Sequences != 1 {
		t.Fatalf("Stats = %+v", stats)
	}
}

func TestCatalog_FlushKeepsFailedEntriesDirty(t *testing.T) {
	ctx := context.Background()
	s := &failingStore{Store: store.NewMemStore()}
	c := newTestCatalog(t, s, PersistScheduled)
	if _, err := c.Create(ctx, Definition{Name: "ids", Kind: "uint8"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := c.Next(ctx, "ids", 1); err != nil {
		t.Fatalf("Next: %v", err)
	}

	s.setFail(true)
	if err := c.Flush(ctx); err == nil {
		t.Fatal("Flush with failing store succeeded")
	}
	if got := c.Stats().Dirty; got != 1 {
		t.Fatalf("Dirty after failed flush = %d, want 1", got)
	}

	s.setFail(false)
	if err := c.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if got := c.Stats().Dirty; got != 0 {
		t.Fatalf("Dirty after flush = %d, want 0", got)
	}
}

func TestCatalog_ConcurrentNextIsUnique(t *testing.T) {
	ctx := context.Background()
	c := newTestCatalog(t, store.NewMemStore(), PersistScheduled)
	if _, err := c.Create(ctx, Definition{Name: "ids", Kind: "uint64"}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	const workers, per = 8, 50
	results := make(chan []string, workers)
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			alloc, err := c.Next(ctx, "ids", per)
			if err != nil {
				t.Errorf("Next: %v", err)
				return
			}
			results <- alloc.Values
		}()
	}
	wg.Wait()
	close(results)

	seen := make(map[string]bool)
	for values := range results {
		for _, v := range values {
			if seen[v] {
				t.Fatalf("value %s handed out twice", v)
			}
			seen[v] = true
		}
	}
	if len(seen) != workers*per {
		t.Fatalf("distinct values = %d, want %d", len(seen), workers*per)
	}
}

func TestCatalog_EmitsObservations(t *testing.T) {
	rec := &recordingObserver{}
	SetObserver(rec)
	t.Cleanup(func() { SetObserver(nil) })

	ctx := context.Background()
	c := newTestCatalog(t, store.NewMemStore(), PersistSync)
	if _, err := c.Create(ctx, Definition{Name: "tiny", Kind: "uint8", Start: "254"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := c.Next(ctx, "tiny", 5); err != nil {
		t.Fatalf("Next: %v", err)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.operations) != 2 {
		t.Fatalf("operations = %+v", rec.operations)
	}
	next := rec.operations[1]
	if next.Op != OpNext || next.Name != "tiny" || next.Kind != "uint8" || next.Count != 2 || next.Err != nil {
		t.Fatalf("next observation = %+v", next)
	}
	if len(rec.passivations) != 1 || rec.passivations[0].Cause != OpNext {
		t.Fatalf("passivations = %+v", rec.passivations)
	}
}

func TestKinds(t *testing.T) {
	want := []string{"uint", "uint128", "uint16", "uint32", "uint64", "uint8", "uintptr"}
	if got := Kinds(); !slices.Equal(got, want) {
		t.Fatalf("Kinds = %v, want %v", got, want)
	}
}
