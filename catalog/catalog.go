// Package catalog keeps named sequences of any supported integer kind.
//
// A Catalog is the synchronization point the bare sequence type lacks: every
// operation runs under one mutex, and state is written to a store.Store
// either before a value is handed out (PersistSync) or in batches by a
// Flusher (PersistScheduled).
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/atomic"

	"github.com/petal-labs/sequential/store"
)

// Sentinel errors for catalog operations.
var (
	ErrNotFound    = errors.New("catalog: sequence not found")
	ErrExists      = errors.New("catalog: sequence already exists")
	ErrUnknownKind = errors.New("catalog: unknown kind")
	ErrInvalid     = errors.New("catalog: invalid argument")
)

// PersistMode selects when sequence state reaches the store.
type PersistMode string

const (
	// PersistSync writes state before values are returned to the caller.
	PersistSync PersistMode = "sync"
	// PersistScheduled marks sequences dirty and leaves writing to Flush.
	// Values handed out since the last flush may be issued again after a
	// crash.
	PersistScheduled PersistMode = "scheduled"
)

const (
	// DefaultMaxBatch caps the number of values one Next call may allocate.
	DefaultMaxBatch = 10000

	maxNameLength = 128
)

// Definition describes a sequence to create. Numeric fields are decimal
// strings; empty means unset.
type Definition struct {
	Name string `json:"name" yaml:"name"`
	Kind string `json:"kind" yaml:"kind"`
	// Start is the first value. Mutually exclusive with After.
	Start string `json:"start,omitempty" yaml:"start,omitempty"`
	// After makes the sequence begin just past this value.
	After string `json:"after,omitempty" yaml:"after,omitempty"`
	// End is the inclusive upper bound; the kind's maximum when unset.
	End string `json:"end,omitempty" yaml:"end,omitempty"`
	// Increment is the step, 1 when unset. Zero creates a passive sequence.
	Increment string `json:"increment,omitempty" yaml:"increment,omitempty"`
}

// Info is a point-in-time view of one sequence.
type Info struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Kind   string `json:"kind"`
	Active bool   `json:"active"`
	// Next is the value the next allocation starts with, empty when passive.
	Next      string    `json:"next,omitempty"`
	Increment string    `json:"increment"`
	Limit     string    `json:"limit"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Allocation is the result of Next.
type Allocation struct {
	Name   string   `json:"name"`
	Kind   string   `json:"kind"`
	Values []string `json:"values"`
	// Exhausted reports that the sequence will produce nothing further.
	Exhausted bool `json:"exhausted"`
}

// Stats summarizes catalog activity since construction.
type Stats struct {
	Sequences  int    `json:"sequences"`
	Dirty      int    `json:"dirty"`
	Produced   uint64 `json:"produced"`
	Passivated uint64 `json:"passivated"`
	Flushes    uint64 `json:"flushes"`
}

// Config configures a Catalog.
type Config struct {
	Store    store.Store
	Mode     PersistMode
	MaxBatch int
	Now      func() time.Time
	Logger   *slog.Logger
}

// Catalog owns a set of named sequences.
type Catalog struct {
	store    store.Store
	mode     PersistMode
	maxBatch int
	now      func() time.Time
	logger   *slog.Logger

	mu      sync.Mutex
	entries map[string]*entry
	order   []string

	produced   atomic.Uint64
	passivated atomic.Uint64
	flushes    atomic.Uint64
}

type entry struct {
	id        string
	name      string
	gen       generator
	createdAt time.Time
	updatedAt time.Time
	dirty     bool
}

// New creates an empty catalog. Call Load to restore persisted sequences.
func New(cfg Config) (*Catalog, error) {
	if cfg.Store == nil {
		return nil, errors.New("catalog: store is nil")
	}
	switch cfg.Mode {
	case "":
		cfg.Mode = PersistSync
	case PersistSync, PersistScheduled:
	default:
		return nil, fmt.Errorf("catalog: unknown persist mode %q", cfg.Mode)
	}
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = DefaultMaxBatch
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Catalog{
		store:    cfg.Store,
		mode:     cfg.Mode,
		maxBatch: cfg.MaxBatch,
		now:      cfg.Now,
		logger:   cfg.Logger,
		entries:  make(map[string]*entry),
	}, nil
}

// Mode returns the persistence mode.
func (c *Catalog) Mode() PersistMode { return c.mode }

// Load restores every persisted sequence not already held in memory and
// returns how many were added.
func (c *Catalog) Load(ctx context.Context) (int, error) {
	records, err := c.store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("catalog: load: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	loaded := 0
	for _, rec := range records {
		if _, ok := c.entries[rec.Name]; ok {
			continue
		}
		spec, err := lookupKind(rec.Kind)
		if err != nil {
			return loaded, fmt.Errorf("catalog: load %q: %w", rec.Name, err)
		}
		gen, err := spec.decode(rec.State)
		if err != nil {
			return loaded, fmt.Errorf("catalog: load %q: %w", rec.Name, err)
		}
		c.entries[rec.Name] = &entry{
			id:        rec.ID,
			name:      rec.Name,
			gen:       gen,
			createdAt: rec.CreatedAt,
			updatedAt: rec.UpdatedAt,
		}
		c.order = append(c.order, rec.Name)
		loaded++
	}
	c.logger.Info("catalog loaded", "sequences", loaded)
	return loaded, nil
}

// Create adds a new sequence.
func (c *Catalog) Create(ctx context.Context, def Definition) (Info, error) {
	started := time.Now()
	info, err := c.create(ctx, def)
	emitOperation(OperationObservation{
		Op: OpCreate, Name: def.Name, Kind: def.Kind,
		Duration: time.Since(started), Err: err,
	})
	return info, err
}

func (c *Catalog) create(ctx context.Context, def Definition) (Info, error) {
	if err := validateName(def.Name); err != nil {
		return Info{}, err
	}
	spec, err := lookupKind(def.Kind)
	if err != nil {
		return Info{}, err
	}
	gen, err := spec.define(def)
	if err != nil {
		return Info{}, err
	}
	return c.insert(ctx, def.Name, gen, OpCreate)
}

// Recover creates a sequence that starts just past the highest of the
// observed values, e.g. identifiers replayed from another system. An empty
// list starts after zero.
func (c *Catalog) Recover(ctx context.Context, name, kind string, observed []string) (Info, error) {
	started := time.Now()
	info, err := c.recover(ctx, name, kind, observed)
	emitOperation(OperationObservation{
		Op: OpRecover, Name: name, Kind: kind, Count: len(observed),
		Duration: time.Since(started), Err: err,
	})
	return info, err
}

func (c *Catalog) recover(ctx context.Context, name, kind string, observed []string) (Info, error) {
	if err := validateName(name); err != nil {
		return Info{}, err
	}
	spec, err := lookupKind(kind)
	if err != nil {
		return Info{}, err
	}
	gen, err := spec.resume(observed)
	if err != nil {
		return Info{}, err
	}
	return c.insert(ctx, name, gen, OpRecover)
}

func (c *Catalog) insert(ctx context.Context, name string, gen generator, op string) (Info, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[name]; ok {
		return Info{}, fmt.Errorf("%w: %q", ErrExists, name)
	}
	if _, err := c.store.Get(ctx, name); err == nil {
		return Info{}, fmt.Errorf("%w: %q (persisted, not loaded)", ErrExists, name)
	} else if !errors.Is(err, store.ErrNotFound) {
		return Info{}, fmt.Errorf("catalog: %s %q: %w", op, name, err)
	}

	now := c.now()
	e := &entry{
		id:        uuid.NewString(),
		name:      name,
		gen:       gen,
		createdAt: now,
		updatedAt: now,
	}
	// New sequences are written in every mode so they survive a restart.
	if err := c.persist(ctx, e, gen, now); err != nil {
		return Info{}, err
	}
	c.entries[name] = e
	c.order = append(c.order, name)

	if !live(gen) {
		c.notePassivated(e, op)
	}
	return e.info(), nil
}

// Next allocates up to count values from the named sequence. Fewer values
// are returned once the sequence is exhausted.
func (c *Catalog) Next(ctx context.Context, name string, count int) (Allocation, error) {
	started := time.Now()
	alloc, err := c.allocate(ctx, name, count)
	emitOperation(OperationObservation{
		Op: OpNext, Name: name, Kind: alloc.Kind, Count: len(alloc.Values),
		Duration: time.Since(started), Err: err,
	})
	return alloc, err
}

func (c *Catalog) allocate(ctx context.Context, name string, count int) (Allocation, error) {
	if count < 1 || count > c.maxBatch {
		return Allocation{}, fmt.Errorf("%w: count must be between 1 and %d", ErrInvalid, c.maxBatch)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[name]
	if !ok {
		return Allocation{}, fmt.Errorf("%w: %q", ErrNotFound, name)
	}

	gen := e.gen.clone()
	wasLive := live(gen)
	values := make([]string, 0, count)
	for len(values) < count {
		v, ok := gen.next()
		if !ok {
			break
		}
		values = append(values, v)
	}

	if err := c.commit(ctx, e, gen); err != nil {
		return Allocation{Kind: gen.kind()}, err
	}
	c.produced.Add(uint64(len(values)))

	exhausted := !live(gen)
	if wasLive && exhausted {
		c.notePassivated(e, OpNext)
	}
	return Allocation{
		Name:      name,
		Kind:      gen.kind(),
		Values:    values,
		Exhausted: exhausted,
	}, nil
}

// ContinueAfter guarantees the named sequence never produces value or
// anything below it.
func (c *Catalog) ContinueAfter(ctx context.Context, name, value string) (Info, error) {
	started := time.Now()
	info, err := c.continueAfter(ctx, name, value)
	emitOperation(OperationObservation{
		Op: OpContinueAfter, Name: name, Kind: info.Kind,
		Duration: time.Since(started), Err: err,
	})
	return info, err
}

func (c *Catalog) continueAfter(ctx context.Context, name, value string) (Info, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[name]
	if !ok {
		return Info{}, fmt.Errorf("%w: %q", ErrNotFound, name)
	}

	gen := e.gen.clone()
	wasLive := live(gen)
	if err := gen.continueAfter(value); err != nil {
		return Info{}, err
	}
	if err := c.commit(ctx, e, gen); err != nil {
		return Info{}, err
	}
	if wasLive && !live(gen) {
		c.notePassivated(e, OpContinueAfter)
	}
	return e.info(), nil
}

// Get returns the named sequence.
func (c *Catalog) Get(name string) (Info, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[name]
	if !ok {
		return Info{}, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return e.info(), nil
}

// List returns all sequences in creation order.
func (c *Catalog) List() []Info {
	c.mu.Lock()
	defer c.mu.Unlock()

	infos := make([]Info, 0, len(c.order))
	for _, name := range c.order {
		infos = append(infos, c.entries[name].info())
	}
	return infos
}

// Delete removes the named sequence from memory and the store.
func (c *Catalog) Delete(ctx context.Context, name string) error {
	started := time.Now()
	err := c.delete(ctx, name)
	emitOperation(OperationObservation{
		Op: OpDelete, Name: name,
		Duration: time.Since(started), Err: err,
	})
	return err
}

func (c *Catalog) delete(ctx context.Context, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[name]; !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	if err := c.store.Delete(ctx, name); err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("catalog: delete %q: %w", name, err)
	}
	delete(c.entries, name)
	for i, n := range c.order {
		if n == name {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	return nil
}

// Flush writes every dirty sequence to the store. Sequences that fail to
// write stay dirty for the next flush.
func (c *Catalog) Flush(ctx context.Context) error {
	started := time.Now()
	written, err := c.flush(ctx)
	emitOperation(OperationObservation{
		Op: OpFlush, Count: written,
		Duration: time.Since(started), Err: err,
	})
	return err
}

func (c *Catalog) flush(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	written := 0
	for _, name := range c.order {
		e := c.entries[name]
		if !e.dirty {
			continue
		}
		if err := c.persist(ctx, e, e.gen, e.updatedAt); err != nil {
			errs = append(errs, err)
			continue
		}
		e.dirty = false
		written++
	}
	c.flushes.Inc()

	if err := errors.Join(errs...); err != nil {
		c.logger.Warn("catalog flush incomplete", "written", written, "failed", len(errs), "error", err)
		return written, err
	}
	if written > 0 {
		c.logger.Debug("catalog flushed", "written", written)
	}
	return written, nil
}

// Stats returns activity counters.
func (c *Catalog) Stats() Stats {
	c.mu.Lock()
	sequences := len(c.entries)
	dirty := 0
	for _, e := range c.entries {
		if e.dirty {
			dirty++
		}
	}
	c.mu.Unlock()

	return Stats{
		Sequences:  sequences,
		Dirty:      dirty,
		Produced:   c.produced.Load(),
		Passivated: c.passivated.Load(),
		Flushes:    c.flushes.Load(),
	}
}

// commit installs gen as the new state of e, writing it first in sync mode
// so a failed write leaves e untouched.
func (c *Catalog) commit(ctx context.Context, e *entry, gen generator) error {
	now := c.now()
	if c.mode == PersistSync {
		if err := c.persist(ctx, e, gen, now); err != nil {
			return err
		}
	} else {
		e.dirty = true
	}
	e.gen = gen
	e.updatedAt = now
	return nil
}

func (c *Catalog) persist(ctx context.Context, e *entry, gen generator, updated time.Time) error {
	state, err := gen.MarshalJSON()
	if err != nil {
		return fmt.Errorf("catalog: encode %q: %w", e.name, err)
	}
	rec := store.Record{
		ID:        e.id,
		Name:      e.name,
		Kind:      gen.kind(),
		State:     state,
		CreatedAt: e.createdAt,
		UpdatedAt: updated,
	}
	if err := c.store.Put(ctx, rec); err != nil {
		return fmt.Errorf("catalog: persist %q: %w", e.name, err)
	}
	return nil
}

func (c *Catalog) notePassivated(e *entry, cause string) {
	c.passivated.Inc()
	c.logger.Debug("sequence passivated", "name", e.name, "kind", e.gen.kind(), "cause", cause)
	emitPassivation(PassivationObservation{Name: e.name, Kind: e.gen.kind(), Cause: cause})
}

func (e *entry) info() Info {
	next, ok := e.gen.peek()
	return Info{
		ID:        e.id,
		Name:      e.name,
		Kind:      e.gen.kind(),
		Active:    ok,
		Next:      next,
		Increment: e.gen.increment(),
		Limit:     e.gen.limit(),
		CreatedAt: e.createdAt,
		UpdatedAt: e.updatedAt,
	}
}

// live reports whether gen can still produce a value.
func live(gen generator) bool {
	_, ok := gen.peek()
	return ok
}

func validateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalid)
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("%w: name longer than %d bytes", ErrInvalid, maxNameLength)
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-', r == '_', r == '.':
		default:
			return fmt.Errorf("%w: name %q may only contain letters, digits, '-', '_' and '.'", ErrInvalid, name)
		}
	}
	return nil
}
