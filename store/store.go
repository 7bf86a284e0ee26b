// Package store persists named sequence state.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned when no record exists for a name.
var ErrNotFound = errors.New("store: sequence not found")

// Record is the persisted form of one named sequence.
type Record struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	// Kind is the integer kind identifier, e.g. "uint32".
	Kind string `json:"kind"`
	// State is the encoded sequence: {"next":..,"increment":..,"limit":..}.
	State     json.RawMessage `json:"state"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Store provides CRUD operations for sequence records keyed by name.
type Store interface {
	Get(ctx context.Context, name string) (Record, error)
	// List returns all records in creation order.
	List(ctx context.Context) ([]Record, error)
	// Put inserts or replaces the record with rec.Name. CreatedAt and ID of an
	// existing record are kept.
	Put(ctx context.Context, rec Record) error
	Delete(ctx context.Context, name string) error
}
