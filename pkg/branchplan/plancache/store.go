// Package plancache stores execution plans keyed by graph fingerprint and
// branch outcomes, so repeated runs with the same outcomes skip replanning.
package plancache

import (
	"errors"
	"time"
)

// Store persists encoded plan entries.
// Implementations must be safe for concurrent use.
type Store interface {
	// Save stores an entry for a graph under key.
	// Overwrites if an entry for (graphID, key) already exists.
	Save(graphID, key string, data []byte) error

	// Load retrieves an entry.
	// Returns ErrNotFound if the entry doesn't exist or has expired.
	Load(graphID, key string) ([]byte, error)

	// List returns all entries for a graph, ordered by sequence.
	// Returns empty slice (not error) if the graph has no entries.
	List(graphID string) ([]Info, error)

	// Delete removes a specific entry.
	// Returns nil if the entry doesn't exist.
	Delete(graphID, key string) error

	// DeleteGraph removes all entries for a graph.
	// Returns nil if the graph has no entries.
	DeleteGraph(graphID string) error

	// Close releases any resources (connections, files).
	Close() error
}

// Info provides metadata without loading the entry.
type Info struct {
	GraphID   string
	Key       string
	Sequence  int
	Timestamp time.Time
	Size      int64
}

// Sentinel errors for cache operations.
var (
	// ErrNotFound indicates an entry doesn't exist.
	ErrNotFound = errors.New("plan not found")

	// ErrStoreClosed indicates the store has been closed.
	ErrStoreClosed = errors.New("plan store closed")

	// ErrVersionMismatch indicates an entry was written by an
	// incompatible format version.
	ErrVersionMismatch = errors.New("plan entry version mismatch")
)
