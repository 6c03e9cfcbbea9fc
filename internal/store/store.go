// Package store persists materialized matrices. Fields are addressed by
// caller-chosen names; matrices grow column by column so the full dataset
// never has to sit in memory.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gonum.org/v1/gonum/mat"
)

// MatrixStore is the write-through, field-addressable sink of a
// materialization run. Matrices are created empty and grown with PutColumn;
// column writes to disjoint columns of the same matrix may run
// concurrently. Finalize makes the store durable and is called exactly
// once, after all writes.
type MatrixStore interface {
	// CreateMatrix declares a growable matrix with the given row count and
	// zero columns.
	CreateMatrix(name string, rows int) error

	// PutColumn writes one column at the given 0-based index. Appending at
	// the current column count is amortized O(1).
	PutColumn(name string, col int, values []float64) error

	// WriteArray writes a whole time-invariant field in one call.
	WriteArray(name string, values []float64) error

	// WriteMatrix writes a whole matrix in one call.
	WriteMatrix(name string, m mat.Matrix) error

	// ReadMatrix reads a field back for the transpose pass.
	ReadMatrix(name string) (*mat.Dense, error)

	// Finalize writes the manifest and makes the store durable.
	Finalize(ctx context.Context) error

	Close() error
}

// SinkError reports a failed store operation. Sink failures are fatal and
// never retried.
type SinkError struct {
	Op   string
	Path string
	Err  error
}

func (e *SinkError) Error() string {
	return fmt.Sprintf("store %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *SinkError) Unwrap() error { return e.Err }

// Manifest describes a finalized store directory.
type Manifest struct {
	Source    SourceInfo           `json:"source"`
	Fields    map[string]FieldInfo `json:"fields"`
	Producer  ProducerInfo         `json:"producer"`
	CreatedAt time.Time            `json:"created_at"`
}

// SourceInfo records where the data came from.
type SourceInfo struct {
	Path      string `json:"path"`
	Title     string `json:"title,omitempty"`
	Points    int    `json:"points"`
	Timesteps int    `json:"timesteps"`
}

// FieldInfo describes one stored field.
type FieldInfo struct {
	File     string `json:"file"`
	Rows     int    `json:"rows"`
	Cols     int    `json:"cols"`
	Checksum string `json:"checksum"`
	ByteSize int64  `json:"byte_size"`
}

// ProducerInfo describes the software that produced the store.
type ProducerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// MarshalJSON returns the manifest as indented JSON.
func (m *Manifest) MarshalJSON() ([]byte, error) {
	type Alias Manifest
	return json.MarshalIndent((*Alias)(m), "", "  ")
}
