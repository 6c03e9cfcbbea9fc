// Package archive reads per-timestep spatial field data from hydrodynamic
// model result files. A result file is addressed by (parameter, timestep)
// and yields one float vector of length Np per request.
package archive

import (
	"fmt"
	"strings"
)

// Param is one entry of the archive's parameter catalog.
type Param struct {
	Name  string
	Index int // position of the parameter within each frame
}

// Metadata is an immutable snapshot of everything the archive declares
// outside its frames: mesh point coordinates, timestamps and the parameter
// catalog. It is produced once at Open and consumed read-only afterwards.
type Metadata struct {
	Title  string
	X      []float64
	Y      []float64
	Z      []float64
	Times  []float64
	Params []Param

	// ReorderHint is an optional 0-based spatial permutation carried by a
	// sidecar file (the result file itself does not encode one). Nil means
	// no hint.
	ReorderHint []int
}

// NumPoints returns the number of mesh points per frame.
func (m *Metadata) NumPoints() int { return len(m.X) }

// NumTimesteps returns the number of frames in the archive.
func (m *Metadata) NumTimesteps() int { return len(m.Times) }

// Reader provides random access to the vectors of a result archive.
// Implementations must allow concurrent ReadTimestepVector calls.
type Reader interface {
	Metadata() *Metadata

	// ReadTimestepVector returns the raw spatial vector for the given
	// catalog parameter index at the given 0-based timestep.
	ReadTimestepVector(paramIndex, step int) ([]float64, error)

	Close() error
}

// ReadError reports a failed archive access. Timestep is 0-based; -1 means
// the failure was not tied to a particular frame.
type ReadError struct {
	Path      string
	Timestep  int
	Parameter string
	Err       error
}

func (e *ReadError) Error() string {
	if e.Timestep < 0 {
		return fmt.Sprintf("archive %s: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("archive %s: timestep %d parameter %q: %v", e.Path, e.Timestep, e.Parameter, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }

// Open opens a result archive based on its file name. Serafin files
// (".slf", ".res", ".sel") are supported, optionally zstd-compressed with a
// trailing ".zst".
func Open(path string) (Reader, error) {
	name := strings.ToLower(path)
	compressed := strings.HasSuffix(name, ".zst")
	name = strings.TrimSuffix(name, ".zst")

	switch {
	case strings.HasSuffix(name, ".slf"), strings.HasSuffix(name, ".res"), strings.HasSuffix(name, ".sel"):
		return OpenSerafin(path, compressed)
	default:
		return nil, fmt.Errorf("unrecognised archive format: %s", path)
	}
}
