package store

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	"gonum.org/v1/gonum/mat"
)

// LocalStore keeps one file per field under <dir>/fields, with float64
// values laid out column-major so that writing column c is a single
// positioned write at a fixed offset. The manifest is written atomically at
// Finalize using the temp-file-plus-rename idiom.
type LocalStore struct {
	dir      string
	source   SourceInfo
	producer ProducerInfo
	compress bool

	mu     sync.Mutex
	fields map[string]*fieldFile
}

type fieldFile struct {
	file *os.File
	path string
	rows int
	cols int
}

// LocalOption configures a LocalStore.
type LocalOption func(*LocalStore)

// WithCompression compacts field files with zstd at Finalize.
func WithCompression() LocalOption {
	return func(s *LocalStore) { s.compress = true }
}

// WithSource records source provenance in the manifest.
func WithSource(info SourceInfo) LocalOption {
	return func(s *LocalStore) { s.source = info }
}

// WithProducer records the producing tool in the manifest.
func WithProducer(info ProducerInfo) LocalOption {
	return func(s *LocalStore) { s.producer = info }
}

// NewLocalStore creates the store directory layout.
func NewLocalStore(dir string, opts ...LocalOption) (*LocalStore, error) {
	if err := os.MkdirAll(filepath.Join(dir, "fields"), 0755); err != nil {
		return nil, &SinkError{Op: "create", Path: dir, Err: err}
	}
	s := &LocalStore{
		dir:    dir,
		fields: make(map[string]*fieldFile),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Dir returns the store directory.
func (s *LocalStore) Dir() string { return s.dir }

// CreateMatrix declares an empty matrix with the given row count.
func (s *LocalStore) CreateMatrix(name string, rows int) error {
	path := s.fieldPath(name)
	f, err := os.Create(path)
	if err != nil {
		return &SinkError{Op: "create", Path: path, Err: err}
	}
	s.mu.Lock()
	s.fields[name] = &fieldFile{file: f, path: path, rows: rows}
	s.mu.Unlock()
	return nil
}

// PutColumn writes one column at its fixed offset. Writes to disjoint
// columns may run concurrently.
func (s *LocalStore) PutColumn(name string, col int, values []float64) error {
	s.mu.Lock()
	ff, ok := s.fields[name]
	s.mu.Unlock()
	if !ok {
		return &SinkError{Op: "put column", Path: name, Err: fmt.Errorf("unknown field")}
	}
	if col < 0 {
		return &SinkError{Op: "put column", Path: name, Err: fmt.Errorf("negative column %d", col)}
	}
	if len(values) != ff.rows {
		return &SinkError{Op: "put column", Path: name,
			Err: fmt.Errorf("column has %d values, field has %d rows", len(values), ff.rows)}
	}
	s.mu.Lock()
	if col >= ff.cols {
		ff.cols = col + 1
	}
	s.mu.Unlock()
	buf := encodeFloats(values)
	if _, err := ff.file.WriteAt(buf, int64(col)*int64(ff.rows)*8); err != nil {
		return &SinkError{Op: "put column", Path: ff.path, Err: err}
	}
	return nil
}

// WriteArray writes a whole time-invariant field.
func (s *LocalStore) WriteArray(name string, values []float64) error {
	path := s.fieldPath(name)
	if err := os.WriteFile(path, encodeFloats(values), 0644); err != nil {
		return &SinkError{Op: "write array", Path: path, Err: err}
	}
	s.mu.Lock()
	s.fields[name] = &fieldFile{path: path, rows: len(values), cols: 1}
	s.mu.Unlock()
	return nil
}

// WriteMatrix writes a whole matrix, column-major.
func (s *LocalStore) WriteMatrix(name string, m mat.Matrix) error {
	rows, cols := m.Dims()
	path := s.fieldPath(name)
	f, err := os.Create(path)
	if err != nil {
		return &SinkError{Op: "write matrix", Path: path, Err: err}
	}
	buf := make([]byte, 8*rows)
	for j := 0; j < cols; j++ {
		for i := 0; i < rows; i++ {
			binary.LittleEndian.PutUint64(buf[8*i:], math.Float64bits(m.At(i, j)))
		}
		if _, err := f.Write(buf); err != nil {
			f.Close()
			return &SinkError{Op: "write matrix", Path: path, Err: err}
		}
	}
	if err := f.Close(); err != nil {
		return &SinkError{Op: "write matrix", Path: path, Err: err}
	}
	s.mu.Lock()
	s.fields[name] = &fieldFile{path: path, rows: rows, cols: cols}
	s.mu.Unlock()
	return nil
}

// ReadMatrix reads a field back into a dense matrix.
func (s *LocalStore) ReadMatrix(name string) (*mat.Dense, error) {
	s.mu.Lock()
	ff, ok := s.fields[name]
	s.mu.Unlock()
	if !ok {
		return nil, &SinkError{Op: "read", Path: name, Err: fmt.Errorf("unknown field")}
	}
	data, err := os.ReadFile(ff.path)
	if err != nil {
		return nil, &SinkError{Op: "read", Path: ff.path, Err: err}
	}
	want := 8 * ff.rows * ff.cols
	if len(data) != want {
		return nil, &SinkError{Op: "read", Path: ff.path,
			Err: fmt.Errorf("field is %d bytes, expected %d (%dx%d)", len(data), want, ff.rows, ff.cols)}
	}
	out := mat.NewDense(ff.rows, ff.cols, nil)
	for j := 0; j < ff.cols; j++ {
		base := 8 * j * ff.rows
		for i := 0; i < ff.rows; i++ {
			out.Set(i, j, math.Float64frombits(binary.LittleEndian.Uint64(data[base+8*i:])))
		}
	}
	return out, nil
}

// Finalize verifies field completeness, optionally compacts field files
// with zstd, and writes the manifest atomically.
func (s *LocalStore) Finalize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	manifest := &Manifest{
		Source:    s.source,
		Fields:    make(map[string]FieldInfo, len(s.fields)),
		Producer:  s.producer,
		CreatedAt: time.Now().UTC(),
	}

	for name, ff := range s.fields {
		if ff.file != nil {
			if err := ff.file.Close(); err != nil {
				return &SinkError{Op: "finalize", Path: ff.path, Err: err}
			}
			ff.file = nil
		}
		info, err := os.Stat(ff.path)
		if err != nil {
			return &SinkError{Op: "finalize", Path: ff.path, Err: err}
		}
		if want := int64(8 * ff.rows * ff.cols); info.Size() != want {
			return &SinkError{Op: "finalize", Path: ff.path,
				Err: fmt.Errorf("field is %d bytes, expected %d (%dx%d): incomplete columns", info.Size(), want, ff.rows, ff.cols)}
		}
		if s.compress {
			if err := compressFile(ff.path); err != nil {
				return &SinkError{Op: "finalize", Path: ff.path, Err: err}
			}
			ff.path += ".zst"
		}
		sum, size, err := checksumFile(ff.path)
		if err != nil {
			return &SinkError{Op: "finalize", Path: ff.path, Err: err}
		}
		manifest.Fields[name] = FieldInfo{
			File:     filepath.Join("fields", filepath.Base(ff.path)),
			Rows:     ff.rows,
			Cols:     ff.cols,
			Checksum: sum,
			ByteSize: size,
		}
	}

	data, err := manifest.MarshalJSON()
	if err != nil {
		return &SinkError{Op: "finalize", Path: s.dir, Err: err}
	}
	path := filepath.Join(s.dir, "manifest.json")
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return &SinkError{Op: "finalize", Path: tempPath, Err: err}
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return &SinkError{Op: "finalize", Path: path, Err: err}
	}
	return nil
}

// Close closes any field files still open. Safe after Finalize.
func (s *LocalStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var first error
	for _, ff := range s.fields {
		if ff.file != nil {
			if err := ff.file.Close(); err != nil && first == nil {
				first = err
			}
			ff.file = nil
		}
	}
	return first
}

func (s *LocalStore) fieldPath(name string) string {
	return filepath.Join(s.dir, "fields", name+".f64")
}

func encodeFloats(values []float64) []byte {
	buf := make([]byte, 8*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint64(buf[8*i:], math.Float64bits(v))
	}
	return buf
}

// compressFile replaces path with path.zst.
func compressFile(path string) error {
	in, err := os.Open(path)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(path + ".zst")
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(out)
	if err != nil {
		out.Close()
		return err
	}
	if _, err := io.Copy(enc, in); err != nil {
		enc.Close()
		out.Close()
		return err
	}
	if err := enc.Close(); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(path)
}

// checksumFile returns the sha256 of the stored bytes and the file size.
func checksumFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()
	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return "sha256:" + hex.EncodeToString(h.Sum(nil)), n, nil
}
