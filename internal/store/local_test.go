package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func TestLocalStoreColumnRoundTrip(t *testing.T) {
	s, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore failed: %v", err)
	}
	defer s.Close()

	if err := s.CreateMatrix("u", 3); err != nil {
		t.Fatalf("CreateMatrix failed: %v", err)
	}
	cols := [][]float64{
		{1, 2, 3},
		{4, 5, 6},
		{7, 8, 9},
	}
	for c, vals := range cols {
		if err := s.PutColumn("u", c, vals); err != nil {
			t.Fatalf("PutColumn %d failed: %v", c, err)
		}
	}

	m, err := s.ReadMatrix("u")
	if err != nil {
		t.Fatalf("ReadMatrix failed: %v", err)
	}
	rows, ncols := m.Dims()
	if rows != 3 || ncols != 3 {
		t.Fatalf("dims = %dx%d, want 3x3", rows, ncols)
	}
	for c, vals := range cols {
		for r, want := range vals {
			if got := m.At(r, c); got != want {
				t.Errorf("m[%d,%d] = %v, want %v", r, c, got, want)
			}
		}
	}
}

func TestLocalStorePutColumnValidation(t *testing.T) {
	s, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore failed: %v", err)
	}
	defer s.Close()

	if err := s.CreateMatrix("u", 2); err != nil {
		t.Fatalf("CreateMatrix failed: %v", err)
	}
	if err := s.PutColumn("missing", 0, []float64{1, 2}); err == nil {
		t.Error("expected error for unknown field")
	}
	if err := s.PutColumn("u", -1, []float64{1, 2}); err == nil {
		t.Error("expected error for negative column")
	}
	if err := s.PutColumn("u", 0, []float64{1}); err == nil {
		t.Error("expected error for wrong row count")
	}
}

func TestLocalStoreFinalizeManifest(t *testing.T) {
	dir := t.TempDir()
	s, err := NewLocalStore(dir,
		WithSource(SourceInfo{Path: "model.slf", Points: 2, Timesteps: 2}),
		WithProducer(ProducerInfo{Name: "hydromat", Version: "test"}),
	)
	if err != nil {
		t.Fatalf("NewLocalStore failed: %v", err)
	}
	defer s.Close()

	if err := s.CreateMatrix("u", 2); err != nil {
		t.Fatalf("CreateMatrix failed: %v", err)
	}
	if err := s.PutColumn("u", 0, []float64{1, 2}); err != nil {
		t.Fatalf("PutColumn failed: %v", err)
	}
	if err := s.PutColumn("u", 1, []float64{3, 4}); err != nil {
		t.Fatalf("PutColumn failed: %v", err)
	}
	if err := s.WriteArray("x", []float64{10, 20}); err != nil {
		t.Fatalf("WriteArray failed: %v", err)
	}

	if err := s.Finalize(context.Background()); err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "manifest.json"))
	if err != nil {
		t.Fatalf("read manifest: %v", err)
	}
	var man Manifest
	if err := json.Unmarshal(data, &man); err != nil {
		t.Fatalf("parse manifest: %v", err)
	}
	if man.Source.Path != "model.slf" {
		t.Errorf("source path = %q, want model.slf", man.Source.Path)
	}
	u, ok := man.Fields["u"]
	if !ok {
		t.Fatal("manifest missing field u")
	}
	if u.Rows != 2 || u.Cols != 2 {
		t.Errorf("u dims = %dx%d, want 2x2", u.Rows, u.Cols)
	}
	if u.ByteSize != 32 {
		t.Errorf("u byte size = %d, want 32", u.ByteSize)
	}
	if !strings.HasPrefix(u.Checksum, "sha256:") {
		t.Errorf("u checksum = %q, want sha256 prefix", u.Checksum)
	}
	if _, err := os.Stat(filepath.Join(dir, "manifest.json.tmp")); !os.IsNotExist(err) {
		t.Error("temp manifest left behind")
	}
}

func TestLocalStoreFinalizeIncompleteColumns(t *testing.T) {
	s, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore failed: %v", err)
	}
	defer s.Close()

	if err := s.CreateMatrix("u", 2); err != nil {
		t.Fatalf("CreateMatrix failed: %v", err)
	}
	if err := s.PutColumn("u", 0, []float64{1, 2}); err != nil {
		t.Fatalf("PutColumn failed: %v", err)
	}
	if err := s.PutColumn("u", 1, []float64{3, 4}); err != nil {
		t.Fatalf("PutColumn failed: %v", err)
	}
	// Simulate a torn write of the second column.
	if err := os.Truncate(s.fieldPath("u"), 24); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	err = s.Finalize(context.Background())
	if err == nil {
		t.Fatal("expected finalize to reject incomplete field")
	}
	if !strings.Contains(err.Error(), "incomplete columns") {
		t.Errorf("error = %v, want incomplete columns", err)
	}
}

func TestLocalStoreCompression(t *testing.T) {
	dir := t.TempDir()
	s, err := NewLocalStore(dir, WithCompression())
	if err != nil {
		t.Fatalf("NewLocalStore failed: %v", err)
	}
	defer s.Close()

	if err := s.WriteArray("x", []float64{1, 2, 3, 4}); err != nil {
		t.Fatalf("WriteArray failed: %v", err)
	}
	if err := s.Finalize(context.Background()); err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, "fields", "x.f64.zst")); err != nil {
		t.Errorf("compressed field missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "fields", "x.f64")); !os.IsNotExist(err) {
		t.Error("uncompressed field left behind")
	}
}

func TestLocalStoreWriteMatrixRoundTrip(t *testing.T) {
	s, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore failed: %v", err)
	}
	defer s.Close()

	src := mat.NewDense(2, 3, []float64{1, 2, 3, 4, 5, 6})
	if err := s.WriteMatrix("m", src); err != nil {
		t.Fatalf("WriteMatrix failed: %v", err)
	}
	got, err := s.ReadMatrix("m")
	if err != nil {
		t.Fatalf("ReadMatrix failed: %v", err)
	}
	if !mat.Equal(src, got) {
		t.Errorf("round trip mismatch:\nwant\n%v\ngot\n%v", mat.Formatted(src), mat.Formatted(got))
	}
}
