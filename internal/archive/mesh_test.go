package archive

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestLoadMeshOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mesh.xyz")
	content := "# comment\n0 0 -5\n1.5 2.5 -4\n\n3 4\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write sidecar: %v", err)
	}

	x, y, z, err := LoadMeshOverride(path)
	if err != nil {
		t.Fatalf("LoadMeshOverride failed: %v", err)
	}
	if !reflect.DeepEqual(x, []float64{0, 1.5, 3}) {
		t.Errorf("x = %v", x)
	}
	if !reflect.DeepEqual(y, []float64{0, 2.5, 4}) {
		t.Errorf("y = %v", y)
	}
	if !reflect.DeepEqual(z, []float64{-5, -4, 0}) {
		t.Errorf("z = %v, missing z must default to 0", z)
	}
}

func TestLoadMeshOverrideBadLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mesh.xyz")
	if err := os.WriteFile(path, []byte("1 2\nnope\n"), 0644); err != nil {
		t.Fatalf("write sidecar: %v", err)
	}
	if _, _, _, err := LoadMeshOverride(path); err == nil {
		t.Fatal("expected error for unparseable line")
	}
}

func TestLoadPermutation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "perm.txt")
	if err := os.WriteFile(path, []byte("3 1 2\n"), 0644); err != nil {
		t.Fatalf("write sidecar: %v", err)
	}
	perm, err := LoadPermutation(path)
	if err != nil {
		t.Fatalf("LoadPermutation failed: %v", err)
	}
	if !reflect.DeepEqual(perm, []int{2, 0, 1}) {
		t.Errorf("perm = %v, want 0-based {2,0,1}", perm)
	}
}
