package materialize

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/OceanMetSEPA/hydromat/internal/archive"
	"github.com/OceanMetSEPA/hydromat/internal/plan"
	"github.com/OceanMetSEPA/hydromat/internal/store"
)

// stubReader synthesizes vectors as param*1000 + step*10 + point, so any
// cell of any output matrix can be predicted exactly.
type stubReader struct {
	md       *archive.Metadata
	failStep int // 0-based step whose reads fail; -1 disables
}

func newStubReader(np, nt int) *stubReader {
	md := &archive.Metadata{
		Title: "stub",
		X:     make([]float64, np),
		Y:     make([]float64, np),
		Z:     make([]float64, np),
		Times: make([]float64, nt),
		Params: []archive.Param{
			{Name: "U velocity", Index: 0},
			{Name: "V velocity", Index: 1},
			{Name: "Surface Elevation", Index: 2},
		},
	}
	for i := 0; i < np; i++ {
		md.X[i] = float64(i)
		md.Y[i] = float64(i) * 2
		md.Z[i] = -float64(i)
	}
	for i := 0; i < nt; i++ {
		md.Times[i] = float64(i) * 0.5
	}
	return &stubReader{md: md, failStep: -1}
}

func (r *stubReader) Metadata() *archive.Metadata { return r.md }

func (r *stubReader) ReadTimestepVector(paramIndex, step int) ([]float64, error) {
	if step == r.failStep {
		return nil, &archive.ReadError{
			Path:      "stub",
			Timestep:  step,
			Parameter: r.md.Params[paramIndex].Name,
			Err:       fmt.Errorf("injected failure"),
		}
	}
	np := r.md.NumPoints()
	out := make([]float64, np)
	for i := range out {
		out[i] = float64(paramIndex)*1000 + float64(step)*10 + float64(i)
	}
	return out, nil
}

func (r *stubReader) Close() error { return nil }

func runStub(t *testing.T, reader *stubReader, spatial []int, opts Options) (store.MatrixStore, error) {
	t.Helper()
	sink, err := store.NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore failed: %v", err)
	}
	t.Cleanup(func() { sink.Close() })

	index, err := plan.Resolve(plan.ResolveRequest{
		Explicit:       spatial,
		TotalTimesteps: reader.md.NumTimesteps(),
		TotalPoints:    reader.md.NumPoints(),
	})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	params, err := plan.SelectParameters(reader.md.Params)
	if err != nil {
		t.Fatalf("SelectParameters failed: %v", err)
	}
	m := New(reader, sink, index, params, opts)
	return sink, m.Run(context.Background())
}

func TestRunMaterializesAllFields(t *testing.T) {
	reader := newStubReader(4, 6)
	sink, err := runStub(t, reader, nil, Options{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	// Catalog fields plus the canonical aliases.
	for _, name := range []string{"u_velocity", "v_velocity", "surface_elevation", "u", "v"} {
		m, err := sink.ReadMatrix(name)
		if err != nil {
			t.Fatalf("ReadMatrix(%s) failed: %v", name, err)
		}
		rows, cols := m.Dims()
		if rows != 4 || cols != 6 {
			t.Errorf("%s dims = %dx%d, want 4x6", name, rows, cols)
		}
	}

	u, err := sink.ReadMatrix("u")
	if err != nil {
		t.Fatalf("ReadMatrix(u) failed: %v", err)
	}
	for step := 0; step < 6; step++ {
		for pt := 0; pt < 4; pt++ {
			want := float64(step)*10 + float64(pt)
			if got := u.At(pt, step); got != want {
				t.Errorf("u[%d,%d] = %v, want %v", pt, step, got, want)
			}
		}
	}
}

func TestRunWritesTimeMajorTwins(t *testing.T) {
	reader := newStubReader(3, 5)
	sink, err := runStub(t, reader, nil, Options{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	for _, name := range []string{"u", "v", "surface_elevation", "u_velocity"} {
		sm, err := sink.ReadMatrix(name)
		if err != nil {
			t.Fatalf("ReadMatrix(%s) failed: %v", name, err)
		}
		tm, err := sink.ReadMatrix(plan.TimeMajorName(name))
		if err != nil {
			t.Fatalf("ReadMatrix(%s_t) failed: %v", name, err)
		}
		if !mat.Equal(tm, sm.T()) {
			t.Errorf("%s_t is not the transpose of %s", name, name)
		}
	}
}

func TestRunAppliesSpatialPermutation(t *testing.T) {
	reader := newStubReader(4, 2)
	perm := []int{2, 0, 3, 1}
	sink, err := runStub(t, reader, perm, Options{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	u, err := sink.ReadMatrix("u")
	if err != nil {
		t.Fatalf("ReadMatrix(u) failed: %v", err)
	}
	for row, src := range perm {
		want := float64(src) // step 0, param 0
		if got := u.At(row, 0); got != want {
			t.Errorf("u[%d,0] = %v, want %v (source point %d)", row, got, want, src)
		}
	}

	x, err := sink.ReadMatrix("x")
	if err != nil {
		t.Fatalf("ReadMatrix(x) failed: %v", err)
	}
	for row, src := range perm {
		if got := x.At(row, 0); got != float64(src) {
			t.Errorf("x[%d] = %v, want %v", row, got, float64(src))
		}
	}
}

func TestRunWritesInvariants(t *testing.T) {
	reader := newStubReader(3, 4)
	sink, err := runStub(t, reader, nil, Options{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	times, err := sink.ReadMatrix("time")
	if err != nil {
		t.Fatalf("ReadMatrix(time) failed: %v", err)
	}
	rows, _ := times.Dims()
	if rows != 4 {
		t.Fatalf("time has %d entries, want 4", rows)
	}
	for i := 0; i < 4; i++ {
		if got, want := times.At(i, 0), float64(i)*0.5; got != want {
			t.Errorf("time[%d] = %v, want %v", i, got, want)
		}
	}
}

func TestRunAbortsOnReadFailure(t *testing.T) {
	reader := newStubReader(2, 10)
	reader.failStep = 6 // 1-based timestep 7

	sink, err := runStub(t, reader, nil, Options{})
	if err == nil {
		t.Fatal("expected Run to fail")
	}
	if !strings.Contains(err.Error(), "column 7") {
		t.Errorf("error = %v, want column 7 identified", err)
	}
	var re *archive.ReadError
	if !errors.As(err, &re) {
		t.Fatalf("expected ReadError in chain, got %v", err)
	}
	if re.Timestep != 6 {
		t.Errorf("ReadError timestep = %d, want 6", re.Timestep)
	}

	// The six complete columns written before the failure stay in the sink.
	u, err := sink.ReadMatrix("u")
	if err != nil {
		t.Fatalf("ReadMatrix(u) failed: %v", err)
	}
	if _, cols := u.Dims(); cols != 6 {
		t.Errorf("u has %d columns after failure, want 6", cols)
	}
}

func TestRunParallelMatchesSequential(t *testing.T) {
	seqSink, err := runStub(t, newStubReader(5, 12), nil, Options{})
	if err != nil {
		t.Fatalf("sequential Run failed: %v", err)
	}
	parSink, err := runStub(t, newStubReader(5, 12), nil, Options{Workers: 4})
	if err != nil {
		t.Fatalf("parallel Run failed: %v", err)
	}
	for _, name := range []string{"u", "v", "surface_elevation", "u_t", "v_t", "surface_elevation_t"} {
		sm, err := seqSink.ReadMatrix(name)
		if err != nil {
			t.Fatalf("sequential ReadMatrix(%s) failed: %v", name, err)
		}
		pm, err := parSink.ReadMatrix(name)
		if err != nil {
			t.Fatalf("parallel ReadMatrix(%s) failed: %v", name, err)
		}
		if !mat.Equal(sm, pm) {
			t.Errorf("parallel %s differs from sequential", name)
		}
	}
}

func TestRunParallelPropagatesFailure(t *testing.T) {
	reader := newStubReader(2, 20)
	reader.failStep = 9

	_, err := runStub(t, reader, nil, Options{Workers: 4})
	if err == nil {
		t.Fatal("expected parallel Run to fail")
	}
	var re *archive.ReadError
	if !errors.As(err, &re) {
		t.Fatalf("expected ReadError in chain, got %v", err)
	}
}

func TestRunCancelledContext(t *testing.T) {
	reader := newStubReader(2, 5)
	sink, err := store.NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore failed: %v", err)
	}
	defer sink.Close()

	index, err := plan.Resolve(plan.ResolveRequest{
		TotalTimesteps: 5,
		TotalPoints:    2,
	})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	params, err := plan.SelectParameters(reader.md.Params)
	if err != nil {
		t.Fatalf("SelectParameters failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := New(reader, sink, index, params, Options{}).Run(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Run with cancelled context = %v, want context.Canceled", err)
	}
}
