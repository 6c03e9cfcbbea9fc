// Package plan derives the immutable index and parameter plans that
// parametrise a materialization run: which timesteps to pull, in what
// spatial order to store the points, and which catalog parameters to keep.
package plan

import "fmt"

// ConfigurationError reports an invalid selection or permutation. It is
// always raised before any output is written.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "invalid configuration: " + e.Reason
}

func configErrorf(format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Reason: fmt.Sprintf(format, args...)}
}

// TemporalSelection is the ordered set of 1-based archive timesteps to
// materialize. A contiguous request is held as a start/stride/end triple;
// an irregular request keeps the explicit sequence verbatim (stride is
// undefined for irregular selections and ignored).
type TemporalSelection struct {
	Start  int
	Stride int
	End    int

	Explicit []int // non-nil for irregular selections
}

// Positions enumerates the selected 1-based archive timesteps in order.
func (t TemporalSelection) Positions() []int {
	if t.Explicit != nil {
		out := make([]int, len(t.Explicit))
		copy(out, t.Explicit)
		return out
	}
	var out []int
	for p := t.Start; p <= t.End; p += t.Stride {
		out = append(out, p)
	}
	return out
}

// Len returns the number of selected timesteps (the output column count).
func (t TemporalSelection) Len() int {
	if t.Explicit != nil {
		return len(t.Explicit)
	}
	return (t.End-t.Start)/t.Stride + 1
}

// IndexPlan is the derived, immutable index remapping for one run.
type IndexPlan struct {
	// Spatial is a 0-based permutation over the mesh points: output row i
	// holds input point Spatial[i].
	Spatial []int

	Temporal TemporalSelection
}

// ResolveRequest carries the inputs of Resolve.
type ResolveRequest struct {
	Timesteps []int // requested 1-based timesteps; empty means all
	Stride    int   // subsampling interval for contiguous selections; 0 means 1

	Explicit []int // explicit 0-based spatial permutation, or nil
	Hint     []int // metadata reorder hint, or nil

	TotalTimesteps int
	TotalPoints    int
}

// Resolve computes the index plan for a run. The spatial order is taken
// from the explicit permutation if supplied, else from the metadata hint,
// else identity.
func Resolve(req ResolveRequest) (*IndexPlan, error) {
	stride := req.Stride
	if stride == 0 {
		stride = 1
	}
	if stride < 0 {
		return nil, configErrorf("stride must be positive, got %d", stride)
	}

	steps := req.Timesteps
	if len(steps) == 0 {
		if req.TotalTimesteps < 1 {
			return nil, configErrorf("archive has no timesteps")
		}
		steps = make([]int, req.TotalTimesteps)
		for i := range steps {
			steps[i] = i + 1
		}
	}
	for _, s := range steps {
		if s < 1 || s > req.TotalTimesteps {
			return nil, configErrorf("timestep %d outside archive range [1,%d]", s, req.TotalTimesteps)
		}
	}

	var temporal TemporalSelection
	if contiguous(steps) {
		temporal = TemporalSelection{Start: steps[0], Stride: stride, End: steps[len(steps)-1]}
	} else {
		// Striding only applies to contiguous runs.
		explicit := make([]int, len(steps))
		copy(explicit, steps)
		temporal = TemporalSelection{Explicit: explicit}
	}

	spatial := req.Explicit
	if spatial == nil {
		spatial = req.Hint
	}
	if spatial == nil {
		spatial = identity(req.TotalPoints)
	} else if err := checkPermutation(spatial, req.TotalPoints); err != nil {
		return nil, err
	}

	return &IndexPlan{Spatial: spatial, Temporal: temporal}, nil
}

// contiguous reports whether steps ascend by exactly one.
func contiguous(steps []int) bool {
	for i := 1; i < len(steps); i++ {
		if steps[i] != steps[i-1]+1 {
			return false
		}
	}
	return true
}

func identity(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

// checkPermutation verifies that perm is a bijection over 0..n-1.
func checkPermutation(perm []int, n int) error {
	if len(perm) != n {
		return configErrorf("permutation has %d entries, archive has %d points", len(perm), n)
	}
	seen := make([]bool, n)
	for _, p := range perm {
		if p < 0 || p >= n {
			return configErrorf("permutation entry %d outside point range [1,%d]", p+1, n)
		}
		if seen[p] {
			return configErrorf("permutation repeats point %d", p+1)
		}
		seen[p] = true
	}
	return nil
}
