// Package materialize streams per-timestep vectors out of a result archive
// and accumulates them into the dual-orientation matrix store: one
// space-major matrix per field, grown column by column, plus a time-major
// transpose computed once at the end.
package materialize

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/OceanMetSEPA/hydromat/internal/archive"
	"github.com/OceanMetSEPA/hydromat/internal/metrics"
	"github.com/OceanMetSEPA/hydromat/internal/plan"
	"github.com/OceanMetSEPA/hydromat/internal/store"
)

// Options configure a materialization run.
type Options struct {
	// Verbose enables periodic progress logging.
	Verbose bool

	// Workers is the number of column workers. 1 (or 0) means the strictly
	// sequential mode; higher values read disjoint timestep ranges and
	// write disjoint columns concurrently.
	Workers int
}

// target is one archive parameter and every destination field it feeds.
// The three distinguished parameters feed their canonical alias as well as
// their own catalog field, but are read and permuted only once per column.
type target struct {
	param archive.Param
	dests []string
}

// Materializer drives one conversion run. It exclusively owns the sink for
// the duration of the run.
type Materializer struct {
	reader  archive.Reader
	sink    store.MatrixStore
	index   *plan.IndexPlan
	params  *plan.ParameterPlan
	opts    Options
	log     *slog.Logger
	targets []target
	np      int

	columnsDone atomic.Int64
}

// New assembles a materializer from resolved plans.
func New(reader archive.Reader, sink store.MatrixStore, index *plan.IndexPlan, params *plan.ParameterPlan, opts Options) *Materializer {
	return &Materializer{
		reader:  reader,
		sink:    sink,
		index:   index,
		params:  params,
		opts:    opts,
		log:     slog.With("component", "materializer"),
		targets: buildTargets(params),
		np:      len(index.Spatial),
	}
}

// buildTargets groups destination fields by archive parameter.
func buildTargets(params *plan.ParameterPlan) []target {
	aliases := map[int]string{
		params.U.Index:         plan.FieldU,
		params.V.Index:         plan.FieldV,
		params.Elevation.Index: plan.FieldElevation,
	}
	var targets []target
	for _, f := range params.Fields {
		t := target{param: f.Param, dests: []string{f.Dest}}
		if alias, ok := aliases[f.Param.Index]; ok && alias != f.Dest {
			t.dests = append(t.dests, alias)
		}
		targets = append(targets, t)
	}
	return targets
}

// Run executes the conversion: invariant fields first, then every selected
// column in increasing temporal order, then the time-major transposes. Any
// reader failure aborts immediately; columns already written remain in the
// sink as explicitly partial output.
func (m *Materializer) Run(ctx context.Context) error {
	start := time.Now()
	positions := m.index.Temporal.Positions()

	if err := m.writeInvariants(positions); err != nil {
		return err
	}
	for _, t := range m.targets {
		for _, dest := range t.dests {
			if err := m.sink.CreateMatrix(dest, m.np); err != nil {
				return err
			}
		}
	}

	m.log.Info("materializing",
		"points", m.np,
		"columns", len(positions),
		"parameters", len(m.targets),
		"workers", max(m.opts.Workers, 1),
	)

	var err error
	if m.opts.Workers > 1 {
		err = m.runParallel(ctx, positions)
	} else {
		err = m.runSequential(ctx, positions)
	}
	if err != nil {
		return err
	}

	if err := m.transposeAll(); err != nil {
		return err
	}

	elapsed := time.Since(start)
	m.log.Info("materialization complete",
		"columns", len(positions),
		"fields", 2*countDests(m.targets),
		"duration", elapsed.String(),
	)
	return nil
}

// writeInvariants stores the permuted coordinate arrays and the selected
// timestamps.
func (m *Materializer) writeInvariants(positions []int) error {
	md := m.reader.Metadata()
	perm := m.index.Spatial

	for _, inv := range []struct {
		name   string
		values []float64
	}{
		{"x", md.X},
		{"y", md.Y},
		{"z", md.Z},
	} {
		permuted := make([]float64, len(perm))
		applyPermutation(permuted, inv.values, perm)
		if err := m.sink.WriteArray(inv.name, permuted); err != nil {
			return err
		}
	}

	times := make([]float64, len(positions))
	for i, pos := range positions {
		times[i] = md.Times[pos-1]
	}
	return m.sink.WriteArray("time", times)
}

// runSequential is the reference mode: one blocking archive read at a time,
// columns in strictly increasing temporal order.
func (m *Materializer) runSequential(ctx context.Context, positions []int) error {
	scratch := make([]float64, m.np)
	for col, pos := range positions {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := m.materializeColumn(col, pos, scratch); err != nil {
			return err
		}
		m.noteProgress(len(positions))
	}
	return nil
}

// materializeColumn pulls every target parameter at the given 1-based
// archive position, permutes, and writes column col.
func (m *Materializer) materializeColumn(col, pos int, scratch []float64) error {
	for _, t := range m.targets {
		vec, err := m.reader.ReadTimestepVector(t.param.Index, pos-1)
		if err != nil {
			if mx := metrics.Get(); mx != nil {
				mx.ReadFailures.Inc()
			}
			return fmt.Errorf("materialize column %d: %w", col+1, err)
		}
		applyPermutation(scratch, vec, m.index.Spatial)
		for _, dest := range t.dests {
			if err := m.sink.PutColumn(dest, col, scratch); err != nil {
				return err
			}
		}
		if mx := metrics.Get(); mx != nil {
			mx.VectorsRead.Inc()
		}
	}
	if mx := metrics.Get(); mx != nil {
		mx.ColumnsWritten.Inc()
	}
	return nil
}

// transposeAll derives the time-major twin of every materialized field.
// This is a whole-matrix pass performed exactly once, after all column
// writes are complete.
func (m *Materializer) transposeAll() error {
	start := time.Now()
	for _, t := range m.targets {
		for _, dest := range t.dests {
			dm, err := m.sink.ReadMatrix(dest)
			if err != nil {
				return err
			}
			if err := m.sink.WriteMatrix(plan.TimeMajorName(dest), dm.T()); err != nil {
				return err
			}
		}
	}
	if mx := metrics.Get(); mx != nil {
		mx.TransposeDuration.Observe(time.Since(start).Seconds())
	}
	return nil
}

// noteProgress logs a progress line every progressEvery columns.
const progressEvery = 50

func (m *Materializer) noteProgress(total int) {
	done := m.columnsDone.Add(1)
	if m.opts.Verbose && (done%progressEvery == 0 || done == int64(total)) {
		m.log.Info("progress", "columns", done, "total", total)
	}
}

// applyPermutation fills dst with src reordered by perm: dst[i] =
// src[perm[i]].
func applyPermutation(dst, src []float64, perm []int) {
	for i, p := range perm {
		dst[i] = src[p]
	}
}

func countDests(targets []target) int {
	n := 0
	for _, t := range targets {
		n += len(t.dests)
	}
	return n
}
