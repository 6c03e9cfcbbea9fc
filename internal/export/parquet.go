// Package export writes analytic Parquet tables next to the matrix store:
// the mesh point table and, per probe point, the full time series of the
// distinguished fields. The probe export reads the time-major matrices,
// which exist precisely so that "all time at one point" is a contiguous
// row.
package export

import (
	"fmt"
	"path/filepath"

	"github.com/parquet-go/parquet-go"

	"github.com/OceanMetSEPA/hydromat/internal/plan"
	"github.com/OceanMetSEPA/hydromat/internal/store"
)

// PointRow is one mesh point with its stored (permuted) coordinates.
type PointRow struct {
	Point int32   `parquet:"point"`
	X     float64 `parquet:"x"`
	Y     float64 `parquet:"y"`
	Z     float64 `parquet:"z"`
}

// ProbeRow is one timestep of one probe point.
type ProbeRow struct {
	Point            int32   `parquet:"point"`
	Step             int32   `parquet:"step"`
	Time             float64 `parquet:"time"`
	U                float64 `parquet:"u"`
	V                float64 `parquet:"v"`
	SurfaceElevation float64 `parquet:"surface_elevation"`
}

// WritePointTable exports points.parquet from the stored coordinate
// arrays.
func WritePointTable(st store.MatrixStore, dir string) error {
	x, err := st.ReadMatrix("x")
	if err != nil {
		return err
	}
	y, err := st.ReadMatrix("y")
	if err != nil {
		return err
	}
	z, err := st.ReadMatrix("z")
	if err != nil {
		return err
	}

	np, _ := x.Dims()
	rows := make([]PointRow, np)
	for i := 0; i < np; i++ {
		rows[i] = PointRow{
			Point: int32(i + 1),
			X:     x.At(i, 0),
			Y:     y.At(i, 0),
			Z:     z.At(i, 0),
		}
	}
	path := filepath.Join(dir, "points.parquet")
	if err := parquet.WriteFile(path, rows, parquet.Compression(&parquet.Zstd)); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// WriteProbeSeries exports probes.parquet: the full time series of the
// distinguished fields at the given 1-based point indices.
func WriteProbeSeries(st store.MatrixStore, dir string, probes []int) error {
	if len(probes) == 0 {
		return nil
	}

	u, err := st.ReadMatrix(plan.TimeMajorName(plan.FieldU))
	if err != nil {
		return err
	}
	v, err := st.ReadMatrix(plan.TimeMajorName(plan.FieldV))
	if err != nil {
		return err
	}
	elev, err := st.ReadMatrix(plan.TimeMajorName(plan.FieldElevation))
	if err != nil {
		return err
	}
	times, err := st.ReadMatrix("time")
	if err != nil {
		return err
	}

	nt, np := u.Dims()
	rows := make([]ProbeRow, 0, nt*len(probes))
	for _, p := range probes {
		if p < 1 || p > np {
			return fmt.Errorf("probe point %d outside range [1,%d]", p, np)
		}
		for t := 0; t < nt; t++ {
			rows = append(rows, ProbeRow{
				Point:            int32(p),
				Step:             int32(t + 1),
				Time:             times.At(t, 0),
				U:                u.At(t, p-1),
				V:                v.At(t, p-1),
				SurfaceElevation: elev.At(t, p-1),
			})
		}
	}
	path := filepath.Join(dir, "probes.parquet")
	if err := parquet.WriteFile(path, rows, parquet.Compression(&parquet.Zstd)); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
