package archive

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// LoadMeshOverride reads a coordinate sidecar: one "x y z" line per mesh
// point (z optional, defaulting to zero). The returned slices replace the
// archive's own coordinate arrays.
func LoadMeshOverride(path string) (x, y, z []float64, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open mesh override: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Fields(text)
		if len(fields) < 2 {
			return nil, nil, nil, fmt.Errorf("mesh override %s line %d: expected at least x and y", path, line)
		}
		vals := make([]float64, len(fields))
		for i, fv := range fields {
			vals[i], err = strconv.ParseFloat(fv, 64)
			if err != nil {
				return nil, nil, nil, fmt.Errorf("mesh override %s line %d: %w", path, line, err)
			}
		}
		x = append(x, vals[0])
		y = append(y, vals[1])
		if len(vals) > 2 {
			z = append(z, vals[2])
		} else {
			z = append(z, 0)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("read mesh override %s: %w", path, err)
	}
	return x, y, z, nil
}

// LoadPermutation reads a spatial permutation sidecar: whitespace-separated
// 1-based point indices. The result is converted to the 0-based form used
// internally; validation is left to the index resolver.
func LoadPermutation(path string) ([]int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("open permutation: %w", err)
	}
	fields := strings.Fields(string(data))
	perm := make([]int, 0, len(fields))
	for _, fv := range fields {
		n, err := strconv.Atoi(fv)
		if err != nil {
			return nil, fmt.Errorf("permutation %s: %w", path, err)
		}
		perm = append(perm, n-1)
	}
	return perm, nil
}
