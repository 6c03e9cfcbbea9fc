package plan

import (
	"fmt"
	"strings"

	"github.com/OceanMetSEPA/hydromat/internal/archive"
)

// Canonical destination names for the three distinguished fields. Every
// materialized field also gets a time-major twin under TimeMajorName.
const (
	FieldU         = "u"
	FieldV         = "v"
	FieldElevation = "surface_elevation"
)

// TimeMajorName returns the store field name of the time-major twin.
func TimeMajorName(name string) string { return name + "_t" }

// Field maps one retained catalog parameter to its destination field name.
type Field struct {
	Param archive.Param
	Dest  string
}

// ParameterPlan is the derived, immutable parameter selection for one run:
// the retained catalog subset plus the three distinguished parameters
// resolved by name.
type ParameterPlan struct {
	Fields []Field

	U         archive.Param
	V         archive.Param
	Elevation archive.Param
}

// AmbiguousError reports a distinguished-parameter lookup that matched zero
// or several catalog entries. Either way the catalog cannot be used.
type AmbiguousError struct {
	Rule    string
	Matches []string
}

func (e *AmbiguousError) Error() string {
	if len(e.Matches) == 0 {
		return fmt.Sprintf("no catalog parameter matches %s", e.Rule)
	}
	return fmt.Sprintf("%d catalog parameters match %s: %s",
		len(e.Matches), e.Rule, strings.Join(e.Matches, ", "))
}

// Name-matching rules for the distinguished parameters. Matching is
// case-insensitive substring; each rule must hit exactly one retained
// catalog entry.
var (
	uPatterns    = []string{"u velocity", "velocity u"}
	vPatterns    = []string{"v velocity", "velocity v"}
	elevPatterns = []string{"surface elevation", "free surface"}
)

// SelectParameters filters the catalog down to the fields to materialize.
// Bulk/mass fields are dropped, every retained name is mapped to a
// destination field name, and the three distinguished parameters are
// resolved.
func SelectParameters(catalog []archive.Param) (*ParameterPlan, error) {
	var fields []Field
	for _, p := range catalog {
		if strings.Contains(strings.ToLower(p.Name), "mass") {
			continue
		}
		fields = append(fields, Field{Param: p, Dest: FieldName(p.Name)})
	}

	seen := make(map[string]string, len(fields))
	for _, f := range fields {
		if prev, ok := seen[f.Dest]; ok {
			return nil, configErrorf("parameters %q and %q both map to field %q", prev, f.Param.Name, f.Dest)
		}
		seen[f.Dest] = f.Param.Name
	}

	u, err := matchOne(fields, "the horizontal velocity rule", uPatterns)
	if err != nil {
		return nil, err
	}
	v, err := matchOne(fields, "the vertical velocity rule", vPatterns)
	if err != nil {
		return nil, err
	}
	elev, err := matchOne(fields, "the surface elevation rule", elevPatterns)
	if err != nil {
		return nil, err
	}

	return &ParameterPlan{Fields: fields, U: u, V: v, Elevation: elev}, nil
}

// matchOne finds the single retained parameter matching any of the
// patterns.
func matchOne(fields []Field, rule string, patterns []string) (archive.Param, error) {
	var matches []archive.Param
	for _, f := range fields {
		name := strings.ToLower(f.Param.Name)
		for _, pat := range patterns {
			if strings.Contains(name, pat) {
				matches = append(matches, f.Param)
				break
			}
		}
	}
	if len(matches) != 1 {
		names := make([]string, len(matches))
		for i, m := range matches {
			names[i] = m.Name
		}
		return archive.Param{}, &AmbiguousError{Rule: rule, Matches: names}
	}
	return matches[0], nil
}

// FieldName derives a destination field name from a catalog parameter
// name: lowercased, with runs of non-alphanumeric characters collapsed to
// single underscores.
func FieldName(name string) string {
	var b strings.Builder
	lastUnderscore := true // also trims a leading separator
	for _, r := range strings.ToLower(name) {
		alnum := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
		switch {
		case alnum:
			b.WriteRune(r)
			lastUnderscore = false
		case !lastUnderscore:
			b.WriteByte('_')
			lastUnderscore = true
		}
	}
	return strings.TrimSuffix(b.String(), "_")
}
