// Package aggregate computes statistics of a source layer over area polygons
// or an H3 grid, and grouped attribute statistics of a single layer.
package aggregate

import (
	"strings"

	"github.com/gigapi/gigapi-geoanalytics/core"
	"github.com/gigapi/gigapi-geoanalytics/filter"
)

type Op string

const (
	Count Op = "count"
	Sum   Op = "sum"
	Mean  Op = "mean"
	Min   Op = "min"
	Max   Op = "max"
)

// Canonical folds case and maps avg onto mean
func (o Op) Canonical() Op {
	op := Op(strings.ToLower(string(o)))
	if op == "avg" {
		return Mean
	}
	return op
}

var sqlFunctions = map[Op]string{
	Sum:  "SUM",
	Mean: "AVG",
	Min:  "MIN",
	Max:  "MAX",
}

// Statistic is the value computed per area or cell. Field is optional for Count.
type Statistic struct {
	Field string `json:"field,omitempty" yaml:"field,omitempty"`
	Op    Op     `json:"operation" yaml:"operation"`
}

// Column names the output column of the statistic
func (s Statistic) Column() string {
	if s.Op == Count || s.Field == "" {
		return string(s.Op)
	}
	return string(s.Op) + "_" + s.Field
}

type TargetKind string

const (
	PolygonTarget TargetKind = "polygon"
	GridTarget    TargetKind = "h3_grid"
)

// MaxResolution is the finest H3 resolution
const MaxResolution = 15

// MaxGroupBy limits the fields of a grouped breakdown
const MaxGroupBy = 3

// Target is either an area layer or an H3 resolution
type Target struct {
	Kind       TargetKind
	Area       *Input
	Resolution int
}

// Polygon aggregates onto the features of area
func Polygon(area Input) Target {
	return Target{Kind: PolygonTarget, Area: &area}
}

// Grid aggregates onto H3 cells of the given resolution
func Grid(resolution int) Target {
	return Target{Kind: GridTarget, Resolution: resolution}
}

// Input is a dataset restricted by an optional filter
type Input struct {
	Dataset core.DatasetDescriptor
	Filter  filter.Node
}

type Spec struct {
	Source    Input
	Target    Target
	Statistic Statistic
	GroupBy   []string
	// WeightedByArea scales polygon contributions by their overlap with each area
	WeightedByArea bool
	// SourceKind restricts the source geometries to one kind when set
	SourceKind GeometryKind
}

// Validate checks the spec against its datasets and canonicalizes the
// statistic op. It never touches the engine.
func (s *Spec) Validate() error {
	s.Statistic.Op = s.Statistic.Op.Canonical()
	src := s.Source.Dataset
	if !src.HasGeometry() {
		return core.Configf("aggregation requires a geometry column on the source layer")
	}

	switch s.Target.Kind {
	case PolygonTarget:
		if s.Target.Area == nil {
			return core.Configf("polygon aggregation requires an area layer")
		}
		if !s.Target.Area.Dataset.HasGeometry() {
			return core.Configf("aggregation requires a geometry column on the area layer")
		}
	case GridTarget:
		if s.Target.Area != nil {
			return core.Configf("grid aggregation does not take an area layer")
		}
		if s.Target.Resolution < 0 || s.Target.Resolution > MaxResolution {
			return core.Configf("h3 resolution %d out of range 0..%d", s.Target.Resolution, MaxResolution)
		}
	default:
		return core.Configf("unknown aggregation target %q", s.Target.Kind)
	}

	if err := validateStatistic(src, s.Statistic.Op, s.Statistic.Field); err != nil {
		return err
	}

	switch s.SourceKind {
	case NoGeometry, PointKind, PolygonKind:
	default:
		return core.Configf("source layers of kind %q cannot be aggregated", s.SourceKind)
	}

	if len(s.GroupBy) > MaxGroupBy {
		return core.Configf("group by accepts at most %d fields", MaxGroupBy)
	}
	for _, f := range s.GroupBy {
		if _, ok := src.Column(f); !ok {
			return core.Configf("unknown group by field %q", f)
		}
	}
	return nil
}

func validateStatistic(ds core.DatasetDescriptor, op Op, field string) error {
	if op != Count {
		if _, ok := sqlFunctions[op]; !ok {
			return core.Configf("unknown statistic %q", op)
		}
		if field == "" {
			return core.Configf("statistic %s requires a field", op)
		}
	}
	if field == "" {
		return nil
	}
	col, ok := ds.Column(field)
	if !ok {
		return core.Configf("unknown statistic field %q", field)
	}
	if op != Count && col.Type != "" && !isNumeric(col.Type) {
		return core.Configf("statistic %s requires a numeric field, %s is %s", op, col.Name, col.Type)
	}
	return nil
}

var numericTypes = []string{
	"TINYINT", "SMALLINT", "INTEGER", "BIGINT", "HUGEINT",
	"UTINYINT", "USMALLINT", "UINTEGER", "UBIGINT", "UHUGEINT",
	"FLOAT", "DOUBLE", "REAL", "DECIMAL", "NUMERIC",
}

func isNumeric(typ string) bool {
	t := strings.ToUpper(typ)
	for _, n := range numericTypes {
		if strings.HasPrefix(t, n) {
			return true
		}
	}
	return false
}
