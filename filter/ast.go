// Package filter compiles parsed CQL2 filter trees into parameterized DuckDB
// SQL predicates.
//
// The tree is produced by an external CQL2-JSON/CQL2-text parser. Compilation
// validates every attribute against the caller's column set and never
// interpolates a literal value into the generated SQL.
//
// Example:
//
//	pred, err := filter.Compile(
//	    filter.Eq(filter.Attr("name"), filter.Lit("Berlin")),
//	    []string{"name", "value"}, "geometry")
//	// pred.SQL == `"name" = ?`, pred.Params == []any{"Berlin"}
package filter

import (
	"time"

	"github.com/paulmach/orb"
)

// Node is a filter expression. The set of implementations is closed.
type Node interface {
	node()
}

type Not struct {
	Node Node
}

type And struct {
	Left, Right Node
}

type Or struct {
	Left, Right Node
}

// Comparison covers =, <>, <, >, <=, >= and the aliases == and !=
type Comparison struct {
	Op          string
	Left, Right Node
}

type Between struct {
	Value, Low, High Node
	Negated          bool
}

type Like struct {
	Value           Node
	Pattern         string
	CaseInsensitive bool
	Negated         bool
}

type In struct {
	Value   Node
	Options []Node
	Negated bool
}

type IsNull struct {
	Value Node
}

// List is a bare argument list as emitted by some parsers, e.g. IsNull([attr])
type List []Node

type Attribute struct {
	Name string
}

// Literal holds one of: string, any Go integer, float32/float64, bool,
// time.Time (datetime), Date, TimeOfDay, time.Duration, Geometry, Envelope, Interval.
type Literal struct {
	Value any
}

// Arithmetic covers + - * /
type Arithmetic struct {
	Op          string
	Left, Right Node
}

type SpatialKind int

const (
	Intersects SpatialKind = iota
	Disjoint
	Contains
	Within
	Touches
	Crosses
	Overlaps
	Equals
	DWithin
	Beyond
	Relate
)

var spatialFunctions = map[SpatialKind]string{
	Intersects: "ST_Intersects",
	Disjoint:   "ST_Disjoint",
	Contains:   "ST_Contains",
	Within:     "ST_Within",
	Touches:    "ST_Touches",
	Crosses:    "ST_Crosses",
	Overlaps:   "ST_Overlaps",
	Equals:     "ST_Equals",
}

// Spatial is a spatial predicate. Distance is used by DWithin and Beyond,
// Pattern by Relate.
type Spatial struct {
	Kind        SpatialKind
	Left, Right Node
	Distance    float64
	Pattern     string
}

// BBoxPredicate is the bare BBOX(lhs, minx, miny, maxx, maxy) predicate
type BBoxPredicate struct {
	Value Node
	Box   Envelope
}

type TemporalOp string

const (
	Before  TemporalOp = "before"
	After   TemporalOp = "after"
	During  TemporalOp = "during"
	TEquals TemporalOp = "tequals"
)

type Temporal struct {
	Op          TemporalOp
	Left, Right Node
}

type Function struct {
	Name string
	Args []Node
}

// Date is a calendar date literal
type Date struct {
	time.Time
}

// TimeOfDay is a wall clock time literal
type TimeOfDay struct {
	time.Time
}

// Geometry is a geometry literal
type Geometry struct {
	Geometry orb.Geometry
}

// Envelope is a bounding box literal
type Envelope struct {
	MinX, MinY, MaxX, MaxY float64
}

// Interval is a temporal interval literal; Start and End are literal values
type Interval struct {
	Start, End any
}

func (Not) node()           {}
func (And) node()           {}
func (Or) node()            {}
func (Comparison) node()    {}
func (Between) node()       {}
func (Like) node()          {}
func (In) node()            {}
func (IsNull) node()        {}
func (List) node()          {}
func (Attribute) node()     {}
func (Literal) node()       {}
func (Arithmetic) node()    {}
func (Spatial) node()       {}
func (BBoxPredicate) node() {}
func (Temporal) node()      {}
func (Function) node()      {}

// Attr builds an attribute reference
func Attr(name string) Attribute { return Attribute{Name: name} }

// Lit builds a literal
func Lit(v any) Literal { return Literal{Value: v} }

// Eq builds an equality comparison
func Eq(l, r Node) Comparison { return Comparison{Op: "=", Left: l, Right: r} }

// AndAll folds nodes with AND; it returns nil for no nodes
func AndAll(nodes ...Node) Node {
	var out Node
	for _, n := range nodes {
		if n == nil {
			continue
		}
		if out == nil {
			out = n
			continue
		}
		out = And{Left: out, Right: n}
	}
	return out
}
