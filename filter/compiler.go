package filter

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/gigapi/gigapi-geoanalytics/core"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"
	"github.com/paulmach/orb/geojson"
)

// MaxDepth is the maximum nesting depth of a filter tree
const MaxDepth = 100

// GeometryAliases are attribute names rewritten to the dataset's geometry column
var GeometryAliases = []string{"geom", "geometry", "the_geom", "wkb_geometry"}

var comparisonOps = map[string]string{
	"=":  "=",
	"==": "=",
	"<>": "<>",
	"!=": "<>",
	"<":  "<",
	">":  ">",
	"<=": "<=",
	">=": ">=",
}

var arithmeticOps = map[string]string{
	"+": "+",
	"-": "-",
	"*": "*",
	"/": "/",
}

// allowedFunctions maps lower-case CQL2 function names to DuckDB functions.
// Function names end up in SQL text, so only these compile.
var allowedFunctions = map[string]string{
	"lower":       "lower",
	"upper":       "upper",
	"casei":       "lower",
	"accenti":     "strip_accents",
	"trim":        "trim",
	"length":      "length",
	"abs":         "abs",
	"round":       "round",
	"floor":       "floor",
	"ceil":        "ceil",
	"st_area":     "ST_Area",
	"st_length":   "ST_Length",
	"st_centroid": "ST_Centroid",
	"st_buffer":   "ST_Buffer",
	"st_envelope": "ST_Envelope",
	"st_x":        "ST_X",
	"st_y":        "ST_Y",
}

var relatePattern = regexp.MustCompile(`^[012TF*]{9}$`)

// Predicate is a compiled SQL boolean expression. SQL holds exactly one
// positional placeholder per element of Params, in order.
type Predicate struct {
	SQL    string
	Params []any
}

// Where returns the predicate as a WHERE clause body, "TRUE" for nil
func (p *Predicate) Where() string {
	if p == nil || p.SQL == "" {
		return "TRUE"
	}
	return p.SQL
}

// Args returns the parameters, nil-safe
func (p *Predicate) Args() []any {
	if p == nil {
		return nil
	}
	return p.Params
}

// Inlined returns the SQL with every parameter substituted, for statements
// that cannot take bound parameters.
func (p *Predicate) Inlined() (string, error) {
	if p == nil {
		return "TRUE", nil
	}
	return Inline(p.Where(), p.Params)
}

// Compiler compiles filter trees against one dataset's column set
type Compiler struct {
	columns        map[string]string
	geometryColumn string
}

// NewCompiler returns a Compiler accepting validColumns (case-insensitive)
// and rewriting geometry aliases to geometryColumn.
func NewCompiler(validColumns []string, geometryColumn string) *Compiler {
	cols := make(map[string]string, len(validColumns))
	for _, c := range validColumns {
		cols[strings.ToLower(c)] = c
	}
	return &Compiler{columns: cols, geometryColumn: geometryColumn}
}

// Compile compiles n against validColumns and geometryColumn
func Compile(n Node, validColumns []string, geometryColumn string) (*Predicate, error) {
	return NewCompiler(validColumns, geometryColumn).Compile(n)
}

// ForDataset compiles n against a dataset's schema. A nil node yields a nil predicate.
func ForDataset(n Node, ds core.DatasetDescriptor) (*Predicate, error) {
	if n == nil {
		return nil, nil
	}
	return Compile(n, ds.ColumnNames(), ds.GeometryColumn)
}

func (c *Compiler) Compile(n Node) (*Predicate, error) {
	if n == nil {
		return nil, &core.CompileError{Kind: core.UnsupportedOperator, Name: "nil", Detail: "empty filter"}
	}
	sql, params, err := c.compile(n, 0)
	if err != nil {
		return nil, err
	}
	return &Predicate{SQL: sql, Params: params}, nil
}

func (c *Compiler) compile(n Node, depth int) (string, []any, error) {
	if depth > MaxDepth {
		return "", nil, &core.CompileError{Kind: core.UnsupportedOperator, Name: fmt.Sprintf("%T", n),
			Detail: fmt.Sprintf("expression nesting too deep (max %d)", MaxDepth)}
	}
	d := depth + 1

	switch v := n.(type) {
	case Not:
		return c.wrap(d, "NOT (%s)", v.Node)
	case And:
		return c.wrap(d, "(%s AND %s)", v.Left, v.Right)
	case Or:
		return c.wrap(d, "(%s OR %s)", v.Left, v.Right)
	case Comparison:
		op, ok := comparisonOps[v.Op]
		if !ok {
			return "", nil, &core.CompileError{Kind: core.UnsupportedOperator, Name: v.Op}
		}
		return c.wrap(d, "%s "+op+" %s", v.Left, v.Right)
	case Arithmetic:
		op, ok := arithmeticOps[v.Op]
		if !ok {
			return "", nil, &core.CompileError{Kind: core.UnsupportedOperator, Name: v.Op}
		}
		return c.wrap(d, "(%s "+op+" %s)", v.Left, v.Right)
	case Between:
		sql, params, err := c.wrap(d, "%s BETWEEN %s AND %s", v.Value, v.Low, v.High)
		if err != nil || !v.Negated {
			return sql, params, err
		}
		return "NOT (" + sql + ")", params, nil
	case Like:
		lhs, params, err := c.compile(v.Value, d)
		if err != nil {
			return "", nil, err
		}
		op := "LIKE"
		if v.CaseInsensitive {
			op = "ILIKE"
		}
		sql := lhs + " " + op + " ?"
		params = append(params, v.Pattern)
		if v.Negated {
			sql = "NOT (" + sql + ")"
		}
		return sql, params, nil
	case In:
		return c.compileIn(v, d)
	case IsNull:
		value := v.Value
		if l, ok := value.(List); ok && len(l) == 1 {
			value = l[0]
		}
		lhs, params, err := c.compile(value, d)
		if err != nil {
			return "", nil, err
		}
		return lhs + " IS NULL", params, nil
	case List:
		if len(v) == 1 {
			return c.compile(v[0], d)
		}
		return "", nil, &core.CompileError{Kind: core.UnsupportedOperator, Name: "list",
			Detail: fmt.Sprintf("bare list of %d elements", len(v))}
	case Attribute:
		return c.attribute(v.Name)
	case Literal:
		return c.literal(v.Value)
	case Spatial:
		return c.compileSpatial(v, d)
	case BBoxPredicate:
		lhs, params, err := c.compile(v.Value, d)
		if err != nil {
			return "", nil, err
		}
		box, boxParams, err := envelope(v.Box)
		if err != nil {
			return "", nil, err
		}
		return "ST_Intersects(" + lhs + ", " + box + ")", append(params, boxParams...), nil
	case Temporal:
		return c.compileTemporal(v, d)
	case Function:
		return c.compileFunction(v, d)
	case nil:
		return "", nil, &core.CompileError{Kind: core.UnsupportedOperator, Name: "nil"}
	}
	return "", nil, &core.CompileError{Kind: core.UnsupportedOperator, Name: fmt.Sprintf("%T", n)}
}

// wrap compiles children in order and substitutes them into format
func (c *Compiler) wrap(depth int, format string, children ...Node) (string, []any, error) {
	parts := make([]any, len(children))
	var params []any
	for i, child := range children {
		sql, p, err := c.compile(child, depth)
		if err != nil {
			return "", nil, err
		}
		parts[i] = sql
		params = append(params, p...)
	}
	return fmt.Sprintf(format, parts...), params, nil
}

func (c *Compiler) compileIn(v In, depth int) (string, []any, error) {
	lhs, params, err := c.compile(v.Value, depth)
	if err != nil {
		return "", nil, err
	}
	if len(v.Options) == 0 {
		if v.Negated {
			return "TRUE", nil, nil
		}
		return "FALSE", nil, nil
	}
	opts := make([]string, len(v.Options))
	for i, o := range v.Options {
		sql, p, err := c.compile(o, depth)
		if err != nil {
			return "", nil, err
		}
		opts[i] = sql
		params = append(params, p...)
	}
	sql := lhs + " IN (" + strings.Join(opts, ", ") + ")"
	if v.Negated {
		sql = "NOT (" + sql + ")"
	}
	return sql, params, nil
}

func (c *Compiler) compileSpatial(v Spatial, depth int) (string, []any, error) {
	args, params, err := c.compileArgs(depth, v.Left, v.Right)
	if err != nil {
		return "", nil, err
	}
	pair := args[0] + ", " + args[1]

	switch v.Kind {
	case DWithin, Beyond:
		if math.IsNaN(v.Distance) || math.IsInf(v.Distance, 0) || v.Distance < 0 {
			return "", nil, &core.CompileError{Kind: core.MalformedLiteral, Name: "distance",
				Detail: fmt.Sprintf("invalid distance %v", v.Distance)}
		}
		sql := "ST_DWithin(" + pair + ", ?)"
		if v.Kind == Beyond {
			sql = "NOT " + sql
		}
		return sql, append(params, v.Distance), nil
	case Relate:
		if !relatePattern.MatchString(v.Pattern) {
			return "", nil, &core.CompileError{Kind: core.MalformedLiteral, Name: "relate pattern",
				Detail: fmt.Sprintf("invalid DE-9IM pattern %q", v.Pattern)}
		}
		return "ST_Relate(" + pair + ", ?)", append(params, v.Pattern), nil
	}

	fn, ok := spatialFunctions[v.Kind]
	if !ok {
		return "", nil, &core.CompileError{Kind: core.UnsupportedOperator, Name: fmt.Sprintf("spatial(%d)", v.Kind)}
	}
	return fn + "(" + pair + ")", params, nil
}

func (c *Compiler) compileTemporal(v Temporal, depth int) (string, []any, error) {
	lhs, lp, err := c.compile(v.Left, depth)
	if err != nil {
		return "", nil, err
	}

	if lit, ok := v.Right.(Literal); ok {
		if iv, ok := lit.Value.(Interval); ok {
			start, sp, err := c.literal(iv.Start)
			if err != nil {
				return "", nil, err
			}
			end, ep, err := c.literal(iv.End)
			if err != nil {
				return "", nil, err
			}
			switch v.Op {
			case During:
				params := concat(lp, sp, lp, ep)
				return "(" + lhs + " >= " + start + " AND " + lhs + " <= " + end + ")", params, nil
			case Before:
				return lhs + " < " + start, concat(lp, sp), nil
			case After:
				return lhs + " > " + end, concat(lp, ep), nil
			}
			return "", nil, &core.CompileError{Kind: core.UnsupportedOperator, Name: string(v.Op),
				Detail: "not supported against an interval"}
		}
	}

	rhs, rp, err := c.compile(v.Right, depth)
	if err != nil {
		return "", nil, err
	}
	var op string
	switch v.Op {
	case Before:
		op = "<"
	case After:
		op = ">"
	case TEquals:
		op = "="
	default:
		return "", nil, &core.CompileError{Kind: core.UnsupportedOperator, Name: string(v.Op),
			Detail: "requires an interval"}
	}
	return lhs + " " + op + " " + rhs, concat(lp, rp), nil
}

func (c *Compiler) compileFunction(v Function, depth int) (string, []any, error) {
	fn, ok := allowedFunctions[strings.ToLower(v.Name)]
	if !ok {
		return "", nil, &core.CompileError{Kind: core.UnsupportedOperator, Name: v.Name, Detail: "unknown function"}
	}
	args, params, err := c.compileArgs(depth, v.Args...)
	if err != nil {
		return "", nil, err
	}
	return fn + "(" + strings.Join(args, ", ") + ")", params, nil
}

func (c *Compiler) compileArgs(depth int, nodes ...Node) ([]string, []any, error) {
	out := make([]string, len(nodes))
	var params []any
	for i, n := range nodes {
		sql, p, err := c.compile(n, depth)
		if err != nil {
			return nil, nil, err
		}
		out[i] = sql
		params = append(params, p...)
	}
	return out, params, nil
}

func (c *Compiler) attribute(name string) (string, []any, error) {
	lower := strings.ToLower(name)
	if c.geometryColumn != "" {
		for _, alias := range GeometryAliases {
			if lower == alias {
				return core.QuoteIdent(c.geometryColumn), nil, nil
			}
		}
	}
	col, ok := c.columns[lower]
	if !ok {
		return "", nil, &core.CompileError{Kind: core.UnknownField, Name: name}
	}
	return core.QuoteIdent(col), nil, nil
}

func (c *Compiler) literal(value any) (string, []any, error) {
	switch v := value.(type) {
	case string:
		return "?", []any{v}, nil
	case bool:
		return "?", []any{v}, nil
	case int:
		return "?", []any{int64(v)}, nil
	case int8:
		return "?", []any{int64(v)}, nil
	case int16:
		return "?", []any{int64(v)}, nil
	case int32:
		return "?", []any{int64(v)}, nil
	case int64:
		return "?", []any{v}, nil
	case uint:
		return unsigned(uint64(v))
	case uint8:
		return "?", []any{int64(v)}, nil
	case uint16:
		return "?", []any{int64(v)}, nil
	case uint32:
		return "?", []any{int64(v)}, nil
	case uint64:
		return unsigned(v)
	case float32:
		return float(float64(v))
	case float64:
		return float(v)
	case time.Time:
		return "?", []any{v.Format(time.RFC3339Nano)}, nil
	case Date:
		return "?", []any{v.Format(time.DateOnly)}, nil
	case TimeOfDay:
		return "?", []any{v.Format("15:04:05.999999")}, nil
	case time.Duration:
		return "CAST(? AS INTERVAL)", []any{fmt.Sprintf("%d microseconds", v.Microseconds())}, nil
	case Geometry:
		return geometry(v.Geometry)
	case orb.Geometry:
		return geometry(v)
	case Envelope:
		return envelope(v)
	}
	return "", nil, &core.CompileError{Kind: core.MalformedLiteral, Name: fmt.Sprintf("%T", value)}
}

func unsigned(v uint64) (string, []any, error) {
	if v > math.MaxInt64 {
		return "", nil, &core.CompileError{Kind: core.MalformedLiteral, Name: "uint64",
			Detail: fmt.Sprintf("%d overflows BIGINT", v)}
	}
	return "?", []any{int64(v)}, nil
}

func float(v float64) (string, []any, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "", nil, &core.CompileError{Kind: core.MalformedLiteral, Name: "float64",
			Detail: fmt.Sprintf("%v is not representable", v)}
	}
	return "?", []any{v}, nil
}

func geometry(g orb.Geometry) (string, []any, error) {
	if g == nil {
		return "", nil, &core.CompileError{Kind: core.MalformedLiteral, Name: "geometry", Detail: "nil geometry"}
	}
	b, err := geojson.NewGeometry(g).MarshalJSON()
	if err != nil {
		return "", nil, &core.CompileError{Kind: core.MalformedLiteral, Name: "geometry", Detail: err.Error()}
	}
	return "ST_GeomFromGeoJSON(?)", []any{string(b)}, nil
}

func envelope(e Envelope) (string, []any, error) {
	for _, f := range []float64{e.MinX, e.MinY, e.MaxX, e.MaxY} {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return "", nil, &core.CompileError{Kind: core.MalformedLiteral, Name: "envelope",
				Detail: "non-finite coordinate"}
		}
	}
	if e.MinX > e.MaxX || e.MinY > e.MaxY {
		return "", nil, &core.CompileError{Kind: core.MalformedLiteral, Name: "envelope",
			Detail: fmt.Sprintf("min exceeds max in %v", e)}
	}
	bound := orb.Bound{Min: orb.Point{e.MinX, e.MinY}, Max: orb.Point{e.MaxX, e.MaxY}}
	return "ST_GeomFromText(?)", []any{wkt.MarshalString(bound.ToPolygon())}, nil
}

func concat(lists ...[]any) []any {
	var out []any
	for _, l := range lists {
		out = append(out, l...)
	}
	return out
}
