// Package cql2 decodes CQL2-JSON filter expressions into filter trees.
//
// Parse accepts the generic value produced by decoding JSON or YAML into an
// interface{}, so filters embedded in YAML job files and JSON requests share
// one decoder.
package cql2

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gigapi/gigapi-geoanalytics/core"
	"github.com/gigapi/gigapi-geoanalytics/filter"
	"github.com/paulmach/orb/geojson"
)

var comparisons = map[string]bool{"=": true, "==": true, "<>": true, "!=": true, "<": true, ">": true, "<=": true, ">=": true}

var arithmetic = map[string]bool{"+": true, "-": true, "*": true, "/": true}

var spatialOps = map[string]filter.SpatialKind{
	"s_intersects": filter.Intersects,
	"s_disjoint":   filter.Disjoint,
	"s_contains":   filter.Contains,
	"s_within":     filter.Within,
	"s_touches":    filter.Touches,
	"s_crosses":    filter.Crosses,
	"s_overlaps":   filter.Overlaps,
	"s_equals":     filter.Equals,
}

var temporalOps = map[string]filter.TemporalOp{
	"t_before": filter.Before,
	"t_after":  filter.After,
	"t_during": filter.During,
	"t_equals": filter.TEquals,
}

var geometryTypes = map[string]bool{
	"Point": true, "MultiPoint": true, "LineString": true, "MultiLineString": true,
	"Polygon": true, "MultiPolygon": true, "GeometryCollection": true,
}

// Unmarshal decodes a CQL2-JSON document. An empty document yields a nil node.
func Unmarshal(data []byte) (filter.Node, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, malformed("filter", err.Error())
	}
	return Parse(v)
}

// Parse converts a decoded CQL2-JSON value. nil yields a nil node.
func Parse(v interface{}) (filter.Node, error) {
	if v == nil {
		return nil, nil
	}
	return parse(v)
}

func malformed(name, detail string) error {
	return &core.CompileError{Kind: core.MalformedLiteral, Name: name, Detail: detail}
}

func unsupported(op string) error {
	return &core.CompileError{Kind: core.UnsupportedOperator, Name: op}
}

func parse(v interface{}) (filter.Node, error) {
	switch t := v.(type) {
	case nil:
		return filter.Lit(nil), nil
	case string, bool:
		return filter.Lit(t), nil
	case json.Number, int, int64, float64, uint64:
		return filter.Lit(number(t)), nil
	case []interface{}:
		list := make(filter.List, len(t))
		for i, e := range t {
			n, err := parse(e)
			if err != nil {
				return nil, err
			}
			list[i] = n
		}
		return list, nil
	case map[string]interface{}:
		return parseObject(t)
	}
	return nil, malformed(fmt.Sprintf("%T", v), "unsupported value")
}

func number(v interface{}) interface{} {
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i
		}
		f, _ := n.Float64()
		return f
	case int:
		return int64(n)
	}
	return v
}

func parseObject(m map[string]interface{}) (filter.Node, error) {
	if p, ok := m["property"]; ok {
		name, ok := p.(string)
		if !ok || name == "" {
			return nil, malformed("property", "name must be a string")
		}
		return filter.Attr(name), nil
	}
	if ts, ok := m["timestamp"]; ok {
		t, err := parseTime(ts, time.RFC3339Nano)
		if err != nil {
			return nil, err
		}
		return filter.Lit(t), nil
	}
	if d, ok := m["date"]; ok {
		t, err := parseTime(d, time.DateOnly)
		if err != nil {
			return nil, err
		}
		return filter.Lit(filter.Date{Time: t}), nil
	}
	if iv, ok := m["interval"]; ok {
		return parseInterval(iv)
	}
	if b, ok := m["bbox"]; ok {
		env, err := parseBBox(b)
		if err != nil {
			return nil, err
		}
		return filter.Lit(env), nil
	}
	if typ, ok := m["type"].(string); ok && geometryTypes[typ] {
		return parseGeometry(m)
	}
	if fn, ok := m["function"].(map[string]interface{}); ok {
		name, _ := fn["name"].(string)
		args, _ := fn["args"].([]interface{})
		return parseFunction(name, args)
	}

	op, ok := m["op"].(string)
	if !ok {
		return nil, malformed("object", "expected op, property or literal")
	}
	rawArgs, _ := m["args"].([]interface{})
	return parseOp(op, rawArgs)
}

func parseOp(op string, rawArgs []interface{}) (filter.Node, error) {
	lower := strings.ToLower(op)
	args, err := parseArgs(rawArgs)
	if err != nil {
		return nil, err
	}

	switch {
	case lower == "and" || lower == "or":
		if len(args) < 2 {
			return nil, malformed(op, "needs at least two arguments")
		}
		out := args[0]
		for _, a := range args[1:] {
			if lower == "and" {
				out = filter.And{Left: out, Right: a}
			} else {
				out = filter.Or{Left: out, Right: a}
			}
		}
		return out, nil
	case lower == "not":
		if err := arity(op, args, 1); err != nil {
			return nil, err
		}
		return filter.Not{Node: args[0]}, nil
	case comparisons[lower]:
		if err := arity(op, args, 2); err != nil {
			return nil, err
		}
		return filter.Comparison{Op: lower, Left: args[0], Right: args[1]}, nil
	case arithmetic[lower]:
		if err := arity(op, args, 2); err != nil {
			return nil, err
		}
		return filter.Arithmetic{Op: lower, Left: args[0], Right: args[1]}, nil
	case lower == "like":
		if err := arity(op, args, 2); err != nil {
			return nil, err
		}
		pattern, ok := stringLiteral(args[1])
		if !ok {
			return nil, malformed(op, "pattern must be a string")
		}
		return filter.Like{Value: args[0], Pattern: pattern}, nil
	case lower == "between":
		if err := arity(op, args, 3); err != nil {
			return nil, err
		}
		return filter.Between{Value: args[0], Low: args[1], High: args[2]}, nil
	case lower == "in":
		if err := arity(op, args, 2); err != nil {
			return nil, err
		}
		list, ok := args[1].(filter.List)
		if !ok {
			return nil, malformed(op, "second argument must be an array")
		}
		return filter.In{Value: args[0], Options: list}, nil
	case lower == "isnull":
		if err := arity(op, args, 1); err != nil {
			return nil, err
		}
		return filter.IsNull{Value: args[0]}, nil
	case lower == "s_dwithin" || lower == "s_beyond":
		if err := arity(op, args, 3); err != nil {
			return nil, err
		}
		d, ok := floatLiteral(args[2])
		if !ok {
			return nil, malformed(op, "distance must be a number")
		}
		kind := filter.DWithin
		if lower == "s_beyond" {
			kind = filter.Beyond
		}
		return filter.Spatial{Kind: kind, Left: args[0], Right: args[1], Distance: d}, nil
	case lower == "s_relate":
		if err := arity(op, args, 3); err != nil {
			return nil, err
		}
		pattern, ok := stringLiteral(args[2])
		if !ok {
			return nil, malformed(op, "pattern must be a string")
		}
		return filter.Spatial{Kind: filter.Relate, Left: args[0], Right: args[1], Pattern: pattern}, nil
	}

	if kind, ok := spatialOps[lower]; ok {
		if err := arity(op, args, 2); err != nil {
			return nil, err
		}
		return filter.Spatial{Kind: kind, Left: args[0], Right: args[1]}, nil
	}
	if top, ok := temporalOps[lower]; ok {
		if err := arity(op, args, 2); err != nil {
			return nil, err
		}
		return filter.Temporal{Op: top, Left: args[0], Right: args[1]}, nil
	}
	return parseFunction(op, rawArgs)
}

// parseFunction leaves name validation to the compiler's allow-list
func parseFunction(name string, rawArgs []interface{}) (filter.Node, error) {
	if name == "" {
		return nil, unsupported("function")
	}
	args, err := parseArgs(rawArgs)
	if err != nil {
		return nil, err
	}
	return filter.Function{Name: name, Args: args}, nil
}

func parseArgs(raw []interface{}) ([]filter.Node, error) {
	args := make([]filter.Node, len(raw))
	for i, a := range raw {
		n, err := parse(a)
		if err != nil {
			return nil, err
		}
		args[i] = n
	}
	return args, nil
}

func arity(op string, args []filter.Node, n int) error {
	if len(args) != n {
		return malformed(op, fmt.Sprintf("expects %d arguments, got %d", n, len(args)))
	}
	return nil
}

func stringLiteral(n filter.Node) (string, bool) {
	lit, ok := n.(filter.Literal)
	if !ok {
		return "", false
	}
	s, ok := lit.Value.(string)
	return s, ok
}

func floatLiteral(n filter.Node) (float64, bool) {
	lit, ok := n.(filter.Literal)
	if !ok {
		return 0, false
	}
	return core.Float64(lit.Value)
}

func parseTime(v interface{}, layout string) (time.Time, error) {
	s, ok := v.(string)
	if !ok {
		return time.Time{}, malformed("time", "must be a string")
	}
	t, err := time.Parse(layout, s)
	if err != nil {
		return time.Time{}, malformed("time", err.Error())
	}
	return t, nil
}

func parseInterval(v interface{}) (filter.Node, error) {
	bounds, ok := v.([]interface{})
	if !ok || len(bounds) != 2 {
		return nil, malformed("interval", "needs two bounds")
	}
	var out [2]interface{}
	for i, b := range bounds {
		s, ok := b.(string)
		if !ok {
			return nil, malformed("interval", "bounds must be strings")
		}
		if s == ".." {
			return nil, malformed("interval", "open bounds are not supported")
		}
		layout := time.RFC3339Nano
		dateOnly := len(s) == len(time.DateOnly)
		if dateOnly {
			layout = time.DateOnly
		}
		t, err := parseTime(s, layout)
		if err != nil {
			return nil, err
		}
		// a date end bound covers the whole day
		if dateOnly && i == 1 {
			t = t.AddDate(0, 0, 1).Add(-time.Microsecond)
		}
		out[i] = t
	}
	return filter.Lit(filter.Interval{Start: out[0], End: out[1]}), nil
}

func parseBBox(v interface{}) (filter.Envelope, error) {
	vals, ok := v.([]interface{})
	if !ok || (len(vals) != 4 && len(vals) != 6) {
		return filter.Envelope{}, malformed("bbox", "needs 4 or 6 numbers")
	}
	nums := make([]float64, len(vals))
	for i, x := range vals {
		f, ok := core.Float64(number(x))
		if !ok {
			return filter.Envelope{}, malformed("bbox", "needs numbers")
		}
		nums[i] = f
	}
	if len(nums) == 6 {
		return filter.Envelope{MinX: nums[0], MinY: nums[1], MaxX: nums[3], MaxY: nums[4]}, nil
	}
	return filter.Envelope{MinX: nums[0], MinY: nums[1], MaxX: nums[2], MaxY: nums[3]}, nil
}

func parseGeometry(m map[string]interface{}) (filter.Node, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, malformed("geometry", err.Error())
	}
	g, err := geojson.UnmarshalGeometry(raw)
	if err != nil {
		return nil, malformed("geometry", err.Error())
	}
	return filter.Lit(filter.Geometry{Geometry: g.Geometry()}), nil
}
