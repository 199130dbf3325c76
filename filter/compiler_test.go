package filter

import (
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/gigapi/gigapi-geoanalytics/core"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testColumns = []string{"name", "value", "active", "ts", "dur", "geometry"}

func TestCompile(t *testing.T) {
	point := Geometry{Geometry: orb.Point{13.4, 52.5}}

	tests := []struct {
		name       string
		node       Node
		wantSQL    string
		wantParams []any
	}{
		{
			name:       "equality",
			node:       Eq(Attr("name"), Lit("Berlin")),
			wantSQL:    `"name" = ?`,
			wantParams: []any{"Berlin"},
		},
		{
			name:       "equality alias",
			node:       Comparison{Op: "==", Left: Attr("name"), Right: Lit("Berlin")},
			wantSQL:    `"name" = ?`,
			wantParams: []any{"Berlin"},
		},
		{
			name:       "not equal alias",
			node:       Comparison{Op: "!=", Left: Attr("value"), Right: Lit(3)},
			wantSQL:    `"value" <> ?`,
			wantParams: []any{int64(3)},
		},
		{
			name:       "case insensitive attribute",
			node:       Comparison{Op: ">=", Left: Attr("VALUE"), Right: Lit(1.5)},
			wantSQL:    `"value" >= ?`,
			wantParams: []any{1.5},
		},
		{
			name: "logical precedence",
			node: Or{
				Left:  And{Left: Comparison{Op: ">", Left: Attr("value"), Right: Lit(10)}, Right: Not{Node: IsNull{Value: Attr("name")}}},
				Right: Eq(Attr("active"), Lit(true)),
			},
			wantSQL:    `(("value" > ? AND NOT ("name" IS NULL)) OR "active" = ?)`,
			wantParams: []any{int64(10), true},
		},
		{
			name:       "between",
			node:       Between{Value: Attr("value"), Low: Lit(1), High: Lit(5)},
			wantSQL:    `"value" BETWEEN ? AND ?`,
			wantParams: []any{int64(1), int64(5)},
		},
		{
			name:       "not between",
			node:       Between{Value: Attr("value"), Low: Lit(1), High: Lit(5), Negated: true},
			wantSQL:    `NOT ("value" BETWEEN ? AND ?)`,
			wantParams: []any{int64(1), int64(5)},
		},
		{
			name:       "like",
			node:       Like{Value: Attr("name"), Pattern: "Ber%"},
			wantSQL:    `"name" LIKE ?`,
			wantParams: []any{"Ber%"},
		},
		{
			name:       "not ilike",
			node:       Like{Value: Attr("name"), Pattern: "ber%", CaseInsensitive: true, Negated: true},
			wantSQL:    `NOT ("name" ILIKE ?)`,
			wantParams: []any{"ber%"},
		},
		{
			name:       "in",
			node:       In{Value: Attr("name"), Options: []Node{Lit("a"), Lit("b")}},
			wantSQL:    `"name" IN (?, ?)`,
			wantParams: []any{"a", "b"},
		},
		{
			name:       "not in",
			node:       In{Value: Attr("value"), Options: []Node{Lit(1)}, Negated: true},
			wantSQL:    `NOT ("value" IN (?))`,
			wantParams: []any{int64(1)},
		},
		{
			name:    "empty in",
			node:    In{Value: Attr("name")},
			wantSQL: "FALSE",
		},
		{
			name:    "empty not in",
			node:    In{Value: Attr("name"), Negated: true},
			wantSQL: "TRUE",
		},
		{
			name:    "is null unwraps single element list",
			node:    IsNull{Value: List{Attr("name")}},
			wantSQL: `"name" IS NULL`,
		},
		{
			name:       "arithmetic",
			node:       Comparison{Op: "<", Left: Arithmetic{Op: "*", Left: Attr("value"), Right: Lit(2)}, Right: Lit(100)},
			wantSQL:    `("value" * ?) < ?`,
			wantParams: []any{int64(2), int64(100)},
		},
		{
			name:       "function",
			node:       Eq(Function{Name: "CASEI", Args: []Node{Attr("name")}}, Lit("berlin")),
			wantSQL:    `lower("name") = ?`,
			wantParams: []any{"berlin"},
		},
		{
			name:       "date literal",
			node:       Comparison{Op: ">", Left: Attr("ts"), Right: Lit(Date{time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)})},
			wantSQL:    `"ts" > ?`,
			wantParams: []any{"2024-01-02"},
		},
		{
			name:       "datetime literal",
			node:       Comparison{Op: "<", Left: Attr("ts"), Right: Lit(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC))},
			wantSQL:    `"ts" < ?`,
			wantParams: []any{"2024-01-02T03:04:05Z"},
		},
		{
			name:       "duration literal",
			node:       Comparison{Op: ">", Left: Attr("dur"), Right: Lit(time.Hour)},
			wantSQL:    `"dur" > CAST(? AS INTERVAL)`,
			wantParams: []any{"3600000000 microseconds"},
		},
		{
			name:       "temporal during",
			node:       Temporal{Op: During, Left: Attr("ts"), Right: Lit(Interval{Start: "2023-01-01", End: "2023-12-31"})},
			wantSQL:    `("ts" >= ? AND "ts" <= ?)`,
			wantParams: []any{"2023-01-01", "2023-12-31"},
		},
		{
			name:       "temporal after interval",
			node:       Temporal{Op: After, Left: Attr("ts"), Right: Lit(Interval{Start: "2023-01-01", End: "2023-12-31"})},
			wantSQL:    `"ts" > ?`,
			wantParams: []any{"2023-12-31"},
		},
		{
			name:       "temporal before instant",
			node:       Temporal{Op: Before, Left: Attr("ts"), Right: Lit("2023-01-01")},
			wantSQL:    `"ts" < ?`,
			wantParams: []any{"2023-01-01"},
		},
		{
			name:    "spatial intersects",
			node:    Spatial{Kind: Intersects, Left: Attr("geom"), Right: Lit(point)},
			wantSQL: `ST_Intersects("geometry", ST_GeomFromGeoJSON(?))`,
		},
		{
			name:    "spatial within",
			node:    Spatial{Kind: Within, Left: Attr("geometry"), Right: Lit(point)},
			wantSQL: `ST_Within("geometry", ST_GeomFromGeoJSON(?))`,
		},
		{
			name:    "dwithin",
			node:    Spatial{Kind: DWithin, Left: Attr("the_geom"), Right: Lit(point), Distance: 100},
			wantSQL: `ST_DWithin("geometry", ST_GeomFromGeoJSON(?), ?)`,
		},
		{
			name:    "beyond",
			node:    Spatial{Kind: Beyond, Left: Attr("geom"), Right: Lit(point), Distance: 100},
			wantSQL: `NOT ST_DWithin("geometry", ST_GeomFromGeoJSON(?), ?)`,
		},
		{
			name:    "relate",
			node:    Spatial{Kind: Relate, Left: Attr("geom"), Right: Lit(point), Pattern: "T*F**F***"},
			wantSQL: `ST_Relate("geometry", ST_GeomFromGeoJSON(?), ?)`,
		},
		{
			name:    "bbox",
			node:    BBoxPredicate{Value: Attr("geom"), Box: Envelope{MinX: 0, MinY: 0, MaxX: 10, MaxY: 10}},
			wantSQL: `ST_Intersects("geometry", ST_GeomFromText(?))`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Compile(tt.node, testColumns, "geometry")
			require.NoError(t, err)
			assert.Equal(t, tt.wantSQL, got.SQL)
			assert.Equal(t, CountPlaceholders(got.SQL), len(got.Params))
			if tt.wantParams != nil {
				assert.Equal(t, tt.wantParams, got.Params)
			}
		})
	}
}

func TestCompileSpatialParams(t *testing.T) {
	point := Geometry{Geometry: orb.Point{13.4, 52.5}}

	got, err := Compile(Spatial{Kind: DWithin, Left: Attr("geom"), Right: Lit(point), Distance: 250}, testColumns, "geometry")
	require.NoError(t, err)
	require.Len(t, got.Params, 2)
	assert.Contains(t, got.Params[0], `"Point"`)
	assert.Equal(t, 250.0, got.Params[1])

	got, err = Compile(BBoxPredicate{Value: Attr("geom"), Box: Envelope{MinX: 0, MinY: 1, MaxX: 10, MaxY: 11}}, testColumns, "geometry")
	require.NoError(t, err)
	require.Len(t, got.Params, 1)
	assert.True(t, strings.HasPrefix(got.Params[0].(string), "POLYGON(("))
	assert.NotContains(t, got.SQL, "POLYGON")

	got, err = Compile(Spatial{Kind: Relate, Left: Attr("geom"), Right: Lit(point), Pattern: "T*F**F***"}, testColumns, "geometry")
	require.NoError(t, err)
	assert.Equal(t, "T*F**F***", got.Params[1])
}

func TestCompileErrors(t *testing.T) {
	tests := []struct {
		name string
		node Node
		want error
	}{
		{"unknown field", Eq(Attr("population"), Lit(1)), core.ErrUnknownField},
		{"unknown field in empty in", In{Value: Attr("bogus")}, core.ErrUnknownField},
		{"unknown operator", Comparison{Op: "~=", Left: Attr("name"), Right: Lit("x")}, core.ErrUnsupportedOperator},
		{"unknown arithmetic", Arithmetic{Op: "%", Left: Attr("value"), Right: Lit(2)}, core.ErrUnsupportedOperator},
		{"unknown function", Function{Name: "pg_sleep", Args: []Node{Lit(10)}}, core.ErrUnsupportedOperator},
		{"bare list", List{Attr("name"), Attr("value")}, core.ErrUnsupportedOperator},
		{"nil child", Not{}, core.ErrUnsupportedOperator},
		{"bytes literal", Eq(Attr("name"), Lit([]byte("x"))), core.ErrMalformedLiteral},
		{"nan literal", Eq(Attr("value"), Lit(math.NaN())), core.ErrMalformedLiteral},
		{"uint overflow", Eq(Attr("value"), Lit(uint64(math.MaxUint64))), core.ErrMalformedLiteral},
		{"nil geometry", Spatial{Kind: Intersects, Left: Attr("geom"), Right: Lit(Geometry{})}, core.ErrMalformedLiteral},
		{"inverted envelope", BBoxPredicate{Value: Attr("geom"), Box: Envelope{MinX: 10, MaxX: 0}}, core.ErrMalformedLiteral},
		{"bad relate pattern", Spatial{Kind: Relate, Left: Attr("geom"), Right: Attr("geom"), Pattern: "'; DROP"}, core.ErrMalformedLiteral},
		{"negative distance", Spatial{Kind: DWithin, Left: Attr("geom"), Right: Attr("geom"), Distance: -1}, core.ErrMalformedLiteral},
		{"interval outside temporal", Eq(Attr("ts"), Lit(Interval{Start: "a", End: "b"})), core.ErrMalformedLiteral},
		{"during without interval", Temporal{Op: During, Left: Attr("ts"), Right: Lit("2023-01-01")}, core.ErrUnsupportedOperator},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compile(tt.node, testColumns, "geometry")
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestGeometryAliasWithoutGeometryColumn(t *testing.T) {
	_, err := Compile(IsNull{Value: Attr("geom")}, []string{"name"}, "")
	assert.True(t, errors.Is(err, core.ErrUnknownField))

	got, err := Compile(IsNull{Value: Attr("geom")}, []string{"name", "geom"}, "")
	require.NoError(t, err)
	assert.Equal(t, `"geom" IS NULL`, got.SQL)
}

func TestCompileNil(t *testing.T) {
	_, err := Compile(nil, testColumns, "geometry")
	assert.True(t, errors.Is(err, core.ErrUnsupportedOperator))

	pred, err := ForDataset(nil, core.DatasetDescriptor{})
	require.NoError(t, err)
	assert.Nil(t, pred)
	assert.Equal(t, "TRUE", pred.Where())
	assert.Nil(t, pred.Args())
}

func TestMaxDepth(t *testing.T) {
	var n Node = Eq(Attr("name"), Lit("x"))
	for i := 0; i < MaxDepth+1; i++ {
		n = Not{Node: n}
	}
	_, err := Compile(n, testColumns, "geometry")
	assert.True(t, errors.Is(err, core.ErrUnsupportedOperator))
}

func TestForDataset(t *testing.T) {
	ds := core.DatasetDescriptor{
		Table:          "t",
		GeometryColumn: "geometry",
		Columns:        []core.Column{{Name: "name", Type: "VARCHAR"}, {Name: "geometry", Type: "GEOMETRY"}},
	}
	pred, err := ForDataset(Eq(Attr("name"), Lit("Berlin")), ds)
	require.NoError(t, err)
	assert.Equal(t, `"name" = ?`, pred.Where())
	assert.Equal(t, []any{"Berlin"}, pred.Args())

	inlined, err := pred.Inlined()
	require.NoError(t, err)
	assert.Equal(t, `"name" = 'Berlin'`, inlined)
}
