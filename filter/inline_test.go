package filter

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountPlaceholders(t *testing.T) {
	tests := []struct {
		sql  string
		want int
	}{
		{`"name" = ?`, 1},
		{`"a?" = ? AND 'what?' <> ?`, 2},
		{`'it''s ?' = ?`, 1},
		{`"we""ird?" IS NULL`, 0},
		{`ST_DWithin("g", ST_GeomFromGeoJSON(?), ?)`, 2},
	}
	for _, tt := range tests {
		t.Run(tt.sql, func(t *testing.T) {
			assert.Equal(t, tt.want, CountPlaceholders(tt.sql))
		})
	}
}

func TestInline(t *testing.T) {
	ts := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)

	tests := []struct {
		name   string
		sql    string
		params []any
		want   string
	}{
		{"string", `"name" = ?`, []any{"Berlin"}, `"name" = 'Berlin'`},
		{"quote escaping", `"name" = ?`, []any{"O'Brien"}, `"name" = 'O''Brien'`},
		{"placeholder inside value", `"a" = ? AND "b" = ?`, []any{"?", int64(2)}, `"a" = '?' AND "b" = 2`},
		{"bool and null", `"a" = ? OR "b" IS NOT DISTINCT FROM ?`, []any{true, nil}, `"a" = TRUE OR "b" IS NOT DISTINCT FROM NULL`},
		{"float", `"v" > ?`, []any{1.5}, `"v" > 1.5`},
		{"time", `"ts" < ?`, []any{ts}, `"ts" < '2024-05-06T07:08:09Z'`},
		{"quoted identifier untouched", `"col?" = ?`, []any{int64(1)}, `"col?" = 1`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Inline(tt.sql, tt.params)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestInlineErrors(t *testing.T) {
	_, err := Inline(`"a" = ?`, nil)
	assert.Error(t, err)

	_, err = Inline(`"a" = ?`, []any{math.Inf(1)})
	assert.Error(t, err)

	_, err = Inline(`"a" = ?`, []any{[]byte("x")})
	assert.Error(t, err)
}

func TestCompiledThenInlined(t *testing.T) {
	pred, err := Compile(
		And{Left: Eq(Attr("name"), Lit("x'); DROP TABLE t; --")), Right: Comparison{Op: ">", Left: Attr("value"), Right: Lit(3)}},
		testColumns, "geometry")
	require.NoError(t, err)

	got, err := pred.Inlined()
	require.NoError(t, err)
	assert.Equal(t, `("name" = 'x''); DROP TABLE t; --' AND "value" > 3)`, got)
}
