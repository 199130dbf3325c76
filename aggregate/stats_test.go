package aggregate

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/gigapi/gigapi-geoanalytics/core"
	"github.com/gigapi/gigapi-geoanalytics/core/coretest"
	"github.com/gigapi/gigapi-geoanalytics/filter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculateStatsGrouped(t *testing.T) {
	rec := coretest.New().
		On("COUNT(DISTINCT", map[string]interface{}{"n": int64(3)}).
		On("SELECT COUNT(*) AS n", map[string]interface{}{"n": big.NewInt(42)}).
		On("grouped_value",
			map[string]interface{}{"grouped_value": "bus", "operation_value": 30.0},
			map[string]interface{}{"grouped_value": "tram", "operation_value": 12.5})

	res, err := CalculateStats(context.Background(), rec, StatsRequest{
		Dataset: stops(),
		Filter:  filter.Eq(filter.Attr("operator"), filter.Lit("BVG")),
		Op:      Mean,
		Field:   "riders",
		GroupBy: "MODE",
		Order:   Ascending,
		Limit:   2,
	})
	require.NoError(t, err)

	assert.Equal(t, int64(42), res.TotalCount)
	assert.Equal(t, int64(3), res.TotalItems)
	require.Len(t, res.Items, 2)
	assert.Equal(t, "bus", *res.Items[0].GroupedValue)
	assert.Equal(t, 12.5, res.Items[1].OperationValue)

	data, ok := rec.Find("grouped_value")
	require.True(t, ok)
	assert.Contains(t, data.SQL, `CAST("mode" AS VARCHAR) AS grouped_value, CAST(AVG("Riders") AS DOUBLE) AS operation_value`)
	assert.Contains(t, data.SQL, `WHERE "operator" = ? GROUP BY "mode"`)
	assert.Contains(t, data.SQL, "ORDER BY operation_value ASC, grouped_value LIMIT 2")
	for _, s := range rec.Statements {
		assert.Equal(t, []any{"BVG"}, s.Args, s.SQL)
	}
}

func TestCalculateStatsUngrouped(t *testing.T) {
	rec := coretest.New().
		On("grouped_value", map[string]interface{}{"grouped_value": nil, "operation_value": int64(7)}).
		On("COUNT(*) AS n", map[string]interface{}{"n": int64(7)})

	res, err := CalculateStats(context.Background(), rec, StatsRequest{Dataset: stops(), Op: Count})
	require.NoError(t, err)

	assert.Equal(t, int64(1), res.TotalItems)
	assert.Equal(t, int64(7), res.TotalCount)
	require.Len(t, res.Items, 1)
	assert.Nil(t, res.Items[0].GroupedValue)
	assert.Equal(t, 7.0, res.Items[0].OperationValue)

	_, distinct := rec.Find("COUNT(DISTINCT")
	assert.False(t, distinct)
	data, _ := rec.Find("grouped_value")
	assert.Contains(t, data.SQL, `SELECT NULL AS grouped_value, CAST(COUNT(*) AS DOUBLE) AS operation_value FROM "user_1"."t_stops" WHERE TRUE`)
	assert.NotContains(t, data.SQL, "LIMIT")
}

func TestCalculateStatsDefaults(t *testing.T) {
	rec := coretest.New()
	_, err := CalculateStats(context.Background(), rec, StatsRequest{Dataset: stops(), Op: Max, Field: "riders", GroupBy: "mode"})
	require.NoError(t, err)
	data, ok := rec.Find("grouped_value")
	require.True(t, ok)
	assert.Contains(t, data.SQL, "ORDER BY operation_value DESC, grouped_value LIMIT 100")
}

func TestCalculateStatsRejects(t *testing.T) {
	tests := []struct {
		name string
		req  StatsRequest
		want error
	}{
		{"sum without field", StatsRequest{Op: Sum}, core.ErrConfiguration},
		{"unknown op", StatsRequest{Op: "median", Field: "riders"}, core.ErrConfiguration},
		{"unknown field", StatsRequest{Op: Min, Field: "nope"}, core.ErrConfiguration},
		{"unknown group", StatsRequest{Op: Count, GroupBy: "nope"}, core.ErrConfiguration},
		{"unknown order", StatsRequest{Op: Count, Order: "sideways"}, core.ErrConfiguration},
		{"bad filter", StatsRequest{Op: Count, Filter: filter.Eq(filter.Attr("secret"), filter.Lit(1))}, core.ErrUnknownField},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := coretest.New()
			tt.req.Dataset = stops()
			_, err := CalculateStats(context.Background(), rec, tt.req)
			assert.True(t, errors.Is(err, tt.want), "%v", err)
			assert.Empty(t, rec.Statements)
		})
	}
}

func TestStatsRecord(t *testing.T) {
	bus := "bus"
	res := &StatsResult{Items: []StatsItem{
		{GroupedValue: &bus, OperationValue: 3},
		{OperationValue: 1.5},
	}}
	rec, err := res.Record()
	require.NoError(t, err)
	defer rec.Release()

	assert.Equal(t, int64(2), rec.NumRows())
	assert.Equal(t, "grouped_value", rec.ColumnName(0))
	assert.Equal(t, "operation_value", rec.ColumnName(1))
	assert.True(t, rec.Column(0).IsNull(1))
}

func TestCalculateStatsAvgAlias(t *testing.T) {
	rec := coretest.New().
		On("grouped_value", map[string]interface{}{"grouped_value": nil, "operation_value": 2.5}).
		On("COUNT(*) AS n", map[string]interface{}{"n": int64(4)})

	res, err := CalculateStats(context.Background(), rec, StatsRequest{Dataset: stops(), Op: "avg", Field: "riders"})
	require.NoError(t, err)
	assert.Equal(t, 2.5, res.Items[0].OperationValue)

	data, ok := rec.Find("grouped_value")
	require.True(t, ok)
	assert.Contains(t, data.SQL, `CAST(AVG("Riders") AS DOUBLE) AS operation_value`)
}
