package querier

import (
	"testing"
	"time"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRowsToRecord(t *testing.T) {
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rows := []map[string]interface{}{
		{"name": "a", "count": int64(3), "mean": 1.5, "ok": true, "at": ts, "geom": []byte{1, 2}},
		{"name": nil, "count": int32(4), "mean": int64(2), "ok": nil, "at": nil, "geom": nil},
	}

	rec, err := RowsToRecord(rows, []string{"name", "count", "mean", "ok", "at", "geom"})
	require.NoError(t, err)
	defer rec.Release()

	assert.Equal(t, int64(2), rec.NumRows())
	assert.Equal(t, int64(6), rec.NumCols())

	tests := []struct {
		col  int
		want arrow.Type
	}{
		{0, arrow.STRING},
		{1, arrow.INT64},
		{2, arrow.FLOAT64},
		{3, arrow.BOOL},
		{4, arrow.TIMESTAMP},
		{5, arrow.BINARY},
	}
	for _, tt := range tests {
		t.Run(rec.ColumnName(tt.col), func(t *testing.T) {
			assert.Equal(t, tt.want, rec.Column(tt.col).DataType().ID())
		})
	}

	assert.Equal(t, "a", rec.Column(0).(*array.String).Value(0))
	assert.True(t, rec.Column(0).IsNull(1))
	assert.Equal(t, int64(4), rec.Column(1).(*array.Int64).Value(1))
	assert.Equal(t, 2.0, rec.Column(2).(*array.Float64).Value(1))
	assert.Equal(t, arrow.Timestamp(ts.UnixMicro()), rec.Column(4).(*array.Timestamp).Value(0))
}

func TestRowsToRecordSortedKeys(t *testing.T) {
	rec, err := RowsToRecord([]map[string]interface{}{{"b": int64(1), "a": "x"}}, nil)
	require.NoError(t, err)
	defer rec.Release()

	assert.Equal(t, "a", rec.ColumnName(0))
	assert.Equal(t, "b", rec.ColumnName(1))
}

func TestRowsToRecordEmpty(t *testing.T) {
	rec, err := RowsToRecord(nil, []string{"x"})
	require.NoError(t, err)
	defer rec.Release()

	assert.Equal(t, int64(0), rec.NumRows())
	assert.Equal(t, arrow.STRING, rec.Column(0).DataType().ID())
}

func TestRowsToRecordTypeMismatch(t *testing.T) {
	_, err := RowsToRecord([]map[string]interface{}{{"n": int64(1)}, {"n": "two"}}, nil)
	assert.Error(t, err)
}
