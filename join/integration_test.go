package join

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/gigapi/gigapi-geoanalytics/config"
	"github.com/gigapi/gigapi-geoanalytics/core"
	"github.com/gigapi/gigapi-geoanalytics/core/coretest"
	"github.com/gigapi/gigapi-geoanalytics/geoparquet"
	"github.com/gigapi/gigapi-geoanalytics/querier"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func spatialSession(t *testing.T) *querier.Session {
	t.Helper()
	ctx := context.Background()
	q := querier.NewQueryClient(config.EngineConfig{Extensions: []string{"spatial"}, InstallExtensions: true})
	if err := q.Initialize(ctx); err != nil {
		coretest.SkipUnavailable(t, []string{"spatial"}, err)
	}
	t.Cleanup(func() { q.Close() })

	s, err := q.Session(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// fixtures creates five unit squares along the x axis and three schools in
// the first one plus one school outside every square.
func fixtures(t *testing.T, s *querier.Session) (target, join core.DatasetDescriptor) {
	ctx := context.Background()
	require.NoError(t, s.Exec(ctx, `CREATE TABLE squares AS
SELECT range AS id, ST_MakeEnvelope(range * 10, 0, range * 10 + 1, 1) AS geometry FROM range(5)`))
	require.NoError(t, s.Exec(ctx, `CREATE TABLE schools AS SELECT * FROM (VALUES
(100, ST_Point(0.2, 0.2)),
(200, ST_Point(0.5, 0.5)),
(300, ST_Point(0.8, 0.8)),
(999, ST_Point(5, 5))) AS v(population, geom)`))

	catalog := querier.NewCatalog(s)
	target, err := catalog.Resolve(ctx, "", "squares")
	require.NoError(t, err)
	join, err = catalog.Resolve(ctx, "", "schools")
	require.NoError(t, err)
	return target, join
}

func count(t *testing.T, s *querier.Session, path, expr string) int64 {
	t.Helper()
	rows, err := s.Query(context.Background(), "SELECT "+expr+" AS n FROM read_parquet("+core.QuoteLiteral(path)+")")
	require.NoError(t, err)
	n, ok := core.Int64(rows[0]["n"])
	require.True(t, ok)
	return n
}

func TestIntegrationStatisticsJoin(t *testing.T) {
	ctx := context.Background()
	s := spatialSession(t)
	target, join := fixtures(t, s)
	out := filepath.Join(t.TempDir(), "stats.parquet")

	engine := New(s, geoparquet.NewWriter(s, afero.NewOsFs(), 0, ""))
	res, err := engine.Run(ctx, Spec{
		Target:              Input{Dataset: target},
		Join:                Input{Dataset: join},
		UseSpatial:          true,
		SpatialRelationship: Intersects,
		Operation:           OneToOne,
		JoinType:            Left,
		MatchPolicy:         Statistics,
		FieldStatistics:     []FieldStatistic{{Field: "population", Op: Sum}},
	}, out)
	require.NoError(t, err)

	assert.Equal(t, int64(5), res.Rows)
	assert.True(t, res.Spatial)
	assert.Equal(t, int64(1), count(t, s, out, "COUNT(population_sum)"))
	assert.Equal(t, int64(600), count(t, s, out, "SUM(population_sum)"))
	assert.Equal(t, int64(3), count(t, s, out, "MAX(match_count)"))
}

func TestIntegrationCardinality(t *testing.T) {
	ctx := context.Background()
	s := spatialSession(t)
	target, join := fixtures(t, s)
	dir := t.TempDir()
	engine := New(s, geoparquet.NewWriter(s, afero.NewOsFs(), 0, ""))

	tests := []struct {
		name     string
		op       Operation
		jt       Type
		policy   MatchPolicy
		wantRows int64
	}{
		{"first record left", OneToOne, Left, FirstRecord, 5},
		{"first record inner", OneToOne, Inner, FirstRecord, 1},
		{"count only left", OneToOne, Left, CountOnly, 5},
		{"count only inner", OneToOne, Inner, CountOnly, 1},
		{"one to many inner", OneToMany, Inner, "", 3},
		{"one to many left", OneToMany, Left, "", 7},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := filepath.Join(dir, string(rune('a'+i))+".parquet")
			res, err := engine.Run(ctx, Spec{
				Target:              Input{Dataset: target},
				Join:                Input{Dataset: join},
				UseSpatial:          true,
				SpatialRelationship: Intersects,
				Operation:           tt.op,
				JoinType:            tt.jt,
				MatchPolicy:         tt.policy,
				Sort:                nil,
			}, out)
			require.NoError(t, err)
			assert.Equal(t, tt.wantRows, res.Rows)
		})
	}
}

func TestIntegrationFirstRecordSort(t *testing.T) {
	ctx := context.Background()
	s := spatialSession(t)
	target, join := fixtures(t, s)
	out := filepath.Join(t.TempDir(), "first.parquet")

	_, err := New(s, geoparquet.NewWriter(s, afero.NewOsFs(), 0, "")).Run(ctx, Spec{
		Target:              Input{Dataset: target},
		Join:                Input{Dataset: join},
		UseSpatial:          true,
		SpatialRelationship: Intersects,
		Operation:           OneToOne,
		JoinType:            Inner,
		MatchPolicy:         FirstRecord,
		Sort:                &SortField{Field: "population", Order: Descending},
	}, out)
	require.NoError(t, err)
	assert.Equal(t, int64(300), count(t, s, out, "MAX(join_population)"))
	assert.Equal(t, int64(300), count(t, s, out, "MIN(join_population)"))
}
