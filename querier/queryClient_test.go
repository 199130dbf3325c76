package querier

import (
	"context"
	"errors"
	"testing"

	"github.com/gigapi/gigapi-geoanalytics/config"
	"github.com/gigapi/gigapi-geoanalytics/core"
	"github.com/gigapi/gigapi-geoanalytics/core/coretest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openSession(t *testing.T, extensions ...string) *Session {
	t.Helper()
	ctx := context.Background()
	q := NewQueryClient(config.EngineConfig{Extensions: extensions, InstallExtensions: len(extensions) > 0})
	if err := q.Initialize(ctx); err != nil {
		if len(extensions) > 0 {
			coretest.SkipUnavailable(t, extensions, err)
		}
		require.NoError(t, err)
	}
	t.Cleanup(func() { q.Close() })

	s, err := q.Session(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSessionQuery(t *testing.T) {
	ctx := context.Background()
	s := openSession(t)

	require.NoError(t, s.Exec(ctx, `CREATE TEMP TABLE pts AS SELECT range AS id, 'p' || range AS name FROM range(3)`))

	cols, rows, err := s.QueryColumns(ctx, `SELECT id, name FROM pts WHERE id >= ? ORDER BY id`, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "name"}, cols)
	require.Len(t, rows, 2)
	assert.Equal(t, int64(1), rows[0]["id"])
	assert.Equal(t, "p2", rows[1]["name"])
}

func TestSessionTempTablesSurviveStatements(t *testing.T) {
	ctx := context.Background()
	s := openSession(t)

	name := core.TempName("probe")
	require.NoError(t, s.Exec(ctx, "CREATE TEMP TABLE "+core.QuoteIdent(name)+" AS SELECT 42 AS v"))
	rows, err := s.Query(ctx, "SELECT v FROM "+core.QuoteIdent(name))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.EqualValues(t, 42, rows[0]["v"])
}

func TestSessionExecutionError(t *testing.T) {
	ctx := context.Background()
	s := openSession(t)

	err := s.Exec(ctx, "SELECT * FROM does_not_exist")
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrExecution))

	var execErr *core.ExecutionError
	require.True(t, errors.As(err, &execErr))
	assert.Equal(t, "SELECT * FROM does_not_exist", execErr.Statement)

	_, err = s.Query(ctx, "SELEC 1")
	assert.True(t, errors.Is(err, core.ErrExecution))
}

func TestSessionRequiresInitialize(t *testing.T) {
	_, err := NewQueryClient(config.EngineConfig{}).Session(context.Background())
	assert.Error(t, err)
}

func TestInitializeUnknownExtension(t *testing.T) {
	q := NewQueryClient(config.EngineConfig{Extensions: []string{"no_such_extension_xyz"}})
	err := q.Initialize(context.Background())
	assert.Error(t, err)
}

func TestHasExtension(t *testing.T) {
	q := NewQueryClient(config.EngineConfig{Extensions: []string{"spatial", "H3"}})
	assert.True(t, q.HasExtension("h3"))
	assert.False(t, q.HasExtension("httpfs"))
}

func TestCatalogResolve(t *testing.T) {
	ctx := context.Background()
	s := openSession(t)

	require.NoError(t, s.Exec(ctx, `CREATE TABLE cities (name VARCHAR, population BIGINT)`))

	ds, err := NewCatalog(s).Resolve(ctx, "", "cities")
	require.NoError(t, err)
	assert.Equal(t, `"main"."cities"`, ds.Table)
	assert.Equal(t, []string{"name", "population"}, ds.ColumnNames())
	assert.False(t, ds.HasGeometry())

	_, err = NewCatalog(s).Resolve(ctx, "", "missing")
	assert.True(t, errors.Is(err, core.ErrConfiguration))
}

func TestCatalogResolveGeometry(t *testing.T) {
	ctx := context.Background()
	s := openSession(t, "spatial")

	require.NoError(t, s.Exec(ctx, `CREATE TABLE places (id INTEGER, geom GEOMETRY, shape GEOMETRY)`))

	ds, err := NewCatalog(s).Resolve(ctx, "main", "places")
	require.NoError(t, err)
	assert.Equal(t, "geom", ds.GeometryColumn)
}

func TestCatalogResolveLayer(t *testing.T) {
	ctx := context.Background()
	s := openSession(t)

	user := "9d1f2a6e-0c55-4a2b-8e41-3f0b7c2d1a90"
	layer := "5b7e3c1d-2f4a-4e6b-9c8d-0a1b2c3d4e5f"
	require.NoError(t, s.Exec(ctx, `CREATE SCHEMA user_9d1f2a6e0c554a2b8e413f0b7c2d1a90`))
	require.NoError(t, s.Exec(ctx, `CREATE TABLE user_9d1f2a6e0c554a2b8e413f0b7c2d1a90.t_5b7e3c1d2f4a4e6b9c8d0a1b2c3d4e5f (v DOUBLE)`))

	ds, err := NewCatalog(s).ResolveLayer(ctx, user, layer)
	require.NoError(t, err)
	assert.Equal(t, `"user_9d1f2a6e0c554a2b8e413f0b7c2d1a90"."t_5b7e3c1d2f4a4e6b9c8d0a1b2c3d4e5f"`, ds.Table)

	_, err = NewCatalog(s).ResolveLayer(ctx, "nope", layer)
	assert.True(t, errors.Is(err, core.ErrConfiguration))
}
