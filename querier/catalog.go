package querier

import (
	"context"
	"fmt"
	"strings"

	"github.com/gigapi/gigapi-geoanalytics/core"
	"github.com/google/uuid"
)

// Catalog resolves tables against the engine's information schema
type Catalog struct {
	exec core.Executor
}

func NewCatalog(exec core.Executor) *Catalog {
	return &Catalog{exec: exec}
}

// Resolve describes schema.table. An empty schema means "main". The first
// GEOMETRY column becomes the descriptor's geometry column.
func (c *Catalog) Resolve(ctx context.Context, schema, table string) (core.DatasetDescriptor, error) {
	if schema == "" {
		schema = "main"
	}
	rows, err := c.exec.Query(ctx,
		`SELECT column_name, data_type FROM information_schema.columns
WHERE table_schema = ? AND table_name = ? ORDER BY ordinal_position`, schema, table)
	if err != nil {
		return core.DatasetDescriptor{}, err
	}
	if len(rows) == 0 {
		return core.DatasetDescriptor{}, core.Configf("table %s.%s not found", schema, table)
	}

	ds := core.DatasetDescriptor{Table: core.QuoteIdent(schema) + "." + core.QuoteIdent(table)}
	for _, row := range rows {
		col := core.Column{Name: fmt.Sprint(row["column_name"]), Type: fmt.Sprint(row["data_type"])}
		if ds.GeometryColumn == "" && strings.EqualFold(col.Type, "GEOMETRY") {
			ds.GeometryColumn = col.Name
		}
		ds.Columns = append(ds.Columns, col)
	}
	return ds, nil
}

// ResolveLayer resolves a tenant layer addressed by user and layer ids
func (c *Catalog) ResolveLayer(ctx context.Context, userID, layerID string) (core.DatasetDescriptor, error) {
	u, err := uuid.Parse(userID)
	if err != nil {
		return core.DatasetDescriptor{}, core.Configf("invalid user id %q", userID)
	}
	l, err := uuid.Parse(layerID)
	if err != nil {
		return core.DatasetDescriptor{}, core.Configf("invalid layer id %q", layerID)
	}
	return c.Resolve(ctx, core.SchemaName(u), core.TableName(l))
}
