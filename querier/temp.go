package querier

import (
	"context"

	"github.com/gigapi/gigapi-geoanalytics/core"
	"github.com/gigapi/gigapi-geoanalytics/filter"
)

// CreateTempTable stages the rows of table matching pred into a temporary
// table. When rowID is set a 1-based row number column of that name is
// appended, numbered in scan order.
func CreateTempTable(ctx context.Context, exec core.Executor, name, table string, pred *filter.Predicate, rowID string) error {
	sql := "CREATE TEMP TABLE " + core.QuoteIdent(name) + " AS SELECT *"
	if rowID != "" {
		sql += ", ROW_NUMBER() OVER () AS " + core.QuoteIdent(rowID)
	}
	sql += " FROM " + table + " WHERE " + pred.Where()
	return exec.Exec(ctx, sql, pred.Args()...)
}

// DropTempTables drops the named temporary tables, skipping empty names.
// Failures are logged, the tables die with the connection anyway.
func DropTempTables(ctx context.Context, exec core.Executor, names ...string) {
	ctx = context.WithoutCancel(ctx)
	for _, name := range names {
		if name == "" {
			continue
		}
		if err := exec.Exec(ctx, "DROP TABLE IF EXISTS "+core.QuoteIdent(name)); err != nil {
			core.Warnf(ctx, "failed to drop %s: %v", name, err)
		}
	}
}
