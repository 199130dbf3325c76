package core

import (
	"context"
)

// Executor runs SQL statements against the analytical engine.
//
// All statements of a single join or aggregation go through the same Executor,
// because later statements read temporary tables created by earlier ones.
type Executor interface {
	// Exec runs a statement that returns no rows
	Exec(ctx context.Context, query string, args ...any) error

	// Query runs a statement and returns its rows keyed by column name
	Query(ctx context.Context, query string, args ...any) ([]map[string]interface{}, error)
}
