package querier

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/gigapi/gigapi-geoanalytics/core"
)

var _ core.Executor = (*Session)(nil)

// Session is a core.Executor bound to a single connection
type Session struct {
	conn *sql.Conn
}

func (s *Session) Exec(ctx context.Context, query string, args ...any) error {
	start := time.Now()
	core.Debugf(ctx, "exec: %s args=%v", query, args)
	if _, err := s.conn.ExecContext(ctx, query, args...); err != nil {
		return &core.ExecutionError{Statement: query, Err: err}
	}
	core.Debugf(ctx, "exec done in %v", time.Since(start))
	return nil
}

func (s *Session) Query(ctx context.Context, query string, args ...any) ([]map[string]interface{}, error) {
	_, rows, err := s.QueryColumns(ctx, query, args...)
	return rows, err
}

// QueryColumns is Query that also returns the result column order
func (s *Session) QueryColumns(ctx context.Context, query string, args ...any) ([]string, []map[string]interface{}, error) {
	start := time.Now()
	core.Debugf(ctx, "query: %s args=%v", query, args)

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, nil, &core.ExecutionError{Statement: query, Err: err}
	}
	defer rows.Close()

	columns, result, err := scanRows(rows)
	if err != nil {
		return nil, nil, &core.ExecutionError{Statement: query, Err: err}
	}
	core.Debugf(ctx, "query returned %d rows in %v", len(result), time.Since(start))
	return columns, result, nil
}

func scanRows(rows *sql.Rows) ([]string, []map[string]interface{}, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get columns: %w", err)
	}

	result := make([]map[string]interface{}, 0)
	for rows.Next() {
		values := make([]interface{}, len(columns))
		valuePtrs := make([]interface{}, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}

		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, nil, fmt.Errorf("error scanning row: %w", err)
		}

		row := make(map[string]interface{}, len(columns))
		for i, col := range columns {
			row[col] = values[i]
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return columns, result, nil
}

// Close returns the connection to the pool
func (s *Session) Close() error {
	return s.conn.Close()
}
