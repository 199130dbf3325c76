package aggregate

import (
	"context"
	"fmt"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/gigapi/gigapi-geoanalytics/core"
	"github.com/gigapi/gigapi-geoanalytics/filter"
	"github.com/gigapi/gigapi-geoanalytics/querier"
)

type SortOrder string

const (
	Ascending  SortOrder = "ascendent"
	Descending SortOrder = "descendent"
)

// DefaultStatsLimit caps the grouped values returned by CalculateStats
const DefaultStatsLimit = 100

// StatsRequest describes one attribute statistic over a dataset
type StatsRequest struct {
	Dataset core.DatasetDescriptor
	Filter  filter.Node
	Op      Op
	// Field is optional for Count
	Field   string
	GroupBy string
	Order   SortOrder
	Limit   int
}

type StatsItem struct {
	GroupedValue   *string `json:"grouped_value"`
	OperationValue float64 `json:"operation_value"`
}

type StatsResult struct {
	Items []StatsItem `json:"items"`
	// TotalItems is the number of distinct groups, 1 without grouping
	TotalItems int64 `json:"total_items"`
	// TotalCount is the number of rows matching the filter
	TotalCount int64 `json:"total_count"`
}

// Record returns the items as an Arrow record. The caller must Release it.
func (r *StatsResult) Record() (arrow.Record, error) {
	rows := make([]map[string]interface{}, len(r.Items))
	for i, it := range r.Items {
		var group interface{}
		if it.GroupedValue != nil {
			group = *it.GroupedValue
		}
		rows[i] = map[string]interface{}{"grouped_value": group, "operation_value": it.OperationValue}
	}
	return querier.RowsToRecord(rows, []string{"grouped_value", "operation_value"})
}

// CalculateStats computes req.Op of req.Field over the rows of req.Dataset
// matching req.Filter, grouped by req.GroupBy when set. Filter parameters are
// bound, never inlined.
func CalculateStats(ctx context.Context, exec core.Executor, req StatsRequest) (*StatsResult, error) {
	ds := req.Dataset
	req.Op = req.Op.Canonical()
	if err := validateStatistic(ds, req.Op, req.Field); err != nil {
		return nil, err
	}
	order := "DESC"
	switch req.Order {
	case "", Descending:
	case Ascending:
		order = "ASC"
	default:
		return nil, core.Configf("unknown sort order %q", req.Order)
	}
	limit := req.Limit
	if limit <= 0 {
		limit = DefaultStatsLimit
	}
	group := ""
	if req.GroupBy != "" {
		col, ok := ds.Column(req.GroupBy)
		if !ok {
			return nil, core.Configf("unknown group by field %q", req.GroupBy)
		}
		group = core.QuoteIdent(col.Name)
	}

	pred, err := filter.ForDataset(req.Filter, ds)
	if err != nil {
		return nil, fmt.Errorf("stats filter: %w", err)
	}
	where := pred.Where()
	args := pred.Args()

	expr := "COUNT(*)"
	if col, ok := ds.Column(req.Field); ok {
		if req.Op == Count {
			expr = "COUNT(" + core.QuoteIdent(col.Name) + ")"
		} else {
			expr = sqlFunctions[req.Op] + "(" + core.QuoteIdent(col.Name) + ")"
		}
	}

	res := &StatsResult{TotalItems: 1, Items: []StatsItem{}}
	if res.TotalCount, err = scalar(ctx, exec, fmt.Sprintf("SELECT COUNT(*) AS n FROM %s WHERE %s", ds.Table, where), args); err != nil {
		return nil, err
	}

	var data string
	if group != "" {
		if res.TotalItems, err = scalar(ctx, exec, fmt.Sprintf("SELECT COUNT(DISTINCT %s) AS n FROM %s WHERE %s", group, ds.Table, where), args); err != nil {
			return nil, err
		}
		data = fmt.Sprintf(`SELECT CAST(%s AS VARCHAR) AS grouped_value, CAST(%s AS DOUBLE) AS operation_value
FROM %s WHERE %s GROUP BY %s
ORDER BY operation_value %s, grouped_value LIMIT %d`, group, expr, ds.Table, where, group, order, limit)
	} else {
		data = fmt.Sprintf("SELECT NULL AS grouped_value, CAST(%s AS DOUBLE) AS operation_value FROM %s WHERE %s", expr, ds.Table, where)
	}

	core.Debugf(ctx, "stats %s op=%s field=%s group_by=%s", ds.Table, req.Op, req.Field, req.GroupBy)
	rows, err := exec.Query(ctx, data, args...)
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		var item StatsItem
		if s, ok := row["grouped_value"].(string); ok {
			item.GroupedValue = &s
		}
		item.OperationValue, _ = core.Float64(row["operation_value"])
		res.Items = append(res.Items, item)
	}
	return res, nil
}

func scalar(ctx context.Context, exec core.Executor, query string, args []any) (int64, error) {
	rows, err := exec.Query(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	n, _ := core.Int64(rows[0]["n"])
	return n, nil
}
