package main

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/gigapi/gigapi-geoanalytics/core"
	"github.com/gigapi/gigapi-geoanalytics/cql2"
	"github.com/gigapi/gigapi-geoanalytics/filter"
	"github.com/gigapi/gigapi-geoanalytics/geoparquet"
	"github.com/gigapi/gigapi-geoanalytics/tools"
	"github.com/spf13/cobra"
)

func newJoinCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "join <job.yaml>",
		Short: "Join one layer onto another",
		Long: `Run a join job. The job file carries the join tool parameters:
user_id, target_layer_id, join_layer_id, the relationship flags and the
join operation.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runJob(cmd, "join", args[0])
		},
	}
}

func newAggregateCommand(a *app) *cobra.Command {
	var sourceKind string
	cmd := &cobra.Command{
		Use:   "aggregate <job.yaml>",
		Short: "Aggregate points or polygons onto polygons or an H3 grid",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var tool string
			switch sourceKind {
			case "point", "points":
				tool = "aggregate_points"
			case "polygon", "polygons":
				tool = "aggregate_polygon"
			default:
				return core.Configf("unknown source kind %q", sourceKind)
			}
			return a.runJob(cmd, tool, args[0])
		},
	}
	cmd.Flags().StringVar(&sourceKind, "source", "point", "geometry kind of the source layer (point|polygon)")
	return cmd
}

func newStatsCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stats <job.yaml>",
		Short: "Compute a statistic of a layer field, optionally grouped",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runJob(cmd, "aggregation_stats", args[0])
		},
	}
}

// sourceFilter compiles a CQL2-JSON expression against the columns of source
func sourceFilter(ctx context.Context, exec core.Executor, source, geometryColumn, expr string) (*filter.Predicate, error) {
	node, err := cql2.Unmarshal([]byte(expr))
	if err != nil {
		return nil, err
	}
	cols, err := geoparquet.DescribeColumns(ctx, exec, source)
	if err != nil {
		return nil, err
	}
	return filter.ForDataset(node, core.DatasetDescriptor{Columns: cols, GeometryColumn: geometryColumn})
}

func newWriteCommand(a *app) *cobra.Command {
	var (
		opts       geoparquet.Options
		filterExpr string
	)
	cmd := &cobra.Command{
		Use:   "write <source> <output.parquet>",
		Short: "Export a table or query to an optimized GeoParquet file",
		Long: `Export a table name, table function or SELECT statement. When a
geometry column is given the rows get a bbox column and are sorted along
a Hilbert curve before being written. --filter takes a CQL2-JSON
expression over the source columns.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := core.WithDefaultLogger(cmd.Context(), "write")
			defer a.release(ctx)
			session, err := a.open(ctx)
			if err != nil {
				return err
			}
			if filterExpr != "" {
				if opts.Filter, err = sourceFilter(ctx, session, args[0], opts.GeometryColumn, filterExpr); err != nil {
					return err
				}
			}
			res, err := a.writer(session).Write(ctx, args[0], args[1], opts)
			if err != nil {
				return err
			}
			return a.printResult(cmd.OutOrStdout(), &tools.Result{Output: res})
		},
	}
	cmd.Flags().StringVarP(&opts.GeometryColumn, "geometry", "g", "", "geometry column")
	cmd.Flags().IntVar(&opts.RowGroupSize, "row-group-size", 0, "rows per row group (configured default when 0)")
	cmd.Flags().StringVar(&opts.Compression, "compression", "", "compression codec (configured default when empty)")
	cmd.Flags().BoolVar(&opts.SkipBBox, "skip-bbox", false, "do not add the bbox column")
	cmd.Flags().BoolVar(&opts.SkipSort, "skip-sort", false, "do not sort rows spatially")
	cmd.Flags().StringVar(&filterExpr, "filter", "", "CQL2-JSON filter on the source rows")
	return cmd
}

func newVerifyCommand(a *app) *cobra.Command {
	var bbox string
	cmd := &cobra.Command{
		Use:   "verify <file.parquet>",
		Short: "Report the row group layout and spatial ordering of a parquet file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var query *core.BBox
			if bbox != "" {
				b, err := parseBBox(bbox)
				if err != nil {
					return err
				}
				query = &b
			}
			ctx := core.WithDefaultLogger(cmd.Context(), "verify")
			defer a.release(ctx)
			session, err := a.open(ctx)
			if err != nil {
				return err
			}
			v, err := geoparquet.Verify(ctx, session, a.fs, args[0], geoparquet.VerifyOptions{
				SampleSize:      a.cfg.Verify.SampleSize,
				SortedThreshold: a.cfg.Verify.SortedDistanceThreshold,
			})
			if err != nil {
				return err
			}
			core.Infof(ctx, "%s: %s", args[0], v)
			if query != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "%d of %d row groups prunable for %s\n",
					v.PrunableGroups(*query), v.RowGroupCount, query)
			}
			columns, rows := rowGroupRows(v)
			return a.print(cmd.OutOrStdout(), columns, rows)
		},
	}
	cmd.Flags().StringVar(&bbox, "bbox", "", "query extent xmin,ymin,xmax,ymax to count prunable row groups for")
	return cmd
}

// rowGroupRows renders one row per row group
func rowGroupRows(v *geoparquet.Verification) ([]string, []map[string]interface{}) {
	columns := []string{"row_group", "rows", "xmin", "ymin", "xmax", "ymax", "width", "height"}
	rows := make([]map[string]interface{}, len(v.RowGroups))
	for i, rg := range v.RowGroups {
		row := map[string]interface{}{"row_group": i, "rows": rg.Rows}
		if rg.HasStats {
			row["xmin"], row["ymin"] = rg.Extent.XMin, rg.Extent.YMin
			row["xmax"], row["ymax"] = rg.Extent.XMax, rg.Extent.YMax
			row["width"], row["height"] = rg.Width(), rg.Height()
		}
		rows[i] = row
	}
	if !math.IsNaN(v.AvgNeighborDistance) {
		columns = append(columns, "sorted")
		for _, row := range rows {
			row["sorted"] = v.IsSorted
		}
	}
	return columns, rows
}

func newToolsCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "List the registered tools",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// listing needs no engine
			registry := tools.Default(&tools.Env{})
			var rows []map[string]interface{}
			for _, t := range registry.List() {
				var layers []string
				for _, rule := range tools.LayerFields(t) {
					layers = append(layers, rule.IDField)
				}
				rows = append(rows, map[string]interface{}{
					"name":        t.Name(),
					"description": t.Description(),
					"layers":      strings.Join(layers, ", "),
				})
			}
			return a.print(cmd.OutOrStdout(), []string{"name", "layers", "description"}, rows)
		},
	}
}
