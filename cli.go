package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/gigapi/gigapi-geoanalytics/config"
	"github.com/gigapi/gigapi-geoanalytics/core"
	"github.com/gigapi/gigapi-geoanalytics/geoparquet"
	"github.com/gigapi/gigapi-geoanalytics/querier"
	"github.com/gigapi/gigapi-geoanalytics/tools"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// app holds what every sub-command shares: flags, configuration and, once
// opened, the engine.
type app struct {
	configPath string
	format     string
	initSQL    string

	fs  afero.Fs
	cfg *config.Config

	client  *querier.QueryClient
	session *querier.Session
}

func newRootCommand() *cobra.Command {
	a := &app{fs: afero.NewOsFs()}

	cmd := &cobra.Command{
		Use:           "geoanalytics",
		Short:         "Spatial joins, aggregations and GeoParquet exports on DuckDB",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
	}

	cmd.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "configuration file")
	cmd.PersistentFlags().StringVar(&a.format, "format", "table", "output format (json|ndjson|table|arrow)")
	cmd.PersistentFlags().StringVar(&a.initSQL, "init", "", "SQL script run on the session before the command")

	cmd.AddCommand(
		newJoinCommand(a),
		newAggregateCommand(a),
		newStatsCommand(a),
		newWriteCommand(a),
		newVerifyCommand(a),
		newToolsCommand(a),
	)
	return cmd
}

func (a *app) setup() error {
	if _, err := querier.GetFormatter(a.format); err != nil {
		return err
	}
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	a.cfg = cfg
	return core.InitLogger(cfg.Log.Level, cfg.Log.Development)
}

// open starts the engine and pins the session every statement of the
// command runs on
func (a *app) open(ctx context.Context) (*querier.Session, error) {
	if a.session != nil {
		return a.session, nil
	}
	a.client = querier.NewQueryClient(a.cfg.Engine)
	if err := a.client.Initialize(ctx); err != nil {
		return nil, err
	}
	session, err := a.client.Session(ctx)
	if err != nil {
		return nil, err
	}
	a.session = session

	if a.initSQL != "" {
		script, err := afero.ReadFile(a.fs, a.initSQL)
		if err != nil {
			return nil, fmt.Errorf("reading init script: %w", err)
		}
		core.Infof(ctx, "running init script %s", a.initSQL)
		if err := session.Exec(ctx, string(script)); err != nil {
			return nil, err
		}
	}
	return session, nil
}

func (a *app) close() error {
	var err error
	if a.session != nil {
		err = a.session.Close()
		a.session = nil
	}
	if a.client != nil {
		if cerr := a.client.Close(); err == nil {
			err = cerr
		}
		a.client = nil
	}
	return err
}

// release closes the engine; commands defer it before opening
func (a *app) release(ctx context.Context) {
	if err := a.close(); err != nil {
		core.Warnf(ctx, "closing engine: %v", err)
	}
}

func (a *app) writer(exec core.Executor) *geoparquet.Writer {
	return geoparquet.NewWriter(exec, a.fs, a.cfg.Writer.RowGroupSize, a.cfg.Writer.Compression)
}

// registry builds the tool registry over an open session
func (a *app) registry(ctx context.Context) (*tools.Registry, error) {
	session, err := a.open(ctx)
	if err != nil {
		return nil, err
	}
	return tools.Default(&tools.Env{
		Exec:       session,
		Writer:     a.writer(session),
		Resolver:   querier.NewCatalog(session),
		Extensions: a.client,
		OutputDir:  a.cfg.Output.Root,
	}), nil
}

// readJob loads a YAML job file
func readJob(fs afero.Fs, path string) (*yaml.Node, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("reading job %s: %w", path, err)
	}
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, fmt.Errorf("parsing job %s: %w", path, err)
	}
	if node.Kind == 0 {
		return nil, core.Configf("job %s is empty", path)
	}
	return &node, nil
}

// runJob executes the named tool on a job file and prints its result
func (a *app) runJob(cmd *cobra.Command, tool, path string) error {
	job, err := readJob(a.fs, path)
	if err != nil {
		return err
	}
	ctx := core.WithDefaultLogger(cmd.Context(), tool)
	defer a.release(ctx)
	registry, err := a.registry(ctx)
	if err != nil {
		return err
	}
	res, err := registry.Execute(ctx, tool, job)
	if err != nil {
		return err
	}
	return a.printResult(cmd.OutOrStdout(), res)
}

// printResult prints a tool result. Statistics leave as their own Arrow
// record when the arrow format is selected.
func (a *app) printResult(w io.Writer, res *tools.Result) error {
	if a.format == "arrow" && res.Stats != nil {
		rec, err := res.Stats.Record()
		if err != nil {
			return err
		}
		defer rec.Release()
		return querier.WriteRecords(w, rec)
	}
	columns, rows := resultRows(res)
	return a.print(w, columns, rows)
}

// resultRows flattens a tool result for the formatters
func resultRows(res *tools.Result) ([]string, []map[string]interface{}) {
	if res.Stats != nil {
		rows := make([]map[string]interface{}, len(res.Stats.Items))
		for i, item := range res.Stats.Items {
			var group interface{}
			if item.GroupedValue != nil {
				group = *item.GroupedValue
			}
			rows[i] = map[string]interface{}{
				"grouped_value":   group,
				"operation_value": item.OperationValue,
				"total_items":     res.Stats.TotalItems,
				"total_count":     res.Stats.TotalCount,
			}
		}
		return []string{"grouped_value", "operation_value", "total_items", "total_count"}, rows
	}
	if res.Output == nil {
		return nil, nil
	}
	out := res.Output
	row := map[string]interface{}{
		"path":          out.Path,
		"rows":          out.Rows,
		"spatial":       out.Spatial,
		"geometry_type": out.GeometryType,
		"extent":        nil,
	}
	if out.Extent != nil {
		row["extent"] = out.Extent.String()
	}
	return []string{"path", "rows", "spatial", "geometry_type", "extent"}, []map[string]interface{}{row}
}

func (a *app) print(w io.Writer, columns []string, rows []map[string]interface{}) error {
	f, err := querier.GetFormatter(a.format)
	if err != nil {
		return err
	}
	return f(w, columns, rows)
}

// parseBBox reads "xmin,ymin,xmax,ymax"
func parseBBox(s string) (core.BBox, error) {
	var b core.BBox
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return b, core.Configf("bbox %q must have four comma separated numbers", s)
	}
	dst := []*float64{&b.XMin, &b.YMin, &b.XMax, &b.YMax}
	for i, p := range parts {
		if _, err := fmt.Sscan(strings.TrimSpace(p), dst[i]); err != nil {
			return b, core.Configf("bbox %q: %v", s, err)
		}
	}
	if b.XMin > b.XMax || b.YMin > b.YMax {
		return b, core.Configf("bbox %q has min above max", s)
	}
	return b, nil
}
