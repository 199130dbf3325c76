// Package geoparquet writes query results as parquet files optimized for
// spatial range queries.
//
// When the source has a populated geometry column every row gets a
// bbox struct {xmin, ymin, xmax, ymax} and rows are ordered along a Hilbert
// curve over the data extent, so row groups cover compact areas and their
// bbox statistics can be used for pruning. Readers must compare bbox fields
// against literal bounds for the statistics to apply:
//
//	SELECT * FROM read_parquet('out.parquet')
//	WHERE bbox.xmin <= 13.5 AND bbox.xmax >= 13.3
//	  AND bbox.ymin <= 52.6 AND bbox.ymax >= 52.4
package geoparquet

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gigapi/gigapi-geoanalytics/core"
	"github.com/gigapi/gigapi-geoanalytics/filter"
	"github.com/spf13/afero"
)

const (
	DefaultRowGroupSize = 75000
	DefaultCompression  = "ZSTD"
	BBoxColumn          = "bbox"
)

var compressions = map[string]bool{
	"UNCOMPRESSED": true,
	"SNAPPY":       true,
	"GZIP":         true,
	"ZSTD":         true,
	"LZ4":          true,
	"LZ4_RAW":      true,
	"BROTLI":       true,
}

// Options tune a single write. Zero values fall back to the writer defaults.
type Options struct {
	// GeometryColumn enables the spatial path when set and populated
	GeometryColumn string
	RowGroupSize   int
	Compression    string
	SkipBBox       bool
	SkipSort       bool
	// Filter restricts the source rows. COPY takes no bound parameters, so
	// its values are inlined.
	Filter *filter.Predicate
}

// Result describes a written file
type Result struct {
	Path    string `json:"path" yaml:"path"`
	Rows    int64  `json:"rows" yaml:"rows"`
	Spatial bool   `json:"spatial" yaml:"spatial"`
	// GeometryType is the common ST_GeometryType of the rows, "GEOMETRY" when mixed
	GeometryType string     `json:"geometry_type,omitempty" yaml:"geometry_type,omitempty"`
	Extent       *core.BBox `json:"extent,omitempty" yaml:"extent,omitempty"`
}

// Writer exports query results through COPY ... TO.
type Writer struct {
	exec         core.Executor
	fs           afero.Fs
	rowGroupSize int
	compression  string
}

// NewWriter returns a writer running statements on exec. fs must address the
// same files the engine writes, normally afero.NewOsFs().
func NewWriter(exec core.Executor, fs afero.Fs, rowGroupSize int, compression string) *Writer {
	if rowGroupSize <= 0 {
		rowGroupSize = DefaultRowGroupSize
	}
	if compression == "" {
		compression = DefaultCompression
	}
	return &Writer{exec: exec, fs: fs, rowGroupSize: rowGroupSize, compression: compression}
}

// NormalizeSource turns a table name or table function into a query
func NormalizeSource(source string) string {
	source = strings.TrimSpace(source)
	upper := strings.ToUpper(source)
	if strings.HasPrefix(upper, "SELECT") || strings.HasPrefix(upper, "WITH") || strings.HasPrefix(upper, "(") {
		return source
	}
	return "SELECT * FROM " + source
}

type probe struct {
	rows         int64
	extent       core.BBox
	geometryType string
}

// Write runs source and writes its rows to outputPath. The file must not exist yet.
func (w *Writer) Write(ctx context.Context, source, outputPath string, opts Options) (*Result, error) {
	rowGroupSize := opts.RowGroupSize
	if rowGroupSize <= 0 {
		rowGroupSize = w.rowGroupSize
	}
	compression := strings.ToUpper(opts.Compression)
	if compression == "" {
		compression = strings.ToUpper(w.compression)
	}
	if !compressions[compression] {
		return nil, core.Configf("unsupported compression %q", compression)
	}
	if err := w.prepareOutput(outputPath); err != nil {
		return nil, err
	}

	query := NormalizeSource(source)
	if opts.Filter != nil {
		where, err := opts.Filter.Inlined()
		if err != nil {
			return nil, fmt.Errorf("failed to inline filter: %w", err)
		}
		query = "SELECT * FROM (" + query + ") WHERE " + where
	}
	res := &Result{Path: outputPath}

	var p *probe
	if opts.GeometryColumn != "" {
		p = w.probe(ctx, query, opts.GeometryColumn)
	}
	if p != nil {
		res.Spatial = true
		res.GeometryType = p.geometryType
		extent := p.extent
		res.Extent = &extent
		query = w.optimizedQuery(ctx, query, opts.GeometryColumn, p.extent, opts)
	} else {
		core.Debugf(ctx, "no geometry in column %q, writing plain parquet", opts.GeometryColumn)
	}

	copySQL := fmt.Sprintf("COPY (%s) TO %s (FORMAT PARQUET, COMPRESSION %s, ROW_GROUP_SIZE %d, PARQUET_VERSION V2)",
		query, core.QuoteLiteral(outputPath), compression, rowGroupSize)
	if err := w.exec.Exec(ctx, copySQL); err != nil {
		return nil, err
	}

	rows, err := w.exec.Query(ctx, "SELECT COUNT(*) AS n FROM read_parquet("+core.QuoteLiteral(outputPath)+")")
	if err != nil {
		return nil, err
	}
	if len(rows) > 0 {
		res.Rows, _ = core.Int64(rows[0]["n"])
	}

	core.Infof(ctx, "wrote %s rows=%d spatial=%t bbox=%t hilbert=%t",
		outputPath, res.Rows, res.Spatial, res.Spatial && !opts.SkipBBox, res.Spatial && !opts.SkipSort)
	return res, nil
}

func (w *Writer) prepareOutput(path string) error {
	if path == "" {
		return core.Configf("output path is empty")
	}
	exists, err := afero.Exists(w.fs, path)
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if exists {
		return core.Configf("output %s already exists", path)
	}
	if err := w.fs.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	return nil
}

// probe returns nil when the geometry column is missing, empty or unreadable.
func (w *Writer) probe(ctx context.Context, query, geometryColumn string) *probe {
	g := core.QuoteIdent(geometryColumn)
	sql := fmt.Sprintf(`SELECT COUNT(%[1]s) AS n,
MIN(ST_XMin(%[1]s)) AS xmin, MIN(ST_YMin(%[1]s)) AS ymin,
MAX(ST_XMax(%[1]s)) AS xmax, MAX(ST_YMax(%[1]s)) AS ymax,
MIN(ST_GeometryType(%[1]s)::VARCHAR) AS type_min, MAX(ST_GeometryType(%[1]s)::VARCHAR) AS type_max
FROM (%[2]s) AS _src WHERE %[1]s IS NOT NULL`, g, query)

	rows, err := w.exec.Query(ctx, sql)
	if err != nil {
		core.Debugf(ctx, "geometry probe on %q failed: %v", geometryColumn, err)
		return nil
	}
	if len(rows) == 0 {
		return nil
	}
	row := rows[0]
	n, _ := core.Int64(row["n"])
	if n == 0 {
		return nil
	}

	p := &probe{rows: n}
	p.extent.XMin, _ = core.Float64(row["xmin"])
	p.extent.YMin, _ = core.Float64(row["ymin"])
	p.extent.XMax, _ = core.Float64(row["xmax"])
	p.extent.YMax, _ = core.Float64(row["ymax"])

	tmin, _ := row["type_min"].(string)
	tmax, _ := row["type_max"].(string)
	p.geometryType = tmin
	if tmin != tmax {
		p.geometryType = "GEOMETRY"
	}
	return p
}

func (w *Writer) optimizedQuery(ctx context.Context, query, geometryColumn string, extent core.BBox, opts Options) string {
	g := core.QuoteIdent(geometryColumn)

	selectList := "*"
	var bbox string
	if !opts.SkipBBox {
		if w.hasColumn(ctx, query, BBoxColumn) {
			selectList = "* EXCLUDE (" + core.QuoteIdent(BBoxColumn) + ")"
		}
		bbox = fmt.Sprintf(", {'xmin': ST_XMin(%[1]s), 'ymin': ST_YMin(%[1]s), 'xmax': ST_XMax(%[1]s), 'ymax': ST_YMax(%[1]s)} AS %[2]s",
			g, core.QuoteIdent(BBoxColumn))
	}

	sql := "SELECT " + selectList + bbox + " FROM (" + query + ") AS _src"
	if !opts.SkipSort {
		sql += " ORDER BY " + hilbertKey(g, extent)
	}
	return sql
}

// hilbertKey orders by the Hilbert index of each geometry's bbox center over
// the data extent. Rows without geometry sort last.
func hilbertKey(g string, extent core.BBox) string {
	e := widen(extent)
	return fmt.Sprintf("ST_Hilbert(%s, ST_Extent(ST_MakeEnvelope(%s, %s, %s, %s))) NULLS LAST",
		g, num(e.XMin), num(e.YMin), num(e.XMax), num(e.YMax))
}

// widen gives a degenerate extent a non-zero size
func widen(b core.BBox) core.BBox {
	if b.XMax <= b.XMin {
		b.XMin -= 0.5
		b.XMax += 0.5
	}
	if b.YMax <= b.YMin {
		b.YMin -= 0.5
		b.YMax += 0.5
	}
	return b
}

func num(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func (w *Writer) hasColumn(ctx context.Context, query, column string) bool {
	cols, err := DescribeColumns(ctx, w.exec, query)
	if err != nil {
		core.Debugf(ctx, "describe failed: %v", err)
		return false
	}
	for _, c := range cols {
		if strings.EqualFold(c.Name, column) {
			return true
		}
	}
	return false
}

// DescribeColumns returns the result columns of query without running it
func DescribeColumns(ctx context.Context, exec core.Executor, query string) ([]core.Column, error) {
	rows, err := exec.Query(ctx, "DESCRIBE "+NormalizeSource(query))
	if err != nil {
		return nil, err
	}
	cols := make([]core.Column, 0, len(rows))
	for _, row := range rows {
		cols = append(cols, core.Column{Name: fmt.Sprint(row["column_name"]), Type: fmt.Sprint(row["column_type"])})
	}
	return cols, nil
}
