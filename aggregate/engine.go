package aggregate

import (
	"context"
	"fmt"
	"strings"

	"github.com/gigapi/gigapi-geoanalytics/core"
	"github.com/gigapi/gigapi-geoanalytics/filter"
	"github.com/gigapi/gigapi-geoanalytics/geoparquet"
	"github.com/gigapi/gigapi-geoanalytics/querier"
)

const (
	areaID = "__area_id"
	// GeometryColumn is the output geometry column of every aggregation
	GeometryColumn = "geometry"
	// GroupedSuffix is appended to the statistic column of the grouped breakdown
	GroupedSuffix = "_grouped"
)

// GeometryKind is the family of geometries in a layer
type GeometryKind string

const (
	NoGeometry    GeometryKind = ""
	PointKind     GeometryKind = "point"
	PolygonKind   GeometryKind = "polygon"
	LineKind      GeometryKind = "line"
	MixedGeometry GeometryKind = "mixed"
)

var geometryKinds = map[string]GeometryKind{
	"POINT":           PointKind,
	"MULTIPOINT":      PointKind,
	"POLYGON":         PolygonKind,
	"MULTIPOLYGON":    PolygonKind,
	"LINESTRING":      LineKind,
	"MULTILINESTRING": LineKind,
}

// Engine runs aggregations on one executor
type Engine struct {
	exec   core.Executor
	writer *geoparquet.Writer
}

func New(exec core.Executor, writer *geoparquet.Writer) *Engine {
	return &Engine{exec: exec, writer: writer}
}

// plan holds the staged table names and resolved options of one run
type plan struct {
	spec     *Spec
	source   string
	area     string
	weighted bool
}

// Run aggregates spec.Source onto spec.Target and writes the result to outputPath.
func (e *Engine) Run(ctx context.Context, spec Spec, outputPath string) (*geoparquet.Result, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	sourcePred, err := filter.ForDataset(spec.Source.Filter, spec.Source.Dataset)
	if err != nil {
		return nil, fmt.Errorf("source filter: %w", err)
	}
	var areaPred *filter.Predicate
	if spec.Target.Kind == PolygonTarget {
		if areaPred, err = filter.ForDataset(spec.Target.Area.Filter, spec.Target.Area.Dataset); err != nil {
			return nil, fmt.Errorf("area filter: %w", err)
		}
	}

	p := &plan{spec: &spec, source: core.TempName("source")}
	if spec.Target.Kind == PolygonTarget {
		p.area = core.TempName("area")
	}
	defer querier.DropTempTables(ctx, e.exec, p.source, p.area)

	if err := querier.CreateTempTable(ctx, e.exec, p.source, spec.Source.Dataset.Table, sourcePred, ""); err != nil {
		return nil, err
	}
	sourceKind, err := LayerGeometryKind(ctx, e.exec, p.source, spec.Source.Dataset.GeometryColumn)
	if err != nil {
		return nil, err
	}
	if sourceKind != NoGeometry && sourceKind != PointKind && sourceKind != PolygonKind {
		return nil, core.Configf("source layer must contain only points or only polygons, found %s", sourceKind)
	}
	if spec.SourceKind != NoGeometry && sourceKind != NoGeometry && sourceKind != spec.SourceKind {
		return nil, core.Configf("source layer must contain %s geometries, found %s", spec.SourceKind, sourceKind)
	}

	if p.area != "" {
		if err := querier.CreateTempTable(ctx, e.exec, p.area, spec.Target.Area.Dataset.Table, areaPred, areaID); err != nil {
			return nil, err
		}
		areaKind, err := LayerGeometryKind(ctx, e.exec, p.area, spec.Target.Area.Dataset.GeometryColumn)
		if err != nil {
			return nil, err
		}
		if areaKind != NoGeometry && areaKind != PolygonKind {
			return nil, core.Configf("area layer must contain only polygons, found %s", areaKind)
		}
	}

	if spec.WeightedByArea {
		switch {
		case spec.Target.Kind == GridTarget:
			core.Warnf(ctx, "area weighting is ignored for grid aggregation")
		case sourceKind != PolygonKind:
			core.Warnf(ctx, "area weighting is ignored for %s sources", sourceKind)
		default:
			p.weighted = true
		}
	}

	core.Infof(ctx, "aggregate %s -> %s statistic=%s group_by=%v weighted=%t",
		spec.Source.Dataset.Table, p.targetName(), spec.Statistic.Op, spec.GroupBy, p.weighted)

	res, err := e.writer.Write(ctx, p.query(), outputPath, geoparquet.Options{GeometryColumn: GeometryColumn})
	if err != nil {
		return nil, err
	}
	core.Infof(ctx, "aggregation completed -> %s rows=%d", outputPath, res.Rows)
	return res, nil
}

// Query returns the SELECT producing the aggregation over staged tables named
// source and area. area must carry the area id column and is ignored for grids.
func Query(spec Spec, source, area string, weighted bool) (string, error) {
	if err := spec.Validate(); err != nil {
		return "", err
	}
	return (&plan{spec: &spec, source: source, area: area, weighted: weighted}).query(), nil
}

// LayerGeometryKind classifies the non-null geometries of a table
func LayerGeometryKind(ctx context.Context, exec core.Executor, table, geometryColumn string) (GeometryKind, error) {
	g := core.QuoteIdent(geometryColumn)
	rows, err := exec.Query(ctx, fmt.Sprintf(
		"SELECT DISTINCT CAST(ST_GeometryType(%s) AS VARCHAR) AS geometry_type FROM %s WHERE %s IS NOT NULL",
		g, core.QuoteIdent(table), g))
	if err != nil {
		return NoGeometry, err
	}
	kind := NoGeometry
	for _, row := range rows {
		name, _ := row["geometry_type"].(string)
		k, ok := geometryKinds[strings.ToUpper(name)]
		if !ok || (kind != NoGeometry && kind != k) {
			return MixedGeometry, nil
		}
		kind = k
	}
	return kind, nil
}

func (p *plan) targetName() string {
	if p.spec.Target.Kind == GridTarget {
		return fmt.Sprintf("h3 resolution %d", p.spec.Target.Resolution)
	}
	return p.spec.Target.Area.Dataset.Table
}

func (p *plan) query() string {
	if p.spec.Target.Kind == GridTarget {
		return p.grid()
	}
	return p.polygon()
}

func (p *plan) resultColumn() string {
	st := p.spec.Statistic
	if col, ok := p.spec.Source.Dataset.Column(st.Field); ok {
		st.Field = col.Name
	}
	return st.Column()
}

// statistic is the aggregate expression over source rows aliased s. ratio is
// the area weight expression, empty when unweighted.
func (p *plan) statistic(ratio string) string {
	st := p.spec.Statistic
	value := ""
	if col, ok := p.spec.Source.Dataset.Column(st.Field); ok {
		value = "s." + core.QuoteIdent(col.Name)
	}
	if ratio == "" {
		if st.Op == Count {
			if value == "" {
				return "COUNT(*)"
			}
			return "COUNT(" + value + ")"
		}
		return sqlFunctions[st.Op] + "(" + value + ")"
	}
	switch st.Op {
	case Count:
		if value == "" {
			return "SUM(" + ratio + ")"
		}
		return fmt.Sprintf("SUM(CASE WHEN %s IS NOT NULL THEN %s END)", value, ratio)
	case Sum:
		return fmt.Sprintf("SUM(%s * %s)", value, ratio)
	case Mean:
		return fmt.Sprintf("SUM(%s * %s) / NULLIF(SUM(CASE WHEN %s IS NOT NULL THEN %s END), 0)", value, ratio, value, ratio)
	}
	return sqlFunctions[st.Op] + "(" + value + ")"
}

// ratio is the share of each source polygon's area inside the area polygon
func (p *plan) ratio() string {
	if !p.weighted {
		return ""
	}
	ag := "a." + core.QuoteIdent(p.spec.Target.Area.Dataset.GeometryColumn)
	sg := "s." + core.QuoteIdent(p.spec.Source.Dataset.GeometryColumn)
	return fmt.Sprintf("ST_Area(ST_Intersection(%s, %s)) / NULLIF(ST_Area(%s), 0)", ag, sg, sg)
}

// groupKey concatenates the group by fields into the breakdown key
func (p *plan) groupKey() (key string, cols []string) {
	parts := make([]string, len(p.spec.GroupBy))
	cols = make([]string, len(p.spec.GroupBy))
	for i, f := range p.spec.GroupBy {
		col, _ := p.spec.Source.Dataset.Column(f)
		cols[i] = "s." + core.QuoteIdent(col.Name)
		parts[i] = fmt.Sprintf("COALESCE(CAST(%s AS VARCHAR), 'null')", cols[i])
	}
	return strings.Join(parts, " || '_' || "), cols
}

// areaColumns are the area attributes copied to the output, without the
// geometry, any stale bbox and names the output already uses
func (p *plan) areaColumns() []string {
	reserved := map[string]bool{}
	for _, name := range []string{
		GeometryColumn, geoparquet.BBoxColumn, areaID,
		p.resultColumn(), p.resultColumn() + GroupedSuffix,
		p.spec.Target.Area.Dataset.GeometryColumn,
	} {
		reserved[strings.ToLower(name)] = true
	}
	var out []string
	for _, c := range p.spec.Target.Area.Dataset.Columns {
		if reserved[strings.ToLower(c.Name)] {
			continue
		}
		out = append(out, "a."+core.QuoteIdent(c.Name))
	}
	return out
}

func (p *plan) polygon() string {
	area := core.QuoteIdent(p.area)
	source := core.QuoteIdent(p.source)
	id := "a." + core.QuoteIdent(areaID)
	on := fmt.Sprintf("ST_Intersects(a.%s, s.%s)",
		core.QuoteIdent(p.spec.Target.Area.Dataset.GeometryColumn),
		core.QuoteIdent(p.spec.Source.Dataset.GeometryColumn))
	matches := fmt.Sprintf("%s AS a JOIN %s AS s ON %s", area, source, on)
	stat := p.statistic(p.ratio())
	result := core.QuoteIdent(p.resultColumn())

	var b strings.Builder
	fmt.Fprintf(&b, "WITH total AS (\nSELECT %s AS __key, %s AS __value FROM %s GROUP BY %s\n)", id, stat, matches, id)
	if len(p.spec.GroupBy) > 0 {
		key, cols := p.groupKey()
		fmt.Fprintf(&b, `, grouped AS (
SELECT __key, JSON_GROUP_OBJECT(__group, __value) AS __groups FROM (
SELECT %s AS __key, %s AS __group, %s AS __value FROM %s GROUP BY %s, %s
) GROUP BY __key
)`, id, key, stat, matches, id, strings.Join(cols, ", "))
	}

	selects := []string{fmt.Sprintf("a.%s AS %s",
		core.QuoteIdent(p.spec.Target.Area.Dataset.GeometryColumn), core.QuoteIdent(GeometryColumn))}
	selects = append(selects, p.areaColumns()...)
	selects = append(selects, "COALESCE(total.__value, 0) AS "+result)
	from := fmt.Sprintf("%s AS a LEFT JOIN total ON total.__key = %s", area, id)
	if len(p.spec.GroupBy) > 0 {
		selects = append(selects, "grouped.__groups AS "+core.QuoteIdent(p.resultColumn()+GroupedSuffix))
		from += " LEFT JOIN grouped ON grouped.__key = " + id
	}
	fmt.Fprintf(&b, "\nSELECT %s FROM %s ORDER BY %s", strings.Join(selects, ", "), from, id)
	return b.String()
}

// CellColumn names the H3 index column of a grid aggregation
func CellColumn(resolution int) string {
	return fmt.Sprintf("h3_%d", resolution)
}

func (p *plan) grid() string {
	g := "s." + core.QuoteIdent(p.spec.Source.Dataset.GeometryColumn)
	cell := fmt.Sprintf("h3_latlng_to_cell(ST_Y(ST_Centroid(%s)), ST_X(ST_Centroid(%s)), %d)", g, g, p.spec.Target.Resolution)
	stat := p.statistic("")
	result := core.QuoteIdent(p.resultColumn())

	var b strings.Builder
	fmt.Fprintf(&b, `WITH cells AS (
SELECT s.*, %s AS __cell FROM %s AS s WHERE %s IS NOT NULL
), total AS (
SELECT __cell AS __key, %s AS __value FROM cells AS s GROUP BY __cell
)`, cell, core.QuoteIdent(p.source), g, stat)
	if len(p.spec.GroupBy) > 0 {
		key, cols := p.groupKey()
		fmt.Fprintf(&b, `, grouped AS (
SELECT __key, JSON_GROUP_OBJECT(__group, __value) AS __groups FROM (
SELECT __cell AS __key, %s AS __group, %s AS __value FROM cells AS s GROUP BY __cell, %s
) GROUP BY __key
)`, key, stat, strings.Join(cols, ", "))
	}

	selects := []string{
		"ST_GeomFromText(h3_cell_to_boundary_wkt(total.__key)) AS " + core.QuoteIdent(GeometryColumn),
		"h3_h3_to_string(total.__key) AS " + core.QuoteIdent(CellColumn(p.spec.Target.Resolution)),
		"total.__value AS " + result,
	}
	from := "total"
	if len(p.spec.GroupBy) > 0 {
		selects = append(selects, "grouped.__groups AS "+core.QuoteIdent(p.resultColumn()+GroupedSuffix))
		from += " LEFT JOIN grouped ON grouped.__key = total.__key"
	}
	fmt.Fprintf(&b, "\nSELECT %s FROM %s ORDER BY total.__key", strings.Join(selects, ", "), from)
	return b.String()
}
