package join

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/gigapi/gigapi-geoanalytics/core"
	"github.com/gigapi/gigapi-geoanalytics/filter"
	"github.com/gigapi/gigapi-geoanalytics/geoparquet"
	"github.com/gigapi/gigapi-geoanalytics/querier"
)

const (
	targetRowID = "__target_rid"
	joinRowID   = "__join_rid"
	// JoinPrefix is prepended to join layer columns in OneToMany and FirstRecord output
	JoinPrefix = "join_"
	// MatchCount is the match count column of Statistics and CountOnly output
	MatchCount = "match_count"
)

// Engine runs joins on one executor. All statements of a join share it.
type Engine struct {
	exec   core.Executor
	writer *geoparquet.Writer
}

func New(exec core.Executor, writer *geoparquet.Writer) *Engine {
	return &Engine{exec: exec, writer: writer}
}

// plan holds the staged table names of one run
type plan struct {
	spec   *Spec
	target string
	join   string
}

// Run joins spec.Join onto spec.Target and writes the result to outputPath.
func (e *Engine) Run(ctx context.Context, spec Spec, outputPath string) (*geoparquet.Result, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	targetPred, err := filter.ForDataset(spec.Target.Filter, spec.Target.Dataset)
	if err != nil {
		return nil, fmt.Errorf("target filter: %w", err)
	}
	joinPred, err := filter.ForDataset(spec.Join.Filter, spec.Join.Dataset)
	if err != nil {
		return nil, fmt.Errorf("join filter: %w", err)
	}

	core.Infof(ctx, "join %s -> %s operation=%s type=%s policy=%s spatial=%t attribute=%t",
		spec.Join.Dataset.Table, spec.Target.Dataset.Table, spec.Operation, spec.JoinType,
		spec.MatchPolicy, spec.UseSpatial, spec.UseAttribute)

	p := &plan{spec: &spec, target: core.TempName("target"), join: core.TempName("join")}
	defer querier.DropTempTables(ctx, e.exec, p.target, p.join)

	if err := querier.CreateTempTable(ctx, e.exec, p.target, spec.Target.Dataset.Table, targetPred, targetRowID); err != nil {
		return nil, err
	}
	if err := querier.CreateTempTable(ctx, e.exec, p.join, spec.Join.Dataset.Table, joinPred, joinRowID); err != nil {
		return nil, err
	}

	res, err := e.writer.Write(ctx, p.query(), outputPath, geoparquet.Options{
		GeometryColumn: spec.Target.Dataset.GeometryColumn,
	})
	if err != nil {
		return nil, err
	}
	core.Infof(ctx, "join completed -> %s rows=%d", outputPath, res.Rows)
	return res, nil
}

// Query returns the SELECT producing the join result over staged tables
// named target and join. It is exposed for inspection and tests.
func Query(spec Spec, target, join string) (string, error) {
	if err := spec.Validate(); err != nil {
		return "", err
	}
	return (&plan{spec: &spec, target: target, join: join}).query(), nil
}

func (p *plan) query() string {
	if p.spec.Operation == OneToMany {
		return p.oneToMany()
	}
	switch p.spec.MatchPolicy {
	case FirstRecord:
		return p.firstRecord()
	case Statistics:
		return p.aggregated(true)
	}
	return p.aggregated(false)
}

// condition is the AND of the spatial and attribute conditions
func (p *plan) condition() string {
	s := p.spec
	var parts []string
	if s.UseSpatial {
		tg := "t." + core.QuoteIdent(s.Target.Dataset.GeometryColumn)
		jg := "j." + core.QuoteIdent(s.Join.Dataset.GeometryColumn)
		if s.SpatialRelationship == WithinDistance {
			meters := *s.Distance * unitMeters[s.unit()]
			parts = append(parts, fmt.Sprintf("ST_Distance(%s, %s) <= %s", tg, jg, strconv.FormatFloat(meters, 'g', -1, 64)))
		} else {
			parts = append(parts, fmt.Sprintf("%s(%s, %s)", spatialPredicates[s.SpatialRelationship], tg, jg))
		}
	}
	if s.UseAttribute {
		for _, pair := range s.AttributePairs {
			tc, _ := s.Target.Dataset.Column(pair.TargetField)
			jc, _ := s.Join.Dataset.Column(pair.JoinField)
			parts = append(parts, "t."+core.QuoteIdent(tc.Name)+" = j."+core.QuoteIdent(jc.Name))
		}
	}
	return strings.Join(parts, " AND ")
}

func (p *plan) from() string {
	kw := "INNER JOIN"
	if p.spec.JoinType == Left {
		kw = "LEFT JOIN"
	}
	return fmt.Sprintf("%s AS t %s %s AS j ON %s",
		core.QuoteIdent(p.target), kw, core.QuoteIdent(p.join), p.condition())
}

func (p *plan) targetColumns() string {
	return "t.* EXCLUDE (" + core.QuoteIdent(targetRowID) + ")"
}

// joinColumns selects every join layer column renamed with JoinPrefix
func (p *plan) joinColumns() string {
	cols := p.spec.Join.Dataset.Columns
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = "j." + core.QuoteIdent(c.Name) + " AS " + core.QuoteIdent(JoinPrefix+c.Name)
	}
	return strings.Join(out, ", ")
}

func (p *plan) oneToMany() string {
	return fmt.Sprintf("SELECT %s, %s FROM %s ORDER BY t.%s, j.%s",
		p.targetColumns(), p.joinColumns(), p.from(),
		core.QuoteIdent(targetRowID), core.QuoteIdent(joinRowID))
}

// firstRecord keeps the best ranked match per target row. Unmatched rows of a
// left join rank 1 in their own partition.
func (p *plan) firstRecord() string {
	order := "j." + core.QuoteIdent(joinRowID)
	if s := p.spec.Sort; s != nil {
		col, _ := p.spec.Join.Dataset.Column(s.Field)
		dir := "ASC"
		if s.Order == Descending {
			dir = "DESC"
		}
		order = "j." + core.QuoteIdent(col.Name) + " " + dir + " NULLS LAST, " + order
	}
	return fmt.Sprintf(`SELECT * EXCLUDE (__rn, __rid) FROM (
SELECT %s, %s, t.%s AS __rid,
ROW_NUMBER() OVER (PARTITION BY t.%s ORDER BY %s) AS __rn
FROM %s
) WHERE __rn = 1 ORDER BY __rid`,
		p.targetColumns(), p.joinColumns(), core.QuoteIdent(targetRowID),
		core.QuoteIdent(targetRowID), order, p.from())
}

// aggregated groups matches per target row, optionally with field statistics
func (p *plan) aggregated(withStats bool) string {
	aggs := []string{fmt.Sprintf("COUNT(j.%s) AS %s", core.QuoteIdent(joinRowID), MatchCount)}
	if withStats {
		for _, fs := range p.spec.FieldStatistics {
			if fs.Op == Count {
				continue
			}
			col, _ := p.spec.Join.Dataset.Column(fs.Field)
			aggs = append(aggs, fmt.Sprintf("%s(j.%s) AS %s",
				statFunctions[fs.Op], core.QuoteIdent(col.Name), core.QuoteIdent(StatColumn(col.Name, fs.Op))))
		}
	}
	rid := core.QuoteIdent(targetRowID)
	return fmt.Sprintf(`WITH agg AS (
SELECT t.%s AS __rid, %s FROM %s GROUP BY t.%s
)
SELECT %s, agg.* EXCLUDE (__rid) FROM %s AS t JOIN agg ON agg.__rid = t.%s ORDER BY t.%s`,
		rid, strings.Join(aggs, ", "), p.from(), rid,
		p.targetColumns(), core.QuoteIdent(p.target), rid, rid)
}

// StatColumn names the output column of a field statistic
func StatColumn(field string, op StatOp) string {
	return field + "_" + string(op)
}
