package tools

import (
	"context"
	"fmt"

	"github.com/gigapi/gigapi-geoanalytics/aggregate"
	"github.com/gigapi/gigapi-geoanalytics/core"
	"github.com/gigapi/gigapi-geoanalytics/cql2"
	"github.com/gigapi/gigapi-geoanalytics/filter"
	"github.com/gigapi/gigapi-geoanalytics/join"
)

// layer resolves a layer id and decodes its filter
func (e *Env) layer(ctx context.Context, userID, layerID string, f Filter, field string) (join.Input, error) {
	ds, err := e.Resolver.ResolveLayer(ctx, userID, layerID)
	if err != nil {
		return join.Input{}, fmt.Errorf("%s layer: %w", field, err)
	}
	var node filter.Node
	if f != nil {
		if node, err = cql2.Parse(f); err != nil {
			return join.Input{}, fmt.Errorf("%s filter: %w", field, err)
		}
	}
	return join.Input{Dataset: ds, Filter: node}, nil
}

type JoinTool struct {
	env *Env
}

func (*JoinTool) Name() string { return "join" }

func (*JoinTool) Description() string {
	return "Join attributes of one layer onto another by location or matching fields"
}

func (*JoinTool) PathFields() []string { return JoinParams{}.PathFields() }

func (t *JoinTool) Execute(ctx context.Context, params Params) (*Result, error) {
	var p JoinParams
	if err := params.Decode(&p); err != nil {
		return nil, fmt.Errorf("decoding join parameters: %w", err)
	}
	target, err := t.env.layer(ctx, p.UserID, p.TargetLayerID, p.TargetFilter, "target")
	if err != nil {
		return nil, err
	}
	joined, err := t.env.layer(ctx, p.UserID, p.JoinLayerID, p.JoinFilter, "join")
	if err != nil {
		return nil, err
	}
	out, err := t.env.outputPath(p.OutputLayerID)
	if err != nil {
		return nil, err
	}

	spec := join.Spec{
		Target:              target,
		Join:                joined,
		UseSpatial:          p.UseSpatialRelationship,
		SpatialRelationship: p.SpatialRelationship,
		Distance:            p.Distance,
		DistanceUnit:        p.DistanceUnits,
		UseAttribute:        p.UseAttributeRelationship,
		AttributePairs:      p.AttributeRelationships,
		Operation:           p.JoinOperation,
		JoinType:            p.JoinType,
		MatchPolicy:         p.MultipleMatchingRecords,
		FieldStatistics:     p.FieldStatistics,
		Sort:                p.SortConfiguration,
	}
	res, err := join.New(t.env.Exec, t.env.Writer).Run(ctx, spec, out)
	if err != nil {
		return nil, err
	}
	return &Result{Output: res}, nil
}

// AggregateTool aggregates one kind of source geometry
type AggregateTool struct {
	env        *Env
	name       string
	sourceKind aggregate.GeometryKind
}

func (t *AggregateTool) Name() string { return t.name }

func (t *AggregateTool) Description() string {
	return fmt.Sprintf("Aggregate %s features onto polygons or an H3 grid", t.sourceKind)
}

func (t *AggregateTool) PathFields() []string { return AggregatePointsParams{}.PathFields() }

func (t *AggregateTool) Execute(ctx context.Context, params Params) (*Result, error) {
	var p AggregatePolygonParams
	if err := params.Decode(&p); err != nil {
		return nil, fmt.Errorf("decoding %s parameters: %w", t.name, err)
	}
	if t.sourceKind != aggregate.PolygonKind && p.WeightedByIntersectingArea {
		return nil, core.Configf("%s does not support weighted_by_intersecting_area", t.name)
	}

	source, err := t.env.layer(ctx, p.UserID, p.SourceLayerID, p.SourceFilter, "source")
	if err != nil {
		return nil, err
	}
	spec := aggregate.Spec{
		Source:         aggregate.Input(source),
		Statistic:      p.ColumnStatistics,
		GroupBy:        p.GroupByField,
		WeightedByArea: p.WeightedByIntersectingArea,
		SourceKind:     t.sourceKind,
	}

	switch p.AreaType {
	case aggregate.PolygonTarget:
		if p.H3Resolution != nil {
			return nil, core.Configf("h3_resolution must not be set for area_type %s", p.AreaType)
		}
		area, err := t.env.layer(ctx, p.UserID, p.AreaLayerID, p.AreaFilter, "area")
		if err != nil {
			return nil, err
		}
		spec.Target = aggregate.Polygon(aggregate.Input(area))
	case aggregate.GridTarget:
		if p.H3Resolution == nil {
			return nil, core.Configf("h3_resolution is required for area_type %s", p.AreaType)
		}
		if err := t.env.requireExtension("h3", "area_type "+string(p.AreaType)); err != nil {
			return nil, err
		}
		spec.Target = aggregate.Grid(*p.H3Resolution)
	default:
		return nil, core.Configf("unknown area_type %q", p.AreaType)
	}

	out, err := t.env.outputPath(p.OutputLayerID)
	if err != nil {
		return nil, err
	}
	res, err := aggregate.New(t.env.Exec, t.env.Writer).Run(ctx, spec, out)
	if err != nil {
		return nil, err
	}
	return &Result{Output: res}, nil
}

type StatsTool struct {
	env *Env
}

func (*StatsTool) Name() string { return "aggregation_stats" }

func (*StatsTool) Description() string {
	return "Compute count, sum, mean, min or max of a field, optionally grouped"
}

func (*StatsTool) PathFields() []string { return StatsParams{}.PathFields() }

func (t *StatsTool) Execute(ctx context.Context, params Params) (*Result, error) {
	var p StatsParams
	if err := params.Decode(&p); err != nil {
		return nil, fmt.Errorf("decoding stats parameters: %w", err)
	}
	in, err := t.env.layer(ctx, p.UserID, p.InputLayerID, p.InputFilter, "input")
	if err != nil {
		return nil, err
	}
	res, err := aggregate.CalculateStats(ctx, t.env.Exec, aggregate.StatsRequest{
		Dataset: in.Dataset,
		Filter:  in.Filter,
		Op:      p.Operation,
		Field:   p.OperationColumn,
		GroupBy: p.GroupByColumn,
		Order:   p.Order,
		Limit:   p.Limit,
	})
	if err != nil {
		return nil, err
	}
	return &Result{Stats: res}, nil
}
