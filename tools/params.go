package tools

import (
	"github.com/gigapi/gigapi-geoanalytics/aggregate"
	"github.com/gigapi/gigapi-geoanalytics/join"
)

// Filter is a CQL2-JSON expression as decoded from JSON or YAML
type Filter = map[string]interface{}

// JoinParams are the layer-form parameters of the join tool
type JoinParams struct {
	UserID string `json:"user_id" yaml:"user_id"`

	TargetLayerID string `json:"target_layer_id" yaml:"target_layer_id"`
	TargetFilter  Filter `json:"target_filter,omitempty" yaml:"target_filter,omitempty"`
	JoinLayerID   string `json:"join_layer_id" yaml:"join_layer_id"`
	JoinFilter    Filter `json:"join_filter,omitempty" yaml:"join_filter,omitempty"`
	OutputLayerID string `json:"output_layer_id,omitempty" yaml:"output_layer_id,omitempty"`

	UseSpatialRelationship bool                     `json:"use_spatial_relationship" yaml:"use_spatial_relationship"`
	SpatialRelationship    join.SpatialRelationship `json:"spatial_relationship,omitempty" yaml:"spatial_relationship,omitempty"`
	Distance               *float64                 `json:"distance,omitempty" yaml:"distance,omitempty"`
	DistanceUnits          join.DistanceUnit        `json:"distance_units,omitempty" yaml:"distance_units,omitempty"`

	UseAttributeRelationship bool                 `json:"use_attribute_relationship" yaml:"use_attribute_relationship"`
	AttributeRelationships   []join.AttributePair `json:"attribute_relationships,omitempty" yaml:"attribute_relationships,omitempty"`

	JoinOperation           join.Operation        `json:"join_operation" yaml:"join_operation"`
	JoinType                join.Type             `json:"join_type" yaml:"join_type"`
	MultipleMatchingRecords join.MatchPolicy      `json:"multiple_matching_records,omitempty" yaml:"multiple_matching_records,omitempty"`
	FieldStatistics         []join.FieldStatistic `json:"field_statistics,omitempty" yaml:"field_statistics,omitempty"`
	SortConfiguration       *join.SortField       `json:"sort_configuration,omitempty" yaml:"sort_configuration,omitempty"`
}

func (JoinParams) PathFields() []string {
	return []string{"target_path", "join_path", "output_path"}
}

// AggregatePointsParams are the layer-form parameters of the point aggregation tool
type AggregatePointsParams struct {
	UserID string `json:"user_id" yaml:"user_id"`

	SourceLayerID string `json:"source_layer_id" yaml:"source_layer_id"`
	SourceFilter  Filter `json:"source_filter,omitempty" yaml:"source_filter,omitempty"`
	AreaLayerID   string `json:"area_layer_id,omitempty" yaml:"area_layer_id,omitempty"`
	AreaFilter    Filter `json:"area_filter,omitempty" yaml:"area_filter,omitempty"`
	OutputLayerID string `json:"output_layer_id,omitempty" yaml:"output_layer_id,omitempty"`

	AreaType         aggregate.TargetKind `json:"area_type" yaml:"area_type"`
	H3Resolution     *int                 `json:"h3_resolution,omitempty" yaml:"h3_resolution,omitempty"`
	ColumnStatistics aggregate.Statistic  `json:"column_statistics" yaml:"column_statistics"`
	GroupByField     []string             `json:"group_by_field,omitempty" yaml:"group_by_field,omitempty"`
}

func (AggregatePointsParams) PathFields() []string {
	return []string{"source_path", "area_path", "output_path"}
}

// AggregatePolygonParams are the layer-form parameters of the polygon aggregation tool
type AggregatePolygonParams struct {
	AggregatePointsParams `yaml:",inline"`

	WeightedByIntersectingArea bool `json:"weighted_by_intersecting_area" yaml:"weighted_by_intersecting_area"`
}

// StatsParams are the parameters of the attribute statistics tool
type StatsParams struct {
	UserID string `json:"user_id" yaml:"user_id"`

	InputLayerID string `json:"input_layer_id" yaml:"input_layer_id"`
	InputFilter  Filter `json:"input_filter,omitempty" yaml:"input_filter,omitempty"`

	Operation       aggregate.Op        `json:"operation" yaml:"operation"`
	OperationColumn string              `json:"operation_column,omitempty" yaml:"operation_column,omitempty"`
	GroupByColumn   string              `json:"group_by_column,omitempty" yaml:"group_by_column,omitempty"`
	Order           aggregate.SortOrder `json:"order,omitempty" yaml:"order,omitempty"`
	Limit           int                 `json:"limit,omitempty" yaml:"limit,omitempty"`
}

func (StatsParams) PathFields() []string {
	return []string{"input_path"}
}
