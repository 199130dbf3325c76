// Package join implements spatial and attribute joins between two datasets.
package join

import (
	"math"

	"github.com/gigapi/gigapi-geoanalytics/core"
	"github.com/gigapi/gigapi-geoanalytics/filter"
)

type Operation string

const (
	OneToOne  Operation = "one_to_one"
	OneToMany Operation = "one_to_many"
)

type Type string

const (
	Inner Type = "inner"
	Left  Type = "left"
)

// MatchPolicy resolves several join matches for one target row in OneToOne joins
type MatchPolicy string

const (
	FirstRecord MatchPolicy = "first_record"
	Statistics  MatchPolicy = "calculate_statistics"
	CountOnly   MatchPolicy = "count_only"
)

type SpatialRelationship string

const (
	Intersects         SpatialRelationship = "intersects"
	WithinDistance     SpatialRelationship = "within_distance"
	IdenticalTo        SpatialRelationship = "identical_to"
	CompletelyContains SpatialRelationship = "completely_contains"
	CompletelyWithin   SpatialRelationship = "completely_within"
)

var spatialPredicates = map[SpatialRelationship]string{
	Intersects:         "ST_Intersects",
	IdenticalTo:        "ST_Equals",
	CompletelyContains: "ST_Contains",
	CompletelyWithin:   "ST_Within",
}

type DistanceUnit string

const (
	Meters        DistanceUnit = "meters"
	Kilometers    DistanceUnit = "kilometers"
	Feet          DistanceUnit = "feet"
	Miles         DistanceUnit = "miles"
	NauticalMiles DistanceUnit = "nautical_miles"
	Yards         DistanceUnit = "yards"
)

// unitMeters converts a distance unit to meters
var unitMeters = map[DistanceUnit]float64{
	Meters:        1,
	Kilometers:    1000,
	Feet:          0.3048,
	Miles:         1609.344,
	NauticalMiles: 1852,
	Yards:         0.9144,
}

type StatOp string

const (
	Count             StatOp = "count"
	Sum               StatOp = "sum"
	Min               StatOp = "min"
	Max               StatOp = "max"
	Mean              StatOp = "mean"
	StandardDeviation StatOp = "standard_deviation"
)

var statFunctions = map[StatOp]string{
	Sum:               "SUM",
	Min:               "MIN",
	Max:               "MAX",
	Mean:              "AVG",
	StandardDeviation: "STDDEV_SAMP",
}

type SortOrder string

const (
	Ascending  SortOrder = "ascending"
	Descending SortOrder = "descending"
)

type AttributePair struct {
	TargetField string `json:"target_field" yaml:"target_field"`
	JoinField   string `json:"join_field" yaml:"join_field"`
}

type FieldStatistic struct {
	Field string `json:"field" yaml:"field"`
	Op    StatOp `json:"operation" yaml:"operation"`
}

type SortField struct {
	Field string    `json:"field" yaml:"field"`
	Order SortOrder `json:"sort_order" yaml:"sort_order"`
}

// Input is a dataset restricted by an optional filter
type Input struct {
	Dataset core.DatasetDescriptor
	Filter  filter.Node
}

type Spec struct {
	Target Input
	Join   Input

	UseSpatial          bool
	SpatialRelationship SpatialRelationship
	// Distance is required for WithinDistance, in DistanceUnit (meters when empty)
	Distance     *float64
	DistanceUnit DistanceUnit

	UseAttribute   bool
	AttributePairs []AttributePair

	Operation       Operation
	JoinType        Type
	MatchPolicy     MatchPolicy
	FieldStatistics []FieldStatistic
	Sort            *SortField
}

// Validate checks the spec against both datasets. It never touches the engine.
func (s *Spec) Validate() error {
	if !s.UseSpatial && !s.UseAttribute {
		return core.Configf("at least one of spatial or attribute relationship is required")
	}

	switch s.Operation {
	case OneToOne, OneToMany:
	default:
		return core.Configf("unknown join operation %q", s.Operation)
	}
	switch s.JoinType {
	case Inner, Left:
	default:
		return core.Configf("unknown join type %q", s.JoinType)
	}

	if s.UseSpatial {
		if !s.Target.Dataset.HasGeometry() {
			return core.Configf("spatial join requires a geometry column on the target layer")
		}
		if !s.Join.Dataset.HasGeometry() {
			return core.Configf("spatial join requires a geometry column on the join layer")
		}
		if s.SpatialRelationship == WithinDistance {
			if s.Distance == nil {
				return core.Configf("distance is required for %s", WithinDistance)
			}
			if d := *s.Distance; d < 0 || math.IsNaN(d) || math.IsInf(d, 0) {
				return core.Configf("invalid distance %v", d)
			}
			if _, ok := unitMeters[s.unit()]; !ok {
				return core.Configf("unknown distance unit %q", s.DistanceUnit)
			}
		} else if _, ok := spatialPredicates[s.SpatialRelationship]; !ok {
			return core.Configf("unknown spatial relationship %q", s.SpatialRelationship)
		}
	}

	if s.UseAttribute {
		if len(s.AttributePairs) == 0 {
			return core.Configf("attribute relationship requires at least one field pair")
		}
		for _, p := range s.AttributePairs {
			if _, ok := s.Target.Dataset.Column(p.TargetField); !ok {
				return core.Configf("unknown target field %q", p.TargetField)
			}
			if _, ok := s.Join.Dataset.Column(p.JoinField); !ok {
				return core.Configf("unknown join field %q", p.JoinField)
			}
		}
	}

	if s.Operation == OneToOne {
		switch s.MatchPolicy {
		case FirstRecord:
			if s.Sort != nil {
				if _, ok := s.Join.Dataset.Column(s.Sort.Field); !ok {
					return core.Configf("unknown sort field %q", s.Sort.Field)
				}
				if s.Sort.Order != "" && s.Sort.Order != Ascending && s.Sort.Order != Descending {
					return core.Configf("unknown sort order %q", s.Sort.Order)
				}
			}
		case Statistics:
			if len(s.FieldStatistics) == 0 {
				return core.Configf("%s requires at least one field statistic", Statistics)
			}
			for _, fs := range s.FieldStatistics {
				if fs.Op == Count {
					continue
				}
				if _, ok := statFunctions[fs.Op]; !ok {
					return core.Configf("unknown statistic %q", fs.Op)
				}
				if _, ok := s.Join.Dataset.Column(fs.Field); !ok {
					return core.Configf("unknown statistic field %q", fs.Field)
				}
			}
		case CountOnly:
		default:
			return core.Configf("unknown multiple match policy %q", s.MatchPolicy)
		}
	}
	return nil
}

func (s *Spec) unit() DistanceUnit {
	if s.DistanceUnit == "" {
		return Meters
	}
	return s.DistanceUnit
}
