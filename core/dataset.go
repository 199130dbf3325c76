package core

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Column describes one column of a dataset
type Column struct {
	Name string `json:"name" yaml:"name"`
	Type string `json:"type" yaml:"type"`
}

// DatasetDescriptor identifies a physical table and its schema.
// It is built per operation and never cached by the engines.
type DatasetDescriptor struct {
	Table          string   `json:"table" yaml:"table"`
	GeometryColumn string   `json:"geometry_column,omitempty" yaml:"geometry_column,omitempty"`
	Columns        []Column `json:"columns" yaml:"columns"`
}

// HasGeometry reports whether the dataset declares a geometry column
func (d DatasetDescriptor) HasGeometry() bool {
	return d.GeometryColumn != ""
}

// ColumnNames returns the column names in declaration order
func (d DatasetDescriptor) ColumnNames() []string {
	names := make([]string, len(d.Columns))
	for i, c := range d.Columns {
		names[i] = c.Name
	}
	return names
}

// Column looks a column up case-insensitively
func (d DatasetDescriptor) Column(name string) (Column, bool) {
	for _, c := range d.Columns {
		if strings.EqualFold(c.Name, name) {
			return c, true
		}
	}
	return Column{}, false
}

// BBox is an axis-aligned extent
type BBox struct {
	XMin float64 `json:"xmin" yaml:"xmin"`
	YMin float64 `json:"ymin" yaml:"ymin"`
	XMax float64 `json:"xmax" yaml:"xmax"`
	YMax float64 `json:"ymax" yaml:"ymax"`
}

func (b BBox) String() string {
	return fmt.Sprintf("%g,%g,%g,%g", b.XMin, b.YMin, b.XMax, b.YMax)
}

// QuoteIdent quotes a SQL identifier
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// QuoteLiteral quotes a SQL string literal
func QuoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// SchemaName returns the per-tenant schema for a user id
func SchemaName(userID uuid.UUID) string {
	return "user_" + strings.ReplaceAll(userID.String(), "-", "")
}

// TableName returns the per-layer table name for a layer id
func TableName(layerID uuid.UUID) string {
	return "t_" + strings.ReplaceAll(layerID.String(), "-", "")
}

// TempName returns a connection-unique name for a temporary table
func TempName(prefix string) string {
	return fmt.Sprintf("__%s_%s", prefix, strings.ReplaceAll(uuid.NewString(), "-", "")[:12])
}
