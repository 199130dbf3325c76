// Package tools exposes the analytical operations behind one uniform
// interface, registered once at startup.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gigapi/gigapi-geoanalytics/aggregate"
	"github.com/gigapi/gigapi-geoanalytics/core"
	"github.com/gigapi/gigapi-geoanalytics/geoparquet"
	"github.com/google/uuid"
)

// Params decodes a tool's parameters into its parameter struct. *yaml.Node
// implements it; JSONParams adapts raw JSON.
type Params interface {
	Decode(v interface{}) error
}

// JSONParams decodes JSON encoded parameters. Numbers inside filters keep
// their integer or float form.
type JSONParams []byte

func (p JSONParams) Decode(v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(p))
	dec.UseNumber()
	return dec.Decode(v)
}

// Result is the outcome of a tool run. Layer producing tools set Output,
// the statistics tool sets Stats.
type Result struct {
	Output *geoparquet.Result     `json:"output,omitempty"`
	Stats  *aggregate.StatsResult `json:"stats,omitempty"`
}

type Tool interface {
	Name() string
	Description() string
	Execute(ctx context.Context, params Params) (*Result, error)
}

// Resolver maps tenant layer ids to datasets
type Resolver interface {
	ResolveLayer(ctx context.Context, userID, layerID string) (core.DatasetDescriptor, error)
}

// Extensions reports which engine extensions are loaded
type Extensions interface {
	HasExtension(name string) bool
}

// Env is shared by every tool of a registry. All tools run their statements
// on Exec. A nil Extensions skips the extension checks.
type Env struct {
	Exec       core.Executor
	Writer     *geoparquet.Writer
	Resolver   Resolver
	Extensions Extensions
	OutputDir  string
}

func (e *Env) requireExtension(name, feature string) error {
	if e.Extensions != nil && !e.Extensions.HasExtension(name) {
		return core.Configf("%s needs the %s extension, add it to engine.extensions", feature, name)
	}
	return nil
}

// outputPath places a result under OutputDir, named after the output layer id
// or a fresh one
func (e *Env) outputPath(layerID string) (string, error) {
	if layerID == "" {
		layerID = uuid.NewString()
	} else if _, err := uuid.Parse(layerID); err != nil {
		return "", core.Configf("invalid output layer id %q", layerID)
	}
	return filepath.Join(e.OutputDir, "t_"+strings.ReplaceAll(layerID, "-", "")+".parquet"), nil
}

// LayerFields returns the layer field rules of t, nil when it has none
func LayerFields(t Tool) []Rule {
	if pf, ok := t.(PathFields); ok {
		return Fields(pf)
	}
	return nil
}

// Registry is an immutable set of tools
type Registry struct {
	tools map[string]Tool
}

func NewRegistry(tools ...Tool) (*Registry, error) {
	r := &Registry{tools: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		if _, ok := r.tools[t.Name()]; ok {
			return nil, fmt.Errorf("duplicate tool %q", t.Name())
		}
		r.tools[t.Name()] = t
	}
	return r, nil
}

// Default returns the registry of every built-in tool
func Default(env *Env) *Registry {
	r, err := NewRegistry(
		&JoinTool{env: env},
		&AggregateTool{env: env, name: "aggregate_points", sourceKind: aggregate.PointKind},
		&AggregateTool{env: env, name: "aggregate_polygon", sourceKind: aggregate.PolygonKind},
		&StatsTool{env: env},
	)
	if err != nil {
		panic(err)
	}
	return r
}

func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// List returns the tools sorted by name
func (r *Registry) List() []Tool {
	out := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Execute runs the named tool
func (r *Registry) Execute(ctx context.Context, name string, params Params) (*Result, error) {
	t, ok := r.Get(name)
	if !ok {
		return nil, core.Configf("unknown tool %q", name)
	}
	core.Infof(ctx, "running tool %s", name)
	return t.Execute(ctx, params)
}
