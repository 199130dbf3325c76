package tools

import "strings"

// FieldKind says how a path-form parameter maps onto layer-form parameters
type FieldKind int

const (
	// Plain fields keep their name and value
	Plain FieldKind = iota
	// LayerRef fields become a layer id plus an optional filter
	LayerRef
	// LayerList fields become a list of layer ids
	LayerList
	// OutputLayer fields become an optional output layer id without a filter
	OutputLayer
)

func (k FieldKind) String() string {
	switch k {
	case LayerRef:
		return "layer"
	case LayerList:
		return "layer_list"
	case OutputLayer:
		return "output_layer"
	}
	return "plain"
}

// Rule is the layer-form mapping of one path-form field
type Rule struct {
	Field       string
	Kind        FieldKind
	IDField     string
	FilterField string
}

// FieldRule maps a path-form field name:
//
//	*_paths        -> *_layer_ids
//	output*_path   -> output*_layer_id
//	*_path         -> *_layer_id, *_filter
func FieldRule(name string) Rule {
	switch {
	case strings.HasSuffix(name, "_paths"):
		base := strings.TrimSuffix(name, "_paths")
		return Rule{Field: name, Kind: LayerList, IDField: base + "_layer_ids"}
	case strings.HasSuffix(name, "_path"):
		base := strings.TrimSuffix(name, "_path")
		if strings.HasPrefix(name, "output") {
			return Rule{Field: name, Kind: OutputLayer, IDField: base + "_layer_id"}
		}
		return Rule{Field: name, Kind: LayerRef, IDField: base + "_layer_id", FilterField: base + "_filter"}
	}
	return Rule{Field: name, Kind: Plain, IDField: name}
}

// PathFields is implemented by parameter structs with a path-form counterpart
type PathFields interface {
	// PathFields lists the path-form names of the layer fields
	PathFields() []string
}

// Fields returns the rules of every layer field of params
func Fields(params PathFields) []Rule {
	names := params.PathFields()
	rules := make([]Rule, len(names))
	for i, n := range names {
		rules[i] = FieldRule(n)
	}
	return rules
}
