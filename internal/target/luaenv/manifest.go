package luaenv

import (
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/gocty"

	"github.com/louisbranch/metis/internal/target"
)

// ManifestFile is the file name of an environment manifest.
const ManifestFile = "environment.hcl"

// manifestRoot expects exactly one environment block.
type manifestRoot struct {
	Environment manifestEnvironment `hcl:"environment,block"`
}

type manifestEnvironment struct {
	ID          string           `hcl:"id,label"`
	Name        string           `hcl:"name,optional"`
	Description string           `hcl:"description,optional"`
	Version     string           `hcl:"version"`
	Script      string           `hcl:"script,optional"`
	Targets     []manifestTarget `hcl:"target,block"`
}

type manifestTarget struct {
	ID          string        `hcl:"id,label"`
	Name        string        `hcl:"name,optional"`
	Description string        `hcl:"description,optional"`
	Migrations  []string      `hcl:"migrations,optional"`
	Args        []manifestArg `hcl:"arg,block"`
}

type manifestArg struct {
	Key         string         `hcl:"key,label"`
	Name        string         `hcl:"name,optional"`
	Type        string         `hcl:"type,optional"`
	Required    bool           `hcl:"required,optional"`
	Default     hcl.Expression `hcl:"default,optional"`
	Options     []string       `hcl:"options,optional"`
	Description string         `hcl:"description,optional"`
}

// parseManifest reads and decodes an environment manifest.
func parseManifest(path string) (*manifestEnvironment, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return nil, fmt.Errorf("parse manifest %s: %w", path, diags)
	}
	var root manifestRoot
	if diags := gohcl.DecodeBody(file.Body, nil, &root); diags.HasErrors() {
		return nil, fmt.Errorf("decode manifest %s: %w", path, diags)
	}
	return &root.Environment, nil
}

func (a manifestArg) spec() (target.ArgSpec, error) {
	spec := target.ArgSpec{
		Key:         a.Key,
		Name:        a.Name,
		Type:        target.ArgType(a.Type),
		Required:    a.Required,
		Options:     a.Options,
		Description: a.Description,
	}
	if spec.Type == "" {
		spec.Type = target.ArgString
	}
	if spec.Name == "" {
		spec.Name = a.Key
	}
	if a.Default != nil {
		value, diags := a.Default.Value(nil)
		if diags.HasErrors() {
			return target.ArgSpec{}, fmt.Errorf("argument %s default: %w", a.Key, diags)
		}
		native, err := ctyToNative(value)
		if err != nil {
			return target.ArgSpec{}, fmt.Errorf("argument %s default: %w", a.Key, err)
		}
		spec.Default = native
	}
	return spec, nil
}

// ctyToNative converts a cty value into the same Go shapes encoding/json
// produces.
func ctyToNative(v cty.Value) (any, error) {
	if v.IsNull() || !v.IsKnown() {
		return nil, nil
	}

	ty := v.Type()
	switch {
	case ty == cty.String:
		return v.AsString(), nil

	case ty == cty.Number:
		var f float64
		if err := gocty.FromCtyValue(v, &f); err != nil {
			return nil, fmt.Errorf("convert number: %w", err)
		}
		return f, nil

	case ty == cty.Bool:
		return v.True(), nil

	case ty.IsListType() || ty.IsTupleType() || ty.IsSetType():
		out := make([]any, 0)
		it := v.ElementIterator()
		for it.Next() {
			_, elem := it.Element()
			native, err := ctyToNative(elem)
			if err != nil {
				return nil, err
			}
			out = append(out, native)
		}
		return out, nil

	case ty.IsObjectType() || ty.IsMapType():
		out := make(map[string]any)
		it := v.ElementIterator()
		for it.Next() {
			key, elem := it.Element()
			native, err := ctyToNative(elem)
			if err != nil {
				return nil, fmt.Errorf("in attribute %q: %w", key.AsString(), err)
			}
			out[key.AsString()] = native
		}
		return out, nil

	default:
		return nil, fmt.Errorf("unsupported value type %s", ty.FriendlyName())
	}
}
