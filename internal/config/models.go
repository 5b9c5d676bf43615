package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/averyhale/fieldledger/modules/governance/domain/fieldmeta"
	"github.com/averyhale/fieldledger/modules/governance/domain/registry"
)

type modelsFile struct {
	Version int         `yaml:"version"`
	Models  []ModelSeed `yaml:"models"`
}

type ModelSeed struct {
	Name       string      `yaml:"name"`
	DependsOn  []string    `yaml:"depends_on"`
	OwnerModel string      `yaml:"owner_model"`
	OwnerField string      `yaml:"owner_field"`
	Fields     []FieldSeed `yaml:"fields"`
}

type FieldSeed struct {
	Name       string `yaml:"name"`
	Kind       string `yaml:"kind"`
	Required   bool   `yaml:"required"`
	HasDefault bool   `yaml:"has_default"`
	RefType    string `yaml:"ref_type"`
}

// LoadRegistry reads the tracked-model definitions and builds the type
// registry. Structural validation (unknown kinds, dangling refs, cycles)
// is the registry's job; this only maps the file onto registry types.
func LoadRegistry(path string) (*registry.Registry, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var mf modelsFile
	if err := yaml.Unmarshal(b, &mf); err != nil {
		return nil, err
	}
	if mf.Version != 1 {
		return nil, fmt.Errorf("models: unsupported version %d", mf.Version)
	}
	if len(mf.Models) == 0 {
		return nil, fmt.Errorf("models: no models")
	}

	defs := make([]registry.Type, 0, len(mf.Models))
	for _, m := range mf.Models {
		def := registry.Type{
			Name:       m.Name,
			DependsOn:  m.DependsOn,
			OwnerModel: m.OwnerModel,
			OwnerField: m.OwnerField,
		}
		for _, f := range m.Fields {
			def.Fields = append(def.Fields, fieldmeta.Field{
				Name:       f.Name,
				Kind:       fieldmeta.Kind(f.Kind),
				Required:   f.Required,
				HasDefault: f.HasDefault,
				RefType:    f.RefType,
			})
		}
		defs = append(defs, def)
	}
	return registry.New(defs...)
}
