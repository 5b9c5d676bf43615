// Package registry holds the closed set of record types that participate in
// the governance system. The set is built once at process start and passed
// by reference; nothing is resolved lazily.
package registry

import (
	"sort"

	"github.com/averyhale/fieldledger/modules/governance/domain/fieldmeta"
	"github.com/averyhale/fieldledger/modules/governance/domain/types"
)

// Type declares one trackable record type.
type Type struct {
	Name   string
	Fields []fieldmeta.Field
	// DependsOn names types whose identity audits must materialize before
	// this type's during batch review (parents before children).
	DependsOn []string
	// OwnerModel/OwnerField are set on collection types whose reviewer
	// permission resolves against a virtual field of the owning model
	// instead of their own fields.
	OwnerModel string
	OwnerField string
}

func (t Type) Field(name string) (fieldmeta.Field, bool) {
	for _, f := range t.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return fieldmeta.Field{}, false
}

// TrackedFields returns the field names the change tracker snapshots. The
// identifier and tenant reference are not tracked fields.
func (t Type) TrackedFields() []string {
	out := make([]string, 0, len(t.Fields))
	for _, f := range t.Fields {
		out = append(out, f.Name)
	}
	sort.Strings(out)
	return out
}

// RequiredForCreate returns the fields that must carry a writable grant for
// a user to create a record of this type.
func (t Type) RequiredForCreate() []string {
	out := make([]string, 0, len(t.Fields))
	for _, f := range t.Fields {
		if f.Required && !f.HasDefault {
			out = append(out, f.Name)
		}
	}
	sort.Strings(out)
	return out
}

type Registry struct {
	byName map[string]Type
	order  []string
}

// New validates the declared types and computes the parent-before-child
// dependency order used by batch review.
func New(defs ...Type) (*Registry, error) {
	byName := make(map[string]Type, len(defs))
	for _, def := range defs {
		if def.Name == "" {
			return nil, &types.ConfigError{Model: def.Name, Reason: "type name required"}
		}
		if _, dup := byName[def.Name]; dup {
			return nil, &types.ConfigError{Model: def.Name, Reason: "type declared twice"}
		}
		seen := make(map[string]struct{}, len(def.Fields))
		for _, f := range def.Fields {
			if f.Name == "" || f.Name == types.FieldIdentity {
				return nil, &types.ConfigError{Model: def.Name, Field: f.Name, Reason: "invalid field name"}
			}
			if !fieldmeta.ValidKind(f.Kind) {
				return nil, &types.ConfigError{Model: def.Name, Field: f.Name, Reason: "unknown field kind"}
			}
			if _, dup := seen[f.Name]; dup {
				return nil, &types.ConfigError{Model: def.Name, Field: f.Name, Reason: "field declared twice"}
			}
			seen[f.Name] = struct{}{}
		}
		byName[def.Name] = def
	}

	for _, def := range defs {
		for _, dep := range def.DependsOn {
			if _, ok := byName[dep]; !ok {
				return nil, &types.ConfigError{Model: def.Name, Reason: "depends on unregistered type " + dep}
			}
		}
		for _, f := range def.Fields {
			if f.IsRef() {
				if _, ok := byName[f.RefType]; !ok {
					return nil, &types.ConfigError{Model: def.Name, Field: f.Name, Reason: "references unregistered type " + f.RefType}
				}
			}
		}
		if def.OwnerModel != "" {
			owner, ok := byName[def.OwnerModel]
			if !ok {
				return nil, &types.ConfigError{Model: def.Name, Reason: "owned by unregistered type " + def.OwnerModel}
			}
			if def.OwnerField == "" {
				return nil, &types.ConfigError{Model: def.Name, Reason: "owner field required"}
			}
			_ = owner
		}
	}

	order, err := topoOrder(defs, byName)
	if err != nil {
		return nil, err
	}
	return &Registry{byName: byName, order: order}, nil
}

func (r *Registry) Has(name string) bool {
	_, ok := r.byName[name]
	return ok
}

func (r *Registry) Resolve(name string) (Type, error) {
	t, ok := r.byName[name]
	if !ok {
		return Type{}, &types.ConfigError{Model: name, Reason: "type is not registered"}
	}
	return t, nil
}

// DependencyOrder returns every registered type name, parents before any
// type that depends on them, with ties broken by name for stability.
func (r *Registry) DependencyOrder() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// VirtualFieldsOf returns the virtual field names that collection types
// declare on the given owner model. Grants may name these fields even
// though the owner does not track them.
func (r *Registry) VirtualFieldsOf(owner string) []string {
	var out []string
	for _, t := range r.byName {
		if t.OwnerModel == owner {
			out = append(out, t.OwnerField)
		}
	}
	sort.Strings(out)
	return out
}

func topoOrder(defs []Type, byName map[string]Type) ([]string, error) {
	names := make([]string, 0, len(defs))
	for _, def := range defs {
		names = append(names, def.Name)
	}
	sort.Strings(names)

	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[string]int, len(names))
	out := make([]string, 0, len(names))

	var visit func(name string) error
	visit = func(name string) error {
		switch state[name] {
		case done:
			return nil
		case visiting:
			return &types.ConfigError{Model: name, Reason: "dependency cycle"}
		}
		state[name] = visiting
		deps := append([]string(nil), byName[name].DependsOn...)
		sort.Strings(deps)
		for _, dep := range deps {
			if err := visit(dep); err != nil {
				return err
			}
		}
		state[name] = done
		out = append(out, name)
		return nil
	}

	for _, name := range names {
		if err := visit(name); err != nil {
			return nil, err
		}
	}
	return out, nil
}
