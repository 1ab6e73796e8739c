package variable

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/stagecast/stagecast/internal/array"
)

var (
	ErrDuplicateDefinition = errors.New("conflicting variable redefinition")
	ErrUnknownVariable     = errors.New("unknown variable")
)

// Def is the declaration of a variable by value: what travels in step
// metadata and what two processes compare to agree on a variable.
type Def struct {
	Name  string     `json:"name"`
	Type  array.Type `json:"type"`
	Shape array.Dims `json:"shape"`
}

// Equal reports whether two declarations are interchangeable.
func (d Def) Equal(other Def) bool {
	return d.Name == other.Name && d.Type == other.Type && d.Shape.Equal(other.Shape)
}

// Variable is the process-local handle for a registered variable.
// Immutable after registration.
type Variable struct {
	def Def
}

// Name returns the registered name.
func (v *Variable) Name() string { return v.def.Name }

// Type returns the declared element type.
func (v *Variable) Type() array.Type { return v.def.Type }

// Shape returns a copy of the declared global shape.
func (v *Variable) Shape() array.Dims { return v.def.Shape.Clone() }

// Def returns the declaration by value.
func (v *Variable) Def() Def {
	return Def{Name: v.def.Name, Type: v.def.Type, Shape: v.def.Shape.Clone()}
}

// Validate checks a selection against the variable's global shape.
func (v *Variable) Validate(sel array.Selection) error {
	if err := sel.Within(v.def.Shape); err != nil {
		return fmt.Errorf("variable %q: %w", v.def.Name, err)
	}
	return nil
}

// Registry maps variable names to handles within one process.
type Registry struct {
	mu   sync.RWMutex
	vars map[string]*Variable
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{vars: make(map[string]*Variable)}
}

// Define registers a variable. Identical redefinition returns the
// existing handle; a conflicting one fails with ErrDuplicateDefinition.
func (r *Registry) Define(name string, typ array.Type, shape array.Dims) (*Variable, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: empty name", ErrDuplicateDefinition)
	}
	if typ.Size() == 0 {
		return nil, fmt.Errorf("variable %q: unknown element type", name)
	}
	if len(shape) == 0 {
		return nil, fmt.Errorf("variable %q: empty global shape", name)
	}
	for d, extent := range shape {
		if extent <= 0 {
			return nil, fmt.Errorf("variable %q: non-positive extent %d in dimension %d", name, extent, d)
		}
	}

	def := Def{Name: name, Type: typ, Shape: shape.Clone()}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.vars[name]; ok {
		if existing.def.Equal(def) {
			return existing, nil
		}
		return nil, fmt.Errorf("%w: %q declared as %s%v, redeclared as %s%v",
			ErrDuplicateDefinition, name,
			existing.def.Type, existing.def.Shape, def.Type, def.Shape)
	}
	v := &Variable{def: def}
	r.vars[name] = v
	return v, nil
}

// Import registers a declaration received from step metadata. Same
// semantics as Define.
func (r *Registry) Import(def Def) (*Variable, error) {
	return r.Define(def.Name, def.Type, def.Shape)
}

// Lookup returns the handle for a name, or ErrUnknownVariable.
func (r *Registry) Lookup(name string) (*Variable, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.vars[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownVariable, name)
	}
	return v, nil
}

// Names returns all registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.vars))
	for name := range r.vars {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
