// Package registry maps function ids to executable handlers and their
// parameter schemas.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/linanwx/clawlink/protocol"
)

// ErrFunctionNotFound matches any NotFoundError via errors.Is.
var ErrFunctionNotFound = errors.New("function not found")

// NotFoundError reports an execute or lookup against an unregistered id.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("function with id '%s' not found", e.ID)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrFunctionNotFound
}

// Executor runs a function with the given arguments.
type Executor func(ctx context.Context, args *protocol.Object) (protocol.Value, error)

// ParameterSchema describes one parameter of a function.
type ParameterSchema struct {
	Type        string                     `json:"type" yaml:"type"`
	Description string                     `json:"description" yaml:"description"`
	Required    bool                       `json:"required" yaml:"required"`
	Properties  map[string]ParameterSchema `json:"properties,omitempty" yaml:"properties,omitempty"`
}

// Definition is a registered function.
type Definition struct {
	ID          string
	Name        string
	Description string
	Parameters  map[string]ParameterSchema
	Executor    Executor
}

// Schema exports the definition as a JSON-schema shaped value. It is a
// snapshot and holds no reference to the executor.
func (d *Definition) Schema() protocol.Value {
	names := make([]string, 0, len(d.Parameters))
	for name := range d.Parameters {
		names = append(names, name)
	}
	sort.Strings(names)

	props := protocol.NewObject()
	required := make([]protocol.Value, 0, len(names))
	for _, name := range names {
		p := d.Parameters[name]
		props.Set(name, p.schema())
		if p.Required {
			required = append(required, protocol.String(name))
		}
	}

	params := protocol.NewObject().
		Set("type", protocol.String("object")).
		Set("properties", protocol.ObjectValue(props)).
		Set("required", protocol.List(required...))

	return protocol.ObjectValue(protocol.NewObject().
		Set("id", protocol.String(d.ID)).
		Set("name", protocol.String(d.Name)).
		Set("description", protocol.String(d.Description)).
		Set("parameters", protocol.ObjectValue(params)))
}

func (p ParameterSchema) schema() protocol.Value {
	obj := protocol.NewObject().
		Set("type", protocol.String(p.Type)).
		Set("description", protocol.String(p.Description))
	if len(p.Properties) > 0 {
		names := make([]string, 0, len(p.Properties))
		for name := range p.Properties {
			names = append(names, name)
		}
		sort.Strings(names)
		props := protocol.NewObject()
		for _, name := range names {
			props.Set(name, p.Properties[name].schema())
		}
		obj.Set("properties", protocol.ObjectValue(props))
	}
	return protocol.ObjectValue(obj)
}

// Registry holds registered functions. It is safe for concurrent use;
// executors run outside the lock so distinct calls may execute concurrently.
type Registry struct {
	mu   sync.RWMutex
	defs map[string]*Definition
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{defs: make(map[string]*Definition)}
}

// Register inserts def, replacing any definition with the same id.
func (r *Registry) Register(def *Definition) error {
	if def == nil || def.ID == "" {
		return fmt.Errorf("function id is required")
	}
	if def.Executor == nil {
		return fmt.Errorf("function %s has no executor", def.ID)
	}
	r.mu.Lock()
	r.defs[def.ID] = def
	r.mu.Unlock()
	return nil
}

// Unregister removes id. Absent ids are ignored.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	delete(r.defs, id)
	r.mu.Unlock()
}

// Get returns the definition registered under id.
func (r *Registry) Get(id string) (*Definition, bool) {
	r.mu.RLock()
	def, ok := r.defs[id]
	r.mu.RUnlock()
	return def, ok
}

// IDs returns the registered ids in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.defs))
	for id := range r.defs {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// List returns schema snapshots of every registered function, sorted by id.
func (r *Registry) List() []protocol.Value {
	ids := r.IDs()
	out := make([]protocol.Value, 0, len(ids))
	for _, id := range ids {
		if def, ok := r.Get(id); ok {
			out = append(out, def.Schema())
		}
	}
	return out
}

// Execute runs the function registered under id. Executor errors are
// returned unchanged.
func (r *Registry) Execute(ctx context.Context, id string, args *protocol.Object) (protocol.Value, error) {
	def, ok := r.Get(id)
	if !ok {
		return protocol.Value{}, &NotFoundError{ID: id}
	}
	if args == nil {
		args = protocol.NewObject()
	}
	return def.Executor(ctx, args)
}
