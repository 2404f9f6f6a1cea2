package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/specialistvlad/opgraph/internal/ctxlog"
)

// Registry holds every declared operator overload, keyed by qualified name.
type Registry struct {
	mutex sync.RWMutex
	ops   map[string]*OpOverload
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{ops: make(map[string]*OpOverload)}
}

var defaultRegistry = NewRegistry()

// Default returns the process-wide registry operator packages register into.
func Default() *Registry { return defaultRegistry }

// Register adds op to the default registry and returns it, so operator
// packages can declare overloads as package-level variables.
func Register(op *OpOverload) *OpOverload {
	if err := defaultRegistry.Add(op); err != nil {
		// A duplicate declaration is a programmer error.
		panic(err)
	}
	return op
}

// Add registers op. Registering two overloads with the same qualified name
// is an error.
func (r *Registry) Add(op *OpOverload) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	key := op.QualifiedName()
	if _, exists := r.ops[key]; exists {
		return fmt.Errorf("operator %s registered twice", key)
	}
	r.ops[key] = op
	return nil
}

// Lookup returns the overload registered under a qualified name such as
// "aten::add.Tensor". The ".default" suffix may be omitted.
func (r *Registry) Lookup(qualified string) (*OpOverload, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	if op, ok := r.ops[qualified]; ok {
		return op, true
	}
	op, ok := r.ops[qualified+".default"]
	return op, ok
}

// Packet returns every overload of a namespace/name pair, sorted by
// overload name with "default" first.
func (r *Registry) Packet(namespace, name string) []*OpOverload {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	var out []*OpOverload
	for _, op := range r.ops {
		if op.Namespace == namespace && op.Name() == name {
			out = append(out, op)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		oi, oj := out[i].Overload(), out[j].Overload()
		if oi == "default" || oj == "default" {
			return oi == "default" && oj != "default"
		}
		return oi < oj
	})
	return out
}

// All returns every registered overload sorted by qualified name.
func (r *Registry) All() []*OpOverload {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	out := make([]*OpOverload, 0, len(r.ops))
	for _, op := range r.ops {
		out = append(out, op)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QualifiedName() < out[j].QualifiedName() })
	return out
}

// Validate checks the integrity of the registered operators: every overload
// has a kernel, and the mutation annotations agree with the naming rule for
// in-place operators.
func (r *Registry) Validate(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)
	var errs []error
	ops := r.All()
	for _, op := range ops {
		if op.Kernel == nil {
			errs = append(errs, fmt.Errorf("operator %s has no kernel", op.QualifiedName()))
			continue
		}
		byName := IsInplaceName(op.Name())
		bySchema := op.Schema.MutatesArg(0)
		if op.Schema.IsMutable() && byName != bySchema {
			errs = append(errs, fmt.Errorf("operator %s: name rule says in-place=%t but schema says %t", op.QualifiedName(), byName, bySchema))
		}
		if op.HasTag(TagInplaceView) && !op.IsInplace() {
			errs = append(errs, fmt.Errorf("operator %s is tagged inplace_view but does not mutate its first argument", op.QualifiedName()))
		}
	}
	logger.Debug("Registry validation finished.", "operators", len(ops), "errors", len(errs))
	return errors.Join(errs...)
}
