package fx

import (
	"context"
	"reflect"

	"github.com/specialistvlad/opgraph/internal/nodeid"
	"github.com/specialistvlad/opgraph/internal/tensor"
)

// Module is a traceable computation with optional state.
type Module interface {
	Forward(ctx context.Context, args ...any) (any, error)
}

// ModuleFunc adapts a plain function to Module.
type ModuleFunc func(ctx context.Context, args ...any) (any, error)

func (f ModuleFunc) Forward(ctx context.Context, args ...any) (any, error) { return f(ctx, args...) }

// NamedTensor is a tensor attribute and its path relative to some module.
type NamedTensor struct {
	Name   string
	Tensor *tensor.Tensor
}

// NamedModule is a submodule and its path relative to some module.
type NamedModule struct {
	Name   string
	Module Module
}

// ParameterOwner is implemented by modules holding tensors directly.
type ParameterOwner interface {
	Parameters() []NamedTensor
}

// Parent is implemented by modules composed of submodules.
type Parent interface {
	Children() []NamedModule
}

// NamedParameters returns every tensor reachable from root with its
// qualified path, e.g. `layers.0.weight`.
func NamedParameters(root Module) []NamedTensor {
	var out []NamedTensor
	walkModules(root, "", func(path string, m Module) {
		if owner, ok := m.(ParameterOwner); ok {
			for _, p := range owner.Parameters() {
				out = append(out, NamedTensor{Name: nodeid.Join(path, p.Name), Tensor: p.Tensor})
			}
		}
	})
	return out
}

// NamedModules returns every module below root with its qualified path.
// The root itself is not included.
func NamedModules(root Module) []NamedModule {
	var out []NamedModule
	walkModules(root, "", func(path string, m Module) {
		if path != "" {
			out = append(out, NamedModule{Name: path, Module: m})
		}
	})
	return out
}

func walkModules(m Module, path string, visit func(string, Module)) {
	if m == nil {
		return
	}
	visit(path, m)
	if p, ok := m.(Parent); ok {
		for _, c := range p.Children() {
			walkModules(c.Module, nodeid.Join(path, c.Name), visit)
		}
	}
}

// hashable reports whether m can be used as a map key.
func hashable(m Module) bool {
	return m != nil && reflect.TypeOf(m).Comparable()
}

// ModuleCaller intercepts Invoke. A tracer installs one to record leaf
// modules as single call_module nodes.
type ModuleCaller interface {
	CallModule(ctx context.Context, m Module, args []any) (any, error)
}

type moduleCallerKey struct{}

// WithModuleCaller returns a context under which Invoke is routed to c.
func WithModuleCaller(ctx context.Context, c ModuleCaller) context.Context {
	return context.WithValue(ctx, moduleCallerKey{}, c)
}

// WithoutModuleCaller returns a context in which Invoke runs Forward
// directly.
func WithoutModuleCaller(ctx context.Context) context.Context {
	return context.WithValue(ctx, moduleCallerKey{}, nil)
}

// Invoke runs m. Composite modules call their children through Invoke so a
// tracer can observe the module boundary.
func Invoke(ctx context.Context, m Module, args ...any) (any, error) {
	if c, ok := ctx.Value(moduleCallerKey{}).(ModuleCaller); ok && c != nil {
		return c.CallModule(ctx, m, args)
	}
	return m.Forward(ctx, args...)
}
