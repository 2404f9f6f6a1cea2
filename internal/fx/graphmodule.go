package fx

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/specialistvlad/opgraph/internal/tensor"
)

// GraphModule is the immutable result of a trace: a frozen graph plus the
// attributes its get_attr nodes read and the submodules its call_module
// nodes run. It is itself a Module.
type GraphModule struct {
	name    string
	graph   *Graph
	attrs   map[string]*tensor.Tensor
	modules map[string]Module
}

// NewGraphModule freezes g and returns a module running it.
func NewGraphModule(name string, g *Graph, attrs map[string]*tensor.Tensor, modules map[string]Module) *GraphModule {
	g.frozen = true
	return &GraphModule{
		name:    name,
		graph:   g,
		attrs:   maps.Clone(attrs),
		modules: maps.Clone(modules),
	}
}

// Name returns the module name.
func (m *GraphModule) Name() string { return m.name }

// Graph returns the frozen graph. Use Graph().Copy() to derive a new one.
func (m *GraphModule) Graph() *Graph { return m.graph }

// Attr returns the tensor stored under path.
func (m *GraphModule) Attr(path string) (*tensor.Tensor, bool) {
	t, ok := m.attrs[path]
	return t, ok
}

// AttrNames returns the sorted attribute paths.
func (m *GraphModule) AttrNames() []string {
	return slices.Sorted(maps.Keys(m.attrs))
}

// Attrs returns a copy of the attribute table.
func (m *GraphModule) Attrs() map[string]*tensor.Tensor { return maps.Clone(m.attrs) }

// Submodule returns the module stored under path.
func (m *GraphModule) Submodule(path string) (Module, bool) {
	sub, ok := m.modules[path]
	return sub, ok
}

// Submodules returns a copy of the submodule table.
func (m *GraphModule) Submodules() map[string]Module { return maps.Clone(m.modules) }

// Parameters exposes the attributes so a GraphModule can itself be traced.
func (m *GraphModule) Parameters() []NamedTensor {
	out := make([]NamedTensor, 0, len(m.attrs))
	for _, name := range m.AttrNames() {
		out = append(out, NamedTensor{Name: name, Tensor: m.attrs[name]})
	}
	return out
}

// Forward runs the graph on args with the default interpreter.
func (m *GraphModule) Forward(ctx context.Context, args ...any) (any, error) {
	return NewInterpreter(m, Hooks{}).Run(ctx, args...)
}

func (m *GraphModule) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "GraphModule %s\n", m.name)
	sb.WriteString(m.graph.String())
	return sb.String()
}

// Children exposes the submodules so a GraphModule can itself be traced.
func (m *GraphModule) Children() []NamedModule {
	out := make([]NamedModule, 0, len(m.modules))
	for _, path := range slices.Sorted(maps.Keys(m.modules)) {
		out = append(out, NamedModule{Name: path, Module: m.modules[path]})
	}
	return out
}
