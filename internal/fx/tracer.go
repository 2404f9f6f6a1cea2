package fx

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/specialistvlad/opgraph/internal/dispatch"
	"github.com/specialistvlad/opgraph/internal/tensor"
	"github.com/specialistvlad/opgraph/internal/tree"
)

// ErrFakeConstant is returned when a fake tensor would be captured as a
// graph attribute. Attributes must hold real data.
var ErrFakeConstant = errors.New("fake tensor cannot be captured as a graph constant")

// Tracer owns the graph under construction and the attributes and
// submodules its nodes refer to. Concrete tensors reaching the graph are
// interned as get_attr nodes: module parameters under their qualified path,
// other tensors as `_tensor_constant{i}` or `_param_constant{i}`.
type Tracer struct {
	graph *Graph
	root  Module

	leafPaths   map[string]bool
	modulePaths map[Module]string
	paramNames  map[*tensor.Tensor]string

	attrs     map[string]*tensor.Tensor
	attrNodes map[*tensor.Tensor]*Node
	modules   map[string]Module

	nextTensor, nextParam int
}

// NewTracer returns a tracer for root. root may be nil when a plain
// function is traced. Submodules whose qualified path is listed in
// leafModules are recorded as call_module nodes instead of being traced
// through.
func NewTracer(root Module, leafModules ...string) *Tracer {
	t := &Tracer{
		graph:       NewGraph(),
		root:        root,
		leafPaths:   make(map[string]bool, len(leafModules)),
		modulePaths: make(map[Module]string),
		paramNames:  make(map[*tensor.Tensor]string),
		attrs:       make(map[string]*tensor.Tensor),
		attrNodes:   make(map[*tensor.Tensor]*Node),
		modules:     make(map[string]Module),
	}
	for _, p := range leafModules {
		t.leafPaths[p] = true
	}
	for _, nm := range NamedModules(root) {
		if hashable(nm.Module) {
			if _, dup := t.modulePaths[nm.Module]; !dup {
				t.modulePaths[nm.Module] = nm.Name
			}
		}
	}
	for _, p := range NamedParameters(root) {
		if _, dup := t.paramNames[p.Tensor]; !dup {
			t.paramNames[p.Tensor] = p.Name
		}
	}
	return t
}

// Graph returns the graph under construction.
func (t *Tracer) Graph() *Graph { return t.graph }

// Root returns the traced module, nil for a function.
func (t *Tracer) Root() Module { return t.root }

// LeafPath returns the qualified path of m when m must not be traced
// through.
func (t *Tracer) LeafPath(m Module) (string, bool) {
	if !hashable(m) {
		return "", false
	}
	path, ok := t.modulePaths[m]
	if !ok || !t.leafPaths[path] {
		return "", false
	}
	return path, true
}

// Placeholder appends an input node.
func (t *Tracer) Placeholder(name string) *Node {
	return t.graph.Placeholder(name)
}

// Constant returns the get_attr node for v, creating it on first use.
func (t *Tracer) Constant(v *tensor.Tensor) (*Node, error) {
	if n, ok := t.attrNodes[v]; ok {
		return n, nil
	}
	if v.IsFake() {
		return nil, ErrFakeConstant
	}
	name, ok := t.paramNames[v]
	if !ok {
		prefix, counter := "_tensor_constant", &t.nextTensor
		if v.IsParameter() {
			prefix, counter = "_param_constant", &t.nextParam
		}
		for {
			name = prefix + strconv.Itoa(*counter)
			*counter++
			if _, taken := t.attrs[name]; !taken {
				break
			}
		}
	}
	t.attrs[name] = v
	n := t.graph.GetAttr(name)
	n.SetTensorMeta(v.Meta())
	t.attrNodes[v] = n
	return n, nil
}

// CreateArg replaces every concrete tensor leaf of v with its get_attr
// node. Other leaves are kept.
func (t *Tracer) CreateArg(v any) (any, error) {
	return tree.MapErr(v, func(leaf any) (any, error) {
		if tt, ok := leaf.(*tensor.Tensor); ok {
			return t.Constant(tt)
		}
		return leaf, nil
	})
}

func (t *Tracer) createArgs(args []any, kwargs map[string]any) ([]any, map[string]any, error) {
	a, err := t.CreateArg(args)
	if err != nil {
		return nil, nil, err
	}
	var kw map[string]any
	if kwargs != nil {
		k, err := t.CreateArg(kwargs)
		if err != nil {
			return nil, nil, err
		}
		kw = k.(map[string]any)
	}
	return a.([]any), kw, nil
}

// CallFunction appends a call of op after interning concrete tensors.
func (t *Tracer) CallFunction(op *dispatch.OpOverload, args []any, kwargs map[string]any) (*Node, error) {
	a, kw, err := t.createArgs(args, kwargs)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return t.graph.CallFunction(op, a, kw)
}

// CallModule appends a call of the leaf module m.
func (t *Tracer) CallModule(m Module, args []any) (*Node, error) {
	path, ok := t.LeafPath(m)
	if !ok {
		return nil, fmt.Errorf("module %T is not a leaf module of the traced root", m)
	}
	a, _, err := t.createArgs(args, nil)
	if err != nil {
		return nil, fmt.Errorf("module %s: %w", path, err)
	}
	t.modules[path] = m
	return t.graph.CallModule(path, a, nil)
}

// Output appends the output node.
func (t *Tracer) Output(result any) (*Node, error) {
	r, err := t.CreateArg(result)
	if err != nil {
		return nil, fmt.Errorf("output: %w", err)
	}
	return t.graph.Output(r)
}

// GraphModule freezes the graph and packages it with the attributes and
// submodules it refers to.
func (t *Tracer) GraphModule(name string) *GraphModule {
	return NewGraphModule(name, t.graph, t.attrs, t.modules)
}
