package fx

import (
	"context"
	"errors"
	"fmt"

	"github.com/specialistvlad/opgraph/internal/ctxlog"
	"github.com/specialistvlad/opgraph/internal/dispatch"
	"github.com/specialistvlad/opgraph/internal/tensor"
	"github.com/specialistvlad/opgraph/internal/tree"
)

// ErrArity is returned when a graph is run with the wrong number of inputs.
var ErrArity = errors.New("wrong number of graph inputs")

// Hooks customize how an Interpreter evaluates each node kind. Nil hooks
// fall back to plain evaluation: inputs and attributes pass through,
// operators go through dispatch.Call and leaf modules run Forward.
// OpGetItem projections bypass the hooks.
type Hooks struct {
	Placeholder  func(ctx context.Context, n *Node, arg any) (any, error)
	GetAttr      func(ctx context.Context, n *Node, attr *tensor.Tensor) (any, error)
	CallFunction func(ctx context.Context, n *Node, args []any, kwargs map[string]any) (any, error)
	CallModule   func(ctx context.Context, n *Node, m Module, args []any) (any, error)
	Output       func(ctx context.Context, n *Node, result any) (any, error)
}

// Interpreter evaluates a GraphModule node by node.
type Interpreter struct {
	module *GraphModule
	hooks  Hooks
}

// NewInterpreter returns an interpreter over m.
func NewInterpreter(m *GraphModule, hooks Hooks) *Interpreter {
	return &Interpreter{module: m, hooks: hooks}
}

// Run evaluates the graph. The flattened leaves of args feed the
// placeholders in order.
func (it *Interpreter) Run(ctx context.Context, args ...any) (any, error) {
	logger := ctxlog.FromContext(ctx)
	g := it.module.graph
	inputs := tree.Leaves([]any(args))
	placeholders := g.Placeholders()
	if len(inputs) != len(placeholders) {
		return nil, fmt.Errorf("%s: %w: expected %d, got %d", it.module.name, ErrArity, len(placeholders), len(inputs))
	}

	env := make(map[*Node]any, g.Len())
	resolve := func(v any) (any, error) {
		return tree.MapErr(v, func(leaf any) (any, error) {
			ref, ok := leaf.(*Node)
			if !ok {
				return leaf, nil
			}
			val, ok := env[ref]
			if !ok {
				return nil, fmt.Errorf("node %s has no value", ref)
			}
			return val, nil
		})
	}

	next := 0
	for _, n := range g.nodes {
		logger.Debug("Interpreter: Running node.", "node", n.Name, "kind", n.Kind.String(), "target", n.TargetName())
		var (
			val any
			err error
		)
		switch n.Kind {
		case Placeholder:
			val, err = it.placeholder(ctx, n, inputs[next])
			next++
		case GetAttr:
			val, err = it.getAttr(ctx, n)
		case CallFunction, CallModule:
			var a, kw any
			if a, err = resolve(n.Args); err != nil {
				break
			}
			var kwargs map[string]any
			if n.Kwargs != nil {
				if kw, err = resolve(n.Kwargs); err != nil {
					break
				}
				kwargs = kw.(map[string]any)
			}
			if n.Kind == CallFunction {
				val, err = it.callFunction(ctx, n, a.([]any), kwargs)
			} else {
				val, err = it.callModule(ctx, n, a.([]any))
			}
		case Output:
			var r any
			if r, err = resolve(n.Args[0]); err != nil {
				break
			}
			return it.output(ctx, n, r)
		}
		if err != nil {
			return nil, fmt.Errorf("node %s: %w", n.Name, err)
		}
		env[n] = val
	}
	return nil, fmt.Errorf("%s: graph has no output node", it.module.name)
}

func (it *Interpreter) placeholder(ctx context.Context, n *Node, arg any) (any, error) {
	if it.hooks.Placeholder != nil {
		return it.hooks.Placeholder(ctx, n, arg)
	}
	return arg, nil
}

func (it *Interpreter) getAttr(ctx context.Context, n *Node) (any, error) {
	attr, ok := it.module.attrs[n.TargetName()]
	if !ok {
		return nil, fmt.Errorf("attribute %q not found", n.TargetName())
	}
	if it.hooks.GetAttr != nil {
		return it.hooks.GetAttr(ctx, n, attr)
	}
	return attr, nil
}

func (it *Interpreter) callFunction(ctx context.Context, n *Node, args []any, kwargs map[string]any) (any, error) {
	if n.Op() == OpGetItem {
		return dispatch.Direct(ctx, OpGetItem, args, kwargs)
	}
	if it.hooks.CallFunction != nil {
		return it.hooks.CallFunction(ctx, n, args, kwargs)
	}
	return dispatch.Call(ctx, n.Op(), args, kwargs)
}

func (it *Interpreter) callModule(ctx context.Context, n *Node, args []any) (any, error) {
	m, ok := it.module.modules[n.TargetName()]
	if !ok {
		return nil, fmt.Errorf("submodule %q not found", n.TargetName())
	}
	if it.hooks.CallModule != nil {
		return it.hooks.CallModule(ctx, n, m, args)
	}
	return Invoke(ctx, m, args...)
}

func (it *Interpreter) output(ctx context.Context, n *Node, result any) (any, error) {
	if it.hooks.Output != nil {
		return it.hooks.Output(ctx, n, result)
	}
	return result, nil
}
