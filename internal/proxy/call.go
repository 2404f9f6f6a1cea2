package proxy

import (
	"context"
	"fmt"

	"github.com/specialistvlad/opgraph/internal/aten"
	"github.com/specialistvlad/opgraph/internal/ctxlog"
	"github.com/specialistvlad/opgraph/internal/decomp"
	"github.com/specialistvlad/opgraph/internal/dispatch"
	"github.com/specialistvlad/opgraph/internal/fake"
	"github.com/specialistvlad/opgraph/internal/fx"
	"github.com/specialistvlad/opgraph/internal/tensor"
	"github.com/specialistvlad/opgraph/internal/tree"
)

// Call intercepts op for tracer. At least one argument leaf must be a
// *Tagged of tracer. The result has the shape of the real result with every
// tensor leaf tagged by a freshly appended node.
func Call(ctx context.Context, tracer *fx.Tracer, op *dispatch.OpOverload, args []any, kwargs map[string]any) (any, error) {
	return intercept(ctx, tracer, nil, op, args, kwargs)
}

// intercept is Call for a tracer installed as mode. When mode is non-nil,
// decompositions run with it back on the stack so their factory calls are
// traced too.
func intercept(ctx context.Context, tr *fx.Tracer, mode *Mode, op *dispatch.OpOverload, args []any, kwargs map[string]any) (any, error) {
	logger := ctxlog.FromContext(ctx)

	if f, ok := decomp.Current(ctx).Lookup(op); ok {
		logger.Debug("Tracer: Decomposing operator.", "op", op.String())
		if mode != nil {
			ctx = mode.Enable(ctx)
		}
		return decomp.Call(ctx, f, op, args, kwargs)
	}

	bound, err := op.Schema.Bind(args, kwargs)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	var self *Tagged
	if len(bound) > 0 {
		if t, ok := bound[0].(*Tagged); ok && t.tracer == tr {
			self = t
		}
	}

	if op == aten.OpLocalScalarDense {
		if self != nil && self.constant != nil {
			return self.constant.Item()
		}
		if Strict() {
			return nil, &DataDependentError{Op: op}
		}
		logger.Debug("Tracer: Extracting a scalar without a known constant.", "op", op.String())
	}

	nodeArgs, nodeKwargs, err := unwrapNodes(tr, args, kwargs)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	n, err := tr.CallFunction(op, nodeArgs, nodeKwargs)
	if err != nil {
		return nil, err
	}
	logger.Debug("Tracer: Appended node.", "node", n.Name, "op", op.String())

	elemArgs, elemKwargs := tree.MapArgs(args, kwargs, unwrapElem(tr))
	out, err := dispatch.Call(ctx, op, elemArgs, elemKwargs)
	if err != nil {
		return nil, err
	}

	if self != nil && op.HasTag(dispatch.TagInplaceView) {
		// Restride the wrappers themselves; the call above only reached the
		// underlying values.
		if _, err := dispatch.Direct(ctx, op, args, kwargs); err != nil {
			return nil, err
		}
	}
	if self != nil && op.IsInplace() {
		self.node = n
		n.SetTensorMeta(self.Meta())
	}

	constant, err := propagateConstant(ctx, tr, op, args, kwargs)
	if err != nil {
		return nil, err
	}
	return wrap(tr, op.String(), n, out, constant, ownElems(tr, args, kwargs))
}

// propagateConstant recomputes op on the known constants of its tagged
// arguments and returns the whole result. It returns nil unless there is at
// least one tagged argument and all of them carry a constant; calls on
// literals alone are factories and are never folded.
func propagateConstant(ctx context.Context, tr *fx.Tracer, op *dispatch.OpOverload, args []any, kwargs map[string]any) (any, error) {
	tagged := 0
	for _, leaf := range tree.Leaves([]any{args, kwargs}) {
		if t, ok := leaf.(*Tagged); ok && t.tracer == tr {
			if t.constant == nil {
				return nil, nil
			}
			tagged++
		}
	}
	if tagged == 0 {
		return nil, nil
	}
	cargs, ckwargs := tree.MapArgs(args, kwargs, func(leaf any) any {
		if t, ok := leaf.(*Tagged); ok && t.tracer == tr {
			return t.constant
		}
		return leaf
	})
	out, err := dispatch.Call(fake.Suspend(ctx), op, cargs, ckwargs)
	if err != nil {
		return nil, fmt.Errorf("%s: constant propagation: %w", op, err)
	}
	return out, nil
}

// wrap tags the tensor results of a call recorded as n. A tensor result is
// tagged with n itself. Each element of a sequence result is tagged with a
// getitem projection of n, nested sequences projecting again. A leaf that
// is the underlying value of one of the call's own tagged arguments keeps
// that wrapper, so operators returning their input preserve identity.
// constant mirrors the shape of out where it is known.
func wrap(tr *fx.Tracer, what string, n *fx.Node, out any, constant any, reuse map[tensor.Value]*Tagged) (any, error) {
	switch v := out.(type) {
	case tensor.Value:
		c, _ := constant.(*tensor.Tensor)
		if t, ok := reuse[v]; ok {
			t.node = n
			t.constant = c
			n.SetTensorMeta(t.Meta())
			return t, nil
		}
		n.SetTensorMeta(v.Meta())
		return New(v, n, c, tr), nil
	case []any:
		cs, _ := constant.([]any)
		res := make([]any, len(v))
		for i, e := range v {
			if !tree.Any(e, isTensor) {
				res[i] = e
				continue
			}
			item, err := tr.CallFunction(fx.OpGetItem, []any{n, i}, nil)
			if err != nil {
				return nil, err
			}
			var c any
			if i < len(cs) {
				c = cs[i]
			}
			if res[i], err = wrap(tr, what, item, e, c, reuse); err != nil {
				return nil, err
			}
		}
		return res, nil
	}
	if tree.Any(out, isTensor) {
		return nil, fmt.Errorf("%s returned tensors inside %T: only tensors and sequences of tensors can be traced", what, out)
	}
	return out, nil
}

func isTensor(leaf any) bool {
	_, ok := leaf.(tensor.Value)
	return ok
}

func ownElems(tr *fx.Tracer, args []any, kwargs map[string]any) map[tensor.Value]*Tagged {
	out := make(map[tensor.Value]*Tagged)
	for _, leaf := range tree.Leaves([]any{args, kwargs}) {
		if t, ok := leaf.(*Tagged); ok && t.tracer == tr {
			out[t.elem] = t
		}
	}
	return out
}

func owns(tr *fx.Tracer, args []any, kwargs map[string]any) bool {
	return tree.Any([]any{args, kwargs}, func(leaf any) bool {
		t, ok := leaf.(*Tagged)
		return ok && t.tracer == tr
	})
}

func unwrapNodes(tr *fx.Tracer, args []any, kwargs map[string]any) ([]any, map[string]any, error) {
	toNode := func(leaf any) (any, error) {
		t, ok := leaf.(*Tagged)
		if !ok {
			return leaf, nil
		}
		if t.tracer != tr {
			return nil, fmt.Errorf("%w: %s", ErrForeignValue, t)
		}
		return t.node, nil
	}
	a, err := tree.MapErr(args, toNode)
	if err != nil {
		return nil, nil, err
	}
	var kw map[string]any
	if kwargs != nil {
		k, err := tree.MapErr(kwargs, toNode)
		if err != nil {
			return nil, nil, err
		}
		kw = k.(map[string]any)
	}
	return a.([]any), kw, nil
}

func unwrapElem(tr *fx.Tracer) func(any) any {
	return func(leaf any) any {
		if t, ok := leaf.(*Tagged); ok && t.tracer == tr {
			return t.elem
		}
		return leaf
	}
}
