package proxy

import (
	"context"
	"fmt"

	"github.com/specialistvlad/opgraph/internal/aten"
	"github.com/specialistvlad/opgraph/internal/ctxlog"
	"github.com/specialistvlad/opgraph/internal/decomp"
	"github.com/specialistvlad/opgraph/internal/dispatch"
	"github.com/specialistvlad/opgraph/internal/fx"
	"github.com/specialistvlad/opgraph/internal/tensor"
)

// Mode installs a tracer on the dispatch mode stack. Besides intercepting
// operators on its tagged values it records calls that have none, such as
// factories, so tensors created inside the traced program become graph
// nodes rather than untracked constants.
type Mode struct {
	tracer *fx.Tracer
}

// NewMode returns a mode recording into tracer.
func NewMode(tracer *fx.Tracer) *Mode {
	return &Mode{tracer: tracer}
}

// Tracer returns the tracer the mode records into.
func (m *Mode) Tracer() *fx.Tracer { return m.tracer }

// Enable pushes m on the dispatch mode stack.
func (m *Mode) Enable(ctx context.Context) context.Context {
	return dispatch.PushMode(ctx, m)
}

// Dispatch implements dispatch.Mode.
func (m *Mode) Dispatch(ctx context.Context, op *dispatch.OpOverload, args []any, kwargs map[string]any) (any, error) {
	if op == aten.OpLift {
		bound, err := op.Schema.Bind(args, kwargs)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		return bound[0], nil
	}
	if owns(m.tracer, args, kwargs) {
		return intercept(ctx, m.tracer, m, op, args, kwargs)
	}
	if dispatch.FindHandler(args, kwargs) != nil {
		return dispatch.Call(ctx, op, args, kwargs)
	}
	return m.traceUntagged(ctx, op, args, kwargs)
}

// traceUntagged records a call without tagged arguments, unless the active
// table decomposes it. Concrete tensor arguments become get_attr nodes. A
// fresh literal is copied so that later in-place operators never reach the
// interned attribute, and the copy is remembered as the result's constant.
func (m *Mode) traceUntagged(ctx context.Context, op *dispatch.OpOverload, args []any, kwargs map[string]any) (any, error) {
	if f, ok := decomp.Current(ctx).Lookup(op); ok {
		ctxlog.FromContext(ctx).Debug("Tracer: Decomposing operator.", "op", op.String())
		return decomp.Call(m.Enable(ctx), f, op, args, kwargs)
	}
	if op == aten.OpLiftFresh {
		op = aten.OpLiftFreshCopy
	}
	n, err := m.tracer.CallFunction(op, args, kwargs)
	if err != nil {
		return nil, err
	}
	ctxlog.FromContext(ctx).Debug("Tracer: Appended node.", "node", n.Name, "op", op.String())

	out, err := dispatch.Call(ctx, op, args, kwargs)
	if err != nil {
		return nil, err
	}
	var constant *tensor.Tensor
	if op == aten.OpLiftFreshCopy {
		bound, err := op.Schema.Bind(args, kwargs)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if src, ok := bound[0].(*tensor.Tensor); ok && !src.IsFake() {
			constant = src.Clone()
		}
	}
	return wrap(m.tracer, op.String(), n, out, constant, nil)
}
