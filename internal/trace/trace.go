package trace

import (
	"context"
	"fmt"
	"strconv"

	"github.com/specialistvlad/opgraph/internal/ctxlog"
	"github.com/specialistvlad/opgraph/internal/decomp"
	"github.com/specialistvlad/opgraph/internal/dispatch"
	"github.com/specialistvlad/opgraph/internal/fake"
	"github.com/specialistvlad/opgraph/internal/fx"
	"github.com/specialistvlad/opgraph/internal/proxy"
	"github.com/specialistvlad/opgraph/internal/tensor"
	"github.com/specialistvlad/opgraph/internal/tree"
)

// Func is a traceable program. Its tensor operations must go through the
// aten helpers or dispatch.Call on the ctx it receives.
type Func func(ctx context.Context, args ...any) (any, error)

// Trace runs fn on inputs and returns the graph of the operators it
// called. Every flattened input leaf becomes a placeholder; tensor leaves
// are tagged so the operators applied to them are recorded. On failure no
// graph is returned.
func Trace(ctx context.Context, fn Func, inputs []any, opts ...Option) (*fx.GraphModule, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if err := o.validate(); err != nil {
		return nil, err
	}

	logger := ctxlog.FromContext(ctx)
	logger.Debug("Trace: Starting.", "name", o.name, "fake", o.fake, "factory", o.factory, "decompositions", len(o.table))

	tr := fx.NewTracer(o.root, o.leaves...)
	ctx = decomp.With(isolate(ctx), o.table)
	var fm *fake.Mode
	if o.fake {
		fm = fake.NewMode()
		ctx = fm.Enable(ctx)
	}
	if o.factory {
		ctx = proxy.NewMode(tr).Enable(ctx)
	}
	ctx = fx.WithModuleCaller(ctx, proxy.NewModuleCaller(tr))

	args, err := placeholders(tr, fm, inputs)
	if err != nil {
		return nil, err
	}
	out, err := fn(ctx, args...)
	if err != nil {
		logger.Debug("Trace: Traced function failed.", "name", o.name, "error", err)
		return nil, err
	}
	if err := output(tr, out); err != nil {
		return nil, err
	}

	gm := tr.GraphModule(o.name)
	logger.Debug("Trace: Finished.", "name", o.name, "nodes", gm.Graph().Len())
	return gm, nil
}

// isolate strips the scoped state of an enclosing trace from ctx: its
// interceptor, any fake mode and its module caller. Other modes stay.
func isolate(ctx context.Context) context.Context {
	ctx = dispatch.WithoutModes(ctx, func(m dispatch.Mode) bool {
		_, ok := m.(*proxy.Mode)
		return ok
	})
	return fx.WithoutModuleCaller(fake.Suspend(ctx))
}

// placeholders creates one placeholder per flattened input leaf and
// returns the inputs with tensor leaves tagged.
func placeholders(tr *fx.Tracer, fm *fake.Mode, inputs []any) ([]any, error) {
	leaves, spec := tree.Flatten([]any(inputs))
	for i, leaf := range leaves {
		n := tr.Placeholder("arg" + strconv.Itoa(i))
		v, ok := leaf.(tensor.Value)
		if !ok {
			continue
		}
		if t, ok := v.(*tensor.Tensor); ok && fm != nil {
			v = fm.FromTensor(t)
		}
		n.SetTensorMeta(v.Meta())
		leaves[i] = proxy.New(v, n, nil, tr)
	}
	args, err := tree.Unflatten(leaves, spec)
	if err != nil {
		return nil, err
	}
	return args.([]any), nil
}

// output records the graph output. Tagged leaves become their nodes and
// concrete tensors are interned as attributes.
func output(tr *fx.Tracer, out any) error {
	result, err := tree.MapErr(out, func(leaf any) (any, error) {
		t, ok := leaf.(*proxy.Tagged)
		if !ok {
			return leaf, nil
		}
		if t.Tracer() != tr {
			return nil, fmt.Errorf("output: %w: %s", proxy.ErrForeignValue, t)
		}
		return t.Node(), nil
	})
	if err != nil {
		return err
	}
	_, err = tr.Output(result)
	return err
}

// MakeFX returns fn as a function that traces it on the inputs it is given,
// with opts applied to every trace.
func MakeFX(fn Func, opts ...Option) func(ctx context.Context, inputs ...any) (*fx.GraphModule, error) {
	return func(ctx context.Context, inputs ...any) (*fx.GraphModule, error) {
		return Trace(ctx, fn, inputs, opts...)
	}
}

// SetStrict controls whether scalar extraction from a traced value without
// a known constant fails. The setting is process-wide.
func SetStrict(strict bool) {
	proxy.SetStrict(strict)
}
