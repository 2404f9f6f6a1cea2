package trace

import (
	"context"

	"github.com/specialistvlad/opgraph/internal/ctxlog"
	"github.com/specialistvlad/opgraph/internal/decomp"
	"github.com/specialistvlad/opgraph/internal/fx"
	"github.com/specialistvlad/opgraph/internal/proxy"
	"github.com/specialistvlad/opgraph/internal/tensor"
)

// Decompose replays gm on args with table active and returns the graph the
// replay records. Placeholders keep their names, attributes keep their
// paths and submodules stay call_module nodes. No operator with an entry in
// table appears in the result.
func Decompose(ctx context.Context, gm *fx.GraphModule, table decomp.Table, args ...any) (*fx.GraphModule, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Decompose: Starting.", "module", gm.Name(), "decompositions", len(table))

	tr := fx.NewTracer(gm, submodulePaths(gm)...)
	ctx = decomp.With(isolate(ctx), table)
	ctx = proxy.NewMode(tr).Enable(ctx)
	ctx = fx.WithModuleCaller(ctx, proxy.NewModuleCaller(tr))

	copies := make(map[*tensor.Tensor]*tensor.Tensor)

	it := fx.NewInterpreter(gm, fx.Hooks{
		Placeholder: func(_ context.Context, n *fx.Node, arg any) (any, error) {
			p := tr.Placeholder(n.Name)
			if meta, ok := n.TensorMeta(); ok {
				p.SetTensorMeta(meta)
			}
			v, ok := arg.(tensor.Value)
			if !ok {
				return arg, nil
			}
			p.SetTensorMeta(v.Meta())
			return proxy.New(v, p, nil, tr), nil
		},
		// The replay computes on a copy of each attribute so in-place nodes
		// leave gm's attributes as they were; the new module interns the
		// originals.
		GetAttr: func(_ context.Context, _ *fx.Node, attr *tensor.Tensor) (any, error) {
			n, err := tr.Constant(attr)
			if err != nil {
				return nil, err
			}
			work, ok := copies[attr]
			if !ok {
				work = attr.Clone()
				copies[attr] = work
			}
			var constant *tensor.Tensor
			if !attr.IsParameter() {
				constant = attr.Clone()
			}
			return proxy.New(work, n, constant, tr), nil
		},
		Output: func(_ context.Context, _ *fx.Node, result any) (any, error) {
			if err := output(tr, result); err != nil {
				return nil, err
			}
			return result, nil
		},
	})
	if _, err := it.Run(ctx, args...); err != nil {
		return nil, err
	}

	out := tr.GraphModule(gm.Name())
	logger.Debug("Decompose: Finished.", "module", gm.Name(), "nodes", out.Graph().Len())
	return out, nil
}

func submodulePaths(gm *fx.GraphModule) []string {
	children := gm.Children()
	paths := make([]string, len(children))
	for i, c := range children {
		paths[i] = c.Name
	}
	return paths
}
