package proxy

import (
	"context"
	"fmt"

	"github.com/specialistvlad/opgraph/internal/ctxlog"
	"github.com/specialistvlad/opgraph/internal/dispatch"
	"github.com/specialistvlad/opgraph/internal/fx"
	"github.com/specialistvlad/opgraph/internal/tree"
)

// ModuleCaller records the tracer's leaf modules as single call_module
// nodes. Other modules run inline, so their operators are traced
// individually.
type ModuleCaller struct {
	tracer *fx.Tracer
}

// NewModuleCaller returns a module caller for tracer.
func NewModuleCaller(tracer *fx.Tracer) *ModuleCaller {
	return &ModuleCaller{tracer: tracer}
}

// CallModule implements fx.ModuleCaller. A leaf runs on the underlying
// values with this tracer out of the way, and its single tensor result is
// tagged with the call_module node.
func (c *ModuleCaller) CallModule(ctx context.Context, m fx.Module, args []any) (any, error) {
	path, leaf := c.tracer.LeafPath(m)
	if !leaf {
		return m.Forward(ctx, args...)
	}
	nodeArgs, _, err := unwrapNodes(c.tracer, args, nil)
	if err != nil {
		return nil, fmt.Errorf("module %s: %w", path, err)
	}
	n, err := c.tracer.CallModule(m, nodeArgs)
	if err != nil {
		return nil, err
	}
	ctxlog.FromContext(ctx).Debug("Tracer: Appended leaf module.", "node", n.Name, "module", path)

	inner := dispatch.WithoutModes(ctx, func(mode dispatch.Mode) bool {
		pm, ok := mode.(*Mode)
		return ok && pm.tracer == c.tracer
	})
	inner = fx.WithoutModuleCaller(inner)
	elems := tree.Map(args, unwrapElem(c.tracer)).([]any)
	out, err := m.Forward(inner, elems...)
	if err != nil {
		return nil, fmt.Errorf("module %s: %w", path, err)
	}
	return wrap(c.tracer, "module "+path, n, out, nil, nil)
}
