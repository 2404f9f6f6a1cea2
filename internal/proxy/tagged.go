package proxy

import (
	"context"
	"fmt"

	"github.com/specialistvlad/opgraph/internal/dispatch"
	"github.com/specialistvlad/opgraph/internal/fx"
	"github.com/specialistvlad/opgraph/internal/tensor"
)

// Tagged is a value under trace: the underlying value, the graph node that
// produced it and, when statically known, a real copy of its contents.
//
// A Tagged keeps its own metadata record. Operators that restride their
// argument in place update the underlying value and, separately, this
// record, so both agree with the node's metadata.
type Tagged struct {
	elem     tensor.Value
	node     *fx.Node
	constant *tensor.Tensor
	tracer   *fx.Tracer
	meta     tensor.Meta
}

// New tags elem with node. It panics with *LayeringViolation when elem is
// already tagged by the same tracer; tagged values of other traces may be
// wrapped.
func New(elem tensor.Value, node *fx.Node, constant *tensor.Tensor, tracer *fx.Tracer) *Tagged {
	if inner, ok := elem.(*Tagged); ok && inner.tracer == tracer {
		panic(&LayeringViolation{Inner: inner})
	}
	return &Tagged{
		elem:     elem,
		node:     node,
		constant: constant,
		tracer:   tracer,
		meta:     elem.Meta(),
	}
}

// Elem returns the underlying value.
func (t *Tagged) Elem() tensor.Value { return t.elem }

// Node returns the node currently producing the value. In-place operators
// move it to their own node.
func (t *Tagged) Node() *fx.Node { return t.node }

// Constant returns the statically known contents, nil if unknown.
func (t *Tagged) Constant() *tensor.Tensor { return t.constant }

// Tracer returns the owning tracer.
func (t *Tagged) Tracer() *fx.Tracer { return t.tracer }

// Meta returns the wrapper's own metadata record. In-place views update it
// without touching the underlying value.
func (t *Tagged) Meta() tensor.Meta { return t.meta.Clone() }

// SetMeta replaces the wrapper's metadata record. The underlying value is
// not touched.
func (t *Tagged) SetMeta(m tensor.Meta) error {
	t.meta = m.Clone()
	return nil
}

// DispatchHandler makes operators on t reach its tracer even when no mode
// is active.
func (t *Tagged) DispatchHandler() dispatch.Mode {
	return handler{tracer: t.tracer}
}

func (t *Tagged) String() string {
	name := "<detached>"
	if t.node != nil {
		name = t.node.String()
	}
	if t.constant != nil {
		return fmt.Sprintf("Tagged(%s, %s, constant=%v)", name, t.meta, t.constant)
	}
	return fmt.Sprintf("Tagged(%s, %s)", name, t.meta)
}

type handler struct {
	tracer *fx.Tracer
}

func (h handler) Dispatch(ctx context.Context, op *dispatch.OpOverload, args []any, kwargs map[string]any) (any, error) {
	return Call(ctx, h.tracer, op, args, kwargs)
}
