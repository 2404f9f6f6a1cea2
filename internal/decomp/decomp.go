package decomp

import (
	"context"
	"maps"
	"sort"

	"github.com/specialistvlad/opgraph/internal/dispatch"
)

// Func replaces an operator. It receives the call's arguments bound against
// the operator schema (defaults filled in) and issues its own operator calls,
// each of which is dispatched independently.
type Func func(ctx context.Context, args []any) (any, error)

// Table maps operators to their replacements. A table is never mutated while
// a trace is using it.
type Table map[*dispatch.OpOverload]Func

// Lookup returns the replacement for op, if any.
func (t Table) Lookup(op *dispatch.OpOverload) (Func, bool) {
	f, ok := t[op]
	return f, ok
}

// Has reports whether op has an entry.
func (t Table) Has(op *dispatch.OpOverload) bool {
	_, ok := t[op]
	return ok
}

// Ops returns the table's keys sorted by qualified name.
func (t Table) Ops() []*dispatch.OpOverload {
	ops := make([]*dispatch.OpOverload, 0, len(t))
	for op := range t {
		ops = append(ops, op)
	}
	sort.Slice(ops, func(i, j int) bool { return ops[i].QualifiedName() < ops[j].QualifiedName() })
	return ops
}

// Merge returns a new table holding the entries of t overridden by others.
func (t Table) Merge(others ...Table) Table {
	out := maps.Clone(t)
	if out == nil {
		out = Table{}
	}
	for _, o := range others {
		maps.Copy(out, o)
	}
	return out
}

// Select returns the subset of t for the given operators. Operators without
// an entry are ignored.
func (t Table) Select(ops ...*dispatch.OpOverload) Table {
	out := Table{}
	for _, op := range ops {
		if f, ok := t[op]; ok {
			out[op] = f
		}
	}
	return out
}

type tableKey struct{}

// With returns a context in which table is the active decomposition table.
// The caller's context keeps whatever table it had, so the previous table is
// back in effect as soon as the caller stops using the derived context.
func With(ctx context.Context, table Table) context.Context {
	return context.WithValue(ctx, tableKey{}, table)
}

// Current returns the active table. The default table is empty.
func Current(ctx context.Context) Table {
	t, _ := ctx.Value(tableKey{}).(Table)
	return t
}

// Call binds args against op's schema and runs f.
func Call(ctx context.Context, f Func, op *dispatch.OpOverload, args []any, kwargs map[string]any) (any, error) {
	bound, err := op.Schema.Bind(args, kwargs)
	if err != nil {
		return nil, err
	}
	return f(ctx, bound)
}
