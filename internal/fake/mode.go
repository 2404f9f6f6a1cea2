package fake

import (
	"context"
	"errors"

	"github.com/specialistvlad/opgraph/internal/ctxlog"
	"github.com/specialistvlad/opgraph/internal/dispatch"
	"github.com/specialistvlad/opgraph/internal/tensor"
	"github.com/specialistvlad/opgraph/internal/tree"
)

// Mode is a dispatch mode running every operator on fake tensors. Real
// tensor arguments are converted on entry; the same real tensor always maps
// to the same fake tensor for the life of the mode.
type Mode struct {
	memo map[*tensor.Tensor]*tensor.Tensor
}

// NewMode returns a mode with an empty conversion memo.
func NewMode() *Mode {
	return &Mode{memo: make(map[*tensor.Tensor]*tensor.Tensor)}
}

// FromTensor returns the fake counterpart of t. Fake tensors are returned
// unchanged.
func (m *Mode) FromTensor(t *tensor.Tensor) *tensor.Tensor {
	if t.IsFake() {
		return t
	}
	if f, ok := m.memo[t]; ok {
		return f
	}
	f := t.ToFake()
	m.memo[t] = f
	return f
}

// FromTree converts every real tensor leaf of v.
func (m *Mode) FromTree(v any) any {
	return tree.Map(v, m.convert)
}

func (m *Mode) convert(leaf any) any {
	if t, ok := leaf.(*tensor.Tensor); ok {
		return m.FromTensor(t)
	}
	return leaf
}

// Dispatch runs op in metadata-only form.
func (m *Mode) Dispatch(ctx context.Context, op *dispatch.OpOverload, args []any, kwargs map[string]any) (any, error) {
	switch {
	case op.HasTag(dispatch.TagDynamicOutputShape):
		return nil, &UnsupportedOperatorError{Op: op, Err: ErrDynamicOutputShape}
	case op.HasTag(dispatch.TagDataDependentOutput):
		return nil, &UnsupportedOperatorError{Op: op, Err: ErrDataDependentOutput}
	}
	fargs, fkwargs := tree.MapArgs(args, kwargs, m.convert)
	out, err := dispatch.Call(dispatch.WithMetadataOnly(ctx), op, fargs, fkwargs)
	if err != nil {
		ctxlog.FromContext(ctx).Debug("Fake: Operator failed.", "op", op.String(), "error", err)
		if errors.Is(err, tensor.ErrNoStorage) {
			return nil, &UnsupportedOperatorError{Op: op, Err: ErrNoFakeKernel}
		}
		return nil, &UnsupportedOperatorError{Op: op, Err: err}
	}
	return out, nil
}

// Enable pushes m on the dispatch mode stack.
func (m *Mode) Enable(ctx context.Context) context.Context {
	return dispatch.PushMode(ctx, m)
}

// Suspend returns a context without any fake mode, in which kernels
// compute real elements.
func Suspend(ctx context.Context) context.Context {
	ctx = dispatch.WithoutModes(ctx, func(m dispatch.Mode) bool {
		_, ok := m.(*Mode)
		return ok
	})
	return dispatch.WithoutMetadataOnly(ctx)
}

// Active reports whether a fake mode is on the stack.
func Active(ctx context.Context) bool {
	for _, m := range dispatch.Modes(ctx) {
		if _, ok := m.(*Mode); ok {
			return true
		}
	}
	return false
}
