package decomp

import (
	"context"
	"testing"

	"github.com/specialistvlad/opgraph/internal/aten"
	"github.com/specialistvlad/opgraph/internal/dispatch"
	"github.com/specialistvlad/opgraph/internal/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScopedTable(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, Current(ctx))

	inner := With(ctx, Core())
	assert.True(t, Current(inner).Has(aten.OpSilu))
	assert.Empty(t, Current(ctx), "the caller's context keeps its table")

	nested := With(inner, Core().Select(aten.OpT))
	assert.Len(t, Current(nested), 1)
	assert.Len(t, Current(inner), len(Core()))
}

func TestTableHelpers(t *testing.T) {
	core := Core()
	sel := core.Select(aten.OpSilu, aten.OpAdd)
	assert.Len(t, sel, 1)

	merged := Table(nil).Merge(sel, core.Select(aten.OpT))
	assert.Equal(t, []*dispatch.OpOverload{aten.OpSilu, aten.OpT}, merged.Ops())
}

// Each decomposition must agree with the kernel it replaces.
func TestCoreMatchesKernels(t *testing.T) {
	ctx := context.Background()
	x := tensor.FromValues([]int{2, 3}, -1, 0.5, 2, 3, -4, 0)
	w := tensor.FromValues([]int{4, 3}, 1, 0, 0, 0, 1, 0, 0, 0, 1, 1, 1, 1)
	b := tensor.FromValues([]int{4}, 0.1, 0.2, 0.3, 0.4)
	m := tensor.FromValues([]int{3, 2}, 1, 2, 3, 4, 5, 6)
	bias := tensor.FromValues([]int{2}, 1, -1)

	tests := []struct {
		name   string
		op     *dispatch.OpOverload
		args   []any
		kwargs map[string]any
	}{
		{"silu", aten.OpSilu, []any{x}, nil},
		{"addmm", aten.OpAddmm, []any{bias, x, m}, map[string]any{"beta": 2.0, "alpha": 0.5}},
		{"softmax", aten.OpSoftmax, []any{x, 1}, nil},
		{"_softmax", aten.OpSoftmaxImpl, []any{x, 0, false}, nil},
		{"mean", aten.OpMean, []any{x, []int{1}}, nil},
		{"mean all", aten.OpMean, []any{x, nil, true}, nil},
		{"t", aten.OpT, []any{x}, nil},
		{"sub", aten.OpSub, []any{x, tensor.FromValues([]int{3}, 1, 2, 3)}, map[string]any{"alpha": 2}},
		{"linear", aten.OpLinear, []any{x, w, b}, nil},
		{"linear 3d", aten.OpLinear, []any{tensor.FromValues([]int{1, 2, 3}, 1, 2, 3, 4, 5, 6), w}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			want, err := dispatch.Call(ctx, tt.op, tt.args, tt.kwargs)
			require.NoError(t, err)

			f, ok := Core().Lookup(tt.op)
			require.True(t, ok)
			got, err := Call(ctx, f, tt.op, tt.args, tt.kwargs)
			require.NoError(t, err)

			wt, gt := want.(*tensor.Tensor), got.(*tensor.Tensor)
			assert.Equal(t, wt.Shape(), gt.Shape())
			assert.True(t, tensor.AllClose(wt, gt, 1e-5), "want %v, got %v", wt, gt)
		})
	}
}
