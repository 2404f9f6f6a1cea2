package fake

import (
	"context"
	"testing"

	"github.com/specialistvlad/opgraph/internal/aten"
	"github.com/specialistvlad/opgraph/internal/dispatch"
	"github.com/specialistvlad/opgraph/internal/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromTensorIsMemoized(t *testing.T) {
	m := NewMode()
	real := tensor.FromValues([]int{2, 3}, 1, 2, 3, 4, 5, 6)

	f := m.FromTensor(real)
	assert.True(t, f.IsFake())
	assert.True(t, real.Meta().Equal(f.Meta()))
	assert.Same(t, f, m.FromTensor(real))
	assert.Same(t, f, m.FromTensor(f))
	assert.Nil(t, f.Values())
}

func TestModeInfersMetadata(t *testing.T) {
	m := NewMode()
	ctx := m.Enable(context.Background())
	x := tensor.FromValues([]int{2, 3}, 1, 2, 3, 4, 5, 6)
	w := tensor.FromValues([]int{4, 3}, make([]float64, 12)...)

	out, err := aten.Linear(ctx, x, w, nil)
	require.NoError(t, err)
	ft, ok := out.(*tensor.Tensor)
	require.True(t, ok)
	assert.True(t, ft.IsFake())
	assert.Equal(t, []int{2, 4}, ft.Shape())
	assert.Equal(t, tensor.Float32, ft.DType())

	z, err := aten.Zeros(ctx, 5, 5)
	require.NoError(t, err)
	assert.True(t, z.(*tensor.Tensor).IsFake(), "factories allocate fake outputs")

	assert.Equal(t, []float64{1, 2, 3, 4, 5, 6}, x.Values(), "real inputs are untouched")
}

func TestModeRejectsDataDependentOperators(t *testing.T) {
	ctx := NewMode().Enable(context.Background())
	x := tensor.FromValues([]int{3}, 0, 1, 2)

	tests := []struct {
		name string
		call func() error
		want error
		op   *dispatch.OpOverload
	}{
		{"nonzero", func() error { _, err := aten.Nonzero(ctx, x); return err }, ErrDynamicOutputShape, aten.OpNonzero},
		{"item", func() error { _, err := aten.Item(ctx, x); return err }, ErrDataDependentOutput, aten.OpLocalScalarDense},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			require.ErrorIs(t, err, tt.want)
			var unsupported *UnsupportedOperatorError
			require.ErrorAs(t, err, &unsupported)
			assert.Same(t, tt.op, unsupported.Op)
		})
	}
}

func TestModeWrapsShapeErrors(t *testing.T) {
	ctx := NewMode().Enable(context.Background())
	_, err := aten.MM(ctx, tensor.FromValues([]int{2, 3}, make([]float64, 6)...), tensor.FromValues([]int{2, 3}, make([]float64, 6)...))
	var unsupported *UnsupportedOperatorError
	require.ErrorAs(t, err, &unsupported)
	assert.Same(t, aten.OpMM, unsupported.Op)
	var shapeErr *aten.ShapeError
	require.ErrorAs(t, err, &shapeErr)
}

func TestSuspend(t *testing.T) {
	ctx := NewMode().Enable(context.Background())
	assert.True(t, Active(ctx))

	real := Suspend(dispatch.WithMetadataOnly(ctx))
	assert.False(t, Active(real))
	assert.False(t, dispatch.MetadataOnly(real))

	out, err := aten.Ones(real, 2)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 1}, out.(*tensor.Tensor).Values())
}
