package aten

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/specialistvlad/opgraph/internal/dispatch"
	"github.com/specialistvlad/opgraph/internal/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func values(t *testing.T, v tensor.Value) []float64 {
	t.Helper()
	tt, ok := v.(*tensor.Tensor)
	require.True(t, ok, "expected *tensor.Tensor, got %T", v)
	return tt.Values()
}

func TestPointwise(t *testing.T) {
	ctx := context.Background()
	a := tensor.FromValues([]int{2, 2}, 1, 2, 3, 4)
	b := tensor.FromValues([]int{2}, 10, 20)

	t.Run("add broadcasts", func(t *testing.T) {
		out, err := Add(ctx, a, b)
		require.NoError(t, err)
		assert.Equal(t, []int{2, 2}, out.Meta().Shape)
		assert.Equal(t, []float64{11, 22, 13, 24}, values(t, out))
	})

	t.Run("add with alpha", func(t *testing.T) {
		out, err := AddScaled(ctx, a, b, 2)
		require.NoError(t, err)
		assert.Equal(t, []float64{21, 42, 23, 44}, values(t, out))
	})

	t.Run("sub and scalar mul", func(t *testing.T) {
		d, err := Sub(ctx, a, b)
		require.NoError(t, err)
		out, err := MulScalar(ctx, d, -1)
		require.NoError(t, err)
		assert.Equal(t, []float64{9, 18, 7, 16}, values(t, out))
	})

	t.Run("incompatible shapes", func(t *testing.T) {
		_, err := Add(ctx, a, tensor.FromValues([]int{3}, 1, 2, 3))
		var shapeErr *ShapeError
		require.ErrorAs(t, err, &shapeErr)
		assert.Equal(t, "add", shapeErr.Op)
	})

	t.Run("comparison yields bool", func(t *testing.T) {
		out, err := Gt(ctx, a, 2)
		require.NoError(t, err)
		assert.Equal(t, tensor.Bool, out.Meta().DType)
		assert.Equal(t, []float64{0, 0, 1, 1}, values(t, out))
	})

	t.Run("integer tensor with float scalar", func(t *testing.T) {
		ints := tensor.Must(tensor.New([]int{2}, tensor.Int64, []float64{1, 2}))
		out, err := MulScalar(ctx, ints, 0.5)
		require.NoError(t, err)
		assert.Equal(t, tensor.Float32, out.Meta().DType)
		assert.Equal(t, []float64{0.5, 1}, values(t, out))
	})
}

func TestInplace(t *testing.T) {
	ctx := context.Background()

	t.Run("add_ writes through and returns self", func(t *testing.T) {
		a := tensor.FromValues([]int{3}, 1, 2, 3)
		out, err := AddScalarInplace(ctx, a, 2)
		require.NoError(t, err)
		assert.Same(t, a, out)
		assert.Equal(t, []float64{3, 4, 5}, a.Values())
	})

	t.Run("mutation through a view reaches the base", func(t *testing.T) {
		base := tensor.FromValues([]int{2, 2}, 1, 2, 3, 4)
		row, err := Select(ctx, base, 0, 1)
		require.NoError(t, err)
		_, err = Zero(ctx, row)
		require.NoError(t, err)
		assert.Equal(t, []float64{1, 2, 0, 0}, base.Values())
	})

	t.Run("broadcast result must fit self", func(t *testing.T) {
		a := tensor.FromValues([]int{2}, 1, 2)
		_, err := AddInplace(ctx, a, tensor.FromValues([]int{2, 2}, 1, 2, 3, 4))
		var shapeErr *ShapeError
		assert.ErrorAs(t, err, &shapeErr)
	})

	t.Run("schema marks the first argument mutable", func(t *testing.T) {
		for _, op := range []*dispatch.OpOverload{OpAddInplace, OpFill, OpCopy, OpUnsqueezeInplace} {
			assert.True(t, op.IsInplace(), op.String())
		}
		assert.False(t, OpAdd.IsInplace())
	})
}

func TestViews(t *testing.T) {
	ctx := context.Background()
	x := tensor.FromValues([]int{2, 3}, 0, 1, 2, 3, 4, 5)
	row := tensor.FromValues([]int{3}, 1, 2, 3)

	tests := []struct {
		name  string
		fn    func() (tensor.Value, error)
		shape []int
		want  []float64
	}{
		{"view", func() (tensor.Value, error) { return View(ctx, x, 3, -1) }, []int{3, 2}, []float64{0, 1, 2, 3, 4, 5}},
		{"transpose", func() (tensor.Value, error) { return Transpose(ctx, x, 0, 1) }, []int{3, 2}, []float64{0, 3, 1, 4, 2, 5}},
		{"t", func() (tensor.Value, error) { return T(ctx, x) }, []int{3, 2}, []float64{0, 3, 1, 4, 2, 5}},
		{"unsqueeze", func() (tensor.Value, error) { return Unsqueeze(ctx, x, -1) }, []int{2, 3, 1}, []float64{0, 1, 2, 3, 4, 5}},
		{"select", func() (tensor.Value, error) { return Select(ctx, x, 1, -1) }, []int{2}, []float64{2, 5}},
		{"slice", func() (tensor.Value, error) { return Slice(ctx, x, 1, 0, 3, 2) }, []int{2, 2}, []float64{0, 2, 3, 5}},
		{"expand", func() (tensor.Value, error) { return Expand(ctx, row, 2, -1) }, []int{2, 3}, []float64{1, 2, 3, 1, 2, 3}},
		{"permute", func() (tensor.Value, error) { return Permute(ctx, x, 1, 0) }, []int{3, 2}, []float64{0, 3, 1, 4, 2, 5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := tt.fn()
			require.NoError(t, err)
			assert.Equal(t, tt.shape, out.Meta().Shape)
			assert.Equal(t, tt.want, values(t, out))
			assert.True(t, out.(*tensor.Tensor).SameStorage(x) || out.(*tensor.Tensor).SameStorage(row), "views share storage")
		})
	}

	t.Run("view of a transposed tensor fails", func(t *testing.T) {
		tr, err := T(ctx, x)
		require.NoError(t, err)
		_, err = View(ctx, tr, 6)
		var shapeErr *ShapeError
		require.ErrorAs(t, err, &shapeErr)

		flat, err := Reshape(ctx, tr, 6)
		require.NoError(t, err)
		assert.Equal(t, []float64{0, 3, 1, 4, 2, 5}, values(t, flat))
	})
}

func TestInplaceView(t *testing.T) {
	ctx := context.Background()
	x := tensor.FromValues([]int{5}, 1, 2, 3, 4, 5)

	out, err := UnsqueezeInplace(ctx, x, -1)
	require.NoError(t, err)
	assert.Same(t, x, out)
	assert.Equal(t, []int{5, 1}, x.Shape())

	_, err = TransposeInplace(ctx, x, 0, 1)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 5}, x.Shape())
	assert.Equal(t, []float64{1, 2, 3, 4, 5}, x.Values())
}

func TestReductions(t *testing.T) {
	ctx := context.Background()
	x := tensor.FromValues([]int{2, 3}, 1, 2, 3, 4, 5, 6)

	s, err := Sum(ctx, x)
	require.NoError(t, err)
	assert.Empty(t, s.Meta().Shape)
	assert.Equal(t, []float64{21}, values(t, s))

	rows, err := SumDim(ctx, x, []int{1}, true)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 1}, rows.Meta().Shape)
	assert.Equal(t, []float64{6, 15}, values(t, rows))

	cols, err := Mean(ctx, x, []int{0}, false)
	require.NoError(t, err)
	assert.Equal(t, []float64{2.5, 3.5, 4.5}, values(t, cols))

	hi, err := Amax(ctx, x, []int{-1}, false)
	require.NoError(t, err)
	assert.Equal(t, []float64{3, 6}, values(t, hi))

	_, err = Mean(ctx, tensor.Must(tensor.New([]int{2}, tensor.Int64, []float64{1, 2})), nil, false)
	assert.Error(t, err)
}

func TestLinearAlgebra(t *testing.T) {
	ctx := context.Background()
	a := tensor.FromValues([]int{2, 2}, 1, 2, 3, 4)
	w := tensor.FromValues([]int{3, 2}, 1, 0, 0, 1, 1, 1)
	bias := tensor.FromValues([]int{3}, 0.5, 0.5, 0.5)

	out, err := Linear(ctx, a, w, bias)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3}, out.Meta().Shape)
	assert.Equal(t, []float64{1.5, 2.5, 3.5, 3.5, 4.5, 7.5}, values(t, out))

	wt, err := T(ctx, w)
	require.NoError(t, err)
	viaAddmm, err := Addmm(ctx, bias, a, wt)
	require.NoError(t, err)
	assert.True(t, tensor.AllClose(out.(*tensor.Tensor), viaAddmm.(*tensor.Tensor), 1e-6))

	_, err = MM(ctx, a, w)
	var shapeErr *ShapeError
	assert.ErrorAs(t, err, &shapeErr)
}

func TestSoftmaxAndCat(t *testing.T) {
	ctx := context.Background()
	x := tensor.FromValues([]int{2, 2}, 0, 0, 1, 3)

	sm, err := Softmax(ctx, x, 1)
	require.NoError(t, err)
	got := values(t, sm)
	assert.InDelta(t, 0.5, got[0], 1e-6)
	assert.InDelta(t, 1.0, got[2]+got[3], 1e-6)

	c, err := Cat(ctx, 0, x, tensor.FromValues([]int{1, 2}, 7, 8))
	require.NoError(t, err)
	assert.Equal(t, []int{3, 2}, c.Meta().Shape)
	assert.Equal(t, []float64{0, 0, 1, 3, 7, 8}, values(t, c))

	c, err = Cat(ctx, 1, x, x)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0, 0, 0, 1, 3, 1, 3}, values(t, c))
}

func TestFactoriesAndItem(t *testing.T) {
	ctx := context.Background()

	t.Run("full infers dtype from fill", func(t *testing.T) {
		out, err := Full(ctx, []int{2}, 3)
		require.NoError(t, err)
		assert.Equal(t, tensor.Int64, out.Meta().DType)
		assert.Equal(t, []float64{3, 3}, values(t, out))
	})

	t.Run("full with a tensor fill extracts its value", func(t *testing.T) {
		out, err := Full(ctx, []int{2, 2}, tensor.Scalar(1.5, tensor.Float32))
		require.NoError(t, err)
		assert.Equal(t, []float64{1.5, 1.5, 1.5, 1.5}, values(t, out))
	})

	t.Run("negative size", func(t *testing.T) {
		_, err := Zeros(ctx, 2, -1)
		var shapeErr *ShapeError
		assert.ErrorAs(t, err, &shapeErr)
	})

	t.Run("item of a multi-element tensor fails", func(t *testing.T) {
		_, err := Item(ctx, tensor.FromValues([]int{2}, 1, 2))
		assert.Error(t, err)
	})

	t.Run("lift_fresh passes the tensor through", func(t *testing.T) {
		lit := tensor.FromValues([]int{2}, 1, 2)
		out, err := Tensor(ctx, lit)
		require.NoError(t, err)
		assert.Same(t, lit, out)
	})

	t.Run("arange", func(t *testing.T) {
		out, err := Arange(ctx, 4)
		require.NoError(t, err)
		assert.Equal(t, []float64{0, 1, 2, 3}, values(t, out))
	})
}

func TestMetadataOnly(t *testing.T) {
	ctx := dispatch.WithMetadataOnly(context.Background())
	x := tensor.FromValues([]int{4, 3}, make([]float64, 12)...)
	w := tensor.FromValues([]int{2, 3}, make([]float64, 6)...)

	out, err := Linear(ctx, x, w, nil)
	require.NoError(t, err)
	ft := out.(*tensor.Tensor)
	assert.True(t, ft.IsFake())
	assert.Equal(t, []int{4, 2}, ft.Shape())
	assert.Nil(t, ft.Values())

	_, err = Item(context.Background(), tensor.NewFake(x.Meta()))
	assert.True(t, errors.Is(err, tensor.ErrNoStorage))
}

func TestNonzero(t *testing.T) {
	out, err := Nonzero(context.Background(), tensor.FromValues([]int{2, 2}, 0, 1, 1, 0))
	require.NoError(t, err)
	assert.Equal(t, []int{2, 2}, out.Meta().Shape)
	assert.Equal(t, []float64{0, 1, 1, 0}, values(t, out))
	assert.True(t, OpNonzero.HasTag(dispatch.TagDynamicOutputShape))
}

func TestRegistryIsConsistent(t *testing.T) {
	require.NoError(t, dispatch.Default().Validate(context.Background()))
	op, ok := dispatch.Default().Lookup("aten::unsqueeze_")
	require.True(t, ok)
	assert.Same(t, OpUnsqueezeInplace, op)
}

func TestMultiOutput(t *testing.T) {
	ctx := context.Background()
	x := tensor.FromValues([]int{2, 3}, 0, 1, 2, 3, 4, 5)

	t.Run("unbind", func(t *testing.T) {
		rows, err := Unbind(ctx, x, 0)
		require.NoError(t, err)
		require.Len(t, rows, 2)
		assert.Equal(t, []float64{3, 4, 5}, values(t, rows[1]))

		cols, err := Unbind(ctx, x, -1)
		require.NoError(t, err)
		require.Len(t, cols, 3)
		assert.Equal(t, []int{2}, cols[2].Meta().Shape)
		assert.Equal(t, []float64{2, 5}, values(t, cols[2]))
		assert.True(t, cols[2].(*tensor.Tensor).SameStorage(x), "unbind returns views")

		_, err = Unbind(ctx, tensor.Scalar(1, tensor.Float32), 0)
		var shapeErr *ShapeError
		require.ErrorAs(t, err, &shapeErr)
	})

	t.Run("split", func(t *testing.T) {
		chunks, err := Split(ctx, x, 2, 1)
		require.NoError(t, err)
		require.Len(t, chunks, 2)
		assert.Equal(t, []int{2, 2}, chunks[0].Meta().Shape)
		assert.Equal(t, []float64{0, 1, 3, 4}, values(t, chunks[0]))
		assert.Equal(t, []int{2, 1}, chunks[1].Meta().Shape)
		assert.Equal(t, []float64{2, 5}, values(t, chunks[1]))

		_, err = Split(ctx, x, 0, 1)
		var shapeErr *ShapeError
		require.ErrorAs(t, err, &shapeErr)
	})

	t.Run("max along a dimension", func(t *testing.T) {
		m := tensor.FromValues([]int{2, 3}, 1, 7, 7, 4, 2, 9)
		vals, idx, err := MaxDim(ctx, m, 1, false)
		require.NoError(t, err)
		assert.Equal(t, []int{2}, vals.Meta().Shape)
		assert.Equal(t, []float64{7, 9}, values(t, vals))
		assert.Equal(t, []float64{1, 2}, values(t, idx), "the first maximum wins")
		assert.Equal(t, tensor.Int64, idx.Meta().DType)

		vals, idx, err = MaxDim(ctx, m, 0, true)
		require.NoError(t, err)
		assert.Equal(t, []int{1, 3}, vals.Meta().Shape)
		assert.Equal(t, []float64{4, 7, 9}, values(t, vals))
		assert.Equal(t, []float64{1, 0, 1}, values(t, idx))
	})

	t.Run("max propagates NaN", func(t *testing.T) {
		m := tensor.FromValues([]int{3}, 1, math.NaN(), 5)
		vals, idx, err := MaxDim(ctx, m, 0, false)
		require.NoError(t, err)
		assert.True(t, math.IsNaN(values(t, vals)[0]))
		assert.Equal(t, []float64{1}, values(t, idx))
	})

	t.Run("max of an empty dimension fails", func(t *testing.T) {
		_, _, err := MaxDim(ctx, tensor.FromValues([]int{2, 0}), 1, false)
		var shapeErr *ShapeError
		require.ErrorAs(t, err, &shapeErr)
	})

	t.Run("fake inputs give fake outputs", func(t *testing.T) {
		vals, idx, err := MaxDim(dispatch.WithMetadataOnly(ctx), x, 1, true)
		require.NoError(t, err)
		assert.True(t, vals.(*tensor.Tensor).IsFake())
		assert.Equal(t, []int{2, 1}, idx.Meta().Shape)
		assert.Equal(t, tensor.Int64, idx.Meta().DType)
	})
}
