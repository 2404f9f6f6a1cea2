package proxy

import (
	"context"
	"testing"

	"github.com/specialistvlad/opgraph/internal/aten"
	"github.com/specialistvlad/opgraph/internal/decomp"
	"github.com/specialistvlad/opgraph/internal/dispatch"
	"github.com/specialistvlad/opgraph/internal/fake"
	"github.com/specialistvlad/opgraph/internal/fx"
	"github.com/specialistvlad/opgraph/internal/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// input tags a real tensor with a fresh placeholder of tr.
func input(tr *fx.Tracer, v *tensor.Tensor) *Tagged {
	n := tr.Placeholder("arg0")
	n.SetTensorMeta(v.Meta())
	return New(v, n, nil, tr)
}

func tagged(t *testing.T, v any) *Tagged {
	t.Helper()
	tv, ok := v.(*Tagged)
	require.True(t, ok, "expected *Tagged, got %T", v)
	return tv
}

func TestNewLayering(t *testing.T) {
	tr := fx.NewTracer(nil)
	x := input(tr, tensor.FromValues([]int{1}, 1))

	assert.PanicsWithValue(t, &LayeringViolation{Inner: x}, func() {
		New(x, x.Node(), nil, tr)
	})

	other := fx.NewTracer(nil)
	nested := New(x, other.Placeholder("arg0"), nil, other)
	assert.Same(t, x, nested.Elem())
	assert.Equal(t, x.Meta(), nested.Meta())
}

func TestCallRecordsAndComputes(t *testing.T) {
	ctx := context.Background()
	tr := fx.NewTracer(nil)
	x := input(tr, tensor.FromValues([]int{2}, 0, 1))

	s, err := aten.Sin(ctx, x)
	require.NoError(t, err)
	y, err := aten.AddScalar(ctx, s, 1)
	require.NoError(t, err)

	out := tagged(t, y)
	assert.Equal(t, "add", out.Node().Name)
	assert.Equal(t, []any{tagged(t, s).Node(), 1.0}, out.Node().Args)
	assert.Nil(t, out.Constant())
	assert.InDeltaSlice(t, []float64{1, 1.8414709848}, out.Elem().(*tensor.Tensor).Values(), 1e-6)

	meta, ok := out.Node().TensorMeta()
	require.True(t, ok)
	assert.Equal(t, []int{2}, meta.Shape)
}

func TestCallInplace(t *testing.T) {
	ctx := context.Background()
	tr := fx.NewTracer(nil)
	x := input(tr, tensor.FromValues([]int{3}, 1, 2, 3))

	c, err := aten.Clone(ctx, x)
	require.NoError(t, err)
	x2 := tagged(t, c)

	t.Run("in-place view restrides wrapper and value", func(t *testing.T) {
		out, err := aten.UnsqueezeInplace(ctx, x2, -1)
		require.NoError(t, err)
		assert.Same(t, x2, out)
		assert.Equal(t, "unsqueeze_", x2.Node().Name)
		assert.Equal(t, []int{3, 1}, x2.Meta().Shape)
		assert.Equal(t, []int{3, 1}, x2.Elem().Meta().Shape)
		meta, ok := x2.Node().TensorMeta()
		require.True(t, ok)
		assert.Equal(t, x.Meta().Dim()+1, meta.Dim())
	})

	t.Run("in-place arithmetic moves the node", func(t *testing.T) {
		before := x2.Node()
		out, err := aten.AddScalarInplace(ctx, x2, 1)
		require.NoError(t, err)
		assert.Same(t, x2, out)
		assert.NotSame(t, before, x2.Node())
		assert.Equal(t, []any{before, 1.0}, x2.Node().Args)
		assert.Equal(t, []float64{2, 3, 4}, x2.Elem().(*tensor.Tensor).Values())
	})

	assert.Equal(t, []float64{1, 2, 3}, x.Elem().(*tensor.Tensor).Values(), "clone source is untouched")
}

func TestScalarExtraction(t *testing.T) {
	tr := fx.NewTracer(nil)
	ctx := NewMode(tr).Enable(context.Background())

	t.Run("known constant", func(t *testing.T) {
		lit, err := aten.Tensor(ctx, tensor.Scalar(1, tensor.Float32))
		require.NoError(t, err)
		val := tagged(t, lit)
		require.NotNil(t, val.Constant())

		_, err = aten.AddScalarInplace(ctx, val, 2)
		require.NoError(t, err)
		got, err := aten.Item(ctx, val)
		require.NoError(t, err)
		assert.Equal(t, 3.0, got)
	})

	t.Run("traced input", func(t *testing.T) {
		x := input(tr, tensor.Scalar(4, tensor.Float32))
		_, err := aten.Item(ctx, x)
		require.ErrorIs(t, err, ErrDataDependentControlFlow)
		var dd *DataDependentError
		require.ErrorAs(t, err, &dd)
		assert.Same(t, aten.OpLocalScalarDense, dd.Op)
	})

	t.Run("constants do not survive mixing with traced values", func(t *testing.T) {
		lit, err := aten.Tensor(ctx, tensor.Scalar(1, tensor.Float32))
		require.NoError(t, err)
		x := input(tr, tensor.Scalar(4, tensor.Float32))
		sum, err := aten.Add(ctx, lit, x)
		require.NoError(t, err)
		assert.Nil(t, tagged(t, sum).Constant())
	})

	t.Run("lenient mode falls through", func(t *testing.T) {
		SetStrict(false)
		defer SetStrict(true)
		x := input(tr, tensor.Scalar(4, tensor.Float32))
		got, err := aten.Item(ctx, x)
		require.NoError(t, err)
		assert.Equal(t, 4.0, got)
		assert.NotEmpty(t, tr.Graph().Calls(aten.OpLocalScalarDense))
	})
}

func TestModeTracesFactories(t *testing.T) {
	tr := fx.NewTracer(nil)
	ctx := NewMode(tr).Enable(context.Background())

	lit := tensor.FromValues([]int{2}, 5, 6)
	v, err := aten.Tensor(ctx, lit)
	require.NoError(t, err)
	val := tagged(t, v)
	assert.Same(t, aten.OpLiftFreshCopy, val.Node().Op(), "fresh literals are copied")
	assert.NotSame(t, lit, val.Constant())
	assert.True(t, tensor.AllClose(lit, val.Constant(), 0))

	z, err := aten.Zeros(ctx, 2)
	require.NoError(t, err)
	assert.Same(t, aten.OpZeros, tagged(t, z).Node().Op())
	assert.Nil(t, tagged(t, z).Constant(), "factories are never folded")

	lifted, err := dispatch.Call(ctx, aten.OpLift, []any{lit}, nil)
	require.NoError(t, err)
	assert.Same(t, lit, lifted)

	attrs := tr.Graph().Filter(func(n *fx.Node) bool { return n.Kind == fx.GetAttr })
	require.Len(t, attrs, 1)
	assert.Equal(t, "_tensor_constant0", attrs[0].TargetName())
}

func TestDecompositionBypassesRecording(t *testing.T) {
	tr := fx.NewTracer(nil)
	ctx := decomp.With(NewMode(tr).Enable(context.Background()), decomp.Core())
	x := input(tr, tensor.FromValues([]int{2}, -1, 1))

	y, err := aten.Silu(ctx, x)
	require.NoError(t, err)
	assert.Empty(t, tr.Graph().Calls(aten.OpSilu))
	assert.Len(t, tr.Graph().Calls(aten.OpSigmoid), 1)
	assert.Len(t, tr.Graph().Calls(aten.OpMul), 1)
	assert.Same(t, aten.OpMul, tagged(t, y).Node().Op())
}

func TestForeignValue(t *testing.T) {
	ctx := context.Background()
	a := fx.NewTracer(nil)
	b := fx.NewTracer(nil)
	x := input(a, tensor.FromValues([]int{1}, 1))
	y := input(b, tensor.FromValues([]int{1}, 2))

	_, err := aten.Add(ctx, x, y)
	require.ErrorIs(t, err, ErrForeignValue)
}

func TestFakeUnderMode(t *testing.T) {
	tr := fx.NewTracer(nil)
	fm := fake.NewMode()
	ctx := NewMode(tr).Enable(fm.Enable(context.Background()))
	x := input(tr, fm.FromTensor(tensor.FromValues([]int{2, 2}, 1, 2, 3, 4)))

	lit, err := aten.Tensor(ctx, tensor.Scalar(2, tensor.Float32))
	require.NoError(t, err)
	assert.True(t, tagged(t, lit).Elem().(*tensor.Tensor).IsFake())
	assert.False(t, tagged(t, lit).Constant().IsFake())

	y, err := aten.Mul(ctx, x, lit)
	require.NoError(t, err)
	out := tagged(t, y)
	assert.True(t, out.Elem().(*tensor.Tensor).IsFake())
	assert.Equal(t, []int{2, 2}, out.Meta().Shape)

	_, err = aten.Nonzero(ctx, x)
	require.ErrorIs(t, err, fake.ErrDynamicOutputShape)
}

type double struct{ factor float64 }

func (d *double) Forward(ctx context.Context, args ...any) (any, error) {
	return aten.MulScalar(ctx, args[0].(tensor.Value), d.factor)
}

type pair struct {
	first, second fx.Module
}

func (p *pair) Children() []fx.NamedModule {
	return []fx.NamedModule{{Name: "first", Module: p.first}, {Name: "second", Module: p.second}}
}

func (p *pair) Forward(ctx context.Context, args ...any) (any, error) {
	h, err := fx.Invoke(ctx, p.first, args...)
	if err != nil {
		return nil, err
	}
	return fx.Invoke(ctx, p.second, h)
}

func TestModuleCaller(t *testing.T) {
	root := &pair{first: &double{factor: 2}, second: &double{factor: 2}}
	tr := fx.NewTracer(root, "second")
	ctx := fx.WithModuleCaller(NewMode(tr).Enable(context.Background()), NewModuleCaller(tr))
	x := input(tr, tensor.FromValues([]int{1}, 3))

	out, err := root.Forward(ctx, x)
	require.NoError(t, err)
	y := tagged(t, out)
	assert.Equal(t, fx.CallModule, y.Node().Kind)
	assert.Equal(t, "second", y.Node().TargetName())
	assert.Equal(t, []float64{12}, y.Elem().(*tensor.Tensor).Values())
	assert.Len(t, tr.Graph().Calls(aten.OpMulScalar), 1, "only the inlined module is traced")
}

func TestCallMultiOutput(t *testing.T) {
	ctx := context.Background()
	tr := fx.NewTracer(nil)
	v := tensor.FromValues([]int{2, 2}, 1, 2, 3, 4)
	n := tr.Placeholder("arg0")
	n.SetTensorMeta(v.Meta())
	x := New(v, n, v.Clone(), tr)

	parts, err := aten.Unbind(ctx, x, 0)
	require.NoError(t, err)
	require.Len(t, parts, 2)
	unbind := tr.Graph().Calls(aten.OpUnbind)
	require.Len(t, unbind, 1)
	second := tagged(t, parts[1])
	assert.Same(t, fx.OpGetItem, second.Node().Op())
	assert.Equal(t, []any{unbind[0], 1}, second.Node().Args)
	assert.Equal(t, []float64{3, 4}, second.Elem().(*tensor.Tensor).Values())
	require.NotNil(t, second.Constant())
	assert.Equal(t, []float64{3, 4}, second.Constant().Values(), "constants follow each projection")

	_, idx, err := aten.MaxDim(ctx, x, 1, false)
	require.NoError(t, err)
	meta, ok := tagged(t, idx).Node().TensorMeta()
	require.True(t, ok)
	assert.Equal(t, tensor.Int64, meta.DType)
	assert.Len(t, tr.Graph().Calls(fx.OpGetItem), 4)
}

type halves struct{}

func (halves) Forward(ctx context.Context, args ...any) (any, error) {
	chunks, err := aten.Split(ctx, args[0].(tensor.Value), 1, 0)
	if err != nil {
		return nil, err
	}
	return []any{chunks[0], chunks[1]}, nil
}

type keyed struct{}

func (keyed) Forward(ctx context.Context, args ...any) (any, error) {
	return map[string]any{"x": args[0]}, nil
}

type outer struct{ inner fx.Module }

func (o *outer) Children() []fx.NamedModule {
	return []fx.NamedModule{{Name: "inner", Module: o.inner}}
}

func (o *outer) Forward(ctx context.Context, args ...any) (any, error) {
	return fx.Invoke(ctx, o.inner, args...)
}

func TestModuleCallerMultiOutput(t *testing.T) {
	t.Run("each result is projected", func(t *testing.T) {
		root := &outer{inner: halves{}}
		tr := fx.NewTracer(root, "inner")
		ctx := fx.WithModuleCaller(NewMode(tr).Enable(context.Background()), NewModuleCaller(tr))
		x := input(tr, tensor.FromValues([]int{2}, 5, 6))

		out, err := root.Forward(ctx, x)
		require.NoError(t, err)
		pair, ok := out.([]any)
		require.True(t, ok, "got %T", out)
		require.Len(t, pair, 2)

		calls := tr.Graph().Filter(func(n *fx.Node) bool { return n.Kind == fx.CallModule })
		require.Len(t, calls, 1)
		for i, v := range pair {
			y := tagged(t, v)
			assert.Same(t, fx.OpGetItem, y.Node().Op())
			assert.Equal(t, []any{calls[0], i}, y.Node().Args)
			assert.Equal(t, []float64{float64(5 + i)}, y.Elem().(*tensor.Tensor).Values())
		}
		assert.Empty(t, tr.Graph().Calls(aten.OpSplit), "the leaf is not traced through")
	})

	t.Run("tensors in a map are refused", func(t *testing.T) {
		root := &outer{inner: keyed{}}
		tr := fx.NewTracer(root, "inner")
		ctx := fx.WithModuleCaller(NewMode(tr).Enable(context.Background()), NewModuleCaller(tr))
		x := input(tr, tensor.FromValues([]int{1}, 1))

		_, err := root.Forward(ctx, x)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "only tensors and sequences of tensors can be traced")
	})
}
