package trace

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/specialistvlad/opgraph/internal/aten"
	"github.com/specialistvlad/opgraph/internal/decomp"
	"github.com/specialistvlad/opgraph/internal/fx"
	"github.com/specialistvlad/opgraph/internal/proxy"
	"github.com/specialistvlad/opgraph/internal/tensor"
	"github.com/specialistvlad/opgraph/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mixed computes silu(x)*2 + sin(x) - x*literal.
func mixed(ctx context.Context, args ...any) (any, error) {
	x := args[0].(tensor.Value)
	s, err := aten.Silu(ctx, x)
	if err != nil {
		return nil, err
	}
	s, err = aten.MulScalar(ctx, s, 2)
	if err != nil {
		return nil, err
	}
	sin, err := aten.Sin(ctx, x)
	if err != nil {
		return nil, err
	}
	sum, err := aten.Add(ctx, s, sin)
	if err != nil {
		return nil, err
	}
	lit, err := aten.Tensor(ctx, tensor.Scalar(0.5, tensor.Float32))
	if err != nil {
		return nil, err
	}
	scaled, err := aten.Mul(ctx, x, lit)
	if err != nil {
		return nil, err
	}
	return aten.Sub(ctx, sum, scaled)
}

func input() *tensor.Tensor {
	return tensor.FromValues([]int{2, 3}, -1.5, -0.5, 0, 0.5, 1, 2)
}

// ops lists the kind and target of every node, in order.
func ops(g *fx.Graph) []string {
	var out []string
	for _, n := range g.Nodes() {
		out = append(out, n.Kind.String()+" "+n.TargetName())
	}
	return out
}

func TestReplayEquivalence(t *testing.T) {
	ctx, logs := testutil.NewLoggedContext(t)

	gm, err := Trace(ctx, mixed, []any{input()})
	require.NoError(t, err)
	require.NoError(t, gm.Graph().Lint())
	testutil.AssertLogged(t, logs, "Trace: Finished.", "name", "traced")

	x := tensor.FromValues([]int{2, 3}, 3, -2, 1, 0.25, -0.75, 4)
	want, err := mixed(context.Background(), x)
	require.NoError(t, err)
	got, err := gm.Forward(context.Background(), x)
	require.NoError(t, err)
	assert.True(t, tensor.AllClose(want.(*tensor.Tensor), got.(*tensor.Tensor), 1e-6),
		"want %v, got %v", want, got)
}

func TestDecompositions(t *testing.T) {
	ctx, _ := testutil.NewLoggedContext(t)
	table := decomp.Core()

	t.Run("decomposed operators are absent from the trace", func(t *testing.T) {
		gm, err := Trace(ctx, mixed, []any{input()}, WithDecompositions(table))
		require.NoError(t, err)
		for _, op := range table.Ops() {
			assert.Empty(t, gm.Graph().Calls(op), "%s was recorded", op)
		}
		assert.NotEmpty(t, gm.Graph().Calls(aten.OpSigmoid))
	})

	t.Run("decompose lowers an existing graph", func(t *testing.T) {
		gm, err := Trace(ctx, mixed, []any{input()})
		require.NoError(t, err)
		require.Len(t, gm.Graph().Calls(aten.OpSilu), 1)

		lowered, err := Decompose(ctx, gm, table, input())
		require.NoError(t, err)
		for _, op := range table.Ops() {
			assert.Empty(t, lowered.Graph().Calls(op), "%s survived decomposition", op)
		}
		assert.Equal(t, gm.AttrNames(), lowered.AttrNames())

		x := tensor.FromValues([]int{2, 3}, 1, 2, 3, 4, 5, 6)
		want, err := gm.Forward(context.Background(), x)
		require.NoError(t, err)
		got, err := lowered.Forward(context.Background(), x)
		require.NoError(t, err)
		assert.True(t, tensor.AllClose(want.(*tensor.Tensor), got.(*tensor.Tensor), 1e-6))
	})

	t.Run("decomposition is idempotent", func(t *testing.T) {
		gm, err := Trace(ctx, mixed, []any{input()})
		require.NoError(t, err)
		once, err := Decompose(ctx, gm, table, input())
		require.NoError(t, err)
		twice, err := Decompose(ctx, once, table, input())
		require.NoError(t, err)

		if diff := cmp.Diff(once.Graph().OpCounts(), twice.Graph().OpCounts()); diff != "" {
			t.Errorf("operator set changed (-once +twice):\n%s", diff)
		}
		if diff := cmp.Diff(once.Graph().String(), twice.Graph().String()); diff != "" {
			t.Errorf("graph changed (-once +twice):\n%s", diff)
		}
	})
}

func TestConstantFoldingRoundTrip(t *testing.T) {
	ctx, _ := testutil.NewLoggedContext(t)

	t.Run("full_like of a literal", func(t *testing.T) {
		fn := func(ctx context.Context, _ ...any) (any, error) {
			lit, err := aten.Tensor(ctx, tensor.FromValues([]int{2}, 4, 4))
			if err != nil {
				return nil, err
			}
			fill, err := aten.Tensor(ctx, tensor.Scalar(7, tensor.Float32))
			if err != nil {
				return nil, err
			}
			return aten.FullLike(ctx, lit, fill)
		}
		gm, err := Trace(ctx, fn, nil)
		require.NoError(t, err)
		assert.Empty(t, gm.Graph().Calls(aten.OpLocalScalarDense), "the fill value is folded")

		first, err := gm.Forward(context.Background())
		require.NoError(t, err)
		second, err := gm.Forward(context.Background())
		require.NoError(t, err)
		assert.Equal(t, []float64{7, 7}, first.(*tensor.Tensor).Values())
		assert.Equal(t, first.(*tensor.Tensor).Values(), second.(*tensor.Tensor).Values())
	})

	t.Run("mutated literal used as a fill value", func(t *testing.T) {
		fn := func(ctx context.Context, _ ...any) (any, error) {
			val, err := aten.Tensor(ctx, tensor.Scalar(1, tensor.Float32))
			if err != nil {
				return nil, err
			}
			if _, err := aten.AddScalarInplace(ctx, val, 2); err != nil {
				return nil, err
			}
			return aten.Full(ctx, []int{100, 100}, val)
		}
		gm, err := Trace(ctx, fn, nil)
		require.NoError(t, err)

		for range 2 {
			out, err := gm.Forward(context.Background())
			require.NoError(t, err)
			got := out.(*tensor.Tensor)
			assert.Equal(t, []int{100, 100}, got.Shape())
			assert.Equal(t, 3.0, got.Values()[0])
			assert.Equal(t, 3.0, got.Values()[len(got.Values())-1])
		}
		attr, ok := gm.Attr("_tensor_constant0")
		require.True(t, ok)
		assert.Equal(t, []float64{1}, attr.Values(), "interned constants are never mutated")
	})
}

func TestInplaceUnsqueezeMetadata(t *testing.T) {
	ctx, _ := testutil.NewLoggedContext(t)
	fn := func(ctx context.Context, args ...any) (any, error) {
		x2, err := aten.Clone(ctx, args[0].(tensor.Value))
		if err != nil {
			return nil, err
		}
		if _, err := aten.UnsqueezeInplace(ctx, x2, -1); err != nil {
			return nil, err
		}
		return x2, nil
	}
	x := input()
	gm, err := Trace(ctx, fn, []any{x})
	require.NoError(t, err)

	last, ok := gm.Graph().OutputNode().Args[0].(*fx.Node)
	require.True(t, ok)
	assert.Same(t, aten.OpUnsqueezeInplace, last.Op())
	meta, ok := last.TensorMeta()
	require.True(t, ok)
	assert.Equal(t, x.Dim()+1, meta.Dim())
	assert.Equal(t, []int{2, 3, 1}, meta.Shape)
}

func TestScalarExtraction(t *testing.T) {
	ctx, _ := testutil.NewLoggedContext(t)

	t.Run("traced input", func(t *testing.T) {
		fn := func(ctx context.Context, args ...any) (any, error) {
			x := args[0].(tensor.Value)
			v, err := aten.Item(ctx, x)
			if err != nil {
				return nil, err
			}
			if v > 0 {
				return aten.Neg(ctx, x)
			}
			return x, nil
		}
		gm, err := Trace(ctx, fn, []any{tensor.Scalar(2, tensor.Float32)})
		require.ErrorIs(t, err, proxy.ErrDataDependentControlFlow)
		assert.Nil(t, gm, "failed traces return no graph")
	})

	t.Run("literal arithmetic", func(t *testing.T) {
		var got float64
		fn := func(ctx context.Context, _ ...any) (any, error) {
			a, err := aten.Tensor(ctx, tensor.Scalar(1.5, tensor.Float32))
			if err != nil {
				return nil, err
			}
			b, err := aten.MulScalar(ctx, a, 4)
			if err != nil {
				return nil, err
			}
			got, err = aten.Item(ctx, b)
			return b, err
		}
		_, err := Trace(ctx, fn, nil)
		require.NoError(t, err)
		assert.Equal(t, 6.0, got)
	})

	t.Run("lenient", func(t *testing.T) {
		SetStrict(false)
		defer SetStrict(true)
		fn := func(ctx context.Context, args ...any) (any, error) {
			_, err := aten.Item(ctx, args[0].(tensor.Value))
			return args[0], err
		}
		gm, err := Trace(ctx, fn, []any{tensor.Scalar(2, tensor.Float32)})
		require.NoError(t, err)
		assert.Len(t, gm.Graph().Calls(aten.OpLocalScalarDense), 1)
	})
}

func TestFakeMatchesReal(t *testing.T) {
	ctx, _ := testutil.NewLoggedContext(t)

	realGM, err := Trace(ctx, mixed, []any{input()})
	require.NoError(t, err)
	fakeGM, err := Trace(ctx, mixed, []any{input()}, WithFake(true))
	require.NoError(t, err)

	if diff := cmp.Diff(ops(realGM.Graph()), ops(fakeGM.Graph())); diff != "" {
		t.Errorf("fake trace differs (-real +fake):\n%s", diff)
	}
	for _, n := range fakeGM.Graph().Nodes() {
		if n.Kind == fx.Output {
			continue
		}
		want, _ := realGM.Graph().Nodes()[indexOf(fakeGM.Graph(), n)].TensorMeta()
		got, ok := n.TensorMeta()
		require.True(t, ok, "node %s has no metadata", n.Name)
		assert.True(t, want.Equal(got), "node %s: want %s, got %s", n.Name, want, got)
	}
	for _, name := range fakeGM.AttrNames() {
		attr, _ := fakeGM.Attr(name)
		assert.False(t, attr.IsFake(), "attribute %s holds a fake tensor", name)
	}

	x := input()
	want, err := realGM.Forward(context.Background(), x)
	require.NoError(t, err)
	got, err := fakeGM.Forward(context.Background(), x)
	require.NoError(t, err)
	assert.True(t, tensor.AllClose(want.(*tensor.Tensor), got.(*tensor.Tensor), 1e-6))
}

func indexOf(g *fx.Graph, n *fx.Node) int {
	for i, m := range g.Nodes() {
		if m == n {
			return i
		}
	}
	return -1
}

func TestConfigurationError(t *testing.T) {
	called := false
	fn := func(ctx context.Context, args ...any) (any, error) {
		called = true
		return args[0], nil
	}
	gm, err := Trace(context.Background(), fn, []any{input()}, WithFake(true), WithFactoryTracing(false))
	require.ErrorIs(t, err, ErrConfiguration)
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Nil(t, gm)
	assert.False(t, called, "nothing runs before the options are validated")
}

func TestWithoutFactoryTracing(t *testing.T) {
	ctx, _ := testutil.NewLoggedContext(t)
	fn := func(ctx context.Context, args ...any) (any, error) {
		z, err := aten.Zeros(ctx, 2, 3)
		if err != nil {
			return nil, err
		}
		return aten.Add(ctx, args[0].(tensor.Value), z)
	}
	gm, err := Trace(ctx, fn, []any{input()}, WithFactoryTracing(false), WithName("nofactory"))
	require.NoError(t, err)
	assert.Equal(t, "nofactory", gm.Name())
	assert.Empty(t, gm.Graph().Calls(aten.OpZeros))
	assert.Equal(t, []string{"_tensor_constant0"}, gm.AttrNames(), "the untraced factory result is a constant")
}

func TestMakeFXWithStructuredInputs(t *testing.T) {
	ctx, _ := testutil.NewLoggedContext(t)
	traced := MakeFX(func(ctx context.Context, args ...any) (any, error) {
		m := args[0].(map[string]any)
		scale := args[1].(float64)
		y, err := aten.MulScalar(ctx, m["x"].(tensor.Value), scale)
		if err != nil {
			return nil, err
		}
		return []any{y, m["y"]}, nil
	})

	x := tensor.FromValues([]int{2}, 1, 2)
	yIn := tensor.FromValues([]int{2}, 5, 6)
	gm, err := traced(ctx, map[string]any{"x": x, "y": yIn}, 3.0)
	require.NoError(t, err)
	assert.Len(t, gm.Graph().Placeholders(), 3)

	out, err := gm.Forward(context.Background(), map[string]any{"x": x, "y": yIn}, 3.0)
	require.NoError(t, err)
	pair := out.([]any)
	assert.Equal(t, []float64{3, 6}, pair[0].(*tensor.Tensor).Values())
	assert.Same(t, yIn, pair[1])
}

func TestTraceIsolation(t *testing.T) {
	ctx, _ := testutil.NewLoggedContext(t)

	t.Run("an enclosing decomposition table does not apply", func(t *testing.T) {
		outer := decomp.With(ctx, decomp.Core())
		gm, err := Trace(outer, mixed, []any{input()})
		require.NoError(t, err)
		assert.Len(t, gm.Graph().Calls(aten.OpSilu), 1)

		lowered, err := Trace(outer, mixed, []any{input()}, WithDecompositions(decomp.Core()))
		require.NoError(t, err)
		assert.Empty(t, lowered.Graph().Calls(aten.OpSilu))
	})

	t.Run("a nested trace records into its own graph", func(t *testing.T) {
		var inner *fx.GraphModule
		fn := func(ctx context.Context, args ...any) (any, error) {
			y, err := aten.Cos(ctx, args[0].(tensor.Value))
			if err != nil {
				return nil, err
			}
			sin := func(ctx context.Context, args ...any) (any, error) {
				return aten.Sin(ctx, args[0].(tensor.Value))
			}
			if inner, err = Trace(ctx, sin, []any{tensor.FromValues([]int{2}, 0, 1)}, WithName("inner")); err != nil {
				return nil, err
			}
			return y, nil
		}
		gm, err := Trace(ctx, fn, []any{input()}, WithName("outer"))
		require.NoError(t, err)

		want := []string{"placeholder arg0", "call_function aten.cos.default", "output output"}
		if diff := cmp.Diff(want, ops(gm.Graph())); diff != "" {
			t.Errorf("outer graph mismatch (-want +got):\n%s", diff)
		}
		assert.Empty(t, gm.AttrNames())

		require.NotNil(t, inner)
		want = []string{"placeholder arg0", "call_function aten.sin.default", "output output"}
		if diff := cmp.Diff(want, ops(inner.Graph())); diff != "" {
			t.Errorf("inner graph mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("a nested trace inside a fake trace runs on real values", func(t *testing.T) {
		var inner *fx.GraphModule
		fn := func(ctx context.Context, args ...any) (any, error) {
			double := func(ctx context.Context, args ...any) (any, error) {
				return aten.MulScalar(ctx, args[0].(tensor.Value), 2)
			}
			var err error
			inner, err = Trace(ctx, double, []any{tensor.FromValues([]int{2}, 1, 2)})
			if err != nil {
				return nil, err
			}
			return aten.Neg(ctx, args[0].(tensor.Value))
		}
		_, err := Trace(ctx, fn, []any{input()}, WithFake(true))
		require.NoError(t, err)

		require.NotNil(t, inner)
		out, err := inner.Forward(context.Background(), tensor.FromValues([]int{2}, 3, 4))
		require.NoError(t, err)
		assert.Equal(t, []float64{6, 8}, out.(*tensor.Tensor).Values())
	})
}

func TestDecomposeLeavesAttributesUnchanged(t *testing.T) {
	ctx, _ := testutil.NewLoggedContext(t)

	g := fx.NewGraph()
	c := g.GetAttr("_tensor_constant0")
	n, err := g.CallFunction(aten.OpAddInplace, []any{c, 1.0}, nil)
	require.NoError(t, err)
	_, err = g.Output(n)
	require.NoError(t, err)
	attr := tensor.FromValues([]int{2}, 10, 20)
	gm := fx.NewGraphModule("bump", g, map[string]*tensor.Tensor{"_tensor_constant0": attr}, nil)

	lowered, err := Decompose(ctx, gm, decomp.Table{})
	require.NoError(t, err)
	assert.Equal(t, []float64{10, 20}, attr.Values(), "decompose does not run the graph's mutations")

	got, ok := lowered.Attr("_tensor_constant0")
	require.True(t, ok)
	assert.Same(t, attr, got)
	assert.Len(t, lowered.Graph().Calls(aten.OpAddInplace), 1)

	out, err := lowered.Forward(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []float64{11, 21}, out.(*tensor.Tensor).Values(), "the increment applies once")
}

// pieces exercises operators returning several tensors.
func pieces(ctx context.Context, args ...any) (any, error) {
	x := args[0].(tensor.Value)
	rows, err := aten.Unbind(ctx, x, 0)
	if err != nil {
		return nil, err
	}
	sum, err := aten.Add(ctx, rows[0], rows[1])
	if err != nil {
		return nil, err
	}
	best, at, err := aten.MaxDim(ctx, x, 1, false)
	if err != nil {
		return nil, err
	}
	sum, err = aten.Add(ctx, sum, best)
	if err != nil {
		return nil, err
	}
	chunks, err := aten.Split(ctx, x, 2, 1)
	if err != nil {
		return nil, err
	}
	return []any{sum, at, chunks[1]}, nil
}

func TestMultiOutputOperators(t *testing.T) {
	ctx, _ := testutil.NewLoggedContext(t)
	x := tensor.FromValues([]int{2, 3}, 1, 5, 3, 2, 7, 0)

	t.Run("every result is projected", func(t *testing.T) {
		gm, err := Trace(ctx, pieces, []any{x})
		require.NoError(t, err)
		require.NoError(t, gm.Graph().Lint())

		items := gm.Graph().Calls(fx.OpGetItem)
		require.Len(t, items, 6)
		unbind := gm.Graph().Calls(aten.OpUnbind)
		require.Len(t, unbind, 1)
		assert.Equal(t, []any{unbind[0], 0}, items[0].Args)
		assert.Equal(t, []any{unbind[0], 1}, items[1].Args)
		assert.Equal(t, "getitem", items[0].Name)
		assert.Equal(t, "getitem_1", items[1].Name)

		meta, ok := items[3].TensorMeta()
		require.True(t, ok)
		assert.Equal(t, tensor.Int64, meta.DType, "the second max.dim result holds indices")
	})

	t.Run("replay matches eager execution", func(t *testing.T) {
		gm, err := Trace(ctx, pieces, []any{x})
		require.NoError(t, err)

		y := tensor.FromValues([]int{2, 3}, 4, -1, 6, 0, 8, 2)
		want, err := pieces(context.Background(), y)
		require.NoError(t, err)
		got, err := gm.Forward(context.Background(), y)
		require.NoError(t, err)
		wantVals := want.([]any)
		gotVals := got.([]any)
		require.Len(t, gotVals, 3)
		for i := range wantVals {
			assert.Equal(t, wantVals[i].(tensor.Value).Meta().Shape, gotVals[i].(tensor.Value).Meta().Shape, "result %d", i)
			assert.Equal(t, wantVals[i].(*tensor.Tensor).Values(), gotVals[i].(*tensor.Tensor).Values(), "result %d", i)
		}
	})

	t.Run("fake tracing", func(t *testing.T) {
		gm, err := Trace(ctx, pieces, []any{x}, WithFake(true))
		require.NoError(t, err)
		items := gm.Graph().Calls(fx.OpGetItem)
		require.Len(t, items, 6)
		meta, ok := items[5].TensorMeta()
		require.True(t, ok)
		assert.Equal(t, []int{2, 1}, meta.Shape, "the last chunk holds the remainder")
	})

	t.Run("decompose keeps the projections", func(t *testing.T) {
		gm, err := Trace(ctx, pieces, []any{x})
		require.NoError(t, err)
		lowered, err := Decompose(ctx, gm, decomp.Core(), x)
		require.NoError(t, err)
		if diff := cmp.Diff(gm.Graph().OpCounts(), lowered.Graph().OpCounts()); diff != "" {
			t.Errorf("operator counts changed (-traced +lowered):\n%s", diff)
		}
	})
}
