package fx

import (
	"context"
	"strings"
	"testing"

	"github.com/specialistvlad/opgraph/internal/aten"
	"github.com/specialistvlad/opgraph/internal/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sinPlusOne builds: out = sin(x) + 1
func sinPlusOne(t *testing.T) (*Graph, *Node) {
	t.Helper()
	g := NewGraph()
	x := g.Placeholder("arg0")
	s, err := g.CallFunction(aten.OpSin, []any{x}, nil)
	require.NoError(t, err)
	out, err := g.CallFunction(aten.OpAddScalar, []any{s, 1.0}, nil)
	require.NoError(t, err)
	_, err = g.Output(out)
	require.NoError(t, err)
	return g, s
}

func TestGraphAppend(t *testing.T) {
	t.Run("names are unique and derived from targets", func(t *testing.T) {
		g := NewGraph()
		x := g.Placeholder("arg0")
		a, err := g.CallFunction(aten.OpSin, []any{x}, nil)
		require.NoError(t, err)
		b, err := g.CallFunction(aten.OpSin, []any{a}, nil)
		require.NoError(t, err)
		assert.Equal(t, "sin", a.Name)
		assert.Equal(t, "sin_1", b.Name)
		assert.Equal(t, "arg0", x.TargetName())
	})

	t.Run("attribute nodes use identifier names", func(t *testing.T) {
		g := NewGraph()
		n := g.GetAttr("layers.0.weight")
		assert.Equal(t, "layers_0_weight", n.Name)
		assert.Equal(t, "layers.0.weight", n.TargetName())
	})

	t.Run("forward reference is rejected", func(t *testing.T) {
		g := NewGraph()
		detached := NewNode(Placeholder, "x", "x", nil, nil)
		_, err := g.CallFunction(aten.OpSin, []any{detached}, nil)
		require.ErrorIs(t, err, ErrForwardReference)
		assert.Equal(t, 0, g.Len())
	})

	t.Run("foreign node is rejected", func(t *testing.T) {
		other := NewGraph()
		x := other.Placeholder("x")
		g := NewGraph()
		_, err := g.CallFunction(aten.OpSin, []any{[]any{x}}, nil)
		require.ErrorIs(t, err, ErrForeignNode)
	})

	t.Run("single output", func(t *testing.T) {
		g, _ := sinPlusOne(t)
		_, err := g.Output(nil)
		require.ErrorIs(t, err, ErrOutputExists)
	})
}

func TestGraphLintAndString(t *testing.T) {
	g, s := sinPlusOne(t)
	require.NoError(t, g.Lint())

	listing := g.String()
	assert.Contains(t, listing, "%arg0 : [#users=1] = placeholder[target=arg0]")
	assert.Contains(t, listing, "%sin : [#users=1] = call_function[target=aten.sin.default](args = (%arg0,), kwargs = {})")
	assert.True(t, strings.HasSuffix(listing, "    return %add\n"), listing)

	assert.Equal(t, []*Node{g.Nodes()[2]}, g.Users(s))
	assert.Equal(t, map[string]int{"aten.sin.default": 1, "aten.add.Scalar": 1}, g.OpCounts())
	assert.Equal(t, []string{"aten.add.Scalar", "aten.sin.default"}, g.Targets())
}

func TestEliminateDeadCode(t *testing.T) {
	g := NewGraph()
	x := g.Placeholder("arg0")
	dead, err := g.CallFunction(aten.OpCos, []any{x}, nil)
	require.NoError(t, err)
	_, err = g.CallFunction(aten.OpExp, []any{dead}, nil)
	require.NoError(t, err)
	buf, err := g.CallFunction(aten.OpClone, []any{x}, nil)
	require.NoError(t, err)
	_, err = g.CallFunction(aten.OpReluInplace, []any{buf}, nil)
	require.NoError(t, err)
	live, err := g.CallFunction(aten.OpSin, []any{x}, nil)
	require.NoError(t, err)
	_, err = g.Output(live)
	require.NoError(t, err)

	removed, err := g.EliminateDeadCode()
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	var names []string
	for _, n := range g.Nodes() {
		names = append(names, n.Name)
	}
	assert.Equal(t, []string{"arg0", "clone", "relu_", "sin", "output"}, names)
	require.NoError(t, g.Lint())
}

func TestGraphCopyAndFreeze(t *testing.T) {
	g, _ := sinPlusOne(t)
	gm := NewGraphModule("m", g, nil, nil)
	assert.True(t, gm.Graph().Frozen())
	assert.Panics(t, func() { gm.Graph().Placeholder("y") })

	c := gm.Graph().Copy()
	assert.False(t, c.Frozen())
	require.NoError(t, c.Lint())
	assert.Equal(t, g.String(), c.String())
	for i, n := range c.Nodes() {
		assert.NotSame(t, g.Nodes()[i], n)
	}
}

func TestGraphModuleRun(t *testing.T) {
	ctx := context.Background()
	g, _ := sinPlusOne(t)
	gm := NewGraphModule("m", g, nil, nil)

	x := tensor.FromValues([]int{2}, 0, 0)
	out, err := gm.Forward(ctx, x)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 1}, out.(*tensor.Tensor).Values())

	_, err = gm.Forward(ctx)
	require.ErrorIs(t, err, ErrArity)
}
