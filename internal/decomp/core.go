package decomp

import (
	"context"
	"fmt"

	"github.com/specialistvlad/opgraph/internal/aten"
	"github.com/specialistvlad/opgraph/internal/tensor"
)

// Core returns the built-in decompositions. Every replacement only calls
// operators that are not themselves keys of the returned table, except
// through t, which is decomposed in turn.
func Core() Table {
	return Table{
		aten.OpSilu:        silu,
		aten.OpAddmm:       addmm,
		aten.OpSoftmax:     softmax,
		aten.OpSoftmaxImpl: softmax,
		aten.OpMean:        mean,
		aten.OpT:           transpose2d,
		aten.OpSub:         sub,
		aten.OpLinear:      linear,
	}
}

func value(name string, v any) (tensor.Value, error) {
	t, ok := v.(tensor.Value)
	if !ok {
		return nil, fmt.Errorf("decomposition %s: expected a tensor, got %T", name, v)
	}
	return t, nil
}

func number(v any) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case int:
		return float64(x)
	case int64:
		return float64(x)
	}
	return 1
}

// silu(x) = x * sigmoid(x)
func silu(ctx context.Context, args []any) (any, error) {
	x, err := value("silu", args[0])
	if err != nil {
		return nil, err
	}
	s, err := aten.Sigmoid(ctx, x)
	if err != nil {
		return nil, err
	}
	return aten.Mul(ctx, x, s)
}

// addmm(self, m1, m2) = beta*self + alpha*(m1 @ m2)
func addmm(ctx context.Context, args []any) (any, error) {
	self, err := value("addmm", args[0])
	if err != nil {
		return nil, err
	}
	m1, err := value("addmm", args[1])
	if err != nil {
		return nil, err
	}
	m2, err := value("addmm", args[2])
	if err != nil {
		return nil, err
	}
	beta, alpha := number(args[3]), number(args[4])
	prod, err := aten.MM(ctx, m1, m2)
	if err != nil {
		return nil, err
	}
	if alpha != 1 {
		if prod, err = aten.MulScalar(ctx, prod, alpha); err != nil {
			return nil, err
		}
	}
	if beta == 0 {
		return prod, nil
	}
	if beta != 1 {
		if self, err = aten.MulScalar(ctx, self, beta); err != nil {
			return nil, err
		}
	}
	return aten.Add(ctx, self, prod)
}

// softmax(x, dim) = exp(x - max) / sum(exp(x - max))
func softmax(ctx context.Context, args []any) (any, error) {
	x, err := value("softmax", args[0])
	if err != nil {
		return nil, err
	}
	dim, ok := args[1].(int)
	if !ok {
		return nil, fmt.Errorf("decomposition softmax: expected an int dim, got %T", args[1])
	}
	hi, err := aten.Amax(ctx, x, []int{dim}, true)
	if err != nil {
		return nil, err
	}
	shifted, err := aten.Sub(ctx, x, hi)
	if err != nil {
		return nil, err
	}
	e, err := aten.Exp(ctx, shifted)
	if err != nil {
		return nil, err
	}
	total, err := aten.SumDim(ctx, e, []int{dim}, true)
	if err != nil {
		return nil, err
	}
	return aten.Div(ctx, e, total)
}

// mean(x, dims) = sum(x, dims) * (1/n)
func mean(ctx context.Context, args []any) (any, error) {
	x, err := value("mean", args[0])
	if err != nil {
		return nil, err
	}
	m := x.Meta()
	var dims []int
	switch d := args[1].(type) {
	case nil:
	case []int:
		dims = d
	default:
		return nil, fmt.Errorf("decomposition mean: expected an int list, got %T", args[1])
	}
	keepdim, _ := args[2].(bool)
	n := 1
	if len(dims) == 0 {
		n = m.Numel()
	}
	for _, d := range dims {
		nd, err := tensor.NormalizeDim(d, m.Dim())
		if err != nil {
			return nil, err
		}
		if m.Dim() > 0 {
			n *= m.Shape[nd]
		}
	}
	s, err := aten.SumDim(ctx, x, dims, keepdim)
	if err != nil {
		return nil, err
	}
	return aten.MulScalar(ctx, s, 1/float64(n))
}

// t(x) = transpose(x, 0, 1) for matrices and the identity view otherwise.
func transpose2d(ctx context.Context, args []any) (any, error) {
	x, err := value("t", args[0])
	if err != nil {
		return nil, err
	}
	switch rank := x.Meta().Dim(); {
	case rank > 2:
		return nil, fmt.Errorf("decomposition t: expects a tensor with <= 2 dimensions, but self is %dD", rank)
	case rank < 2:
		return aten.Detach(ctx, x)
	}
	return aten.Transpose(ctx, x, 0, 1)
}

// sub(a, b, alpha) = add(a, b, -alpha)
func sub(ctx context.Context, args []any) (any, error) {
	a, err := value("sub", args[0])
	if err != nil {
		return nil, err
	}
	b, err := value("sub", args[1])
	if err != nil {
		return nil, err
	}
	return aten.AddScaled(ctx, a, b, -number(args[2]))
}

// linear(x, w, b) = x @ t(w) + b, flattening leading dimensions of x.
func linear(ctx context.Context, args []any) (any, error) {
	x, err := value("linear", args[0])
	if err != nil {
		return nil, err
	}
	w, err := value("linear", args[1])
	if err != nil {
		return nil, err
	}
	wt, err := aten.T(ctx, w)
	if err != nil {
		return nil, err
	}
	shape := x.Meta().Shape
	if len(shape) == 0 {
		return nil, fmt.Errorf("decomposition linear: input must have at least one dimension")
	}
	flat := x
	if len(shape) != 2 {
		if flat, err = aten.Reshape(ctx, x, -1, shape[len(shape)-1]); err != nil {
			return nil, err
		}
	}
	out, err := aten.MM(ctx, flat, wt)
	if err != nil {
		return nil, err
	}
	if len(shape) != 2 {
		outShape := append(append([]int(nil), shape[:len(shape)-1]...), w.Meta().Shape[0])
		if out, err = aten.View(ctx, out, outShape...); err != nil {
			return nil, err
		}
	}
	if args[2] == nil {
		return out, nil
	}
	b, err := value("linear", args[2])
	if err != nil {
		return nil, err
	}
	return aten.Add(ctx, out, b)
}
