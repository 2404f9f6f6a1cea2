package aten

import (
	"context"
	"fmt"

	"github.com/specialistvlad/opgraph/internal/dispatch"
	"github.com/specialistvlad/opgraph/internal/tensor"
)

// The helpers below are the programming surface of traced functions. Each
// one issues a single dispatch.Call, so whatever mode or handler is active
// observes it. Operands are tensor.Value so tracing wrappers and plain
// tensors mix freely.

func call(ctx context.Context, op *dispatch.OpOverload, args []any, kwargs map[string]any) (tensor.Value, error) {
	out, err := dispatch.Call(ctx, op, args, kwargs)
	if err != nil {
		return nil, err
	}
	v, ok := out.(tensor.Value)
	if !ok {
		return nil, fmt.Errorf("%s returned %T, not a tensor", op, out)
	}
	return v, nil
}

func call1(ctx context.Context, op *dispatch.OpOverload, args ...any) (tensor.Value, error) {
	return call(ctx, op, args, nil)
}

func Add(ctx context.Context, a, b tensor.Value) (tensor.Value, error) {
	return call1(ctx, OpAdd, a, b)
}

// AddScaled computes a + alpha*b.
func AddScaled(ctx context.Context, a, b tensor.Value, alpha float64) (tensor.Value, error) {
	return call(ctx, OpAdd, []any{a, b}, map[string]any{"alpha": alpha})
}

func AddScalar(ctx context.Context, a tensor.Value, s float64) (tensor.Value, error) {
	return call1(ctx, OpAddScalar, a, s)
}

func Sub(ctx context.Context, a, b tensor.Value) (tensor.Value, error) {
	return call1(ctx, OpSub, a, b)
}

func Mul(ctx context.Context, a, b tensor.Value) (tensor.Value, error) {
	return call1(ctx, OpMul, a, b)
}

func MulScalar(ctx context.Context, a tensor.Value, s float64) (tensor.Value, error) {
	return call1(ctx, OpMulScalar, a, s)
}

func Div(ctx context.Context, a, b tensor.Value) (tensor.Value, error) {
	return call1(ctx, OpDiv, a, b)
}

func Pow(ctx context.Context, a tensor.Value, exponent float64) (tensor.Value, error) {
	return call1(ctx, OpPow, a, exponent)
}

func Maximum(ctx context.Context, a, b tensor.Value) (tensor.Value, error) {
	return call1(ctx, OpMaximum, a, b)
}

// Gt compares every element with s and returns a bool tensor.
func Gt(ctx context.Context, a tensor.Value, s float64) (tensor.Value, error) {
	return call1(ctx, OpGt, a, s)
}

func Neg(ctx context.Context, a tensor.Value) (tensor.Value, error)     { return call1(ctx, OpNeg, a) }
func Exp(ctx context.Context, a tensor.Value) (tensor.Value, error)     { return call1(ctx, OpExp, a) }
func Log(ctx context.Context, a tensor.Value) (tensor.Value, error)     { return call1(ctx, OpLog, a) }
func Sin(ctx context.Context, a tensor.Value) (tensor.Value, error)     { return call1(ctx, OpSin, a) }
func Cos(ctx context.Context, a tensor.Value) (tensor.Value, error)     { return call1(ctx, OpCos, a) }
func Tanh(ctx context.Context, a tensor.Value) (tensor.Value, error)    { return call1(ctx, OpTanh, a) }
func Sigmoid(ctx context.Context, a tensor.Value) (tensor.Value, error) { return call1(ctx, OpSigmoid, a) }
func Relu(ctx context.Context, a tensor.Value) (tensor.Value, error)    { return call1(ctx, OpRelu, a) }
func Abs(ctx context.Context, a tensor.Value) (tensor.Value, error)     { return call1(ctx, OpAbs, a) }
func Sqrt(ctx context.Context, a tensor.Value) (tensor.Value, error)    { return call1(ctx, OpSqrt, a) }
func Silu(ctx context.Context, a tensor.Value) (tensor.Value, error)    { return call1(ctx, OpSilu, a) }

// AddInplace adds b into a and returns a.
func AddInplace(ctx context.Context, a, b tensor.Value) (tensor.Value, error) {
	return call1(ctx, OpAddInplace, a, b)
}

// AddScalarInplace adds a scalar into a; the scalar is broadcast.
func AddScalarInplace(ctx context.Context, a tensor.Value, s float64) (tensor.Value, error) {
	return call1(ctx, OpAddInplace, a, s)
}

func SubInplace(ctx context.Context, a, b tensor.Value) (tensor.Value, error) {
	return call1(ctx, OpSubInplace, a, b)
}

func MulInplace(ctx context.Context, a, b tensor.Value) (tensor.Value, error) {
	return call1(ctx, OpMulInplace, a, b)
}

func ReluInplace(ctx context.Context, a tensor.Value) (tensor.Value, error) {
	return call1(ctx, OpReluInplace, a)
}

func Fill(ctx context.Context, a tensor.Value, v float64) (tensor.Value, error) {
	return call1(ctx, OpFill, a, v)
}

func Zero(ctx context.Context, a tensor.Value) (tensor.Value, error) {
	return call1(ctx, OpZero, a)
}

// Copy writes src into dst, broadcasting src to dst's shape.
func Copy(ctx context.Context, dst, src tensor.Value) (tensor.Value, error) {
	return call1(ctx, OpCopy, dst, src)
}

func View(ctx context.Context, a tensor.Value, size ...int) (tensor.Value, error) {
	return call1(ctx, OpView, a, size)
}

func Reshape(ctx context.Context, a tensor.Value, shape ...int) (tensor.Value, error) {
	return call1(ctx, OpReshape, a, shape)
}

func Unsqueeze(ctx context.Context, a tensor.Value, dim int) (tensor.Value, error) {
	return call1(ctx, OpUnsqueeze, a, dim)
}

func Squeeze(ctx context.Context, a tensor.Value, dim int) (tensor.Value, error) {
	return call1(ctx, OpSqueeze, a, dim)
}

func Transpose(ctx context.Context, a tensor.Value, dim0, dim1 int) (tensor.Value, error) {
	return call1(ctx, OpTranspose, a, dim0, dim1)
}

func T(ctx context.Context, a tensor.Value) (tensor.Value, error) { return call1(ctx, OpT, a) }

func Permute(ctx context.Context, a tensor.Value, dims ...int) (tensor.Value, error) {
	return call1(ctx, OpPermute, a, dims)
}

func Expand(ctx context.Context, a tensor.Value, size ...int) (tensor.Value, error) {
	return call1(ctx, OpExpand, a, size)
}

func Detach(ctx context.Context, a tensor.Value) (tensor.Value, error) { return call1(ctx, OpDetach, a) }

func Select(ctx context.Context, a tensor.Value, dim, index int) (tensor.Value, error) {
	return call1(ctx, OpSelect, a, dim, index)
}

// Slice returns a[start:end:step] along dim.
func Slice(ctx context.Context, a tensor.Value, dim, start, end, step int) (tensor.Value, error) {
	return call1(ctx, OpSlice, a, dim, start, end, step)
}

func AsStrided(ctx context.Context, a tensor.Value, size, stride []int, offset int) (tensor.Value, error) {
	return call1(ctx, OpAsStrided, a, size, stride, offset)
}

// UnsqueezeInplace inserts a dimension of size one into a itself.
func UnsqueezeInplace(ctx context.Context, a tensor.Value, dim int) (tensor.Value, error) {
	return call1(ctx, OpUnsqueezeInplace, a, dim)
}

func SqueezeInplace(ctx context.Context, a tensor.Value, dim int) (tensor.Value, error) {
	return call1(ctx, OpSqueezeInplace, a, dim)
}

func TransposeInplace(ctx context.Context, a tensor.Value, dim0, dim1 int) (tensor.Value, error) {
	return call1(ctx, OpTransposeInplace, a, dim0, dim1)
}

func TInplace(ctx context.Context, a tensor.Value) (tensor.Value, error) {
	return call1(ctx, OpTInplace, a)
}

// Sum reduces every element.
func Sum(ctx context.Context, a tensor.Value) (tensor.Value, error) { return call1(ctx, OpSum, a) }

func SumDim(ctx context.Context, a tensor.Value, dims []int, keepdim bool) (tensor.Value, error) {
	return call1(ctx, OpSumDim, a, dims, keepdim)
}

func Mean(ctx context.Context, a tensor.Value, dims []int, keepdim bool) (tensor.Value, error) {
	return call1(ctx, OpMean, a, dims, keepdim)
}

func Amax(ctx context.Context, a tensor.Value, dims []int, keepdim bool) (tensor.Value, error) {
	return call1(ctx, OpAmax, a, dims, keepdim)
}

func MM(ctx context.Context, a, b tensor.Value) (tensor.Value, error) { return call1(ctx, OpMM, a, b) }

func Addmm(ctx context.Context, self, m1, m2 tensor.Value) (tensor.Value, error) {
	return call1(ctx, OpAddmm, self, m1, m2)
}

// Linear computes input @ weight.T + bias. bias may be nil.
func Linear(ctx context.Context, input, weight, bias tensor.Value) (tensor.Value, error) {
	var b any
	if bias != nil {
		b = bias
	}
	return call1(ctx, OpLinear, input, weight, b)
}

func Clone(ctx context.Context, a tensor.Value) (tensor.Value, error) { return call1(ctx, OpClone, a) }

func Cat(ctx context.Context, dim int, ts ...tensor.Value) (tensor.Value, error) {
	list := make([]any, len(ts))
	for i, t := range ts {
		list[i] = t
	}
	return call1(ctx, OpCat, list, dim)
}

func Softmax(ctx context.Context, a tensor.Value, dim int) (tensor.Value, error) {
	return call1(ctx, OpSoftmax, a, dim)
}

func Nonzero(ctx context.Context, a tensor.Value) (tensor.Value, error) {
	return call1(ctx, OpNonzero, a)
}

// Item extracts the only element of a as a number. Under tracing this is
// where data-dependent control flow is detected.
func Item(ctx context.Context, a tensor.Value) (float64, error) {
	out, err := dispatch.Call(ctx, OpLocalScalarDense, []any{a}, nil)
	if err != nil {
		return 0, err
	}
	x, err := asFloat("item", out)
	if err != nil {
		return 0, err
	}
	return x, nil
}

// scalarFill resolves a fill argument that may itself be a tensor.
func scalarFill(ctx context.Context, fill any) (any, error) {
	if v, ok := fill.(tensor.Value); ok {
		return Item(ctx, v)
	}
	return fill, nil
}

// Full creates a tensor of the given size. fill may be a number or a
// one-element tensor, whose value is extracted with Item.
func Full(ctx context.Context, size []int, fill any) (tensor.Value, error) {
	f, err := scalarFill(ctx, fill)
	if err != nil {
		return nil, err
	}
	return call1(ctx, OpFull, size, f)
}

func FullLike(ctx context.Context, a tensor.Value, fill any) (tensor.Value, error) {
	f, err := scalarFill(ctx, fill)
	if err != nil {
		return nil, err
	}
	return call1(ctx, OpFullLike, a, f)
}

func Zeros(ctx context.Context, size ...int) (tensor.Value, error) { return call1(ctx, OpZeros, size) }
func Ones(ctx context.Context, size ...int) (tensor.Value, error)  { return call1(ctx, OpOnes, size) }

func ZerosLike(ctx context.Context, a tensor.Value) (tensor.Value, error) {
	return call1(ctx, OpZerosLike, a)
}

func OnesLike(ctx context.Context, a tensor.Value) (tensor.Value, error) {
	return call1(ctx, OpOnesLike, a)
}

func Arange(ctx context.Context, end int) (tensor.Value, error) { return call1(ctx, OpArange, end) }

func ScalarTensor(ctx context.Context, s float64) (tensor.Value, error) {
	return call1(ctx, OpScalarTensor, s)
}

// Tensor brings a literal tensor into the program. Under tracing it is
// recorded as a fresh constant the graph owns.
func Tensor(ctx context.Context, t *tensor.Tensor) (tensor.Value, error) {
	return call1(ctx, OpLiftFresh, t)
}

func callN(ctx context.Context, op *dispatch.OpOverload, args ...any) ([]tensor.Value, error) {
	out, err := dispatch.Call(ctx, op, args, nil)
	if err != nil {
		return nil, err
	}
	seq, ok := out.([]any)
	if !ok {
		return nil, fmt.Errorf("%s returned %T, not a list of tensors", op, out)
	}
	vs := make([]tensor.Value, len(seq))
	for i, e := range seq {
		if vs[i], ok = e.(tensor.Value); !ok {
			return nil, fmt.Errorf("%s returned %T at index %d, not a tensor", op, e, i)
		}
	}
	return vs, nil
}

// Unbind returns the slices of a along dim, each without that dimension.
func Unbind(ctx context.Context, a tensor.Value, dim int) ([]tensor.Value, error) {
	return callN(ctx, OpUnbind, a, dim)
}

// Split cuts a along dim into chunks of size elements; the last chunk may
// be smaller.
func Split(ctx context.Context, a tensor.Value, size, dim int) ([]tensor.Value, error) {
	return callN(ctx, OpSplit, a, size, dim)
}

// MaxDim returns the maxima of a along dim and their indices.
func MaxDim(ctx context.Context, a tensor.Value, dim int, keepdim bool) (values, indices tensor.Value, err error) {
	out, err := callN(ctx, OpMaxDim, a, dim, keepdim)
	if err != nil {
		return nil, nil, err
	}
	if len(out) != 2 {
		return nil, nil, fmt.Errorf("%s returned %d tensors, want 2", OpMaxDim, len(out))
	}
	return out[0], out[1], nil
}
