package aten

import (
	"context"
	"math"

	"github.com/specialistvlad/opgraph/internal/dispatch"
	"github.com/specialistvlad/opgraph/internal/tensor"
)

const pw = dispatch.TagPointwise

var (
	OpAdd       = def("add.Tensor(Tensor self, Tensor other, *, Scalar alpha=1) -> Tensor", pw, alphaKernel("add", 1))
	OpAddScalar = def("add.Scalar(Tensor self, Scalar other, Scalar alpha=1) -> Tensor", pw, alphaKernel("add", 1))
	OpSub       = def("sub.Tensor(Tensor self, Tensor other, *, Scalar alpha=1) -> Tensor", pw, alphaKernel("sub", -1))
	OpMul       = def("mul.Tensor(Tensor self, Tensor other) -> Tensor", pw, binaryKernel("mul", promote, func(x, y float64) float64 { return x * y }))
	OpMulScalar = def("mul.Scalar(Tensor self, Scalar other) -> Tensor", pw, binaryKernel("mul", promote, func(x, y float64) float64 { return x * y }))
	OpDiv       = def("div.Tensor(Tensor self, Tensor other) -> Tensor", pw, binaryKernel("div", promoteFloat, func(x, y float64) float64 { return x / y }))
	OpPow       = def("pow.Tensor_Scalar(Tensor self, Scalar exponent) -> Tensor", pw, binaryKernel("pow", promote, math.Pow))
	OpMaximum   = def("maximum(Tensor self, Tensor other) -> Tensor", pw, binaryKernel("maximum", promote, maximum))
	OpGt        = def("gt.Scalar(Tensor self, Scalar other) -> Tensor", pw, binaryKernel("gt", toBool, func(x, y float64) float64 { return b2f(x > y) }))

	OpNeg     = def("neg(Tensor self) -> Tensor", pw, unaryKernel("neg", false, func(x float64) float64 { return -x }))
	OpExp     = def("exp(Tensor self) -> Tensor", pw, unaryKernel("exp", true, math.Exp))
	OpLog     = def("log(Tensor self) -> Tensor", pw, unaryKernel("log", true, math.Log))
	OpSin     = def("sin(Tensor self) -> Tensor", pw, unaryKernel("sin", true, math.Sin))
	OpCos     = def("cos(Tensor self) -> Tensor", pw, unaryKernel("cos", true, math.Cos))
	OpTanh    = def("tanh(Tensor self) -> Tensor", pw, unaryKernel("tanh", true, math.Tanh))
	OpSigmoid = def("sigmoid(Tensor self) -> Tensor", pw, unaryKernel("sigmoid", true, sigmoid))
	OpRelu    = def("relu(Tensor self) -> Tensor", pw, unaryKernel("relu", false, relu))
	OpAbs     = def("abs(Tensor self) -> Tensor", pw, unaryKernel("abs", false, math.Abs))
	OpSqrt    = def("sqrt(Tensor self) -> Tensor", pw, unaryKernel("sqrt", true, math.Sqrt))
	OpSilu    = def("silu(Tensor self) -> Tensor", pw, unaryKernel("silu", true, func(x float64) float64 { return x * sigmoid(x) }))

	OpAddInplace  = def("add_.Tensor(Tensor(a!) self, Tensor other, *, Scalar alpha=1) -> Tensor(a!)", pw, inplaceOf(alphaKernel("add_", 1)))
	OpSubInplace  = def("sub_.Tensor(Tensor(a!) self, Tensor other, *, Scalar alpha=1) -> Tensor(a!)", pw, inplaceOf(alphaKernel("sub_", -1)))
	OpMulInplace  = def("mul_.Tensor(Tensor(a!) self, Tensor other) -> Tensor(a!)", pw, inplaceOf(binaryKernel("mul_", promote, func(x, y float64) float64 { return x * y })))
	OpReluInplace = def("relu_(Tensor(a!) self) -> Tensor(a!)", pw, inplaceOf(unaryKernel("relu_", false, relu)))
	OpFill        = def("fill_.Scalar(Tensor(a!) self, Scalar value) -> Tensor(a!)", 0, fillKernel)
	OpZero        = def("zero_(Tensor(a!) self) -> Tensor(a!)", 0, zeroKernel)
	OpCopy        = def("copy_(Tensor(a!) self, Tensor src, bool non_blocking=False) -> Tensor(a!)", 0, copyKernel)
)

func sigmoid(x float64) float64 { return 1 / (1 + math.Exp(-x)) }

func relu(x float64) float64 {
	if x > 0 {
		return x
	}
	return 0
}

func maximum(x, y float64) float64 {
	if math.IsNaN(x) || math.IsNaN(y) {
		return math.NaN()
	}
	return math.Max(x, y)
}

func b2f(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func promote(a, b tensor.DType) tensor.DType { return tensor.Promote(a, b) }

func promoteFloat(a, b tensor.DType) tensor.DType {
	if d := tensor.Promote(a, b); d.IsFloating() {
		return d
	}
	return tensor.Float32
}

func toBool(tensor.DType, tensor.DType) tensor.DType { return tensor.Bool }

func binary(ctx context.Context, op string, self, other any, dtype func(a, b tensor.DType) tensor.DType, fn func(x, y float64) float64) (*tensor.Tensor, error) {
	a, err := asTensor(op, self)
	if err != nil {
		return nil, err
	}
	b, err := operand(op, other, a.DType())
	if err != nil {
		return nil, err
	}
	shape, err := tensor.BroadcastShapes(a.Shape(), b.Shape())
	if err != nil {
		return nil, shapeErr(op, "%v", err)
	}
	out := alloc(ctx, shape, dtype(a.DType(), b.DType()), a.Device(), a, b)
	if out.IsFake() {
		return out, nil
	}
	av, err := expanded(op, a, shape)
	if err != nil {
		return nil, err
	}
	bv, err := expanded(op, b, shape)
	if err != nil {
		return nil, err
	}
	vals := make([]float64, len(av))
	for i := range vals {
		vals[i] = fn(av[i], bv[i])
	}
	return out, out.SetValues(vals)
}

func binaryKernel(op string, dtype func(a, b tensor.DType) tensor.DType, fn func(x, y float64) float64) dispatch.Kernel {
	return func(ctx context.Context, args []any) (any, error) {
		return binary(ctx, op, args[0], args[1], dtype, fn)
	}
}

// alphaKernel computes self + sign*alpha*other.
func alphaKernel(op string, sign float64) dispatch.Kernel {
	return func(ctx context.Context, args []any) (any, error) {
		alpha, err := asFloat(op, args[2])
		if err != nil {
			return nil, err
		}
		k := sign * alpha
		return binary(ctx, op, args[0], args[1], promote, func(x, y float64) float64 { return x + k*y })
	}
}

func unaryKernel(op string, floating bool, fn func(float64) float64) dispatch.Kernel {
	return func(ctx context.Context, args []any) (any, error) {
		self, err := asTensor(op, args[0])
		if err != nil {
			return nil, err
		}
		dtype := self.DType()
		if floating && !dtype.IsFloating() {
			dtype = tensor.Float32
		}
		out := alloc(ctx, self.Shape(), dtype, self.Device(), self)
		if out.IsFake() {
			return out, nil
		}
		vals := self.Values()
		for i, v := range vals {
			vals[i] = fn(v)
		}
		return out, out.SetValues(vals)
	}
}

// inplaceOf turns an out-of-place kernel into one that writes its result
// back through args[0] and returns args[0].
func inplaceOf(k dispatch.Kernel) dispatch.Kernel {
	return func(ctx context.Context, args []any) (any, error) {
		res, err := k(ctx, args)
		if err != nil {
			return nil, err
		}
		return writeBack("inplace", args[0], res.(*tensor.Tensor))
	}
}

func writeBack(op string, self any, result *tensor.Tensor) (any, error) {
	dst, err := asTensor(op, self)
	if err != nil {
		return nil, err
	}
	if !sameShape(dst.Shape(), result.Shape()) {
		return nil, shapeErr(op, "output with shape %s doesn't match the broadcast shape %s",
			tensor.ShapeString(dst.Shape()), tensor.ShapeString(result.Shape()))
	}
	if dst.IsFake() || result.IsFake() {
		return self, nil
	}
	return self, dst.SetValues(result.Values())
}

func fillKernel(ctx context.Context, args []any) (any, error) {
	self, err := asTensor("fill_", args[0])
	if err != nil {
		return nil, err
	}
	v, err := asFloat("fill_", args[1])
	if err != nil {
		return nil, err
	}
	res, err := filled(ctx, self.Shape(), self.DType(), self.Device(), v, self)
	if err != nil {
		return nil, err
	}
	return writeBack("fill_", args[0], res)
}

func zeroKernel(ctx context.Context, args []any) (any, error) {
	self, err := asTensor("zero_", args[0])
	if err != nil {
		return nil, err
	}
	res, err := filled(ctx, self.Shape(), self.DType(), self.Device(), 0, self)
	if err != nil {
		return nil, err
	}
	return writeBack("zero_", args[0], res)
}

func copyKernel(ctx context.Context, args []any) (any, error) {
	self, err := asTensor("copy_", args[0])
	if err != nil {
		return nil, err
	}
	src, err := asTensor("copy_", args[1])
	if err != nil {
		return nil, err
	}
	res := alloc(ctx, self.Shape(), self.DType(), self.Device(), self, src)
	if !res.IsFake() {
		vals, err := expanded("copy_", src, self.Shape())
		if err != nil {
			return nil, err
		}
		if err := res.SetValues(vals); err != nil {
			return nil, err
		}
	}
	return writeBack("copy_", args[0], res)
}
