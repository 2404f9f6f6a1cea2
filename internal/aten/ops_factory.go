package aten

import (
	"context"
	"math"

	"github.com/specialistvlad/opgraph/internal/dispatch"
	"github.com/specialistvlad/opgraph/internal/tensor"
)

// Factory operators take no tensor inputs. Constant propagation never
// applies to them.
var (
	OpFull         = def("full(int[] size, Scalar fill_value, *, ScalarType? dtype=None, Device? device=None) -> Tensor", dispatch.TagFactory, fullKernel)
	OpZeros        = def("zeros(int[] size, *, ScalarType? dtype=None, Device? device=None) -> Tensor", dispatch.TagFactory, constKernel("zeros", 0))
	OpOnes         = def("ones(int[] size, *, ScalarType? dtype=None, Device? device=None) -> Tensor", dispatch.TagFactory, constKernel("ones", 1))
	OpEmpty        = def("empty.memory_format(int[] size, *, ScalarType? dtype=None, Device? device=None) -> Tensor", dispatch.TagFactory, constKernel("empty", 0))
	OpArange       = def("arange(Scalar end, *, ScalarType? dtype=None, Device? device=None) -> Tensor", dispatch.TagFactory, arangeKernel)
	OpScalarTensor = def("scalar_tensor(Scalar s, *, ScalarType? dtype=None, Device? device=None) -> Tensor", dispatch.TagFactory, scalarTensorKernel)

	OpFullLike  = def("full_like(Tensor self, Scalar fill_value, *, ScalarType? dtype=None) -> Tensor", 0, fullLikeKernel)
	OpZerosLike = def("zeros_like(Tensor self, *, ScalarType? dtype=None) -> Tensor", 0, likeKernel("zeros_like", 0))
	OpOnesLike  = def("ones_like(Tensor self, *, ScalarType? dtype=None) -> Tensor", 0, likeKernel("ones_like", 1))

	// OpLift turns a plain tensor into one the active modes may observe.
	OpLift = def("lift(Tensor self) -> Tensor", 0, func(_ context.Context, args []any) (any, error) {
		return args[0], nil
	})
	// OpLiftFresh marks a freshly created constant tensor entering the
	// program, e.g. a literal.
	OpLiftFresh = def("lift_fresh(Tensor(a) self) -> Tensor(a)", 0, func(_ context.Context, args []any) (any, error) {
		return args[0], nil
	})
	// OpLiftFreshCopy is lift_fresh with its own storage, which is what
	// tracing records so the graph never aliases caller memory.
	OpLiftFreshCopy = def("lift_fresh_copy(Tensor self) -> Tensor", 0, cloneKernel)
)

// fillDType infers the dtype of a tensor filled with v.
func fillDType(v any) tensor.DType {
	switch v.(type) {
	case bool:
		return tensor.Bool
	case int, int64:
		return tensor.Int64
	}
	return tensor.Float32
}

func filled(ctx context.Context, size []int, dtype tensor.DType, device tensor.Device, fill float64, like ...*tensor.Tensor) (*tensor.Tensor, error) {
	out := alloc(ctx, size, dtype, device, like...)
	if out.IsFake() {
		return out, nil
	}
	vals := make([]float64, out.Numel())
	for i := range vals {
		vals[i] = fill
	}
	return out, out.SetValues(vals)
}

func fullKernel(ctx context.Context, args []any) (any, error) {
	size, err := asInts("full", args[0])
	if err != nil {
		return nil, err
	}
	if err := checkSize("full", size); err != nil {
		return nil, err
	}
	fill, err := asFloat("full", args[1])
	if err != nil {
		return nil, err
	}
	dtype, err := asDType("full", args[2], fillDType(args[1]))
	if err != nil {
		return nil, err
	}
	device, err := asDevice("full", args[3])
	if err != nil {
		return nil, err
	}
	return filled(ctx, size, dtype, device, fill)
}

func constKernel(op string, fill float64) dispatch.Kernel {
	return func(ctx context.Context, args []any) (any, error) {
		size, err := asInts(op, args[0])
		if err != nil {
			return nil, err
		}
		if err := checkSize(op, size); err != nil {
			return nil, err
		}
		dtype, err := asDType(op, args[1], tensor.Float32)
		if err != nil {
			return nil, err
		}
		device, err := asDevice(op, args[2])
		if err != nil {
			return nil, err
		}
		return filled(ctx, size, dtype, device, fill)
	}
}

func arangeKernel(ctx context.Context, args []any) (any, error) {
	end, err := asFloat("arange", args[0])
	if err != nil {
		return nil, err
	}
	if end < 0 {
		return nil, shapeErr("arange", "upper bound %g must be non-negative", end)
	}
	dtype, err := asDType("arange", args[1], fillDType(args[0]))
	if err != nil {
		return nil, err
	}
	device, err := asDevice("arange", args[2])
	if err != nil {
		return nil, err
	}
	n := int(math.Ceil(end))
	out := alloc(ctx, []int{n}, dtype, device)
	if out.IsFake() {
		return out, nil
	}
	vals := make([]float64, n)
	for i := range vals {
		vals[i] = float64(i)
	}
	return out, out.SetValues(vals)
}

func scalarTensorKernel(ctx context.Context, args []any) (any, error) {
	s, err := asFloat("scalar_tensor", args[0])
	if err != nil {
		return nil, err
	}
	dtype, err := asDType("scalar_tensor", args[1], tensor.Float32)
	if err != nil {
		return nil, err
	}
	device, err := asDevice("scalar_tensor", args[2])
	if err != nil {
		return nil, err
	}
	return filled(ctx, nil, dtype, device, s)
}

func fullLikeKernel(ctx context.Context, args []any) (any, error) {
	self, err := asTensor("full_like", args[0])
	if err != nil {
		return nil, err
	}
	fill, err := asFloat("full_like", args[1])
	if err != nil {
		return nil, err
	}
	dtype, err := asDType("full_like", args[2], self.DType())
	if err != nil {
		return nil, err
	}
	return filled(ctx, self.Shape(), dtype, self.Device(), fill, self)
}

func likeKernel(op string, fill float64) dispatch.Kernel {
	return func(ctx context.Context, args []any) (any, error) {
		self, err := asTensor(op, args[0])
		if err != nil {
			return nil, err
		}
		dtype, err := asDType(op, args[1], self.DType())
		if err != nil {
			return nil, err
		}
		return filled(ctx, self.Shape(), dtype, self.Device(), fill, self)
	}
}

func cloneKernel(ctx context.Context, args []any) (any, error) {
	self, err := asTensor("clone", args[0])
	if err != nil {
		return nil, err
	}
	out := alloc(ctx, self.Shape(), self.DType(), self.Device(), self)
	if out.IsFake() {
		return out, nil
	}
	return out, out.SetValues(self.Values())
}
