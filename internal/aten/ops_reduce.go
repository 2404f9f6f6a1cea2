package aten

import (
	"context"
	"fmt"
	"math"

	"github.com/specialistvlad/opgraph/internal/tensor"
)

var (
	OpSum    = def("sum(Tensor self, *, ScalarType? dtype=None) -> Tensor", 0, sumKernel)
	OpSumDim = def("sum.dim_IntList(Tensor self, int[]? dim, bool keepdim=False, *, ScalarType? dtype=None) -> Tensor", 0, sumDimKernel)
	OpMean   = def("mean.dim(Tensor self, int[]? dim, bool keepdim=False, *, ScalarType? dtype=None) -> Tensor", 0, meanKernel)
	OpAmax   = def("amax(Tensor self, int[] dim=[], bool keepdim=False) -> Tensor", 0, amaxKernel)
)

type reduction struct {
	op         string
	init       float64
	needsInput bool
	combine    func(acc, x float64) float64
	finish     func(acc float64, n int) float64
}

var (
	sumReduction = reduction{init: 0, combine: func(a, x float64) float64 { return a + x }}
	maxReduction = reduction{init: math.Inf(-1), needsInput: true, combine: maximum}
)

// reducedDims marks the dimensions to reduce. An absent or empty dim list
// reduces every dimension.
func reducedDims(op string, rank int, dim any) ([]bool, error) {
	mask := make([]bool, rank)
	var dims []int
	if dim != nil {
		var err error
		if dims, err = asInts(op, dim); err != nil {
			return nil, err
		}
	}
	if len(dims) == 0 {
		for i := range mask {
			mask[i] = true
		}
		return mask, nil
	}
	for _, d := range dims {
		n, err := tensor.NormalizeDim(d, rank)
		if err != nil {
			return nil, shapeErr(op, "%v", err)
		}
		if rank == 0 {
			continue
		}
		if mask[n] {
			return nil, shapeErr(op, "dim %d appears multiple times in the list of dims", n)
		}
		mask[n] = true
	}
	return mask, nil
}

func (r reduction) run(ctx context.Context, self *tensor.Tensor, mask []bool, keepdim bool, dtype tensor.DType) (*tensor.Tensor, error) {
	in := self.Shape()
	var out []int
	for i, s := range in {
		switch {
		case !mask[i]:
			out = append(out, s)
		case keepdim:
			out = append(out, 1)
		}
	}
	if r.needsInput && self.Numel() == 0 {
		return nil, shapeErr(r.op, "expected reduction dim to have non-zero size")
	}
	res := alloc(ctx, out, dtype, self.Device(), self)
	if res.IsFake() {
		return res, nil
	}
	// Output strides over the kept input dims; reduced dims contribute zero.
	outStrides := tensor.ContiguousStrides(out)
	step := make([]int, len(in))
	k := 0
	for i := range in {
		if mask[i] && !keepdim {
			continue
		}
		if !mask[i] {
			step[i] = outStrides[k]
		}
		k++
	}
	acc := make([]float64, res.Numel())
	for i := range acc {
		acc[i] = r.init
	}
	count := 0
	if len(acc) > 0 {
		count = self.Numel() / len(acc)
	}
	for flat, v := range self.Values() {
		idx := tensor.Unravel(flat, in)
		o := 0
		for d, x := range idx {
			o += x * step[d]
		}
		acc[o] = r.combine(acc[o], v)
	}
	if r.finish != nil {
		for i := range acc {
			acc[i] = r.finish(acc[i], count)
		}
	}
	return res, res.SetValues(acc)
}

func sumDType(op string, self *tensor.Tensor, v any) (tensor.DType, error) {
	def := self.DType()
	if !def.IsFloating() {
		def = tensor.Int64
	}
	return asDType(op, v, def)
}

func sumKernel(ctx context.Context, args []any) (any, error) {
	self, err := asTensor("sum", args[0])
	if err != nil {
		return nil, err
	}
	dtype, err := sumDType("sum", self, args[1])
	if err != nil {
		return nil, err
	}
	mask, _ := reducedDims("sum", self.Dim(), nil)
	r := sumReduction
	r.op = "sum"
	return r.run(ctx, self, mask, false, dtype)
}

func sumDimKernel(ctx context.Context, args []any) (any, error) {
	self, err := asTensor("sum", args[0])
	if err != nil {
		return nil, err
	}
	mask, err := reducedDims("sum", self.Dim(), args[1])
	if err != nil {
		return nil, err
	}
	keepdim, err := asBool("sum", args[2])
	if err != nil {
		return nil, err
	}
	dtype, err := sumDType("sum", self, args[3])
	if err != nil {
		return nil, err
	}
	r := sumReduction
	r.op = "sum"
	return r.run(ctx, self, mask, keepdim, dtype)
}

func meanKernel(ctx context.Context, args []any) (any, error) {
	self, err := asTensor("mean", args[0])
	if err != nil {
		return nil, err
	}
	dtype, err := asDType("mean", args[3], self.DType())
	if err != nil {
		return nil, err
	}
	if !dtype.IsFloating() {
		return nil, fmt.Errorf("mean: could not infer output dtype; input dtype must be floating point, got %s", dtype)
	}
	mask, err := reducedDims("mean", self.Dim(), args[1])
	if err != nil {
		return nil, err
	}
	keepdim, err := asBool("mean", args[2])
	if err != nil {
		return nil, err
	}
	r := sumReduction
	r.op = "mean"
	r.finish = func(acc float64, n int) float64 {
		if n == 0 {
			return math.NaN()
		}
		return acc / float64(n)
	}
	return r.run(ctx, self, mask, keepdim, dtype)
}

func amaxKernel(ctx context.Context, args []any) (any, error) {
	self, err := asTensor("amax", args[0])
	if err != nil {
		return nil, err
	}
	mask, err := reducedDims("amax", self.Dim(), args[1])
	if err != nil {
		return nil, err
	}
	keepdim, err := asBool("amax", args[2])
	if err != nil {
		return nil, err
	}
	r := maxReduction
	r.op = "amax"
	return r.run(ctx, self, mask, keepdim, self.DType())
}
