package aten

import (
	"context"
	"fmt"
	"math"

	"github.com/specialistvlad/opgraph/internal/dispatch"
	"github.com/specialistvlad/opgraph/internal/tensor"
)

var (
	OpMM      = def("mm(Tensor self, Tensor mat2) -> Tensor", 0, mmKernel)
	OpAddmm   = def("addmm(Tensor self, Tensor mat1, Tensor mat2, *, Scalar beta=1, Scalar alpha=1) -> Tensor", 0, addmmKernel)
	OpLinear  = def("linear(Tensor input, Tensor weight, Tensor? bias=None) -> Tensor", 0, linearKernel)
	OpClone   = def("clone(Tensor self) -> Tensor", 0, cloneKernel)
	OpCat     = def("cat(Tensor[] tensors, int dim=0) -> Tensor", 0, catKernel)
	OpSoftmax = def("softmax.int(Tensor self, int dim, ScalarType? dtype=None) -> Tensor", 0, softmaxIntKernel)
	// OpSoftmaxImpl is the primitive softmax.int resolves to.
	OpSoftmaxImpl = def("_softmax(Tensor self, int dim, bool half_to_float) -> Tensor", 0, softmaxKernel)

	// OpNonzero has an output shape that depends on element values.
	OpNonzero = def("nonzero(Tensor self) -> Tensor", dispatch.TagDynamicOutputShape, nonzeroKernel)
	// OpLocalScalarDense extracts the only element of a tensor as a Go
	// number. It is the single point where element values leave the tensor
	// world, which is what tracing guards.
	OpLocalScalarDense = def("_local_scalar_dense(Tensor self) -> Scalar", dispatch.TagDataDependentOutput, localScalarDenseKernel)
)

// matmul multiplies a [n,k] by b [k,m], both row-major.
func matmul(a, b []float64, n, k, m int) []float64 {
	out := make([]float64, n*m)
	for i := 0; i < n; i++ {
		for p := 0; p < k; p++ {
			x := a[i*k+p]
			if x == 0 {
				continue
			}
			for j := 0; j < m; j++ {
				out[i*m+j] += x * b[p*m+j]
			}
		}
	}
	return out
}

func mmKernel(ctx context.Context, args []any) (any, error) {
	a, err := asTensor("mm", args[0])
	if err != nil {
		return nil, err
	}
	b, err := asTensor("mm", args[1])
	if err != nil {
		return nil, err
	}
	return mm(ctx, "mm", a, b)
}

func mm(ctx context.Context, op string, a, b *tensor.Tensor) (*tensor.Tensor, error) {
	if a.Dim() != 2 || b.Dim() != 2 {
		return nil, shapeErr(op, "expected 2-D tensors, got %dD and %dD", a.Dim(), b.Dim())
	}
	as, bs := a.Shape(), b.Shape()
	if as[1] != bs[0] {
		return nil, shapeErr(op, "mat1 and mat2 shapes cannot be multiplied (%dx%d and %dx%d)", as[0], as[1], bs[0], bs[1])
	}
	out := alloc(ctx, []int{as[0], bs[1]}, tensor.Promote(a.DType(), b.DType()), a.Device(), a, b)
	if out.IsFake() {
		return out, nil
	}
	return out, out.SetValues(matmul(a.Values(), b.Values(), as[0], as[1], bs[1]))
}

func addmmKernel(ctx context.Context, args []any) (any, error) {
	self, err := asTensor("addmm", args[0])
	if err != nil {
		return nil, err
	}
	m1, err := asTensor("addmm", args[1])
	if err != nil {
		return nil, err
	}
	m2, err := asTensor("addmm", args[2])
	if err != nil {
		return nil, err
	}
	beta, err := asFloat("addmm", args[3])
	if err != nil {
		return nil, err
	}
	alpha, err := asFloat("addmm", args[4])
	if err != nil {
		return nil, err
	}
	prod, err := mm(ctx, "addmm", m1, m2)
	if err != nil {
		return nil, err
	}
	return binary(ctx, "addmm", self, prod, promote, func(x, y float64) float64 { return beta*x + alpha*y })
}

func linearKernel(ctx context.Context, args []any) (any, error) {
	input, err := asTensor("linear", args[0])
	if err != nil {
		return nil, err
	}
	weight, err := asTensor("linear", args[1])
	if err != nil {
		return nil, err
	}
	if input.Dim() == 0 || weight.Dim() != 2 {
		return nil, shapeErr("linear", "expected input of rank >= 1 and a 2-D weight, got %dD and %dD", input.Dim(), weight.Dim())
	}
	in, ws := input.Shape(), weight.Shape()
	k := in[len(in)-1]
	if ws[1] != k {
		return nil, shapeErr("linear", "input features %d do not match weight shape %s", k, tensor.ShapeString(ws))
	}
	rows := 1
	for _, s := range in[:len(in)-1] {
		rows *= s
	}
	outShape := append(append([]int(nil), in[:len(in)-1]...), ws[0])
	var bias *tensor.Tensor
	if args[2] != nil {
		if bias, err = asTensor("linear", args[2]); err != nil {
			return nil, err
		}
		if _, err := tensor.BroadcastShapes(bias.Shape(), outShape); err != nil {
			return nil, shapeErr("linear", "%v", err)
		}
	}
	out := alloc(ctx, outShape, tensor.Promote(input.DType(), weight.DType()), input.Device(), input, weight, bias)
	if out.IsFake() {
		return out, nil
	}
	wt, err := weight.AsStrided([]int{ws[1], ws[0]}, []int{weight.Stride()[1], weight.Stride()[0]}, weight.Offset())
	if err != nil {
		return nil, err
	}
	vals := matmul(input.Values(), wt.Values(), rows, k, ws[0])
	if bias != nil {
		bv, err := expanded("linear", bias, outShape)
		if err != nil {
			return nil, err
		}
		for i := range vals {
			vals[i] += bv[i]
		}
	}
	return out, out.SetValues(vals)
}

func catKernel(ctx context.Context, args []any) (any, error) {
	ts, err := asTensors("cat", args[0])
	if err != nil {
		return nil, err
	}
	if len(ts) == 0 {
		return nil, shapeErr("cat", "expected a non-empty list of Tensors")
	}
	d, err := asInt("cat", args[1])
	if err != nil {
		return nil, err
	}
	first := ts[0].Shape()
	if len(first) == 0 {
		return nil, shapeErr("cat", "zero-dimensional tensor cannot be concatenated")
	}
	if d, err = tensor.NormalizeDim(d, len(first)); err != nil {
		return nil, shapeErr("cat", "%v", err)
	}
	outShape := append([]int(nil), first...)
	outShape[d] = 0
	dtype := ts[0].DType()
	for i, t := range ts {
		s := t.Shape()
		if len(s) != len(first) {
			return nil, shapeErr("cat", "tensors must have same number of dimensions: got %d and %d", len(first), len(s))
		}
		for j := range s {
			if j != d && s[j] != first[j] {
				return nil, shapeErr("cat", "sizes of tensors must match except in dimension %d; expected size %d but got size %d for tensor number %d in the list", d, first[j], s[j], i)
			}
		}
		outShape[d] += s[d]
		dtype = tensor.Promote(dtype, t.DType())
	}
	out := alloc(ctx, outShape, dtype, ts[0].Device(), ts...)
	if out.IsFake() {
		return out, nil
	}
	outer := 1
	for _, s := range outShape[:d] {
		outer *= s
	}
	vals := make([]float64, 0, out.Numel())
	parts := make([][]float64, len(ts))
	chunk := make([]int, len(ts))
	for i, t := range ts {
		parts[i] = t.Values()
		if outer > 0 {
			chunk[i] = len(parts[i]) / outer
		}
	}
	for o := 0; o < outer; o++ {
		for i := range ts {
			vals = append(vals, parts[i][o*chunk[i]:(o+1)*chunk[i]]...)
		}
	}
	return out, out.SetValues(vals)
}

func softmaxIntKernel(ctx context.Context, args []any) (any, error) {
	self, err := asTensor("softmax", args[0])
	if err != nil {
		return nil, err
	}
	dtype, err := asDType("softmax", args[2], self.DType())
	if err != nil {
		return nil, err
	}
	return softmax(ctx, self, args[1], dtype)
}

func softmaxKernel(ctx context.Context, args []any) (any, error) {
	self, err := asTensor("_softmax", args[0])
	if err != nil {
		return nil, err
	}
	return softmax(ctx, self, args[1], self.DType())
}

func softmax(ctx context.Context, self *tensor.Tensor, dimArg any, dtype tensor.DType) (*tensor.Tensor, error) {
	if !dtype.IsFloating() {
		return nil, fmt.Errorf("softmax: not implemented for dtype %s", dtype)
	}
	dim, err := asInt("softmax", dimArg)
	if err != nil {
		return nil, err
	}
	if dim, err = tensor.NormalizeDim(dim, self.Dim()); err != nil {
		return nil, shapeErr("softmax", "%v", err)
	}
	out := alloc(ctx, self.Shape(), dtype, self.Device(), self)
	if out.IsFake() {
		return out, nil
	}
	vals := self.Values()
	shape := self.Shape()
	if len(shape) == 0 {
		for i := range vals {
			vals[i] = 1
		}
		return out, out.SetValues(vals)
	}
	inner := 1
	for _, s := range shape[dim+1:] {
		inner *= s
	}
	n := shape[dim]
	for base := 0; base < len(vals); base += n * inner {
		for j := 0; j < inner; j++ {
			hi := math.Inf(-1)
			for i := 0; i < n; i++ {
				hi = math.Max(hi, vals[base+i*inner+j])
			}
			sum := 0.0
			for i := 0; i < n; i++ {
				p := base + i*inner + j
				vals[p] = math.Exp(vals[p] - hi)
				sum += vals[p]
			}
			for i := 0; i < n; i++ {
				vals[base+i*inner+j] /= sum
			}
		}
	}
	return out, out.SetValues(vals)
}

func nonzeroKernel(ctx context.Context, args []any) (any, error) {
	self, err := asTensor("nonzero", args[0])
	if err != nil {
		return nil, err
	}
	if self.IsFake() {
		return nil, fmt.Errorf("nonzero: %w", tensor.ErrNoStorage)
	}
	shape := self.Shape()
	var vals []float64
	count := 0
	for flat, v := range self.Values() {
		if v == 0 {
			continue
		}
		for _, i := range tensor.Unravel(flat, shape) {
			vals = append(vals, float64(i))
		}
		count++
	}
	out := alloc(ctx, []int{count, len(shape)}, tensor.Int64, self.Device(), self)
	if out.IsFake() {
		return out, nil
	}
	return out, out.SetValues(vals)
}

func localScalarDenseKernel(_ context.Context, args []any) (any, error) {
	self, err := asTensor("_local_scalar_dense", args[0])
	if err != nil {
		return nil, err
	}
	v, err := self.Item()
	if err != nil {
		return nil, fmt.Errorf("_local_scalar_dense: %w", err)
	}
	return v, nil
}
