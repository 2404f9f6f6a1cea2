package aten

import (
	"context"
	"math"

	"github.com/specialistvlad/opgraph/internal/dispatch"
	"github.com/specialistvlad/opgraph/internal/tensor"
)

// Operators returning several tensors. Kernels return them as []any.
var (
	OpUnbind = def("unbind.int(Tensor(a) self, int dim=0) -> Tensor(a)[]", dispatch.TagView, unbindKernel)
	OpSplit  = def("split.Tensor(Tensor(a) self, int split_size, int dim=0) -> Tensor(a)[]", dispatch.TagView, splitKernel)
	OpMaxDim = def("max.dim(Tensor self, int dim, bool keepdim=False) -> (Tensor values, Tensor indices)", 0, maxDimKernel)
)

func unbindKernel(_ context.Context, args []any) (any, error) {
	self, err := asTensor("unbind", args[0])
	if err != nil {
		return nil, err
	}
	dim, err := asInt("unbind", args[1])
	if err != nil {
		return nil, err
	}
	if self.Dim() == 0 {
		return nil, shapeErr("unbind", "dimension specified as %d but tensor has no dimensions", dim)
	}
	if dim, err = tensor.NormalizeDim(dim, self.Dim()); err != nil {
		return nil, shapeErr("unbind", "%v", err)
	}
	out := make([]any, self.Shape()[dim])
	for i := range out {
		m, err := selectMeta("unbind", self.Meta(), []any{dim, i})
		if err != nil {
			return nil, err
		}
		if out[i], err = self.AsStrided(m.Shape, m.Stride, m.Offset); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func splitKernel(_ context.Context, args []any) (any, error) {
	self, err := asTensor("split", args[0])
	if err != nil {
		return nil, err
	}
	size, err := asInt("split", args[1])
	if err != nil {
		return nil, err
	}
	dim, err := asInt("split", args[2])
	if err != nil {
		return nil, err
	}
	if self.Dim() == 0 {
		return nil, shapeErr("split", "expected at least a 1-dimensional tensor")
	}
	if dim, err = tensor.NormalizeDim(dim, self.Dim()); err != nil {
		return nil, shapeErr("split", "%v", err)
	}
	n := self.Shape()[dim]
	if size <= 0 && n > 0 {
		return nil, shapeErr("split", "split_size can only be 0 if dimension size is 0, but got split_size %d", size)
	}
	var out []any
	for start := 0; start < n || (n == 0 && len(out) == 0); start += max(size, 1) {
		m, err := sliceMeta("split", self.Meta(), []any{dim, start, start + size, 1})
		if err != nil {
			return nil, err
		}
		chunk, err := self.AsStrided(m.Shape, m.Stride, m.Offset)
		if err != nil {
			return nil, err
		}
		out = append(out, chunk)
	}
	return out, nil
}

// maxDimKernel returns the maximum along dim and the index of its first
// occurrence. A NaN wins over every number.
func maxDimKernel(ctx context.Context, args []any) (any, error) {
	self, err := asTensor("max", args[0])
	if err != nil {
		return nil, err
	}
	dim, err := asInt("max", args[1])
	if err != nil {
		return nil, err
	}
	keepdim, err := asBool("max", args[2])
	if err != nil {
		return nil, err
	}
	if dim, err = tensor.NormalizeDim(dim, self.Dim()); err != nil {
		return nil, shapeErr("max", "%v", err)
	}
	in := self.Shape()
	if len(in) == 0 {
		in, keepdim = []int{1}, false
	}
	if in[dim] == 0 {
		return nil, shapeErr("max", "expected reduction dim %d to have non-zero size", dim)
	}
	var shape []int
	for i, s := range in {
		switch {
		case i != dim:
			shape = append(shape, s)
		case keepdim:
			shape = append(shape, 1)
		}
	}
	values := alloc(ctx, shape, self.DType(), self.Device(), self)
	indices := alloc(ctx, shape, tensor.Int64, self.Device(), self)
	if values.IsFake() {
		return []any{values, indices}, nil
	}

	inner := 1
	for _, s := range in[dim+1:] {
		inner *= s
	}
	n := in[dim]
	vals := self.Values()
	outer := len(vals) / (n * inner)
	best := make([]float64, outer*inner)
	at := make([]float64, outer*inner)
	for o := 0; o < outer; o++ {
		for j := 0; j < inner; j++ {
			b, bi := math.Inf(-1), 0
			for i := 0; i < n; i++ {
				v := vals[(o*n+i)*inner+j]
				if v > b || (math.IsNaN(v) && !math.IsNaN(b)) {
					b, bi = v, i
				}
			}
			best[o*inner+j], at[o*inner+j] = b, float64(bi)
		}
	}
	if err := values.SetValues(best); err != nil {
		return nil, err
	}
	return []any{values, indices}, indices.SetValues(at)
}
