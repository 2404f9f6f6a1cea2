package aten

import (
	"context"
	"fmt"
	"slices"

	"github.com/specialistvlad/opgraph/internal/dispatch"
	"github.com/specialistvlad/opgraph/internal/tensor"
)

// metaFn computes the metadata of a view from the metadata of its base.
type metaFn func(op string, m tensor.Meta, args []any) (tensor.Meta, error)

var (
	OpView      = def("view(Tensor(a) self, int[] size) -> Tensor(a)", dispatch.TagView, viewKernel("view", viewMeta))
	OpReshape   = def("reshape(Tensor(a) self, int[] shape) -> Tensor(a)", 0, reshapeKernel)
	OpUnsqueeze = def("unsqueeze(Tensor(a) self, int dim) -> Tensor(a)", dispatch.TagView, viewKernel("unsqueeze", unsqueezeMeta))
	OpSqueeze   = def("squeeze.dim(Tensor(a) self, int dim) -> Tensor(a)", dispatch.TagView, viewKernel("squeeze", squeezeMeta))
	OpTranspose = def("transpose.int(Tensor(a) self, int dim0, int dim1) -> Tensor(a)", dispatch.TagView, viewKernel("transpose", transposeMeta))
	OpT         = def("t(Tensor(a) self) -> Tensor(a)", dispatch.TagView, viewKernel("t", tMeta))
	OpPermute   = def("permute(Tensor(a) self, int[] dims) -> Tensor(a)", dispatch.TagView, viewKernel("permute", permuteMeta))
	OpExpand    = def("expand(Tensor(a) self, int[] size, *, bool implicit=False) -> Tensor(a)", dispatch.TagView, viewKernel("expand", expandMeta))
	OpDetach    = def("detach(Tensor(a) self) -> Tensor(a)", dispatch.TagView, viewKernel("detach", aliasMeta))
	OpAlias     = def("alias(Tensor(a) self) -> Tensor(a)", dispatch.TagView, viewKernel("alias", aliasMeta))
	OpSelect    = def("select.int(Tensor(a) self, int dim, int index) -> Tensor(a)", dispatch.TagView, viewKernel("select", selectMeta))
	OpSlice     = def("slice.Tensor(Tensor(a) self, int dim=0, int? start=None, int? end=None, int step=1) -> Tensor(a)", dispatch.TagView, viewKernel("slice", sliceMeta))
	OpAsStrided = def("as_strided(Tensor(a) self, int[] size, int[] stride, int? storage_offset=None) -> Tensor(a)", dispatch.TagView, viewKernel("as_strided", asStridedMeta))

	// In-place views restride their first argument and touch no elements.
	OpUnsqueezeInplace = def("unsqueeze_(Tensor(a!) self, int dim) -> Tensor(a!)", dispatch.TagInplaceView, restrideKernel("unsqueeze_", unsqueezeMeta))
	OpSqueezeInplace   = def("squeeze_.dim(Tensor(a!) self, int dim) -> Tensor(a!)", dispatch.TagInplaceView, restrideKernel("squeeze_", squeezeMeta))
	OpTransposeInplace = def("transpose_(Tensor(a!) self, int dim0, int dim1) -> Tensor(a!)", dispatch.TagInplaceView, restrideKernel("transpose_", transposeMeta))
	OpTInplace         = def("t_(Tensor(a!) self) -> Tensor(a!)", dispatch.TagInplaceView, restrideKernel("t_", tMeta))
	OpAsStridedInplace = def("as_strided_(Tensor(a!) self, int[] size, int[] stride, int? storage_offset=None) -> Tensor(a!)", dispatch.TagInplaceView, restrideKernel("as_strided_", asStridedMeta))
)

func viewKernel(op string, fn metaFn) dispatch.Kernel {
	return func(_ context.Context, args []any) (any, error) {
		self, err := asTensor(op, args[0])
		if err != nil {
			return nil, err
		}
		m, err := fn(op, self.Meta(), args[1:])
		if err != nil {
			return nil, err
		}
		return self.AsStrided(m.Shape, m.Stride, m.Offset)
	}
}

// restrideKernel works on anything carrying writable metadata, so it can
// resync a tracing wrapper as well as a tensor.
func restrideKernel(op string, fn metaFn) dispatch.Kernel {
	return func(_ context.Context, args []any) (any, error) {
		self, ok := args[0].(restrider)
		if !ok {
			return nil, fmt.Errorf("%s: expected a Tensor argument, got %T", op, args[0])
		}
		m, err := fn(op, self.Meta(), args[1:])
		if err != nil {
			return nil, err
		}
		if err := self.SetMeta(m); err != nil {
			return nil, shapeErr(op, "%v", err)
		}
		return args[0], nil
	}
}

func reshapeKernel(ctx context.Context, args []any) (any, error) {
	self, err := asTensor("reshape", args[0])
	if err != nil {
		return nil, err
	}
	if !self.Meta().IsContiguous() {
		c, err := cloneKernel(ctx, args[:1])
		if err != nil {
			return nil, err
		}
		self = c.(*tensor.Tensor)
	}
	m, err := viewMeta("reshape", self.Meta(), args[1:])
	if err != nil {
		return nil, err
	}
	return self.AsStrided(m.Shape, m.Stride, m.Offset)
}

func inferSize(op string, size []int, numel int) ([]int, error) {
	out := slices.Clone(size)
	infer, known := -1, 1
	for i, s := range out {
		switch {
		case s == -1 && infer >= 0:
			return nil, shapeErr(op, "only one dimension can be inferred")
		case s == -1:
			infer = i
		case s < 0:
			return nil, shapeErr(op, "invalid shape dimension %d", s)
		default:
			known *= s
		}
	}
	if infer >= 0 {
		if known == 0 || numel%known != 0 {
			return nil, shapeErr(op, "shape %s is invalid for input of size %d", tensor.ShapeString(size), numel)
		}
		out[infer] = numel / known
		known *= out[infer]
	}
	if known != numel {
		return nil, shapeErr(op, "shape %s is invalid for input of size %d", tensor.ShapeString(size), numel)
	}
	return out, nil
}

func viewMeta(op string, m tensor.Meta, args []any) (tensor.Meta, error) {
	size, err := asInts(op, args[0])
	if err != nil {
		return m, err
	}
	if !m.IsContiguous() {
		return m, shapeErr(op, "view size is not compatible with input tensor's size and stride; use reshape instead")
	}
	shape, err := inferSize(op, size, m.Numel())
	if err != nil {
		return m, err
	}
	m.Shape = shape
	m.Stride = tensor.ContiguousStrides(shape)
	return m, nil
}

func unsqueezeMeta(op string, m tensor.Meta, args []any) (tensor.Meta, error) {
	dim, err := asInt(op, args[0])
	if err != nil {
		return m, err
	}
	rank := m.Dim()
	if dim, err = tensor.NormalizeDim(dim, rank+1); err != nil {
		return m, shapeErr(op, "%v", err)
	}
	stride := 1
	if dim < rank {
		stride = m.Shape[dim] * m.Stride[dim]
	}
	m.Shape = slices.Insert(m.Shape, dim, 1)
	m.Stride = slices.Insert(m.Stride, dim, stride)
	return m, nil
}

func squeezeMeta(op string, m tensor.Meta, args []any) (tensor.Meta, error) {
	dim, err := asInt(op, args[0])
	if err != nil {
		return m, err
	}
	if m.Dim() == 0 {
		return m, nil
	}
	if dim, err = tensor.NormalizeDim(dim, m.Dim()); err != nil {
		return m, shapeErr(op, "%v", err)
	}
	if m.Shape[dim] != 1 {
		return m, nil
	}
	m.Shape = slices.Delete(m.Shape, dim, dim+1)
	m.Stride = slices.Delete(m.Stride, dim, dim+1)
	return m, nil
}

func transposeMeta(op string, m tensor.Meta, args []any) (tensor.Meta, error) {
	d0, err := asInt(op, args[0])
	if err != nil {
		return m, err
	}
	d1, err := asInt(op, args[1])
	if err != nil {
		return m, err
	}
	if m.Dim() == 0 {
		return m, nil
	}
	if d0, err = tensor.NormalizeDim(d0, m.Dim()); err != nil {
		return m, shapeErr(op, "%v", err)
	}
	if d1, err = tensor.NormalizeDim(d1, m.Dim()); err != nil {
		return m, shapeErr(op, "%v", err)
	}
	m.Shape[d0], m.Shape[d1] = m.Shape[d1], m.Shape[d0]
	m.Stride[d0], m.Stride[d1] = m.Stride[d1], m.Stride[d0]
	return m, nil
}

func tMeta(op string, m tensor.Meta, _ []any) (tensor.Meta, error) {
	switch {
	case m.Dim() > 2:
		return m, shapeErr(op, "expects a tensor with <= 2 dimensions, but self is %dD", m.Dim())
	case m.Dim() < 2:
		return m, nil
	}
	return transposeMeta(op, m, []any{0, 1})
}

func permuteMeta(op string, m tensor.Meta, args []any) (tensor.Meta, error) {
	dims, err := asInts(op, args[0])
	if err != nil {
		return m, err
	}
	if len(dims) != m.Dim() {
		return m, shapeErr(op, "number of dims don't match in permute")
	}
	shape := make([]int, len(dims))
	stride := make([]int, len(dims))
	seen := make([]bool, len(dims))
	for i, d := range dims {
		d, err := tensor.NormalizeDim(d, m.Dim())
		if err != nil {
			return m, shapeErr(op, "%v", err)
		}
		if seen[d] {
			return m, shapeErr(op, "repeated dim %d in permute", d)
		}
		seen[d] = true
		shape[i], stride[i] = m.Shape[d], m.Stride[d]
	}
	m.Shape, m.Stride = shape, stride
	return m, nil
}

func expandMeta(op string, m tensor.Meta, args []any) (tensor.Meta, error) {
	size, err := asInts(op, args[0])
	if err != nil {
		return m, err
	}
	if len(size) < m.Dim() {
		return m, shapeErr(op, "the number of sizes provided (%d) must be greater or equal to the number of dimensions in the tensor (%d)", len(size), m.Dim())
	}
	lead := len(size) - m.Dim()
	target := slices.Clone(size)
	for i, s := range target {
		if s != -1 {
			continue
		}
		if i < lead {
			return m, shapeErr(op, "-1 is not allowed in a leading, non-existing dimension")
		}
		target[i] = m.Shape[i-lead]
	}
	out, err := tensor.BroadcastTo(m, target)
	if err != nil {
		return m, shapeErr(op, "%v", err)
	}
	return out, nil
}

func aliasMeta(_ string, m tensor.Meta, _ []any) (tensor.Meta, error) { return m, nil }

func selectMeta(op string, m tensor.Meta, args []any) (tensor.Meta, error) {
	dim, err := asInt(op, args[0])
	if err != nil {
		return m, err
	}
	index, err := asInt(op, args[1])
	if err != nil {
		return m, err
	}
	if m.Dim() == 0 {
		return m, shapeErr(op, "cannot be applied to a 0-dim tensor")
	}
	if dim, err = tensor.NormalizeDim(dim, m.Dim()); err != nil {
		return m, shapeErr(op, "%v", err)
	}
	size := m.Shape[dim]
	if index < -size || index >= size {
		return m, shapeErr(op, "index %d out of range for tensor of size %s at dimension %d", index, tensor.ShapeString(m.Shape), dim)
	}
	if index < 0 {
		index += size
	}
	m.Offset += index * m.Stride[dim]
	m.Shape = slices.Delete(m.Shape, dim, dim+1)
	m.Stride = slices.Delete(m.Stride, dim, dim+1)
	return m, nil
}

func sliceMeta(op string, m tensor.Meta, args []any) (tensor.Meta, error) {
	dim, err := asInt(op, args[0])
	if err != nil {
		return m, err
	}
	step, err := asInt(op, args[3])
	if err != nil {
		return m, err
	}
	if step <= 0 {
		return m, shapeErr(op, "slice step must be positive")
	}
	if m.Dim() == 0 {
		return m, shapeErr(op, "cannot be applied to a 0-dim tensor")
	}
	if dim, err = tensor.NormalizeDim(dim, m.Dim()); err != nil {
		return m, shapeErr(op, "%v", err)
	}
	size := m.Shape[dim]
	clamp := func(v any, def int) (int, error) {
		i, ok, err := asOptionalInt(op, v)
		if err != nil || !ok {
			return def, err
		}
		if i < 0 {
			i += size
		}
		return min(max(i, 0), size), nil
	}
	start, err := clamp(args[1], 0)
	if err != nil {
		return m, err
	}
	end, err := clamp(args[2], size)
	if err != nil {
		return m, err
	}
	n := 0
	if end > start {
		n = (end - start + step - 1) / step
	}
	m.Offset += start * m.Stride[dim]
	m.Shape[dim] = n
	m.Stride[dim] *= step
	return m, nil
}

func asStridedMeta(op string, m tensor.Meta, args []any) (tensor.Meta, error) {
	size, err := asInts(op, args[0])
	if err != nil {
		return m, err
	}
	stride, err := asInts(op, args[1])
	if err != nil {
		return m, err
	}
	if len(size) != len(stride) {
		return m, shapeErr(op, "mismatch in length of strides and shape")
	}
	if err := checkSize(op, size); err != nil {
		return m, err
	}
	offset, ok, err := asOptionalInt(op, args[2])
	if err != nil {
		return m, err
	}
	if ok {
		m.Offset = offset
	}
	m.Shape, m.Stride = size, stride
	return m, nil
}
