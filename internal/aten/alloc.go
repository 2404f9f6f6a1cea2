package aten

import (
	"context"
	"fmt"
	"slices"

	"github.com/specialistvlad/opgraph/internal/dispatch"
	"github.com/specialistvlad/opgraph/internal/tensor"
)

// Namespace is the operator namespace of every overload in this package.
const Namespace = "aten"

func def(sig string, tags dispatch.Tag, k dispatch.Kernel) *dispatch.OpOverload {
	return dispatch.Register(dispatch.NewOp(Namespace, sig, tags, k))
}

// alloc creates a contiguous output. The output is fake when the context
// asks for metadata only or when any input is fake.
func alloc(ctx context.Context, shape []int, dtype tensor.DType, device tensor.Device, inputs ...*tensor.Tensor) *tensor.Tensor {
	fake := dispatch.MetadataOnly(ctx)
	for _, in := range inputs {
		if in != nil && in.IsFake() {
			fake = true
		}
	}
	return tensor.Empty(shape, dtype, device, fake)
}

func checkSize(op string, size []int) error {
	for _, s := range size {
		if s < 0 {
			return shapeErr(op, "negative dimension %d in size %s", s, tensor.ShapeString(size))
		}
	}
	return nil
}

func asDevice(op string, v any) (tensor.Device, error) {
	switch d := v.(type) {
	case nil:
		return tensor.CPU, nil
	case tensor.Device:
		return d, nil
	case string:
		return tensor.Device(d), nil
	}
	return "", fmt.Errorf("%s: expected a device, got %T", op, v)
}

// expanded returns t's elements broadcast to shape, in row-major order.
func expanded(op string, t *tensor.Tensor, shape []int) ([]float64, error) {
	m, err := tensor.BroadcastTo(t.Meta(), shape)
	if err != nil {
		return nil, shapeErr(op, "%v", err)
	}
	v, err := t.AsStrided(m.Shape, m.Stride, m.Offset)
	if err != nil {
		return nil, shapeErr(op, "%v", err)
	}
	return v.Values(), nil
}

// operand accepts a tensor or a number. Numbers become 0-d tensors whose
// dtype does not widen the category of like.
func operand(op string, v any, like tensor.DType) (*tensor.Tensor, error) {
	if t, ok := v.(*tensor.Tensor); ok {
		return t, nil
	}
	x, err := asFloat(op, v)
	if err != nil {
		return nil, err
	}
	dt := like
	switch {
	case isIntegral(v) && like == tensor.Bool:
		dt = tensor.Int64
	case !isIntegral(v) && !like.IsFloating():
		if _, isBool := v.(bool); !isBool {
			dt = tensor.Float32
		}
	}
	return tensor.Scalar(x, dt), nil
}

func sameShape(a, b []int) bool { return slices.Equal(a, b) }
