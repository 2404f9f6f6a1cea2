package tensor

import (
	"fmt"
	"slices"
	"strings"
)

// Meta is the metadata record of a tensor: everything about it except its
// elements. Graph nodes carry a Meta for downstream inspection, and fake
// tensors are nothing but a Meta.
type Meta struct {
	Shape  []int
	Stride []int
	Offset int
	DType  DType
	Device Device
	Layout Layout
}

// Value is implemented by every tensor-like leaf: real tensors, fake
// tensors and the tagged wrappers used during tracing.
type Value interface {
	Meta() Meta
}

// ContiguousMeta returns the metadata of a fresh row-major tensor.
func ContiguousMeta(shape []int, dtype DType, device Device) Meta {
	return Meta{
		Shape:  slices.Clone(shape),
		Stride: ContiguousStrides(shape),
		DType:  dtype,
		Device: device,
	}
}

// ContiguousStrides returns row-major strides for shape.
func ContiguousStrides(shape []int) []int {
	strides := make([]int, len(shape))
	acc := 1
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = acc
		if shape[i] > 1 {
			acc *= shape[i]
		}
	}
	return strides
}

// Numel returns the number of logical elements.
func (m Meta) Numel() int {
	return numel(m.Shape)
}

// Dim returns the number of dimensions.
func (m Meta) Dim() int {
	return len(m.Shape)
}

// Clone returns a deep copy of m.
func (m Meta) Clone() Meta {
	out := m
	out.Shape = slices.Clone(m.Shape)
	out.Stride = slices.Clone(m.Stride)
	return out
}

// Equal reports whether two records describe the same layout.
func (m Meta) Equal(o Meta) bool {
	return slices.Equal(m.Shape, o.Shape) &&
		slices.Equal(m.Stride, o.Stride) &&
		m.Offset == o.Offset &&
		m.DType == o.DType &&
		m.Device == o.Device &&
		m.Layout == o.Layout
}

// IsContiguous reports whether the strides are row-major for the shape.
func (m Meta) IsContiguous() bool {
	want := ContiguousStrides(m.Shape)
	for i, s := range m.Shape {
		if s > 1 && m.Stride[i] != want[i] {
			return false
		}
	}
	return true
}

func (m Meta) String() string {
	return fmt.Sprintf("%s%s", m.DType, shapeString(m.Shape))
}

// NormalizeDim maps a possibly negative dim into [0, rank).
func NormalizeDim(dim, rank int) (int, error) {
	if rank == 0 {
		rank = 1
	}
	if dim < -rank || dim >= rank {
		return 0, fmt.Errorf("dimension out of range (expected to be in range of [%d, %d], but got %d)", -rank, rank-1, dim)
	}
	if dim < 0 {
		dim += rank
	}
	return dim, nil
}

// BroadcastShapes returns the shape two operands broadcast to.
func BroadcastShapes(a, b []int) ([]int, error) {
	n := max(len(a), len(b))
	out := make([]int, n)
	for i := 0; i < n; i++ {
		da, db := 1, 1
		if j := len(a) - n + i; j >= 0 {
			da = a[j]
		}
		if j := len(b) - n + i; j >= 0 {
			db = b[j]
		}
		switch {
		case da == db:
			out[i] = da
		case da == 1:
			out[i] = db
		case db == 1:
			out[i] = da
		default:
			return nil, fmt.Errorf("shapes %s and %s are not broadcastable", shapeString(a), shapeString(b))
		}
	}
	return out, nil
}

// BroadcastTo returns m viewed with shape, using zero strides for
// broadcast dimensions.
func BroadcastTo(m Meta, shape []int) (Meta, error) {
	if len(shape) < len(m.Shape) {
		return Meta{}, fmt.Errorf("cannot broadcast %s to %s", shapeString(m.Shape), shapeString(shape))
	}
	out := m.Clone()
	out.Shape = slices.Clone(shape)
	out.Stride = make([]int, len(shape))
	lead := len(shape) - len(m.Shape)
	for i := range shape {
		if i < lead {
			continue
		}
		src := m.Shape[i-lead]
		switch {
		case src == shape[i]:
			out.Stride[i] = m.Stride[i-lead]
		case src == 1:
			out.Stride[i] = 0
		default:
			return Meta{}, fmt.Errorf("cannot broadcast %s to %s", shapeString(m.Shape), shapeString(shape))
		}
	}
	return out, nil
}

func numel(shape []int) int {
	n := 1
	for _, s := range shape {
		n *= s
	}
	return n
}

func shapeString(shape []int) string {
	parts := make([]string, len(shape))
	for i, s := range shape {
		parts[i] = fmt.Sprint(s)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// ShapeString formats a shape the way error messages print it.
func ShapeString(shape []int) string {
	return shapeString(shape)
}
