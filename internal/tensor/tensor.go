package tensor

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
)

// ErrNoStorage is returned when element access is attempted on a fake tensor.
var ErrNoStorage = errors.New("tensor has no storage")

// Storage is the flat element buffer shared between a tensor and its views.
// Elements are kept as float64 and rounded to the owning tensor's dtype on
// every write.
type Storage struct {
	data []float64
}

// Tensor is a strided view over a Storage. A fake tensor has a nil storage
// and only carries its Meta.
type Tensor struct {
	meta    Meta
	storage *Storage
	fake    bool
	param   bool
}

// New creates a contiguous CPU tensor holding values in row-major order.
func New(shape []int, dtype DType, values []float64) (*Tensor, error) {
	for _, s := range shape {
		if s < 0 {
			return nil, fmt.Errorf("negative dimension in shape %s", shapeString(shape))
		}
	}
	if n := numel(shape); n != len(values) {
		return nil, fmt.Errorf("shape %s needs %d values, got %d", shapeString(shape), n, len(values))
	}
	data := make([]float64, len(values))
	for i, v := range values {
		data[i] = dtype.Cast(v)
	}
	return &Tensor{
		meta:    ContiguousMeta(shape, dtype, CPU),
		storage: &Storage{data: data},
	}, nil
}

// Must panics if err is non-nil. It is meant for literals in tests and
// examples.
func Must(t *Tensor, err error) *Tensor {
	if err != nil {
		panic(err)
	}
	return t
}

// FromValues is a float32 shorthand for New.
func FromValues(shape []int, values ...float64) *Tensor {
	return Must(New(shape, Float32, values))
}

// Scalar returns a zero-dimensional tensor.
func Scalar(v float64, dtype DType) *Tensor {
	return Must(New(nil, dtype, []float64{v}))
}

// Full returns a contiguous tensor with every element set to fill.
func Full(shape []int, dtype DType, fill float64) *Tensor {
	values := make([]float64, numel(shape))
	for i := range values {
		values[i] = fill
	}
	return Must(New(shape, dtype, values))
}

// Empty allocates a contiguous tensor described by meta. When fake is set
// no storage is allocated.
func Empty(shape []int, dtype DType, device Device, fake bool) *Tensor {
	t := &Tensor{meta: ContiguousMeta(shape, dtype, device), fake: fake}
	if !fake {
		t.storage = &Storage{data: make([]float64, numel(shape))}
	}
	return t
}

// NewFake builds a fake tensor with exactly the given metadata.
func NewFake(m Meta) *Tensor {
	return &Tensor{meta: m.Clone(), fake: true}
}

// Meta returns a copy of the tensor's metadata record.
func (t *Tensor) Meta() Meta { return t.meta.Clone() }

func (t *Tensor) Shape() []int   { return slices.Clone(t.meta.Shape) }
func (t *Tensor) Stride() []int  { return slices.Clone(t.meta.Stride) }
func (t *Tensor) Offset() int    { return t.meta.Offset }
func (t *Tensor) Dim() int       { return len(t.meta.Shape) }
func (t *Tensor) Numel() int     { return t.meta.Numel() }
func (t *Tensor) DType() DType   { return t.meta.DType }
func (t *Tensor) Device() Device { return t.meta.Device }
func (t *Tensor) Layout() Layout { return t.meta.Layout }

// IsFake reports whether the tensor is a metadata-only stand-in.
func (t *Tensor) IsFake() bool { return t.fake }

// IsParameter reports whether the tensor was marked as a module parameter.
func (t *Tensor) IsParameter() bool { return t.param }

// AsParameter marks t as a module parameter and returns it.
func AsParameter(t *Tensor) *Tensor {
	t.param = true
	return t
}

// SameStorage reports whether t and o view the same buffer.
func (t *Tensor) SameStorage(o *Tensor) bool {
	return t.storage != nil && t.storage == o.storage
}

// AsStrided returns a view of t's storage with different metadata. The
// dtype, device and layout of t are kept.
func (t *Tensor) AsStrided(shape, stride []int, offset int) (*Tensor, error) {
	if len(shape) != len(stride) {
		return nil, fmt.Errorf("as_strided: shape %s and stride %s differ in rank", shapeString(shape), shapeString(stride))
	}
	m := t.meta.Clone()
	m.Shape = slices.Clone(shape)
	m.Stride = slices.Clone(stride)
	m.Offset = offset
	if err := t.checkBounds(m); err != nil {
		return nil, err
	}
	return &Tensor{meta: m, storage: t.storage, fake: t.fake, param: false}, nil
}

// SetMeta restrides t in place. It backs the in-place view operators.
func (t *Tensor) SetMeta(m Meta) error {
	if err := t.checkBounds(m); err != nil {
		return err
	}
	t.meta = m.Clone()
	return nil
}

func (t *Tensor) checkBounds(m Meta) error {
	if t.storage == nil || numel(m.Shape) == 0 {
		return nil
	}
	hi := m.Offset
	for i, s := range m.Shape {
		hi += (s - 1) * m.Stride[i]
	}
	if m.Offset < 0 || hi >= len(t.storage.data) {
		return fmt.Errorf("view %s with strides %s at offset %d is out of bounds for storage of size %d",
			shapeString(m.Shape), shapeString(m.Stride), m.Offset, len(t.storage.data))
	}
	return nil
}

// ToFake returns a fake tensor with t's metadata.
func (t *Tensor) ToFake() *Tensor {
	return &Tensor{meta: t.meta.Clone(), fake: true, param: t.param}
}

// Values returns the elements in logical row-major order. Fake tensors
// return nil.
func (t *Tensor) Values() []float64 {
	if t.fake || t.storage == nil {
		return nil
	}
	out := make([]float64, 0, t.Numel())
	forEachOffset(t.meta, func(off int) {
		out = append(out, t.storage.data[off])
	})
	return out
}

// SetValues writes values, given in logical row-major order, through t's
// strides.
func (t *Tensor) SetValues(values []float64) error {
	if t.fake || t.storage == nil {
		return ErrNoStorage
	}
	if len(values) != t.Numel() {
		return fmt.Errorf("set values: tensor of shape %s needs %d values, got %d", shapeString(t.meta.Shape), t.Numel(), len(values))
	}
	i := 0
	forEachOffset(t.meta, func(off int) {
		t.storage.data[off] = t.meta.DType.Cast(values[i])
		i++
	})
	return nil
}

// At returns the element at idx.
func (t *Tensor) At(idx ...int) (float64, error) {
	if t.fake || t.storage == nil {
		return 0, ErrNoStorage
	}
	if len(idx) != t.Dim() {
		return 0, fmt.Errorf("index has %d components for a %d-d tensor", len(idx), t.Dim())
	}
	off := t.meta.Offset
	for i, v := range idx {
		if v < 0 || v >= t.meta.Shape[i] {
			return 0, fmt.Errorf("index %d out of range for dimension %d of size %d", v, i, t.meta.Shape[i])
		}
		off += v * t.meta.Stride[i]
	}
	return t.storage.data[off], nil
}

// Item returns the only element of a one-element tensor.
func (t *Tensor) Item() (float64, error) {
	if t.fake || t.storage == nil {
		return 0, ErrNoStorage
	}
	if t.Numel() != 1 {
		return 0, fmt.Errorf("a tensor with %d elements cannot be converted to a scalar", t.Numel())
	}
	return t.Values()[0], nil
}

// Clone returns a contiguous copy with its own storage.
func (t *Tensor) Clone() *Tensor {
	out := Empty(t.meta.Shape, t.meta.DType, t.meta.Device, t.fake)
	if !t.fake {
		copy(out.storage.data, t.Values())
	}
	return out
}

// AllClose reports whether a and b have equal shapes and elements within tol.
// NaNs compare equal to NaNs.
func AllClose(a, b *Tensor, tol float64) bool {
	if !slices.Equal(a.meta.Shape, b.meta.Shape) {
		return false
	}
	av, bv := a.Values(), b.Values()
	if len(av) != len(bv) {
		return false
	}
	for i := range av {
		x, y := av[i], bv[i]
		if math.IsNaN(x) || math.IsNaN(y) {
			if math.IsNaN(x) != math.IsNaN(y) {
				return false
			}
			continue
		}
		if x == y {
			continue
		}
		if math.Abs(x-y) > tol*(1+math.Abs(y)) {
			return false
		}
	}
	return true
}

func (t *Tensor) String() string {
	if t.fake {
		return fmt.Sprintf("FakeTensor(%s, device=%s)", t.meta, t.meta.Device)
	}
	var sb strings.Builder
	sb.WriteString("tensor(")
	vals := t.Values()
	if len(t.meta.Shape) == 0 && len(vals) == 1 {
		fmt.Fprintf(&sb, "%g", vals[0])
	} else {
		sb.WriteString("[")
		for i, v := range vals {
			if i > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "%g", v)
		}
		sb.WriteString("]")
		fmt.Fprintf(&sb, ", shape=%s", shapeString(t.meta.Shape))
	}
	fmt.Fprintf(&sb, ", dtype=%s)", t.meta.DType)
	return sb.String()
}

// forEachOffset visits storage offsets in logical row-major order.
func forEachOffset(m Meta, fn func(off int)) {
	n := numel(m.Shape)
	if n == 0 {
		return
	}
	idx := make([]int, len(m.Shape))
	off := m.Offset
	for k := 0; k < n; k++ {
		fn(off)
		for d := len(idx) - 1; d >= 0; d-- {
			idx[d]++
			off += m.Stride[d]
			if idx[d] < m.Shape[d] {
				break
			}
			off -= idx[d] * m.Stride[d]
			idx[d] = 0
		}
	}
}

// Unravel converts a flat row-major index into a multi-index for shape.
func Unravel(flat int, shape []int) []int {
	idx := make([]int, len(shape))
	for d := len(shape) - 1; d >= 0; d-- {
		if shape[d] == 0 {
			continue
		}
		idx[d] = flat % shape[d]
		flat /= shape[d]
	}
	return idx
}
