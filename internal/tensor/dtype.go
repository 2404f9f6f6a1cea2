package tensor

import (
	"fmt"
	"math"
	"strings"
)

// DType represents the element type of a tensor.
type DType uint8

const (
	Float32 DType = iota
	Float64
	Int64
	Bool
)

// String returns the canonical name of the dtype.
func (d DType) String() string {
	switch d {
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	case Int64:
		return "int64"
	case Bool:
		return "bool"
	default:
		return "unknown"
	}
}

// IsFloating reports whether the dtype holds floating point values.
func (d DType) IsFloating() bool {
	return d == Float32 || d == Float64
}

// ParseDType resolves a dtype from its canonical name. The short aliases
// "float", "double", "long" are accepted as well.
func ParseDType(s string) (DType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "float32", "float", "f32":
		return Float32, nil
	case "float64", "double", "f64":
		return Float64, nil
	case "int64", "long", "i64":
		return Int64, nil
	case "bool":
		return Bool, nil
	}
	return 0, fmt.Errorf("unknown dtype %q", s)
}

// Promote returns the result dtype of a binary operation between a and b.
func Promote(a, b DType) DType {
	rank := func(d DType) int {
		switch d {
		case Bool:
			return 0
		case Int64:
			return 1
		case Float32:
			return 2
		default:
			return 3
		}
	}
	if rank(a) >= rank(b) {
		return a
	}
	return b
}

// Cast rounds v to the precision of the dtype.
func (d DType) Cast(v float64) float64 {
	switch d {
	case Float32:
		return float64(float32(v))
	case Int64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0
		}
		return math.Trunc(v)
	case Bool:
		if v != 0 {
			return 1
		}
		return 0
	default:
		return v
	}
}

// Device names where a tensor lives. Fake tensors keep the device of the
// tensor they were made from.
type Device string

const (
	CPU        Device = "cpu"
	MetaDevice Device = "meta"
)

// Layout describes how the elements are laid out in storage.
type Layout uint8

const (
	Strided Layout = iota
	Sparse
)

func (l Layout) String() string {
	if l == Sparse {
		return "sparse"
	}
	return "strided"
}
