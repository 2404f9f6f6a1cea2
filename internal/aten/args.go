package aten

import (
	"fmt"
	"math"

	"github.com/specialistvlad/opgraph/internal/tensor"
)

// ShapeError reports an operator applied to arguments whose metadata it
// cannot accept.
type ShapeError struct {
	Op     string
	Reason string
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Reason)
}

func shapeErr(op, format string, a ...any) error {
	return &ShapeError{Op: op, Reason: fmt.Sprintf(format, a...)}
}

// restrider is what the in-place view kernels need from their first
// argument: a readable and writable metadata record.
type restrider interface {
	Meta() tensor.Meta
	SetMeta(tensor.Meta) error
}

func asTensor(op string, v any) (*tensor.Tensor, error) {
	t, ok := v.(*tensor.Tensor)
	if !ok || t == nil {
		return nil, fmt.Errorf("%s: expected a Tensor argument, got %T", op, v)
	}
	return t, nil
}

func asTensors(op string, v any) ([]*tensor.Tensor, error) {
	switch l := v.(type) {
	case []*tensor.Tensor:
		return l, nil
	case []any:
		out := make([]*tensor.Tensor, len(l))
		for i, e := range l {
			t, err := asTensor(op, e)
			if err != nil {
				return nil, err
			}
			out[i] = t
		}
		return out, nil
	}
	return nil, fmt.Errorf("%s: expected a list of Tensors, got %T", op, v)
}

func asFloat(op string, v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case bool:
		if x {
			return 1, nil
		}
		return 0, nil
	}
	return 0, fmt.Errorf("%s: expected a number, got %T", op, v)
}

func asInt(op string, v any) (int, error) {
	switch x := v.(type) {
	case int:
		return x, nil
	case int64:
		return int(x), nil
	case float64:
		if x != math.Trunc(x) {
			return 0, fmt.Errorf("%s: expected an integer, got %g", op, x)
		}
		return int(x), nil
	}
	return 0, fmt.Errorf("%s: expected an integer, got %T", op, v)
}

func asOptionalInt(op string, v any) (int, bool, error) {
	if v == nil {
		return 0, false, nil
	}
	i, err := asInt(op, v)
	return i, err == nil, err
}

func asInts(op string, v any) ([]int, error) {
	switch l := v.(type) {
	case []int:
		return append([]int(nil), l...), nil
	case []int64:
		out := make([]int, len(l))
		for i, x := range l {
			out[i] = int(x)
		}
		return out, nil
	case []float64:
		out := make([]int, len(l))
		for i, x := range l {
			n, err := asInt(op, x)
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	case []any:
		out := make([]int, len(l))
		for i, x := range l {
			n, err := asInt(op, x)
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	case int, int64, float64:
		n, err := asInt(op, l)
		if err != nil {
			return nil, err
		}
		return []int{n}, nil
	}
	return nil, fmt.Errorf("%s: expected a list of integers, got %T", op, v)
}

func asBool(op string, v any) (bool, error) {
	switch x := v.(type) {
	case bool:
		return x, nil
	case int:
		return x != 0, nil
	case float64:
		return x != 0, nil
	}
	return false, fmt.Errorf("%s: expected a bool, got %T", op, v)
}

func asDType(op string, v any, def tensor.DType) (tensor.DType, error) {
	switch d := v.(type) {
	case nil:
		return def, nil
	case tensor.DType:
		return d, nil
	case string:
		return tensor.ParseDType(d)
	}
	return 0, fmt.Errorf("%s: expected a dtype, got %T", op, v)
}

// isIntegral reports whether a scalar argument was given as an integer.
func isIntegral(v any) bool {
	switch v.(type) {
	case int, int64:
		return true
	}
	return false
}
