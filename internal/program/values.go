package program

import (
	"fmt"
	"math/big"
	"reflect"

	"github.com/specialistvlad/opgraph/internal/tensor"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
	"github.com/zclconf/go-cty/cty/gocty"
)

type box struct {
	v tensor.Value
}

// TensorType is the cty type of tensor values inside program expressions.
var TensorType = cty.Capsule("tensor", reflect.TypeOf(box{}))

// TensorVal wraps v as a cty value.
func TensorVal(v tensor.Value) cty.Value {
	return cty.CapsuleVal(TensorType, &box{v: v})
}

// AsTensor unwraps a value created by TensorVal.
func AsTensor(v cty.Value) (tensor.Value, bool) {
	if v.IsNull() || !v.IsKnown() || !v.Type().Equals(TensorType) {
		return nil, false
	}
	return v.EncapsulatedValue().(*box).v, true
}

// toCty converts an operator result to a cty value.
func toCty(v any) (cty.Value, error) {
	switch x := v.(type) {
	case nil:
		return cty.NullVal(cty.DynamicPseudoType), nil
	case tensor.Value:
		return TensorVal(x), nil
	case float64:
		return cty.NumberFloatVal(x), nil
	case int:
		return cty.NumberIntVal(int64(x)), nil
	case bool:
		return cty.BoolVal(x), nil
	case string:
		return cty.StringVal(x), nil
	case []int:
		vals := make([]cty.Value, len(x))
		for i, n := range x {
			vals[i] = cty.NumberIntVal(int64(n))
		}
		return cty.TupleVal(vals), nil
	case []any:
		vals := make([]cty.Value, len(x))
		for i, e := range x {
			c, err := toCty(e)
			if err != nil {
				return cty.NilVal, err
			}
			vals[i] = c
		}
		return cty.TupleVal(vals), nil
	}
	return cty.NilVal, fmt.Errorf("cannot represent %T in a program", v)
}

// fromCty converts an output value back to Go: tensors, float64, bool,
// string and []any for sequences.
func fromCty(v cty.Value) (any, error) {
	if v.IsNull() {
		return nil, nil
	}
	if !v.IsKnown() {
		return nil, fmt.Errorf("value is not known")
	}
	ty := v.Type()
	switch {
	case ty.Equals(TensorType):
		t, _ := AsTensor(v)
		return t, nil
	case ty == cty.Number:
		f, _ := v.AsBigFloat().Float64()
		return f, nil
	case ty == cty.Bool:
		return v.True(), nil
	case ty == cty.String:
		return v.AsString(), nil
	case ty.IsTupleType() || ty.IsListType():
		out := make([]any, 0, v.LengthInt())
		for it := v.ElementIterator(); it.Next(); {
			_, e := it.Element()
			g, err := fromCty(e)
			if err != nil {
				return nil, err
			}
			out = append(out, g)
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported value of type %s", ty.FriendlyName())
}

// scalar returns a number as an int when it is integral, float64 otherwise.
func scalar(v cty.Value) any {
	bf := v.AsBigFloat()
	if bf.IsInt() {
		if i, acc := bf.Int64(); acc == big.Exact {
			return int(i)
		}
	}
	f, _ := bf.Float64()
	return f
}

// ints converts a sequence of numbers to []int.
func ints(v cty.Value) ([]int, error) {
	list, err := convert.Convert(v, cty.List(cty.Number))
	if err != nil {
		return nil, err
	}
	var out []int
	if err := gocty.FromCtyValue(list, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// floats converts a sequence of numbers to []float64.
func floats(v cty.Value) ([]float64, error) {
	list, err := convert.Convert(v, cty.List(cty.Number))
	if err != nil {
		return nil, err
	}
	var out []float64
	if err := gocty.FromCtyValue(list, &out); err != nil {
		return nil, err
	}
	return out, nil
}
