package program

import (
	"context"
	"fmt"
	"strings"

	"github.com/specialistvlad/opgraph/internal/aten"
	"github.com/specialistvlad/opgraph/internal/dispatch"
	"github.com/specialistvlad/opgraph/internal/tensor"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/gocty"
)

// functions returns the functions available to program expressions. Every
// call they make is dispatched on ctx.
func functions(ctx context.Context, reg *dispatch.Registry) map[string]function.Function {
	fns := make(map[string]function.Function)
	for _, op := range reg.All() {
		name := op.Name()
		if op.Namespace != aten.Namespace || strings.HasPrefix(name, "_") {
			continue
		}
		if _, done := fns[name]; done {
			continue
		}
		fns[name] = operatorFunc(ctx, name, reg.Packet(op.Namespace, name))
	}
	fns["item"] = itemFunc(ctx)
	fns["tensor"] = tensorFunc(ctx)
	return fns
}

func operatorFunc(ctx context.Context, name string, overloads []*dispatch.OpOverload) function.Function {
	return function.New(&function.Spec{
		Description: fmt.Sprintf("Calls the %s operator.", name),
		VarParam: &function.Parameter{
			Name:      "args",
			Type:      cty.DynamicPseudoType,
			AllowNull: true,
		},
		Type: function.StaticReturnType(cty.DynamicPseudoType),
		Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
			op, goArgs, err := resolve(name, overloads, args)
			if err != nil {
				return cty.NilVal, err
			}
			out, err := dispatch.Call(ctx, op, goArgs, nil)
			if err != nil {
				return cty.NilVal, err
			}
			return toCty(out)
		},
	})
}

// resolve picks the first overload whose positional parameters accept args
// exactly. Failing that, numbers may stand in for tensors.
func resolve(name string, overloads []*dispatch.OpOverload, args []cty.Value) (*dispatch.OpOverload, []any, error) {
	var reasons []string
	for _, wrapNumbers := range []bool{false, true} {
		for _, op := range overloads {
			goArgs, err := bindArgs(op, args, wrapNumbers)
			if err == nil {
				return op, goArgs, nil
			}
			if wrapNumbers {
				reasons = append(reasons, fmt.Sprintf("%s: %v", op.Overload(), err))
			}
		}
	}
	return nil, nil, fmt.Errorf("no overload of %s accepts these arguments (%s)", name, strings.Join(reasons, "; "))
}

func bindArgs(op *dispatch.OpOverload, args []cty.Value, wrapNumbers bool) ([]any, error) {
	var params []dispatch.Arg
	for _, a := range op.Schema.Args {
		if !a.KwargOnly {
			params = append(params, a)
		}
	}
	if len(args) > len(params) {
		return nil, fmt.Errorf("takes at most %d arguments, got %d", len(params), len(args))
	}
	for _, a := range params[len(args):] {
		if !a.HasDefault && !a.Optional {
			return nil, fmt.Errorf("missing argument %q", a.Name)
		}
	}
	out := make([]any, len(args))
	for i, v := range args {
		g, err := convertArg(params[i], v, wrapNumbers)
		if err != nil {
			return nil, fmt.Errorf("argument %q: %w", params[i].Name, err)
		}
		out[i] = g
	}
	return out, nil
}

func convertArg(a dispatch.Arg, v cty.Value, wrapNumbers bool) (any, error) {
	if v.IsNull() {
		if a.Optional || a.HasDefault {
			return nil, nil
		}
		return nil, fmt.Errorf("must not be null")
	}
	ty := v.Type()
	if a.List {
		if !ty.IsTupleType() && !ty.IsListType() {
			return nil, fmt.Errorf("expected a list, got %s", ty.FriendlyName())
		}
		if a.Type != "Tensor" {
			return ints(v)
		}
		var out []any
		for it := v.ElementIterator(); it.Next(); {
			_, e := it.Element()
			t, ok := AsTensor(e)
			if !ok {
				return nil, fmt.Errorf("expected a list of tensors, got an element of type %s", e.Type().FriendlyName())
			}
			out = append(out, t)
		}
		return out, nil
	}

	switch a.Type {
	case "Tensor":
		if t, ok := AsTensor(v); ok {
			return t, nil
		}
		if wrapNumbers && ty == cty.Number {
			return scalar(v), nil
		}
	case "int":
		if ty == cty.Number {
			var i int
			if err := gocty.FromCtyValue(v, &i); err != nil {
				return nil, err
			}
			return i, nil
		}
	case "float":
		if ty == cty.Number {
			var f float64
			if err := gocty.FromCtyValue(v, &f); err != nil {
				return nil, err
			}
			return f, nil
		}
	case "Scalar":
		if ty == cty.Number {
			return scalar(v), nil
		}
		if ty == cty.Bool {
			return v.True(), nil
		}
	case "bool":
		if ty == cty.Bool {
			return v.True(), nil
		}
	case "ScalarType":
		if ty == cty.String {
			return tensor.ParseDType(v.AsString())
		}
	case "Device":
		if ty == cty.String {
			return tensor.Device(v.AsString()), nil
		}
	}
	return nil, fmt.Errorf("expected %s, got %s", a.Type, ty.FriendlyName())
}

func itemFunc(ctx context.Context) function.Function {
	return function.New(&function.Spec{
		Description: "Extracts the only element of a tensor.",
		Params:      []function.Parameter{{Name: "t", Type: cty.DynamicPseudoType}},
		Type:        function.StaticReturnType(cty.Number),
		Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
			t, ok := AsTensor(args[0])
			if !ok {
				return cty.NilVal, function.NewArgErrorf(0, "expected a tensor, got %s", args[0].Type().FriendlyName())
			}
			x, err := aten.Item(ctx, t)
			if err != nil {
				return cty.NilVal, err
			}
			return cty.NumberFloatVal(x), nil
		},
	})
}

func tensorFunc(ctx context.Context) function.Function {
	return function.New(&function.Spec{
		Description: "Creates a float32 literal tensor from a number or a list of numbers, optionally reshaped.",
		Params:      []function.Parameter{{Name: "values", Type: cty.DynamicPseudoType}},
		VarParam:    &function.Parameter{Name: "shape", Type: cty.DynamicPseudoType},
		Type:        function.StaticReturnType(TensorType),
		Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
			var (
				t   *tensor.Tensor
				err error
			)
			if args[0].Type() == cty.Number {
				f, _ := args[0].AsBigFloat().Float64()
				t = tensor.Scalar(f, tensor.Float32)
			} else {
				vals, ferr := floats(args[0])
				if ferr != nil {
					return cty.NilVal, function.NewArgError(0, ferr)
				}
				shape := []int{len(vals)}
				if len(args) > 1 {
					if shape, err = ints(args[1]); err != nil {
						return cty.NilVal, function.NewArgError(1, err)
					}
				}
				if t, err = tensor.New(shape, tensor.Float32, vals); err != nil {
					return cty.NilVal, err
				}
			}
			v, err := aten.Tensor(ctx, t)
			if err != nil {
				return cty.NilVal, err
			}
			return TensorVal(v), nil
		},
	})
}
