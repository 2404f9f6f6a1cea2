package nn

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/specialistvlad/opgraph/internal/aten"
	"github.com/specialistvlad/opgraph/internal/fx"
	"github.com/specialistvlad/opgraph/internal/tensor"
)

// Linear applies y = x @ weight.T + bias.
type Linear struct {
	Weight *tensor.Tensor
	Bias   *tensor.Tensor
}

// NewLinear wraps existing tensors as a layer. weight must be
// [out_features, in_features] and bias, when not nil, [out_features].
func NewLinear(weight, bias *tensor.Tensor) (*Linear, error) {
	if weight.Dim() != 2 {
		return nil, fmt.Errorf("linear: weight must be 2-D, got %s", tensor.ShapeString(weight.Shape()))
	}
	if bias != nil && (bias.Dim() != 1 || bias.Shape()[0] != weight.Shape()[0]) {
		return nil, fmt.Errorf("linear: bias %s does not match weight %s",
			tensor.ShapeString(bias.Shape()), tensor.ShapeString(weight.Shape()))
	}
	l := &Linear{Weight: tensor.AsParameter(weight)}
	if bias != nil {
		l.Bias = tensor.AsParameter(bias)
	}
	return l, nil
}

// InitLinear creates a layer with weight and bias drawn uniformly from
// [-1/sqrt(in), 1/sqrt(in)].
func InitLinear(in, out int, bias bool, rng *rand.Rand) *Linear {
	bound := 1 / math.Sqrt(float64(in))
	uniform := func(shape ...int) *tensor.Tensor {
		vals := make([]float64, shapeNumel(shape))
		for i := range vals {
			vals[i] = (rng.Float64()*2 - 1) * bound
		}
		return tensor.AsParameter(tensor.FromValues(shape, vals...))
	}
	l := &Linear{Weight: uniform(out, in)}
	if bias {
		l.Bias = uniform(out)
	}
	return l
}

func shapeNumel(shape []int) int {
	n := 1
	for _, s := range shape {
		n *= s
	}
	return n
}

func (l *Linear) InFeatures() int  { return l.Weight.Shape()[1] }
func (l *Linear) OutFeatures() int { return l.Weight.Shape()[0] }

func (l *Linear) Parameters() []fx.NamedTensor {
	out := []fx.NamedTensor{{Name: "weight", Tensor: l.Weight}}
	if l.Bias != nil {
		out = append(out, fx.NamedTensor{Name: "bias", Tensor: l.Bias})
	}
	return out
}

func (l *Linear) Forward(ctx context.Context, args ...any) (any, error) {
	x, err := single("linear", args)
	if err != nil {
		return nil, err
	}
	var bias tensor.Value
	if l.Bias != nil {
		bias = l.Bias
	}
	return aten.Linear(ctx, x, l.Weight, bias)
}

func (l *Linear) String() string {
	return fmt.Sprintf("Linear(in_features=%d, out_features=%d, bias=%t)", l.InFeatures(), l.OutFeatures(), l.Bias != nil)
}

func single(module string, args []any) (tensor.Value, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("%s: expected 1 input, got %d", module, len(args))
	}
	x, ok := args[0].(tensor.Value)
	if !ok {
		return nil, fmt.Errorf("%s: expected a tensor input, got %T", module, args[0])
	}
	return x, nil
}
