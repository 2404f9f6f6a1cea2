package nn

import (
	"context"

	"github.com/specialistvlad/opgraph/internal/aten"
	"github.com/specialistvlad/opgraph/internal/tensor"
)

// Activation applies an elementwise function.
type Activation struct {
	name string
	fn   func(context.Context, tensor.Value) (tensor.Value, error)
}

func SiLU() *Activation    { return &Activation{name: "SiLU", fn: aten.Silu} }
func ReLU() *Activation    { return &Activation{name: "ReLU", fn: aten.Relu} }
func Tanh() *Activation    { return &Activation{name: "Tanh", fn: aten.Tanh} }
func Sigmoid() *Activation { return &Activation{name: "Sigmoid", fn: aten.Sigmoid} }

func (a *Activation) Forward(ctx context.Context, args ...any) (any, error) {
	x, err := single(a.name, args)
	if err != nil {
		return nil, err
	}
	return a.fn(ctx, x)
}

func (a *Activation) String() string { return a.name + "()" }
