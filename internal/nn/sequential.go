package nn

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/specialistvlad/opgraph/internal/fx"
)

// Sequential runs its layers in order, feeding each output to the next.
// Layers are addressed by their index, so the first layer's weight is
// `0.weight`.
type Sequential struct {
	layers []fx.Module
}

func NewSequential(layers ...fx.Module) *Sequential {
	return &Sequential{layers: layers}
}

// Append adds a layer at the end.
func (s *Sequential) Append(m fx.Module) { s.layers = append(s.layers, m) }

func (s *Sequential) Len() int { return len(s.layers) }

// Layer returns the layer at index i.
func (s *Sequential) Layer(i int) fx.Module { return s.layers[i] }

func (s *Sequential) Children() []fx.NamedModule {
	out := make([]fx.NamedModule, len(s.layers))
	for i, l := range s.layers {
		out[i] = fx.NamedModule{Name: strconv.Itoa(i), Module: l}
	}
	return out
}

func (s *Sequential) Forward(ctx context.Context, args ...any) (any, error) {
	if len(s.layers) == 0 {
		if len(args) != 1 {
			return nil, fmt.Errorf("sequential: expected 1 input, got %d", len(args))
		}
		return args[0], nil
	}
	var (
		x   any
		err error
	)
	for i, l := range s.layers {
		if i == 0 {
			x, err = fx.Invoke(ctx, l, args...)
		} else {
			x, err = fx.Invoke(ctx, l, x)
		}
		if err != nil {
			return nil, fmt.Errorf("sequential layer %d: %w", i, err)
		}
	}
	return x, nil
}

func (s *Sequential) String() string {
	var sb strings.Builder
	sb.WriteString("Sequential(\n")
	for i, l := range s.layers {
		fmt.Fprintf(&sb, "  (%d): %v\n", i, l)
	}
	sb.WriteString(")")
	return sb.String()
}
