package program

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"path/filepath"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/specialistvlad/opgraph/internal/ctxlog"
	"github.com/specialistvlad/opgraph/internal/dispatch"
	"github.com/specialistvlad/opgraph/internal/fx"
	"github.com/specialistvlad/opgraph/internal/proxy"
	"github.com/specialistvlad/opgraph/internal/tensor"
	"github.com/specialistvlad/opgraph/internal/trace"
	"github.com/zclconf/go-cty/cty"
)

// ErrNoOutputs is returned for a program without output blocks.
var ErrNoOutputs = errors.New("program has no outputs")

// fileSchema is the top-level layout of a program file.
type fileSchema struct {
	Inputs     []*inputBlock     `hcl:"input,block"`
	Parameters []*parameterBlock `hcl:"parameter,block"`
	Lets       []*letBlock       `hcl:"let,block"`
	Outputs    []*outputBlock    `hcl:"output,block"`
	Trace      *traceBlock       `hcl:"trace,block"`
}

type inputBlock struct {
	Name   string    `hcl:"name,label"`
	Shape  []int     `hcl:"shape"`
	DType  string    `hcl:"dtype,optional"`
	Values []float64 `hcl:"values,optional"`
}

type parameterBlock struct {
	Name   string    `hcl:"name,label"`
	Shape  []int     `hcl:"shape"`
	DType  string    `hcl:"dtype,optional"`
	Values []float64 `hcl:"values,optional"`
	Init   string    `hcl:"init,optional"`
	Seed   *uint64   `hcl:"seed,optional"`
}

type letBlock struct {
	Name  string         `hcl:"name,label"`
	Value hcl.Expression `hcl:"value"`
}

type outputBlock struct {
	Name  string         `hcl:"name,label"`
	Value hcl.Expression `hcl:"value"`
}

type traceBlock struct {
	Body hcl.Body `hcl:",remain"`
}

type binding struct {
	name string
	expr hcl.Expression
}

// Program is a loaded program file. It is an fx.Module whose parameters
// are the file's parameter blocks, so tracing it records them as named
// attributes.
type Program struct {
	name     string
	inputs   []fx.NamedTensor
	params   []fx.NamedTensor
	lets     []binding
	outputs  []binding
	config   *trace.Config
	registry *dispatch.Registry
}

// Load reads and parses the program at path.
func Load(ctx context.Context, path string) (*Program, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Program: Parsing file.", "path", path)
	file, diags := hclparse.NewParser().ParseHCLFile(path)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse program %s: %s", path, diags.Error())
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return decode(ctx, name, file)
}

// Parse parses program source. filename is used in diagnostics and, without
// its extension, as the program name.
func Parse(ctx context.Context, src []byte, filename string) (*Program, error) {
	file, diags := hclparse.NewParser().ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse program %s: %s", filename, diags.Error())
	}
	name := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	return decode(ctx, name, file)
}

func decode(ctx context.Context, name string, file *hcl.File) (*Program, error) {
	logger := ctxlog.FromContext(ctx)
	var schema fileSchema
	if diags := gohcl.DecodeBody(file.Body, nil, &schema); diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode program %s: %s", name, diags.Error())
	}
	if len(schema.Outputs) == 0 {
		return nil, fmt.Errorf("%s: %w", name, ErrNoOutputs)
	}

	p := &Program{name: name, registry: dispatch.Default(), config: &trace.Config{}}
	seen := make(map[string]bool)
	declare := func(kind, n string) error {
		if seen[n] {
			return fmt.Errorf("%s: %s %q redeclares an existing name", name, kind, n)
		}
		seen[n] = true
		return nil
	}

	for _, in := range schema.Inputs {
		if err := declare("input", in.Name); err != nil {
			return nil, err
		}
		t, err := newTensor(in.Shape, in.DType, in.Values, "zeros", nil)
		if err != nil {
			return nil, fmt.Errorf("%s: input %q: %w", name, in.Name, err)
		}
		p.inputs = append(p.inputs, fx.NamedTensor{Name: in.Name, Tensor: t})
	}
	for _, pb := range schema.Parameters {
		if err := declare("parameter", pb.Name); err != nil {
			return nil, err
		}
		t, err := newTensor(pb.Shape, pb.DType, pb.Values, pb.Init, pb.Seed)
		if err != nil {
			return nil, fmt.Errorf("%s: parameter %q: %w", name, pb.Name, err)
		}
		p.params = append(p.params, fx.NamedTensor{Name: pb.Name, Tensor: tensor.AsParameter(t)})
	}
	for _, l := range schema.Lets {
		if err := declare("let", l.Name); err != nil {
			return nil, err
		}
		p.lets = append(p.lets, binding{name: l.Name, expr: l.Value})
	}
	for _, o := range schema.Outputs {
		p.outputs = append(p.outputs, binding{name: o.Name, expr: o.Value})
	}
	if schema.Trace != nil {
		cfg, diags := trace.DecodeConfig(schema.Trace.Body, nil)
		if diags.HasErrors() {
			return nil, fmt.Errorf("failed to decode trace block of %s: %s", name, diags.Error())
		}
		p.config = cfg
	}

	logger.Debug("Program: Decoded.", "name", name, "inputs", len(p.inputs), "parameters", len(p.params), "lets", len(p.lets), "outputs", len(p.outputs))
	return p, nil
}

// newTensor builds an input or parameter tensor. Explicit values win over
// init, which is one of zeros, ones or uniform.
func newTensor(shape []int, dtypeName string, values []float64, init string, seed *uint64) (*tensor.Tensor, error) {
	dtype := tensor.Float32
	if dtypeName != "" {
		var err error
		if dtype, err = tensor.ParseDType(dtypeName); err != nil {
			return nil, err
		}
	}
	n := 1
	for _, s := range shape {
		if s < 0 {
			return nil, fmt.Errorf("negative dimension in shape %s", tensor.ShapeString(shape))
		}
		n *= s
	}
	if values != nil {
		return tensor.New(shape, dtype, values)
	}
	switch init {
	case "", "zeros":
		return tensor.Full(shape, dtype, 0), nil
	case "ones":
		return tensor.Full(shape, dtype, 1), nil
	case "uniform":
		s := uint64(0)
		if seed != nil {
			s = *seed
		}
		rng := rand.New(rand.NewPCG(s, s^0x9e3779b97f4a7c15))
		bound := 1.0
		if len(shape) > 1 {
			bound = 1 / math.Sqrt(float64(shape[len(shape)-1]))
		}
		vals := make([]float64, n)
		for i := range vals {
			vals[i] = (rng.Float64()*2 - 1) * bound
		}
		return tensor.New(shape, dtype, vals)
	}
	return nil, fmt.Errorf("unknown init %q", init)
}

// Name returns the program name.
func (p *Program) Name() string { return p.name }

// Config returns the program's tracing configuration.
func (p *Program) Config() *trace.Config { return p.config }

// Inputs returns the declared input tensors in declaration order.
func (p *Program) Inputs() []any {
	out := make([]any, len(p.inputs))
	for i, in := range p.inputs {
		out[i] = in.Tensor
	}
	return out
}

// InputNames returns the input names in declaration order.
func (p *Program) InputNames() []string {
	out := make([]string, len(p.inputs))
	for i, in := range p.inputs {
		out[i] = in.Name
	}
	return out
}

// OutputNames returns the output names in declaration order.
func (p *Program) OutputNames() []string {
	out := make([]string, len(p.outputs))
	for i, o := range p.outputs {
		out[i] = o.name
	}
	return out
}

func (p *Program) Parameters() []fx.NamedTensor {
	return append([]fx.NamedTensor(nil), p.params...)
}

// Forward evaluates the program on one value per input. A single output is
// returned as is, several as a []any in declaration order.
func (p *Program) Forward(ctx context.Context, args ...any) (any, error) {
	if len(args) != len(p.inputs) {
		return nil, fmt.Errorf("%s: expected %d inputs, got %d", p.name, len(p.inputs), len(args))
	}
	logger := ctxlog.FromContext(ctx)

	vars := make(map[string]cty.Value, len(p.inputs)+len(p.params)+len(p.lets))
	for i, in := range p.inputs {
		v, err := toCty(args[i])
		if err != nil {
			return nil, fmt.Errorf("%s: input %q: %w", p.name, in.Name, err)
		}
		vars[in.Name] = v
	}
	for _, pm := range p.params {
		vars[pm.Name] = TensorVal(pm.Tensor)
	}
	evalCtx := &hcl.EvalContext{Variables: vars, Functions: functions(ctx, p.registry)}

	eval := func(b binding) (cty.Value, error) {
		v, diags := b.expr.Value(evalCtx)
		if diags.HasErrors() {
			return cty.NilVal, fmt.Errorf("%s: %s: %w", p.name, b.name, diagsError(diags))
		}
		return v, nil
	}
	for _, l := range p.lets {
		v, err := eval(l)
		if err != nil {
			return nil, err
		}
		logger.Debug("Program: Evaluated let.", "name", l.name, "type", v.Type().FriendlyName())
		vars[l.name] = v
	}

	results := make([]any, len(p.outputs))
	for i, o := range p.outputs {
		v, err := eval(o)
		if err != nil {
			return nil, err
		}
		if results[i], err = fromCty(v); err != nil {
			return nil, fmt.Errorf("%s: output %q: %w", p.name, o.name, err)
		}
	}
	if len(results) == 1 {
		return results[0], nil
	}
	return results, nil
}

// diagsError returns the error a function call failed with, so callers can
// match it with errors.Is, or the diagnostics themselves otherwise.
func diagsError(diags hcl.Diagnostics) error {
	for _, d := range diags {
		if extra, ok := d.Extra.(hclsyntax.FunctionCallDiagExtra); ok {
			if err := extra.FunctionCallError(); err != nil {
				return fmt.Errorf("%s(): %w", extra.CalledFunctionName(), err)
			}
		}
	}
	return diags
}

// Trace traces the program on its declared inputs using the options of its
// trace block, followed by opts. The trace block's strict setting applies
// for the duration of the call.
func (p *Program) Trace(ctx context.Context, opts ...trace.Option) (*fx.GraphModule, error) {
	cfgOpts, err := p.config.Options(ctx, p.registry)
	if err != nil {
		return nil, err
	}
	all := append([]trace.Option{trace.WithName(p.name), trace.WithRoot(p)}, cfgOpts...)
	all = append(all, opts...)

	prev := proxy.Strict()
	trace.SetStrict(p.config.StrictScalars())
	defer trace.SetStrict(prev)

	return trace.Trace(ctx, p.Forward, p.Inputs(), all...)
}
