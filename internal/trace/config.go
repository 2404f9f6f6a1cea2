package trace

import (
	"context"
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/specialistvlad/opgraph/internal/ctxlog"
	"github.com/specialistvlad/opgraph/internal/decomp"
	"github.com/specialistvlad/opgraph/internal/dispatch"
)

// CoreDecompositions selects every built-in decomposition.
const CoreDecompositions = "core"

// Config is the declarative form of the tracing options, as found in the
// `trace` block of a program file.
type Config struct {
	Name                  string   `hcl:"name,optional"`
	Decompositions        []string `hcl:"decompositions,optional"`
	TraceFactoryFunctions *bool    `hcl:"trace_factory_functions,optional"`
	UseFake               bool     `hcl:"use_fake,optional"`
	LeafModules           []string `hcl:"leaf_modules,optional"`
	Strict                *bool    `hcl:"strict,optional"`
}

// DecodeConfig decodes a `trace` block body.
func DecodeConfig(body hcl.Body, evalCtx *hcl.EvalContext) (*Config, hcl.Diagnostics) {
	var cfg Config
	diags := gohcl.DecodeBody(body, evalCtx, &cfg)
	if diags.HasErrors() {
		return nil, diags
	}
	return &cfg, diags
}

// StrictScalars reports the scalar extraction policy the configuration asks
// for. It defaults to strict.
func (c *Config) StrictScalars() bool {
	return c.Strict == nil || *c.Strict
}

// Options converts the configuration into Trace options. Decomposition
// entries are either "core" or qualified operator names resolved in reg,
// each of which must have a built-in decomposition.
func (c *Config) Options(ctx context.Context, reg *dispatch.Registry) ([]Option, error) {
	logger := ctxlog.FromContext(ctx)
	var opts []Option
	if c.Name != "" {
		opts = append(opts, WithName(c.Name))
	}

	if len(c.Decompositions) > 0 {
		table, err := ResolveDecompositions(reg, c.Decompositions)
		if err != nil {
			return nil, err
		}
		logger.Debug("Trace config: Resolved decompositions.", "requested", len(c.Decompositions), "ops", len(table))
		opts = append(opts, WithDecompositions(table))
	}

	factory := c.TraceFactoryFunctions == nil || *c.TraceFactoryFunctions
	if c.UseFake && !factory {
		return nil, &ConfigError{Reason: "use_fake requires trace_factory_functions"}
	}
	opts = append(opts, WithFactoryTracing(factory), WithFake(c.UseFake))
	if len(c.LeafModules) > 0 {
		opts = append(opts, WithLeafModules(c.LeafModules...))
	}
	return opts, nil
}

// ResolveDecompositions builds the table named by names: "core" selects
// every built-in decomposition, other entries are qualified operator names
// resolved in reg.
func ResolveDecompositions(reg *dispatch.Registry, names []string) (decomp.Table, error) {
	core := decomp.Core()
	table := decomp.Table{}
	for _, name := range names {
		if name == CoreDecompositions {
			table = table.Merge(core)
			continue
		}
		op, ok := reg.Lookup(name)
		if !ok {
			return nil, &ConfigError{Reason: fmt.Sprintf("unknown operator %q in decompositions", name)}
		}
		if !core.Has(op) {
			return nil, &ConfigError{Reason: fmt.Sprintf("operator %s has no decomposition", op.QualifiedName())}
		}
		table = table.Merge(core.Select(op))
	}
	return table, nil
}
