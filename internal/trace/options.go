package trace

import (
	"github.com/specialistvlad/opgraph/internal/decomp"
	"github.com/specialistvlad/opgraph/internal/fx"
)

type options struct {
	table   decomp.Table
	factory bool
	fake    bool
	root    fx.Module
	leaves  []string
	name    string
}

func defaultOptions() options {
	return options{factory: true, name: "traced"}
}

func (o options) validate() error {
	if o.fake && !o.factory {
		return &ConfigError{Reason: "fake execution requires factory function tracing"}
	}
	return nil
}

// Option configures Trace.
type Option func(*options)

// WithDecompositions adds the entries of table to the decompositions active
// during the trace. Later options win for the same operator.
func WithDecompositions(table decomp.Table) Option {
	return func(o *options) { o.table = o.table.Merge(table) }
}

// WithFactoryTracing controls whether calls without traced arguments, such
// as tensor factories and literals, are recorded. It is on by default.
func WithFactoryTracing(enabled bool) Option {
	return func(o *options) { o.factory = enabled }
}

// WithFake runs the trace on fake tensors. It requires factory tracing.
func WithFake(enabled bool) Option {
	return func(o *options) { o.fake = enabled }
}

// WithRoot names the module whose parameters and submodules the traced
// function uses.
func WithRoot(m fx.Module) Option {
	return func(o *options) { o.root = m }
}

// WithLeafModules keeps the submodules of the root at paths as single
// call_module nodes.
func WithLeafModules(paths ...string) Option {
	return func(o *options) { o.leaves = append(o.leaves, paths...) }
}

// WithName sets the name of the resulting GraphModule.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}
