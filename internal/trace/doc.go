// Package trace is the entry point for turning a program into a graph.
//
// # Why Trace Package Exists
//
// The tracing machinery lives in several packages: proxy intercepts
// operators, fx builds the graph, fake runs on metadata and decomp rewrites
// operators. Trace assembles them for one run. It validates the options
// before any work, stacks the scoped state on a context.Context in the
// right order (decompositions, fake execution below the tracer, the tracer
// on top) and tags every input leaf with a placeholder.
//
// Decompose replays an existing GraphModule under a decomposition table,
// which is how an already traced graph is lowered to fewer operators.
//
// Config carries the same options in a form decodable from HCL.
package trace
