// Package fx is the graph intermediate representation produced by tracing.
//
// # Why Fx Package Exists
//
// A trace records operator calls as nodes of a Graph. The graph must be
// replayable without the traced code, inspectable (listing, lint, operator
// counts) and rewritable (dead-code elimination, decomposition). This
// package owns that representation and nothing about how it is recorded.
//
// # Key Types
//
// **Graph** (graph.go): ordered nodes with unique names. Append refuses
// arguments that are not earlier nodes of the same graph.
//
// **Tracer** (tracer.go): the recording front end. It interns concrete
// tensors as get_attr nodes and leaf modules as call_module nodes.
//
// **GraphModule** (graphmodule.go): a frozen graph with its attributes and
// submodules. It is a Module, so it can be run, traced again or used as a
// leaf.
//
// **Interpreter** (interpreter.go): node-by-node evaluation with per-kind
// Hooks, used for replay and for retracing under decomposition.
package fx
