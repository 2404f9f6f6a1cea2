// Package proxy records operator calls on tagged values into a graph.
//
// # Why Proxy Package Exists
//
// Tracing runs the program eagerly. Every operator call that involves a
// Tagged value is intercepted: the call is appended to the tracer's graph
// with tagged arguments replaced by their nodes, the real operator runs on
// the underlying values, and the result is tagged with the new node.
//
// # Interception Order
//
//  1. **Decomposition:** an entry in the active decomposition table runs
//     instead of the operator; its own calls are intercepted one by one.
//  2. **Scalar extraction:** _local_scalar_dense returns the known constant
//     or fails with a *DataDependentError while strict (see SetStrict).
//  3. **Record and run:** a call_function node is appended and the operator
//     runs on the underlying values.
//  4. **In-place:** an operator mutating its first argument moves that
//     argument's node to the new node.
//  5. **In-place views:** restriding operators also run on the wrappers so
//     their metadata follows the underlying value.
//  6. **Constants:** when every tagged argument has a known constant, the
//     operator is recomputed on the constants with fake execution
//     suspended. The result only serves later scalar extraction.
//  7. **Wrap:** tensor results are tagged; other results pass through.
//
// Mode additionally records calls without tagged arguments (factories and
// literals) and ModuleCaller keeps leaf modules opaque.
package proxy
