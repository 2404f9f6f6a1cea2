// Package dispatch defines operator identity and the operator dispatch path.
//
// # Why Dispatch Package Exists
//
// Every tensor operation in the system is a call to an *OpOverload through
// Call. Routing all operations through one function is what lets the tracer
// observe them: a Mode pushed on the context's mode stack sees every call
// made under that context, and a value implementing Handler sees every call
// it is passed to.
//
// # Resolution Order
//
//  1. **Top mode:** if the mode stack is non-empty, the top mode handles the
//     call with a context that holds only the modes below it.
//  2. **Handler:** otherwise the first argument leaf implementing Handler
//     handles the call.
//  3. **Kernel:** otherwise the arguments are bound against the overload's
//     Schema and the kernel runs.
//
// The stack lives in context.Context, so a mode is "popped" simply by
// returning to the caller's context; no exit path can leak a mode into a
// later call.
//
// # Key Types
//
// **OpOverload** (op.go): operator identity (namespace, schema, tags, kernel).
//
// **Schema** (schema.go): parsed signature, including mutable-argument
// annotations such as Tensor(a!) that decide in-place semantics.
//
// **Registry** (registry.go): qualified-name lookup used by the program
// loader and by graph listings.
package dispatch
