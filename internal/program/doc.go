// Package program loads declarative tensor programs written in HCL.
//
// # Why Program Package Exists
//
// Tracing needs something to trace. A program file names its inputs and
// parameters, computes intermediate values with `let` blocks and exposes
// results with `output` blocks:
//
//	input "x" {
//	  shape = [2, 3]
//	}
//
//	parameter "w" {
//	  shape = [4, 3]
//	  init  = "uniform"
//	}
//
//	let "h" {
//	  value = silu(linear(x, w, null))
//	}
//
//	output "y" {
//	  value = h
//	}
//
//	trace {
//	  decompositions = ["core"]
//	}
//
// Every registered operator is callable by its name, with the overload
// picked from the argument types, so `add(x, y)` is add.Tensor and
// `add(x, 1)` is add.Scalar. `tensor(values, shape)` creates a literal and
// `item(t)` extracts a scalar. Tensors travel through HCL expressions as
// cty capsules, and every call goes through dispatch.Call, so evaluating a
// program under a tracer records it like any Go function.
//
// Expressions are kept unevaluated until Forward runs, in the same way
// step arguments are deferred until a graph is executed.
package program
