// Package fake provides the fake-execution dispatch mode.
//
// # Why Fake Package Exists
//
// A graph can be traced without real data: under Mode every operator runs
// on fake tensors, which carry shape, stride, dtype and device but no
// storage, and kernels only infer output metadata. Operators whose output
// depends on element values cannot run this way and fail with an
// *UnsupportedOperatorError naming the operator.
//
// Fake tensors must only exist while a tracer is intercepting operators;
// otherwise one could be captured as a graph constant. The trace package
// enforces this when options are validated.
package fake
