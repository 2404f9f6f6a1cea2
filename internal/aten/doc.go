// Package aten declares the operator set and its reference CPU kernels.
//
// # Why Aten Package Exists
//
// Tracing needs operators with stable identities: a graph node records the
// *dispatch.OpOverload it called, and decomposition tables are keyed by
// those same pointers. This package declares every overload once, as a
// package-level Op variable registered in the default dispatch registry,
// and pairs it with a small float64 kernel so traced graphs can be run and
// compared against eager execution.
//
// # Kernels
//
// Kernels receive arguments already bound against the overload's schema.
// Every kernel can run on metadata alone: when an input is fake, or the
// context was derived with dispatch.WithMetadataOnly, the output is
// allocated fake and no element is computed. The exceptions are tagged
// (nonzero, _local_scalar_dense) so the fake mode can reject them up front.
//
// In-place view kernels (unsqueeze_, transpose_, ...) only rewrite metadata
// and accept anything with Meta and SetMeta, which is how a tracing wrapper
// keeps its own shape bookkeeping in sync.
//
// # Helpers
//
// functional.go exposes typed helpers (Add, Unsqueeze, Item, Full, ...) over
// tensor.Value. Traced programs are written against these.
package aten
