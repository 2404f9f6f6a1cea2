package dispatch

import (
	"context"
	"fmt"
	"strings"
)

// Tag classifies operator behaviour that the interceptor and the fake mode
// need to know about without inspecting the kernel.
type Tag uint16

const (
	// TagInplaceView marks operators that restride their first argument in
	// place (unsqueeze_, transpose_, as_strided_) without touching elements.
	TagInplaceView Tag = 1 << iota
	// TagView marks operators whose output aliases their input's storage.
	TagView
	// TagFactory marks operators that create tensors without tensor inputs.
	TagFactory
	// TagPointwise marks elementwise operators.
	TagPointwise
	// TagDynamicOutputShape marks operators whose output shape depends on
	// element values, so they cannot run on metadata alone.
	TagDynamicOutputShape
	// TagDataDependentOutput marks operators returning element values
	// (scalar extraction).
	TagDataDependentOutput
)

var tagNames = []struct {
	tag  Tag
	name string
}{
	{TagInplaceView, "inplace_view"},
	{TagView, "view"},
	{TagFactory, "factory"},
	{TagPointwise, "pointwise"},
	{TagDynamicOutputShape, "dynamic_output_shape"},
	{TagDataDependentOutput, "data_dependent_output"},
}

func (t Tag) String() string {
	var names []string
	for _, tn := range tagNames {
		if t&tn.tag != 0 {
			names = append(names, tn.name)
		}
	}
	return strings.Join(names, "|")
}

// Kernel computes an operator on bound arguments (one value per schema
// argument, defaults already applied).
type Kernel func(ctx context.Context, args []any) (any, error)

// OpOverload is the identity of one operator overload. Graph nodes refer to
// overloads by pointer, so every overload must be registered exactly once.
type OpOverload struct {
	Namespace string
	Schema    *Schema
	Tags      Tag
	Kernel    Kernel
}

// NewOp declares an operator overload from its schema signature.
func NewOp(namespace, signature string, tags Tag, kernel Kernel) *OpOverload {
	return &OpOverload{
		Namespace: namespace,
		Schema:    MustParseSchema(signature),
		Tags:      tags,
		Kernel:    kernel,
	}
}

// Name returns the overload packet name, e.g. "add_".
func (op *OpOverload) Name() string { return op.Schema.Name }

// Overload returns the overload name, "default" when the schema has none.
func (op *OpOverload) Overload() string {
	if op.Schema.Overload == "" {
		return "default"
	}
	return op.Schema.Overload
}

// QualifiedName returns the registry key, e.g. "aten::add.Tensor".
func (op *OpOverload) QualifiedName() string {
	return fmt.Sprintf("%s::%s.%s", op.Namespace, op.Name(), op.Overload())
}

// String renders the overload the way graph listings print call targets.
func (op *OpOverload) String() string {
	return fmt.Sprintf("%s.%s.%s", op.Namespace, op.Name(), op.Overload())
}

// HasTag reports whether the overload carries tag.
func (op *OpOverload) HasTag(tag Tag) bool {
	return op.Tags&tag != 0
}

// IsInplace reports whether the operator mutates its first argument. A
// schema that annotates argument 0 as mutable is authoritative; without
// mutation annotations the name rule applies: a trailing underscore marks an
// in-place operator unless the name starts with an underscore (private and
// dunder-style names such as "__and__" or "_foreach_add_").
func (op *OpOverload) IsInplace() bool {
	if op.Schema.IsMutable() {
		return op.Schema.MutatesArg(0)
	}
	return IsInplaceName(op.Name())
}

// IsInplaceName applies the naming rule for in-place operators.
func IsInplaceName(name string) bool {
	return len(name) > 1 && strings.HasSuffix(name, "_") && !strings.HasPrefix(name, "_")
}
