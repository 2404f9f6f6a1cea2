package proxy

import (
	"errors"
	"fmt"

	"github.com/specialistvlad/opgraph/internal/dispatch"
)

var (
	// ErrDataDependentControlFlow is returned when a traced value without a
	// known constant is forced into a concrete scalar. It usually means the
	// program branches or loops on traced data.
	ErrDataDependentControlFlow = errors.New("data-dependent control flow")
	// ErrForeignValue is returned when a tagged value of another trace
	// reaches this trace's graph.
	ErrForeignValue = errors.New("tagged value belongs to another trace")
)

// DataDependentError names the operator that needed a concrete value.
type DataDependentError struct {
	Op *dispatch.OpOverload
}

func (e *DataDependentError) Error() string {
	return fmt.Sprintf("%s: %v: it appears that you're trying to get a value out of a traced tensor that has no known constant, which cannot be represented in a static graph",
		e.Op, ErrDataDependentControlFlow)
}

func (e *DataDependentError) Unwrap() error { return ErrDataDependentControlFlow }

// LayeringViolation is the panic value raised when a tagged value would
// wrap another tagged value of the same trace.
type LayeringViolation struct {
	Inner *Tagged
}

func (e *LayeringViolation) Error() string {
	return fmt.Sprintf("proxy: layering violation: %s already belongs to this trace and cannot be wrapped again", e.Inner)
}
