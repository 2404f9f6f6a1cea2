package fake

import (
	"errors"
	"fmt"

	"github.com/specialistvlad/opgraph/internal/dispatch"
)

var (
	// ErrDynamicOutputShape means the output shape depends on element values,
	// which a fake tensor does not have.
	ErrDynamicOutputShape = errors.New("output shape depends on input data")
	// ErrDataDependentOutput means the operator returns element values.
	ErrDataDependentOutput = errors.New("output value depends on input data")
	// ErrNoFakeKernel means the kernel needs real storage.
	ErrNoFakeKernel = errors.New("operator has no metadata-only implementation")
)

// UnsupportedOperatorError reports an operator that could not run on fake
// tensors. Err is one of the sentinels above or the kernel's own shape
// inference error.
type UnsupportedOperatorError struct {
	Op  *dispatch.OpOverload
	Err error
}

func (e *UnsupportedOperatorError) Error() string {
	return fmt.Sprintf("fake: cannot run %s: %v", e.Op, e.Err)
}

func (e *UnsupportedOperatorError) Unwrap() error { return e.Err }
