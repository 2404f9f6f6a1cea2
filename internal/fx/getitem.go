package fx

import (
	"context"
	"fmt"

	"github.com/specialistvlad/opgraph/internal/dispatch"
)

// OpGetItem projects element idx out of a call returning several values.
// Tracers record one projection per tensor of a multi-output call, so every
// tensor in a graph is produced by its own node. Interpreters evaluate it
// directly: it only indexes a Go slice and is never intercepted.
var OpGetItem = dispatch.Register(dispatch.NewOp("builtins", "getitem(Any self, int idx) -> Any", 0, getItem))

func getItem(_ context.Context, args []any) (any, error) {
	seq, ok := args[0].([]any)
	if !ok {
		return nil, fmt.Errorf("getitem: expected a sequence, got %T", args[0])
	}
	idx, ok := args[1].(int)
	if !ok {
		return nil, fmt.Errorf("getitem: expected an int index, got %T", args[1])
	}
	if idx < 0 {
		idx += len(seq)
	}
	if idx < 0 || idx >= len(seq) {
		return nil, fmt.Errorf("getitem: index %d out of range for %d values", args[1], len(seq))
	}
	return seq[idx], nil
}
