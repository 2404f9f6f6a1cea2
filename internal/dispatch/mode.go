package dispatch

import (
	"context"
	"fmt"

	"github.com/specialistvlad/opgraph/internal/tree"
)

// Mode intercepts every operator call made while it is on the mode stack.
// While a mode handles a call, it is popped: the ctx it receives carries
// only the modes below it, so calls it makes reach the inner modes.
type Mode interface {
	Dispatch(ctx context.Context, op *OpOverload, args []any, kwargs map[string]any) (any, error)
}

// Handler is implemented by argument values that want to intercept the
// operators they are passed to, even when no mode is active.
type Handler interface {
	DispatchHandler() Mode
}

type modeStackKey struct{}

// PushMode returns a context with m on top of the mode stack. The caller's
// context is unchanged, so leaving the scope restores the previous stack on
// every exit path.
func PushMode(ctx context.Context, m Mode) context.Context {
	stack := Modes(ctx)
	next := make([]Mode, len(stack), len(stack)+1)
	copy(next, stack)
	return context.WithValue(ctx, modeStackKey{}, append(next, m))
}

// Modes returns the active mode stack, innermost first and top last.
func Modes(ctx context.Context) []Mode {
	stack, _ := ctx.Value(modeStackKey{}).([]Mode)
	return stack
}

// WithoutModes returns a context whose stack omits every mode for which
// drop returns true.
func WithoutModes(ctx context.Context, drop func(Mode) bool) context.Context {
	stack := Modes(ctx)
	kept := make([]Mode, 0, len(stack))
	for _, m := range stack {
		if !drop(m) {
			kept = append(kept, m)
		}
	}
	return context.WithValue(ctx, modeStackKey{}, kept)
}

// Call invokes op. The top mode, if any, handles the call; otherwise the
// first argument leaf implementing Handler does; otherwise the kernel runs.
func Call(ctx context.Context, op *OpOverload, args []any, kwargs map[string]any) (any, error) {
	if stack := Modes(ctx); len(stack) > 0 {
		top := stack[len(stack)-1]
		inner := context.WithValue(ctx, modeStackKey{}, stack[:len(stack)-1:len(stack)-1])
		return top.Dispatch(inner, op, args, kwargs)
	}
	if h := FindHandler(args, kwargs); h != nil {
		return h.DispatchHandler().Dispatch(ctx, op, args, kwargs)
	}
	return Direct(ctx, op, args, kwargs)
}

// FindHandler returns the first argument leaf implementing Handler.
func FindHandler(args []any, kwargs map[string]any) Handler {
	for _, leaf := range tree.Leaves([]any{args, kwargs}) {
		if h, ok := leaf.(Handler); ok {
			return h
		}
	}
	return nil
}

// Direct binds the arguments and runs op's kernel, bypassing every mode and
// handler.
func Direct(ctx context.Context, op *OpOverload, args []any, kwargs map[string]any) (any, error) {
	bound, err := op.Schema.Bind(args, kwargs)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return op.Kernel(ctx, bound)
}

type metadataOnlyKey struct{}

// WithMetadataOnly returns a context under which kernels allocate fake
// outputs and skip element computation.
func WithMetadataOnly(ctx context.Context) context.Context {
	return context.WithValue(ctx, metadataOnlyKey{}, true)
}

// MetadataOnly reports whether kernels must not materialize storage.
func MetadataOnly(ctx context.Context) bool {
	v, _ := ctx.Value(metadataOnlyKey{}).(bool)
	return v
}

// WithoutMetadataOnly returns a context under which kernels compute real
// elements again.
func WithoutMetadataOnly(ctx context.Context) context.Context {
	return context.WithValue(ctx, metadataOnlyKey{}, false)
}
