// Package tree flattens and rebuilds nested argument containers.
//
// Operator arguments and traced function inputs/outputs are trees whose
// interior nodes are containers ([]any or map[string]any) and whose leaves
// are anything else: tensors, tagged values, scalars, shapes. Map keys are
// visited in sorted order so flattening is deterministic.
package tree

import (
	"fmt"
	"slices"
	"sort"
)

type kind uint8

const (
	kindLeaf kind = iota
	kindList
	kindMap
)

// Spec records the container structure of a flattened tree.
type Spec struct {
	kind     kind
	keys     []string
	children []Spec
}

// NumLeaves returns how many leaves the structure holds.
func (s Spec) NumLeaves() int {
	if s.kind == kindLeaf {
		return 1
	}
	n := 0
	for _, c := range s.children {
		n += c.NumLeaves()
	}
	return n
}

// Flatten returns the leaves of v in visiting order and the structure
// needed to rebuild it.
func Flatten(v any) ([]any, Spec) {
	var leaves []any
	spec := flatten(v, &leaves)
	return leaves, spec
}

func flatten(v any, leaves *[]any) Spec {
	switch c := v.(type) {
	case []any:
		spec := Spec{kind: kindList, children: make([]Spec, len(c))}
		for i, e := range c {
			spec.children[i] = flatten(e, leaves)
		}
		return spec
	case map[string]any:
		keys := sortedKeys(c)
		spec := Spec{kind: kindMap, keys: keys, children: make([]Spec, len(keys))}
		for i, k := range keys {
			spec.children[i] = flatten(c[k], leaves)
		}
		return spec
	default:
		*leaves = append(*leaves, v)
		return Spec{kind: kindLeaf}
	}
}

// Unflatten rebuilds a tree with the structure of spec from leaves.
func Unflatten(leaves []any, spec Spec) (any, error) {
	if n := spec.NumLeaves(); n != len(leaves) {
		return nil, fmt.Errorf("tree: structure holds %d leaves, got %d", n, len(leaves))
	}
	pos := 0
	return unflatten(leaves, &pos, spec), nil
}

func unflatten(leaves []any, pos *int, spec Spec) any {
	switch spec.kind {
	case kindList:
		out := make([]any, len(spec.children))
		for i, c := range spec.children {
			out[i] = unflatten(leaves, pos, c)
		}
		return out
	case kindMap:
		out := make(map[string]any, len(spec.keys))
		for i, k := range spec.keys {
			out[k] = unflatten(leaves, pos, spec.children[i])
		}
		return out
	default:
		v := leaves[*pos]
		*pos++
		return v
	}
}

// Leaves returns the leaves of v.
func Leaves(v any) []any {
	leaves, _ := Flatten(v)
	return leaves
}

// Map returns a copy of v with every leaf replaced by fn(leaf).
func Map(v any, fn func(any) any) any {
	out, _ := MapErr(v, func(x any) (any, error) { return fn(x), nil })
	return out
}

// MapErr is Map with a fallible leaf function. The first error aborts.
func MapErr(v any, fn func(any) (any, error)) (any, error) {
	switch c := v.(type) {
	case []any:
		out := make([]any, len(c))
		for i, e := range c {
			m, err := MapErr(e, fn)
			if err != nil {
				return nil, err
			}
			out[i] = m
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(c))
		for _, k := range sortedKeys(c) {
			m, err := MapErr(c[k], fn)
			if err != nil {
				return nil, err
			}
			out[k] = m
		}
		return out, nil
	default:
		return fn(v)
	}
}

// MapArgs maps fn over positional and keyword arguments at once.
func MapArgs(args []any, kwargs map[string]any, fn func(any) any) ([]any, map[string]any) {
	outArgs := make([]any, len(args))
	for i, a := range args {
		outArgs[i] = Map(a, fn)
	}
	var outKwargs map[string]any
	if kwargs != nil {
		outKwargs = Map(kwargs, fn).(map[string]any)
	}
	return outArgs, outKwargs
}

// Any reports whether some leaf of v satisfies pred.
func Any(v any, pred func(any) bool) bool {
	return slices.ContainsFunc(Leaves(v), pred)
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
