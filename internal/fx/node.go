package fx

import (
	"fmt"
	"sort"
	"strings"

	"github.com/specialistvlad/opgraph/internal/dispatch"
	"github.com/specialistvlad/opgraph/internal/tensor"
	"github.com/specialistvlad/opgraph/internal/tree"
)

// Kind is the kind of a graph node.
type Kind uint8

const (
	Placeholder Kind = iota
	GetAttr
	CallFunction
	CallModule
	Output
)

func (k Kind) String() string {
	switch k {
	case Placeholder:
		return "placeholder"
	case GetAttr:
		return "get_attr"
	case CallFunction:
		return "call_function"
	case CallModule:
		return "call_module"
	case Output:
		return "output"
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// MetaTensorKey is the Meta key holding a node's tensor.Meta.
const MetaTensorKey = "tensor_meta"

// Node is one entry of a Graph. Target is the placeholder name, the
// attribute path (get_attr), the module path (call_module) or the
// *dispatch.OpOverload (call_function). Args and Kwargs hold *Node
// references and literals, possibly nested in []any and map[string]any.
type Node struct {
	Kind   Kind
	Name   string
	Target any
	Args   []any
	Kwargs map[string]any
	Meta   map[string]any

	graph *Graph
	index int
}

// NewNode creates a node that does not belong to any graph yet. name is a
// hint; the graph makes it unique on Append.
func NewNode(kind Kind, name string, target any, args []any, kwargs map[string]any) *Node {
	return &Node{
		Kind:   kind,
		Name:   name,
		Target: target,
		Args:   args,
		Kwargs: kwargs,
		Meta:   make(map[string]any),
		index:  -1,
	}
}

// Graph returns the graph n was appended to, nil if none.
func (n *Node) Graph() *Graph { return n.graph }

// Op returns the operator of a call_function node and nil otherwise.
func (n *Node) Op() *dispatch.OpOverload {
	op, _ := n.Target.(*dispatch.OpOverload)
	return op
}

// TargetName returns the target as a string.
func (n *Node) TargetName() string {
	switch t := n.Target.(type) {
	case string:
		return t
	case *dispatch.OpOverload:
		return t.String()
	case nil:
		return ""
	}
	return fmt.Sprint(n.Target)
}

// TensorMeta returns the metadata record of the value n produced.
func (n *Node) TensorMeta() (tensor.Meta, bool) {
	m, ok := n.Meta[MetaTensorKey].(tensor.Meta)
	return m, ok
}

// SetTensorMeta records the metadata of the value n produced.
func (n *Node) SetTensorMeta(m tensor.Meta) {
	if n.Meta == nil {
		n.Meta = make(map[string]any)
	}
	n.Meta[MetaTensorKey] = m.Clone()
}

// Inputs returns the distinct nodes n references, in argument order.
func (n *Node) Inputs() []*Node {
	var out []*Node
	seen := make(map[*Node]bool)
	for _, leaf := range tree.Leaves([]any{n.Args, n.Kwargs}) {
		if ref, ok := leaf.(*Node); ok && !seen[ref] {
			seen[ref] = true
			out = append(out, ref)
		}
	}
	return out
}

func (n *Node) String() string {
	return "%" + n.Name
}

// format renders n the way Graph.String lists it.
func (n *Node) format(users int) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%%%s : [#users=%d] = %s[target=%s]", n.Name, users, n.Kind, n.TargetName())
	if n.Kind == CallFunction || n.Kind == CallModule || len(n.Args) > 0 {
		fmt.Fprintf(&sb, "(args = %s, kwargs = %s)", formatArgs(n.Args), formatKwargs(n.Kwargs))
	}
	return sb.String()
}

func formatArgs(args []any) string {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = formatArg(a)
	}
	if len(parts) == 1 {
		return "(" + parts[0] + ",)"
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

func formatKwargs(kwargs map[string]any) string {
	keys := make([]string, 0, len(kwargs))
	for k := range kwargs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s: %s", k, formatArg(kwargs[k]))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

func formatArg(a any) string {
	switch v := a.(type) {
	case *Node:
		return v.String()
	case []any:
		parts := make([]string, len(v))
		for i, e := range v {
			parts[i] = formatArg(e)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case map[string]any:
		return formatKwargs(v)
	case []int:
		return tensor.ShapeString(v)
	case string:
		return fmt.Sprintf("%q", v)
	case nil:
		return "None"
	case bool:
		if v {
			return "True"
		}
		return "False"
	case float64:
		return fmt.Sprintf("%g", v)
	}
	return fmt.Sprint(a)
}
