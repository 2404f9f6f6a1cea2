package fx

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/specialistvlad/opgraph/internal/dag"
	"github.com/specialistvlad/opgraph/internal/dispatch"
	"github.com/specialistvlad/opgraph/internal/nodeid"
	"github.com/specialistvlad/opgraph/internal/tree"
)

var (
	// ErrForwardReference is returned when a node argument refers to a node
	// that has not been appended to any graph yet.
	ErrForwardReference = errors.New("argument references a node that is not in the graph yet")
	// ErrForeignNode is returned when a node argument belongs to another graph.
	ErrForeignNode = errors.New("argument references a node of another graph")
	// ErrOutputExists is returned when a second output node is appended.
	ErrOutputExists = errors.New("graph already has an output node")
)

// Graph is an ordered list of nodes in which every argument reference points
// to an earlier node. It is built by appending and is not safe for
// concurrent use.
type Graph struct {
	nodes  []*Node
	names  map[string]bool
	output *Node
	frozen bool
}

// NewGraph returns an empty graph.
func NewGraph() *Graph {
	return &Graph{names: make(map[string]bool)}
}

// Nodes returns the nodes in insertion order.
func (g *Graph) Nodes() []*Node {
	out := make([]*Node, len(g.nodes))
	copy(out, g.nodes)
	return out
}

// Len returns the number of nodes.
func (g *Graph) Len() int { return len(g.nodes) }

// OutputNode returns the output node, nil until one is appended.
func (g *Graph) OutputNode() *Node { return g.output }

// Placeholders returns the placeholder nodes in order.
func (g *Graph) Placeholders() []*Node {
	return g.Filter(func(n *Node) bool { return n.Kind == Placeholder })
}

// Filter returns the nodes satisfying pred, in order.
func (g *Graph) Filter(pred func(*Node) bool) []*Node {
	var out []*Node
	for _, n := range g.nodes {
		if pred(n) {
			out = append(out, n)
		}
	}
	return out
}

// Frozen reports whether the graph is owned by a GraphModule.
func (g *Graph) Frozen() bool { return g.frozen }

func (g *Graph) mustBeMutable() {
	if g.frozen {
		panic("fx: graph is frozen and cannot be modified")
	}
}

// Append adds n at the end of the graph. Every node n references must
// already be part of g.
func (g *Graph) Append(n *Node) (*Node, error) {
	g.mustBeMutable()
	if n.graph != nil {
		return nil, fmt.Errorf("node %s already belongs to a graph", n)
	}
	for _, ref := range n.Inputs() {
		switch {
		case ref.graph == nil:
			return nil, fmt.Errorf("node %q: %w: %s", n.Name, ErrForwardReference, ref)
		case ref.graph != g:
			return nil, fmt.Errorf("node %q: %w: %s", n.Name, ErrForeignNode, ref)
		}
	}
	if n.Kind == Output && g.output != nil {
		return nil, ErrOutputExists
	}
	if n.Meta == nil {
		n.Meta = make(map[string]any)
	}
	n.Name = g.uniqueName(n.Name, n.Target)
	n.graph = g
	n.index = len(g.nodes)
	g.nodes = append(g.nodes, n)
	g.names[n.Name] = true
	if n.Kind == Output {
		g.output = n
	}
	return n, nil
}

var invalidNameChars = regexp.MustCompile(`[^A-Za-z0-9_]`)

func (g *Graph) uniqueName(hint string, target any) string {
	base := hint
	if base == "" {
		switch t := target.(type) {
		case *dispatch.OpOverload:
			base = t.Name()
		case string:
			base = t
		default:
			base = "node"
		}
	}
	base = invalidNameChars.ReplaceAllString(base, "_")
	if base == "" || (base[0] >= '0' && base[0] <= '9') {
		base = "_" + base
	}
	if !g.names[base] {
		return base
	}
	for i := 1; ; i++ {
		candidate := base + "_" + strconv.Itoa(i)
		if !g.names[candidate] {
			return candidate
		}
	}
}

// Placeholder appends an input node.
func (g *Graph) Placeholder(name string) *Node {
	n, err := g.Append(NewNode(Placeholder, name, name, nil, nil))
	if err != nil {
		panic(err)
	}
	n.Target = n.Name
	return n
}

// GetAttr appends a node reading the attribute at path. The node is named
// after the path, so `layers.0.weight` yields `%layers_0_weight`.
func (g *Graph) GetAttr(path string) *Node {
	hint := path
	if addr, err := nodeid.Parse(path); err == nil {
		hint = addr.Identifier()
	}
	n, err := g.Append(NewNode(GetAttr, hint, path, nil, nil))
	if err != nil {
		panic(err)
	}
	return n
}

// CallFunction appends a call of op.
func (g *Graph) CallFunction(op *dispatch.OpOverload, args []any, kwargs map[string]any) (*Node, error) {
	return g.Append(NewNode(CallFunction, "", op, args, kwargs))
}

// CallModule appends a call of the submodule at path.
func (g *Graph) CallModule(path string, args []any, kwargs map[string]any) (*Node, error) {
	return g.Append(NewNode(CallModule, path, path, args, kwargs))
}

// Output appends the output node returning result.
func (g *Graph) Output(result any) (*Node, error) {
	return g.Append(NewNode(Output, "output", "output", []any{result}, nil))
}

// Users returns the nodes that reference n, in order.
func (g *Graph) Users(n *Node) []*Node {
	var out []*Node
	for _, m := range g.nodes[n.index+1:] {
		for _, ref := range m.Inputs() {
			if ref == n {
				out = append(out, m)
				break
			}
		}
	}
	return out
}

// OpCounts returns how many call_function nodes target each operator,
// keyed by the operator's qualified name.
func (g *Graph) OpCounts() map[string]int {
	counts := make(map[string]int)
	for _, n := range g.nodes {
		if op := n.Op(); op != nil {
			counts[op.String()]++
		}
	}
	return counts
}

// Calls returns the call_function nodes targeting op.
func (g *Graph) Calls(op *dispatch.OpOverload) []*Node {
	return g.Filter(func(n *Node) bool { return n.Target == op })
}

// Lint checks the structural invariants: unique names, references to
// earlier nodes of the same graph only, a single trailing output node and
// no cycles.
func (g *Graph) Lint() error {
	var errs []error
	seen := make(map[string]bool, len(g.nodes))
	deps := dag.New()
	for i, n := range g.nodes {
		if seen[n.Name] {
			errs = append(errs, fmt.Errorf("duplicate node name %q", n.Name))
		}
		seen[n.Name] = true
		deps.AddNode(n.Name)
		if n.graph != g || n.index != i {
			errs = append(errs, fmt.Errorf("node %q is not indexed by its graph", n.Name))
		}
		if n.Kind == CallFunction && n.Op() == nil {
			errs = append(errs, fmt.Errorf("call_function node %q has target %T", n.Name, n.Target))
		}
		for _, ref := range n.Inputs() {
			if ref.graph != g || ref.index >= i || g.nodes[ref.index] != ref {
				errs = append(errs, fmt.Errorf("node %q uses %s before it is defined", n.Name, ref))
				continue
			}
			if err := deps.AddEdge(ref.Name, n.Name); err != nil {
				errs = append(errs, err)
			}
		}
		if n.Kind == Output && i != len(g.nodes)-1 {
			errs = append(errs, fmt.Errorf("output node %q is not the last node", n.Name))
		}
	}
	if err := deps.DetectCycles(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// EliminateDeadCode removes get_attr and call_function nodes that neither
// the output nor any mutating call depends on. It returns the number of
// removed nodes.
func (g *Graph) EliminateDeadCode() (int, error) {
	g.mustBeMutable()
	deps := dag.New()
	var roots []string
	for _, n := range g.nodes {
		deps.AddNode(n.Name)
		for _, ref := range n.Inputs() {
			if err := deps.AddEdge(ref.Name, n.Name); err != nil {
				return 0, err
			}
		}
		if hasSideEffects(n) {
			roots = append(roots, n.Name)
		}
	}
	live, err := deps.Ancestors(roots...)
	if err != nil {
		return 0, err
	}
	kept := g.nodes[:0]
	removed := 0
	for _, n := range g.nodes {
		if live[n.Name] || n.Kind == Placeholder {
			n.index = len(kept)
			kept = append(kept, n)
			continue
		}
		delete(g.names, n.Name)
		n.graph, n.index = nil, -1
		removed++
	}
	clear(g.nodes[len(kept):])
	g.nodes = kept
	return removed, nil
}

func hasSideEffects(n *Node) bool {
	switch n.Kind {
	case Output, CallModule:
		return true
	case CallFunction:
		op := n.Op()
		return op != nil && op.IsInplace()
	}
	return false
}

// Copy returns an unfrozen deep copy of the node list. Meta maps are copied
// shallowly.
func (g *Graph) Copy() *Graph {
	out := NewGraph()
	remap := make(map[*Node]*Node, len(g.nodes))
	swap := func(v any) any {
		if ref, ok := v.(*Node); ok {
			return remap[ref]
		}
		return v
	}
	for _, n := range g.nodes {
		args, kwargs := tree.MapArgs(n.Args, n.Kwargs, swap)
		c := NewNode(n.Kind, n.Name, n.Target, args, kwargs)
		for k, v := range n.Meta {
			c.Meta[k] = v
		}
		if _, err := out.Append(c); err != nil {
			panic(err)
		}
		remap[n] = c
	}
	return out
}

// String renders the graph one node per line.
func (g *Graph) String() string {
	users := make(map[*Node]int, len(g.nodes))
	for _, n := range g.nodes {
		for _, ref := range n.Inputs() {
			users[ref]++
		}
	}
	var sb strings.Builder
	sb.WriteString("graph():\n")
	for _, n := range g.nodes {
		if n.Kind == Output {
			fmt.Fprintf(&sb, "    return %s\n", formatArg(n.Args[0]))
			continue
		}
		fmt.Fprintf(&sb, "    %s\n", n.format(users[n]))
	}
	return sb.String()
}

// Targets returns the sorted distinct operator names the graph calls.
func (g *Graph) Targets() []string {
	counts := g.OpCounts()
	out := make([]string, 0, len(counts))
	for name := range counts {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
