package app

import (
	"github.com/m1gwings/treedrawer/tree"
	"github.com/specialistvlad/opgraph/internal/fx"
)

// renderTree draws the expression tree feeding the graph output. A node
// reached twice is drawn in full once and referenced by name afterwards.
func renderTree(g *fx.Graph) string {
	out := g.OutputNode()
	if out == nil {
		return ""
	}
	root := tree.NewTree(tree.NodeString("output"))
	seen := make(map[*fx.Node]bool)
	var add func(parent *tree.Tree, n *fx.Node)
	add = func(parent *tree.Tree, n *fx.Node) {
		if seen[n] {
			parent.AddChild(tree.NodeString("%" + n.Name))
			return
		}
		seen[n] = true
		label := "%" + n.Name
		if n.Kind != fx.Placeholder {
			label += " = " + n.TargetName()
		}
		child := parent.AddChild(tree.NodeString(label))
		for _, in := range n.Inputs() {
			add(child, in)
		}
	}
	for _, n := range out.Inputs() {
		add(root, n)
	}
	return root.String()
}
