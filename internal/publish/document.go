package publish

import (
	"github.com/specialistvlad/opgraph/internal/fx"
)

// Document is the wire form of a traced graph.
type Document struct {
	Name  string    `json:"name"`
	Nodes []NodeDoc `json:"nodes"`
	Attrs []AttrDoc `json:"attrs"`
	Code  string    `json:"code"`
}

// NodeDoc describes one graph node. Inputs lists the names of the nodes it
// reads, in argument order.
type NodeDoc struct {
	Name   string   `json:"name"`
	Op     string   `json:"op"`
	Target string   `json:"target"`
	Inputs []string `json:"inputs,omitempty"`
	Shape  []int    `json:"shape,omitempty"`
	DType  string   `json:"dtype,omitempty"`
}

// AttrDoc describes a tensor attribute of the module.
type AttrDoc struct {
	Name      string `json:"name"`
	Shape     []int  `json:"shape"`
	DType     string `json:"dtype"`
	Parameter bool   `json:"parameter"`
}

// Describe builds the Document for gm. Attributes come in name order.
func Describe(gm *fx.GraphModule) *Document {
	doc := &Document{
		Name:  gm.Name(),
		Nodes: []NodeDoc{},
		Attrs: []AttrDoc{},
		Code:  gm.Graph().String(),
	}
	for _, n := range gm.Graph().Nodes() {
		nd := NodeDoc{Name: n.Name, Op: n.Kind.String(), Target: n.TargetName()}
		for _, in := range n.Inputs() {
			nd.Inputs = append(nd.Inputs, in.Name)
		}
		if m, ok := n.TensorMeta(); ok {
			nd.Shape = m.Shape
			nd.DType = m.DType.String()
		}
		doc.Nodes = append(doc.Nodes, nd)
	}
	for _, name := range gm.AttrNames() {
		t, _ := gm.Attr(name)
		doc.Attrs = append(doc.Attrs, AttrDoc{
			Name:      name,
			Shape:     t.Shape(),
			DType:     t.DType().String(),
			Parameter: t.IsParameter(),
		})
	}
	return doc
}
