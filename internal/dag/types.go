package dag

import "sync"

// Graph is a set of named nodes and the value flow between them. It is safe
// for concurrent use.
type Graph struct {
	mutex sync.RWMutex
	nodes map[string]*node
	order []string // insertion order, for deterministic traversal
}

type node struct {
	id         string
	deps       map[string]*node // producers this node reads from
	dependents map[string]*node // consumers of this node's value
}
