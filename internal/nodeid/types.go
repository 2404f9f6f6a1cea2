package nodeid

// PathSegment is one component of an attribute path, e.g. `layers` or `0`
// in `layers.0.weight`, optionally indexed as in `blocks[2]`.
type PathSegment struct {
	Name  string
	Index int // -1 indicates no index is present.
}

// NewPathSegment creates a new path segment without an index.
func NewPathSegment(name string) PathSegment {
	return PathSegment{Name: name, Index: -1}
}

// NewPathSegmentWithIndex creates a new path segment that includes an index.
func NewPathSegmentWithIndex(name string, index int) PathSegment {
	return PathSegment{Name: name, Index: index}
}

// HasIndex returns true if the path segment has an explicit index.
func (ps PathSegment) HasIndex() bool {
	return ps.Index != -1
}

// Address is the qualified name of a module attribute: a parameter, a
// buffer or a submodule reached from the root module.
type Address struct {
	Path []PathSegment
}
