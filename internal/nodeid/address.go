package nodeid

import (
	"fmt"
	"slices"
	"strings"
)

// String serializes the Address into its canonical path string representation.
func (a *Address) String() string {
	if a == nil {
		return ""
	}

	var sb strings.Builder
	for i, segment := range a.Path {
		if i > 0 {
			sb.WriteRune('.')
		}
		sb.WriteString(segment.Name)
		if segment.HasIndex() {
			sb.WriteString(fmt.Sprintf("[%d]", segment.Index))
		}
	}

	return sb.String()
}

// Identifier renders the address as a single identifier usable as a graph
// node name: `layers.0.weight` becomes `layers_0_weight`.
func (a *Address) Identifier() string {
	if a == nil {
		return ""
	}
	parts := make([]string, 0, len(a.Path))
	for _, segment := range a.Path {
		part := segment.Name
		if segment.HasIndex() {
			part += fmt.Sprintf("_%d", segment.Index)
		}
		parts = append(parts, part)
	}
	id := strings.Join(parts, "_")
	if id != "" && id[0] >= '0' && id[0] <= '9' {
		id = "_" + id
	}
	return id
}

// Child returns a new address with name appended. A nil receiver is the
// root.
func (a *Address) Child(name string) *Address {
	var path []PathSegment
	if a != nil {
		path = slices.Clone(a.Path)
	}
	return &Address{Path: append(path, NewPathSegment(name))}
}

// Parent returns the address without its last segment, nil for a
// single-segment address.
func (a *Address) Parent() *Address {
	if a == nil || len(a.Path) <= 1 {
		return nil
	}
	return &Address{Path: slices.Clone(a.Path[:len(a.Path)-1])}
}

// Last returns the final segment name.
func (a *Address) Last() string {
	if a == nil || len(a.Path) == 0 {
		return ""
	}
	return a.Path[len(a.Path)-1].Name
}

// Equal checks for deep equality between two Address pointers.
func (a *Address) Equal(other *Address) bool {
	if a == nil || other == nil {
		return a == other
	}
	return slices.Equal(a.Path, other.Path)
}

// Join concatenates a module path and an attribute name, either of which
// may be empty.
func Join(prefix, name string) string {
	switch {
	case prefix == "":
		return name
	case name == "":
		return prefix
	}
	return prefix + "." + name
}
