package document

import "strings"

// Path identifies a node in a Document: a finite sequence of edge
// labels from the root. The empty Path denotes the root itself.
type Path []string

// Root is the empty path.
func Root() Path {
	return nil
}

// Child returns the path obtained by descending one edge labelled name.
func (p Path) Child(name string) Path {
	child := make(Path, len(p)+1)
	copy(child, p)
	child[len(p)] = name
	return child
}

// Parent returns the path with its last label removed and that label.
// Calling Parent on the root path returns (nil, "", false).
func (p Path) Parent() (Path, string, bool) {
	if len(p) == 0 {
		return nil, "", false
	}
	return p[:len(p)-1], p[len(p)-1], true
}

// Equal reports whether p and other denote the same node.
func (p Path) Equal(other Path) bool {
	if len(p) != len(other) {
		return false
	}
	for i := range p {
		if p[i] != other[i] {
			return false
		}
	}
	return true
}

// Less gives Path the total lexical order used to canonicalize patches
// (spec: "sorts operations by (path, kind)"): label-by-label comparison,
// with a strict prefix sorting before its extensions.
func (p Path) Less(other Path) bool {
	for i := 0; i < len(p) && i < len(other); i++ {
		if p[i] != other[i] {
			return p[i] < other[i]
		}
	}
	return len(p) < len(other)
}

// String renders the path as a slash-joined string, for logs and traces.
func (p Path) String() string {
	if len(p) == 0 {
		return "/"
	}
	return "/" + strings.Join(p, "/")
}

// Clone returns an independent copy of p.
func (p Path) Clone() Path {
	if p == nil {
		return nil
	}
	out := make(Path, len(p))
	copy(out, p)
	return out
}
