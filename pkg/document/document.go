// Package document implements Retcon's core value type (spec §3, §4.1):
// a recursive labelled tree with an optional scalar at every node and a
// uniquely-labelled set of children. It is the "Scalar | Internal(children)"
// shape spec §9 calls out, modelled as one struct rather than a tagged
// union — Go has no sum types, and a single struct with a nilable scalar
// keeps both cases representable without a type switch at every call site.
package document

import (
	"encoding/json"
	"fmt"
	"sort"
	"unicode/utf8"

	"github.com/kong/retcon/pkg/rerr"
)

// Document is a node in the recursive labelled tree. The zero value is
// the empty document: no scalar, no children — the monoidal identity
// for Overlay.
type Document struct {
	scalar   *string
	children map[string]*Document
}

// Empty returns the empty document.
func Empty() *Document {
	return &Document{}
}

// IsEmpty reports whether d carries no scalar and no children.
func (d *Document) IsEmpty() bool {
	if d == nil {
		return true
	}
	return d.scalar == nil && len(d.children) == 0
}

// Equal reports structural equality.
func (d *Document) Equal(other *Document) bool {
	if d.IsEmpty() && other.IsEmpty() {
		return true
	}
	if d == nil || other == nil {
		return false
	}
	if !scalarEqual(d.scalar, other.scalar) {
		return false
	}
	if len(d.children) != len(other.children) {
		return false
	}
	for label, child := range d.children {
		oc, ok := other.children[label]
		if !ok || !child.Equal(oc) {
			return false
		}
	}
	return true
}

func scalarEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// clone returns a deep, independent copy of d.
func (d *Document) clone() *Document {
	if d == nil {
		return Empty()
	}
	out := &Document{}
	if d.scalar != nil {
		s := *d.scalar
		out.scalar = &s
	}
	if len(d.children) > 0 {
		out.children = make(map[string]*Document, len(d.children))
		for label, child := range d.children {
			out.children[label] = child.clone()
		}
	}
	return out
}

// Get returns the scalar at path, if any.
func (d *Document) Get(path Path) (string, bool) {
	node := d.navigate(path)
	if node == nil || node.scalar == nil {
		return "", false
	}
	return *node.scalar, true
}

// navigate walks to the node at path without mutating d, returning nil
// if any intermediate edge is missing.
func (d *Document) navigate(path Path) *Document {
	node := d
	for _, label := range path {
		if node == nil || node.children == nil {
			return nil
		}
		node = node.children[label]
	}
	return node
}

// Set creates or overwrites the scalar at path, creating intermediate
// internal nodes as needed, and returns the resulting document. The
// receiver is not mutated; Document values are treated as immutable so
// that diff/patch can freely compare before/after snapshots.
func (d *Document) Set(path Path, value string) *Document {
	out := d.clone()
	out.setInPlace(path, value)
	return out
}

func (d *Document) setInPlace(path Path, value string) {
	if len(path) == 0 {
		v := value
		d.scalar = &v
		return
	}
	if d.children == nil {
		d.children = map[string]*Document{}
	}
	label := path[0]
	child, ok := d.children[label]
	if !ok {
		child = Empty()
		d.children[label] = child
	}
	child.setInPlace(path[1:], value)
}

// Unset removes the scalar at path, pruning any intermediate internal
// node that becomes empty as a result, and returns the resulting
// document. Unsetting a nonexistent path is a no-op.
func (d *Document) Unset(path Path) *Document {
	out := d.clone()
	out.unsetInPlace(path)
	return out
}

// unsetInPlace clears the scalar at path in d and, on the way back up,
// deletes each child entry that the removal left empty.
func (d *Document) unsetInPlace(path Path) {
	if len(path) == 0 {
		d.scalar = nil
		return
	}
	label := path[0]
	child, ok := d.children[label]
	if !ok {
		return
	}
	child.unsetInPlace(path[1:])
	if child.IsEmpty() {
		delete(d.children, label)
		if len(d.children) == 0 {
			d.children = nil
		}
	}
}

// PathValue is one (path, scalar) pair, as yielded by Paths in lexical order.
type PathValue struct {
	Path  Path
	Value string
}

// Paths returns every (path, scalar) pair in d, in lexical path order,
// matching the canonical child ordering used for serialization (spec §3:
// "children are always ordered by their edge label ascending").
func (d *Document) Paths() []PathValue {
	var out []PathValue
	d.collect(nil, &out)
	sort.Slice(out, func(i, j int) bool { return out[i].Path.Less(out[j].Path) })
	return out
}

func (d *Document) collect(prefix Path, out *[]PathValue) {
	if d == nil {
		return
	}
	if d.scalar != nil {
		*out = append(*out, PathValue{Path: prefix.Clone(), Value: *d.scalar})
	}
	labels := make([]string, 0, len(d.children))
	for label := range d.children {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	for _, label := range labels {
		d.children[label].collect(prefix.Child(label), out)
	}
}

// Overlay computes the right-biased pointwise union of a and b (spec
// §3): children are merged recursively, and b's scalar wins whenever it
// is present.
func Overlay(a, b *Document) *Document {
	out := a.clone()
	overlayInPlace(out, b)
	return out
}

func overlayInPlace(dst, src *Document) {
	if src == nil {
		return
	}
	if src.scalar != nil {
		s := *src.scalar
		dst.scalar = &s
	}
	for label, srcChild := range src.children {
		if dst.children == nil {
			dst.children = map[string]*Document{}
		}
		dstChild, ok := dst.children[label]
		if !ok {
			dstChild = Empty()
			dst.children[label] = dstChild
		}
		overlayInPlace(dstChild, srcChild)
	}
}

// FromJSON decodes raw JSON into a Document. Arrays anywhere in the
// input are rejected with a malformed-document error (spec §3); scalars
// embed as leaves whose text is their rendering (booleans render as
// TRUE/FALSE, null renders as a missing scalar, per spec §3).
func FromJSON(raw []byte) (*Document, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, rerr.Document("decoding json: %w", err)
	}
	return fromValue(v)
}

func fromValue(v any) (*Document, error) {
	switch t := v.(type) {
	case nil:
		return Empty(), nil
	case []any:
		return nil, rerr.Document("%w", rerr.ErrMalformedDocument)
	case map[string]any:
		doc := Empty()
		for label, child := range t {
			if label == "" {
				return nil, rerr.Document("edge label must not be empty")
			}
			if !utf8.ValidString(label) {
				return nil, rerr.Document("edge label %q is not valid UTF-8", label)
			}
			childDoc, err := fromValue(child)
			if err != nil {
				return nil, err
			}
			if doc.children == nil {
				doc.children = map[string]*Document{}
			}
			doc.children[label] = childDoc
		}
		return doc, nil
	case string:
		if !utf8.ValidString(t) {
			return nil, rerr.Document("scalar is not valid UTF-8")
		}
		return Empty().Set(nil, t), nil
	case bool:
		if t {
			return Empty().Set(nil, "TRUE"), nil
		}
		return Empty().Set(nil, "FALSE"), nil
	case json.Number:
		return Empty().Set(nil, t.String()), nil
	case float64:
		return Empty().Set(nil, formatFloat(t)), nil
	default:
		return nil, rerr.Document("unsupported json value of type %T", v)
	}
}

func formatFloat(f float64) string {
	return fmt.Sprintf("%g", f)
}

// ToJSON renders d back to raw JSON. A node that carries both a scalar
// and children is a known lossy boundary (spec §4.1): the scalar is
// dropped in favor of the children and the caller-supplied warn
// callback (if non-nil) is invoked so the loss can be traced, per
// spec §9's note to preserve this behavior but surface it through the
// trace sink rather than silently.
func (d *Document) ToJSON(warn func(path Path)) ([]byte, error) {
	v := d.toValue(nil, warn)
	return json.Marshal(v)
}

func (d *Document) toValue(path Path, warn func(Path)) any {
	if d == nil {
		return nil
	}
	if len(d.children) == 0 {
		if d.scalar == nil {
			return map[string]any{}
		}
		return *d.scalar
	}
	if d.scalar != nil && warn != nil {
		warn(path)
	}
	out := map[string]any{}
	for label, child := range d.children {
		out[label] = child.toValue(path.Child(label), warn)
	}
	return out
}
