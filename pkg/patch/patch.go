// Package patch implements Retcon's patch algebra (spec §3, §4.2): the
// two DocumentChange operations, Patch as an ordered, canonicalizable
// sequence of them, and the canonical-form rules that make hashing and
// three-way merge deterministic. This is bespoke term-rewriting over
// document.Path/document.Document, not expressible through a generic
// JSON-diff library (see DESIGN.md) — the closest the pack's teacher
// gets is its own hand-rolled patch/CRUD event model in pkg/crud, which
// this package is grounded on for its naming conventions (Op-like kind,
// ordered event application) rather than its content.
package patch

import (
	"fmt"
	"sort"

	"github.com/kong/retcon/pkg/document"
)

// Kind distinguishes the two DocumentChange operations.
type Kind int

const (
	// KindDelete removes the scalar at a path. Sorts before KindInsert
	// at the same path in canonical form (spec §3).
	KindDelete Kind = iota
	// KindInsert creates or overwrites the scalar at a path.
	KindInsert
)

func (k Kind) String() string {
	if k == KindDelete {
		return "delete"
	}
	return "insert"
}

// Change is one DocumentChange: Insert(path, value) or Delete(path).
type Change struct {
	Kind  Kind
	Path  document.Path
	Value string // unused when Kind == KindDelete
}

// Insert builds an Insert(path, value) change.
func Insert(path document.Path, value string) Change {
	return Change{Kind: KindInsert, Path: path, Value: value}
}

// Delete builds a Delete(path) change.
func Delete(path document.Path) Change {
	return Change{Kind: KindDelete, Path: path}
}

func (c Change) String() string {
	if c.Kind == KindInsert {
		return fmt.Sprintf("Insert(%s, %q)", c.Path, c.Value)
	}
	return fmt.Sprintf("Delete(%s)", c.Path)
}

// Equal reports whether c and other are the same operation.
func (c Change) Equal(other Change) bool {
	return c.Kind == other.Kind && c.Path.Equal(other.Path) && c.Value == other.Value
}

// Patch is an ordered sequence of Changes. Patches compose by
// concatenation (spec §3); Canonical reduces a Patch to its normal form.
type Patch []Change

// Concat composes patches by concatenation, in order.
func Concat(patches ...Patch) Patch {
	var out Patch
	for _, p := range patches {
		out = append(out, p...)
	}
	return out
}

// Canonical returns the canonical form of p: operations sorted by
// (path, kind) with Delete before Insert at the same path, and
// deduplicated so that a later Insert supersedes any earlier op at the
// same path, and a Delete supersedes earlier Inserts at that path
// (spec §3). Canonicalization is idempotent: Canonical(Canonical(p))
// equals Canonical(p).
func Canonical(p Patch) Patch {
	// "Later" means later in the original sequence p, so the winner per
	// path must be picked before we impose the final sort order.
	type indexed struct {
		change Change
		order  int
	}
	winners := map[string]indexed{}
	keyOf := func(path document.Path) string { return path.String() }

	for i, c := range p {
		key := keyOf(c.Path)
		if prev, ok := winners[key]; ok && prev.order > i {
			continue
		}
		winners[key] = indexed{change: c, order: i}
	}

	out := make(Patch, 0, len(winners))
	for _, w := range winners {
		out = append(out, w.change)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Path.Equal(out[j].Path) {
			return out[i].Path.Less(out[j].Path)
		}
		return out[i].Kind < out[j].Kind
	})
	return out
}

// Apply applies p to d (spec §4.2): Delete at a nonexistent path is a
// no-op; Insert creates intermediate nodes; after application, any
// internal node that has become empty is pruned. Apply is total.
func Apply(d *document.Document, p Patch) *document.Document {
	out := d
	for _, c := range Canonical(p) {
		switch c.Kind {
		case KindInsert:
			out = out.Set(c.Path, c.Value)
		case KindDelete:
			out = out.Unset(c.Path)
		}
	}
	return out
}

// IsEmpty reports whether the canonical form of p has no operations.
func (p Patch) IsEmpty() bool {
	return len(Canonical(p)) == 0
}
