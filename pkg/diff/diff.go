// Package diff computes and applies structural differences between
// Documents (spec §4.2, C2). It is the load-bearing algebra the kernel
// runs on every round: Diff turns two snapshots into a canonical Patch,
// Apply is the Patch algebra's total evaluator, and
// CalculateInitialDocument computes the "agreement" of a set of views
// when no stored ancestor exists yet.
package diff

import (
	"sort"

	"github.com/kong/retcon/pkg/document"
	"github.com/kong/retcon/pkg/patch"
)

// Diff returns a canonical Patch such that Apply(a, Diff(a, b)) == b.
//
// It enumerates the union of paths appearing in a or b; for each path,
// it emits nothing if the scalars agree, an Insert if b has a scalar
// there, or a Delete if only a does (spec §4.2).
func Diff(a, b *document.Document) patch.Patch {
	paths := unionPaths(a, b)
	var changes patch.Patch
	for _, p := range paths {
		av, aok := a.Get(p)
		bv, bok := b.Get(p)
		if aok && bok && av == bv {
			continue
		}
		if bok {
			changes = append(changes, patch.Insert(p, bv))
		} else {
			changes = append(changes, patch.Delete(p))
		}
	}
	return patch.Canonical(changes)
}

// Apply applies p to d. It is a thin re-export of patch.Apply so callers
// that only think in terms of "diff and apply" don't need to import the
// patch package directly for the common case.
func Apply(d *document.Document, p patch.Patch) *document.Document {
	return patch.Apply(d, p)
}

// CalculateInitialDocument computes the "agreement" of a non-empty
// collection of documents (spec §4.2): a path/scalar pair is kept only
// if every input document has that exact scalar at that path. The
// empty collection agrees on nothing and yields the empty document.
func CalculateInitialDocument(docs []*document.Document) *document.Document {
	if len(docs) == 0 {
		return document.Empty()
	}

	counts := map[string]int{}
	values := map[string]string{}
	paths := map[string]document.Path{}
	dead := map[string]bool{}

	for _, d := range docs {
		for _, pv := range d.Paths() {
			key := pv.Path.String()
			if dead[key] {
				continue
			}
			if _, seen := counts[key]; !seen {
				values[key] = pv.Value
				paths[key] = pv.Path
			} else if values[key] != pv.Value {
				// Any disagreement kills the path for good: a later
				// document matching the original value by coincidence
				// must not resurrect it.
				dead[key] = true
				continue
			}
			counts[key]++
		}
	}

	out := document.Empty()
	for key, n := range counts {
		if !dead[key] && n == len(docs) {
			out = out.Set(paths[key], values[key])
		}
	}
	return out
}

// unionPaths returns every distinct path that carries a scalar in a or
// b, sorted lexically so Diff's output order is deterministic before
// canonicalization even sees it.
func unionPaths(a, b *document.Document) []document.Path {
	seen := map[string]document.Path{}
	for _, pv := range a.Paths() {
		seen[pv.Path.String()] = pv.Path
	}
	for _, pv := range b.Paths() {
		seen[pv.Path.String()] = pv.Path
	}
	out := make([]document.Path, 0, len(seen))
	for _, p := range seen {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}
