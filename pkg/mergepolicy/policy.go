// Package mergepolicy implements the merge-policy layer (spec §4.3,
// C3): pure functions that decide, per conflicting patch operation,
// which source wins. Grounded on the teacher's crud.Op (pkg/crud):
// the same "small closed enum of named operations with deterministic
// tie-breaking" shape, applied here to source-vs-source conflicts
// instead of CRUD verbs.
package mergepolicy

import (
	"fmt"
	"sort"

	"github.com/kong/retcon/pkg/document"
	"github.com/kong/retcon/pkg/model"
	"github.com/kong/retcon/pkg/patch"
	"github.com/kong/retcon/pkg/rerr"
)

// SourcePatch pairs a per-source diff with the source that produced it.
type SourcePatch struct {
	Source model.SourceName
	Patch  patch.Patch
}

// Rejection records a patch operation a MergePolicy refused to apply,
// together with the reason (spec §4.4 "recordRejectedPatch").
type Rejection struct {
	Source model.SourceName
	Change patch.Change
	Reason string
}

// Policy is a deterministic function resolving per-path conflicts
// between per-source patches (spec §4.3). Given the same inputs in the
// same canonical order it must produce bitwise-identical output.
type Policy interface {
	// Name identifies the policy, as used in the config file
	// (spec §6, e.g. "trust-only:data").
	Name() string
	// Merge decides which operations to accept. It must not mutate its
	// arguments.
	Merge(initial *document.Document, patches []SourcePatch) (merged patch.Patch, rejected []Rejection)
}

// conflictGroups buckets, per path, every (source, change) touching
// that path, in source-ascending order (spec §5: "sources sorted by
// SourceName ascending") so every policy consumes them deterministically.
func conflictGroups(patches []SourcePatch) map[string][]sourceChange {
	sorted := append([]SourcePatch(nil), patches...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Source < sorted[j].Source })

	groups := map[string][]sourceChange{}
	for _, sp := range sorted {
		for _, c := range patch.Canonical(sp.Patch) {
			key := c.Path.String()
			groups[key] = append(groups[key], sourceChange{source: sp.Source, change: c})
		}
	}
	return groups
}

type sourceChange struct {
	source model.SourceName
	change patch.Change
}

// isConflict reports whether a group of same-path changes from more
// than one source actually conflicts: two Inserts with the identical
// value are not a conflict (spec §4.3).
func isConflict(group []sourceChange) bool {
	if len(group) < 2 {
		return false
	}
	first := group[0].change
	for _, sc := range group[1:] {
		if !sc.change.Equal(first) {
			return true
		}
	}
	return false
}

// sortedPathKeys returns the group keys of groups sorted as strings
// (the slash-joined path form), so policies iterate deterministically
// regardless of map order.
func sortedPathKeys(groups map[string][]sourceChange) []string {
	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// RejectAll implements "reject-all" (spec §4.3): any conflict between
// two sources at the same path rejects both conflicting ops;
// non-conflicting ops are all accepted.
type RejectAll struct{}

func (RejectAll) Name() string { return "reject-all" }

func (RejectAll) Merge(_ *document.Document, patches []SourcePatch) (patch.Patch, []Rejection) {
	groups := conflictGroups(patches)
	var merged patch.Patch
	var rejected []Rejection
	for _, key := range sortedPathKeys(groups) {
		group := groups[key]
		if isConflict(group) {
			for _, sc := range group {
				rejected = append(rejected, Rejection{
					Source: sc.source,
					Change: sc.change,
					Reason: "conflicting update under reject-all",
				})
			}
			continue
		}
		merged = append(merged, group[0].change)
	}
	return patch.Canonical(merged), rejected
}

// IgnoreConflicts implements "ignore-conflicts" (spec §4.3): accepts
// every op, breaking ties by sorting SourceName ascending and taking
// the last (the lexically greatest source wins).
type IgnoreConflicts struct{}

func (IgnoreConflicts) Name() string { return "ignore-conflicts" }

func (IgnoreConflicts) Merge(_ *document.Document, patches []SourcePatch) (patch.Patch, []Rejection) {
	groups := conflictGroups(patches)
	var merged patch.Patch
	for _, key := range sortedPathKeys(groups) {
		group := groups[key]
		// group is already source-ascending; the winner is the last entry.
		merged = append(merged, group[len(group)-1].change)
	}
	return patch.Canonical(merged), nil
}

// MergeAll implements "merge-all" (spec §4.3): accepts every op, no
// rejections, ties broken the same way as IgnoreConflicts.
type MergeAll struct{}

func (MergeAll) Name() string { return "merge-all" }

func (MergeAll) Merge(initial *document.Document, patches []SourcePatch) (patch.Patch, []Rejection) {
	merged, _ := (IgnoreConflicts{}).Merge(initial, patches)
	return merged, nil
}

// TrustOnly implements "trust-only: S" (spec §4.3): accepts only ops
// from source S; everything else is rejected.
type TrustOnly struct {
	Source model.SourceName
}

func (t TrustOnly) Name() string { return fmt.Sprintf("trust-only:%s", t.Source) }

func (t TrustOnly) Merge(_ *document.Document, patches []SourcePatch) (patch.Patch, []Rejection) {
	var merged patch.Patch
	var rejected []Rejection
	for _, sp := range patches {
		if sp.Source == t.Source {
			merged = append(merged, sp.Patch...)
			continue
		}
		for _, c := range patch.Canonical(sp.Patch) {
			rejected = append(rejected, Rejection{
				Source: sp.Source,
				Change: c,
				Reason: fmt.Sprintf("source is not trusted (trust-only:%s)", t.Source),
			})
		}
	}
	return patch.Canonical(merged), rejected
}

// Parse builds the Policy named by the config file grammar of spec §6
// ("reject-all|ignore-conflicts|trust-only:Source|merge-all").
func Parse(name string) (Policy, error) {
	switch {
	case name == "reject-all":
		return RejectAll{}, nil
	case name == "ignore-conflicts":
		return IgnoreConflicts{}, nil
	case name == "merge-all":
		return MergeAll{}, nil
	case len(name) > len("trust-only:") && name[:len("trust-only:")] == "trust-only:":
		return TrustOnly{Source: model.SourceName(name[len("trust-only:"):])}, nil
	default:
		return nil, rerr.Config("unknown merge policy %q", name)
	}
}
