// Package model holds the identifiers shared by every layer of Retcon
// (spec §3): EntityName/SourceName are interned textual tags, a
// ForeignKey is the triple a DataSource assigns an entity, and an
// InternalKey is the kernel-assigned identifier tying those foreign
// keys together. Per spec §9, these are runtime-tagged values rather
// than compile-time string literals, trading the teacher's type-level
// entity/source exhaustiveness for the dynamic configurability the
// config file (spec §6) requires.
package model

import "fmt"

// EntityName is the name of a logical kind of record, e.g. "customer".
type EntityName string

// SourceName is the name of an external system storing one view of an
// entity, e.g. "data" or "test-results".
type SourceName string

// ForeignKey is a source-local identifier for one entity instance: the
// opaque triple (EntityName, SourceName, foreign-key text). The text is
// opaque from the kernel's point of view.
type ForeignKey struct {
	Entity EntityName
	Source SourceName
	Key    string
}

func (fk ForeignKey) String() string {
	return fmt.Sprintf("%s/%s/%s", fk.Entity, fk.Source, fk.Key)
}

// InternalKey is a kernel-allocated identifier for one logical entity
// instance, scoped by EntityName and stable across reconciliation
// rounds (spec §3).
type InternalKey struct {
	Entity EntityName
	ID     uint64
}

func (ik InternalKey) String() string {
	return fmt.Sprintf("%s#%d", ik.Entity, ik.ID)
}

// IsZero reports whether ik is the zero InternalKey, i.e. unallocated.
func (ik InternalKey) IsZero() bool {
	return ik == InternalKey{}
}
