// Package store implements Retcon's persistent mapping (spec §4.4, C4):
// internal-key <-> foreign-key bookkeeping, the initial document per
// internal key, and rejected-patch history, behind one transactional
// interface. The reference implementation backs it with
// hashicorp/go-memdb, directly modelled on the teacher's
// pkg/state.collection/ServicesCollection: one memdb.DB, one
// memdb.Txn per request, explicit Commit/Abort.
//
// Only the kernel opens a ReadWriteTx. BeginRead returns a ReadTx, a
// strictly smaller interface, so a holder of that value sees only the
// read methods in its static type. The DataSource interface takes no
// store token at all: adaptors are not handed either kind of
// transaction.
package store

import (
	"context"

	"github.com/kong/retcon/pkg/document"
	"github.com/kong/retcon/pkg/model"
	"github.com/kong/retcon/pkg/patch"
)

// ReadTx is the read-only subset of the store's transactional
// interface, as returned by Store.BeginRead.
type ReadTx interface {
	// ResolveInternalKey looks up the InternalKey bound to fk, if any.
	ResolveInternalKey(fk model.ForeignKey) (model.InternalKey, bool, error)
	// LookupForeignKeys returns every foreign key recorded for ik, keyed
	// by SourceName.
	LookupForeignKeys(ik model.InternalKey) (map[model.SourceName]model.ForeignKey, error)
	// ReadInitialDocument returns the stored InitialDocument for ik, if any.
	ReadInitialDocument(ik model.InternalKey) (*document.Document, bool, error)
}

// ReadWriteTx is the kernel's transactional token: every write against
// the store happens through one ReadWriteTx, committed or rolled back
// as a unit (spec §4.4, §5).
type ReadWriteTx interface {
	ReadTx

	// AllocateInternalKey mints a new InternalKey scoped to entity.
	AllocateInternalKey(entity model.EntityName) (model.InternalKey, error)
	// RecordForeignKey binds fk to ik. It fails if fk is already bound to
	// a different InternalKey (spec §4.4 invariant 1).
	RecordForeignKey(ik model.InternalKey, fk model.ForeignKey) error
	// DeleteForeignKey removes fk's binding, if any.
	DeleteForeignKey(fk model.ForeignKey) error
	// DeleteInternalKey removes ik and cascades its foreign-key rows and
	// initial document.
	DeleteInternalKey(ik model.InternalKey) error
	// WriteInitialDocument (re)writes the InitialDocument for ik.
	WriteInitialDocument(ik model.InternalKey, doc *document.Document) error
	// RecordRejectedPatch appends a rejected-patch row (spec §6 logical
	// layout: rejected_patches(ik, source, patch_json, reason, ts)).
	RecordRejectedPatch(ik model.InternalKey, source model.SourceName, p patch.Patch, reason string) error

	// Commit makes every write in this transaction durable.
	Commit() error
	// Rollback discards every write in this transaction. Rollback after
	// Commit, or a second Rollback, is a no-op, mirroring memdb.Txn.Abort.
	Rollback()
}

// Store opens transactions against Retcon's persistent mapping.
type Store interface {
	// Begin opens a read-write transaction. The caller must Commit or
	// Rollback it.
	Begin(ctx context.Context) (ReadWriteTx, error)
	// BeginRead opens a read-only transaction.
	BeginRead(ctx context.Context) (ReadTx, error)
}

// RejectedPatchRecord is one row of the rejected_patches table
// (spec §6), surfaced for inspection/tests.
type RejectedPatchRecord struct {
	InternalKey model.InternalKey
	Source      model.SourceName
	Patch       patch.Patch
	Reason      string
}
