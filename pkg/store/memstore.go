package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	memdb "github.com/hashicorp/go-memdb"

	"github.com/kong/retcon/pkg/document"
	"github.com/kong/retcon/pkg/model"
	"github.com/kong/retcon/pkg/patch"
	"github.com/kong/retcon/pkg/rerr"
)

const (
	internalKeyTable    = "internal_key"
	foreignKeyTable     = "foreign_key"
	initialDocTable     = "initial_document"
	rejectedPatchTable  = "rejected_patch"
	idxID               = "id"
	idxIKSource         = "ik_source"
	idxEntitySourceFK   = "entity_source_fk"
)

type internalKeyRow struct {
	Key    string // InternalKey.String(), primary key
	Entity string
	Seq    uint64
}

type foreignKeyRow struct {
	IK     string // owning InternalKey.String()
	Entity string
	Source string
	FK     string
}

func (r *foreignKeyRow) ikSource() string       { return r.IK + "\x00" + r.Source }
func (r *foreignKeyRow) entitySourceFK() string { return r.Entity + "\x00" + r.Source + "\x00" + r.FK }

type initialDocRow struct {
	IK      string
	DocJSON []byte
}

type rejectedPatchRow struct {
	ID        string
	IK        string
	Source    string
	PatchJSON []byte
	Reason    string
	Timestamp time.Time
}

var schema = &memdb.DBSchema{
	Tables: map[string]*memdb.TableSchema{
		internalKeyTable: {
			Name: internalKeyTable,
			Indexes: map[string]*memdb.IndexSchema{
				idxID: {
					Name:    idxID,
					Unique:  true,
					Indexer: &memdb.StringFieldIndex{Field: "Key"},
				},
			},
		},
		foreignKeyTable: {
			Name: foreignKeyTable,
			Indexes: map[string]*memdb.IndexSchema{
				idxID: {
					Name:    idxID,
					Unique:  true,
					Indexer: &memdb.CompoundIndex{Indexes: []memdb.Indexer{
						&memdb.StringFieldIndex{Field: "IK"},
						&memdb.StringFieldIndex{Field: "Source"},
					}},
				},
				idxEntitySourceFK: {
					Name:   idxEntitySourceFK,
					Unique: true,
					Indexer: &memdb.CompoundIndex{Indexes: []memdb.Indexer{
						&memdb.StringFieldIndex{Field: "Entity"},
						&memdb.StringFieldIndex{Field: "Source"},
						&memdb.StringFieldIndex{Field: "FK"},
					}},
				},
				idxIKSource: {
					Name:    idxIKSource,
					Unique:  false,
					Indexer: &memdb.StringFieldIndex{Field: "IK"},
				},
			},
		},
		initialDocTable: {
			Name: initialDocTable,
			Indexes: map[string]*memdb.IndexSchema{
				idxID: {
					Name:    idxID,
					Unique:  true,
					Indexer: &memdb.StringFieldIndex{Field: "IK"},
				},
			},
		},
		rejectedPatchTable: {
			Name: rejectedPatchTable,
			Indexes: map[string]*memdb.IndexSchema{
				idxID: {
					Name:    idxID,
					Unique:  true,
					Indexer: &memdb.StringFieldIndex{Field: "ID"},
				},
				idxIKSource: {
					Name:    idxIKSource,
					Unique:  false,
					Indexer: &memdb.StringFieldIndex{Field: "IK"},
				},
			},
		},
	},
}

// MemStore is an in-memory, memdb-backed reference implementation of
// Store, modelled on the teacher's pkg/state.KongState (spec §4.4 names
// the interface "but not its SQL" — this supplies a runnable one).
type MemStore struct {
	db  *memdb.MemDB
	seq atomic.Uint64
}

// NewMemStore constructs an empty MemStore.
func NewMemStore() (*MemStore, error) {
	db, err := memdb.NewMemDB(schema)
	if err != nil {
		return nil, rerr.Internal(fmt.Errorf("creating store: %w", err))
	}
	return &MemStore{db: db}, nil
}

func (s *MemStore) Begin(_ context.Context) (ReadWriteTx, error) {
	return &memTx{store: s, txn: s.db.Txn(true), write: true}, nil
}

func (s *MemStore) BeginRead(_ context.Context) (ReadTx, error) {
	return &memTx{store: s, txn: s.db.Txn(false), write: false}, nil
}

// memTx implements both ReadTx and ReadWriteTx; the static type handed
// out by BeginRead is the narrower ReadTx interface, so a data-source
// adaptor holding that value has no way to reach the write methods
// below even though the concrete type underneath supports them.
type memTx struct {
	store *MemStore
	txn   *memdb.Txn
	write bool
	done  bool
}

func (t *memTx) ResolveInternalKey(fk model.ForeignKey) (model.InternalKey, bool, error) {
	raw, err := t.txn.First(foreignKeyTable, idxEntitySourceFK, string(fk.Entity), string(fk.Source), fk.Key)
	if err != nil {
		return model.InternalKey{}, false, rerr.Store(rerr.Abort, err)
	}
	if raw == nil {
		return model.InternalKey{}, false, nil
	}
	row := raw.(*foreignKeyRow)
	ikRaw, err := t.txn.First(internalKeyTable, idxID, row.IK)
	if err != nil {
		return model.InternalKey{}, false, rerr.Store(rerr.Abort, err)
	}
	if ikRaw == nil {
		return model.InternalKey{}, false, rerr.Internal(fmt.Errorf("dangling foreign key row for %s", row.IK))
	}
	ikRow := ikRaw.(*internalKeyRow)
	return model.InternalKey{Entity: model.EntityName(ikRow.Entity), ID: ikRow.Seq}, true, nil
}

func (t *memTx) LookupForeignKeys(ik model.InternalKey) (map[model.SourceName]model.ForeignKey, error) {
	it, err := t.txn.Get(foreignKeyTable, idxIKSource, ik.String())
	if err != nil {
		return nil, rerr.Store(rerr.Abort, err)
	}
	out := map[model.SourceName]model.ForeignKey{}
	for raw := it.Next(); raw != nil; raw = it.Next() {
		row := raw.(*foreignKeyRow)
		out[model.SourceName(row.Source)] = model.ForeignKey{
			Entity: model.EntityName(row.Entity),
			Source: model.SourceName(row.Source),
			Key:    row.FK,
		}
	}
	return out, nil
}

func (t *memTx) ReadInitialDocument(ik model.InternalKey) (*document.Document, bool, error) {
	raw, err := t.txn.First(initialDocTable, idxID, ik.String())
	if err != nil {
		return nil, false, rerr.Store(rerr.Abort, err)
	}
	if raw == nil {
		return nil, false, nil
	}
	row := raw.(*initialDocRow)
	doc, err := document.FromJSON(row.DocJSON)
	if err != nil {
		return nil, false, rerr.Internal(fmt.Errorf("decoding stored initial document for %s: %w", ik, err))
	}
	return doc, true, nil
}

func (t *memTx) requireWrite() error {
	if !t.write {
		return rerr.Internal(fmt.Errorf("write attempted on a read-only store transaction"))
	}
	return nil
}

func (t *memTx) AllocateInternalKey(entity model.EntityName) (model.InternalKey, error) {
	if err := t.requireWrite(); err != nil {
		return model.InternalKey{}, err
	}
	ik := model.InternalKey{Entity: entity, ID: t.store.seq.Add(1)}
	if err := t.txn.Insert(internalKeyTable, &internalKeyRow{
		Key:    ik.String(),
		Entity: string(entity),
		Seq:    ik.ID,
	}); err != nil {
		return model.InternalKey{}, rerr.Store(rerr.Abort, err)
	}
	return ik, nil
}

func (t *memTx) RecordForeignKey(ik model.InternalKey, fk model.ForeignKey) error {
	if err := t.requireWrite(); err != nil {
		return err
	}
	existingIK, ok, err := t.ResolveInternalKey(fk)
	if err != nil {
		return err
	}
	if ok && existingIK != ik {
		return rerr.Store(rerr.Abort, fmt.Errorf("%w: foreign key %s already bound to %s", rerr.ErrAlreadyExists, fk, existingIK))
	}

	row := &foreignKeyRow{
		IK:     ik.String(),
		Entity: string(fk.Entity),
		Source: string(fk.Source),
		FK:     fk.Key,
	}
	if err := t.txn.Insert(foreignKeyTable, row); err != nil {
		return rerr.Store(rerr.Abort, err)
	}
	return nil
}

func (t *memTx) DeleteForeignKey(fk model.ForeignKey) error {
	if err := t.requireWrite(); err != nil {
		return err
	}
	raw, err := t.txn.First(foreignKeyTable, idxEntitySourceFK, string(fk.Entity), string(fk.Source), fk.Key)
	if err != nil {
		return rerr.Store(rerr.Abort, err)
	}
	if raw == nil {
		return nil
	}
	if err := t.txn.Delete(foreignKeyTable, raw); err != nil {
		return rerr.Store(rerr.Abort, err)
	}
	return nil
}

func (t *memTx) DeleteInternalKey(ik model.InternalKey) error {
	if err := t.requireWrite(); err != nil {
		return err
	}
	it, err := t.txn.Get(foreignKeyTable, idxIKSource, ik.String())
	if err != nil {
		return rerr.Store(rerr.Abort, err)
	}
	var rows []any
	for raw := it.Next(); raw != nil; raw = it.Next() {
		rows = append(rows, raw)
	}
	for _, raw := range rows {
		if err := t.txn.Delete(foreignKeyTable, raw); err != nil {
			return rerr.Store(rerr.Abort, err)
		}
	}

	if raw, err := t.txn.First(initialDocTable, idxID, ik.String()); err != nil {
		return rerr.Store(rerr.Abort, err)
	} else if raw != nil {
		if err := t.txn.Delete(initialDocTable, raw); err != nil {
			return rerr.Store(rerr.Abort, err)
		}
	}

	if raw, err := t.txn.First(internalKeyTable, idxID, ik.String()); err != nil {
		return rerr.Store(rerr.Abort, err)
	} else if raw != nil {
		if err := t.txn.Delete(internalKeyTable, raw); err != nil {
			return rerr.Store(rerr.Abort, err)
		}
	}
	return nil
}

func (t *memTx) WriteInitialDocument(ik model.InternalKey, doc *document.Document) error {
	if err := t.requireWrite(); err != nil {
		return err
	}
	raw, err := doc.ToJSON(nil)
	if err != nil {
		return rerr.Internal(fmt.Errorf("encoding initial document for %s: %w", ik, err))
	}
	if err := t.txn.Insert(initialDocTable, &initialDocRow{IK: ik.String(), DocJSON: raw}); err != nil {
		return rerr.Store(rerr.Abort, err)
	}
	return nil
}

func (t *memTx) RecordRejectedPatch(ik model.InternalKey, source model.SourceName, p patch.Patch, reason string) error {
	if err := t.requireWrite(); err != nil {
		return err
	}
	raw, err := json.Marshal(patch.Canonical(p))
	if err != nil {
		return rerr.Internal(fmt.Errorf("encoding rejected patch for %s/%s: %w", ik, source, err))
	}
	row := &rejectedPatchRow{
		ID:        fmt.Sprintf("%s-%s-%d", ik, source, time.Now().UnixNano()),
		IK:        ik.String(),
		Source:    string(source),
		PatchJSON: raw,
		Reason:    reason,
		Timestamp: time.Now(),
	}
	if err := t.txn.Insert(rejectedPatchTable, row); err != nil {
		return rerr.Store(rerr.Abort, err)
	}
	return nil
}

func (t *memTx) Commit() error {
	if t.done {
		return nil
	}
	t.done = true
	t.txn.Commit()
	return nil
}

func (t *memTx) Rollback() {
	if t.done {
		return
	}
	t.done = true
	t.txn.Abort()
}
