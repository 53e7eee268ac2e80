package store

import (
	"context"
	"testing"

	"github.com/kong/retcon/pkg/document"
	"github.com/kong/retcon/pkg/model"
	"github.com/kong/retcon/pkg/patch"
	"github.com/kong/retcon/pkg/rerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocateAndResolve(t *testing.T) {
	ctx := context.Background()
	s, err := NewMemStore()
	require.NoError(t, err)

	tx, err := s.Begin(ctx)
	require.NoError(t, err)

	ik, err := tx.AllocateInternalKey("customer")
	require.NoError(t, err)

	fk := model.ForeignKey{Entity: "customer", Source: "data", Key: "K1"}
	require.NoError(t, tx.RecordForeignKey(ik, fk))
	require.NoError(t, tx.Commit())

	readTx, err := s.BeginRead(ctx)
	require.NoError(t, err)
	resolved, ok, err := readTx.ResolveInternalKey(fk)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, ik, resolved)
}

func TestRecordForeignKeyConflict(t *testing.T) {
	ctx := context.Background()
	s, err := NewMemStore()
	require.NoError(t, err)

	tx, _ := s.Begin(ctx)
	ik1, _ := tx.AllocateInternalKey("customer")
	fk := model.ForeignKey{Entity: "customer", Source: "data", Key: "K1"}
	require.NoError(t, tx.RecordForeignKey(ik1, fk))
	require.NoError(t, tx.Commit())

	tx2, _ := s.Begin(ctx)
	ik2, _ := tx2.AllocateInternalKey("customer")
	err = tx2.RecordForeignKey(ik2, fk)
	require.Error(t, err)
	assert.ErrorIs(t, err, rerr.ErrAlreadyExists)
	tx2.Rollback()
}

func TestDeleteInternalKeyCascades(t *testing.T) {
	ctx := context.Background()
	s, err := NewMemStore()
	require.NoError(t, err)

	tx, _ := s.Begin(ctx)
	ik, _ := tx.AllocateInternalKey("customer")
	fk := model.ForeignKey{Entity: "customer", Source: "data", Key: "K1"}
	require.NoError(t, tx.RecordForeignKey(ik, fk))
	require.NoError(t, tx.WriteInitialDocument(ik, document.Empty().Set(document.Path{"name"}, "Alice")))
	require.NoError(t, tx.Commit())

	tx2, _ := s.Begin(ctx)
	require.NoError(t, tx2.DeleteInternalKey(ik))
	require.NoError(t, tx2.Commit())

	readTx, _ := s.BeginRead(ctx)
	_, ok, err := readTx.ResolveInternalKey(fk)
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = readTx.ReadInitialDocument(ik)
	require.NoError(t, err)
	assert.False(t, ok)

	fks, err := readTx.LookupForeignKeys(ik)
	require.NoError(t, err)
	assert.Empty(t, fks)
}

func TestRollbackDiscardsWrites(t *testing.T) {
	ctx := context.Background()
	s, err := NewMemStore()
	require.NoError(t, err)

	tx, _ := s.Begin(ctx)
	ik, _ := tx.AllocateInternalKey("customer")
	fk := model.ForeignKey{Entity: "customer", Source: "data", Key: "K1"}
	require.NoError(t, tx.RecordForeignKey(ik, fk))
	tx.Rollback()

	readTx, _ := s.BeginRead(ctx)
	_, ok, err := readTx.ResolveInternalKey(fk)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestWriteInitialDocumentRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := NewMemStore()
	require.NoError(t, err)

	tx, _ := s.Begin(ctx)
	ik, _ := tx.AllocateInternalKey("customer")
	doc := document.Empty().Set(document.Path{"name"}, "Alice")
	require.NoError(t, tx.WriteInitialDocument(ik, doc))
	require.NoError(t, tx.Commit())

	readTx, _ := s.BeginRead(ctx)
	got, ok, err := readTx.ReadInitialDocument(ik)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, doc.Equal(got))
}

func TestRecordRejectedPatch(t *testing.T) {
	ctx := context.Background()
	s, err := NewMemStore()
	require.NoError(t, err)

	tx, _ := s.Begin(ctx)
	ik, _ := tx.AllocateInternalKey("customer")
	p := patch.Patch{patch.Insert(document.Path{"name"}, "Al")}
	require.NoError(t, tx.RecordRejectedPatch(ik, "data", p, "conflicting update under reject-all"))
	require.NoError(t, tx.Commit())
}
