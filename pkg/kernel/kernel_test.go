package kernel_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kong/retcon/pkg/datasource"
	"github.com/kong/retcon/pkg/document"
	"github.com/kong/retcon/pkg/kernel"
	"github.com/kong/retcon/pkg/mergepolicy"
	"github.com/kong/retcon/pkg/model"
	"github.com/kong/retcon/pkg/store"
	"github.com/kong/retcon/pkg/trace"
)

// fakeSource is an in-memory DataSource double keyed by foreign-key
// text, standing in for the six end-to-end scenarios' "data" and
// "test-results" sources.
type fakeSource struct {
	mu sync.Mutex

	entity model.EntityName
	source model.SourceName

	docs        map[string]*document.Document
	createKey   string
	unavailable bool
}

func newFakeSource(entity model.EntityName, source model.SourceName) *fakeSource {
	return &fakeSource{entity: entity, source: source, docs: map[string]*document.Document{}}
}

func (f *fakeSource) Create(_ context.Context, doc *document.Document) (model.ForeignKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.unavailable {
		return model.ForeignKey{}, errors.New("source unavailable")
	}
	key := f.createKey
	if key == "" {
		key = "auto"
	}
	f.docs[key] = doc
	return model.ForeignKey{Entity: f.entity, Source: f.source, Key: key}, nil
}

func (f *fakeSource) Read(_ context.Context, fk model.ForeignKey) (*document.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.unavailable {
		return nil, errors.New("source unavailable")
	}
	doc, ok := f.docs[fk.Key]
	if !ok {
		return nil, errors.New("no such key")
	}
	return doc, nil
}

func (f *fakeSource) Update(_ context.Context, fk model.ForeignKey, doc *document.Document) (model.ForeignKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.unavailable {
		return model.ForeignKey{}, errors.New("source unavailable")
	}
	f.docs[fk.Key] = doc
	return fk, nil
}

func (f *fakeSource) Delete(_ context.Context, fk model.ForeignKey) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.unavailable {
		return errors.New("source unavailable")
	}
	delete(f.docs, fk.Key)
	return nil
}

func (f *fakeSource) get(key string) (*document.Document, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[key]
	return doc, ok
}

const customer model.EntityName = "customer"

func newTestKernel(t *testing.T, policy mergepolicy.Policy) (*kernel.Kernel, *fakeSource, *fakeSource, *trace.CollectorSink) {
	t.Helper()
	st, err := store.NewMemStore()
	require.NoError(t, err)

	data := newFakeSource(customer, "data")
	testResults := newFakeSource(customer, "test-results")
	var reg datasource.Registry
	reg.MustRegister("data", data)
	reg.MustRegister("test-results", testResults)

	var sink trace.CollectorSink
	k := &kernel.Kernel{
		Store: st,
		Entities: map[model.EntityName]*kernel.EntityConfig{
			customer: {Sources: &reg, Policy: policy, Deadline: 2 * time.Second},
		},
		Sink: &sink,
	}
	return k, data, testResults, &sink
}

func nameDoc(name string) *document.Document {
	return document.Empty().Set(document.Path{"name"}, name)
}

func fkData(key string) model.ForeignKey {
	return model.ForeignKey{Entity: customer, Source: "data", Key: key}
}

// scenario 1: first create.
func TestFirstCreate(t *testing.T) {
	k, data, testResults, _ := newTestKernel(t, mergepolicy.IgnoreConflicts{})
	data.docs["K1"] = nameDoc("Alice")
	testResults.createKey = "K1-prime"

	doc, err := k.Handle(context.Background(), kernel.Create(fkData("K1")))
	require.NoError(t, err)
	assert.True(t, doc.Equal(nameDoc("Alice")))

	trDoc, ok := testResults.get("K1-prime")
	require.True(t, ok)
	assert.True(t, trDoc.Equal(nameDoc("Alice")))
}

// scenario 2: convergent update.
func TestConvergentUpdate(t *testing.T) {
	k, data, testResults, _ := newTestKernel(t, mergepolicy.IgnoreConflicts{})
	data.docs["K1"] = nameDoc("Alice")
	testResults.createKey = "K1-prime"
	_, err := k.Handle(context.Background(), kernel.Create(fkData("K1")))
	require.NoError(t, err)

	data.docs["K1"] = nameDoc("Alice").Set(document.Path{"age"}, "30")
	doc, err := k.Handle(context.Background(), kernel.Update(fkData("K1")))
	require.NoError(t, err)

	want := nameDoc("Alice").Set(document.Path{"age"}, "30")
	assert.True(t, doc.Equal(want))
	trDoc, ok := testResults.get("K1-prime")
	require.True(t, ok)
	assert.True(t, trDoc.Equal(want))
}

// scenario 3: conflicting update, ignore-conflicts (test-results > data
// lexically, so test-results' value wins on both sides).
func TestConflictingUpdateIgnoreConflicts(t *testing.T) {
	k, data, testResults, _ := newTestKernel(t, mergepolicy.IgnoreConflicts{})
	data.docs["K1"] = nameDoc("Alice")
	testResults.createKey = "K1-prime"
	_, err := k.Handle(context.Background(), kernel.Create(fkData("K1")))
	require.NoError(t, err)

	data.docs["K1"] = nameDoc("Alicia")
	testResults.docs["K1-prime"] = nameDoc("Al")

	doc, err := k.Handle(context.Background(), kernel.Update(fkData("K1")))
	require.NoError(t, err)
	assert.True(t, doc.Equal(nameDoc("Al")))

	dataDoc, _ := data.get("K1")
	trDoc, _ := testResults.get("K1-prime")
	assert.True(t, dataDoc.Equal(nameDoc("Al")))
	assert.True(t, trDoc.Equal(nameDoc("Al")))
}

// scenario 4: conflicting update, reject-all.
func TestConflictingUpdateRejectAll(t *testing.T) {
	k, data, testResults, sink := newTestKernel(t, mergepolicy.RejectAll{})
	data.docs["K1"] = nameDoc("Alice")
	testResults.createKey = "K1-prime"
	_, err := k.Handle(context.Background(), kernel.Create(fkData("K1")))
	require.NoError(t, err)

	data.docs["K1"] = nameDoc("Alicia")
	testResults.docs["K1-prime"] = nameDoc("Al")

	doc, err := k.Handle(context.Background(), kernel.Update(fkData("K1")))
	require.NoError(t, err)
	assert.True(t, doc.Equal(nameDoc("Alice")), "stored initial must be unchanged by a fully-rejected round")

	dataDoc, _ := data.get("K1")
	trDoc, _ := testResults.get("K1-prime")
	assert.True(t, dataDoc.Equal(nameDoc("Alicia")), "data's own value is untouched by propagation")
	assert.True(t, trDoc.Equal(nameDoc("Al")), "test-results' own value is untouched by propagation")

	last := sink.Rounds[len(sink.Rounds)-1]
	assert.Len(t, last.Rejected, 2)
}

// scenario 5: delete propagation.
func TestDeletePropagation(t *testing.T) {
	k, data, testResults, _ := newTestKernel(t, mergepolicy.IgnoreConflicts{})
	data.docs["K1"] = nameDoc("Alice")
	testResults.createKey = "K1-prime"
	_, err := k.Handle(context.Background(), kernel.Create(fkData("K1")))
	require.NoError(t, err)

	_, err = k.Handle(context.Background(), kernel.Delete(fkData("K1")))
	require.NoError(t, err)

	_, ok := testResults.get("K1-prime")
	assert.False(t, ok, "test-results' record must be deleted")

	rtx, err := k.Store.BeginRead(context.Background())
	require.NoError(t, err)
	_, found, err := rtx.ResolveInternalKey(fkData("K1"))
	require.NoError(t, err)
	assert.False(t, found, "the internal key must be gone")
}

// scenario 6: absent source.
func TestAbsentSource(t *testing.T) {
	k, data, testResults, sink := newTestKernel(t, mergepolicy.IgnoreConflicts{})
	data.docs["K1"] = nameDoc("Alice")
	testResults.createKey = "K1-prime"
	_, err := k.Handle(context.Background(), kernel.Create(fkData("K1")))
	require.NoError(t, err)

	testResults.mu.Lock()
	testResults.unavailable = true
	testResults.mu.Unlock()

	data.docs["K1"] = nameDoc("Bob")
	doc, err := k.Handle(context.Background(), kernel.Update(fkData("K1")))
	require.NoError(t, err, "the round must succeed despite one absent source")
	assert.True(t, doc.Equal(nameDoc("Bob")))

	dataDoc, _ := data.get("K1")
	assert.True(t, dataDoc.Equal(nameDoc("Bob")))

	last := sink.Rounds[len(sink.Rounds)-1]
	var sawAbsent bool
	for _, s := range last.Sources {
		if s.Source == "test-results" {
			sawAbsent = s.Status == trace.StatusAbsent
		}
	}
	assert.True(t, sawAbsent, "test-results must be marked absent in the trace")
}

// Read is a side-effect-free probe: it must not allocate an internal
// key or touch the store.
func TestReadIsSideEffectFree(t *testing.T) {
	k, data, _, _ := newTestKernel(t, mergepolicy.IgnoreConflicts{})
	data.docs["K1"] = nameDoc("Alice")

	doc, err := k.Handle(context.Background(), kernel.Read(fkData("K1")))
	require.NoError(t, err)
	assert.True(t, doc.Equal(nameDoc("Alice")))

	rtx, err := k.Store.BeginRead(context.Background())
	require.NoError(t, err)
	_, found, err := rtx.ResolveInternalKey(fkData("K1"))
	require.NoError(t, err)
	assert.False(t, found, "Read must not allocate an internal key")
}
