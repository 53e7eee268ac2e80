// Package datasource defines the DataSource adaptor contract (spec
// §4.5, C5) and a Registry of adaptors keyed by SourceName, scoped to
// one EntityName, that the kernel drives during a round. Registry is
// adapted from the teacher's pkg/crud.Registry (its register/get
// shape, confirmed against pkg/crud/registry_test.go, since the
// teacher's registry.go itself wasn't retrieved into this pack),
// generalized from Kind-keyed CRUD actions to SourceName-keyed
// DataSource adaptors.
package datasource

import (
	"context"
	"fmt"
	"sync"

	"github.com/kong/retcon/pkg/document"
	"github.com/kong/retcon/pkg/model"
	"github.com/kong/retcon/pkg/rerr"
)

// DataSource is an adaptor for one (EntityName, SourceName) pair (spec
// §4.5). All errors returned are opaque to the kernel; it is the
// Registry/kernel layer's job to classify them as "unavailable" vs.
// "gone" when that distinction matters.
type DataSource interface {
	Create(ctx context.Context, doc *document.Document) (model.ForeignKey, error)
	Read(ctx context.Context, fk model.ForeignKey) (*document.Document, error)
	Update(ctx context.Context, fk model.ForeignKey, doc *document.Document) (model.ForeignKey, error)
	Delete(ctx context.Context, fk model.ForeignKey) error
}

// Registry holds the DataSource adaptors enabled for one entity, keyed
// by SourceName (spec §6 "entities { Entity1 { enabled = [...] } }").
type Registry struct {
	mu        sync.RWMutex
	adaptors  map[model.SourceName]DataSource
}

// Register binds source to a DataSource adaptor. It errors if source is
// empty, the adaptor is nil, or source is already registered.
func (r *Registry) Register(source model.SourceName, ds DataSource) error {
	if source == "" {
		return fmt.Errorf("datasource: source name must not be empty")
	}
	if ds == nil {
		return fmt.Errorf("datasource: adaptor for %s must not be nil", source)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.adaptors == nil {
		r.adaptors = map[model.SourceName]DataSource{}
	}
	if _, exists := r.adaptors[source]; exists {
		return fmt.Errorf("datasource: %s is already registered", source)
	}
	r.adaptors[source] = ds
	return nil
}

// MustRegister is Register, panicking on error. Used during startup
// wiring where a registration failure is a configuration bug.
func (r *Registry) MustRegister(source model.SourceName, ds DataSource) {
	if err := r.Register(source, ds); err != nil {
		panic(err)
	}
}

// Get returns the adaptor registered for source.
func (r *Registry) Get(source model.SourceName) (DataSource, error) {
	if source == "" {
		return nil, fmt.Errorf("datasource: source name must not be empty")
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	ds, ok := r.adaptors[source]
	if !ok {
		return nil, fmt.Errorf("datasource: no adaptor registered for %s: %w", source, rerr.ErrNotFound)
	}
	return ds, nil
}

// Sources returns every registered SourceName, in no particular order;
// callers that need determinism (the kernel does) sort it themselves.
func (r *Registry) Sources() []model.SourceName {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.SourceName, 0, len(r.adaptors))
	for s := range r.adaptors {
		out = append(out, s)
	}
	return out
}
