// Package kernel implements the reconciliation protocol (spec §4.6,
// C6): the orchestrator that ties Document, Diff/Patch, MergePolicy,
// Store, and DataSource together into one request. It is Retcon's
// largest single component, the direct analogue of the teacher's
// top-level sync entrypoint (cmd/..., pkg/file.Syncer) that drives a
// diff/apply cycle against a Store and a set of CRUD adaptors — here
// generalized from "one Kong Admin API" to "N configured sources per
// entity".
package kernel

import (
	"context"
	"fmt"
	"sort"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"github.com/kong/retcon/pkg/crud"
	"github.com/kong/retcon/pkg/datasource"
	"github.com/kong/retcon/pkg/diff"
	"github.com/kong/retcon/pkg/document"
	"github.com/kong/retcon/pkg/mergepolicy"
	"github.com/kong/retcon/pkg/model"
	"github.com/kong/retcon/pkg/patch"
	"github.com/kong/retcon/pkg/rerr"
	"github.com/kong/retcon/pkg/store"
	"github.com/kong/retcon/pkg/trace"
)

// Request is one of the four operations a caller may ask the kernel to
// perform on an entity identified by a foreign key in one of its
// sources (spec §4.6).
type Request struct {
	Op crud.Op
	FK model.ForeignKey
}

func Create(fk model.ForeignKey) Request { return Request{Op: crud.Create, FK: fk} }
func Read(fk model.ForeignKey) Request   { return Request{Op: crud.Read, FK: fk} }
func Update(fk model.ForeignKey) Request { return Request{Op: crud.Update, FK: fk} }
func Delete(fk model.ForeignKey) Request { return Request{Op: crud.Delete, FK: fk} }

func (r Request) String() string { return fmt.Sprintf("%s(%s)", r.Op, r.FK) }

// EntityConfig is the per-entity wiring a Kernel needs to run the
// protocol: which sources are enabled, which policy arbitrates their
// conflicts, and how long to wait on each source before marking it
// absent (spec §5 "per-source deadline from configuration").
type EntityConfig struct {
	Sources   *datasource.Registry
	Policy    mergepolicy.Policy
	Deadline  time.Duration // applied to every source unless overridden below
	Deadlines map[model.SourceName]time.Duration
}

func (c *EntityConfig) deadlineFor(source model.SourceName) time.Duration {
	if d, ok := c.Deadlines[source]; ok {
		return d
	}
	if c.Deadline > 0 {
		return c.Deadline
	}
	return 10 * time.Second
}

// Kernel drives the reconciliation protocol of spec §4.6 against a
// Store and a set of per-entity DataSource registries. One Kernel value
// is shared across all requests; a given InternalKey is serialized by
// the store transaction's row lock (spec §5), not by anything in this
// type.
type Kernel struct {
	Store    store.Store
	Entities map[model.EntityName]*EntityConfig
	Sink     trace.Sink

	// MaxStoreAttempts bounds the exponential-backoff retry of a round
	// that fails with a retryable StoreError (spec §7 "retry the whole
	// round with exponential backoff up to a bounded number of
	// attempts"). Zero means 5.
	MaxStoreAttempts int
}

func (k *Kernel) sink() trace.Sink {
	if k.Sink == nil {
		return trace.NoopSink{}
	}
	return k.Sink
}

func (k *Kernel) maxAttempts() uint64 {
	if k.MaxStoreAttempts <= 0 {
		return 5
	}
	return uint64(k.MaxStoreAttempts)
}

func (k *Kernel) entityConfig(entity model.EntityName) (*EntityConfig, error) {
	cfg, ok := k.Entities[entity]
	if !ok {
		return nil, rerr.Config("entity %q is not configured", entity)
	}
	return cfg, nil
}

// Handle executes req. Read is a side-effect-free probe (spec §4.6);
// Create/Update/Delete run the full reconciliation protocol, retried
// with exponential backoff while the store reports a transient error
// (spec §7).
func (k *Kernel) Handle(ctx context.Context, req Request) (*document.Document, error) {
	cfg, err := k.entityConfig(req.FK.Entity)
	if err != nil {
		return nil, err
	}

	if req.Op == crud.Read {
		return k.handleRead(ctx, cfg, req)
	}

	var result *document.Document
	// WithMaxRetries counts retries after the first attempt.
	bo := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), k.maxAttempts()-1)
	err = backoff.Retry(func() error {
		doc, rErr := k.runRound(ctx, cfg, req)
		if rErr != nil {
			result = nil
			if rerr.IsRetryable(rErr) {
				return rErr
			}
			return backoff.Permanent(rErr)
		}
		result = doc
		return nil
	}, backoff.WithContext(bo, ctx))
	if err != nil {
		return nil, err
	}
	return result, nil
}

// handleRead reads straight from the named source without touching the
// store or running the protocol (spec §4.6: "Read is a side-effect-free
// probe used by operators").
func (k *Kernel) handleRead(ctx context.Context, cfg *EntityConfig, req Request) (*document.Document, error) {
	ds, err := cfg.Sources.Get(req.FK.Source)
	if err != nil {
		return nil, rerr.Config("read %s: %v", req.FK, err)
	}
	readCtx, cancel := context.WithTimeout(ctx, cfg.deadlineFor(req.FK.Source))
	defer cancel()
	doc, err := ds.Read(readCtx, req.FK)
	if err != nil {
		return nil, rerr.DataSource(fmt.Errorf("read %s: %w", req.FK, err))
	}
	return doc, nil
}

// fetchResult is one source's outcome from step 2 of the protocol.
type fetchResult struct {
	source model.SourceName
	fk     model.ForeignKey
	doc    *document.Document
	status trace.SourceStatus
	reason string
}

// runRound executes one pass of the protocol of spec §4.6 steps 1-8
// inside a single store transaction. It returns a RetconError (possibly
// retryable) on failure; callers retry at the Handle layer.
func (k *Kernel) runRound(ctx context.Context, cfg *EntityConfig, req Request) (*document.Document, error) {
	round := trace.Round{
		RoundID: uuid.NewString(),
		Request: req.String(),
	}

	tx, err := k.Store.Begin(ctx)
	if err != nil {
		return nil, rerr.Store(rerr.Retry, fmt.Errorf("opening transaction: %w", err))
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	// Step 1: resolve or allocate.
	ik, found, err := tx.ResolveInternalKey(req.FK)
	if err != nil {
		return nil, rerr.Store(rerr.Retry, err)
	}
	if !found {
		if req.Op == crud.Delete {
			if cErr := tx.Commit(); cErr != nil {
				return nil, rerr.Store(rerr.Retry, cErr)
			}
			committed = true
			round.CommitOK = true
			k.sink().Emit(round)
			return document.Empty(), nil
		}
		ik, err = tx.AllocateInternalKey(req.FK.Entity)
		if err != nil {
			return nil, rerr.Store(rerr.Retry, err)
		}
		if err := tx.RecordForeignKey(ik, req.FK); err != nil {
			return nil, rerr.Store(rerr.Abort, err)
		}
	}
	round.InternalKey = ik.String()

	foreignKeys, err := tx.LookupForeignKeys(ik)
	if err != nil {
		return nil, rerr.Store(rerr.Retry, err)
	}

	sources := lo.Uniq(cfg.Sources.Sources())
	sort.Slice(sources, func(i, j int) bool { return sources[i] < sources[j] })

	// Step 2: fetch all views, one goroutine per source, each bounded by
	// its own deadline (spec §5: "fetches of the n sources may be issued
	// in parallel").
	results := make([]fetchResult, len(sources))
	var g errgroup.Group
	for i, source := range sources {
		i, source := i, source
		fk, known := foreignKeys[source]
		if !known {
			results[i] = fetchResult{source: source, status: trace.StatusUnknown}
			continue
		}
		ds, err := cfg.Sources.Get(source)
		if err != nil {
			results[i] = fetchResult{source: source, fk: fk, status: trace.StatusAbsent, reason: err.Error()}
			continue
		}
		g.Go(func() error {
			readCtx, cancel := context.WithTimeout(ctx, cfg.deadlineFor(source))
			defer cancel()
			doc, err := ds.Read(readCtx, fk)
			if err != nil {
				results[i] = fetchResult{source: source, fk: fk, status: trace.StatusAbsent, reason: err.Error()}
				return nil
			}
			results[i] = fetchResult{source: source, fk: fk, doc: doc, status: trace.StatusOK}
			return nil
		})
	}
	_ = g.Wait() // every goroutine above always returns nil; errors are captured per-result

	for _, r := range results {
		round.Sources = append(round.Sources, trace.SourceTrace{Source: r.source, Status: r.status, Reason: r.reason})
	}

	// Step 3: load initial.
	initial, hasInitial, err := tx.ReadInitialDocument(ik)
	if err != nil {
		return nil, rerr.Store(rerr.Retry, err)
	}
	if !hasInitial {
		var fetched []*document.Document
		for _, r := range results {
			if r.status == trace.StatusOK {
				fetched = append(fetched, r.doc)
			}
		}
		initial = diff.CalculateInitialDocument(fetched)
	}
	round.InitialSize = len(initial.Paths())

	// Step 4: per-source diff.
	var sourcePatches []mergepolicy.SourcePatch
	for _, r := range results {
		if r.status == trace.StatusOK {
			sourcePatches = append(sourcePatches, mergepolicy.SourcePatch{Source: r.source, Patch: diff.Diff(initial, r.doc)})
		}
	}

	// Step 5: merge. A Delete request short-circuits the configured
	// policy and forces the whole document out of existence (spec §4.6:
	// "Delete short-circuits by forcing merged to delete the root of
	// initial").
	var merged patch.Patch
	var rejected []mergepolicy.Rejection
	if req.Op == crud.Delete {
		merged = deleteEverything(initial)
	} else {
		merged, rejected = cfg.Policy.Merge(initial, sourcePatches)
	}
	for _, rj := range rejected {
		round.Rejected = append(round.Rejected, trace.RejectedPatchTrace{Source: rj.Source, Size: 1, Reason: rj.Reason})
	}

	// Step 6: compute new agreed document.
	newInitial := diff.Apply(initial, merged)
	round.MergedSize = len(newInitial.Paths())
	if rendered, err := renderRoundDiff(initial, newInitial); err == nil {
		round.Diff = rendered
	}

	// Step 7: propagate to every enabled source.
	for _, source := range sources {
		ds, err := cfg.Sources.Get(source)
		if err != nil {
			continue
		}
		fk, known := foreignKeys[source]

		switch {
		case !known && !newInitial.IsEmpty():
			newFK, err := ds.Create(ctx, newInitial)
			if err != nil {
				round.Warnings = append(round.Warnings, (&crud.ActionError{Op: crud.Create, Source: source, Err: err}).Error())
				continue
			}
			if err := tx.RecordForeignKey(ik, newFK); err != nil {
				return nil, rerr.Store(rerr.Abort, err)
			}
		case newInitial.IsEmpty():
			if !known {
				continue
			}
			if err := ds.Delete(ctx, fk); err != nil {
				round.Warnings = append(round.Warnings, (&crud.ActionError{Op: crud.Delete, Source: source, FK: fk, Err: err}).Error())
				continue
			}
			if err := tx.DeleteForeignKey(fk); err != nil {
				return nil, rerr.Store(rerr.Abort, err)
			}
		default:
			if merged.IsEmpty() && req.Op != crud.Delete {
				// Nothing was actually agreed this round (e.g. every
				// source's patch was rejected); leave this source's
				// existing, divergent value alone rather than
				// overwriting it with the unchanged initial document.
				continue
			}
			newFK, err := ds.Update(ctx, fk, newInitial)
			if err != nil {
				round.Warnings = append(round.Warnings, (&crud.ActionError{Op: crud.Update, Source: source, FK: fk, Err: err}).Error())
				continue
			}
			if newFK != fk {
				if err := tx.DeleteForeignKey(fk); err != nil {
					return nil, rerr.Store(rerr.Abort, err)
				}
				if err := tx.RecordForeignKey(ik, newFK); err != nil {
					return nil, rerr.Store(rerr.Abort, err)
				}
			}
		}
	}

	// Step 8: persist.
	if newInitial.IsEmpty() {
		if err := tx.DeleteInternalKey(ik); err != nil {
			return nil, rerr.Store(rerr.Abort, err)
		}
	} else if err := tx.WriteInitialDocument(ik, newInitial); err != nil {
		return nil, rerr.Store(rerr.Abort, err)
	}
	for _, rj := range rejected {
		if err := tx.RecordRejectedPatch(ik, rj.Source, patch.Patch{rj.Change}, rj.Reason); err != nil {
			return nil, rerr.Store(rerr.Abort, err)
		}
	}

	if err := tx.Commit(); err != nil {
		round.CommitOK = false
		round.CommitErr = err.Error()
		k.sink().Emit(round)
		return nil, rerr.Store(rerr.Retry, err)
	}
	committed = true
	round.CommitOK = true
	k.sink().Emit(round)
	return newInitial, nil
}

// renderRoundDiff renders a human-readable before/after diff for a
// round's trace record (spec §4.7's trace record is silent on format,
// so this only decorates it; a failure to render never fails the
// round itself).
func renderRoundDiff(before, after *document.Document) (string, error) {
	beforeJSON, err := before.ToJSON(nil)
	if err != nil {
		return "", err
	}
	afterJSON, err := after.ToJSON(nil)
	if err != nil {
		return "", err
	}
	return trace.RenderDiff(beforeJSON, afterJSON)
}

// deleteEverything returns a canonical patch that deletes every path
// present in initial, the "delete the root" step a Delete request forces
// regardless of the configured merge policy.
func deleteEverything(initial *document.Document) patch.Patch {
	var changes patch.Patch
	for _, pv := range initial.Paths() {
		changes = append(changes, patch.Delete(pv.Path))
	}
	return patch.Canonical(changes)
}
