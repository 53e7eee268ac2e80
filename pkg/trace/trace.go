// Package trace implements Retcon's verbose-mode tracing (spec §4.7,
// C7): one structured record per reconciliation round, emitted to a
// Sink. Tracing is a side channel — the protocol's behavior never
// depends on whether a Sink is wired up (spec §4.7) — so the kernel
// always builds a trace.Round and simply discards it via a Noop Sink
// when verbose mode is off, rather than branching on whether tracing
// is enabled.
package trace

import (
	"github.com/kong/retcon/pkg/model"
)

// SourceStatus is the per-source outcome of one round's fetch step
// (spec §4.6 step 2, §4.7): "ok", "absent" (a foreign key existed but
// the read failed or timed out), or "unknown" (no foreign key was ever
// recorded for this source).
type SourceStatus string

const (
	StatusOK      SourceStatus = "ok"
	StatusAbsent  SourceStatus = "absent"
	StatusUnknown SourceStatus = "unknown"
)

// SourceTrace is one source's row in a round's trace record.
type SourceTrace struct {
	Source model.SourceName
	Status SourceStatus
	Reason string // populated when Status == StatusAbsent due to an error
}

// RejectedPatchTrace summarizes one rejected patch for the trace record
// without repeating the full patch contents.
type RejectedPatchTrace struct {
	Source model.SourceName
	Size   int // number of canonical operations in the rejected patch
	Reason string
}

// Round is the structured trace record spec §4.7 requires: "request,
// ik, list of sources with per-source status, sizes of initial/merged/
// each rejected patch, and the final commit outcome."
type Round struct {
	RoundID     string
	Request     string // e.g. "Update(customer/data/K1)"
	InternalKey string
	Sources     []SourceTrace
	InitialSize int
	MergedSize  int
	Rejected    []RejectedPatchTrace
	CommitOK    bool
	CommitErr   string
	Warnings    []string
	Diff        string // human-readable before/after rendering, see RenderDiff; empty if unchanged
}

// Sink receives completed Round records. Implementations must not
// block the kernel indefinitely; spec §5 names trace-channel writes as
// one of the four points that may suspend a round.
type Sink interface {
	Emit(r Round)
}

// NoopSink discards every record; it is the default when verbose mode
// is disabled.
type NoopSink struct{}

func (NoopSink) Emit(Round) {}

// CollectorSink accumulates every record it sees, for tests and
// operator tooling that want to inspect a batch of rounds after the
// fact rather than stream them.
type CollectorSink struct {
	Rounds []Round
}

func (c *CollectorSink) Emit(r Round) {
	c.Rounds = append(c.Rounds, r)
}
