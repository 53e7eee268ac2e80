// Package rerr defines Retcon's error taxonomy (spec §7): a small set of
// typed, wrapped errors that the kernel and its collaborators return
// instead of bare fmt.Errorf, in the style of the teacher's
// pkg/state/utils.go sentinels (ErrNotFound, ErrAlreadyExists).
package rerr

import (
	"errors"
	"fmt"
)

// Kind classifies a RetconError into the taxonomy of spec §7.
type Kind string

const (
	// KindConfig is a malformed or missing configuration. Fatal at startup.
	KindConfig Kind = "config"
	// KindStore is an error from the persistent Store.
	KindStore Kind = "store"
	// KindDataSource is a per-call DataSource failure, non-fatal to the round.
	KindDataSource Kind = "data_source"
	// KindDocument is malformed JSON / unsupported array / non-UTF-8 input.
	KindDocument Kind = "document"
	// KindMerge is an invariant violation inside a MergePolicy (should be unreachable).
	KindMerge Kind = "merge"
	// KindInternal wraps unexpected host-level failures.
	KindInternal Kind = "internal"
)

// Disposition says whether a StoreError round should be retried.
type Disposition string

const (
	// Retry means the whole reconciliation round should be retried with backoff.
	Retry Disposition = "retry"
	// Abort means the error is permanent and the request fails.
	Abort Disposition = "abort"
)

// RetconError is the uniform error type surfaced by kernel operations.
type RetconError struct {
	Kind        Kind
	Disposition Disposition // only meaningful for KindStore
	Err         error
}

func (e *RetconError) Error() string {
	if e.Disposition != "" {
		return fmt.Sprintf("%s (%s): %v", e.Kind, e.Disposition, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *RetconError) Unwrap() error { return e.Err }

// Is reports equality at the Kind level, so
// errors.Is(err, &RetconError{Kind: KindDocument}) matches any
// RetconError of that kind.
func (e *RetconError) Is(target error) bool {
	other, ok := target.(*RetconError)
	if !ok {
		return false
	}
	return e.Kind == other.Kind
}

func newError(kind Kind, err error) *RetconError {
	return &RetconError{Kind: kind, Err: err}
}

// Config wraps err as a KindConfig RetconError.
func Config(format string, a ...any) *RetconError {
	return newError(KindConfig, fmt.Errorf(format, a...))
}

// Store wraps err as a KindStore RetconError with the given retry disposition.
func Store(disposition Disposition, err error) *RetconError {
	return &RetconError{Kind: KindStore, Disposition: disposition, Err: err}
}

// DataSource wraps err as a KindDataSource RetconError.
func DataSource(err error) *RetconError {
	return newError(KindDataSource, err)
}

// Document wraps err as a KindDocument RetconError.
func Document(format string, a ...any) *RetconError {
	return newError(KindDocument, fmt.Errorf(format, a...))
}

// Merge wraps err as a KindMerge RetconError.
func Merge(format string, a ...any) *RetconError {
	return newError(KindMerge, fmt.Errorf(format, a...))
}

// Internal wraps err as a KindInternal RetconError.
func Internal(err error) *RetconError {
	return newError(KindInternal, err)
}

// IsKind reports whether err is a RetconError of the given kind.
func IsKind(err error, kind Kind) bool {
	var re *RetconError
	if !errors.As(err, &re) {
		return false
	}
	return re.Kind == kind
}

// IsRetryable reports whether err is a KindStore RetconError whose
// disposition is Retry.
func IsRetryable(err error) bool {
	var re *RetconError
	if !errors.As(err, &re) {
		return false
	}
	return re.Kind == KindStore && re.Disposition == Retry
}

// ErrMalformedDocument is returned (wrapped in a KindDocument RetconError)
// when a document contains an array, which spec §3 explicitly disallows.
var ErrMalformedDocument = errors.New("malformed document: arrays are not supported")

// ErrNotFound is wrapped by lookups that find nothing, such as
// datasource.Registry.Get; it is not itself a RetconError kind because
// callers decide, per call site, whether "not found" is an error at
// all. Store lookups do not return it: ResolveInternalKey and
// ReadInitialDocument report a miss through their boolean result.
var ErrNotFound = errors.New("not found")

// ErrAlreadyExists is returned when recording a foreign key that is
// already bound to a different internal key (spec §4.4).
var ErrAlreadyExists = errors.New("already exists")
