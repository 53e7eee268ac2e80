// Package crud names the four request/adaptor verbs Retcon's kernel
// drives (spec §4.6, §4.5) and the per-source error type used to track
// adaptor failures through a round. Adapted from the teacher's
// pkg/crud.Op/ActionError: the same small closed enum of named
// operations plus a uniform wrapping error, generalized from Kong
// entity CRUD to DataSource CRUD against a ForeignKey.
package crud

import (
	"fmt"

	"github.com/kong/retcon/pkg/model"
)

// Op is one of the four request/adaptor operations Retcon recognizes.
type Op struct {
	name string
}

func (op Op) String() string { return op.name }

var (
	// Create is a constant representing create operations.
	Create = Op{"Create"}
	// Read is a constant representing the side-effect-free read request
	// (spec §4.6: "Read is a side-effect-free probe used by operators").
	Read = Op{"Read"}
	// Update is a constant representing update operations.
	Update = Op{"Update"}
	// Delete is a constant representing delete operations.
	Delete = Op{"Delete"}
)

// ActionError represents a DataSource adaptor failure for one source
// during one round (spec §4.5: "Errors are opaque to the kernel; it
// categorises them only as... unavailable... vs... the key is gone").
type ActionError struct {
	Op     Op
	Source model.SourceName
	FK     model.ForeignKey
	Err    error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("%s on source %s (%s) failed: %v", e.Op, e.Source, e.FK, e.Err)
}

func (e *ActionError) Unwrap() error { return e.Err }
