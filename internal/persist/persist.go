// Package persist implements the persistence hook spec.md §6/§9
// describes as a capability: the connection layer records per-Unit
// grants keyed by VSSD id through Store.Record, and Manager.Restore
// replays them, so a restarted broker can
// reconstruct its bump-allocator cursors instead of re-serving blocks
// already handed to a client.
package persist

import "github.com/andiry/ocssd-broker/internal/vssd"

// Grant is one journaled allocation: the VUnit a Manager produced for a
// given VSSD id, against a specific Unit (identified by its Desc).
type Grant struct {
	VSSDID   uint32
	UnitDesc string
	Unit     vssd.VUnit
}

// Store is the persistence capability injected into a Manager.
type Store interface {
	// Record journals one grant. Called once per Unit contributing to an
	// AllocOCSSDResource call, after the reply has been queued.
	Record(g Grant) error

	// Load replays every journaled grant, in no particular order; the
	// caller reconstructs per-Unit LUN cursors from them.
	Load() ([]Grant, error)

	Close() error
}

// NoOp is the reference Store: Record/Load/Close do nothing, matching
// spec.md §6 ("the reference implementation is a no-op").
type NoOp struct{}

func (NoOp) Record(Grant) error       { return nil }
func (NoOp) Load() ([]Grant, error)   { return nil, nil }
func (NoOp) Close() error             { return nil }

var _ Store = NoOp{}
