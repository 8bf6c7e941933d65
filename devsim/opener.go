package devsim

import (
	"sync"

	"github.com/andiry/ocssd-broker/internal/interfaces"
)

// Opener is the no-hardware-required interfaces.Opener implementation:
// it hands out one simulated Device per distinct path, built with a
// fixed geometry, matching a single in-memory backend when no real
// device is available. The broker's real NVMe/OCSSD driver is out of
// scope (spec.md §1); this is what cmd/ocssd-brokerd opens by default.
type Opener struct {
	Geometry   interfaces.Geometry
	BlockBytes uint64
	Opts       []Option

	mu      sync.Mutex
	devices map[string]*Device
}

// NewOpener builds an Opener that simulates every scanned path with the
// same geometry and block size.
func NewOpener(geom interfaces.Geometry, blockBytes uint64, opts ...Option) *Opener {
	return &Opener{
		Geometry:   geom,
		BlockBytes: blockBytes,
		Opts:       opts,
		devices:    make(map[string]*Device),
	}
}

// Open returns the simulated Device for path, creating it on first use.
// Repeated Open calls for the same path return the same Device, so
// Manager startup and internal/conn's remote-materialization Opener
// lookups see consistent storage.
func (o *Opener) Open(path string) (interfaces.Device, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if d, ok := o.devices[path]; ok {
		return d, nil
	}
	d := New(o.Geometry, o.BlockBytes, o.Opts...)
	o.devices[path] = d
	return d, nil
}

var _ interfaces.Opener = (*Opener)(nil)
