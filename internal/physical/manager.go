package physical

import (
	"sync"

	"github.com/andiry/ocssd-broker/internal/persist"
	"github.com/andiry/ocssd-broker/internal/vssd"
)

// Manager holds every physical Unit on the node, routes allocation
// requests, and issues monotonic VSSD ids. Lock order is Manager -> Unit
// only, never the reverse: AllocOCSSDResource takes the Manager mutex
// once, then sequentially takes and releases each Unit's own mutex inside
// Unit.AllocChannels.
type Manager struct {
	IP string

	mu         sync.Mutex
	units      []*Unit
	nextVSSDID uint32
}

// NewManager creates an empty Manager for the given host IP.
func NewManager(ip string) *Manager {
	return &Manager{IP: ip, nextVSSDID: 1}
}

// AddUnit registers a Unit with the Manager in iteration order.
func (m *Manager) AddUnit(u *Unit) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.units = append(m.units, u)
}

// Units returns the registered units, in registration order.
func (m *Manager) Units() []*Unit {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Unit, len(m.units))
	copy(out, m.units)
	return out
}

// AllocOCSSDResource grants req across registered units, preferring units
// whose NumaID matches req.NumaID if any do, and iterating in registration
// order otherwise. It assigns the VSSD's id unconditionally, even when
// zero channels were granted, matching the original allocator.
func (m *Manager) AllocOCSSDResource(req AllocRequest) (vssd.VSSD, uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()

	candidates := m.unitsForNumaLocked(req.NumaID)

	var vUnits []vssd.VUnit
	var totalGranted uint32
	remaining := req.NumChannels

	for _, u := range candidates {
		if remaining == 0 {
			break
		}
		subReq := req
		subReq.NumChannels = remaining
		vu, granted := u.AllocChannels(subReq)
		if granted == 0 {
			continue
		}
		vUnits = append(vUnits, *vu)
		totalGranted += granted
		remaining -= granted
	}

	out := vssd.VSSD{ID: m.nextVSSDID, Units: vUnits}
	m.nextVSSDID++
	return out, totalGranted
}

// unitsForNumaLocked returns units matching numaID if any do, else every
// registered unit in registration order. Must be called with mu held.
func (m *Manager) unitsForNumaLocked(numaID uint32) []*Unit {
	var matched []*Unit
	for _, u := range m.units {
		if u.NumaID == numaID {
			matched = append(matched, u)
		}
	}
	if len(matched) > 0 {
		return matched
	}
	return m.units
}

// Persist is the persistence hook: the reference Manager behavior is a
// no-op, matching the original. Real persistence is provided by wiring a
// internal/persist implementation in the server and calling its Record
// method from the Connection dispatch path, not from here.
func (m *Manager) Persist() error {
	return nil
}

// Restore replays store's journaled grants, advancing each Unit's LUN
// cursors (and marking exclusive channels used) to reconstruct the
// bump-allocator state a prior process had handed out, and bumping
// nextVSSDID past every replayed id so restarted allocations never reuse
// one. A nil store (or one with an empty journal) leaves the Manager in
// its freshly-constructed state.
func (m *Manager) Restore(store persist.Store) error {
	if store == nil {
		return nil
	}
	grants, err := store.Load()
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	byDesc := make(map[string]*Unit, len(m.units))
	for _, u := range m.units {
		byDesc[u.Desc] = u
	}

	for _, g := range grants {
		if u, ok := byDesc[g.UnitDesc]; ok {
			u.ApplyGrant(g.Unit)
		}
		if g.VSSDID >= m.nextVSSDID {
			m.nextVSSDID = g.VSSDID + 1
		}
	}
	return nil
}
