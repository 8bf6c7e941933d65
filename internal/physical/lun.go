// Package physical implements the in-memory resource model (Lun, Channel,
// Unit, Manager) that partitions and carves an OCSSD's channels and LUNs.
package physical

// Lun tracks one LUN's bump allocator. Blocks are never freed for the
// LUN's lifetime; callers must hold the owning Unit's mutex before calling
// any method here.
type Lun struct {
	ID          uint32
	TotalBlocks uint32
	UsedBlocks  uint32
}

// NewLun creates a Lun with the given total block count.
func NewLun(id, totalBlocks uint32) *Lun {
	return &Lun{ID: id, TotalBlocks: totalBlocks}
}

// Free returns the number of unallocated blocks.
func (l *Lun) Free() uint32 {
	return l.TotalBlocks - l.UsedBlocks
}

// AllocBlocks bumps the allocator by up to n blocks, returning the start
// offset and the count actually granted (which may be less than n, or
// zero, if the LUN is exhausted).
func (l *Lun) AllocBlocks(n uint32) (start, count uint32) {
	free := l.Free()
	count = n
	if count > free {
		count = free
	}
	start = l.UsedBlocks
	l.UsedBlocks += count
	return start, count
}
