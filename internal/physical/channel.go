package physical

import "github.com/andiry/ocssd-broker/internal/vssd"

// Mode distinguishes a channel's allocation granularity.
type Mode int

const (
	Shared Mode = iota
	Exclusive
)

// Channel is one of a Unit's parallel I/O paths. Exclusive channels ignore
// per-LUN accounting and flip Used once, atomically with respect to the
// owning Unit's mutex (Channel itself holds no lock of its own).
type Channel struct {
	ID           uint32
	BlocksPerLun uint32
	Mode         Mode
	Used         bool // exclusive channels only
	Luns         []*Lun
}

// NewChannel builds a channel with nluns LUNs, each with blocksPerLun
// total blocks.
func NewChannel(id uint32, nluns, blocksPerLun uint32, mode Mode) *Channel {
	luns := make([]*Lun, nluns)
	for i := uint32(0); i < nluns; i++ {
		luns[i] = NewLun(i, blocksPerLun)
	}
	return &Channel{ID: id, BlocksPerLun: blocksPerLun, Mode: mode, Luns: luns}
}

// TotalBlocks is nluns * blocksPerLun.
func (c *Channel) TotalBlocks() uint32 {
	return uint32(len(c.Luns)) * c.BlocksPerLun
}

// UsedBlocks sums used blocks across LUNs (shared-mode accounting only;
// meaningless for exclusive channels, which track Used as a single flag).
func (c *Channel) UsedBlocks() uint32 {
	var used uint32
	for _, l := range c.Luns {
		used += l.UsedBlocks
	}
	return used
}

// FreeBlocks is TotalBlocks - UsedBlocks for shared channels.
func (c *Channel) FreeBlocks() uint32 {
	return c.TotalBlocks() - c.UsedBlocks()
}

// AllocBlocks carves up to req blocks from this channel's LUNs, first-fit
// in LUN id order, and returns one VLun grant per LUN that yielded blocks.
func (c *Channel) AllocBlocks(req uint32) []vssd.VLun {
	var grants []vssd.VLun
	remaining := req

	for _, l := range c.Luns {
		if remaining == 0 {
			break
		}
		start, count := l.AllocBlocks(remaining)
		if count == 0 {
			continue
		}
		grants = append(grants, vssd.VLun{LunID: l.ID, BlockStart: start, NumBlocks: count})
		remaining -= count
	}

	return grants
}
