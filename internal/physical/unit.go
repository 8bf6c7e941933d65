package physical

import (
	"strings"
	"sync"

	"github.com/andiry/ocssd-broker/internal/interfaces"
	"github.com/andiry/ocssd-broker/internal/vssd"
)

// AllocRequest is the domain-level allocation request the Manager and Unit
// operate on, decoupled from the wire encoding in internal/wire.
type AllocRequest struct {
	NumChannels uint32
	NumBlocks   uint32
	Shared      bool
	NumaID      uint32
}

// Unit is one physical OCSSD device: its channels, partitioned into shared
// and exclusive pools at init, plus the geometry captured from the device
// adapter.
type Unit struct {
	IP       string
	DevPath  string
	Desc     string
	Geometry vssd.Geometry
	NumaID   uint32

	mu                sync.Mutex
	sharedChannels    []*Channel
	exclusiveChannels []*Channel
}

func toVSSDGeometry(g interfaces.Geometry) vssd.Geometry {
	return vssd.Geometry{
		NChannels:       g.NChannels,
		NLunsPerChannel: g.NLunsPerChannel,
		NPlanes:         g.NPlanes,
		NBlocksPerLun:   g.NBlocksPerLun,
		NPages:          g.NPages,
		NSectors:        g.NSectors,
		PageBytes:       g.PageBytes,
		SectorBytes:     g.SectorBytes,
		MetaBytes:       g.MetaBytes,
	}
}

// sanitizeDesc mirrors the original's unit description: ip concatenated
// with the device path, with path separators collapsed so it's usable as
// a directory-sink row key.
func sanitizeDesc(ip, devPath string) string {
	return strings.ReplaceAll(ip+devPath, "/", "_")
}

// NewUnit initializes a Unit from an opened device: captures geometry,
// builds channels [0, nchannels), and partitions the first sharedPoolSize
// channels into the shared pool (all of them, if nchannels < sharedPoolSize)
// with the remainder exclusive. A channel that fails dev.ChannelHealthy is
// excluded from both pools.
func NewUnit(ip, devPath string, numaID uint32, dev interfaces.Device, sharedPoolSize uint32) *Unit {
	geom := dev.Geometry()
	u := &Unit{
		IP:       ip,
		DevPath:  devPath,
		Desc:     sanitizeDesc(ip, devPath),
		Geometry: toVSSDGeometry(geom),
		NumaID:   numaID,
	}

	for chID := uint32(0); chID < uint32(geom.NChannels); chID++ {
		if !dev.ChannelHealthy(chID) {
			continue
		}
		mode := Exclusive
		if chID < sharedPoolSize || uint32(geom.NChannels) < sharedPoolSize {
			mode = Shared
		}
		ch := NewChannel(chID, uint32(geom.NLunsPerChannel), uint32(geom.NBlocksPerLun), mode)
		if mode == Shared {
			u.sharedChannels = append(u.sharedChannels, ch)
		} else {
			u.exclusiveChannels = append(u.exclusiveChannels, ch)
		}
	}

	return u
}

// AllocChannels grants channels to req under the Unit's mutex, dispatching
// on req.Shared. It returns a populated *vssd.VUnit and the number of
// channels actually granted (which may be fewer than requested, including
// zero).
func (u *Unit) AllocChannels(req AllocRequest) (*vssd.VUnit, uint32) {
	u.mu.Lock()
	defer u.mu.Unlock()

	var channels []vssd.VChannel
	if req.Shared {
		channels = u.allocSharedLocked(req)
	} else {
		channels = u.allocExclusiveLocked(req)
	}

	if len(channels) == 0 {
		return nil, 0
	}

	return &vssd.VUnit{
		DevName:  u.DevPath,
		Geometry: u.Geometry,
		Channels: channels,
	}, uint32(len(channels))
}

func (u *Unit) allocSharedLocked(req AllocRequest) []vssd.VChannel {
	if req.NumChannels == 0 {
		return nil
	}
	perChannelBlocks := req.NumBlocks / req.NumChannels

	var granted []vssd.VChannel
	for _, ch := range u.sharedChannels {
		if uint32(len(granted)) >= req.NumChannels {
			break
		}
		luns := ch.AllocBlocks(perChannelBlocks)
		if len(luns) == 0 {
			continue
		}
		var total uint32
		for _, l := range luns {
			total += l.NumBlocks
		}
		granted = append(granted, vssd.VChannel{
			ChannelID:   ch.ID,
			Shared:      1,
			TotalBlocks: total,
			NumLuns:     uint32(len(luns)),
			Luns:        luns,
		})
	}
	return granted
}

func (u *Unit) allocExclusiveLocked(req AllocRequest) []vssd.VChannel {
	var granted []vssd.VChannel
	for _, ch := range u.exclusiveChannels {
		if uint32(len(granted)) >= req.NumChannels {
			break
		}
		if ch.Used {
			continue
		}
		ch.Used = true
		granted = append(granted, vssd.VChannel{
			ChannelID:   ch.ID,
			Shared:      0,
			TotalBlocks: ch.TotalBlocks(),
			NumLuns:     uint32(len(ch.Luns)),
		})
	}
	return granted
}

// ApplyGrant restores one journaled VUnit's channel/LUN cursors into this
// Unit's live state: exclusive channels are marked used, and shared LUNs
// have their cursor advanced to the grant's high-water mark. Journaled
// grants may replay in any order, so each LUN's cursor only ever moves
// forward, never bumps again from wherever it happened to be.
func (u *Unit) ApplyGrant(vu vssd.VUnit) {
	u.mu.Lock()
	defer u.mu.Unlock()

	for _, vc := range vu.Channels {
		ch := u.findChannelLocked(vc.ChannelID)
		if ch == nil {
			continue
		}
		if vc.Shared == 0 {
			ch.Used = true
			continue
		}
		for _, vl := range vc.Luns {
			for _, l := range ch.Luns {
				if l.ID != vl.LunID {
					continue
				}
				if end := vl.BlockStart + vl.NumBlocks; end > l.UsedBlocks {
					l.UsedBlocks = end
				}
				break
			}
		}
	}
}

func (u *Unit) findChannelLocked(id uint32) *Channel {
	for _, ch := range u.sharedChannels {
		if ch.ID == id {
			return ch
		}
	}
	for _, ch := range u.exclusiveChannels {
		if ch.ID == id {
			return ch
		}
	}
	return nil
}

// Stats summarizes free-resource counts for directory publication.
type Stats struct {
	NumSharedChannelsWithFree    uint32
	NumExclusiveChannelsWithFree uint32
	FreeBlocks                   uint64
}

// GetStats computes the counts get_ocssd_stats describes: channels with
// free_blocks > 0 for shared mode, and unused exclusive channels; used
// exclusive channels contribute zero free blocks.
func (u *Unit) GetStats() Stats {
	u.mu.Lock()
	defer u.mu.Unlock()

	var s Stats
	for _, ch := range u.sharedChannels {
		free := ch.FreeBlocks()
		if free > 0 {
			s.NumSharedChannelsWithFree++
		}
		s.FreeBlocks += uint64(free)
	}
	for _, ch := range u.exclusiveChannels {
		if !ch.Used {
			s.NumExclusiveChannelsWithFree++
			s.FreeBlocks += uint64(ch.TotalBlocks())
		}
	}
	return s
}

// ChannelCounts returns (shared, exclusive) channel counts, for the
// partition-disjointness invariant check in tests.
func (u *Unit) ChannelCounts() (shared, exclusive int) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.sharedChannels), len(u.exclusiveChannels)
}
