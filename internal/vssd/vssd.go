// Package vssd defines the wire-visible virtual-SSD value tree and its
// exact little-endian binary codec.
package vssd

// Geometry mirrors interfaces.Geometry on the wire, kept as a separate
// type so this package has no dependency on the device adapter interface.
type Geometry struct {
	NChannels       uint64
	NLunsPerChannel uint64
	NPlanes         uint64
	NBlocksPerLun   uint64
	NPages          uint64
	NSectors        uint64
	PageBytes       uint64
	SectorBytes     uint64
	MetaBytes       uint64
}

// VLun is a carved allocation within one LUN.
type VLun struct {
	LunID      uint32
	BlockStart uint32
	NumBlocks  uint32
}

// VChannel is a carved allocation within one channel. On the wire, Luns is
// empty when Shared==0: the consumer infers all LUNs, all blocks.
type VChannel struct {
	ChannelID   uint32
	Shared      uint32
	TotalBlocks uint32
	NumLuns     uint32
	Luns        []VLun
}

// VUnit is a carved allocation within one physical Unit.
type VUnit struct {
	DevName  string
	Geometry Geometry
	Channels []VChannel
}

// VSSD is the full carved virtual SSD granted to one client.
type VSSD struct {
	ID    uint32
	Units []VUnit
}
