// Package interfaces provides internal interface definitions shared across
// the broker's packages, kept separate from the root package to avoid
// circular imports between it and the packages it wires together.
package interfaces

// Geometry describes a physical OCSSD device, captured once at Unit init
// and never mutated.
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

// Addr is a physical (channel, lun, block) address.
type Addr struct {
	Channel uint32
	Lun     uint32
	Block   uint32
}

// Vblk is an opaque handle to a virtual block: an aggregation of physical
// addresses the device back-end exposes as one erase/write/read target.
type Vblk interface{}

// Device is the capability the core requires of a physical OCSSD back-end.
// Device implementations return plain errors; callers log or propagate
// them as returned, without wrapping them as a DeviceError.
type Device interface {
	// Geometry returns the device's geometry, captured at Open.
	Geometry() Geometry

	// VblkAlloc aggregates the given physical addresses into one vblk.
	VblkAlloc(addrs []Addr) (Vblk, error)

	// VblkFree releases a vblk obtained from VblkAlloc.
	VblkFree(v Vblk) error

	// VblkSize returns the byte size of a vblk (all addresses combined).
	VblkSize(v Vblk) uint64

	// VblkErase erases the vblk.
	VblkErase(v Vblk) error

	// VblkWrite appends buf at the vblk's current write position and
	// returns the number of bytes written.
	VblkWrite(v Vblk, buf []byte) (int, error)

	// VblkPread reads into buf at the given offset and returns the number
	// of bytes read.
	VblkPread(v Vblk, buf []byte, off uint64) (int, error)

	// ChannelHealthy probes whether the given channel id is usable. Used
	// only by the physical model at Unit init; a channel that fails the
	// probe is excluded from both pools.
	ChannelHealthy(channelID uint32) bool

	// Close releases the device.
	Close() error
}

// Opener opens a Device at the given host path (e.g. "/dev/nvme0n1").
type Opener interface {
	Open(path string) (Device, error)
}

// Logger is the minimal logging surface packages outside internal/logging
// depend on, to avoid a hard import cycle on the concrete logger type.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Observer mirrors the root package's Observer so internal packages can
// depend on it without importing the root package.
type Observer interface {
	ObserveAlloc(latencyNs uint64, success bool)
	ObserveRead(bytes uint64, latencyNs uint64, success bool)
	ObserveWrite(bytes uint64, latencyNs uint64, success bool)
	ObserveErase(latencyNs uint64, success bool)
	ObserveReadyQueueDepth(depth uint32)
}

// NoOpObserver is a no-op Observer, useful when metrics aren't wired.
type NoOpObserver struct{}

func (NoOpObserver) ObserveAlloc(uint64, bool)         {}
func (NoOpObserver) ObserveRead(uint64, uint64, bool)  {}
func (NoOpObserver) ObserveWrite(uint64, uint64, bool) {}
func (NoOpObserver) ObserveErase(uint64, bool)         {}
func (NoOpObserver) ObserveReadyQueueDepth(uint32)     {}

var _ Observer = NoOpObserver{}
