// Package devsim provides an in-memory simulated OCSSD device adapter: a
// reference implementation of interfaces.Device for development and
// testing, with no real hardware dependency. It reuses the sharded-lock
// technique of a RAM-backed block device to allow parallel vblk I/O.
package devsim

import (
	"fmt"
	"sync"

	"github.com/andiry/ocssd-broker/internal/interfaces"
)

// ShardSize is the size of each per-LUN memory shard. Mirrors the
// sharded-locking granularity used for RAM-backed block devices: fine
// enough to let concurrent vblk I/O on different LUNs (or different
// regions of the same LUN) proceed without contending on a single lock.
const ShardSize = 64 * 1024

// Device is an in-memory simulated OCSSD. Geometry is fixed at
// construction; each (channel, lun) block storage is allocated on first
// use.
type Device struct {
	geom       interfaces.Geometry
	blockBytes uint64
	unhealthy  map[uint32]bool

	mu   sync.Mutex
	luns map[lunKey]*lunStorage
}

type lunKey struct {
	channel uint32
	lun     uint32
}

type lunStorage struct {
	data   []byte
	shards []sync.RWMutex
}

func newLunStorage(size uint64) *lunStorage {
	numShards := (size + ShardSize - 1) / ShardSize
	if numShards == 0 {
		numShards = 1
	}
	return &lunStorage{
		data:   make([]byte, size),
		shards: make([]sync.RWMutex, numShards),
	}
}

func (s *lunStorage) shardRange(off, length uint64) (start, end int) {
	start = int(off / ShardSize)
	end = int((off + length - 1) / ShardSize)
	if end >= len(s.shards) {
		end = len(s.shards) - 1
	}
	return start, end
}

func (s *lunStorage) readAt(p []byte, off uint64) int {
	if off >= uint64(len(s.data)) {
		return 0
	}
	available := uint64(len(s.data)) - off
	if uint64(len(p)) > available {
		p = p[:available]
	}
	start, end := s.shardRange(off, uint64(len(p)))
	for i := start; i <= end; i++ {
		s.shards[i].RLock()
	}
	n := copy(p, s.data[off:off+uint64(len(p))])
	for i := start; i <= end; i++ {
		s.shards[i].RUnlock()
	}
	return n
}

func (s *lunStorage) writeAt(p []byte, off uint64) int {
	if off >= uint64(len(s.data)) {
		return 0
	}
	available := uint64(len(s.data)) - off
	if uint64(len(p)) > available {
		p = p[:available]
	}
	start, end := s.shardRange(off, uint64(len(p)))
	for i := start; i <= end; i++ {
		s.shards[i].Lock()
	}
	n := copy(s.data[off:off+uint64(len(p))], p)
	for i := start; i <= end; i++ {
		s.shards[i].Unlock()
	}
	return n
}

func (s *lunStorage) erase(off, length uint64) {
	if off >= uint64(len(s.data)) || length == 0 {
		return
	}
	if length > uint64(len(s.data))-off {
		length = uint64(len(s.data)) - off
	}
	start, end := s.shardRange(off, length)
	for i := start; i <= end; i++ {
		s.shards[i].Lock()
	}
	clear(s.data[off : off+length])
	for i := start; i <= end; i++ {
		s.shards[i].Unlock()
	}
}

// Option configures a new Device.
type Option func(*Device)

// WithUnhealthyChannels marks the given channel ids as failing
// ChannelHealthy, simulating a device with degraded channels.
func WithUnhealthyChannels(ids ...uint32) Option {
	return func(d *Device) {
		for _, id := range ids {
			d.unhealthy[id] = true
		}
	}
}

// New creates a simulated device with the given geometry. blockBytes is
// the simulated byte size of one physical block (geometry's npages *
// page_bytes in a real device); callers choose it directly here to keep
// test fixtures small.
func New(geom interfaces.Geometry, blockBytes uint64, opts ...Option) *Device {
	d := &Device{
		geom:       geom,
		blockBytes: blockBytes,
		unhealthy:  make(map[uint32]bool),
		luns:       make(map[lunKey]*lunStorage),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Device) Geometry() interfaces.Geometry {
	return d.geom
}

func (d *Device) ChannelHealthy(channelID uint32) bool {
	return !d.unhealthy[channelID]
}

func (d *Device) storageFor(addr interfaces.Addr) *lunStorage {
	key := lunKey{channel: addr.Channel, lun: addr.Lun}

	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.luns[key]
	if !ok {
		s = newLunStorage(d.geom.NBlocksPerLun * d.blockBytes)
		d.luns[key] = s
	}
	return s
}

func (d *Device) Close() error {
	return nil
}

// vblk aggregates a set of physical addresses into one logical
// erase/write/read target, per spec.md §4.1/§4.6.
type vblk struct {
	addrs    []interfaces.Addr
	storages []*lunStorage
	writePos uint64
}

func (d *Device) VblkAlloc(addrs []interfaces.Addr) (interfaces.Vblk, error) {
	if len(addrs) == 0 {
		return nil, fmt.Errorf("devsim: VblkAlloc requires at least one address")
	}
	storages := make([]*lunStorage, len(addrs))
	for i, a := range addrs {
		storages[i] = d.storageFor(a)
	}
	return &vblk{addrs: addrs, storages: storages}, nil
}

func (d *Device) VblkFree(v interfaces.Vblk) error {
	return nil
}

func (d *Device) VblkSize(v interfaces.Vblk) uint64 {
	b, ok := v.(*vblk)
	if !ok {
		return 0
	}
	return uint64(len(b.addrs)) * d.blockBytes
}

func (d *Device) VblkErase(v interfaces.Vblk) error {
	b, ok := v.(*vblk)
	if !ok {
		return fmt.Errorf("devsim: not a vblk from this device")
	}
	for i, s := range b.storages {
		s.erase(uint64(b.addrs[i].Block)*d.blockBytes, d.blockBytes)
	}
	b.writePos = 0
	return nil
}

// VblkWrite appends buf at the vblk's current write position, spanning
// across the aggregated physical addresses in order, and returns the
// number of bytes written.
func (d *Device) VblkWrite(v interfaces.Vblk, buf []byte) (int, error) {
	b, ok := v.(*vblk)
	if !ok {
		return 0, fmt.Errorf("devsim: not a vblk from this device")
	}
	n := d.transfer(b, buf, b.writePos, true)
	b.writePos += uint64(n)
	return n, nil
}

// VblkPread reads into buf at the given offset and returns the number of
// bytes read.
func (d *Device) VblkPread(v interfaces.Vblk, buf []byte, off uint64) (int, error) {
	b, ok := v.(*vblk)
	if !ok {
		return 0, fmt.Errorf("devsim: not a vblk from this device")
	}
	return d.transfer(b, buf, off, false), nil
}

// transfer maps a logical [off, off+len(buf)) range in the vblk's
// concatenated address space onto the per-address block storage and
// performs a read or write, stopping at the vblk's total size.
func (d *Device) transfer(b *vblk, buf []byte, off uint64, write bool) int {
	total := 0
	remaining := buf

	for i := range b.addrs {
		blockStart := uint64(i) * d.blockBytes
		blockEnd := blockStart + d.blockBytes
		if off >= blockEnd {
			continue
		}
		if len(remaining) == 0 {
			break
		}

		localOff := uint64(0)
		if off > blockStart {
			localOff = off - blockStart
		}
		if localOff >= d.blockBytes {
			continue
		}

		chunk := remaining
		maxChunk := d.blockBytes - localOff
		if uint64(len(chunk)) > maxChunk {
			chunk = chunk[:maxChunk]
		}

		base := uint64(b.addrs[i].Block) * d.blockBytes
		var n int
		if write {
			n = b.storages[i].writeAt(chunk, base+localOff)
		} else {
			n = b.storages[i].readAt(chunk, base+localOff)
		}

		total += n
		remaining = remaining[n:]
		off += uint64(n)

		if n < len(chunk) {
			break
		}
	}

	return total
}

var _ interfaces.Device = (*Device)(nil)
