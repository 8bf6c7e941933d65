// Package conn implements the per-connection state machine: command
// framing, alloc/read/write/erase dispatch, remote vblk materialization,
// and the write queue a reactor worker drains on each readiness event.
package conn

import (
	"fmt"
	"io"
	"syscall"
	"time"

	"github.com/andiry/ocssd-broker/internal/constants"
	"github.com/andiry/ocssd-broker/internal/directory"
	"github.com/andiry/ocssd-broker/internal/interfaces"
	"github.com/andiry/ocssd-broker/internal/persist"
	"github.com/andiry/ocssd-broker/internal/physical"
	"github.com/andiry/ocssd-broker/internal/queue"
	"github.com/andiry/ocssd-broker/internal/reactor"
	"github.com/andiry/ocssd-broker/internal/vssd"
	"github.com/andiry/ocssd-broker/internal/wire"
)

// State is the connection's position in the command/write-payload cycle
// described in spec.md §4.5.
type State int

const (
	StateReceivingCommand State = iota
	StateDispatching
	StateReceivingWritePayload
	StateClosed
)

type writeChunk struct {
	buf    []byte
	off    int
	pooled bool
}

// Config bundles the collaborators a Connection needs but doesn't own.
type Config struct {
	Manager   *physical.Manager
	Opener    interfaces.Opener
	Directory directory.Publisher
	Persist   persist.Store
	Logger    interfaces.Logger
	Observer  interfaces.Observer

	// SelfTestVblks runs an erase+write+read probe on every materialized
	// vblk, dropping any that fail, per spec.md §4.6 step 4 (optional).
	SelfTestVblks bool

	// SendIOStatus enqueues a one-byte status reply after write/erase,
	// the optional wire status spec.md §9 allows. Default off matches
	// the baseline "no reply" behavior.
	SendIOStatus bool
}

// Connection is one client session: a raw, non-blocking socket fd plus
// the framing/dispatch state machine layered over it. It is touched by
// at most one reactor worker at a time (one-shot readiness rearm
// guarantees this), so it carries no internal mutex.
type Connection struct {
	fd     int
	peerIP string
	cfg    Config

	state  State
	cmdBuf [wire.FrameSize]byte
	filled int

	writeq []writeChunk

	remote           bool
	device           interfaces.Device
	vblks            []interfaces.Vblk
	vblkSize         uint64
	pendingWriteVblk interfaces.Vblk
	writePayload     []byte
	writeFilled      int
}

// New wraps an accepted, already-non-blocking fd in a Connection.
func New(fd int, peerIP string, cfg Config) *Connection {
	return &Connection{fd: fd, peerIP: peerIP, cfg: cfg}
}

func (c *Connection) FD() int { return c.fd }

func (c *Connection) PeerIP() string { return c.peerIP }

// Process drains the socket until EAGAIN, running whatever state
// transitions the delivered bytes trigger, then drains the write queue
// if the connection is writable. It satisfies reactor.Handle.
func (c *Connection) Process(ev reactor.Event) (wantWrite bool, closed bool) {
	if c.state == StateClosed {
		return false, true
	}

	if ev.Readable {
		if err := c.drainReads(); err != nil {
			c.fail("read", err)
			return false, true
		}
	}

	if c.state != StateClosed && ev.Writable {
		if err := c.drainWrites(); err != nil {
			c.fail("write", err)
			return false, true
		}
	}

	if c.state == StateClosed {
		return false, true
	}
	return len(c.writeq) > 0, false
}

func (c *Connection) drainReads() error {
	buf := make([]byte, constants.ConnReadBufferSize)
	for {
		n, err := syscall.Read(c.fd, buf)
		if err != nil {
			if err == syscall.EAGAIN || err == syscall.EWOULDBLOCK {
				return nil
			}
			if err == syscall.EINTR {
				continue
			}
			return err
		}
		if n == 0 {
			return io.EOF
		}
		if err := c.feed(buf[:n]); err != nil {
			return err
		}
	}
}

func (c *Connection) drainWrites() error {
	for len(c.writeq) > 0 {
		chunk := &c.writeq[0]
		n, err := syscall.Write(c.fd, chunk.buf[chunk.off:])
		if err != nil {
			if err == syscall.EAGAIN || err == syscall.EWOULDBLOCK {
				return nil
			}
			if err == syscall.EINTR {
				continue
			}
			return err
		}
		chunk.off += n
		if chunk.off >= len(chunk.buf) {
			if chunk.pooled {
				queue.PutBuffer(chunk.buf)
			}
			c.writeq = c.writeq[1:]
		}
	}
	return nil
}

func (c *Connection) enqueueWrite(buf []byte) {
	if len(buf) == 0 {
		return
	}
	c.writeq = append(c.writeq, writeChunk{buf: buf})
}

// enqueuePooledWrite is like enqueueWrite but marks buf as borrowed from
// internal/queue's buffer pool, so drainWrites returns it once fully
// flushed instead of letting it fall to the garbage collector.
func (c *Connection) enqueuePooledWrite(buf []byte) {
	if len(buf) == 0 {
		queue.PutBuffer(buf)
		return
	}
	c.writeq = append(c.writeq, writeChunk{buf: buf, pooled: true})
}

// feed consumes bytes according to the current state, accumulating a
// full command frame or write payload across however many readiness
// events it takes to arrive.
func (c *Connection) feed(data []byte) error {
	for len(data) > 0 {
		switch c.state {
		case StateReceivingCommand:
			n := copy(c.cmdBuf[c.filled:], data)
			c.filled += n
			data = data[n:]
			if c.filled == wire.FrameSize {
				frame := c.cmdBuf
				c.filled = 0
				c.state = StateDispatching
				if err := c.dispatch(frame[:]); err != nil {
					return err
				}
				if c.state == StateDispatching {
					c.state = StateReceivingCommand
				}
			}

		case StateReceivingWritePayload:
			n := copy(c.writePayload[c.writeFilled:], data)
			c.writeFilled += n
			data = data[n:]
			if c.writeFilled == len(c.writePayload) {
				if err := c.completeWrite(); err != nil {
					return err
				}
			}

		case StateClosed:
			return nil

		default:
			return fmt.Errorf("conn: unexpected state %d", c.state)
		}
	}
	return nil
}

func (c *Connection) dispatch(frame []byte) error {
	decoded, err := wire.DecodeFrame(frame)
	if err != nil {
		return err
	}
	switch req := decoded.(type) {
	case *wire.AllocRequest:
		return c.handleAlloc(req)
	case *wire.IORequest:
		return c.handleIO(req)
	default:
		return fmt.Errorf("conn: unexpected decoded frame type %T", decoded)
	}
}

func (c *Connection) handleAlloc(req *wire.AllocRequest) error {
	if c.cfg.Logger != nil {
		c.cfg.Logger.Debug("alloc request", "conn", c.fd,
			"num_channels", req.NumChannels, "num_blocks", req.NumBlocks,
			"shared", req.Shared, "numa_id", req.NumaID, "remote", req.Remote)
	}
	preq := physical.AllocRequest{
		NumChannels: req.NumChannels,
		NumBlocks:   req.NumBlocks,
		Shared:      req.Shared != 0,
		NumaID:      req.NumaID,
	}

	start := time.Now()
	v, granted := c.cfg.Manager.AllocOCSSDResource(preq)
	if c.cfg.Observer != nil {
		c.cfg.Observer.ObserveAlloc(uint64(time.Since(start).Nanoseconds()), granted > 0)
	}

	if req.Remote != 0 && granted > 0 {
		if err := c.materializeRemote(v); err != nil {
			if c.cfg.Logger != nil {
				c.cfg.Logger.Error("remote materialization failed", "conn", c.fd, "error", err)
			}
			return err
		}
		c.remote = true
	}

	c.enqueueWrite(vssd.Encode(v))
	c.publishAndPersist(v)
	return nil
}

// materializeRemote implements spec.md §4.6. Only VSSD.Units[0] is ever
// addressed — the design leaves multi-unit remote proxy undefined.
func (c *Connection) materializeRemote(v vssd.VSSD) error {
	if len(v.Units) == 0 {
		return nil
	}
	unit := v.Units[0]

	dev, err := c.cfg.Opener.Open(unit.DevName)
	if err != nil {
		return err
	}
	c.device = dev

	for _, ch := range unit.Channels {
		luns := ch.Luns
		if len(luns) == 0 {
			// Exclusive channel: Luns is empty on the wire, meaning all
			// LUNs, full block range; reconstruct them uniformly.
			luns = make([]vssd.VLun, ch.NumLuns)
			blocksPerLun := uint32(0)
			if ch.NumLuns > 0 {
				blocksPerLun = ch.TotalBlocks / ch.NumLuns
			}
			for i := range luns {
				luns[i] = vssd.VLun{LunID: uint32(i), BlockStart: 0, NumBlocks: blocksPerLun}
			}
		}

		cursors := make([]uint32, len(luns))
		for {
			var addrs []interfaces.Addr
			progressed := false
			for i, l := range luns {
				if cursors[i] < l.NumBlocks {
					addrs = append(addrs, interfaces.Addr{
						Channel: ch.ChannelID,
						Lun:     l.LunID,
						Block:   l.BlockStart + cursors[i],
					})
					cursors[i]++
					progressed = true
				}
			}
			if !progressed {
				break
			}
			vb, err := dev.VblkAlloc(addrs)
			if err != nil {
				return err
			}
			c.vblks = append(c.vblks, vb)
		}
	}

	if c.cfg.SelfTestVblks {
		c.vblks = c.selfTestVblks(dev, c.vblks)
	}

	if len(c.vblks) > 0 {
		c.vblkSize = dev.VblkSize(c.vblks[0])
	}
	return nil
}

func (c *Connection) selfTestVblks(dev interfaces.Device, vblks []interfaces.Vblk) []interfaces.Vblk {
	kept := vblks[:0]
	for _, vb := range vblks {
		sz := dev.VblkSize(vb)
		buf := make([]byte, sz)
		if err := dev.VblkErase(vb); err != nil {
			continue
		}
		if n, err := dev.VblkWrite(vb, buf); err != nil || uint64(n) != sz {
			continue
		}
		if n, err := dev.VblkPread(vb, buf, 0); err != nil || uint64(n) != sz {
			continue
		}
		kept = append(kept, vb)
	}
	return kept
}

func (c *Connection) handleIO(req *wire.IORequest) error {
	if int(req.BlockIndex) >= len(c.vblks) {
		return fmt.Errorf("conn: unknown vblk index %d", req.BlockIndex)
	}
	vb := c.vblks[req.BlockIndex]

	switch req.Op {
	case wire.OpRead:
		return c.handleRead(vb, req)
	case wire.OpWrite:
		c.state = StateReceivingWritePayload
		c.writePayload = ioBuffer(req.Count)
		c.writeFilled = 0
		c.pendingWriteVblk = vb
		return nil
	case wire.OpErase:
		return c.handleErase(vb)
	default:
		return fmt.Errorf("conn: unsupported op %v", req.Op)
	}
}

// ioBuffer sizes a proxied-I/O payload buffer, taking it from
// internal/queue.GetBuffer whenever the request fits a uint32 (pooled
// up to 1MB, a plain allocation above that).
func ioBuffer(size uint64) []byte {
	if size > 0 && size <= 1<<32-1 {
		return queue.GetBuffer(uint32(size))
	}
	return make([]byte, size)
}

func (c *Connection) handleRead(vb interfaces.Vblk, req *wire.IORequest) error {
	buf := ioBuffer(req.Count)
	start := time.Now()
	n, err := c.device.VblkPread(vb, buf, req.Offset)
	if c.cfg.Observer != nil {
		c.cfg.Observer.ObserveRead(uint64(n), uint64(time.Since(start).Nanoseconds()), err == nil)
	}
	c.enqueuePooledWrite(buf[:n])
	if err != nil {
		// Short/failed pread: send only the bytes actually read, then
		// close the connection.
		if c.cfg.Logger != nil {
			c.cfg.Logger.Error("vblk read failed", "conn", c.fd, "block_index", req.BlockIndex, "error", err)
		}
		_ = c.drainWrites()
		return err
	}
	return nil
}

func (c *Connection) handleErase(vb interfaces.Vblk) error {
	start := time.Now()
	err := c.device.VblkErase(vb)
	if c.cfg.Observer != nil {
		c.cfg.Observer.ObserveErase(uint64(time.Since(start).Nanoseconds()), err == nil)
	}
	if err != nil {
		if c.cfg.Logger != nil {
			c.cfg.Logger.Error("vblk erase failed", "conn", c.fd, "error", err)
		}
		c.enqueueStatus(err)
		return nil
	}
	c.enqueueStatus(nil)
	return nil
}

func (c *Connection) completeWrite() error {
	start := time.Now()
	_, err := c.device.VblkWrite(c.pendingWriteVblk, c.writePayload)
	if c.cfg.Observer != nil {
		c.cfg.Observer.ObserveWrite(uint64(len(c.writePayload)), uint64(time.Since(start).Nanoseconds()), err == nil)
	}
	queue.PutBuffer(c.writePayload)
	c.writePayload = nil
	c.writeFilled = 0
	c.pendingWriteVblk = nil
	c.state = StateReceivingCommand

	if err != nil && c.cfg.Logger != nil {
		c.cfg.Logger.Error("vblk write failed", "conn", c.fd, "error", err)
	}
	c.enqueueStatus(err)
	return nil
}

// enqueueStatus appends the optional one-byte status reply, gated by
// Config.SendIOStatus; the baseline wire contract sends no reply for
// write/erase.
func (c *Connection) enqueueStatus(opErr error) {
	if !c.cfg.SendIOStatus {
		return
	}
	status := byte(0)
	if opErr != nil {
		status = 1
	}
	c.enqueueWrite([]byte{status})
}

func (c *Connection) publishAndPersist(v vssd.VSSD) {
	for _, unit := range v.Units {
		pu := c.findUnit(unit.DevName)
		if pu == nil {
			continue
		}

		stats := pu.GetStats()
		row := directory.Row{
			Partition: constants.DirectoryPublishPartition,
			RowKey:    pu.Desc,
			Properties: map[string]uint64{
				"NumSharedChannels":    uint64(stats.NumSharedChannelsWithFree),
				"NumExclusiveChannels": uint64(stats.NumExclusiveChannelsWithFree),
				"FreeBlocks":           stats.FreeBlocks,
			},
		}
		if c.cfg.Directory != nil {
			if err := c.cfg.Directory.Publish(row); err != nil && c.cfg.Logger != nil {
				c.cfg.Logger.Warn("directory publish failed", "conn", c.fd, "error", err)
			}
		}
		if c.cfg.Persist != nil {
			grant := persist.Grant{VSSDID: v.ID, UnitDesc: pu.Desc, Unit: unit}
			if err := c.cfg.Persist.Record(grant); err != nil && c.cfg.Logger != nil {
				c.cfg.Logger.Warn("persist record failed", "conn", c.fd, "error", err)
			}
		}
	}
}

func (c *Connection) findUnit(devName string) *physical.Unit {
	for _, u := range c.cfg.Manager.Units() {
		if u.DevPath == devName {
			return u
		}
	}
	return nil
}

func (c *Connection) fail(op string, err error) {
	if err != io.EOF && c.cfg.Logger != nil {
		c.cfg.Logger.Error("connection failed", "conn", c.fd, "op", op, "error", err)
	}
	c.close()
}

func (c *Connection) close() {
	if c.state == StateClosed {
		return
	}
	c.state = StateClosed
	if c.device != nil {
		_ = c.device.Close()
		c.device = nil
	}
	_ = syscall.Close(c.fd)
}

// Close terminates the connection from outside the reactor, e.g. during
// shutdown.
func (c *Connection) Close() {
	c.close()
}

var _ reactor.Handle = (*Connection)(nil)
