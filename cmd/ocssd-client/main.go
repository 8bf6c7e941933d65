// Command ocssd-client is a trivial example client: it allocates a vSSD
// from a running ocssd-brokerd, prints the decoded grant, and optionally
// exercises remote proxied I/O against the first vblk.
package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"io"
	"log"
	"net"

	"github.com/andiry/ocssd-broker/internal/constants"
	"github.com/andiry/ocssd-broker/internal/vssd"
	"github.com/andiry/ocssd-broker/internal/wire"
)

func main() {
	var (
		addr        = flag.String("addr", "127.0.0.1:50001", "broker address")
		numChannels = flag.Uint("channels", 2, "channels to request")
		numBlocks   = flag.Uint("blocks", 0, "blocks to request (shared mode only)")
		shared      = flag.Bool("shared", false, "request shared (LUN-granularity) channels")
		remote      = flag.Bool("remote", false, "ask the broker to proxy I/O on this vSSD")
		ioDemo      = flag.Bool("io-demo", false, "with -remote, erase+write+read the first vblk")
	)
	flag.Parse()

	conn, err := net.Dial("tcp", *addr)
	if err != nil {
		log.Fatalf("dial %s: %v", *addr, err)
	}
	defer conn.Close()

	allocReq := wire.AllocRequest{
		NumChannels: uint32(*numChannels),
		NumBlocks:   uint32(*numBlocks),
		NumaID:      0,
	}
	if *shared {
		allocReq.Shared = 1
	}
	if *remote {
		allocReq.Remote = 1
	}

	frame := wire.EncodeAlloc(allocReq)
	if _, err := conn.Write(frame[:]); err != nil {
		log.Fatalf("send alloc: %v", err)
	}

	v, err := readVSSD(conn)
	if err != nil {
		log.Fatalf("read vssd: %v", err)
	}
	printVSSD(v)

	if *remote && *ioDemo {
		if err := ioDemoRun(conn, v); err != nil {
			log.Fatalf("io demo: %v", err)
		}
	}
}

// readVSSD reads the magic + id + n_units header to learn how many
// bytes follow, then reads the rest of the encoded VSSD.
func readVSSD(r io.Reader) (vssd.VSSD, error) {
	head := make([]byte, 12)
	if _, err := io.ReadFull(r, head); err != nil {
		return vssd.VSSD{}, err
	}
	magic := binary.LittleEndian.Uint32(head[0:4])
	if magic != constants.SerializeMagic {
		return vssd.VSSD{}, fmt.Errorf("bad VSSD magic %#x", magic)
	}
	nUnits := binary.LittleEndian.Uint32(head[8:12])

	buf := append([]byte{}, head...)
	for i := uint32(0); i < nUnits; i++ {
		unit, err := readVUnit(r)
		if err != nil {
			return vssd.VSSD{}, err
		}
		buf = append(buf, unit...)
	}

	v, _, err := vssd.Decode(buf)
	return v, err
}

// readVUnit reads one VUnit's bytes: name length, padded name, geometry,
// channel count, and each VChannel's bytes, since the caller has no way
// to know the total length in advance without re-deriving the layout.
func readVUnit(r io.Reader) ([]byte, error) {
	lenBuf := make([]byte, 4)
	if _, err := io.ReadFull(r, lenBuf); err != nil {
		return nil, err
	}
	nameLen := binary.LittleEndian.Uint32(lenBuf)
	padded := int(nameLen)
	if padded%4 != 0 {
		padded += 4 - padded%4
	}
	rest := make([]byte, padded+9*8+4)
	if _, err := io.ReadFull(r, rest); err != nil {
		return nil, err
	}
	nChannels := binary.LittleEndian.Uint32(rest[padded+9*8:])

	buf := append(append([]byte{}, lenBuf...), rest...)
	for i := uint32(0); i < nChannels; i++ {
		ch, err := readVChannel(r)
		if err != nil {
			return nil, err
		}
		buf = append(buf, ch...)
	}
	return buf, nil
}

func readVChannel(r io.Reader) ([]byte, error) {
	head := make([]byte, 16)
	if _, err := io.ReadFull(r, head); err != nil {
		return nil, err
	}
	shared := binary.LittleEndian.Uint32(head[4:8])
	numLuns := binary.LittleEndian.Uint32(head[12:16])

	buf := append([]byte{}, head...)
	if shared == 1 {
		luns := make([]byte, int(numLuns)*12)
		if _, err := io.ReadFull(r, luns); err != nil {
			return nil, err
		}
		buf = append(buf, luns...)
	}
	return buf, nil
}

func printVSSD(v vssd.VSSD) {
	fmt.Printf("vssd id=%d units=%d\n", v.ID, len(v.Units))
	for _, u := range v.Units {
		fmt.Printf("  unit %s: channels=%d\n", u.DevName, len(u.Channels))
		for _, c := range u.Channels {
			fmt.Printf("    channel %d shared=%d total_blocks=%d luns=%d\n",
				c.ChannelID, c.Shared, c.TotalBlocks, c.NumLuns)
			for _, l := range c.Luns {
				fmt.Printf("      lun %d start=%d count=%d\n", l.LunID, l.BlockStart, l.NumBlocks)
			}
		}
	}
}

// ioDemoRun exercises scenario 6 from spec.md §8 against the first vblk
// the broker materialized: erase, then write+read K bytes and verify.
func ioDemoRun(conn net.Conn, v vssd.VSSD) error {
	if len(v.Units) == 0 || len(v.Units[0].Channels) == 0 {
		return fmt.Errorf("no channels granted, nothing to demo")
	}
	blockSize := v.Units[0].Geometry.NPages * v.Units[0].Geometry.PageBytes

	eraseFrame := wire.EncodeIO(wire.IORequest{Op: wire.OpErase, BlockIndex: 0})
	if _, err := conn.Write(eraseFrame[:]); err != nil {
		return err
	}

	payload := make([]byte, blockSize)
	for i := range payload {
		payload[i] = byte(i)
	}
	writeFrame := wire.EncodeIO(wire.IORequest{Op: wire.OpWrite, BlockIndex: 0, Count: uint64(len(payload))})
	if _, err := conn.Write(writeFrame[:]); err != nil {
		return err
	}
	if _, err := conn.Write(payload); err != nil {
		return err
	}

	readFrame := wire.EncodeIO(wire.IORequest{Op: wire.OpRead, BlockIndex: 0, Count: uint64(len(payload)), Offset: 0})
	if _, err := conn.Write(readFrame[:]); err != nil {
		return err
	}
	got := make([]byte, len(payload))
	if _, err := io.ReadFull(conn, got); err != nil {
		return err
	}
	for i := range got {
		if got[i] != payload[i] {
			return fmt.Errorf("readback mismatch at byte %d: got %d want %d", i, got[i], payload[i])
		}
	}
	fmt.Printf("io demo ok: %d bytes round-tripped\n", len(payload))
	return nil
}
