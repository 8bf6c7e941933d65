// Package wire implements the fixed-size 24-byte request frame codec:
// alloc, read, write, and erase frames, selected by a leading magic.
package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/andiry/ocssd-broker/internal/constants"
)

// FrameSize is the fixed size of every request frame.
const FrameSize = constants.RequestFrameSize

// Op identifies the proxied I/O operation an IORequest carries.
type Op int

const (
	OpRead Op = iota
	OpWrite
	OpErase
)

func (o Op) String() string {
	switch o {
	case OpRead:
		return "READ"
	case OpWrite:
		return "WRITE"
	case OpErase:
		return "ERASE"
	default:
		return "UNKNOWN"
	}
}

// ErrBadMagic is returned when a frame's leading magic matches none of the
// known request types.
var ErrBadMagic = fmt.Errorf("wire: bad frame magic")

// ErrShortFrame is returned when fewer than FrameSize bytes are available.
var ErrShortFrame = fmt.Errorf("wire: short frame")

// AllocRequest is the decoded body of an Alloc frame (magic 0x6501).
type AllocRequest struct {
	NumChannels uint32
	NumBlocks   uint32
	Shared      uint32
	NumaID      uint32
	Remote      uint32
}

// IORequest is the decoded body of a Read/Write/Erase frame.
type IORequest struct {
	Op         Op
	BlockIndex uint32
	Count      uint64
	Offset     uint64
}

// DecodeFrame inspects the leading magic of a FrameSize-byte buffer and
// returns either an *AllocRequest or an *IORequest. buf must be exactly
// FrameSize bytes; callers are responsible for accumulating a full frame
// before calling DecodeFrame (see internal/conn).
func DecodeFrame(buf []byte) (any, error) {
	if len(buf) < FrameSize {
		return nil, ErrShortFrame
	}
	magic := binary.LittleEndian.Uint32(buf)

	switch magic {
	case constants.AllocMagic:
		return &AllocRequest{
			NumChannels: binary.LittleEndian.Uint32(buf[4:]),
			NumBlocks:   binary.LittleEndian.Uint32(buf[8:]),
			Shared:      binary.LittleEndian.Uint32(buf[12:]),
			NumaID:      binary.LittleEndian.Uint32(buf[16:]),
			Remote:      binary.LittleEndian.Uint32(buf[20:]),
		}, nil
	case constants.ReadMagic:
		return decodeIO(OpRead, buf), nil
	case constants.WriteMagic:
		return decodeIO(OpWrite, buf), nil
	case constants.EraseMagic:
		return decodeIO(OpErase, buf), nil
	default:
		return nil, ErrBadMagic
	}
}

func decodeIO(op Op, buf []byte) *IORequest {
	return &IORequest{
		Op:         op,
		BlockIndex: binary.LittleEndian.Uint32(buf[4:]),
		Count:      binary.LittleEndian.Uint64(buf[8:]),
		Offset:     binary.LittleEndian.Uint64(buf[16:]),
	}
}

// EncodeAlloc encodes an AllocRequest into a FrameSize-byte frame.
func EncodeAlloc(req AllocRequest) [FrameSize]byte {
	var buf [FrameSize]byte
	binary.LittleEndian.PutUint32(buf[0:], constants.AllocMagic)
	binary.LittleEndian.PutUint32(buf[4:], req.NumChannels)
	binary.LittleEndian.PutUint32(buf[8:], req.NumBlocks)
	binary.LittleEndian.PutUint32(buf[12:], req.Shared)
	binary.LittleEndian.PutUint32(buf[16:], req.NumaID)
	binary.LittleEndian.PutUint32(buf[20:], req.Remote)
	return buf
}

// EncodeIO encodes an IORequest into a FrameSize-byte frame.
func EncodeIO(req IORequest) [FrameSize]byte {
	var buf [FrameSize]byte
	var magic uint32
	switch req.Op {
	case OpRead:
		magic = constants.ReadMagic
	case OpWrite:
		magic = constants.WriteMagic
	case OpErase:
		magic = constants.EraseMagic
	}
	binary.LittleEndian.PutUint32(buf[0:], magic)
	binary.LittleEndian.PutUint32(buf[4:], req.BlockIndex)
	binary.LittleEndian.PutUint64(buf[8:], req.Count)
	binary.LittleEndian.PutUint64(buf[16:], req.Offset)
	return buf
}
