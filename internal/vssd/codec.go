package vssd

import (
	"encoding/binary"
	"fmt"
)

// SerializeMagic prefixes every encoded VSSD.
const SerializeMagic uint32 = 0x6502

const geometryFieldCount = 9
const geometryBytes = geometryFieldCount * 8

// ErrBadMagic is returned by Decode when the leading magic doesn't match
// SerializeMagic. Zero bytes are consumed in that case.
var ErrBadMagic = fmt.Errorf("vssd: bad serialize magic")

// paddedLen rounds n up to the next multiple of 4.
func paddedLen(n int) int {
	if n%4 == 0 {
		return n
	}
	return n + (4 - n%4)
}

// Encode serializes a VSSD per the exact little-endian layout:
//
//	VSSD:     u32 SERIALIZE_MAGIC, u32 id, u32 n_units, VUnit[n_units]
//	VUnit:    u32 name_len_incl_nul, bytes name[padded to 4],
//	          Geometry (9 x u64), u32 n_channels, VChannel[n_channels]
//	VChannel: u32 channel_id, u32 shared, u32 total_blocks, u32 num_luns,
//	          if shared==1: VLun[num_luns]
//	VLun:     u32 lun_id, u32 block_start, u32 num_blocks
func Encode(v VSSD) []byte {
	buf := make([]byte, 0, 256)
	buf = appendU32(buf, SerializeMagic)
	buf = appendU32(buf, v.ID)
	buf = appendU32(buf, uint32(len(v.Units)))

	for _, u := range v.Units {
		nameBytes := []byte(u.DevName)
		nameLen := len(nameBytes) + 1 // incl. nul
		buf = appendU32(buf, uint32(nameLen))
		padded := paddedLen(nameLen)
		nameField := make([]byte, padded)
		copy(nameField, nameBytes)
		buf = append(buf, nameField...)

		buf = appendGeometry(buf, u.Geometry)

		buf = appendU32(buf, uint32(len(u.Channels)))
		for _, c := range u.Channels {
			buf = appendU32(buf, c.ChannelID)
			buf = appendU32(buf, c.Shared)
			buf = appendU32(buf, c.TotalBlocks)
			buf = appendU32(buf, c.NumLuns)
			if c.Shared == 1 {
				for _, l := range c.Luns {
					buf = appendU32(buf, l.LunID)
					buf = appendU32(buf, l.BlockStart)
					buf = appendU32(buf, l.NumBlocks)
				}
			}
		}
	}

	return buf
}

// Decode deserializes a VSSD, returning the value, the number of bytes
// consumed, and an error. A magic mismatch returns ErrBadMagic with zero
// bytes consumed.
func Decode(buf []byte) (VSSD, int, error) {
	if len(buf) < 4 || binary.LittleEndian.Uint32(buf) != SerializeMagic {
		return VSSD{}, 0, ErrBadMagic
	}

	off := 4
	if len(buf) < off+8 {
		return VSSD{}, 0, fmt.Errorf("vssd: short header")
	}
	id := binary.LittleEndian.Uint32(buf[off:])
	off += 4
	nUnits := binary.LittleEndian.Uint32(buf[off:])
	off += 4

	v := VSSD{ID: id, Units: make([]VUnit, 0, nUnits)}

	for i := uint32(0); i < nUnits; i++ {
		if len(buf) < off+4 {
			return VSSD{}, 0, fmt.Errorf("vssd: short unit header")
		}
		nameLen := int(binary.LittleEndian.Uint32(buf[off:]))
		off += 4
		padded := paddedLen(nameLen)
		if len(buf) < off+padded {
			return VSSD{}, 0, fmt.Errorf("vssd: short unit name")
		}
		nameField := buf[off : off+padded]
		off += padded
		devName := cStringFromBytes(nameField, nameLen)

		if len(buf) < off+geometryBytes {
			return VSSD{}, 0, fmt.Errorf("vssd: short geometry")
		}
		geom, n := readGeometry(buf[off:])
		off += n

		if len(buf) < off+4 {
			return VSSD{}, 0, fmt.Errorf("vssd: short channel count")
		}
		nChannels := binary.LittleEndian.Uint32(buf[off:])
		off += 4

		channels := make([]VChannel, 0, nChannels)
		for c := uint32(0); c < nChannels; c++ {
			if len(buf) < off+16 {
				return VSSD{}, 0, fmt.Errorf("vssd: short channel header")
			}
			ch := VChannel{
				ChannelID:   binary.LittleEndian.Uint32(buf[off:]),
				Shared:      binary.LittleEndian.Uint32(buf[off+4:]),
				TotalBlocks: binary.LittleEndian.Uint32(buf[off+8:]),
				NumLuns:     binary.LittleEndian.Uint32(buf[off+12:]),
			}
			off += 16

			if ch.Shared == 1 {
				ch.Luns = make([]VLun, 0, ch.NumLuns)
				for l := uint32(0); l < ch.NumLuns; l++ {
					if len(buf) < off+12 {
						return VSSD{}, 0, fmt.Errorf("vssd: short lun")
					}
					ch.Luns = append(ch.Luns, VLun{
						LunID:      binary.LittleEndian.Uint32(buf[off:]),
						BlockStart: binary.LittleEndian.Uint32(buf[off+4:]),
						NumBlocks:  binary.LittleEndian.Uint32(buf[off+8:]),
					})
					off += 12
				}
			}

			channels = append(channels, ch)
		}

		v.Units = append(v.Units, VUnit{DevName: devName, Geometry: geom, Channels: channels})
	}

	return v, off, nil
}

// EncodedSize returns the exact byte size Encode would produce for v,
// computed independently of Encode for use in round-trip size assertions.
func EncodedSize(v VSSD) int {
	size := 4 + 4 + 4 // magic, id, n_units
	for _, u := range v.Units {
		size += 4 + paddedLen(len(u.DevName)+1)
		size += geometryBytes
		size += 4 // n_channels
		for _, c := range u.Channels {
			size += 16
			if c.Shared == 1 {
				size += 12 * len(c.Luns)
			}
		}
	}
	return size
}

func appendU32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendU64(buf []byte, v uint64) []byte {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendGeometry(buf []byte, g Geometry) []byte {
	buf = appendU64(buf, g.NChannels)
	buf = appendU64(buf, g.NLunsPerChannel)
	buf = appendU64(buf, g.NPlanes)
	buf = appendU64(buf, g.NBlocksPerLun)
	buf = appendU64(buf, g.NPages)
	buf = appendU64(buf, g.NSectors)
	buf = appendU64(buf, g.PageBytes)
	buf = appendU64(buf, g.SectorBytes)
	buf = appendU64(buf, g.MetaBytes)
	return buf
}

func readGeometry(buf []byte) (Geometry, int) {
	g := Geometry{
		NChannels:       binary.LittleEndian.Uint64(buf[0:]),
		NLunsPerChannel: binary.LittleEndian.Uint64(buf[8:]),
		NPlanes:         binary.LittleEndian.Uint64(buf[16:]),
		NBlocksPerLun:   binary.LittleEndian.Uint64(buf[24:]),
		NPages:          binary.LittleEndian.Uint64(buf[32:]),
		NSectors:        binary.LittleEndian.Uint64(buf[40:]),
		PageBytes:       binary.LittleEndian.Uint64(buf[48:]),
		SectorBytes:     binary.LittleEndian.Uint64(buf[56:]),
		MetaBytes:       binary.LittleEndian.Uint64(buf[64:]),
	}
	return g, geometryBytes
}

// cStringFromBytes trims the nul terminator and any padding from a decoded
// name field, given the encoded length including the nul.
func cStringFromBytes(field []byte, nameLenInclNul int) string {
	if nameLenInclNul <= 1 {
		return ""
	}
	return string(field[:nameLenInclNul-1])
}
