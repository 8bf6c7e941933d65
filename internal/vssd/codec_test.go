package vssd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleGeometry() Geometry {
	return Geometry{
		NChannels:       8,
		NLunsPerChannel: 4,
		NPlanes:         1,
		NBlocksPerLun:   100,
		NPages:          256,
		NSectors:        4,
		PageBytes:       4096,
		SectorBytes:     512,
		MetaBytes:       16,
	}
}

func TestRoundTripExclusiveVSSD(t *testing.T) {
	v := VSSD{
		ID: 7,
		Units: []VUnit{
			{
				DevName:  "10.0.0.1/dev/nvme0n1",
				Geometry: sampleGeometry(),
				Channels: []VChannel{
					{ChannelID: 4, Shared: 0, TotalBlocks: 400, NumLuns: 4},
					{ChannelID: 5, Shared: 0, TotalBlocks: 400, NumLuns: 4},
				},
			},
		},
	}

	encoded := Encode(v)
	require.Equal(t, EncodedSize(v), len(encoded))

	decoded, n, err := Decode(encoded)
	require.NoError(t, err)
	assert.Equal(t, len(encoded), n)
	assert.Equal(t, v, decoded)
}

func TestRoundTripSharedVSSD(t *testing.T) {
	v := VSSD{
		ID: 1,
		Units: []VUnit{
			{
				DevName:  "10.0.0.1/dev/nvme0n1",
				Geometry: sampleGeometry(),
				Channels: []VChannel{
					{
						ChannelID:   0,
						Shared:      1,
						TotalBlocks: 4,
						NumLuns:     1,
						Luns:        []VLun{{LunID: 0, BlockStart: 0, NumBlocks: 4}},
					},
					{
						ChannelID:   1,
						Shared:      1,
						TotalBlocks: 4,
						NumLuns:     1,
						Luns:        []VLun{{LunID: 0, BlockStart: 0, NumBlocks: 4}},
					},
				},
			},
		},
	}

	encoded := Encode(v)
	decoded, n, err := Decode(encoded)
	require.NoError(t, err)
	assert.Equal(t, len(encoded), n)
	assert.Equal(t, v, decoded)
}

func TestRoundTripEmptyVSSD(t *testing.T) {
	v := VSSD{ID: 0, Units: nil}
	encoded := Encode(v)
	decoded, n, err := Decode(encoded)
	require.NoError(t, err)
	assert.Equal(t, len(encoded), n)
	assert.Equal(t, 0, len(decoded.Units))
	assert.Equal(t, uint32(0), decoded.ID)
}

func TestDecodeBadMagic(t *testing.T) {
	buf := []byte{0xEF, 0xBE, 0xAD, 0xDE}
	_, n, err := Decode(buf)
	require.ErrorIs(t, err, ErrBadMagic)
	assert.Equal(t, 0, n)
}

func TestDecodeShortBuffer(t *testing.T) {
	_, _, err := Decode([]byte{0x02, 0x65, 0x00})
	require.Error(t, err)
}

func TestNameFieldPadding(t *testing.T) {
	v := VSSD{ID: 2, Units: []VUnit{{DevName: "ab", Geometry: sampleGeometry()}}}
	encoded := Encode(v)
	// name_len field: len("ab")+1 = 3, encoded as u32 right after magic/id/n_units (offset 12).
	nameLen := encoded[12]
	assert.Equal(t, byte(3), nameLen)

	decoded, _, err := Decode(encoded)
	require.NoError(t, err)
	assert.Equal(t, "ab", decoded.Units[0].DevName)
}
