package physical

import (
	"testing"

	"github.com/andiry/ocssd-broker/internal/interfaces"
)

// fakeDevice is a minimal interfaces.Device double for resource-model
// tests; it never backs real I/O.
type fakeDevice struct {
	geom    interfaces.Geometry
	healthy func(chID uint32) bool
}

func (d *fakeDevice) Geometry() interfaces.Geometry { return d.geom }
func (d *fakeDevice) VblkAlloc(addrs []interfaces.Addr) (interfaces.Vblk, error) {
	return addrs, nil
}
func (d *fakeDevice) VblkFree(interfaces.Vblk) error                       { return nil }
func (d *fakeDevice) VblkSize(interfaces.Vblk) uint64                      { return 0 }
func (d *fakeDevice) VblkErase(interfaces.Vblk) error                      { return nil }
func (d *fakeDevice) VblkWrite(interfaces.Vblk, []byte) (int, error)       { return 0, nil }
func (d *fakeDevice) VblkPread(interfaces.Vblk, []byte, uint64) (int, error) { return 0, nil }
func (d *fakeDevice) ChannelHealthy(chID uint32) bool {
	if d.healthy == nil {
		return true
	}
	return d.healthy(chID)
}
func (d *fakeDevice) Close() error { return nil }

func testGeometry() interfaces.Geometry {
	return interfaces.Geometry{
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

func newTestUnit() *Unit {
	dev := &fakeDevice{geom: testGeometry()}
	return NewUnit("10.0.0.1", "/dev/nvme0n1", 0, dev, 4)
}
