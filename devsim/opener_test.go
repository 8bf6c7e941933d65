package devsim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenerReturnsSameDeviceForSamePath(t *testing.T) {
	o := NewOpener(testGeometry(), 4096)

	d1, err := o.Open("/dev/nvme0n1")
	require.NoError(t, err)
	d2, err := o.Open("/dev/nvme0n1")
	require.NoError(t, err)

	assert.Same(t, d1, d2)
}

func TestOpenerReturnsDistinctDevicesForDistinctPaths(t *testing.T) {
	o := NewOpener(testGeometry(), 4096)

	d1, err := o.Open("/dev/nvme0n1")
	require.NoError(t, err)
	d2, err := o.Open("/dev/nvme1n1")
	require.NoError(t, err)

	assert.NotSame(t, d1, d2)
}

func TestOpenerPassesOptionsThrough(t *testing.T) {
	o := NewOpener(testGeometry(), 4096, WithUnhealthyChannels(1))

	d, err := o.Open("/dev/nvme0n1")
	require.NoError(t, err)
	assert.False(t, d.ChannelHealthy(1))
}
