package netaddr

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDiscoverIPReturnsOverrideUnchanged(t *testing.T) {
	ip, err := DiscoverIP("eno1", "10.1.2.3")
	assert.NoError(t, err)
	assert.Equal(t, "10.1.2.3", ip)
}

func TestDiscoverIPFailsWithNoMatchingInterface(t *testing.T) {
	_, err := DiscoverIP("no-such-prefix-xyz", "")
	assert.Error(t, err)
}

func TestDiscoverIPFindsLoopback(t *testing.T) {
	ip, err := DiscoverIP("lo", "")
	if err != nil {
		t.Skipf("no loopback interface named with prefix 'lo' on this host: %v", err)
	}
	assert.Equal(t, "127.0.0.1", ip)
}
