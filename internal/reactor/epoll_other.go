//go:build !linux

package reactor

import "fmt"

// NewPoller is only available on Linux, where epoll backs the Poller
// interface. Non-Linux builds can still use FakePoller for tests.
func NewPoller() (Poller, error) {
	return nil, fmt.Errorf("reactor: epoll poller requires linux")
}
