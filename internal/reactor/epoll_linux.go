//go:build linux

package reactor

import (
	"golang.org/x/sys/unix"
)

// epollPoller implements Poller over Linux epoll with edge-triggered,
// one-shot registration, per spec.md §4.7
// (EPOLLIN|EPOLLET|EPOLLRDHUP|EPOLLONESHOT).
type epollPoller struct {
	epfd int
}

// NewPoller creates an epoll-backed Poller.
func NewPoller() (Poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &epollPoller{epfd: epfd}, nil
}

func (p *epollPoller) Add(fd int) error {
	ev := unix.EpollEvent{
		Events: unix.EPOLLIN | unix.EPOLLET | unix.EPOLLRDHUP | unix.EPOLLONESHOT,
		Fd:     int32(fd),
	}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev)
}

func (p *epollPoller) Modify(fd int, writable bool) error {
	events := uint32(unix.EPOLLIN | unix.EPOLLET | unix.EPOLLRDHUP | unix.EPOLLONESHOT)
	if writable {
		events |= unix.EPOLLOUT
	}
	ev := unix.EpollEvent{Events: events, Fd: int32(fd)}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &ev)
}

func (p *epollPoller) Remove(fd int) error {
	err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	if err == unix.ENOENT || err == unix.EBADF {
		return nil
	}
	return err
}

func (p *epollPoller) Wait(events []Event, timeoutMs int) (int, error) {
	raw := make([]unix.EpollEvent, len(events))
	n, err := unix.EpollWait(p.epfd, raw, timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, err
	}
	for i := 0; i < n; i++ {
		mask := raw[i].Events
		events[i] = Event{
			Fd:       int(raw[i].Fd),
			Readable: mask&(unix.EPOLLIN|unix.EPOLLPRI) != 0,
			Writable: mask&unix.EPOLLOUT != 0,
			Closed:   mask&(unix.EPOLLHUP|unix.EPOLLERR|unix.EPOLLRDHUP) != 0,
		}
	}
	return n, nil
}

func (p *epollPoller) Close() error {
	return unix.Close(p.epfd)
}

var _ Poller = (*epollPoller)(nil)
