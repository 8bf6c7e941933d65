// Package reactor implements the broker's readiness-driven connection
// loop: a single poller goroutine multiplexing socket readiness and a
// bounded worker pool that drains ready connections one at a time.
package reactor

// Event reports one fd's readiness state from a Wait call.
type Event struct {
	Fd       int
	Readable bool
	Writable bool
	// Closed reports EPOLLHUP/EPOLLERR/EPOLLRDHUP: the peer went away or
	// the fd is otherwise dead and should be dropped without a rearm.
	Closed bool
}

// Poller abstracts the OS readiness multiplexer (epoll on Linux). Every
// registration is one-shot: after Wait reports an fd, that fd generates
// no further events until Modify rearms it.
type Poller interface {
	// Add registers fd for read readiness, one-shot.
	Add(fd int) error

	// Modify rearms fd. writable requests EPOLLOUT in addition to
	// EPOLLIN, used when the connection's write queue is non-empty.
	Modify(fd int, writable bool) error

	// Remove deregisters fd. Safe to call after the fd has already been
	// closed; implementations ignore ENOENT/EBADF.
	Remove(fd int) error

	// Wait blocks until at least one event is ready, timeoutMs elapses,
	// or an error occurs, filling events and returning the count (0 on
	// timeout). A negative timeoutMs blocks indefinitely.
	Wait(events []Event, timeoutMs int) (int, error)

	Close() error
}
