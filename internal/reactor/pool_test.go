package reactor

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingHandle records every Process call and can be told to report
// closed on a given call.
type countingHandle struct {
	fd        int
	calls     atomic.Int32
	closeOn   int32
	wantWrite bool

	mu      sync.Mutex
	maxConcurrent int32
	current       int32
}

func (h *countingHandle) FD() int { return h.fd }

func (h *countingHandle) Process(ev Event) (bool, bool) {
	h.mu.Lock()
	h.current++
	if h.current > h.maxConcurrent {
		h.maxConcurrent = h.current
	}
	h.mu.Unlock()

	time.Sleep(5 * time.Millisecond)

	h.mu.Lock()
	h.current--
	h.mu.Unlock()

	n := h.calls.Add(1)
	if h.closeOn != 0 && n >= h.closeOn {
		return false, true
	}
	return h.wantWrite, false
}

func TestPoolDispatchesToRegisteredHandle(t *testing.T) {
	fp := NewFakePoller()
	pool := NewPool(Config{Poller: fp, WorkerCount: 2, QueueDepth: 8})
	defer pool.Stop()

	h := &countingHandle{fd: 5}
	require.NoError(t, fp.Add(5))
	pool.Register(h)

	go pool.Run()

	fp.Push(Event{Fd: 5, Readable: true})

	require.Eventually(t, func() bool {
		return h.calls.Load() == 1
	}, time.Second, time.Millisecond)
}

func TestPoolDropsOnCloseEvent(t *testing.T) {
	fp := NewFakePoller()
	pool := NewPool(Config{Poller: fp, WorkerCount: 1, QueueDepth: 8})
	defer pool.Stop()

	h := &countingHandle{fd: 9}
	require.NoError(t, fp.Add(9))
	pool.Register(h)

	go pool.Run()

	fp.Push(Event{Fd: 9, Closed: true})

	require.Eventually(t, func() bool {
		_, ok := pool.lookup(9)
		return !ok
	}, time.Second, time.Millisecond)
	assert.Equal(t, int32(0), h.calls.Load())
}

func TestPoolDropsHandleWhenProcessReportsClosed(t *testing.T) {
	fp := NewFakePoller()
	pool := NewPool(Config{Poller: fp, WorkerCount: 1, QueueDepth: 8})
	defer pool.Stop()

	h := &countingHandle{fd: 3, closeOn: 1}
	require.NoError(t, fp.Add(3))
	pool.Register(h)

	go pool.Run()
	fp.Push(Event{Fd: 3, Readable: true})

	require.Eventually(t, func() bool {
		_, ok := pool.lookup(3)
		return !ok
	}, time.Second, time.Millisecond)
}

func TestUnknownFdEventIsIgnored(t *testing.T) {
	fp := NewFakePoller()
	pool := NewPool(Config{Poller: fp, WorkerCount: 1, QueueDepth: 8})
	defer pool.Stop()

	go pool.Run()
	fp.Push(Event{Fd: 123, Readable: true})

	time.Sleep(20 * time.Millisecond) // no handle registered; should not panic
}

func TestPoolSingleFlightsPerConnection(t *testing.T) {
	// One connection, many readiness events queued back-to-back: the
	// handle must never be entered concurrently because it is always
	// re-registered (here: never re-pushed until processed), matching
	// one-shot rearm semantics.
	fp := NewFakePoller()
	pool := NewPool(Config{Poller: fp, WorkerCount: 4, QueueDepth: 8})
	defer pool.Stop()

	h := &countingHandle{fd: 7}
	require.NoError(t, fp.Add(7))
	pool.Register(h)

	go pool.Run()

	for i := 0; i < 5; i++ {
		fp.Push(Event{Fd: 7, Readable: true})
		require.Eventually(t, func() bool {
			return h.calls.Load() == int32(i+1)
		}, time.Second, time.Millisecond)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	assert.Equal(t, int32(1), h.maxConcurrent)
}
