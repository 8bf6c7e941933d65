package reactor

import (
	"sync"

	"github.com/andiry/ocssd-broker/internal/constants"
	"github.com/andiry/ocssd-broker/internal/interfaces"
)

// Handle is anything the reactor can dispatch readiness events to.
// internal/conn.Connection is the production implementation.
type Handle interface {
	FD() int

	// Process drains the fd until EAGAIN and runs whatever state
	// transitions the event implies. wantWrite reports whether the
	// handle still has a non-empty write queue (rearm with EPOLLOUT);
	// closed reports the handle is done and should be dropped instead
	// of rearmed.
	Process(ev Event) (wantWrite bool, closed bool)
}

// workItem pairs a handle with the event that woke it.
type workItem struct {
	handle Handle
	event  Event
}

// Pool runs a single poller goroutine feeding a bounded worker pool, per
// spec.md §4.7: a connection is processed by at most one worker at a
// time because registration is one-shot and only rearmed after Process
// returns.
type Pool struct {
	poller  Poller
	logger  interfaces.Logger
	observer interfaces.Observer

	mu      sync.Mutex
	handles map[int]Handle

	ready chan workItem
	stop  chan struct{}
	wg    sync.WaitGroup
}

// Config configures a Pool.
type Config struct {
	Poller     Poller
	WorkerCount int
	QueueDepth  int
	Logger      interfaces.Logger
	Observer    interfaces.Observer
}

// NewPool builds a worker pool around poller. Zero-valued WorkerCount /
// QueueDepth fall back to the broker's defaults.
func NewPool(cfg Config) *Pool {
	workers := cfg.WorkerCount
	if workers <= 0 {
		workers = constants.DefaultWorkerCount
	}
	depth := cfg.QueueDepth
	if depth <= 0 {
		depth = constants.DefaultReadyQueueDepth
	}

	p := &Pool{
		poller:   cfg.Poller,
		logger:   cfg.Logger,
		observer: cfg.Observer,
		handles:  make(map[int]Handle),
		ready:    make(chan workItem, depth),
		stop:     make(chan struct{}),
	}

	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

// Register adds a handle under the reactor's management. The caller
// must have already called Poller.Add(handle.FD()).
func (p *Pool) Register(h Handle) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handles[h.FD()] = h
}

func (p *Pool) lookup(fd int) (Handle, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	h, ok := p.handles[fd]
	return h, ok
}

func (p *Pool) drop(fd int) {
	p.mu.Lock()
	delete(p.handles, fd)
	p.mu.Unlock()
	_ = p.poller.Remove(fd)
}

// Run blocks polling for readiness events and dispatching them to
// workers until Stop is called or the poller errors.
func (p *Pool) Run() error {
	events := make([]Event, constants.DefaultMaxEvents)
	for {
		select {
		case <-p.stop:
			return nil
		default:
		}

		n, err := p.poller.Wait(events, 100)
		if err != nil {
			if p.logger != nil {
				p.logger.Error("poller wait failed", "error", err)
			}
			return err
		}

		for i := 0; i < n; i++ {
			ev := events[i]
			h, ok := p.lookup(ev.Fd)
			if !ok {
				continue
			}
			if ev.Closed {
				p.drop(ev.Fd)
				continue
			}
			select {
			case p.ready <- workItem{handle: h, event: ev}:
			case <-p.stop:
				return nil
			}
		}
	}
}

// Stop halts Run and all worker goroutines. It does not close
// registered connections; the caller owns their lifecycle.
func (p *Pool) Stop() {
	close(p.stop)
	p.wg.Wait()
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		select {
		case item, ok := <-p.ready:
			if !ok {
				return
			}
			p.process(item)
		case <-p.stop:
			return
		}
	}
}

func (p *Pool) process(item workItem) {
	if p.observer != nil {
		p.observer.ObserveReadyQueueDepth(uint32(len(p.ready)))
	}

	wantWrite, closed := item.handle.Process(item.event)
	if closed {
		p.drop(item.handle.FD())
		return
	}
	if err := p.poller.Modify(item.handle.FD(), wantWrite); err != nil {
		if p.logger != nil {
			p.logger.Error("rearm failed", "conn", item.handle.FD(), "error", err)
		}
		p.drop(item.handle.FD())
	}
}
