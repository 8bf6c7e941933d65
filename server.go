// Package ocssd is the broker's public API: it wires the physical resource
// model, the device adapter, the directory/persistence hooks, and the
// reactor/connection layers into one running server.
package ocssd

import (
	"fmt"
	"net"
	"sync"
	"syscall"

	"github.com/andiry/ocssd-broker/internal/config"
	"github.com/andiry/ocssd-broker/internal/conn"
	"github.com/andiry/ocssd-broker/internal/constants"
	"github.com/andiry/ocssd-broker/internal/directory"
	"github.com/andiry/ocssd-broker/internal/interfaces"
	"github.com/andiry/ocssd-broker/internal/logging"
	"github.com/andiry/ocssd-broker/internal/netaddr"
	"github.com/andiry/ocssd-broker/internal/persist"
	"github.com/andiry/ocssd-broker/internal/physical"
	"github.com/andiry/ocssd-broker/internal/reactor"
)

// Options bundles the collaborators Server construction is injected with.
// Opener is required; every other field falls back to a no-op/default
// implementation when left zero.
type Options struct {
	Opener    interfaces.Opener
	Directory directory.Publisher
	Persist   persist.Store
	Logger    *logging.Logger
	Observer  Observer
}

// Server owns the listening socket, the Manager, and the reactor pool for
// the lifetime of the process. There is exactly one Server per broker
// instance; the Manager it wires lives for the process, per spec.md §3.
type Server struct {
	cfg     config.Config
	opts    Options
	manager *physical.Manager
	pool    *reactor.Pool
	poller  reactor.Poller

	listenFD   int
	listenPort int
	ip         string

	mu     sync.Mutex
	closed bool
	stop   chan struct{}
	wg     sync.WaitGroup
}

// New builds a Server from cfg and opts, scanning and opening every
// configured device path and assembling a Unit for each one, per
// spec.md §4.2 and §6's device-path scan. It does not yet listen;
// call Serve to start accepting connections.
func New(cfg config.Config, opts Options) (*Server, error) {
	if opts.Opener == nil {
		return nil, NewError("ocssd.New", ConfigError, "Options.Opener is required")
	}
	if opts.Directory == nil {
		opts.Directory = directory.NoOp{}
	}
	if opts.Persist == nil {
		opts.Persist = persist.NoOp{}
	}
	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}
	if opts.Observer == nil {
		opts.Observer = NoOpObserver{}
	}

	ip, err := netaddr.DiscoverIP(cfg.InterfacePrefix, cfg.InterfaceOverride)
	if err != nil {
		return nil, WrapError("ocssd.New", err)
	}

	manager := physical.NewManager(ip)
	for i := 0; i < cfg.DeviceScanCount; i++ {
		path := fmt.Sprintf("%s%d%s", cfg.DeviceScanPrefix, i, cfg.DeviceScanSuffix)
		dev, err := opts.Opener.Open(path)
		if err != nil {
			opts.Logger.Debug("device scan: path not usable", "path", path, "error", err)
			continue
		}
		unit := physical.NewUnit(ip, path, 0, dev, cfg.SharedPoolSize)
		manager.AddUnit(unit)
		opts.Logger.Info("unit registered", "unit", unit.Desc)
	}
	if len(manager.Units()) == 0 {
		opts.Logger.Warn("no OCSSD units found on scan", "prefix", cfg.DeviceScanPrefix, "count", cfg.DeviceScanCount)
	}

	if err := manager.Restore(opts.Persist); err != nil {
		opts.Logger.Warn("restore failed, continuing with empty allocator state", "error", err)
	}

	publishStartupStats(manager, opts)

	poller, err := reactor.NewPoller()
	if err != nil {
		return nil, WrapError("ocssd.New", err)
	}

	pool := reactor.NewPool(reactor.Config{
		Poller:      poller,
		WorkerCount: cfg.WorkerCount,
		QueueDepth:  cfg.ReadyQueueDepth,
		Logger:      opts.Logger,
		Observer:    opts.Observer,
	})

	return &Server{
		cfg:     cfg,
		opts:    opts,
		manager: manager,
		pool:    pool,
		poller:  poller,
		ip:      ip,
		stop:    make(chan struct{}),
	}, nil
}

// Manager exposes the running Server's physical resource manager, e.g. for
// a stats subcommand.
func (s *Server) Manager() *physical.Manager { return s.manager }

// IP returns the host address the Server discovered or was configured with.
func (s *Server) IP() string { return s.ip }

// Port returns the listening socket's bound port. Useful when cfg.Port
// is 0 (kernel-assigned ephemeral port), e.g. in tests.
func (s *Server) Port() int { return s.listenPort }

// Serve opens the listening socket on cfg.Port and blocks, accepting
// connections and handing them to the reactor pool, until Shutdown is
// called.
func (s *Server) Serve() error {
	fd, port, err := listen(s.cfg.Port)
	if err != nil {
		return WrapError("Server.Serve", err)
	}
	s.listenFD = fd
	s.listenPort = port

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.pool.Run(); err != nil {
			s.opts.Logger.Error("reactor pool stopped", "error", err)
		}
	}()

	s.opts.Logger.Info("listening", "ip", s.ip, "port", s.listenPort)

	// The listening socket itself is accepted on with a blocking call in
	// this dedicated goroutine-free loop; only accepted connection fds
	// are registered with the epoll reactor (they're the ones that see
	// readiness-driven, potentially-idle traffic). Shutdown unblocks this
	// Accept by shutting fd down, then closing it.
	for {
		connFD, sa, err := syscall.Accept(fd)
		if err != nil {
			if err == syscall.EINTR {
				continue
			}
			select {
			case <-s.stop:
				return nil
			default:
				return WrapError("Server.Serve", err)
			}
		}

		if err := syscall.SetNonblock(connFD, true); err != nil {
			syscall.Close(connFD)
			continue
		}

		peerIP := peerIPFromSockaddr(sa)
		c := conn.New(connFD, peerIP, conn.Config{
			Manager:       s.manager,
			Opener:        s.opts.Opener,
			Directory:     s.opts.Directory,
			Persist:       s.opts.Persist,
			Logger:        s.opts.Logger,
			Observer:      s.opts.Observer,
			SelfTestVblks: false,
			SendIOStatus:  s.cfg.SendIOStatus,
		})

		s.pool.Register(c)
		if err := s.poller.Add(connFD); err != nil {
			c.Close()
			continue
		}
		s.opts.Logger.Debug("accepted connection", "conn", connFD, "peer", peerIP)
	}
}

// Shutdown stops accepting new connections and halts the reactor pool. It
// does not forcibly close in-flight connections; spec.md §5 leaves
// in-flight device calls uninterruptible.
func (s *Server) Shutdown() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	close(s.stop)
	if s.listenFD != 0 {
		syscall.Shutdown(s.listenFD, syscall.SHUT_RDWR)
		syscall.Close(s.listenFD)
	}
	s.pool.Stop()
	s.poller.Close()
	s.wg.Wait()
	_ = s.manager.Persist()
}

// listen builds a non-blocking IPv4 TCP listening socket bound to 0.0.0.0
// on the given port (0 picks an ephemeral port), the raw-fd equivalent of
// net.Listen used so the accepted fds can be registered directly with the
// epoll reactor (no net.Conn indirection, per internal/conn's raw-fd
// design). It returns the fd and the port actually bound.
func listen(port int) (int, int, error) {
	fd, err := syscall.Socket(syscall.AF_INET, syscall.SOCK_STREAM, 0)
	if err != nil {
		return 0, 0, err
	}
	if err := syscall.SetsockoptInt(fd, syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1); err != nil {
		syscall.Close(fd)
		return 0, 0, err
	}
	addr := &syscall.SockaddrInet4{Port: port}
	if err := syscall.Bind(fd, addr); err != nil {
		syscall.Close(fd)
		return 0, 0, err
	}
	if err := syscall.Listen(fd, syscall.SOMAXCONN); err != nil {
		syscall.Close(fd)
		return 0, 0, err
	}
	bound, err := syscall.Getsockname(fd)
	if err != nil {
		syscall.Close(fd)
		return 0, 0, err
	}
	boundPort := port
	if in4, ok := bound.(*syscall.SockaddrInet4); ok {
		boundPort = in4.Port
	}
	return fd, boundPort, nil
}

// publishStartupStats publishes every registered Unit's current
// free-resource counts once, so the directory sink has a row for each
// unit before the first allocation ever lands. internal/conn republishes
// the same row shape after every successful allocation; this covers the
// gap before that first request arrives.
func publishStartupStats(manager *physical.Manager, opts Options) {
	for _, u := range manager.Units() {
		stats := u.GetStats()
		row := directory.Row{
			Partition: constants.DirectoryPublishPartition,
			RowKey:    u.Desc,
			Properties: map[string]uint64{
				"NumSharedChannels":    uint64(stats.NumSharedChannelsWithFree),
				"NumExclusiveChannels": uint64(stats.NumExclusiveChannelsWithFree),
				"FreeBlocks":           stats.FreeBlocks,
			},
		}
		if err := opts.Directory.Publish(row); err != nil {
			opts.Logger.Warn("startup directory publish failed", "unit", u.Desc, "error", err)
		}
	}
}

func peerIPFromSockaddr(sa syscall.Sockaddr) string {
	switch v := sa.(type) {
	case *syscall.SockaddrInet4:
		return net.IP(v.Addr[:]).String()
	case *syscall.SockaddrInet6:
		return net.IP(v.Addr[:]).String()
	default:
		return ""
	}
}

var _ interfaces.Logger = (*logging.Logger)(nil)
