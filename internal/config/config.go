// Package config holds the broker's ambient configuration: the plain
// struct a CLI entrypoint builds from flags and passes down to the
// server, manager, and connection layers. There is no config-file or
// env-var layer here, matching the rest of the pack: no third-party
// config parser is wired in, just a Default()-populated struct.
package config

import (
	"time"

	"github.com/andiry/ocssd-broker/internal/constants"
)

// Config bundles every tunable the broker's layers need at startup.
type Config struct {
	// Network
	Port              int    // TCP port to listen on
	InterfacePrefix   string // host interface prefix for IP discovery (e.g. "eno1")
	InterfaceOverride string // explicit IP override, bypassing discovery entirely

	// Physical resource model
	SharedPoolSize   uint32 // low-numbered channels carved into the shared pool
	DeviceScanPrefix string // path prefix scanned at startup
	DeviceScanSuffix string // suffix following the scanned index
	DeviceScanCount  int    // number of indices probed, [0, N)

	// Reactor / worker pool
	WorkerCount     int // bounded worker pool size
	ReadyQueueDepth int // reactor -> worker handoff queue depth
	MaxEvents       int // events drained per poller Wait call

	// Wire behavior
	SendIOStatus bool // emit the optional one-byte write/erase status reply

	// Persistence
	PersistDir string // Badger journal directory; empty disables persistence

	ShutdownDrainTimeout time.Duration
}

// Default returns the broker's baseline configuration, mirroring the
// original's hardcoded values.
func Default() Config {
	return Config{
		Port:            constants.MessagePort,
		InterfacePrefix: constants.DefaultInterfacePrefix,

		SharedPoolSize:   constants.DefaultSharedPoolSize,
		DeviceScanPrefix: constants.DefaultDeviceScanPrefix,
		DeviceScanSuffix: constants.DefaultDeviceScanSuffix,
		DeviceScanCount:  constants.DefaultDeviceScanCount,

		WorkerCount:     constants.DefaultWorkerCount,
		ReadyQueueDepth: constants.DefaultReadyQueueDepth,
		MaxEvents:       constants.DefaultMaxEvents,

		SendIOStatus: false,

		ShutdownDrainTimeout: constants.ShutdownDrainTimeout,
	}
}
