package ocssd

import "github.com/andiry/ocssd-broker/internal/constants"

// Re-exported defaults for callers that don't want to import the internal
// package directly.
const (
	MessagePort            = constants.MessagePort
	DefaultInterfacePrefix  = constants.DefaultInterfacePrefix
	RequestFrameSize        = constants.RequestFrameSize
	DefaultSharedPoolSize   = constants.DefaultSharedPoolSize
	DefaultDeviceScanPrefix = constants.DefaultDeviceScanPrefix
	DefaultDeviceScanSuffix = constants.DefaultDeviceScanSuffix
	DefaultDeviceScanCount  = constants.DefaultDeviceScanCount
	DefaultWorkerCount      = constants.DefaultWorkerCount
	DefaultMaxEvents        = constants.DefaultMaxEvents
	ShutdownDrainTimeout    = constants.ShutdownDrainTimeout
)
