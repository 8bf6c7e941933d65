package ocssd

import (
	"sync/atomic"
	"time"
)

// LatencyBuckets defines the latency histogram buckets in nanoseconds,
// covering 1us to 10s with logarithmic spacing.
var LatencyBuckets = []uint64{
	1_000,
	10_000,
	100_000,
	1_000_000,
	10_000_000,
	100_000_000,
	1_000_000_000,
	10_000_000_000,
}

const numLatencyBuckets = 8

// Metrics tracks performance and operational statistics for the broker.
type Metrics struct {
	// Request counters, one per wire operation.
	AllocOps atomic.Uint64
	ReadOps  atomic.Uint64
	WriteOps atomic.Uint64
	EraseOps atomic.Uint64

	// Byte counters for proxied I/O.
	ReadBytes  atomic.Uint64
	WriteBytes atomic.Uint64

	// Error counters, one per wire operation.
	AllocErrors atomic.Uint64
	ReadErrors  atomic.Uint64
	WriteErrors atomic.Uint64
	EraseErrors atomic.Uint64

	// Reactor -> worker handoff queue depth.
	ReadyQueueDepthTotal atomic.Uint64
	ReadyQueueDepthCount atomic.Uint64
	MaxReadyQueueDepth   atomic.Uint32

	// Performance tracking.
	TotalLatencyNs atomic.Uint64
	OpCount        atomic.Uint64

	// Latency histogram buckets (cumulative counts): bucket[i] holds the
	// count of operations with latency <= LatencyBuckets[i].
	LatencyBuckets [numLatencyBuckets]atomic.Uint64

	StartTime atomic.Int64
	StopTime  atomic.Int64
}

// NewMetrics creates a new metrics instance.
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// RecordAlloc records an alloc request.
func (m *Metrics) RecordAlloc(latencyNs uint64, success bool) {
	m.AllocOps.Add(1)
	if !success {
		m.AllocErrors.Add(1)
	}
	m.recordLatency(latencyNs)
}

// RecordRead records a proxied vblk read.
func (m *Metrics) RecordRead(bytes uint64, latencyNs uint64, success bool) {
	m.ReadOps.Add(1)
	if success {
		m.ReadBytes.Add(bytes)
	} else {
		m.ReadErrors.Add(1)
	}
	m.recordLatency(latencyNs)
}

// RecordWrite records a proxied vblk write.
func (m *Metrics) RecordWrite(bytes uint64, latencyNs uint64, success bool) {
	m.WriteOps.Add(1)
	if success {
		m.WriteBytes.Add(bytes)
	} else {
		m.WriteErrors.Add(1)
	}
	m.recordLatency(latencyNs)
}

// RecordErase records a proxied vblk erase.
func (m *Metrics) RecordErase(latencyNs uint64, success bool) {
	m.EraseOps.Add(1)
	if !success {
		m.EraseErrors.Add(1)
	}
	m.recordLatency(latencyNs)
}

// RecordReadyQueueDepth records the reactor's current handoff queue depth.
func (m *Metrics) RecordReadyQueueDepth(depth uint32) {
	m.ReadyQueueDepthTotal.Add(uint64(depth))
	m.ReadyQueueDepthCount.Add(1)

	for {
		current := m.MaxReadyQueueDepth.Load()
		if depth <= current {
			break
		}
		if m.MaxReadyQueueDepth.CompareAndSwap(current, depth) {
			break
		}
	}
}

func (m *Metrics) recordLatency(latencyNs uint64) {
	m.TotalLatencyNs.Add(latencyNs)
	m.OpCount.Add(1)

	for i, bucket := range LatencyBuckets {
		if latencyNs <= bucket {
			m.LatencyBuckets[i].Add(1)
		}
	}
}

// Stop marks the broker as stopped.
func (m *Metrics) Stop() {
	m.StopTime.Store(time.Now().UnixNano())
}

// MetricsSnapshot is a point-in-time snapshot of metrics with derived stats.
type MetricsSnapshot struct {
	AllocOps uint64
	ReadOps  uint64
	WriteOps uint64
	EraseOps uint64

	ReadBytes  uint64
	WriteBytes uint64

	AllocErrors uint64
	ReadErrors  uint64
	WriteErrors uint64
	EraseErrors uint64

	AvgReadyQueueDepth float64
	MaxReadyQueueDepth uint32

	AvgLatencyNs uint64
	UptimeNs     uint64

	LatencyP50Ns  uint64
	LatencyP99Ns  uint64
	LatencyP999Ns uint64

	LatencyHistogram [numLatencyBuckets]uint64

	ReadIOPS       float64
	WriteIOPS      float64
	ReadBandwidth  float64
	WriteBandwidth float64
	TotalOps       uint64
	TotalBytes     uint64
	ErrorRate      float64
}

// Snapshot creates a point-in-time snapshot of metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		AllocOps:           m.AllocOps.Load(),
		ReadOps:            m.ReadOps.Load(),
		WriteOps:           m.WriteOps.Load(),
		EraseOps:           m.EraseOps.Load(),
		ReadBytes:          m.ReadBytes.Load(),
		WriteBytes:         m.WriteBytes.Load(),
		AllocErrors:        m.AllocErrors.Load(),
		ReadErrors:         m.ReadErrors.Load(),
		WriteErrors:        m.WriteErrors.Load(),
		EraseErrors:        m.EraseErrors.Load(),
		MaxReadyQueueDepth: m.MaxReadyQueueDepth.Load(),
	}

	snap.TotalOps = snap.AllocOps + snap.ReadOps + snap.WriteOps + snap.EraseOps
	snap.TotalBytes = snap.ReadBytes + snap.WriteBytes

	queueDepthTotal := m.ReadyQueueDepthTotal.Load()
	queueDepthCount := m.ReadyQueueDepthCount.Load()
	if queueDepthCount > 0 {
		snap.AvgReadyQueueDepth = float64(queueDepthTotal) / float64(queueDepthCount)
	}

	totalLatencyNs := m.TotalLatencyNs.Load()
	opCount := m.OpCount.Load()
	if opCount > 0 {
		snap.AvgLatencyNs = totalLatencyNs / opCount
	}

	startTime := m.StartTime.Load()
	stopTime := m.StopTime.Load()
	if stopTime > 0 {
		snap.UptimeNs = uint64(stopTime - startTime)
	} else {
		snap.UptimeNs = uint64(time.Now().UnixNano() - startTime)
	}

	if snap.UptimeNs > 0 {
		uptimeSeconds := float64(snap.UptimeNs) / 1e9
		snap.ReadIOPS = float64(snap.ReadOps) / uptimeSeconds
		snap.WriteIOPS = float64(snap.WriteOps) / uptimeSeconds
		snap.ReadBandwidth = float64(snap.ReadBytes) / uptimeSeconds
		snap.WriteBandwidth = float64(snap.WriteBytes) / uptimeSeconds
	}

	totalErrors := snap.AllocErrors + snap.ReadErrors + snap.WriteErrors + snap.EraseErrors
	if snap.TotalOps > 0 {
		snap.ErrorRate = float64(totalErrors) / float64(snap.TotalOps) * 100.0
	}

	for i := 0; i < numLatencyBuckets; i++ {
		snap.LatencyHistogram[i] = m.LatencyBuckets[i].Load()
	}

	if opCount > 0 {
		snap.LatencyP50Ns = m.calculatePercentile(0.50)
		snap.LatencyP99Ns = m.calculatePercentile(0.99)
		snap.LatencyP999Ns = m.calculatePercentile(0.999)
	}

	return snap
}

// calculatePercentile estimates the latency at the given percentile (0.0-1.0)
// using linear interpolation between histogram buckets.
func (m *Metrics) calculatePercentile(percentile float64) uint64 {
	totalOps := m.OpCount.Load()
	if totalOps == 0 {
		return 0
	}

	targetCount := uint64(float64(totalOps) * percentile)

	prevBucket := uint64(0)
	for i, bucket := range LatencyBuckets {
		bucketCount := m.LatencyBuckets[i].Load()
		if bucketCount >= targetCount {
			prevCount := uint64(0)
			if i > 0 {
				prevCount = m.LatencyBuckets[i-1].Load()
			}
			if bucketCount == prevCount {
				return bucket
			}
			fraction := float64(targetCount-prevCount) / float64(bucketCount-prevCount)
			return prevBucket + uint64(fraction*float64(bucket-prevBucket))
		}
		prevBucket = bucket
	}

	return LatencyBuckets[numLatencyBuckets-1]
}

// Reset resets all metrics counters. Useful for tests.
func (m *Metrics) Reset() {
	m.AllocOps.Store(0)
	m.ReadOps.Store(0)
	m.WriteOps.Store(0)
	m.EraseOps.Store(0)
	m.ReadBytes.Store(0)
	m.WriteBytes.Store(0)
	m.AllocErrors.Store(0)
	m.ReadErrors.Store(0)
	m.WriteErrors.Store(0)
	m.EraseErrors.Store(0)
	m.ReadyQueueDepthTotal.Store(0)
	m.ReadyQueueDepthCount.Store(0)
	m.MaxReadyQueueDepth.Store(0)
	m.TotalLatencyNs.Store(0)
	m.OpCount.Store(0)
	for i := 0; i < numLatencyBuckets; i++ {
		m.LatencyBuckets[i].Store(0)
	}
	m.StartTime.Store(time.Now().UnixNano())
	m.StopTime.Store(0)
}

// Observer allows pluggable metrics collection, implemented by the
// built-in atomic-counter Metrics and, separately, by a Prometheus-backed
// collector.
type Observer interface {
	ObserveAlloc(latencyNs uint64, success bool)
	ObserveRead(bytes uint64, latencyNs uint64, success bool)
	ObserveWrite(bytes uint64, latencyNs uint64, success bool)
	ObserveErase(latencyNs uint64, success bool)
	ObserveReadyQueueDepth(depth uint32)
}

// NoOpObserver is a no-op implementation of Observer.
type NoOpObserver struct{}

func (NoOpObserver) ObserveAlloc(uint64, bool)             {}
func (NoOpObserver) ObserveRead(uint64, uint64, bool)      {}
func (NoOpObserver) ObserveWrite(uint64, uint64, bool)     {}
func (NoOpObserver) ObserveErase(uint64, bool)             {}
func (NoOpObserver) ObserveReadyQueueDepth(uint32)         {}

// MetricsObserver implements Observer by recording into a Metrics.
type MetricsObserver struct {
	metrics *Metrics
}

// NewMetricsObserver creates an observer that records to the given metrics.
func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

func (o *MetricsObserver) ObserveAlloc(latencyNs uint64, success bool) {
	o.metrics.RecordAlloc(latencyNs, success)
}

func (o *MetricsObserver) ObserveRead(bytes uint64, latencyNs uint64, success bool) {
	o.metrics.RecordRead(bytes, latencyNs, success)
}

func (o *MetricsObserver) ObserveWrite(bytes uint64, latencyNs uint64, success bool) {
	o.metrics.RecordWrite(bytes, latencyNs, success)
}

func (o *MetricsObserver) ObserveErase(latencyNs uint64, success bool) {
	o.metrics.RecordErase(latencyNs, success)
}

func (o *MetricsObserver) ObserveReadyQueueDepth(depth uint32) {
	o.metrics.RecordReadyQueueDepth(depth)
}

var _ Observer = (*MetricsObserver)(nil)
var _ Observer = (*NoOpObserver)(nil)

// MultiObserver fans every Observe call out to each of its members, in
// order. Options.Observer only ever holds one Observer, so this is how
// cmd/ocssd-brokerd runs the in-process atomic-counter Metrics and a
// PrometheusObserver side by side.
type MultiObserver struct {
	observers []Observer
}

// NewMultiObserver combines observers into one Observer. A nil member is
// skipped rather than panicking on the first Observe call.
func NewMultiObserver(observers ...Observer) *MultiObserver {
	return &MultiObserver{observers: observers}
}

func (m *MultiObserver) ObserveAlloc(latencyNs uint64, success bool) {
	for _, o := range m.observers {
		if o != nil {
			o.ObserveAlloc(latencyNs, success)
		}
	}
}

func (m *MultiObserver) ObserveRead(bytes uint64, latencyNs uint64, success bool) {
	for _, o := range m.observers {
		if o != nil {
			o.ObserveRead(bytes, latencyNs, success)
		}
	}
}

func (m *MultiObserver) ObserveWrite(bytes uint64, latencyNs uint64, success bool) {
	for _, o := range m.observers {
		if o != nil {
			o.ObserveWrite(bytes, latencyNs, success)
		}
	}
}

func (m *MultiObserver) ObserveErase(latencyNs uint64, success bool) {
	for _, o := range m.observers {
		if o != nil {
			o.ObserveErase(latencyNs, success)
		}
	}
}

func (m *MultiObserver) ObserveReadyQueueDepth(depth uint32) {
	for _, o := range m.observers {
		if o != nil {
			o.ObserveReadyQueueDepth(depth)
		}
	}
}

var _ Observer = (*MultiObserver)(nil)
