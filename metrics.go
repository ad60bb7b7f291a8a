package fwiso

import (
	"sync/atomic"
	"time"

	"github.com/ehrlich-b/go-fwiso/internal/interfaces"
)

// LatencyBuckets defines the interrupt-dispatch latency histogram buckets
// in nanoseconds, from 1us to 10s with logarithmic spacing.
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

// Metrics tracks packet and interrupt activity for one context or resource.
type Metrics struct {
	PacketsQueued     atomic.Uint64 // Total packets submitted via queue_chunks
	BytesQueued       atomic.Uint64 // Total payload bytes submitted
	InterruptBatches  atomic.Uint64 // Total interrupt events dispatched
	InterruptPackets  atomic.Uint64 // Total packets reported across all interrupt batches
	DroppedPackets    atomic.Uint64 // Drops reported via ObserveDropped (IR-multi: one per batch not queued)

	TotalLatencyNs atomic.Uint64 // Cumulative interrupt dispatch latency
	BatchCount     atomic.Uint64 // Number of interrupt batches (for average latency)

	LatencyBuckets [numLatencyBuckets]atomic.Uint64

	StartTime atomic.Int64
	StopTime  atomic.Int64
}

// NewMetrics creates a new metrics instance with StartTime set to now.
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// RecordQueued records packets queued via queue_chunks.
func (m *Metrics) RecordQueued(bytes uint64, packets uint32) {
	m.PacketsQueued.Add(uint64(packets))
	m.BytesQueued.Add(bytes)
}

// RecordInterrupt records one dispatched interrupt batch.
func (m *Metrics) RecordInterrupt(batchPackets uint32, latencyNs uint64) {
	m.InterruptBatches.Add(1)
	m.InterruptPackets.Add(uint64(batchPackets))
	m.recordLatency(latencyNs)
}

// RecordDropped records one dropped packet; reason is informational and not
// stored (callers that need per-reason breakdowns should wrap Metrics).
func (m *Metrics) RecordDropped() {
	m.DroppedPackets.Add(1)
}

func (m *Metrics) recordLatency(latencyNs uint64) {
	m.TotalLatencyNs.Add(latencyNs)
	m.BatchCount.Add(1)
	for i, bucket := range LatencyBuckets {
		if latencyNs <= bucket {
			m.LatencyBuckets[i].Add(1)
		}
	}
}

// Stop marks the context as stopped.
func (m *Metrics) Stop() {
	m.StopTime.Store(time.Now().UnixNano())
}

// MetricsSnapshot is a point-in-time snapshot of Metrics.
type MetricsSnapshot struct {
	PacketsQueued    uint64
	BytesQueued      uint64
	InterruptBatches uint64
	InterruptPackets uint64
	DroppedPackets   uint64

	AvgLatencyNs uint64
	UptimeNs     uint64

	LatencyP50Ns uint64
	LatencyP99Ns uint64

	LatencyHistogram [numLatencyBuckets]uint64

	QueueRateHz float64 // interrupt batches per second
	Bandwidth   float64 // queued bytes per second
}

// Snapshot creates a point-in-time snapshot of m.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		PacketsQueued:    m.PacketsQueued.Load(),
		BytesQueued:      m.BytesQueued.Load(),
		InterruptBatches: m.InterruptBatches.Load(),
		InterruptPackets: m.InterruptPackets.Load(),
		DroppedPackets:   m.DroppedPackets.Load(),
	}

	totalLatencyNs := m.TotalLatencyNs.Load()
	batchCount := m.BatchCount.Load()
	if batchCount > 0 {
		snap.AvgLatencyNs = totalLatencyNs / batchCount
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
		snap.QueueRateHz = float64(snap.InterruptBatches) / uptimeSeconds
		snap.Bandwidth = float64(snap.BytesQueued) / uptimeSeconds
	}

	for i := 0; i < numLatencyBuckets; i++ {
		snap.LatencyHistogram[i] = m.LatencyBuckets[i].Load()
	}

	if batchCount > 0 {
		snap.LatencyP50Ns = m.calculatePercentile(0.50)
		snap.LatencyP99Ns = m.calculatePercentile(0.99)
	}

	return snap
}

// calculatePercentile estimates the latency at the given percentile (0.0-1.0)
// using linear interpolation between histogram buckets.
func (m *Metrics) calculatePercentile(percentile float64) uint64 {
	total := m.BatchCount.Load()
	if total == 0 {
		return 0
	}

	targetCount := uint64(float64(total) * percentile)

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

// Reset zeroes all counters; useful for testing.
func (m *Metrics) Reset() {
	m.PacketsQueued.Store(0)
	m.BytesQueued.Store(0)
	m.InterruptBatches.Store(0)
	m.InterruptPackets.Store(0)
	m.DroppedPackets.Store(0)
	m.TotalLatencyNs.Store(0)
	m.BatchCount.Store(0)
	for i := 0; i < numLatencyBuckets; i++ {
		m.LatencyBuckets[i].Store(0)
	}
	m.StartTime.Store(time.Now().UnixNano())
	m.StopTime.Store(0)
}

// Observer receives notifications about packet and interrupt activity. It
// is an alias of the internal interface so dispatch code and public call
// sites can share one type without a circular import.
type Observer = interfaces.Observer

// NoOpObserver is a no-op Observer, the default for contexts that don't
// register one.
type NoOpObserver struct{}

func (NoOpObserver) ObserveQueued(uint64, uint32)      {}
func (NoOpObserver) ObserveInterrupt(uint32, uint64)   {}
func (NoOpObserver) ObserveDropped(string)             {}

// MetricsObserver implements Observer by recording into a Metrics.
type MetricsObserver struct {
	metrics *Metrics
}

// NewMetricsObserver creates an observer that records into m.
func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

func (o *MetricsObserver) ObserveQueued(bytes uint64, packets uint32) {
	o.metrics.RecordQueued(bytes, packets)
}

func (o *MetricsObserver) ObserveInterrupt(batchPackets uint32, latencyNs uint64) {
	o.metrics.RecordInterrupt(batchPackets, latencyNs)
}

func (o *MetricsObserver) ObserveDropped(reason string) {
	_ = reason
	o.metrics.RecordDropped()
}

var _ Observer = (*MetricsObserver)(nil)
var _ Observer = (*NoOpObserver)(nil)
