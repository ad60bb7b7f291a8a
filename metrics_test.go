package fwiso

import (
	"testing"
	"time"
)

func TestMetrics(t *testing.T) {
	m := NewMetrics()

	snap := m.Snapshot()
	if snap.PacketsQueued != 0 {
		t.Errorf("Expected 0 initial packets queued, got %d", snap.PacketsQueued)
	}

	m.RecordQueued(4096, 4)
	m.RecordQueued(8192, 8)
	m.RecordDropped()

	snap = m.Snapshot()

	if snap.PacketsQueued != 12 {
		t.Errorf("Expected 12 packets queued, got %d", snap.PacketsQueued)
	}
	if snap.BytesQueued != 12288 {
		t.Errorf("Expected 12288 bytes queued, got %d", snap.BytesQueued)
	}
	if snap.DroppedPackets != 1 {
		t.Errorf("Expected 1 dropped packet, got %d", snap.DroppedPackets)
	}
}

func TestMetricsInterrupt(t *testing.T) {
	m := NewMetrics()

	m.RecordInterrupt(4, 1_000_000)  // 1ms
	m.RecordInterrupt(8, 2_000_000) // 2ms

	snap := m.Snapshot()

	if snap.InterruptBatches != 2 {
		t.Errorf("Expected 2 interrupt batches, got %d", snap.InterruptBatches)
	}
	if snap.InterruptPackets != 12 {
		t.Errorf("Expected 12 interrupt packets, got %d", snap.InterruptPackets)
	}

	expectedAvgNs := uint64(1_500_000)
	if snap.AvgLatencyNs != expectedAvgNs {
		t.Errorf("Expected avg latency %d ns, got %d ns", expectedAvgNs, snap.AvgLatencyNs)
	}
}

func TestMetricsUptime(t *testing.T) {
	m := NewMetrics()

	time.Sleep(10 * time.Millisecond)

	snap := m.Snapshot()
	if snap.UptimeNs < 10*1_000_000 {
		t.Errorf("Expected uptime >= 10ms, got %d ns", snap.UptimeNs)
	}

	m.Stop()
	time.Sleep(5 * time.Millisecond)

	snap2 := m.Snapshot()
	if snap2.UptimeNs > snap.UptimeNs+2*1_000_000 {
		t.Errorf("Uptime increased too much after stop: %d -> %d", snap.UptimeNs, snap2.UptimeNs)
	}
}

func TestMetricsReset(t *testing.T) {
	m := NewMetrics()

	m.RecordQueued(4096, 4)
	m.RecordInterrupt(4, 1_000_000)

	snap := m.Snapshot()
	if snap.PacketsQueued == 0 {
		t.Error("Expected some packets queued before reset")
	}

	m.Reset()

	snap = m.Snapshot()
	if snap.PacketsQueued != 0 {
		t.Errorf("Expected 0 packets queued after reset, got %d", snap.PacketsQueued)
	}
	if snap.BytesQueued != 0 {
		t.Errorf("Expected 0 bytes queued after reset, got %d", snap.BytesQueued)
	}
	if snap.InterruptBatches != 0 {
		t.Errorf("Expected 0 interrupt batches after reset, got %d", snap.InterruptBatches)
	}
}

func TestObserver(t *testing.T) {
	observer := &NoOpObserver{}
	observer.ObserveQueued(4096, 4)
	observer.ObserveInterrupt(4, 1_000_000)
	observer.ObserveDropped("truncated suffix")

	m := NewMetrics()
	metricsObserver := NewMetricsObserver(m)

	metricsObserver.ObserveQueued(4096, 4)
	metricsObserver.ObserveInterrupt(4, 1_000_000)
	metricsObserver.ObserveDropped("ring overrun")

	snap := m.Snapshot()
	if snap.PacketsQueued != 4 {
		t.Errorf("Expected 4 packets queued from observer, got %d", snap.PacketsQueued)
	}
	if snap.BytesQueued != 4096 {
		t.Errorf("Expected 4096 bytes queued from observer, got %d", snap.BytesQueued)
	}
	if snap.InterruptBatches != 1 {
		t.Errorf("Expected 1 interrupt batch from observer, got %d", snap.InterruptBatches)
	}
	if snap.DroppedPackets != 1 {
		t.Errorf("Expected 1 dropped packet from observer, got %d", snap.DroppedPackets)
	}
}

func TestMetricsRates(t *testing.T) {
	m := NewMetrics()

	startTime := time.Now()
	m.StartTime.Store(startTime.UnixNano())

	m.RecordQueued(1024, 1)
	m.RecordInterrupt(1, 1_000_000)

	stopTime := startTime.Add(1 * time.Second)
	m.StopTime.Store(stopTime.UnixNano())

	snap := m.Snapshot()

	if snap.QueueRateHz < 0.9 || snap.QueueRateHz > 1.1 {
		t.Errorf("Expected QueueRateHz ~1.0, got %.2f", snap.QueueRateHz)
	}
	if snap.Bandwidth < 1000 || snap.Bandwidth > 1050 {
		t.Errorf("Expected Bandwidth ~1024, got %.2f", snap.Bandwidth)
	}
}

func TestMetricsHistogram(t *testing.T) {
	m := NewMetrics()

	for i := 0; i < 50; i++ {
		m.RecordInterrupt(1, 500_000) // 500us
	}
	for i := 0; i < 49; i++ {
		m.RecordInterrupt(1, 5_000_000) // 5ms
	}
	m.RecordInterrupt(1, 50_000_000) // 50ms, the single slowest batch

	snap := m.Snapshot()

	if snap.InterruptBatches != 100 {
		t.Errorf("Expected 100 interrupt batches, got %d", snap.InterruptBatches)
	}

	if snap.LatencyP50Ns < 100_000 || snap.LatencyP50Ns > 1_000_000 {
		t.Errorf("Expected P50 in 100us-1ms range, got %d ns", snap.LatencyP50Ns)
	}
	if snap.LatencyP99Ns < 5_000_000 || snap.LatencyP99Ns > 100_000_000 {
		t.Errorf("Expected P99 in 5ms-100ms range, got %d ns", snap.LatencyP99Ns)
	}

	totalInBuckets := uint64(0)
	for i := 0; i < len(snap.LatencyHistogram); i++ {
		totalInBuckets += snap.LatencyHistogram[i]
	}
	if totalInBuckets == 0 {
		t.Error("Expected histogram buckets to be populated")
	}
}
