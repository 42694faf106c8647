package health

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type fakeSampler struct {
	usedMB, totalMB, cpuPct float64
	loadAvg                 float64
	hasLoad                 bool
}

func (f fakeSampler) VirtualMemory() (float64, float64, error) { return f.usedMB, f.totalMB, nil }
func (f fakeSampler) CPUPercent() (float64, error)             { return f.cpuPct, nil }
func (f fakeSampler) LoadAverage1() (float64, bool)            { return f.loadAvg, f.hasLoad }

func TestSnapshotPopulatesFields(t *testing.T) {
	start := time.Now().Add(-5 * time.Second)
	c := NewCollector(fakeSampler{usedMB: 512, totalMB: 2048, cpuPct: 12.5, loadAvg: 0.75, hasLoad: true}, prometheus.NewRegistry(), start)

	snap := c.Snapshot(Counts{ActivePlugins: 3, TotalConnections: 5, EventBusSubscribers: 2})

	if snap.ActivePlugins != 3 || snap.TotalConnections != 5 || snap.EventBusSubscribers != 2 {
		t.Errorf("expected counts to pass through, got %+v", snap)
	}
	if snap.MemoryUsedMB != 512 || snap.MemoryTotalMB != 2048 {
		t.Errorf("expected memory figures to pass through, got %+v", snap)
	}
	if snap.UptimeSeconds < 5 {
		t.Errorf("expected uptime >= 5s, got %v", snap.UptimeSeconds)
	}
	if snap.LoadAverage == nil || *snap.LoadAverage != 0.75 {
		t.Errorf("expected load average 0.75, got %v", snap.LoadAverage)
	}
}

func TestSnapshotOmitsLoadAverageWhenUnsupported(t *testing.T) {
	c := NewCollector(fakeSampler{hasLoad: false}, prometheus.NewRegistry(), time.Now())

	snap := c.Snapshot(Counts{})
	if snap.LoadAverage != nil {
		t.Errorf("expected nil LoadAverage when unsupported, got %v", *snap.LoadAverage)
	}
}

func TestSnapshotUptimeMonotonicallyNonDecreasing(t *testing.T) {
	c := NewCollector(fakeSampler{}, prometheus.NewRegistry(), time.Now())

	first := c.Snapshot(Counts{}).UptimeSeconds
	time.Sleep(2 * time.Millisecond)
	second := c.Snapshot(Counts{}).UptimeSeconds

	if second < first {
		t.Errorf("expected non-decreasing uptime, got %v then %v", first, second)
	}
}
