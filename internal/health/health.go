// Package health samples host resource usage for GetHealth (spec.md §4.5)
// and exposes the same counts as Prometheus gauges on an optional metrics
// endpoint, grounded in hashicorp-nomad's client/hoststats sampler and
// cuemby-warren's pkg/metrics gauge wiring.
package health

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/pandemicd/pandemic/protocol"
)

// Sampler reports host resource usage. Satisfied by gopsutil in production
// and stubbed in tests that don't want to depend on host state.
type Sampler interface {
	VirtualMemory() (usedMB, totalMB float64, err error)
	CPUPercent() (percent float64, err error)
	LoadAverage1() (avg float64, ok bool)
}

// GopsutilSampler is the production Sampler.
type GopsutilSampler struct{}

func (GopsutilSampler) VirtualMemory() (usedMB, totalMB float64, err error) {
	v, err := mem.VirtualMemory()
	if err != nil {
		return 0, 0, err
	}
	const mb = 1024 * 1024
	return float64(v.Used) / mb, float64(v.Total) / mb, nil
}

func (GopsutilSampler) CPUPercent() (float64, error) {
	percents, err := cpu.Percent(0, false)
	if err != nil || len(percents) == 0 {
		return 0, err
	}
	return percents[0], nil
}

func (GopsutilSampler) LoadAverage1() (float64, bool) {
	avg, err := load.Avg()
	if err != nil {
		return 0, false
	}
	return avg.Load1, true
}

// Collector turns periodic counts from the daemon's dispatch state into a
// HealthMetrics snapshot, and mirrors them onto Prometheus gauges for the
// optional /metrics endpoint (SPEC_FULL.md §C).
type Collector struct {
	sampler   Sampler
	startedAt time.Time

	activePlugins       prometheus.Gauge
	totalConnections    prometheus.Gauge
	eventBusSubscribers prometheus.Gauge
	uptimeSeconds       prometheus.Gauge
}

// NewCollector creates a Collector. registerer is typically
// prometheus.DefaultRegisterer; pass a fresh prometheus.NewRegistry() in
// tests to avoid colliding with other Collectors in the same process.
func NewCollector(sampler Sampler, registerer prometheus.Registerer, startedAt time.Time) *Collector {
	c := &Collector{
		sampler:   sampler,
		startedAt: startedAt,
		activePlugins: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pandemic",
			Name:      "active_plugins",
			Help:      "Number of plugins currently in the registry.",
		}),
		totalConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pandemic",
			Name:      "total_connections",
			Help:      "Number of currently open connections.",
		}),
		eventBusSubscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pandemic",
			Name:      "event_bus_subscribers",
			Help:      "Number of entries in the subscription table.",
		}),
		uptimeSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pandemic",
			Name:      "uptime_seconds",
			Help:      "Seconds since the daemon started listening.",
		}),
	}
	if registerer != nil {
		registerer.MustRegister(c.activePlugins, c.totalConnections, c.eventBusSubscribers, c.uptimeSeconds)
	}
	return c
}

// Counts is the live state the dispatcher supplies; Collector doesn't know
// about registry/bus/conn directly to keep it independently testable.
type Counts struct {
	ActivePlugins       int
	TotalConnections    int
	EventBusSubscribers int
}

// Snapshot builds a HealthMetrics payload and mirrors counts onto the
// Prometheus gauges.
func (c *Collector) Snapshot(counts Counts) protocol.HealthMetrics {
	uptime := time.Since(c.startedAt).Seconds()

	c.activePlugins.Set(float64(counts.ActivePlugins))
	c.totalConnections.Set(float64(counts.TotalConnections))
	c.eventBusSubscribers.Set(float64(counts.EventBusSubscribers))
	c.uptimeSeconds.Set(uptime)

	usedMB, totalMB, _ := c.sampler.VirtualMemory()
	cpuPct, _ := c.sampler.CPUPercent()

	m := protocol.HealthMetrics{
		ActivePlugins:       counts.ActivePlugins,
		TotalConnections:    counts.TotalConnections,
		EventBusSubscribers: counts.EventBusSubscribers,
		UptimeSeconds:       uptime,
		MemoryUsedMB:        usedMB,
		MemoryTotalMB:       totalMB,
		CPUUsagePercent:     cpuPct,
	}
	if avg, ok := c.sampler.LoadAverage1(); ok {
		m.LoadAverage = &avg
	}
	return m
}
