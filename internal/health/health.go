// Package health implements the Observability ambient component
// (SPEC_FULL.md §2, §3): a small health-check registry the agent serves
// at /status plus a set of prometheus counters/gauges served at
// /metrics. Metric
// shapes follow the promauto vector style the pack's jpeg/driver
// package uses for its pipeline metrics.
package health

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

// Status is the health of a single named subsystem.
type Status string

const (
	StatusOK       Status = "ok"
	StatusDegraded Status = "degraded"
	StatusDown     Status = "down"
)

// Check is a point-in-time health observation for one subsystem (e.g.
// "transport", "store", "capture").
type Check struct {
	Name      string    `json:"name"`
	Status    Status    `json:"status"`
	Message   string    `json:"message,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Registry aggregates Checks reported by independent components and
// renders them as a single /status payload.
type Registry struct {
	mu     sync.RWMutex
	checks map[string]Check
}

func NewRegistry() *Registry {
	return &Registry{checks: make(map[string]Check)}
}

// Report records (or overwrites) the current status of a subsystem.
func (r *Registry) Report(name string, status Status, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checks[name] = Check{Name: name, Status: status, Message: message, UpdatedAt: time.Now()}
}

// Snapshot returns a copy of all reported checks plus the aggregate
// status: down if any check is down, degraded if any is degraded,
// otherwise ok.
func (r *Registry) Snapshot() (Status, []Check) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Check, 0, len(r.checks))
	overall := StatusOK
	for _, c := range r.checks {
		out = append(out, c)
		switch c.Status {
		case StatusDown:
			overall = StatusDown
		case StatusDegraded:
			if overall != StatusDown {
				overall = StatusDegraded
			}
		}
	}
	return overall, out
}

// Metrics groups the counters/histograms spec.md's operations surface
// through the orchestrator, transport, ingester, and session store.
// All are registered against the default registry on construction, so
// only one Metrics value should exist per process.
type Metrics struct {
	SessionsOpened   *prometheus.CounterVec
	SessionsClosed   *prometheus.CounterVec
	FramesIngested   prometheus.Counter
	FramesDropped    *prometheus.CounterVec
	TransportRetries prometheus.Counter
	UploadLatency    prometheus.Histogram

	HostCPUPercent  prometheus.Gauge
	HostMemPercent  prometheus.Gauge
	HostDiskPercent prometheus.Gauge

	stopHostSampler chan struct{}
}

// NewMetrics constructs and registers the agent's prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		SessionsOpened: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "edge_agent_sessions_opened_total",
				Help: "Recording sessions opened by reason",
			},
			[]string{"reason"},
		),
		SessionsClosed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "edge_agent_sessions_closed_total",
				Help: "Recording sessions closed",
			},
			[]string{"reason"},
		),
		FramesIngested: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "edge_agent_frames_ingested_total",
				Help: "Frames accepted by the ingester",
			},
		),
		FramesDropped: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "edge_agent_frames_dropped_total",
				Help: "Frames dropped by the ingester's overflow policy",
			},
			[]string{"reason"},
		),
		TransportRetries: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "edge_agent_transport_reconnects_total",
				Help: "AI transport reconnection attempts",
			},
		),
		UploadLatency: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "edge_agent_ingest_upload_latency_ms",
				Help:    "Frame ingester upload latency in milliseconds",
				Buckets: []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
			},
		),
		HostCPUPercent: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "edge_agent_host_cpu_percent",
				Help: "Host CPU utilization as observed by the agent process",
			},
		),
		HostMemPercent: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "edge_agent_host_mem_percent",
				Help: "Host virtual memory utilization as observed by the agent process",
			},
		),
		HostDiskPercent: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "edge_agent_host_disk_percent",
				Help: "Utilization of the filesystem backing the agent's recording path",
			},
		),
	}
}

// SampleHost takes one snapshot of host CPU/memory/disk utilization via
// gopsutil and updates the corresponding gauges. Mirrors the teacher's
// collectors.MetricsCollector.Collect: individual sample failures (a
// missing /proc entry, an unmounted path) are swallowed so one flaky
// reading never stops the others from updating.
func (m *Metrics) SampleHost(diskPath string) {
	if diskPath == "" {
		diskPath = "/"
	}

	if pcts, err := cpu.Percent(0, false); err == nil && len(pcts) > 0 {
		m.HostCPUPercent.Set(pcts[0])
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		m.HostMemPercent.Set(vm.UsedPercent)
	}
	if du, err := disk.Usage(diskPath); err == nil {
		m.HostDiskPercent.Set(du.UsedPercent)
	}
}

// StartHostSampler runs SampleHost on interval until StopHostSampler is
// called. diskPath is the filesystem to report disk usage for (typically
// the agent's recording/archive directory).
func (m *Metrics) StartHostSampler(interval time.Duration, diskPath string) {
	if m.stopHostSampler != nil {
		return
	}
	m.stopHostSampler = make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		m.SampleHost(diskPath)
		for {
			select {
			case <-ticker.C:
				m.SampleHost(diskPath)
			case <-m.stopHostSampler:
				return
			}
		}
	}()
}

// StopHostSampler stops the goroutine started by StartHostSampler, if any.
func (m *Metrics) StopHostSampler() {
	if m.stopHostSampler == nil {
		return
	}
	close(m.stopHostSampler)
	m.stopHostSampler = nil
}
