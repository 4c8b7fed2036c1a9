package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mescon/cadence/internal/domain"
	"github.com/mescon/cadence/internal/eventbus"
	"github.com/mescon/cadence/internal/logger"
)

// MetricsService exposes Prometheus metrics for the sampler
type MetricsService struct {
	eventBus eventbus.Publisher
	registry *prometheus.Registry

	// Counters
	ticksTotal        prometheus.Counter
	tickOverrunsTotal prometheus.Counter
	sampleErrorsTotal prometheus.Counter
	summariesTotal    prometheus.Counter

	// Gauges
	cpuLoad      prometheus.Gauge
	cpuSys       prometheus.Gauge
	cpuIdle      prometheus.Gauge
	memoryUsed   prometheus.Gauge
	memoryFree   prometheus.Gauge
	networkRate  *prometheus.GaugeVec
	interval     prometheus.Gauge
	running      prometheus.Gauge
	lastSampleAt prometheus.Gauge

	// Histograms
	tickWork prometheus.Histogram

	mu    sync.Mutex
	runID string
}

// NewRegistry returns a registry preloaded with the Go runtime and process
// collectors, ready to pass to NewMetricsService.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// NewMetricsService creates the metrics and registers them with reg.
func NewMetricsService(eb eventbus.Publisher, reg *prometheus.Registry) *MetricsService {
	m := &MetricsService{
		eventBus: eb,
		registry: reg,

		ticksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cadence_ticks_total",
			Help: "Total number of completed scheduler ticks",
		}),
		tickOverrunsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cadence_tick_overruns_total",
			Help: "Ticks whose work used the whole interval",
		}),
		sampleErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cadence_sample_errors_total",
			Help: "Samples that could not be read",
		}),
		summariesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cadence_summaries_total",
			Help: "Summary windows reported",
		}),

		cpuLoad: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cadence_cpu_load_ratio",
			Help: "Busy share of CPU time over the last tick (0-1)",
		}),
		cpuSys: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cadence_cpu_sys_ratio",
			Help: "Kernel share of CPU time over the last tick (0-1)",
		}),
		cpuIdle: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cadence_cpu_idle_ratio",
			Help: "Idle share of CPU time over the last tick (0-1)",
		}),
		memoryUsed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cadence_memory_used_bytes",
			Help: "Memory in use, excluding reclaimable caches",
		}),
		memoryFree: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cadence_memory_free_bytes",
			Help: "Unused memory",
		}),
		networkRate: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cadence_network_bytes_per_second",
			Help: "Network throughput summed over non-loopback interfaces",
		}, []string{"direction"}), // up, down
		interval: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cadence_interval_seconds",
			Help: "Configured sampling interval",
		}),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cadence_running",
			Help: "1 while a sampling run is in progress",
		}),
		lastSampleAt: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cadence_last_sample_timestamp_seconds",
			Help: "Unix time of the last successful sample",
		}),

		tickWork: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "cadence_tick_work_seconds",
			Help:    "Time spent sampling within each tick",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14), // 0.5ms to ~4s
		}),
	}

	reg.MustRegister(
		m.ticksTotal,
		m.tickOverrunsTotal,
		m.sampleErrorsTotal,
		m.summariesTotal,
		m.cpuLoad,
		m.cpuSys,
		m.cpuIdle,
		m.memoryUsed,
		m.memoryFree,
		m.networkRate,
		m.interval,
		m.running,
		m.lastSampleAt,
		m.tickWork,
	)

	return m
}

// Start subscribes to events and updates metrics
func (m *MetricsService) Start() {
	m.eventBus.Subscribe(domain.RunStarted, m.handleRunStarted)
	m.eventBus.Subscribe(domain.RunStopped, m.handleRunStopped)
	m.eventBus.Subscribe(domain.SampleCollected, m.handleSampleCollected)
	m.eventBus.Subscribe(domain.SampleFailed, m.handleSampleFailed)
	m.eventBus.Subscribe(domain.TickCompleted, m.handleTickCompleted)
	m.eventBus.Subscribe(domain.TickOverrun, m.handleTickOverrun)
	m.eventBus.Subscribe(domain.SummaryReported, m.handleSummaryReported)

	logger.Infof("Metrics service started")
}

// Handler returns the Prometheus HTTP handler for /metrics endpoint
func (m *MetricsService) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RunID returns the run the metrics currently describe.
func (m *MetricsService) RunID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runID
}

// Event handlers

func (m *MetricsService) handleRunStarted(event domain.Event) {
	m.mu.Lock()
	m.runID = event.RunID
	m.mu.Unlock()

	m.running.Set(1)
	if secs, ok := event.GetFloat64("interval_seconds"); ok {
		m.interval.Set(secs)
	}
}

func (m *MetricsService) handleRunStopped(event domain.Event) {
	m.running.Set(0)
}

func (m *MetricsService) handleSampleCollected(event domain.Event) {
	data, ok := event.ParseSampleEventData()
	if !ok {
		logger.Debugf("Metrics: ignoring malformed %s event %d", event.EventType, event.ID)
		return
	}
	m.cpuLoad.Set(data.CPULoad)
	m.cpuSys.Set(data.CPUSys)
	m.cpuIdle.Set(data.CPUIdle)
	m.memoryUsed.Set(float64(data.MemUsed))
	m.memoryFree.Set(float64(data.MemFree))
	m.networkRate.WithLabelValues("up").Set(data.NetUp)
	m.networkRate.WithLabelValues("down").Set(data.NetDown)
	m.lastSampleAt.Set(float64(event.CreatedAt.Unix()))
}

func (m *MetricsService) handleSampleFailed(event domain.Event) {
	m.sampleErrorsTotal.Inc()
}

func (m *MetricsService) handleTickCompleted(event domain.Event) {
	m.ticksTotal.Inc()
	if data, ok := event.ParseTickEventData(); ok {
		m.tickWork.Observe(data.WorkSeconds)
	}
}

func (m *MetricsService) handleTickOverrun(event domain.Event) {
	m.tickOverrunsTotal.Inc()
}

func (m *MetricsService) handleSummaryReported(event domain.Event) {
	m.summariesTotal.Inc()
}
