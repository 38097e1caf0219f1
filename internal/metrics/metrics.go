package metrics

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/DataDog/datadog-go/v5/statsd"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/oikomaticz/oikomaticz-core/internal/hardware"
	"github.com/oikomaticz/oikomaticz-core/internal/infrastructure/config"
	"github.com/oikomaticz/oikomaticz-core/internal/mainworker"
)

const (
	namespace = "oikomaticz"

	// DefaultPath is where the scrape endpoint is mounted when unset.
	DefaultPath = "/metrics"

	statsdInterval = 10 * time.Second
)

// Gauger is the part of a StatsD client the collector uses.
// *statsd.Client satisfies it.
type Gauger interface {
	Gauge(name string, value float64, tags []string, rate float64) error
	Close() error
}

// StatsSource reports mainworker dispatch counters.
type StatsSource interface {
	Stats() mainworker.Stats
}

// Logger defines the logging interface used by the Collector.
type Logger interface {
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any) {}

// Collector exports device values, hardware health and dispatch counters
// to Prometheus and, optionally, to a StatsD agent.
//
// It is a mainworker.Subscriber and a hardware.Listener.
type Collector struct {
	registry *prometheus.Registry

	deviceValue   *prometheus.GaugeVec
	deviceUpdates *prometheus.CounterVec
	hardwareUp    *prometheus.GaugeVec

	statsd Gauger
	logger Logger

	mu     sync.Mutex
	source StatsSource
}

// New creates a collector. A StatsD client is dialled when enabled.
func New(cfg config.MetricsConfig) (*Collector, error) {
	var sink Gauger
	if cfg.StatsD.Enabled {
		prefix := cfg.StatsD.Prefix
		if prefix != "" && !strings.HasSuffix(prefix, ".") {
			prefix += "."
		}
		client, err := statsd.New(cfg.StatsD.Address,
			statsd.WithNamespace(prefix),
			statsd.WithTags(cfg.StatsD.Tags),
		)
		if err != nil {
			return nil, err
		}
		sink = client
	}
	return NewWithSink(sink), nil
}

// NewWithSink creates a collector that sends StatsD gauges to sink, which
// may be nil.
func NewWithSink(sink Gauger) *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		deviceValue: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "device_value",
			Help:      "Last numeric value of a device field.",
		}, []string{"idx", "name", "type", "field"}),
		deviceUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "device_updates_total",
			Help:      "Device changes by source.",
		}, []string{"source"}),
		hardwareUp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "hardware_up",
			Help:      "1 when the hardware adapter is running.",
		}, []string{"id", "name", "type"}),
		statsd: sink,
		logger: noopLogger{},
	}

	c.registry.MustRegister(
		c.deviceValue,
		c.deviceUpdates,
		c.hardwareUp,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// SetLogger sets the logger for StatsD failures.
func (c *Collector) SetLogger(logger Logger) {
	c.logger = logger
}

// SetStatsSource exports the worker's queue and dispatch counters.
func (c *Collector) SetStatsSource(src StatsSource) {
	c.mu.Lock()
	c.source = src
	c.mu.Unlock()

	stat := func(f func(mainworker.Stats) float64) func() float64 {
		return func() float64 { return f(src.Stats()) }
	}
	c.registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "mainworker", Name: "queue_depth",
			Help: "Messages waiting for dispatch.",
		}, stat(func(s mainworker.Stats) float64 { return float64(s.QueueDepth) })),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "mainworker", Name: "processed_total",
			Help: "Messages dispatched.",
		}, stat(func(s mainworker.Stats) float64 { return float64(s.Processed) })),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "mainworker", Name: "dropped_total",
			Help: "Messages dropped because the queue was full.",
		}, stat(func(s mainworker.Stats) float64 { return float64(s.Dropped) })),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "mainworker", Name: "failed_total",
			Help: "Messages that failed to store.",
		}, stat(func(s mainworker.Stats) float64 { return float64(s.Failed) })),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "mainworker", Name: "commands_total",
			Help: "Commands written to hardware.",
		}, stat(func(s mainworker.Stats) float64 { return float64(s.Commands) })),
	)
}

// Handler serves the Prometheus scrape endpoint.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Name implements mainworker.Subscriber.
func (c *Collector) Name() string { return "metrics" }

// DeviceChanged implements mainworker.Subscriber. Every numeric svalue
// field becomes one series; switches export their nvalue.
func (c *Collector) DeviceChanged(_ context.Context, change mainworker.DeviceChange) error {
	d := &change.Device
	c.deviceUpdates.WithLabelValues(string(change.Source)).Inc()

	idx := strconv.FormatInt(d.Idx, 10)
	typ := d.Type.String()

	if d.IsSwitch() {
		c.setDevice(idx, d.Name, typ, "nvalue", float64(d.NValue))
		return nil
	}
	for i := range d.Fields() {
		v, err := d.Field(i)
		if err != nil {
			continue
		}
		c.setDevice(idx, d.Name, typ, strconv.Itoa(i), v)
	}
	return nil
}

func (c *Collector) setDevice(idx, name, typ, field string, v float64) {
	c.deviceValue.WithLabelValues(idx, name, typ, field).Set(v)
	c.gauge("device.value", v, "idx:"+idx, "name:"+name, "type:"+typ, "field:"+field)
}

// HardwareStatusChanged implements hardware.Listener.
func (c *Collector) HardwareStatusChanged(info hardware.Info) {
	up := 0.0
	if info.Status == hardware.StatusRunning {
		up = 1
	}
	id := strconv.Itoa(info.ID)
	c.hardwareUp.WithLabelValues(id, info.Name, info.Type).Set(up)
	c.gauge("hardware.up", up, "id:"+id, "name:"+info.Name, "type:"+info.Type)
}

// Run pushes the worker counters to StatsD until ctx ends. It returns at
// once when no StatsD sink is configured.
func (c *Collector) Run(ctx context.Context) {
	if c.statsd == nil {
		return
	}
	ticker := time.NewTicker(statsdInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.pushStats()
		}
	}
}

func (c *Collector) pushStats() {
	c.mu.Lock()
	src := c.source
	c.mu.Unlock()
	if src == nil {
		return
	}

	s := src.Stats()
	c.gauge("mainworker.queue_depth", float64(s.QueueDepth))
	c.gauge("mainworker.processed", float64(s.Processed))
	c.gauge("mainworker.dropped", float64(s.Dropped))
	c.gauge("mainworker.failed", float64(s.Failed))
	c.gauge("mainworker.commands", float64(s.Commands))
}

func (c *Collector) gauge(name string, v float64, tags ...string) {
	if c.statsd == nil {
		return
	}
	if err := c.statsd.Gauge(name, v, tags, 1); err != nil {
		c.logger.Warn("statsd gauge failed", "metric", name, "error", err)
	}
}

// Close flushes and closes the StatsD client.
func (c *Collector) Close() error {
	if c.statsd == nil {
		return nil
	}
	return c.statsd.Close()
}
