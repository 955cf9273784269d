// Package metrics exports Prometheus metrics for the reload engine. Counters
// are fed from the event bus; gauges are sampled on scrape.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Iron-Ham/livepatch/internal/event"
)

const namespace = "livepatch"

// Reload results used as the "result" label of unit_reloads_total.
const (
	ResultReloaded = "reloaded"
	ResultFailed   = "failed"
)

// Metrics holds the reload engine's collectors.
type Metrics struct {
	cycles           prometheus.Counter
	cycleDuration    prometheus.Histogram
	unitReloads      *prometheus.CounterVec
	instancesPatched *prometheus.CounterVec
	schedulerUp      prometheus.Gauge

	subscriptions []string
	bus           *event.Bus
}

// Gauges are sampled when metrics are collected. Either may be nil.
type Gauges struct {
	RegistryVersions func() int
	LiveInstances    func() int
}

// New registers the collectors on reg. A nil reg uses the default registry.
func New(reg prometheus.Registerer, gauges Gauges) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	m := &Metrics{
		cycles: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reload",
			Name:      "cycles_total",
			Help:      "Reload cycles that found at least one changed unit",
		}),
		cycleDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "reload",
			Name:      "cycle_duration_seconds",
			Help:      "Duration of reload cycles that found changes",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),
		unitReloads: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reload",
			Name:      "unit_reloads_total",
			Help:      "Unit reinitializations by result",
		}, []string{"result"}),
		instancesPatched: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reload",
			Name:      "instances_patched_total",
			Help:      "Instances whose methods were rebound, by qualified class name",
		}, []string{"class"}),
		schedulerUp: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "up",
			Help:      "1 while the reload scheduler is running",
		}),
	}

	if gauges.RegistryVersions != nil {
		sample := gauges.RegistryVersions
		factory.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "versions",
			Help:      "Class versions held by the registry",
		}, func() float64 { return float64(sample()) })
	}
	if gauges.LiveInstances != nil {
		sample := gauges.LiveInstances
		factory.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "heap",
			Name:      "live_instances",
			Help:      "Instances tracked by the heap population",
		}, func() float64 { return float64(sample()) })
	}

	return m
}

// Attach subscribes m to the engine's events on bus.
func (m *Metrics) Attach(bus *event.Bus) {
	m.Detach()
	m.bus = bus
	m.subscriptions = []string{
		bus.Subscribe(event.TypeCycleCompleted, m.onCycleCompleted),
		bus.Subscribe(event.TypeUnitReloaded, m.onUnitReloaded),
		bus.Subscribe(event.TypeUnitReloadFailed, m.onUnitReloadFailed),
		bus.Subscribe(event.TypeInstancesPatched, m.onInstancesPatched),
		bus.Subscribe(event.TypeSchedulerStarted, m.onSchedulerStarted),
		bus.Subscribe(event.TypeSchedulerStopped, m.onSchedulerStopped),
	}
}

// Detach removes m's subscriptions.
func (m *Metrics) Detach() {
	if m.bus == nil {
		return
	}
	for _, id := range m.subscriptions {
		m.bus.Unsubscribe(id)
	}
	m.subscriptions = nil
	m.bus = nil
}

func (m *Metrics) onCycleCompleted(e event.Event) {
	if ev, ok := e.(event.CycleCompletedEvent); ok {
		m.cycles.Inc()
		m.cycleDuration.Observe(ev.Duration.Seconds())
	}
}

func (m *Metrics) onUnitReloaded(event.Event) {
	m.unitReloads.WithLabelValues(ResultReloaded).Inc()
}

func (m *Metrics) onUnitReloadFailed(event.Event) {
	m.unitReloads.WithLabelValues(ResultFailed).Inc()
}

func (m *Metrics) onInstancesPatched(e event.Event) {
	if ev, ok := e.(event.InstancesPatchedEvent); ok {
		m.instancesPatched.WithLabelValues(ev.QualifiedName).Add(float64(ev.Instances))
	}
}

func (m *Metrics) onSchedulerStarted(event.Event) { m.schedulerUp.Set(1) }
func (m *Metrics) onSchedulerStopped(event.Event) { m.schedulerUp.Set(0) }
