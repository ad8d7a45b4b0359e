package telemetry

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sarchlab/rtloop/model"
	"github.com/sarchlab/rtloop/sim/hooking"
	"github.com/sarchlab/rtloop/syncmgr"
)

// PrometheusCollector is a hook that exports the event stream as
// Prometheus metrics. Metrics are registered lazily on first use.
type PrometheusCollector struct {
	reg       prometheus.Registerer
	namespace string
	once      sync.Once

	stageTotal     *prometheus.CounterVec
	stageMisses    *prometheus.CounterVec
	stageLatency   *prometheus.HistogramVec
	deadlineMisses *prometheus.CounterVec
	degraded       *prometheus.CounterVec
	outcomes       *prometheus.CounterVec
	threshold      prometheus.Gauge
}

var _ hooking.Hook = (*PrometheusCollector)(nil)

// NewPrometheus creates a collector. A nil registerer means
// prometheus.DefaultRegisterer and an empty namespace means "rtloop".
func NewPrometheus(
	reg prometheus.Registerer,
	namespace string,
) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	if namespace == "" {
		namespace = "rtloop"
	}

	return &PrometheusCollector{reg: reg, namespace: namespace}
}

func (p *PrometheusCollector) ensureRegistered() {
	p.once.Do(func() {
		p.stageTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "stage",
			Name:      "instances_total",
			Help:      "Completed stage instances by stage.",
		}, []string{"stage"})

		p.stageMisses = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "stage",
			Name:      "deadline_misses_total",
			Help:      "Stage instances that missed their deadline by stage.",
		}, []string{"stage"})

		p.stageLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "stage",
			Name:      "latency_seconds",
			Help:      "Stage instance latency in seconds by stage.",
			Buckets:   prometheus.ExponentialBuckets(10e-6, 2, 14), // 10us .. ~80ms
		}, []string{"stage"})

		p.deadlineMisses = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Name:      "deadline_records_missed_total",
			Help:      "Deadline records with missed=true by stage and tag.",
		}, []string{"stage", "tag"})

		p.degraded = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Name:      "degraded_operations_total",
			Help:      "Contention timeouts, saturations and recalibrations by kind.",
		}, []string{"kind"})

		p.outcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "actuator",
			Name:      "outcomes_total",
			Help:      "Actuator command outcomes by actuator and outcome.",
		}, []string{"actuator", "outcome"})

		p.threshold = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: p.namespace,
			Name:      "anomaly_threshold",
			Help:      "Anomaly threshold after the latest recalibration.",
		})

		p.reg.MustRegister(p.stageTotal)
		p.reg.MustRegister(p.stageMisses)
		p.reg.MustRegister(p.stageLatency)
		p.reg.MustRegister(p.deadlineMisses)
		p.reg.MustRegister(p.degraded)
		p.reg.MustRegister(p.outcomes)
		p.reg.MustRegister(p.threshold)
	})
}

// Func implements hooking.Hook.
func (p *PrometheusCollector) Func(ctx hooking.HookCtx) {
	if ctx.Pos != syncmgr.HookPosEventAppended {
		return
	}

	if e, ok := ctx.Item.(model.Event); ok {
		p.Observe(e)
	}
}

// Observe exports one event.
func (p *PrometheusCollector) Observe(e model.Event) {
	p.ensureRegistered()

	stage := string(e.Stage)

	switch e.Kind {
	case model.EventStage, model.EventActuator:
		p.stageTotal.WithLabelValues(stage).Inc()
		p.stageLatency.WithLabelValues(stage).Observe(e.Latency.Seconds())

		if e.DeadlineMissed {
			p.stageMisses.WithLabelValues(stage).Inc()
		}

		if e.Kind == model.EventActuator {
			p.outcomes.WithLabelValues(e.ActuatorID, e.Outcome).Inc()
		}
	case model.EventDeadline:
		if e.DeadlineMissed {
			p.deadlineMisses.WithLabelValues(stage, e.Tag).Inc()
		}
	case model.EventRecalibration:
		p.degraded.WithLabelValues(e.Kind.String()).Inc()
		p.threshold.Set(e.AchievedValue)
	default:
		p.degraded.WithLabelValues(e.Kind.String()).Inc()
	}
}
