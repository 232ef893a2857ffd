package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/rom8726/planq"
)

var _ MetricsCollector = (*PrometheusCollector)(nil)

type PrometheusCollector struct {
	planStarted   *prometheus.CounterVec
	planCompleted *prometheus.CounterVec
	planFailed    *prometheus.CounterVec
	planDuration  *prometheus.HistogramVec
	runningPlans  prometheus.Gauge

	stepQueued    *prometheus.CounterVec
	stepCompleted *prometheus.CounterVec
	stepFailed    *prometheus.CounterVec
	stepDuration  *prometheus.HistogramVec
}

func NewPrometheusCollector(registry prometheus.Registerer) *PrometheusCollector {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	return &PrometheusCollector{
		planStarted: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "planq_plan_started_total",
				Help: "Total number of execution plans started",
			},
			[]string{"label"},
		),
		planCompleted: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "planq_plan_completed_total",
				Help: "Total number of completed execution plans",
			},
			[]string{"label", "status"},
		),
		planFailed: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "planq_plan_failed_total",
				Help: "Total number of failed execution plans",
			},
			[]string{"label"},
		),
		planDuration: promauto.With(registry).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "planq_plan_duration_seconds",
				Help:    "Duration of plan execution in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"label", "status"},
		),
		runningPlans: promauto.With(registry).NewGauge(
			prometheus.GaugeOpts{
				Name: "planq_running_plans",
				Help: "Number of plans currently running",
			},
		),
		stepQueued: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "planq_step_queued_total",
				Help: "Total number of steps queued for execution",
			},
			[]string{"label", "action"},
		),
		stepCompleted: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "planq_step_completed_total",
				Help: "Total number of completed steps",
			},
			[]string{"label", "action"},
		),
		stepFailed: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "planq_step_failed_total",
				Help: "Total number of failed steps",
			},
			[]string{"label", "action"},
		),
		stepDuration: promauto.With(registry).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "planq_step_duration_seconds",
				Help:    "Duration from step queue to completion in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"label", "action"},
		),
	}
}

func (c *PrometheusCollector) RecordPlanStarted(planID string, label string) {
	c.planStarted.WithLabelValues(label).Inc()
}

func (c *PrometheusCollector) RecordPlanCompleted(
	planID string,
	label string,
	duration time.Duration,
	status planq.PlanStatus,
) {
	c.planCompleted.WithLabelValues(label, string(status)).Inc()
	c.planDuration.WithLabelValues(label, string(status)).Observe(duration.Seconds())
}

func (c *PrometheusCollector) RecordPlanFailed(planID string, label string, duration time.Duration) {
	c.planFailed.WithLabelValues(label).Inc()
	c.planDuration.WithLabelValues(label, string(planq.PlanStatusFailed)).Observe(duration.Seconds())
}

func (c *PrometheusCollector) RecordStepQueued(planID string, label string, stepName string, action string) {
	c.stepQueued.WithLabelValues(label, action).Inc()
}

func (c *PrometheusCollector) RecordStepCompleted(
	planID string,
	label string,
	stepName string,
	action string,
	duration time.Duration,
) {
	c.stepCompleted.WithLabelValues(label, action).Inc()
	c.stepDuration.WithLabelValues(label, action).Observe(duration.Seconds())
}

func (c *PrometheusCollector) RecordStepFailed(
	planID string,
	label string,
	stepName string,
	action string,
	duration time.Duration,
) {
	c.stepFailed.WithLabelValues(label, action).Inc()
	c.stepDuration.WithLabelValues(label, action).Observe(duration.Seconds())
}

func (c *PrometheusCollector) RecordRunningPlans(delta int) {
	c.runningPlans.Add(float64(delta))
}
