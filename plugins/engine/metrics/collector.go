package metrics

import (
	"time"

	"github.com/rom8726/planq"
)

type MetricsCollector interface {
	RecordPlanStarted(planID string, label string)
	RecordPlanCompleted(planID string, label string, duration time.Duration, status planq.PlanStatus)
	RecordPlanFailed(planID string, label string, duration time.Duration)
	RecordStepQueued(planID string, label string, stepName string, action string)
	RecordStepCompleted(planID string, label string, stepName string, action string, duration time.Duration)
	RecordStepFailed(planID string, label string, stepName string, action string, duration time.Duration)
	RecordRunningPlans(delta int)
}
