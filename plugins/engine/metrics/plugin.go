package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/rom8726/planq"
)

var _ planq.Plugin = (*MetricsPlugin)(nil)

// MetricsPlugin records plan and step lifecycle metrics through a
// MetricsCollector. Durations are measured from the queued/started hook to
// the completion hook.
type MetricsPlugin struct {
	planq.BasePlugin

	collector      MetricsCollector
	planStartTimes map[string]time.Time
	stepStartTimes map[int64]time.Time
	mu             sync.Mutex
}

func New(collector MetricsCollector) *MetricsPlugin {
	return &MetricsPlugin{
		BasePlugin:     planq.NewBasePlugin("metrics", planq.PriorityHigh),
		collector:      collector,
		planStartTimes: make(map[string]time.Time),
		stepStartTimes: make(map[int64]time.Time),
	}
}

func (p *MetricsPlugin) OnPlanStarted(ctx context.Context, plan *planq.ExecutionPlan) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.planStartTimes[plan.ID.String()] = time.Now()

	if p.collector != nil {
		p.collector.RecordPlanStarted(plan.ID.String(), plan.Label)
		p.collector.RecordRunningPlans(1)
	}

	return nil
}

func (p *MetricsPlugin) OnPlanCompleted(ctx context.Context, plan *planq.ExecutionPlan) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	startTime, ok := p.planStartTimes[plan.ID.String()]
	if !ok {
		return nil
	}

	duration := time.Since(startTime)
	delete(p.planStartTimes, plan.ID.String())

	if p.collector != nil {
		p.collector.RecordPlanCompleted(plan.ID.String(), plan.Label, duration, plan.Status)
		p.collector.RecordRunningPlans(-1)
	}

	return nil
}

func (p *MetricsPlugin) OnPlanFailed(ctx context.Context, plan *planq.ExecutionPlan) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	startTime, ok := p.planStartTimes[plan.ID.String()]
	if !ok {
		return nil
	}

	duration := time.Since(startTime)
	delete(p.planStartTimes, plan.ID.String())

	if p.collector != nil {
		p.collector.RecordPlanFailed(plan.ID.String(), plan.Label, duration)
		p.collector.RecordRunningPlans(-1)
	}

	return nil
}

func (p *MetricsPlugin) OnStepQueued(
	ctx context.Context,
	plan *planq.ExecutionPlan,
	step *planq.PlanStep,
) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stepStartTimes[step.ID] = time.Now()

	if p.collector != nil {
		p.collector.RecordStepQueued(plan.ID.String(), plan.Label, step.Name, step.Action)
	}

	return nil
}

func (p *MetricsPlugin) OnStepCompleted(
	ctx context.Context,
	plan *planq.ExecutionPlan,
	step *planq.PlanStep,
) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	startTime, ok := p.stepStartTimes[step.ID]
	if !ok {
		return nil
	}

	duration := time.Since(startTime)
	delete(p.stepStartTimes, step.ID)

	if p.collector != nil {
		p.collector.RecordStepCompleted(plan.ID.String(), plan.Label, step.Name, step.Action, duration)
	}

	return nil
}

func (p *MetricsPlugin) OnStepFailed(
	ctx context.Context,
	plan *planq.ExecutionPlan,
	step *planq.PlanStep,
	err error,
) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	startTime, ok := p.stepStartTimes[step.ID]
	if !ok {
		return nil
	}

	duration := time.Since(startTime)
	delete(p.stepStartTimes, step.ID)

	if p.collector != nil {
		p.collector.RecordStepFailed(plan.ID.String(), plan.Label, step.Name, step.Action, duration)
	}

	return nil
}
