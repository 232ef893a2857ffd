package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/rom8726/planq"
)

type fakeCollector struct {
	planStarted   int
	planCompleted int
	planFailed    int
	running       int

	stepQueued    int
	stepCompleted int
	stepFailed    int

	lastPlan struct {
		planID   string
		label    string
		status   planq.PlanStatus
		duration time.Duration
	}
	lastStep struct {
		planID   string
		label    string
		name     string
		action   string
		duration time.Duration
	}
}

func (f *fakeCollector) RecordPlanStarted(planID string, label string) {
	f.planStarted++
	f.lastPlan.planID = planID
	f.lastPlan.label = label
}

func (f *fakeCollector) RecordPlanCompleted(planID string, label string, duration time.Duration, status planq.PlanStatus) {
	f.planCompleted++
	f.lastPlan.planID = planID
	f.lastPlan.label = label
	f.lastPlan.duration = duration
	f.lastPlan.status = status
}

func (f *fakeCollector) RecordPlanFailed(planID string, label string, duration time.Duration) {
	f.planFailed++
	f.lastPlan.planID = planID
	f.lastPlan.label = label
	f.lastPlan.duration = duration
	f.lastPlan.status = planq.PlanStatusFailed
}

func (f *fakeCollector) RecordStepQueued(planID string, label string, stepName string, action string) {
	f.stepQueued++
	f.lastStep.planID = planID
	f.lastStep.label = label
	f.lastStep.name = stepName
	f.lastStep.action = action
}

func (f *fakeCollector) RecordStepCompleted(planID string, label string, stepName string, action string, duration time.Duration) {
	f.stepCompleted++
	f.lastStep.planID = planID
	f.lastStep.label = label
	f.lastStep.name = stepName
	f.lastStep.action = action
	f.lastStep.duration = duration
}

func (f *fakeCollector) RecordStepFailed(planID string, label string, stepName string, action string, duration time.Duration) {
	f.stepFailed++
	f.lastStep.planID = planID
	f.lastStep.label = label
	f.lastStep.name = stepName
	f.lastStep.action = action
	f.lastStep.duration = duration
}

func (f *fakeCollector) RecordRunningPlans(delta int) {
	f.running += delta
}

func TestMetricsPlugin_PlanLifecycle(t *testing.T) {
	fc := &fakeCollector{}
	p := New(fc)

	plan := &planq.ExecutionPlan{ID: uuid.New(), Label: "etl", Status: planq.PlanStatusRunning}

	if err := p.OnPlanStarted(context.Background(), plan); err != nil {
		t.Fatalf("OnPlanStarted error: %v", err)
	}
	if fc.running != 1 {
		t.Fatalf("running plans = %d, want 1", fc.running)
	}
	time.Sleep(10 * time.Millisecond)

	plan.Status = planq.PlanStatusCompleted
	if err := p.OnPlanCompleted(context.Background(), plan); err != nil {
		t.Fatalf("OnPlanCompleted error: %v", err)
	}

	if fc.planStarted != 1 || fc.planCompleted != 1 {
		t.Fatalf("plan metric counts: started=%d completed=%d", fc.planStarted, fc.planCompleted)
	}
	if fc.running != 0 {
		t.Fatalf("running plans = %d, want 0 after completion", fc.running)
	}
	if fc.lastPlan.planID != plan.ID.String() || fc.lastPlan.label != "etl" {
		t.Fatalf("last plan labels mismatch: %+v", fc.lastPlan)
	}
	if fc.lastPlan.status != planq.PlanStatusCompleted {
		t.Fatalf("last plan status = %s, want completed", fc.lastPlan.status)
	}
	if fc.lastPlan.duration <= 0 {
		t.Fatalf("expected positive duration, got %v", fc.lastPlan.duration)
	}
}

func TestMetricsPlugin_PlanFailedWithoutStartIsNoop(t *testing.T) {
	fc := &fakeCollector{}
	p := New(fc)

	plan := &planq.ExecutionPlan{ID: uuid.New(), Label: "ghost", Status: planq.PlanStatusFailed}

	if err := p.OnPlanFailed(context.Background(), plan); err != nil {
		t.Fatalf("OnPlanFailed error: %v", err)
	}

	if fc.planFailed != 0 || fc.running != 0 {
		t.Fatalf("expected no metrics without start, got failed=%d running=%d", fc.planFailed, fc.running)
	}
}

func TestMetricsPlugin_StepLifecycle(t *testing.T) {
	fc := &fakeCollector{}
	p := New(fc)

	plan := &planq.ExecutionPlan{ID: uuid.New(), Label: "etl", Status: planq.PlanStatusRunning}
	step := &planq.PlanStep{ID: 11, PlanID: plan.ID, Name: "extract", Action: "pull"}

	if err := p.OnStepQueued(context.Background(), plan, step); err != nil {
		t.Fatalf("OnStepQueued error: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	if err := p.OnStepCompleted(context.Background(), plan, step); err != nil {
		t.Fatalf("OnStepCompleted error: %v", err)
	}

	if fc.stepQueued != 1 || fc.stepCompleted != 1 {
		t.Fatalf("step metric counts: queued=%d completed=%d", fc.stepQueued, fc.stepCompleted)
	}
	if fc.lastStep.name != "extract" || fc.lastStep.action != "pull" {
		t.Fatalf("last step labels mismatch: %+v", fc.lastStep)
	}
	if fc.lastStep.duration <= 0 {
		t.Fatalf("expected positive step duration, got %v", fc.lastStep.duration)
	}
}

func TestMetricsPlugin_StepFailedWithoutQueueIsNoop(t *testing.T) {
	fc := &fakeCollector{}
	p := New(fc)

	plan := &planq.ExecutionPlan{ID: uuid.New(), Label: "etl", Status: planq.PlanStatusRunning}
	step := &planq.PlanStep{ID: 22, PlanID: plan.ID, Name: "load", Action: "push"}

	if err := p.OnStepFailed(context.Background(), plan, step, errors.New("x")); err != nil {
		t.Fatalf("OnStepFailed error: %v", err)
	}

	if fc.stepFailed != 0 {
		t.Fatalf("expected no step metrics without queue, got failed=%d", fc.stepFailed)
	}
}

func TestMetricsPlugin_NilCollector(t *testing.T) {
	p := New(nil)

	plan := &planq.ExecutionPlan{ID: uuid.New(), Label: "etl", Status: planq.PlanStatusRunning}
	step := &planq.PlanStep{ID: 33, PlanID: plan.ID, Name: "s", Action: "a"}

	if err := p.OnPlanStarted(context.Background(), plan); err != nil {
		t.Fatalf("OnPlanStarted error: %v", err)
	}
	if err := p.OnStepQueued(context.Background(), plan, step); err != nil {
		t.Fatalf("OnStepQueued error: %v", err)
	}
	if err := p.OnStepCompleted(context.Background(), plan, step); err != nil {
		t.Fatalf("OnStepCompleted error: %v", err)
	}
	if err := p.OnPlanCompleted(context.Background(), plan); err != nil {
		t.Fatalf("OnPlanCompleted error: %v", err)
	}
}
