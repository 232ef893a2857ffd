package telemetry

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/rom8726/planq"
)

var _ planq.Plugin = (*TelemetryPlugin)(nil)

// TelemetryPlugin opens a span per plan on start and a child span per step
// from queue to completion, recording the outcome on each span end.
type TelemetryPlugin struct {
	planq.BasePlugin

	tracer    trace.Tracer
	mu        sync.Mutex
	planCtxs  map[string]context.Context
	planSpans map[string]trace.Span
	stepSpans map[int64]trace.Span
}

func New(tracer trace.Tracer) *TelemetryPlugin {
	if tracer == nil {
		tracer = otel.Tracer("planq")
	}

	return &TelemetryPlugin{
		BasePlugin: planq.NewBasePlugin("telemetry", planq.PriorityHigh),
		tracer:     tracer,
		planCtxs:   make(map[string]context.Context),
		planSpans:  make(map[string]trace.Span),
		stepSpans:  make(map[int64]trace.Span),
	}
}

func (p *TelemetryPlugin) OnPlanStarted(ctx context.Context, plan *planq.ExecutionPlan) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	spanName := fmt.Sprintf("plan.%s", plan.Label)
	planCtx, span := p.tracer.Start(ctx, spanName, trace.WithSpanKind(trace.SpanKindInternal))

	span.SetAttributes(
		attribute.String("plan.id", plan.ID.String()),
		attribute.String("plan.label", plan.Label),
	)

	p.planCtxs[plan.ID.String()] = planCtx
	p.planSpans[plan.ID.String()] = span

	return nil
}

func (p *TelemetryPlugin) OnPlanCompleted(ctx context.Context, plan *planq.ExecutionPlan) error {
	p.endPlanSpan(plan, codes.Ok, "")

	return nil
}

func (p *TelemetryPlugin) OnPlanFailed(ctx context.Context, plan *planq.ExecutionPlan) error {
	msg := "plan failed"
	if plan.Error != nil {
		msg = *plan.Error
	}
	p.endPlanSpan(plan, codes.Error, msg)

	return nil
}

func (p *TelemetryPlugin) OnStepQueued(
	ctx context.Context,
	plan *planq.ExecutionPlan,
	step *planq.PlanStep,
) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	parentCtx, ok := p.planCtxs[plan.ID.String()]
	if !ok {
		parentCtx = ctx
	}

	spanName := fmt.Sprintf("step.%s", step.Name)
	_, span := p.tracer.Start(parentCtx, spanName, trace.WithSpanKind(trace.SpanKindInternal))

	span.SetAttributes(
		attribute.String("plan.id", plan.ID.String()),
		attribute.Int64("step.id", step.ID),
		attribute.String("step.action", step.Action),
		attribute.Int("step.attempt", step.Attempt),
	)

	p.stepSpans[step.ID] = span

	return nil
}

func (p *TelemetryPlugin) OnStepCompleted(
	ctx context.Context,
	plan *planq.ExecutionPlan,
	step *planq.PlanStep,
) error {
	p.endStepSpan(step.ID, codes.Ok, "")

	return nil
}

func (p *TelemetryPlugin) OnStepFailed(
	ctx context.Context,
	plan *planq.ExecutionPlan,
	step *planq.PlanStep,
	err error,
) error {
	msg := "step failed"
	if err != nil {
		msg = err.Error()
	}
	p.endStepSpan(step.ID, codes.Error, msg)

	return nil
}

func (p *TelemetryPlugin) endPlanSpan(plan *planq.ExecutionPlan, code codes.Code, msg string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	span, ok := p.planSpans[plan.ID.String()]
	if !ok {
		return
	}

	span.SetStatus(code, msg)
	span.SetAttributes(attribute.String("plan.status", string(plan.Status)))
	span.End()

	delete(p.planSpans, plan.ID.String())
	delete(p.planCtxs, plan.ID.String())
}

func (p *TelemetryPlugin) endStepSpan(stepID int64, code codes.Code, msg string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	span, ok := p.stepSpans[stepID]
	if !ok {
		return
	}

	span.SetStatus(code, msg)
	span.End()

	delete(p.stepSpans, stepID)
}
