package planq

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// PlanBuilder assembles an execution plan and its steps fluently:
//
//	plan, steps, err := NewPlanBuilder("nightly-sync").
//		Step("extract", "extract-action").
//		Step("load", "load-action").WithInput(map[string]any{"target": "dwh"}).
//		Build()
type PlanBuilder struct {
	label          string
	callerPlanID   *uuid.UUID
	callerActionID *int64
	steps          []PlanStep
	err            error
}

func NewPlanBuilder(label string) *PlanBuilder {
	return &PlanBuilder{label: label}
}

// Step appends a step running the named action.
func (builder *PlanBuilder) Step(name, action string) *PlanBuilder {
	if name == "" || action == "" {
		builder.fail(errors.New("step name and action must not be empty"))

		return builder
	}

	for _, step := range builder.steps {
		if step.Name == name {
			builder.fail(fmt.Errorf("duplicate step name %q", name))

			return builder
		}
	}

	builder.steps = append(builder.steps, PlanStep{
		Name:   name,
		Action: action,
		Status: StepStatusPending,
	})

	return builder
}

// WithInput sets the most recently added step's input.
func (builder *PlanBuilder) WithInput(input any) *PlanBuilder {
	if len(builder.steps) == 0 {
		builder.fail(errors.New("WithInput called before any Step"))

		return builder
	}

	data, err := json.Marshal(input)
	if err != nil {
		builder.fail(fmt.Errorf("marshal step input: %w", err))

		return builder
	}

	builder.steps[len(builder.steps)-1].Input = data

	return builder
}

// CalledBy records that this plan was spawned by an action of another plan.
func (builder *PlanBuilder) CalledBy(planID uuid.UUID, actionID int64) *PlanBuilder {
	builder.callerPlanID = &planID
	builder.callerActionID = &actionID

	return builder
}

// Build returns the plan and its steps, or the first error hit while
// chaining.
func (builder *PlanBuilder) Build() (*ExecutionPlan, []PlanStep, error) {
	if builder.err != nil {
		return nil, nil, builder.err
	}

	if builder.label == "" {
		return nil, nil, errors.New("plan label must not be empty")
	}
	if len(builder.steps) == 0 {
		return nil, nil, errors.New("plan must have at least one step")
	}

	plan := &ExecutionPlan{
		ID:             uuid.New(),
		Label:          builder.label,
		Status:         PlanStatusPending,
		CallerPlanID:   builder.callerPlanID,
		CallerActionID: builder.callerActionID,
	}

	steps := make([]PlanStep, len(builder.steps))
	copy(steps, builder.steps)
	for i := range steps {
		steps[i].PlanID = plan.ID
	}

	return plan, steps, nil
}

func (builder *PlanBuilder) fail(err error) {
	if builder.err == nil {
		builder.err = err
	}
}
