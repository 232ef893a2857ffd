package planq

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type PlanStatus string

const (
	PlanStatusPending   PlanStatus = "pending"
	PlanStatusRunning   PlanStatus = "running"
	PlanStatusCompleted PlanStatus = "completed"
	PlanStatusFailed    PlanStatus = "failed"
)

type StepStatus string

const (
	StepStatusPending   StepStatus = "pending"
	StepStatusQueued    StepStatus = "queued"
	StepStatusCompleted StepStatus = "completed"
	StepStatusFailed    StepStatus = "failed"
)

// ExecutionPlan is one stored workflow run. Sub-plans spawned by an action of
// another plan carry the caller references.
type ExecutionPlan struct {
	ID             uuid.UUID  `json:"id"`
	Label          string     `json:"label"`
	Status         PlanStatus `json:"status"`
	CallerPlanID   *uuid.UUID `json:"caller_plan_id,omitempty"`
	CallerActionID *int64     `json:"caller_action_id,omitempty"`
	Error          *string    `json:"error"`
	StartedAt      *time.Time `json:"started_at"`
	FinishedAt     *time.Time `json:"finished_at"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// PlanStep is the smallest schedulable unit of a plan. Action names a handler
// registered with the engine.
type PlanStep struct {
	ID         int64           `json:"id"`
	PlanID     uuid.UUID       `json:"plan_id"`
	Name       string          `json:"name"`
	Action     string          `json:"action"`
	Status     StepStatus      `json:"status"`
	Input      json.RawMessage `json:"input"`
	Output     json.RawMessage `json:"output"`
	Error      *string         `json:"error"`
	Attempt    int             `json:"attempt"`
	QueuedAt   *time.Time      `json:"queued_at"`
	FinishedAt *time.Time      `json:"finished_at"`
	CreatedAt  time.Time       `json:"created_at"`
}

// WorkItem is an immutable reference to one pending step, tagged with its
// owning plan id. The plan id drives the fair-scheduling rotation.
type WorkItem struct {
	PlanID   uuid.UUID       `json:"plan_id"`
	StepID   int64           `json:"step_id"`
	StepName string          `json:"step_name"`
	Action   string          `json:"action"`
	Input    json.RawMessage `json:"input"`
	Attempt  int             `json:"attempt"`
}

// StepResult is what a worker reports back after running one item.
type StepResult struct {
	PlanID     uuid.UUID       `json:"plan_id"`
	StepID     int64           `json:"step_id"`
	StepName   string          `json:"step_name"`
	WorkerID   string          `json:"worker_id"`
	Output     json.RawMessage `json:"output"`
	Err        error           `json:"-"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
}

type PlanEvent struct {
	ID        int64           `json:"id"`
	PlanID    uuid.UUID       `json:"plan_id"`
	StepID    *int64          `json:"step_id"`
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// PlanFilter narrows FindPlans / DeletePlans. Zero value matches everything.
// Filtering by CallerActionID is only meaningful inside one caller plan, so
// it requires CallerPlanID as well.
type PlanFilter struct {
	Statuses       []PlanStatus `json:"statuses,omitempty"`
	Label          string       `json:"label,omitempty"`
	CallerPlanID   *uuid.UUID   `json:"caller_plan_id,omitempty"`
	CallerActionID *int64       `json:"caller_action_id,omitempty"`
}

func (f PlanFilter) Validate() error {
	if f.CallerActionID != nil && f.CallerPlanID == nil {
		return fmt.Errorf("%w: caller_action_id filter requires caller_plan_id", ErrInvalidRequest)
	}

	return nil
}

// planOrderColumns is the whitelist of sortable plan columns.
var planOrderColumns = map[string]struct{}{
	"id":          {},
	"label":       {},
	"status":      {},
	"started_at":  {},
	"finished_at": {},
	"created_at":  {},
	"updated_at":  {},
}

type PlanOrder struct {
	Column string `json:"column"`
	Desc   bool   `json:"desc"`
}

func (o PlanOrder) Validate() error {
	if o.Column == "" {
		return nil
	}

	if _, ok := planOrderColumns[o.Column]; !ok {
		return fmt.Errorf("%w: unknown order column %q", ErrInvalidRequest, o.Column)
	}

	return nil
}

type Page struct {
	Offset int `json:"offset"`
	Limit  int `json:"limit"`
}

type PlanStats struct {
	Label           string        `json:"label"`
	TotalPlans      int           `json:"total_plans"`
	CompletedPlans  int           `json:"completed_plans"`
	FailedPlans     int           `json:"failed_plans"`
	RunningPlans    int           `json:"running_plans"`
	AverageDuration time.Duration `json:"average_duration"`
}

// PoolStats is a point-in-time snapshot of a pool, obtained via Pool.Stats.
type PoolStats struct {
	Size        int    `json:"size"`
	FreeWorkers int    `json:"free_workers"`
	QueuedJobs  int    `json:"queued_jobs"`
	State       string `json:"state"`
}
