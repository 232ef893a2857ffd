package planq

const (
	// Event types
	EventPlanCreated   = "plan_created"
	EventPlanStarted   = "plan_started"
	EventPlanCompleted = "plan_completed"
	EventPlanFailed    = "plan_failed"
	EventStepQueued    = "step_queued"
	EventStepCompleted = "step_completed"
	EventStepFailed    = "step_failed"

	// Event data keys
	KeyLabel    = "label"
	KeyStepName = "step_name"
	KeyAction   = "action"
	KeyWorkerID = "worker_id"
	KeyStatus   = "status"
	KeyError    = "error"
	KeySteps    = "steps"
)
