package planq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var _ Store = (*StoreImpl)(nil)

// StoreImpl is the PostgreSQL store. Methods run against the pool, or join
// the transaction carried in ctx when called under a TxManager callback.
type StoreImpl struct {
	db Tx
}

func NewStore(pool *pgxpool.Pool) *StoreImpl {
	return &StoreImpl{db: pool}
}

func (store *StoreImpl) SavePlan(ctx context.Context, plan *ExecutionPlan) error {
	executor := store.getExecutor(ctx)

	if plan.ID == uuid.Nil {
		plan.ID = uuid.New()
	}
	if plan.Status == "" {
		plan.Status = PlanStatusPending
	}

	const query = `
INSERT INTO planq.execution_plans
	(id, label, status, caller_plan_id, caller_action_id, error, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
ON CONFLICT (id) DO UPDATE
SET label = EXCLUDED.label, status = EXCLUDED.status, error = EXCLUDED.error,
	updated_at = EXCLUDED.updated_at
RETURNING created_at, updated_at`

	return executor.QueryRow(ctx, query,
		plan.ID, plan.Label, plan.Status, plan.CallerPlanID, plan.CallerActionID,
		plan.Error, time.Now(),
	).Scan(&plan.CreatedAt, &plan.UpdatedAt)
}

func (store *StoreImpl) GetPlan(ctx context.Context, planID uuid.UUID) (*ExecutionPlan, error) {
	executor := store.getExecutor(ctx)

	const query = `
SELECT id, label, status, caller_plan_id, caller_action_id, error,
	started_at, finished_at, created_at, updated_at
FROM planq.execution_plans
WHERE id = $1`

	var plan ExecutionPlan

	err := executor.QueryRow(ctx, query, planID).Scan(
		&plan.ID, &plan.Label, &plan.Status, &plan.CallerPlanID, &plan.CallerActionID,
		&plan.Error, &plan.StartedAt, &plan.FinishedAt, &plan.CreatedAt, &plan.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("plan %s: %w", planID, ErrEntityNotFound)
		}

		return nil, err
	}

	return &plan, nil
}

func (store *StoreImpl) UpdatePlanStatus(
	ctx context.Context,
	planID uuid.UUID,
	status PlanStatus,
	errMsg *string,
) error {
	executor := store.getExecutor(ctx)

	const query = `
UPDATE planq.execution_plans
SET status = $2, error = $3, updated_at = $4,
	started_at = CASE WHEN started_at IS NULL AND $2 = 'running' THEN $4 ELSE started_at END,
	finished_at = CASE WHEN $2 IN ('completed', 'failed') THEN $4 ELSE finished_at END
WHERE id = $1`

	tag, err := executor.Exec(ctx, query, planID, status, errMsg, time.Now())
	if err != nil {
		return err
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("plan %s: %w", planID, ErrEntityNotFound)
	}

	return nil
}

func (store *StoreImpl) FindPlans(
	ctx context.Context,
	filter PlanFilter,
	order PlanOrder,
	page Page,
) ([]ExecutionPlan, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	if err := order.Validate(); err != nil {
		return nil, err
	}

	executor := store.getExecutor(ctx)

	query := `
SELECT id, label, status, caller_plan_id, caller_action_id, error,
	started_at, finished_at, created_at, updated_at
FROM planq.execution_plans`

	where, args := planFilterSQL(filter)
	if where != "" {
		query += "\nWHERE " + where
	}

	column := order.Column
	if column == "" {
		column = "created_at"
	}
	query += "\nORDER BY " + column
	if order.Desc {
		query += " DESC"
	}

	if page.Limit > 0 {
		args = append(args, page.Limit)
		query += fmt.Sprintf("\nLIMIT $%d", len(args))
	}
	if page.Offset > 0 {
		args = append(args, page.Offset)
		query += fmt.Sprintf("\nOFFSET $%d", len(args))
	}

	rows, err := executor.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var plans []ExecutionPlan
	for rows.Next() {
		var plan ExecutionPlan

		err := rows.Scan(
			&plan.ID, &plan.Label, &plan.Status, &plan.CallerPlanID, &plan.CallerActionID,
			&plan.Error, &plan.StartedAt, &plan.FinishedAt, &plan.CreatedAt, &plan.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}

		plans = append(plans, plan)
	}

	return plans, rows.Err()
}

func (store *StoreImpl) DeletePlans(
	ctx context.Context,
	filter PlanFilter,
	batchSize int,
) (int64, error) {
	if err := filter.Validate(); err != nil {
		return 0, err
	}
	if batchSize <= 0 {
		return 0, fmt.Errorf("%w: batch size must be positive", ErrInvalidRequest)
	}

	executor := store.getExecutor(ctx)

	where, args := planFilterSQL(filter)
	if where == "" {
		where = "TRUE"
	}

	args = append(args, batchSize)
	query := fmt.Sprintf(`
DELETE FROM planq.execution_plans
WHERE id IN (
	SELECT id FROM planq.execution_plans
	WHERE %s
	LIMIT $%d
)`, where, len(args))

	var total int64
	for {
		tag, err := executor.Exec(ctx, query, args...)
		if err != nil {
			return total, err
		}

		total += tag.RowsAffected()
		if tag.RowsAffected() < int64(batchSize) {
			return total, nil
		}
	}
}

func (store *StoreImpl) CreateStep(ctx context.Context, step *PlanStep) error {
	executor := store.getExecutor(ctx)

	if step.Status == "" {
		step.Status = StepStatusPending
	}

	const query = `
INSERT INTO planq.plan_steps (plan_id, name, action, status, input, attempt, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING id, created_at`

	return executor.QueryRow(ctx, query,
		step.PlanID, step.Name, step.Action, step.Status, step.Input, step.Attempt, time.Now(),
	).Scan(&step.ID, &step.CreatedAt)
}

func (store *StoreImpl) GetStep(ctx context.Context, stepID int64) (*PlanStep, error) {
	executor := store.getExecutor(ctx)

	const query = `
SELECT id, plan_id, name, action, status, input, output, error, attempt,
	queued_at, finished_at, created_at
FROM planq.plan_steps
WHERE id = $1`

	var step PlanStep

	err := executor.QueryRow(ctx, query, stepID).Scan(
		&step.ID, &step.PlanID, &step.Name, &step.Action, &step.Status,
		&step.Input, &step.Output, &step.Error, &step.Attempt,
		&step.QueuedAt, &step.FinishedAt, &step.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("step %d: %w", stepID, ErrEntityNotFound)
		}

		return nil, err
	}

	return &step, nil
}

func (store *StoreImpl) GetStepsByPlan(ctx context.Context, planID uuid.UUID) ([]PlanStep, error) {
	executor := store.getExecutor(ctx)

	const query = `
SELECT id, plan_id, name, action, status, input, output, error, attempt,
	queued_at, finished_at, created_at
FROM planq.plan_steps
WHERE plan_id = $1
ORDER BY id`

	rows, err := executor.Query(ctx, query, planID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var steps []PlanStep
	for rows.Next() {
		var step PlanStep

		err := rows.Scan(
			&step.ID, &step.PlanID, &step.Name, &step.Action, &step.Status,
			&step.Input, &step.Output, &step.Error, &step.Attempt,
			&step.QueuedAt, &step.FinishedAt, &step.CreatedAt,
		)
		if err != nil {
			return nil, err
		}

		steps = append(steps, step)
	}

	return steps, rows.Err()
}

func (store *StoreImpl) UpdateStep(
	ctx context.Context,
	stepID int64,
	status StepStatus,
	output json.RawMessage,
	errMsg *string,
) error {
	executor := store.getExecutor(ctx)

	const query = `
UPDATE planq.plan_steps
SET status = $2, output = $3, error = $4,
	queued_at = CASE WHEN queued_at IS NULL AND $2 = 'queued' THEN $5 ELSE queued_at END,
	finished_at = CASE WHEN $2 IN ('completed', 'failed') THEN $5 ELSE finished_at END
WHERE id = $1`

	tag, err := executor.Exec(ctx, query, stepID, status, output, errMsg, time.Now())
	if err != nil {
		return err
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("step %d: %w", stepID, ErrEntityNotFound)
	}

	return nil
}

func (store *StoreImpl) LogEvent(
	ctx context.Context,
	planID uuid.UUID,
	stepID *int64,
	eventType string,
	payload any,
) error {
	executor := store.getExecutor(ctx)

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	const query = `
INSERT INTO planq.plan_events (plan_id, step_id, event_type, payload, created_at)
VALUES ($1, $2, $3, $4, $5)`

	_, err = executor.Exec(ctx, query, planID, stepID, eventType, payloadJSON, time.Now())

	return err
}

func (store *StoreImpl) getExecutor(ctx context.Context) Tx {
	if tx := TxFromContext(ctx); tx != nil {
		return tx
	}

	return store.db
}

// planFilterSQL renders a validated filter into a WHERE clause and its
// positional arguments.
func planFilterSQL(filter PlanFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)

	if len(filter.Statuses) > 0 {
		statuses := make([]string, 0, len(filter.Statuses))
		for _, s := range filter.Statuses {
			statuses = append(statuses, string(s))
		}

		args = append(args, statuses)
		conds = append(conds, fmt.Sprintf("status = ANY($%d)", len(args)))
	}

	if filter.Label != "" {
		args = append(args, filter.Label)
		conds = append(conds, fmt.Sprintf("label = $%d", len(args)))
	}

	if filter.CallerPlanID != nil {
		args = append(args, *filter.CallerPlanID)
		conds = append(conds, fmt.Sprintf("caller_plan_id = $%d", len(args)))
	}

	if filter.CallerActionID != nil {
		args = append(args, *filter.CallerActionID)
		conds = append(conds, fmt.Sprintf("caller_action_id = $%d", len(args)))
	}

	return strings.Join(conds, " AND "), args
}
