package planq

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

var _ Store = (*SQLiteStore)(nil)

// SQLiteStore provides a lightweight Store backed by SQLite, used for tests
// and single-binary deployments that do not want PostgreSQL.
type SQLiteStore struct {
	db *sql.DB
	mu sync.Mutex // serialize writes; SQLite dislikes concurrent writers
}

// NewSQLiteInMemoryStore creates an in-memory SQLite database and
// initializes the schema. Each store gets its own database.
func NewSQLiteInMemoryStore() (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	_, _ = db.Exec("PRAGMA foreign_keys=ON;")
	_, _ = db.Exec("PRAGMA busy_timeout=5000;")
	// single connection keeps :memory: consistent and avoids locks
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db}
	if err := RunSQLiteMigrations(context.Background(), db); err != nil {
		_ = db.Close()

		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) SavePlan(ctx context.Context, plan *ExecutionPlan) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if plan.ID == uuid.Nil {
		plan.ID = uuid.New()
	}
	if plan.Status == "" {
		plan.Status = PlanStatusPending
	}

	now := time.Now()
	plan.CreatedAt = now
	plan.UpdatedAt = now

	var callerPlanID *string
	if plan.CallerPlanID != nil {
		v := plan.CallerPlanID.String()
		callerPlanID = &v
	}

	const query = `
INSERT INTO execution_plans
	(id, label, status, caller_plan_id, caller_action_id, error, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE
SET label = excluded.label, status = excluded.status, error = excluded.error,
	updated_at = excluded.updated_at`

	_, err := s.db.ExecContext(ctx, query,
		plan.ID.String(), plan.Label, string(plan.Status), callerPlanID,
		plan.CallerActionID, plan.Error, now, now,
	)

	return err
}

func (s *SQLiteStore) GetPlan(ctx context.Context, planID uuid.UUID) (*ExecutionPlan, error) {
	const query = `
SELECT id, label, status, caller_plan_id, caller_action_id, error,
	started_at, finished_at, created_at, updated_at
FROM execution_plans
WHERE id = ?`

	plan, err := scanPlan(s.db.QueryRowContext(ctx, query, planID.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("plan %s: %w", planID, ErrEntityNotFound)
		}

		return nil, err
	}

	return plan, nil
}

func (s *SQLiteStore) UpdatePlanStatus(
	ctx context.Context,
	planID uuid.UUID,
	status PlanStatus,
	errMsg *string,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	const query = `
UPDATE execution_plans
SET status = ?, error = ?, updated_at = ?,
	started_at = CASE WHEN started_at IS NULL AND ? = 'running' THEN ? ELSE started_at END,
	finished_at = CASE WHEN ? IN ('completed', 'failed') THEN ? ELSE finished_at END
WHERE id = ?`

	now := time.Now()
	res, err := s.db.ExecContext(ctx, query,
		string(status), errMsg, now, string(status), now, string(status), now, planID.String(),
	)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("plan %s: %w", planID, ErrEntityNotFound)
	}

	return nil
}

func (s *SQLiteStore) FindPlans(
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

	query := `
SELECT id, label, status, caller_plan_id, caller_action_id, error,
	started_at, finished_at, created_at, updated_at
FROM execution_plans`

	where, args := sqlitePlanFilter(filter)
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
		query += "\nLIMIT ?"
		args = append(args, page.Limit)
	}
	if page.Offset > 0 {
		if page.Limit <= 0 {
			query += "\nLIMIT -1"
		}
		query += "\nOFFSET ?"
		args = append(args, page.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var plans []ExecutionPlan
	for rows.Next() {
		plan, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}

		plans = append(plans, *plan)
	}

	return plans, rows.Err()
}

func (s *SQLiteStore) DeletePlans(
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

	s.mu.Lock()
	defer s.mu.Unlock()

	where, args := sqlitePlanFilter(filter)
	if where == "" {
		where = "TRUE"
	}

	query := fmt.Sprintf(`
DELETE FROM execution_plans
WHERE id IN (
	SELECT id FROM execution_plans
	WHERE %s
	LIMIT ?
)`, where)
	args = append(args, batchSize)

	var total int64
	for {
		res, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			return total, err
		}

		affected, err := res.RowsAffected()
		if err != nil {
			return total, err
		}

		total += affected
		if affected < int64(batchSize) {
			return total, nil
		}
	}
}

func (s *SQLiteStore) CreateStep(ctx context.Context, step *PlanStep) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if step.Status == "" {
		step.Status = StepStatusPending
	}
	step.CreatedAt = time.Now()

	const query = `
INSERT INTO plan_steps (plan_id, name, action, status, input, attempt, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`

	res, err := s.db.ExecContext(ctx, query,
		step.PlanID.String(), step.Name, step.Action, string(step.Status),
		[]byte(step.Input), step.Attempt, step.CreatedAt,
	)
	if err != nil {
		return err
	}

	step.ID, err = res.LastInsertId()

	return err
}

func (s *SQLiteStore) GetStep(ctx context.Context, stepID int64) (*PlanStep, error) {
	const query = `
SELECT id, plan_id, name, action, status, input, output, error, attempt,
	queued_at, finished_at, created_at
FROM plan_steps
WHERE id = ?`

	step, err := scanStep(s.db.QueryRowContext(ctx, query, stepID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("step %d: %w", stepID, ErrEntityNotFound)
		}

		return nil, err
	}

	return step, nil
}

func (s *SQLiteStore) GetStepsByPlan(ctx context.Context, planID uuid.UUID) ([]PlanStep, error) {
	const query = `
SELECT id, plan_id, name, action, status, input, output, error, attempt,
	queued_at, finished_at, created_at
FROM plan_steps
WHERE plan_id = ?
ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, planID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var steps []PlanStep
	for rows.Next() {
		step, err := scanStep(rows)
		if err != nil {
			return nil, err
		}

		steps = append(steps, *step)
	}

	return steps, rows.Err()
}

func (s *SQLiteStore) UpdateStep(
	ctx context.Context,
	stepID int64,
	status StepStatus,
	output json.RawMessage,
	errMsg *string,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	const query = `
UPDATE plan_steps
SET status = ?, output = ?, error = ?,
	queued_at = CASE WHEN queued_at IS NULL AND ? = 'queued' THEN ? ELSE queued_at END,
	finished_at = CASE WHEN ? IN ('completed', 'failed') THEN ? ELSE finished_at END
WHERE id = ?`

	now := time.Now()
	res, err := s.db.ExecContext(ctx, query,
		string(status), []byte(output), errMsg, string(status), now, string(status), now, stepID,
	)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("step %d: %w", stepID, ErrEntityNotFound)
	}

	return nil
}

func (s *SQLiteStore) LogEvent(
	ctx context.Context,
	planID uuid.UUID,
	stepID *int64,
	eventType string,
	payload any,
) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	const query = `
INSERT INTO plan_events (plan_id, step_id, event_type, payload, created_at)
VALUES (?, ?, ?, ?, ?)`

	_, err = s.db.ExecContext(ctx, query,
		planID.String(), stepID, eventType, payloadJSON, time.Now(),
	)

	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPlan(row rowScanner) (*ExecutionPlan, error) {
	var (
		plan         ExecutionPlan
		id           string
		status       string
		callerPlanID sql.NullString
		callerAction sql.NullInt64
		errMsg       sql.NullString
		startedAt    sql.NullTime
		finishedAt   sql.NullTime
	)

	err := row.Scan(
		&id, &plan.Label, &status, &callerPlanID, &callerAction, &errMsg,
		&startedAt, &finishedAt, &plan.CreatedAt, &plan.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	plan.ID, err = uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("parse plan id: %w", err)
	}

	plan.Status = PlanStatus(status)
	if callerPlanID.Valid {
		parsed, err := uuid.Parse(callerPlanID.String)
		if err != nil {
			return nil, fmt.Errorf("parse caller plan id: %w", err)
		}
		plan.CallerPlanID = &parsed
	}
	if callerAction.Valid {
		plan.CallerActionID = &callerAction.Int64
	}
	if errMsg.Valid {
		plan.Error = &errMsg.String
	}
	if startedAt.Valid {
		plan.StartedAt = &startedAt.Time
	}
	if finishedAt.Valid {
		plan.FinishedAt = &finishedAt.Time
	}

	return &plan, nil
}

func scanStep(row rowScanner) (*PlanStep, error) {
	var (
		step       PlanStep
		planID     string
		status     string
		input      []byte
		output     []byte
		errMsg     sql.NullString
		queuedAt   sql.NullTime
		finishedAt sql.NullTime
	)

	err := row.Scan(
		&step.ID, &planID, &step.Name, &step.Action, &status, &input, &output,
		&errMsg, &step.Attempt, &queuedAt, &finishedAt, &step.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	step.PlanID, err = uuid.Parse(planID)
	if err != nil {
		return nil, fmt.Errorf("parse plan id: %w", err)
	}

	step.Status = StepStatus(status)
	step.Input = input
	step.Output = output
	if errMsg.Valid {
		step.Error = &errMsg.String
	}
	if queuedAt.Valid {
		step.QueuedAt = &queuedAt.Time
	}
	if finishedAt.Valid {
		step.FinishedAt = &finishedAt.Time
	}

	return &step, nil
}

func sqlitePlanFilter(filter PlanFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)

	if len(filter.Statuses) > 0 {
		placeholders := make([]string, 0, len(filter.Statuses))
		for _, status := range filter.Statuses {
			placeholders = append(placeholders, "?")
			args = append(args, string(status))
		}
		conds = append(conds, "status IN ("+strings.Join(placeholders, ", ")+")")
	}

	if filter.Label != "" {
		conds = append(conds, "label = ?")
		args = append(args, filter.Label)
	}

	if filter.CallerPlanID != nil {
		conds = append(conds, "caller_plan_id = ?")
		args = append(args, filter.CallerPlanID.String())
	}

	if filter.CallerActionID != nil {
		conds = append(conds, "caller_action_id = ?")
		args = append(args, *filter.CallerActionID)
	}

	return strings.Join(conds, " AND "), args
}
