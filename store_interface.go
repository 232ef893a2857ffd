package planq

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Store is the persistence collaborator: durable load/save/find/delete of
// execution plans, steps and events. Lookups against a missing key return
// ErrEntityNotFound; malformed filters and orderings are rejected with
// ErrInvalidRequest before touching the backend.
type Store interface {
	SavePlan(ctx context.Context, plan *ExecutionPlan) error
	GetPlan(ctx context.Context, planID uuid.UUID) (*ExecutionPlan, error)
	UpdatePlanStatus(ctx context.Context, planID uuid.UUID, status PlanStatus, errMsg *string) error
	FindPlans(ctx context.Context, filter PlanFilter, order PlanOrder, page Page) ([]ExecutionPlan, error)
	DeletePlans(ctx context.Context, filter PlanFilter, batchSize int) (int64, error)
	CreateStep(ctx context.Context, step *PlanStep) error
	GetStep(ctx context.Context, stepID int64) (*PlanStep, error)
	GetStepsByPlan(ctx context.Context, planID uuid.UUID) ([]PlanStep, error)
	UpdateStep(ctx context.Context, stepID int64, status StepStatus, output json.RawMessage, errMsg *string) error
	LogEvent(ctx context.Context, planID uuid.UUID, stepID *int64, eventType string, payload any) error
}

// Tx is the query surface shared by pgxpool.Pool and pgx.Tx, so store
// methods run the same against the pool or inside a transaction.
type Tx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type TxManager interface {
	ReadCommitted(ctx context.Context, fn func(ctx context.Context) error) error
	RepeatableRead(ctx context.Context, fn func(ctx context.Context) error) error
}
