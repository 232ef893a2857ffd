package planq

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultRetryAttempts = 10
	defaultRetryDelay    = time.Second
)

var _ Store = (*RetryingStore)(nil)

// RetryingStore wraps a Store and retries every operation on failure: one
// initial try plus up to retries re-tries, with a fixed delay between
// attempts. ErrEntityNotFound, ErrInvalidRequest and context errors are
// returned as-is; once the ceiling is exhausted the final cause comes back
// wrapped in *PersistenceError.
//
// The delay runs on an injected clock so tests substitute a mock instead of
// sleeping.
type RetryingStore struct {
	store   Store
	retries int
	delay   time.Duration
	clock   clock.Clock
	logger  *zap.Logger
}

type RetryOption func(store *RetryingStore)

func WithRetryAttempts(retries int) RetryOption {
	return func(store *RetryingStore) {
		store.retries = retries
	}
}

func WithRetryDelay(delay time.Duration) RetryOption {
	return func(store *RetryingStore) {
		store.delay = delay
	}
}

func WithRetryClock(clk clock.Clock) RetryOption {
	return func(store *RetryingStore) {
		store.clock = clk
	}
}

func WithRetryLogger(logger *zap.Logger) RetryOption {
	return func(store *RetryingStore) {
		store.logger = logger
	}
}

func NewRetryingStore(store Store, opts ...RetryOption) *RetryingStore {
	rs := &RetryingStore{
		store:   store,
		retries: defaultRetryAttempts,
		delay:   defaultRetryDelay,
		clock:   clock.New(),
		logger:  zap.NewNop(),
	}

	for _, opt := range opts {
		opt(rs)
	}

	return rs
}

// retry runs fn up to 1+retries times. Between attempts it waits on the
// injected clock, bailing out early if ctx is cancelled.
func (rs *RetryingStore) retry(ctx context.Context, op string, fn func() error) error {
	var lastErr error

	attempts := rs.retries + 1
	for attempt := 1; attempt <= attempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		if !retryable(err) {
			return err
		}

		lastErr = err
		rs.logger.Warn("store operation failed",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)

		if attempt == attempts {
			break
		}

		timer := rs.clock.Timer(rs.delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()

			return ctx.Err()
		}
	}

	return &PersistenceError{Op: op, Attempts: attempts, Err: lastErr}
}

func retryable(err error) bool {
	if errors.Is(err, ErrEntityNotFound) || errors.Is(err, ErrInvalidRequest) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	return true
}

func (rs *RetryingStore) SavePlan(ctx context.Context, plan *ExecutionPlan) error {
	return rs.retry(ctx, "SavePlan", func() error {
		return rs.store.SavePlan(ctx, plan)
	})
}

func (rs *RetryingStore) GetPlan(ctx context.Context, planID uuid.UUID) (*ExecutionPlan, error) {
	var plan *ExecutionPlan

	err := rs.retry(ctx, "GetPlan", func() error {
		var err error
		plan, err = rs.store.GetPlan(ctx, planID)

		return err
	})

	return plan, err
}

func (rs *RetryingStore) UpdatePlanStatus(
	ctx context.Context,
	planID uuid.UUID,
	status PlanStatus,
	errMsg *string,
) error {
	return rs.retry(ctx, "UpdatePlanStatus", func() error {
		return rs.store.UpdatePlanStatus(ctx, planID, status, errMsg)
	})
}

func (rs *RetryingStore) FindPlans(
	ctx context.Context,
	filter PlanFilter,
	order PlanOrder,
	page Page,
) ([]ExecutionPlan, error) {
	var plans []ExecutionPlan

	err := rs.retry(ctx, "FindPlans", func() error {
		var err error
		plans, err = rs.store.FindPlans(ctx, filter, order, page)

		return err
	})

	return plans, err
}

func (rs *RetryingStore) DeletePlans(
	ctx context.Context,
	filter PlanFilter,
	batchSize int,
) (int64, error) {
	var count int64

	err := rs.retry(ctx, "DeletePlans", func() error {
		var err error
		count, err = rs.store.DeletePlans(ctx, filter, batchSize)

		return err
	})

	return count, err
}

func (rs *RetryingStore) CreateStep(ctx context.Context, step *PlanStep) error {
	return rs.retry(ctx, "CreateStep", func() error {
		return rs.store.CreateStep(ctx, step)
	})
}

func (rs *RetryingStore) GetStep(ctx context.Context, stepID int64) (*PlanStep, error) {
	var step *PlanStep

	err := rs.retry(ctx, "GetStep", func() error {
		var err error
		step, err = rs.store.GetStep(ctx, stepID)

		return err
	})

	return step, err
}

func (rs *RetryingStore) GetStepsByPlan(ctx context.Context, planID uuid.UUID) ([]PlanStep, error) {
	var steps []PlanStep

	err := rs.retry(ctx, "GetStepsByPlan", func() error {
		var err error
		steps, err = rs.store.GetStepsByPlan(ctx, planID)

		return err
	})

	return steps, err
}

func (rs *RetryingStore) UpdateStep(
	ctx context.Context,
	stepID int64,
	status StepStatus,
	output json.RawMessage,
	errMsg *string,
) error {
	return rs.retry(ctx, "UpdateStep", func() error {
		return rs.store.UpdateStep(ctx, stepID, status, output, errMsg)
	})
}

func (rs *RetryingStore) LogEvent(
	ctx context.Context,
	planID uuid.UUID,
	stepID *int64,
	eventType string,
	payload any,
) error {
	return rs.retry(ctx, "LogEvent", func() error {
		return rs.store.LogEvent(ctx, planID, stepID, eventType, payload)
	})
}
