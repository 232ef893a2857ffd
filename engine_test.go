package planq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func startEngine(t *testing.T, engine *Engine) func() {
	t.Helper()

	runDone := make(chan error, 1)
	go func() {
		runDone <- engine.Run(context.Background())
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		require.NoError(t, engine.Shutdown(ctx))

		select {
		case err := <-runDone:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("engine Run did not return after shutdown")
		}
	}
}

func waitForPlanStatus(t *testing.T, engine *Engine, planID uuid.UUID, want PlanStatus) {
	t.Helper()

	require.Eventually(t, func() bool {
		status, err := engine.PlanStatus(context.Background(), planID)

		return err == nil && status == want
	}, 5*time.Second, 10*time.Millisecond, "plan never reached status %s", want)
}

func TestEngine_PlanRunsToCompletion(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx := context.Background()
	store := NewMemoryStore()
	engine := NewEngine(store, WithEnginePoolSize(2))

	engine.RegisterAction(NewJSONAction("double",
		func(_ context.Context, _ ActionScope, data map[string]any) (map[string]any, error) {
			value, _ := data["value"].(float64)
			data["value"] = value * 2

			return data, nil
		}))

	stop := startEngine(t, engine)
	defer stop()

	plan, steps, err := NewPlanBuilder("doubling").
		Step("first", "double").WithInput(map[string]any{"value": 1}).
		Step("second", "double").WithInput(map[string]any{"value": 2}).
		Step("third", "double").WithInput(map[string]any{"value": 3}).
		Build()
	require.NoError(t, err)

	require.NoError(t, engine.CreatePlan(ctx, plan, steps))
	require.NoError(t, engine.SubmitPlan(ctx, plan.ID))

	waitForPlanStatus(t, engine, plan.ID, PlanStatusCompleted)

	stored, err := engine.Steps(ctx, plan.ID)
	require.NoError(t, err)
	require.Len(t, stored, 3)
	for _, step := range stored {
		assert.Equal(t, StepStatusCompleted, step.Status)
		assert.NotNil(t, step.Output)
		assert.NotNil(t, step.QueuedAt)
		assert.NotNil(t, step.FinishedAt)
	}
	assert.JSONEq(t, `{"value":2}`, string(stored[0].Output))

	// The completion event is logged just after the status flips; wait for it.
	require.Eventually(t, func() bool {
		for _, event := range store.EventsByPlan(plan.ID) {
			if event.EventType == EventPlanCompleted {
				return true
			}
		}

		return false
	}, 5*time.Second, 10*time.Millisecond)

	var eventTypes []string
	for _, event := range store.EventsByPlan(plan.ID) {
		eventTypes = append(eventTypes, event.EventType)
	}
	assert.Contains(t, eventTypes, EventPlanCreated)
	assert.Contains(t, eventTypes, EventPlanStarted)
	assert.Contains(t, eventTypes, EventStepQueued)
	assert.Contains(t, eventTypes, EventStepCompleted)
	assert.Contains(t, eventTypes, EventPlanCompleted)
}

func TestEngine_FailedStepFailsPlan(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx := context.Background()
	store := NewMemoryStore()
	engine := NewEngine(store, WithEnginePoolSize(2))

	engine.RegisterAction(NewJSONAction("ok",
		func(_ context.Context, _ ActionScope, data map[string]any) (map[string]any, error) {
			return data, nil
		}))
	engine.RegisterAction(NewJSONAction("boom",
		func(context.Context, ActionScope, map[string]any) (map[string]any, error) {
			return nil, errors.New("intentional failure")
		}))

	stop := startEngine(t, engine)
	defer stop()

	plan, steps, err := NewPlanBuilder("partly-broken").
		Step("good", "ok").
		Step("bad", "boom").
		Build()
	require.NoError(t, err)

	require.NoError(t, engine.CreatePlan(ctx, plan, steps))
	require.NoError(t, engine.SubmitPlan(ctx, plan.ID))

	waitForPlanStatus(t, engine, plan.ID, PlanStatusFailed)

	stored, err := engine.Steps(ctx, plan.ID)
	require.NoError(t, err)

	byName := make(map[string]PlanStep, len(stored))
	for _, step := range stored {
		byName[step.Name] = step
	}
	assert.Equal(t, StepStatusCompleted, byName["good"].Status)
	assert.Equal(t, StepStatusFailed, byName["bad"].Status)
	require.NotNil(t, byName["bad"].Error)
	assert.Contains(t, *byName["bad"].Error, "intentional failure")
}

func TestEngine_UnregisteredActionFailsStep(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx := context.Background()
	store := NewMemoryStore()
	engine := NewEngine(store, WithEnginePoolSize(1))

	stop := startEngine(t, engine)
	defer stop()

	plan, steps, err := NewPlanBuilder("no-handler").
		Step("orphan", "does-not-exist").
		Build()
	require.NoError(t, err)

	require.NoError(t, engine.CreatePlan(ctx, plan, steps))
	require.NoError(t, engine.SubmitPlan(ctx, plan.ID))

	waitForPlanStatus(t, engine, plan.ID, PlanStatusFailed)

	stored, err := engine.Steps(ctx, plan.ID)
	require.NoError(t, err)
	require.NotNil(t, stored[0].Error)
	assert.Contains(t, *stored[0].Error, "action handler not found")
}

func TestEngine_PanickingActionIsRecovered(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx := context.Background()
	store := NewMemoryStore()
	engine := NewEngine(store, WithEnginePoolSize(1))

	engine.RegisterAction(NewJSONAction("panics",
		func(context.Context, ActionScope, map[string]any) (map[string]any, error) {
			panic("boom")
		}))

	stop := startEngine(t, engine)
	defer stop()

	plan, steps, err := NewPlanBuilder("panicky").
		Step("explode", "panics").
		Build()
	require.NoError(t, err)

	require.NoError(t, engine.CreatePlan(ctx, plan, steps))
	require.NoError(t, engine.SubmitPlan(ctx, plan.ID))

	waitForPlanStatus(t, engine, plan.ID, PlanStatusFailed)

	stored, err := engine.Steps(ctx, plan.ID)
	require.NoError(t, err)
	require.NotNil(t, stored[0].Error)
	assert.Contains(t, *stored[0].Error, "panic in action")
}

func TestEngine_SubmitPlanRequiresPendingStatus(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx := context.Background()
	store := NewMemoryStore()
	engine := NewEngine(store, WithEnginePoolSize(1))

	engine.RegisterAction(NewJSONAction("ok",
		func(_ context.Context, _ ActionScope, data map[string]any) (map[string]any, error) {
			return data, nil
		}))

	stop := startEngine(t, engine)
	defer stop()

	plan, steps, err := NewPlanBuilder("once-only").Step("only", "ok").Build()
	require.NoError(t, err)

	require.NoError(t, engine.CreatePlan(ctx, plan, steps))
	require.NoError(t, engine.SubmitPlan(ctx, plan.ID))

	err = engine.SubmitPlan(ctx, plan.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "want pending")

	waitForPlanStatus(t, engine, plan.ID, PlanStatusCompleted)
}

func TestEngine_SubmitSingleStep(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx := context.Background()
	store := NewMemoryStore()
	engine := NewEngine(store, WithEnginePoolSize(1))

	engine.RegisterAction(NewJSONAction("ok",
		func(_ context.Context, _ ActionScope, data map[string]any) (map[string]any, error) {
			return data, nil
		}))

	stop := startEngine(t, engine)
	defer stop()

	plan, steps, err := NewPlanBuilder("piecemeal").
		Step("one", "ok").
		Step("two", "ok").
		Build()
	require.NoError(t, err)
	require.NoError(t, engine.CreatePlan(ctx, plan, steps))

	stored, err := engine.Steps(ctx, plan.ID)
	require.NoError(t, err)

	require.NoError(t, engine.SubmitStep(ctx, plan.ID, stored[0].ID))

	require.Eventually(t, func() bool {
		step, err := engine.store.GetStep(ctx, stored[0].ID)

		return err == nil && step.Status == StepStatusCompleted
	}, 5*time.Second, 10*time.Millisecond)

	// The second step is still pending, so the plan is not finished.
	status, err := engine.PlanStatus(ctx, plan.ID)
	require.NoError(t, err)
	assert.Equal(t, PlanStatusPending, status)

	require.NoError(t, engine.SubmitStep(ctx, plan.ID, stored[1].ID))
	waitForPlanStatus(t, engine, plan.ID, PlanStatusCompleted)

	// Re-submitting a finished step is rejected.
	err = engine.SubmitStep(ctx, plan.ID, stored[0].ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "want pending")
}

func TestEngine_SubmitAfterShutdown(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx := context.Background()
	store := NewMemoryStore()
	engine := NewEngine(store, WithEnginePoolSize(1))

	engine.RegisterAction(NewJSONAction("ok",
		func(_ context.Context, _ ActionScope, data map[string]any) (map[string]any, error) {
			return data, nil
		}))

	runDone := make(chan error, 1)
	go func() {
		runDone <- engine.Run(ctx)
	}()

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, engine.Shutdown(shutdownCtx))
	require.NoError(t, <-runDone)

	plan, steps, err := NewPlanBuilder("too-late").Step("only", "ok").Build()
	require.NoError(t, err)
	require.NoError(t, engine.CreatePlan(ctx, plan, steps))

	assert.ErrorIs(t, engine.SubmitPlan(ctx, plan.ID), ErrPoolTerminating)
}

func TestEngine_PersistenceErrorReachesHandler(t *testing.T) {
	defer goleak.VerifyNone(t)

	var (
		mu       sync.Mutex
		captured []error
	)

	store := NewMemoryStore()
	engine := NewEngine(store,
		WithEnginePoolSize(1),
		WithEngineErrorHandler(func(err error) {
			mu.Lock()
			defer mu.Unlock()
			captured = append(captured, err)
		}),
	)

	stop := startEngine(t, engine)
	defer stop()

	perr := &PersistenceError{Op: "SavePlan", Attempts: 11, Err: errors.New("db down")}
	engine.HandlePersistenceError(perr)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()

		return len(captured) == 1
	}, 5*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Same(t, perr, captured[0].(*PersistenceError))
}

func TestEngine_PoolStats(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := NewMemoryStore()
	engine := NewEngine(store, WithEnginePoolSize(3))

	stop := startEngine(t, engine)
	defer stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stats, err := engine.PoolStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Size)
	assert.Equal(t, "running", stats.State)
}

func TestEngine_CrossPlanThroughput(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx := context.Background()
	store := NewMemoryStore()
	engine := NewEngine(store, WithEnginePoolSize(2))

	engine.RegisterAction(NewJSONAction("tick",
		func(_ context.Context, _ ActionScope, data map[string]any) (map[string]any, error) {
			return data, nil
		}))

	stop := startEngine(t, engine)
	defer stop()

	var planIDs []uuid.UUID
	for i := 0; i < 5; i++ {
		plan, steps, err := NewPlanBuilder(fmt.Sprintf("plan-%d", i)).
			Step("a", "tick").
			Step("b", "tick").
			Step("c", "tick").
			Build()
		require.NoError(t, err)
		require.NoError(t, engine.CreatePlan(ctx, plan, steps))
		require.NoError(t, engine.SubmitPlan(ctx, plan.ID))
		planIDs = append(planIDs, plan.ID)
	}

	for _, planID := range planIDs {
		waitForPlanStatus(t, engine, planID, PlanStatusCompleted)
	}
}
