package planq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type engineMsg interface {
	isEngineMsg()
}

type engineWorkDoneMsg struct {
	result StepResult
}

type enginePersistenceErrorMsg struct {
	err error
}

type enginePoolTerminatedMsg struct{}

func (engineWorkDoneMsg) isEngineMsg()         {}
func (enginePersistenceErrorMsg) isEngineMsg() {}
func (enginePoolTerminatedMsg) isEngineMsg()   {}

// Engine glues the scheduling pool to the persistence layer: it turns stored
// pending steps into work items, runs them through registered action
// handlers, and writes results back. It is itself an actor — the pool's Core
// callbacks only enqueue into the engine's mailbox, so the pool's message
// loop never blocks on the store.
type Engine struct {
	store         Store
	txManager     TxManager
	pool          *Pool
	poolSize      int
	handlers      map[string]ActionHandler
	handlersMu    sync.RWMutex
	pluginManager *PluginManager
	logger        *zap.Logger
	errorHandler  func(err error)

	mailbox    *Mailbox[engineMsg]
	terminated chan struct{}
}

var (
	_ Core           = (*Engine)(nil)
	_ ActionExecutor = (*Engine)(nil)
)

func NewEngine(store Store, opts ...EngineOption) *Engine {
	engine := &Engine{
		store:         store,
		txManager:     NewMemoryTxManager(),
		poolSize:      4,
		handlers:      make(map[string]ActionHandler),
		pluginManager: NewPluginManager(),
		logger:        zap.NewNop(),
		mailbox:       NewMailbox[engineMsg](),
		terminated:    make(chan struct{}),
	}

	for _, opt := range opts {
		opt(engine)
	}

	engine.pluginManager.SetLogger(engine.logger)
	if engine.errorHandler == nil {
		engine.errorHandler = func(err error) {
			engine.logger.Error("persistence error", zap.Error(err))
		}
	}

	engine.pool = NewPool(engine, engine.poolSize, engine, WithPoolLogger(engine.logger))

	return engine
}

func (engine *Engine) RegisterAction(handler ActionHandler) {
	engine.handlersMu.Lock()
	defer engine.handlersMu.Unlock()
	engine.handlers[handler.Name()] = handler
}

// ExecuteAction runs the handler registered under scope.Action, with panic
// recovery. Workers call this; it never panics on user code.
func (engine *Engine) ExecuteAction(
	ctx context.Context,
	scope ActionScope,
	input json.RawMessage,
) (json.RawMessage, error) {
	engine.handlersMu.RLock()
	handler, ok := engine.handlers[scope.Action]
	engine.handlersMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("action %q: %w", scope.Action, ErrActionNotFound)
	}

	return wrapActionPanicHandler(handler).Execute(ctx, scope, input)
}

// Run starts the pool and the engine's own message loop, blocking until
// Shutdown completes or ctx is cancelled.
func (engine *Engine) Run(ctx context.Context) error {
	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return engine.pool.Run(ctx)
	})

	group.Go(func() error {
		return engine.loop(ctx)
	})

	return group.Wait()
}

// Shutdown terminates the pool and waits for the full handshake: queued
// items drained, workers acknowledged, PoolTerminated delivered.
func (engine *Engine) Shutdown(ctx context.Context) error {
	if err := engine.pool.Terminate(ctx); err != nil {
		return err
	}

	select {
	case <-engine.terminated:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CreatePlan stores the plan and its steps atomically, together with the
// creation event.
func (engine *Engine) CreatePlan(ctx context.Context, plan *ExecutionPlan, steps []PlanStep) error {
	if len(steps) == 0 {
		return errors.New("plan must have at least one step")
	}

	return engine.txManager.ReadCommitted(ctx, func(ctx context.Context) error {
		if err := engine.store.SavePlan(ctx, plan); err != nil {
			return fmt.Errorf("save plan: %w", err)
		}

		for i := range steps {
			steps[i].PlanID = plan.ID
			if err := engine.store.CreateStep(ctx, &steps[i]); err != nil {
				return fmt.Errorf("create step %q: %w", steps[i].Name, err)
			}
		}

		return engine.store.LogEvent(ctx, plan.ID, nil, EventPlanCreated, map[string]any{
			KeyLabel: plan.Label,
			KeySteps: len(steps),
		})
	})
}

// SubmitPlan marks the plan running and enqueues every pending step into the
// pool. Step order within the plan follows storage order; cross-plan
// interleaving is the pool's round-robin business.
func (engine *Engine) SubmitPlan(ctx context.Context, planID uuid.UUID) error {
	plan, err := engine.store.GetPlan(ctx, planID)
	if err != nil {
		return fmt.Errorf("get plan: %w", err)
	}

	if plan.Status != PlanStatusPending {
		return fmt.Errorf("plan %s is %s, want %s", planID, plan.Status, PlanStatusPending)
	}

	if err := engine.store.UpdatePlanStatus(ctx, planID, PlanStatusRunning, nil); err != nil {
		return fmt.Errorf("update plan status: %w", err)
	}
	plan.Status = PlanStatusRunning

	_ = engine.store.LogEvent(ctx, planID, nil, EventPlanStarted, map[string]any{
		KeyLabel: plan.Label,
	})

	if err := engine.pluginManager.ExecutePlanStarted(ctx, plan); err != nil {
		return err
	}

	steps, err := engine.store.GetStepsByPlan(ctx, planID)
	if err != nil {
		return fmt.Errorf("get steps: %w", err)
	}

	for i := range steps {
		if steps[i].Status != StepStatusPending {
			continue
		}

		if err := engine.queueStep(ctx, plan, &steps[i]); err != nil {
			return err
		}
	}

	return nil
}

// SubmitStep enqueues one already-identified pending step of a running plan.
func (engine *Engine) SubmitStep(ctx context.Context, planID uuid.UUID, stepID int64) error {
	plan, err := engine.store.GetPlan(ctx, planID)
	if err != nil {
		return fmt.Errorf("get plan: %w", err)
	}

	step, err := engine.store.GetStep(ctx, stepID)
	if err != nil {
		return fmt.Errorf("get step: %w", err)
	}

	if step.PlanID != planID {
		return fmt.Errorf("step %d does not belong to plan %s", stepID, planID)
	}
	if step.Status != StepStatusPending {
		return fmt.Errorf("step %d is %s, want %s", stepID, step.Status, StepStatusPending)
	}

	return engine.queueStep(ctx, plan, step)
}

func (engine *Engine) queueStep(ctx context.Context, plan *ExecutionPlan, step *PlanStep) error {
	if err := engine.store.UpdateStep(ctx, step.ID, StepStatusQueued, nil, nil); err != nil {
		return fmt.Errorf("mark step queued: %w", err)
	}
	step.Status = StepStatusQueued

	_ = engine.store.LogEvent(ctx, plan.ID, &step.ID, EventStepQueued, map[string]any{
		KeyStepName: step.Name,
		KeyAction:   step.Action,
	})

	if err := engine.pluginManager.ExecuteStepQueued(ctx, plan, step); err != nil {
		return err
	}

	return engine.pool.Submit(WorkItem{
		PlanID:   plan.ID,
		StepID:   step.ID,
		StepName: step.Name,
		Action:   step.Action,
		Input:    step.Input,
		Attempt:  step.Attempt,
	})
}

// PlanStatus reports the stored status of one plan.
func (engine *Engine) PlanStatus(ctx context.Context, planID uuid.UUID) (PlanStatus, error) {
	plan, err := engine.store.GetPlan(ctx, planID)
	if err != nil {
		return "", err
	}

	return plan.Status, nil
}

// Steps returns the stored steps of one plan.
func (engine *Engine) Steps(ctx context.Context, planID uuid.UUID) ([]PlanStep, error) {
	return engine.store.GetStepsByPlan(ctx, planID)
}

// PoolStats exposes the pool's introspection ask.
func (engine *Engine) PoolStats(ctx context.Context) (PoolStats, error) {
	return engine.pool.Stats(ctx)
}

// HandleWorkDone implements Core. Called inline by the pool's loop, so it
// only enqueues.
func (engine *Engine) HandleWorkDone(result StepResult) {
	engine.mailbox.Put(engineWorkDoneMsg{result: result})
}

// HandlePoolTerminated implements Core.
func (engine *Engine) HandlePoolTerminated() {
	engine.mailbox.Put(enginePoolTerminatedMsg{})
}

// HandlePersistenceError implements Core.
func (engine *Engine) HandlePersistenceError(err error) {
	engine.mailbox.Put(enginePersistenceErrorMsg{err: err})
}

func (engine *Engine) loop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			engine.mailbox.Close()

			return ctx.Err()
		case msg, ok := <-engine.mailbox.Out():
			if !ok {
				return nil
			}

			switch m := msg.(type) {
			case engineWorkDoneMsg:
				engine.onWorkDone(ctx, m.result)
			case enginePersistenceErrorMsg:
				engine.errorHandler(m.err)
			case enginePoolTerminatedMsg:
				close(engine.terminated)
				engine.mailbox.Close()

				return nil
			}
		}
	}
}

// onWorkDone persists one step result and finishes the plan once no steps
// remain in flight. Store failures here are reported through the error
// handler; the loop keeps going.
func (engine *Engine) onWorkDone(ctx context.Context, result StepResult) {
	plan, err := engine.store.GetPlan(ctx, result.PlanID)
	if err != nil {
		engine.reportStoreError(err)

		return
	}

	status := StepStatusCompleted
	eventType := EventStepCompleted
	var errMsg *string

	if result.Err != nil {
		status = StepStatusFailed
		eventType = EventStepFailed
		msg := result.Err.Error()
		errMsg = &msg
	}

	if err := engine.store.UpdateStep(ctx, result.StepID, status, result.Output, errMsg); err != nil {
		engine.reportStoreError(err)

		return
	}

	_ = engine.store.LogEvent(ctx, result.PlanID, &result.StepID, eventType, map[string]any{
		KeyStepName: result.StepName,
		KeyWorkerID: result.WorkerID,
		KeyError:    errMsg,
	})

	step, err := engine.store.GetStep(ctx, result.StepID)
	if err != nil {
		engine.reportStoreError(err)

		return
	}

	if result.Err != nil {
		_ = engine.pluginManager.ExecuteStepFailed(ctx, plan, step, result.Err)
	} else {
		_ = engine.pluginManager.ExecuteStepCompleted(ctx, plan, step)
	}

	engine.finishPlanIfDone(ctx, plan)
}

func (engine *Engine) finishPlanIfDone(ctx context.Context, plan *ExecutionPlan) {
	steps, err := engine.store.GetStepsByPlan(ctx, plan.ID)
	if err != nil {
		engine.reportStoreError(err)

		return
	}

	anyFailed := false
	for _, step := range steps {
		switch step.Status {
		case StepStatusPending, StepStatusQueued:
			return
		case StepStatusFailed:
			anyFailed = true
		}
	}

	status := PlanStatusCompleted
	eventType := EventPlanCompleted
	var errMsg *string

	if anyFailed {
		status = PlanStatusFailed
		eventType = EventPlanFailed
		msg := "one or more steps failed"
		errMsg = &msg
	}

	if err := engine.store.UpdatePlanStatus(ctx, plan.ID, status, errMsg); err != nil {
		engine.reportStoreError(err)

		return
	}
	plan.Status = status
	plan.Error = errMsg

	_ = engine.store.LogEvent(ctx, plan.ID, nil, eventType, map[string]any{
		KeyLabel:  plan.Label,
		KeyStatus: string(status),
	})

	if anyFailed {
		_ = engine.pluginManager.ExecutePlanFailed(ctx, plan)
	} else {
		_ = engine.pluginManager.ExecutePlanCompleted(ctx, plan)
	}

	engine.logger.Info("plan finished",
		zap.String("plan_id", plan.ID.String()),
		zap.String("status", string(status)),
	)
}

func (engine *Engine) reportStoreError(err error) {
	var perr *PersistenceError
	if errors.As(err, &perr) {
		engine.errorHandler(perr)

		return
	}

	engine.logger.Error("store operation failed", zap.Error(err))
}
