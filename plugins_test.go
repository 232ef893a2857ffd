package planq

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type hookRecorder struct {
	BasePlugin

	mu    sync.Mutex
	calls []string

	startedErr error
}

func newHookRecorder(name string, priority PluginPriority) *hookRecorder {
	return &hookRecorder{BasePlugin: NewBasePlugin(name, priority)}
}

func (p *hookRecorder) record(hook string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, hook)
}

func (p *hookRecorder) recorded() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	return append([]string(nil), p.calls...)
}

func (p *hookRecorder) OnPlanStarted(context.Context, *ExecutionPlan) error {
	p.record("plan_started")

	return p.startedErr
}

func (p *hookRecorder) OnPlanCompleted(context.Context, *ExecutionPlan) error {
	p.record("plan_completed")

	return nil
}

func (p *hookRecorder) OnPlanFailed(context.Context, *ExecutionPlan) error {
	p.record("plan_failed")

	return nil
}

func (p *hookRecorder) OnStepQueued(context.Context, *ExecutionPlan, *PlanStep) error {
	p.record("step_queued")

	return nil
}

func (p *hookRecorder) OnStepCompleted(context.Context, *ExecutionPlan, *PlanStep) error {
	p.record("step_completed")

	return nil
}

func (p *hookRecorder) OnStepFailed(context.Context, *ExecutionPlan, *PlanStep, error) error {
	p.record("step_failed")

	return nil
}

func TestPluginManager_StartedErrorAborts(t *testing.T) {
	manager := NewPluginManager()
	failing := newHookRecorder("failing", PriorityNormal)
	failing.startedErr = errors.New("veto")
	manager.Register(failing)

	err := manager.ExecutePlanStarted(context.Background(), &ExecutionPlan{})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "plugin failing failed")
}

func TestPluginManager_CompletedErrorsAreSwallowed(t *testing.T) {
	manager := NewPluginManager()
	manager.Register(newHookRecorder("quiet", PriorityNormal))

	assert.NoError(t, manager.ExecutePlanCompleted(context.Background(), &ExecutionPlan{}))
}

func TestPluginManager_RunsAllHooks(t *testing.T) {
	manager := NewPluginManager()
	recorder := newHookRecorder("recorder", PriorityNormal)
	manager.Register(recorder)

	ctx := context.Background()
	plan := &ExecutionPlan{}
	step := &PlanStep{}

	require.NoError(t, manager.ExecutePlanStarted(ctx, plan))
	require.NoError(t, manager.ExecuteStepQueued(ctx, plan, step))
	require.NoError(t, manager.ExecuteStepCompleted(ctx, plan, step))
	require.NoError(t, manager.ExecuteStepFailed(ctx, plan, step, errors.New("x")))
	require.NoError(t, manager.ExecutePlanCompleted(ctx, plan))
	require.NoError(t, manager.ExecutePlanFailed(ctx, plan))

	assert.Equal(t, []string{
		"plan_started", "step_queued", "step_completed",
		"step_failed", "plan_completed", "plan_failed",
	}, recorder.recorded())
}

func TestEngine_PluginHooksObserveLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	manager := NewPluginManager()
	recorder := newHookRecorder("recorder", PriorityNormal)
	manager.Register(recorder)

	engine := NewEngine(store,
		WithEnginePoolSize(1),
		WithEnginePluginManager(manager),
	)
	engine.RegisterAction(NewJSONAction("ok",
		func(_ context.Context, _ ActionScope, data map[string]any) (map[string]any, error) {
			return data, nil
		}))

	stop := startEngine(t, engine)
	defer stop()

	plan, steps, err := NewPlanBuilder("observed").Step("only", "ok").Build()
	require.NoError(t, err)
	require.NoError(t, engine.CreatePlan(ctx, plan, steps))
	require.NoError(t, engine.SubmitPlan(ctx, plan.ID))

	waitForPlanStatus(t, engine, plan.ID, PlanStatusCompleted)

	require.Eventually(t, func() bool {
		return len(recorder.recorded()) == 4
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, []string{
		"plan_started", "step_queued", "step_completed", "plan_completed",
	}, recorder.recorded())
}
