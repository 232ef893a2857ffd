package planq

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

type PluginPriority int

const (
	PriorityLow    PluginPriority = 0
	PriorityNormal PluginPriority = 50
	PriorityHigh   PluginPriority = 100
)

// Plugin represents a lifecycle hook system for execution plans
type Plugin interface {
	// Name returns unique plugin identifier
	Name() string

	// Priority determines execution order (higher = earlier)
	Priority() PluginPriority

	// Lifecycle hooks
	OnPlanStarted(ctx context.Context, plan *ExecutionPlan) error
	OnPlanCompleted(ctx context.Context, plan *ExecutionPlan) error
	OnPlanFailed(ctx context.Context, plan *ExecutionPlan) error
	OnStepQueued(ctx context.Context, plan *ExecutionPlan, step *PlanStep) error
	OnStepCompleted(ctx context.Context, plan *ExecutionPlan, step *PlanStep) error
	OnStepFailed(ctx context.Context, plan *ExecutionPlan, step *PlanStep, err error) error
}

// BasePlugin provides default no-op implementations
type BasePlugin struct {
	name     string
	priority PluginPriority
}

func NewBasePlugin(name string, priority PluginPriority) BasePlugin {
	return BasePlugin{name: name, priority: priority}
}

func (p BasePlugin) Name() string             { return p.name }
func (p BasePlugin) Priority() PluginPriority { return p.priority }
func (p BasePlugin) OnPlanStarted(context.Context, *ExecutionPlan) error {
	return nil
}
func (p BasePlugin) OnPlanCompleted(context.Context, *ExecutionPlan) error {
	return nil
}
func (p BasePlugin) OnPlanFailed(context.Context, *ExecutionPlan) error {
	return nil
}
func (p BasePlugin) OnStepQueued(context.Context, *ExecutionPlan, *PlanStep) error { return nil }
func (p BasePlugin) OnStepCompleted(context.Context, *ExecutionPlan, *PlanStep) error {
	return nil
}
func (p BasePlugin) OnStepFailed(context.Context, *ExecutionPlan, *PlanStep, error) error {
	return nil
}

// PluginManager manages plugin lifecycle
type PluginManager struct {
	plugins []Plugin
	logger  *zap.Logger
	mu      sync.RWMutex
}

func NewPluginManager() *PluginManager {
	return &PluginManager{
		plugins: make([]Plugin, 0),
		logger:  zap.NewNop(),
	}
}

// SetLogger replaces the manager's logger; the engine installs its own here
// when the manager is attached.
func (pm *PluginManager) SetLogger(logger *zap.Logger) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	pm.logger = logger
}

func (pm *PluginManager) Register(plugin Plugin) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	pm.plugins = append(pm.plugins, plugin)

	sort.Slice(pm.plugins, func(i, j int) bool {
		return pm.plugins[i].Priority() < pm.plugins[j].Priority()
	})
}

func (pm *PluginManager) ExecutePlanStarted(ctx context.Context, plan *ExecutionPlan) error {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	for _, plugin := range pm.plugins {
		if err := plugin.OnPlanStarted(ctx, plan); err != nil {
			return fmt.Errorf("plugin %s failed: %w", plugin.Name(), err)
		}
	}

	return nil
}

func (pm *PluginManager) ExecutePlanCompleted(ctx context.Context, plan *ExecutionPlan) error {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	for _, plugin := range pm.plugins {
		if err := plugin.OnPlanCompleted(ctx, plan); err != nil {
			pm.logger.Error("plugin error on plan completed",
				zap.String("plugin", plugin.Name()), zap.Error(err))
		}
	}

	return nil
}

func (pm *PluginManager) ExecutePlanFailed(ctx context.Context, plan *ExecutionPlan) error {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	for _, plugin := range pm.plugins {
		if err := plugin.OnPlanFailed(ctx, plan); err != nil {
			pm.logger.Error("plugin error on plan failed",
				zap.String("plugin", plugin.Name()), zap.Error(err))
		}
	}

	return nil
}

func (pm *PluginManager) ExecuteStepQueued(ctx context.Context, plan *ExecutionPlan, step *PlanStep) error {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	for _, plugin := range pm.plugins {
		if err := plugin.OnStepQueued(ctx, plan, step); err != nil {
			return fmt.Errorf("plugin %s failed: %w", plugin.Name(), err)
		}
	}

	return nil
}

func (pm *PluginManager) ExecuteStepCompleted(ctx context.Context, plan *ExecutionPlan, step *PlanStep) error {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	for _, plugin := range pm.plugins {
		if err := plugin.OnStepCompleted(ctx, plan, step); err != nil {
			pm.logger.Error("plugin error on step completed",
				zap.String("plugin", plugin.Name()), zap.Error(err))
		}
	}

	return nil
}

func (pm *PluginManager) ExecuteStepFailed(
	ctx context.Context,
	plan *ExecutionPlan,
	step *PlanStep,
	err error,
) error {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	for _, plugin := range pm.plugins {
		if pluginErr := plugin.OnStepFailed(ctx, plan, step, err); pluginErr != nil {
			pm.logger.Error("plugin error on step failed",
				zap.String("plugin", plugin.Name()), zap.Error(pluginErr))
		}
	}

	return nil
}
