package planq

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore keeps everything in maps behind one RWMutex. It backs tests
// and the in-memory example; semantics mirror the PostgreSQL store.
type MemoryStore struct {
	mu          sync.RWMutex
	plans       map[uuid.UUID]*ExecutionPlan
	steps       map[int64]*PlanStep
	stepsByPlan map[uuid.UUID][]int64
	events      []*PlanEvent
	nextStepID  int64
	nextEventID int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		plans:       make(map[uuid.UUID]*ExecutionPlan),
		steps:       make(map[int64]*PlanStep),
		stepsByPlan: make(map[uuid.UUID][]int64),
		events:      make([]*PlanEvent, 0),
		nextStepID:  1,
		nextEventID: 1,
	}
}

func (s *MemoryStore) SavePlan(ctx context.Context, plan *ExecutionPlan) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if plan.ID == uuid.Nil {
		plan.ID = uuid.New()
	}
	if plan.Status == "" {
		plan.Status = PlanStatusPending
	}

	now := time.Now()
	if existing, ok := s.plans[plan.ID]; ok {
		plan.CreatedAt = existing.CreatedAt
	} else {
		plan.CreatedAt = now
	}
	plan.UpdatedAt = now

	stored := *plan
	s.plans[plan.ID] = &stored

	return nil
}

func (s *MemoryStore) GetPlan(ctx context.Context, planID uuid.UUID) (*ExecutionPlan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	plan, ok := s.plans[planID]
	if !ok {
		return nil, fmt.Errorf("plan %s: %w", planID, ErrEntityNotFound)
	}

	copied := *plan

	return &copied, nil
}

func (s *MemoryStore) UpdatePlanStatus(
	ctx context.Context,
	planID uuid.UUID,
	status PlanStatus,
	errMsg *string,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	plan, ok := s.plans[planID]
	if !ok {
		return fmt.Errorf("plan %s: %w", planID, ErrEntityNotFound)
	}

	now := time.Now()
	plan.Status = status
	plan.Error = errMsg
	plan.UpdatedAt = now

	if status == PlanStatusRunning && plan.StartedAt == nil {
		plan.StartedAt = &now
	}
	if status == PlanStatusCompleted || status == PlanStatusFailed {
		plan.FinishedAt = &now
	}

	return nil
}

func (s *MemoryStore) FindPlans(
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

	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]ExecutionPlan, 0)
	for _, plan := range s.plans {
		if planMatches(plan, filter) {
			matched = append(matched, *plan)
		}
	}

	sortPlans(matched, order)

	if page.Offset > 0 {
		if page.Offset >= len(matched) {
			return []ExecutionPlan{}, nil
		}
		matched = matched[page.Offset:]
	}
	if page.Limit > 0 && page.Limit < len(matched) {
		matched = matched[:page.Limit]
	}

	return matched, nil
}

func (s *MemoryStore) DeletePlans(
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

	var total int64
	for id, plan := range s.plans {
		if !planMatches(plan, filter) {
			continue
		}

		delete(s.plans, id)
		for _, stepID := range s.stepsByPlan[id] {
			delete(s.steps, stepID)
		}
		delete(s.stepsByPlan, id)
		total++
	}

	return total, nil
}

func (s *MemoryStore) CreateStep(ctx context.Context, step *PlanStep) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.plans[step.PlanID]; !ok {
		return fmt.Errorf("plan %s: %w", step.PlanID, ErrEntityNotFound)
	}

	if step.Status == "" {
		step.Status = StepStatusPending
	}

	step.ID = s.nextStepID
	s.nextStepID++
	step.CreatedAt = time.Now()

	stored := *step
	s.steps[step.ID] = &stored
	s.stepsByPlan[step.PlanID] = append(s.stepsByPlan[step.PlanID], step.ID)

	return nil
}

func (s *MemoryStore) GetStep(ctx context.Context, stepID int64) (*PlanStep, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	step, ok := s.steps[stepID]
	if !ok {
		return nil, fmt.Errorf("step %d: %w", stepID, ErrEntityNotFound)
	}

	copied := *step

	return &copied, nil
}

func (s *MemoryStore) GetStepsByPlan(ctx context.Context, planID uuid.UUID) ([]PlanStep, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stepIDs := s.stepsByPlan[planID]
	steps := make([]PlanStep, 0, len(stepIDs))
	for _, stepID := range stepIDs {
		if step, ok := s.steps[stepID]; ok {
			steps = append(steps, *step)
		}
	}

	return steps, nil
}

func (s *MemoryStore) UpdateStep(
	ctx context.Context,
	stepID int64,
	status StepStatus,
	output json.RawMessage,
	errMsg *string,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	step, ok := s.steps[stepID]
	if !ok {
		return fmt.Errorf("step %d: %w", stepID, ErrEntityNotFound)
	}

	now := time.Now()
	step.Status = status
	step.Output = output
	step.Error = errMsg

	if status == StepStatusQueued && step.QueuedAt == nil {
		step.QueuedAt = &now
	}
	if status == StepStatusCompleted || status == StepStatusFailed {
		step.FinishedAt = &now
	}

	return nil
}

func (s *MemoryStore) LogEvent(
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

	event := &PlanEvent{
		ID:        s.nextEventID,
		PlanID:    planID,
		StepID:    stepID,
		EventType: eventType,
		Payload:   payloadJSON,
		CreatedAt: time.Now(),
	}
	s.nextEventID++
	s.events = append(s.events, event)

	return nil
}

// EventsByPlan returns the logged events for one plan in append order.
// Test helper; the SQL stores expose events through their own tables.
func (s *MemoryStore) EventsByPlan(planID uuid.UUID) []PlanEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var events []PlanEvent
	for _, event := range s.events {
		if event.PlanID == planID {
			events = append(events, *event)
		}
	}

	return events
}

func planMatches(plan *ExecutionPlan, filter PlanFilter) bool {
	if len(filter.Statuses) > 0 {
		found := false
		for _, status := range filter.Statuses {
			if plan.Status == status {
				found = true

				break
			}
		}
		if !found {
			return false
		}
	}

	if filter.Label != "" && plan.Label != filter.Label {
		return false
	}

	if filter.CallerPlanID != nil {
		if plan.CallerPlanID == nil || *plan.CallerPlanID != *filter.CallerPlanID {
			return false
		}
	}

	if filter.CallerActionID != nil {
		if plan.CallerActionID == nil || *plan.CallerActionID != *filter.CallerActionID {
			return false
		}
	}

	return true
}

func sortPlans(plans []ExecutionPlan, order PlanOrder) {
	column := order.Column
	if column == "" {
		column = "created_at"
	}

	sort.SliceStable(plans, func(i, j int) bool {
		less := planLess(&plans[i], &plans[j], column)
		if order.Desc {
			return !less && !planEqual(&plans[i], &plans[j], column)
		}

		return less
	})
}

func planLess(a, b *ExecutionPlan, column string) bool {
	switch column {
	case "id":
		return a.ID.String() < b.ID.String()
	case "label":
		return a.Label < b.Label
	case "status":
		return a.Status < b.Status
	case "started_at":
		return timePtrBefore(a.StartedAt, b.StartedAt)
	case "finished_at":
		return timePtrBefore(a.FinishedAt, b.FinishedAt)
	case "updated_at":
		return a.UpdatedAt.Before(b.UpdatedAt)
	default:
		return a.CreatedAt.Before(b.CreatedAt)
	}
}

func planEqual(a, b *ExecutionPlan, column string) bool {
	return !planLess(a, b, column) && !planLess(b, a, column)
}

func timePtrBefore(a, b *time.Time) bool {
	switch {
	case a == nil && b == nil:
		return false
	case a == nil:
		return true
	case b == nil:
		return false
	default:
		return a.Before(*b)
	}
}
