package planq

import (
	"github.com/google/uuid"
)

// JobStorage groups pending work items by their owning plan and pops them
// with cross-plan round-robin fairness and within-plan FIFO order. A plan is
// tracked by the rotation exactly while its queue is non-empty.
//
// Pop does not look at jobs already handed to workers: when idle workers
// outnumber the distinct plans with pending work, one distribution pass can
// dispatch two items of the same plan concurrently. Within-plan serialization
// holds only while busy workers outnumber no plan's queue.
type JobStorage struct {
	queues map[uuid.UUID][]WorkItem
	rotor  *RoundRobin[uuid.UUID]
	total  int
}

func NewJobStorage() *JobStorage {
	return &JobStorage{
		queues: make(map[uuid.UUID][]WorkItem),
		rotor:  NewRoundRobin[uuid.UUID](),
	}
}

// Add appends the item to its plan's queue. The first item for a plan enters
// the plan at the tail of the rotation.
func (s *JobStorage) Add(item WorkItem) {
	queue, tracked := s.queues[item.PlanID]
	if !tracked {
		s.rotor.Add(item.PlanID)
	}

	s.queues[item.PlanID] = append(queue, item)
	s.total++
}

// Pop removes and returns the head of the next plan's queue, or false when
// nothing is pending. A plan whose queue empties leaves the rotation until
// new work re-adds it.
func (s *JobStorage) Pop() (WorkItem, bool) {
	if s.Empty() {
		return WorkItem{}, false
	}

	planID := s.rotor.Next()
	queue := s.queues[planID]
	item := queue[0]

	if len(queue) == 1 {
		delete(s.queues, planID)
		s.rotor.Delete(planID)
	} else {
		s.queues[planID] = queue[1:]
	}

	s.total--

	return item, true
}

func (s *JobStorage) Empty() bool {
	return s.total == 0
}

// Len reports the number of queued items across all plans.
func (s *JobStorage) Len() int {
	return s.total
}

// Plans reports the number of plans currently holding queued work.
func (s *JobStorage) Plans() int {
	return s.rotor.Len()
}
