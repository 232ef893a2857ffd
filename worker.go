package planq

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type workerMsg interface {
	isWorkerMsg()
}

// executeMsg hands one work item to a worker. The pool only sends it to a
// worker it has removed from the free set.
type executeMsg struct {
	item WorkItem
}

// workerTerminateMsg asks the worker to stop. The pool only sends it once
// every worker is free, so it never preempts a running item.
type workerTerminateMsg struct {
	reply chan struct{}
}

func (executeMsg) isWorkerMsg()         {}
func (workerTerminateMsg) isWorkerMsg() {}

// Worker runs exactly one work item at a time on its own goroutine. It is
// owned by a single pool for its whole lifetime; the pool tracks whether the
// worker is free or busy, the worker itself only executes and reports.
type Worker struct {
	id       string
	pool     *Pool
	executor ActionExecutor
	mailbox  *Mailbox[workerMsg]
	logger   *zap.Logger
}

func newWorker(pool *Pool, executor ActionExecutor, logger *zap.Logger) *Worker {
	id := uuid.New().String()

	return &Worker{
		id:       id,
		pool:     pool,
		executor: executor,
		mailbox:  NewMailbox[workerMsg](),
		logger:   logger.With(zap.String("worker_id", id)),
	}
}

func (w *Worker) ID() string {
	return w.id
}

// run is the worker's message loop. It exits when the pool asks it to
// terminate or when ctx is cancelled.
func (w *Worker) run(ctx context.Context) error {
	defer w.mailbox.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-w.mailbox.Out():
			if !ok {
				return nil
			}

			switch m := msg.(type) {
			case executeMsg:
				w.execute(ctx, m.item)
			case workerTerminateMsg:
				close(m.reply)

				return nil
			}
		}
	}
}

// execute runs one item through the action collaborator and reports the
// result to the owning pool. There is no mid-item cancellation beyond ctx
// propagation into the handler: an item, once started, runs to completion.
func (w *Worker) execute(ctx context.Context, item WorkItem) {
	startedAt := time.Now()

	w.logger.Debug("executing work item",
		zap.String("plan_id", item.PlanID.String()),
		zap.Int64("step_id", item.StepID),
		zap.String("action", item.Action),
	)

	output, err := w.executor.ExecuteAction(ctx, ActionScope{
		PlanID:   item.PlanID.String(),
		StepID:   item.StepID,
		StepName: item.StepName,
		Action:   item.Action,
		Attempt:  item.Attempt,
	}, item.Input)

	result := StepResult{
		PlanID:     item.PlanID,
		StepID:     item.StepID,
		StepName:   item.StepName,
		WorkerID:   w.id,
		Output:     output,
		Err:        err,
		StartedAt:  startedAt,
		FinishedAt: time.Now(),
	}

	if err != nil {
		w.logger.Warn("work item failed",
			zap.String("plan_id", item.PlanID.String()),
			zap.Int64("step_id", item.StepID),
			zap.Error(err),
		)

		var perr *PersistenceError
		if errors.As(err, &perr) {
			w.pool.tell(persistenceErrorMsg{err: perr})
		}
	}

	w.pool.tell(workerDoneMsg{result: result, worker: w})
}

// terminate is the ask half of the shutdown handshake: it enqueues the
// terminate request and blocks until the worker acknowledges. Only the
// owning pool calls it, and only when the worker is free.
func (w *Worker) terminate(ctx context.Context, reply chan struct{}) error {
	if !w.mailbox.Put(workerTerminateMsg{reply: reply}) {
		return nil
	}

	return awaitReply(ctx, reply)
}
