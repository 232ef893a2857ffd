package planq

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type poolMsg interface {
	isPoolMsg()
}

// workMsg submits one item for scheduling.
type workMsg struct {
	item WorkItem
}

// workerDoneMsg reports one finished item and hands the worker back.
type workerDoneMsg struct {
	result StepResult
	worker *Worker
}

// persistenceErrorMsg carries an exhausted persistence failure hit on the
// execution path; the pool forwards it to the core verbatim.
type persistenceErrorMsg struct {
	err error
}

// terminateMsg asks the pool to shut down. The reply is closed once the
// pool is fully terminated.
type terminateMsg struct {
	reply chan struct{}
}

// statsMsg asks for a point-in-time snapshot of the pool.
type statsMsg struct {
	reply chan PoolStats
}

func (workMsg) isPoolMsg()             {}
func (workerDoneMsg) isPoolMsg()       {}
func (persistenceErrorMsg) isPoolMsg() {}
func (terminateMsg) isPoolMsg()        {}
func (statsMsg) isPoolMsg()            {}

// Pool schedules work items onto a fixed set of workers, fairly across
// plans. It is an actor: all state below is touched only by the message
// loop, one message fully processed before the next, so no locking guards
// the storage or the free set.
//
// Fairness lives entirely in JobStorage's round-robin policy; workers are
// interchangeable and picked greedily. When idle workers outnumber the
// distinct plans with pending work, one distribution pass can hand two
// items of the same plan to two workers concurrently (see JobStorage.Pop).
type Pool struct {
	core     Core
	executor ActionExecutor
	size     int
	logger   *zap.Logger

	mailbox    *Mailbox[poolMsg]
	workers    []*Worker
	free       []*Worker
	storage    *JobStorage
	state      stateHolder
	termAsks   []chan struct{}
	terminated chan struct{}
}

// NewPool builds a pool of size workers reporting to core and running items
// through executor. The size is fixed for the pool's lifetime.
func NewPool(core Core, size int, executor ActionExecutor, opts ...PoolOption) *Pool {
	if size <= 0 {
		panic(fmt.Sprintf("planq: pool size must be positive, got %d", size))
	}

	pool := &Pool{
		core:       core,
		executor:   executor,
		size:       size,
		logger:     zap.NewNop(),
		mailbox:    NewMailbox[poolMsg](),
		storage:    NewJobStorage(),
		terminated: make(chan struct{}),
	}

	for _, opt := range opts {
		opt(pool)
	}

	pool.workers = make([]*Worker, size)
	pool.free = make([]*Worker, 0, size)
	for i := 0; i < size; i++ {
		worker := newWorker(pool, executor, pool.logger)
		pool.workers[i] = worker
		pool.free = append(pool.free, worker)
	}

	return pool
}

// Run starts the workers and the pool's message loop, and blocks until the
// pool terminates (nil) or ctx is cancelled (ctx.Err()). Messages submitted
// before Run are processed once it starts.
func (p *Pool) Run(ctx context.Context) error {
	group, ctx := errgroup.WithContext(ctx)

	for _, worker := range p.workers {
		worker := worker
		group.Go(func() error {
			return worker.run(ctx)
		})
	}

	group.Go(func() error {
		return p.loop(ctx)
	})

	return group.Wait()
}

// Submit enqueues one item for scheduling (tell). It fails once termination
// has begun: a terminating pool drains what it has but accepts nothing new.
func (p *Pool) Submit(item WorkItem) error {
	if p.state.load() != stateRunning {
		return ErrPoolTerminating
	}

	if !p.mailbox.Put(workMsg{item: item}) {
		return ErrPoolTerminating
	}

	return nil
}

// Terminate asks the pool to shut down and blocks until every queued item
// has run, every worker has acknowledged, and PoolTerminated has been sent
// to the core. Safe to call more than once.
func (p *Pool) Terminate(ctx context.Context) error {
	reply := make(chan struct{})
	if !p.mailbox.Put(terminateMsg{reply: reply}) {
		return nil
	}

	select {
	case <-reply:
		return nil
	case <-p.terminated:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats asks the pool for a snapshot of its current state.
func (p *Pool) Stats(ctx context.Context) (PoolStats, error) {
	reply := make(chan PoolStats, 1)
	if !p.mailbox.Put(statsMsg{reply: reply}) {
		return p.terminatedStats(), nil
	}

	select {
	case stats := <-reply:
		return stats, nil
	case <-p.terminated:
		return p.terminatedStats(), nil
	case <-ctx.Done():
		return PoolStats{}, ctx.Err()
	}
}

func (p *Pool) terminatedStats() PoolStats {
	return PoolStats{
		Size:        p.size,
		FreeWorkers: p.size,
		State:       stateTerminated.String(),
	}
}

// tell enqueues a message without blocking the sender.
func (p *Pool) tell(msg poolMsg) {
	p.mailbox.Put(msg)
}

func (p *Pool) loop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			p.mailbox.Close()

			return ctx.Err()
		case msg, ok := <-p.mailbox.Out():
			if !ok {
				return nil
			}

			if done := p.handle(ctx, msg); done {
				return nil
			}
		}
	}
}

// handle processes one message to completion. It reports true once the pool
// has terminated and the loop should exit.
func (p *Pool) handle(ctx context.Context, msg poolMsg) bool {
	switch m := msg.(type) {
	case workMsg:
		p.storage.Add(m.item)

		return p.distribute(ctx)
	case workerDoneMsg:
		p.core.HandleWorkDone(m.result)
		p.free = append(p.free, m.worker)

		return p.distribute(ctx)
	case persistenceErrorMsg:
		p.core.HandlePersistenceError(m.err)

		return false
	case terminateMsg:
		p.state.store(stateTerminating)
		p.termAsks = append(p.termAsks, m.reply)

		return p.distribute(ctx)
	case statsMsg:
		m.reply <- PoolStats{
			Size:        p.size,
			FreeWorkers: len(p.free),
			QueuedJobs:  p.storage.Len(),
			State:       p.state.load().String(),
		}

		return false
	default:
		return false
	}
}

// distribute first attempts termination, then greedily assigns queued items
// to free workers. It reports true when the pool terminated.
func (p *Pool) distribute(ctx context.Context) bool {
	if p.tryTerminate(ctx) {
		return true
	}

	for len(p.free) > 0 && !p.storage.Empty() {
		item, _ := p.storage.Pop()

		worker := p.free[len(p.free)-1]
		p.free = p.free[:len(p.free)-1]

		worker.mailbox.Put(executeMsg{item: item})
	}

	return false
}

// tryTerminate completes the shutdown handshake once termination has been
// requested, every worker is free, and no work remains queued. Until then
// it is a no-op; WorkerDone messages re-attempt it as workers drain.
func (p *Pool) tryTerminate(ctx context.Context) bool {
	if p.state.load() != stateTerminating {
		return false
	}

	if len(p.free) != p.size || !p.storage.Empty() {
		return false
	}

	// Fan out the terminate ask to every worker, then collect every
	// acknowledgment. Order of acknowledgment does not matter.
	replies := make([]chan struct{}, 0, len(p.workers))
	for _, worker := range p.workers {
		reply := make(chan struct{})
		if worker.mailbox.Put(workerTerminateMsg{reply: reply}) {
			replies = append(replies, reply)
		}
	}

	for _, reply := range replies {
		if err := awaitReply(ctx, reply); err != nil {
			p.logger.Warn("worker terminate ask interrupted", zap.Error(err))
		}
	}

	p.core.HandlePoolTerminated()

	for _, reply := range p.termAsks {
		close(reply)
	}
	p.termAsks = nil

	p.state.store(stateTerminated)
	close(p.terminated)
	p.mailbox.Close()

	p.logger.Info("pool terminated", zap.Int("size", p.size))

	return true
}
