package planq

import (
	"context"
	"sync/atomic"
)

// actorState is the linear lifecycle every actor in this package follows:
// running → terminating → terminated. The owning loop is the only writer;
// the atomic holder lets other goroutines take cheap snapshots (for example
// to reject Submit calls early).
type actorState int32

const (
	stateRunning actorState = iota
	stateTerminating
	stateTerminated
)

func (s actorState) String() string {
	switch s {
	case stateRunning:
		return "running"
	case stateTerminating:
		return "terminating"
	case stateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

type stateHolder struct {
	v atomic.Int32
}

func (h *stateHolder) load() actorState {
	return actorState(h.v.Load())
}

func (h *stateHolder) store(s actorState) {
	h.v.Store(int32(s))
}

// awaitReply blocks the asking side of an ask exchange until the target
// actor closes the reply channel or ctx is cancelled.
func awaitReply(ctx context.Context, reply <-chan struct{}) error {
	select {
	case <-reply:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
