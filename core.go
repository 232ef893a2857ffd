package planq

// Core is the upstream collaborator the pool reports to. The pool calls
// these methods inline from its own message loop, so implementations must
// not block: hand the notification off to your own goroutine or mailbox.
type Core interface {
	// HandleWorkDone is called once per completed work item, whether the
	// item succeeded or failed.
	HandleWorkDone(result StepResult)

	// HandlePoolTerminated is called exactly once, after every worker has
	// acknowledged shutdown and the pool has fully drained.
	HandlePoolTerminated()

	// HandlePersistenceError receives exhausted persistence failures
	// encountered on the pool's execution path, forwarded verbatim.
	HandlePersistenceError(err error)
}
