package planq

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
)

// ActionExecutor runs the logic behind one work item. The engine implements
// it over its handler registry; tests substitute their own.
type ActionExecutor interface {
	ExecuteAction(ctx context.Context, scope ActionScope, input json.RawMessage) (json.RawMessage, error)
}

// ActionScope identifies the step an action is running for.
type ActionScope struct {
	PlanID   string
	StepID   int64
	StepName string
	Action   string
	Attempt  int
}

// ActionHandler is user-supplied step logic, registered with the engine
// under its name.
type ActionHandler interface {
	Execute(ctx context.Context, scope ActionScope, input json.RawMessage) (json.RawMessage, error)
	Name() string
}

type noPanicActionHandler struct {
	handler ActionHandler
}

func wrapActionPanicHandler(handler ActionHandler) *noPanicActionHandler {
	return &noPanicActionHandler{handler: handler}
}

func (handler *noPanicActionHandler) Execute(
	ctx context.Context,
	scope ActionScope,
	input json.RawMessage,
) (out json.RawMessage, errRes error) {
	defer func() {
		if r := recover(); r != nil {
			errRes = fmt.Errorf("panic in action %q: %v\n%s", handler.Name(), r, debug.Stack())
		}
	}()

	return handler.handler.Execute(ctx, scope, input)
}

func (handler *noPanicActionHandler) Name() string {
	return handler.handler.Name()
}
