package planq

import (
	"context"
	"encoding/json"
	"fmt"
)

// JSONAction adapts a map-based function to the ActionHandler interface, so
// simple actions skip the marshalling boilerplate.
type JSONAction struct {
	name string
	fn   func(ctx context.Context, scope ActionScope, data map[string]any) (map[string]any, error)
}

func NewJSONAction(
	name string,
	fn func(ctx context.Context, scope ActionScope, data map[string]any) (map[string]any, error),
) *JSONAction {
	return &JSONAction{
		name: name,
		fn:   fn,
	}
}

func (h *JSONAction) Name() string {
	return h.name
}

func (h *JSONAction) Execute(
	ctx context.Context,
	scope ActionScope,
	input json.RawMessage,
) (json.RawMessage, error) {
	var data map[string]any
	if len(input) > 0 {
		if err := json.Unmarshal(input, &data); err != nil {
			return nil, fmt.Errorf("unmarshal input: %w", err)
		}
	} else {
		data = make(map[string]any)
	}

	result, err := h.fn(ctx, scope, data)
	if err != nil {
		return nil, err
	}

	return json.Marshal(result)
}
