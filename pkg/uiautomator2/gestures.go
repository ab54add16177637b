package uiautomator2

import (
	"context"
	"time"
)

// PerformActions executes W3C input source action sequences.
// The call returns once the server has played all actions.
func (c *Client) PerformActions(ctx context.Context, sequences []ActionSequence) error {
	if err := c.requireSession(); err != nil {
		return err
	}
	_, err := c.request(ctx, "POST", c.sessionPath("/actions"), ActionsRequest{Actions: sequences})
	return err
}

// ReleaseActions releases any pointer still held down.
func (c *Client) ReleaseActions(ctx context.Context) error {
	if err := c.requireSession(); err != nil {
		return err
	}
	_, err := c.request(ctx, "DELETE", c.sessionPath("/actions"), nil)
	return err
}

// TouchPointer returns a touch pointer input source.
func TouchPointer(id string, actions ...PointerAction) ActionSequence {
	return ActionSequence{
		Type:       "pointer",
		ID:         id,
		Parameters: &PointerParameters{PointerType: "touch"},
		Actions:    actions,
	}
}

// PointerMove moves the pointer to (x, y) over d.
func PointerMove(x, y int, d time.Duration) PointerAction {
	return PointerAction{Type: "pointerMove", Duration: d.Milliseconds(), X: intPtr(x), Y: intPtr(y)}
}

// PointerDown presses the primary button.
func PointerDown() PointerAction {
	return PointerAction{Type: "pointerDown", Button: intPtr(0)}
}

// PointerUp releases the primary button.
func PointerUp() PointerAction {
	return PointerAction{Type: "pointerUp", Button: intPtr(0)}
}

// Pause waits for d.
func Pause(d time.Duration) PointerAction {
	return PointerAction{Type: "pause", Duration: d.Milliseconds()}
}

func intPtr(v int) *int {
	return &v
}
