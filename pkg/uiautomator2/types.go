// Package uiautomator2 provides HTTP client for UIAutomator2 server.
package uiautomator2

// Capabilities for session creation.
type Capabilities struct {
	PlatformName string `json:"platformName,omitempty"`
	DeviceName   string `json:"deviceName,omitempty"`
}

// SessionRequest for creating a session.
type SessionRequest struct {
	Capabilities Capabilities `json:"capabilities"`
}

// KeyCodeRequest for pressing keys.
type KeyCodeRequest struct {
	KeyCode  int `json:"keycode"`
	MetaKeys int `json:"metastate,omitempty"`
}

// ActionsRequest is the body of the W3C actions endpoint.
type ActionsRequest struct {
	Actions []ActionSequence `json:"actions"`
}

// ActionSequence is one input source with its actions.
type ActionSequence struct {
	Type       string             `json:"type"` // pointer
	ID         string             `json:"id"`
	Parameters *PointerParameters `json:"parameters,omitempty"`
	Actions    []PointerAction    `json:"actions"`
}

// PointerParameters configures a pointer input source.
type PointerParameters struct {
	PointerType string `json:"pointerType"` // touch, mouse, pen
}

// PointerAction is a single pointer action.
// Coordinates and button are pointers so that zero values are still sent.
type PointerAction struct {
	Type     string `json:"type"` // pointerMove, pointerDown, pointerUp, pause
	Duration int64  `json:"duration,omitempty"`
	X        *int   `json:"x,omitempty"`
	Y        *int   `json:"y,omitempty"`
	Button   *int   `json:"button,omitempty"`
}

// Common Android key codes.
const (
	KeyCodeBack = 4
	KeyCodeHome = 3
)
