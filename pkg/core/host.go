package core

import (
	"context"
	"strings"
	"time"
)

// Host is the accessibility surface of the device under automation.
// Implementations: host.Host (adb + UIAutomator2), mock.Host.
// The engine only calls these; it never owns the tree behind them.
type Host interface {
	RootProvider
	GestureSurface
	ActionPerformer
	ActivityLauncher
}

// RootProvider reads the current foreground accessibility root.
// A nil node with a nil error means no root is available right now.
type RootProvider interface {
	WindowRoot(ctx context.Context) (*Node, error)
}

// GestureSurface submits synthetic gestures.
// Exactly one of the callback functions fires per accepted gesture, unless the
// host drops it silently. The returned unregister func stops delivery to cb.
type GestureSurface interface {
	DispatchGesture(ctx context.Context, g Gesture, cb GestureCallback) (unregister func(), err error)
}

// ActionPerformer issues host-level global actions.
type ActionPerformer interface {
	PerformGlobalAction(ctx context.Context, action GlobalAction) bool
}

// ActivityLauncher starts an activity from an explicit intent.
type ActivityLauncher interface {
	StartActivity(ctx context.Context, intent Intent) error
}

// Node is one element of an accessibility tree snapshot.
// Nodes are read per poll and must not be reused across polls.
type Node struct {
	Text        string  `json:"text,omitempty"`
	ContentDesc string  `json:"contentDesc,omitempty"`
	ResourceID  string  `json:"resourceId,omitempty"`
	ClassName   string  `json:"className,omitempty"`
	PackageName string  `json:"packageName,omitempty"`
	Bounds      Bounds  `json:"bounds"`
	Clickable   bool    `json:"clickable,omitempty"`
	Enabled     bool    `json:"enabled,omitempty"`
	Scrollable  bool    `json:"scrollable,omitempty"`
	Children    []*Node `json:"children,omitempty"`
}

// Walk visits n and its descendants in document order until fn returns false.
func (n *Node) Walk(fn func(*Node) bool) bool {
	if n == nil {
		return true
	}
	if !fn(n) {
		return false
	}
	for _, c := range n.Children {
		if !c.Walk(fn) {
			return false
		}
	}
	return true
}

// Find returns the first node in document order matching pred.
func (n *Node) Find(pred func(*Node) bool) *Node {
	var found *Node
	n.Walk(func(c *Node) bool {
		if pred(c) {
			found = c
			return false
		}
		return true
	})
	return found
}

// Bounds represents element position and size
type Bounds struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Center returns the center point of the bounds
func (b Bounds) Center() (int, int) {
	return b.X + b.Width/2, b.Y + b.Height/2
}

// Contains checks if a point is within the bounds
func (b Bounds) Contains(x, y int) bool {
	return x >= b.X && x < b.X+b.Width && y >= b.Y && y < b.Y+b.Height
}

// TapDuration is how long a synthetic tap keeps the pointer down.
const TapDuration = 100 * time.Millisecond

// Point is a screen coordinate in pixels.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Stroke is one pointer path inside a gesture.
// Start is relative to the beginning of the gesture.
type Stroke struct {
	Points   []Point       `json:"points"`
	Start    time.Duration `json:"start"`
	Duration time.Duration `json:"duration"`
}

// Gesture describes a synthetic pointer gesture.
type Gesture struct {
	ID      string   `json:"id,omitempty"`
	Strokes []Stroke `json:"strokes"`
}

// Tap returns a single-pointer tap gesture at (x, y).
func Tap(x, y int) Gesture {
	return Gesture{Strokes: []Stroke{{
		Points:   []Point{{X: x, Y: y}},
		Duration: TapDuration,
	}}}
}

// TapCenter returns a tap on the center of b.
func TapCenter(b Bounds) Gesture {
	x, y := b.Center()
	return Tap(x, y)
}

// GestureCallback receives the host's verdict on a dispatched gesture.
type GestureCallback struct {
	OnCompleted func(Gesture)
	OnCancelled func(Gesture)
}

// GlobalAction is a host-level UI command not tied to an on-screen element.
// Values match the Android AccessibilityService constants.
type GlobalAction int

const (
	GlobalActionBack GlobalAction = 1
	GlobalActionHome GlobalAction = 2
)

// String returns the string representation of GlobalAction
func (a GlobalAction) String() string {
	switch a {
	case GlobalActionBack:
		return "back"
	case GlobalActionHome:
		return "home"
	default:
		return "unknown"
	}
}

// IntentFlag is an Android Intent flag bit.
type IntentFlag uint32

// Intent flags used when surfacing the automating app.
const (
	FlagActivityNoAnimation IntentFlag = 0x00010000
	FlagActivityClearTop    IntentFlag = 0x04000000
	FlagActivityNewTask     IntentFlag = 0x10000000
	FlagActivitySingleTop   IntentFlag = 0x20000000
)

// Has reports whether all bits of flag are set.
func (f IntentFlag) Has(flag IntentFlag) bool {
	return f&flag == flag
}

// Intent is an explicit launch request for one activity.
type Intent struct {
	Package  string     `json:"package"`
	Activity string     `json:"activity"`
	Flags    IntentFlag `json:"flags"`
}

// Component returns the flattened "package/activity" form.
// An activity starting with "." is relative to the package.
func (i Intent) Component() string {
	activity := i.Activity
	if strings.HasPrefix(activity, ".") {
		activity = i.Package + activity
	}
	return i.Package + "/" + activity
}

// DeviceClass is a coarse category of device affecting navigation affordances.
type DeviceClass int

const (
	DeviceClassDefault DeviceClass = iota // Phones, tablets, anything with a home screen
	DeviceClassTV                         // Leanback devices, "home" is not meaningful
)

// String returns the string representation of DeviceClass
func (d DeviceClass) String() string {
	switch d {
	case DeviceClassTV:
		return "tv"
	default:
		return "default"
	}
}
