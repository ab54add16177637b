// Package mock provides a scripted host for testing without a real device.
package mock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/devicelab-dev/settings-runner/pkg/core"
)

// DefaultLauncher is the foreground package after going home or backing out of
// the last screen.
const DefaultLauncher = "com.android.launcher3"

// ErrRootUnavailable is returned by WindowRoot during failing polls.
var ErrRootUnavailable = errors.New("mock: window root unavailable")

// GestureMode selects how the host answers dispatched gestures.
type GestureMode int

const (
	GestureComplete GestureMode = iota // fire OnCompleted
	GestureCancel                      // fire OnCancelled
	GestureDrop                        // never call back
	GestureRefuse                      // reject on submit
)

// Config configures mock host behavior.
type Config struct {
	// Stack is the activity stack by package, foreground last.
	Stack []string
	// Launcher is the foreground once Stack is empty.
	Launcher string
	// Screen is the tree returned by WindowRoot. Its package is the foreground.
	Screen *core.Node
	// NextScreen replaces Screen after the first completed gesture.
	NextScreen *core.Node

	// AbsentPolls makes the first N WindowRoot calls report no root.
	AbsentPolls int
	// FailingPolls makes the next N calls return ErrRootUnavailable.
	FailingPolls int

	Gesture      GestureMode
	GestureDelay time.Duration

	// StuckBack makes back a no-op, as on a screen that swallows it.
	StuckBack bool
	// FailActions makes every global action report failure.
	FailActions bool
	// LaunchErr is returned by StartActivity.
	LaunchErr error

	// Settings holds secure settings by key.
	Settings map[string]string
	Class    core.DeviceClass
}

// Host is a scripted implementation of core.Host.
type Host struct {
	cfg Config

	mu           sync.Mutex
	stack        []string
	screen       *core.Node
	rootCalls    int
	actions      []core.GlobalAction
	launches     []core.Intent
	gestures     []core.Gesture
	unregistered int
}

// New creates a new mock host.
func New(cfg Config) *Host {
	if cfg.Launcher == "" {
		cfg.Launcher = DefaultLauncher
	}
	return &Host{
		cfg:    cfg,
		stack:  append([]string(nil), cfg.Stack...),
		screen: cfg.Screen,
	}
}

// WindowRoot returns a copy of the configured screen owned by the foreground package.
func (h *Host) WindowRoot(ctx context.Context) (*core.Node, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.rootCalls++
	switch {
	case h.rootCalls <= h.cfg.AbsentPolls:
		return nil, nil
	case h.rootCalls <= h.cfg.AbsentPolls+h.cfg.FailingPolls:
		return nil, ErrRootUnavailable
	}

	root := core.Node{}
	if h.screen != nil {
		root = *h.screen
	}
	root.PackageName = h.foregroundLocked()
	return &root, nil
}

// DispatchGesture records g and answers according to the gesture mode.
func (h *Host) DispatchGesture(ctx context.Context, g core.Gesture, cb core.GestureCallback) (func(), error) {
	h.mu.Lock()
	h.gestures = append(h.gestures, g)
	h.mu.Unlock()

	if h.cfg.Gesture == GestureRefuse {
		return nil, errors.New("mock: gesture refused")
	}

	var (
		once    sync.Once
		stopped = make(chan struct{})
	)
	unregister := func() {
		once.Do(func() {
			close(stopped)
			h.mu.Lock()
			h.unregistered++
			h.mu.Unlock()
		})
	}

	if h.cfg.Gesture == GestureDrop {
		return unregister, nil
	}

	go func() {
		select {
		case <-time.After(h.cfg.GestureDelay):
		case <-stopped:
			return
		}
		select {
		case <-stopped:
			return
		default:
		}
		if h.cfg.Gesture == GestureCancel {
			cb.OnCancelled(g)
			return
		}
		h.mu.Lock()
		if h.cfg.NextScreen != nil {
			h.screen = h.cfg.NextScreen
		}
		h.mu.Unlock()
		cb.OnCompleted(g)
	}()
	return unregister, nil
}

// PerformGlobalAction records action and applies it to the activity stack.
func (h *Host) PerformGlobalAction(ctx context.Context, action core.GlobalAction) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.actions = append(h.actions, action)
	if h.cfg.FailActions {
		return false
	}
	switch action {
	case core.GlobalActionBack:
		if !h.cfg.StuckBack && len(h.stack) > 0 {
			h.stack = h.stack[:len(h.stack)-1]
		}
	case core.GlobalActionHome:
		h.stack = nil
	default:
		return false
	}
	return true
}

// StartActivity records intent and brings its package to the front. With
// FLAG_ACTIVITY_CLEAR_TOP an existing entry of the package is reused and
// everything above it is dropped.
func (h *Host) StartActivity(ctx context.Context, intent core.Intent) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.launches = append(h.launches, intent)
	if h.cfg.LaunchErr != nil {
		return h.cfg.LaunchErr
	}
	if intent.Flags.Has(core.FlagActivityClearTop) {
		for i, pkg := range h.stack {
			if pkg == intent.Package {
				h.stack = h.stack[:i+1]
				return nil
			}
		}
	}
	h.stack = append(h.stack, intent.Package)
	return nil
}

// SecureSetting returns a configured secure setting.
func (h *Host) SecureSetting(ctx context.Context, key string) (string, bool, error) {
	v, ok := h.cfg.Settings[key]
	return v, ok, nil
}

// DeviceClass returns the configured device class.
func (h *Host) DeviceClass(ctx context.Context) (core.DeviceClass, error) {
	return h.cfg.Class, nil
}

// Foreground returns the current foreground package.
func (h *Host) Foreground() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.foregroundLocked()
}

func (h *Host) foregroundLocked() string {
	if len(h.stack) == 0 {
		return h.cfg.Launcher
	}
	return h.stack[len(h.stack)-1]
}

// RootCalls returns how many times WindowRoot was called.
func (h *Host) RootCalls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rootCalls
}

// Actions returns the global actions issued so far.
func (h *Host) Actions() []core.GlobalAction {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]core.GlobalAction(nil), h.actions...)
}

// Launches returns the intents started so far.
func (h *Host) Launches() []core.Intent {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]core.Intent(nil), h.launches...)
}

// Gestures returns the gestures dispatched so far.
func (h *Host) Gestures() []core.Gesture {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]core.Gesture(nil), h.gestures...)
}

// Unregistered returns how many gesture callbacks were unregistered.
func (h *Host) Unregistered() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.unregistered
}
