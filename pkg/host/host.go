// Package host implements the accessibility surface over adb and a
// UIAutomator2 server.
package host

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/devicelab-dev/settings-runner/pkg/core"
	"github.com/devicelab-dev/settings-runner/pkg/uiautomator2"
)

// DefaultGestureTimeout bounds how long the server may take to play a gesture.
const DefaultGestureTimeout = 10 * time.Second

const releaseTimeout = 2 * time.Second

// Device is the adb side of the host.
type Device interface {
	ForegroundPackage(ctx context.Context) (string, error)
	StartActivity(ctx context.Context, intent core.Intent) error
	KeyEvent(ctx context.Context, keyCode int) error
	SecureSetting(ctx context.Context, key string) (string, bool, error)
	DeviceClass(ctx context.Context) (core.DeviceClass, error)
}

// UIAutomator is the UIAutomator2 side of the host.
type UIAutomator interface {
	Source(ctx context.Context) (string, error)
	Back(ctx context.Context) error
	PressKeyCode(ctx context.Context, keyCode int) error
	PerformActions(ctx context.Context, sequences []uiautomator2.ActionSequence) error
	ReleaseActions(ctx context.Context) error
}

// Host implements core.Host for a real device.
type Host struct {
	device         Device
	client         UIAutomator
	logger         *zap.Logger
	gestureTimeout time.Duration
	wg             sync.WaitGroup
}

// New creates a Host. A nil logger disables logging; a zero gesture timeout
// uses DefaultGestureTimeout.
func New(device Device, client UIAutomator, logger *zap.Logger, gestureTimeout time.Duration) *Host {
	if logger == nil {
		logger = zap.NewNop()
	}
	if gestureTimeout <= 0 {
		gestureTimeout = DefaultGestureTimeout
	}
	return &Host{
		device:         device,
		client:         client,
		logger:         logger,
		gestureTimeout: gestureTimeout,
	}
}

// WindowRoot returns the current hierarchy, or nil when the screen has none.
// A root without a package attribute gets the focused window's package.
func (h *Host) WindowRoot(ctx context.Context) (*core.Node, error) {
	source, err := h.client.Source(ctx)
	if err != nil {
		return nil, fmt.Errorf("read page source: %w", err)
	}
	root, err := ParsePageSource(source)
	if err != nil || root == nil {
		return nil, err
	}
	if root.PackageName == "" {
		pkg, err := h.device.ForegroundPackage(ctx)
		if err != nil {
			h.logger.Debug("foreground package lookup failed", zap.Error(err))
		}
		root.PackageName = pkg
	}
	return root, nil
}

// DispatchGesture plays g on the server in the background and reports the
// result through cb. A server error is reported as a host cancellation after
// any pointer left down is released.
func (h *Host) DispatchGesture(ctx context.Context, g core.Gesture, cb core.GestureCallback) (func(), error) {
	sequences, err := gestureActions(g)
	if err != nil {
		return nil, err
	}

	var (
		mu           sync.Mutex
		unregistered bool
	)
	unregister := func() {
		mu.Lock()
		unregistered = true
		mu.Unlock()
	}
	deliver := func(fn func(core.Gesture)) {
		mu.Lock()
		skip := unregistered
		mu.Unlock()
		if !skip && fn != nil {
			fn(g)
		}
	}

	// The gesture outlives the caller's context once submitted.
	playCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.gestureTimeout)
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		defer cancel()

		start := time.Now()
		err := h.client.PerformActions(playCtx, sequences)
		log := h.logger.With(zap.String("gesture", g.ID), zap.Duration("elapsed", time.Since(start)))
		if err != nil {
			log.Debug("gesture cancelled by server", zap.Error(err))
			h.releasePointers(ctx)
			deliver(cb.OnCancelled)
			return
		}
		log.Debug("gesture completed")
		deliver(cb.OnCompleted)
	}()

	return unregister, nil
}

func (h *Host) releasePointers(ctx context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()
	if err := h.client.ReleaseActions(ctx); err != nil {
		h.logger.Debug("release pointers failed", zap.Error(err))
	}
}

// Wait blocks until all background gestures have finished.
func (h *Host) Wait() {
	h.wg.Wait()
}

// gestureActions converts g into one touch pointer per stroke.
func gestureActions(g core.Gesture) ([]uiautomator2.ActionSequence, error) {
	if len(g.Strokes) == 0 {
		return nil, errors.New("gesture has no strokes")
	}

	sequences := make([]uiautomator2.ActionSequence, 0, len(g.Strokes))
	for i, s := range g.Strokes {
		if len(s.Points) == 0 {
			return nil, fmt.Errorf("stroke %d has no points", i)
		}

		var actions []uiautomator2.PointerAction
		if s.Start > 0 {
			actions = append(actions, uiautomator2.Pause(s.Start))
		}
		first := s.Points[0]
		actions = append(actions,
			uiautomator2.PointerMove(first.X, first.Y, 0),
			uiautomator2.PointerDown(),
		)
		if len(s.Points) == 1 {
			actions = append(actions, uiautomator2.Pause(s.Duration))
		} else {
			step := s.Duration / time.Duration(len(s.Points)-1)
			for _, p := range s.Points[1:] {
				actions = append(actions, uiautomator2.PointerMove(p.X, p.Y, step))
			}
		}
		actions = append(actions, uiautomator2.PointerUp())

		sequences = append(sequences, uiautomator2.TouchPointer(fmt.Sprintf("finger%d", i), actions...))
	}
	return sequences, nil
}

// PerformGlobalAction presses back or home, falling back to adb key events
// when the server is unavailable.
func (h *Host) PerformGlobalAction(ctx context.Context, action core.GlobalAction) bool {
	var (
		keyCode int
		err     error
	)
	switch action {
	case core.GlobalActionBack:
		keyCode = uiautomator2.KeyCodeBack
		err = h.client.Back(ctx)
	case core.GlobalActionHome:
		keyCode = uiautomator2.KeyCodeHome
		err = h.client.PressKeyCode(ctx, keyCode)
	default:
		h.logger.Warn("unsupported global action", zap.Int("action", int(action)))
		return false
	}
	if err == nil {
		return true
	}

	h.logger.Debug("global action via server failed, using adb",
		zap.Stringer("action", action),
		zap.Error(err))
	if err := h.device.KeyEvent(ctx, keyCode); err != nil {
		h.logger.Warn("global action failed", zap.Stringer("action", action), zap.Error(err))
		return false
	}
	return true
}

// StartActivity launches intent via adb.
func (h *Host) StartActivity(ctx context.Context, intent core.Intent) error {
	return h.device.StartActivity(ctx, intent)
}

// SecureSetting reads a secure setting via adb.
func (h *Host) SecureSetting(ctx context.Context, key string) (string, bool, error) {
	return h.device.SecureSetting(ctx, key)
}

// DeviceClass detects the device class via adb.
func (h *Host) DeviceClass(ctx context.Context) (core.DeviceClass, error) {
	return h.device.DeviceClass(ctx)
}
