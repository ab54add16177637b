package automation

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/devicelab-dev/settings-runner/pkg/core"
)

// DispatchGesture submits g and waits for the host's verdict.
// It returns true when the host reports completion and false when the host
// cancels the gesture. A gesture without an ID gets a fresh one.
//
// If ctx is done first the callbacks are unregistered and an error matching
// core.ErrCancelled is returned; the host may still perform the gesture.
// A host that never answers blocks until ctx is done.
func (e *Engine) DispatchGesture(ctx context.Context, g core.Gesture) (bool, error) {
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	if err := ctx.Err(); err != nil {
		return false, core.Cancelled(err, "cancelled before gesture dispatch")
	}
	log := e.logger.With(zap.String("gesture", g.ID))

	result := make(chan bool, 1)
	var once sync.Once
	resolve := func(completed bool) {
		once.Do(func() { result <- completed })
	}

	unregister, err := e.host.DispatchGesture(ctx, g, core.GestureCallback{
		OnCompleted: func(core.Gesture) { resolve(true) },
		OnCancelled: func(core.Gesture) { resolve(false) },
	})
	if err != nil {
		return false, core.ErrHostRefused.WithCause(err).WithMessage("host refused gesture " + g.ID)
	}

	select {
	case completed := <-result:
		log.Debug("gesture finished", zap.Bool("completed", completed))
		return completed, nil
	case <-ctx.Done():
		if unregister != nil {
			unregister()
		}
		log.Debug("gesture wait cancelled", zap.Error(ctx.Err()))
		return false, core.Cancelled(ctx.Err(), "cancelled while waiting for gesture result")
	}
}

// Tap dispatches a single tap at (x, y).
func (e *Engine) Tap(ctx context.Context, x, y int) (bool, error) {
	return e.DispatchGesture(ctx, core.Tap(x, y))
}

// TapNode taps the center of n's bounds.
func (e *Engine) TapNode(ctx context.Context, n *core.Node) (bool, error) {
	if n == nil {
		return false, errors.New("tap target is nil")
	}
	return e.DispatchGesture(ctx, core.TapCenter(n.Bounds))
}
