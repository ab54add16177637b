package automation

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/devicelab-dev/settings-runner/pkg/core"
)

// WaitForWindowRoot polls the host until a window root is available.
//
// It never gives up on its own; bound it with a context deadline. Read errors
// count as an absent root. When ctx is done the wait stops without polling
// again and returns an error matching core.ErrCancelled.
func (e *Engine) WaitForWindowRoot(ctx context.Context) (*core.Node, error) {
	limiter := rate.NewLimiter(rate.Every(e.cfg.PollInterval), 1)

	for poll := 1; ; poll++ {
		if err := waitToken(ctx, limiter); err != nil {
			return nil, core.Cancelled(err, "cancelled while waiting for window root")
		}

		root, err := e.host.WindowRoot(ctx)
		if err != nil {
			e.logger.Debug("window root read failed", zap.Int("poll", poll), zap.Error(err))
			continue
		}
		if root != nil {
			if poll > 1 {
				e.logger.Debug("window root available", zap.Int("polls", poll))
			}
			return root, nil
		}
		e.logger.Debug("waiting for window root", zap.Int("poll", poll))
	}
}

// waitToken blocks until limiter grants a token. Unlike Limiter.Wait it does
// not fail early when the delay would overrun the context deadline.
func waitToken(ctx context.Context, limiter *rate.Limiter) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r := limiter.Reserve()
	delay := r.Delay()
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		r.Cancel()
		return ctx.Err()
	case <-timer.C:
		return ctx.Err()
	}
}
