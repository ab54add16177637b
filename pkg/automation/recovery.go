package automation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/devicelab-dev/settings-runner/pkg/core"
)

// ReturnFlags are set on the fallback launch intent: start in a new task,
// clear the stack above an existing instance, reuse it instead of
// duplicating it, and skip the animation.
const ReturnFlags = core.FlagActivityNewTask |
	core.FlagActivityClearTop |
	core.FlagActivitySingleTop |
	core.FlagActivityNoAnimation

// FinishOptions describes how a run ended.
type FinishOptions struct {
	// UserCancelled runs recovery to completion even if ctx is cancelled.
	UserCancelled bool
	// ReturnToApp brings the automating app back to the foreground.
	// Otherwise the device is sent home, or back on TV devices.
	ReturnToApp bool
	DeviceClass core.DeviceClass
}

// RecoveryMethod names how Finish left the device.
type RecoveryMethod string

const (
	MethodAlreadyForeground RecoveryMethod = "already-foreground"
	MethodBack              RecoveryMethod = "back"
	MethodLaunch            RecoveryMethod = "launch"
	MethodGlobalBack        RecoveryMethod = "global-back"
	MethodGlobalHome        RecoveryMethod = "global-home"
)

// RecoveryOutcome reports what Finish did. It is informational only.
type RecoveryOutcome struct {
	Method      RecoveryMethod `yaml:"method" json:"method"`
	BackPresses int            `yaml:"backPresses" json:"backPresses"`
	// ActionSucceeded is the result of the last global action or launch.
	ActionSucceeded bool `yaml:"actionSucceeded" json:"actionSucceeded"`
}

// Finish returns the device to a known state at the end of a run.
// It is called exactly once per run. Failed global actions are logged and
// do not change the flow.
func (e *Engine) Finish(ctx context.Context, opts FinishOptions) (RecoveryOutcome, error) {
	if opts.UserCancelled {
		ctx = context.WithoutCancel(ctx)
	}
	if opts.ReturnToApp {
		return e.returnToApp(ctx)
	}
	return e.leave(ctx, opts.DeviceClass), nil
}

func (e *Engine) returnToApp(ctx context.Context) (RecoveryOutcome, error) {
	own := e.cfg.OwnPackage
	out := RecoveryOutcome{Method: MethodBack, ActionSucceeded: true}
	e.logger.Info("pressing back to return to app", zap.String("package", own))

	for attempt := 1; attempt <= e.cfg.MaxBackAttempts; attempt++ {
		current := e.foregroundPackage(ctx)
		if current == own {
			if attempt == 1 {
				out.Method = MethodAlreadyForeground
			}
			e.logger.Info("back at app", zap.Int("backPresses", attempt-1))
			break
		}

		e.logger.Debug("pressing back",
			zap.String("foreground", current),
			zap.Int("attempt", attempt))
		out.ActionSucceeded = e.host.PerformGlobalAction(ctx, core.GlobalActionBack)
		out.BackPresses = attempt
		if !out.ActionSucceeded {
			e.logger.Debug("back press failed", zap.Int("attempt", attempt))
		}

		if err := sleep(ctx, e.cfg.BackDelay); err != nil {
			return out, core.Cancelled(err, "cancelled while returning to app")
		}
	}

	if e.foregroundPackage(ctx) == own {
		return out, nil
	}

	intent := core.Intent{
		Package:  own,
		Activity: e.cfg.EntryActivity,
		Flags:    ReturnFlags,
	}
	e.logger.Info("back navigation did not return to app, launching",
		zap.String("component", intent.Component()),
		zap.Int("backPresses", out.BackPresses))

	out.Method = MethodLaunch
	if err := e.host.StartActivity(ctx, intent); err != nil {
		out.ActionSucceeded = false
		return out, core.ErrLaunchFailed.
			WithCause(err).
			WithMessage(fmt.Sprintf("could not launch %s", intent.Component()))
	}
	out.ActionSucceeded = true
	return out, nil
}

func (e *Engine) leave(ctx context.Context, class core.DeviceClass) RecoveryOutcome {
	if class == core.DeviceClassTV {
		e.logger.Info("going back via back button")
		ok := e.host.PerformGlobalAction(ctx, core.GlobalActionBack)
		e.logger.Debug("back button", zap.Bool("success", ok))
		return RecoveryOutcome{Method: MethodGlobalBack, ActionSucceeded: ok}
	}

	e.logger.Info("going to home screen")
	ok := e.host.PerformGlobalAction(ctx, core.GlobalActionHome)
	e.logger.Debug("home button", zap.Bool("success", ok))
	return RecoveryOutcome{Method: MethodGlobalHome, ActionSucceeded: ok}
}

// foregroundPackage reads the package of the current root, or "" if unknown.
func (e *Engine) foregroundPackage(ctx context.Context) string {
	root, err := e.host.WindowRoot(ctx)
	if err != nil {
		e.logger.Debug("foreground read failed", zap.Error(err))
		return ""
	}
	if root == nil {
		return ""
	}
	return root.PackageName
}

// RunSession runs fn and then Finish exactly once.
// Recovery is shielded from cancellation when ctx is done or fn was cancelled.
// A deadline that expires inside fn is a timeout, not a cancellation.
// Errors from fn and Finish are joined.
func (e *Engine) RunSession(ctx context.Context, opts FinishOptions, fn func(context.Context) error) (RecoveryOutcome, error) {
	runID := uuid.NewString()
	run := e.withLogger(e.logger.With(zap.String("run", runID)))
	start := time.Now()
	run.logger.Info("automation run started")

	runErr := fn(ctx)
	if ctx.Err() != nil || errors.Is(runErr, context.Canceled) {
		opts.UserCancelled = true
	}

	outcome, finishErr := run.Finish(ctx, opts)
	run.logger.Info("automation run finished",
		zap.Duration("duration", time.Since(start)),
		zap.String("recovery", string(outcome.Method)),
		zap.Bool("cancelled", opts.UserCancelled),
		zap.NamedError("runError", runErr),
		zap.NamedError("finishError", finishErr))

	return outcome, errors.Join(runErr, finishErr)
}
