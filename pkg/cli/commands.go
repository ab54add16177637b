package cli

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/devicelab-dev/settings-runner/pkg/acs"
	"github.com/devicelab-dev/settings-runner/pkg/automation"
	"github.com/devicelab-dev/settings-runner/pkg/core"
	"github.com/devicelab-dev/settings-runner/pkg/device"
	"github.com/devicelab-dev/settings-runner/pkg/logger"
	"github.com/devicelab-dev/settings-runner/pkg/storage"
)

// Exit codes for results that are not errors.
const (
	exitGestureCancelled = 2
	exitNotCleared       = 3
)

var devicesCommand = &cli.Command{
	Name:   "devices",
	Usage:  "List the devices known to adb",
	Action: runDevices,
}

var checkAccessCommand = &cli.Command{
	Name:  "check-access",
	Usage: "Check that the accessibility service is enabled",
	Description: `Reads the accessibility shortcut and button targets of the device and
fails unless the given service is one of them.

Examples:
  settings-runner check-access --service eu.example.cleaner/.ACService`,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "service",
			Usage: "Accessibility service, package/class (default: ownService from config)",
		},
	},
	Action: runCheckAccess,
}

var waitRootCommand = &cli.Command{
	Name:  "wait-root",
	Usage: "Wait until the device exposes an accessibility root",
	Flags: []cli.Flag{
		&cli.DurationFlag{
			Name:  "timeout",
			Usage: "Overall wait, 0 waits forever (default: windowRootTimeout from config)",
		},
	},
	Action: runWaitRoot,
}

var tapCommand = &cli.Command{
	Name:      "tap",
	Usage:     "Dispatch a tap gesture at screen coordinates",
	ArgsUsage: "X Y",
	Action:    runTap,
}

var recoverCommand = &cli.Command{
	Name:  "recover",
	Usage: "Return the device to the automating app",
	Description: `Presses back until the automating app is in the foreground and launches
it when that does not work. With --leave the device is sent home instead
(back on TV devices).`,
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:  "cancelled",
			Usage: "Treat the run as cancelled by the user",
		},
		&cli.BoolFlag{
			Name:  "leave",
			Usage: "Leave the Settings app instead of returning to the automating app",
		},
	},
	Action: runRecover,
}

var snapshotCommand = &cli.Command{
	Name:      "snapshot",
	Usage:     "Capture the storage size labels on screen to a YAML file",
	ArgsUsage: "FILE",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "label-id",
			Usage: "Resource id of size labels (default: labelResourceId from config)",
		},
	},
	Action: runSnapshot,
}

var classifyCommand = &cli.Command{
	Name:      "classify",
	Usage:     "Classify the change between two storage snapshots",
	ArgsUsage: "PRE POST",
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:  "strict",
			Usage: "Exit with status 3 unless the cache was cleared",
		},
	},
	Action: runClassify,
}

var clearCacheCommand = &cli.Command{
	Name:  "clear-cache",
	Usage: "Tap the clear cache button on the open storage screen and verify the result",
	Description: `Captures the storage labels, taps the clear cache button, captures them
again and classifies the change. The device is returned to the automating
app afterwards, also when the run is interrupted. When an accessibility
service is configured the run stops early unless it is enabled.`,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "service",
			Usage: "Accessibility service that must be enabled, package/class (default: ownService from config)",
		},
		&cli.StringFlag{
			Name:  "button",
			Usage: "Text of the clear cache button",
			Value: "Clear cache",
		},
		&cli.DurationFlag{
			Name:  "settle",
			Usage: "Time for the screen to update after the tap",
			Value: time.Second,
		},
		&cli.StringFlag{
			Name:  "label-id",
			Usage: "Resource id of size labels (default: labelResourceId from config)",
		},
	},
	Action: runClearCache,
}

func runCheckAccess(c *cli.Context) error {
	rt, err := newRuntime(c)
	if err != nil {
		return err
	}
	defer rt.close()

	own, err := rt.service(c)
	if err != nil {
		return err
	}

	h, cleanup, err := rt.connect(rt.ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	targets, err := acs.NewResolver(h).Resolve(rt.ctx)
	if err != nil {
		return err
	}

	rt.heading("Accessibility targets")
	for _, id := range targets.Identities() {
		fmt.Fprintf(rt.out, "  %s\n", id)
	}
	if targets.Len() == 0 {
		fmt.Fprintln(rt.out, "  (none)")
	}

	if !targets.Contains(own) {
		logger.Warn("Accessibility service %s not enabled", own)
		rt.failure(fmt.Sprintf("%s is not enabled", own))
		return core.ErrNotAuthorized.WithMessage(fmt.Sprintf("accessibility service %s is not enabled", own))
	}
	rt.success(fmt.Sprintf("%s is enabled", own))
	return nil
}

func runWaitRoot(c *cli.Context) error {
	rt, err := newRuntime(c)
	if err != nil {
		return err
	}
	defer rt.close()

	if c.IsSet("timeout") {
		rt.cfg.WindowRootTimeout = c.Duration("timeout")
	}

	h, cleanup, err := rt.connect(rt.ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	rt.step("Waiting for window root...")
	start := time.Now()
	root, err := rt.waitRoot(rt.ctx, rt.engine(h))
	if err != nil {
		return err
	}

	nodes := 0
	root.Walk(func(*core.Node) bool { nodes++; return true })
	rt.success(fmt.Sprintf("Window root of %s (%d nodes) after %s",
		root.PackageName, nodes, time.Since(start).Round(time.Millisecond)))
	return nil
}

func runTap(c *cli.Context) error {
	if c.Args().Len() != 2 {
		return fmt.Errorf("tap requires X and Y")
	}
	x, err := strconv.Atoi(c.Args().Get(0))
	if err != nil {
		return fmt.Errorf("invalid X %q: %w", c.Args().Get(0), err)
	}
	y, err := strconv.Atoi(c.Args().Get(1))
	if err != nil {
		return fmt.Errorf("invalid Y %q: %w", c.Args().Get(1), err)
	}

	rt, err := newRuntime(c)
	if err != nil {
		return err
	}
	defer rt.close()

	h, cleanup, err := rt.connect(rt.ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx := rt.ctx
	if rt.cfg.GestureTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, rt.cfg.GestureTimeout)
		defer cancel()
	}

	completed, err := rt.engine(h).Tap(ctx, x, y)
	if err != nil {
		return err
	}
	if !completed {
		rt.failure(fmt.Sprintf("Tap at %d,%d cancelled by host", x, y))
		return cli.Exit("", exitGestureCancelled)
	}
	rt.success(fmt.Sprintf("Tap at %d,%d completed", x, y))
	return nil
}

func runRecover(c *cli.Context) error {
	rt, err := newRuntime(c)
	if err != nil {
		return err
	}
	defer rt.close()

	leave := c.Bool("leave")
	if !leave {
		if err := rt.requireOwnPackage(); err != nil {
			return err
		}
	}

	h, cleanup, err := rt.connect(rt.ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	opts := automation.FinishOptions{
		UserCancelled: c.Bool("cancelled"),
		ReturnToApp:   !leave,
		DeviceClass:   rt.deviceClass(rt.ctx, h),
	}
	outcome, err := rt.engine(h).Finish(rt.ctx, opts)
	if err != nil {
		return err
	}
	return rt.printYAML("Recovery", outcome)
}

func runDevices(c *cli.Context) error {
	rt, err := newRuntime(c)
	if err != nil {
		return err
	}
	defer rt.close()

	var entries []device.DeviceEntry
	if rt.mock {
		entries = []device.DeviceEntry{{Serial: mockSerial, State: "device", Model: "mock"}}
	} else if entries, err = device.ListDevices(rt.ctx); err != nil {
		return err
	}
	if len(entries) == 0 {
		rt.warn("No devices attached")
		return nil
	}

	w := tabwriter.NewWriter(rt.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SERIAL\tSTATE\tMODEL")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\n", e.Serial, e.State, e.Model)
	}
	return w.Flush()
}

func runSnapshot(c *cli.Context) error {
	if c.Args().Len() != 1 {
		return fmt.Errorf("snapshot requires an output FILE")
	}
	path := c.Args().First()

	rt, err := newRuntime(c)
	if err != nil {
		return err
	}
	defer rt.close()
	if v := c.String("label-id"); v != "" {
		rt.cfg.LabelResourceID = v
	}

	h, cleanup, err := rt.connect(rt.ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	snap, err := rt.capture(rt.ctx, rt.engine(h))
	if err != nil {
		return err
	}
	if err := storage.WriteSnapshotFile(path, snap); err != nil {
		return err
	}
	rt.success(fmt.Sprintf("Captured %d labels (%d parsed) to %s", len(snap.Values), snap.Parsed(), path))
	return nil
}

// classification is the YAML document printed by classify.
type classification struct {
	Result storage.DeltaResult `yaml:"result"`
	Pre    storage.Snapshot    `yaml:"pre"`
	Post   storage.Snapshot    `yaml:"post"`
}

func runClassify(c *cli.Context) error {
	if c.Args().Len() != 2 {
		return fmt.Errorf("classify requires PRE and POST snapshot files")
	}

	rt, err := newRuntime(c)
	if err != nil {
		return err
	}
	defer rt.close()

	pre, err := storage.ReadSnapshotFile(c.Args().Get(0))
	if err != nil {
		return err
	}
	post, err := storage.ReadSnapshotFile(c.Args().Get(1))
	if err != nil {
		return err
	}

	result := storage.Compare(pre, post)
	logger.Info("Classified %s against %s: %s", c.Args().Get(0), c.Args().Get(1), result)
	if err := rt.printYAML("Classification", classification{Result: result, Pre: pre, Post: post}); err != nil {
		return err
	}
	if c.Bool("strict") && !result.Cleared() {
		return cli.Exit("", exitNotCleared)
	}
	return nil
}

func runClearCache(c *cli.Context) error {
	rt, err := newRuntime(c)
	if err != nil {
		return err
	}
	defer rt.close()
	if v := c.String("label-id"); v != "" {
		rt.cfg.LabelResourceID = v
	}
	if err := rt.requireOwnPackage(); err != nil {
		return err
	}

	h, cleanup, err := rt.connect(rt.ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := rt.requireEnabled(c, h); err != nil {
		return err
	}

	engine := rt.engine(h)
	buttonText := c.String("button")
	settle := c.Duration("settle")
	opts := automation.FinishOptions{
		ReturnToApp: true,
		DeviceClass: rt.deviceClass(rt.ctx, h),
	}

	var result storage.DeltaResult
	outcome, err := engine.RunSession(rt.ctx, opts, func(ctx context.Context) error {
		pre, err := rt.capture(ctx, engine)
		if err != nil {
			return err
		}

		root, err := rt.waitRoot(ctx, engine)
		if err != nil {
			return err
		}
		button := root.Find(func(n *core.Node) bool {
			return n.Enabled && strings.EqualFold(strings.TrimSpace(n.Text), buttonText)
		})
		if button == nil {
			return fmt.Errorf("button %q not found on %s", buttonText, root.PackageName)
		}

		rt.step(fmt.Sprintf("Tapping %q...", buttonText))
		completed, err := engine.TapNode(ctx, button)
		if err != nil {
			return err
		}
		if !completed {
			return core.ErrHostRefused.WithMessage(fmt.Sprintf("tap on %q was cancelled by host", buttonText))
		}

		select {
		case <-time.After(settle):
		case <-ctx.Done():
			return core.Cancelled(ctx.Err(), "cancelled while waiting for the screen to settle")
		}

		post, err := rt.capture(ctx, engine)
		if err != nil {
			return err
		}
		result = storage.Compare(pre, post)
		return nil
	})

	rt.heading("Result")
	if err == nil {
		fmt.Fprintf(rt.out, "  cache: %s\n", result)
	}
	fmt.Fprintf(rt.out, "  recovery: %s (back presses: %d)\n", outcome.Method, outcome.BackPresses)
	if err != nil {
		return err
	}
	if !result.Cleared() {
		return cli.Exit("", exitNotCleared)
	}
	return nil
}

// waitRoot waits for a window root within the configured timeout.
func (rt *runtime) waitRoot(ctx context.Context, engine *automation.Engine) (*core.Node, error) {
	ctx, cancel := rt.withRootTimeout(ctx)
	defer cancel()
	return engine.WaitForWindowRoot(ctx)
}

// capture reads the size labels of the current screen.
func (rt *runtime) capture(ctx context.Context, engine *automation.Engine) (storage.Snapshot, error) {
	root, err := rt.waitRoot(ctx, engine)
	if err != nil {
		return storage.Snapshot{}, err
	}
	snap := storage.Capture(root, storage.ByResourceID(rt.cfg.LabelResourceID))
	logger.Debug("Captured %d size labels from %s", len(snap.Values), root.PackageName)
	if snap.Parsed() < len(snap.Values) {
		rt.warn(fmt.Sprintf("%d of %d labels could not be parsed", len(snap.Values)-snap.Parsed(), len(snap.Values)))
	}
	return snap, nil
}

func (rt *runtime) printYAML(title string, v interface{}) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", strings.ToLower(title), err)
	}
	rt.heading(title)
	_, err = rt.out.Write(data)
	return err
}
