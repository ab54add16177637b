package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/devicelab-dev/settings-runner/pkg/acs"
	"github.com/devicelab-dev/settings-runner/pkg/automation"
	"github.com/devicelab-dev/settings-runner/pkg/config"
	"github.com/devicelab-dev/settings-runner/pkg/core"
	"github.com/devicelab-dev/settings-runner/pkg/device"
	"github.com/devicelab-dev/settings-runner/pkg/host"
	"github.com/devicelab-dev/settings-runner/pkg/host/mock"
	"github.com/devicelab-dev/settings-runner/pkg/logger"
	"github.com/devicelab-dev/settings-runner/pkg/uiautomator2"
)

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorBold   = "\033[1m"
	colorGreen  = "\033[32m"
	colorRed    = "\033[31m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
)

// colorsEnabled determines if ANSI colors should be used
var colorsEnabled = true

func init() {
	// Respect NO_COLOR environment variable
	if os.Getenv("NO_COLOR") != "" {
		colorsEnabled = false
		return
	}
	// Check if stdout is a terminal
	if fileInfo, err := os.Stdout.Stat(); err == nil {
		if (fileInfo.Mode() & os.ModeCharDevice) == 0 {
			colorsEnabled = false
		}
	}
}

// color returns the color code if colors are enabled, empty string otherwise
func color(c string) string {
	if colorsEnabled {
		return c
	}
	return ""
}

// sessionHost is what the commands need from a device: the automation
// surface plus the adb-only queries.
type sessionHost interface {
	core.Host
	acs.SettingsReader
	DeviceClass(ctx context.Context) (core.DeviceClass, error)
}

// runtime carries the resolved configuration of one command invocation.
type runtime struct {
	cfg  *config.Config
	out  io.Writer
	mock bool

	// ctx is cancelled on SIGINT or SIGTERM.
	ctx  context.Context
	stop context.CancelFunc
}

// newRuntime loads configuration, applies flag overrides and starts logging.
// The caller must call close.
func newRuntime(c *cli.Context) (*runtime, error) {
	var (
		cfg *config.Config
		err error
	)
	if path := c.String("config"); path != "" {
		cfg, err = config.Load(path)
	} else {
		cfg, err = config.LoadFromDir(".")
	}
	if err != nil {
		return nil, core.ErrInvalidConfig.WithMessage("failed to load config").WithCause(err)
	}

	if v := c.String("device"); v != "" {
		cfg.Device = v
	}
	if v := c.String("own-package"); v != "" {
		cfg.OwnPackage = v
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	rt := &runtime{cfg: cfg, out: c.App.Writer, mock: c.Bool("mock")}
	if rt.out == nil {
		rt.out = os.Stdout
	}
	base := c.Context
	if base == nil {
		base = context.Background()
	}
	rt.ctx, rt.stop = signal.NotifyContext(base, os.Interrupt, syscall.SIGTERM)

	logPath := c.String("log-file")
	if logPath == "" {
		logPath = config.GetDefaultLogPath()
	}
	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		fmt.Fprintf(rt.out, "Warning: Failed to create log directory: %v\n", err)
	} else if err := logger.Init(logPath, c.Bool("verbose")); err != nil {
		fmt.Fprintf(rt.out, "Warning: Failed to initialize logger: %v\n", err)
	}
	logger.Info("=== %s started ===", c.Command.Name)
	return rt, nil
}

func (rt *runtime) close() {
	rt.stop()
	logger.Close()
}

func (rt *runtime) step(msg string) {
	fmt.Fprintf(rt.out, "  %s⏳%s %s\n", color(colorCyan), color(colorReset), msg)
}

func (rt *runtime) success(msg string) {
	fmt.Fprintf(rt.out, "  %s✓%s %s\n", color(colorGreen), color(colorReset), msg)
}

func (rt *runtime) warn(msg string) {
	fmt.Fprintf(rt.out, "  %s⚠%s %s\n", color(colorYellow), color(colorReset), msg)
}

func (rt *runtime) failure(msg string) {
	fmt.Fprintf(rt.out, "  %s✗%s %s\n", color(colorRed), color(colorReset), msg)
}

func (rt *runtime) heading(msg string) {
	fmt.Fprintf(rt.out, "\n%s%s%s\n", color(colorBold), msg, color(colorReset))
}

// engine wraps h in an automation engine configured from rt.
func (rt *runtime) engine(h core.Host) *automation.Engine {
	return automation.New(h, automation.Config{
		PollInterval:    rt.cfg.PollInterval,
		OwnPackage:      rt.cfg.OwnPackage,
		EntryActivity:   rt.cfg.EntryActivity,
		MaxBackAttempts: rt.cfg.Recovery.MaxBackAttempts,
		BackDelay:       rt.cfg.Recovery.BackDelay,
	}, logger.Named("automation"))
}

// requireOwnPackage fails when no automating app is configured.
func (rt *runtime) requireOwnPackage() error {
	if rt.cfg.OwnPackage == "" {
		return core.ErrMissingRequired.WithMessage("own package is not configured (--own-package or ownPackage)")
	}
	return nil
}

// service returns the accessibility service named by --service or ownService.
func (rt *runtime) service(c *cli.Context) (acs.ServiceIdentity, error) {
	service := c.String("service")
	if service == "" {
		service = rt.cfg.OwnService
	}
	if service == "" {
		return acs.ServiceIdentity{}, core.ErrMissingRequired.
			WithMessage("accessibility service is not configured (--service or ownService)")
	}
	own, ok := acs.ParseIdentity(service)
	if !ok {
		return acs.ServiceIdentity{}, core.ErrInvalidConfig.
			WithMessage(fmt.Sprintf("accessibility service %q is not in package/class form", service))
	}
	return own, nil
}

// requireEnabled fails unless the configured accessibility service is
// enabled. Without a configured service there is nothing to check.
func (rt *runtime) requireEnabled(c *cli.Context, h acs.SettingsReader) error {
	own, err := rt.service(c)
	if errors.Is(err, core.ErrMissingRequired) {
		logger.Debug("no accessibility service configured, skipping authorization check")
		return nil
	}
	if err != nil {
		return err
	}

	enabled, err := acs.NewResolver(h).IsEnabled(rt.ctx, own)
	if err != nil {
		return err
	}
	if !enabled {
		rt.failure(fmt.Sprintf("%s is not enabled", own))
		return core.ErrNotAuthorized.WithMessage(fmt.Sprintf("accessibility service %s is not enabled", own))
	}
	return nil
}

// withRootTimeout bounds a window root wait. Zero means unbounded.
func (rt *runtime) withRootTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if rt.cfg.WindowRootTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, rt.cfg.WindowRootTimeout)
}

// deviceClass returns the configured class, detecting it when set to auto.
func (rt *runtime) deviceClass(ctx context.Context, h sessionHost) core.DeviceClass {
	if class, ok := rt.cfg.FixedDeviceClass(); ok {
		return class
	}
	class, err := h.DeviceClass(ctx)
	if err != nil {
		logger.Warn("Device class detection failed, assuming default: %v", err)
		return core.DeviceClassDefault
	}
	return class
}

// connect returns the host for this invocation and its cleanup.
func (rt *runtime) connect(ctx context.Context) (sessionHost, func(), error) {
	if rt.mock {
		rt.success("Using in-memory device")
		return newMockHost(rt.cfg), func() {}, nil
	}
	return rt.connectDevice(ctx)
}

// connectDevice attaches to an adb device and starts a UIAutomator2 session on it.
func (rt *runtime) connectDevice(ctx context.Context) (sessionHost, func(), error) {
	// 1. Connect to device
	if rt.cfg.Device != "" {
		rt.step(fmt.Sprintf("Connecting to device %s...", rt.cfg.Device))
		logger.Info("Connecting to Android device: %s", rt.cfg.Device)
	} else {
		rt.step("Connecting to device...")
		logger.Info("Auto-detecting Android device...")
	}
	dev, err := device.New(ctx, rt.cfg.Device)
	if err != nil {
		logger.Error("Failed to connect to device: %v", err)
		return nil, nil, fmt.Errorf("connect to device: %w", err)
	}

	info, err := dev.Info(ctx)
	if err != nil {
		logger.Error("Failed to get device info: %v", err)
		return nil, nil, fmt.Errorf("get device info: %w", err)
	}
	logger.L().Info("device connected",
		zap.String("serial", info.Serial),
		zap.String("brand", info.Brand),
		zap.String("model", info.Model),
		zap.String("sdk", info.SDK),
		zap.Bool("emulator", info.IsEmulator))
	rt.success(fmt.Sprintf("Connected to %s %s (SDK %s)", info.Brand, info.Model, info.SDK))

	// 2. Check/install UIAutomator2 APKs
	if !dev.IsInstalled(ctx, device.UIAutomator2Server) {
		rt.step("Installing UIAutomator2 APKs...")
		if err := dev.InstallUIAutomator2(ctx, config.GetDriversDir("android")); err != nil {
			return nil, nil, fmt.Errorf("install UIAutomator2: %w", err)
		}
		rt.success("UIAutomator2 installed")
	}

	// 3. Start UIAutomator2 server
	rt.step("Starting UIAutomator2 server...")
	if err := dev.StartUIAutomator2(ctx, device.DefaultServerOptions()); err != nil {
		logger.Error("Failed to start UIAutomator2: %v", err)
		return nil, nil, fmt.Errorf("start UIAutomator2: %w", err)
	}
	rt.success("UIAutomator2 server started")

	stop := func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := dev.StopUIAutomator2(stopCtx); err != nil {
			logger.Warn("Failed to stop UIAutomator2: %v", err)
		}
	}

	// 4. Create client and session
	client, err := dev.UIAutomator2Client()
	if err != nil {
		stop()
		return nil, nil, err
	}
	client.SetLogger(logger.Named("uia2"))

	rt.step("Creating session...")
	caps := uiautomator2.Capabilities{PlatformName: "Android", DeviceName: info.Model}
	if err := client.CreateSession(ctx, caps); err != nil {
		logger.Error("Failed to create session: %v", err)
		stop()
		return nil, nil, fmt.Errorf("create session: %w", err)
	}
	logger.Info("Session created successfully: %s", client.SessionID())
	rt.success("Session created")

	h := host.New(dev, client, logger.Named("host"), rt.cfg.GestureTimeout)
	cleanup := func() {
		h.Wait()
		if err := client.Close(); err != nil {
			logger.Warn("Failed to delete session: %v", err)
		}
		stop()
	}
	return h, cleanup, nil
}

// mockSerial names the in-memory device in listings.
const mockSerial = "mock-0"

// newMockHost builds the in-memory device used by --mock: the Settings app
// on top of the automating app, showing an app storage screen whose cache is
// emptied by the first tap.
func newMockHost(cfg *config.Config) *mock.Host {
	var stack []string
	if cfg.OwnPackage != "" {
		stack = append(stack, cfg.OwnPackage)
	}
	stack = append(stack, mockSettingsPackage)

	settings := map[string]string{}
	if cfg.OwnService != "" {
		settings[acs.SettingShortcutTargets] = cfg.OwnService
	}

	class, _ := cfg.FixedDeviceClass()
	return mock.New(mock.Config{
		Stack:      stack,
		Screen:     mockStorageScreen(cfg.LabelResourceID, "143 kB", "1.36 MB"),
		NextScreen: mockStorageScreen(cfg.LabelResourceID, "0 B", "1.22 MB"),
		Settings:   settings,
		Class:      class,
	})
}

const mockSettingsPackage = "com.android.settings"

func mockStorageScreen(labelID, cache, total string) *core.Node {
	if labelID == "" {
		labelID = "android:id/summary"
	}
	label := func(title, size string, y int) []*core.Node {
		return []*core.Node{
			{Text: title, ResourceID: "android:id/title", ClassName: "android.widget.TextView", Enabled: true,
				Bounds: core.Bounds{X: 48, Y: y, Width: 600, Height: 50}},
			{Text: size, ResourceID: labelID, ClassName: "android.widget.TextView", Enabled: true,
				Bounds: core.Bounds{X: 48, Y: y + 50, Width: 600, Height: 50}},
		}
	}

	var children []*core.Node
	children = append(children, label("App size", "57.34 kB", 300)...)
	children = append(children, label("User data", "1.16 MB", 420)...)
	children = append(children, label("Cache", cache, 540)...)
	children = append(children, label("Total", total, 660)...)
	children = append(children, &core.Node{
		Text: "Clear cache", ResourceID: "com.android.settings:id/button2", ClassName: "android.widget.Button",
		Clickable: true, Enabled: true, Bounds: core.Bounds{X: 540, Y: 1850, Width: 460, Height: 100},
	})

	return &core.Node{
		ClassName: "android.widget.FrameLayout",
		Enabled:   true,
		Bounds:    core.Bounds{Width: 1080, Height: 2400},
		Children:  children,
	}
}
