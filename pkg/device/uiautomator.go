package device

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"golang.org/x/time/rate"

	"github.com/devicelab-dev/settings-runner/pkg/core"
	"github.com/devicelab-dev/settings-runner/pkg/logger"
	"github.com/devicelab-dev/settings-runner/pkg/uiautomator2"
)

// Packages of the UIAutomator2 driver.
const (
	UIAutomator2Server = "io.appium.uiautomator2.server"
	UIAutomator2Test   = "io.appium.uiautomator2.server.test"
)

const (
	instrumentRunner = UIAutomator2Test + "/androidx.test.runner.AndroidJUnitRunner"
	serverPort       = 6790

	tcpPortFirst = 6001
	tcpPortLast  = 7001

	readyInterval = 500 * time.Millisecond
	statusTimeout = 2 * time.Second
	stopGrace     = 300 * time.Millisecond
)

// driverAPKs lists each driver package with the file name glob of its APK.
var driverAPKs = []struct {
	pkg  string
	glob string
}{
	{UIAutomator2Server, "appium-uiautomator2-server-v*.apk"},
	{UIAutomator2Test, "appium-uiautomator2-server-debug-androidTest.apk"},
}

// ServerOptions controls how the UIAutomator2 server is reached from the host.
type ServerOptions struct {
	// TCP forwards a local port instead of a Unix socket.
	TCP        bool
	SocketPath string // default /tmp/uia2-<serial>.sock
	LocalPort  int    // 0 picks a free port
	DevicePort int
	Timeout    time.Duration
}

// DefaultServerOptions uses a Unix socket except on Windows.
func DefaultServerOptions() ServerOptions {
	return ServerOptions{
		TCP:        runtime.GOOS == "windows",
		DevicePort: serverPort,
		Timeout:    30 * time.Second,
	}
}

// StartUIAutomator2 forwards the server port, launches the instrumentation
// and blocks until the server reports ready.
func (d *AndroidDevice) StartUIAutomator2(ctx context.Context, opts ServerOptions) error {
	for _, apk := range driverAPKs {
		if !d.IsInstalled(ctx, apk.pkg) {
			return core.ErrMissingRequired.WithMessage("UIAutomator2 package not installed: " + apk.pkg)
		}
	}
	if err := d.StopUIAutomator2(ctx); err != nil {
		logger.Debug("stopping previous UIAutomator2: %v", err)
	}

	if err := d.forwardServer(ctx, opts); err != nil {
		return err
	}
	// the shell must detach or adb blocks until the server exits
	launch := "nohup am instrument -w -e disableAnalytics true " + instrumentRunner + " > /dev/null 2>&1 &"
	if _, err := d.Shell(ctx, launch); err != nil {
		return fmt.Errorf("start instrumentation: %w", err)
	}

	if err := d.awaitServer(ctx, opts.Timeout); err != nil {
		_ = d.StopUIAutomator2(context.WithoutCancel(ctx))
		return err
	}
	logger.Info("UIAutomator2 server ready on %s", d.serial)
	return nil
}

func (d *AndroidDevice) forwardServer(ctx context.Context, opts ServerOptions) error {
	if opts.TCP {
		port := opts.LocalPort
		if port == 0 {
			var err error
			if port, err = freePort(tcpPortFirst, tcpPortLast); err != nil {
				return err
			}
		}
		if err := d.Forward(ctx, port, opts.DevicePort); err != nil {
			return fmt.Errorf("forward tcp:%d: %w", port, err)
		}
		d.localPort = port
		return nil
	}

	path := opts.SocketPath
	if path == "" {
		path = d.DefaultSocketPath()
	}
	_ = os.Remove(path)
	if err := d.ForwardSocket(ctx, path, opts.DevicePort); err != nil {
		return fmt.Errorf("forward %s: %w", path, err)
	}
	d.socketPath = path
	return nil
}

func freePort(first, last int) (int, error) {
	for port := first; port <= last; port++ {
		ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
		if err != nil {
			continue
		}
		ln.Close()
		return port, nil
	}
	return 0, fmt.Errorf("no free port in %d-%d", first, last)
}

// StopUIAutomator2 force-stops the driver packages and drops every forward,
// including a stale default socket left by an earlier run.
func (d *AndroidDevice) StopUIAutomator2(ctx context.Context) error {
	var errs []error
	for _, apk := range driverAPKs {
		if _, err := d.Shell(ctx, "am force-stop "+apk.pkg); err != nil {
			errs = append(errs, err)
		}
	}

	select {
	case <-ctx.Done():
	case <-time.After(stopGrace):
	}

	// missing forwards are not an error here
	for _, path := range []string{d.socketPath, d.DefaultSocketPath()} {
		if path == "" {
			continue
		}
		_ = d.RemoveSocketForward(ctx, path)
		_ = os.Remove(path)
	}
	d.socketPath = ""
	if d.localPort != 0 {
		_ = d.RemoveForward(ctx, d.localPort)
		d.localPort = 0
	}
	return errors.Join(errs...)
}

// UIAutomator2Client returns a client bound to the active server forward.
func (d *AndroidDevice) UIAutomator2Client() (*uiautomator2.Client, error) {
	switch {
	case d.socketPath != "":
		return uiautomator2.NewClient(d.socketPath), nil
	case d.localPort != 0:
		return uiautomator2.NewClientTCP(d.localPort), nil
	}
	return nil, core.ErrServerUnreachable.WithMessage("UIAutomator2 server is not forwarded")
}

func (d *AndroidDevice) awaitServer(ctx context.Context, timeout time.Duration) error {
	client, err := d.UIAutomator2Client()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	limiter := rate.NewLimiter(rate.Every(readyInterval), 1)
	for {
		if err := limiter.Wait(ctx); err != nil {
			return core.ErrServerUnreachable.WithCause(err).
				WithMessage(fmt.Sprintf("UIAutomator2 server not ready after %v", timeout))
		}
		if serverReady(ctx, client) {
			return nil
		}
	}
}

func serverReady(ctx context.Context, client *uiautomator2.Client) bool {
	ctx, cancel := context.WithTimeout(ctx, statusTimeout)
	defer cancel()
	ready, err := client.Status(ctx)
	return err == nil && ready
}

// InstallUIAutomator2 installs the driver APKs found in dir that the device
// is missing.
func (d *AndroidDevice) InstallUIAutomator2(ctx context.Context, dir string) error {
	for _, apk := range driverAPKs {
		if d.IsInstalled(ctx, apk.pkg) {
			continue
		}
		path, err := findAPK(dir, apk.glob)
		if err != nil {
			return err
		}
		logger.Info("installing %s", filepath.Base(path))
		if err := d.Install(ctx, path); err != nil {
			return fmt.Errorf("install %s: %w", apk.pkg, err)
		}
	}
	return nil
}

func findAPK(dir, glob string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, glob))
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", core.ErrMissingRequired.WithMessage(fmt.Sprintf("no APK matching %s in %s", glob, dir))
	}
	return matches[0], nil
}
