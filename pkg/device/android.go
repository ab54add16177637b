// Package device provides Android device management via ADB.
package device

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/devicelab-dev/settings-runner/pkg/core"
	"github.com/devicelab-dev/settings-runner/pkg/logger"
)

// commandFunc runs an external command and returns its output.
type commandFunc func(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)

func execCommand(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// AndroidDevice manages an Android device connection via ADB.
type AndroidDevice struct {
	serial     string
	adbPath    string
	socketPath string // UIAutomator2 socket forward, if any
	localPort  int    // UIAutomator2 TCP forward, if any
	run        commandFunc
}

// DeviceInfo contains basic device information.
type DeviceInfo struct {
	Serial     string `yaml:"serial"`
	Model      string `yaml:"model"`
	SDK        string `yaml:"sdk"`
	Brand      string `yaml:"brand"`
	IsEmulator bool   `yaml:"emulator"`
}

// New creates an AndroidDevice for the given serial.
// If serial is empty, it auto-detects the connected device.
func New(ctx context.Context, serial string) (*AndroidDevice, error) {
	adbPath, err := findADB()
	if err != nil {
		return nil, err
	}

	if serial == "" {
		serial, err = detectSerial(ctx, adbPath, execCommand)
		if err != nil {
			return nil, err
		}
	}

	d := &AndroidDevice{
		serial:  serial,
		adbPath: adbPath,
		run:     execCommand,
	}

	// Verify device is connected
	if err := d.waitForDevice(ctx, 5*time.Second); err != nil {
		return nil, core.ErrDeviceDisconnected.WithCause(err).WithMessage("device not found: " + serial)
	}

	return d, nil
}

// Serial returns the device serial number.
func (d *AndroidDevice) Serial() string {
	return d.serial
}

// Shell executes a shell command on the device.
func (d *AndroidDevice) Shell(ctx context.Context, cmd string) (string, error) {
	return d.adb(ctx, "shell", cmd)
}

// Install installs an APK on the device.
func (d *AndroidDevice) Install(ctx context.Context, apkPath string) error {
	_, err := d.adb(ctx, "install", "-r", "-g", apkPath)
	return err
}

// IsInstalled checks if a package is installed.
func (d *AndroidDevice) IsInstalled(ctx context.Context, pkg string) bool {
	out, err := d.Shell(ctx, "pm list packages "+pkg)
	if err != nil {
		return false
	}
	for _, line := range strings.Split(out, "\n") {
		if strings.TrimSpace(line) == "package:"+pkg {
			return true
		}
	}
	return false
}

// Forward creates a port forward from local to device.
func (d *AndroidDevice) Forward(ctx context.Context, localPort, remotePort int) error {
	_, err := d.adb(ctx, "forward", fmt.Sprintf("tcp:%d", localPort), fmt.Sprintf("tcp:%d", remotePort))
	return err
}

// RemoveForward removes a port forward.
func (d *AndroidDevice) RemoveForward(ctx context.Context, localPort int) error {
	_, err := d.adb(ctx, "forward", "--remove", fmt.Sprintf("tcp:%d", localPort))
	return err
}

// ForwardSocket forwards a Unix socket to a device TCP port.
func (d *AndroidDevice) ForwardSocket(ctx context.Context, socketPath string, remotePort int) error {
	_, err := d.adb(ctx, "forward", fmt.Sprintf("localfilesystem:%s", socketPath), fmt.Sprintf("tcp:%d", remotePort))
	return err
}

// RemoveSocketForward removes a Unix socket forward.
func (d *AndroidDevice) RemoveSocketForward(ctx context.Context, socketPath string) error {
	_, err := d.adb(ctx, "forward", "--remove", fmt.Sprintf("localfilesystem:%s", socketPath))
	return err
}

// DefaultSocketPath returns the default Unix socket path for this device.
func (d *AndroidDevice) DefaultSocketPath() string {
	return fmt.Sprintf("/tmp/uia2-%s.sock", d.serial)
}

// Info returns device information.
func (d *AndroidDevice) Info(ctx context.Context) (DeviceInfo, error) {
	info := DeviceInfo{Serial: d.serial}

	if model, err := d.Shell(ctx, "getprop ro.product.model"); err == nil {
		info.Model = strings.TrimSpace(model)
	}
	if sdk, err := d.Shell(ctx, "getprop ro.build.version.sdk"); err == nil {
		info.SDK = strings.TrimSpace(sdk)
	}
	if brand, err := d.Shell(ctx, "getprop ro.product.brand"); err == nil {
		info.Brand = strings.TrimSpace(brand)
	}

	// Check if emulator
	chars, _ := d.Shell(ctx, "getprop ro.kernel.qemu")
	info.IsEmulator = strings.TrimSpace(chars) == "1"

	return info, nil
}

// SecureSetting reads a value from the secure settings table.
// The literal "null" printed by the settings tool means unset.
func (d *AndroidDevice) SecureSetting(ctx context.Context, key string) (string, bool, error) {
	out, err := d.Shell(ctx, "settings get secure "+key)
	if err != nil {
		return "", false, err
	}
	value := strings.TrimSpace(out)
	if value == "" || value == "null" {
		return "", false, nil
	}
	return value, true, nil
}

// ForegroundPackage returns the package owning the focused window, or "" if
// none can be determined (e.g. the status bar has focus).
func (d *AndroidDevice) ForegroundPackage(ctx context.Context) (string, error) {
	out, err := d.Shell(ctx, "dumpsys window displays | grep mCurrentFocus")
	if err != nil {
		// grep exits 1 when nothing matches
		if strings.TrimSpace(out) == "" {
			return "", nil
		}
		return "", err
	}
	return parseForegroundPackage(out), nil
}

var (
	focusComponentPattern = regexp.MustCompile(`mCurrentFocus=Window\{[^}]*\s+(\S+)/\S+\}`)
	focusWindowPattern    = regexp.MustCompile(`mCurrentFocus=Window\{[^}]*\s+(\S+)\}`)
)

// parseForegroundPackage extracts the package from dumpsys mCurrentFocus output.
// Input: "  mCurrentFocus=Window{ab3a179 u0 app.footos/app.footos.MainActivity}"
func parseForegroundPackage(output string) string {
	if m := focusComponentPattern.FindStringSubmatch(output); len(m) >= 2 {
		return m[1]
	}
	// Some windows carry only a name, e.g. "StatusBar"
	if m := focusWindowPattern.FindStringSubmatch(output); len(m) >= 2 {
		if strings.Contains(m[1], ".") {
			return m[1]
		}
	}
	return ""
}

// StartActivity launches intent with its flags. Without an activity the
// package's launcher activity is resolved first.
func (d *AndroidDevice) StartActivity(ctx context.Context, intent core.Intent) error {
	if intent.Activity == "" {
		activity, err := d.LauncherActivity(ctx, intent.Package)
		if err != nil {
			return err
		}
		intent.Activity = activity
	}

	out, err := d.Shell(ctx, fmt.Sprintf("am start -n %s -f 0x%08x", intent.Component(), uint32(intent.Flags)))
	if err != nil {
		return err
	}
	// am start exits 0 even when the activity does not exist
	if idx := strings.Index(out, "Error:"); idx >= 0 {
		return core.ErrLaunchFailed.WithMessage(strings.TrimSpace(out[idx:]))
	}
	return nil
}

// LauncherActivity resolves the MAIN/LAUNCHER activity of pkg. The result
// keeps the package manager's short form, e.g. ".main.ui.MainActivity".
func (d *AndroidDevice) LauncherActivity(ctx context.Context, pkg string) (string, error) {
	out, err := d.Shell(ctx, "cmd package resolve-activity --brief "+
		"-a android.intent.action.MAIN -c android.intent.category.LAUNCHER "+pkg)
	if err != nil {
		return "", core.ErrLaunchFailed.WithCause(err).WithMessage("resolve launcher activity of " + pkg)
	}
	// --brief prints the match summary first and the component last
	lines := strings.Split(strings.TrimSpace(out), "\n")
	last := strings.TrimSpace(lines[len(lines)-1])
	if p, activity, ok := strings.Cut(last, "/"); ok && p == pkg && activity != "" {
		return activity, nil
	}
	return "", core.ErrLaunchFailed.WithMessage("no launcher activity in " + pkg)
}

// KeyEvent injects an Android key code.
func (d *AndroidDevice) KeyEvent(ctx context.Context, keyCode int) error {
	_, err := d.Shell(ctx, "input keyevent "+strconv.Itoa(keyCode))
	return err
}

// DeviceClass reports whether the device is a TV (leanback) device.
func (d *AndroidDevice) DeviceClass(ctx context.Context) (core.DeviceClass, error) {
	features, err := d.Shell(ctx, "pm list features")
	if err != nil {
		return core.DeviceClassDefault, err
	}
	if strings.Contains(features, "feature:android.software.leanback") {
		return core.DeviceClassTV, nil
	}

	chars, err := d.Shell(ctx, "getprop ro.build.characteristics")
	if err != nil {
		return core.DeviceClassDefault, err
	}
	for _, c := range strings.Split(strings.TrimSpace(chars), ",") {
		if c == "tv" {
			return core.DeviceClassTV, nil
		}
	}
	return core.DeviceClassDefault, nil
}

// adb executes an ADB command.
func (d *AndroidDevice) adb(ctx context.Context, args ...string) (string, error) {
	cmdArgs := make([]string, 0, len(args)+2)
	if d.serial != "" {
		cmdArgs = append(cmdArgs, "-s", d.serial)
	}
	cmdArgs = append(cmdArgs, args...)

	start := time.Now()
	stdout, stderr, err := d.run(ctx, d.adbPath, cmdArgs...)
	logger.Debug("adb %s [%v]", strings.Join(args, " "), time.Since(start))
	if err != nil {
		errMsg := string(stderr)
		if errMsg == "" {
			errMsg = string(stdout)
		}
		return string(stdout), fmt.Errorf("adb %s: %w: %s", strings.Join(args, " "), err, errMsg)
	}

	return string(stdout), nil
}

// waitForDevice waits for the device to be available.
func (d *AndroidDevice) waitForDevice(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		if d.isConnected(ctx) {
			return nil
		}
		select {
		case <-ctx.Done():
			return core.ErrTimeout.WithCause(ctx.Err()).WithMessage("timeout waiting for device " + d.serial)
		case <-ticker.C:
		}
	}
}

// isConnected checks if the device is connected.
func (d *AndroidDevice) isConnected(ctx context.Context) bool {
	out, err := d.adb(ctx, "get-state")
	if err != nil {
		return false
	}
	return strings.TrimSpace(out) == "device"
}

// findADB locates the ADB binary.
func findADB() (string, error) {
	// Try PATH first
	if path, err := exec.LookPath("adb"); err == nil {
		return path, nil
	}

	return "", core.ErrMissingRequired.WithMessage("adb not found in PATH; ensure Android SDK is installed")
}
