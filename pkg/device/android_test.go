package device

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devicelab-dev/settings-runner/pkg/core"
)

// skipIfNoDevice skips the test if no device is connected.
func skipIfNoDevice(t *testing.T) {
	t.Helper()
	out, err := exec.Command("adb", "devices").Output()
	if err != nil {
		t.Skip("adb not available")
	}
	if !strings.Contains(string(out), "\tdevice") {
		t.Skip("no device connected")
	}
}

// fakeADB answers adb invocations from a table keyed by the arguments after -s <serial>.
type fakeADB struct {
	outputs map[string]string
	errs    map[string]error
	calls   []string
}

func (f *fakeADB) run(_ context.Context, _ string, args ...string) ([]byte, []byte, error) {
	if len(args) >= 2 && args[0] == "-s" {
		args = args[2:]
	}
	key := strings.Join(args, " ")
	f.calls = append(f.calls, key)
	if err, ok := f.errs[key]; ok {
		return []byte(f.outputs[key]), []byte("failed"), err
	}
	return []byte(f.outputs[key]), nil, nil
}

func newFakeDevice(f *fakeADB) *AndroidDevice {
	return &AndroidDevice{serial: "emulator-5554", adbPath: "adb", run: f.run}
}

const resolveLauncher = "shell cmd package resolve-activity --brief " +
	"-a android.intent.action.MAIN -c android.intent.category.LAUNCHER eu.example.cleaner"

func TestSecureSetting(t *testing.T) {
	f := &fakeADB{outputs: map[string]string{
		"shell settings get secure accessibility_button_targets":          "eu.example.cleaner/.AutomationService\n",
		"shell settings get secure accessibility_shortcut_target_service": "null\n",
	}}
	d := newFakeDevice(f)

	value, ok, err := d.SecureSetting(context.Background(), "accessibility_button_targets")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "eu.example.cleaner/.AutomationService", value)

	_, ok, err = d.SecureSetting(context.Background(), "accessibility_shortcut_target_service")
	require.NoError(t, err)
	assert.False(t, ok, "null reads as unset")
}

func TestSecureSettingError(t *testing.T) {
	f := &fakeADB{errs: map[string]error{
		"shell settings get secure x": errors.New("exit status 1"),
	}}
	_, _, err := newFakeDevice(f).SecureSetting(context.Background(), "x")
	assert.Error(t, err)
}

func TestParseForegroundPackage(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		expect string
	}{
		{"app focus", "  mCurrentFocus=Window{ab3a179 u0 com.android.settings/com.android.settings.SubSettings}\n", "com.android.settings"},
		{"status bar", "  mCurrentFocus=Window{1234abc u0 StatusBar}\n", ""},
		{"package only", "  mCurrentFocus=Window{1234abc u0 com.android.systemui}\n", "com.android.systemui"},
		{"null focus", "  mCurrentFocus=null\n", ""},
		{"empty output", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expect, parseForegroundPackage(tt.input))
		})
	}
}

func TestForegroundPackage(t *testing.T) {
	f := &fakeADB{outputs: map[string]string{
		"shell dumpsys window displays | grep mCurrentFocus": "  mCurrentFocus=Window{ab3a179 u0 eu.example.cleaner/eu.example.cleaner.MainActivity}\n",
	}}

	pkg, err := newFakeDevice(f).ForegroundPackage(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "eu.example.cleaner", pkg)
}

func TestForegroundPackageNoMatch(t *testing.T) {
	f := &fakeADB{errs: map[string]error{
		"shell dumpsys window displays | grep mCurrentFocus": errors.New("exit status 1"),
	}}

	pkg, err := newFakeDevice(f).ForegroundPackage(context.Background())
	require.NoError(t, err, "grep without a match is not a failure")
	assert.Empty(t, pkg)
}

func TestStartActivity(t *testing.T) {
	f := &fakeADB{outputs: map[string]string{}}

	err := newFakeDevice(f).StartActivity(context.Background(), core.Intent{
		Package:  "eu.example.cleaner",
		Activity: ".MainActivity",
		Flags:    core.FlagActivityNewTask | core.FlagActivityNoAnimation,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"shell am start -n eu.example.cleaner/eu.example.cleaner.MainActivity -f 0x10010000",
	}, f.calls)
}

func TestStartActivityLauncherKeepsFlags(t *testing.T) {
	f := &fakeADB{outputs: map[string]string{
		resolveLauncher: "priority=0 preferredOrder=0 match=0x108000 specificIndex=-1 isDefault=true\n" +
			"eu.example.cleaner/.main.ui.MainActivity\n",
	}}

	err := newFakeDevice(f).StartActivity(context.Background(), core.Intent{
		Package: "eu.example.cleaner",
		Flags: core.FlagActivityNewTask | core.FlagActivityClearTop |
			core.FlagActivitySingleTop | core.FlagActivityNoAnimation,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{
		resolveLauncher,
		"shell am start -n eu.example.cleaner/eu.example.cleaner.main.ui.MainActivity -f 0x34010000",
	}, f.calls)
}

func TestStartActivityNoLauncher(t *testing.T) {
	f := &fakeADB{outputs: map[string]string{
		resolveLauncher: "No activity found\n",
	}}

	err := newFakeDevice(f).StartActivity(context.Background(), core.Intent{Package: "eu.example.cleaner"})
	assert.ErrorIs(t, err, core.ErrLaunchFailed)
	assert.Equal(t, []string{resolveLauncher}, f.calls, "nothing is started without a component")
}

func TestLauncherActivityShellError(t *testing.T) {
	f := &fakeADB{errs: map[string]error{resolveLauncher: errors.New("exit status 255")}}

	_, err := newFakeDevice(f).LauncherActivity(context.Background(), "eu.example.cleaner")
	assert.ErrorIs(t, err, core.ErrLaunchFailed)
}

func TestStartActivityErrorOutput(t *testing.T) {
	cmd := "shell am start -n a.b/a.b.Missing -f 0x00000000"
	f := &fakeADB{outputs: map[string]string{
		cmd: "Starting: Intent { cmp=a.b/.Missing }\nError type 3\nError: Activity class {a.b/a.b.Missing} does not exist.\n",
	}}

	err := newFakeDevice(f).StartActivity(context.Background(), core.Intent{Package: "a.b", Activity: ".Missing"})
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrLaunchFailed)
	assert.Contains(t, err.Error(), "does not exist")
}

func TestKeyEvent(t *testing.T) {
	f := &fakeADB{outputs: map[string]string{}}
	require.NoError(t, newFakeDevice(f).KeyEvent(context.Background(), 4))
	assert.Equal(t, []string{"shell input keyevent 4"}, f.calls)
}

func TestDeviceClass(t *testing.T) {
	tests := []struct {
		name     string
		features string
		chars    string
		want     core.DeviceClass
	}{
		{"leanback feature", "feature:android.hardware.wifi\nfeature:android.software.leanback\n", "", core.DeviceClassTV},
		{"tv characteristics", "feature:android.hardware.wifi\n", "tv\n", core.DeviceClassTV},
		{"phone", "feature:android.hardware.telephony\n", "nosdcard\n", core.DeviceClassDefault},
		{"tablet", "feature:android.hardware.wifi\n", "tablet,nosdcard\n", core.DeviceClassDefault},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeADB{outputs: map[string]string{
				"shell pm list features":                 tt.features,
				"shell getprop ro.build.characteristics": tt.chars,
			}}
			got, err := newFakeDevice(f).DeviceClass(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIsInstalled(t *testing.T) {
	f := &fakeADB{outputs: map[string]string{
		"shell pm list packages io.appium.uiautomator2.server": "package:io.appium.uiautomator2.server\npackage:io.appium.uiautomator2.server.test\n",
	}}
	d := newFakeDevice(f)

	assert.True(t, d.IsInstalled(context.Background(), UIAutomator2Server))
	assert.False(t, d.IsInstalled(context.Background(), "io.appium.settings"))
}

func TestInfo(t *testing.T) {
	f := &fakeADB{outputs: map[string]string{
		"shell getprop ro.product.model":     "Pixel 7\n",
		"shell getprop ro.build.version.sdk": "34\n",
		"shell getprop ro.product.brand":     "google\n",
		"shell getprop ro.kernel.qemu":       "1\n",
	}}

	info, err := newFakeDevice(f).Info(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DeviceInfo{
		Serial:     "emulator-5554",
		Model:      "Pixel 7",
		SDK:        "34",
		Brand:      "google",
		IsEmulator: true,
	}, info)
}

func TestAdbErrorIncludesStderr(t *testing.T) {
	f := &fakeADB{errs: map[string]error{"shell false": errors.New("exit status 1")}}
	_, err := newFakeDevice(f).Shell(context.Background(), "false")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed")
}

func TestWaitForDeviceTimeout(t *testing.T) {
	f := &fakeADB{outputs: map[string]string{"get-state": "offline\n"}}
	err := newFakeDevice(f).waitForDevice(context.Background(), 50*time.Millisecond)
	assert.ErrorIs(t, err, core.ErrTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWaitForDeviceReady(t *testing.T) {
	f := &fakeADB{outputs: map[string]string{"get-state": "device\n"}}
	assert.NoError(t, newFakeDevice(f).waitForDevice(context.Background(), time.Second))
}

func TestDefaultSocketPath(t *testing.T) {
	d := newFakeDevice(&fakeADB{})
	assert.Equal(t, "/tmp/uia2-emulator-5554.sock", d.DefaultSocketPath())
}

func TestAndroidDevice_Shell(t *testing.T) {
	skipIfNoDevice(t)

	d, err := New(context.Background(), "")
	require.NoError(t, err)

	out, err := d.Shell(context.Background(), "echo hello")
	require.NoError(t, err)
	assert.Contains(t, out, "hello")
}

func TestAndroidDevice_ForegroundPackage(t *testing.T) {
	skipIfNoDevice(t)

	d, err := New(context.Background(), "")
	require.NoError(t, err)

	_, err = d.ForegroundPackage(context.Background())
	assert.NoError(t, err)
}

func TestAndroidDevice_New_InvalidSerial(t *testing.T) {
	if _, err := exec.LookPath("adb"); err != nil {
		t.Skip("adb not available")
	}
	_, err := New(context.Background(), "invalid-device-serial-xyz")
	assert.ErrorIs(t, err, core.ErrDeviceDisconnected)
}
