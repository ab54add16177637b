package device

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devicelab-dev/settings-runner/pkg/core"
)

func TestStartUIAutomator2NotInstalled(t *testing.T) {
	f := &fakeADB{outputs: map[string]string{}}
	err := newFakeDevice(f).StartUIAutomator2(context.Background(), DefaultServerOptions())
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrMissingRequired)
	assert.Contains(t, err.Error(), UIAutomator2Server)
}

func TestForwardServerSocket(t *testing.T) {
	path := filepath.Join(t.TempDir(), "uia2.sock")
	require.NoError(t, os.WriteFile(path, nil, 0o600))
	f := &fakeADB{outputs: map[string]string{}}
	d := newFakeDevice(f)

	require.NoError(t, d.forwardServer(context.Background(), ServerOptions{SocketPath: path, DevicePort: 6790}))
	assert.Equal(t, []string{"forward localfilesystem:" + path + " tcp:6790"}, f.calls)
	assert.NoFileExists(t, path, "stale socket file is removed before forwarding")

	client, err := d.UIAutomator2Client()
	require.NoError(t, err)
	assert.NotNil(t, client)
}

func TestForwardServerTCP(t *testing.T) {
	f := &fakeADB{outputs: map[string]string{}}
	d := newFakeDevice(f)

	require.NoError(t, d.forwardServer(context.Background(), ServerOptions{TCP: true, LocalPort: 6123, DevicePort: 6790}))
	assert.Equal(t, []string{"forward tcp:6123 tcp:6790"}, f.calls)
	assert.Equal(t, 6123, d.localPort)
}

func TestUIAutomator2ClientWithoutForward(t *testing.T) {
	_, err := newFakeDevice(&fakeADB{}).UIAutomator2Client()
	assert.ErrorIs(t, err, core.ErrServerUnreachable)
}

func TestStopUIAutomator2(t *testing.T) {
	f := &fakeADB{outputs: map[string]string{}}
	d := newFakeDevice(f)
	d.localPort = 6123

	require.NoError(t, d.StopUIAutomator2(context.Background()))
	assert.Equal(t, []string{
		"shell am force-stop " + UIAutomator2Server,
		"shell am force-stop " + UIAutomator2Test,
		"forward --remove localfilesystem:/tmp/uia2-emulator-5554.sock",
		"forward --remove tcp:6123",
	}, f.calls)
	assert.Zero(t, d.localPort)
}

func TestStopUIAutomator2ReportsForceStopFailure(t *testing.T) {
	f := &fakeADB{errs: map[string]error{
		"shell am force-stop " + UIAutomator2Server: assert.AnError,
	}}
	assert.ErrorIs(t, newFakeDevice(f).StopUIAutomator2(context.Background()), assert.AnError)
}

func statusServer(t *testing.T, ready bool) int {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/status" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"value": map[string]any{"ready": ready}})
	}))
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	return port
}

func TestAwaitServerReady(t *testing.T) {
	d := newFakeDevice(&fakeADB{})
	d.localPort = statusServer(t, true)

	assert.NoError(t, d.awaitServer(context.Background(), time.Second))
}

func TestAwaitServerNotReady(t *testing.T) {
	d := newFakeDevice(&fakeADB{})
	d.localPort = statusServer(t, false)

	err := d.awaitServer(context.Background(), 100*time.Millisecond)
	assert.ErrorIs(t, err, core.ErrServerUnreachable)
}

func TestAwaitServerWithoutForward(t *testing.T) {
	err := newFakeDevice(&fakeADB{}).awaitServer(context.Background(), time.Second)
	assert.ErrorIs(t, err, core.ErrServerUnreachable)
}

func TestInstallUIAutomator2(t *testing.T) {
	dir := t.TempDir()
	server := filepath.Join(dir, "appium-uiautomator2-server-v7.0.0.apk")
	test := filepath.Join(dir, "appium-uiautomator2-server-debug-androidTest.apk")
	for _, p := range []string{server, test} {
		require.NoError(t, os.WriteFile(p, []byte("apk"), 0o644))
	}
	f := &fakeADB{outputs: map[string]string{}}

	require.NoError(t, newFakeDevice(f).InstallUIAutomator2(context.Background(), dir))
	assert.Contains(t, f.calls, "install -r -g "+server)
	assert.Contains(t, f.calls, "install -r -g "+test)
}

func TestInstallUIAutomator2MissingAPK(t *testing.T) {
	f := &fakeADB{outputs: map[string]string{}}
	err := newFakeDevice(f).InstallUIAutomator2(context.Background(), t.TempDir())
	assert.ErrorIs(t, err, core.ErrMissingRequired)
}

func TestFindAPK(t *testing.T) {
	dir := t.TempDir()
	apk := filepath.Join(dir, "appium-uiautomator2-server-v7.0.0.apk")
	require.NoError(t, os.WriteFile(apk, []byte("apk"), 0o644))

	got, err := findAPK(dir, "appium-uiautomator2-server-v*.apk")
	require.NoError(t, err)
	assert.Equal(t, apk, got)

	_, err = findAPK(dir, "nonexistent-*.apk")
	assert.Error(t, err)
}

func TestFreePort(t *testing.T) {
	port, err := freePort(tcpPortFirst, tcpPortLast)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, port, tcpPortFirst)
	assert.LessOrEqual(t, port, tcpPortLast)
}
