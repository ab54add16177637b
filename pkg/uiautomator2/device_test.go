package uiautomator2

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBack(t *testing.T) {
	srv := newFakeServer(t, http.StatusOK, `{"value":null}`)

	require.NoError(t, srv.client("s1").Back(context.Background()))
	assert.Equal(t, call{Method: "POST", Path: "/session/s1/back"}, srv.only(t))
}

func TestPressKeyCode(t *testing.T) {
	srv := newFakeServer(t, http.StatusOK, `{"value":null}`)

	require.NoError(t, srv.client("s1").PressKeyCode(context.Background(), KeyCodeHome))
	got := srv.only(t)
	assert.Equal(t, "/session/s1/appium/device/press_keycode", got.Path)
	assert.JSONEq(t, `{"keycode":3}`, got.Body)
}

func TestSource(t *testing.T) {
	srv := newFakeServer(t, http.StatusOK, `{"value":"<hierarchy rotation=\"0\"><node/></hierarchy>"}`)

	source, err := srv.client("s1").Source(context.Background())
	require.NoError(t, err)
	assert.Equal(t, `<hierarchy rotation="0"><node/></hierarchy>`, source)
	assert.Equal(t, call{Method: "GET", Path: "/session/s1/source"}, srv.only(t))
}

func TestSourceMalformed(t *testing.T) {
	for _, reply := range []string{`invalid json`, `{"value":42}`, `{}`} {
		srv := newFakeServer(t, http.StatusOK, reply)
		_, err := srv.client("s1").Source(context.Background())
		assert.Error(t, err, reply)
	}
}

func TestSourceUnreachable(t *testing.T) {
	_, err := unreachable().Source(context.Background())
	assert.Error(t, err)
}

func TestDeviceCommandsRequireSession(t *testing.T) {
	srv := newFakeServer(t, http.StatusOK, `{}`)
	c := srv.client("")
	ctx := context.Background()

	_, err := c.Source(ctx)
	assert.Error(t, err)
	assert.Error(t, c.Back(ctx))
	assert.Error(t, c.PressKeyCode(ctx, KeyCodeBack))
	assert.Zero(t, srv.count())
}
