package mock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devicelab-dev/settings-runner/pkg/core"
)

func TestWindowRoot_Sequence(t *testing.T) {
	h := New(Config{Stack: []string{"com.android.settings"}, AbsentPolls: 1, FailingPolls: 1})
	ctx := context.Background()

	root, err := h.WindowRoot(ctx)
	assert.NoError(t, err)
	assert.Nil(t, root)

	_, err = h.WindowRoot(ctx)
	assert.ErrorIs(t, err, ErrRootUnavailable)

	root, err = h.WindowRoot(ctx)
	require.NoError(t, err)
	assert.Equal(t, "com.android.settings", root.PackageName)
	assert.Equal(t, 3, h.RootCalls())
}

func TestWindowRoot_DoesNotShareScreen(t *testing.T) {
	screen := &core.Node{Text: "Storage"}
	h := New(Config{Stack: []string{"a"}, Screen: screen})

	root, err := h.WindowRoot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Storage", root.Text)
	assert.Empty(t, screen.PackageName)
}

func TestGlobalActions_Stack(t *testing.T) {
	h := New(Config{Stack: []string{"own", "com.android.settings"}})
	ctx := context.Background()

	assert.True(t, h.PerformGlobalAction(ctx, core.GlobalActionBack))
	assert.Equal(t, "own", h.Foreground())
	assert.True(t, h.PerformGlobalAction(ctx, core.GlobalActionHome))
	assert.Equal(t, DefaultLauncher, h.Foreground())
	assert.False(t, h.PerformGlobalAction(ctx, core.GlobalAction(99)))
	assert.Len(t, h.Actions(), 3)
}

func TestGlobalActions_StuckAndFailing(t *testing.T) {
	ctx := context.Background()

	stuck := New(Config{Stack: []string{"own", "settings"}, StuckBack: true})
	assert.True(t, stuck.PerformGlobalAction(ctx, core.GlobalActionBack))
	assert.Equal(t, "settings", stuck.Foreground())

	failing := New(Config{Stack: []string{"own", "settings"}, FailActions: true})
	assert.False(t, failing.PerformGlobalAction(ctx, core.GlobalActionBack))
	assert.Equal(t, "settings", failing.Foreground())
}

func TestStartActivity(t *testing.T) {
	h := New(Config{})
	intent := core.Intent{Package: "own", Activity: ".Main"}

	require.NoError(t, h.StartActivity(context.Background(), intent))
	assert.Equal(t, "own", h.Foreground())
	assert.Equal(t, []core.Intent{intent}, h.Launches())
}

func TestStartActivity_ClearTopReusesTask(t *testing.T) {
	h := New(Config{Stack: []string{"launcher", "own", "settings", "settings"}})

	intent := core.Intent{Package: "own", Flags: core.FlagActivityNewTask | core.FlagActivityClearTop}
	require.NoError(t, h.StartActivity(context.Background(), intent))
	assert.Equal(t, "own", h.Foreground())

	require.True(t, h.PerformGlobalAction(context.Background(), core.GlobalActionBack))
	assert.Equal(t, "launcher", h.Foreground(), "screens above the task are gone")
}

func TestStartActivity_WithoutClearTopStacks(t *testing.T) {
	h := New(Config{Stack: []string{"own", "settings"}})

	require.NoError(t, h.StartActivity(context.Background(), core.Intent{Package: "own"}))
	require.True(t, h.PerformGlobalAction(context.Background(), core.GlobalActionBack))
	assert.Equal(t, "settings", h.Foreground())
}

func TestDispatchGesture_Modes(t *testing.T) {
	tests := []struct {
		mode      GestureMode
		completed bool
	}{
		{GestureComplete, true},
		{GestureCancel, false},
	}

	for _, tt := range tests {
		h := New(Config{Gesture: tt.mode})
		result := make(chan bool, 1)
		_, err := h.DispatchGesture(context.Background(), core.Tap(1, 2), core.GestureCallback{
			OnCompleted: func(core.Gesture) { result <- true },
			OnCancelled: func(core.Gesture) { result <- false },
		})
		require.NoError(t, err)

		select {
		case got := <-result:
			assert.Equal(t, tt.completed, got)
		case <-time.After(time.Second):
			t.Fatal("no callback")
		}
	}
}

func TestDispatchGesture_Refuse(t *testing.T) {
	h := New(Config{Gesture: GestureRefuse})
	_, err := h.DispatchGesture(context.Background(), core.Tap(1, 2), core.GestureCallback{})
	assert.Error(t, err)
	assert.Len(t, h.Gestures(), 1)
}

func TestDispatchGesture_UnregisterStopsDelivery(t *testing.T) {
	h := New(Config{GestureDelay: 50 * time.Millisecond})
	fired := make(chan struct{}, 1)
	unregister, err := h.DispatchGesture(context.Background(), core.Tap(1, 2), core.GestureCallback{
		OnCompleted: func(core.Gesture) { fired <- struct{}{} },
	})
	require.NoError(t, err)

	unregister()
	unregister()

	select {
	case <-fired:
		t.Fatal("callback fired after unregister")
	case <-time.After(150 * time.Millisecond):
	}
	assert.Equal(t, 1, h.Unregistered())
}

func TestDispatchGesture_NextScreen(t *testing.T) {
	h := New(Config{
		Stack:      []string{"com.android.settings"},
		Screen:     &core.Node{Text: "143 kB"},
		NextScreen: &core.Node{Text: "0 B"},
	})
	ctx := context.Background()

	root, err := h.WindowRoot(ctx)
	require.NoError(t, err)
	assert.Equal(t, "143 kB", root.Text)

	done := make(chan struct{})
	_, err = h.DispatchGesture(ctx, core.Tap(1, 2), core.GestureCallback{
		OnCompleted: func(core.Gesture) { close(done) },
	})
	require.NoError(t, err)
	<-done

	root, err = h.WindowRoot(ctx)
	require.NoError(t, err)
	assert.Equal(t, "0 B", root.Text)
	assert.Equal(t, "com.android.settings", root.PackageName)
}
