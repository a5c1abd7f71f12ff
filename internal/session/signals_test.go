package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/telhawk-beacon/internal/delivery"
	"github.com/telhawk-systems/telhawk-beacon/internal/models"
	"github.com/telhawk-systems/telhawk-beacon/internal/remoteconfig"
	"github.com/telhawk-systems/telhawk-beacon/internal/scheduler"
)

func lastNetworkState(t *testing.T, events []models.Event) bool {
	t.Helper()
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Type == models.EventNetworkState {
			v, ok := events[i].Attrs["isConnected"].Bool()
			require.True(t, ok)
			return v
		}
	}
	t.Fatal("no NETWORK_STATE event")
	return false
}

func TestConnectivity_LossPausesAfterGrace(t *testing.T) {
	h := newHarness(t, remoteconfig.Defaults())
	h.start(t)
	h.m.Store().DrainAll()

	h.m.OnConnectivityChanged(false)
	assert.False(t, lastNetworkState(t, h.m.Store().DrainAll()))
	assert.Equal(t, StateStarted, h.m.State())

	h.clock.Advance(DefaultPauseDelay)
	assert.Equal(t, StatePaused, h.m.State())
	assert.Empty(t, h.sender.sent(), "network pause does not flush")

	h.m.OnConnectivityChanged(true)
	assert.True(t, lastNetworkState(t, h.m.Store().DrainAll()))
	assert.Equal(t, StatePaused, h.m.State())

	h.clock.Advance(DefaultResumeDelay)
	assert.Equal(t, StateStarted, h.m.State())
	assert.True(t, h.m.sched.Active(scheduler.TaskFlush))
}

func TestConnectivity_FlapWithinGrace(t *testing.T) {
	h := newHarness(t, remoteconfig.Defaults())
	h.start(t)

	h.m.OnConnectivityChanged(false)
	h.clock.Advance(DefaultPauseDelay / 2)
	h.m.OnConnectivityChanged(true)
	assert.False(t, h.m.sched.Active(scheduler.TaskNetworkPause))

	h.clock.Advance(DefaultPauseDelay)
	assert.Equal(t, StateStarted, h.m.State())
}

func TestConnectivity_DoesNotResumeManualPause(t *testing.T) {
	h := newHarness(t, remoteconfig.Defaults())
	h.start(t)
	require.NoError(t, h.m.Pause(false))

	h.m.OnConnectivityChanged(false)
	h.clock.Advance(DefaultPauseDelay)
	h.m.OnConnectivityChanged(true)
	h.clock.Advance(DefaultResumeDelay)

	assert.Equal(t, StatePaused, h.m.State())
}

func TestConnectivity_IgnoredWhenNotMonitoring(t *testing.T) {
	h := newHarness(t, remoteconfig.Defaults())

	h.m.OnConnectivityChanged(false)
	assert.False(t, h.m.sched.Active(scheduler.TaskNetworkPause))

	h.start(t)
	require.NoError(t, h.m.Stop())
	queued := h.m.Store().QueuedLen()
	h.m.OnConnectivityChanged(false)
	assert.Equal(t, queued, h.m.Store().QueuedLen())
	assert.False(t, h.m.sched.Active(scheduler.TaskNetworkPause))
}

func TestConnectivity_CustomDelays(t *testing.T) {
	h := newHarness(t, remoteconfig.Defaults())
	h.m.settings.PauseDelay = 10 * time.Second
	h.start(t)

	h.m.OnConnectivityChanged(false)
	h.clock.Advance(9 * time.Second)
	assert.Equal(t, StateStarted, h.m.State())
	h.clock.Advance(time.Second)
	assert.Equal(t, StatePaused, h.m.State())
}

func TestMemoryPressure(t *testing.T) {
	h := newHarness(t, remoteconfig.Defaults())
	assert.False(t, h.m.OnMemoryPressure(), "unconfigured")

	h.start(t)
	h.m.Store().DrainAll()
	for i := 0; i < 5; i++ {
		h.m.Ingest(models.Event{Type: models.EventTap}, "")
	}
	require.Equal(t, 5, h.m.Store().Len())

	assert.True(t, h.m.OnMemoryPressure())
	assert.Equal(t, 0, h.m.Store().Len())

	require.Eventually(t, func() bool { return len(h.sender.sent()) == 1 }, time.Second, 5*time.Millisecond)
	sent := h.sender.sent()
	require.Len(t, sent[0].JSONEvents, 1)
	assert.Equal(t, models.EventLowMemory, sent[0].JSONEvents[0].Type)

	h.m.Ingest(models.Event{Type: models.EventTap}, "")
	assert.False(t, h.m.OnMemoryPressure(), "inside backoff window")
	assert.Equal(t, 1, h.m.Store().Len())
	assert.Len(t, h.sender.sent(), 1)

	h.m.sched.Cancel(scheduler.TaskFlush)
	h.clock.Advance(remoteconfig.Defaults().LowMemoryBackOff())
	assert.True(t, h.m.OnMemoryPressure())
	require.Eventually(t, func() bool { return len(h.sender.sent()) == 2 }, time.Second, 5*time.Millisecond)
}

// gatedSender blocks every Send until release is closed.
type gatedSender struct {
	fakeSender
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gatedSender) Send(ctx context.Context, clientKey string, p delivery.Payload) delivery.Result {
	g.once.Do(func() { close(g.entered) })
	<-g.release
	return g.fakeSender.Send(ctx, clientKey, p)
}

func TestMemoryPressure_DoesNotWaitForInFlightBatch(t *testing.T) {
	sender := &gatedSender{entered: make(chan struct{}), release: make(chan struct{})}
	h := newHarnessWithSender(t, remoteconfig.Defaults(), sender)
	h.start(t)

	go h.m.Coordinator().Flush(context.Background(), true)
	<-sender.entered

	cleared := make(chan bool, 1)
	go func() { cleared <- h.m.OnMemoryPressure() }()
	select {
	case ok := <-cleared:
		assert.True(t, ok)
	case <-time.After(time.Second):
		close(sender.release)
		t.Fatal("memory signal waited for the in-flight batch")
	}

	close(sender.release)
	require.Eventually(t, func() bool { return len(sender.sent()) == 2 }, time.Second, 5*time.Millisecond)
	last := sender.sent()[1]
	require.Len(t, last.JSONEvents, 1)
	assert.Equal(t, models.EventLowMemory, last.JSONEvents[0].Type)
}
