package session

import (
	"github.com/telhawk-systems/telhawk-beacon/internal/metrics"
	"github.com/telhawk-systems/telhawk-beacon/internal/models"
	"github.com/telhawk-systems/telhawk-beacon/internal/scheduler"
)

// OnConnectivityChanged reacts to network availability. Loss schedules a
// pause without flush after the pause grace delay, applied only if the
// network is still down and the session still running. Restoration cancels
// a pending pause and, if an earlier loss paused the session, schedules a
// resume after the resume grace delay.
func (m *Manager) OnConnectivityChanged(available bool) {
	m.opMu.Lock()
	if !m.monitoring {
		m.opMu.Unlock()
		return
	}
	m.networkUp = available
	shouldResume := available && m.pausedByNetwork &&
		m.State() == StatePaused && m.registry.SessionID() != ""
	m.opMu.Unlock()

	m.accept(models.Event{
		Type:      models.EventNetworkState,
		Timestamp: m.now(),
		Attrs:     map[string]models.Value{"isConnected": models.Bool(available)},
	})

	// Tasks are scheduled without opMu held; their bodies take it.
	if !available {
		m.sched.Cancel(scheduler.TaskNetworkResume)
		m.sched.After(scheduler.TaskNetworkPause, m.settings.PauseDelay, m.pauseForNetwork)
		return
	}

	m.sched.Cancel(scheduler.TaskNetworkPause)
	if shouldResume {
		m.sched.After(scheduler.TaskNetworkResume, m.settings.ResumeDelay, m.resumeForNetwork)
	}
}

func (m *Manager) pauseForNetwork() {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	if m.networkUp || m.State() != StateStarted {
		return
	}
	if err := m.pauseLocked(false); err == nil {
		m.pausedByNetwork = true
		m.logger.Info("session paused for connectivity loss")
	}
}

func (m *Manager) resumeForNetwork() {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	if !m.networkUp || !m.pausedByNetwork || m.State() != StatePaused {
		return
	}
	if err := m.resumeLocked(); err == nil {
		m.pausedByNetwork = false
		m.logger.Info("session resumed after connectivity restored")
	}
}

// OnMemoryPressure clears the event store and force-sends a single
// LOW_MEMORY marker. Further signals inside the low-memory backoff window
// are ignored. It reports whether the store was cleared. The marker is sent
// in the background, so the caller never waits behind a batch that is still
// being retried.
func (m *Manager) OnMemoryPressure() bool {
	if m.State() == StateUnconfigured {
		return false
	}

	m.memMu.Lock()
	now := m.clock.Now()
	if now.Before(m.lowMemoryUntil) {
		m.memMu.Unlock()
		return false
	}
	m.lowMemoryUntil = now.Add(m.cache.Current().LowMemoryBackOff())
	m.memMu.Unlock()

	dropped := m.store.Clear()
	metrics.LowMemoryClears.Inc()
	metrics.EventsDropped.WithLabelValues(metrics.ReasonLowMemory).Add(float64(dropped))
	m.logger.Warn("memory pressure, event store cleared", "dropped", dropped)

	marker := []models.Event{{Type: models.EventLowMemory, Timestamp: now.UnixMilli()}}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.coord.ForceSend(m.ctx, marker)
	}()
	return true
}
