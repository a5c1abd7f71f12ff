// Package session owns the agent lifecycle: configure, start, pause,
// resume and stop, plus the connectivity and memory backpressure signals.
//
// Lifecycle operations are serialized by one mutex. The lifecycle state is
// mirrored in an atomic so that IsStopped never waits on it. Ingest holds a
// shared lock across its state check and store call; start and stop take it
// exclusively only while they flip the state and hand buffered events over.
package session

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/telhawk-systems/telhawk-beacon/common/logging"
	"github.com/telhawk-systems/telhawk-beacon/internal/clock"
	"github.com/telhawk-systems/telhawk-beacon/internal/delivery"
	"github.com/telhawk-systems/telhawk-beacon/internal/dlq"
	"github.com/telhawk-systems/telhawk-beacon/internal/eventstore"
	"github.com/telhawk-systems/telhawk-beacon/internal/flush"
	"github.com/telhawk-systems/telhawk-beacon/internal/identity"
	"github.com/telhawk-systems/telhawk-beacon/internal/metrics"
	"github.com/telhawk-systems/telhawk-beacon/internal/models"
	"github.com/telhawk-systems/telhawk-beacon/internal/remoteconfig"
	"github.com/telhawk-systems/telhawk-beacon/internal/sampling"
	"github.com/telhawk-systems/telhawk-beacon/internal/scheduler"
)

// Defaults for the connectivity grace delays.
const (
	DefaultPauseDelay  = 2 * time.Second
	DefaultResumeDelay = time.Second
)

// Deps are the collaborators of a Manager. Fetcher and Sender are required.
type Deps struct {
	Store    *eventstore.Store
	Fetcher  remoteconfig.Fetcher
	Sender   flush.Sender
	Sampler  *sampling.Decision
	Stats    flush.StatsRecorder
	DLQ      dlq.Queue
	Clock    clock.Clock
	Listen   Listeners
	Motion   MotionSource
	Metadata MetadataProvider
	Logger   *slog.Logger
}

// Settings are static tunables of a Manager.
type Settings struct {
	SDKVersion string
	ClientID   string

	// Grace delays before reacting to connectivity changes. Non-positive
	// values select the defaults.
	PauseDelay  time.Duration
	ResumeDelay time.Duration
}

// ConfigureOptions are the per-configure parameters.
type ConfigureOptions struct {
	SiteID       string
	LinkedSiteID string
}

// Manager is the agent control plane.
type Manager struct {
	store    *eventstore.Store
	sched    *scheduler.Scheduler
	registry *identity.Registry
	cache    *remoteconfig.Cache
	coord    *flush.Coordinator
	sampler  *sampling.Decision
	sender   flush.Sender
	clock    clock.Clock
	listen   Listeners
	motion   MotionSource
	metadata MetadataProvider
	logger   *slog.Logger
	settings Settings

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// opMu serializes lifecycle operations and guards the fields below.
	opMu            sync.Mutex
	everStarted     bool
	monitoring      bool
	networkUp       bool
	pausedByNetwork bool
	configLoaded    chan struct{}

	state atomic.Int32

	// ingestMu orders producer writes against state flips that move
	// buffered events. Never held while calling Ingest or accept.
	ingestMu sync.RWMutex

	// infoMu guards the identity fields read on the flush path.
	infoMu       sync.RWMutex
	clientKey    string
	siteID       string
	linkedSiteID string
	tabID        string
	pageID       string

	memMu          sync.Mutex
	lowMemoryUntil time.Time
}

// New creates an unconfigured Manager.
func New(deps Deps, settings Settings) *Manager {
	if deps.Store == nil {
		deps.Store = eventstore.New()
	}
	if deps.Sampler == nil {
		deps.Sampler = sampling.New(false, nil)
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	if deps.Listen == nil {
		deps.Listen = noListeners{}
	}
	if deps.Metadata == nil {
		deps.Metadata = emptyMetadata{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if settings.ClientID == "" {
		settings.ClientID = uuid.NewString()
	}
	if settings.PauseDelay <= 0 {
		settings.PauseDelay = DefaultPauseDelay
	}
	if settings.ResumeDelay <= 0 {
		settings.ResumeDelay = DefaultResumeDelay
	}

	ctx, cancel := context.WithCancel(context.Background())

	m := &Manager{
		store:    deps.Store,
		sampler:  deps.Sampler,
		sender:   deps.Sender,
		clock:    deps.Clock,
		listen:   deps.Listen,
		motion:   deps.Motion,
		metadata: deps.Metadata,
		logger:   deps.Logger,
		settings: settings,
		ctx:      ctx,
		cancel:   cancel,
	}
	// Nothing to wait for before the first configure.
	m.configLoaded = closedChan()
	m.networkUp = true

	m.sched = scheduler.New(deps.Clock, deps.Logger)
	m.registry = identity.NewRegistry(deps.Clock, m.capture, deps.Logger)
	m.cache = remoteconfig.NewCache(deps.Fetcher, deps.Clock, m.capture, deps.Logger)
	m.coord = flush.New(deps.Store, deps.Sender, m, flush.Options{
		SDKVersion: settings.SDKVersion,
		Sampler:    deps.Sampler,
		Stats:      deps.Stats,
		DLQ:        deps.DLQ,
		Clock:      deps.Clock,
		Logger:     deps.Logger,
	})

	return m
}

// Configure binds the manager to clientKey and starts loading remote
// config in the background. It is refused while a configuration is live.
func (m *Manager) Configure(clientKey string, opts ConfigureOptions) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	switch m.State() {
	case StateUnconfigured, StateStopped:
	default:
		m.logger.Warn("configure refused, already configured", logging.State(m.State().String()))
		return ErrAlreadyConfigured
	}
	if !ValidClientKey(clientKey) {
		m.logger.Error("configure refused, invalid client key", logging.ClientKey(clientKey))
		return ErrInvalidClientKey
	}

	m.infoMu.Lock()
	m.clientKey = clientKey
	m.siteID = opts.SiteID
	m.linkedSiteID = opts.LinkedSiteID
	m.tabID = uuid.NewString()
	m.infoMu.Unlock()

	m.coord.ResetPacketNumber()
	m.monitoring = true
	m.networkUp = true
	m.pausedByNetwork = false
	m.setState(StateConfigured)

	loaded := make(chan struct{})
	m.configLoaded = loaded

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.cache.RetrieveOrRefresh(m.ctx, clientKey, m.applyConfig)
		close(loaded)
	}()

	m.logger.Info("agent configured",
		logging.ClientKey(clientKey),
		logging.SiteID(opts.SiteID),
	)
	return nil
}

// ConfigLoaded is closed once the config retrieval started by the most
// recent Configure has completed, successfully or not.
func (m *Manager) ConfigLoaded() <-chan struct{} {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	return m.configLoaded
}

// Config returns the active remote config snapshot.
func (m *Manager) Config() remoteconfig.Snapshot {
	return m.cache.Current()
}

// applyConfig runs once per retrieval with the resulting snapshot.
func (m *Manager) applyConfig(snap remoteconfig.Snapshot) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	state := m.State()
	if state == StateUnconfigured || state == StateStopped {
		return
	}

	m.listen.SetCallStatusObservation(snap.CallInProgress)
	m.listen.SetGeolocation(snap.GeoLocation)
	if t, ok := m.sender.(interface{ SetRequestTimeout(time.Duration) }); ok {
		t.SetRequestTimeout(snap.RequestTimeout())
	}

	if state == StateStarted {
		m.scheduleLocked(snap)
	}
}

// Start opens a session. An empty sessionID asks for a generated one. A
// session that is already open is stopped first. It returns the session id
// in effect.
func (m *Manager) Start(sessionID string) (string, error) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	switch m.State() {
	case StateUnconfigured:
		return "", ErrNotConfigured
	case StateStopped:
		return "", ErrStopped
	}
	return m.startLocked(sessionID)
}

func (m *Manager) startLocked(sessionID string) (string, error) {
	userGenerated := sessionID != ""
	if !userGenerated {
		sessionID = uuid.NewString()
	}

	// Reject before tearing down the current session.
	if !identity.Validate(sessionID) {
		m.registry.SetSessionID(sessionID, userGenerated)
		return "", ErrInvalidSessionID
	}

	if state := m.State(); state == StateStarted || state == StatePaused {
		m.stopLocked(true)
	}

	m.registry.SetSessionID(sessionID, userGenerated)

	m.infoMu.Lock()
	m.pageID = uuid.NewString()
	siteID, linkedSiteID := m.siteID, m.linkedSiteID
	m.infoMu.Unlock()

	snap := m.cache.Current()
	samplingSite := linkedSiteID
	if samplingSite == "" {
		samplingSite = siteID
	}
	sampled := m.sampler.Decide(snap, samplingSite)

	m.ingestMu.Lock()
	m.setState(StateStarted)
	replayed := m.store.ReplayQueued()
	m.ingestMu.Unlock()

	m.everStarted = true
	m.pausedByNetwork = false
	m.scheduleLocked(snap)

	now := m.now()
	meta := m.metadata.Metadata()
	meta.SDKVersion = m.settings.SDKVersion
	sc := m.BatchContext()
	m.insert(models.Event{
		Type:             models.EventCreateSession,
		Timestamp:        now,
		SessionID:        sc.SessionID,
		ClientID:         sc.ClientID,
		UserID:           sc.SessionID,
		RegisteredUserID: sc.RegisteredUserID,
		TabID:            sc.TabID,
		SiteID:           sc.SiteID,
		Metadata:         &meta,
		Attrs: map[string]models.Value{
			"environment": models.String(delivery.Environment(sc.ClientKey)),
			"origin":      models.String(m.registry.Origin().Origin),
			"sampled":     models.Bool(sampled),
		},
	})
	m.insert(models.Event{Type: models.EventMobileMetadata, Timestamp: now, Metadata: &meta})

	m.logger.Info("session started",
		logging.SessionID(identity.Scrub(sessionID)),
		"sampled", sampled,
		"replayed", replayed,
	)
	return sessionID, nil
}

// scheduleLocked (re)arms the flush and cadence tasks from snap.
func (m *Manager) scheduleLocked(snap remoteconfig.Snapshot) {
	m.sched.Every(scheduler.TaskFlush, snap.FlushInterval(), func() {
		m.coord.Flush(m.ctx, false)
	})

	if snap.GyroAccelCadence && m.motion != nil {
		m.sched.Every(scheduler.TaskCadence, snap.CadenceInterval(), m.sampleMotion)
	} else {
		m.sched.Cancel(scheduler.TaskCadence)
	}
}

func (m *Manager) sampleMotion() {
	x, y, z, ok := m.motion.Reading()
	if !ok {
		return
	}
	m.accept(models.Event{
		Type:      models.EventCadence,
		Timestamp: m.now(),
		Attrs: map[string]models.Value{
			"x": models.Double(x),
			"y": models.Double(y),
			"z": models.Double(z),
		},
	})
}

// Pause suspends periodic flushing without touching identifiers.
func (m *Manager) Pause(flushFirst bool) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.pausedByNetwork = false
	return m.pauseLocked(flushFirst)
}

func (m *Manager) pauseLocked(flushFirst bool) error {
	switch m.State() {
	case StatePaused:
		return nil
	case StateStarted:
	case StateUnconfigured:
		return ErrNotConfigured
	default:
		return ErrNotStarted
	}

	m.sched.Cancel(scheduler.TaskFlush)
	m.sched.Cancel(scheduler.TaskCadence)
	if flushFirst {
		m.coord.Flush(m.ctx, true)
	}
	m.setState(StatePaused)
	m.logger.Info("session paused", "flushed", flushFirst)
	return nil
}

// Resume restarts periodic flushing for a paused session.
func (m *Manager) Resume() error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.pausedByNetwork = false
	return m.resumeLocked()
}

func (m *Manager) resumeLocked() error {
	switch m.State() {
	case StateStarted:
		return nil
	case StateUnconfigured:
		return ErrNotConfigured
	case StatePaused:
	default:
		return ErrNoSession
	}
	if m.registry.SessionID() == "" && !m.everStarted {
		return ErrNoSession
	}

	m.setState(StateStarted)
	m.scheduleLocked(m.cache.Current())
	m.logger.Info("session resumed")
	return nil
}

// Stop closes the session: it records CLOSE_SESSION, flushes, clears
// identifiers and turns the config-driven listeners off. A fresh Configure
// is required afterwards.
func (m *Manager) Stop() error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	switch m.State() {
	case StateUnconfigured:
		return ErrNotConfigured
	case StateStopped:
		return nil
	}
	m.stopLocked(false)
	return nil
}

// stopLocked tears the session down. An implicit stop precedes a restart
// and keeps connectivity monitoring and listeners alive.
func (m *Manager) stopLocked(implicit bool) {
	if state := m.State(); state == StateStarted || state == StatePaused {
		m.insert(models.Event{Type: models.EventCloseSession, Timestamp: m.now()})
	}

	m.sched.Cancel(scheduler.TaskFlush)
	m.sched.Cancel(scheduler.TaskCadence)
	m.sched.Cancel(scheduler.TaskNetworkPause)
	m.sched.Cancel(scheduler.TaskNetworkResume)

	// Once the state has flipped, every producer that saw the session
	// running has finished its insert, so the forced flush below sees all
	// of it. Events arriving during an implicit stop queue for the restart.
	next := StateStopped
	if implicit {
		next = StateConfigured
	}
	m.ingestMu.Lock()
	m.setState(next)
	m.ingestMu.Unlock()

	m.coord.Flush(m.ctx, true)

	m.registry.Clear()
	m.sampler.Reset()
	m.pausedByNetwork = false

	if !implicit {
		m.monitoring = false
		m.listen.SetCallStatusObservation(false)
		m.listen.SetGeolocation(false)
		m.logger.Info("session stopped")
	}
}

// SetSessionID replaces the identifier of the open session, or starts a
// session with it when none is open.
func (m *Manager) SetSessionID(id string) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	switch m.State() {
	case StateUnconfigured:
		return ErrNotConfigured
	case StateStopped:
		return ErrStopped
	case StateStarted, StatePaused:
		if !m.registry.SetSessionID(id, true) {
			return ErrInvalidSessionID
		}
		return nil
	}
	_, err := m.startLocked(id)
	return err
}

// SetRegisteredUserID records the registered user for this session.
func (m *Manager) SetRegisteredUserID(id string) error {
	if m.State() == StateUnconfigured {
		return ErrNotConfigured
	}
	if !m.registry.SetRegisteredUserID(id) {
		return ErrInvalidRegisteredUserID
	}
	return nil
}

// SessionID returns the current session identifier.
func (m *Manager) SessionID() string { return m.registry.SessionID() }

// RegisteredUserID returns the registered user identifier.
func (m *Manager) RegisteredUserID() string { return m.registry.RegisteredUserID() }

// State returns the lifecycle state.
func (m *Manager) State() State { return State(m.state.Load()) }

// IsStopped reports whether events are not currently being captured for an
// active session.
func (m *Manager) IsStopped() bool { return m.State() != StateStarted }

// Active reports whether a session is capturing. It implements
// flush.Session.
func (m *Manager) Active() bool { return m.State() == StateStarted }

// BatchContext implements flush.Session.
func (m *Manager) BatchContext() delivery.SessionContext {
	m.infoMu.RLock()
	defer m.infoMu.RUnlock()
	return delivery.SessionContext{
		ClientKey:        m.clientKey,
		ClientID:         m.settings.ClientID,
		SiteID:           m.siteID,
		LinkedSiteID:     m.linkedSiteID,
		SessionID:        m.registry.SessionID(),
		RegisteredUserID: m.registry.RegisteredUserID(),
		TabID:            m.tabID,
		PageID:           m.pageID,
	}
}

// Coordinator exposes the flush coordinator.
func (m *Manager) Coordinator() *flush.Coordinator { return m.coord }

// Store exposes the event store.
func (m *Manager) Store() *eventstore.Store { return m.store }

// Close cancels every scheduled task and background retrieval. It does not
// flush; call Stop first for that.
func (m *Manager) Close() {
	m.sched.Stop()
	m.cancel()
	m.wg.Wait()
	m.coord.Close()
}

// Ingest accepts an event from host instrumentation. screen, when set,
// becomes the event url. Types the agent generates itself are dropped, and
// identity fields are cleared. Ingest waits only for the brief hand-over of
// buffered events during start and stop, and silently drops what the
// current state does not allow.
func (m *Manager) Ingest(e models.Event, screen string) {
	if e.Type.Reserved() {
		metrics.EventsDropped.WithLabelValues(metrics.ReasonReserved).Inc()
		m.logger.Debug("dropped reserved event type from producer", "type", string(e.Type))
		return
	}
	e = e.StripAgentFields()
	if screen != "" && e.URL == "" {
		e.URL = screen
	}
	m.accept(e)
}

// accept routes e by lifecycle state.
func (m *Manager) accept(e models.Event) {
	if e.Timestamp == 0 {
		e.Timestamp = m.now()
	}

	m.ingestMu.RLock()
	defer m.ingestMu.RUnlock()

	switch m.State() {
	case StateUnconfigured:
		metrics.EventsDropped.WithLabelValues(metrics.ReasonNotConfigured).Inc()
		return
	case StateConfigured:
		m.store.Queue(e)
	case StateStopped:
		if !e.Queueable() {
			metrics.EventsDropped.WithLabelValues(metrics.ReasonStopped).Inc()
			return
		}
		m.store.Queue(e)
	default:
		m.insert(e)
		return
	}
	metrics.EventsIngested.WithLabelValues(string(e.Type)).Inc()
}

func (m *Manager) capture(e models.Event) { m.accept(e) }

// insert adds e to the main buffer and asks for a flush once the size
// threshold is reached.
func (m *Manager) insert(e models.Event) {
	n := m.store.Insert(e)
	metrics.EventsIngested.WithLabelValues(string(e.Type)).Inc()
	if n >= m.cache.Current().FlushSize {
		m.coord.Trigger()
	}
}

func (m *Manager) setState(s State) { m.state.Store(int32(s)) }

func (m *Manager) now() int64 { return m.clock.Now().UnixMilli() }

func closedChan() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
