package remoteconfig

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/telhawk-systems/telhawk-beacon/common/logging"
	"github.com/telhawk-systems/telhawk-beacon/internal/clock"
	"github.com/telhawk-systems/telhawk-beacon/internal/metrics"
	"github.com/telhawk-systems/telhawk-beacon/internal/models"
)

// Emit receives the observability events produced by the cache.
type Emit func(models.Event)

// Cache holds the active snapshot. A successful remote load is sticky for
// the lifetime of the process: later retrievals for the same client key
// return it without touching the network. Failures are not cached.
type Cache struct {
	fetcher Fetcher
	clock   clock.Clock
	emit    Emit
	logger  *slog.Logger

	// fetchMu serializes retrievals so one key is fetched at most once.
	fetchMu sync.Mutex

	mu       sync.RWMutex
	current  Snapshot
	loaded   map[string]Snapshot
	revision int64
}

// NewCache creates a Cache holding defaults. emit may be nil.
func NewCache(fetcher Fetcher, c clock.Clock, emit Emit, logger *slog.Logger) *Cache {
	if c == nil {
		c = clock.Real()
	}
	if emit == nil {
		emit = func(models.Event) {}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		fetcher: fetcher,
		clock:   c,
		emit:    emit,
		logger:  logger,
		current: Defaults(),
		loaded:  make(map[string]Snapshot),
	}
}

// Current returns the active snapshot.
func (c *Cache) Current() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// Loaded reports whether clientKey has been loaded from the network.
func (c *Cache) Loaded(clientKey string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.loaded[clientKey]
	return ok
}

// RetrieveOrRefresh makes the snapshot for clientKey current, fetching it
// unless it was already loaded. On success a CONFIG_CACHED event carrying
// the serialized snapshot is emitted. On failure the cache reverts to
// defaults and an error LOG event is emitted. done, when non-nil, is always
// called with the resulting snapshot.
func (c *Cache) RetrieveOrRefresh(ctx context.Context, clientKey string, done func(Snapshot)) Snapshot {
	c.fetchMu.Lock()
	defer c.fetchMu.Unlock()

	snap := c.retrieve(ctx, clientKey)
	if done != nil {
		done(snap)
	}
	return snap
}

func (c *Cache) retrieve(ctx context.Context, clientKey string) Snapshot {
	c.mu.Lock()
	if snap, ok := c.loaded[clientKey]; ok {
		c.current = snap
		c.mu.Unlock()
		metrics.ConfigFetches.WithLabelValues("cached").Inc()
		return snap
	}
	c.mu.Unlock()

	snap, rejected, err := c.fetcher.Fetch(ctx, clientKey)
	now := c.clock.Now().UnixMilli()

	if err != nil {
		metrics.ConfigFetches.WithLabelValues("failure").Inc()
		c.logger.Warn("remote config fetch failed, using defaults",
			logging.ClientKey(clientKey),
			logging.Error(err),
		)

		defaults := Defaults()
		c.mu.Lock()
		c.current = defaults
		c.mu.Unlock()

		c.emit(models.NewLog(now, models.LevelError, "failed to retrieve remote config: "+err.Error()))
		return defaults
	}

	if len(rejected) > 0 {
		c.logger.Warn("remote config fields rejected, defaults applied",
			logging.ClientKey(clientKey),
			"fields", rejected,
		)
	}

	c.mu.Lock()
	c.revision++
	snap.Revision = c.revision
	snap.Source = SourceRemote
	c.loaded[clientKey] = snap
	c.current = snap
	c.mu.Unlock()

	metrics.ConfigFetches.WithLabelValues("success").Inc()
	c.logger.Info("remote config loaded",
		logging.ClientKey(clientKey),
		"revision", snap.Revision,
	)

	payload, err := json.Marshal(snap)
	if err != nil {
		c.logger.Error("failed to serialize remote config", logging.Error(err))
		return snap
	}
	c.emit(models.Event{Type: models.EventConfigCached, Timestamp: now, Config: payload})
	return snap
}
