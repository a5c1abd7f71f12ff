// Package agent assembles the collection core from configuration: delivery
// and config clients, statistics, dead-letter archive, session manager and
// the host HTTP surface.
package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/redis/go-redis/v9"

	"github.com/telhawk-systems/telhawk-beacon/common/logging"
	"github.com/telhawk-systems/telhawk-beacon/internal/clock"
	"github.com/telhawk-systems/telhawk-beacon/internal/config"
	"github.com/telhawk-systems/telhawk-beacon/internal/delivery"
	"github.com/telhawk-systems/telhawk-beacon/internal/dlq"
	"github.com/telhawk-systems/telhawk-beacon/internal/flush"
	"github.com/telhawk-systems/telhawk-beacon/internal/handlers"
	"github.com/telhawk-systems/telhawk-beacon/internal/remoteconfig"
	"github.com/telhawk-systems/telhawk-beacon/internal/sampling"
	"github.com/telhawk-systems/telhawk-beacon/internal/server"
	"github.com/telhawk-systems/telhawk-beacon/internal/session"
	"github.com/telhawk-systems/telhawk-beacon/internal/stats"
)

type options struct {
	logger   *logging.Logger
	clock    clock.Clock
	listen   session.Listeners
	motion   session.MotionSource
	metadata session.MetadataProvider
	redis    *redis.Client
	dlq      dlq.Queue
}

// Option customizes New.
type Option func(*options)

func WithLogger(l *logging.Logger) Option { return func(o *options) { o.logger = l } }

func WithClock(c clock.Clock) Option { return func(o *options) { o.clock = c } }

func WithListeners(l session.Listeners) Option { return func(o *options) { o.listen = l } }

func WithMotion(m session.MotionSource) Option { return func(o *options) { o.motion = m } }

func WithMetadata(m session.MetadataProvider) Option { return func(o *options) { o.metadata = m } }

// WithRedis uses an existing connection for statistics, regardless of
// stats.enabled.
func WithRedis(c *redis.Client) Option { return func(o *options) { o.redis = c } }

// WithDLQ overrides the configured dead-letter backend.
func WithDLQ(q dlq.Queue) Option { return func(o *options) { o.dlq = q } }

// Agent owns every long-lived component.
type Agent struct {
	cfg      *config.Config
	logger   *logging.Logger
	manager  *session.Manager
	delivery *delivery.Client
	stats    *stats.Collector
	statsDB  *stats.Client
	ownsDB   bool
	dlq      dlq.Queue
	handler  http.Handler
}

// New builds an Agent from cfg. The agent is not configured until Start.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Agent, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logging.Default()
	}
	logger := o.logger

	a := &Agent{cfg: cfg, logger: logger}

	a.delivery = delivery.NewClient(delivery.Config{
		URL:             cfg.Collector.URL,
		MaxAttempts:     cfg.Collector.MaxAttempts,
		InitialInterval: cfg.Collector.InitialInterval,
		MaxInterval:     cfg.Collector.MaxInterval,
		RequestTimeout:  cfg.Collector.RequestTimeout,
		TerminalCodes:   cfg.Collector.TerminalCodes,
	}, logger.Logger)

	a.initStats(o.redis, o.clock)

	if o.dlq != nil {
		a.dlq = o.dlq
	} else {
		q, err := openDLQ(ctx, cfg.DLQ, logger)
		if err != nil {
			a.closeStats()
			return nil, err
		}
		a.dlq = q
	}

	// A nil *stats.Collector must not reach the interface.
	var recorder flush.StatsRecorder
	if a.stats != nil {
		recorder = a.stats
	}

	a.manager = session.New(session.Deps{
		Fetcher:  remoteconfig.NewClient(cfg.RemoteConfig.URL, cfg.RemoteConfig.Timeout),
		Sender:   a.delivery,
		Sampler:  sampling.New(cfg.Agent.SamplingEnabled, nil),
		Stats:    recorder,
		DLQ:      a.dlq,
		Clock:    o.clock,
		Listen:   o.listen,
		Motion:   o.motion,
		Metadata: o.metadata,
		Logger:   logger.Logger,
	}, session.Settings{
		SDKVersion:  cfg.Agent.SDKVersion,
		ClientID:    cfg.Agent.ClientID,
		PauseDelay:  cfg.Session.PauseDelay,
		ResumeDelay: cfg.Session.ResumeDelay,
	})

	a.handler = server.NewRouter(handlers.New(a.manager, logger, cfg.Server.MaxBodyBytes))
	return a, nil
}

func (a *Agent) initStats(existing *redis.Client, clk clock.Clock) {
	instanceID := a.cfg.Stats.InstanceID
	if instanceID == "" {
		hostname, _ := os.Hostname()
		instanceID = fmt.Sprintf("%s-%d", hostname, os.Getpid())
	}

	switch {
	case existing != nil:
		a.statsDB = stats.NewClientFromRedis(existing, instanceID)
	case a.cfg.Stats.Enabled:
		client, err := stats.NewClient(a.cfg.Stats.RedisURL, instanceID)
		if err != nil {
			a.logger.Warn("delivery stats disabled, redis unavailable", logging.Error(err))
			return
		}
		a.statsDB = client
		a.ownsDB = true
	default:
		a.logger.Debug("delivery stats disabled")
		return
	}

	a.stats = stats.NewCollector(a.statsDB, a.cfg.Stats.FlushInterval, a.logger.Logger, stats.WithClock(clk))
	a.logger.Info("delivery stats enabled",
		"instance", instanceID,
		"flush_interval", a.cfg.Stats.FlushInterval,
	)
}

func openDLQ(ctx context.Context, cfg config.DLQConfig, logger *logging.Logger) (dlq.Queue, error) {
	switch cfg.Backend {
	case config.DLQFile:
		q, err := dlq.NewFileQueue(cfg.BasePath)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize file dlq: %w", err)
		}
		logger.Info("dead letter archive enabled", "backend", cfg.Backend, "path", cfg.BasePath)
		return q, nil
	case config.DLQJetStream:
		q, err := dlq.NewJetStreamQueue(ctx, dlq.NATSConfig{
			URL:           cfg.NATS.URL,
			Name:          cfg.NATS.Name,
			MaxReconnects: cfg.NATS.MaxReconnects,
			ReconnectWait: cfg.NATS.ReconnectWait,
			Timeout:       cfg.NATS.Timeout,
			MaxAge:        cfg.NATS.MaxAge,
		}, logger.Logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize jetstream dlq: %w", err)
		}
		logger.Info("dead letter archive enabled", "backend", cfg.Backend, "nats", cfg.NATS.URL)
		return q, nil
	default:
		logger.Debug("dead letter archive disabled")
		return dlq.Discard{}, nil
	}
}

// Start configures the agent with the configured client key, waits for the
// remote config retrieval and, with session.auto_start, opens a session.
func (a *Agent) Start(ctx context.Context) error {
	err := a.manager.Configure(a.cfg.Agent.ClientKey, session.ConfigureOptions{
		SiteID:       a.cfg.Agent.SiteID,
		LinkedSiteID: a.cfg.Agent.LinkedSiteID,
	})
	if err != nil {
		return fmt.Errorf("configure: %w", err)
	}

	select {
	case <-a.manager.ConfigLoaded():
	case <-ctx.Done():
		return ctx.Err()
	}

	if !a.cfg.Session.AutoStart {
		return nil
	}
	id, err := a.manager.Start("")
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	a.logger.Info("agent started", logging.SessionID(id))
	return nil
}

// Run starts the agent and serves the host surface until ctx is done, then
// stops the session and shuts the server down.
func (a *Agent) Run(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		return err
	}

	srv := server.NewHTTPServer(a.cfg.Server, a.handler)
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("beacon listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	a.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.WriteTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server forced to shutdown", logging.Error(err))
	}
	return serveErr
}

// Shutdown stops the session, which flushes buffered events.
func (a *Agent) Shutdown() {
	switch err := a.manager.Stop(); {
	case err == nil:
		a.logger.Info("session stopped")
	case errors.Is(err, session.ErrNotConfigured):
	default:
		a.logger.Warn("stop failed", logging.Error(err))
	}
}

// Close releases every component. Call Shutdown first to flush.
func (a *Agent) Close() error {
	a.manager.Close()
	a.closeStats()

	if c, ok := a.dlq.(io.Closer); ok {
		if err := c.Close(); err != nil {
			return fmt.Errorf("close dlq: %w", err)
		}
	}
	return nil
}

func (a *Agent) closeStats() {
	if a.stats != nil {
		a.stats.Stop()
	}
	if a.statsDB != nil && a.ownsDB {
		_ = a.statsDB.Close()
	}
}

func (a *Agent) Manager() *session.Manager { return a.manager }

func (a *Agent) Handler() http.Handler { return a.handler }

func (a *Agent) DLQ() dlq.Queue { return a.dlq }

// Stats returns the statistics client, or nil when stats are disabled.
func (a *Agent) Stats() *stats.Client { return a.statsDB }
