package stats

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/telhawk-systems/telhawk-beacon/common/logging"
	"github.com/telhawk-systems/telhawk-beacon/internal/clock"
)

const (
	defaultFlushInterval = 30 * time.Second
	flushTimeout         = 10 * time.Second
)

// CollectorOption configures a Collector.
type CollectorOption func(*Collector)

// WithClock drives the flush interval and outcome timestamps from c.
func WithClock(c clock.Clock) CollectorOption {
	return func(col *Collector) {
		if c != nil {
			col.clock = c
		}
	}
}

// Collector buffers delivery outcomes per client key and writes them to
// Redis every interval. Stop performs a final write. Safe for concurrent
// use.
type Collector struct {
	client   *Client
	interval time.Duration
	clock    clock.Clock
	logger   *slog.Logger

	mu      sync.Mutex
	pending map[string]*BatchUpdate

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewCollector starts a collector writing through client.
func NewCollector(client *Client, interval time.Duration, logger *slog.Logger, opts ...CollectorOption) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = defaultFlushInterval
	}

	c := &Collector{
		client:   client,
		interval: interval,
		clock:    clock.Real(),
		logger:   logger,
		pending:  make(map[string]*BatchUpdate),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	go c.loop()
	return c
}

// Record implements flush.StatsRecorder.
func (c *Collector) Record(clientKey string, events int, status int, ok bool) {
	now := c.clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	batch, exists := c.pending[clientKey]
	if !exists {
		batch = NewBatchUpdate(clientKey)
		c.pending[clientKey] = batch
	}
	batch.Add(events, status, ok, now)
}

func (c *Collector) loop() {
	defer close(c.done)

	for {
		select {
		case <-c.stop:
			c.write()
			return
		case <-c.clock.After(c.interval):
			c.write()
		}
	}
}

// take swaps out everything recorded so far.
func (c *Collector) take() map[string]*BatchUpdate {
	c.mu.Lock()
	defer c.mu.Unlock()

	taken := c.pending
	c.pending = make(map[string]*BatchUpdate, len(taken))
	return taken
}

// requeue folds a batch that could not be written back into pending.
func (c *Collector) requeue(batch *BatchUpdate) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.pending[batch.ClientKey]; ok {
		existing.Merge(batch)
		return
	}
	c.pending[batch.ClientKey] = batch
}

func (c *Collector) write() {
	taken := c.take()
	if len(taken) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()

	written := 0
	for _, batch := range taken {
		if err := c.client.FlushBatch(ctx, batch); err != nil {
			c.logger.Error("failed to write delivery stats",
				logging.ClientKey(batch.ClientKey),
				logging.Error(err),
			)
			c.requeue(batch)
			continue
		}
		written++
	}

	if written > 0 {
		c.logger.Debug("wrote delivery stats", "client_keys", written)
	}
}

// FlushNow writes everything recorded so far.
func (c *Collector) FlushNow() {
	c.write()
}

// Stop ends the flush loop after a final write. Safe to call more than once.
func (c *Collector) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
	<-c.done
}

// Pending returns the unwritten batch count per client key.
func (c *Collector) Pending() map[string]int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]int64, len(c.pending))
	for key, batch := range c.pending {
		out[key] = batch.BatchesSent + batch.BatchesFailed
	}
	return out
}
