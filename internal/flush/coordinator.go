// Package flush drains the event store and hands batches to the collector
// client.
//
// At most one batch is in flight per Coordinator. Events leave the store
// when drained, so delivery is at-most-once: a batch that fails is archived
// to the dead-letter queue and never re-queued.
package flush

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/telhawk-systems/telhawk-beacon/common/logging"
	"github.com/telhawk-systems/telhawk-beacon/internal/clock"
	"github.com/telhawk-systems/telhawk-beacon/internal/delivery"
	"github.com/telhawk-systems/telhawk-beacon/internal/dlq"
	"github.com/telhawk-systems/telhawk-beacon/internal/eventstore"
	"github.com/telhawk-systems/telhawk-beacon/internal/metrics"
	"github.com/telhawk-systems/telhawk-beacon/internal/models"
)

// State of the coordinator.
type State int32

const (
	StateIdle State = iota
	StateSending
)

func (s State) String() string {
	if s == StateSending {
		return "sending"
	}
	return "idle"
}

// Reasons a flush did not send.
const (
	SkipInactive   = "inactive"
	SkipEmpty      = "empty"
	SkipNotSampled = "not_sampled"
)

// Sender delivers one payload.
type Sender interface {
	Send(ctx context.Context, clientKey string, p delivery.Payload) delivery.Result
}

// Session exposes what the coordinator needs from the session owner. Both
// methods must be safe to call from any goroutine.
type Session interface {
	Active() bool
	BatchContext() delivery.SessionContext
}

// Sampler reports the cached sampling decision.
type Sampler interface {
	Sampled() bool
}

// StatsRecorder receives delivery outcomes.
type StatsRecorder interface {
	Record(clientKey string, events int, status int, ok bool)
}

// Options are the optional collaborators of a Coordinator.
type Options struct {
	SDKVersion string
	Sampler    Sampler
	Stats      StatsRecorder
	DLQ        dlq.Queue
	Clock      clock.Clock
	Logger     *slog.Logger
}

// Outcome describes one Flush or ForceSend.
type Outcome struct {
	Skipped      string
	Sent         bool
	PacketNumber int64
	Events       int
	Result       delivery.Result
}

// Coordinator drives batches from a Store to a Sender.
type Coordinator struct {
	store      *eventstore.Store
	sender     Sender
	session    Session
	sampler    Sampler
	stats      StatsRecorder
	dlq        dlq.Queue
	clock      clock.Clock
	logger     *slog.Logger
	sdkVersion string

	sendMu sync.Mutex
	state  atomic.Int32
	packet atomic.Int64

	trigger chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

type alwaysSampled struct{}

func (alwaysSampled) Sampled() bool { return true }

type noStats struct{}

func (noStats) Record(string, int, int, bool) {}

// New creates a Coordinator and starts its trigger loop. Close stops it.
func New(store *eventstore.Store, sender Sender, session Session, opts Options) *Coordinator {
	if opts.Sampler == nil {
		opts.Sampler = alwaysSampled{}
	}
	if opts.Stats == nil {
		opts.Stats = noStats{}
	}
	if opts.DLQ == nil {
		opts.DLQ = dlq.Discard{}
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	c := &Coordinator{
		store:      store,
		sender:     sender,
		session:    session,
		sampler:    opts.Sampler,
		stats:      opts.Stats,
		dlq:        opts.DLQ,
		clock:      opts.Clock,
		logger:     opts.Logger,
		sdkVersion: opts.SDKVersion,
		trigger:    make(chan struct{}, 1),
		ctx:        ctx,
		cancel:     cancel,
	}

	c.wg.Add(1)
	go c.triggerLoop()

	return c
}

// Flush drains the store and sends the result. Unless forced, nothing
// happens while the session is inactive.
func (c *Coordinator) Flush(ctx context.Context, forced bool) Outcome {
	if !forced && !c.session.Active() {
		return Outcome{Skipped: SkipInactive}
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	events := c.store.DrainAll()
	if len(events) == 0 {
		return Outcome{Skipped: SkipEmpty}
	}
	return c.send(ctx, events)
}

// ForceSend sends events immediately without draining the store and
// without checking whether the session is active.
func (c *Coordinator) ForceSend(ctx context.Context, events []models.Event) Outcome {
	if len(events) == 0 {
		return Outcome{Skipped: SkipEmpty}
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	return c.send(ctx, events)
}

// Trigger requests an asynchronous non-forced flush. Requests arriving
// while one is pending are coalesced.
func (c *Coordinator) Trigger() {
	select {
	case c.trigger <- struct{}{}:
	default:
	}
}

// ResetPacketNumber restarts packet numbering at zero.
func (c *Coordinator) ResetPacketNumber() {
	c.packet.Store(0)
}

// PacketNumber returns the number the next batch will carry.
func (c *Coordinator) PacketNumber() int64 {
	return c.packet.Load()
}

// State returns whether a batch is in flight.
func (c *Coordinator) State() State {
	return State(c.state.Load())
}

// Close stops the trigger loop and waits for it to exit.
func (c *Coordinator) Close() {
	c.cancel()
	c.wg.Wait()
}

func (c *Coordinator) triggerLoop() {
	defer c.wg.Done()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-c.trigger:
			c.Flush(c.ctx, false)
		}
	}
}

// send must be called with sendMu held.
func (c *Coordinator) send(ctx context.Context, events []models.Event) Outcome {
	if !c.sampler.Sampled() {
		metrics.EventsDropped.WithLabelValues(metrics.ReasonNotSampled).Add(float64(len(events)))
		return Outcome{Skipped: SkipNotSampled, Events: len(events)}
	}

	packet := c.packet.Add(1) - 1
	batch := models.NewBatch(events, packet)
	sc := c.session.BatchContext()
	payload := delivery.NewPayload(batch, sc, c.sdkVersion)

	c.state.Store(int32(StateSending))
	start := c.clock.Now()
	result := c.sender.Send(ctx, sc.ClientKey, payload)
	elapsed := c.clock.Now().Sub(start)
	c.state.Store(int32(StateIdle))

	c.stats.Record(sc.ClientKey, batch.Len(), result.StatusCode, result.OK())

	if result.OK() {
		metrics.BatchesTotal.WithLabelValues("sent").Inc()
		c.logger.Debug("batch delivered",
			logging.PacketNumber(packet),
			logging.EventCount(batch.Len()),
			logging.Attempts(result.Attempts),
			logging.Duration(elapsed.Milliseconds()),
		)
		return Outcome{Sent: true, PacketNumber: packet, Events: batch.Len(), Result: result}
	}

	metrics.BatchesTotal.WithLabelValues("failed").Inc()
	metrics.EventsDropped.WithLabelValues(metrics.ReasonSendFailed).Add(float64(batch.Len()))
	c.logger.Warn("batch delivery failed, events dropped",
		logging.PacketNumber(packet),
		logging.EventCount(batch.Len()),
		logging.Attempts(result.Attempts),
		logging.Status(result.StatusCode),
		logging.Error(result.Err),
	)

	c.archive(sc, batch, result)
	return Outcome{PacketNumber: packet, Events: batch.Len(), Result: result}
}

func (c *Coordinator) archive(sc delivery.SessionContext, batch models.Batch, result delivery.Result) {
	reason := dlq.ReasonExhausted
	switch {
	case result.Terminal || errors.Is(result.Err, delivery.ErrTerminalStatus):
		reason = dlq.ReasonTerminal
	case errors.Is(result.Err, delivery.ErrMarshal):
		reason = dlq.ReasonMarshal
	}
	errText := ""
	if result.Err != nil {
		errText = result.Err.Error()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := c.dlq.Write(ctx, dlq.FailedBatch{
		Timestamp:    c.clock.Now().UTC(),
		ClientKey:    sc.ClientKey,
		SessionID:    sc.SessionID,
		PacketNumber: batch.PacketNumber,
		Reason:       reason,
		Error:        errText,
		StatusCode:   result.StatusCode,
		Attempts:     result.Attempts,
		Events:       batch.Events,
	})
	if err != nil {
		c.logger.Error("failed to archive batch", logging.PacketNumber(batch.PacketNumber), logging.Error(err))
		return
	}
	metrics.DeadLettered.Inc()
}
