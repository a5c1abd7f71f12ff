package dlq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/telhawk-systems/telhawk-beacon/common/logging"
)

// Stream layout for the JetStream backend.
const (
	StreamName    = "BEACON_DLQ"
	SubjectPrefix = "beacon.dlq."
)

// NATSConfig holds the connection settings for the JetStream backend.
type NATSConfig struct {
	URL           string
	Name          string
	MaxReconnects int
	ReconnectWait time.Duration
	Timeout       time.Duration
	MaxAge        time.Duration
}

// DefaultNATSConfig returns defaults for a local server.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		Name:          "telhawk-beacon",
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
		Timeout:       5 * time.Second,
		MaxAge:        7 * 24 * time.Hour,
	}
}

// JetStreamQueue publishes failed batches to a JetStream stream. Safe for
// use across many agent instances.
type JetStreamQueue struct {
	conn    *nats.Conn
	js      jetstream.JetStream
	stream  jetstream.Stream
	logger  *slog.Logger
	written uint64
}

// NewJetStreamQueue connects to NATS and ensures the DLQ stream exists.
func NewJetStreamQueue(ctx context.Context, cfg NATSConfig, logger *slog.Logger) (*JetStreamQueue, error) {
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", logging.Error(err))
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      StreamName,
		Subjects:  []string{SubjectPrefix + ">"},
		MaxAge:    cfg.MaxAge,
		Retention: jetstream.LimitsPolicy,
		Storage:   jetstream.FileStorage,
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("create dlq stream: %w", err)
	}

	logger.Info("DLQ JetStream stream ready", "stream", StreamName)

	return &JetStreamQueue{conn: conn, js: js, stream: stream, logger: logger}, nil
}

// Subject returns the publish subject for reason.
func Subject(reason string) string {
	return SubjectPrefix + reason
}

// Write publishes batch to beacon.dlq.<reason>. A nil queue discards it.
func (q *JetStreamQueue) Write(ctx context.Context, batch FailedBatch) error {
	if q == nil {
		return nil
	}
	if batch.Timestamp.IsZero() {
		batch.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("marshal dlq entry: %w", err)
	}

	if _, err := q.js.Publish(ctx, Subject(batch.Reason), data); err != nil {
		return fmt.Errorf("publish dlq entry: %w", err)
	}

	atomic.AddUint64(&q.written, 1)
	q.logger.Debug("published failed batch to DLQ",
		"reason", batch.Reason,
		logging.PacketNumber(batch.PacketNumber),
	)
	return nil
}

// List reads up to limit archived batches with an ephemeral consumer.
func (q *JetStreamQueue) List(ctx context.Context, limit int) ([]FailedBatch, error) {
	if q == nil {
		return nil, fmt.Errorf("dlq not enabled")
	}
	if limit <= 0 {
		limit = 100
	}

	consumer, err := q.stream.OrderedConsumer(ctx, jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{SubjectPrefix + ">"},
		DeliverPolicy:  jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("create list consumer: %w", err)
	}

	msgs, err := consumer.Fetch(limit, jetstream.FetchMaxWait(2*time.Second))
	if err != nil {
		return nil, fmt.Errorf("fetch messages: %w", err)
	}

	var out []FailedBatch
	for msg := range msgs.Messages() {
		var batch FailedBatch
		if err := json.Unmarshal(msg.Data(), &batch); err != nil {
			q.logger.Warn("failed to parse DLQ message", logging.Error(err))
			continue
		}
		out = append(out, batch)
	}
	if err := msgs.Error(); err != nil {
		q.logger.Warn("DLQ fetch completed with error", logging.Error(err))
	}
	return out, nil
}

// Purge removes every message from the stream.
func (q *JetStreamQueue) Purge(ctx context.Context) error {
	if q == nil {
		return fmt.Errorf("dlq not enabled")
	}
	if err := q.stream.Purge(ctx); err != nil {
		return fmt.Errorf("purge dlq stream: %w", err)
	}
	return nil
}

// Stats reports stream state.
func (q *JetStreamQueue) Stats(ctx context.Context) map[string]interface{} {
	if q == nil {
		return map[string]interface{}{"enabled": false, "backend": "jetstream"}
	}

	info, err := q.stream.Info(ctx)
	if err != nil {
		return map[string]interface{}{
			"enabled":       true,
			"backend":       "jetstream",
			"written_local": atomic.LoadUint64(&q.written),
			"error":         err.Error(),
		}
	}

	return map[string]interface{}{
		"enabled":        true,
		"backend":        "jetstream",
		"written_local":  atomic.LoadUint64(&q.written),
		"total_messages": info.State.Msgs,
		"total_bytes":    info.State.Bytes,
		"first_seq":      info.State.FirstSeq,
		"last_seq":       info.State.LastSeq,
	}
}

// Close drains the connection.
func (q *JetStreamQueue) Close() error {
	if q == nil {
		return nil
	}
	return q.conn.Drain()
}
