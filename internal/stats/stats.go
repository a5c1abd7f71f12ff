// Package stats provides Redis-backed delivery statistics.
//
// Several agent instances may write for the same client key concurrently.
//
// Redis Key Structure:
//
//	beacon:stats:{client_key}             - Hash with running totals
//	beacon:daily:{client_key}:{YYYYMMDD}  - Events delivered that day (expires 7d)
//	beacon:agents:{client_key}            - Hash of agent instance -> last seen timestamp
package stats

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	statsPrefix  = "beacon:stats:"
	dailyPrefix  = "beacon:daily:"
	agentsPrefix = "beacon:agents:"

	dailyTTL  = 7 * 24 * time.Hour
	agentsTTL = 24 * time.Hour
)

// Stats is the current delivery summary for a client key.
type Stats struct {
	ClientKey        string            `json:"client_key"`
	BatchesSent      int64             `json:"batches_sent"`
	BatchesFailed    int64             `json:"batches_failed"`
	EventsSent       int64             `json:"events_sent"`
	EventsFailed     int64             `json:"events_failed"`
	EventsToday      int64             `json:"events_today"`
	LastStatus       int               `json:"last_status,omitempty"`
	LastSentAt       *time.Time        `json:"last_sent_at,omitempty"`
	Agents           map[string]string `json:"agents,omitempty"` // instance_id -> last_seen
	StatsRetrievedAt time.Time         `json:"stats_retrieved_at"`
}

// Client reads and writes delivery statistics.
type Client struct {
	redis      *redis.Client
	instanceID string
}

// NewClient connects to redisURL. instanceID should be unique per agent
// process.
func NewClient(redisURL, instanceID string) (*Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return &Client{redis: client, instanceID: instanceID}, nil
}

// NewClientFromRedis wraps an existing connection.
func NewClientFromRedis(client *redis.Client, instanceID string) *Client {
	return &Client{redis: client, instanceID: instanceID}
}

// BatchUpdate accumulates delivery outcomes for one client key.
type BatchUpdate struct {
	ClientKey     string
	BatchesSent   int64
	BatchesFailed int64
	EventsSent    int64
	EventsFailed  int64
	LastStatus    int
	LastSentAt    time.Time
}

// NewBatchUpdate creates an empty accumulator for clientKey.
func NewBatchUpdate(clientKey string) *BatchUpdate {
	return &BatchUpdate{ClientKey: clientKey}
}

// Add records one delivery outcome.
func (b *BatchUpdate) Add(events int, status int, ok bool, at time.Time) {
	if ok {
		b.BatchesSent++
		b.EventsSent += int64(events)
		b.LastSentAt = at
	} else {
		b.BatchesFailed++
		b.EventsFailed += int64(events)
	}
	if status != 0 {
		b.LastStatus = status
	}
}

// Merge folds other into b.
func (b *BatchUpdate) Merge(other *BatchUpdate) {
	b.BatchesSent += other.BatchesSent
	b.BatchesFailed += other.BatchesFailed
	b.EventsSent += other.EventsSent
	b.EventsFailed += other.EventsFailed
	if other.LastStatus != 0 {
		b.LastStatus = other.LastStatus
	}
	if other.LastSentAt.After(b.LastSentAt) {
		b.LastSentAt = other.LastSentAt
	}
}

// Empty reports whether nothing was recorded.
func (b *BatchUpdate) Empty() bool {
	return b.BatchesSent == 0 && b.BatchesFailed == 0
}

// FlushBatch writes batch to Redis in one pipeline.
func (c *Client) FlushBatch(ctx context.Context, batch *BatchUpdate) error {
	if batch.Empty() {
		return nil
	}

	now := time.Now()
	nowUnix := strconv.FormatInt(now.Unix(), 10)

	pipe := c.redis.Pipeline()

	statsKey := statsPrefix + batch.ClientKey
	pipe.HIncrBy(ctx, statsKey, "batches_sent", batch.BatchesSent)
	pipe.HIncrBy(ctx, statsKey, "batches_failed", batch.BatchesFailed)
	pipe.HIncrBy(ctx, statsKey, "events_sent", batch.EventsSent)
	pipe.HIncrBy(ctx, statsKey, "events_failed", batch.EventsFailed)
	if batch.LastStatus != 0 {
		pipe.HSet(ctx, statsKey, "last_status", batch.LastStatus)
	}
	if !batch.LastSentAt.IsZero() {
		pipe.HSet(ctx, statsKey, "last_sent_at", strconv.FormatInt(batch.LastSentAt.Unix(), 10))
	}

	if batch.EventsSent > 0 {
		dailyKey := dailyPrefix + batch.ClientKey + ":" + now.Format("20060102")
		pipe.IncrBy(ctx, dailyKey, batch.EventsSent)
		pipe.Expire(ctx, dailyKey, dailyTTL)
	}

	agentsKey := agentsPrefix + batch.ClientKey
	pipe.HSet(ctx, agentsKey, c.instanceID, nowUnix)
	pipe.Expire(ctx, agentsKey, agentsTTL)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to flush batch: %w", err)
	}
	return nil
}

// GetStats retrieves the current summary for clientKey.
func (c *Client) GetStats(ctx context.Context, clientKey string) (*Stats, error) {
	now := time.Now()

	pipe := c.redis.Pipeline()
	statsCmd := pipe.HGetAll(ctx, statsPrefix+clientKey)
	todayCmd := pipe.Get(ctx, dailyPrefix+clientKey+":"+now.Format("20060102"))
	agentsCmd := pipe.HGetAll(ctx, agentsPrefix+clientKey)

	_, err := pipe.Exec(ctx)
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}

	stats := &Stats{
		ClientKey:        clientKey,
		Agents:           make(map[string]string),
		StatsRetrievedAt: now,
	}

	if fields, err := statsCmd.Result(); err == nil {
		stats.BatchesSent = parseInt(fields["batches_sent"])
		stats.BatchesFailed = parseInt(fields["batches_failed"])
		stats.EventsSent = parseInt(fields["events_sent"])
		stats.EventsFailed = parseInt(fields["events_failed"])
		stats.LastStatus = int(parseInt(fields["last_status"]))
		if v, ok := fields["last_sent_at"]; ok {
			if unix, err := strconv.ParseInt(v, 10, 64); err == nil {
				t := time.Unix(unix, 0)
				stats.LastSentAt = &t
			}
		}
	}

	if val, err := todayCmd.Int64(); err == nil {
		stats.EventsToday = val
	}

	if agents, err := agentsCmd.Result(); err == nil {
		for instance, lastSeen := range agents {
			if unix, err := strconv.ParseInt(lastSeen, 10, 64); err == nil {
				stats.Agents[instance] = time.Unix(unix, 0).Format(time.RFC3339)
			}
		}
	}

	return stats, nil
}

// ListClientKeys returns every client key with recorded statistics.
func (c *Client) ListClientKeys(ctx context.Context) ([]string, error) {
	var keys []string
	iter := c.redis.Scan(ctx, 0, statsPrefix+"*", 1000).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, strings.TrimPrefix(iter.Val(), statsPrefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan client keys: %w", err)
	}
	return keys, nil
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.redis.Close()
}

func parseInt(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}
