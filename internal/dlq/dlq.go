// Package dlq archives batches the collector never accepted.
//
// Delivery is at-most-once: an archived batch is never replayed into the
// event store. The archive exists so operators can inspect what was lost.
package dlq

import (
	"context"
	"time"

	"github.com/telhawk-systems/telhawk-beacon/internal/models"
)

// Failure reasons.
const (
	ReasonTerminal  = "terminal_status"
	ReasonExhausted = "retries_exhausted"
	ReasonMarshal   = "marshal_error"
)

// FailedBatch is one archived batch.
type FailedBatch struct {
	Timestamp    time.Time      `json:"timestamp"`
	ClientKey    string         `json:"client_key"`
	SessionID    string         `json:"session_id,omitempty"`
	PacketNumber int64          `json:"packet_number"`
	Reason       string         `json:"reason"`
	Error        string         `json:"error"`
	StatusCode   int            `json:"status_code,omitempty"`
	Attempts     int            `json:"attempts"`
	Events       []models.Event `json:"events"`
}

// Queue is a dead-letter backend.
type Queue interface {
	Write(ctx context.Context, batch FailedBatch) error
	List(ctx context.Context, limit int) ([]FailedBatch, error)
	Purge(ctx context.Context) error
	Stats(ctx context.Context) map[string]interface{}
}

// Discard is a Queue that drops everything.
type Discard struct{}

func (Discard) Write(context.Context, FailedBatch) error         { return nil }
func (Discard) List(context.Context, int) ([]FailedBatch, error) { return nil, nil }
func (Discard) Purge(context.Context) error                      { return nil }
func (Discard) Stats(context.Context) map[string]interface{}     { return map[string]interface{}{"enabled": false} }

