package dlq

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"time"
)

// FileQueue writes one JSON file per failed batch into a directory.
type FileQueue struct {
	basePath string
	written  uint64
}

// NewFileQueue creates basePath if needed.
func NewFileQueue(basePath string) (*FileQueue, error) {
	if basePath == "" {
		return nil, fmt.Errorf("dlq path is empty")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create dlq directory: %w", err)
	}
	return &FileQueue{basePath: basePath}, nil
}

// Write archives batch. A nil queue discards it.
func (q *FileQueue) Write(ctx context.Context, batch FailedBatch) error {
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

	seq := atomic.AddUint64(&q.written, 1)
	name := fmt.Sprintf("%d-%06d-%d.json", batch.Timestamp.UnixNano(), seq, batch.PacketNumber)
	tmp := filepath.Join(q.basePath, name+".tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write dlq entry: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(q.basePath, name)); err != nil {
		return fmt.Errorf("commit dlq entry: %w", err)
	}
	return nil
}

// List returns up to limit archived batches, oldest first.
func (q *FileQueue) List(ctx context.Context, limit int) ([]FailedBatch, error) {
	if q == nil {
		return nil, fmt.Errorf("dlq not enabled")
	}
	if limit <= 0 {
		limit = 100
	}

	names, err := q.files()
	if err != nil {
		return nil, err
	}

	var out []FailedBatch
	for _, name := range names {
		if len(out) == limit {
			break
		}
		data, err := os.ReadFile(filepath.Join(q.basePath, name))
		if err != nil {
			return nil, fmt.Errorf("read dlq entry: %w", err)
		}
		var batch FailedBatch
		if err := json.Unmarshal(data, &batch); err != nil {
			continue
		}
		out = append(out, batch)
	}
	return out, nil
}

// Purge removes every archived batch.
func (q *FileQueue) Purge(ctx context.Context) error {
	if q == nil {
		return fmt.Errorf("dlq not enabled")
	}
	names, err := q.files()
	if err != nil {
		return err
	}
	for _, name := range names {
		if err := os.Remove(filepath.Join(q.basePath, name)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove dlq entry: %w", err)
		}
	}
	return nil
}

// Stats reports queue counters.
func (q *FileQueue) Stats(ctx context.Context) map[string]interface{} {
	if q == nil {
		return map[string]interface{}{"enabled": false, "backend": "file"}
	}
	names, _ := q.files()
	return map[string]interface{}{
		"enabled":       true,
		"backend":       "file",
		"base_path":     q.basePath,
		"written":       atomic.LoadUint64(&q.written),
		"pending_files": len(names),
	}
}

func (q *FileQueue) files() ([]string, error) {
	entries, err := os.ReadDir(q.basePath)
	if err != nil {
		return nil, fmt.Errorf("read dlq directory: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}
