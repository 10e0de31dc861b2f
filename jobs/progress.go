package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lorekeep/lorekeep/internal/links"
)

// Run states for a background reparse.
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// ErrRunNotFound indicates an unknown or expired run id.
var ErrRunNotFound = errors.New("jobs: run not found")

// RunStatus is the pollable record of one reparse run.
type RunStatus struct {
	RunID       string               `json:"run_id"`
	Status      string               `json:"status"`
	RequestedBy string               `json:"requested_by"`
	StartedAt   time.Time            `json:"started_at"`
	FinishedAt  *time.Time           `json:"finished_at,omitempty"`
	Error       string               `json:"error,omitempty"`
	Report      *links.ReparseReport `json:"report,omitempty"`
}

// ProgressStore persists run status in Redis so callers can poll detached
// batches for results.
type ProgressStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewProgressStore constructs a store. Records expire after ttl.
func NewProgressStore(client *redis.Client, ttl time.Duration) *ProgressStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &ProgressStore{client: client, ttl: ttl}
}

func runKey(runID string) string {
	return "jobs:links:reparse:" + runID
}

// Put writes the status record under its run id.
func (s *ProgressStore) Put(ctx context.Context, status RunStatus) error {
	body, err := json.Marshal(status)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, runKey(status.RunID), body, s.ttl).Err(); err != nil {
		return fmt.Errorf("jobs: store run %s: %w", status.RunID, err)
	}
	return nil
}

// Get reads a run's status record.
func (s *ProgressStore) Get(ctx context.Context, runID string) (*RunStatus, error) {
	body, err := s.client.Get(ctx, runKey(runID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrRunNotFound
		}
		return nil, err
	}
	var status RunStatus
	if err := json.Unmarshal(body, &status); err != nil {
		return nil, err
	}
	return &status, nil
}
