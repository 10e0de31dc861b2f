package jobs

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskLinksReparse recomputes every page's outgoing link set.
	TaskLinksReparse = "links:reparse"
)

// LinksReparsePayload identifies one reparse run. RunID keys the progress
// record callers poll while the batch executes.
type LinksReparsePayload struct {
	RunID       string `json:"run_id"`
	RequestedBy string `json:"requested_by"`
}

// NewLinksReparseTask builds a reparse task with a fresh run id.
func NewLinksReparseTask(requestedBy string) (*asynq.Task, string, error) {
	payload := LinksReparsePayload{
		RunID:       uuid.NewString(),
		RequestedBy: requestedBy,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, "", err
	}
	return asynq.NewTask(TaskLinksReparse, body, asynq.Queue(QueueDefault)), payload.RunID, nil
}

// Client submits jobs to the queue.
type Client struct {
	client *asynq.Client
}

// NewClient constructs an Asynq client.
func NewClient(redisOpts asynq.RedisClientOpt) *Client {
	return &Client{client: asynq.NewClient(redisOpts)}
}

// EnqueueLinksReparse enqueues a full reparse and returns the run id the
// caller polls for completion.
func (c *Client) EnqueueLinksReparse(ctx context.Context, requestedBy string) (string, error) {
	task, runID, err := NewLinksReparseTask(requestedBy)
	if err != nil {
		return "", err
	}
	if _, err := c.client.EnqueueContext(ctx, task); err != nil {
		return "", err
	}
	return runID, nil
}

// Close releases client resources.
func (c *Client) Close() error {
	return c.client.Close()
}
