package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/lorekeep/lorekeep/internal/links"
)

// ReparseJob executes a full link-graph recomputation in the background and
// publishes progress for polling callers.
type ReparseJob struct {
	Links    *links.Service
	Progress *ProgressStore
	Logger   *slog.Logger
	clock    func() time.Time
}

// NewReparseJob initialises the reparse handler.
func NewReparseJob(linksSvc *links.Service, progress *ProgressStore, logger *slog.Logger) *ReparseJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReparseJob{
		Links:    linksSvc,
		Progress: progress,
		Logger:   logger,
		clock:    func() time.Time { return time.Now().UTC() },
	}
}

// Handle processes TaskLinksReparse tasks.
func (j *ReparseJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Links == nil {
		return errors.New("links reparse: handler not configured")
	}
	var payload LinksReparsePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	started := j.clock()
	logger := j.Logger.With(
		slog.String("run_id", payload.RunID),
		slog.String("requested_by", payload.RequestedBy),
	)
	logger.Info("starting link reparse")

	j.publish(ctx, RunStatus{
		RunID:       payload.RunID,
		Status:      RunStatusRunning,
		RequestedBy: payload.RequestedBy,
		StartedAt:   started,
	})

	report, err := j.Links.ReparseAll(ctx)
	finished := j.clock()
	if err != nil {
		logger.Error("link reparse failed", slog.Any("error", err))
		j.publish(ctx, RunStatus{
			RunID:       payload.RunID,
			Status:      RunStatusFailed,
			RequestedBy: payload.RequestedBy,
			StartedAt:   started,
			FinishedAt:  &finished,
			Error:       err.Error(),
		})
		return err
	}

	logger.Info("completed link reparse",
		slog.Int("pages", report.Pages),
		slog.Int("edges", report.Edges),
		slog.Int("failures", len(report.Failures)),
		slog.Duration("duration", finished.Sub(started)),
	)
	j.publish(ctx, RunStatus{
		RunID:       payload.RunID,
		Status:      RunStatusCompleted,
		RequestedBy: payload.RequestedBy,
		StartedAt:   started,
		FinishedAt:  &finished,
		Report:      report,
	})
	return nil
}

func (j *ReparseJob) publish(ctx context.Context, status RunStatus) {
	if j.Progress == nil {
		return
	}
	if err := j.Progress.Put(ctx, status); err != nil {
		j.Logger.Warn("publish run status", slog.String("run_id", status.RunID), slog.Any("error", err))
	}
}
